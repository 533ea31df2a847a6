package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// LocalStore implements ObjectStore on the local filesystem. It is intended
// for tests and single-node deployments.
type LocalStore struct {
	basePath string
	mu       sync.RWMutex
	refs     map[string]Ref
}

// NewLocalStore creates a local filesystem object store rooted at basePath.
func NewLocalStore(basePath string) (*LocalStore, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("media: failed to create base directory: %w", err)
	}
	return &LocalStore{
		basePath: basePath,
		refs:     make(map[string]Ref),
	}, nil
}

// Put stores the content under key and returns its ref.
func (l *LocalStore) Put(ctx context.Context, key string, content io.Reader) (Ref, error) {
	if err := ctx.Err(); err != nil {
		return Ref{}, err
	}

	destPath := l.fullPath(key)
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return Ref{}, fmt.Errorf("%w: %v", ErrPutFailed, err)
	}

	// Hash while buffering so the ref covers exactly the bytes written.
	var buf bytes.Buffer
	ref, err := NewRef(key, io.TeeReader(content, &buf))
	if err != nil {
		return Ref{}, fmt.Errorf("%w: %v", ErrPutFailed, err)
	}

	if err := os.WriteFile(destPath, buf.Bytes(), 0o644); err != nil {
		return Ref{}, fmt.Errorf("%w: %v", ErrPutFailed, err)
	}

	l.mu.Lock()
	l.refs[key] = ref
	l.mu.Unlock()

	return ref, nil
}

// Get opens the content for key.
func (l *LocalStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(l.fullPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrGetFailed, err)
	}
	return f, nil
}

// Exists reports whether key is present.
func (l *LocalStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(l.fullPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Delete removes key. Deleting a missing key is idempotent.
func (l *LocalStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(l.fullPath(key)); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrDeleteFailed, err)
	}
	l.mu.Lock()
	delete(l.refs, key)
	l.mu.Unlock()
	return nil
}

// List returns all keys under the given prefix.
func (l *LocalStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	searchDir := l.fullPath(prefix)
	var keys []string
	err := filepath.Walk(searchDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil // prefix doesn't exist, return empty list
			}
			return err
		}
		if !info.IsDir() {
			rel, err := filepath.Rel(l.basePath, path)
			if err != nil {
				return err
			}
			keys = append(keys, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// fullPath returns the full filesystem path for a key.
func (l *LocalStore) fullPath(key string) string {
	return filepath.Join(l.basePath, key)
}
