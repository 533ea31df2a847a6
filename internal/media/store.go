package media

import (
	"context"
	"errors"
	"io"
)

// Common errors for object store operations.
var (
	ErrObjectNotFound = errors.New("media: object not found")
	ErrPutFailed      = errors.New("media: put failed")
	ErrGetFailed      = errors.New("media: get failed")
	ErrDeleteFailed   = errors.New("media: delete failed")
)

// ObjectStore abstracts the media blob collaborator. The engine resolves a
// Ref's URI to a key in the store; fetching and caching policy belong to the
// implementation, not the core.
type ObjectStore interface {
	// Put stores the content under key and returns a ref for it.
	Put(ctx context.Context, key string, content io.Reader) (Ref, error)

	// Get opens the content for key. The caller must close the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns all keys under the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
