// Package view expands parent rows into view rows through iterators. An
// iterator maps one parent row to zero or more output rows; the engine
// assigns output positions 0..n-1 and materializes them as stored cells of
// the view.
package view

import (
	"context"
	"fmt"
	"sync"

	"github.com/tesseradata/tessera/internal/errors"
	"github.com/tesseradata/tessera/internal/types"
)

// OutputColumn declares one column an iterator produces.
type OutputColumn struct {
	Name string
	Type types.ColumnType
}

// Iterator expands one parent row into output rows. Implementations must be
// deterministic in their inputs and args so re-materialization after a
// parent update reproduces the same rows.
type Iterator interface {
	Name() string

	// OutputColumns declares the produced columns for the given args.
	OutputColumns(args map[string]interface{}) ([]OutputColumn, error)

	// Open validates inputs and args and returns a cursor over the output
	// rows for one parent row. inputs holds the parent's cell values in the
	// order declared by the view's iterator spec.
	Open(ctx context.Context, inputs []types.Value, args map[string]interface{}) (Cursor, error)
}

// Cursor yields the output rows of one parent row in position order, one
// row per Next call, so a large expansion never sits in memory at once.
// Next returns ok=false after the last row. Callers must Close the cursor.
type Cursor interface {
	Next(ctx context.Context) (map[string]types.Value, bool, error)
	Close() error
}

// Registry holds iterators keyed by name.
type Registry struct {
	mu  sync.RWMutex
	its map[string]Iterator
}

// NewRegistry creates a registry preloaded with the built-in iterators.
func NewRegistry() *Registry {
	r := &Registry{its: make(map[string]Iterator)}
	r.its[stringSplitterName] = &StringSplitter{}
	r.its[frameEnumeratorName] = &FrameEnumerator{}
	return r
}

// Register adds an iterator. Re-registering a name fails.
func (r *Registry) Register(it Iterator) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.its[it.Name()]; exists {
		return errors.NewSchemaError(errors.CodeDuplicateName,
			fmt.Sprintf("iterator %s is already registered", it.Name()))
	}
	r.its[it.Name()] = it
	return nil
}

// Lookup returns the iterator registered under name.
func (r *Registry) Lookup(name string) (Iterator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	it, ok := r.its[name]
	if !ok {
		return nil, errors.NewSchemaError(errors.CodeDanglingReference,
			fmt.Sprintf("iterator %s is not registered", name))
	}
	return it, nil
}
