// Package udf provides the registry of user-defined functions. Every
// function declares its signature at registration time; the expression
// compiler validates calls against these declarations rather than relying on
// runtime typing.
package udf

import (
	"context"
	"fmt"
	"sync"

	"github.com/tesseradata/tessera/internal/errors"
	"github.com/tesseradata/tessera/internal/types"
)

// ResourceClass names the resource a function consumes. Remote and GPU
// classes are subject to bounded per-class concurrency limits during
// evaluation.
type ResourceClass string

const (
	ResourceCPU    ResourceClass = "cpu"
	ResourceGPU    ResourceClass = "gpu"
	ResourceRemote ResourceClass = "remote"
)

// RowFn computes one output value from one row's argument values.
type RowFn func(ctx context.Context, args []types.Value) (types.Value, error)

// BatchFn computes output values for a batch of rows at once. args[i] holds
// the argument values for row i; the result must have one value per row.
type BatchFn func(ctx context.Context, args [][]types.Value) ([]types.Value, error)

// Function is a registered function with a declared signature.
type Function struct {
	Name          string
	Params        []types.ColumnType
	Result        types.ColumnType
	Deterministic bool
	Batchable     bool
	Resource      ResourceClass

	// Fn is the per-row implementation; required.
	Fn RowFn

	// BatchFn is the batch implementation; required when Batchable.
	BatchFn BatchFn
}

// Validate checks the function declaration.
func (f *Function) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("udf: function name must not be empty")
	}
	if f.Fn == nil {
		return fmt.Errorf("udf: function %s has no implementation", f.Name)
	}
	if f.Batchable && f.BatchFn == nil {
		return fmt.Errorf("udf: batchable function %s has no batch implementation", f.Name)
	}
	if f.Resource == "" {
		return fmt.Errorf("udf: function %s has no resource class", f.Name)
	}
	return nil
}

// CheckArgs validates declared argument types against the signature.
func (f *Function) CheckArgs(argTypes []types.ColumnType) error {
	if len(argTypes) != len(f.Params) {
		return errors.NewSchemaError(errors.CodeTypeMismatch,
			fmt.Sprintf("function %s expects %d arguments, got %d", f.Name, len(f.Params), len(argTypes)))
	}
	for i, at := range argTypes {
		if !f.Params[i].Equal(at) {
			return errors.NewSchemaError(errors.CodeTypeMismatch,
				fmt.Sprintf("function %s argument %d: expected %s, got %s", f.Name, i, f.Params[i], at))
		}
	}
	return nil
}

// Registry holds registered functions keyed by name.
type Registry struct {
	mu  sync.RWMutex
	fns map[string]*Function
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{fns: make(map[string]*Function)}
}

// Register adds a function to the registry. Re-registering a name fails.
func (r *Registry) Register(f *Function) error {
	if err := f.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.fns[f.Name]; exists {
		return errors.NewSchemaError(errors.CodeDuplicateName,
			fmt.Sprintf("function %s is already registered", f.Name))
	}
	r.fns[f.Name] = f
	return nil
}

// Replace registers a function, overwriting any existing registration.
// A caller swapping the implementation behind a name must rebuild any
// embedding indexes bound to it; the catalog records functions by name only.
func (r *Registry) Replace(f *Function) error {
	if err := f.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fns[f.Name] = f
	return nil
}

// Lookup returns the function registered under name.
func (r *Registry) Lookup(name string) (*Function, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.fns[name]
	if !ok {
		return nil, errors.NewSchemaError(errors.CodeDanglingReference,
			fmt.Sprintf("function %s is not registered", name))
	}
	return f, nil
}

// Names returns all registered function names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.fns))
	for n := range r.fns {
		names = append(names, n)
	}
	return names
}
