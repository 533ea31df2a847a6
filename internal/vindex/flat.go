// Package vindex provides in-memory vector indexes over embedding columns.
// An index holds the present cells of exactly one embedding column; errored
// and pending cells are simply absent, so similarity search degrades to the
// evaluated subset instead of failing.
package vindex

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/tesseradata/tessera/internal/errors"
	"github.com/tesseradata/tessera/internal/types"
)

// Metric names a similarity measure.
type Metric string

const (
	MetricCosine Metric = "cosine"
	MetricDot    Metric = "dot"
)

// SearchResult is one scored row.
type SearchResult struct {
	RowID types.RowID
	Score float64
}

// Flat is a brute-force index: search scans every stored vector. Suited to
// the in-process scale this engine targets; the interface leaves room for
// ANN structures later.
type Flat struct {
	mu     sync.RWMutex
	dim    int
	metric Metric
	vecs   map[types.RowID][]float32
}

// NewFlat creates an empty index for vectors of the given dimension.
func NewFlat(dim int, metric Metric) (*Flat, error) {
	if dim <= 0 {
		return nil, errors.NewIndexError(errors.CodeDimensionMismatch,
			fmt.Sprintf("index dimension must be positive, got %d", dim), nil)
	}
	switch metric {
	case MetricCosine, MetricDot:
	default:
		return nil, errors.NewIndexError(errors.CodeIndexUnavailable,
			fmt.Sprintf("unknown metric %q", metric), nil)
	}
	return &Flat{dim: dim, metric: metric, vecs: make(map[types.RowID][]float32)}, nil
}

// Dim returns the vector dimension.
func (f *Flat) Dim() int { return f.dim }

// Metric returns the similarity measure.
func (f *Flat) MetricName() Metric { return f.metric }

// Upsert adds or replaces the vector for a row.
func (f *Flat) Upsert(id types.RowID, vec []float32) error {
	if len(vec) != f.dim {
		return errors.NewIndexError(errors.CodeDimensionMismatch,
			fmt.Sprintf("vector has %d dimensions, index expects %d", len(vec), f.dim), nil)
	}
	cp := make([]float32, len(vec))
	copy(cp, vec)
	f.mu.Lock()
	f.vecs[id] = cp
	f.mu.Unlock()
	return nil
}

// Remove drops the vector for a row. Removing an absent row is a no-op.
func (f *Flat) Remove(id types.RowID) {
	f.mu.Lock()
	delete(f.vecs, id)
	f.mu.Unlock()
}

// Len returns the number of indexed rows.
func (f *Flat) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.vecs)
}

// Search returns the k most similar rows, highest score first. Ties break by
// row id for deterministic results.
func (f *Flat) Search(query []float32, k int) ([]SearchResult, error) {
	if len(query) != f.dim {
		return nil, errors.NewIndexError(errors.CodeDimensionMismatch,
			fmt.Sprintf("query has %d dimensions, index expects %d", len(query), f.dim), nil)
	}
	if k <= 0 {
		return nil, nil
	}

	f.mu.RLock()
	results := make([]SearchResult, 0, len(f.vecs))
	for id, vec := range f.vecs {
		results = append(results, SearchResult{RowID: id, Score: similarity(f.metric, vec, query)})
	}
	f.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].RowID < results[j].RowID
	})
	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

// replace swaps the entire contents atomically, for rebuilds.
func (f *Flat) replace(vecs map[types.RowID][]float32) {
	f.mu.Lock()
	f.vecs = vecs
	f.mu.Unlock()
}

func similarity(m Metric, a, b []float32) float64 {
	switch m {
	case MetricDot:
		return dot(a, b)
	default:
		return cosine(a, b)
	}
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func cosine(a, b []float32) float64 {
	var num, na, nb float64
	for i := range a {
		num += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return num / (math.Sqrt(na) * math.Sqrt(nb))
}

// Score computes the similarity of two vectors under a metric, for residual
// predicate evaluation outside the index.
func Score(metric Metric, a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, errors.NewIndexError(errors.CodeDimensionMismatch,
			fmt.Sprintf("vectors have %d and %d dimensions", len(a), len(b)), nil)
	}
	return similarity(metric, a, b), nil
}
