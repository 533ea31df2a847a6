package eval

import (
	"sort"
	"sync"
	"time"
)

// Stats tracks evaluation outcomes per computed column. Collectors are
// thread-safe; one collector spans one evaluation pass.
type Stats struct {
	mu      sync.RWMutex
	columns map[string]*ColumnStats
	started time.Time
	elapsed time.Duration
}

// ColumnStats holds the outcome counts for one computed column.
type ColumnStats struct {
	Column   string
	Computed int64
	Errored  int64
	Skipped  int64 // short-circuited on an errored dependency
	Retries  int64
	Batches  int64
	Duration time.Duration
}

// NewStats creates a collector and starts its clock.
func NewStats() *Stats {
	return &Stats{
		columns: make(map[string]*ColumnStats),
		started: time.Now(),
	}
}

func (s *Stats) column(name string) *ColumnStats {
	if cs, ok := s.columns[name]; ok {
		return cs
	}
	cs := &ColumnStats{Column: name}
	s.columns[name] = cs
	return cs
}

// RecordComputed records successfully computed cells for a column.
func (s *Stats) RecordComputed(column string, n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.column(column).Computed += n
}

// RecordErrored records errored cells for a column.
func (s *Stats) RecordErrored(column string, n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.column(column).Errored += n
}

// RecordSkipped records cells short-circuited on an errored dependency.
func (s *Stats) RecordSkipped(column string, n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.column(column).Skipped += n
}

// RecordRetry records one retry attempt for a column.
func (s *Stats) RecordRetry(column string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.column(column).Retries++
}

// RecordBatch records one batch invocation for a column.
func (s *Stats) RecordBatch(column string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.column(column).Batches++
}

// RecordColumnDuration adds wall time spent on a column.
func (s *Stats) RecordColumnDuration(column string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.column(column).Duration += d
}

// Finish stops the clock.
func (s *Stats) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.elapsed = time.Since(s.started)
}

// Elapsed returns the total wall time of the pass.
func (s *Stats) Elapsed() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.elapsed > 0 {
		return s.elapsed
	}
	return time.Since(s.started)
}

// Columns returns a copy of the per-column stats sorted by column name.
func (s *Stats) Columns() []ColumnStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ColumnStats, 0, len(s.columns))
	for _, cs := range s.columns {
		out = append(out, *cs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Column < out[j].Column })
	return out
}

// Totals returns the aggregate computed, errored, and skipped cell counts.
func (s *Stats) Totals() (computed, errored, skipped int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cs := range s.columns {
		computed += cs.Computed
		errored += cs.Errored
		skipped += cs.Skipped
	}
	return
}
