// Package eval fills pending cells of computed columns. Evaluation is
// column-major: each computed column runs over the whole batch of rows
// before its dependents start, in dependency order, so batching and
// per-class concurrency limits apply across rows rather than within one.
package eval

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/tesseradata/tessera/internal/catalog"
	"github.com/tesseradata/tessera/internal/errors"
	"github.com/tesseradata/tessera/internal/expr"
	"github.com/tesseradata/tessera/internal/types"
	"github.com/tesseradata/tessera/internal/udf"
)

// Config controls evaluation concurrency and retry policy.
type Config struct {
	// Workers bounds the per-row goroutines within one column.
	Workers int `json:"workers" yaml:"workers"`

	// BatchSize is the cohort size for batchable functions.
	BatchSize int `json:"batch_size" yaml:"batch_size"`

	// MaxAttempts bounds attempts per cell (first try included).
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	// BackoffBase is the first retry delay; it doubles per attempt up to
	// BackoffCap.
	BackoffBase time.Duration `json:"backoff_base" yaml:"backoff_base"`
	BackoffCap  time.Duration `json:"backoff_cap" yaml:"backoff_cap"`

	// Limits bounds in-flight calls per resource class. Zero or missing
	// entries are unlimited.
	CPULimit    int `json:"cpu_limit" yaml:"cpu_limit"`
	GPULimit    int `json:"gpu_limit" yaml:"gpu_limit"`
	RemoteLimit int `json:"remote_limit" yaml:"remote_limit"`
}

// DefaultConfig returns the evaluation defaults.
func DefaultConfig() Config {
	return Config{
		Workers:     8,
		BatchSize:   16,
		MaxAttempts: 4,
		BackoffBase: 100 * time.Millisecond,
		BackoffCap:  5 * time.Second,
		CPULimit:    0,
		GPULimit:    1,
		RemoteLimit: 8,
	}
}

// Engine evaluates computed columns over row batches.
type Engine struct {
	cfg  Config
	sems map[udf.ResourceClass]chan struct{}
}

// New creates an engine with the given config. Zero config fields fall back
// to defaults.
func New(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = def.BackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = def.BackoffCap
	}

	sems := make(map[udf.ResourceClass]chan struct{})
	for class, limit := range map[udf.ResourceClass]int{
		udf.ResourceCPU:    cfg.CPULimit,
		udf.ResourceGPU:    cfg.GPULimit,
		udf.ResourceRemote: cfg.RemoteLimit,
	} {
		if limit > 0 {
			sems[class] = make(chan struct{}, limit)
		}
	}
	return &Engine{cfg: cfg, sems: sems}
}

// rowReader adapts a row to the expression evaluator.
type rowReader struct{ row *types.Row }

func (r rowReader) ReadCell(colID int) types.Cell { return r.row.Cell(colID) }

// EvaluateColumns fills the pending cells of the given computed columns
// across rows, mutating the rows in place. Columns run in dependency order;
// a cell whose dependency is errored becomes errored itself without invoking
// the function, carrying the origin column of the first failure. On context
// cancellation unfinished cells stay pending and the context error returns.
func (e *Engine) EvaluateColumns(ctx context.Context, snap *catalog.Snapshot, rows []*types.Row, cols []*catalog.Column, stats *Stats) ([]*types.CellError, error) {
	if stats == nil {
		stats = NewStats()
	}

	target := make(map[int]bool, len(cols))
	for _, c := range cols {
		target[c.ID] = true
	}

	var cellErrors []*types.CellError
	var errMu sync.Mutex
	record := func(ce *types.CellError) {
		errMu.Lock()
		cellErrors = append(cellErrors, ce)
		errMu.Unlock()
	}

	// snap.ComputedColumns is already in dependency order.
	for _, col := range snap.ComputedColumns() {
		if !target[col.ID] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return cellErrors, err
		}

		start := time.Now()

		// Rows still pending for this column, after short-circuiting rows
		// with errored dependencies.
		var pending []*types.Row
		for _, row := range rows {
			if row.Cell(col.ID).State != types.CellPending {
				continue
			}
			if ce := e.dependencyError(snap, col, row); ce != nil {
				row.Cells[col.ID] = types.ErroredCell(ce)
				record(ce)
				stats.RecordSkipped(col.Name, 1)
				continue
			}
			pending = append(pending, row)
		}

		if len(pending) > 0 {
			if _, ok := expr.BatchableCall(col.Expr); ok {
				e.evalBatched(ctx, col, pending, stats, record)
			} else {
				e.evalPerRow(ctx, col, pending, stats, record)
			}
		}
		stats.RecordColumnDuration(col.Name, time.Since(start))

		if err := ctx.Err(); err != nil {
			return cellErrors, err
		}
	}
	return cellErrors, nil
}

// dependencyError checks a row's input cells for the column and returns the
// propagated error when one is errored. The origin column of the original
// failure carries through chains of dependents.
func (e *Engine) dependencyError(snap *catalog.Snapshot, col *catalog.Column, row *types.Row) *types.CellError {
	for _, depID := range snap.Graph.Deps(col.ID) {
		cell := row.Cell(depID)
		if cell.State != types.CellErrored {
			continue
		}
		dep, _ := snap.ColumnByID(depID)
		depName := fmt.Sprintf("column %d", depID)
		if dep != nil {
			depName = dep.Name
		}
		origin := depName
		if cell.Error != nil && cell.Error.OriginColumn != "" {
			origin = cell.Error.OriginColumn
		}
		return &types.CellError{
			RowID:        row.ID,
			Column:       col.Name,
			Kind:         errors.CodeDependencyFailed,
			Message:      fmt.Sprintf("input column %q is errored", depName),
			Retryable:    false,
			OriginColumn: origin,
		}
	}
	return nil
}

// evalPerRow evaluates a column cell by cell with a bounded worker pool.
func (e *Engine) evalPerRow(ctx context.Context, col *catalog.Column, rows []*types.Row, stats *Stats, record func(*types.CellError)) {
	jobs := make(chan *types.Row)
	var wg sync.WaitGroup

	workers := e.cfg.Workers
	if workers > len(rows) {
		workers = len(rows)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for row := range jobs {
				e.fillCell(ctx, col, row, stats, record)
			}
		}()
	}

dispatch:
	for _, row := range rows {
		select {
		case jobs <- row:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()
}

// fillCell computes one cell with retry, writing the outcome into the row.
// Cancellation mid-cell leaves the cell pending.
func (e *Engine) fillCell(ctx context.Context, col *catalog.Column, row *types.Row, stats *Stats, record func(*types.CellError)) {
	v, err := e.withRetry(ctx, col, stats, func() (types.Value, error) {
		return expr.Eval(ctx, col.Expr, rowReader{row}, nil)
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		ce := cellError(row.ID, col.Name, err)
		row.Cells[col.ID] = types.ErroredCell(ce)
		record(ce)
		stats.RecordErrored(col.Name, 1)
		return
	}
	row.Cells[col.ID] = types.PresentCell(v)
	stats.RecordComputed(col.Name, 1)
}

// evalBatched evaluates a batchable column in cohorts. A cohort whose batch
// call ultimately fails falls back to per-row evaluation so a single poison
// row cannot take down its neighbors.
func (e *Engine) evalBatched(ctx context.Context, col *catalog.Column, rows []*types.Row, stats *Stats, record func(*types.CellError)) {
	call := col.Expr.(*expr.Call)

	for start := 0; start < len(rows); start += e.cfg.BatchSize {
		if ctx.Err() != nil {
			return
		}
		end := start + e.cfg.BatchSize
		if end > len(rows) {
			end = len(rows)
		}
		cohort := rows[start:end]

		// Argument expressions evaluate per row before the batch call; rows
		// whose arguments fail drop out of the cohort individually.
		args := make([][]types.Value, 0, len(cohort))
		live := make([]*types.Row, 0, len(cohort))
		for _, row := range cohort {
			rowArgs := make([]types.Value, len(call.Args))
			ok := true
			for i, a := range call.Args {
				v, err := expr.Eval(ctx, a, rowReader{row}, nil)
				if err != nil {
					ce := cellError(row.ID, col.Name, err)
					row.Cells[col.ID] = types.ErroredCell(ce)
					record(ce)
					stats.RecordErrored(col.Name, 1)
					ok = false
					break
				}
				rowArgs[i] = v
			}
			if ok {
				args = append(args, rowArgs)
				live = append(live, row)
			}
		}
		if len(live) == 0 {
			continue
		}

		stats.RecordBatch(col.Name)
		results, err := e.withRetryBatch(ctx, col, stats, func() ([]types.Value, error) {
			return call.Fn.BatchFn(ctx, args)
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[WARN] eval: batch call for column %s failed, falling back to per-row: %v", col.Name, err)
			e.evalPerRow(ctx, col, live, stats, record)
			continue
		}
		if len(results) != len(live) {
			err := errors.NewComputationError(errors.CodeUDFFailed,
				fmt.Sprintf("batch function %s returned %d results for %d rows", call.FnName, len(results), len(live)), nil)
			for _, row := range live {
				ce := cellError(row.ID, col.Name, err)
				row.Cells[col.ID] = types.ErroredCell(ce)
				record(ce)
			}
			stats.RecordErrored(col.Name, int64(len(live)))
			continue
		}
		for i, row := range live {
			row.Cells[col.ID] = types.PresentCell(results[i])
		}
		stats.RecordComputed(col.Name, int64(len(live)))
	}
}

// withRetry runs fn under the column's resource limit, retrying transient
// failures with exponential backoff.
func (e *Engine) withRetry(ctx context.Context, col *catalog.Column, stats *Stats, fn func() (types.Value, error)) (types.Value, error) {
	var lastErr error
	for attempt := 0; attempt < e.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			stats.RecordRetry(col.Name)
			if err := e.sleep(ctx, attempt); err != nil {
				return nil, err
			}
		}
		if err := e.acquire(ctx, col.Resource); err != nil {
			return nil, err
		}
		v, err := fn()
		e.release(col.Resource)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !errors.IsRetryable(err) {
			break
		}
	}
	return nil, lastErr
}

func (e *Engine) withRetryBatch(ctx context.Context, col *catalog.Column, stats *Stats, fn func() ([]types.Value, error)) ([]types.Value, error) {
	var lastErr error
	for attempt := 0; attempt < e.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			stats.RecordRetry(col.Name)
			if err := e.sleep(ctx, attempt); err != nil {
				return nil, err
			}
		}
		if err := e.acquire(ctx, col.Resource); err != nil {
			return nil, err
		}
		v, err := fn()
		e.release(col.Resource)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !errors.IsRetryable(err) {
			break
		}
	}
	return nil, lastErr
}

// sleep waits out the backoff for the given attempt, honoring cancellation.
func (e *Engine) sleep(ctx context.Context, attempt int) error {
	d := time.Duration(math.Pow(2, float64(attempt-1))) * e.cfg.BackoffBase
	if d > e.cfg.BackoffCap {
		d = e.cfg.BackoffCap
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) acquire(ctx context.Context, class udf.ResourceClass) error {
	sem, ok := e.sems[class]
	if !ok {
		return nil
	}
	select {
	case sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) release(class udf.ResourceClass) {
	if sem, ok := e.sems[class]; ok {
		<-sem
	}
}

// cellError converts an evaluation failure into the persisted cell error.
func cellError(rowID types.RowID, column string, err error) *types.CellError {
	if de, ok := err.(*expr.ErrDependencyErrored); ok {
		origin := de.OriginColumn
		if de.OriginError != nil && de.OriginError.OriginColumn != "" {
			origin = de.OriginError.OriginColumn
		}
		return &types.CellError{
			RowID:        rowID,
			Column:       column,
			Kind:         errors.CodeDependencyFailed,
			Message:      fmt.Sprintf("input column %q is errored", de.OriginColumn),
			Retryable:    false,
			OriginColumn: origin,
		}
	}

	kind := errors.CodeUDFFailed
	if code := errors.GetCode(err); code != "" {
		kind = code
	}
	return &types.CellError{
		RowID:        rowID,
		Column:       column,
		Kind:         kind,
		Message:      err.Error(),
		Retryable:    errors.IsRetryable(err),
		OriginColumn: column,
	}
}
