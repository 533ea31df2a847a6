package vindex

import (
	"fmt"
	"sync"

	"github.com/tesseradata/tessera/internal/catalog"
	"github.com/tesseradata/tessera/internal/errors"
	"github.com/tesseradata/tessera/internal/types"
)

// Bound ties an index record to its in-memory index.
type Bound struct {
	Rec   *catalog.IndexRecord
	Index *Flat
}

// Manager tracks the live indexes of one engine instance and keeps them in
// step with cell transitions on their embedding columns.
type Manager struct {
	mu      sync.RWMutex
	byName  map[string]*Bound
	byTable map[string][]*Bound // table id → indexes
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{
		byName:  make(map[string]*Bound),
		byTable: make(map[string][]*Bound),
	}
}

// Register binds a new index. Indexes are named uniquely across the engine.
func (m *Manager) Register(rec *catalog.IndexRecord, dim int) (*Bound, error) {
	idx, err := NewFlat(dim, Metric(rec.Metric))
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byName[rec.Name]; exists {
		return nil, errors.NewSchemaError(errors.CodeDuplicateName,
			fmt.Sprintf("index %q already exists", rec.Name))
	}
	b := &Bound{Rec: rec, Index: idx}
	m.byName[rec.Name] = b
	m.byTable[rec.TableID] = append(m.byTable[rec.TableID], b)
	return b, nil
}

// Drop removes an index by name. Dropping an absent index is a no-op.
func (m *Manager) Drop(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.byName[name]
	if !ok {
		return
	}
	delete(m.byName, name)
	list := m.byTable[b.Rec.TableID]
	for i, other := range list {
		if other == b {
			m.byTable[b.Rec.TableID] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

// Get returns the index bound under name.
func (m *Manager) Get(name string) (*Bound, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.byName[name]
	if !ok {
		return nil, errors.NewIndexError(errors.CodeIndexUnavailable,
			fmt.Sprintf("index %q does not exist", name), nil)
	}
	return b, nil
}

// ForTable returns the indexes bound to a table.
func (m *Manager) ForTable(tableID string) []*Bound {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Bound(nil), m.byTable[tableID]...)
}

// ForColumn returns the index bound to a specific embedding column, if any.
func (m *Manager) ForColumn(tableID string, colID int) (*Bound, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.byTable[tableID] {
		if b.Rec.ColumnID == colID {
			return b, true
		}
	}
	return nil, false
}

// SyncCell reflects one cell transition into the indexes of a table. Present
// vectors upsert; errored and pending cells remove the row from search.
func (m *Manager) SyncCell(tableID string, rowID types.RowID, colID int, cell types.Cell) error {
	b, ok := m.ForColumn(tableID, colID)
	if !ok {
		return nil
	}
	if cell.State != types.CellPresent {
		b.Index.Remove(rowID)
		return nil
	}
	vec, ok := types.AsVector(cell.Value)
	if !ok {
		return errors.NewIndexError(errors.CodeDimensionMismatch,
			fmt.Sprintf("cell value for index %q is not a vector", b.Rec.Name), nil)
	}
	return b.Index.Upsert(rowID, vec)
}

// RemoveRows drops deleted rows from every index of a table.
func (m *Manager) RemoveRows(tableID string, ids []types.RowID) {
	for _, b := range m.ForTable(tableID) {
		for _, id := range ids {
			b.Index.Remove(id)
		}
	}
}

// Rebuild atomically replaces an index's contents from evaluated rows. Rows
// without a present embedding cell are left out.
func (m *Manager) Rebuild(b *Bound, rows []*types.Row) error {
	vecs := make(map[types.RowID][]float32, len(rows))
	for _, row := range rows {
		cell := row.Cell(b.Rec.ColumnID)
		if cell.State != types.CellPresent {
			continue
		}
		vec, ok := types.AsVector(cell.Value)
		if !ok {
			return errors.NewIndexError(errors.CodeDimensionMismatch,
				fmt.Sprintf("cell value for index %q is not a vector", b.Rec.Name), nil)
		}
		if len(vec) != b.Index.Dim() {
			return errors.NewIndexError(errors.CodeDimensionMismatch,
				fmt.Sprintf("vector has %d dimensions, index %q expects %d", len(vec), b.Rec.Name, b.Index.Dim()), nil)
		}
		cp := make([]float32, len(vec))
		copy(cp, vec)
		vecs[row.ID] = cp
	}
	b.Index.replace(vecs)
	return nil
}
