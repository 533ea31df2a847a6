package types

// RowID identifies a row within one table's row store. IDs are assigned by
// the row store and are stable for the lifetime of the row.
type RowID int64

// CellState tracks the lifecycle of one cell. A cell is in exactly one
// state; it is never both present and errored.
type CellState int

const (
	// CellPending means the cell has not been evaluated yet.
	CellPending CellState = iota

	// CellPresent means the cell holds a valid value.
	CellPresent

	// CellErrored means the cell's computation failed terminally.
	CellErrored
)

func (s CellState) String() string {
	switch s {
	case CellPending:
		return "pending"
	case CellPresent:
		return "present"
	case CellErrored:
		return "errored"
	}
	return "unknown"
}

// CellError records a terminal computation failure for one cell. It is the
// error contract returned to callers alongside insert results.
type CellError struct {
	RowID     RowID  `json:"row_id"`
	Column    string `json:"column"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`

	// OriginColumn names the column whose failure propagated into this
	// cell; empty when this cell's own function failed.
	OriginColumn string `json:"origin_column,omitempty"`
}

// Cell is the value of one column in one row. Exactly one of Value or Error
// is meaningful, selected by State.
type Cell struct {
	State CellState
	Value Value
	Error *CellError
}

// PresentCell builds a present cell.
func PresentCell(v Value) Cell {
	return Cell{State: CellPresent, Value: v}
}

// ErroredCell builds an errored cell.
func ErroredCell(e *CellError) Cell {
	return Cell{State: CellErrored, Error: e}
}

// Row is one table row in memory: its id, the schema version it was read or
// written under, and its cells keyed by column id.
type Row struct {
	ID            RowID
	SchemaVersion int

	// ParentID and Pos form the identity of a view row; both are zero for
	// base-table rows (Pos carries meaning only when ParentID is set).
	ParentID RowID
	Pos      int64

	Cells map[int]Cell
}

// NewRow allocates an empty row.
func NewRow(id RowID, schemaVersion int) *Row {
	return &Row{ID: id, SchemaVersion: schemaVersion, Cells: make(map[int]Cell)}
}

// Cell returns the cell for a column id, defaulting to pending.
func (r *Row) Cell(colID int) Cell {
	if c, ok := r.Cells[colID]; ok {
		return c
	}
	return Cell{State: CellPending}
}
