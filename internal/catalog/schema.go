// Package catalog provides the metadata catalog for tables, views, columns,
// schema versions, and embedding indexes.
package catalog

// SQL schema definitions for the metadata catalog (catalog.db). The catalog
// is a SQLite database that serves as the source of truth for all table and
// view definitions in the system.

// CreateTablesTableSQL creates the core tables table. Views are tables with
// kind='view', a parent id, and an iterator spec.
const CreateTablesTableSQL = `
CREATE TABLE IF NOT EXISTS tables (
    table_id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    kind TEXT NOT NULL CHECK (kind IN ('table', 'view')),
    parent_id TEXT,
    iterator_json TEXT,
    store_table TEXT NOT NULL,
    current_version INTEGER NOT NULL DEFAULT 1,
    next_col_id INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    dropped_at INTEGER,
    FOREIGN KEY (parent_id) REFERENCES tables(table_id)
)`

// CreateTablesIndexesSQL creates indexes for table lookups. Active lookups
// exclude dropped tables.
var CreateTablesIndexesSQL = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_tables_name ON tables(name)
		WHERE dropped_at IS NULL`,

	`CREATE INDEX IF NOT EXISTS idx_tables_parent ON tables(parent_id)
		WHERE dropped_at IS NULL`,
}

// CreateColumnsTableSQL creates the columns table. A column is stored or
// computed, never both; computed columns carry an expression and evaluation
// metadata. Dropped columns keep their rows (with dropped_version set) so
// old schema versions stay readable.
const CreateColumnsTableSQL = `
CREATE TABLE IF NOT EXISTS columns (
    table_id TEXT NOT NULL,
    col_id INTEGER NOT NULL,
    name TEXT NOT NULL,
    type_json TEXT NOT NULL,
    nullable INTEGER NOT NULL DEFAULT 1,
    kind TEXT NOT NULL CHECK (kind IN ('stored', 'computed')),
    expr_json TEXT,
    deterministic INTEGER NOT NULL DEFAULT 1,
    batchable INTEGER NOT NULL DEFAULT 0,
    resource TEXT NOT NULL DEFAULT 'cpu',
    created_version INTEGER NOT NULL,
    dropped_version INTEGER,
    PRIMARY KEY (table_id, col_id),
    FOREIGN KEY (table_id) REFERENCES tables(table_id)
)`

// CreateSchemaVersionsTableSQL creates the schema versions table. Each row
// is an immutable snapshot of a table's column set at one point in its
// evolution; time-travel reads resolve against these snapshots.
const CreateSchemaVersionsTableSQL = `
CREATE TABLE IF NOT EXISTS schema_versions (
    table_id TEXT NOT NULL,
    version INTEGER NOT NULL,
    schema_json TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (table_id, version),
    FOREIGN KEY (table_id) REFERENCES tables(table_id)
)`

// CreateVectorIndexesTableSQL creates the embedding index registry. An index
// binds to exactly one computed embedding column of a table or view.
const CreateVectorIndexesTableSQL = `
CREATE TABLE IF NOT EXISTS vector_indexes (
    index_id TEXT PRIMARY KEY,
    table_id TEXT NOT NULL,
    name TEXT NOT NULL,
    column_id INTEGER NOT NULL,
    embed_fn TEXT NOT NULL,
    metric TEXT NOT NULL DEFAULT 'cosine',
    created_version INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    dropped_at INTEGER,
    FOREIGN KEY (table_id) REFERENCES tables(table_id)
)`

// CreateVectorIndexesIndexSQL creates the per-table index name uniqueness
// constraint for active indexes.
const CreateVectorIndexesIndexSQL = `
CREATE UNIQUE INDEX IF NOT EXISTS idx_vector_indexes_name
	ON vector_indexes(table_id, name) WHERE dropped_at IS NULL`

// AnalyzeSQL runs ANALYZE to keep the SQLite query planner informed about
// index statistics.
const AnalyzeSQL = `ANALYZE`

// AllSchemaSQL returns all SQL statements needed to initialize the catalog.
func AllSchemaSQL() []string {
	statements := []string{
		CreateTablesTableSQL,
		CreateColumnsTableSQL,
		CreateSchemaVersionsTableSQL,
		CreateVectorIndexesTableSQL,
		CreateVectorIndexesIndexSQL,
	}
	statements = append(statements, CreateTablesIndexesSQL...)
	return statements
}
