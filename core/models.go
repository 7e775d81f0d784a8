package core

// Row is the universal row value: a map of column name to a
// JSON-compatible value (nil, bool, float64/int64, string, []any,
// map[string]any). No single dynamic value can losslessly represent
// every SQL type, so drivers coerce on a best-effort basis and the
// consumer gets a uniform shape rather than full fidelity.
type Row = map[string]any

// TableInfo identifies one table or view in a database.
type TableInfo struct {
	Schema string `json:"schema"`
	Name   string `json:"name"`
	Type   string `json:"type"`
}

// ColumnInfo describes one column of a table.
type ColumnInfo struct {
	Name       string  `json:"name"`
	DataType   string  `json:"type"`
	Nullable   bool    `json:"nullable"`
	Default    *string `json:"default"`
	PrimaryKey bool    `json:"primary_key"`
}

// IndexInfo describes one index on a table.
type IndexInfo struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique"`
	Primary bool     `json:"primary"`
}

// ForeignKeyInfo describes one foreign key constraint.
type ForeignKeyInfo struct {
	Name             string `json:"name"`
	Column           string `json:"column"`
	ReferencesTable  string `json:"references_table"`
	ReferencesColumn string `json:"references_column"`
}

// TableStructure is the full structural description of one table.
type TableStructure struct {
	Columns     []ColumnInfo     `json:"columns"`
	Indexes     []IndexInfo      `json:"indexes"`
	ForeignKeys []ForeignKeyInfo `json:"foreign_keys"`
}

// TableDataResponse is one page of table rows plus the unpaginated
// total. Pages are 1-indexed.
type TableDataResponse struct {
	Data  []Row `json:"data"`
	Total int64 `json:"total"`
	Page  int64 `json:"page"`
	Limit int64 `json:"limit"`
}

// QueryResult is the outcome of a raw query. Backend query errors are
// captured in Error rather than propagated, so a bad statement never
// looks like a broken connection.
type QueryResult struct {
	Data        []Row  `json:"data"`
	RowCount    int64  `json:"row_count"`
	Error       string `json:"error,omitempty"`
	TimeTakenMs int64  `json:"time_taken_ms,omitempty"`
}

// TestConnectionResult is a structured success/failure report. It is
// always produced, even on timeout; connectivity problems are data,
// not errors.
type TestConnectionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// TableWithStructure bundles a table's identity with its full
// structure, for upfront schema introspection.
type TableWithStructure struct {
	Schema      string           `json:"schema"`
	Name        string           `json:"name"`
	Type        string           `json:"type"`
	Columns     []ColumnInfo     `json:"columns"`
	ForeignKeys []ForeignKeyInfo `json:"foreign_keys"`
	Indexes     []IndexInfo      `json:"indexes"`
}

// SchemaOverview is the batch form of the structural calls: every
// table with its columns, indexes, and foreign keys.
type SchemaOverview struct {
	Tables []TableWithStructure `json:"tables"`
}

// TableDataRequest carries the parameters of a paginated table read.
// Filter is a raw backend-native boolean expression appended to a
// WHERE clause; drivers normalize smart quotes before use.
type TableDataRequest struct {
	Schema        string
	Table         string
	Page          int64
	Limit         int64
	Filter        string
	SortColumn    string
	SortDirection string
}
