package domain

// QueryResult is the tabular result of a read-only SQL query.
type QueryResult struct {
	Columns []string                 `json:"columns"`
	Rows    []map[string]interface{} `json:"results"`
}

// Column describes one column of a table.
type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// TableSchema describes a table.
type TableSchema struct {
	Name    string   `json:"table_name"`
	Columns []Column `json:"columns"`
}

// ObjectInfo describes one object in a cloud bucket.
type ObjectInfo struct {
	Key  string `json:"key"`
	Size int64  `json:"size"`
}
