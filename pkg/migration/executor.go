package migration

import (
	"context"
	"encoding/json"
)

// Executor is the database, as far as the runner and checker are concerned. Implemented
// over the HTTP API and over a direct Postgres connection.
type Executor interface {
	// ExecSQL runs arbitrary SQL with whatever privileges the executor was opened with,
	// returning the raw result payload.
	ExecSQL(ctx context.Context, sql string) (json.RawMessage, error)
	// Select reads at most limit rows of the given columns.
	Select(ctx context.Context, table Table, columns []string, limit int) ([]map[string]interface{}, error)
}

// ColumnInfo is what the catalog knows about a column.
type ColumnInfo struct {
	Name     string
	DataType string
	Default  *string
	Nullable bool
}

// Describer is implemented by executors that can read the catalog. The HTTP API doesn't
// expose information_schema, so this is optional.
type Describer interface {
	DescribeColumns(ctx context.Context, table Table, columns []string) ([]ColumnInfo, error)
}
