package postgrest

import (
	"context"
	"encoding/json"

	"github.com/lawrencejones/supamigrate/pkg/migration"
)

const (
	// ExecSQLFunction must be created on the database before migrations can run over the
	// API, as PostgREST has no endpoint for arbitrary SQL.
	ExecSQLFunction  = "exec_sql"
	ExecSQLParameter = "query"
)

// Executor runs migrations over the HTTP API. SQL goes through the exec_sql function,
// which runs it with the privileges of the service key.
type Executor struct {
	client *Client
}

var _ migration.Executor = &Executor{}

func NewExecutor(client *Client) *Executor {
	return &Executor{client: client}
}

func (e *Executor) ExecSQL(ctx context.Context, sql string) (json.RawMessage, error) {
	return e.client.RPC(ctx, ExecSQLFunction, map[string]interface{}{ExecSQLParameter: sql})
}

func (e *Executor) Select(ctx context.Context, table migration.Table, columns []string, limit int) ([]map[string]interface{}, error) {
	return e.client.From(table.Name).Schema(table.Schema).Select(columns...).Limit(limit).Rows(ctx)
}
