package postgrest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Query is a read against a single table, built up like:
//
//	client.From("user_profiles").Select("notification_email", "notification_browser").Limit(1)
//
// Queries are values, so each modifier returns a copy.
type Query struct {
	client  *Client
	table   string
	schema  string
	columns []string
	limit   int
}

func (c *Client) From(table string) Query {
	return Query{client: c, table: table, schema: c.schema}
}

func (q Query) Schema(schema string) Query {
	if schema != "" {
		q.schema = schema
	}

	return q
}

func (q Query) Select(columns ...string) Query {
	q.columns = append([]string{}, columns...)
	return q
}

// Limit caps the rows returned. Zero means no limit.
func (q Query) Limit(limit int) Query {
	q.limit = limit
	return q
}

func (q Query) values() url.Values {
	values := url.Values{}
	if len(q.columns) > 0 {
		values.Set("select", strings.Join(q.columns, ","))
	} else {
		values.Set("select", "*")
	}
	if q.limit > 0 {
		values.Set("limit", strconv.Itoa(q.limit))
	}

	return values
}

// Execute runs the query, returning the raw JSON array of rows.
func (q Query) Execute(ctx context.Context) (json.RawMessage, error) {
	return q.client.do(ctx, http.MethodGet, q.table, q.schema, q.values(), nil)
}

// Rows runs the query and decodes each row into a map keyed by column.
func (q Query) Rows(ctx context.Context) ([]map[string]interface{}, error) {
	payload, err := q.Execute(ctx)
	if err != nil {
		return nil, err
	}

	rows := []map[string]interface{}{}
	if string(payload) == "null" {
		return rows, nil
	}

	if err := json.Unmarshal(payload, &rows); err != nil {
		return nil, errors.Wrap(err, "failed to decode rows")
	}

	return rows, nil
}
