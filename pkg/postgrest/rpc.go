package postgrest

import (
	"context"
	"encoding/json"
	"net/http"
)

// RPC calls a database function by name with named parameters, returning whatever the
// function returned. Functions returning void come back as JSON null.
func (c *Client) RPC(ctx context.Context, function string, params map[string]interface{}) (json.RawMessage, error) {
	if params == nil {
		params = map[string]interface{}{}
	}

	return c.do(ctx, http.MethodPost, "rpc/"+function, c.schema, nil, params)
}
