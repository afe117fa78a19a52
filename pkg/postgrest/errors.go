package postgrest

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/lawrencejones/supamigrate/pkg/migration"
)

// apiError is the body PostgREST sends with every non-2xx response. Server side SQL
// errors are forwarded with their SQLSTATE as the code.
type apiError struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details"`
	Hint    json.RawMessage `json:"hint"`
}

func transportFailure(err error) error {
	return &migration.RemoteCallFailure{
		Kind: migration.ConnectionError,
		Err:  err,
	}
}

func responseFailure(status int, path string, payload []byte) error {
	failure := &migration.RemoteCallFailure{
		Status: status,
	}

	var body apiError
	if err := json.Unmarshal(payload, &body); err == nil {
		failure.Code = body.Code
		failure.Message = body.Message
		failure.Details = rawString(body.Details)
		failure.Hint = rawString(body.Hint)
	}

	// Proxies in front of the API answer with plain text
	if failure.Message == "" {
		failure.Message = strings.TrimSpace(string(payload))
	}
	if failure.Message == "" {
		failure.Message = http.StatusText(status)
	}

	// Older servers answer a missing function with a bare 404
	if status == http.StatusNotFound && failure.Code == "" && strings.HasPrefix(path, "rpc/") {
		failure.Code = "PGRST202"
	}

	failure.Kind = classify(status, failure.Code)

	return failure
}

func classify(status int, code string) migration.Kind {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return migration.AuthenticationError
	// JWT errors, such as an expired or mis-signed token
	case strings.HasPrefix(code, "PGRST30"):
		return migration.AuthenticationError
	// insufficient_privilege, invalid_authorization_specification
	case code == "42501", strings.HasPrefix(code, "28"):
		return migration.AuthenticationError
	// Gateway errors mean we never reached the database
	case status == http.StatusBadGateway, status == http.StatusServiceUnavailable, status == http.StatusGatewayTimeout:
		return migration.ConnectionError
	}

	return migration.ExecutionError
}

// rawString flattens a JSON value that may be a string, null or absent.
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	return string(raw)
}
