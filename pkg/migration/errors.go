package migration

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Kind is the broad cause of a failed remote call. Callers branch on this rather than
// parsing messages.
type Kind string

const (
	ConnectionError     Kind = "connection"
	AuthenticationError Kind = "authentication"
	ExecutionError      Kind = "execution"
)

// RemoteCallFailure is returned by every Executor whenever the database could not
// complete a request, whatever the transport.
type RemoteCallFailure struct {
	Kind    Kind
	Code    string // PostgREST error code or SQLSTATE, if the server gave one
	Status  int    // HTTP status, zero for non-HTTP backends
	Message string
	Details string
	Hint    string
	Err     error
}

func (f *RemoteCallFailure) Error() string {
	parts := []string{fmt.Sprintf("%s error", f.Kind)}
	if f.Status != 0 {
		parts = append(parts, fmt.Sprintf("status %d", f.Status))
	}
	if f.Code != "" {
		parts = append(parts, fmt.Sprintf("code %s", f.Code))
	}

	msg := strings.Join(parts, ", ")
	switch {
	case f.Message != "":
		msg = fmt.Sprintf("%s: %s", msg, f.Message)
	case f.Err != nil:
		msg = fmt.Sprintf("%s: %s", msg, f.Err.Error())
	}

	if f.Hint != "" {
		msg = fmt.Sprintf("%s (hint: %s)", msg, f.Hint)
	}

	return msg
}

func (f *RemoteCallFailure) Unwrap() error {
	return f.Err
}

// AsFailure finds the RemoteCallFailure in an error chain, if there is one.
func AsFailure(err error) (*RemoteCallFailure, bool) {
	var failure *RemoteCallFailure
	if errors.As(err, &failure) {
		return failure, true
	}

	return nil, false
}

// KindOf returns the kind of failure, or the empty string if err didn't come from a
// remote call.
func KindOf(err error) Kind {
	if failure, ok := AsFailure(err); ok {
		return failure.Kind
	}

	return ""
}

const (
	sqlstateUndefinedFunction = "42883"
	sqlstateUndefinedColumn   = "42703"
	sqlstateUndefinedTable    = "42P01"

	// PostgREST could not find the function in its schema cache
	postgrestFunctionNotFound = "PGRST202"
)

// IsFunctionNotFound is true when the procedure we asked for isn't registered on the
// server, which for exec_sql means the backend was never prepared for migrations.
func IsFunctionNotFound(err error) bool {
	failure, ok := AsFailure(err)
	if !ok {
		return false
	}

	return failure.Code == postgrestFunctionNotFound || failure.Code == sqlstateUndefinedFunction
}

// IsUndefinedColumn is the failure a select produces before the migration has run.
func IsUndefinedColumn(err error) bool {
	failure, ok := AsFailure(err)
	return ok && failure.Code == sqlstateUndefinedColumn
}

func IsUndefinedTable(err error) bool {
	failure, ok := AsFailure(err)
	return ok && failure.Code == sqlstateUndefinedTable
}
