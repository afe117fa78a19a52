package postgres

import (
	"strings"

	"github.com/jackc/pgconn"
	"github.com/pkg/errors"

	"github.com/lawrencejones/supamigrate/pkg/migration"
)

// Classify converts a driver error into a RemoteCallFailure. Anything Postgres itself
// reported carries a SQLSTATE; everything else means we never got a response.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return &migration.RemoteCallFailure{
			Kind: migration.ConnectionError,
			Err:  err,
		}
	}

	return &migration.RemoteCallFailure{
		Kind:    kindOf(pgErr.Code),
		Code:    pgErr.Code,
		Message: pgErr.Message,
		Details: pgErr.Detail,
		Hint:    pgErr.Hint,
		Err:     err,
	}
}

func kindOf(code string) migration.Kind {
	switch {
	// invalid_authorization_specification, invalid_password
	case strings.HasPrefix(code, "28"):
		return migration.AuthenticationError
	case code == "42501": // insufficient_privilege
		return migration.AuthenticationError
	// connection_exception, operator_intervention (admin_shutdown etc)
	case strings.HasPrefix(code, "08"), strings.HasPrefix(code, "57P"):
		return migration.ConnectionError
	}

	return migration.ExecutionError
}
