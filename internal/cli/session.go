package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/davecgh/go-spew/spew"
	kitlog "github.com/go-kit/kit/log"
	level "github.com/go-kit/kit/log/level"

	"github.com/lawrencejones/supamigrate/pkg/migration"
	"github.com/lawrencejones/supamigrate/pkg/postgres"
	"github.com/lawrencejones/supamigrate/pkg/postgrest"
)

const (
	BackendREST     = "rest"
	BackendPostgres = "postgres"
)

// Session gives an action access to the database. Connections are made lazily, so an
// action that never needs the database (such as a dry run) never opens one, and setup
// failures surface where the action can report them.
type Session struct {
	Logger kitlog.Logger

	app      *App
	executor migration.Executor
	postgres *postgres.Executor
}

func newSession(logger kitlog.Logger, app *App) *Session {
	return &Session{Logger: logger, app: app}
}

func (s *Session) Stdout() io.Writer {
	return s.app.Stdout
}

func (s *Session) Backend() string {
	return *s.app.backend
}

// Schema is the schema RPCs are resolved against, and where exec_sql is installed.
func (s *Session) Schema() string {
	return s.app.rest.Schema
}

// Timeout bounds the remote work of a single command.
func (s *Session) Timeout() time.Duration {
	return s.app.rest.Timeout
}

// Dump prints a value in detail when debug logging is enabled.
func (s *Session) Dump(v interface{}) {
	if *s.app.debug {
		spew.Fdump(s.app.Stderr, v)
	}
}

// Executor returns the instrumented executor for the configured backend, connecting on
// first use.
func (s *Session) Executor(ctx context.Context) (migration.Executor, error) {
	if s.executor != nil {
		return s.executor, nil
	}

	var executor migration.Executor
	switch s.Backend() {
	case BackendREST:
		client, err := s.restClient()
		if err != nil {
			return nil, err
		}

		executor = postgrest.NewExecutor(client)
	case BackendPostgres:
		pg, err := s.Postgres(ctx)
		if err != nil {
			return nil, err
		}

		executor = pg
	default:
		return nil, UsageError{fmt.Errorf("unsupported backend: %s", s.Backend())}
	}

	s.executor = migration.NewInstrumentedExecutor(s.Logger, s.Backend(), executor)
	return s.executor, nil
}

// Postgres returns the direct connection, which is only available with the postgres
// backend.
func (s *Session) Postgres(ctx context.Context) (*postgres.Executor, error) {
	if s.postgres != nil {
		return s.postgres, nil
	}

	if s.Backend() != BackendPostgres {
		return nil, UsageError{fmt.Errorf("requires --backend=%s", BackendPostgres)}
	}

	logger := kitlog.With(s.Logger, "component", "postgres")

	var err error
	s.postgres, err = postgres.Open(ctx, logger, *s.app.postgres)
	if err != nil {
		return nil, err
	}

	return s.postgres, nil
}

func (s *Session) restClient() (*postgrest.Client, error) {
	opts := *s.app.rest
	logger := kitlog.With(s.Logger, "component", "postgrest")

	claims, err := postgrest.InspectServiceKey(opts.ServiceKey, time.Now())
	if err != nil {
		return nil, err
	}

	switch {
	case claims == nil:
		level.Debug(logger).Log("event", "service_key.opaque", "msg", "service key is not a JWT, leaving validation to the server")
	case claims.Role != postgrest.ServiceRole:
		level.Warn(logger).Log("event", "service_key.unexpected_role", "role", claims.Role,
			"msg", "key is not a service role key, schema changes will likely be refused")
	default:
		level.Debug(logger).Log("event", "service_key.inspected", "role", claims.Role, "reference", claims.Reference)
	}

	return postgrest.New(logger, opts)
}

func (s *Session) Close() {
	if s.postgres != nil {
		if err := s.postgres.Close(); err != nil {
			s.Logger.Log("event", "postgres.close_failed", "error", err)
		}
	}
}
