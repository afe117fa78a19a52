package dbtest

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v4/stdlib"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

// DB is used to help test interactions with Postgres. Each test suite works inside its
// own schema, creating the tables it needs and dropping everything afterwards.
//
// Postgres is configured from the libpq environment variables. When PGHOST is not set
// we assume no database is available, and Setup skips the test.
type DB struct {
	db          *sql.DB
	schema      string
	createFuncs []func(context.Context, *sql.DB) (sql.Result, error)
	cleanFuncs  []func(context.Context, *sql.DB) (sql.Result, error)
}

func Configure(opts ...func(*DB)) *DB {
	dbtest := &DB{}
	for _, opt := range opts {
		opt(dbtest)
	}

	return dbtest
}

// Available is true when the environment points at a database we can use.
func Available() bool {
	return os.Getenv("PGHOST") != ""
}

func (d *DB) Setup(ctx context.Context, timeout time.Duration) (context.Context, func()) {
	if !Available() {
		Skip("PGHOST is not set, skipping Postgres tests")
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)

	// Force close the connection pool, which shouldn't have any connections still open
	if d.db != nil {
		Expect(d.db.Close()).To(Succeed(), "closing database should always succeed")
	}

	// Re-open the connection pool with a search_path that matches our schema, preventing
	// accidental creation/querying of resources in the public namespace.
	var err error
	d.db, err = sql.Open("pgx", fmt.Sprintf("search_path=%s,public", d.schema))
	Expect(err).NotTo(HaveOccurred(), "failed to open database connection")

	// In case previous tests exited abruptly, clean-up before we begin
	for _, clean := range d.cleanFuncs {
		_, err := clean(ctx, d.db)
		Expect(err).NotTo(HaveOccurred(), "failed to run cleanup before test start")
	}

	// Just before we begin testing, run all the creation functions
	for _, create := range d.createFuncs {
		_, err := create(ctx, d.db)
		Expect(err).NotTo(HaveOccurred(), "failed to run creation before test start")
	}

	return ctx, cancel
}

func (d *DB) MustExec(ctx context.Context, query string, args ...interface{}) {
	_, err := d.db.ExecContext(ctx, query, args...)
	Expect(err).NotTo(HaveOccurred())
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Schema() string {
	return d.schema
}

type Option func(*DB)

func (o Option) And(other func(*DB)) Option {
	return func(db *DB) {
		o(db)
		other(db)
	}
}

func WithLifecycle(createFunc, cleanFunc func(context.Context, *sql.DB) (sql.Result, error)) func(*DB) {
	return func(db *DB) {
		if createFunc != nil {
			db.createFuncs = append(db.createFuncs, createFunc)
		}
		if cleanFunc != nil {
			db.cleanFuncs = append(db.cleanFuncs, cleanFunc)
		}
	}
}

func WithSchema(name string) func(*DB) {
	return func(db *DB) {
		db.schema = name

		WithLifecycle(
			func(ctx context.Context, db *sql.DB) (sql.Result, error) {
				return db.ExecContext(ctx, fmt.Sprintf(`create schema %s;`, name))
			},
			func(ctx context.Context, db *sql.DB) (sql.Result, error) {
				return db.ExecContext(ctx, fmt.Sprintf(`drop schema if exists %s cascade;`, name))
			},
		)(db)
	}
}

func WithTable(name string, fieldDefinitions ...string) func(*DB) {
	return WithLifecycle(
		func(ctx context.Context, db *sql.DB) (sql.Result, error) {
			return db.ExecContext(ctx, fmt.Sprintf("create table %s (%s);", name, strings.Join(fieldDefinitions, ", ")))
		},
		func(ctx context.Context, db *sql.DB) (sql.Result, error) {
			return db.ExecContext(ctx, fmt.Sprintf(`drop table if exists %s cascade;`, name))
		},
	)
}
