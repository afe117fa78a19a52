// Package postgres runs migrations over a direct Postgres connection, for databases
// that don't expose an HTTP API or haven't yet had exec_sql installed.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"contrib.go.opencensus.io/integrations/ocsql"
	sq "github.com/Masterminds/squirrel"
	"github.com/alecthomas/kingpin"
	kitlog "github.com/go-kit/kit/log"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/stdlib"
	"github.com/pkg/errors"

	"github.com/lawrencejones/supamigrate/pkg/migration"
)

type Options struct {
	Host     string
	Port     uint16
	Database string
	User     string
}

func (opt *Options) Bind(cmd *kingpin.Application, prefix string) *Options {
	cmd.Flag(fmt.Sprintf("%shost", prefix), "Postgres host").Envar("PGHOST").Default("127.0.0.1").StringVar(&opt.Host)
	cmd.Flag(fmt.Sprintf("%sport", prefix), "Postgres port").Envar("PGPORT").Default("5432").Uint16Var(&opt.Port)
	cmd.Flag(fmt.Sprintf("%sdatabase", prefix), "Postgres database name").Envar("PGDATABASE").Default("postgres").StringVar(&opt.Database)
	cmd.Flag(fmt.Sprintf("%suser", prefix), "Postgres user").Envar("PGUSER").Default("postgres").StringVar(&opt.User)

	return opt
}

// ConnString renders the options for pgx.ParseConfig, which picks up anything else
// (PGPASSWORD, PGSSLMODE) from libpq compatible environment variables.
func (opt Options) ConnString() string {
	return fmt.Sprintf("host=%s port=%d database=%s user=%s", opt.Host, opt.Port, opt.Database, opt.User)
}

type Executor struct {
	logger kitlog.Logger
	db     *sql.DB
}

var (
	_ migration.Executor  = &Executor{}
	_ migration.Describer = &Executor{}
)

// Open connects to Postgres and confirms the connection works. The pool is capped at a
// single connection, as we only ever have one statement in flight.
func Open(ctx context.Context, logger kitlog.Logger, opts Options) (*Executor, error) {
	cfg, err := pgx.ParseConfig(opts.ConnString())
	if err != nil {
		return nil, errors.Wrap(err, "invalid postgres configuration")
	}

	logger.Log("event", "database_config",
		"host", cfg.Host,
		"port", cfg.Port,
		"database", cfg.Database,
		"user", cfg.User,
	)

	driverName, err := ocsql.Register("pgx", ocsql.WithAllTraceOptions())
	if err != nil {
		return nil, errors.Wrap(err, "failed to register traced driver")
	}

	db, err := sql.Open(driverName, stdlib.RegisterConnConfig(cfg))
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialise db.SQL")
	}

	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, Classify(err)
	}

	return &Executor{logger: logger, db: db}, nil
}

// New wraps an existing database handle, which must use the pgx driver.
func New(logger kitlog.Logger, db *sql.DB) *Executor {
	return &Executor{logger: logger, db: db}
}

func (e *Executor) Close() error {
	return e.db.Close()
}

// ExecSQL sends the SQL without arguments, which pgx runs over the simple query protocol
// so multiple statements can be sent at once.
func (e *Executor) ExecSQL(ctx context.Context, query string) (json.RawMessage, error) {
	result, err := e.db.ExecContext(ctx, query)
	if err != nil {
		return nil, Classify(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read rows affected")
	}

	return json.Marshal(map[string]int64{"rows_affected": rowsAffected})
}

func (e *Executor) Select(ctx context.Context, table migration.Table, columns []string, limit int) ([]map[string]interface{}, error) {
	quoted := make([]string, 0, len(columns))
	for _, column := range columns {
		quoted = append(quoted, pgx.Identifier{column}.Sanitize())
	}

	builder := sq.Select(quoted...).
		From(identifier(table)).
		PlaceholderFormat(sq.Dollar)
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build select")
	}

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Classify(err)
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, Classify(err)
	}

	results := []map[string]interface{}{}
	for rows.Next() {
		values := make([]interface{}, len(names))
		pointers := make([]interface{}, len(names))
		for idx := range values {
			pointers[idx] = &values[idx]
		}

		if err := rows.Scan(pointers...); err != nil {
			return nil, Classify(err)
		}

		row := map[string]interface{}{}
		for idx, name := range names {
			row[name] = values[idx]
		}

		results = append(results, row)
	}

	if err := rows.Err(); err != nil {
		return nil, Classify(err)
	}

	return results, nil
}

// DescribeColumns reads the catalog entries for the given columns, in table order.
// Columns that don't exist are absent from the result.
func (e *Executor) DescribeColumns(ctx context.Context, table migration.Table, columns []string) ([]migration.ColumnInfo, error) {
	schema := table.Schema
	if schema == "" {
		schema = "public"
	}

	query, args, err := sq.
		Select("column_name", "data_type", "column_default", "is_nullable").
		From("information_schema.columns").
		Where(sq.Eq{"table_schema": schema, "table_name": table.Name, "column_name": columns}).
		OrderBy("ordinal_position").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build catalog query")
	}

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Classify(err)
	}
	defer rows.Close()

	infos := []migration.ColumnInfo{}
	for rows.Next() {
		var (
			info       migration.ColumnInfo
			columnDef  sql.NullString
			isNullable string
		)

		if err := rows.Scan(&info.Name, &info.DataType, &columnDef, &isNullable); err != nil {
			return nil, Classify(err)
		}

		if columnDef.Valid {
			info.Default = &columnDef.String
		}
		info.Nullable = isNullable == "YES"

		infos = append(infos, info)
	}

	if err := rows.Err(); err != nil {
		return nil, Classify(err)
	}

	return infos, nil
}

func identifier(table migration.Table) string {
	if table.Schema == "" {
		return pgx.Identifier{table.Name}.Sanitize()
	}

	return pgx.Identifier{table.Schema, table.Name}.Sanitize()
}
