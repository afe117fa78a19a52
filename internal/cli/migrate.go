package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lawrencejones/supamigrate/pkg/migration"
)

type MigrateOptions struct {
	DryRun     bool
	PrintSQL   bool
	InstallRPC bool
}

func (opt *MigrateOptions) Bind(app *App) *MigrateOptions {
	app.Flag("dry-run", "Print the SQL that would be submitted, without contacting the database").Default("false").BoolVar(&opt.DryRun)
	app.Flag("print-sql", "Print the SQL before submitting it").Default("false").BoolVar(&opt.PrintSQL)
	app.Flag("install-rpc", "Create the exec_sql function before migrating, requires --backend=postgres").Default("false").BoolVar(&opt.InstallRPC)

	return opt
}

// Migrate builds the run-sql-migration command, which adds the notification preference
// columns to user profiles. Any failure exits 1.
func Migrate() *App {
	var opts MigrateOptions
	app := New("run-sql-migration", "Add notification preference columns to user profiles", func(ctx context.Context, session *Session) error {
		return runMigration(ctx, session, migration.NotificationPreferences, opts)
	})

	opts.Bind(app)

	return app
}

func runMigration(ctx context.Context, session *Session, m migration.Migration, opts MigrateOptions) error {
	out := session.Stdout()

	if opts.DryRun || opts.PrintSQL {
		fmt.Fprintln(out, m.SQL())
	}
	if opts.DryRun {
		return nil
	}

	fmt.Fprintln(out, "🔄 Running SQL migration...")

	result, err := applyMigration(ctx, session, m, opts)
	if err != nil {
		fmt.Fprintf(out, "❌ Migration failed: %v\n", err)
		return err
	}

	fmt.Fprintln(out, "✅ Migration completed successfully!")
	fmt.Fprintf(out, "Result: %s\n", result)
	session.Dump(result)

	return nil
}

func applyMigration(ctx context.Context, session *Session, m migration.Migration, opts MigrateOptions) (json.RawMessage, error) {
	if timeout := session.Timeout(); timeout > 0 {
		var cancel func()
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if opts.InstallRPC {
		pg, err := session.Postgres(ctx)
		if err != nil {
			return nil, err
		}

		if err := pg.InstallExecSQL(ctx, session.Schema()); err != nil {
			return nil, err
		}
	}

	executor, err := session.Executor(ctx)
	if err != nil {
		return nil, err
	}

	return migration.NewRunner(session.Logger, executor, m).Run(ctx)
}
