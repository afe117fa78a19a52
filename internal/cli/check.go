package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"

	"github.com/lawrencejones/supamigrate/pkg/migration"
)

type CheckOptions struct {
	ExitZero bool
}

func (opt *CheckOptions) Bind(app *App) *CheckOptions {
	app.Flag("exit-zero", "Exit zero even when the check fails").Default("false").BoolVar(&opt.ExitZero)

	return opt
}

// Check builds the check-columns command, which confirms the notification preference
// columns can be queried. Failure exits 1 unless --exit-zero is given.
func Check() *App {
	var opts CheckOptions
	app := New("check-columns", "Confirm the notification preference columns exist", func(ctx context.Context, session *Session) error {
		return runCheck(ctx, session, migration.NotificationPreferences, opts)
	})

	opts.Bind(app)

	return app
}

func runCheck(ctx context.Context, session *Session, m migration.Migration, opts CheckOptions) error {
	out := session.Stdout()

	report, err := checkColumns(ctx, session, m)
	if err != nil {
		fmt.Fprintf(out, "❌ Columns don't exist yet: %v\n", err)
		if opts.ExitZero {
			return ToleratedError{err}
		}

		return err
	}

	sample, err := json.Marshal(report.Sample)
	if err != nil {
		return errors.Wrap(err, "failed to encode sample")
	}

	fmt.Fprintln(out, "✅ Columns exist! Migration was successful.")
	fmt.Fprintf(out, "Sample data: %s\n", sample)
	for _, column := range report.Columns {
		def := "none"
		if column.Default != nil {
			def = *column.Default
		}

		fmt.Fprintf(out, "  %s %s default %s\n", column.Name, column.DataType, def)
	}

	session.Dump(report)

	return nil
}

func checkColumns(ctx context.Context, session *Session, m migration.Migration) (*migration.Report, error) {
	if timeout := session.Timeout(); timeout > 0 {
		var cancel func()
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	executor, err := session.Executor(ctx)
	if err != nil {
		return nil, err
	}

	return migration.NewChecker(session.Logger, executor, m).Check(ctx)
}
