package migration

import (
	"context"
	"encoding/json"

	kitlog "github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"github.com/lawrencejones/supamigrate/internal/telem"
)

type Runner struct {
	logger    kitlog.Logger
	executor  Executor
	migration Migration
}

func NewRunner(logger kitlog.Logger, executor Executor, migration Migration) *Runner {
	return &Runner{
		logger:    logger,
		executor:  executor,
		migration: migration,
	}
}

// Run submits the migration once. There is no retry: the statements are guarded with IF
// NOT EXISTS, so the caller can simply run us again.
func (r *Runner) Run(ctx context.Context) (json.RawMessage, error) {
	ctx, span, logger := telem.Logger(ctx, r.logger)(trace.StartSpan(ctx, "pkg/migration.Runner.Run"))
	defer span.End()

	span.AddAttributes(
		trace.StringAttribute("table", r.migration.Table.String()),
		trace.Int64Attribute("columns", int64(len(r.migration.Columns))),
	)

	logger.Log("event", "migration.start", "table", r.migration.Table, "columns", len(r.migration.Columns))
	result, err := r.executor.ExecSQL(ctx, r.migration.SQL())
	if err != nil {
		logger.Log("event", "migration.failed", "kind", KindOf(err), "error", err)
		if IsFunctionNotFound(err) {
			return nil, errors.Wrap(err, "exec_sql procedure is not installed")
		}

		return nil, errors.Wrap(err, "failed to apply migration")
	}

	logger.Log("event", "migration.complete", "table", r.migration.Table)
	return result, nil
}
