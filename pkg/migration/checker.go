package migration

import (
	"context"
	"fmt"
	"strings"

	kitlog "github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"github.com/lawrencejones/supamigrate/internal/telem"
	"github.com/lawrencejones/supamigrate/pkg/util"
)

type Checker struct {
	logger    kitlog.Logger
	executor  Executor
	migration Migration
}

func NewChecker(logger kitlog.Logger, executor Executor, migration Migration) *Checker {
	return &Checker{
		logger:    logger,
		executor:  executor,
		migration: migration,
	}
}

// Report is the outcome of a successful check.
type Report struct {
	// Sample holds at most one row of the migrated columns. Empty tables give an empty,
	// non-nil slice.
	Sample []map[string]interface{}
	// Columns is only populated when the executor can describe the catalog.
	Columns []ColumnInfo
}

// Check confirms the migration's columns can be queried. A select is enough to prove
// the columns exist; if the executor can read the catalog we also confirm the types
// match what the migration would have created.
func (c *Checker) Check(ctx context.Context) (*Report, error) {
	ctx, span, logger := telem.Logger(ctx, c.logger)(trace.StartSpan(ctx, "pkg/migration.Checker.Check"))
	defer span.End()

	columns := c.migration.ColumnNames()
	span.AddAttributes(trace.StringAttribute("table", c.migration.Table.String()))

	rows, err := c.executor.Select(ctx, c.migration.Table, columns, 1)
	if err != nil {
		logger.Log("event", "check.failed", "kind", KindOf(err), "error", err)
		if IsUndefinedColumn(err) {
			return nil, errors.Wrap(err, "columns are missing")
		}

		return nil, errors.Wrap(err, "failed to query columns")
	}

	if rows == nil {
		rows = []map[string]interface{}{}
	}

	report := &Report{Sample: rows}

	describer, ok := c.executor.(Describer)
	if !ok {
		logger.Log("event", "check.complete", "rows", len(rows))
		return report, nil
	}

	report.Columns, err = describer.DescribeColumns(ctx, c.migration.Table, columns)
	if err != nil {
		return nil, errors.Wrap(err, "failed to describe columns")
	}

	if err := c.verify(report.Columns); err != nil {
		logger.Log("event", "check.mismatch", "error", err)
		return nil, err
	}

	logger.Log("event", "check.complete", "rows", len(rows), "described", len(report.Columns))
	return report, nil
}

// verify compares catalog entries against the columns the migration declares.
func (c *Checker) verify(found []ColumnInfo) error {
	names := make([]string, 0, len(found))
	for _, info := range found {
		names = append(names, info.Name)
	}

	if missing := util.Diff(c.migration.ColumnNames(), names); len(missing) > 0 {
		return fmt.Errorf("columns missing from catalog: %s", strings.Join(missing, ", "))
	}

	for _, column := range c.migration.Columns {
		for _, info := range found {
			if info.Name != column.Name {
				continue
			}

			if !strings.EqualFold(info.DataType, column.Type) {
				return fmt.Errorf("column %s has type %s, expected %s", column.Name, info.DataType, column.Type)
			}
		}
	}

	return nil
}
