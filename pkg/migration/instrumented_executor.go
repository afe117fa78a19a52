package migration

import (
	"context"
	"encoding/json"

	kitlog "github.com/go-kit/kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opencensus.io/trace"
)

var (
	remoteCallDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "supamigrate_remote_call_duration_seconds",
			Help:    "Distribution of time spent on remote calls, by backend and operation",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms -> 40s
		},
		[]string{"backend", "operation"},
	)
	remoteCallFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supamigrate_remote_call_failures_total",
			Help: "Count of failed remote calls, by backend, operation and failure kind",
		},
		[]string{"backend", "operation", "kind"},
	)
)

type instrumentedExecutor struct {
	Executor
	logger   kitlog.Logger
	backend  string
	duration prometheus.ObserverVec
	failures *prometheus.CounterVec
}

// NewInstrumentedExecutor wraps an executor so every call is logged, timed and counted,
// and runs within its own span.
func NewInstrumentedExecutor(logger kitlog.Logger, backend string, e Executor) Executor {
	labels := prometheus.Labels{"backend": backend}
	instrumented := &instrumentedExecutor{
		Executor: e,
		logger:   kitlog.With(logger, "backend", backend),
		backend:  backend,
		duration: remoteCallDurationSeconds.MustCurryWith(labels),
		failures: remoteCallFailuresTotal.MustCurryWith(labels),
	}

	// Preserve the optional catalog access of the underlying executor
	if describer, ok := e.(Describer); ok {
		return &instrumentedDescriber{instrumented, describer}
	}

	return instrumented
}

func (i *instrumentedExecutor) observe(operation string, err *error) func(float64) {
	return func(v float64) {
		i.logger.Log("event", "remote_call", "operation", operation, "duration", v, "error", *err)
		i.duration.WithLabelValues(operation).Observe(v)
		if *err != nil {
			i.failures.WithLabelValues(operation, string(KindOf(*err))).Inc()
		}
	}
}

func (i *instrumentedExecutor) ExecSQL(ctx context.Context, sql string) (result json.RawMessage, err error) {
	ctx, span := trace.StartSpan(ctx, "pkg/migration.Executor.ExecSQL")
	defer span.End()

	span.AddAttributes(trace.StringAttribute("backend", i.backend))
	defer prometheus.NewTimer(prometheus.ObserverFunc(i.observe("exec_sql", &err))).ObserveDuration()

	return i.Executor.ExecSQL(ctx, sql)
}

func (i *instrumentedExecutor) Select(ctx context.Context, table Table, columns []string, limit int) (rows []map[string]interface{}, err error) {
	ctx, span := trace.StartSpan(ctx, "pkg/migration.Executor.Select")
	defer span.End()

	span.AddAttributes(
		trace.StringAttribute("backend", i.backend),
		trace.StringAttribute("table", table.String()),
		trace.Int64Attribute("limit", int64(limit)),
	)
	defer prometheus.NewTimer(prometheus.ObserverFunc(i.observe("select", &err))).ObserveDuration()

	return i.Executor.Select(ctx, table, columns, limit)
}

type instrumentedDescriber struct {
	*instrumentedExecutor
	describer Describer
}

func (i *instrumentedDescriber) DescribeColumns(ctx context.Context, table Table, columns []string) (infos []ColumnInfo, err error) {
	ctx, span := trace.StartSpan(ctx, "pkg/migration.Describer.DescribeColumns")
	defer span.End()

	defer prometheus.NewTimer(prometheus.ObserverFunc(i.observe("describe", &err))).ObserveDuration()

	return i.describer.DescribeColumns(ctx, table, columns)
}
