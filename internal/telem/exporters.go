package telem

import (
	"time"

	"contrib.go.opencensus.io/exporter/jaeger"
	"github.com/alecthomas/kingpin"
	"github.com/getsentry/sentry-go"
	kitlog "github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.opencensus.io/trace"
)

// Options configures where telemetry leaves the process. Everything is optional: a
// one-shot command has nowhere to be scraped from, so metrics are pushed on exit.
type Options struct {
	JaegerAgentEndpoint string
	SentryDSN           string
	PushgatewayURL      string
	JobName             string
}

func (opt *Options) Bind(cmd *kingpin.Application, prefix string) *Options {
	cmd.Flag(prefix+"jaeger-agent-endpoint", "Endpoint for Jaeger agent, disabled if empty").Default("").StringVar(&opt.JaegerAgentEndpoint)
	cmd.Flag(prefix+"sentry-dsn", "Sentry DSN for error reporting, disabled if empty").Envar("SENTRY_DSN").Default("").StringVar(&opt.SentryDSN)
	cmd.Flag(prefix+"pushgateway-url", "Prometheus pushgateway to receive metrics on exit, disabled if empty").Envar("PUSHGATEWAY_URL").Default("").StringVar(&opt.PushgatewayURL)

	return opt
}

// Configure installs the configured exporters, returning a function that must be called
// before exit to flush anything buffered.
func Configure(logger kitlog.Logger, serviceName string, opts Options) (flush func(), err error) {
	var flushers []func()

	if opts.JaegerAgentEndpoint != "" {
		exporter, err := jaeger.NewExporter(jaeger.Options{
			AgentEndpoint: opts.JaegerAgentEndpoint,
			Process: jaeger.Process{
				ServiceName: serviceName,
			},
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to create jaeger exporter")
		}

		trace.RegisterExporter(exporter)
		trace.ApplyConfig(trace.Config{DefaultSampler: trace.AlwaysSample()})
		flushers = append(flushers, exporter.Flush)
	}

	if opts.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: opts.SentryDSN, ServerName: serviceName}); err != nil {
			return nil, errors.Wrap(err, "failed to initialise sentry")
		}

		flushers = append(flushers, func() { sentry.Flush(2 * time.Second) })
	}

	if opts.PushgatewayURL != "" {
		job := opts.JobName
		if job == "" {
			job = serviceName
		}

		pusher := push.New(opts.PushgatewayURL, job).Gatherer(prometheus.DefaultGatherer)
		flushers = append(flushers, func() {
			if err := pusher.Push(); err != nil {
				logger.Log("event", "metrics_push.failed", "error", err)
			}
		})
	}

	return func() {
		for _, flush := range flushers {
			flush()
		}
	}, nil
}

// CaptureError reports to Sentry, if it was configured. Without a client this is a
// no-op.
func CaptureError(logger kitlog.Logger, err error) {
	if hub := sentry.CurrentHub(); hub != nil && hub.Client() != nil {
		if eventID := hub.CaptureException(err); eventID != nil {
			logger.Log("event", "capture_exception", "event_id", *eventID)
		}
	}
}
