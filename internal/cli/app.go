package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/alecthomas/kingpin"
	kitlog "github.com/go-kit/kit/log"
	level "github.com/go-kit/kit/log/level"
	"github.com/oklog/run"

	"github.com/lawrencejones/supamigrate/internal/telem"
	"github.com/lawrencejones/supamigrate/pkg/postgres"
	"github.com/lawrencejones/supamigrate/pkg/postgrest"
)

// Set by goreleaser
var (
	Version   = "dev"
	Commit    = "none"
	Date      = "unknown"
	GoVersion = runtime.Version()
)

// SilentError should be returned when the command has already reported the failure and
// wants to skip all logging of the error. It wraps no error content as we should never
// inspect it.
var SilentError = errors.New("silent error")

type UsageError struct {
	error
}

// ToleratedError is logged like any other error, but the process still exits zero.
type ToleratedError struct {
	error
}

func (e ToleratedError) Unwrap() error {
	return e.error
}

// Action is the body of a command. It is responsible for printing its own outcome to
// stdout; the returned error decides the exit code.
type Action func(ctx context.Context, session *Session) error

type App struct {
	*kingpin.Application
	Stdout io.Writer
	Stderr io.Writer

	name      string
	action    Action
	debug     *bool
	backend   *string
	rest      *postgrest.Options
	postgres  *postgres.Options
	telemetry *telem.Options
}

// New creates an app with the flags shared by every command: logging, telemetry and the
// backend configuration.
func New(name, help string, action Action) *App {
	app := &App{
		Application: kingpin.New(name, help),
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
		name:        name,
		action:      action,
	}

	app.Version(versionStanza(name))
	app.debug = app.Flag("debug", "Enable debug logging").Default("false").Bool()
	app.backend = app.Flag("backend", "How to reach the database: rest (HTTP API) or postgres (direct connection)").
		Envar("SUPAMIGRATE_BACKEND").Default(BackendREST).Enum(BackendREST, BackendPostgres)
	app.rest = new(postgrest.Options).Bind(app.Application, "")
	app.postgres = new(postgres.Options).Bind(app.Application, "")
	app.telemetry = new(telem.Options).Bind(app.Application, "")

	postgrest.Version = Version

	return app
}

func versionStanza(name string) string {
	return fmt.Sprintf(
		"%s Version: %v\nGit SHA: %v\nGo Version: %v\nGo OS/Arch: %v/%v\nBuilt at: %v",
		name, Version, Commit, GoVersion, runtime.GOOS, runtime.GOARCH, Date,
	)
}

// Run parses args, runs the action and returns the process exit code.
func (a *App) Run(args []string) (code int) {
	a.ErrorWriter(a.Stderr)
	a.UsageWriter(a.Stderr)

	if _, err := a.Parse(args); err != nil {
		context, _ := a.ParseContext(args)
		a.UsageForContext(context)
		fmt.Fprintf(a.Stderr, "error: %s\n", err.Error())

		return 1
	}

	var logger kitlog.Logger
	logger = kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(a.Stderr))
	if *a.debug {
		logger = level.NewFilter(logger, level.AllowDebug())
	} else {
		logger = level.NewFilter(logger, level.AllowInfo())
	}
	logger = kitlog.With(logger, "ts", kitlog.DefaultTimestampUTC, "caller", kitlog.DefaultCaller)
	stdlog.SetOutput(kitlog.NewStdlibAdapter(logger))

	flush, err := telem.Configure(logger, a.name, *a.telemetry)
	if err != nil {
		fmt.Fprintf(a.Stderr, "error: %s\n", err.Error())
		return 1
	}
	defer flush()

	err = a.run(logger)

	// Log the error and decide how we exit
	var usageErr UsageError
	var toleratedErr ToleratedError
	switch {
	case err == nil:
		return 0
	case errors.Is(err, SilentError):
		return 1
	case errors.As(err, &usageErr):
		context, _ := a.ParseContext(args)
		a.UsageForContext(context)
		fmt.Fprintf(a.Stderr, "error: %s\n", usageErr.Error())

		return 1
	case errors.As(err, &toleratedErr):
		logger.Log("event", "error", "error", toleratedErr.error, "msg", "ignoring error, exiting zero")
		return 0
	default:
		logger.Log("event", "error", "error", err, "msg", "exiting with error")
		telem.CaptureError(logger, err)

		return 1
	}
}

func (a *App) run(logger kitlog.Logger) error {
	// This is the root context for the command. Once terminated, everything we have
	// started should also finish.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session := newSession(logger, a)
	defer session.Close()

	var g run.Group

	{
		logger := kitlog.With(logger, "component", "signal_handler")

		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)

		ctx, cancel := context.WithCancel(ctx)

		g.Add(
			func() error {
				select {
				case sig := <-sigc:
					logger.Log("event", "received_signal", "signal", sig, "msg", "cancelling command")
					return fmt.Errorf("received signal: %s", sig)
				case <-ctx.Done():
					return nil
				}
			},
			func(error) {
				signal.Stop(sigc)
				cancel()
			},
		)
	}

	{
		ctx, cancel := context.WithCancel(ctx)

		g.Add(
			func() error {
				return a.action(ctx, session)
			},
			func(error) {
				cancel()
			},
		)
	}

	return g.Run()
}
