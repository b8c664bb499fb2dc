package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"go.temporal.io/sdk/client"

	"github.com/roach88/bouncer/internal/bouncer"
	"github.com/roach88/bouncer/internal/clock"
	"github.com/roach88/bouncer/internal/config"
	"github.com/roach88/bouncer/internal/scheduler"
	"github.com/roach88/bouncer/internal/store"
	"github.com/roach88/bouncer/internal/temporalsched"
)

// purger is implemented by every TimestampStore that supports TTLs.
type purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// runtime is the wiring shared by the commands: config, logger, stores and
// the Debouncer built on them.
type runtime struct {
	cfg    *config.Config
	logger *slog.Logger
	clock  clock.Clock

	kv       store.TimestampStore
	jobs     *store.Store // nil with the temporal backend
	temporal client.Client

	debouncer *bouncer.Debouncer
	closers   []func()
}

// loadConfig reads the env file and config file named by the global flags.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	if opts.EnvFile != "" {
		if err := config.LoadEnvFile(opts.EnvFile); err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load env file", err)
		}
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.Store.Path = opts.Database
	}
	return cfg, nil
}

// newLogger builds the process logger from the logging section.
// Verbose forces debug level.
func newLogger(cfg config.LoggingConfig, verbose bool, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

// openRuntime loads config and opens everything a command needs. Extra
// options are applied after the configured ones.
func openRuntime(ctx context.Context, opts *RootOptions, logOut io.Writer, extra ...bouncer.Option) (*runtime, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		cfg:    cfg,
		logger: newLogger(cfg.Logging, opts.Verbose, logOut),
		clock:  clock.OrSystem(opts.Clock),
	}
	if err := rt.openStores(ctx); err != nil {
		rt.Close()
		return nil, err
	}

	sched, err := rt.openScheduler(opts.IDs)
	if err != nil {
		rt.Close()
		return nil, err
	}

	bopts := append(cfg.DebouncerOptions(), bouncer.WithClock(rt.clock), bouncer.WithLogger(rt.logger))
	rt.debouncer = bouncer.New(rt.kv, sched, append(bopts, extra...)...)
	return rt, nil
}

func (rt *runtime) openStores(ctx context.Context) error {
	sc := rt.cfg.Store

	// The job table is local SQLite unless Temporal owns scheduling.
	jobsPath := sc.Path
	if sc.Driver == "memory" {
		jobsPath = ":memory:"
	}
	if rt.cfg.Scheduler.Backend == "sqlite" || sc.Driver == "sqlite" {
		rt.logger.Debug("opening database", "path", jobsPath)
		st, err := store.Open(jobsPath, store.WithClock(rt.clock))
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		rt.jobs = st
		rt.closers = append(rt.closers, func() {
			if err := st.Close(); err != nil {
				rt.logger.Error("error closing database", "error", err)
			}
		})
	}

	switch sc.Driver {
	case "sqlite":
		rt.kv = rt.jobs
	case "memory":
		rt.kv = store.NewMemory(rt.clock)
	case "postgres":
		pg, err := store.OpenPostgres(ctx, sc.DSN, rt.clock)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open postgres store", err)
		}
		rt.kv = pg
		rt.closers = append(rt.closers, pg.Close)
	default:
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown store driver %q", sc.Driver))
	}
	return nil
}

func (rt *runtime) openScheduler(ids scheduler.IDGenerator) (bouncer.Scheduler, error) {
	if rt.cfg.Scheduler.Backend != "temporal" {
		return scheduler.NewQueue(rt.jobs, ids), nil
	}

	tc := rt.cfg.Scheduler.Temporal
	c, err := temporalsched.Dial(tc.HostPort, tc.Namespace, rt.logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to connect to temporal", err)
	}
	rt.temporal = c
	rt.closers = append(rt.closers, c.Close)
	return temporalsched.NewScheduler(c, tc.TaskQueue, ids), nil
}

// Close releases everything openRuntime opened, newest first.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

// requireJobs fails commands that need the local job table.
func (rt *runtime) requireJobs(command string) error {
	if rt.jobs == nil {
		return NewExitError(ExitCommandError, fmt.Sprintf("%s needs the sqlite scheduler backend or store driver", command))
	}
	return nil
}

// identityArgs builds an identity from "<topic> [params...]".
func identityArgs(args []string) bouncer.Identity {
	params := make([]any, len(args)-1)
	for i, p := range args[1:] {
		params[i] = p
	}
	return bouncer.NewIdentity(args[0], params...)
}
