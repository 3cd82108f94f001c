package cli

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/roach88/rover/internal/admin"
	"github.com/roach88/rover/internal/config"
	"github.com/roach88/rover/internal/engine"
	"github.com/roach88/rover/internal/handler"
	"github.com/roach88/rover/internal/logger"
	"github.com/roach88/rover/internal/metrics"
	"github.com/roach88/rover/internal/plugins"
	"github.com/roach88/rover/internal/source"
	"github.com/roach88/rover/internal/store"
	"github.com/roach88/rover/internal/telemetry"
)

const shutdownTimeout = 5 * time.Second

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions

	// Source overrides the configured item source (for testing). When it
	// also implements source.Sessions, it provides the account sessions.
	Source source.Source
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the engine with the configured handlers",
		Long: fmt.Sprintf(`Start rover with the handlers listed in the configuration.

Handlers are built in configuration order and validated; broken ones are
excluded and logged. The submission and comment streams are read until
SIGINT or SIGTERM, after which the current items finish, the daily counters
are flushed and rover exits.

Handler types: %s

Example:
  rover run --config rover.yaml
  rover run --config rover.yaml --db /var/lib/rover/rover.db --verbose`, strings.Join(plugins.Types(), ", ")),
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRover(opts, cmd)
		},
	}

	return cmd
}

func runRover(opts *RunOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	log := logger.Setup(cmd.ErrOrStderr(), cfg, opts.Verbose)

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	tel, err := telemetry.Setup(ctx, cfg.OTel)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to set up telemetry", err)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer scancel()
		if err := tel.Shutdown(sctx); err != nil {
			log.Error("telemetry shutdown failed", "error", err)
		}
	}()

	log.Info("opening database", "path", cfg.Database.Path)
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	src, closeSource, err := openSource(ctx, cfg, opts.Source, log)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to open item source", err)
	}
	defer func() {
		if closeErr := closeSource(); closeErr != nil {
			log.Error("error closing item source", "error", closeErr)
		}
	}()

	sessions, _ := src.(source.Sessions)
	reg, err := handler.NewRegistry(ctx, st, buildCandidates(cfg.Handlers, plugins.Builtin(), sessions), handler.Deps{
		Deferrer: st,
		Bans:     st,
		Logger:   log,
	})
	if err != nil {
		return WrapExitError(ExitFailure, "failed to build handlers", err)
	}

	m := metrics.New()
	engineOpts, err := engineOptions(cfg, log, m)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid engine configuration", err)
	}
	eng, err := engine.New(ctx, st, src, reg, engineOpts...)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to start engine", err)
	}

	adminErr := make(chan error, 1)
	if cfg.Admin.Addr != "" {
		router := admin.NewRouter(st, m, log)
		go func() {
			if err := admin.Serve(ctx, cfg.Admin.Addr, router, log); err != nil {
				log.Error("admin server failed", "addr", cfg.Admin.Addr, "error", err)
				adminErr <- err
				cancel()
			}
		}()
	}

	log.Info("engine starting", "handlers", reg.Names(), "source", cfg.Source.Type)
	fmt.Fprintf(cmd.OutOrStdout(), "Rover started with %d handler(s): %s\n", reg.Len(), strings.Join(reg.Names(), ", "))
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	if err := eng.Run(ctx); err != nil {
		return WrapExitError(ExitFailure, "engine error", err)
	}

	select {
	case err := <-adminErr:
		return WrapExitError(ExitFailure, "admin server error", err)
	default:
	}
	log.Info("engine stopped gracefully")
	return nil
}

// openSource returns the item source selected by cfg, or override when set.
// The returned func releases the source's resources.
func openSource(ctx context.Context, cfg config.Config, override source.Source, log *slog.Logger) (source.Source, func() error, error) {
	noop := func() error { return nil }
	if override != nil {
		return override, noop, nil
	}

	switch cfg.Source.Type {
	case "memory":
		return source.NewMemory(), noop, nil
	case "redis":
		client, r, err := newRedisSource(cfg.Source.Redis, log)
		if err != nil {
			return nil, nil, err
		}
		if err := r.Ping(ctx); err != nil {
			client.Close()
			return nil, nil, err
		}
		return r, client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown source type %q", cfg.Source.Type)
	}
}

func newRedisSource(cfg config.RedisConfig, log *slog.Logger) (*redis.Client, *source.Redis, error) {
	redisOpts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)
	return client, source.NewRedis(client, source.RedisConfig{
		Prefix:   cfg.Prefix,
		Group:    cfg.Group,
		Consumer: cfg.Consumer,
		Block:    cfg.Block.Std(),
	}, log), nil
}

// buildCandidates turns the configured handler list into registry
// candidates, in order. Handlers with a username option get a session from
// sessions.
func buildCandidates(hcs []config.HandlerConfig, factories map[string]handler.Factory, sessions source.Sessions) []handler.Candidate {
	known := strings.Join(slices.Sorted(maps.Keys(factories)), ", ")
	candidates := make([]handler.Candidate, 0, len(hcs))
	for _, hc := range hcs {
		factory, ok := factories[hc.Type]
		if !ok {
			typ := hc.Type
			factory = func(handler.Deps) (handler.Handler, error) {
				return nil, fmt.Errorf("unknown handler type %q (known: %s)", typ, known)
			}
		}
		c := handler.Candidate{Name: hc.Name, Factory: factory, Options: hc.Options}
		if u := hc.Username(); u != "" && sessions != nil {
			c.Session = sessions.Session(u)
		}
		candidates = append(candidates, c)
	}
	return candidates
}

// engineOptions maps the engine configuration onto engine options.
func engineOptions(cfg config.Config, log *slog.Logger, m *metrics.Metrics) ([]engine.Option, error) {
	sched, err := config.ParseSchedule(cfg.Engine.Schedule)
	if err != nil {
		return nil, fmt.Errorf("engine.schedule: %w", err)
	}
	rc := cfg.Engine.Retry
	return []engine.Option{
		engine.WithSchedule(sched),
		engine.WithRetryPolicy(engine.RetryPolicy{
			MaxAttempts:     rc.MaxAttempts,
			InitialInterval: rc.InitialInterval.Std(),
			Multiplier:      rc.Multiplier,
			MaxInterval:     rc.MaxInterval.Std(),
		}),
		engine.WithCallTimeout(cfg.Engine.CallTimeout.Std()),
		engine.WithRetention(cfg.Engine.Retention.Std()),
		engine.WithErrorPause(cfg.Engine.ErrorPause.Std()),
		engine.WithMarkRead(cfg.Engine.MarkRead),
		engine.WithLogger(log),
		engine.WithMetrics(m),
	}, nil
}
