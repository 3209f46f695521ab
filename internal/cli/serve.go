package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/framejobs/internal/buffer"
	"github.com/roach88/framejobs/internal/config"
	"github.com/roach88/framejobs/internal/dispatch"
	"github.com/roach88/framejobs/internal/engine"
	"github.com/roach88/framejobs/internal/journal"
	"github.com/roach88/framejobs/internal/logging"
	"github.com/roach88/framejobs/internal/metrics"
	"github.com/roach88/framejobs/internal/status"
	"github.com/roach88/framejobs/internal/timeline"
	"github.com/roach88/framejobs/internal/workers"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	Open []string // pipes to open streams on at startup
	Bind string   // overrides [status] bind
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve <timeline>",
		Short: "Run the planning service with a worker pool",
		Long: `Load a timeline, open calculation streams on the requested pipes and keep
them topped up while a worker pool runs their jobs. The status endpoint lists
streams, stops them and exposes Prometheus metrics.

Stops on SIGINT or SIGTERM. Jobs still queued are reported as failed.`,
		Example: `  framejobs serve timeline.cue --open video --open audio
  framejobs serve timeline.cue --open video --bind 127.0.0.1:9090`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, rootOpts, opts, args[0])
		},
	}

	cmd.Flags().StringArrayVar(&opts.Open, "open", nil, "open a stream on this pipe (repeatable)")
	cmd.Flags().StringVar(&opts.Bind, "bind", "", "status endpoint address (default from config)")

	return cmd
}

func runServe(ctx context.Context, rootOpts *RootOptions, opts *ServeOptions, path string) error {
	cfg, cfgPath, found, err := config.Load(rootOpts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "load config", err)
	}
	level := cfg.Log.Level
	if rootOpts.Verbose {
		level = "debug"
	}
	log := logging.Install(level, cfg.Log.Format, os.Stderr)
	if found {
		log.Info("config loaded", "path", cfgPath)
	}

	jr, err := openJournal(ctx, cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "open journal", err)
	}
	if jr != nil {
		defer jr.Close()
	}

	var rec buffer.Recorder
	if jr != nil {
		rec = jr
	}
	provider := cfg.BufferProvider(rec)

	tl, err := timeline.LoadAndBuild(path, provider)
	if err != nil {
		return WrapExitError(ExitCommandError, "load timeline", err)
	}

	met := metrics.New()
	pool := workers.New(cfg.Workers.Count, cfg.Workers.QueueSize, workers.WithLogger(log))

	svcOpts := []engine.Option{
		engine.WithLogger(log),
		engine.WithMetrics(met),
		engine.WithLookAheadChunks(cfg.Engine.LookAheadChunks),
		engine.WithTickInterval(cfg.TickInterval()),
		engine.WithStreamIDs(engine.UUIDv7Generator{}),
	}
	if jr != nil {
		last, err := jr.LastSeq(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "read journal sequence", err)
		}
		svcOpts = append(svcOpts, engine.WithJournal(jr), engine.WithSequence(engine.NewClockAt(last)))
	}
	svc := engine.New(tl.Dispatcher(dispatch.WithChunkLimit(cfg.Engine.ChunkLimitFrames)), pool, svcOpts...)

	if err := pool.Start(ctx, svc.JobFinished); err != nil {
		return err
	}
	defer func() {
		pool.Stop(svc.JobFinished)
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		svc.Close(closeCtx)
	}()

	for _, pipe := range opts.Open {
		if err := openStream(ctx, svc, tl, cfg, pipe); err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("open stream on %s", pipe), err)
		}
	}

	bind := cfg.Status.Bind
	if opts.Bind != "" {
		bind = opts.Bind
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- svc.Run(runCtx) }()

	log.Info("serving", "timeline", tl.Name, "bind", bind, "workers", cfg.Workers.Count, "streams", len(opts.Open))
	srvErr := status.New(svc, provider, met, log).ListenAndServe(runCtx, bind)

	cancel()
	runErr := <-errc
	if srvErr != nil {
		return srvErr
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	log.Info("stopped", "in_flight", svc.InFlight(), "finished", pool.Finished())
	return nil
}

// openJournal opens the configured journal, or returns nil when journaling
// is disabled.
func openJournal(ctx context.Context, cfg *config.Config) (*journal.Journal, error) {
	if !cfg.Journal.Enabled {
		return nil, nil
	}
	if cfg.Journal.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Journal.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}
	slog.DebugContext(ctx, "opening journal", "path", cfg.Journal.Path)
	return journal.Open(cfg.Journal.Path)
}

func openStream(ctx context.Context, svc *engine.Service, tl *timeline.Timeline, cfg *config.Config, pipe string) error {
	p, ok := tl.Port(pipe)
	if !ok {
		return fmt.Errorf("unknown pipe %q", pipe)
	}
	timings, err := cfg.Timings(time.Now())
	if err != nil {
		return err
	}
	_, err = svc.Calculate(ctx, p, timings, engine.OutputConnection{Sink: "serve"}, cfg.Quality())
	return err
}
