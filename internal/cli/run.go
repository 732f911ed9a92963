package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/me/framesched/internal/config"
	"github.com/me/framesched/internal/logging"
	"github.com/me/framesched/internal/scheduler"
	"github.com/me/framesched/internal/server"
	"github.com/me/framesched/internal/store"
	"github.com/me/framesched/internal/telemetry"
	"github.com/me/framesched/internal/workload"
	"github.com/me/framesched/internal/world"
	"github.com/me/framesched/pkg/model"
)

type runFlags struct {
	fps         int
	workers     int
	cores       int
	detached    bool
	noPin       bool
	addr        string
	noServer    bool
	db          string
	noTelemetry bool
	duration    time.Duration
	scriptLimit time.Duration
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler with the configured workload",
		Long: `Run starts the scheduler, schedules the workload from --config and serves
the telemetry API until interrupted (SIGINT/SIGTERM), stopped via the API, or
--duration elapses.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadRunConfig(cmd, f)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			if !cmd.Flags().Changed("log-level") && !flagDebug && cfg.Log.Level != "" {
				flagLogLevel = cfg.Log.Level
			}
			if !cmd.Flags().Changed("log-format") && cfg.Log.Format != "" {
				flagLogFormat = cfg.Log.Format
			}
			logger = logging.NewLoggerWithWriter(logging.ParseLevel(flagLogLevel), flagLogFormat, cmd.ErrOrStderr())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if f.duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, f.duration)
				defer cancel()
			}

			sum, err := runScheduler(ctx, cfg, f.scriptLimit)
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), sum)
			return nil
		},
	}

	cmd.Flags().IntVar(&f.fps, "fps", 0, "Target cycles per second (0 = config or 60)")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "Worker count (0 = config or one per core)")
	cmd.Flags().IntVar(&f.cores, "cores", 0, "Core count override (0 = all)")
	cmd.Flags().BoolVar(&f.detached, "detached", false, "Run the arbiter on its own core")
	cmd.Flags().BoolVar(&f.noPin, "no-pin", false, "Do not pin workers to cores")
	cmd.Flags().StringVar(&f.addr, "addr", "", "Telemetry API listen address")
	cmd.Flags().BoolVar(&f.noServer, "no-server", false, "Disable the telemetry API")
	cmd.Flags().StringVar(&f.db, "db", "", "Telemetry database path (default ~/.framesched/framesched.db)")
	cmd.Flags().BoolVar(&f.noTelemetry, "no-telemetry", false, "Disable rate sampling and persistence")
	cmd.Flags().DurationVar(&f.duration, "duration", 0, "Stop after this long (0 = run until stopped)")
	cmd.Flags().DurationVar(&f.scriptLimit, "script-timeout", 50*time.Millisecond, "Interrupt script runs that take longer")
	return cmd
}

// loadRunConfig reads --config over the defaults and applies flag overrides.
func loadRunConfig(cmd *cobra.Command, f runFlags) (config.Config, error) {
	cfg := config.Default()
	if flagConfig != "" {
		loaded, err := config.Load(flagConfig)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("fps") {
		cfg.Scheduler.FPS = f.fps
	}
	if flags.Changed("workers") {
		cfg.Scheduler.Workers = f.workers
	}
	if flags.Changed("cores") {
		cfg.Scheduler.Cores = f.cores
	}
	if flags.Changed("detached") {
		cfg.Scheduler.Detached = f.detached
	}
	if f.noPin {
		cfg.Scheduler.PinThreads = false
	}
	if flags.Changed("addr") {
		cfg.Server.Addr = f.addr
	}
	if f.noServer {
		cfg.Server.Enabled = false
	}
	if flags.Changed("db") {
		cfg.Telemetry.DBPath = f.db
	}
	if f.noTelemetry {
		cfg.Telemetry.Enabled = false
	}
	return cfg, nil
}

// runSummary is what run prints once the scheduler has drained.
type runSummary struct {
	RunID   string
	Cycles  uint64
	Elapsed time.Duration
	Stats   model.RunnerStats
	Counter int64
	Lost    uint64
}

// runScheduler wires the world, workload, telemetry and API, and blocks
// until the scheduler stops.
func runScheduler(ctx context.Context, cfg config.Config, scriptTimeout time.Duration) (runSummary, error) {
	var sum runSummary

	w, err := world.New(cfg.Scheduler, logger)
	if err != nil {
		return sum, err
	}
	wl, err := workload.Build(w, cfg.Workload.Jobs, workload.Options{ScriptTimeout: scriptTimeout}, logger)
	if err != nil {
		return sum, fmt.Errorf("build workload: %w", err)
	}

	var (
		rec   *telemetry.Recorder
		st    store.Store
		runID = "run_" + uuid.New().String()
	)
	if cfg.Telemetry.Enabled {
		rec = telemetry.NewRecorder(w.Runner(), cfg.Telemetry.Capacity, cfg.Telemetry.ReportInterval, logger)
		if err := w.Schedule(scheduler.NewJob("telemetry", rec)); err != nil {
			return sum, fmt.Errorf("schedule recorder: %w", err)
		}

		dbPath, err := cfg.Telemetry.ResolveDBPath()
		if err != nil {
			return sum, err
		}
		sqlite, err := store.NewSQLiteStore(dbPath, logger)
		if err != nil {
			return sum, fmt.Errorf("open database: %w", err)
		}
		defer sqlite.Close()
		if err := sqlite.Migrate(ctx); err != nil {
			return sum, fmt.Errorf("migrate database: %w", err)
		}
		logger.Info("database ready", "path", dbPath)
		st = sqlite
	}

	host, _ := os.Hostname()
	started := time.Now()
	if st != nil {
		err := st.CreateRun(ctx, &model.Run{
			ID:         runID,
			Host:       host,
			Workers:    cfg.Scheduler.Workers,
			FrameDelay: cfg.Scheduler.FrameDelay(),
			StartedAt:  started,
		})
		if err != nil {
			return sum, fmt.Errorf("record run: %w", err)
		}
	}

	// runCtx ends when the scheduler stops for any reason, which in turn
	// shuts down the API and the flusher.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		defer cancel()
		if err := w.Start(gctx, cfg.Scheduler.Detached); err != nil && !isStopErr(err) {
			return fmt.Errorf("scheduler: %w", err)
		}
		if cfg.Scheduler.Detached {
			select {
			case <-w.Runner().Done():
			case <-gctx.Done():
			}
			w.Stop(false)
		}
		return nil
	})

	if cfg.Server.Enabled {
		opts := []server.Option{}
		if rec != nil {
			opts = append(opts, server.WithSamples(rec))
		}
		if st != nil {
			opts = append(opts, server.WithStore(st, runID))
		}
		srv := server.New(cfg.Server, w.Runner(), logger, opts...)
		httpServer := &http.Server{Addr: cfg.Server.Addr, Handler: srv.Handler()}

		g.Go(func() error {
			logger.Info("server starting", "addr", cfg.Server.Addr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	if st != nil {
		g.Go(func() error {
			return flushSamples(gctx, st, runID, rec, cfg.Telemetry.FlushInterval)
		})
	}

	if err := g.Wait(); err != nil {
		w.Stop(false)
		return sum, err
	}

	sum = runSummary{
		RunID:   runID,
		Cycles:  w.Runner().Cycles(),
		Elapsed: time.Since(started),
		Stats:   w.Runner().Stats(),
		Counter: wl.Counter(),
	}
	if rec != nil {
		sum.Lost = rec.Lost()
	}
	if st != nil {
		if err := st.FinishRun(context.Background(), runID, time.Now(), sum.Cycles); err != nil {
			logger.Error("record run end", "run_id", runID, "error", err)
		}
	}
	return sum, nil
}

// flushSamples periodically persists drained samples until ctx ends, then
// flushes once more.
func flushSamples(ctx context.Context, st store.Store, runID string, rec *telemetry.Recorder, every time.Duration) error {
	if every <= 0 {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	flush := func(ctx context.Context) {
		if err := st.RecordSamples(ctx, runID, rec.Drain()); err != nil {
			logger.Error("flush samples", "run_id", runID, "error", err)
		}
	}
	for {
		select {
		case <-ctx.Done():
			flush(context.Background())
			return nil
		case <-ticker.C:
			flush(ctx)
		}
	}
}

func isStopErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func printSummary(out io.Writer, sum runSummary) {
	fmt.Fprintf(out, "Run:      %s\n", sum.RunID)
	fmt.Fprintf(out, "  Cycles:  %s in %s\n", humanize.Comma(int64(sum.Cycles)), sum.Elapsed.Round(time.Millisecond))
	if sum.Elapsed > 0 {
		fmt.Fprintf(out, "  Rate:    %s cycles/s\n", humanize.FormatFloat("#,###.##", float64(sum.Cycles)/sum.Elapsed.Seconds()))
	}
	fmt.Fprintf(out, "  Dropped: %s\n", humanize.Comma(int64(sum.Stats.Dropped)))
	if sum.Counter > 0 {
		fmt.Fprintf(out, "  Counter: %s\n", humanize.Comma(sum.Counter))
	}
	if sum.Lost > 0 {
		fmt.Fprintf(out, "  Samples lost before flush: %s\n", humanize.Comma(int64(sum.Lost)))
	}
}
