package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/me/framesched/internal/config"
	"github.com/me/framesched/internal/store"
	"github.com/me/framesched/pkg/model"
)

func newRunsCmd() *cobra.Command {
	var (
		dbPath string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "runs [run_id]",
		Short: "List recorded runs, or show one run's recent samples",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default().Telemetry
			if flagConfig != "" {
				loaded, err := config.Load(flagConfig)
				if err != nil {
					return err
				}
				cfg = loaded.Telemetry
			}
			if dbPath != "" {
				cfg.DBPath = dbPath
			}
			path, err := cfg.ResolveDBPath()
			if err != nil {
				return err
			}

			st, err := store.NewSQLiteStore(path, logger)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer st.Close()
			ctx := cmd.Context()
			if err := st.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate database: %w", err)
			}

			opts := model.ListOptions{Limit: limit}
			if len(args) == 1 {
				return showRun(ctx, cmd, st, args[0], opts)
			}
			return listRuns(ctx, cmd, st, opts)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "Telemetry database path (default ~/.framesched/framesched.db)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum rows to show")
	return cmd
}

func listRuns(ctx context.Context, cmd *cobra.Command, st store.Store, opts model.ListOptions) error {
	runs, total, err := st.ListRuns(ctx, opts)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return nil
	}

	fmt.Fprintf(out, "%-40s  %-16s  %12s  %8s  %s\n", "ID", "STARTED", "CYCLES", "TARGET", "DURATION")
	fmt.Fprintf(out, "%-40s  %-16s  %12s  %8s  %s\n", "--", "-------", "------", "------", "--------")
	for _, run := range runs {
		duration := "running"
		if run.StoppedAt != nil {
			duration = run.StoppedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(out, "%-40s  %-16s  %12s  %8s  %s\n",
			run.ID, humanize.Time(run.StartedAt), humanize.Comma(int64(run.Cycles)),
			fmt.Sprintf("%.0f fps", model.RateOf(run.FrameDelay)), duration)
	}
	if len(runs) < total {
		fmt.Fprintf(out, "\n(%d of %d shown)\n", len(runs), total)
	}
	return nil
}

func showRun(ctx context.Context, cmd *cobra.Command, st store.Store, id string, opts model.ListOptions) error {
	run, err := st.GetRun(ctx, id)
	if err != nil {
		return fmt.Errorf("get run: %w", err)
	}
	if run == nil {
		return model.NewNotFoundError("run", id)
	}
	samples, err := st.ListSamples(ctx, id, opts)
	if err != nil {
		return fmt.Errorf("list samples: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run:      %s\n", run.ID)
	fmt.Fprintf(out, "  Host:    %s\n", run.Host)
	fmt.Fprintf(out, "  Started: %s (%s)\n", run.StartedAt.Local().Format(time.DateTime), humanize.Time(run.StartedAt))
	fmt.Fprintf(out, "  Target:  %.0f fps\n", model.RateOf(run.FrameDelay))
	fmt.Fprintf(out, "  Cycles:  %s\n", humanize.Comma(int64(run.Cycles)))
	fmt.Fprintf(out, "  Samples: %s\n", humanize.Comma(int64(run.SampleCount)))
	if len(samples) == 0 {
		return nil
	}

	var sum float64
	overruns := 0
	for _, cs := range samples {
		sum += cs.Rate
		if cs.Overrun() {
			overruns++
		}
	}
	fmt.Fprintf(out, "  Last %d: mean %.1f fps, %d overruns\n", len(samples), sum/float64(len(samples)), overruns)
	return nil
}
