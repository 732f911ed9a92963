package cli

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/me/framesched/pkg/model"
)

func newStatsCmd() *cobra.Command {
	var showWorkers bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show a running scheduler's statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get("/api/v1/stats")
			if err != nil {
				return fmt.Errorf("get stats: %w", err)
			}
			var st model.RunnerStats
			if err := resp.Decode(&st); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "State:       %s\n", st.State)
			fmt.Fprintf(out, "Cycles:      %s\n", humanize.Comma(int64(st.Cycles)))
			fmt.Fprintf(out, "Rate:        %s fps (target %s fps)\n",
				humanize.FormatFloat("#,###.#", st.Rate), humanize.FormatFloat("#,###.#", model.RateOf(st.FrameDelay)))
			fmt.Fprintf(out, "Cycle time:  %s (budget %s)\n", st.CycleDelta.Round(time.Microsecond), st.FrameDelay.Round(time.Microsecond))
			fmt.Fprintf(out, "Sub-cycles:  %d\n", st.SubCycles)
			fmt.Fprintf(out, "Workers:     %d\n", st.Workers)
			fmt.Fprintf(out, "Jobs:        %s\n", humanize.Comma(int64(st.Jobs)))
			fmt.Fprintf(out, "Dropped:     %s\n", humanize.Comma(int64(st.Dropped)))

			if !showWorkers {
				return nil
			}
			resp, err = client.Get("/api/v1/workers")
			if err != nil {
				return fmt.Errorf("get workers: %w", err)
			}
			var workers []model.WorkerStats
			if err := resp.Decode(&workers); err != nil {
				return err
			}
			fmt.Fprintln(out)
			fmt.Fprintf(out, "%-4s  %-4s  %-8s  %12s  %8s  %s\n", "ID", "CORE", "STATE", "EXECUTED", "FAILURES", "LAST")
			fmt.Fprintf(out, "%-4s  %-4s  %-8s  %12s  %8s  %s\n", "--", "----", "-----", "--------", "--------", "----")
			for _, ws := range workers {
				fmt.Fprintf(out, "%-4d  %-4d  %-8s  %12s  %8s  %s\n",
					ws.ID, ws.Core, workerState(ws), humanize.Comma(int64(ws.Executed)),
					humanize.Comma(int64(ws.Failures)), ws.LastElapsed.Round(time.Microsecond))
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&showWorkers, "workers", "w", false, "Also list the worker pool")
	return cmd
}

func workerState(ws model.WorkerStats) string {
	switch {
	case ws.Dead:
		return "dead"
	case !ws.Active:
		return "stopping"
	case ws.Awake:
		return "busy"
	}
	return "idle"
}
