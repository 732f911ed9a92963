package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/me/framesched/pkg/model"
)

func newRateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rate <fps|duration>",
		Short: "Change a running scheduler's target rate",
		Long:  "Rate takes a cycles-per-second count (0 selects 60) or a frame delay such as 8ms.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var req model.RateRequest
			if fps, err := strconv.Atoi(args[0]); err == nil {
				req.FPS = &fps
			} else {
				if _, err := time.ParseDuration(args[0]); err != nil {
					return fmt.Errorf("%q is neither a rate nor a duration", args[0])
				}
				req.FrameDelay = &args[0]
			}

			resp, err := client.Put("/api/v1/rate", req)
			if err != nil {
				return fmt.Errorf("set rate: %w", err)
			}
			var data struct {
				FrameDelay time.Duration `json:"frame_delay_ns"`
				FPS        float64       `json:"fps"`
			}
			if err := resp.Decode(&data); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Frame delay set to %s (%.1f fps)\n", data.FrameDelay, data.FPS)
			return nil
		},
	}
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Ask a running scheduler to stop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := client.Post("/api/v1/stop", nil); err != nil {
				return fmt.Errorf("stop: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Stop requested.")
			return nil
		},
	}
}
