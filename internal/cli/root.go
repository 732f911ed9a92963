package cli

import (
	"log/slog"
	"os"

	"github.com/me/framesched/internal/logging"
	"github.com/spf13/cobra"
)

var (
	flagServer    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string
	flagConfig    string

	logger *slog.Logger
	client *Client
)

// defaultServer returns the default API URL, checking FRAMESCHED_SERVER env var first.
func defaultServer() string {
	if s := os.Getenv("FRAMESCHED_SERVER"); s != "" {
		return s
	}
	return "http://127.0.0.1:8090"
}

// NewRootCmd creates the root cobra command for the framesched CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "framesched",
		Short: "framesched: frame-synchronized job scheduler",
		Long:  "framesched runs a graph of jobs on core-pinned workers in fixed-rate cycles, and inspects running schedulers.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagDebug {
				flagLogLevel = "debug"
			}
			logger = logging.NewLoggerWithWriter(logging.ParseLevel(flagLogLevel), flagLogFormat, cmd.ErrOrStderr())
			client = NewClient(flagServer, logger)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagServer, "server", defaultServer(), "framesched API URL (or FRAMESCHED_SERVER env)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json, auto)")
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to a YAML config file")

	root.AddCommand(
		newRunCmd(),
		newStatsCmd(),
		newRateCmd(),
		newStopCmd(),
		newRunsCmd(),
		newVersionCmd(),
	)

	return root
}
