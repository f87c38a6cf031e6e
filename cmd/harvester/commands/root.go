package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"parcelharvest/internal/components/telemetry"
	"parcelharvest/internal/harvest"

	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "harvester.json5", "The config file, harvester.local.json5 next to it overrides it.")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output and dump HTTP exchanges to .dev/resty.")
}

var rootCmd = &cobra.Command{
	Use:   "harvester",
	Short: "harvester incrementally harvests the county property records portal into a database.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(os.Stderr, verbose)
		if verbose {
			slog.Debug("verbose logging enabled")
		}
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func ExecuteContext(ctx context.Context) {
	err := rootCmd.ExecuteContext(ctx)
	if errors.Is(err, harvest.ErrLimitReached) {
		slog.Info("limit reached")
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
