package commands

import (
	"errors"
	"log/slog"
	"parcelharvest/internal/components/chrono"
	"parcelharvest/internal/harvest"

	"github.com/spf13/cobra"
)

var daemonSchedule string

func init() {
	daemonCmd.Flags().StringVar(&daemonSchedule, "schedule", "", "A cron expression, defaults to the config's daemon.schedule.")
	addFilterFlags(daemonCmd)
	rootCmd.AddCommand(daemonCmd)
}

var daemonCmd = &cobra.Command{
	Use:   "daemon [--schedule CRON]",
	Short: "Harvests parcels sold since the last run on a schedule until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		opts, err := harvestOptions(a.config.Harvest)
		if err != nil {
			return err
		}
		schedule := a.config.Daemon.Schedule
		if daemonSchedule != "" {
			schedule = daemonSchedule
		}

		// one orchestrator for the daemon's lifetime so the recently
		// harvested parcels carry over between ticks
		o := a.orchestrator(opts)

		cron := chrono.NewStandardCron(a.time, a.tel)
		defer cron.Stop()

		err = cron.Cron(schedule, func() {
			o.ResetStats()
			err := o.UpdateSinceLastRun(ctx)
			if err != nil && !errors.Is(err, harvest.ErrLimitReached) {
				slog.Error("scheduled update failed", "err", err)
				return
			}
			reportStats(o)
		})
		if err != nil {
			return err
		}

		slog.Info("daemon started", "schedule", schedule)
		<-ctx.Done()
		slog.Info("daemon stopping")
		return nil
	},
}
