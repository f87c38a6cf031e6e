package commands

import (
	"os"
	"parcelharvest/internal/components/chrono"
	"parcelharvest/internal/components/telemetry"
	"parcelharvest/internal/db"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	historyType  string
	historyLimit int
)

func init() {
	historyCmd.Flags().StringVar(&historyType, "type", "", "Only show runs of this type, ex. update_since_last.")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "The number of entries to show.")
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history [--type RUN_TYPE] [--limit N]",
	Short: "Prints the run log, newest first.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig(configPath)
		if err != nil {
			return err
		}
		clock, err := chrono.NewStandardImpl()
		if err != nil {
			return err
		}

		database, err := db.OpenDB(cmd.Context(), cfg.Database)
		if err != nil {
			return err
		}
		defer database.Close()
		store := db.NewStore(database, clock, telemetry.SlogAPI{})

		records, err := store.History(cmd.Context(), historyType, historyLimit)
		if err != nil {
			return err
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Id", "Run type", "Start id", "Successful", "Date"})
		for _, r := range records {
			t.AppendRow(table.Row{
				r.Id,
				r.RunType,
				r.StartId,
				r.Successful,
				r.RunDate.In(clock.Location()).Format(time.DateTime),
			})
		}
		t.SetStyle(table.StyleRounded)
		t.Render()
		return nil
	},
}
