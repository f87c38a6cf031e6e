package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"parcelharvest/internal/db"
	"parcelharvest/internal/harvest"
	"parcelharvest/internal/portal"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// filter flags shared by sequence and update, empty values keep the config's
var (
	lowerBounds string
	upperBounds string
	pattern     string
	saveTables  []string
	limit       int
)

func addFilterFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&lowerBounds, "lower-bounds", "A", "", "Skip parcel ids below this one.")
	cmd.Flags().StringVarP(&upperBounds, "upper-bounds", "Z", "", "Skip parcel ids above this one.")
	cmd.Flags().StringVarP(&pattern, "pattern", "p", "", "Only process parcel ids matching this regular expression.")
	cmd.Flags().StringArrayVarP(&saveTables, "save", "S", nil, "Only save this table (repeatable): properties, assessment_histories, sales_histories, residential_cards.")
	cmd.Flags().IntVarP(&limit, "limit", "l", 0, "Stop after processing this many parcels (sequence: saved summary rows).")
}

// harvestOptions layers the filter flags over the config file.
func harvestOptions(cfg HarvestConfig) (harvest.Options, error) {
	if lowerBounds != "" {
		cfg.LowerBounds = lowerBounds
	}
	if upperBounds != "" {
		cfg.UpperBounds = upperBounds
	}
	if pattern != "" {
		cfg.Pattern = pattern
	}
	if len(saveTables) > 0 {
		cfg.SaveTables = saveTables
	}
	if limit > 0 {
		cfg.Limit = limit
	}
	return cfg.options()
}

var (
	updateParcels        []string
	updateSinceLast      bool
	updateFrom           string
	updateRemaining      string
	updateSalesHistories bool
	updateCustom         bool
)

func init() {
	updateCmd.Flags().StringSliceVar(&updateParcels, "parcel", nil, "Harvest these parcel ids (comma separated).")
	updateCmd.Flags().BoolVar(&updateSinceLast, "since-last", false, "Harvest parcels sold since the last successful run of this kind.")
	updateCmd.Flags().StringVar(&updateFrom, "from", "", "Harvest parcels sold since this date (YYYY-MM-DD).")
	updateCmd.Flags().StringVar(&updateRemaining, "remaining", "", "Harvest parcels still missing rows in this table.")
	updateCmd.Flags().BoolVar(&updateSalesHistories, "sales-histories", false, "Harvest parcels whose sales histories lack dates.")
	updateCmd.Flags().BoolVar(&updateCustom, "custom", false, "Complete every selected table in turn.")
	updateCmd.MarkFlagsMutuallyExclusive("parcel", "since-last", "from", "remaining", "sales-histories", "custom")
	updateCmd.MarkFlagsOneRequired("parcel", "since-last", "from", "remaining", "sales-histories", "custom")
	addFilterFlags(updateCmd)
	rootCmd.AddCommand(updateCmd)
}

// completeTables is the custom run: one remaining pass per selected table,
// properties first so later passes see fresh profile rows.
func completeTables(ctx context.Context, o *harvest.Orchestrator) error {
	tables := o.Options().SaveTables
	if len(tables) == 0 {
		tables = db.Tables
	}
	for _, table := range tables {
		slog.Info("completing table", "table", table)
		err := o.UpdateRemaining(ctx, table)
		if err != nil {
			return err
		}
	}
	return nil
}

func parseParcels(ids []string) ([]string, error) {
	var out []string
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if !portal.ValidIdentifier(id) {
			return nil, fmt.Errorf("'%s' is not a 12 digit parcel id", id)
		}
		out = append(out, id)
	}
	return out, nil
}

var updateCmd = &cobra.Command{
	Use:   "update (--parcel ID,... | --since-last | --from DATE | --remaining TABLE | --sales-histories | --custom)",
	Short: "Harvests full parcel details in one of several modes.",
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
		opts.Custom = completeTables

		// validate mode arguments before any run is logged
		var run func(o *harvest.Orchestrator) error
		switch {
		case len(updateParcels) > 0:
			ids, err := parseParcels(updateParcels)
			if err != nil {
				return err
			}
			run = func(o *harvest.Orchestrator) error { return o.UpdateParcels(ctx, ids) }
		case updateSinceLast:
			run = func(o *harvest.Orchestrator) error { return o.UpdateSinceLastRun(ctx) }
		case updateFrom != "":
			from, err := time.ParseInLocation("2006-01-02", updateFrom, a.time.Location())
			if err != nil {
				return fmt.Errorf("parse --from: %w", err)
			}
			run = func(o *harvest.Orchestrator) error { return o.UpdateFrom(ctx, from) }
		case updateRemaining != "":
			table, ok := db.ParseTable(updateRemaining)
			if !ok {
				return fmt.Errorf("unknown table '%s', expected one of %v", updateRemaining, db.Tables)
			}
			run = func(o *harvest.Orchestrator) error { return o.UpdateRemaining(ctx, table) }
		case updateSalesHistories:
			run = func(o *harvest.Orchestrator) error { return o.UpdateSalesHistories(ctx) }
		case updateCustom:
			run = func(o *harvest.Orchestrator) error { return o.Custom(ctx) }
		default:
			return errors.New("no update mode given")
		}

		o := a.orchestrator(opts)
		defer reportStats(o)
		return run(o)
	},
}
