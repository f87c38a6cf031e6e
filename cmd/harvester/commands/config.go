package commands

import (
	"fmt"
	"parcelharvest/internal/components/configutil"
	"parcelharvest/internal/components/telemetry"
	"parcelharvest/internal/db"
	"parcelharvest/internal/harvest"
	"regexp"
	"time"
)

type PortalConfig struct {
	BaseUrl           string  `json:"base_url"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	TimeoutSeconds    int     `json:"timeout_seconds"`
	UserAgent         string  `json:"user_agent"`
}

type ArchiveConfig struct {
	// Dir is the badger directory, the archive is disabled when empty.
	Dir      string `json:"dir"`
	TtlHours int    `json:"ttl_hours"`
}

type HarvestConfig struct {
	LowerBounds       string   `json:"lower_bounds"`
	UpperBounds       string   `json:"upper_bounds"`
	Pattern           string   `json:"pattern"`
	SaveTables        []string `json:"save_tables"`
	Limit             int      `json:"limit"`
	BackoffSeconds    int      `json:"backoff_seconds"`
	OverlapDays       int      `json:"overlap_days"`
	FirstMunicipality int      `json:"first_municipality"`
	LastMunicipality  int      `json:"last_municipality"`
}

type DaemonConfig struct {
	Schedule string `json:"schedule"`
}

type Config struct {
	Portal    PortalConfig     `json:"portal"`
	Database  db.Config        `json:"database"`
	Archive   ArchiveConfig    `json:"archive"`
	Telemetry telemetry.Config `json:"telemetry"`
	Harvest   HarvestConfig    `json:"harvest"`
	Daemon    DaemonConfig     `json:"daemon"`
}

var defaultConfig = Config{
	Portal: PortalConfig{
		BaseUrl:           "https://propertyrecords.montcopa.org",
		RequestsPerSecond: 2,
		TimeoutSeconds:    30,
	},
	Database: db.Config{
		File: "parcels.db",
	},
	Harvest: HarvestConfig{
		LowerBounds: harvest.DefaultLowerBounds,
		UpperBounds: harvest.DefaultUpperBounds,
	},
	Daemon: DaemonConfig{
		Schedule: "0 3 * * *",
	},
}

func readConfig(path string) (Config, error) {
	cfg, err := configutil.ReadOrDefault(path, defaultConfig)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return cfg, nil
}

func parseTables(names []string) ([]db.Table, error) {
	var tables []db.Table
	for _, name := range names {
		table, ok := db.ParseTable(name)
		if !ok {
			return nil, fmt.Errorf("unknown table '%s', expected one of %v", name, db.Tables)
		}
		tables = append(tables, table)
	}
	return tables, nil
}

// options turns the harvest section into orchestrator options, zero values
// fall back to the orchestrator's defaults.
func (c HarvestConfig) options() (harvest.Options, error) {
	opts := harvest.Options{
		Limit:             c.Limit,
		LowerBounds:       c.LowerBounds,
		UpperBounds:       c.UpperBounds,
		Backoff:           time.Duration(c.BackoffSeconds) * time.Second,
		Overlap:           time.Duration(c.OverlapDays) * 24 * time.Hour,
		FirstMunicipality: c.FirstMunicipality,
		LastMunicipality:  c.LastMunicipality,
	}
	if c.Pattern != "" {
		pattern, err := regexp.Compile(c.Pattern)
		if err != nil {
			return harvest.Options{}, fmt.Errorf("compile pattern: %w", err)
		}
		opts.Pattern = pattern
	}
	tables, err := parseTables(c.SaveTables)
	if err != nil {
		return harvest.Options{}, err
	}
	opts.SaveTables = tables
	return opts, nil
}
