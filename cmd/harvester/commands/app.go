package commands

import (
	"context"
	"fmt"
	"log/slog"
	"parcelharvest/internal/archive"
	"parcelharvest/internal/components/chrono"
	"parcelharvest/internal/components/telemetry"
	"parcelharvest/internal/db"
	"parcelharvest/internal/harvest"
	"parcelharvest/internal/portal"
	"time"
)

// app holds everything a command needs, built from the config file.
type app struct {
	config  Config
	time    chrono.StandardImpl
	tel     telemetry.API
	store   db.Store
	session *portal.Session
	archive *archive.Archive
	otel    telemetry.Otel

	closers []func() error
}

func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.otel.Shutdown(ctx); err != nil {
		slog.Warn("shutdown otel", "err", err)
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("close", "err", err)
		}
	}
}

// newApp opens the database, the archive and a portal session. The session
// does not touch the network until the first search.
func newApp(ctx context.Context, cfg Config) (*app, error) {
	clock, err := chrono.NewStandardImpl()
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}
	a := &app{
		config: cfg,
		time:   clock,
		tel:    telemetry.SlogAPI{},
	}

	a.otel, err = telemetry.Setup(ctx, "harvester", cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("setup otel: %w", err)
	}

	database, err := db.OpenDB(ctx, cfg.Database)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, database.Close)
	a.store = db.NewStore(database, a.time, a.tel)

	if cfg.Archive.Dir != "" {
		a.archive, err = archive.Open(cfg.Archive.Dir, time.Duration(cfg.Archive.TtlHours)*time.Hour, a.time)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open archive: %w", err)
		}
		a.closers = append(a.closers, a.archive.Close)
	}

	sessionOpts := portal.SessionOptions{
		BaseUrl:           cfg.Portal.BaseUrl,
		RequestsPerSecond: cfg.Portal.RequestsPerSecond,
		Timeout:           time.Duration(cfg.Portal.TimeoutSeconds) * time.Second,
		UserAgent:         cfg.Portal.UserAgent,
	}
	if verbose {
		dumps, err := telemetry.NewFilesystemOutput(".dev/resty")
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("create http dump dir: %w", err)
		}
		sessionOpts.Dumps = dumps
	}
	a.session, err = portal.NewSession(sessionOpts, a.tel)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, a.session.Reset)

	return a, nil
}

func (a *app) client(mode portal.Mode) *portal.Client {
	opts := portal.ClientOptions{Mode: mode}
	if a.archive != nil {
		opts.Archive = a.archive
	}
	return portal.NewClient(a.session, opts, a.time, a.tel)
}

// orchestrator builds an orchestrator over two clients sharing the app's
// session.
func (a *app) orchestrator(opts harvest.Options) *harvest.Orchestrator {
	return harvest.NewOrchestrator(
		a.client(portal.ParcelMode),
		a.client(portal.AdvancedMode),
		a.store,
		a.time,
		a.tel,
		opts,
	)
}

func reportStats(o *harvest.Orchestrator) {
	stats := o.Stats()
	slog.Info(
		"harvest finished",
		"processed", stats.Processed,
		"failed", stats.Failed,
		"skipped", stats.Skipped,
		"retries", stats.Retries,
	)
}

// openApp reads the config and builds the app, any error is fatal to the command.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := readConfig(configPath)
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cfg)
}
