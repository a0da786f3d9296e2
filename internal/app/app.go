// Package app wires the components together for the CLI and the
// server.
package app

import (
	"database/sql"
	"log/slog"

	"prunsync/internal/analytics"
	"prunsync/internal/cache"
	"prunsync/internal/config"
	"prunsync/internal/db"
	"prunsync/internal/events"
	"prunsync/internal/fio"
	"prunsync/internal/importer"
	"prunsync/internal/metrics"
	"prunsync/internal/migrate"
	"prunsync/internal/repo"
	"prunsync/internal/scheduler"
)

type App struct {
	Cfg       *config.Config
	DB        *sql.DB
	Repo      repo.Repo
	FIO       *fio.Client
	Cache     *cache.Store
	Events    *events.Writer
	Metrics   *metrics.Metrics
	Importer  *importer.Importer
	Analytics *analytics.Aggregator
	Scheduler *scheduler.Scheduler
	Log       *slog.Logger
}

// New opens the database, runs migrations and builds the component
// graph.
func New(cfg *config.Config, workspace string, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	conn, err := db.Open(db.Config{Path: cfg.Database.Path, Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}

	client, err := fio.NewClient(cfg.Upstream.BaseURL, cfg.Upstream.APIKey, log)
	if err != nil {
		conn.Close()
		return nil, err
	}

	r := repo.Repo{DB: conn}
	store := cache.New(log)
	ev := events.NewWriter(conn, log)
	m := metrics.New()
	im := importer.New(conn, r, client, store, log)
	agg := analytics.New(r, store, log)
	sched := scheduler.New(cfg, r, im, agg, ev, m, store, log)

	return &App{
		Cfg:       cfg,
		DB:        conn,
		Repo:      r,
		FIO:       client,
		Cache:     store,
		Events:    ev,
		Metrics:   m,
		Importer:  im,
		Analytics: agg,
		Scheduler: sched,
		Log:       log,
	}, nil
}

func (a *App) Close() error {
	a.Cache.Close()
	return a.DB.Close()
}
