package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kartikbazzad/bunbase/replicator/internal/config"
	"github.com/kartikbazzad/bunbase/replicator/internal/mapping"
	"github.com/kartikbazzad/bunbase/replicator/internal/postgres"
	"github.com/kartikbazzad/bunbase/replicator/internal/progress"
	"github.com/kartikbazzad/bunbase/replicator/internal/source/mongo"
	"github.com/kartikbazzad/bunbase/replicator/pkg/logger"
)

// app owns the connections opened by a command.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *postgres.DB
	oplog  *mongo.Oplog
	closer []func()
}

func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger.Init(cfg.Log)
	return &app{cfg: cfg, logger: logger.Get()}, nil
}

func (a *app) Close() {
	for i := len(a.closer) - 1; i >= 0; i-- {
		a.closer[i]()
	}
}

func (a *app) openPostgres(ctx context.Context) (*postgres.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	db, err := postgres.NewDB(ctx, a.cfg.Postgres)
	if err != nil {
		return nil, err
	}
	a.db = db
	a.closer = append(a.closer, db.Close)
	return db, nil
}

func (a *app) openMongo(ctx context.Context) (*mongo.Oplog, error) {
	if a.oplog != nil {
		return a.oplog, nil
	}
	o, err := mongo.Connect(ctx, a.cfg.Mongo)
	if err != nil {
		return nil, err
	}
	a.oplog = o
	a.closer = append(a.closer, func() {
		if err := o.Close(context.Background()); err != nil {
			a.logger.Warn("Failed to disconnect from mongo", "error", err)
		}
	})
	return o, nil
}

// openTracker opens the configured progress store and creates its table.
func (a *app) openTracker(ctx context.Context) (progress.Tracker, error) {
	var t progress.Tracker
	switch a.cfg.Progress.Driver {
	case config.DriverSQLite:
		s, err := progress.OpenSQLite(a.cfg.Progress.Path, a.cfg.Progress.Table)
		if err != nil {
			return nil, err
		}
		a.closer = append(a.closer, func() { _ = s.Close() })
		t = s
	default:
		db, err := a.openPostgres(ctx)
		if err != nil {
			return nil, err
		}
		t = progress.NewPostgres(db.Pool, a.cfg.Progress.Schema, a.cfg.Progress.Table)
	}
	if err := t.Init(ctx); err != nil {
		return nil, fmt.Errorf("init progress store: %w", err)
	}
	return t, nil
}

// tables builds one postgres.Table per configured namespace.
func (a *app) tables(db *postgres.DB) map[string]*postgres.Table {
	out := make(map[string]*postgres.Table, len(a.cfg.Namespaces))
	for _, ns := range a.cfg.Namespaces {
		out[ns.Namespace] = postgres.NewTable(db.Pool, ns.Schema, ns.Table)
	}
	return out
}

// memoryMapping maps every namespace to an in-process table.
func memoryMapping(namespaces []config.Namespace) (*mapping.Mapping, map[string]*mapping.Memory) {
	m := mapping.New()
	tables := make(map[string]*mapping.Memory, len(namespaces))
	for _, ns := range namespaces {
		t := mapping.NewMemory(ns.Table)
		m.Add(ns.Namespace, t)
		tables[ns.Namespace] = t
	}
	return m, tables
}
