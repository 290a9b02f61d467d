package main

import (
	"context"
	"log/slog"

	"github.com/quailyquaily/nightshift/db"
	"github.com/quailyquaily/nightshift/queue"
	"github.com/quailyquaily/nightshift/report"
	"github.com/quailyquaily/nightshift/results"
	"github.com/spf13/viper"
	"gorm.io/gorm"
)

// app is the storage every command needs.
type app struct {
	log     *slog.Logger
	store   *queue.Store
	queue   *queue.Queue
	results *results.Store
	reports *report.Generator
}

func openApp(ctx context.Context, log *slog.Logger) (*app, error) {
	cfg := dbConfigFromViper()
	gdb, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store := queue.NewStore(gdb, func(ctx context.Context) (*gorm.DB, error) {
		return db.Open(ctx, cfg)
	}, queue.StoreOptions{
		WriteAttempts: viper.GetInt("queue.write_retries"),
		Logger:        log,
	})

	reports, err := report.New(viper.GetString("report.dir"), report.WithLogger(log))
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return &app{
		log:     log,
		store:   store,
		queue:   queue.New(store, queue.WithLogger(log)),
		results: results.New(store, viper.GetString("results.dir"), results.WithLogger(log)),
		reports: reports,
	}, nil
}

func (a *app) Close() error {
	if a == nil || a.store == nil {
		return nil
	}
	return a.store.Close()
}
