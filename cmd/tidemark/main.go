// Copyright (C) 2026 Tidemark Authors.
// See LICENSE for copying information.

// Tidemark mirrors tables from MariaDB/MySQL, Microsoft SQL Server, MongoDB
// and PostgreSQL sources into a PostgreSQL target, driven entirely by the
// target's metadata schema.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"tidemark.io/tidemark/mirror"
)

var config = mirror.DefaultConfig()

func main() {
	root := &cobra.Command{
		Use:   "tidemark",
		Short: "continuous heterogeneous-source replication into PostgreSQL",
	}
	root.PersistentFlags().StringVar(&config.Database, "database",
		os.Getenv("TIDEMARK_DATABASE"), "DSN of the target PostgreSQL database")
	root.PersistentFlags().DurationVar(&config.CatalogSyncInterval, "catalog-sync-interval",
		config.CatalogSyncInterval, "how often source discovery runs")
	root.PersistentFlags().DurationVar(&config.MaintenanceInterval, "maintenance-interval",
		config.MaintenanceInterval, "how often catalog maintenance runs")
	root.PersistentFlags().DurationVar(&config.SettingsReloadInterval, "settings-reload-interval",
		config.SettingsReloadInterval, "how often metadata.config is re-read")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "run the replication engine",
			RunE:  cmdRun,
		},
		&cobra.Command{
			Use:   "setup",
			Short: "create or upgrade the metadata schema on the target",
			RunE:  cmdSetup,
		},
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() (*zap.Logger, zap.AtomicLevel) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.Lock(os.Stderr),
		level,
	)
	return zap.New(core), level
}

func openTarget(ctx context.Context) (*sql.DB, error) {
	if config.Database == "" {
		return nil, errs.New("--database (or TIDEMARK_DATABASE) is required")
	}
	db, err := sql.Open("pgx", config.Database)
	if err != nil {
		return nil, errs.Wrap(err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, errs.Combine(errs.Wrap(err), db.Close())
	}
	return db, nil
}

func cmdRun(cmd *cobra.Command, args []string) (err error) {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log, level := newLogger()
	defer func() { _ = log.Sync() }()

	db, err := openTarget(ctx)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, db.Close()) }()

	peer, err := mirror.New(log, db, config, level)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, peer.Close()) }()

	log.Info("tidemark starting")
	return peer.Run(ctx)
}

func cmdSetup(cmd *cobra.Command, args []string) (err error) {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log, _ := newLogger()
	defer func() { _ = log.Sync() }()

	db, err := openTarget(ctx)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, db.Close()) }()

	if err := mirror.Migration().Run(ctx, log.Named("migrate"), db); err != nil {
		return err
	}
	log.Info("metadata schema is up to date")
	return nil
}
