// Copyright (C) 2026 Tidemark Authors.
// See LICENSE for copying information.

// Package mirror assembles the replication engine: the catalog store, the
// target writer, and the chores that discover, replicate and maintain the
// mirrored tables.
package mirror

import (
	"context"
	"database/sql"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tidemark.io/tidemark/mirror/catalog"
	"tidemark.io/tidemark/mirror/catalogsync"
	"tidemark.io/tidemark/mirror/lifecycle"
	"tidemark.io/tidemark/mirror/maintenance"
	"tidemark.io/tidemark/mirror/settings"
	"tidemark.io/tidemark/mirror/tablesync"
	"tidemark.io/tidemark/mirror/target"
)

var (
	// Error is the default errs class for the peer.
	Error = errs.Class("mirror")

	mon = monkit.Package()
)

// Peer is the replication process: one database handle, the shared stores,
// and the worker chores.
//
// architecture: Peer
type Peer struct {
	Log *zap.Logger
	DB  *sql.DB

	Services *lifecycle.Group

	Settings *settings.Store
	Catalog  *catalog.Store
	Target   *target.Writer

	CatalogSync  *catalogsync.Chore
	Replication  *tablesync.Chore
	Maintenance  *maintenance.Chore
	Synchronizer *tablesync.Synchronizer
}

// New assembles the peer around an open handle to the target database.
func New(log *zap.Logger, db *sql.DB, config Config, atomicLevel zap.AtomicLevel) (*Peer, error) {
	peer := &Peer{
		Log:      log,
		DB:       db,
		Services: lifecycle.NewGroup(log.Named("services")),
	}

	{ // setup settings
		peer.Settings = settings.NewStore(log.Named("settings"), db, atomicLevel, config.SettingsReloadInterval)
		peer.Services.Add(lifecycle.Item{
			Name:  "settings",
			Run:   peer.Settings.Run,
			Close: peer.Settings.Close,
		})
	}

	{ // setup stores
		peer.Catalog = catalog.NewStore(log.Named("catalog"), db)
		peer.Target = target.NewWriter(log.Named("target"), db)
	}

	{ // setup catalog sync
		peer.CatalogSync = catalogsync.NewChore(log.Named("catalog-sync"), peer.Catalog, nil, config.CatalogSyncInterval)
		peer.Services.Add(lifecycle.Item{
			Name:  "catalog-sync",
			Run:   peer.CatalogSync.Run,
			Close: peer.CatalogSync.Close,
		})
	}

	{ // setup replication
		peer.Synchronizer = tablesync.New(log.Named("tablesync"), peer.Catalog, peer.Target)
		peer.Replication = tablesync.NewChore(log.Named("replication"), peer.Catalog, peer.Synchronizer, peer.Settings, nil)
		peer.Services.Add(lifecycle.Item{
			Name:  "replication",
			Run:   peer.Replication.Run,
			Close: peer.Replication.Close,
		})
	}

	{ // setup maintenance
		peer.Maintenance = maintenance.NewChore(log.Named("maintenance"), peer.Catalog, nil, config.MaintenanceInterval)
		peer.Services.Add(lifecycle.Item{
			Name:  "maintenance",
			Run:   peer.Maintenance.Run,
			Close: peer.Maintenance.Close,
		})
	}

	return peer, nil
}

// CheckVersion refuses to run when the metadata schema is behind the
// binary's migration steps.
func (peer *Peer) CheckVersion(ctx context.Context) error {
	migration := Migration()
	version, err := migration.CurrentVersion(ctx, peer.DB)
	if err != nil {
		return Error.Wrap(err)
	}
	wanted := migration.Steps[len(migration.Steps)-1].Version
	if version < wanted {
		return Error.New("metadata schema version %d is behind %d, run setup", version, wanted)
	}
	return nil
}

// Run loads the initial settings snapshot and runs all chores until the
// context is canceled or a chore fails.
func (peer *Peer) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := peer.CheckVersion(ctx); err != nil {
		return err
	}
	if err := peer.Settings.Reload(ctx); err != nil {
		peer.Log.Warn("initial settings load failed, using defaults", zap.Error(err))
	}

	group, ctx := errgroup.WithContext(ctx)
	peer.Services.Run(ctx, group)
	return group.Wait()
}

// Close releases all resources.
func (peer *Peer) Close() error {
	return peer.Services.Close()
}
