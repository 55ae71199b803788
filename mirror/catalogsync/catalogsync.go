// Copyright (C) 2026 Tidemark Authors.
// See LICENSE for copying information.

// Package catalogsync discovers source tables and keeps the catalog's
// topology metadata current. It never touches status or progress fields;
// newly discovered tables land as inactive PENDING rows for an operator to
// activate.
package catalogsync

import (
	"context"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"storj.io/common/sync2"

	"tidemark.io/tidemark/mirror/catalog"
	"tidemark.io/tidemark/mirror/source"
	"tidemark.io/tidemark/mirror/source/anysource"
)

var (
	// Error is the default errs class for catalog sync.
	Error = errs.Class("catalogsync")

	mon = monkit.Package()
)

// OpenFunc opens a source adapter; swapped out in tests.
type OpenFunc func(ctx context.Context, log *zap.Logger, engine catalog.Engine, connString string) (source.Adapter, error)

// Catalog is the slice of the catalog store the chore needs.
type Catalog interface {
	DistinctConnections(ctx context.Context, engine catalog.Engine) ([]string, error)
	Get(ctx context.Context, key catalog.Key) (*catalog.Row, error)
	Insert(ctx context.Context, row *catalog.Row) error
	UpdateMetadata(ctx context.Context, row *catalog.Row) error
	ListByEngine(ctx context.Context, engine catalog.Engine) ([]*catalog.Row, error)
	UpdateClusterName(ctx context.Context, key catalog.Key, cluster string) error
}

// Chore periodically walks every known connection and reconciles the
// catalog with what the sources actually contain.
type Chore struct {
	log     *zap.Logger
	catalog Catalog
	open    OpenFunc

	Loop *sync2.Cycle
}

// NewChore wires the discovery chore. A nil open falls back to the real
// vendor adapters.
func NewChore(log *zap.Logger, cat Catalog, open OpenFunc, interval time.Duration) *Chore {
	if open == nil {
		open = anysource.Open
	}
	return &Chore{
		log:     log,
		catalog: cat,
		open:    open,
		Loop:    sync2.NewCycle(interval),
	}
}

// Run executes the discovery loop until the context is canceled.
func (chore *Chore) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)
	return chore.Loop.Run(ctx, chore.RunOnce)
}

// Close stops the loop.
func (chore *Chore) Close() error {
	chore.Loop.Close()
	return nil
}

// RunOnce performs one discovery pass over every engine, then backfills
// cluster names. A failing connection fails discovery for that connection
// only.
func (chore *Chore) RunOnce(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	for _, engine := range catalog.Engines() {
		if err := ctx.Err(); err != nil {
			return err
		}
		chore.syncEngine(ctx, engine)
	}
	chore.backfillClusters(ctx)
	return nil
}

func (chore *Chore) syncEngine(ctx context.Context, engine catalog.Engine) {
	log := chore.log.With(zap.String("engine", string(engine)))

	conns, err := chore.catalog.DistinctConnections(ctx, engine)
	if err != nil {
		log.Error("unable to list connections", zap.Error(err))
		return
	}

	for _, conn := range conns {
		adapter, err := chore.open(ctx, chore.log, engine, conn)
		if err != nil {
			log.Error("unable to open source", zap.Error(err))
			continue
		}
		if err := chore.discover(ctx, log, adapter, engine, conn); err != nil {
			log.Error("discovery failed for connection", zap.Error(err))
		}
		if err := adapter.Close(); err != nil {
			log.Warn("closing source failed", zap.Error(err))
		}
	}
}

// discover reconciles the catalog rows of one connection.
func (chore *Chore) discover(ctx context.Context, log *zap.Logger, adapter source.Adapter, engine catalog.Engine, conn string) (err error) {
	defer mon.Task()(&ctx)(&err)

	tables, err := adapter.ListTables(ctx)
	if err != nil {
		return err
	}

	var inserted, updated int
	for _, table := range tables {
		fresh, err := chore.inspect(ctx, adapter, engine, conn, table)
		if err != nil {
			log.Warn("unable to inspect table",
				zap.String("schema", table.Schema),
				zap.String("table", table.Table),
				zap.Error(err))
			continue
		}

		existing, err := chore.catalog.Get(ctx, fresh.Key())
		if catalog.ErrNotFound.Has(err) {
			if err := chore.catalog.Insert(ctx, fresh); err != nil {
				return err
			}
			inserted++
			continue
		}
		if err != nil {
			return err
		}
		if metadataDiffers(existing, fresh) {
			if err := chore.catalog.UpdateMetadata(ctx, fresh); err != nil {
				return err
			}
			updated++
		}
	}
	if inserted > 0 || updated > 0 {
		log.Info("catalog discovery pass finished",
			zap.Int("tables", len(tables)),
			zap.Int("inserted", inserted),
			zap.Int("updated", updated))
	}
	return nil
}

// inspect computes the topology metadata of one source table.
func (chore *Chore) inspect(ctx context.Context, adapter source.Adapter, engine catalog.Engine, conn string, table source.SchemaTable) (*catalog.Row, error) {
	columns, err := adapter.DescribeColumns(ctx, table.Schema, table.Table)
	if err != nil {
		return nil, err
	}
	pk, err := adapter.DetectPrimaryKey(ctx, table.Schema, table.Table)
	if err != nil {
		return nil, err
	}
	size, err := adapter.Count(ctx, table.Schema, table.Table)
	if err != nil {
		return nil, err
	}

	candidates := source.CandidateColumns(columns, pk)
	return &catalog.Row{
		SchemaName:       table.Schema,
		TableName:        table.Table,
		Engine:           engine,
		ConnectionString: conn,
		LastSyncColumn:   source.ChooseTimeColumn(columns),
		Status:           catalog.StatusPending,
		Strategy:         catalog.Classify(pk, candidates),
		PKColumns:        pk,
		CandidateColumns: candidates,
		HasPK:            len(pk) > 0,
		TableSize:        size,
		Active:           false,
	}, nil
}

func metadataDiffers(existing, fresh *catalog.Row) bool {
	return existing.LastSyncColumn != fresh.LastSyncColumn ||
		existing.Strategy != fresh.Strategy ||
		existing.HasPK != fresh.HasPK ||
		existing.TableSize != fresh.TableSize ||
		!equalStrings(existing.PKColumns, fresh.PKColumns) ||
		!equalStrings(existing.CandidateColumns, fresh.CandidateColumns)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
