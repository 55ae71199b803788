// Copyright (C) 2026 Tidemark Authors.
// See LICENSE for copying information.

package tablesync

import (
	"context"
	"time"

	"go.uber.org/zap"
	"storj.io/common/sync2"

	"tidemark.io/tidemark/mirror/catalog"
	"tidemark.io/tidemark/mirror/settings"
	"tidemark.io/tidemark/mirror/source"
	"tidemark.io/tidemark/mirror/source/anysource"
)

// OpenFunc opens a source adapter; swapped out in tests.
type OpenFunc func(ctx context.Context, log *zap.Logger, engine catalog.Engine, connString string) (source.Adapter, error)

// ChoreCatalog extends Catalog with the listing the orchestrator needs.
type ChoreCatalog interface {
	Catalog
	ListActiveByEngine(ctx context.Context, engine catalog.Engine) ([]*catalog.Row, error)
}

// Settings yields the current tunables.
type Settings interface {
	Current() settings.Snapshot
}

// Chore is the replication orchestrator: each cycle it walks every engine's
// active catalog rows, smallest tables first, and hands each to the
// synchronizer. Tables sharing a connection share one adapter per cycle.
type Chore struct {
	log      *zap.Logger
	catalog  ChoreCatalog
	sync     *Synchronizer
	settings Settings
	open     OpenFunc

	Loop *sync2.Cycle
}

// NewChore wires the orchestrator. A nil open falls back to the real vendor
// adapters.
func NewChore(log *zap.Logger, cat ChoreCatalog, sync *Synchronizer, set Settings, open OpenFunc) *Chore {
	if open == nil {
		open = anysource.Open
	}
	return &Chore{
		log:      log,
		catalog:  cat,
		sync:     sync,
		settings: set,
		open:     open,
		Loop:     sync2.NewCycle(settings.Defaults().CycleSleep()),
	}
}

// Run executes replication cycles until the context is canceled.
func (chore *Chore) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)
	return chore.Loop.Run(ctx, chore.RunOnce)
}

// Close stops the loop.
func (chore *Chore) Close() error {
	chore.Loop.Close()
	return nil
}

// RunOnce processes one full replication cycle.
func (chore *Chore) RunOnce(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	snapshot := chore.settings.Current()
	chore.Loop.ChangeInterval(snapshot.CycleSleep())
	cfg := Config{ChunkSize: snapshot.ChunkSize}

	start := time.Now()
	var processed, failed int
	for _, engine := range catalog.Engines() {
		if err := ctx.Err(); err != nil {
			return err
		}
		done, bad := chore.syncEngine(ctx, engine, cfg)
		processed += done
		failed += bad
	}
	if processed > 0 || failed > 0 {
		chore.log.Info("replication cycle finished",
			zap.Int("tables", processed),
			zap.Int("failed", failed),
			zap.Duration("elapsed", time.Since(start)))
	}
	return nil
}

func (chore *Chore) syncEngine(ctx context.Context, engine catalog.Engine, cfg Config) (processed, failed int) {
	log := chore.log.With(zap.String("engine", string(engine)))

	rows, err := chore.catalog.ListActiveByEngine(ctx, engine)
	if err != nil {
		log.Error("unable to list active rows", zap.Error(err))
		return 0, 0
	}
	if len(rows) == 0 {
		return 0, 0
	}

	// rows arrive ordered by table size; adapters are shared per connection
	adapters := make(map[string]source.Adapter)
	defer func() {
		for _, adapter := range adapters {
			if err := adapter.Close(); err != nil {
				log.Warn("closing source failed", zap.Error(err))
			}
		}
	}()

	for _, row := range rows {
		if ctx.Err() != nil {
			return processed, failed
		}
		adapter, ok := adapters[row.ConnectionString]
		if !ok {
			adapter, err = chore.open(ctx, chore.log, engine, row.ConnectionString)
			if err != nil {
				log.Error("unable to open source",
					zap.String("schema", row.SchemaName),
					zap.String("table", row.TableName),
					zap.Error(err))
				failed++
				continue
			}
			adapters[row.ConnectionString] = adapter
		}
		if err := chore.sync.SyncTable(ctx, adapter, row, cfg); err != nil {
			failed++
			continue
		}
		processed++
	}
	return processed, failed
}
