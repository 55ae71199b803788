// Copyright (C) 2026 Tidemark Authors.
// See LICENSE for copying information.

// Package maintenance keeps the catalog healthy: it drops malformed and
// orphaned rows, deactivates NO_DATA tables, and normalizes the progress
// fields of rows an operator turned off.
package maintenance

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
	// Error is the default errs class for maintenance.
	Error = errs.Class("maintenance")

	mon = monkit.Package()
)

// OpenFunc opens a source adapter; swapped out in tests.
type OpenFunc func(ctx context.Context, log *zap.Logger, engine catalog.Engine, connString string) (source.Adapter, error)

// Catalog is the slice of the catalog store the chore needs.
type Catalog interface {
	Cleanup(ctx context.Context, probe catalog.ExistsProbe) error
	DeactivateNoData(ctx context.Context) (int64, error)
	NormalizeInactive(ctx context.Context) (int64, error)
	CountByStatus(ctx context.Context) (map[catalog.Status]int64, error)
}

// Chore runs the periodic maintenance pass.
type Chore struct {
	log     *zap.Logger
	catalog Catalog
	open    OpenFunc

	Loop *sync2.Cycle
}

// NewChore wires the maintenance chore. A nil open falls back to the real
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

// Run executes the maintenance loop until the context is canceled.
func (chore *Chore) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)
	return chore.Loop.Run(ctx, chore.RunOnce)
}

// Close stops the loop.
func (chore *Chore) Close() error {
	chore.Loop.Close()
	return nil
}

// RunOnce performs one maintenance pass and logs a status summary.
func (chore *Chore) RunOnce(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := chore.catalog.Cleanup(ctx, chore.probe); err != nil {
		chore.log.Error("catalog cleanup failed", zap.Error(err))
	}

	deactivated, err := chore.catalog.DeactivateNoData(ctx)
	if err != nil {
		chore.log.Error("deactivating NO_DATA rows failed", zap.Error(err))
	} else if deactivated > 0 {
		chore.log.Info("deactivated NO_DATA rows", zap.Int64("rows", deactivated))
	}

	normalized, err := chore.catalog.NormalizeInactive(ctx)
	if err != nil {
		chore.log.Error("normalizing inactive rows failed", zap.Error(err))
	} else if normalized > 0 {
		chore.log.Info("normalized inactive rows", zap.Int64("rows", normalized))
	}

	counts, err := chore.catalog.CountByStatus(ctx)
	if err != nil {
		chore.log.Warn("unable to count catalog statuses", zap.Error(err))
		return nil
	}
	fields := make([]zap.Field, 0, len(counts))
	for status, count := range counts {
		mon.IntVal("catalog_status_" + string(status)).Observe(count)
		fields = append(fields, zap.Int64(string(status), count))
	}
	chore.log.Info("catalog status summary", fields...)
	return nil
}

// probe verifies which catalog rows still exist on their source, one
// connection at a time.
func (chore *Chore) probe(ctx context.Context, engine catalog.Engine, connString string, tables []catalog.Key) (exists map[catalog.Key]bool, err error) {
	adapter, err := chore.open(ctx, chore.log, engine, connString)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, adapter.Close()) }()

	live, err := adapter.ListTables(ctx)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	liveSet := make(map[source.SchemaTable]bool, len(live))
	for _, table := range live {
		liveSet[table] = true
	}

	exists = make(map[catalog.Key]bool, len(tables))
	for _, key := range tables {
		exists[key] = liveSet[source.SchemaTable{Schema: key.SchemaName, Table: key.TableName}]
	}
	return exists, nil
}
