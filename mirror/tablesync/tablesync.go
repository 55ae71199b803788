// Copyright (C) 2026 Tidemark Authors.
// See LICENSE for copying information.

// Package tablesync drives the per-table replication state machine. Each
// invocation takes one catalog row through reset, full load, incremental
// updates and delete reconciliation, and leaves the row in a terminal status
// for the cycle.
package tablesync

import (
	"context"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"tidemark.io/tidemark/mirror/catalog"
	"tidemark.io/tidemark/mirror/source"
	"tidemark.io/tidemark/shared/dbutil/pgutil"
)

var (
	// Error is the default errs class for the table synchronizer.
	Error = errs.Class("tablesync")

	mon = monkit.Package()
)

// Config bounds one table's work within a cycle.
type Config struct {
	ChunkSize    int
	MaxChunks    int
	MaxTableTime time.Duration
}

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 25000
	}
	if c.MaxChunks <= 0 {
		c.MaxChunks = 10000
	}
	if c.MaxTableTime <= 0 {
		c.MaxTableTime = 2 * time.Hour
	}
	return c
}

// Catalog is the slice of the catalog store the synchronizer mutates.
type Catalog interface {
	UpdateStatus(ctx context.Context, row *catalog.Row, status catalog.Status, progress int64) error
	ResetStatus(ctx context.Context, row *catalog.Row, status catalog.Status) error
	SetStatus(ctx context.Context, row *catalog.Row, status catalog.Status) error
	UpdateLastProcessedPK(ctx context.Context, row *catalog.Row, pk string) error
	UpdateOffset(ctx context.Context, row *catalog.Row, offset int64) error
}

// Target is the slice of the target writer the synchronizer drives.
type Target interface {
	TableExists(ctx context.Context, schema, table string) (bool, error)
	EnsureSchema(ctx context.Context, schema string) error
	EnsureTable(ctx context.Context, schema, table string, columns []source.Column, pkColumns []string) error
	Truncate(ctx context.Context, schema, table string) error
	Count(ctx context.Context, schema, table string) (int64, error)
	PKPage(ctx context.Context, schema, table string, pkColumns []string, limit int, offset int64) ([][]string, error)
	SelectRow(ctx context.Context, schema, table string, pkColumns, pkValues []string) (map[string]string, bool, error)
	UpdateRow(ctx context.Context, schema, table string, pkColumns, pkValues []string, assignments map[string]string) error
	BulkUpsert(ctx context.Context, schema, table string, columns []source.Column, rows []source.Row, chunkSize int) (int64, error)
	BulkDelete(ctx context.Context, schema, table string, pkColumns []string, tuples [][]string) (int64, error)
}

// Synchronizer replicates one table per invocation.
type Synchronizer struct {
	log     *zap.Logger
	catalog Catalog
	target  Target
}

// New wires a synchronizer.
func New(log *zap.Logger, cat Catalog, target Target) *Synchronizer {
	return &Synchronizer{log: log, catalog: cat, target: target}
}

// SyncTable runs one cycle of the state machine for a catalog row. A
// connectivity failure abandons the cycle with the status unchanged so the
// next cycle retries; any other failure marks the row ERROR.
func (s *Synchronizer) SyncTable(ctx context.Context, adapter source.Adapter, row *catalog.Row, cfg Config) (err error) {
	defer mon.Task()(&ctx)(&err)

	cfg = cfg.withDefaults()
	log := s.log.With(
		zap.String("schema", row.SchemaName),
		zap.String("table", row.TableName),
		zap.String("engine", string(row.Engine)),
	)

	err = s.sync(ctx, log, adapter, row, cfg)
	if err == nil {
		return nil
	}
	if pgutil.IsConnectivity(err) {
		log.Warn("cycle abandoned on connectivity failure, will retry", zap.Error(err))
		return nil
	}
	log.Error("table sync failed", zap.Error(err))
	if statusErr := s.catalog.SetStatus(ctx, row, catalog.StatusError); statusErr != nil {
		log.Error("unable to mark row as failed", zap.Error(statusErr))
	}
	return err
}

func (s *Synchronizer) sync(ctx context.Context, log *zap.Logger, adapter source.Adapter, row *catalog.Row, cfg Config) error {
	columns, err := adapter.DescribeColumns(ctx, row.SchemaName, row.TableName)
	if err != nil {
		return err
	}
	if len(columns) == 0 {
		return Error.New("source table %s.%s has no columns", row.SchemaName, row.TableName)
	}

	// A preserved cursor is meaningless when the target table itself is
	// gone; restart the load from scratch instead of resuming past rows
	// that no longer exist on the target.
	exists, err := s.target.TableExists(ctx, row.TargetSchema(), row.TargetTable())
	if err != nil {
		return err
	}
	if !exists && !progressIsZero(row) {
		log.Warn("target table is missing, restarting the load from scratch")
		row.ResetProgress()
		if err := s.catalog.ResetStatus(ctx, row, catalog.StatusFullLoad); err != nil {
			return err
		}
	}

	if err := s.target.EnsureSchema(ctx, row.TargetSchema()); err != nil {
		return err
	}
	if err := s.target.EnsureTable(ctx, row.TargetSchema(), row.TargetTable(), columns, row.PKColumns); err != nil {
		return err
	}

	switch row.Status {
	case catalog.StatusReset:
		log.Info("reset requested, truncating target")
		if err := s.target.Truncate(ctx, row.TargetSchema(), row.TargetTable()); err != nil {
			return err
		}
		row.ResetProgress()
		if err := s.catalog.ResetStatus(ctx, row, catalog.StatusFullLoad); err != nil {
			return err
		}

	case catalog.StatusPending:
		row.ResetProgress()
		if err := s.catalog.ResetStatus(ctx, row, catalog.StatusFullLoad); err != nil {
			return err
		}

	case catalog.StatusFullLoad:
		if progressIsZero(row) {
			log.Info("full load starting fresh, truncating target")
			if err := s.target.Truncate(ctx, row.TargetSchema(), row.TargetTable()); err != nil {
				return err
			}
		}
	}

	sourceCount, err := adapter.Count(ctx, row.SchemaName, row.TableName)
	if err != nil {
		return err
	}
	targetCount, err := s.target.Count(ctx, row.TargetSchema(), row.TargetTable())
	if err != nil {
		return err
	}

	switch {
	case sourceCount == 0 && targetCount == 0:
		return s.catalog.UpdateStatus(ctx, row, catalog.StatusNoData, 0)

	case sourceCount == 0:
		// transient source emptiness must not wipe the target; the cursor
		// is cleared so a repopulated source reloads from the beginning
		log.Info("source is empty but target is not, keeping target data")
		return s.catalog.ResetStatus(ctx, row, catalog.StatusListening)

	case sourceCount == targetCount:
		if err := s.incremental(ctx, log, adapter, row, cfg); err != nil {
			return err
		}
		if _, err := s.reconcileDeletes(ctx, log, adapter, row, cfg); err != nil {
			return err
		}
		return s.catalog.SetStatus(ctx, row, catalog.StatusListening)
	}

	if sourceCount < targetCount {
		deleted, err := s.reconcileDeletes(ctx, log, adapter, row, cfg)
		if err != nil {
			return err
		}
		log.Info("delete reconciliation finished",
			zap.Int64("deleted", deleted),
			zap.Int64("source_count", sourceCount),
			zap.Int64("target_count", targetCount))
		targetCount, err = s.target.Count(ctx, row.TargetSchema(), row.TargetTable())
		if err != nil {
			return err
		}
	}

	if sourceCount > targetCount {
		if err := s.bulkCopy(ctx, log, adapter, row, sourceCount, targetCount, cfg); err != nil {
			return err
		}
	}
	return s.catalog.SetStatus(ctx, row, catalog.StatusListening)
}

func progressIsZero(row *catalog.Row) bool {
	if row.LastProcessedPK != nil && *row.LastProcessedPK != "" {
		return false
	}
	return row.LastOffset == nil || *row.LastOffset == 0
}

// buildCursor shapes the resumable position from the row's strategy and
// persisted progress.
func buildCursor(row *catalog.Row) source.Cursor {
	cursor := source.Cursor{Strategy: row.Strategy}
	switch row.Strategy {
	case catalog.StrategyPK:
		cursor.KeyColumns = row.PKColumns
		if row.LastProcessedPK != nil {
			cursor = cursor.ParseToken(*row.LastProcessedPK)
		}
	case catalog.StrategyTemporalPK:
		if len(row.CandidateColumns) > 0 {
			cursor.KeyColumns = row.CandidateColumns[:1]
		}
		if row.LastProcessedPK != nil {
			cursor = cursor.ParseToken(*row.LastProcessedPK)
		}
	default:
		if row.LastOffset != nil {
			cursor.Offset = *row.LastOffset
		}
	}
	return cursor
}

// loopEnding reports errors that end the chunk loop for this table but are
// expected to clear by the next cycle: aborted transactions, broken
// connections and timeouts.
func loopEnding(err error) bool {
	return pgutil.IsTransactionAborted(err) || pgutil.IsConnectivity(err)
}
