// Copyright (C) 2026 Tidemark Authors.
// See LICENSE for copying information.

package tablesync

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"tidemark.io/tidemark/mirror/catalog"
	"tidemark.io/tidemark/mirror/normalize"
	"tidemark.io/tidemark/mirror/source"
)

// incremental applies source updates newer than the high-water mark. Each
// changed row is compared column by column against the target and only the
// differing columns are updated, each row in its own transaction.
func (s *Synchronizer) incremental(ctx context.Context, log *zap.Logger, adapter source.Adapter, row *catalog.Row, cfg Config) (err error) {
	defer mon.Task()(&ctx)(&err)

	if row.LastSyncColumn == "" || row.LastSyncTime == nil {
		return nil
	}
	if !row.HasPK || len(row.PKColumns) == 0 {
		return nil
	}

	cursor := source.Cursor{
		KeyColumns: []string{row.LastSyncColumn},
		LastValues: []string{row.LastSyncTime.Format("2006-01-02 15:04:05")},
	}

	var updated int64
	for chunks := 0; chunks < cfg.MaxChunks; chunks++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk, next, err := adapter.ReadChunk(ctx, row.SchemaName, row.TableName, cursor, cfg.ChunkSize)
		if err != nil {
			if loopEnding(err) {
				log.Warn("incremental read failed, ending loop for this cycle", zap.Error(err))
				return nil
			}
			return err
		}
		if len(chunk.Rows) == 0 {
			break
		}

		for _, srcRow := range chunk.Rows {
			n, err := s.applyRowUpdate(ctx, row, chunk.Columns, srcRow)
			if err != nil {
				return err
			}
			updated += n
		}

		cursor = next
		if len(chunk.Rows) < cfg.ChunkSize {
			break
		}
	}
	if updated > 0 {
		log.Info("incremental updates applied", zap.Int64("updated", updated))
	}
	return nil
}

// applyRowUpdate updates a single target row when the normalized source
// values differ. Rows missing on the target are left to the bulk branch.
func (s *Synchronizer) applyRowUpdate(ctx context.Context, row *catalog.Row, columns []source.Column, srcRow source.Row) (int64, error) {
	pkValues := make([]string, len(row.PKColumns))
	for i, col := range row.PKColumns {
		pkValues[i] = srcRow[col]
	}

	current, found, err := s.target.SelectRow(ctx, row.TargetSchema(), row.TargetTable(), row.PKColumns, pkValues)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, nil
	}

	pkSet := make(map[string]bool, len(row.PKColumns))
	for _, col := range row.PKColumns {
		pkSet[strings.ToLower(col)] = true
	}

	assignments := make(map[string]string)
	for _, col := range columns {
		lower := strings.ToLower(col.Name)
		if pkSet[lower] {
			continue
		}
		value := normalize.Normalize(srcRow[col.Name], col.Type)
		if value.Kind() == normalize.KindDefault {
			continue
		}
		if current[lower] != value.Text() {
			assignments[col.Name] = value.SQL()
		}
	}
	if len(assignments) == 0 {
		return 0, nil
	}
	if err := s.target.UpdateRow(ctx, row.TargetSchema(), row.TargetTable(), row.PKColumns, pkValues, assignments); err != nil {
		return 0, err
	}
	return 1, nil
}

// reconcileDeletes walks the target's PK tuples page by page, probes the
// source for their continued existence, and deletes the ones that are gone.
func (s *Synchronizer) reconcileDeletes(ctx context.Context, log *zap.Logger, adapter source.Adapter, row *catalog.Row, cfg Config) (deleted int64, err error) {
	defer mon.Task()(&ctx)(&err)

	if !row.HasPK || len(row.PKColumns) == 0 {
		return 0, nil
	}

	start := time.Now()
	for offset := int64(0); ; offset += int64(cfg.ChunkSize) {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		if time.Since(start) > cfg.MaxTableTime {
			log.Error("delete reconciliation time budget exhausted",
				zap.Duration("budget", cfg.MaxTableTime))
			return deleted, nil
		}

		tuples, err := s.target.PKPage(ctx, row.TargetSchema(), row.TargetTable(), row.PKColumns, cfg.ChunkSize, offset)
		if err != nil {
			return deleted, err
		}
		if len(tuples) == 0 {
			return deleted, nil
		}

		existing, err := adapter.ExistsInSource(ctx, row.SchemaName, row.TableName, row.PKColumns, tuples, cfg.ChunkSize)
		if err != nil {
			if loopEnding(err) {
				log.Warn("existence probe failed, ending reconciliation for this cycle", zap.Error(err))
				return deleted, nil
			}
			return deleted, err
		}

		var missing [][]string
		for _, tuple := range tuples {
			if !existing[source.TupleKey(tuple)] {
				missing = append(missing, tuple)
			}
		}
		if len(missing) > 0 {
			n, err := s.target.BulkDelete(ctx, row.TargetSchema(), row.TargetTable(), row.PKColumns, missing)
			deleted += n
			if err != nil {
				return deleted, err
			}
		}

		if len(tuples) < cfg.ChunkSize {
			return deleted, nil
		}
	}
}
