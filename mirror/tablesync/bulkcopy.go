// Copyright (C) 2026 Tidemark Authors.
// See LICENSE for copying information.

package tablesync

import (
	"context"
	"time"

	"go.uber.org/zap"

	"tidemark.io/tidemark/mirror/catalog"
	"tidemark.io/tidemark/mirror/source"
)

// bulkCopy copies chunks from the source until the target catches up,
// persisting the cursor after every applied chunk so a crash resumes instead
// of restarting.
func (s *Synchronizer) bulkCopy(ctx context.Context, log *zap.Logger, adapter source.Adapter, row *catalog.Row, sourceCount, targetCount int64, cfg Config) (err error) {
	defer mon.Task()(&ctx)(&err)

	cursor := buildCursor(row)
	deadline := time.Now().Add(cfg.MaxTableTime)
	applied := targetCount

	for chunks := 0; ; chunks++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if chunks >= cfg.MaxChunks {
			log.Error("chunk ceiling reached, stopping with cursor preserved",
				zap.Int("chunks", chunks))
			return nil
		}
		if time.Now().After(deadline) {
			log.Error("table time budget exhausted, stopping with cursor preserved",
				zap.Duration("budget", cfg.MaxTableTime))
			return nil
		}

		chunk, next, err := adapter.ReadChunk(ctx, row.SchemaName, row.TableName, cursor, cfg.ChunkSize)
		if err != nil {
			if loopEnding(err) {
				log.Warn("chunk read failed, ending loop for this cycle", zap.Error(err))
				return nil
			}
			return err
		}
		if len(chunk.Rows) == 0 {
			return nil
		}

		n, err := s.target.BulkUpsert(ctx, row.TargetSchema(), row.TargetTable(), chunk.Columns, chunk.Rows, cfg.ChunkSize)
		if err != nil {
			if loopEnding(err) {
				log.Warn("chunk apply failed, ending loop for this cycle", zap.Error(err))
				return nil
			}
			return err
		}
		applied += n
		cursor = next

		if len(cursor.KeyColumns) > 0 {
			err = s.catalog.UpdateLastProcessedPK(ctx, row, cursor.Token())
		} else {
			err = s.catalog.UpdateOffset(ctx, row, cursor.Offset)
		}
		if err != nil {
			return err
		}

		if len(chunk.Rows) < cfg.ChunkSize {
			return nil
		}
		if applied >= sourceCount {
			return nil
		}
	}
}
