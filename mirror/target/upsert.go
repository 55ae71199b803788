// Copyright (C) 2026 Tidemark Authors.
// See LICENSE for copying information.

package target

import (
	"context"
	"database/sql"
	"strings"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"tidemark.io/tidemark/mirror/normalize"
	"tidemark.io/tidemark/mirror/source"
	"tidemark.io/tidemark/shared/dbutil/pgutil"
)

const (
	// statementTimeout bounds every bulk transaction on the target.
	statementTimeout = "SET statement_timeout = '600s'"

	// abortRecoveryCap bounds per-row retries after an aborted transaction.
	abortRecoveryCap = 100
	// dataErrorCap bounds per-row retries after a data error.
	dataErrorCap = 50
)

// BulkUpsert applies rows with INSERT ... ON CONFLICT DO UPDATE. The PK is
// re-read from the target; without one the rows are plain-inserted. Returns
// the number of rows applied.
func (w *Writer) BulkUpsert(ctx context.Context, schema, table string, columns []source.Column, rows []source.Row, chunkSize int) (applied int64, err error) {
	defer mon.Task()(&ctx)(&err)

	pk, err := w.PrimaryKey(ctx, schema, table)
	if err != nil {
		return 0, err
	}
	if len(pk) == 0 {
		return w.bulkApply(ctx, schema, table, columns, rows, chunkSize, nil)
	}
	return w.bulkApply(ctx, schema, table, columns, rows, chunkSize, pk)
}

// BulkInsert applies rows without conflict handling, for tables that have
// no PK on the target.
func (w *Writer) BulkInsert(ctx context.Context, schema, table string, columns []source.Column, rows []source.Row, chunkSize int) (applied int64, err error) {
	defer mon.Task()(&ctx)(&err)

	return w.bulkApply(ctx, schema, table, columns, rows, chunkSize, nil)
}

// bulkApply runs the sub-batched insert protocol. Sub-batches are applied
// inside one transaction; an aborted transaction drains the failing batch
// row by row in fresh transactions, a data error drains it row by row under
// savepoints in the same transaction, and anything else fails the call.
func (w *Writer) bulkApply(ctx context.Context, schema, table string, columns []source.Column, rows []source.Row, chunkSize int, pk []string) (applied int64, err error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := w.beginBulk(ctx)
	if err != nil {
		return 0, err
	}
	committed := false
	defer func() {
		if !committed && tx != nil {
			_ = tx.Rollback()
		}
	}()

	batchSize := source.ExistsBatchSize(chunkSize)
	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]
		stmt := buildInsert(schema, table, columns, batch, pk)

		if _, err := tx.ExecContext(ctx, "SAVEPOINT batch"); err != nil {
			return applied, Error.Wrap(err)
		}
		_, execErr := tx.ExecContext(ctx, stmt)
		if execErr == nil {
			if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT batch"); err != nil {
				return applied, Error.Wrap(err)
			}
			applied += int64(len(batch))
			continue
		}

		switch {
		case w.aborted(execErr):
			// The transaction is already dead; everything applied so far
			// rolls back with it, so re-apply from the beginning row by row.
			_ = tx.Rollback()
			tx = nil
			n, rowErr := w.rowByRowFresh(ctx, schema, table, columns, rows[:end], pk, batchSize)
			applied = n
			if rowErr != nil {
				return applied, rowErr
			}
			tx, err = w.beginBulk(ctx)
			if err != nil {
				return applied, err
			}

		case w.dataError(execErr):
			if _, err := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT batch"); err != nil {
				return applied, Error.Wrap(errs.Combine(execErr, err))
			}
			n, rowErr := w.rowByRowSameTx(ctx, tx, schema, table, columns, batch, pk)
			applied += n
			if rowErr != nil {
				return applied, rowErr
			}

		default:
			return applied, Error.Wrap(execErr)
		}
	}

	err = tx.Commit()
	committed = true
	if err != nil && w.aborted(err) {
		// the transaction was already drained row by row
		w.log.Debug("swallowing commit error after row-by-row recovery", zap.Error(err))
		return applied, nil
	}
	return applied, Error.Wrap(err)
}

func (w *Writer) beginBulk(ctx context.Context) (*sql.Tx, error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if _, err := tx.ExecContext(ctx, statementTimeout); err != nil {
		return nil, Error.Wrap(errs.Combine(err, tx.Rollback()))
	}
	return tx, nil
}

// execer is the statement surface shared by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// rowByRowFresh re-applies rows one at a time, each in its own transaction,
// skipping rows that fail individually. Used after the outer transaction
// aborted.
func (w *Writer) rowByRowFresh(ctx context.Context, schema, table string, columns []source.Column, rows []source.Row, pk []string, batchSize int) (applied int64, err error) {
	return replayFresh(ctx, w.log, w.db, schema, table, columns, rows, pk, batchSize)
}

// replayFresh walks the replayed prefix sub-batch by sub-batch. The skip cap
// is per sub-batch, so one poisoned batch is abandoned without giving up on
// the batches after it.
func replayFresh(ctx context.Context, log *zap.Logger, db execer, schema, table string, columns []source.Column, rows []source.Row, pk []string, batchSize int) (applied int64, err error) {
	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}

		skipped := 0
		for _, row := range rows[start:end] {
			stmt := buildInsert(schema, table, columns, []source.Row{row}, pk)
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				skipped++
				log.Debug("skipping row after transaction abort",
					zap.String("schema", schema), zap.String("table", table), zap.Error(err))
				if skipped >= abortRecoveryCap {
					log.Warn("row-by-row recovery cap reached, abandoning sub-batch",
						zap.String("schema", schema), zap.String("table", table),
						zap.Int("skipped", skipped))
					break
				}
				continue
			}
			applied++
		}
	}
	return applied, nil
}

// rowByRowSameTx re-applies a failing sub-batch row by row inside the same
// transaction, each row under a savepoint so a bad row does not poison the
// rest.
func (w *Writer) rowByRowSameTx(ctx context.Context, tx *sql.Tx, schema, table string, columns []source.Column, rows []source.Row, pk []string) (applied int64, err error) {
	skipped := 0
	for _, row := range rows {
		if _, err := tx.ExecContext(ctx, "SAVEPOINT row"); err != nil {
			return applied, Error.Wrap(err)
		}
		stmt := buildInsert(schema, table, columns, []source.Row{row}, pk)
		if _, execErr := tx.ExecContext(ctx, stmt); execErr != nil {
			if _, err := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT row"); err != nil {
				return applied, Error.Wrap(errs.Combine(execErr, err))
			}
			skipped++
			w.log.Debug("skipping row with bad data",
				zap.String("schema", schema), zap.String("table", table), zap.Error(execErr))
			if skipped >= dataErrorCap {
				w.log.Warn("data-error recovery cap reached",
					zap.String("schema", schema), zap.String("table", table),
					zap.Int("skipped", skipped))
				return applied, nil
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT row"); err != nil {
			return applied, Error.Wrap(err)
		}
		applied++
	}
	return applied, nil
}

func (w *Writer) aborted(err error) bool {
	return pgutil.IsTransactionAborted(err)
}

func (w *Writer) dataError(err error) bool {
	return pgutil.IsDataError(err)
}

// buildInsert renders a multi-row INSERT with normalized literal values.
// With a PK the statement upserts via ON CONFLICT DO UPDATE; when every
// column is part of the PK there is nothing to update and conflicts are
// ignored.
func buildInsert(schema, table string, columns []source.Column, rows []source.Row, pk []string) string {
	var sb strings.Builder

	quotedCols := make([]string, len(columns))
	for i, col := range columns {
		quotedCols[i] = quoteLower(col.Name)
	}

	sb.WriteString("INSERT INTO ")
	sb.WriteString(qualified(schema, table))
	sb.WriteString(" (")
	sb.WriteString(strings.Join(quotedCols, ", "))
	sb.WriteString(") VALUES ")

	for r, row := range rows {
		if r > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for i, col := range columns {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(normalize.Normalize(row[col.Name], col.Type).SQL())
		}
		sb.WriteString(")")
	}

	if len(pk) > 0 {
		pkSet := make(map[string]bool, len(pk))
		quotedPK := make([]string, len(pk))
		for i, col := range pk {
			pkSet[strings.ToLower(col)] = true
			quotedPK[i] = quoteLower(col)
		}
		var updates []string
		for _, col := range columns {
			if pkSet[strings.ToLower(col.Name)] {
				continue
			}
			q := quoteLower(col.Name)
			updates = append(updates, q+" = EXCLUDED."+q)
		}
		sb.WriteString(" ON CONFLICT (")
		sb.WriteString(strings.Join(quotedPK, ", "))
		if len(updates) > 0 {
			sb.WriteString(") DO UPDATE SET ")
			sb.WriteString(strings.Join(updates, ", "))
		} else {
			sb.WriteString(") DO NOTHING")
		}
	}
	return sb.String()
}
