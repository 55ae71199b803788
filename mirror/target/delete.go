// Copyright (C) 2026 Tidemark Authors.
// See LICENSE for copying information.

package target

import (
	"context"
	"strings"

	"tidemark.io/tidemark/shared/dbutil/pgutil"
)

// deleteBatchSize bounds the number of PK tuples per DELETE statement.
const deleteBatchSize = 500

// BulkDelete removes the given PK tuples from the target, in bounded
// sub-batches. Returns the summed affected row count.
func (w *Writer) BulkDelete(ctx context.Context, schema, table string, pkColumns []string, tuples [][]string) (deleted int64, err error) {
	defer mon.Task()(&ctx)(&err)

	for start := 0; start < len(tuples); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(tuples) {
			end = len(tuples)
		}
		stmt := buildDelete(schema, table, pkColumns, tuples[start:end])
		res, err := w.db.ExecContext(ctx, stmt)
		if err != nil {
			return deleted, Error.Wrap(err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return deleted, Error.Wrap(err)
		}
		deleted += affected
	}
	return deleted, nil
}

// buildDelete renders a DELETE matching any of the given PK tuples.
func buildDelete(schema, table string, pkColumns []string, tuples [][]string) string {
	var sb strings.Builder
	sb.WriteString("DELETE FROM ")
	sb.WriteString(qualified(schema, table))
	sb.WriteString(" WHERE ")

	for t, tuple := range tuples {
		if t > 0 {
			sb.WriteString(" OR ")
		}
		sb.WriteString("(")
		for i, col := range pkColumns {
			if i > 0 {
				sb.WriteString(" AND ")
			}
			sb.WriteString(quoteLower(col))
			sb.WriteString(" = ")
			sb.WriteString(pgutil.QuoteLiteral(tuple[i]))
		}
		sb.WriteString(")")
	}
	return sb.String()
}
