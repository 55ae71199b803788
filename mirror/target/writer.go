// Copyright (C) 2026 Tidemark Authors.
// See LICENSE for copying information.

// Package target writes replicated data into the PostgreSQL target. It owns
// schema and table creation, truncation, bulk upserts with per-row fallback,
// and PK-based deletes.
package target

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"tidemark.io/tidemark/mirror/source"
	"tidemark.io/tidemark/shared/dbutil/pgutil"
)

var (
	// Error is the default errs class for the target writer.
	Error = errs.Class("target")

	mon = monkit.Package()
)

// Writer applies replicated rows to the PostgreSQL target.
type Writer struct {
	log *zap.Logger
	db  *sql.DB
}

// NewWriter wires a target writer around an open handle.
func NewWriter(log *zap.Logger, db *sql.DB) *Writer {
	return &Writer{log: log, db: db}
}

// quoteLower lowercases and quotes a target identifier. Target-side
// identifiers are always folded to lowercase.
func quoteLower(ident string) string {
	return pgutil.QuoteIdentifier(strings.ToLower(ident))
}

func qualified(schema, table string) string {
	return quoteLower(schema) + "." + quoteLower(table)
}

// EnsureSchema creates the lowercased schema when missing.
func (w *Writer) EnsureSchema(ctx context.Context, schema string) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = w.db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+quoteLower(schema))
	return Error.Wrap(err)
}

// EnsureTable creates the target table when missing. Every column is
// nullable so dirty source data cannot wedge a load; the PK clause is only
// emitted when the source actually has one.
func (w *Writer) EnsureTable(ctx context.Context, schema, table string, columns []source.Column, pkColumns []string) (err error) {
	defer mon.Task()(&ctx)(&err)

	if len(columns) == 0 {
		return Error.New("ensure table %s.%s: no columns", schema, table)
	}

	var sb strings.Builder
	sb.WriteString("CREATE TABLE IF NOT EXISTS ")
	sb.WriteString(qualified(schema, table))
	sb.WriteString(" (")
	for i, col := range columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(quoteLower(col.Name))
		sb.WriteString(" ")
		sb.WriteString(MapType(col.Type, col.MaxLength, col.NumericPrecision, col.NumericScale))
	}
	if len(pkColumns) > 0 {
		quoted := make([]string, len(pkColumns))
		for i, col := range pkColumns {
			quoted[i] = quoteLower(col)
		}
		sb.WriteString(", PRIMARY KEY (")
		sb.WriteString(strings.Join(quoted, ", "))
		sb.WriteString(")")
	}
	sb.WriteString(")")

	_, err = w.db.ExecContext(ctx, sb.String())
	return Error.Wrap(err)
}

// Truncate empties the target table. CASCADE is required because foreign
// keys may have been added on the target side; dependents are logged so the
// cascade never comes as a surprise.
func (w *Writer) Truncate(ctx context.Context, schema, table string) (err error) {
	defer mon.Task()(&ctx)(&err)

	dependents, err := pgutil.DependentForeignKeys(ctx, w.db, strings.ToLower(schema), strings.ToLower(table))
	if err != nil {
		return err
	}
	if len(dependents) > 0 {
		w.log.Warn("truncate cascades into dependent tables",
			zap.String("schema", schema),
			zap.String("table", table),
			zap.Strings("dependents", dependents))
	}

	_, err = w.db.ExecContext(ctx, "TRUNCATE TABLE "+qualified(schema, table)+" CASCADE")
	return Error.Wrap(err)
}

// Count returns the target row count.
func (w *Writer) Count(ctx context.Context, schema, table string) (count int64, err error) {
	defer mon.Task()(&ctx)(&err)

	err = w.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+qualified(schema, table)).Scan(&count)
	return count, Error.Wrap(err)
}

// PrimaryKey re-reads the PK columns of the target table. The upsert path
// trusts this over the catalog because the table may have been created or
// altered out of band.
func (w *Writer) PrimaryKey(ctx context.Context, schema, table string) ([]string, error) {
	return pgutil.TablePrimaryKey(ctx, w.db, strings.ToLower(schema), strings.ToLower(table))
}

// TableExists reports whether the target table exists.
func (w *Writer) TableExists(ctx context.Context, schema, table string) (bool, error) {
	return pgutil.TableExists(ctx, w.db, strings.ToLower(schema), strings.ToLower(table))
}

// PKPage reads one page of the target table's PK tuples, rendered as text.
// Used by delete reconciliation to walk the target.
func (w *Writer) PKPage(ctx context.Context, schema, table string, pkColumns []string, limit int, offset int64) (_ [][]string, err error) {
	defer mon.Task()(&ctx)(&err)

	quoted := make([]string, len(pkColumns))
	for i, col := range pkColumns {
		quoted[i] = quoteLower(col)
	}
	query := "SELECT " + strings.Join(quoted, ", ") +
		" FROM " + qualified(schema, table) +
		" ORDER BY " + strings.Join(quoted, ", ") +
		" LIMIT " + strconv.Itoa(limit) +
		" OFFSET " + strconv.FormatInt(offset, 10)

	rows, err := w.db.QueryContext(ctx, query)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	var tuples [][]string
	for rows.Next() {
		cells := make([]any, len(pkColumns))
		dest := make([]any, len(pkColumns))
		for i := range cells {
			dest[i] = &cells[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, Error.Wrap(err)
		}
		tuple := make([]string, len(pkColumns))
		for i := range cells {
			tuple[i] = source.RenderCell(cells[i])
		}
		tuples = append(tuples, tuple)
	}
	return tuples, Error.Wrap(rows.Err())
}

// SelectRow reads a single target row by PK. The second return is false
// when no row matches.
func (w *Writer) SelectRow(ctx context.Context, schema, table string, pkColumns, pkValues []string) (_ map[string]string, _ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	query := "SELECT * FROM " + qualified(schema, table) + " WHERE " + pkWhere(pkColumns, pkValues)
	rows, err := w.db.QueryContext(ctx, query)
	if err != nil {
		return nil, false, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	names, err := rows.Columns()
	if err != nil {
		return nil, false, Error.Wrap(err)
	}
	if !rows.Next() {
		return nil, false, Error.Wrap(rows.Err())
	}
	cells := make([]any, len(names))
	dest := make([]any, len(names))
	for i := range cells {
		dest[i] = &cells[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, false, Error.Wrap(err)
	}
	row := make(map[string]string, len(names))
	for i, name := range names {
		row[name] = source.RenderCell(cells[i])
	}
	return row, true, Error.Wrap(rows.Err())
}

// UpdateRow applies normalized assignments to a single target row in its
// own transaction. Assignments arrive pre-rendered as SQL value text.
func (w *Writer) UpdateRow(ctx context.Context, schema, table string, pkColumns, pkValues []string, assignments map[string]string) (err error) {
	defer mon.Task()(&ctx)(&err)

	if len(assignments) == 0 {
		return nil
	}
	var sets []string
	for col, valueSQL := range assignments {
		sets = append(sets, quoteLower(col)+" = "+valueSQL)
	}
	query := "UPDATE " + qualified(schema, table) +
		" SET " + strings.Join(sets, ", ") +
		" WHERE " + pkWhere(pkColumns, pkValues)

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return Error.Wrap(err)
	}
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return Error.Wrap(errs.Combine(err, tx.Rollback()))
	}
	return Error.Wrap(tx.Commit())
}

// pkWhere renders an AND-equality clause over a PK tuple with literal
// values.
func pkWhere(pkColumns, pkValues []string) string {
	parts := make([]string, len(pkColumns))
	for i, col := range pkColumns {
		parts[i] = quoteLower(col) + " = " + pgutil.QuoteLiteral(pkValues[i])
	}
	return strings.Join(parts, " AND ")
}
