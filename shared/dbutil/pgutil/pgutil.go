// Copyright (C) 2026 Tidemark Authors.
// See LICENSE for copying information.

// Package pgutil contains PostgreSQL-specific quoting, error classification
// and lightweight schema introspection helpers shared by the catalog store
// and the target writer.
package pgutil

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/zeebo/errs"
)

// Error is the default error class for the package.
var Error = errs.Class("pgutil")

// QuoteIdentifier quotes an identifier for use in a PostgreSQL statement.
// Identifiers are always double-quoted; embedded quotes are doubled.
func QuoteIdentifier(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// QuoteLiteral quotes a string value as a PostgreSQL literal. Single quotes
// are doubled; backslashes are doubled and the literal is emitted in E''
// form so the value round-trips regardless of standard_conforming_strings.
func QuoteLiteral(value string) string {
	escaped := strings.ReplaceAll(value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `'`, `''`)
	if strings.Contains(value, `\`) {
		return ` E'` + escaped + `'`
	}
	return `'` + escaped + `'`
}

// ErrorCode returns the SQLSTATE associated with any postgres error in the
// chain of errors walked by unwrapping, or empty when there is none.
func ErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsTransactionAborted reports whether err indicates that the surrounding
// transaction has been aborted and all further statements will be rejected
// until rollback (SQLSTATE 25P02). Substring matching remains as a fallback
// for errors that arrive stringified through driver or pool layers.
func IsTransactionAborted(err error) bool {
	if err == nil {
		return false
	}
	if ErrorCode(err) == "25P02" {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "current transaction is aborted") ||
		strings.Contains(msg, "previously aborted") ||
		strings.Contains(msg, "aborted transaction")
}

// IsDataError reports whether err is a per-row data problem (invalid text
// representation, bad binary digit and friends, SQLSTATE class 22) that can
// be recovered by retrying the batch row by row.
func IsDataError(err error) bool {
	if err == nil {
		return false
	}
	if code := ErrorCode(err); strings.HasPrefix(code, "22") {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "not a valid binary digit") ||
		strings.Contains(msg, "invalid input syntax")
}

// IsSerializationFailure reports whether err should be retried as a whole
// transaction (SQLSTATE 40001).
func IsSerializationFailure(err error) bool {
	return ErrorCode(err) == "40001"
}

// IsConnectivity reports whether err smells like a broken connection or a
// timeout. Vendors disagree on codes here, so this is substring territory.
func IsConnectivity(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "broken pipe")
}

// TablePrimaryKey returns the ordered primary key columns of an existing
// target table, or an empty slice when the table has no primary key.
func TablePrimaryKey(ctx context.Context, db *sql.DB, schema, table string) (_ []string, err error) {
	rows, err := db.QueryContext(ctx, `
		SELECT a.attname
		FROM pg_index i
			JOIN pg_class c ON c.oid = i.indrelid
			JOIN pg_namespace n ON n.oid = c.relnamespace
			JOIN pg_attribute a ON a.attrelid = c.oid AND a.attnum = ANY(i.indkey)
		WHERE i.indisprimary
			AND n.nspname = $1
			AND c.relname = $2
		ORDER BY array_position(i.indkey, a.attnum)
	`, schema, table)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	var pk []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, Error.Wrap(err)
		}
		pk = append(pk, name)
	}
	return pk, Error.Wrap(rows.Err())
}

// TableColumns returns the column names of a target table ordered by
// ordinal position.
func TableColumns(ctx context.Context, db *sql.DB, schema, table string) (_ []string, err error) {
	rows, err := db.QueryContext(ctx, `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position
	`, schema, table)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	var columns []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, Error.Wrap(err)
		}
		columns = append(columns, name)
	}
	return columns, Error.Wrap(rows.Err())
}

// TableExists reports whether schema.table exists in the target.
func TableExists(ctx context.Context, db *sql.DB, schema, table string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = $1 AND table_name = $2
		)
	`, schema, table).Scan(&exists)
	return exists, Error.Wrap(err)
}

// ColumnExists reports whether a column exists on schema.table.
func ColumnExists(ctx context.Context, db *sql.DB, schema, table, column string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.columns
			WHERE table_schema = $1 AND table_name = $2 AND column_name = $3
		)
	`, schema, table, column).Scan(&exists)
	return exists, Error.Wrap(err)
}

// DependentForeignKeys returns the names of foreign key constraints on other
// tables that reference schema.table. Used to warn before TRUNCATE CASCADE.
func DependentForeignKeys(ctx context.Context, db *sql.DB, schema, table string) (_ []string, err error) {
	rows, err := db.QueryContext(ctx, `
		SELECT conname
		FROM pg_constraint
			JOIN pg_class c ON c.oid = pg_constraint.confrelid
			JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE pg_constraint.contype = 'f'
			AND n.nspname = $1
			AND c.relname = $2
	`, schema, table)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, Error.Wrap(err)
		}
		names = append(names, name)
	}
	return names, Error.Wrap(rows.Err())
}
