// Copyright (C) 2026 Tidemark Authors.
// See LICENSE for copying information.

package source

import (
	"context"
	"database/sql"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"tidemark.io/tidemark/mirror/catalog"
)

var mon = monkit.Package()

// VendorQueries holds the introspection SQL of one relational vendor,
// written with that vendor's placeholder style.
type VendorQueries struct {
	// ListTables takes no parameters and yields (schema, table).
	ListTables string
	// DescribeColumns takes (schema, table) and yields
	// (name, type, is_nullable, key, extra, max_length, precision, scale).
	DescribeColumns string
	// PrimaryKey takes (schema, table) and yields column names in key order.
	PrimaryKey string
	// Hostname yields the server's own hostname; empty when the vendor
	// does not expose one.
	Hostname string
	// SessionSetup statements run once after connecting, typically to
	// raise wait/lock timeouts.
	SessionSetup []string
}

// SQLAdapter implements Adapter for the relational vendors on top of
// database/sql, a Dialect and the vendor's introspection queries.
type SQLAdapter struct {
	log     *zap.Logger
	engine  catalog.Engine
	db      *sql.DB
	dialect Dialect
	queries VendorQueries
}

// NewSQLAdapter wires a relational adapter. The db handle must already be
// open; session setup statements are executed here.
func NewSQLAdapter(ctx context.Context, log *zap.Logger, engine catalog.Engine, db *sql.DB, dialect Dialect, queries VendorQueries) (*SQLAdapter, error) {
	if err := db.PingContext(ctx); err != nil {
		return nil, Error.New("open %s: %w", engine, err)
	}
	for _, stmt := range queries.SessionSetup {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, Error.New("session setup %s: %w", engine, err)
		}
	}
	return &SQLAdapter{
		log:     log,
		engine:  engine,
		db:      db,
		dialect: dialect,
		queries: queries,
	}, nil
}

// Engine identifies the vendor.
func (a *SQLAdapter) Engine() catalog.Engine { return a.engine }

// Close releases the session.
func (a *SQLAdapter) Close() error { return Error.Wrap(a.db.Close()) }

// ListTables enumerates user tables.
func (a *SQLAdapter) ListTables(ctx context.Context) (_ []SchemaTable, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := a.db.QueryContext(ctx, a.queries.ListTables)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	var tables []SchemaTable
	for rows.Next() {
		var st SchemaTable
		if err := rows.Scan(&st.Schema, &st.Table); err != nil {
			return nil, Error.Wrap(err)
		}
		tables = append(tables, st)
	}
	return tables, Error.Wrap(rows.Err())
}

// DescribeColumns returns columns ordered by ordinal position.
func (a *SQLAdapter) DescribeColumns(ctx context.Context, schema, table string) (_ []Column, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := a.db.QueryContext(ctx, a.queries.DescribeColumns, schema, table)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	var columns []Column
	for rows.Next() {
		var (
			col              Column
			nullable         string
			key, extra       sql.NullString
			maxLength        sql.NullInt64
			precision, scale sql.NullInt64
		)
		if err := rows.Scan(&col.Name, &col.Type, &nullable, &key, &extra, &maxLength, &precision, &scale); err != nil {
			return nil, Error.Wrap(err)
		}
		col.Nullable = nullable == "YES"
		col.Key = key.String
		col.Extra = extra.String
		col.MaxLength = maxLength.Int64
		col.NumericPrecision = precision.Int64
		col.NumericScale = scale.Int64
		columns = append(columns, col)
	}
	return columns, Error.Wrap(rows.Err())
}

// DetectPrimaryKey returns the PK columns in key order.
func (a *SQLAdapter) DetectPrimaryKey(ctx context.Context, schema, table string) (_ []string, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := a.db.QueryContext(ctx, a.queries.PrimaryKey, schema, table)
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

// DetectTimeColumn picks the high-water-mark column by naming convention.
func (a *SQLAdapter) DetectTimeColumn(ctx context.Context, schema, table string) (string, error) {
	columns, err := a.DescribeColumns(ctx, schema, table)
	if err != nil {
		return "", err
	}
	return ChooseTimeColumn(columns), nil
}

// Count returns the current row count.
func (a *SQLAdapter) Count(ctx context.Context, schema, table string) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	var count int64
	err = a.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM "+a.dialect.QualifiedTable(schema, table),
	).Scan(&count)
	return count, Error.Wrap(err)
}

// ReadChunk reads one ordered chunk and advances the cursor.
func (a *SQLAdapter) ReadChunk(ctx context.Context, schema, table string, cursor Cursor, chunkSize int) (_ Chunk, _ Cursor, err error) {
	defer mon.Task()(&ctx)(&err)

	columns, err := a.DescribeColumns(ctx, schema, table)
	if err != nil {
		return Chunk{}, cursor, err
	}
	names := make([]string, len(columns))
	for i, col := range columns {
		names[i] = col.Name
	}

	query, args := a.dialect.BuildChunkQuery(schema, table, names, cursor, chunkSize)
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return Chunk{}, cursor, Error.Wrap(err)
	}
	chunk, err := ScanChunk(rows, columns)
	if err != nil {
		return Chunk{}, cursor, err
	}

	var last Row
	if len(chunk.Rows) > 0 {
		last = chunk.Rows[len(chunk.Rows)-1]
	}
	mon.IntVal("chunk_rows").Observe(int64(len(chunk.Rows)))
	return chunk, cursor.Advance(last, len(chunk.Rows)), nil
}

// ExistsInSource probes PK tuple membership in bounded sub-batches.
func (a *SQLAdapter) ExistsInSource(ctx context.Context, schema, table string, pkColumns []string, tuples [][]string, chunkSize int) (_ map[string]bool, err error) {
	defer mon.Task()(&ctx)(&err)

	exists := make(map[string]bool, len(tuples))
	batchSize := ExistsBatchSize(chunkSize)
	for start := 0; start < len(tuples); start += batchSize {
		end := start + batchSize
		if end > len(tuples) {
			end = len(tuples)
		}
		query, args := a.dialect.BuildExistsQuery(schema, table, pkColumns, tuples[start:end])
		rows, err := a.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		found, err := ScanExists(rows, len(pkColumns))
		if err != nil {
			return nil, err
		}
		for key := range found {
			exists[key] = true
		}
	}
	return exists, nil
}

// Hostname queries the server hostname when the vendor exposes one.
func (a *SQLAdapter) Hostname(ctx context.Context) (string, error) {
	if a.queries.Hostname == "" {
		return "", nil
	}
	var hostname sql.NullString
	err := a.db.QueryRowContext(ctx, a.queries.Hostname).Scan(&hostname)
	return hostname.String, Error.Wrap(err)
}
