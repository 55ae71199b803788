// Copyright (C) 2026 Tidemark Authors.
// See LICENSE for copying information.

// Package pgsource adapts PostgreSQL servers as replication sources for
// postgres-to-postgres mirroring.
package pgsource

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"tidemark.io/tidemark/mirror/catalog"
	"tidemark.io/tidemark/mirror/source"
)

var queries = source.VendorQueries{
	ListTables: `
		SELECT table_schema, table_name
		FROM information_schema.tables
		WHERE table_type = 'BASE TABLE'
			AND table_schema NOT IN ('pg_catalog', 'information_schema')
		ORDER BY table_schema, table_name`,
	DescribeColumns: `
		SELECT column_name, data_type, is_nullable, '',
			CASE WHEN column_default LIKE 'nextval(%' THEN 'identity' ELSE '' END,
			character_maximum_length, numeric_precision, numeric_scale
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`,
	PrimaryKey: `
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
			JOIN information_schema.key_column_usage kcu
				ON kcu.constraint_name = tc.constraint_name
				AND kcu.table_schema = tc.table_schema
				AND kcu.table_name = tc.table_name
		WHERE tc.constraint_type = 'PRIMARY KEY'
			AND tc.table_schema = $1 AND tc.table_name = $2
		ORDER BY kcu.ordinal_position`,
	SessionSetup: []string{
		"SET statement_timeout = '600s'",
		"SET lock_timeout = '600s'",
	},
}

// Open establishes a PostgreSQL session. The connection string is an opaque
// DSN consumed by the driver.
func Open(ctx context.Context, log *zap.Logger, connString string) (source.Adapter, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, source.Error.Wrap(err)
	}
	adapter, err := source.NewSQLAdapter(ctx, log, catalog.EnginePostgreSQL, db, source.PostgresDialect, queries)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return adapter, nil
}
