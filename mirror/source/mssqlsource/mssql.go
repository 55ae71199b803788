// Copyright (C) 2026 Tidemark Authors.
// See LICENSE for copying information.

// Package mssqlsource adapts Microsoft SQL Server as a replication source.
package mssqlsource

import (
	"context"
	"database/sql"

	_ "github.com/denisenkom/go-mssqldb"
	"go.uber.org/zap"

	"tidemark.io/tidemark/mirror/catalog"
	"tidemark.io/tidemark/mirror/source"
)

var queries = source.VendorQueries{
	ListTables: `
		SELECT s.name, t.name
		FROM sys.tables t
			JOIN sys.schemas s ON s.schema_id = t.schema_id
		WHERE s.name NOT IN ('INFORMATION_SCHEMA', 'sys', 'guest')
			AND t.name NOT LIKE 'spt_%'
			AND t.name NOT LIKE 'MS%'
			AND t.name NOT LIKE 'sp_%'
			AND t.name NOT LIKE 'fn_%'
			AND t.name NOT LIKE 'xp_%'
			AND t.name NOT LIKE 'dt_%'
		ORDER BY s.name, t.name`,
	DescribeColumns: `
		SELECT c.COLUMN_NAME, c.DATA_TYPE, c.IS_NULLABLE, '',
			CASE WHEN COLUMNPROPERTY(OBJECT_ID(c.TABLE_SCHEMA + '.' + c.TABLE_NAME), c.COLUMN_NAME, 'IsIdentity') = 1
				THEN 'identity' ELSE '' END,
			c.CHARACTER_MAXIMUM_LENGTH, c.NUMERIC_PRECISION, c.NUMERIC_SCALE
		FROM INFORMATION_SCHEMA.COLUMNS c
		WHERE c.TABLE_SCHEMA = @p1 AND c.TABLE_NAME = @p2
		ORDER BY c.ORDINAL_POSITION`,
	PrimaryKey: `
		SELECT kcu.COLUMN_NAME
		FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
			JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
				ON kcu.CONSTRAINT_NAME = tc.CONSTRAINT_NAME
				AND kcu.TABLE_SCHEMA = tc.TABLE_SCHEMA
				AND kcu.TABLE_NAME = tc.TABLE_NAME
		WHERE tc.CONSTRAINT_TYPE = 'PRIMARY KEY'
			AND tc.TABLE_SCHEMA = @p1 AND tc.TABLE_NAME = @p2
		ORDER BY kcu.ORDINAL_POSITION`,
	Hostname: `SELECT CAST(SERVERPROPERTY('MachineName') AS NVARCHAR(128))`,
	SessionSetup: []string{
		"SET LOCK_TIMEOUT 600000",
	},
}

// Open establishes a SQL Server session. The connection string is an opaque
// DSN consumed by the driver.
func Open(ctx context.Context, log *zap.Logger, connString string) (source.Adapter, error) {
	db, err := sql.Open("sqlserver", connString)
	if err != nil {
		return nil, source.Error.Wrap(err)
	}
	adapter, err := source.NewSQLAdapter(ctx, log, catalog.EngineMSSQL, db, source.MSSQLDialect, queries)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return adapter, nil
}
