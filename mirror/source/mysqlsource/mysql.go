// Copyright (C) 2026 Tidemark Authors.
// See LICENSE for copying information.

// Package mysqlsource adapts MariaDB and MySQL servers as replication
// sources.
package mysqlsource

import (
	"context"
	"database/sql"
	"strconv"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"tidemark.io/tidemark/mirror/catalog"
	"tidemark.io/tidemark/mirror/source"
)

var queries = source.VendorQueries{
	ListTables: `
		SELECT table_schema, table_name
		FROM information_schema.tables
		WHERE table_type = 'BASE TABLE'
			AND table_schema NOT IN ('information_schema', 'mysql', 'performance_schema', 'sys')
		ORDER BY table_schema, table_name`,
	DescribeColumns: `
		SELECT column_name, column_type, is_nullable, column_key, extra,
			character_maximum_length, numeric_precision, numeric_scale
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position`,
	PrimaryKey: `
		SELECT column_name
		FROM information_schema.key_column_usage
		WHERE table_schema = ? AND table_name = ? AND constraint_name = 'PRIMARY'
		ORDER BY ordinal_position`,
	Hostname: `SELECT @@hostname`,
	SessionSetup: []string{
		"SET SESSION wait_timeout = " + strconv.Itoa(source.SessionTimeoutSeconds),
		"SET SESSION innodb_lock_wait_timeout = " + strconv.Itoa(source.SessionTimeoutSeconds),
	},
}

// Open establishes a MariaDB/MySQL session. The connection string is an
// opaque DSN consumed by the driver.
func Open(ctx context.Context, log *zap.Logger, connString string) (source.Adapter, error) {
	db, err := sql.Open("mysql", connString)
	if err != nil {
		return nil, source.Error.Wrap(err)
	}
	adapter, err := source.NewSQLAdapter(ctx, log, catalog.EngineMariaDB, db, source.MySQLDialect, queries)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return adapter, nil
}
