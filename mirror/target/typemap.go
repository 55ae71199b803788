// Copyright (C) 2026 Tidemark Authors.
// See LICENSE for copying information.

package target

import (
	"strconv"
	"strings"
)

// MapType maps a declared source column type to the PostgreSQL type used
// when the target table is created. Length and precision come from the
// declaration when present, falling back to the adapter's column metadata.
func MapType(sourceType string, maxLength, precision, scale int64) string {
	typ := strings.ToLower(strings.TrimSpace(sourceType))
	base, p1, p2, hasParams := splitTypeParams(typ)

	switch base {
	case "tinyint", "smallint", "int2", "smallserial":
		return "SMALLINT"
	case "int", "integer", "mediumint", "int4", "serial":
		return "INTEGER"
	case "bigint", "int8", "bigserial":
		return "BIGINT"

	case "decimal", "numeric":
		if !hasParams {
			p1, p2 = precision, scale
		}
		if p1 > 0 {
			return "NUMERIC(" + strconv.FormatInt(p1, 10) + "," + strconv.FormatInt(p2, 10) + ")"
		}
		return "NUMERIC"
	case "money", "smallmoney":
		return "NUMERIC(19,4)"

	case "float", "float4", "real":
		return "REAL"
	case "double", "double precision", "float8":
		return "DOUBLE PRECISION"

	case "char", "nchar", "character":
		if n := boundedLength(p1, maxLength); n > 0 {
			return "CHAR(" + strconv.FormatInt(n, 10) + ")"
		}
		return "VARCHAR"
	case "varchar", "nvarchar", "character varying":
		if n := boundedLength(p1, maxLength); n > 0 {
			return "VARCHAR(" + strconv.FormatInt(n, 10) + ")"
		}
		return "VARCHAR"

	case "text", "tinytext", "mediumtext", "longtext", "ntext", "clob":
		return "TEXT"

	case "date":
		return "DATE"
	case "time":
		return "TIME"
	case "datetime", "datetime2", "smalldatetime", "timestamp",
		"timestamp without time zone":
		return "TIMESTAMP"
	case "datetimeoffset", "timestamptz", "timestamp with time zone":
		return "TIMESTAMP WITH TIME ZONE"

	case "bit", "boolean", "bool":
		return "BOOLEAN"

	case "blob", "tinyblob", "mediumblob", "longblob",
		"binary", "varbinary", "image", "bytea":
		return "BYTEA"

	case "uniqueidentifier", "uuid":
		return "UUID"

	case "xml", "sql_variant":
		return "TEXT"

	case "bson", "json", "jsonb":
		return "JSONB"

	default:
		return "TEXT"
	}
}

// splitTypeParams splits "decimal(10,2)" into its base name and parameters.
func splitTypeParams(typ string) (base string, p1, p2 int64, ok bool) {
	open := strings.IndexByte(typ, '(')
	closing := strings.IndexByte(typ, ')')
	if open < 0 || closing <= open {
		return strings.TrimSpace(typ), 0, 0, false
	}
	base = strings.TrimSpace(typ[:open])
	params := strings.Split(typ[open+1:closing], ",")
	p1, _ = strconv.ParseInt(strings.TrimSpace(params[0]), 10, 64)
	if len(params) > 1 {
		p2, _ = strconv.ParseInt(strings.TrimSpace(params[1]), 10, 64)
	}
	return base, p1, p2, true
}

// boundedLength picks a usable declared length, rejecting the out-of-range
// markers some vendors report, like -1 for nvarchar(max).
func boundedLength(declared, metadata int64) int64 {
	n := declared
	if n <= 0 {
		n = metadata
	}
	if n < 1 || n > 65535 {
		return 0
	}
	return n
}
