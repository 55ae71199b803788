// Copyright (C) 2026 Tidemark Authors.
// See LICENSE for copying information.

package source

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/errs"
)

// Dialect captures the syntax differences between the relational vendors so
// the chunk and existence queries are built in exactly one place.
type Dialect struct {
	Name string
	// Quote quotes a single identifier.
	Quote func(string) string
	// Placeholder renders the i-th (1-based) bind parameter.
	Placeholder func(i int) string
	// UsesFetch selects OFFSET ... FETCH over LIMIT ... OFFSET.
	UsesFetch bool
}

// MySQLDialect is shared by MariaDB and MySQL sources.
var MySQLDialect = Dialect{
	Name:        "mysql",
	Quote:       func(ident string) string { return "`" + strings.ReplaceAll(ident, "`", "``") + "`" },
	Placeholder: func(int) string { return "?" },
}

// MSSQLDialect covers Microsoft SQL Server.
var MSSQLDialect = Dialect{
	Name:        "mssql",
	Quote:       func(ident string) string { return "[" + strings.ReplaceAll(ident, "]", "]]") + "]" },
	Placeholder: func(i int) string { return "@p" + strconv.Itoa(i) },
	UsesFetch:   true,
}

// PostgresDialect covers PostgreSQL sources.
var PostgresDialect = Dialect{
	Name:        "postgres",
	Quote:       func(ident string) string { return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"` },
	Placeholder: func(i int) string { return "$" + strconv.Itoa(i) },
}

// QualifiedTable renders schema.table with vendor quoting.
func (d Dialect) QualifiedTable(schema, table string) string {
	return d.Quote(schema) + "." + d.Quote(table)
}

// BuildChunkQuery renders the paginated read for one chunk. Keyed cursors
// (PK and TEMPORAL_PK) order by the key columns and resume with a
// lexicographic tuple comparison expanded into nested OR terms, which every
// vendor understands. Offset cursors page with LIMIT/OFFSET.
func (d Dialect) BuildChunkQuery(schema, table string, columns []string, cursor Cursor, chunkSize int) (string, []any) {
	var sb strings.Builder
	var args []any

	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = d.Quote(col)
	}

	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(quoted, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(d.QualifiedTable(schema, table))

	if len(cursor.KeyColumns) > 0 {
		if len(cursor.LastValues) == len(cursor.KeyColumns) {
			where, whereArgs := d.tupleGreater(cursor.KeyColumns, cursor.LastValues, len(args))
			sb.WriteString(" WHERE ")
			sb.WriteString(where)
			args = append(args, whereArgs...)
		}
		sb.WriteString(" ORDER BY ")
		orderCols := make([]string, len(cursor.KeyColumns))
		for i, col := range cursor.KeyColumns {
			orderCols[i] = d.Quote(col) + " ASC"
		}
		sb.WriteString(strings.Join(orderCols, ", "))
		if d.UsesFetch {
			sb.WriteString(" OFFSET 0 ROWS FETCH NEXT " + strconv.Itoa(chunkSize) + " ROWS ONLY")
		} else {
			sb.WriteString(" LIMIT " + strconv.Itoa(chunkSize))
		}
		return sb.String(), args
	}

	// offset pagination needs a stable ORDER BY clause on some vendors
	if d.UsesFetch {
		sb.WriteString(" ORDER BY (SELECT NULL)")
		sb.WriteString(" OFFSET " + strconv.FormatInt(cursor.Offset, 10) + " ROWS")
		sb.WriteString(" FETCH NEXT " + strconv.Itoa(chunkSize) + " ROWS ONLY")
	} else {
		sb.WriteString(" LIMIT " + strconv.Itoa(chunkSize))
		sb.WriteString(" OFFSET " + strconv.FormatInt(cursor.Offset, 10))
	}
	return sb.String(), args
}

// tupleGreater renders (k1, k2, ...) > (v1, v2, ...) without row-value
// syntax: k1 > v1 OR (k1 = v1 AND k2 > v2) OR ...
func (d Dialect) tupleGreater(keyColumns, lastValues []string, argOffset int) (string, []any) {
	var terms []string
	var args []any
	n := argOffset
	for i := range keyColumns {
		var parts []string
		for j := 0; j < i; j++ {
			n++
			parts = append(parts, d.Quote(keyColumns[j])+" = "+d.Placeholder(n))
			args = append(args, lastValues[j])
		}
		n++
		parts = append(parts, d.Quote(keyColumns[i])+" > "+d.Placeholder(n))
		args = append(args, lastValues[i])
		terms = append(terms, "("+strings.Join(parts, " AND ")+")")
	}
	return "(" + strings.Join(terms, " OR ") + ")", args
}

// BuildExistsQuery renders the membership probe for a batch of PK tuples.
func (d Dialect) BuildExistsQuery(schema, table string, pkColumns []string, tuples [][]string) (string, []any) {
	var sb strings.Builder
	var args []any

	quoted := make([]string, len(pkColumns))
	for i, col := range pkColumns {
		quoted[i] = d.Quote(col)
	}

	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(quoted, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(d.QualifiedTable(schema, table))
	sb.WriteString(" WHERE ")

	n := 0
	var terms []string
	for _, tuple := range tuples {
		var parts []string
		for i, col := range pkColumns {
			n++
			parts = append(parts, d.Quote(col)+" = "+d.Placeholder(n))
			args = append(args, tuple[i])
		}
		terms = append(terms, "("+strings.Join(parts, " AND ")+")")
	}
	sb.WriteString(strings.Join(terms, " OR "))
	return sb.String(), args
}

// ScanChunk drains rows into a Chunk, rendering every cell as text. NULL
// cells become the empty string, which the normalizer maps back to NULL.
func ScanChunk(rows *sql.Rows, columns []Column) (_ Chunk, err error) {
	defer func() { err = errs.Combine(err, rows.Close()) }()

	chunk := Chunk{Columns: columns}
	for rows.Next() {
		cells := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range cells {
			dest[i] = &cells[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return Chunk{}, Error.Wrap(err)
		}
		row := make(Row, len(columns))
		for i, col := range columns {
			row[col.Name] = RenderCell(cells[i])
		}
		chunk.Rows = append(chunk.Rows, row)
	}
	return chunk, Error.Wrap(rows.Err())
}

// ScanExists drains an existence probe result into a TupleKey set.
func ScanExists(rows *sql.Rows, arity int) (_ map[string]bool, err error) {
	defer func() { err = errs.Combine(err, rows.Close()) }()

	exists := make(map[string]bool)
	for rows.Next() {
		cells := make([]any, arity)
		dest := make([]any, arity)
		for i := range cells {
			dest[i] = &cells[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, Error.Wrap(err)
		}
		tuple := make([]string, arity)
		for i := range cells {
			tuple[i] = RenderCell(cells[i])
		}
		exists[TupleKey(tuple)] = true
	}
	return exists, Error.Wrap(rows.Err())
}

// RenderCell converts a driver value to the raw cell text the normalizer
// consumes. NULL renders as the empty string.
func RenderCell(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case []byte:
		return string(v)
	case string:
		return v
	case time.Time:
		return v.Format("2006-01-02 15:04:05")
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		// matches the normalizer's folded boolean form so target-side
		// comparisons line up
		if v {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprint(v)
	}
}
