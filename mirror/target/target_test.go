// Copyright (C) 2026 Tidemark Authors.
// See LICENSE for copying information.

package target

import (
	"context"
	"database/sql"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zeebo/errs"
	"go.uber.org/zap/zaptest"

	"tidemark.io/tidemark/mirror/source"
)

func TestMapType(t *testing.T) {
	for _, tt := range []struct {
		sourceType string
		maxLength  int64
		precision  int64
		scale      int64
		want       string
	}{
		{sourceType: "tinyint", want: "SMALLINT"},
		{sourceType: "int", want: "INTEGER"},
		{sourceType: "INT(11)", want: "INTEGER"},
		{sourceType: "bigint", want: "BIGINT"},
		{sourceType: "decimal(10,2)", want: "NUMERIC(10,2)"},
		{sourceType: "numeric", precision: 12, scale: 4, want: "NUMERIC(12,4)"},
		{sourceType: "numeric", want: "NUMERIC"},
		{sourceType: "money", want: "NUMERIC(19,4)"},
		{sourceType: "float", want: "REAL"},
		{sourceType: "double", want: "DOUBLE PRECISION"},
		{sourceType: "char(3)", want: "CHAR(3)"},
		{sourceType: "varchar(255)", want: "VARCHAR(255)"},
		{sourceType: "nvarchar", maxLength: -1, want: "VARCHAR"},
		{sourceType: "varchar(100000)", want: "VARCHAR"},
		{sourceType: "longtext", want: "TEXT"},
		{sourceType: "date", want: "DATE"},
		{sourceType: "time", want: "TIME"},
		{sourceType: "datetime", want: "TIMESTAMP"},
		{sourceType: "datetime2", want: "TIMESTAMP"},
		{sourceType: "datetimeoffset", want: "TIMESTAMP WITH TIME ZONE"},
		{sourceType: "bit", want: "BOOLEAN"},
		{sourceType: "varbinary(50)", want: "BYTEA"},
		{sourceType: "uniqueidentifier", want: "UUID"},
		{sourceType: "xml", want: "TEXT"},
		{sourceType: "BSON", want: "JSONB"},
		{sourceType: "something_exotic", want: "TEXT"},
	} {
		got := MapType(tt.sourceType, tt.maxLength, tt.precision, tt.scale)
		require.Equal(t, tt.want, got, "type %q", tt.sourceType)
	}
}

func TestBuildInsertUpsert(t *testing.T) {
	columns := []source.Column{
		{Name: "ID", Type: "int"},
		{Name: "Name", Type: "varchar(50)"},
	}
	rows := []source.Row{
		{"ID": "1", "Name": "alpha"},
		{"ID": "2", "Name": ""},
	}

	stmt := buildInsert("Sales", "Customers", columns, rows, []string{"ID"})
	require.Equal(t,
		`INSERT INTO "sales"."customers" ("id", "name") VALUES `+
			`('1', 'alpha'), ('2', DEFAULT) `+
			`ON CONFLICT ("id") DO UPDATE SET "name" = EXCLUDED."name"`,
		stmt)
}

func TestBuildInsertAllPKColumns(t *testing.T) {
	columns := []source.Column{
		{Name: "a", Type: "int"},
		{Name: "b", Type: "int"},
	}
	rows := []source.Row{{"a": "1", "b": "2"}}

	stmt := buildInsert("s", "t", columns, rows, []string{"a", "b"})
	require.Contains(t, stmt, `ON CONFLICT ("a", "b") DO NOTHING`)
}

func TestBuildInsertNoPK(t *testing.T) {
	columns := []source.Column{{Name: "a", Type: "int"}}
	rows := []source.Row{{"a": "7"}}

	stmt := buildInsert("s", "t", columns, rows, nil)
	require.Equal(t, `INSERT INTO "s"."t" ("a") VALUES ('7')`, stmt)
}

func TestBuildInsertNormalizes(t *testing.T) {
	columns := []source.Column{
		{Name: "n", Type: "int"},
		{Name: "ts", Type: "datetime"},
		{Name: "note", Type: "text"},
	}
	rows := []source.Row{
		{"n": "not-a-number", "ts": "0000-00-00", "note": "it's fine"},
	}

	stmt := buildInsert("s", "t", columns, rows, nil)
	require.Equal(t,
		`INSERT INTO "s"."t" ("n", "ts", "note") VALUES ('0', '1970-01-01 00:00:00', 'it''s fine')`,
		stmt)
}

// flakyExecer fails the first failFirst statements and accepts the rest.
type flakyExecer struct {
	calls     int
	failFirst int
}

func (f *flakyExecer) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	f.calls++
	if f.calls <= f.failFirst {
		return nil, errs.New("duplicate key")
	}
	return nil, nil
}

func TestReplayFreshCapIsPerSubBatch(t *testing.T) {
	ctx := context.Background()
	columns := []source.Column{{Name: "id", Type: "int"}}
	var rows []source.Row
	for i := 0; i < 250; i++ {
		rows = append(rows, source.Row{"id": strconv.Itoa(i)})
	}

	// every row of the first sub-batch fails; the later sub-batches must
	// still be attempted with a fresh skip budget
	db := &flakyExecer{failFirst: 100}
	applied, err := replayFresh(ctx, zaptest.NewLogger(t), db, "s", "t", columns, rows, []string{"id"}, 100)
	require.NoError(t, err)
	require.Equal(t, int64(150), applied)
	require.Equal(t, 250, db.calls)
}

func TestBuildDelete(t *testing.T) {
	stmt := buildDelete("s", "t", []string{"a", "b"}, [][]string{
		{"1", "x"},
		{"2", "y"},
	})
	require.Equal(t,
		`DELETE FROM "s"."t" WHERE ("a" = '1' AND "b" = 'x') OR ("a" = '2' AND "b" = 'y')`,
		stmt)
}

func TestPKWhere(t *testing.T) {
	require.Equal(t, `"id" = '5'`, pkWhere([]string{"id"}, []string{"5"}))
	require.Equal(t, `"a" = '1' AND "b" = 'o''clock'`,
		pkWhere([]string{"a", "b"}, []string{"1", "o'clock"}))
}
