// Copyright (C) 2026 Tidemark Authors.
// See LICENSE for copying information.

package source

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tidemark.io/tidemark/mirror/catalog"
)

func TestBuildChunkQueryKeyed(t *testing.T) {
	cursor := Cursor{
		Strategy:   catalog.StrategyPK,
		KeyColumns: []string{"id"},
		LastValues: []string{"10"},
	}

	query, args := PostgresDialect.BuildChunkQuery("s", "t", []string{"id", "name"}, cursor, 100)
	require.Equal(t,
		`SELECT "id", "name" FROM "s"."t" WHERE (("id" > $1)) ORDER BY "id" ASC LIMIT 100`,
		query)
	require.Equal(t, []any{"10"}, args)

	query, args = MySQLDialect.BuildChunkQuery("s", "t", []string{"id", "name"}, cursor, 100)
	require.Equal(t,
		"SELECT `id`, `name` FROM `s`.`t` WHERE ((`id` > ?)) ORDER BY `id` ASC LIMIT 100",
		query)
	require.Equal(t, []any{"10"}, args)

	query, args = MSSQLDialect.BuildChunkQuery("s", "t", []string{"id"}, cursor, 5)
	require.Equal(t,
		"SELECT [id] FROM [s].[t] WHERE (([id] > @p1)) ORDER BY [id] ASC OFFSET 0 ROWS FETCH NEXT 5 ROWS ONLY",
		query)
	require.Equal(t, []any{"10"}, args)
}

func TestBuildChunkQueryFirstChunkHasNoWhere(t *testing.T) {
	cursor := Cursor{
		Strategy:   catalog.StrategyPK,
		KeyColumns: []string{"id"},
	}
	query, args := PostgresDialect.BuildChunkQuery("s", "t", []string{"id"}, cursor, 10)
	require.Equal(t, `SELECT "id" FROM "s"."t" ORDER BY "id" ASC LIMIT 10`, query)
	require.Empty(t, args)
}

func TestBuildChunkQueryCompositeTuple(t *testing.T) {
	cursor := Cursor{
		Strategy:   catalog.StrategyPK,
		KeyColumns: []string{"a", "b"},
		LastValues: []string{"1", "2"},
	}
	query, args := PostgresDialect.BuildChunkQuery("s", "t", []string{"a", "b"}, cursor, 10)
	require.Equal(t,
		`SELECT "a", "b" FROM "s"."t" WHERE (("a" > $1) OR ("a" = $2 AND "b" > $3)) ORDER BY "a" ASC, "b" ASC LIMIT 10`,
		query)
	require.Equal(t, []any{"1", "1", "2"}, args)
}

func TestBuildChunkQueryOffset(t *testing.T) {
	cursor := Cursor{Strategy: catalog.StrategyOffset, Offset: 40}

	query, args := MySQLDialect.BuildChunkQuery("s", "u", []string{"name"}, cursor, 20)
	require.Equal(t, "SELECT `name` FROM `s`.`u` LIMIT 20 OFFSET 40", query)
	require.Empty(t, args)

	query, _ = MSSQLDialect.BuildChunkQuery("s", "u", []string{"name"}, cursor, 20)
	require.Equal(t,
		"SELECT [name] FROM [s].[u] ORDER BY (SELECT NULL) OFFSET 40 ROWS FETCH NEXT 20 ROWS ONLY",
		query)
}

func TestBuildExistsQuery(t *testing.T) {
	query, args := PostgresDialect.BuildExistsQuery("s", "t", []string{"a", "b"},
		[][]string{{"1", "x"}, {"2", "y"}})
	require.Equal(t,
		`SELECT "a", "b" FROM "s"."t" WHERE ("a" = $1 AND "b" = $2) OR ("a" = $3 AND "b" = $4)`,
		query)
	require.Equal(t, []any{"1", "x", "2", "y"}, args)
}

func TestExistsBatchSize(t *testing.T) {
	require.Equal(t, 500, ExistsBatchSize(25000))
	require.Equal(t, 50, ExistsBatchSize(100))
	require.Equal(t, 1, ExistsBatchSize(1))
	require.Equal(t, 1, ExistsBatchSize(0))
}

func TestCursorAdvance(t *testing.T) {
	cursor := Cursor{
		Strategy:   catalog.StrategyPK,
		KeyColumns: []string{"id", "sub"},
	}
	next := cursor.Advance(Row{"id": "7", "sub": "b", "name": "x"}, 3)
	require.Equal(t, []string{"7", "b"}, next.LastValues)
	require.Equal(t, int64(3), next.Offset)

	offsetCursor := Cursor{Strategy: catalog.StrategyOffset, Offset: 4}
	next = offsetCursor.Advance(Row{"name": "x"}, 2)
	require.Equal(t, int64(6), next.Offset)
	require.Empty(t, next.LastValues)
}

func TestCursorToken(t *testing.T) {
	cursor := Cursor{KeyColumns: []string{"a", "b"}, LastValues: []string{"1", "2"}}
	require.Equal(t, "1|2", cursor.Token())

	restored := Cursor{KeyColumns: []string{"a", "b"}}.ParseToken("1|2")
	require.Equal(t, []string{"1", "2"}, restored.LastValues)

	// arity mismatch discards the token
	restored = Cursor{KeyColumns: []string{"a", "b"}}.ParseToken("1")
	require.Nil(t, restored.LastValues)

	restored = Cursor{KeyColumns: []string{"a"}}.ParseToken("")
	require.Nil(t, restored.LastValues)
}

func TestChooseTimeColumn(t *testing.T) {
	cols := func(names ...string) []Column {
		out := make([]Column, len(names))
		for i, n := range names {
			out[i] = Column{Name: n, Type: "datetime"}
		}
		return out
	}

	require.Equal(t, "updated_at", ChooseTimeColumn(cols("id", "created_at", "updated_at")))
	require.Equal(t, "created_at", ChooseTimeColumn(cols("id", "created_at")))
	require.Equal(t, "timestamp", ChooseTimeColumn(cols("timestamp", "name")))
	require.Equal(t, "deleted_at", ChooseTimeColumn(cols("id", "deleted_at")))
	require.Equal(t, "fecha_alta", ChooseTimeColumn(cols("id", "fecha_alta")))
	require.Equal(t, "", ChooseTimeColumn(cols("id", "name")))
}

func TestCandidateColumns(t *testing.T) {
	columns := []Column{
		{Name: "id", Type: "int", Extra: "auto_increment"},
		{Name: "name", Type: "varchar(40)"},
		{Name: "updated_at", Type: "timestamp"},
		{Name: "seq", Type: "bigint", Extra: "identity(1,1)"},
	}
	require.Equal(t, []string{"id", "updated_at", "seq"}, CandidateColumns(columns, nil))
	require.Equal(t, []string{"updated_at", "seq"}, CandidateColumns(columns, []string{"ID"}))
	require.Nil(t, CandidateColumns([]Column{{Name: "name", Type: "text"}}, nil))
}

func TestRenderCell(t *testing.T) {
	require.Equal(t, "", RenderCell(nil))
	require.Equal(t, "abc", RenderCell([]byte("abc")))
	require.Equal(t, "abc", RenderCell("abc"))
	require.Equal(t, "42", RenderCell(int64(42)))
	require.Equal(t, "1.5", RenderCell(1.5))
	require.Equal(t, "true", RenderCell(true))
	require.Equal(t, "false", RenderCell(false))

	ts := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	require.Equal(t, "2024-05-06 07:08:09", RenderCell(ts))
}
