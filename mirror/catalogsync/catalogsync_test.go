// Copyright (C) 2026 Tidemark Authors.
// See LICENSE for copying information.

package catalogsync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"tidemark.io/tidemark/mirror/catalog"
	"tidemark.io/tidemark/mirror/source"
)

type fakeAdapter struct {
	engine   catalog.Engine
	tables   []source.SchemaTable
	columns  map[string][]source.Column
	pks      map[string][]string
	counts   map[string]int64
	hostname string
}

func (f *fakeAdapter) key(schema, table string) string { return schema + "." + table }

func (f *fakeAdapter) Engine() catalog.Engine { return f.engine }
func (f *fakeAdapter) Close() error           { return nil }

func (f *fakeAdapter) ListTables(ctx context.Context) ([]source.SchemaTable, error) {
	return f.tables, nil
}

func (f *fakeAdapter) DescribeColumns(ctx context.Context, schema, table string) ([]source.Column, error) {
	return f.columns[f.key(schema, table)], nil
}

func (f *fakeAdapter) DetectPrimaryKey(ctx context.Context, schema, table string) ([]string, error) {
	return f.pks[f.key(schema, table)], nil
}

func (f *fakeAdapter) DetectTimeColumn(ctx context.Context, schema, table string) (string, error) {
	return source.ChooseTimeColumn(f.columns[f.key(schema, table)]), nil
}

func (f *fakeAdapter) Count(ctx context.Context, schema, table string) (int64, error) {
	return f.counts[f.key(schema, table)], nil
}

func (f *fakeAdapter) ReadChunk(ctx context.Context, schema, table string, cursor source.Cursor, chunkSize int) (source.Chunk, source.Cursor, error) {
	return source.Chunk{}, cursor, nil
}

func (f *fakeAdapter) ExistsInSource(ctx context.Context, schema, table string, pkColumns []string, tuples [][]string, chunkSize int) (map[string]bool, error) {
	return nil, nil
}

func (f *fakeAdapter) Hostname(ctx context.Context) (string, error) { return f.hostname, nil }

type fakeCatalog struct {
	rows     map[catalog.Key]*catalog.Row
	conns    map[catalog.Engine][]string
	inserts  int
	updates  int
	clusters map[catalog.Key]string
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		rows:     make(map[catalog.Key]*catalog.Row),
		conns:    make(map[catalog.Engine][]string),
		clusters: make(map[catalog.Key]string),
	}
}

func (f *fakeCatalog) DistinctConnections(ctx context.Context, engine catalog.Engine) ([]string, error) {
	return f.conns[engine], nil
}

func (f *fakeCatalog) Get(ctx context.Context, key catalog.Key) (*catalog.Row, error) {
	row, ok := f.rows[key]
	if !ok {
		return nil, catalog.ErrNotFound.New("%v", key)
	}
	return row, nil
}

func (f *fakeCatalog) Insert(ctx context.Context, row *catalog.Row) error {
	f.rows[row.Key()] = row
	f.inserts++
	return nil
}

func (f *fakeCatalog) UpdateMetadata(ctx context.Context, row *catalog.Row) error {
	existing := f.rows[row.Key()]
	existing.LastSyncColumn = row.LastSyncColumn
	existing.Strategy = row.Strategy
	existing.PKColumns = row.PKColumns
	existing.CandidateColumns = row.CandidateColumns
	existing.HasPK = row.HasPK
	existing.TableSize = row.TableSize
	f.updates++
	return nil
}

func (f *fakeCatalog) ListByEngine(ctx context.Context, engine catalog.Engine) ([]*catalog.Row, error) {
	var rows []*catalog.Row
	for _, row := range f.rows {
		if row.Engine == engine {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func (f *fakeCatalog) UpdateClusterName(ctx context.Context, key catalog.Key, cluster string) error {
	f.clusters[key] = cluster
	if row, ok := f.rows[key]; ok {
		row.ClusterName = cluster
	}
	return nil
}

func testChore(t *testing.T, cat Catalog, adapter source.Adapter) *Chore {
	open := func(ctx context.Context, log *zap.Logger, engine catalog.Engine, conn string) (source.Adapter, error) {
		return adapter, nil
	}
	return NewChore(zaptest.NewLogger(t), cat, open, time.Minute)
}

func TestDiscoverInsertsPending(t *testing.T) {
	ctx := context.Background()
	adapter := &fakeAdapter{
		engine: catalog.EngineMariaDB,
		tables: []source.SchemaTable{{Schema: "shop", Table: "orders"}},
		columns: map[string][]source.Column{
			"shop.orders": {
				{Name: "id", Type: "int", Key: "PRI"},
				{Name: "updated_at", Type: "datetime"},
			},
		},
		pks:    map[string][]string{"shop.orders": {"id"}},
		counts: map[string]int64{"shop.orders": 12},
	}
	cat := newFakeCatalog()
	cat.conns[catalog.EngineMariaDB] = []string{"dsn"}

	chore := testChore(t, cat, adapter)
	require.NoError(t, chore.RunOnce(ctx))

	require.Equal(t, 1, cat.inserts)
	row := cat.rows[catalog.Key{SchemaName: "shop", TableName: "orders", Engine: catalog.EngineMariaDB}]
	require.NotNil(t, row)
	require.Equal(t, catalog.StatusPending, row.Status)
	require.False(t, row.Active)
	require.Equal(t, catalog.StrategyPK, row.Strategy)
	require.Equal(t, []string{"id"}, row.PKColumns)
	require.Equal(t, "updated_at", row.LastSyncColumn)
	require.True(t, row.HasPK)
	require.Equal(t, int64(12), row.TableSize)
}

func TestDiscoverUpdatesMetadataOnly(t *testing.T) {
	ctx := context.Background()
	adapter := &fakeAdapter{
		engine: catalog.EngineMariaDB,
		tables: []source.SchemaTable{{Schema: "shop", Table: "orders"}},
		columns: map[string][]source.Column{
			"shop.orders": {
				{Name: "id", Type: "int", Key: "PRI"},
				{Name: "updated_at", Type: "datetime"},
			},
		},
		pks:    map[string][]string{"shop.orders": {"id"}},
		counts: map[string]int64{"shop.orders": 99},
	}
	cat := newFakeCatalog()
	cat.conns[catalog.EngineMariaDB] = []string{"dsn"}

	key := catalog.Key{SchemaName: "shop", TableName: "orders", Engine: catalog.EngineMariaDB}
	cat.rows[key] = &catalog.Row{
		SchemaName:       "shop",
		TableName:        "orders",
		Engine:           catalog.EngineMariaDB,
		ConnectionString: "dsn",
		ClusterName:      "PRODUCTION",
		Status:           catalog.StatusListening,
		Strategy:         catalog.StrategyPK,
		PKColumns:        []string{"id"},
		LastSyncColumn:   "updated_at",
		HasPK:            true,
		TableSize:        12,
		Active:           true,
	}

	chore := testChore(t, cat, adapter)
	require.NoError(t, chore.RunOnce(ctx))

	require.Equal(t, 0, cat.inserts)
	require.Equal(t, 1, cat.updates)
	require.Equal(t, catalog.StatusListening, cat.rows[key].Status)
	require.True(t, cat.rows[key].Active)
	require.Equal(t, int64(99), cat.rows[key].TableSize)
}

func TestBackfillClusterFromHostname(t *testing.T) {
	ctx := context.Background()
	adapter := &fakeAdapter{
		engine:   catalog.EngineMariaDB,
		hostname: "db-prod-01",
	}
	cat := newFakeCatalog()
	key := catalog.Key{SchemaName: "shop", TableName: "orders", Engine: catalog.EngineMariaDB}
	cat.rows[key] = &catalog.Row{
		SchemaName:       "shop",
		TableName:        "orders",
		Engine:           catalog.EngineMariaDB,
		ConnectionString: "dsn",
	}

	chore := testChore(t, cat, adapter)
	require.NoError(t, chore.RunOnce(ctx))
	require.Equal(t, "PRODUCTION", cat.clusters[key])
}

func TestClassifyCluster(t *testing.T) {
	for hostname, want := range map[string]string{
		"db-prod-01":     "PRODUCTION",
		"staging-sql":    "STAGING",
		"dev.internal":   "DEVELOPMENT",
		"uat-db":         "UAT",
		"qa-box":         "QA",
		"test-mariadb":   "TESTING",
		"localhost":      "LOCAL",
		"127.0.0.1":      "LOCAL",
		"db.example.com": "UNKNOWN",
		"":               "UNKNOWN",
	} {
		require.Equal(t, want, ClassifyCluster(hostname), "hostname %q", hostname)
	}
}

func TestHostFromConn(t *testing.T) {
	for conn, want := range map[string]string{
		"postgres://user:pw@db-prod.example.com:5432/app": "db-prod.example.com",
		"mongodb://mongo-stag:27017":                      "mongo-stag",
		"user:pw@tcp(maria-dev:3306)/shop":                "maria-dev",
		"server=sql-test;user id=sa;password=pw":          "sql-test",
		"server=sql-test,1433;user id=sa":                 "sql-test",
		"garbage":                                         "",
	} {
		require.Equal(t, want, HostFromConn(conn), "conn %q", conn)
	}
}
