// Copyright (C) 2026 Tidemark Authors.
// See LICENSE for copying information.

// Package source defines the read-only surface the replication engine needs
// from a source database, plus the shared SQL machinery the relational
// vendor adapters build on.
package source

import (
	"context"
	"strings"

	"github.com/zeebo/errs"

	"tidemark.io/tidemark/mirror/catalog"
)

// Error is the default errs class for source adapters.
var Error = errs.Class("source")

// SessionTimeoutSeconds is applied to vendor wait/lock timeouts on open.
const SessionTimeoutSeconds = 600

// SchemaTable names a table on the source.
type SchemaTable struct {
	Schema string
	Table  string
}

// Column describes one source column.
type Column struct {
	Name             string
	Type             string
	Nullable         bool
	Key              string
	Extra            string
	MaxLength        int64
	NumericPrecision int64
	NumericScale     int64
}

// Row is one source row as raw cell text keyed by column name. NULL cells
// are represented as the empty string; the normalizer treats that as an
// explicit NULL downstream.
type Row map[string]string

// Chunk is an ordered batch of rows together with the source column types
// needed for normalization.
type Chunk struct {
	Columns []Column
	Rows    []Row
}

// Cursor is the resumable position inside a bulk load. Its shape follows the
// catalog strategy: an ordered PK tuple, a single temporal value, or a plain
// offset. Offset is maintained for every strategy because the MongoDB
// adapter always paginates by skip/limit.
type Cursor struct {
	Strategy   catalog.Strategy
	KeyColumns []string
	LastValues []string
	Offset     int64
}

// Advance returns the cursor moved past the given last row of a chunk.
func (c Cursor) Advance(last Row, fetched int) Cursor {
	next := c
	next.Offset += int64(fetched)
	if len(c.KeyColumns) > 0 && last != nil {
		next.LastValues = make([]string, len(c.KeyColumns))
		for i, col := range c.KeyColumns {
			next.LastValues[i] = last[col]
		}
	}
	return next
}

// Token serializes the cursor position for the catalog progress columns.
// PK tuples join on "|"; the in-memory tuple stays authoritative within a
// cycle, the token is only re-split on resume.
func (c Cursor) Token() string {
	return strings.Join(c.LastValues, "|")
}

// ParseToken restores LastValues from a persisted token. Tokens whose arity
// disagrees with the key columns are discarded so a damaged cursor restarts
// the load instead of mis-paginating.
func (c Cursor) ParseToken(token string) Cursor {
	next := c
	next.LastValues = nil
	if token == "" {
		return next
	}
	parts := strings.Split(token, "|")
	if len(c.KeyColumns) > 0 && len(parts) != len(c.KeyColumns) {
		return next
	}
	next.LastValues = parts
	return next
}

// TupleKey canonicalizes a PK tuple for set membership.
func TupleKey(values []string) string {
	return strings.Join(values, "\x1f")
}

// Adapter is the per-vendor read-only capability set.
type Adapter interface {
	// Engine identifies the vendor.
	Engine() catalog.Engine

	// ListTables enumerates user tables, excluding system schemas.
	ListTables(ctx context.Context) ([]SchemaTable, error)

	// DescribeColumns returns columns ordered by ordinal position.
	DescribeColumns(ctx context.Context, schema, table string) ([]Column, error)

	// DetectPrimaryKey returns PK columns ordered by key ordinal, empty
	// when the table has none.
	DetectPrimaryKey(ctx context.Context, schema, table string) ([]string, error)

	// DetectTimeColumn returns the preferred high-water-mark column, or
	// empty when none qualifies.
	DetectTimeColumn(ctx context.Context, schema, table string) (string, error)

	// Count returns the current row count.
	Count(ctx context.Context, schema, table string) (int64, error)

	// ReadChunk returns up to chunkSize rows ordered by the cursor key,
	// along with the advanced cursor.
	ReadChunk(ctx context.Context, schema, table string, cursor Cursor, chunkSize int) (Chunk, Cursor, error)

	// ExistsInSource returns the subset of the given PK tuples that still
	// exist, keyed by TupleKey. Queries are issued in bounded sub-batches.
	ExistsInSource(ctx context.Context, schema, table string, pkColumns []string, tuples [][]string, chunkSize int) (map[string]bool, error)

	// Hostname reports the source's own hostname when the vendor exposes
	// it, empty otherwise.
	Hostname(ctx context.Context) (string, error)

	// Close releases the session.
	Close() error
}

// ExistsBatchSize bounds existence-probe sub-batches so generated queries
// stay a sane length.
func ExistsBatchSize(chunkSize int) int {
	n := chunkSize / 2
	if n > 500 {
		n = 500
	}
	if n < 1 {
		n = 1
	}
	return n
}
