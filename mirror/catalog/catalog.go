// Copyright (C) 2026 Tidemark Authors.
// See LICENSE for copying information.

// Package catalog defines the persisted model of replicated tables and the
// store that owns it. The catalog is both the system of record and the only
// coordination medium between the engine's workers.
package catalog

import (
	"strings"
	"time"

	"github.com/zeebo/errs"
)

// Error is the default errs class for the package.
var Error = errs.Class("catalog")

// Engine identifies a supported source database vendor.
type Engine string

// Supported source engines.
const (
	EngineMariaDB    Engine = "MariaDB"
	EngineMSSQL      Engine = "MSSQL"
	EngineMongoDB    Engine = "MongoDB"
	EnginePostgreSQL Engine = "PostgreSQL"
)

// Engines lists all supported engines in dispatch order.
func Engines() []Engine {
	return []Engine{EngineMariaDB, EngineMSSQL, EngineMongoDB, EnginePostgreSQL}
}

// Valid reports whether the engine is one of the recognized vendors.
func (e Engine) Valid() bool {
	switch e {
	case EngineMariaDB, EngineMSSQL, EngineMongoDB, EnginePostgreSQL:
		return true
	}
	return false
}

// Status is the per-table synchronization state.
type Status string

// Table synchronization states.
const (
	StatusPending   Status = "PENDING"
	StatusFullLoad  Status = "FULL_LOAD"
	StatusListening Status = "LISTENING_CHANGES"
	StatusReset     Status = "RESET"
	StatusNoData    Status = "NO_DATA"
	StatusError     Status = "ERROR"
	StatusSkip      Status = "SKIP"
)

// Strategy classifies how a table is paginated and how progress is recorded.
type Strategy string

// Pagination strategies.
const (
	// StrategyPK paginates on the primary key tuple.
	StrategyPK Strategy = "PK"
	// StrategyTemporalPK paginates on the first candidate column of a
	// table without a primary key.
	StrategyTemporalPK Strategy = "TEMPORAL_PK"
	// StrategyOffset paginates by plain row offset.
	StrategyOffset Strategy = "OFFSET"
)

// Classify derives the strategy from primary key and candidate column
// evidence.
func Classify(pkColumns, candidateColumns []string) Strategy {
	switch {
	case len(pkColumns) > 0:
		return StrategyPK
	case len(candidateColumns) > 0:
		return StrategyTemporalPK
	default:
		return StrategyOffset
	}
}

// Row is one persisted catalog record, keyed by
// (schema_name, table_name, db_engine).
type Row struct {
	SchemaName       string
	TableName        string
	ClusterName      string
	Engine           Engine
	ConnectionString string

	LastSyncTime   *time.Time
	LastSyncColumn string

	Status          Status
	LastOffset      *int64
	LastProcessedPK *string

	Strategy         Strategy
	PKColumns        []string
	CandidateColumns []string
	HasPK            bool

	TableSize int64
	Active    bool
}

// Key identifies a catalog row.
type Key struct {
	SchemaName string
	TableName  string
	Engine     Engine
}

// Key returns the row's identity.
func (r *Row) Key() Key {
	return Key{SchemaName: r.SchemaName, TableName: r.TableName, Engine: r.Engine}
}

// TargetSchema is the lowercased schema name used in the target database.
func (r *Row) TargetSchema() string { return strings.ToLower(r.SchemaName) }

// TargetTable is the lowercased table name used in the target database.
func (r *Row) TargetTable() string { return strings.ToLower(r.TableName) }

// NormalizeProgress enforces the strategy/progress invariant: exactly one of
// last_offset and last_processed_pk may be populated, matching the strategy.
// It returns true when a field had to be cleared.
func (r *Row) NormalizeProgress() bool {
	changed := false
	if r.Strategy == StrategyOffset {
		if r.LastProcessedPK != nil {
			r.LastProcessedPK = nil
			changed = true
		}
	} else {
		if r.LastOffset != nil {
			r.LastOffset = nil
			changed = true
		}
	}
	if r.HasPK != (len(r.PKColumns) > 0) {
		r.HasPK = len(r.PKColumns) > 0
		changed = true
	}
	return changed
}

// ResetProgress zeroes all progress tracking, as done on RESET and on
// deactivation.
func (r *Row) ResetProgress() {
	zero := int64(0)
	r.LastProcessedPK = nil
	r.LastOffset = nil
	if r.Strategy == StrategyOffset {
		r.LastOffset = &zero
	}
	r.LastSyncTime = nil
}
