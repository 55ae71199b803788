// Copyright (C) 2026 Tidemark Authors.
// See LICENSE for copying information.

// Package settings serves the runtime tunables stored in metadata.config.
// The snapshot is reloaded on a timer; readers always see a consistent copy
// and observe changes at their next chunk boundary.
package settings

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"storj.io/common/sync2"
)

var (
	// Error is the default errs class for settings.
	Error = errs.Class("settings")

	mon = monkit.Package()
)

// Bounds and defaults of the persisted tunables.
const (
	DefaultChunkSize = 25000
	MinChunkSize     = 1
	MaxChunkSize     = 1 << 30

	DefaultSyncInterval = 30 * time.Second
	MinSyncInterval     = 5 * time.Second
	MaxSyncInterval     = 3600 * time.Second
)

// Snapshot is one consistent view of the tunables.
type Snapshot struct {
	ChunkSize    int
	SyncInterval time.Duration

	DebugLevel     zapcore.Level
	ShowTimestamps bool
	ShowThreadID   bool
	ShowFileLine   bool
}

// Defaults returns the snapshot used before the first successful reload.
func Defaults() Snapshot {
	return Snapshot{
		ChunkSize:      DefaultChunkSize,
		SyncInterval:   DefaultSyncInterval,
		DebugLevel:     zapcore.InfoLevel,
		ShowTimestamps: true,
	}
}

// CycleSleep is the orchestrator's pause between replication cycles.
func (s Snapshot) CycleSleep() time.Duration {
	quarter := s.SyncInterval / 4
	if quarter < 5*time.Second {
		return 5 * time.Second
	}
	return quarter
}

// Store reloads metadata.config on a timer and hands out snapshots.
type Store struct {
	log   *zap.Logger
	db    *sql.DB
	level zap.AtomicLevel

	mu      sync.Mutex
	current Snapshot

	Loop *sync2.Cycle
}

// NewStore wires the settings store around the catalog database handle.
func NewStore(log *zap.Logger, db *sql.DB, level zap.AtomicLevel, reloadInterval time.Duration) *Store {
	return &Store{
		log:     log,
		db:      db,
		level:   level,
		current: Defaults(),
		Loop:    sync2.NewCycle(reloadInterval),
	}
}

// Current returns the latest snapshot.
func (s *Store) Current() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Run reloads until the context is canceled.
func (s *Store) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)
	return s.Loop.Run(ctx, func(ctx context.Context) error {
		if err := s.Reload(ctx); err != nil {
			s.log.Warn("settings reload failed, keeping previous values", zap.Error(err))
		}
		return nil
	})
}

// Close stops the reload loop.
func (s *Store) Close() error {
	s.Loop.Close()
	return nil
}

// Reload reads metadata.config and swaps in a fresh snapshot.
func (s *Store) Reload(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM metadata.config`)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return Error.Wrap(err)
		}
		values[key] = value
	}
	if err := rows.Err(); err != nil {
		return Error.Wrap(err)
	}

	snapshot := FromValues(values)
	s.level.SetLevel(snapshot.DebugLevel)

	s.mu.Lock()
	s.current = snapshot
	s.mu.Unlock()
	return nil
}

// FromValues builds a snapshot from raw config rows, clamping out-of-range
// values to their bounds and falling back to defaults on parse failure.
func FromValues(values map[string]string) Snapshot {
	snapshot := Defaults()

	if raw, ok := values["chunk_size"]; ok {
		if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
			if n < MinChunkSize {
				n = MinChunkSize
			}
			if n > MaxChunkSize {
				n = MaxChunkSize
			}
			snapshot.ChunkSize = n
		}
	}

	if raw, ok := values["sync_interval"]; ok {
		if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
			interval := time.Duration(n) * time.Second
			if interval < MinSyncInterval {
				interval = MinSyncInterval
			}
			if interval > MaxSyncInterval {
				interval = MaxSyncInterval
			}
			snapshot.SyncInterval = interval
		}
	}

	if raw, ok := values["debug_level"]; ok {
		snapshot.DebugLevel = ParseLevel(raw)
	}
	snapshot.ShowTimestamps = parseBool(values["debug_show_timestamps"], snapshot.ShowTimestamps)
	snapshot.ShowThreadID = parseBool(values["debug_show_thread_id"], snapshot.ShowThreadID)
	snapshot.ShowFileLine = parseBool(values["debug_show_file_line"], snapshot.ShowFileLine)
	return snapshot
}

// ParseLevel maps the persisted level names to zap levels. Unknown names
// fall back to INFO.
func ParseLevel(raw string) zapcore.Level {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "DEBUG":
		return zapcore.DebugLevel
	case "INFO":
		return zapcore.InfoLevel
	case "WARN", "WARNING":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	case "FATAL", "CRITICAL":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func parseBool(raw string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true":
		return true
	case "false":
		return false
	default:
		return fallback
	}
}
