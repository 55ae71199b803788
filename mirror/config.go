// Copyright (C) 2026 Tidemark Authors.
// See LICENSE for copying information.

package mirror

import "time"

// Config is the bootstrap configuration of the peer. Runtime tunables live
// in metadata.config and are served by the settings store.
type Config struct {
	// Database is the DSN of the target PostgreSQL, which also hosts the
	// metadata schema.
	Database string

	// CatalogSyncInterval is how often source discovery runs.
	CatalogSyncInterval time.Duration
	// MaintenanceInterval is how often catalog maintenance runs.
	MaintenanceInterval time.Duration
	// SettingsReloadInterval is how often metadata.config is re-read.
	SettingsReloadInterval time.Duration
}

// DefaultConfig returns the stock intervals.
func DefaultConfig() Config {
	return Config{
		CatalogSyncInterval:    5 * time.Minute,
		MaintenanceInterval:    10 * time.Minute,
		SettingsReloadInterval: 30 * time.Second,
	}
}
