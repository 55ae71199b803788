// Copyright (C) 2026 Tidemark Authors.
// See LICENSE for copying information.

package mirror

import (
	"tidemark.io/tidemark/private/migrate"
)

// Migration returns the versioned steps that create and evolve the metadata
// schema on the target database.
func Migration() *migrate.Migration {
	return &migrate.Migration{
		Table: "metadata.versions",
		Steps: []*migrate.Step{
			{
				Description: "create metadata schema and catalog table",
				Version:     0,
				SQL: []string{
					`CREATE SCHEMA IF NOT EXISTS metadata`,
					`CREATE TABLE metadata.catalog (
						schema_name       text NOT NULL,
						table_name        text NOT NULL,
						cluster_name      text,
						db_engine         text NOT NULL
							CHECK (db_engine IN ('MariaDB', 'MSSQL', 'MongoDB', 'PostgreSQL')),
						connection_string text NOT NULL,
						last_sync_time    timestamp,
						last_sync_column  text,
						status            text NOT NULL
							CHECK (status IN ('PENDING', 'FULL_LOAD', 'LISTENING_CHANGES',
								'RESET', 'NO_DATA', 'ERROR', 'SKIP')),
						last_offset       text,
						last_processed_pk text,
						pk_strategy       text NOT NULL
							CHECK (pk_strategy IN ('PK', 'TEMPORAL_PK', 'OFFSET')),
						pk_columns        text,
						candidate_columns text,
						has_pk            boolean NOT NULL,
						table_size        bigint NOT NULL DEFAULT 0,
						active            boolean NOT NULL DEFAULT false,
						PRIMARY KEY (schema_name, table_name, db_engine)
					)`,
				},
			},
			{
				Description: "create config table",
				Version:     1,
				SQL: []string{
					`CREATE TABLE metadata.config (
						key   text NOT NULL PRIMARY KEY,
						value text
					)`,
				},
			},
			{
				Description: "seed default config values",
				Version:     2,
				SQL: []string{
					`INSERT INTO metadata.config (key, value) VALUES
						('chunk_size', '25000'),
						('sync_interval', '30'),
						('debug_level', 'INFO'),
						('debug_show_timestamps', 'true'),
						('debug_show_thread_id', 'false'),
						('debug_show_file_line', 'false')
					ON CONFLICT (key) DO NOTHING`,
				},
			},
		},
	}
}
