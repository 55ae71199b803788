// Copyright (C) 2026 Tidemark Authors.
// See LICENSE for copying information.

// Package migrate runs versioned SQL migrations against the target database.
//
// It intentionally does not support undoing migrations or snapshotting; the
// metadata schema is small and only ever grows.
package migrate

import (
	"context"
	"database/sql"
	"regexp"
	"sort"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"tidemark.io/tidemark/shared/dbutil/txutil"
)

// Error is the default migrate errs class.
var Error = errs.Class("migrate")

// Migration describes a migration's steps.
type Migration struct {
	// Table is the fully qualified bookkeeping table holding applied versions.
	Table string
	Steps []*Step
}

// Step describes a single step in a migration.
type Step struct {
	Description string
	Version     int // Versions should start at 0.
	SQL         []string
}

// ValidTableName checks whether the specified version table name is valid.
func (migration *Migration) ValidTableName() error {
	matched, err := regexp.MatchString(`^[a-z_]+(\.[a-z_]+)?$`, migration.Table)
	if !matched || err != nil {
		return Error.New("invalid table name: %v", migration.Table)
	}
	return nil
}

// ValidateSteps checks that the version for each migration step increments in order.
func (migration *Migration) ValidateSteps() error {
	sorted := sort.SliceIsSorted(migration.Steps, func(i, j int) bool {
		return migration.Steps[i].Version <= migration.Steps[j].Version
	})
	if !sorted {
		return Error.New("steps have incorrect order")
	}
	return nil
}

// CurrentVersion returns the last applied version, or -1 when no migration ran yet.
func (migration *Migration) CurrentVersion(ctx context.Context, db *sql.DB) (int, error) {
	if err := migration.ensureVersionTable(ctx, db); err != nil {
		return -1, err
	}
	version := -1
	err := db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), -1) FROM `+migration.Table,
	).Scan(&version)
	return version, Error.Wrap(err)
}

// Run applies all pending steps in order, each inside its own transaction.
func (migration *Migration) Run(ctx context.Context, log *zap.Logger, db *sql.DB) error {
	if err := migration.ValidTableName(); err != nil {
		return err
	}
	if err := migration.ValidateSteps(); err != nil {
		return err
	}

	version, err := migration.CurrentVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, step := range migration.Steps {
		if step.Version <= version {
			continue
		}
		log.Info("running migration step",
			zap.Int("version", step.Version),
			zap.String("description", step.Description),
		)
		step := step
		err := txutil.WithTx(ctx, db, nil, func(ctx context.Context, tx *sql.Tx) error {
			for _, stmt := range step.SQL {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return Error.New("step %d %q: %w", step.Version, step.Description, err)
				}
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO `+migration.Table+` (version, commited_at) VALUES ($1, now())`,
				step.Version,
			)
			return Error.Wrap(err)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (migration *Migration) ensureVersionTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+migration.Table+` (
			version integer NOT NULL PRIMARY KEY,
			commited_at timestamp with time zone NOT NULL DEFAULT now()
		)
	`)
	return Error.Wrap(err)
}
