// Copyright (C) 2026 Tidemark Authors.
// See LICENSE for copying information.

package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"tidemark.io/tidemark/shared/dbutil/pgutil"
)

var mon = monkit.Package()

// ErrNotFound is returned by Get when no catalog row matches the key.
var ErrNotFound = errs.Class("catalog row not found")

// ExistsProbe checks which of the given tables still exist on the source
// reachable through connString. Used by Cleanup to drop orphaned rows.
type ExistsProbe func(ctx context.Context, engine Engine, connString string, tables []Key) (map[Key]bool, error)

// Store persists catalog rows in metadata.catalog of the target database.
type Store struct {
	log *zap.Logger
	db  *sql.DB
}

// NewStore creates a catalog store on the target database handle.
func NewStore(log *zap.Logger, db *sql.DB) *Store {
	return &Store{log: log, db: db}
}

// DB exposes the underlying handle for collaborators that operate on the
// same target database (writer, settings).
func (s *Store) DB() *sql.DB { return s.db }

const rowColumns = `schema_name, table_name, cluster_name, db_engine, connection_string,
	last_sync_time, last_sync_column, status, last_offset, last_processed_pk,
	pk_strategy, pk_columns, candidate_columns, has_pk, table_size, active`

func scanRow(scanner interface{ Scan(...any) error }) (*Row, error) {
	var (
		row          Row
		cluster      sql.NullString
		syncTime     sql.NullTime
		syncColumn   sql.NullString
		lastOffset   sql.NullString
		lastPK       sql.NullString
		pkJSON       sql.NullString
		candJSON     sql.NullString
		engine, stat string
		strat        string
	)
	err := scanner.Scan(
		&row.SchemaName, &row.TableName, &cluster, &engine, &row.ConnectionString,
		&syncTime, &syncColumn, &stat, &lastOffset, &lastPK,
		&strat, &pkJSON, &candJSON, &row.HasPK, &row.TableSize, &row.Active,
	)
	if err != nil {
		return nil, err
	}
	row.ClusterName = cluster.String
	row.Engine = Engine(engine)
	row.Status = Status(stat)
	row.Strategy = Strategy(strat)
	row.LastSyncColumn = syncColumn.String
	if syncTime.Valid {
		t := syncTime.Time
		row.LastSyncTime = &t
	}
	if lastOffset.Valid {
		if n, err := strconv.ParseInt(lastOffset.String, 10, 64); err == nil {
			row.LastOffset = &n
		}
	}
	if lastPK.Valid {
		pk := lastPK.String
		row.LastProcessedPK = &pk
	}
	if pkJSON.Valid && pkJSON.String != "" {
		if err := json.Unmarshal([]byte(pkJSON.String), &row.PKColumns); err != nil {
			return nil, Error.Wrap(err)
		}
	}
	if candJSON.Valid && candJSON.String != "" {
		if err := json.Unmarshal([]byte(candJSON.String), &row.CandidateColumns); err != nil {
			return nil, Error.Wrap(err)
		}
	}
	return &row, nil
}

func marshalColumns(columns []string) (string, error) {
	if columns == nil {
		columns = []string{}
	}
	data, err := json.Marshal(columns)
	return string(data), Error.Wrap(err)
}

// Get fetches a single catalog row.
func (s *Store) Get(ctx context.Context, key Key) (_ *Row, err error) {
	defer mon.Task()(&ctx)(&err)

	row, err := scanRow(s.db.QueryRowContext(ctx, `
		SELECT `+rowColumns+`
		FROM metadata.catalog
		WHERE schema_name = $1 AND table_name = $2 AND db_engine = $3
	`, key.SchemaName, key.TableName, string(key.Engine)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound.New("%s.%s (%s)", key.SchemaName, key.TableName, key.Engine)
	}
	return row, Error.Wrap(err)
}

// ListActiveByEngine returns all active rows for an engine, smallest tables
// first so quick wins land before the monsters.
func (s *Store) ListActiveByEngine(ctx context.Context, engine Engine) (_ []*Row, err error) {
	defer mon.Task()(&ctx)(&err)
	return s.list(ctx, `
		SELECT `+rowColumns+`
		FROM metadata.catalog
		WHERE db_engine = $1 AND active
		ORDER BY table_size ASC, schema_name, table_name
	`, string(engine))
}

// ListByEngine returns every row for an engine regardless of active flag.
func (s *Store) ListByEngine(ctx context.Context, engine Engine) (_ []*Row, err error) {
	defer mon.Task()(&ctx)(&err)
	return s.list(ctx, `
		SELECT `+rowColumns+`
		FROM metadata.catalog
		WHERE db_engine = $1
		ORDER BY schema_name, table_name
	`, string(engine))
}

func (s *Store) list(ctx context.Context, query string, args ...any) (_ []*Row, err error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	var result []*Row
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		result = append(result, row)
	}
	return result, Error.Wrap(rows.Err())
}

// DistinctConnections returns the distinct connection strings known for an
// engine.
func (s *Store) DistinctConnections(ctx context.Context, engine Engine) (_ []string, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT connection_string
		FROM metadata.catalog
		WHERE db_engine = $1 AND connection_string IS NOT NULL AND connection_string <> ''
	`, string(engine))
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	var conns []string
	for rows.Next() {
		var conn string
		if err := rows.Scan(&conn); err != nil {
			return nil, Error.Wrap(err)
		}
		conns = append(conns, conn)
	}
	return conns, Error.Wrap(rows.Err())
}

// Insert creates a newly discovered row with pending status, inactive, and
// zeroed progress.
func (s *Store) Insert(ctx context.Context, row *Row) (err error) {
	defer mon.Task()(&ctx)(&err)

	pkJSON, err := marshalColumns(row.PKColumns)
	if err != nil {
		return err
	}
	candJSON, err := marshalColumns(row.CandidateColumns)
	if err != nil {
		return err
	}
	row.Status = StatusPending
	row.Active = false
	row.ResetProgress()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO metadata.catalog (
			schema_name, table_name, cluster_name, db_engine, connection_string,
			last_sync_column, status, last_offset, last_processed_pk,
			pk_strategy, pk_columns, candidate_columns, has_pk, table_size, active
		) VALUES ($1, $2, NULLIF($3, ''), $4, $5, NULLIF($6, ''), $7, $8, NULL, $9, $10, $11, $12, $13, false)
		ON CONFLICT (schema_name, table_name, db_engine) DO NOTHING
	`,
		row.SchemaName, row.TableName, row.ClusterName, string(row.Engine), row.ConnectionString,
		row.LastSyncColumn, string(StatusPending), nullableOffset(row),
		string(row.Strategy), pkJSON, candJSON, row.HasPK, row.TableSize,
	)
	return Error.Wrap(err)
}

// UpdateMetadata refreshes the discovered topology of an existing row without
// touching status or progress fields.
func (s *Store) UpdateMetadata(ctx context.Context, row *Row) (err error) {
	defer mon.Task()(&ctx)(&err)

	pkJSON, err := marshalColumns(row.PKColumns)
	if err != nil {
		return err
	}
	candJSON, err := marshalColumns(row.CandidateColumns)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE metadata.catalog
		SET last_sync_column = NULLIF($4, ''),
			pk_strategy = $5,
			pk_columns = $6,
			candidate_columns = $7,
			has_pk = $8,
			table_size = $9
		WHERE schema_name = $1 AND table_name = $2 AND db_engine = $3
	`,
		row.SchemaName, row.TableName, string(row.Engine),
		row.LastSyncColumn, string(row.Strategy), pkJSON, candJSON, row.HasPK, row.TableSize,
	)
	return Error.Wrap(err)
}

// UpdateStatus records a status transition together with strategy-shaped
// progress, and refreshes last_sync_time. Under the PK strategies the
// progress integer lands in last_processed_pk, otherwise in last_offset.
// last_sync_time never moves backwards.
func (s *Store) UpdateStatus(ctx context.Context, row *Row, status Status, progress int64) (err error) {
	defer mon.Task()(&ctx)(&err)

	syncTime, err := s.currentSyncTime(ctx, row)
	if err != nil {
		s.log.Warn("unable to refresh last_sync_time",
			zap.String("schema", row.SchemaName),
			zap.String("table", row.TableName),
			zap.Error(err),
		)
		syncTime = time.Now()
	}

	var lastOffset, lastPK any
	if row.Strategy == StrategyOffset {
		lastOffset = strconv.FormatInt(progress, 10)
	} else {
		lastPK = strconv.FormatInt(progress, 10)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE metadata.catalog
		SET status = $4,
			last_offset = $5,
			last_processed_pk = $6,
			last_sync_time = GREATEST(COALESCE(last_sync_time, 'epoch'::timestamp), $7)
		WHERE schema_name = $1 AND table_name = $2 AND db_engine = $3
	`,
		row.SchemaName, row.TableName, string(row.Engine),
		string(status), lastOffset, lastPK, syncTime,
	)
	if err != nil {
		return Error.Wrap(err)
	}

	row.Status = status
	if row.LastSyncTime == nil || syncTime.After(*row.LastSyncTime) {
		row.LastSyncTime = &syncTime
	}
	if row.Strategy == StrategyOffset {
		row.LastOffset = &progress
		row.LastProcessedPK = nil
	} else {
		pk := strconv.FormatInt(progress, 10)
		row.LastProcessedPK = &pk
		row.LastOffset = nil
	}
	return nil
}

// ResetStatus records a status transition and clears the resume cursor so
// the next load starts from the beginning. Under the OFFSET strategy the
// offset restarts at zero; the PK strategies clear last_processed_pk
// entirely, since no integer renders a valid PK token and a stale one would
// make the chunk loop skip low-sorting keys.
func (s *Store) ResetStatus(ctx context.Context, row *Row, status Status) (err error) {
	defer mon.Task()(&ctx)(&err)

	syncTime, err := s.currentSyncTime(ctx, row)
	if err != nil {
		s.log.Warn("unable to refresh last_sync_time",
			zap.String("schema", row.SchemaName),
			zap.String("table", row.TableName),
			zap.Error(err),
		)
		syncTime = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE metadata.catalog
		SET status = $4,
			last_offset = $5,
			last_processed_pk = NULL,
			last_sync_time = GREATEST(COALESCE(last_sync_time, 'epoch'::timestamp), $6)
		WHERE schema_name = $1 AND table_name = $2 AND db_engine = $3
	`, row.SchemaName, row.TableName, string(row.Engine), string(status), nullableOffset(row), syncTime)
	if err != nil {
		return Error.Wrap(err)
	}

	row.Status = status
	row.LastProcessedPK = nil
	if row.Strategy == StrategyOffset {
		zero := int64(0)
		row.LastOffset = &zero
	} else {
		row.LastOffset = nil
	}
	if row.LastSyncTime == nil || syncTime.After(*row.LastSyncTime) {
		row.LastSyncTime = &syncTime
	}
	return nil
}

// SetStatus records a status transition while leaving the progress fields
// untouched, for transitions that happen after the cursor already advanced.
// last_sync_time is refreshed the same way UpdateStatus does.
func (s *Store) SetStatus(ctx context.Context, row *Row, status Status) (err error) {
	defer mon.Task()(&ctx)(&err)

	syncTime, err := s.currentSyncTime(ctx, row)
	if err != nil {
		s.log.Warn("unable to refresh last_sync_time",
			zap.String("schema", row.SchemaName),
			zap.String("table", row.TableName),
			zap.Error(err),
		)
		syncTime = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE metadata.catalog
		SET status = $4,
			last_sync_time = GREATEST(COALESCE(last_sync_time, 'epoch'::timestamp), $5)
		WHERE schema_name = $1 AND table_name = $2 AND db_engine = $3
	`, row.SchemaName, row.TableName, string(row.Engine), string(status), syncTime)
	if err != nil {
		return Error.Wrap(err)
	}

	row.Status = status
	if row.LastSyncTime == nil || syncTime.After(*row.LastSyncTime) {
		row.LastSyncTime = &syncTime
	}
	return nil
}

// UpdateLastProcessedPK advances the opaque PK cursor without changing
// status.
func (s *Store) UpdateLastProcessedPK(ctx context.Context, row *Row, pk string) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = s.db.ExecContext(ctx, `
		UPDATE metadata.catalog
		SET last_processed_pk = $4, last_offset = NULL
		WHERE schema_name = $1 AND table_name = $2 AND db_engine = $3
	`, row.SchemaName, row.TableName, string(row.Engine), pk)
	if err != nil {
		return Error.Wrap(err)
	}
	row.LastProcessedPK = &pk
	row.LastOffset = nil
	return nil
}

// UpdateOffset advances the offset cursor without changing status.
func (s *Store) UpdateOffset(ctx context.Context, row *Row, offset int64) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = s.db.ExecContext(ctx, `
		UPDATE metadata.catalog
		SET last_offset = $4, last_processed_pk = NULL
		WHERE schema_name = $1 AND table_name = $2 AND db_engine = $3
	`, row.SchemaName, row.TableName, string(row.Engine), strconv.FormatInt(offset, 10))
	if err != nil {
		return Error.Wrap(err)
	}
	row.LastOffset = &offset
	row.LastProcessedPK = nil
	return nil
}

// UpdateClusterName backfills the derived cluster label.
func (s *Store) UpdateClusterName(ctx context.Context, key Key, cluster string) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = s.db.ExecContext(ctx, `
		UPDATE metadata.catalog
		SET cluster_name = $4
		WHERE schema_name = $1 AND table_name = $2 AND db_engine = $3
	`, key.SchemaName, key.TableName, string(key.Engine), cluster)
	return Error.Wrap(err)
}

// SetActive flips the active flag. Exposed for operators and tests.
func (s *Store) SetActive(ctx context.Context, key Key, active bool) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = s.db.ExecContext(ctx, `
		UPDATE metadata.catalog
		SET active = $4
		WHERE schema_name = $1 AND table_name = $2 AND db_engine = $3
	`, key.SchemaName, key.TableName, string(key.Engine), active)
	return Error.Wrap(err)
}

// Delete removes a catalog row.
func (s *Store) Delete(ctx context.Context, key Key) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = s.db.ExecContext(ctx, `
		DELETE FROM metadata.catalog
		WHERE schema_name = $1 AND table_name = $2 AND db_engine = $3
	`, key.SchemaName, key.TableName, string(key.Engine))
	return Error.Wrap(err)
}

// DeactivateNoData flips active off for every row that reached NO_DATA.
func (s *Store) DeactivateNoData(ctx context.Context) (deactivated int64, err error) {
	defer mon.Task()(&ctx)(&err)

	res, err := s.db.ExecContext(ctx, `
		UPDATE metadata.catalog
		SET active = false
		WHERE status = $1 AND active
	`, string(StatusNoData))
	if err != nil {
		return 0, Error.Wrap(err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// NormalizeInactive drives inactive mid-flight rows to SKIP with zeroed
// progress. Freshly discovered rows stay PENDING so that activating them
// later starts a clean full load.
func (s *Store) NormalizeInactive(ctx context.Context) (normalized int64, err error) {
	defer mon.Task()(&ctx)(&err)

	res, err := s.db.ExecContext(ctx, `
		UPDATE metadata.catalog
		SET status = $1,
			last_offset = CASE WHEN pk_strategy = $2 THEN '0' ELSE NULL END,
			last_processed_pk = NULL
		WHERE NOT active AND status NOT IN ($3, $4, $1)
	`, string(StatusSkip), string(StrategyOffset), string(StatusNoData), string(StatusPending))
	if err != nil {
		return 0, Error.Wrap(err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Cleanup removes rows that can no longer be synchronized and repairs rows
// that violate the strategy/progress invariant. When probe is non-nil it is
// used to drop rows whose source table disappeared, batching all rows of one
// connection into a single probe call.
func (s *Store) Cleanup(ctx context.Context, probe ExistsProbe) (err error) {
	defer mon.Task()(&ctx)(&err)

	// malformed rows are unsalvageable
	_, err = s.db.ExecContext(ctx, `
		DELETE FROM metadata.catalog
		WHERE connection_string IS NULL OR connection_string = ''
			OR schema_name IS NULL OR schema_name = ''
			OR table_name IS NULL OR table_name = ''
			OR db_engine NOT IN ($1, $2, $3, $4)
	`, string(EngineMariaDB), string(EngineMSSQL), string(EngineMongoDB), string(EnginePostgreSQL))
	if err != nil {
		return Error.Wrap(err)
	}

	// invariant violations null the offending side rather than delete
	_, err = s.db.ExecContext(ctx, `
		UPDATE metadata.catalog
		SET last_processed_pk = NULL
		WHERE pk_strategy = $1 AND last_processed_pk IS NOT NULL
	`, string(StrategyOffset))
	if err != nil {
		return Error.Wrap(err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE metadata.catalog
		SET last_offset = NULL
		WHERE pk_strategy IN ($1, $2) AND last_offset IS NOT NULL
	`, string(StrategyPK), string(StrategyTemporalPK))
	if err != nil {
		return Error.Wrap(err)
	}

	if probe == nil {
		return nil
	}
	return s.dropOrphans(ctx, probe)
}

func (s *Store) dropOrphans(ctx context.Context, probe ExistsProbe) error {
	for _, engine := range Engines() {
		conns, err := s.DistinctConnections(ctx, engine)
		if err != nil {
			return err
		}
		for _, conn := range conns {
			rows, err := s.list(ctx, `
				SELECT `+rowColumns+`
				FROM metadata.catalog
				WHERE db_engine = $1 AND connection_string = $2
			`, string(engine), conn)
			if err != nil {
				return err
			}
			keys := make([]Key, 0, len(rows))
			for _, row := range rows {
				keys = append(keys, row.Key())
			}
			exists, err := probe(ctx, engine, conn, keys)
			if err != nil {
				// a broken source only fails cleanup for this connection
				s.log.Warn("existence probe failed",
					zap.String("engine", string(engine)),
					zap.Error(err),
				)
				continue
			}
			for _, key := range keys {
				if exists[key] {
					continue
				}
				s.log.Info("removing orphaned catalog row",
					zap.String("schema", key.SchemaName),
					zap.String("table", key.TableName),
					zap.String("engine", string(key.Engine)),
				)
				if err := s.Delete(ctx, key); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// CountByStatus aggregates the catalog by status for cycle summaries.
func (s *Store) CountByStatus(ctx context.Context) (_ map[Status]int64, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := s.db.QueryContext(ctx, `
		SELECT status, count(*) FROM metadata.catalog GROUP BY status
	`)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	counts := make(map[Status]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, Error.Wrap(err)
		}
		counts[Status(status)] = count
	}
	return counts, Error.Wrap(rows.Err())
}

// currentSyncTime computes the new high-water mark: MAX(last_sync_column) of
// the target table when the column exists there, NOW() otherwise.
func (s *Store) currentSyncTime(ctx context.Context, row *Row) (time.Time, error) {
	if row.LastSyncColumn == "" {
		return time.Now(), nil
	}
	targetSchema, targetTable := row.TargetSchema(), row.TargetTable()
	hasColumn, err := pgutil.ColumnExists(ctx, s.db, targetSchema, targetTable, row.LastSyncColumn)
	if err != nil || !hasColumn {
		return time.Now(), err
	}
	var max sql.NullTime
	err = s.db.QueryRowContext(ctx,
		`SELECT MAX(`+pgutil.QuoteIdentifier(row.LastSyncColumn)+`) FROM `+
			pgutil.QuoteIdentifier(targetSchema)+`.`+pgutil.QuoteIdentifier(targetTable),
	).Scan(&max)
	if err != nil || !max.Valid {
		return time.Now(), err
	}
	return max.Time, nil
}

func nullableOffset(row *Row) any {
	if row.Strategy == StrategyOffset {
		return "0"
	}
	return nil
}
