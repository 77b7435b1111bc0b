package critstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/opencarto/territoria/internal/db"
)

// DefaultBatchSize bounds one upsert batch; DefaultQueryChunk bounds one
// code-list lookup. Both default to ~500 to stay inside backend payload and
// parameter limits.
const (
	DefaultBatchSize  = 500
	DefaultQueryChunk = 500
)

// PostgresStore implements Store on PostgreSQL. The pool is owned by the
// caller.
type PostgresStore struct {
	pool       db.Pool
	batchSize  int
	queryChunk int
}

// NewPostgres creates a PostgresStore. batchSize and queryChunk fall back to
// the defaults when non-positive.
func NewPostgres(pool db.Pool, batchSize, queryChunk int) *PostgresStore {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if queryChunk <= 0 {
		queryChunk = DefaultQueryChunk
	}
	return &PostgresStore{pool: pool, batchSize: batchSize, queryChunk: queryChunk}
}

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS postgis;
CREATE SCHEMA IF NOT EXISTS geo;

CREATE TABLE IF NOT EXISTS geo.territories (
	code        TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	level       TEXT NOT NULL,
	parent_code TEXT,
	latitude    DOUBLE PRECISION NOT NULL DEFAULT 0,
	longitude   DOUBLE PRECISION NOT NULL DEFAULT 0,
	geom        geometry(MultiPolygon, 4326)
);
CREATE INDEX IF NOT EXISTS idx_territories_level ON geo.territories(level);
CREATE INDEX IF NOT EXISTS idx_territories_parent ON geo.territories(parent_code);
CREATE INDEX IF NOT EXISTS idx_territories_geom ON geo.territories USING gist (geom);

CREATE TABLE IF NOT EXISTS geo.criteria (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	unit             TEXT NOT NULL DEFAULT '',
	higher_is_better BOOLEAN NOT NULL DEFAULT true,
	color_low        TEXT NOT NULL DEFAULT '#edf8b1',
	color_mid        TEXT NOT NULL DEFAULT '#7fcdbb',
	color_high       TEXT NOT NULL DEFAULT '#2c7fb8',
	enabled          BOOLEAN NOT NULL DEFAULT true
);

CREATE TABLE IF NOT EXISTS geo.criterion_values (
	territory_code TEXT NOT NULL,
	criterion_id   TEXT NOT NULL,
	raw_value      DOUBLE PRECISION NOT NULL,
	score          INTEGER NOT NULL,
	rank_national  INTEGER NOT NULL DEFAULT 0,
	source_date    TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (territory_code, criterion_id)
);
CREATE INDEX IF NOT EXISTS idx_criterion_values_criterion ON geo.criterion_values(criterion_id);

CREATE TABLE IF NOT EXISTS geo.ingestion_runs (
	id           TEXT PRIMARY KEY,
	criterion_id TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	territories  INTEGER NOT NULL DEFAULT 0,
	inserted     INTEGER NOT NULL DEFAULT 0,
	failed       INTEGER NOT NULL DEFAULT 0,
	skipped      INTEGER NOT NULL DEFAULT 0,
	started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_ingestion_runs_criterion ON geo.ingestion_runs(criterion_id);
`

// Migrate creates the geo schema and tables.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "critstore: migrate")
	}
	return nil
}

// Close is a no-op; the caller owns the pool.
func (s *PostgresStore) Close() error { return nil }

var upsertColumns = []string{
	"territory_code", "criterion_id", "raw_value", "score", "rank_national", "source_date",
}

// Upsert writes records in sequential batches of batchSize. Each batch is
// its own transaction; a failure is recorded and the next batch proceeds, so
// one bad batch never discards the rest of the run.
func (s *PostgresStore) Upsert(ctx context.Context, records []CriterionValue) (UpsertResult, error) {
	var result UpsertResult

	cfg := db.UpsertConfig{
		Table:        "geo.criterion_values",
		Columns:      upsertColumns,
		ConflictKeys: []string{"territory_code", "criterion_id"},
	}

	for offset := 0; offset < len(records); offset += s.batchSize {
		end := offset + s.batchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[offset:end]

		rows := make([][]any, len(batch))
		for i, r := range batch {
			rows[i] = []any{r.TerritoryCode, r.CriterionID, r.RawValue, r.Score, r.RankNational, r.SourceDate}
		}

		if _, err := db.BulkUpsert(ctx, s.pool, cfg, rows); err != nil {
			zap.L().Warn("critstore: upsert batch failed",
				zap.Int("offset", offset),
				zap.Int("count", len(batch)),
				zap.Error(err),
			)
			result.Failed = append(result.Failed, FailedBatch{
				Offset: offset,
				Count:  len(batch),
				Reason: err.Error(),
			})
			continue
		}
		result.Inserted += len(batch)
	}

	return result, nil
}

// QueryByTerritoryCodes looks up stored values chunk by chunk.
func (s *PostgresStore) QueryByTerritoryCodes(ctx context.Context, criterionID string, codes []string) ([]CriterionValue, error) {
	var values []CriterionValue

	for _, chunk := range db.ChunkStrings(codes, s.queryChunk) {
		rows, err := s.pool.Query(ctx, `
			SELECT territory_code, criterion_id, raw_value, score, rank_national, source_date
			FROM geo.criterion_values
			WHERE criterion_id = $1 AND territory_code = ANY($2)`,
			criterionID, chunk)
		if err != nil {
			return nil, eris.Wrap(err, "critstore: query values")
		}

		for rows.Next() {
			var v CriterionValue
			if err := rows.Scan(&v.TerritoryCode, &v.CriterionID, &v.RawValue, &v.Score, &v.RankNational, &v.SourceDate); err != nil {
				rows.Close()
				return nil, eris.Wrap(err, "critstore: scan value row")
			}
			values = append(values, v)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, eris.Wrap(err, "critstore: iterate value rows")
		}
	}

	return values, nil
}

// CreateRun opens a journal entry for one criterion's ingestion run.
func (s *PostgresStore) CreateRun(ctx context.Context, criterionID string) (*Run, error) {
	run := &Run{
		ID:          uuid.NewString(),
		CriterionID: criterionID,
		Status:      RunRunning,
		StartedAt:   time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO geo.ingestion_runs (id, criterion_id, status, started_at)
		VALUES ($1, $2, $3, $4)`,
		run.ID, run.CriterionID, string(run.Status), run.StartedAt)
	if err != nil {
		return nil, eris.Wrap(err, "critstore: create run")
	}
	return run, nil
}

// CompleteRun finalizes a journal entry with its counters and status.
func (s *PostgresStore) CompleteRun(ctx context.Context, run *Run) error {
	now := time.Now().UTC()
	run.FinishedAt = &now
	_, err := s.pool.Exec(ctx, `
		UPDATE geo.ingestion_runs
		SET status = $2, territories = $3, inserted = $4, failed = $5, skipped = $6, finished_at = $7
		WHERE id = $1`,
		run.ID, string(run.Status), run.Territories, run.Inserted, run.Failed, run.Skipped, *run.FinishedAt)
	if err != nil {
		return eris.Wrap(err, "critstore: complete run")
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, criterion_id, status, territories, inserted, failed, skipped, started_at, finished_at
		FROM geo.ingestion_runs
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "critstore: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var status string
		if err := rows.Scan(&r.ID, &r.CriterionID, &status, &r.Territories, &r.Inserted, &r.Failed, &r.Skipped, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, eris.Wrap(err, "critstore: scan run row")
		}
		r.Status = RunStatus(status)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "critstore: iterate run rows")
	}
	return runs, nil
}
