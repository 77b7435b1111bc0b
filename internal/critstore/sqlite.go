package critstore

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite. It backs offline
// ingestion runs and tests; geometry stays in Postgres, so the SQLite store
// only carries values and the run journal.
type SQLiteStore struct {
	db         *sql.DB
	batchSize  int
	queryChunk int
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string, batchSize, queryChunk int) (*SQLiteStore, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if queryChunk <= 0 {
		queryChunk = DefaultQueryChunk
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, batchSize: batchSize, queryChunk: queryChunk}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS criterion_values (
	territory_code TEXT NOT NULL,
	criterion_id   TEXT NOT NULL,
	raw_value      REAL NOT NULL,
	score          INTEGER NOT NULL,
	rank_national  INTEGER NOT NULL DEFAULT 0,
	source_date    DATETIME NOT NULL,
	updated_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (territory_code, criterion_id)
);
CREATE INDEX IF NOT EXISTS idx_criterion_values_criterion ON criterion_values(criterion_id);

CREATE TABLE IF NOT EXISTS ingestion_runs (
	id           TEXT PRIMARY KEY,
	criterion_id TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	territories  INTEGER NOT NULL DEFAULT 0,
	inserted     INTEGER NOT NULL DEFAULT 0,
	failed       INTEGER NOT NULL DEFAULT 0,
	skipped      INTEGER NOT NULL DEFAULT 0,
	started_at   DATETIME NOT NULL,
	finished_at  DATETIME
);
CREATE INDEX IF NOT EXISTS idx_ingestion_runs_criterion ON ingestion_runs(criterion_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Upsert applies records in sequential per-batch transactions, mirroring the
// Postgres store's isolation: a failed batch is reported and skipped.
func (s *SQLiteStore) Upsert(ctx context.Context, records []CriterionValue) (UpsertResult, error) {
	var result UpsertResult

	for offset := 0; offset < len(records); offset += s.batchSize {
		end := offset + s.batchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[offset:end]

		if err := s.upsertBatch(ctx, batch); err != nil {
			zap.L().Warn("sqlite: upsert batch failed",
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

func (s *SQLiteStore) upsertBatch(ctx context.Context, batch []CriterionValue) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO criterion_values (territory_code, criterion_id, raw_value, score, rank_national, source_date, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT (territory_code, criterion_id) DO UPDATE SET
			raw_value = excluded.raw_value,
			score = excluded.score,
			rank_national = excluded.rank_national,
			source_date = excluded.source_date,
			updated_at = excluded.updated_at`)
	if err != nil {
		return eris.Wrap(err, "prepare upsert")
	}
	defer stmt.Close()

	for _, r := range batch {
		if _, err := stmt.ExecContext(ctx, r.TerritoryCode, r.CriterionID, r.RawValue, r.Score, r.RankNational, r.SourceDate.UTC()); err != nil {
			return eris.Wrapf(err, "upsert %s/%s", r.TerritoryCode, r.CriterionID)
		}
	}

	return eris.Wrap(tx.Commit(), "commit tx")
}

// QueryByTerritoryCodes looks up stored values chunk by chunk.
func (s *SQLiteStore) QueryByTerritoryCodes(ctx context.Context, criterionID string, codes []string) ([]CriterionValue, error) {
	var values []CriterionValue

	for start := 0; start < len(codes); start += s.queryChunk {
		end := start + s.queryChunk
		if end > len(codes) {
			end = len(codes)
		}
		chunk := codes[start:end]

		placeholders := strings.Repeat("?,", len(chunk))
		placeholders = placeholders[:len(placeholders)-1]
		args := make([]any, 0, len(chunk)+1)
		args = append(args, criterionID)
		for _, c := range chunk {
			args = append(args, c)
		}

		rows, err := s.db.QueryContext(ctx, `
			SELECT territory_code, criterion_id, raw_value, score, rank_national, source_date
			FROM criterion_values
			WHERE criterion_id = ? AND territory_code IN (`+placeholders+`)`, args...)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: query values")
		}

		for rows.Next() {
			var v CriterionValue
			if err := rows.Scan(&v.TerritoryCode, &v.CriterionID, &v.RawValue, &v.Score, &v.RankNational, &v.SourceDate); err != nil {
				rows.Close()
				return nil, eris.Wrap(err, "sqlite: scan value row")
			}
			values = append(values, v)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: iterate value rows")
		}
	}

	return values, nil
}

// CreateRun opens a journal entry for one criterion's ingestion run.
func (s *SQLiteStore) CreateRun(ctx context.Context, criterionID string) (*Run, error) {
	run := &Run{
		ID:          uuid.NewString(),
		CriterionID: criterionID,
		Status:      RunRunning,
		StartedAt:   time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingestion_runs (id, criterion_id, status, started_at)
		VALUES (?, ?, ?, ?)`,
		run.ID, run.CriterionID, string(run.Status), run.StartedAt)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: create run")
	}
	return run, nil
}

// CompleteRun finalizes a journal entry with its counters and status.
func (s *SQLiteStore) CompleteRun(ctx context.Context, run *Run) error {
	now := time.Now().UTC()
	run.FinishedAt = &now
	_, err := s.db.ExecContext(ctx, `
		UPDATE ingestion_runs
		SET status = ?, territories = ?, inserted = ?, failed = ?, skipped = ?, finished_at = ?
		WHERE id = ?`,
		string(run.Status), run.Territories, run.Inserted, run.Failed, run.Skipped, *run.FinishedAt, run.ID)
	if err != nil {
		return eris.Wrap(err, "sqlite: complete run")
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, criterion_id, status, territories, inserted, failed, skipped, started_at, finished_at
		FROM ingestion_runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var status string
		if err := rows.Scan(&r.ID, &r.CriterionID, &status, &r.Territories, &r.Inserted, &r.Failed, &r.Skipped, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run row")
		}
		r.Status = RunStatus(status)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate run rows")
	}
	return runs, nil
}
