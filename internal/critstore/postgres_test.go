package critstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testValues(n int, criterionID string) []CriterionValue {
	src := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	values := make([]CriterionValue, n)
	for i := range values {
		values[i] = CriterionValue{
			TerritoryCode: string(rune('A'+i%26)) + "001",
			CriterionID:   criterionID,
			RawValue:      float64(i),
			Score:         i % 101,
			RankNational:  i + 1,
			SourceDate:    src,
		}
	}
	return values
}

func expectUpsertBatch(mock pgxmock.PgxPoolIface, rowCount int) {
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_geo_criterion_values"}, upsertColumns).
		WillReturnResult(int64(rowCount))
	mock.ExpectExec("INSERT INTO \"geo\".\"criterion_values\"").
		WillReturnResult(pgxmock.NewResult("INSERT", int64(rowCount)))
	mock.ExpectCommit()
}

func TestPostgresUpsert_SingleBatch(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectUpsertBatch(mock, 3)

	store := NewPostgres(mock, 500, 500)
	result, err := store.Upsert(context.Background(), testValues(3, "median_income"))
	require.NoError(t, err)

	assert.Equal(t, 3, result.Inserted)
	assert.Empty(t, result.Failed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsert_SplitsIntoBatches(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectUpsertBatch(mock, 2)
	expectUpsertBatch(mock, 2)
	expectUpsertBatch(mock, 1)

	store := NewPostgres(mock, 2, 500)
	result, err := store.Upsert(context.Background(), testValues(5, "median_income"))
	require.NoError(t, err)

	assert.Equal(t, 5, result.Inserted)
	assert.Empty(t, result.Failed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsert_FailedBatchDoesNotBlockLaterBatches(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	// Batch 1 succeeds, batch 2 fails at COPY, batch 3 succeeds.
	expectUpsertBatch(mock, 2)

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_geo_criterion_values"}, upsertColumns).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	expectUpsertBatch(mock, 2)

	store := NewPostgres(mock, 2, 500)
	result, err := store.Upsert(context.Background(), testValues(6, "median_income"))
	require.NoError(t, err)

	assert.Equal(t, 4, result.Inserted)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, 2, result.Failed[0].Offset)
	assert.Equal(t, 2, result.Failed[0].Count)
	assert.Contains(t, result.Failed[0].Reason, "connection reset")
	assert.Equal(t, 2, result.FailedRecords())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsert_Empty(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgres(mock, 500, 500)
	result, err := store.Upsert(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Inserted)
	assert.Empty(t, result.Failed)
}

func TestPostgresQueryByTerritoryCodes_Chunks(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	src := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	cols := []string{"territory_code", "criterion_id", "raw_value", "score", "rank_national", "source_date"}

	mock.ExpectQuery("SELECT territory_code, criterion_id, raw_value").
		WithArgs("median_income", []string{"75056", "13055"}).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("75056", "median_income", 28400.0, 91, 12, src).
			AddRow("13055", "median_income", 21300.0, 58, 102, src))
	mock.ExpectQuery("SELECT territory_code, criterion_id, raw_value").
		WithArgs("median_income", []string{"69123"}).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("69123", "median_income", 24600.0, 73, 44, src))

	store := NewPostgres(mock, 500, 2)
	values, err := store.QueryByTerritoryCodes(context.Background(), "median_income", []string{"75056", "13055", "69123"})
	require.NoError(t, err)

	require.Len(t, values, 3)
	assert.Equal(t, "75056", values[0].TerritoryCode)
	assert.Equal(t, 91, values[0].Score)
	assert.Equal(t, "69123", values[2].TerritoryCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRunJournal(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO geo.ingestion_runs").
		WithArgs(pgxmock.AnyArg(), "median_income", "running", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE geo.ingestion_runs").
		WithArgs(pgxmock.AnyArg(), "completed", 34945, 34900, 0, 45, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	store := NewPostgres(mock, 500, 500)
	run, err := store.CreateRun(context.Background(), "median_income")
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, RunRunning, run.Status)
	assert.Nil(t, run.FinishedAt)

	run.Status = RunCompleted
	run.Territories = 34945
	run.Inserted = 34900
	run.Skipped = 45
	require.NoError(t, store.CompleteRun(context.Background(), run))
	assert.NotNil(t, run.FinishedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListRuns(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	started := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	finished := started.Add(3 * time.Minute)
	cols := []string{"id", "criterion_id", "status", "territories", "inserted", "failed", "skipped", "started_at", "finished_at"}

	mock.ExpectQuery("SELECT id, criterion_id, status").
		WithArgs(10).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("run-2", "sunshine_hours", "running", 0, 0, 0, 0, started.Add(time.Hour), (*time.Time)(nil)).
			AddRow("run-1", "median_income", "completed", 101, 101, 0, 0, started, &finished))

	store := NewPostgres(mock, 500, 500)
	runs, err := store.ListRuns(context.Background(), 10)
	require.NoError(t, err)

	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID)
	assert.Equal(t, RunRunning, runs[0].Status)
	assert.Nil(t, runs[0].FinishedAt)
	assert.Equal(t, RunCompleted, runs[1].Status)
	require.NotNil(t, runs[1].FinishedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}
