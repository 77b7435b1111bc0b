package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencarto/territoria/internal/critstore"
	"github.com/opencarto/territoria/internal/geo"
	"github.com/opencarto/territoria/internal/registry"
	"github.com/opencarto/territoria/pkg/opendata"
)

// memStore is an in-memory critstore.Store for runner tests.
type memStore struct {
	values    map[string]critstore.CriterionValue
	runs      []*critstore.Run
	upsertErr error
	failAll   bool
}

func newMemStore() *memStore {
	return &memStore{values: make(map[string]critstore.CriterionValue)}
}

func (m *memStore) Upsert(_ context.Context, records []critstore.CriterionValue) (critstore.UpsertResult, error) {
	if m.upsertErr != nil {
		return critstore.UpsertResult{}, m.upsertErr
	}
	if m.failAll {
		return critstore.UpsertResult{
			Failed: []critstore.FailedBatch{{Offset: 0, Count: len(records), Reason: "store unavailable"}},
		}, nil
	}
	for _, r := range records {
		m.values[r.TerritoryCode+"/"+r.CriterionID] = r
	}
	return critstore.UpsertResult{Inserted: len(records)}, nil
}

func (m *memStore) QueryByTerritoryCodes(_ context.Context, criterionID string, codes []string) ([]critstore.CriterionValue, error) {
	var out []critstore.CriterionValue
	for _, code := range codes {
		if v, ok := m.values[code+"/"+criterionID]; ok {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *memStore) CreateRun(_ context.Context, criterionID string) (*critstore.Run, error) {
	run := &critstore.Run{
		ID:          "run-" + criterionID,
		CriterionID: criterionID,
		Status:      critstore.RunRunning,
		StartedAt:   time.Now().UTC(),
	}
	m.runs = append(m.runs, run)
	return run, nil
}

func (m *memStore) CompleteRun(_ context.Context, run *critstore.Run) error {
	now := time.Now().UTC()
	run.FinishedAt = &now
	return nil
}

func (m *memStore) ListRuns(_ context.Context, _ int) ([]critstore.Run, error) {
	out := make([]critstore.Run, len(m.runs))
	for i, r := range m.runs {
		out[i] = *r
	}
	return out, nil
}

func (m *memStore) Migrate(context.Context) error { return nil }
func (m *memStore) Close() error                  { return nil }

func testIndex(t *testing.T) *geo.Index {
	t.Helper()
	index, err := geo.NewIndex([]geo.Territory{
		{Code: "11", Name: "Île-de-France", Level: geo.LevelRegion},
		{Code: "75", Name: "Paris", Level: geo.LevelDepartment, ParentCode: "11"},
		{Code: "75056", Name: "Paris", Level: geo.LevelCommune, ParentCode: "75", Latitude: 48.8566, Longitude: 2.3522},
		{Code: "93", Name: "Seine-Saint-Denis", Level: geo.LevelDepartment, ParentCode: "11"},
		{Code: "93066", Name: "Saint-Denis", Level: geo.LevelCommune, ParentCode: "93", Latitude: 48.9362, Longitude: 2.3574},
		{Code: "93048", Name: "Montreuil", Level: geo.LevelCommune, ParentCode: "93", Latitude: 48.8638, Longitude: 2.4485},
	})
	require.NoError(t, err)
	return index
}

func incomeCriterion() registry.Criterion {
	return registry.Criterion{ID: "median_income", Name: "Revenu médian", Unit: "€", HigherIsBetter: true, Enabled: true}
}

func TestRun_ScoresRanksAndPersists(t *testing.T) {
	store := newMemStore()
	runner := NewRunner(store, testIndex(t), geo.LevelCommune, 2)
	src := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	summary, err := runner.Run(context.Background(), incomeCriterion(), []opendata.Observation{
		{EntityID: "75056", Value: 28400},
		{EntityID: "93066", Value: 17900},
		{EntityID: "93048", Value: 21300},
	}, src)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Territories)
	assert.Equal(t, 3, summary.Inserted)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 0, summary.Skipped)

	paris := store.values["75056/median_income"]
	stDenis := store.values["93066/median_income"]
	montreuil := store.values["93048/median_income"]

	assert.Equal(t, 28400.0, paris.RawValue)
	assert.Equal(t, src, paris.SourceDate)

	// Higher income scores and ranks better.
	assert.Greater(t, paris.Score, montreuil.Score)
	assert.Greater(t, montreuil.Score, stDenis.Score)
	assert.Equal(t, 1, paris.RankNational)
	assert.Equal(t, 2, montreuil.RankNational)
	assert.Equal(t, 3, stDenis.RankNational)
}

func TestRun_SkipsUnknownCodes(t *testing.T) {
	store := newMemStore()
	runner := NewRunner(store, testIndex(t), geo.LevelCommune, 2)

	summary, err := runner.Run(context.Background(), incomeCriterion(), []opendata.Observation{
		{EntityID: "75056", Value: 28400},
		{EntityID: "99999", Value: 12000},
		{EntityID: "11", Value: 15000}, // a region code, not a commune at this level, but known
	}, time.Now())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Skipped)
	// The region observation is known to the index but never matches a
	// commune when records are built, so only the commune persists.
	assert.Equal(t, 1, summary.Territories)
	assert.Contains(t, store.values, "75056/median_income")
}

func TestRun_JournalsFailedBatches(t *testing.T) {
	store := newMemStore()
	store.failAll = true
	runner := NewRunner(store, testIndex(t), geo.LevelCommune, 2)

	summary, err := runner.Run(context.Background(), incomeCriterion(), []opendata.Observation{
		{EntityID: "75056", Value: 28400},
		{EntityID: "93066", Value: 17900},
	}, time.Now())
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Inserted)
	assert.Equal(t, 2, summary.Failed)
	require.Len(t, store.runs, 1)
	assert.Equal(t, critstore.RunFailed, store.runs[0].Status)
	assert.NotNil(t, store.runs[0].FinishedAt)
}

func TestRun_UpsertErrorJournalsAndFails(t *testing.T) {
	store := newMemStore()
	store.upsertErr = eris.New("connection refused")
	runner := NewRunner(store, testIndex(t), geo.LevelCommune, 2)

	_, err := runner.Run(context.Background(), incomeCriterion(), []opendata.Observation{
		{EntityID: "75056", Value: 28400},
	}, time.Now())
	require.Error(t, err)
	require.Len(t, store.runs, 1)
	assert.Equal(t, critstore.RunFailed, store.runs[0].Status)
}

func TestRunStations_NearestStationValue(t *testing.T) {
	store := newMemStore()
	runner := NewRunner(store, testIndex(t), geo.LevelCommune, 2)

	sunshine := registry.Criterion{ID: "sunshine_hours", Name: "Ensoleillement", Unit: "h", HigherIsBetter: true, Enabled: true}
	summary, err := runner.RunStations(context.Background(), sunshine, []opendata.StationReading{
		{StationID: "07156", Latitude: 48.8217, Longitude: 2.3378, Value: 1662},
		{StationID: "07157", Latitude: 48.95, Longitude: 2.44, Value: 1700},
	}, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Territories)

	// Paris centre sits closest to Montsouris, Saint-Denis to the
	// northern station.
	assert.Equal(t, 1662.0, store.values["75056/sunshine_hours"].RawValue)
	assert.Equal(t, 1700.0, store.values["93066/sunshine_hours"].RawValue)
}
