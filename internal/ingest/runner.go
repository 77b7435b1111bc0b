// Package ingest runs criterion ingestion: raw observations in, normalized
// scores and national ranks out, persisted through the criterion value store
// with a journal entry per run.
package ingest

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/opencarto/territoria/internal/critstore"
	"github.com/opencarto/territoria/internal/geo"
	"github.com/opencarto/territoria/internal/registry"
	"github.com/opencarto/territoria/internal/scoring"
	"github.com/opencarto/territoria/internal/spatial"
	"github.com/opencarto/territoria/pkg/opendata"
)

// Runner executes ingestion runs for one territory level.
type Runner struct {
	store      critstore.Store
	index      *geo.Index
	level      geo.Level
	mapWorkers int
}

// NewRunner creates a Runner persisting to store and resolving territories
// through index at the given level.
func NewRunner(store critstore.Store, index *geo.Index, level geo.Level, mapWorkers int) *Runner {
	return &Runner{store: store, index: index, level: level, mapWorkers: mapWorkers}
}

// Summary describes one completed run.
type Summary struct {
	RunID       string
	CriterionID string
	Territories int
	Inserted    int
	Failed      int
	Skipped     int
	Elapsed     time.Duration
}

// Run ingests code-keyed observations for one criterion: observations whose
// entity code is unknown at the runner's level are skipped and counted, the
// rest are normalized against each other and ranked, then upserted. The run
// is journaled even when some batches fail.
func (r *Runner) Run(ctx context.Context, criterion registry.Criterion, observations []opendata.Observation, sourceDate time.Time) (*Summary, error) {
	values := make(map[string]float64, len(observations))
	dates := make(map[string]time.Time, len(observations))
	skipped := 0
	for _, obs := range observations {
		if r.index.Get(obs.EntityID) == nil {
			skipped++
			continue
		}
		values[obs.EntityID] = obs.Value
		if !obs.Date.IsZero() {
			dates[obs.EntityID] = obs.Date
		}
	}
	if skipped > 0 {
		zap.L().Warn("ingest: observations for unknown territories",
			zap.String("criterion", criterion.ID),
			zap.Int("skipped", skipped),
		)
	}

	return r.persist(ctx, criterion, values, dates, sourceDate, skipped)
}

// RunStations ingests station readings for one criterion. Each territory at
// the runner's level takes the value of its nearest station, then the run
// proceeds as a code-keyed run.
func (r *Runner) RunStations(ctx context.Context, criterion registry.Criterion, readings []opendata.StationReading, sourceDate time.Time) (*Summary, error) {
	stations := make([]spatial.Station, len(readings))
	for i, rd := range readings {
		stations[i] = spatial.Station{
			ID:    rd.StationID,
			Lat:   rd.Latitude,
			Lon:   rd.Longitude,
			Value: rd.Value,
		}
	}

	mapper := spatial.Mapper{Workers: r.mapWorkers}
	values, err := mapper.MapNearest(ctx, r.index.AtLevel(r.level), stations)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: map stations to territories")
	}

	return r.persist(ctx, criterion, values, nil, sourceDate, 0)
}

func (r *Runner) persist(ctx context.Context, criterion registry.Criterion, values map[string]float64, dates map[string]time.Time, sourceDate time.Time, skipped int) (*Summary, error) {
	run, err := r.store.CreateRun(ctx, criterion.ID)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: create run")
	}
	start := time.Now()

	scores := scoring.NormalizeAll(values, criterion.HigherIsBetter)
	ranks := scoring.RankMap(values, criterion.HigherIsBetter)

	records := make([]critstore.CriterionValue, 0, len(values))
	for _, t := range r.index.AtLevel(r.level) {
		raw, ok := values[t.Code]
		if !ok {
			continue
		}
		date := sourceDate
		if d, ok := dates[t.Code]; ok {
			date = d
		}
		records = append(records, critstore.CriterionValue{
			TerritoryCode: t.Code,
			CriterionID:   criterion.ID,
			RawValue:      raw,
			Score:         scores[t.Code],
			RankNational:  ranks[t.Code],
			SourceDate:    date,
		})
	}

	result, err := r.store.Upsert(ctx, records)
	if err != nil {
		run.Status = critstore.RunFailed
		run.Skipped = skipped
		if cerr := r.store.CompleteRun(ctx, run); cerr != nil {
			zap.L().Error("ingest: journal failed run", zap.Error(cerr))
		}
		return nil, eris.Wrap(err, "ingest: upsert values")
	}

	run.Status = critstore.RunCompleted
	if len(result.Failed) > 0 {
		run.Status = critstore.RunFailed
	}
	run.Territories = len(records)
	run.Inserted = result.Inserted
	run.Failed = result.FailedRecords()
	run.Skipped = skipped
	if err := r.store.CompleteRun(ctx, run); err != nil {
		return nil, eris.Wrap(err, "ingest: complete run")
	}

	summary := &Summary{
		RunID:       run.ID,
		CriterionID: criterion.ID,
		Territories: len(records),
		Inserted:    result.Inserted,
		Failed:      result.FailedRecords(),
		Skipped:     skipped,
		Elapsed:     time.Since(start),
	}

	zap.L().Info("ingest: run complete",
		zap.String("run_id", run.ID),
		zap.String("criterion", criterion.ID),
		zap.String("status", string(run.Status)),
		zap.Int("territories", summary.Territories),
		zap.Int("inserted", summary.Inserted),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Duration("elapsed", summary.Elapsed),
	)

	return summary, nil
}
