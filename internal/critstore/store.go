// Package critstore persists criterion values (the per-territory raw value,
// normalized score, and national rank for each criterion) plus the journal
// of ingestion runs that produced them.
package critstore

import (
	"context"
	"time"
)

// CriterionValue is the current measurement of one criterion for one
// territory. (TerritoryCode, CriterionID) is the upsert key: a later run's
// row fully replaces the earlier one.
type CriterionValue struct {
	TerritoryCode string    `json:"territory_code"`
	CriterionID   string    `json:"criterion_id"`
	RawValue      float64   `json:"raw_value"`
	Score         int       `json:"score"`
	RankNational  int       `json:"rank_national"`
	SourceDate    time.Time `json:"source_date"`
}

// FailedBatch records one upsert batch that could not be applied. Offsets
// refer to the record slice passed to Upsert, so callers can retry exactly
// the failed slice.
type FailedBatch struct {
	Offset int    `json:"offset"`
	Count  int    `json:"count"`
	Reason string `json:"reason"`
}

// UpsertResult summarizes a chunked upsert. A failing batch never rolls back
// previously committed batches.
type UpsertResult struct {
	Inserted int           `json:"inserted"`
	Failed   []FailedBatch `json:"failed,omitempty"`
}

// FailedRecords returns the total number of records in failed batches.
func (r UpsertResult) FailedRecords() int {
	n := 0
	for _, b := range r.Failed {
		n += b.Count
	}
	return n
}

// RunStatus is the lifecycle state of an ingestion run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run is one criterion ingestion run's journal entry.
type Run struct {
	ID          string     `json:"id"`
	CriterionID string     `json:"criterion_id"`
	Status      RunStatus  `json:"status"`
	Territories int        `json:"territories"`
	Inserted    int        `json:"inserted"`
	Failed      int        `json:"failed"`
	Skipped     int        `json:"skipped"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// Reader is the read side consumed by the viewport assembler.
type Reader interface {
	// QueryByTerritoryCodes returns the stored values of one criterion for
	// the given codes. Codes with no stored value are simply absent from
	// the result. Lookups are chunked to respect backend query limits.
	QueryByTerritoryCodes(ctx context.Context, criterionID string, codes []string) ([]CriterionValue, error)
}

// Store is the full persistence interface for the ingestion pipeline.
type Store interface {
	Reader

	// Upsert writes records in batches keyed on (territory_code,
	// criterion_id). Batches are applied sequentially; a failed batch is
	// reported in the result and does not block later batches.
	Upsert(ctx context.Context, records []CriterionValue) (UpsertResult, error)

	// Run journal
	CreateRun(ctx context.Context, criterionID string) (*Run, error)
	CompleteRun(ctx context.Context, run *Run) error
	ListRuns(ctx context.Context, limit int) ([]Run, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
