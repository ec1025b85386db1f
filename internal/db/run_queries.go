package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// RunCounters carries the per-run outcome tallies written when a
// resolution run finishes.
type RunCounters struct {
	RecordsTotal          int
	CacheReplayed         int
	ClassifierResolved    int
	DeterministicResolved int
	Deferred              int
	NewEvents             int
	EventsFused           int
	FusionSkipped         int
	Warnings              int
}

// StartResolutionRun opens a run row in running state and returns its
// id plus the run UUID used in logs and summaries.
func (p *Pool) StartResolutionRun(ctx context.Context) (int64, string, error) {
	runUUID := uuid.NewString()

	const q = `
INSERT INTO events.resolution_runs (run_uuid, status)
VALUES ($1, 'running')
RETURNING run_id`

	var runID int64
	if err := p.QueryRow(ctx, q, runUUID).Scan(&runID); err != nil {
		return 0, "", fmt.Errorf("start resolution run: %w", err)
	}
	return runID, runUUID, nil
}

// FinishResolutionRun closes a run with its counters. A non-empty
// errorMessage marks the run failed; otherwise it completes.
func (p *Pool) FinishResolutionRun(ctx context.Context, runID int64, counters RunCounters, errorMessage string) error {
	status := "completed"
	var errMsg *string
	if errorMessage != "" {
		status = "failed"
		errMsg = &errorMessage
	}

	const q = `
UPDATE events.resolution_runs
SET status = $2,
    finished_at = now(),
    records_total = $3,
    cache_replayed = $4,
    classifier_resolved = $5,
    deterministic_resolved = $6,
    deferred = $7,
    new_events = $8,
    events_fused = $9,
    fusion_skipped = $10,
    warnings = $11,
    error_message = $12,
    updated_at = now()
WHERE run_id = $1`

	tag, err := p.Exec(ctx, q, runID, status,
		counters.RecordsTotal,
		counters.CacheReplayed,
		counters.ClassifierResolved,
		counters.DeterministicResolved,
		counters.Deferred,
		counters.NewEvents,
		counters.EventsFused,
		counters.FusionSkipped,
		counters.Warnings,
		errMsg,
	)
	if err != nil {
		return fmt.Errorf("finish resolution run %d: %w", runID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("resolution run %d not found", runID)
	}
	return nil
}
