package db

import (
	"context"
	"fmt"
	"time"
)

// ResolutionStats is the read model returned by the stats command and
// the stats API endpoint.
type ResolutionStats struct {
	Day                 string           `json:"day"`
	Records             int64            `json:"records"`
	UnassignedRecords   int64            `json:"unassigned_records"`
	Events              int64            `json:"events"`
	EventsWithCanonical int64            `json:"events_with_canonical"`
	CacheEntries        map[string]int64 `json:"cache_entries"`
	LatestChangeSeq     int64            `json:"latest_change_seq"`
	RunsToday           int64            `json:"runs_today"`
}

// QueryResolutionStats returns store-wide counts plus daily run
// throughput for the UTC day starting at dayStart.
func (p *Pool) QueryResolutionStats(ctx context.Context, dayStart, dayEnd time.Time) (*ResolutionStats, error) {
	startUTC := dayStart.UTC()
	endUTC := dayEnd.UTC()
	if !startUTC.Before(endUTC) {
		return nil, fmt.Errorf("dayStart must be before dayEnd")
	}

	stats := &ResolutionStats{
		Day: startUTC.Format("2006-01-02"),
	}

	const q = `
SELECT
	(SELECT COUNT(*)::BIGINT FROM events.source_records) AS records,
	(SELECT COUNT(*)::BIGINT
		FROM events.source_records r
		LEFT JOIN events.event_members m ON m.record_id = r.record_id
		WHERE m.record_id IS NULL) AS unassigned_records,
	(SELECT COUNT(*)::BIGINT FROM events.events WHERE status = 'active') AS events,
	(SELECT COUNT(*)::BIGINT FROM events.events WHERE status = 'active' AND canonical IS NOT NULL) AS events_with_canonical,
	(SELECT COALESCE(MAX(change_seq), 0)::BIGINT FROM events.events) AS latest_change_seq,
	(SELECT COUNT(*)::BIGINT
		FROM events.resolution_runs
		WHERE started_at >= $1 AND started_at < $2) AS runs_today`

	if err := p.QueryRow(ctx, q, startUTC, endUTC).Scan(
		&stats.Records,
		&stats.UnassignedRecords,
		&stats.Events,
		&stats.EventsWithCanonical,
		&stats.LatestChangeSeq,
		&stats.RunsToday,
	); err != nil {
		return nil, fmt.Errorf("query resolution stats: %w", err)
	}

	cacheCounts, err := p.CountCacheEntries(ctx)
	if err != nil {
		return nil, err
	}
	stats.CacheEntries = cacheCounts

	return stats, nil
}
