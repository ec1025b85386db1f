package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// EventRow is the read model for one canonical accident event.
type EventRow struct {
	EventSeq     int64           `json:"event_seq"`
	EventUUID    string          `json:"event_uuid"`
	EventKey     string          `json:"event_key"`
	DetKey       *string         `json:"det_key,omitempty"`
	AccidentDate *string         `json:"accident_date,omitempty"`
	Place        *string         `json:"place,omitempty"`
	Activity     *string         `json:"activity,omitempty"`
	Canonical    json.RawMessage `json:"canonical,omitempty"`
	Version      int             `json:"version"`
	ChangeSeq    int64           `json:"change_seq"`
	MembersHash  []byte          `json:"-"`
	MemberCount  int             `json:"member_count"`
	FirstSeenAt  time.Time       `json:"first_seen_at"`
	LastSeenAt   time.Time       `json:"last_seen_at"`
	Status       string          `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

const eventColumns = `
	e.event_seq,
	e.event_uuid::text,
	e.event_key,
	e.det_key,
	e.accident_date,
	e.place,
	e.activity,
	e.canonical,
	e.version,
	e.change_seq,
	e.members_hash,
	e.member_count,
	e.first_seen_at,
	e.last_seen_at,
	e.status,
	e.created_at,
	e.updated_at`

// GetEventByKey returns one event by its stable key, or ErrNoRows.
func (p *Pool) GetEventByKey(ctx context.Context, eventKey string) (*EventRow, error) {
	q := `SELECT` + eventColumns + `
FROM events.events e
WHERE e.event_key = $1`

	return p.scanEventRow(ctx, q, eventKey)
}

// GetEventByDetKey returns the active event holding a deterministic
// clustering key, or ErrNoRows.
func (p *Pool) GetEventByDetKey(ctx context.Context, detKey string) (*EventRow, error) {
	q := `SELECT` + eventColumns + `
FROM events.events e
WHERE e.det_key = $1
  AND e.status = 'active'
ORDER BY e.event_seq ASC
LIMIT 1`

	return p.scanEventRow(ctx, q, detKey)
}

// EnsureEvent creates an event for the given stable key if it does not
// exist and returns the stored row either way. Concurrent creators of
// the same key converge on one row.
func (p *Pool) EnsureEvent(ctx context.Context, eventKey string, detKey, accidentDate, place, activity *string, seenAt time.Time) (*EventRow, bool, error) {
	const insert = `
INSERT INTO events.events
	(event_key, det_key, accident_date, place, activity, first_seen_at, last_seen_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)
ON CONFLICT (event_key) DO NOTHING`

	tag, err := p.Exec(ctx, insert, eventKey, detKey, accidentDate, place, activity, seenAt.UTC())
	if err != nil {
		return nil, false, fmt.Errorf("ensure event %s: %w", eventKey, err)
	}

	row, err := p.GetEventByKey(ctx, eventKey)
	if err != nil {
		return nil, false, fmt.Errorf("load ensured event %s: %w", eventKey, err)
	}
	return row, tag.RowsAffected() > 0, nil
}

// AddEventMember attaches a record to an event. The unique constraint on
// record_id makes this a no-op when the record already belongs to any
// event, including a different one; callers must verify actual
// membership when the insert reports no new row.
func (p *Pool) AddEventMember(ctx context.Context, eventSeq int64, recordID, matchType string) (bool, error) {
	const q = `
INSERT INTO events.event_members (event_seq, record_id, match_type)
VALUES ($1, $2, $3)
ON CONFLICT (record_id) DO NOTHING`

	tag, err := p.Exec(ctx, q, eventSeq, recordID, matchType)
	if err != nil {
		return false, fmt.Errorf("add member %s to event %d: %w", recordID, eventSeq, err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetMemberEventSeq returns the event a record belongs to, or ErrNoRows
// when the record is unassigned.
func (p *Pool) GetMemberEventSeq(ctx context.Context, recordID string) (int64, error) {
	const q = `
SELECT m.event_seq
FROM events.event_members m
WHERE m.record_id = $1`

	var eventSeq int64
	if err := p.QueryRow(ctx, q, recordID).Scan(&eventSeq); err != nil {
		return 0, err
	}
	return eventSeq, nil
}

// TouchEventSeen advances last_seen_at after new members arrive.
func (p *Pool) TouchEventSeen(ctx context.Context, eventSeq int64, seenAt time.Time) error {
	const q = `
UPDATE events.events
SET last_seen_at = GREATEST(last_seen_at, $2),
    updated_at = now()
WHERE event_seq = $1`

	if _, err := p.Exec(ctx, q, eventSeq, seenAt.UTC()); err != nil {
		return fmt.Errorf("touch event %d: %w", eventSeq, err)
	}
	return nil
}

// RecordAssignment appends one audit row describing how a record reached
// its event. Replays of the same record are ignored.
func (p *Pool) RecordAssignment(ctx context.Context, recordID, decision, eventKey string, detKey, batchFingerprint *string) error {
	const q = `
INSERT INTO events.assignment_events
	(record_id, decision, event_key, det_key, batch_fingerprint)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (record_id) DO NOTHING`

	if _, err := p.Exec(ctx, q, recordID, decision, eventKey, detKey, batchFingerprint); err != nil {
		return fmt.Errorf("record assignment for %s: %w", recordID, err)
	}
	return nil
}

// UpdateEventCanonical stores a freshly fused canonical record. Each call
// bumps the event version and claims the next global change sequence, so
// pollers ordering by change_seq never miss a recompute.
func (p *Pool) UpdateEventCanonical(ctx context.Context, eventSeq int64, canonical json.RawMessage, membersHash []byte, memberCount int, accidentDate, place, activity *string) (*EventRow, error) {
	const q = `
UPDATE events.events e
SET canonical = $2,
    members_hash = $3,
    member_count = $4,
    accident_date = COALESCE($5, e.accident_date),
    place = COALESCE($6, e.place),
    activity = COALESCE($7, e.activity),
    version = e.version + 1,
    change_seq = nextval('events.event_change_seq'),
    updated_at = now()
WHERE e.event_seq = $1
RETURNING e.version, e.change_seq`

	var version int
	var changeSeq int64
	if err := p.QueryRow(ctx, q, eventSeq, canonical, membersHash, memberCount, accidentDate, place, activity).Scan(&version, &changeSeq); err != nil {
		return nil, fmt.Errorf("update canonical for event %d: %w", eventSeq, err)
	}

	q2 := `SELECT` + eventColumns + `
FROM events.events e
WHERE e.event_seq = $1`
	return p.scanEventRow(ctx, q2, eventSeq)
}

// ListActiveEvents returns active events, most recently seen first.
func (p *Pool) ListActiveEvents(ctx context.Context, limit, offset int) ([]EventRow, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}
	if offset < 0 {
		return nil, fmt.Errorf("offset must be >= 0")
	}

	q := `SELECT` + eventColumns + `
FROM events.events e
WHERE e.status = 'active'
ORDER BY e.last_seen_at DESC, e.event_seq DESC
LIMIT $1 OFFSET $2`

	return p.scanEventRows(ctx, q, limit, offset)
}

// ListEventsChangedAfter returns events whose canonical record was
// recomputed after the given watermark, oldest change first.
func (p *Pool) ListEventsChangedAfter(ctx context.Context, afterChangeSeq int64, limit int) ([]EventRow, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}

	q := `SELECT` + eventColumns + `
FROM events.events e
WHERE e.change_seq > $1
ORDER BY e.change_seq ASC
LIMIT $2`

	return p.scanEventRows(ctx, q, afterChangeSeq, limit)
}

// ListEventsForFusion returns active events with at least one member, so
// the fusion pass can compare stored members_hash against the current
// member set.
func (p *Pool) ListEventsForFusion(ctx context.Context, limit int) ([]EventRow, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}

	q := `SELECT` + eventColumns + `
FROM events.events e
WHERE e.status = 'active'
  AND EXISTS (
	SELECT 1 FROM events.event_members m WHERE m.event_seq = e.event_seq
  )
ORDER BY e.event_seq ASC
LIMIT $1`

	return p.scanEventRows(ctx, q, limit)
}

func (p *Pool) scanEventRow(ctx context.Context, query string, args ...any) (*EventRow, error) {
	var row EventRow
	if err := p.QueryRow(ctx, query, args...).Scan(
		&row.EventSeq,
		&row.EventUUID,
		&row.EventKey,
		&row.DetKey,
		&row.AccidentDate,
		&row.Place,
		&row.Activity,
		&row.Canonical,
		&row.Version,
		&row.ChangeSeq,
		&row.MembersHash,
		&row.MemberCount,
		&row.FirstSeenAt,
		&row.LastSeenAt,
		&row.Status,
		&row.CreatedAt,
		&row.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &row, nil
}

func (p *Pool) scanEventRows(ctx context.Context, query string, args ...any) ([]EventRow, error) {
	rows, err := p.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := make([]EventRow, 0, 32)
	for rows.Next() {
		var row EventRow
		if err := rows.Scan(
			&row.EventSeq,
			&row.EventUUID,
			&row.EventKey,
			&row.DetKey,
			&row.AccidentDate,
			&row.Place,
			&row.Activity,
			&row.Canonical,
			&row.Version,
			&row.ChangeSeq,
			&row.MembersHash,
			&row.MemberCount,
			&row.FirstSeenAt,
			&row.LastSeenAt,
			&row.Status,
			&row.CreatedAt,
			&row.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		events = append(events, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}
	return events, nil
}
