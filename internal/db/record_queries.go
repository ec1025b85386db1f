package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// RecordRow is the read model the resolver works on: one validated
// source record plus its assignment state.
type RecordRow struct {
	RecordSeq    int64           `json:"record_seq"`
	RecordID     string          `json:"record_id"`
	SourceURL    string          `json:"source_url"`
	Payload      json.RawMessage `json:"payload"`
	AccidentDate *string         `json:"accident_date,omitempty"`
	Place        *string         `json:"place,omitempty"`
	Activity     *string         `json:"activity,omitempty"`
	Confidence   float64         `json:"confidence"`
	ExtractedAt  time.Time       `json:"extracted_at"`
	Signature    []byte          `json:"-"`
}

// InsertSourceRecord stores one validated record. Re-ingesting the same
// record_id is a no-op; the first stored payload wins.
func (p *Pool) InsertSourceRecord(ctx context.Context, rec *SourceRecord) (bool, error) {
	if rec == nil {
		return false, fmt.Errorf("record is nil")
	}

	const q = `
INSERT INTO events.source_records
	(record_id, source_url, payload, accident_date, place, activity, confidence, extracted_at, signature)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (record_id) DO NOTHING`

	tag, err := p.Exec(ctx, q,
		rec.RecordID,
		rec.SourceURL,
		rec.Payload,
		rec.AccidentDate,
		rec.Place,
		rec.Activity,
		rec.Confidence,
		rec.ExtractedAt.UTC(),
		rec.Signature,
	)
	if err != nil {
		return false, fmt.Errorf("insert source record %s: %w", rec.RecordID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListUnassignedRecords returns records that are not yet a member of any
// event, oldest arrival first. afterSeq is a cursor: only records with a
// larger record_seq are returned, so a run that defers records does not
// fetch them again within the same run.
func (p *Pool) ListUnassignedRecords(ctx context.Context, afterSeq int64, limit int) ([]RecordRow, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}

	const q = `
SELECT
	r.record_seq,
	r.record_id,
	r.source_url,
	r.payload,
	r.accident_date,
	r.place,
	r.activity,
	r.confidence,
	r.extracted_at,
	r.signature
FROM events.source_records r
LEFT JOIN events.event_members m
	ON m.record_id = r.record_id
WHERE m.record_id IS NULL
  AND r.record_seq > $1
ORDER BY r.record_seq ASC
LIMIT $2`

	rows, err := p.Query(ctx, q, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("list unassigned records: %w", err)
	}
	defer rows.Close()

	return scanRecordRows(rows)
}

// GetSourceRecord returns one record by record_id, or ErrNoRows.
func (p *Pool) GetSourceRecord(ctx context.Context, recordID string) (*RecordRow, error) {
	const q = `
SELECT
	r.record_seq,
	r.record_id,
	r.source_url,
	r.payload,
	r.accident_date,
	r.place,
	r.activity,
	r.confidence,
	r.extracted_at,
	r.signature
FROM events.source_records r
WHERE r.record_id = $1`

	var row RecordRow
	if err := p.QueryRow(ctx, q, recordID).Scan(
		&row.RecordSeq,
		&row.RecordID,
		&row.SourceURL,
		&row.Payload,
		&row.AccidentDate,
		&row.Place,
		&row.Activity,
		&row.Confidence,
		&row.ExtractedAt,
		&row.Signature,
	); err != nil {
		return nil, err
	}
	return &row, nil
}

// ListEventMemberRecords returns the member records of one event, in
// record_id order so downstream fusion input is deterministic.
func (p *Pool) ListEventMemberRecords(ctx context.Context, eventSeq int64) ([]RecordRow, error) {
	const q = `
SELECT
	r.record_seq,
	r.record_id,
	r.source_url,
	r.payload,
	r.accident_date,
	r.place,
	r.activity,
	r.confidence,
	r.extracted_at,
	r.signature
FROM events.event_members m
JOIN events.source_records r
	ON r.record_id = m.record_id
WHERE m.event_seq = $1
ORDER BY r.record_id ASC`

	rows, err := p.Query(ctx, q, eventSeq)
	if err != nil {
		return nil, fmt.Errorf("list event member records: %w", err)
	}
	defer rows.Close()

	return scanRecordRows(rows)
}

func scanRecordRows(rows *Rows) ([]RecordRow, error) {
	records := make([]RecordRow, 0, 32)
	for rows.Next() {
		var row RecordRow
		if err := rows.Scan(
			&row.RecordSeq,
			&row.RecordID,
			&row.SourceURL,
			&row.Payload,
			&row.AccidentDate,
			&row.Place,
			&row.Activity,
			&row.Confidence,
			&row.ExtractedAt,
			&row.Signature,
		); err != nil {
			return nil, fmt.Errorf("scan record row: %w", err)
		}
		records = append(records, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate record rows: %w", err)
	}
	return records, nil
}
