// Package ingest accepts upstream accident-record payloads into the
// immutable source-record ledger. Records are validated, signed with a
// content signature and stored once; re-ingesting a record_id is a
// no-op.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/cairn/internal/db"
	"horse.fit/cairn/internal/fingerprint"
	"horse.fit/cairn/internal/identity"
	recordschema "horse.fit/cairn/schema"
)

// Result tallies one ingest invocation.
type Result struct {
	Accepted   int
	Duplicates int
	Rejected   int
}

type Service struct {
	pool   *db.Pool
	logger zerolog.Logger
}

func NewService(pool *db.Pool, logger zerolog.Logger) *Service {
	return &Service{
		pool:   pool,
		logger: logger,
	}
}

// IngestPayload validates and stores one record payload.
func (s *Service) IngestPayload(ctx context.Context, payload json.RawMessage) (accepted bool, err error) {
	record, err := recordschema.ValidateAccidentRecordPayload(payload)
	if err != nil {
		return false, fmt.Errorf("payload rejected: %w", err)
	}

	extractedAt, err := time.Parse(time.RFC3339, strings.TrimSpace(record.ExtractedAt))
	if err != nil {
		return false, fmt.Errorf("payload rejected: extracted_at: %w", err)
	}

	fields := identity.Extract(record.Fields)
	signature := fingerprint.Record(record.RecordID, fields.Date, fields.Place, fields.Activity)

	row := &db.SourceRecord{
		RecordID:    record.RecordID,
		SourceURL:   record.SourceURL,
		Payload:     payload,
		Confidence:  record.Confidence,
		ExtractedAt: extractedAt.UTC(),
		Signature:   signature,
	}
	if fields.Date != "" {
		row.AccidentDate = &fields.Date
	}
	if fields.Place != "" {
		row.Place = &fields.Place
	}
	if fields.Activity != "" {
		row.Activity = &fields.Activity
	}

	inserted, err := s.pool.InsertSourceRecord(ctx, row)
	if err != nil {
		return false, err
	}
	if !inserted {
		s.logger.Debug().Str("record_id", record.RecordID).Msg("record already ingested")
		return false, nil
	}

	s.logger.Info().
		Str("record_id", record.RecordID).
		Str("signature", fingerprint.Hex(signature)).
		Msg("record ingested")
	return true, nil
}

// IngestFile ingests one JSON payload file.
func (s *Service) IngestFile(ctx context.Context, path string) (bool, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	return s.IngestPayload(ctx, payload)
}

// IngestDir walks a directory and ingests every .json file. Rejected
// payloads are counted and logged, never abort the walk.
func (s *Service) IngestDir(ctx context.Context, dir string) (*Result, error) {
	result := &Result{}

	walkErr := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(path), ".json") {
			return nil
		}

		accepted, ingestErr := s.IngestFile(ctx, path)
		switch {
		case ingestErr != nil:
			s.logger.Warn().Err(ingestErr).Str("path", path).Msg("payload rejected")
			result.Rejected++
		case accepted:
			result.Accepted++
		default:
			result.Duplicates++
		}
		return nil
	})
	if walkErr != nil {
		return result, walkErr
	}
	return result, nil
}
