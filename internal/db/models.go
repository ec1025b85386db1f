package db

import (
	"encoding/json"
	"time"
)

// ResolutionRun maps events.resolution_runs.
type ResolutionRun struct {
	RunID                 int64      `gorm:"column:run_id;primaryKey;autoIncrement"`
	RunUUID               string     `gorm:"column:run_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	StartedAt             time.Time  `gorm:"column:started_at;type:timestamptz;not null;default:now()"`
	FinishedAt            *time.Time `gorm:"column:finished_at;type:timestamptz"`
	Status                string     `gorm:"column:status;type:text;not null;default:running"`
	RecordsTotal          int        `gorm:"column:records_total;type:integer;not null;default:0"`
	CacheReplayed         int        `gorm:"column:cache_replayed;type:integer;not null;default:0"`
	ClassifierResolved    int        `gorm:"column:classifier_resolved;type:integer;not null;default:0"`
	DeterministicResolved int        `gorm:"column:deterministic_resolved;type:integer;not null;default:0"`
	Deferred              int        `gorm:"column:deferred;type:integer;not null;default:0"`
	NewEvents             int        `gorm:"column:new_events;type:integer;not null;default:0"`
	EventsFused           int        `gorm:"column:events_fused;type:integer;not null;default:0"`
	FusionSkipped         int        `gorm:"column:fusion_skipped;type:integer;not null;default:0"`
	Warnings              int        `gorm:"column:warnings;type:integer;not null;default:0"`
	ErrorMessage          *string    `gorm:"column:error_message;type:text"`
	CreatedAt             time.Time  `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt             time.Time  `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (ResolutionRun) TableName() string { return "events.resolution_runs" }

// SourceRecord maps events.source_records.
type SourceRecord struct {
	RecordSeq    int64           `gorm:"column:record_seq;primaryKey;autoIncrement"`
	RecordUUID   string          `gorm:"column:record_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	RecordID     string          `gorm:"column:record_id;type:text;not null;unique"`
	SourceURL    string          `gorm:"column:source_url;type:text;not null"`
	Payload      json.RawMessage `gorm:"column:payload;type:jsonb;not null"`
	AccidentDate *string         `gorm:"column:accident_date;type:text"`
	Place        *string         `gorm:"column:place;type:text"`
	Activity     *string         `gorm:"column:activity;type:text"`
	Confidence   float64         `gorm:"column:confidence;type:double precision;not null;default:0"`
	ExtractedAt  time.Time       `gorm:"column:extracted_at;type:timestamptz;not null"`
	Signature    []byte          `gorm:"column:signature;type:bytea;not null"`
	CreatedAt    time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (SourceRecord) TableName() string { return "events.source_records" }

// Event maps events.events.
type Event struct {
	EventSeq     int64           `gorm:"column:event_seq;primaryKey;autoIncrement"`
	EventUUID    string          `gorm:"column:event_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	EventKey     string          `gorm:"column:event_key;type:text;not null;unique"`
	DetKey       *string         `gorm:"column:det_key;type:text"`
	AccidentDate *string         `gorm:"column:accident_date;type:text"`
	Place        *string         `gorm:"column:place;type:text"`
	Activity     *string         `gorm:"column:activity;type:text"`
	Canonical    json.RawMessage `gorm:"column:canonical;type:jsonb"`
	Version      int             `gorm:"column:version;type:integer;not null;default:0"`
	ChangeSeq    int64           `gorm:"column:change_seq;type:bigint;not null;default:0"`
	MembersHash  []byte          `gorm:"column:members_hash;type:bytea"`
	MemberCount  int             `gorm:"column:member_count;type:integer;not null;default:0"`
	FirstSeenAt  time.Time       `gorm:"column:first_seen_at;type:timestamptz;not null"`
	LastSeenAt   time.Time       `gorm:"column:last_seen_at;type:timestamptz;not null"`
	Status       string          `gorm:"column:status;type:text;not null;default:active"`
	CreatedAt    time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt    time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Event) TableName() string { return "events.events" }

// EventMember maps events.event_members. The unique constraint on
// record_id is what enforces at-most-one-event membership per record.
type EventMember struct {
	EventSeq   int64     `gorm:"column:event_seq;type:bigint;primaryKey"`
	RecordID   string    `gorm:"column:record_id;type:text;primaryKey;unique"`
	MemberUUID string    `gorm:"column:member_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	MatchType  string    `gorm:"column:match_type;type:text;not null"`
	MatchedAt  time.Time `gorm:"column:matched_at;type:timestamptz;not null;default:now()"`
}

func (EventMember) TableName() string { return "events.event_members" }

// CacheEntry maps events.cache_entries. Keys are content hashes, so a
// row is immutable once written; concurrent writers race benignly.
type CacheEntry struct {
	Namespace string          `gorm:"column:namespace;type:text;primaryKey"`
	CacheKey  []byte          `gorm:"column:cache_key;type:bytea;primaryKey"`
	Value     json.RawMessage `gorm:"column:value;type:jsonb;not null"`
	CreatedAt time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (CacheEntry) TableName() string { return "events.cache_entries" }

// AssignmentEvent maps events.assignment_events, the audit trail of how
// each record reached its event.
type AssignmentEvent struct {
	AssignmentID     int64     `gorm:"column:assignment_id;primaryKey;autoIncrement"`
	AssignmentUUID   string    `gorm:"column:assignment_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	RecordID         string    `gorm:"column:record_id;type:text;not null;unique"`
	Decision         string    `gorm:"column:decision;type:text;not null"`
	EventKey         string    `gorm:"column:event_key;type:text;not null"`
	DetKey           *string   `gorm:"column:det_key;type:text"`
	BatchFingerprint *string   `gorm:"column:batch_fingerprint;type:text"`
	CreatedAt        time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (AssignmentEvent) TableName() string { return "events.assignment_events" }

func autoMigrateModels() []any {
	return []any{
		&ResolutionRun{},
		&SourceRecord{},
		&Event{},
		&EventMember{},
		&CacheEntry{},
		&AssignmentEvent{},
	}
}
