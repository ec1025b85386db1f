package fusion

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/cairn/internal/cache"
	"horse.fit/cairn/internal/db"
	"horse.fit/cairn/internal/eventlock"
)

// memoryCacheBackend is an in-memory cache.Backend with first-writer-wins
// semantics, mirroring the cache_entries table.
type memoryCacheBackend struct {
	mu      sync.Mutex
	entries map[string]json.RawMessage
}

func newMemoryCacheBackend() *memoryCacheBackend {
	return &memoryCacheBackend{entries: make(map[string]json.RawMessage)}
}

func (m *memoryCacheBackend) UpsertCacheEntry(_ context.Context, namespace string, key []byte, value json.RawMessage) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := namespace + "/" + string(key)
	if _, exists := m.entries[k]; exists {
		return false, nil
	}
	m.entries[k] = value
	return true, nil
}

func (m *memoryCacheBackend) GetCacheEntry(_ context.Context, namespace string, key []byte) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, exists := m.entries[namespace+"/"+string(key)]
	if !exists {
		return nil, db.ErrNoRows
	}
	return value, nil
}

// memoryStore holds one event and its member records; canonical updates
// bump version and store the members hash like the real store does.
type memoryStore struct {
	mu      sync.Mutex
	event   db.EventRow
	records []db.RecordRow
	updates int
}

func (m *memoryStore) ListEventsForFusion(_ context.Context, _ int) ([]db.EventRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return []db.EventRow{m.event}, nil
}

func (m *memoryStore) ListEventMemberRecords(_ context.Context, _ int64) ([]db.RecordRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records, nil
}

func (m *memoryStore) UpdateEventCanonical(_ context.Context, _ int64, canonical json.RawMessage, membersHash []byte, memberCount int, accidentDate, place, activity *string) (*db.EventRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	m.event.Canonical = canonical
	m.event.MembersHash = membersHash
	m.event.MemberCount = memberCount
	m.event.AccidentDate = accidentDate
	m.event.Place = place
	m.event.Activity = activity
	m.event.Version++
	m.event.ChangeSeq++
	row := m.event
	return &row, nil
}

func (m *memoryStore) snapshot() (int, db.EventRow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updates, m.event
}

func memberRow(recordID string, confidence float64, summary string) db.RecordRow {
	payload := fmt.Sprintf(`{"fields":{"accident_date":"2025-01-01","mountain_name":"Mount Test","activity":"climbing","summary_text":%q}}`, summary)
	return db.RecordRow{
		RecordID:    recordID,
		SourceURL:   "https://example.test/" + recordID,
		Payload:     json.RawMessage(payload),
		Confidence:  confidence,
		ExtractedAt: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
	}
}

func newTestService(store storage, backend cache.Backend) *Service {
	return &Service{
		pool:    store,
		cache:   cache.NewStore(backend, zerolog.Nop()),
		logger:  zerolog.Nop(),
		workers: 1,
		locks:   eventlock.New(4),
	}
}

// Fusing the same member set twice must write the canonical exactly once:
// the second pass sees a matching members hash and leaves version alone.
func TestRunFusesChangedMembershipExactlyOnce(t *testing.T) {
	t.Parallel()

	store := &memoryStore{
		event: db.EventRow{EventSeq: 1, EventKey: "abc123abc123", Status: "active"},
		records: []db.RecordRow{
			memberRow("rec-a", 0.6, "Short account."),
			memberRow("rec-b", 0.9, "A longer account of the fall near the summit."),
		},
	}
	service := newTestService(store, newMemoryCacheBackend())

	summary, err := service.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	if summary.EventsFused != 1 {
		t.Fatalf("expected one fused event, got %+v", summary)
	}

	updates, event := store.snapshot()
	if updates != 1 || event.Version != 1 {
		t.Fatalf("expected one canonical write, got updates=%d version=%d", updates, event.Version)
	}

	var canonical map[string]any
	if err := json.Unmarshal(event.Canonical, &canonical); err != nil {
		t.Fatalf("canonical is not valid JSON: %v", err)
	}
	if canonical["summary_text"] != "A longer account of the fall near the summit." {
		t.Fatalf("expected the longest narrative, got %q", canonical["summary_text"])
	}

	// Unchanged membership: no canonical write, no version bump.
	again, err := service.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected rerun error: %v", err)
	}
	if again.Unchanged != 1 || again.EventsFused != 0 {
		t.Fatalf("rerun must be a no-op, got %+v", again)
	}

	updates, event = store.snapshot()
	if updates != 1 || event.Version != 1 {
		t.Fatalf("rerun changed the event: updates=%d version=%d", updates, event.Version)
	}
}
