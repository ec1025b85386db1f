package fusion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"horse.fit/cairn/internal/cache"
	"horse.fit/cairn/internal/classifier"
	"horse.fit/cairn/internal/config"
	"horse.fit/cairn/internal/db"
	"horse.fit/cairn/internal/eventlock"
	"horse.fit/cairn/internal/fingerprint"
	"horse.fit/cairn/internal/langdetect"
)

// storage is the event-store surface the fusion engine needs; *db.Pool
// satisfies it.
type storage interface {
	ListEventsForFusion(ctx context.Context, limit int) ([]db.EventRow, error)
	ListEventMemberRecords(ctx context.Context, eventSeq int64) ([]db.RecordRow, error)
	UpdateEventCanonical(ctx context.Context, eventSeq int64, canonical json.RawMessage, membersHash []byte, memberCount int, accidentDate, place, activity *string) (*db.EventRow, error)
}

// fusionScanLimit bounds how many events one pass examines.
const fusionScanLimit = 10000

// Summary reports one fusion pass.
type Summary struct {
	EventsExamined int
	EventsFused    int
	Unchanged      int
	CacheHits      int
	Warnings       int
}

// Service recomputes canonical records for events whose membership
// changed since the last pass.
type Service struct {
	pool    storage
	cache   *cache.Store
	fuser   classifier.Fuser // nil when no provider can merge narratives
	logger  zerolog.Logger
	workers int

	locks *eventlock.Locks

	mu      sync.Mutex
	summary Summary
}

func NewService(pool *db.Pool, store *cache.Store, provider classifier.Provider, cfg *config.Config, logger zerolog.Logger) *Service {
	workers := 4
	if cfg != nil {
		workers = cfg.ResolverWorkers
	}

	fuser, _ := provider.(classifier.Fuser)
	return &Service{
		pool:    pool,
		cache:   store,
		fuser:   fuser,
		logger:  logger,
		workers: workers,
		// Shared with the resolver: a concurrently running resolve pass
		// cannot interleave with fusion on the same event.
		locks: eventlock.Shared(),
	}
}

// Run fuses every event whose member set no longer matches its stored
// members_hash. Unchanged events are untouched: no version bump, no
// watermark movement.
func (s *Service) Run(ctx context.Context) (*Summary, error) {
	s.mu.Lock()
	s.summary = Summary{}
	s.mu.Unlock()

	events, err := s.pool.ListEventsForFusion(ctx, fusionScanLimit)
	if err != nil {
		return nil, err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.workers)
	for i := range events {
		event := events[i]
		group.Go(func() error {
			s.fuseEvent(groupCtx, event)
			return groupCtx.Err()
		})
	}
	runErr := group.Wait()

	s.mu.Lock()
	summary := s.summary
	s.mu.Unlock()

	s.logger.Info().
		Int("events_examined", summary.EventsExamined).
		Int("events_fused", summary.EventsFused).
		Int("unchanged", summary.Unchanged).
		Int("cache_hits", summary.CacheHits).
		Int("warnings", summary.Warnings).
		Msg("fusion pass finished")

	return &summary, runErr
}

func (s *Service) fuseEvent(ctx context.Context, event db.EventRow) {
	s.bump(func(sum *Summary) { sum.EventsExamined++ })

	unlock := s.locks.Lock(event.EventKey)
	defer unlock()

	rows, err := s.pool.ListEventMemberRecords(ctx, event.EventSeq)
	if err != nil {
		s.logger.Warn().Err(err).Str("event_key", event.EventKey).Msg("member load failed; skipping event")
		s.bump(func(sum *Summary) { sum.Warnings++ })
		return
	}
	if len(rows) == 0 {
		return
	}

	recordIDs := make([]string, 0, len(rows))
	for _, row := range rows {
		recordIDs = append(recordIDs, row.RecordID)
	}
	membersHash := fingerprint.MemberSet(recordIDs)

	if bytes.Equal(membersHash, event.MembersHash) {
		s.bump(func(sum *Summary) { sum.Unchanged++ })
		return
	}

	canonical, warnings := s.canonicalFor(ctx, event, rows, membersHash)
	if warnings > 0 {
		s.bump(func(sum *Summary) { sum.Warnings += warnings })
	}
	if canonical == nil {
		return
	}

	if _, err := s.pool.UpdateEventCanonical(ctx,
		event.EventSeq,
		canonical,
		membersHash,
		len(recordIDs),
		jsonStringField(canonical, "accident_date"),
		jsonStringField(canonical, "mountain_name"),
		jsonStringField(canonical, "activity"),
	); err != nil {
		s.logger.Warn().Err(err).Str("event_key", event.EventKey).Msg("canonical update failed; will retry next pass")
		s.bump(func(sum *Summary) { sum.Warnings++ })
		return
	}

	s.bump(func(sum *Summary) { sum.EventsFused++ })
}

// canonicalFor returns the canonical JSON for a member set, consulting
// the fusion cache keyed by the member-set fingerprint first.
func (s *Service) canonicalFor(ctx context.Context, event db.EventRow, rows []db.RecordRow, membersHash []byte) (json.RawMessage, int) {
	if value, found, err := s.cache.Get(ctx, fingerprint.NamespaceFusion, membersHash); err == nil && found {
		s.bump(func(sum *Summary) { sum.CacheHits++ })
		return value, 0
	} else if err != nil {
		s.logger.Warn().Err(err).Str("event_key", event.EventKey).Msg("fusion cache read failed")
	}

	members, warnings := membersFromRows(s.logger, rows)
	if len(members) == 0 {
		s.logger.Warn().Str("event_key", event.EventKey).Msg("no usable member payloads; skipping fusion")
		return nil, warnings + 1
	}

	result := Merge(members)

	for _, field := range result.Conflicts {
		merged, ok := s.fuseNarrativeConflict(ctx, event.EventKey, field, members)
		if ok {
			result.Canonical[field] = merged
		}
	}

	result.Canonical["source_urls"] = unionSourceURLs(result.Canonical["source_urls"], members)

	if language := narrativeLanguage(result.Canonical); language != "" {
		result.Canonical["narrative_language"] = language
	}

	canonical, err := json.Marshal(result.Canonical)
	if err != nil {
		s.logger.Warn().Err(err).Str("event_key", event.EventKey).Msg("canonical marshal failed")
		return nil, warnings + 1
	}

	s.cache.Put(ctx, fingerprint.NamespaceFusion, membersHash, canonical)
	return canonical, warnings
}

// fuseNarrativeConflict asks the LLM to merge conflicting variants; the
// deterministic pick stands when the provider is unavailable.
func (s *Service) fuseNarrativeConflict(ctx context.Context, eventKey, field string, members []Member) (string, bool) {
	if s.fuser == nil {
		return "", false
	}

	variants := make([]string, 0, len(members))
	for _, member := range members {
		text, _ := member.Fields[field].(string)
		if text != "" {
			variants = append(variants, text)
		}
	}
	if len(variants) < 2 {
		return "", false
	}

	resp, err := s.fuser.FuseNarratives(ctx, classifier.FusionRequest{
		EventKey: eventKey,
		Field:    field,
		Variants: variants,
	})
	if err != nil {
		if !errors.Is(err, classifier.ErrUnavailable) {
			s.logger.Warn().Err(err).Str("event_key", eventKey).Str("field", field).Msg("narrative fusion failed")
		}
		return "", false
	}
	return resp.Text, true
}

func (s *Service) bump(update func(*Summary)) {
	s.mu.Lock()
	update(&s.summary)
	s.mu.Unlock()
}

func membersFromRows(logger zerolog.Logger, rows []db.RecordRow) ([]Member, int) {
	members := make([]Member, 0, len(rows))
	warnings := 0
	for _, row := range rows {
		var payload struct {
			Fields map[string]any `json:"fields"`
		}
		if err := json.Unmarshal(row.Payload, &payload); err != nil || payload.Fields == nil {
			logger.Warn().Str("record_id", row.RecordID).Msg("excluding malformed member payload from fusion")
			warnings++
			continue
		}
		members = append(members, Member{
			RecordID:    row.RecordID,
			SourceURL:   row.SourceURL,
			Confidence:  row.Confidence,
			ExtractedAt: row.ExtractedAt,
			Fields:      payload.Fields,
		})
	}
	return members, warnings
}

// unionSourceURLs merges the payload-level source_urls list with the url
// every member record was extracted from.
func unionSourceURLs(existing any, members []Member) []any {
	urls := make([]any, 0, len(members)+4)
	seen := make(map[string]bool)
	appendURL := func(url string) {
		key := normalizeForCompare(url)
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		urls = append(urls, url)
	}

	if list, isList := existing.([]any); isList {
		for _, element := range list {
			if url, isString := element.(string); isString {
				appendURL(url)
			}
		}
	}
	for _, member := range members {
		appendURL(member.SourceURL)
	}
	return urls
}

func narrativeLanguage(canonical map[string]any) string {
	for _, field := range []string{"summary_text", "timeline_text"} {
		if text, isString := canonical[field].(string); isString && text != "" {
			if language := langdetect.DetectISO6391(text); language != "" {
				return language
			}
		}
	}
	return ""
}

func jsonStringField(canonical json.RawMessage, key string) *string {
	var mapping map[string]any
	if err := json.Unmarshal(canonical, &mapping); err != nil {
		return nil
	}
	value, _ := mapping[key].(string)
	if value == "" {
		return nil
	}
	return &value
}
