package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"horse.fit/cairn/internal/cache"
	"horse.fit/cairn/internal/classifier"
	"horse.fit/cairn/internal/config"
	"horse.fit/cairn/internal/db"
	"horse.fit/cairn/internal/eventlock"
	"horse.fit/cairn/internal/fingerprint"
	"horse.fit/cairn/internal/globaltime"
	"horse.fit/cairn/internal/identity"
)

// storage is the event-store surface the resolver needs; *db.Pool
// satisfies it.
type storage interface {
	StartResolutionRun(ctx context.Context) (int64, string, error)
	FinishResolutionRun(ctx context.Context, runID int64, counters db.RunCounters, errorMessage string) error
	ListUnassignedRecords(ctx context.Context, afterSeq int64, limit int) ([]db.RecordRow, error)
	GetEventByDetKey(ctx context.Context, detKey string) (*db.EventRow, error)
	ListActiveEvents(ctx context.Context, limit, offset int) ([]db.EventRow, error)
	EnsureEvent(ctx context.Context, eventKey string, detKey, accidentDate, place, activity *string, seenAt time.Time) (*db.EventRow, bool, error)
	AddEventMember(ctx context.Context, eventSeq int64, recordID, matchType string) (bool, error)
	GetMemberEventSeq(ctx context.Context, recordID string) (int64, error)
	TouchEventSeen(ctx context.Context, eventSeq int64, seenAt time.Time) error
	RecordAssignment(ctx context.Context, recordID, decision, eventKey string, detKey, batchFingerprint *string) error
}

const (
	// knownEventsContext is how many recently seen events accompany every
	// classifier request beyond the batch's own clustering-key matches.
	knownEventsContext = 25
	// summaryLimit bounds the narrative excerpt offered to the classifier.
	summaryLimit = 500
)

var errMembershipConflict = errors.New("record already assigned to a different event")

// cachedAssignment is the cluster-cache value: everything needed to
// replay an assignment without consulting the classifier again.
type cachedAssignment struct {
	EventKey string `json:"event_key"`
	Decision string `json:"decision"`
	DetKey   string `json:"det_key,omitempty"`
}

// Summary reports one resolution run.
type Summary struct {
	RunID    int64
	RunUUID  string
	Counters db.RunCounters
}

// Service drains unassigned records into events.
type Service struct {
	pool     storage
	cache    *cache.Store
	provider classifier.Provider
	logger   zerolog.Logger

	batchSize int
	workers   int
	retries   int
	locks     *eventlock.Locks

	mu       sync.Mutex
	counters db.RunCounters
}

func NewService(pool *db.Pool, store *cache.Store, provider classifier.Provider, cfg *config.Config, logger zerolog.Logger) *Service {
	batchSize := 20
	workers := 4
	retries := 3
	if cfg != nil {
		batchSize = cfg.ResolverBatchSize
		workers = cfg.ResolverWorkers
		retries = cfg.MembershipRetries
	}

	return &Service{
		pool:      pool,
		cache:     store,
		provider:  provider,
		logger:    logger,
		batchSize: batchSize,
		workers:   workers,
		retries:   retries,
		locks:     eventlock.Shared(),
	}
}

// Run resolves every currently unassigned record. Batches run on a
// bounded worker pool; cancellation between batches leaves committed
// batches committed and the rest for the next run.
func (s *Service) Run(ctx context.Context) (*Summary, error) {
	runID, runUUID, err := s.pool.StartResolutionRun(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.counters = db.RunCounters{}
	s.mu.Unlock()

	runErr := s.resolveAll(ctx)

	s.mu.Lock()
	counters := s.counters
	s.mu.Unlock()

	errorMessage := ""
	if runErr != nil {
		errorMessage = runErr.Error()
	}
	if finishErr := s.pool.FinishResolutionRun(ctx, runID, counters, errorMessage); finishErr != nil {
		s.logger.Error().Err(finishErr).Int64("run_id", runID).Msg("failed to close resolution run")
	}

	s.logger.Info().
		Int64("run_id", runID).
		Str("run_uuid", runUUID).
		Int("records_total", counters.RecordsTotal).
		Int("cache_replayed", counters.CacheReplayed).
		Int("classifier_resolved", counters.ClassifierResolved).
		Int("deterministic_resolved", counters.DeterministicResolved).
		Int("new_events", counters.NewEvents).
		Int("deferred", counters.Deferred).
		Int("warnings", counters.Warnings).
		Msg("resolution run finished")

	return &Summary{RunID: runID, RunUUID: runUUID, Counters: counters}, runErr
}

func (s *Service) resolveAll(ctx context.Context) error {
	var afterSeq int64

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		fetchLimit := s.batchSize * s.workers
		rows, err := s.pool.ListUnassignedRecords(ctx, afterSeq, fetchLimit)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		afterSeq = rows[len(rows)-1].RecordSeq

		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(s.workers)
		for start := 0; start < len(rows); start += s.batchSize {
			end := min(start+s.batchSize, len(rows))
			batch := rows[start:end]
			group.Go(func() error {
				s.processBatch(groupCtx, batch)
				return groupCtx.Err()
			})
		}
		if err := group.Wait(); err != nil {
			return err
		}

		if len(rows) < fetchLimit {
			return nil
		}
	}
}

// processBatch never fails the run: every record either commits, replays
// from cache or is deferred to the next run.
func (s *Service) processBatch(ctx context.Context, rows []db.RecordRow) {
	s.bump(func(c *db.RunCounters) { c.RecordsTotal += len(rows) })

	batchSignatures := make([][]byte, 0, len(rows))
	pending := make([]Record, 0, len(rows))

	for _, row := range rows {
		batchSignatures = append(batchSignatures, row.Signature)

		rec, err := recordFromRow(row)
		if err != nil {
			s.logger.Warn().Err(err).Str("record_id", row.RecordID).Msg("skipping malformed record payload")
			s.bump(func(c *db.RunCounters) { c.Warnings++; c.Deferred++ })
			continue
		}

		if s.replayFromCache(ctx, rec) {
			continue
		}
		pending = append(pending, rec)
	}
	if len(pending) == 0 {
		return
	}

	batchFP := fingerprint.Hex(fingerprint.Batch(batchSignatures))

	knownEvents, detKeyEvents := s.collectKnownEvents(ctx, pending)
	verdicts := s.classify(ctx, pending, knownEvents)

	knownKeys := make(map[string]bool, len(knownEvents))
	for _, ev := range knownEvents {
		knownKeys[ev.EventKey] = true
	}

	plan := BuildPlan(PlanInput{
		Records:        pending,
		Verdicts:       verdicts,
		KnownEventKeys: knownKeys,
		DetKeyEvents:   detKeyEvents,
	})

	recordsByID := make(map[string]Record, len(pending))
	for _, rec := range pending {
		recordsByID[rec.RecordID] = rec
	}

	for _, assignment := range plan.Assignments {
		rec := recordsByID[assignment.RecordID]
		s.commitAssignment(ctx, rec, assignment, batchFP)
	}
}

func (s *Service) replayFromCache(ctx context.Context, rec Record) bool {
	value, found, err := s.cache.Get(ctx, fingerprint.NamespaceCluster, rec.Signature)
	if err != nil {
		s.logger.Warn().Err(err).Str("record_id", rec.RecordID).Msg("cluster cache read failed")
		return false
	}
	if !found {
		return false
	}

	var cached cachedAssignment
	if err := json.Unmarshal(value, &cached); err != nil || cached.EventKey == "" {
		s.logger.Warn().Err(err).Str("record_id", rec.RecordID).Msg("discarding undecodable cluster cache entry")
		return false
	}

	assignment := Assignment{
		RecordID: rec.RecordID,
		EventKey: cached.EventKey,
		Decision: DecisionCache,
		DetKey:   cached.DetKey,
	}
	if s.applyAssignment(ctx, rec, assignment, nil) {
		s.bump(func(c *db.RunCounters) { c.CacheReplayed++ })
	}
	return true
}

func (s *Service) collectKnownEvents(ctx context.Context, pending []Record) ([]classifier.KnownEvent, map[string]string) {
	known := make([]classifier.KnownEvent, 0, knownEventsContext)
	seen := make(map[string]bool)
	detKeyEvents := make(map[string]string)

	appendEvent := func(row *db.EventRow) {
		if row == nil || seen[row.EventKey] {
			return
		}
		seen[row.EventKey] = true
		known = append(known, classifier.KnownEvent{
			EventKey: row.EventKey,
			Date:     stringOrEmpty(row.AccidentDate),
			Place:    stringOrEmpty(row.Place),
			Activity: stringOrEmpty(row.Activity),
		})
	}

	for _, rec := range pending {
		detKey := rec.Identity.Key()
		if detKey == "" {
			continue
		}
		if _, done := detKeyEvents[detKey]; done {
			continue
		}
		row, err := s.pool.GetEventByDetKey(ctx, detKey)
		if err != nil {
			if !db.IsNoRows(err) {
				s.logger.Warn().Err(err).Str("det_key", detKey).Msg("clustering key lookup failed")
			}
			continue
		}
		detKeyEvents[detKey] = row.EventKey
		appendEvent(row)
	}

	recent, err := s.pool.ListActiveEvents(ctx, knownEventsContext, 0)
	if err != nil {
		s.logger.Warn().Err(err).Msg("recent events lookup failed")
	}
	for i := range recent {
		appendEvent(&recent[i])
	}

	return known, detKeyEvents
}

// classify obtains positional verdicts; any classifier failure yields an
// empty verdict map and the batch keys deterministically.
func (s *Service) classify(ctx context.Context, pending []Record, knownEvents []classifier.KnownEvent) map[string]string {
	if s.provider == nil || len(pending) == 0 {
		return nil
	}

	candidates := make([]classifier.Candidate, 0, len(pending))
	for _, rec := range pending {
		candidates = append(candidates, classifier.Candidate{
			RecordID: rec.RecordID,
			Date:     rec.Identity.Date,
			Place:    rec.Identity.Place,
			Activity: rec.Identity.Activity,
			Summary:  rec.Summary,
		})
	}

	resp, err := s.provider.Classify(ctx, classifier.Request{
		Candidates:  candidates,
		KnownEvents: knownEvents,
	})
	if err != nil {
		if errors.Is(err, classifier.ErrUnavailable) {
			s.logger.Debug().Err(err).Int("batch", len(pending)).Msg("classifier unavailable; keying deterministically")
		} else {
			s.logger.Warn().Err(err).Msg("classifier failed; keying deterministically")
		}
		return nil
	}

	// Verdicts align with candidates by position; a matching record_id in
	// the verdict is trusted over position when present.
	verdicts := make(map[string]string, len(resp.Verdicts))
	for i, verdict := range resp.Verdicts {
		if i >= len(candidates) {
			break
		}
		recordID := candidates[i].RecordID
		if verdict.RecordID != "" && verdict.RecordID != recordID {
			continue
		}
		verdicts[recordID] = verdict.EventKey
	}
	return verdicts
}

// commitAssignment writes the cluster cache entry first, then the store.
// A lost store write is replayed from cache next run; the reverse order
// could burn a classifier decision.
func (s *Service) commitAssignment(ctx context.Context, rec Record, assignment Assignment, batchFP string) {
	cached := cachedAssignment{
		EventKey: assignment.EventKey,
		Decision: assignment.Decision,
		DetKey:   assignment.DetKey,
	}
	if value, err := json.Marshal(cached); err == nil {
		s.cache.Put(ctx, fingerprint.NamespaceCluster, rec.Signature, value)
	}

	if !s.applyAssignment(ctx, rec, assignment, &batchFP) {
		return
	}

	switch assignment.Decision {
	case DecisionClassifier:
		s.bump(func(c *db.RunCounters) { c.ClassifierResolved++ })
	default:
		s.bump(func(c *db.RunCounters) { c.DeterministicResolved++ })
	}
}

// applyAssignment performs the locked, retried store update. It returns
// false when the record was deferred or lost a membership race.
func (s *Service) applyAssignment(ctx context.Context, rec Record, assignment Assignment, batchFP *string) bool {
	now := globaltime.Now()

	operation := func() (bool, error) {
		unlock := s.locks.Lock(assignment.EventKey)
		defer unlock()

		created, err := s.storeAssignment(ctx, rec, assignment, now)
		if err != nil {
			if errors.Is(err, errMembershipConflict) {
				return false, backoff.Permanent(err)
			}
			return false, err
		}
		return created, nil
	}

	created, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(s.retries+1)),
	)
	if err != nil {
		if errors.Is(err, errMembershipConflict) {
			// Another worker assigned the record; the partition invariant
			// keeps it there.
			s.logger.Warn().Str("record_id", rec.RecordID).Str("event_key", assignment.EventKey).Msg("membership race lost")
			s.bump(func(c *db.RunCounters) { c.Warnings++ })
			return false
		}
		s.logger.Warn().Err(err).Str("record_id", rec.RecordID).Msg("assignment deferred to next run")
		s.bump(func(c *db.RunCounters) { c.Deferred++ })
		return false
	}

	if created {
		s.bump(func(c *db.RunCounters) { c.NewEvents++ })
	}

	detKey := optionalString(assignment.DetKey)
	if err := s.pool.RecordAssignment(ctx, rec.RecordID, assignment.Decision, assignment.EventKey, detKey, batchFP); err != nil {
		s.logger.Warn().Err(err).Str("record_id", rec.RecordID).Msg("audit row write failed")
		s.bump(func(c *db.RunCounters) { c.Warnings++ })
	}
	return true
}

func (s *Service) storeAssignment(ctx context.Context, rec Record, assignment Assignment, now time.Time) (bool, error) {
	event, created, err := s.pool.EnsureEvent(ctx,
		assignment.EventKey,
		optionalString(assignment.DetKey),
		optionalString(rec.Identity.Date),
		optionalString(rec.Identity.Place),
		optionalString(rec.Identity.Activity),
		now,
	)
	if err != nil {
		return false, err
	}

	inserted, err := s.pool.AddEventMember(ctx, event.EventSeq, rec.RecordID, assignment.Decision)
	if err != nil {
		return false, err
	}
	if !inserted {
		memberOf, err := s.pool.GetMemberEventSeq(ctx, rec.RecordID)
		if err != nil {
			return false, err
		}
		if memberOf != event.EventSeq {
			return false, errMembershipConflict
		}
		// Already a member of this event: replay, nothing to do.
		return false, nil
	}

	if err := s.pool.TouchEventSeen(ctx, event.EventSeq, now); err != nil {
		return false, err
	}
	return created, nil
}

func (s *Service) bump(update func(*db.RunCounters)) {
	s.mu.Lock()
	update(&s.counters)
	s.mu.Unlock()
}

func recordFromRow(row db.RecordRow) (Record, error) {
	var payload struct {
		Fields map[string]any `json:"fields"`
	}
	if err := json.Unmarshal(row.Payload, &payload); err != nil {
		return Record{}, fmt.Errorf("decode payload: %w", err)
	}

	fields := identity.Extract(payload.Fields)
	summary, _ := payload.Fields["summary_text"].(string)
	if len(summary) > summaryLimit {
		// Cut on a rune boundary; narratives are multilingual.
		cut := summaryLimit
		for cut > 0 && !utf8.RuneStart(summary[cut]) {
			cut--
		}
		summary = summary[:cut]
	}

	return Record{
		RecordID:   row.RecordID,
		Identity:   fields,
		Summary:    summary,
		Signature:  row.Signature,
		Confidence: row.Confidence,
	}, nil
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func stringOrEmpty(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
