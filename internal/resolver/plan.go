// Package resolver assigns source records to events. Planning is pure:
// given a batch, classifier verdicts and the relevant existing events it
// computes the full set of assignments, so the same inputs always
// produce the same clusters no matter how records are ordered or split
// across workers.
package resolver

import (
	"sort"

	"horse.fit/cairn/internal/fingerprint"
	"horse.fit/cairn/internal/identity"
)

// Assignment decisions, recorded in the audit trail and the run counters.
const (
	DecisionCache         = "cache"
	DecisionClassifier    = "classifier"
	DecisionDeterministic = "deterministic"
	DecisionSingleton     = "singleton"
)

// Seed prefixes keep clustering-key seeds and record-id seeds from
// colliding in the event key space.
const (
	seedPrefixDetKey = "det:"
	seedPrefixRecord = "rec:"
)

// Record is the resolver's working view of one unassigned source record.
type Record struct {
	RecordID   string
	Identity   identity.Fields
	Summary    string
	Signature  []byte
	Confidence float64
}

// Assignment places one record into one event.
type Assignment struct {
	RecordID string
	EventKey string
	Decision string
	DetKey   string // empty when the record had no usable clustering key
	NewEvent bool   // the plan expects to create this event
}

// PlanInput is everything a clustering plan depends on.
type PlanInput struct {
	Records []Record
	// Verdicts maps record id to the classifier's claimed existing event
	// key. Absent entries mean the classifier did not answer for that
	// record; empty values mean it answered "no known event".
	Verdicts map[string]string
	// KnownEventKeys holds the existing event keys offered to the
	// classifier. Verdicts naming keys outside this set are ignored.
	KnownEventKeys map[string]bool
	// DetKeyEvents maps deterministic clustering keys to the existing
	// events already holding them.
	DetKeyEvents map[string]string
}

// Plan is the computed set of assignments for one batch.
type Plan struct {
	Assignments []Assignment
}

// NewEventKey derives the stable key for a cluster seeded by a
// deterministic clustering key.
func NewEventKey(detKey string) string {
	return fingerprint.EventKey(seedPrefixDetKey + detKey)
}

// SingletonEventKey derives the stable key for a record that cannot be
// clustered and forms an event of its own.
func SingletonEventKey(recordID string) string {
	return fingerprint.EventKey(seedPrefixRecord + recordID)
}

// BuildPlan computes assignments for a batch. Classifier verdicts naming
// a known event win; everything else falls through to deterministic
// keying, where records sharing a clustering key cluster together and
// keyless records become singletons. Records are processed in record-id
// order, so the plan is independent of input order.
func BuildPlan(input PlanInput) Plan {
	records := make([]Record, len(input.Records))
	copy(records, input.Records)
	sort.Slice(records, func(i, j int) bool {
		return records[i].RecordID < records[j].RecordID
	})

	assignments := make([]Assignment, 0, len(records))

	// Deterministic groups accumulate in first-seen (record-id) order.
	type detGroup struct {
		detKey  string
		members []Record
	}
	groupIndex := make(map[string]int)
	groups := make([]detGroup, 0, len(records))

	for _, rec := range records {
		if claimed, answered := input.Verdicts[rec.RecordID]; answered && claimed != "" {
			if input.KnownEventKeys[claimed] {
				assignments = append(assignments, Assignment{
					RecordID: rec.RecordID,
					EventKey: claimed,
					Decision: DecisionClassifier,
					DetKey:   rec.Identity.Key(),
				})
				continue
			}
			// Unknown key in a verdict: degrade, never trust invented keys.
		}

		detKey := rec.Identity.Key()
		if detKey == "" {
			assignments = append(assignments, Assignment{
				RecordID: rec.RecordID,
				EventKey: SingletonEventKey(rec.RecordID),
				Decision: DecisionSingleton,
				NewEvent: true,
			})
			continue
		}

		idx, exists := groupIndex[detKey]
		if !exists {
			idx = len(groups)
			groupIndex[detKey] = idx
			groups = append(groups, detGroup{detKey: detKey})
		}
		groups[idx].members = append(groups[idx].members, rec)
	}

	for _, group := range groups {
		eventKey, isNew := input.DetKeyEvents[group.detKey], false
		if eventKey == "" {
			eventKey = NewEventKey(group.detKey)
			isNew = !input.KnownEventKeys[eventKey]
		}
		for _, rec := range group.members {
			assignments = append(assignments, Assignment{
				RecordID: rec.RecordID,
				EventKey: eventKey,
				Decision: DecisionDeterministic,
				DetKey:   group.detKey,
				NewEvent: isNew,
			})
		}
	}

	sort.Slice(assignments, func(i, j int) bool {
		return assignments[i].RecordID < assignments[j].RecordID
	})
	return Plan{Assignments: assignments}
}
