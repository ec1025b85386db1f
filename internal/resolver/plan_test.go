package resolver

import (
	"testing"

	"horse.fit/cairn/internal/identity"
)

func planFor(t *testing.T, input PlanInput) map[string]Assignment {
	t.Helper()
	plan := BuildPlan(input)
	byRecord := make(map[string]Assignment, len(plan.Assignments))
	for _, a := range plan.Assignments {
		if _, dup := byRecord[a.RecordID]; dup {
			t.Fatalf("record %s assigned twice", a.RecordID)
		}
		byRecord[a.RecordID] = a
	}
	return byRecord
}

func TestBuildPlanClassifierVerdictWins(t *testing.T) {
	t.Parallel()

	input := PlanInput{
		Records: []Record{
			{RecordID: "rec-1", Identity: identity.Fields{Date: "2025-01-01", Place: "mount test", Activity: "climbing"}},
		},
		Verdicts:       map[string]string{"rec-1": "known000001"},
		KnownEventKeys: map[string]bool{"known000001": true},
	}

	got := planFor(t, input)
	a := got["rec-1"]
	if a.EventKey != "known000001" || a.Decision != DecisionClassifier || a.NewEvent {
		t.Fatalf("unexpected assignment: %+v", a)
	}
}

func TestBuildPlanUnknownVerdictKeyDegrades(t *testing.T) {
	t.Parallel()

	input := PlanInput{
		Records: []Record{
			{RecordID: "rec-1", Identity: identity.Fields{Date: "2025-01-01", Place: "mount test", Activity: "climbing"}},
		},
		Verdicts: map[string]string{"rec-1": "invented-key"},
	}

	got := planFor(t, input)
	a := got["rec-1"]
	if a.Decision != DecisionDeterministic {
		t.Fatalf("expected invented event key to degrade to deterministic, got %+v", a)
	}
	if a.EventKey != NewEventKey("mount test|2025-01-01|climbing") {
		t.Fatalf("unexpected event key: %q", a.EventKey)
	}
}

func TestBuildPlanGroupsSharedDetKey(t *testing.T) {
	t.Parallel()

	shared := identity.Fields{Date: "2025-02-02", Place: "mount hood", Activity: "skiing"}
	input := PlanInput{
		Records: []Record{
			{RecordID: "rec-b", Identity: shared},
			{RecordID: "rec-a", Identity: shared},
			{RecordID: "rec-c", Identity: identity.Fields{Date: "2025-02-02", Place: "mount rainier", Activity: "skiing"}},
		},
	}

	got := planFor(t, input)
	if got["rec-a"].EventKey != got["rec-b"].EventKey {
		t.Fatalf("records sharing a clustering key must share an event")
	}
	if got["rec-c"].EventKey == got["rec-a"].EventKey {
		t.Fatalf("different clustering keys must not share an event")
	}
	if !got["rec-a"].NewEvent {
		t.Fatalf("expected new event for unseen clustering key")
	}
}

func TestBuildPlanJoinsExistingDetKeyEvent(t *testing.T) {
	t.Parallel()

	fields := identity.Fields{Date: "2025-02-02", Place: "mount hood", Activity: "skiing"}
	input := PlanInput{
		Records:      []Record{{RecordID: "rec-1", Identity: fields}},
		DetKeyEvents: map[string]string{fields.Key(): "existing0001"},
	}

	got := planFor(t, input)
	a := got["rec-1"]
	if a.EventKey != "existing0001" || a.NewEvent {
		t.Fatalf("expected join of existing event, got %+v", a)
	}
}

func TestBuildPlanKeylessRecordIsSingleton(t *testing.T) {
	t.Parallel()

	input := PlanInput{
		Records: []Record{
			{RecordID: "rec-1", Identity: identity.Fields{Date: "2025-01-01"}},
			{RecordID: "rec-2", Identity: identity.Fields{Date: "2025-01-01"}},
		},
	}

	got := planFor(t, input)
	if got["rec-1"].Decision != DecisionSingleton || got["rec-2"].Decision != DecisionSingleton {
		t.Fatalf("keyless records must become singletons: %+v", got)
	}
	if got["rec-1"].EventKey == got["rec-2"].EventKey {
		t.Fatalf("two keyless records must not share an event")
	}
	if got["rec-1"].EventKey != SingletonEventKey("rec-1") {
		t.Fatalf("singleton key must derive from the record id")
	}
}

func TestBuildPlanOrderIndependence(t *testing.T) {
	t.Parallel()

	shared := identity.Fields{Date: "2025-03-03", Place: "ben nevis", Activity: "hiking"}
	records := []Record{
		{RecordID: "rec-1", Identity: shared},
		{RecordID: "rec-2", Identity: shared},
		{RecordID: "rec-3", Identity: identity.Fields{}},
	}
	reversed := []Record{records[2], records[1], records[0]}

	forward := BuildPlan(PlanInput{Records: records})
	backward := BuildPlan(PlanInput{Records: reversed})

	if len(forward.Assignments) != len(backward.Assignments) {
		t.Fatalf("assignment counts differ")
	}
	for i := range forward.Assignments {
		if forward.Assignments[i] != backward.Assignments[i] {
			t.Fatalf("plans differ at %d: %+v vs %+v", i, forward.Assignments[i], backward.Assignments[i])
		}
	}
}

func TestBuildPlanPartialVerdictsFallThrough(t *testing.T) {
	t.Parallel()

	fieldsA := identity.Fields{Date: "2025-04-04", Place: "matterhorn", Activity: "climbing"}
	fieldsB := identity.Fields{Date: "2025-04-05", Place: "eiger", Activity: "climbing"}
	input := PlanInput{
		Records: []Record{
			{RecordID: "rec-1", Identity: fieldsA},
			{RecordID: "rec-2", Identity: fieldsB},
		},
		// The classifier only answered for rec-1.
		Verdicts:       map[string]string{"rec-1": "known000001"},
		KnownEventKeys: map[string]bool{"known000001": true},
	}

	got := planFor(t, input)
	if got["rec-1"].Decision != DecisionClassifier {
		t.Fatalf("answered record should follow the verdict: %+v", got["rec-1"])
	}
	if got["rec-2"].Decision != DecisionDeterministic {
		t.Fatalf("unanswered record should key deterministically: %+v", got["rec-2"])
	}
}

func TestBuildPlanEmptyVerdictMeansNewEvent(t *testing.T) {
	t.Parallel()

	fields := identity.Fields{Date: "2025-05-05", Place: "denali", Activity: "climbing"}
	input := PlanInput{
		Records:        []Record{{RecordID: "rec-1", Identity: fields}},
		Verdicts:       map[string]string{"rec-1": ""},
		KnownEventKeys: map[string]bool{"known000001": true},
	}

	got := planFor(t, input)
	a := got["rec-1"]
	if a.Decision != DecisionDeterministic || a.EventKey != NewEventKey(fields.Key()) {
		t.Fatalf(`verdict "no known event" should seed from the clustering key: %+v`, a)
	}
}

func TestEventKeysAreStable(t *testing.T) {
	t.Parallel()

	if NewEventKey("a|b|c") != NewEventKey("a|b|c") {
		t.Fatalf("event keys must be deterministic")
	}
	if NewEventKey("x") == SingletonEventKey("x") {
		t.Fatalf("clustering-key seeds and record-id seeds must not collide")
	}
	if len(NewEventKey("a|b|c")) != 12 {
		t.Fatalf("unexpected event key length")
	}
}
