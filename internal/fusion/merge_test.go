package fusion

import (
	"reflect"
	"testing"
	"time"
)

func memberAt(t *testing.T, recordID string, confidence float64, extracted string, fields map[string]any) Member {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, extracted)
	if err != nil {
		t.Fatalf("bad timestamp %q: %v", extracted, err)
	}
	return Member{
		RecordID:    recordID,
		Confidence:  confidence,
		ExtractedAt: ts,
		Fields:      fields,
	}
}

func TestMergeScalarPrefersHigherConfidence(t *testing.T) {
	t.Parallel()

	a := memberAt(t, "rec-a", 0.6, "2025-01-02T08:00:00Z", map[string]any{
		"accident_date": "2025-01-01",
		"mountain_name": "Mount Test",
		"activity":      "climbing",
		"fatalities":    float64(1),
	})
	b := memberAt(t, "rec-b", 0.9, "2025-01-02T09:00:00Z", map[string]any{
		"accident_date": "2025-01-01",
		"mountain_name": "Mount Test",
		"activity":      "climbing",
		"fatalities":    float64(2),
	})

	result := Merge([]Member{a, b})
	if result.Canonical["fatalities"] != float64(2) {
		t.Fatalf("expected value from higher-confidence member, got %v", result.Canonical["fatalities"])
	}
	if result.Canonical["accident_date"] != "2025-01-01" {
		t.Fatalf("unexpected date: %v", result.Canonical["accident_date"])
	}
}

func TestMergeConfidenceTieBreaksOnEarlierExtraction(t *testing.T) {
	t.Parallel()

	early := memberAt(t, "rec-z", 0.8, "2025-01-01T00:00:00Z", map[string]any{"activity": "skiing"})
	late := memberAt(t, "rec-a", 0.8, "2025-01-03T00:00:00Z", map[string]any{"activity": "ski touring"})

	result := Merge([]Member{late, early})
	if result.Canonical["activity"] != "skiing" {
		t.Fatalf("expected earlier extraction to win the tie, got %v", result.Canonical["activity"])
	}
}

func TestMergePresentBeatsNull(t *testing.T) {
	t.Parallel()

	best := memberAt(t, "rec-a", 0.9, "2025-01-01T00:00:00Z", map[string]any{
		"injuries": nil,
		"region":   "",
	})
	other := memberAt(t, "rec-b", 0.4, "2025-01-01T00:00:00Z", map[string]any{
		"injuries": float64(3),
		"region":   "North Cascades",
	})

	result := Merge([]Member{best, other})
	if result.Canonical["injuries"] != float64(3) {
		t.Fatalf("null from a better source must not beat a present value, got %v", result.Canonical["injuries"])
	}
	if result.Canonical["region"] != "North Cascades" {
		t.Fatalf("empty string must count as absent, got %v", result.Canonical["region"])
	}
}

func TestMergeNarrativeTakesLongestAndFlagsConflict(t *testing.T) {
	t.Parallel()

	a := memberAt(t, "rec-a", 0.9, "2025-01-01T00:00:00Z", map[string]any{
		"summary_text": "A climber fell.",
	})
	b := memberAt(t, "rec-b", 0.5, "2025-01-01T00:00:00Z", map[string]any{
		"summary_text": "A climber fell on the north face and was airlifted to hospital.",
	})

	result := Merge([]Member{a, b})
	if result.Canonical["summary_text"] != "A climber fell on the north face and was airlifted to hospital." {
		t.Fatalf("expected longest narrative, got %v", result.Canonical["summary_text"])
	}
	if !reflect.DeepEqual(result.Conflicts, []string{"summary_text"}) {
		t.Fatalf("expected summary_text conflict, got %v", result.Conflicts)
	}
}

func TestMergeNarrativeNoConflictWhenEquivalent(t *testing.T) {
	t.Parallel()

	a := memberAt(t, "rec-a", 0.9, "2025-01-01T00:00:00Z", map[string]any{
		"summary_text": "A climber  fell near the summit.",
	})
	b := memberAt(t, "rec-b", 0.5, "2025-01-01T00:00:00Z", map[string]any{
		"summary_text": "a climber fell near the summit.",
	})

	result := Merge([]Member{a, b})
	if len(result.Conflicts) != 0 {
		t.Fatalf("whitespace/case variants are not conflicts: %v", result.Conflicts)
	}
}

func TestMergeListsUnionWithDedupe(t *testing.T) {
	t.Parallel()

	a := memberAt(t, "rec-a", 0.9, "2025-01-01T00:00:00Z", map[string]any{
		"responder_agencies": []any{"North Shore Rescue", "RCMP"},
	})
	b := memberAt(t, "rec-b", 0.5, "2025-01-01T00:00:00Z", map[string]any{
		"responder_agencies": []any{"north shore rescue", "Talon Helicopters"},
	})

	result := Merge([]Member{a, b})
	agencies, ok := result.Canonical["responder_agencies"].([]any)
	if !ok {
		t.Fatalf("expected list, got %T", result.Canonical["responder_agencies"])
	}
	want := []any{"North Shore Rescue", "RCMP", "Talon Helicopters"}
	if !reflect.DeepEqual(agencies, want) {
		t.Fatalf("unexpected union: %v", agencies)
	}
}

func TestMergeObjectsKeyMerge(t *testing.T) {
	t.Parallel()

	a := memberAt(t, "rec-a", 0.9, "2025-01-01T00:00:00Z", map[string]any{
		"details": map[string]any{"elevation_m": float64(2100)},
	})
	b := memberAt(t, "rec-b", 0.5, "2025-01-01T00:00:00Z", map[string]any{
		"details": map[string]any{"elevation_m": float64(9999), "aspect": "north"},
	})

	result := Merge([]Member{a, b})
	details, ok := result.Canonical["details"].(map[string]any)
	if !ok {
		t.Fatalf("expected object, got %T", result.Canonical["details"])
	}
	if details["elevation_m"] != float64(2100) {
		t.Fatalf("better source must win shared keys, got %v", details["elevation_m"])
	}
	if details["aspect"] != "north" {
		t.Fatalf("missing keys must fill from other sources, got %v", details["aspect"])
	}
}

func TestMergeDeterminism(t *testing.T) {
	t.Parallel()

	members := []Member{
		memberAt(t, "rec-a", 0.7, "2025-01-01T00:00:00Z", map[string]any{
			"summary_text":       "Long detailed report of the accident on the ridge.",
			"responder_agencies": []any{"SAR"},
			"fatalities":         float64(1),
		}),
		memberAt(t, "rec-b", 0.9, "2025-01-02T00:00:00Z", map[string]any{
			"summary_text": "Short report.",
			"activity":     "climbing",
		}),
	}
	reversed := []Member{members[1], members[0]}

	first := Merge(members)
	second := Merge(reversed)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("merge must not depend on member order:\n%v\n%v", first, second)
	}

	again := Merge(members)
	if !reflect.DeepEqual(first, again) {
		t.Fatalf("repeated merge of the same members must be identical")
	}
}
