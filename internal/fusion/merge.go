// Package fusion builds one canonical record per event from its member
// records. The deterministic merge is pure so a fixed member set always
// fuses to the identical canonical record.
package fusion

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Narrative fields are merged by length, never concatenated, and are the
// only fields that can escalate to LLM fusion on conflict.
var narrativeFields = map[string]bool{
	"summary_text":  true,
	"timeline_text": true,
}

// Member is one record's contribution to fusion.
type Member struct {
	RecordID    string
	SourceURL   string
	Confidence  float64
	ExtractedAt time.Time
	Fields      map[string]any
}

// Result is the deterministic merge outcome. Conflicts lists narrative
// fields where members disagreed; the canonical already holds the
// deterministic pick for them.
type Result struct {
	Canonical map[string]any
	Conflicts []string
}

// Merge fuses member fields into one canonical mapping. Members are
// ranked by extraction confidence (ties: earlier extracted_at, then
// record id), and per field:
//   - narrative fields take the longest non-empty value;
//   - lists union with case-insensitive string dedupe;
//   - objects merge keys, better sources winning per key;
//   - scalars take the first present value in rank order.
//
// A present value always beats an absent or null one.
func Merge(members []Member) Result {
	ordered := orderMembers(members)

	keys := make([]string, 0, 16)
	seenKeys := make(map[string]bool)
	for _, m := range ordered {
		for key := range m.Fields {
			if !seenKeys[key] {
				seenKeys[key] = true
				keys = append(keys, key)
			}
		}
	}
	sort.Strings(keys)

	canonical := make(map[string]any, len(keys))
	conflicts := make([]string, 0, 2)

	for _, key := range keys {
		values := make([]any, 0, len(ordered))
		for _, m := range ordered {
			if value, present := m.Fields[key]; present && value != nil {
				values = append(values, value)
			}
		}
		if len(values) == 0 {
			continue
		}

		switch {
		case narrativeFields[key]:
			merged, conflicted := mergeNarrative(values)
			if merged != "" {
				canonical[key] = merged
			}
			if conflicted {
				conflicts = append(conflicts, key)
			}
		default:
			canonical[key] = mergeValue(values)
		}
	}

	return Result{Canonical: canonical, Conflicts: conflicts}
}

// orderMembers ranks contributions: highest confidence first, earlier
// extraction breaking ties, record id as the final deterministic tiebreak.
func orderMembers(members []Member) []Member {
	ordered := make([]Member, len(members))
	copy(ordered, members)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Confidence != ordered[j].Confidence {
			return ordered[i].Confidence > ordered[j].Confidence
		}
		if !ordered[i].ExtractedAt.Equal(ordered[j].ExtractedAt) {
			return ordered[i].ExtractedAt.Before(ordered[j].ExtractedAt)
		}
		return ordered[i].RecordID < ordered[j].RecordID
	})
	return ordered
}

func mergeValue(values []any) any {
	switch values[0].(type) {
	case []any:
		return mergeLists(values)
	case map[string]any:
		return mergeObjects(values)
	default:
		return mergeScalar(values)
	}
}

// mergeScalar takes the first non-empty value in rank order; empty
// strings count as absent.
func mergeScalar(values []any) any {
	for _, value := range values {
		if s, isString := value.(string); isString && strings.TrimSpace(s) == "" {
			continue
		}
		return value
	}
	return values[0]
}

func mergeNarrative(values []any) (string, bool) {
	longest := ""
	distinct := make(map[string]bool)
	for _, value := range values {
		text, isString := value.(string)
		if !isString {
			continue
		}
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			continue
		}
		distinct[normalizeForCompare(trimmed)] = true
		if len(trimmed) > len(longest) {
			longest = trimmed
		}
	}
	return longest, len(distinct) > 1
}

// mergeLists unions list members across sources, deduping by normalized
// string form while keeping each element's first-seen shape and order.
func mergeLists(values []any) []any {
	union := make([]any, 0, 8)
	seen := make(map[string]bool)
	for _, value := range values {
		list, isList := value.([]any)
		if !isList {
			continue
		}
		for _, element := range list {
			key := normalizeElement(element)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			union = append(union, element)
		}
	}
	return union
}

// mergeObjects merges keys across sources; the best-ranked source
// holding a key wins it.
func mergeObjects(values []any) map[string]any {
	merged := make(map[string]any, 8)
	for _, value := range values {
		object, isObject := value.(map[string]any)
		if !isObject {
			continue
		}
		for key, element := range object {
			if element == nil {
				continue
			}
			if _, taken := merged[key]; !taken {
				merged[key] = element
			}
		}
	}
	return merged
}

func normalizeElement(element any) string {
	switch v := element.(type) {
	case nil:
		return ""
	case string:
		return normalizeForCompare(v)
	default:
		// Non-string list elements are rare; a fmt round-trip keeps them
		// comparable without caring about their concrete type.
		return normalizeForCompare(fmt.Sprintf("%v", v))
	}
}

func normalizeForCompare(raw string) string {
	return strings.Join(strings.Fields(strings.ToLower(raw)), " ")
}
