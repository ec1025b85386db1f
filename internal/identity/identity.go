package identity

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/araddon/dateparse"
)

// Fields holds the normalized identity-relevant fields of one source
// record: the only inputs used for clustering keys and fingerprints.
type Fields struct {
	Date     string // YYYY-MM-DD, YYYY-MM for month-only inputs, "" when unknown
	Place    string
	Activity string
}

var (
	isoDayPattern   = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)
	isoMonthPattern = regexp.MustCompile(`^\d{4}-\d{2}$`)
)

// Extract pulls identity fields out of a record's upstream field mapping.
// Missing or non-string values degrade to empty components, never errors.
func Extract(fields map[string]any) Fields {
	place := NormalizeText(stringField(fields, "mountain_name"))
	if place == "" {
		place = NormalizeText(stringField(fields, "region"))
	}

	return Fields{
		Date:     NormalizeDate(stringField(fields, "accident_date")),
		Place:    place,
		Activity: NormalizeText(stringField(fields, "activity")),
	}
}

// Key derives the deterministic clustering key. Components are ordered
// place|date|activity with absent components omitted, so a record missing
// its date still groups by place and activity. An empty key means the
// record cannot be keyed and must form a singleton event.
func (f Fields) Key() string {
	if f.Place == "" && f.Activity == "" {
		return ""
	}

	parts := make([]string, 0, 3)
	for _, part := range []string{f.Place, f.Date, f.Activity} {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, "|")
}

// NormalizeDate reduces free-form date strings to day granularity, or month
// granularity when only a month is known. Unparseable input normalizes to
// the empty string.
func NormalizeDate(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	if isoMonthPattern.MatchString(trimmed) {
		return trimmed
	}
	if isoDayPattern.MatchString(trimmed) {
		return trimmed[:10]
	}

	parsed, err := dateparse.ParseAny(trimmed)
	if err != nil {
		return ""
	}
	return parsed.Format("2006-01-02")
}

// NormalizeText lowercases, strips control runes and collapses whitespace.
func NormalizeText(raw string) string {
	trimmed := strings.TrimSpace(strings.ToLower(raw))
	if trimmed == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	lastSpace := false
	for _, r := range trimmed {
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return strings.TrimSpace(b.String())
}

func stringField(fields map[string]any, key string) string {
	if len(fields) == 0 {
		return ""
	}
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	value, ok := raw.(string)
	if !ok {
		return ""
	}
	return value
}
