package identity

import "testing"

func TestNormalizeDate(t *testing.T) {
	t.Parallel()

	if got := NormalizeDate("2025-01-01"); got != "2025-01-01" {
		t.Fatalf("unexpected ISO day: %q", got)
	}
	if got := NormalizeDate("2025-01-01T14:30:00Z"); got != "2025-01-01" {
		t.Fatalf("expected timestamp to reduce to day granularity, got %q", got)
	}
	if got := NormalizeDate("2025-01"); got != "2025-01" {
		t.Fatalf("expected month-only input to stay month granular, got %q", got)
	}
	if got := NormalizeDate("January 2, 2025"); got != "2025-01-02" {
		t.Fatalf("expected natural-language date to normalize, got %q", got)
	}
	if got := NormalizeDate("not a date"); got != "" {
		t.Fatalf("expected unparseable date to normalize to empty, got %q", got)
	}
	if got := NormalizeDate("   "); got != "" {
		t.Fatalf("expected blank date to normalize to empty, got %q", got)
	}
}

func TestNormalizeText(t *testing.T) {
	t.Parallel()

	if got := NormalizeText("  Mount\t Test \n"); got != "mount test" {
		t.Fatalf("unexpected normalized text: %q", got)
	}
	if got := NormalizeText(""); got != "" {
		t.Fatalf("expected empty input to stay empty, got %q", got)
	}
}

func TestExtractUsesRegionWhenMountainMissing(t *testing.T) {
	t.Parallel()

	fields := Extract(map[string]any{
		"region":        "North Cascades",
		"accident_date": "2025-03-04",
		"activity":      "Skiing",
	})
	if fields.Place != "north cascades" {
		t.Fatalf("expected region fallback, got %q", fields.Place)
	}
	if fields.Date != "2025-03-04" || fields.Activity != "skiing" {
		t.Fatalf("unexpected fields: %+v", fields)
	}
}

func TestExtractToleratesMissingAndNonString(t *testing.T) {
	t.Parallel()

	fields := Extract(map[string]any{"accident_date": 20250101})
	if fields.Date != "" || fields.Place != "" || fields.Activity != "" {
		t.Fatalf("expected empty fields, got %+v", fields)
	}
	if Extract(nil) != (Fields{}) {
		t.Fatalf("expected zero fields for nil mapping")
	}
}

func TestKeyOmitsMissingDate(t *testing.T) {
	t.Parallel()

	withDate := Fields{Date: "2025-01-01", Place: "mount test", Activity: "climbing"}
	if got := withDate.Key(); got != "mount test|2025-01-01|climbing" {
		t.Fatalf("unexpected key: %q", got)
	}

	noDate := Fields{Place: "mount test", Activity: "climbing"}
	if got := noDate.Key(); got != "mount test|climbing" {
		t.Fatalf("expected coarser key without date, got %q", got)
	}
}

func TestKeyEmptyWhenNoPlaceOrActivity(t *testing.T) {
	t.Parallel()

	onlyDate := Fields{Date: "2025-01-01"}
	if got := onlyDate.Key(); got != "" {
		t.Fatalf("expected empty key sentinel, got %q", got)
	}
}

func TestKeyOrderIndependence(t *testing.T) {
	t.Parallel()

	a := Extract(map[string]any{"mountain_name": "Mount Test", "accident_date": "2025-01-01", "activity": "climbing"})
	b := Extract(map[string]any{"activity": " Climbing", "mountain_name": "mount  test", "accident_date": "2025-01-01"})
	if a.Key() != b.Key() {
		t.Fatalf("expected identical keys, got %q vs %q", a.Key(), b.Key())
	}
}
