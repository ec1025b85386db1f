package fingerprint

import (
	"bytes"
	"testing"
)

func TestRecordIgnoresCaseAndWhitespace(t *testing.T) {
	t.Parallel()

	a := Record("rec-1", "2025-01-01", "Mount  Test", "Climbing")
	b := Record("rec-1", "2025-01-01", "mount test", " climbing ")
	if !bytes.Equal(a, b) {
		t.Fatalf("expected identical digests for logically identical inputs")
	}
}

func TestRecordChangesWithIdentityField(t *testing.T) {
	t.Parallel()

	a := Record("rec-1", "2025-01-01", "mount test", "climbing")
	b := Record("rec-1", "2025-01-02", "mount test", "climbing")
	if bytes.Equal(a, b) {
		t.Fatalf("expected a date change to change the digest")
	}
}

func TestRecordComponentBoundaries(t *testing.T) {
	t.Parallel()

	// "ab"+"c" and "a"+"bc" must not collide across component boundaries.
	a := Record("r", "ab", "c", "")
	b := Record("r", "a", "bc", "")
	if bytes.Equal(a, b) {
		t.Fatalf("expected component boundaries to be preserved")
	}
}

func TestBatchOrderIndependence(t *testing.T) {
	t.Parallel()

	s1 := Record("rec-1", "2025-01-01", "mount test", "climbing")
	s2 := Record("rec-2", "2025-01-01", "mount test", "skiing")
	s3 := Record("rec-3", "", "ridge", "")

	a := Batch([][]byte{s1, s2, s3})
	b := Batch([][]byte{s3, s1, s2})
	if !bytes.Equal(a, b) {
		t.Fatalf("expected batch digest to be order independent")
	}

	c := Batch([][]byte{s1, s2})
	if bytes.Equal(a, c) {
		t.Fatalf("expected different member sets to produce different digests")
	}
}

func TestEventKeyStableAndShort(t *testing.T) {
	t.Parallel()

	a := EventKey("det:mount test|2025-01-01|climbing")
	b := EventKey("det:mount test|2025-01-01|climbing")
	if a != b {
		t.Fatalf("expected identical seeds to produce identical keys")
	}
	if len(a) != 12 {
		t.Fatalf("expected a 12 character key, got %q", a)
	}
	if a == EventKey("rec:rec-1") {
		t.Fatalf("expected distinct seeds to produce distinct keys")
	}
}

func TestMemberSetOrderIndependence(t *testing.T) {
	t.Parallel()

	a := MemberSet([]string{"rec-2", "rec-1"})
	b := MemberSet([]string{"rec-1", "rec-2"})
	if !bytes.Equal(a, b) {
		t.Fatalf("expected member set digest to be order independent")
	}
	if Hex(a) == "" {
		t.Fatalf("expected non-empty hex digest")
	}
}
