package eventlock

import (
	"testing"
	"time"
)

func TestSharedReturnsOneInstance(t *testing.T) {
	t.Parallel()

	if Shared() != Shared() {
		t.Fatalf("expected one process-wide lock set")
	}
}

func TestLockSerializesSameKey(t *testing.T) {
	t.Parallel()

	locks := New(2)
	unlock := locks.Lock("event-a")

	acquired := make(chan struct{})
	go func() {
		release := locks.Lock("event-a")
		release()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatalf("second locker acquired the stripe while it was held")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatalf("locker never acquired the stripe after release")
	}
}
