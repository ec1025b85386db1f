package classifier

import (
	"sync"
	"testing"
)

func TestCallBudgetCap(t *testing.T) {
	t.Parallel()

	budget := NewCallBudget(2)
	if !budget.Acquire() || !budget.Acquire() {
		t.Fatalf("expected first two acquires to succeed")
	}
	if budget.Acquire() {
		t.Fatalf("expected third acquire to fail at cap 2")
	}
	if budget.Used() != 2 {
		t.Fatalf("expected used=2, got %d", budget.Used())
	}
	if budget.Remaining() != 0 {
		t.Fatalf("expected remaining=0, got %d", budget.Remaining())
	}
}

func TestCallBudgetUnlimited(t *testing.T) {
	t.Parallel()

	budget := NewCallBudget(0)
	for i := 0; i < 100; i++ {
		if !budget.Acquire() {
			t.Fatalf("unlimited budget refused acquire %d", i)
		}
	}
	if budget.Remaining() != -1 {
		t.Fatalf("expected unlimited sentinel -1, got %d", budget.Remaining())
	}
}

func TestCallBudgetConcurrentAcquire(t *testing.T) {
	t.Parallel()

	const maxCalls = 10
	budget := NewCallBudget(maxCalls)

	var wg sync.WaitGroup
	granted := make(chan struct{}, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if budget.Acquire() {
				granted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(granted)

	count := 0
	for range granted {
		count++
	}
	if count != maxCalls {
		t.Fatalf("expected exactly %d grants under contention, got %d", maxCalls, count)
	}
}

func TestCallBudgetNilIsUnlimited(t *testing.T) {
	t.Parallel()

	var budget *CallBudget
	if !budget.Acquire() {
		t.Fatalf("nil budget must never refuse")
	}
	if budget.Used() != 0 || budget.Remaining() != -1 {
		t.Fatalf("unexpected nil budget counters")
	}
}
