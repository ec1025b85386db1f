package classifier

import "sync"

// CallBudget caps the number of external classifier calls a process may
// make. All providers in a process share one budget, so concurrent
// workers cannot collectively exceed the cap.
type CallBudget struct {
	mu   sync.Mutex
	max  int
	used int
}

// NewCallBudget creates a budget. max <= 0 means unlimited.
func NewCallBudget(max int) *CallBudget {
	return &CallBudget{max: max}
}

// Acquire consumes one call slot. It returns false once the cap is
// reached; the slot is not consumed in that case.
func (b *CallBudget) Acquire() bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.max > 0 && b.used >= b.max {
		return false
	}
	b.used++
	return true
}

// Used returns how many slots have been consumed.
func (b *CallBudget) Used() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

// Remaining returns the slots left, or -1 for an unlimited budget.
func (b *CallBudget) Remaining() int {
	if b == nil {
		return -1
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.max <= 0 {
		return -1
	}
	remaining := b.max - b.used
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}
