package orchestrator

import (
	"sync"
)

// BudgetStatus represents the current state of budget consumption.
type BudgetStatus int

const (
	// BudgetOK indicates usage is below the warning threshold.
	BudgetOK BudgetStatus = iota
	// BudgetWarning indicates usage is between the warning threshold and exhaustion.
	BudgetWarning
	// BudgetExhausted indicates the budget is fully consumed.
	BudgetExhausted
)

// String returns a human-readable representation of the budget status.
func (s BudgetStatus) String() string {
	switch s {
	case BudgetOK:
		return "OK"
	case BudgetWarning:
		return "Warning"
	case BudgetExhausted:
		return "Exhausted"
	default:
		return "Unknown"
	}
}

// DefaultWarningThreshold is the default share of the budget at which warnings begin.
const DefaultWarningThreshold = 0.80

// CostBudget tracks dollar spend of a session against an optional limit.
// Once the limit is reached the queue stops handing out new tasks; tasks
// already running are allowed to finish.
type CostBudget struct {
	limit            float64
	spent            float64
	warningThreshold float64
	// onExhausted runs once, outside the lock, when spend first reaches the limit.
	onExhausted func()
	exhausted   bool
	mu          sync.RWMutex
}

// NewCostBudget creates a budget of limit dollars. Zero or less means unlimited.
func NewCostBudget(limit float64) *CostBudget {
	return &CostBudget{
		limit:            limit,
		warningThreshold: DefaultWarningThreshold,
	}
}

// OnExhausted registers fn to run once when the budget is exhausted.
func (b *CostBudget) OnExhausted(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onExhausted = fn
}

// Add records spend and returns the resulting status.
func (b *CostBudget) Add(dollars float64) BudgetStatus {
	b.mu.Lock()
	b.spent += dollars
	status := b.statusLocked()
	var hook func()
	if status == BudgetExhausted && !b.exhausted {
		b.exhausted = true
		hook = b.onExhausted
	}
	b.mu.Unlock()

	if hook != nil {
		hook()
	}
	return status
}

// Restore sets spend to an earlier total without running the exhausted hook.
func (b *CostBudget) Restore(spent float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.spent = spent
	b.exhausted = b.statusLocked() == BudgetExhausted
}

func (b *CostBudget) statusLocked() BudgetStatus {
	if b.limit <= 0 {
		return BudgetOK
	}
	percentage := b.spent / b.limit
	if percentage >= 1.0 {
		return BudgetExhausted
	}
	if percentage >= b.warningThreshold {
		return BudgetWarning
	}
	return BudgetOK
}

// CheckBudget returns the current budget status.
func (b *CostBudget) CheckBudget() BudgetStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.statusLocked()
}

// CanStartNew reports whether new tasks may be assigned.
func (b *CostBudget) CanStartNew() bool {
	return b.CheckBudget() != BudgetExhausted
}

// Spent returns the total recorded spend.
func (b *CostBudget) Spent() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.spent
}

// GetUsage returns spend, limit and the used share of the limit (0 when unlimited).
func (b *CostBudget) GetUsage() (spent, limit, percentage float64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.limit > 0 {
		percentage = b.spent / b.limit
	}
	return b.spent, b.limit, percentage
}

// SetWarningThreshold sets the warning threshold, clamped to [0, 1].
func (b *CostBudget) SetWarningThreshold(threshold float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.warningThreshold = min(max(threshold, 0), 1)
}
