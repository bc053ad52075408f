package limiter

import (
	"sync"
	"time"
)

// ledgerEntry is one dated signed delta in a TokenLimiter's usage history:
// positive for admission cost, negative for a refund issued during
// reconciliation.
type ledgerEntry struct {
	at    time.Time
	delta int
}

// TokenLimiter enforces a rolling-window token budget, e.g. "200000 tokens
// per minute". Unlike RequestLimiter it tracks a signed dated ledger rather
// than one-timestamp-per-unit, so a post-hoc refund or overage charge can
// be recorded without mutating the original admission entry.
//
// Grounded on
// original_source/src/llm_queue/rate_limiters/token_limiter.py: release
// appends a new dated negative entry instead of removing the original
// positive one, and reconciliation overage uses a raw acquire that is
// allowed to push usage above limit (the budget is advisory once a request
// is already admitted and running).
type TokenLimiter struct {
	mu      sync.Mutex
	limit   int
	period  time.Duration
	ledger  []ledgerEntry
	now     func() time.Time
}

// NewTokenLimiter builds a TokenLimiter admitting up to limit tokens per
// rolling period.
func NewTokenLimiter(limit int, period time.Duration) *TokenLimiter {
	return &TokenLimiter{
		limit:  limit,
		period: period,
		now:    time.Now,
	}
}

func (t *TokenLimiter) prune(now time.Time) {
	cutoff := now.Add(-t.period)
	i := 0
	for i < len(t.ledger) && t.ledger[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		t.ledger = t.ledger[i:]
	}
}

func (t *TokenLimiter) usageLocked() int {
	sum := 0
	for _, e := range t.ledger {
		sum += e.delta
	}
	if sum < 0 {
		return 0
	}
	return sum
}

// Acquire attempts to admit tokens units of budget. Returns false without
// side effects if the window lacks capacity.
func (t *TokenLimiter) Acquire(tokens int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.prune(now)
	usage := t.usageLocked()
	if usage+tokens > t.limit {
		return false
	}
	t.ledger = append(t.ledger, ledgerEntry{at: now, delta: tokens})
	return true
}

// acquireRaw records a delta unconditionally, even if it pushes usage above
// limit. Used only by reconciliation overage.
func (t *TokenLimiter) acquireRaw(tokens int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ledger = append(t.ledger, ledgerEntry{at: t.now(), delta: tokens})
}

// Release records a dated refund of tokens units.
func (t *TokenLimiter) Release(tokens int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ledger = append(t.ledger, ledgerEntry{at: t.now(), delta: -tokens})
}

// CurrentUsage returns the non-expired signed sum, floored at zero.
func (t *TokenLimiter) CurrentUsage() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prune(t.now())
	return t.usageLocked()
}

// AvailableCapacity returns how many more tokens could be admitted right now.
func (t *TokenLimiter) AvailableCapacity() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prune(t.now())
	avail := t.limit - t.usageLocked()
	if avail < 0 {
		return 0
	}
	return avail
}

// Limit returns the configured ceiling.
func (t *TokenLimiter) Limit() int { return t.limit }

// Reconcile adjusts booked usage from estimated to actual token counts.
// diff = estimated - actual: a positive diff (overestimate) releases the
// surplus; a negative diff (underestimate) charges the shortfall via a raw,
// limit-ignoring acquire, matching the Python source's reconciliation.
func (t *TokenLimiter) Reconcile(estimated, actual int) {
	diff := estimated - actual
	switch {
	case diff > 0:
		t.Release(diff)
	case diff < 0:
		t.acquireRaw(-diff)
	}
}
