package limiter

import "sync/atomic"

// ConcurrencyLimiter bounds the number of in-flight requests for a model.
// It is a buffered-channel counting semaphore: acquiring a slot sends into
// the channel, releasing receives from it. TryAcquire is non-blocking by
// construction (select with a default case), so callers never need to
// introspect an internal counter to decide whether to wait.
//
// Grounded on
// other_examples/...Hardonian-Reach__services-runner-internal-backpressure-semaphore.go.go,
// chosen per §9 Design Notes to avoid the Python source's
// asyncio.Semaphore._value introspection.
type ConcurrencyLimiter struct {
	slots chan struct{}
	count int32
	limit int
}

// NewConcurrencyLimiter builds a ConcurrencyLimiter admitting up to limit
// concurrent requests.
func NewConcurrencyLimiter(limit int) *ConcurrencyLimiter {
	return &ConcurrencyLimiter{
		slots: make(chan struct{}, limit),
		limit: limit,
	}
}

// Acquire takes tokens slots, non-blocking; returns false if not all were
// available (acquired slots are rolled back on partial failure).
func (c *ConcurrencyLimiter) Acquire(tokens int) bool {
	if tokens <= 0 {
		tokens = 1
	}
	acquired := 0
	for i := 0; i < tokens; i++ {
		select {
		case c.slots <- struct{}{}:
			atomic.AddInt32(&c.count, 1)
			acquired++
		default:
			for j := 0; j < acquired; j++ {
				<-c.slots
				atomic.AddInt32(&c.count, -1)
			}
			return false
		}
	}
	return true
}

// Release gives back tokens previously acquired slots.
func (c *ConcurrencyLimiter) Release(tokens int) {
	if tokens <= 0 {
		tokens = 1
	}
	for i := 0; i < tokens; i++ {
		select {
		case <-c.slots:
			atomic.AddInt32(&c.count, -1)
		default:
			return
		}
	}
}

// CurrentUsage returns the number of slots currently held.
func (c *ConcurrencyLimiter) CurrentUsage() int {
	return int(atomic.LoadInt32(&c.count))
}

// AvailableCapacity returns how many more slots could be acquired right now.
func (c *ConcurrencyLimiter) AvailableCapacity() int {
	avail := c.limit - c.CurrentUsage()
	if avail < 0 {
		return 0
	}
	return avail
}

// Limit returns the configured ceiling.
func (c *ConcurrencyLimiter) Limit() int { return c.limit }
