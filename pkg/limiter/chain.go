package limiter

import (
	"time"

	"github.com/Ganzzi/llm-queue/pkg/queue"
)

// Limiter is the common surface of RequestLimiter, TokenLimiter and
// ConcurrencyLimiter, letting LimiterChain treat every configured dimension
// uniformly regardless of kind.
type Limiter interface {
	Acquire(tokens int) bool
	Release(tokens int)
	CurrentUsage() int
	AvailableCapacity() int
	Limit() int
}

// Recorder is the narrow metrics surface LimiterChain needs. A no-op
// implementation is the zero value default so the chain never requires a
// configured Prometheus registry. It is structurally a subset of
// metrics.Recorder, so a *metrics.PrometheusRecorder or metrics.NoOp()
// value satisfies it without either package importing the other.
type Recorder interface {
	ObserveQueueWait(modelID string, d time.Duration)
	IncThrottle(modelID string, kind queue.LimiterKind)
	IncAdmitted(modelID string, kind queue.LimiterKind)
	ObserveTokenDelta(modelID string, kind queue.LimiterKind, tokens int, direction string)
}

type noopRecorder struct{}

func (noopRecorder) ObserveQueueWait(string, time.Duration)                   {}
func (noopRecorder) IncThrottle(string, queue.LimiterKind)                    {}
func (noopRecorder) IncAdmitted(string, queue.LimiterKind)                    {}
func (noopRecorder) ObserveTokenDelta(string, queue.LimiterKind, int, string) {}

// entry pairs a configured Limiter with the kind it governs, so the chain
// can compute a per-limiter admission cost and, for reconciliation, decide
// which entries are token ledgers.
type entry struct {
	kind    queue.LimiterKind
	limiter Limiter
}

// Chain is an ordered set of rate limiters guarding one model. Admission is
// all-or-nothing: AcquireAll rolls back every limiter it already acquired,
// in reverse order, the moment one limiter in the chain refuses.
//
// Grounded on original_source/src/llm_queue/rate_limiters/chain.py and
// factory.py for the kind->cost table, rollback ordering, release_all
// scoping to CONCURRENT limiters only, and the reconciliation formula.
type Chain struct {
	modelID  string
	entries  []entry
	recorder Recorder
}

// NewChain builds a Chain from a model's LimiterConfig set. Order is
// preserved from configs, and WaitAll iterates in that same fixed order to
// avoid lock-ordering deadlocks across concurrent requests.
func NewChain(modelID string, configs []queue.LimiterConfig, recorder Recorder) *Chain {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	entries := make([]entry, 0, len(configs))
	for _, cfg := range configs {
		entries = append(entries, entry{kind: cfg.Kind, limiter: newLimiterFor(cfg)})
	}
	return &Chain{modelID: modelID, entries: entries, recorder: recorder}
}

func newLimiterFor(cfg queue.LimiterConfig) Limiter {
	if cfg.Kind == queue.KindConcurrent {
		return NewConcurrencyLimiter(cfg.Limit)
	}
	if cfg.Kind.IsTokenKind() {
		return NewTokenLimiter(cfg.Limit, cfg.Period())
	}
	return NewRequestLimiter(cfg.Limit, cfg.Period())
}

// costForKind returns how many units of a given kind's budget one
// admission of this request consumes.
func costForKind(kind queue.LimiterKind, estimatedInput, estimatedOutput int) int {
	switch kind {
	case queue.KindTPM, queue.KindTPD:
		return estimatedInput + estimatedOutput
	case queue.KindITPM:
		return estimatedInput
	case queue.KindOTPM:
		return estimatedOutput
	default: // RPM, RPD, CONCURRENT
		return 1
	}
}

// AcquireAll attempts to admit one request across every configured
// dimension. On refusal it releases every limiter already acquired this
// call, in reverse acquisition order, and increments the throttle metric
// for the limiter that refused. On success it records an admission and, for
// token-kind limiters, the admitted cost as a token-delta observation — only
// once the whole chain is admitted, so a partial admission that gets rolled
// back never shows up as booked usage.
func (c *Chain) AcquireAll(estimatedInput, estimatedOutput int) bool {
	acquired := make([]entry, 0, len(c.entries))
	for _, e := range c.entries {
		cost := costForKind(e.kind, estimatedInput, estimatedOutput)
		if !e.limiter.Acquire(cost) {
			c.recorder.IncThrottle(c.modelID, e.kind)
			for i := len(acquired) - 1; i >= 0; i-- {
				back := acquired[i]
				back.limiter.Release(costForKind(back.kind, estimatedInput, estimatedOutput))
			}
			return false
		}
		acquired = append(acquired, e)
	}
	for _, e := range acquired {
		c.recorder.IncAdmitted(c.modelID, e.kind)
		if e.kind.IsTokenKind() {
			cost := costForKind(e.kind, estimatedInput, estimatedOutput)
			if cost > 0 {
				c.recorder.ObserveTokenDelta(c.modelID, e.kind, cost, "acquire")
			}
		}
	}
	return true
}

// ReleaseAll releases only the CONCURRENT-kind limiters in the chain. Count
// and token limiters are rolling windows that expire on their own; only a
// concurrency slot needs an explicit release when a request finishes.
func (c *Chain) ReleaseAll() {
	for _, e := range c.entries {
		if e.kind == queue.KindConcurrent {
			e.limiter.Release(1)
		}
	}
}

const waitPollInterval = 100 * time.Millisecond

// WaitAll blocks, polling AcquireAll at a fixed interval, until admission
// succeeds or ctx-equivalent cancellation is signalled via the done
// channel. Queue wait time is recorded regardless of outcome.
func (c *Chain) WaitAll(estimatedInput, estimatedOutput int, done <-chan struct{}) bool {
	start := time.Now()
	defer func() { c.recorder.ObserveQueueWait(c.modelID, time.Since(start)) }()

	for {
		if c.AcquireAll(estimatedInput, estimatedOutput) {
			return true
		}
		select {
		case <-done:
			return false
		case <-time.After(waitPollInterval):
		}
	}
}

// Reconcile adjusts booked token usage from estimated to actual counts on
// every TokenLimiter-backed entry in the chain. Safe to call repeatedly
// with the same values by the caller's own idempotence tracking (see
// modelqueue.Queue.UpdateTokenUsage); Chain itself applies whatever delta
// it is given. Every nonzero adjustment is recorded as a token-delta
// observation: "release" when the estimate overshot actual usage, "overage"
// when it undershot.
func (c *Chain) Reconcile(estimatedInput, estimatedOutput, actualInput, actualOutput int) {
	for _, e := range c.entries {
		tl, ok := e.limiter.(*TokenLimiter)
		if !ok {
			continue
		}
		var estimated, actual int
		switch e.kind {
		case queue.KindTPM, queue.KindTPD:
			estimated, actual = estimatedInput+estimatedOutput, actualInput+actualOutput
		case queue.KindITPM:
			estimated, actual = estimatedInput, actualInput
		case queue.KindOTPM:
			estimated, actual = estimatedOutput, actualOutput
		default:
			continue
		}
		tl.Reconcile(estimated, actual)
		if diff := estimated - actual; diff > 0 {
			c.recorder.ObserveTokenDelta(c.modelID, e.kind, diff, "release")
		} else if diff < 0 {
			c.recorder.ObserveTokenDelta(c.modelID, e.kind, -diff, "overage")
		}
	}
}

// Usage describes one limiter's current state, for QueueInfo reporting.
type Usage struct {
	Kind      queue.LimiterKind
	Limit     int
	Usage     int
	Available int
}

// Usages returns the current usage of every limiter in the chain, in
// configured order.
func (c *Chain) Usages() []Usage {
	out := make([]Usage, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, Usage{
			Kind:      e.kind,
			Limit:     e.limiter.Limit(),
			Usage:     e.limiter.CurrentUsage(),
			Available: e.limiter.AvailableCapacity(),
		})
	}
	return out
}
