// Package modelqueue implements the per-model FIFO admission queue: one
// worker goroutine that pulls requests in order, waits for rate-limiter
// admission, invokes the caller's processor, and publishes a response.
//
// Grounded on original_source/src/llm_queue/queue.py for queue/worker
// semantics (bounded completion history, enqueue/wait_for_completion,
// update_token_usage, get_status, shutdown) and on
// SnapdragonPartners-maestro/pkg/dispatch/dispatcher.go for the Go
// goroutine-lifecycle idiom: a buffered work channel, sync.WaitGroup-backed
// Start/Stop, and a shutdown channel closed exactly once.
package modelqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Ganzzi/llm-queue/pkg/limiter"
	"github.com/Ganzzi/llm-queue/pkg/logx"
	"github.com/Ganzzi/llm-queue/pkg/metrics"
	"github.com/Ganzzi/llm-queue/pkg/queue"
)

// maxCompletedHistory bounds the completed-requests table; once exceeded,
// the oldest 10% are evicted.
const maxCompletedHistory = 1000

// Processor is the caller-supplied work function. It receives the full
// Request (not just its params) so it may read estimated token counts and,
// per spec §6, mutate req.ActualInputTokens/ActualOutputTokens before
// returning; modelqueue publishes whatever is there as the Response's
// token-usage fields. Matches manager.py/queue.py's processor_func(request),
// which receives the whole QueueRequest. modelqueue never retries it.
type Processor[P any, T any] func(ctx context.Context, req *queue.Request[P]) (T, error)

// reconcileRecord remembers the last actual token counts a request was
// reconciled with, so repeated UpdateTokenUsage calls with the same values
// are a no-op (idempotence).
type reconcileRecord struct {
	actualInput  int
	actualOutput int
	done         bool
}

// job couples a Request with the channel its Response is published on,
// playing the role of the Python implementation's asyncio.Future.
type job[P any, T any] struct {
	request *queue.Request[P]
	reply   chan queue.Response[T]
}

// completedEntry is what the completed table keeps for a terminal request:
// the published Response plus the estimated token counts that were booked
// at admission time. The estimates are kept alongside (not derived from the
// Response's own token-usage fields, which hold actuals) so a later
// UpdateTokenUsage call can still compute reconcile's est/actual diff after
// the request has left the active table.
type completedEntry[T any] struct {
	resp            queue.Response[T]
	estimatedInput  int
	estimatedOutput int
}

// Queue is a single model's FIFO admission queue plus its worker.
type Queue[P any, T any] struct {
	modelID   string
	chain     *limiter.Chain
	processor Processor[P, T]
	recorder  metrics.Recorder
	logger    *logx.Logger

	work     chan *job[P, T]
	shutdown chan struct{}
	wg       sync.WaitGroup

	mu        sync.Mutex
	active    map[string]*job[P, T]
	completed map[string]*completedEntry[T]
	order     []string // completed request IDs in insertion order, for eviction
	reconcile map[string]*reconcileRecord
}

// New builds a Queue for modelID governed by chain and backed by
// processor, and starts its worker goroutine.
func New[P any, T any](modelID string, chain *limiter.Chain, processor Processor[P, T], recorder metrics.Recorder) *Queue[P, T] {
	if recorder == nil {
		recorder = metrics.NoOp()
	}
	q := &Queue[P, T]{
		modelID:   modelID,
		chain:     chain,
		processor: processor,
		recorder:  recorder,
		logger:    logx.NewLogger("modelqueue." + modelID),
		work:      make(chan *job[P, T], 4096),
		shutdown:  make(chan struct{}),
		active:    make(map[string]*job[P, T]),
		completed: make(map[string]*completedEntry[T]),
		reconcile: make(map[string]*reconcileRecord),
	}
	q.wg.Add(1)
	go q.run()
	return q
}

// Enqueue submits a request. If req.WaitForCompletion is true, Enqueue
// blocks until the request reaches a terminal state (or ctx is cancelled)
// and returns its Response; otherwise it returns immediately with a
// PENDING Response and the request completes in the background.
func (q *Queue[P, T]) Enqueue(ctx context.Context, req *queue.Request[P]) (queue.Response[T], error) {
	select {
	case <-q.shutdown:
		return queue.Response[T]{}, fmt.Errorf("%s: queue is shut down: %w", q.modelID, queue.ErrModelNotRegistered)
	default:
	}

	j := &job[P, T]{request: req, reply: make(chan queue.Response[T], 1)}

	q.mu.Lock()
	q.active[req.ID] = j
	q.mu.Unlock()
	q.recorder.SetQueueDepth(q.modelID, float64(len(q.work)+1))

	select {
	case q.work <- j:
	case <-ctx.Done():
		return queue.Response[T]{}, ctx.Err()
	}

	if !req.WaitForCompletion {
		return queue.Response[T]{RequestID: req.ID, ModelID: req.ModelID, Status: queue.StatusPending, CreatedAt: req.CreatedAt}, nil
	}

	select {
	case resp := <-j.reply:
		return resp, nil
	case <-ctx.Done():
		return queue.Response[T]{}, ctx.Err()
	}
}

// run is the single worker loop: pull a job (polling every second so
// Shutdown can observe an empty channel promptly), wait for rate-limiter
// admission, invoke the processor, publish the response.
func (q *Queue[P, T]) run() {
	defer q.wg.Done()
	for {
		select {
		case j := <-q.work:
			q.process(j)
		case <-time.After(time.Second):
			select {
			case <-q.shutdown:
				if len(q.work) == 0 {
					return
				}
			default:
			}
		}
	}
}

func (q *Queue[P, T]) process(j *job[P, T]) {
	req := j.request
	req.Status = queue.StatusProcessing

	// A queued request must still be admitted and run to completion during
	// a graceful drain (after Shutdown the worker keeps dequeuing until the
	// work channel is empty), so WaitAll here is never cancelled by
	// q.shutdown.
	admitted := q.chain.WaitAll(req.EstimatedInputTokens, req.EstimatedOutputTokens, nil)
	start := time.Now()

	var resp queue.Response[T]
	if !admitted {
		req.Status = queue.StatusFailed
		req.Err = queue.ErrQueueTimeout
		resp = queue.Response[T]{RequestID: req.ID, ModelID: req.ModelID, Status: queue.StatusFailed, Err: queue.ErrQueueTimeout, CreatedAt: req.CreatedAt}
	} else {
		result, err := q.processor(context.Background(), req)
		q.chain.ReleaseAll()
		elapsed := time.Since(start)
		// req.Actual{Input,Output}Tokens may have been set by the
		// processor (spec §6); what's published is whatever is there,
		// defaulting to zero if the processor left them untouched.
		if err != nil {
			req.Status = queue.StatusFailed
			req.Err = logx.Wrap(err, "processor invocation failed")
			resp = queue.Response[T]{
				RequestID: req.ID, ModelID: req.ModelID, Status: queue.StatusFailed,
				Err: req.Err, ProcessingTime: elapsed, CreatedAt: req.CreatedAt,
				InputTokensUsed: req.ActualInputTokens, OutputTokensUsed: req.ActualOutputTokens,
			}
		} else {
			req.Status = queue.StatusCompleted
			resp = queue.Response[T]{
				RequestID: req.ID, ModelID: req.ModelID, Status: queue.StatusCompleted,
				Result: result, ProcessingTime: elapsed, CreatedAt: req.CreatedAt,
				InputTokensUsed: req.ActualInputTokens, OutputTokensUsed: req.ActualOutputTokens,
			}
		}
	}
	q.recorder.ObserveTerminal(q.modelID, string(resp.Status))

	q.mu.Lock()
	delete(q.active, req.ID)
	q.completed[req.ID] = &completedEntry[T]{
		resp:            resp,
		estimatedInput:  req.EstimatedInputTokens,
		estimatedOutput: req.EstimatedOutputTokens,
	}
	q.order = append(q.order, req.ID)
	q.evictOldestLocked()
	q.mu.Unlock()
	q.recorder.SetQueueDepth(q.modelID, float64(len(q.work)))

	select {
	case j.reply <- resp:
	default:
	}
}

// evictOldestLocked drops the oldest 10% of completed history once it
// exceeds maxCompletedHistory. Caller must hold q.mu.
func (q *Queue[P, T]) evictOldestLocked() {
	if len(q.order) <= maxCompletedHistory {
		return
	}
	evict := len(q.order) / 10
	if evict == 0 {
		evict = 1
	}
	for _, id := range q.order[:evict] {
		delete(q.completed, id)
		delete(q.reconcile, id)
	}
	q.order = q.order[evict:]
}

// UpdateTokenUsage reconciles estimated token counts against actual usage
// for a request that is active or in completed history. Repeated calls
// with the same (actualInput, actualOutput) for a given request are a
// no-op, since the original reconciliation already applied that delta.
func (q *Queue[P, T]) UpdateTokenUsage(requestID string, actualInput, actualOutput int) error {
	q.mu.Lock()
	var estimatedInput, estimatedOutput int
	var found bool
	if j, ok := q.active[requestID]; ok {
		estimatedInput, estimatedOutput = j.request.EstimatedInputTokens, j.request.EstimatedOutputTokens
		j.request.ActualInputTokens, j.request.ActualOutputTokens = actualInput, actualOutput
		found = true
	} else if entry, ok := q.completed[requestID]; ok {
		estimatedInput, estimatedOutput = entry.estimatedInput, entry.estimatedOutput
		entry.resp.InputTokensUsed, entry.resp.OutputTokensUsed = actualInput, actualOutput
		found = true
	}
	if !found {
		q.mu.Unlock()
		return queue.ErrProcessingError
	}

	rec, ok := q.reconcile[requestID]
	if !ok {
		rec = &reconcileRecord{}
		q.reconcile[requestID] = rec
	}
	alreadyApplied := rec.done && rec.actualInput == actualInput && rec.actualOutput == actualOutput
	rec.actualInput, rec.actualOutput, rec.done = actualInput, actualOutput, true
	q.mu.Unlock()

	if alreadyApplied {
		return nil
	}
	q.chain.Reconcile(estimatedInput, estimatedOutput, actualInput, actualOutput)
	return nil
}

// GetStatus returns the current Response for a request, without its
// result payload populated for non-terminal requests.
func (q *Queue[P, T]) GetStatus(requestID string) (queue.Response[T], bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if entry, ok := q.completed[requestID]; ok {
		return entry.resp, true
	}
	if j, ok := q.active[requestID]; ok {
		return queue.Response[T]{RequestID: j.request.ID, ModelID: j.request.ModelID, Status: j.request.Status, CreatedAt: j.request.CreatedAt}, true
	}
	return queue.Response[T]{}, false
}

// Size returns the number of requests currently queued for processing
// (not counting the one the worker may be actively processing).
func (q *Queue[P, T]) Size() int {
	return len(q.work)
}

// Usages reports current usage of every configured rate-limiter dimension.
func (q *Queue[P, T]) Usages() []limiter.Usage {
	return q.chain.Usages()
}

// Shutdown stops admitting new work and waits for the worker to drain the
// channel and return, or for ctx to be cancelled first.
func (q *Queue[P, T]) Shutdown(ctx context.Context) error {
	select {
	case <-q.shutdown:
	default:
		close(q.shutdown)
	}
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return q.logger.Wrap(ctx.Err(), "shutdown did not complete before context cancellation")
	}
}
