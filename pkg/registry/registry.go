// Package registry provides the process-wide mapping from model_id to its
// ModelQueue, plus the Register/Submit/UpdateTokenUsage/GetStatus surface
// callers use to talk to it.
//
// Grounded on original_source/src/llm_queue/manager.py for
// register/submit/update/status/list/queue_info/shutdown_all semantics.
// Per spec Design Notes, Registry is an explicit constructed value rather
// than a hidden package-level singleton; Default()/SetDefault() provide an
// opt-in process-scoped instance in the idiom of
// SnapdragonPartners-maestro's dispatcher, which is itself constructed and
// wired explicitly rather than reached for as a global.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/Ganzzi/llm-queue/pkg/limiter"
	"github.com/Ganzzi/llm-queue/pkg/logx"
	"github.com/Ganzzi/llm-queue/pkg/metrics"
	"github.com/Ganzzi/llm-queue/pkg/modelqueue"
	"github.com/Ganzzi/llm-queue/pkg/queue"
)

// boundQueue erases the P/T type parameters of a modelqueue.Queue behind
// the narrow operations Registry needs, so one Registry can host queues for
// different payload/result types.
type boundQueue interface {
	Size() int
	Usages() []limiter.Usage
	Shutdown(ctx context.Context) error
}

type entry struct {
	modelID string
	queue   boundQueue
}

// Registry holds every registered model's queue.
type Registry struct {
	mu       sync.RWMutex
	queues   map[string]*entry
	recorder metrics.Recorder
	logger   *logx.Logger
}

// New builds an empty Registry. recorder may be nil, in which case metrics
// are discarded.
func New(recorder metrics.Recorder) *Registry {
	if recorder == nil {
		recorder = metrics.NoOp()
	}
	return &Registry{
		queues:   make(map[string]*entry),
		recorder: recorder,
		logger:   logx.NewLogger("registry"),
	}
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
	defaultMu   sync.Mutex
)

// Default returns a lazily constructed, process-scoped Registry.
func Default() *Registry {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultOnce.Do(func() {
		defaultReg = New(metrics.NoOp())
	})
	return defaultReg
}

// SetDefault replaces the process-scoped Registry returned by Default.
func SetDefault(r *Registry) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultOnce.Do(func() {}) // ensure Default() never overwrites an explicit SetDefault
	defaultReg = r
}

// Register builds and starts a ModelQueue for cfg.ModelID, governed by the
// processor and cfg's rate-limiter dimensions. It is an error to register
// the same model_id twice.
func Register[P any, T any](r *Registry, cfg queue.ModelConfig, processor modelqueue.Processor[P, T]) error {
	if err := validateModelConfig(cfg); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.queues[cfg.ModelID]; exists {
		return fmt.Errorf("%s: %w", cfg.ModelID, queue.ErrAlreadyRegistered)
	}

	chain := limiter.NewChain(cfg.ModelID, cfg.Limiters, r.recorder)
	mq := modelqueue.New[P, T](cfg.ModelID, chain, processor, r.recorder)
	r.queues[cfg.ModelID] = &entry{modelID: cfg.ModelID, queue: mq}
	return nil
}

func validateModelConfig(cfg queue.ModelConfig) error {
	if cfg.ModelID == "" {
		return fmt.Errorf("model_id is required: %w", queue.ErrInvalidConfiguration)
	}
	if len(cfg.Limiters) == 0 {
		return fmt.Errorf("%s: at least one limiter is required: %w", cfg.ModelID, queue.ErrInvalidConfiguration)
	}
	for _, l := range cfg.Limiters {
		if l.Limit <= 0 {
			return fmt.Errorf("%s: limiter %s: limit must be positive: %w", cfg.ModelID, l.Kind, queue.ErrInvalidConfiguration)
		}
	}
	return nil
}

// queueFor fetches the live *modelqueue.Queue[P, T] for modelID. The type
// parameters must match what was passed to Register for that model_id;
// mismatches are a programmer error, not a recoverable runtime state, so
// they panic rather than returning a typed-nil Response.
func queueFor[P any, T any](r *Registry, modelID string) (*modelqueue.Queue[P, T], error) {
	r.mu.RLock()
	e, ok := r.queues[modelID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", modelID, queue.ErrModelNotRegistered)
	}
	mq, ok := e.queue.(*modelqueue.Queue[P, T])
	if !ok {
		panic(fmt.Sprintf("registry: model %q was registered with different payload/result types", modelID))
	}
	return mq, nil
}

// Submit enqueues a request against its model's queue.
func Submit[P any, T any](ctx context.Context, r *Registry, req *queue.Request[P]) (queue.Response[T], error) {
	mq, err := queueFor[P, T](r, req.ModelID)
	if err != nil {
		return queue.Response[T]{}, err
	}
	return mq.Enqueue(ctx, req)
}

// UpdateTokenUsage reconciles actual token usage for a previously submitted
// request.
func UpdateTokenUsage[P any, T any](r *Registry, modelID, requestID string, actualInput, actualOutput int) error {
	mq, err := queueFor[P, T](r, modelID)
	if err != nil {
		return err
	}
	return mq.UpdateTokenUsage(requestID, actualInput, actualOutput)
}

// GetStatus returns the current Response for a request.
func GetStatus[P any, T any](r *Registry, modelID, requestID string) (queue.Response[T], error) {
	mq, err := queueFor[P, T](r, modelID)
	if err != nil {
		return queue.Response[T]{}, err
	}
	resp, ok := mq.GetStatus(requestID)
	if !ok {
		return queue.Response[T]{}, fmt.Errorf("%s: %w", requestID, queue.ErrProcessingError)
	}
	return resp, nil
}

// ListModels returns every registered model_id.
func (r *Registry) ListModels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.queues))
	for id := range r.queues {
		out = append(out, id)
	}
	return out
}

// LimiterInfo mirrors one rate limiter's current state for QueueInfo.
type LimiterInfo struct {
	Kind      string
	Limit     int
	Usage     int
	Available int
}

// QueueInfo summarizes one model's queue depth and limiter usage.
// RateLimiterUsage mirrors manager.py's get_queue_info: the first
// configured limiter's current usage (0 if the model has none), kept as a
// single-number summary alongside the full per-kind Limiters breakdown.
type QueueInfo struct {
	ModelID          string
	Size             int
	RateLimiterUsage int
	Limiters         []LimiterInfo
}

// GetQueueInfo returns a usage snapshot for one registered model.
func (r *Registry) GetQueueInfo(modelID string) (QueueInfo, error) {
	r.mu.RLock()
	e, ok := r.queues[modelID]
	r.mu.RUnlock()
	if !ok {
		return QueueInfo{}, fmt.Errorf("%s: %w", modelID, queue.ErrModelNotRegistered)
	}
	usages := e.queue.Usages()
	limiters := make([]LimiterInfo, 0, len(usages))
	for _, u := range usages {
		limiters = append(limiters, LimiterInfo{Kind: string(u.Kind), Limit: u.Limit, Usage: u.Usage, Available: u.Available})
	}
	rateLimiterUsage := 0
	if len(usages) > 0 {
		rateLimiterUsage = usages[0].Usage
	}
	return QueueInfo{ModelID: modelID, Size: e.queue.Size(), RateLimiterUsage: rateLimiterUsage, Limiters: limiters}, nil
}

// GetAllQueueInfo returns a usage snapshot for every registered model.
func (r *Registry) GetAllQueueInfo() []QueueInfo {
	r.mu.RLock()
	ids := make([]string, 0, len(r.queues))
	for id := range r.queues {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	out := make([]QueueInfo, 0, len(ids))
	for _, id := range ids {
		info, err := r.GetQueueInfo(id)
		if err != nil {
			continue
		}
		out = append(out, info)
	}
	return out
}

// ShutdownAll gracefully stops every registered queue and clears the
// registry.
func (r *Registry) ShutdownAll(ctx context.Context) error {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.queues))
	for _, e := range r.queues {
		entries = append(entries, e)
	}
	r.queues = make(map[string]*entry)
	r.mu.Unlock()

	var firstErr error
	for _, e := range entries {
		if err := e.queue.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = r.logger.Wrap(err, fmt.Sprintf("shutdown of model %q", e.modelID))
		}
	}
	return firstErr
}
