// Package metrics instruments the admission/dispatch engine with
// Prometheus counters, histograms and gauges behind a small Recorder
// interface, so the engine never requires a configured registry to run.
//
// Grounded on
// SnapdragonPartners-maestro/pkg/agent/middleware/metrics/prometheus.go:
// the same promauto.NewCounterVec/NewHistogramVec construction style, and a
// Recorder abstraction so callers can swap in a no-op implementation in
// tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Ganzzi/llm-queue/pkg/queue"
)

// Recorder is the full metrics surface the engine emits against. It is a
// superset of limiter.Recorder (structurally, not by import) so a
// *PrometheusRecorder or NoOp value can be handed to limiter.NewChain
// directly.
type Recorder interface {
	ObserveQueueWait(modelID string, d time.Duration)
	IncThrottle(modelID string, kind queue.LimiterKind)
	IncAdmitted(modelID string, kind queue.LimiterKind)
	ObserveTerminal(modelID, status string)
	SetQueueDepth(modelID string, depth float64)
	ObserveTokenDelta(modelID string, kind queue.LimiterKind, tokens int, direction string)
}

type noop struct{}

func (noop) ObserveQueueWait(string, time.Duration)                   {}
func (noop) IncThrottle(string, queue.LimiterKind)                    {}
func (noop) IncAdmitted(string, queue.LimiterKind)                    {}
func (noop) ObserveTerminal(string, string)                           {}
func (noop) SetQueueDepth(string, float64)                            {}
func (noop) ObserveTokenDelta(string, queue.LimiterKind, int, string) {}

// NoOp returns a Recorder that discards every observation.
func NoOp() Recorder { return noop{} }

// PrometheusRecorder is the production Recorder, registering its
// instruments against a given prometheus.Registerer (or the default global
// registry if nil).
type PrometheusRecorder struct {
	admissions *prometheus.CounterVec
	queueWait  *prometheus.HistogramVec
	tokens     *prometheus.CounterVec
	requests   *prometheus.CounterVec
	queueDepth *prometheus.GaugeVec
}

// NewPrometheusRecorder builds and registers the engine's instruments. Pass
// nil to register against the default global registry via promauto.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	factory := promauto.With(reg)
	return &PrometheusRecorder{
		admissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "llmqueue_admissions_total",
			Help: "Admission attempts by model, limiter kind, and outcome.",
		}, []string{"model", "kind", "outcome"}),
		queueWait: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "llmqueue_queue_wait_seconds",
			Help:    "Time spent waiting for rate-limiter admission.",
			Buckets: prometheus.DefBuckets,
		}, []string{"model"}),
		tokens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "llmqueue_tokens_total",
			Help: "Token ledger deltas applied, by model, limiter kind, and direction.",
		}, []string{"model", "kind", "direction"}),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "llmqueue_requests_total",
			Help: "Terminal request outcomes by model and status.",
		}, []string{"model", "status"}),
		queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "llmqueue_queue_depth",
			Help: "Current FIFO queue depth by model.",
		}, []string{"model"}),
	}
}

func (p *PrometheusRecorder) ObserveQueueWait(modelID string, d time.Duration) {
	p.queueWait.WithLabelValues(modelID).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncThrottle(modelID string, kind queue.LimiterKind) {
	p.admissions.WithLabelValues(modelID, string(kind), "refused").Inc()
}

func (p *PrometheusRecorder) ObserveTerminal(modelID, status string) {
	p.requests.WithLabelValues(modelID, status).Inc()
}

func (p *PrometheusRecorder) SetQueueDepth(modelID string, depth float64) {
	p.queueDepth.WithLabelValues(modelID).Set(depth)
}

func (p *PrometheusRecorder) ObserveTokenDelta(modelID string, kind queue.LimiterKind, tokens int, direction string) {
	p.tokens.WithLabelValues(modelID, string(kind), direction).Add(float64(tokens))
}

// IncAdmitted records a successful admission for kind, called by
// limiter.Chain.AcquireAll once every limiter in the chain has acquired.
func (p *PrometheusRecorder) IncAdmitted(modelID string, kind queue.LimiterKind) {
	p.admissions.WithLabelValues(modelID, string(kind), "admitted").Inc()
}
