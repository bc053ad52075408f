// Package queue defines the data model shared by the limiter, modelqueue
// and registry packages: requests, responses, rate-limiter configuration
// and the sentinel errors callers match against.
package queue

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LimiterKind identifies which rate-limiting dimension a LimiterConfig
// governs. Mirrors RateLimiterType in the original Python model.
type LimiterKind string

const (
	KindRPM        LimiterKind = "RPM"        // requests per minute (rolling window, default 60s)
	KindRPD        LimiterKind = "RPD"        // requests per day (rolling window, default 86400s)
	KindTPM        LimiterKind = "TPM"        // total tokens per minute (input + output)
	KindTPD        LimiterKind = "TPD"        // total tokens per day
	KindITPM       LimiterKind = "ITPM"       // input tokens per minute
	KindOTPM       LimiterKind = "OTPM"       // output tokens per minute
	KindConcurrent LimiterKind = "CONCURRENT" // in-flight request count
)

// defaultTimePeriod returns the rolling-window period a LimiterKind uses
// when the config leaves TimePeriod unset, matching factory.py's defaults.
func (k LimiterKind) defaultTimePeriod() time.Duration {
	switch k {
	case KindRPD, KindTPD:
		return 24 * time.Hour
	case KindConcurrent:
		return 0
	default:
		return time.Minute
	}
}

// IsTokenKind reports whether a kind is governed by a TokenLimiter rather
// than a RequestLimiter or ConcurrencyLimiter.
func (k LimiterKind) IsTokenKind() bool {
	switch k {
	case KindTPM, KindTPD, KindITPM, KindOTPM:
		return true
	default:
		return false
	}
}

// RequestStatus is the lifecycle state of a queued Request. Transitions are
// monotone: PENDING -> PROCESSING -> (COMPLETED | FAILED).
type RequestStatus string

const (
	StatusPending    RequestStatus = "PENDING"
	StatusProcessing RequestStatus = "PROCESSING"
	StatusCompleted  RequestStatus = "COMPLETED"
	StatusFailed     RequestStatus = "FAILED"
)

// LimiterConfig configures a single rate-limiting dimension attached to a
// model. Limit must be positive; TimePeriod, when zero, defaults per Kind.
// When loaded from YAML via pkg/config, TimePeriod accepts either a
// duration string ("60s", "24h") or a bare number, interpreted as seconds.
type LimiterConfig struct {
	Kind       LimiterKind   `yaml:"kind" mapstructure:"kind" validate:"required,oneof=RPM RPD TPM TPD ITPM OTPM CONCURRENT"`
	Limit      int           `yaml:"limit" mapstructure:"limit" validate:"required,gt=0"`
	TimePeriod time.Duration `yaml:"time_period" mapstructure:"time_period" validate:"omitempty,gt=0"`
}

// Period returns the effective rolling-window period for this config,
// applying the per-kind default when TimePeriod is unset.
func (c LimiterConfig) Period() time.Duration {
	if c.TimePeriod > 0 {
		return c.TimePeriod
	}
	return c.Kind.defaultTimePeriod()
}

// ModelConfig is the full set of rate-limiting dimensions for one tenant.
type ModelConfig struct {
	ModelID  string          `yaml:"model_id" mapstructure:"model_id" validate:"required"`
	Limiters []LimiterConfig `yaml:"limiters" mapstructure:"limiters" validate:"required,min=1,dive"`
}

// Request is a unit of work submitted to a ModelQueue. P is the caller's
// payload type; estimated/actual token counts drive token-limiter
// admission cost and post-hoc reconciliation.
type Request[P any] struct {
	ID                    string
	ModelID               string
	Params                P
	WaitForCompletion     bool
	CreatedAt             time.Time
	Status                RequestStatus
	Err                   error
	Metadata              map[string]string
	EstimatedInputTokens  int
	EstimatedOutputTokens int
	ActualInputTokens     int
	ActualOutputTokens    int
}

// NewRequest builds a Request with a generated ID, CreatedAt set to now,
// and Status PENDING, mirroring the Pydantic model's field defaults.
func NewRequest[P any](modelID string, params P) *Request[P] {
	return &Request[P]{
		ID:                uuid.NewString(),
		ModelID:           modelID,
		Params:            params,
		WaitForCompletion: true,
		CreatedAt:         time.Now(),
		Status:            StatusPending,
		Metadata:          map[string]string{},
	}
}

// Response is the outcome of a processed Request. T is the caller's result
// type.
type Response[T any] struct {
	RequestID        string
	ModelID          string
	Status           RequestStatus
	Result           T
	Err              error
	ProcessingTime   time.Duration
	CreatedAt        time.Time
	InputTokensUsed  int
	OutputTokensUsed int
}

// Sentinel errors, matched with errors.Is at call sites. Wrapped with
// additional context via fmt.Errorf("%w", ...) / logx.Wrap, never replaced.
var (
	ErrInvalidConfiguration = fmt.Errorf("invalid configuration")
	ErrAlreadyRegistered    = fmt.Errorf("model already registered")
	ErrModelNotRegistered   = fmt.Errorf("model not registered")
	ErrProcessingError      = fmt.Errorf("processing error")
	ErrQueueTimeout         = fmt.Errorf("queue timeout")
	ErrRateLimitExceeded    = fmt.Errorf("rate limit exceeded")
)
