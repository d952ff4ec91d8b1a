// Package retry decides whether and when a failed upload attempt is retried.
// It performs no I/O and owns no timers: callers schedule the delays.
package retry

import (
	"loan-upload/internal/config"
	"loan-upload/internal/core/domain"
	"math"
	"math/rand/v2"
	"time"
)

const jitterRatio = 0.25

// Policy describes the backoff of one retry channel
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	// RetryIf overrides the classification for errors it returns handled=true for
	RetryIf func(err error, class domain.ErrorClass) (retry bool, handled bool)
}

// PolicyFromConfig builds the task level policy
func PolicyFromConfig(cfg config.RetryConfig) Policy {
	return Policy{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.BaseDelay,
		MaxDelay:   cfg.MaxDelay,
		Multiplier: cfg.Multiplier,
	}
}

// ChunkPolicyFromConfig builds the per-chunk policy
func ChunkPolicyFromConfig(cfg config.RetryConfig) Policy {
	p := PolicyFromConfig(cfg)
	p.MaxRetries = cfg.ChunkRetries
	return p
}

// Engine computes retry decisions and delays
type Engine struct {
	jitter func() float64
}

// Option configures an Engine
type Option func(*Engine)

// WithJitterSource replaces the uniform [0,1) source used for jitter
func WithJitterSource(src func() float64) Option {
	return func(e *Engine) {
		e.jitter = src
	}
}

// NewEngine creates an Engine
func NewEngine(opts ...Option) *Engine {
	e := &Engine{jitter: rand.Float64}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// IsRetryable tells whether an error class is retried by default
func IsRetryable(class domain.ErrorClass) bool {
	switch class {
	case domain.ErrorClassNetwork, domain.ErrorClassTimeout, domain.ErrorClassServer, domain.ErrorClassRateLimited:
		return true
	default:
		return false
	}
}

// ShouldRetry reports whether attempt attemptIndex (0 based) that failed with err may be retried
func (e *Engine) ShouldRetry(err error, attemptIndex int, policy Policy) bool {
	if err == nil || attemptIndex >= policy.MaxRetries {
		return false
	}

	class := domain.Classify(err)
	// cancellation and exhausted chunks are final whatever the override says
	if class == domain.ErrorClassCancelled || class == domain.ErrorClassChunkAssembly {
		return false
	}
	if policy.RetryIf != nil {
		if retry, handled := policy.RetryIf(err, class); handled {
			return retry
		}
	}
	return IsRetryable(class)
}

// NominalDelay returns min(base * multiplier^attemptIndex, maxDelay)
func (e *Engine) NominalDelay(attemptIndex int, policy Policy) time.Duration {
	if attemptIndex < 0 {
		attemptIndex = 0
	}
	multiplier := policy.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	nominal := float64(policy.BaseDelay) * math.Pow(multiplier, float64(attemptIndex))
	if policy.MaxDelay > 0 && nominal > float64(policy.MaxDelay) {
		return policy.MaxDelay
	}
	if nominal > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(nominal)
}

// NextDelay returns the nominal delay jittered uniformly by ±25%, floored at zero
func (e *Engine) NextDelay(attemptIndex int, policy Policy) time.Duration {
	return e.Jitter(e.NominalDelay(attemptIndex, policy))
}

// Jitter perturbs d uniformly within ±25%
func (e *Engine) Jitter(d time.Duration) time.Duration {
	spread := float64(d) * jitterRatio
	delay := float64(d) + (e.jitter()*2-1)*spread
	if delay < 0 {
		return 0
	}
	return time.Duration(delay)
}

// Attempt builds the transient record handed to listeners before a retry
func (e *Engine) Attempt(err error, attemptIndex int, policy Policy) domain.RetryAttempt {
	nominal := e.NominalDelay(attemptIndex, policy)
	return domain.RetryAttempt{
		Index:        attemptIndex,
		NominalDelay: nominal,
		Delay:        e.Jitter(nominal),
		Class:        domain.Classify(err),
	}
}
