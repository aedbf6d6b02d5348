// common/backoff/backoff.go
package backoff

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/YaganovValera/market-feed/common/logger"
)

// -----------------------------------------------------------------------------
// Metrics & service label
// -----------------------------------------------------------------------------

var (
	serviceLabel = "unknown"

	metrics = struct {
		Retries   *prometheus.CounterVec
		Failures  *prometheus.CounterVec
		Successes *prometheus.CounterVec
		Delays    *prometheus.HistogramVec
		Resets    *prometheus.CounterVec
	}{
		Retries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "common", Subsystem: "backoff", Name: "retries_total",
				Help: "Number of back-off retry attempts",
			},
			[]string{"service"},
		),
		Failures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "common", Subsystem: "backoff", Name: "failures_total",
				Help: "Number of operations that gave up after retries",
			},
			[]string{"service"},
		),
		Successes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "common", Subsystem: "backoff", Name: "successes_total",
				Help: "Number of operations that eventually succeeded",
			},
			[]string{"service"},
		),
		Delays: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "common", Subsystem: "backoff", Name: "retry_delay_seconds",
				Help:    "Histogram of retry delays (seconds)",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service"},
		),
		Resets: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "common", Subsystem: "backoff", Name: "resets_total",
				Help: "Number of schedule resets after a stable period",
			},
			[]string{"service"},
		),
	}
)

// SetServiceLabel must be called once from common.InitServiceName(..)
// before the first Execute(..). See common/service.go.
func SetServiceLabel(name string) { serviceLabel = name }

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config contains tunables for exponential back-off.
//
// Zero InitialInterval, Multiplier and MaxInterval mean "use default".
// Zero RandomizationFactor means no jitter.
type Config struct {
	// InitialInterval is the first delay before retrying.
	InitialInterval time.Duration `mapstructure:"initial_interval"`

	// RandomizationFactor adds ±jitter to each delay.
	// Accepted range: 0.0 ≤ f ≤ 1.0
	RandomizationFactor float64 `mapstructure:"randomization_factor"`

	// Multiplier multiplies the previous delay to get the next one.
	Multiplier float64 `mapstructure:"multiplier"`

	// MaxInterval caps each individual delay, jitter included.
	MaxInterval time.Duration `mapstructure:"max_interval"`

	// MaxElapsedTime is the total time allowed for all retries
	// before giving up. Zero → unlimited.
	MaxElapsedTime time.Duration `mapstructure:"max_elapsed_time"`

	// PerAttemptTimeout limits the execution time of every single
	// user function call. Zero → no per-attempt timeout.
	PerAttemptTimeout time.Duration `mapstructure:"per_attempt_timeout"`

	// ResetAfter: a Strategy goes back to InitialInterval once the
	// guarded resource stayed healthy this long. Zero → never.
	ResetAfter time.Duration `mapstructure:"reset_after"`
}

func (c *Config) applyDefaults() {
	if c.InitialInterval <= 0 {
		c.InitialInterval = time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 30 * time.Second
	}
}

func (c Config) validate() error {
	if c.RandomizationFactor < 0 || c.RandomizationFactor > 1 {
		return fmt.Errorf("backoff: RandomizationFactor must be in [0,1]")
	}
	if c.Multiplier < 1 {
		return fmt.Errorf("backoff: Multiplier must be ≥ 1")
	}
	if c.MaxInterval < c.InitialInterval {
		return fmt.Errorf("backoff: MaxInterval must be ≥ InitialInterval")
	}
	return nil
}

func newExponential(cfg Config) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialInterval
	bo.RandomizationFactor = cfg.RandomizationFactor
	bo.Multiplier = cfg.Multiplier
	bo.MaxInterval = cfg.MaxInterval
	// 0 → RetryNotify never stops on its own.
	bo.MaxElapsedTime = cfg.MaxElapsedTime
	bo.Reset()
	return bo
}

// RetryableFunc is a unit of work that may be re-executed until it
// succeeds or the back-off strategy gives up.
type RetryableFunc func(ctx context.Context) error

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

// ErrMaxRetries is returned from Execute(..) when the function was still
// failing after all retries were exhausted.
type ErrMaxRetries struct {
	Err      error // last error returned by fn
	Attempts int   // number of attempts performed
}

func (e *ErrMaxRetries) Error() string {
	return fmt.Sprintf("backoff: %d attempt(s) failed: %v", e.Attempts, e.Err)
}
func (e *ErrMaxRetries) Unwrap() error { return e.Err }

// Permanent marks an error as non-retryable.
func Permanent(err error) error { return backoff.Permanent(err) }

// -----------------------------------------------------------------------------
// Execute
// -----------------------------------------------------------------------------

// Execute runs fn() with an exponential back-off defined by cfg, emitting
// Prometheus metrics and structured logs via log.
func Execute(ctx context.Context, cfg Config, log *logger.Logger, fn RetryableFunc) error {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("backoff: invalid config: %w", err)
	}
	boCtx := backoff.WithContext(newExponential(cfg), ctx)

	attempts := 0
	operation := func() error {
		attempts++
		if cfg.PerAttemptTimeout > 0 {
			atCtx, cancel := context.WithTimeout(ctx, cfg.PerAttemptTimeout)
			defer cancel()
			return fn(atCtx)
		}
		return fn(ctx)
	}
	notify := func(err error, delay time.Duration) {
		metrics.Retries.WithLabelValues(serviceLabel).Inc()
		metrics.Delays.WithLabelValues(serviceLabel).Observe(delay.Seconds())
		log.Warn("back-off retry",
			zap.Int("attempt", attempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}

	if err := backoff.RetryNotify(operation, boCtx, notify); err != nil {
		metrics.Failures.WithLabelValues(serviceLabel).Inc()
		log.Error("back-off give-up",
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return &ErrMaxRetries{Err: err, Attempts: attempts}
	}

	metrics.Successes.WithLabelValues(serviceLabel).Inc()
	return nil
}

// -----------------------------------------------------------------------------
// Strategy
// -----------------------------------------------------------------------------

// Strategy hands out reconnect delays one at a time, for callers that run
// their own retry loop (e.g. a WebSocket session that must be re-established
// forever). It never gives up.
type Strategy struct {
	mu  sync.Mutex
	cfg Config
	bo  *backoff.ExponentialBackOff
}

// NewStrategy validates cfg and builds a Strategy. MaxElapsedTime is ignored.
func NewStrategy(cfg Config) (*Strategy, error) {
	cfg.applyDefaults()
	cfg.MaxElapsedTime = 0
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("backoff: invalid config: %w", err)
	}
	return &Strategy{cfg: cfg, bo: newExponential(cfg)}, nil
}

// Next returns the delay before the next attempt, jittered and capped at
// MaxInterval.
func (s *Strategy) Next() time.Duration {
	s.mu.Lock()
	d := s.bo.NextBackOff()
	s.mu.Unlock()

	if d == backoff.Stop || d > s.cfg.MaxInterval {
		d = s.cfg.MaxInterval
	}
	metrics.Retries.WithLabelValues(serviceLabel).Inc()
	metrics.Delays.WithLabelValues(serviceLabel).Observe(d.Seconds())
	return d
}

// Reset returns the schedule to InitialInterval.
func (s *Strategy) Reset() {
	s.mu.Lock()
	s.bo.Reset()
	s.mu.Unlock()
}

// ResetIfStable resets the schedule when healthyFor reached ResetAfter.
func (s *Strategy) ResetIfStable(healthyFor time.Duration) bool {
	if s.cfg.ResetAfter <= 0 || healthyFor < s.cfg.ResetAfter {
		return false
	}
	s.Reset()
	metrics.Resets.WithLabelValues(serviceLabel).Inc()
	return true
}

// Config returns the effective configuration (defaults applied).
func (s *Strategy) Config() Config { return s.cfg }
