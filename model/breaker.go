package model

import (
	"context"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/cadencehq/cadence/logging"
)

// Default circuit breaker settings.
const (
	defaultBreakerMaxFailures uint32        = 5
	defaultBreakerTimeout     time.Duration = 30 * time.Second
	defaultBreakerInterval    time.Duration = 60 * time.Second
)

// BreakerConfig configures the circuit breaker behavior.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures uint32 `yaml:"max_failures"`
	// Timeout is how long the circuit stays open before transitioning to half-open.
	Timeout time.Duration `yaml:"timeout"`
	// Interval is the cyclic period of the closed state for clearing failure counts.
	// If 0, failures never reset until the circuit opens.
	Interval time.Duration `yaml:"interval"`
}

// BreakerClient wraps a Client with circuit breaker protection. When the
// wrapped provider fails repeatedly, the circuit opens and subsequent calls
// fail fast without reaching the provider, preventing retry storms. A fast
// failure still counts as a failure to the agent pipeline, so the fallback
// chain proceeds to the next model as usual.
type BreakerClient struct {
	inner   Client
	breaker *gobreaker.CircuitBreaker[string]
	logger  logging.Logger
}

// NewBreakerClient wraps inner with a circuit breaker.
// Zero-valued config fields fall back to package defaults.
func NewBreakerClient(inner Client, cfg BreakerConfig, logger logging.Logger) *BreakerClient {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}

	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultBreakerTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultBreakerInterval
	}

	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "model:" + inner.Info().Provider,
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn(
				"model.breaker.state_change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return &BreakerClient{
		inner:   inner,
		breaker: cb,
		logger:  logger,
	}
}

// Complete implements Client. Calls are routed through the circuit breaker.
func (c *BreakerClient) Complete(ctx context.Context, req Request) (string, error) {
	return c.breaker.Execute(func() (string, error) {
		return c.inner.Complete(ctx, req)
	})
}

// Info implements Client.
func (c *BreakerClient) Info() Info { return c.inner.Info() }
