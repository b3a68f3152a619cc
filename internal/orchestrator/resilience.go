package orchestrator

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/aristath/dispatch/internal/agent"
	"github.com/aristath/dispatch/internal/events"
)

// ResilienceConfig tunes the breaker and retry behavior around agent calls.
type ResilienceConfig struct {
	FailureThreshold uint32        // Consecutive failures before the breaker opens
	Cooldown         time.Duration // How long an open breaker stays open
	RetryAttempts    uint64        // Retries after the first attempt (transient failures only)
	CallTimeout      time.Duration // Per-call timeout for one executor invocation
	RetryInterval    time.Duration // Initial backoff interval
	RetryMaxInterval time.Duration // Backoff interval ceiling
}

// DefaultResilienceConfig returns the default tuning.
func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		RetryAttempts:    2,
		CallTimeout:      5 * time.Minute,
		RetryInterval:    100 * time.Millisecond,
		RetryMaxInterval: 10 * time.Second,
	}
}

// BreakerRegistry holds one circuit breaker per agent, so one agent's outage
// never penalizes another agent's breaker.
type BreakerRegistry struct {
	mu       sync.Mutex
	cfg      ResilienceConfig
	bus      *events.Bus
	breakers map[agent.ID]*gobreaker.CircuitBreaker
}

// NewBreakerRegistry creates a breaker registry. bus may be nil.
func NewBreakerRegistry(cfg ResilienceConfig, bus *events.Bus) *BreakerRegistry {
	return &BreakerRegistry{
		cfg:      cfg,
		bus:      bus,
		breakers: make(map[agent.ID]*gobreaker.CircuitBreaker),
	}
}

// Get returns the breaker for an agent, creating it on first use.
func (r *BreakerRegistry) Get(id agent.ID) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[id]; ok {
		return cb
	}

	threshold := r.cfg.FailureThreshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        string(id),
		MaxRequests: 1, // Exactly one trial call in half-open
		Interval:    0, // Never clear counts while closed
		Timeout:     r.cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("breaker %q: %s -> %s", name, from, to)
			if r.bus != nil {
				r.bus.Publish(events.Event{
					Type:  events.BreakerChange,
					Agent: name,
					From:  from.String(),
					To:    to.String(),
				})
			}
		},
		IsSuccessful: func(err error) bool {
			// User cancellation is not the agent's fault.
			if err == nil || errors.Is(err, context.Canceled) {
				return true
			}
			return false
		},
	})
	r.breakers[id] = cb
	return cb
}

// Usable reports whether calls to the agent may proceed: the breaker is
// closed or half-open (cooldown elapsed). An agent with no breaker yet has
// never failed and is usable.
func (r *BreakerRegistry) Usable(id agent.ID) bool {
	r.mu.Lock()
	cb, ok := r.breakers[id]
	r.mu.Unlock()
	if !ok {
		return true
	}
	return cb.State() != gobreaker.StateOpen
}

// callWithRetry invokes one executor under the per-call timeout, routed
// through its circuit breaker, retrying transient failures with exponential
// backoff. Non-transient failures and breaker rejections are not retried.
func callWithRetry(ctx context.Context, exec agent.Executor, req agent.Request, cb *gobreaker.CircuitBreaker, cfg ResilienceConfig) (agent.Result, error) {
	var result agent.Result

	operation := func() error {
		// The batch/caller context may have died between attempts.
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}

		out, err := cb.Execute(func() (interface{}, error) {
			callCtx := ctx
			if cfg.CallTimeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, cfg.CallTimeout)
				defer cancel()
			}
			return exec.Run(callCtx, req)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(ErrBreakerOpen)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			if !agent.IsTransient(err) {
				return backoff.Permanent(err)
			}
			return err
		}

		result = out.(agent.Result)
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = cfg.RetryInterval
	policy.MaxInterval = cfg.RetryMaxInterval
	policy.MaxElapsedTime = 0 // Bounded by attempt count, not wall clock

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, cfg.RetryAttempts), ctx))
	return result, err
}
