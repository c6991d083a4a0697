package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/sony/gobreaker"
)

// BreakerCache guards a remote cache with a circuit breaker. While the
// circuit is open calls fail fast with gobreaker.ErrOpenState.
type BreakerCache struct {
	next domain.Cache
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerCache wraps next. Zero config values fall back to 5 consecutive
// failures, one half-open probe and a 30 second open state.
func NewBreakerCache(next domain.Cache, cfg domain.BreakerConfig) *BreakerCache {
	failures := cfg.FailureThreshold
	if failures == 0 {
		failures = 5
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	maxRequests := cfg.MaxRequests
	if maxRequests == 0 {
		maxRequests = 1
	}

	st := gobreaker.Settings{
		Name:        "cache",
		MaxRequests: maxRequests,
		Interval:    cfg.Interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	}
	return &BreakerCache{next: next, cb: gobreaker.NewCircuitBreaker(st)}
}

// State returns the breaker state.
func (c *BreakerCache) State() gobreaker.State {
	return c.cb.State()
}

func (c *BreakerCache) Get(ctx context.Context, namespace string, key string) ([]byte, error) {
	v, err := c.cb.Execute(func() (interface{}, error) {
		return c.next.Get(ctx, namespace, key)
	})
	if err != nil {
		return nil, err
	}
	data, _ := v.([]byte)
	return data, nil
}

func (c *BreakerCache) Set(ctx context.Context, namespace string, key string, value []byte, ttl time.Duration) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, c.next.Set(ctx, namespace, key, value, ttl)
	})
	return err
}

func (c *BreakerCache) Delete(ctx context.Context, namespace string, key string) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, c.next.Delete(ctx, namespace, key)
	})
	return err
}

// Ping bypasses the breaker so readiness reflects the backend itself.
func (c *BreakerCache) Ping(ctx context.Context) error {
	return c.next.Ping(ctx)
}

func (c *BreakerCache) Close() error {
	return c.next.Close()
}
