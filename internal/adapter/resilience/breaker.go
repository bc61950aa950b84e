// Package resilience wraps the optional cache and queue adapters in real
// circuit breakers (github.com/sony/gobreaker) so a stalled Redis, NATS, or
// RabbitMQ never blocks a façade call past its budget. Failures here only
// degrade side effects (cache reads/writes, event publication) — the
// in-memory allocation itself never goes through a breaker.
package resilience

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/evpower/chargecore/internal/adapter/cache"
	"github.com/evpower/chargecore/internal/adapter/queue"
)

// Settings configures a single breaker; mirrors gobreaker.Settings with the
// fields this service actually varies.
type Settings struct {
	Name        string
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
}

func newBreaker(s Settings, log *zap.Logger) *gobreaker.CircuitBreaker {
	if log == nil {
		log = zap.NewNop()
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

// CacheBreaker wraps a cache.Cache so Get/Set/Delete trip a breaker instead
// of blocking callers on a degraded Redis.
type CacheBreaker struct {
	inner   cache.Cache
	breaker *gobreaker.CircuitBreaker
}

// WrapCache returns a breaker-guarded Cache. inner may be nil, in which case
// WrapCache returns nil so callers keep treating "no cache configured" as
// before.
func WrapCache(inner cache.Cache, log *zap.Logger) cache.Cache {
	if inner == nil {
		return nil
	}
	return &CacheBreaker{
		inner:   inner,
		breaker: newBreaker(Settings{Name: "cache", MaxRequests: 3, Interval: time.Minute, Timeout: 30 * time.Second}, log),
	}
}

func (c *CacheBreaker) Get(ctx context.Context, key string) (string, error) {
	v, err := c.breaker.Execute(func() (interface{}, error) {
		return c.inner.Get(ctx, key)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *CacheBreaker) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.inner.Set(ctx, key, value, expiration)
	})
	return err
}

func (c *CacheBreaker) Delete(ctx context.Context, key string) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.inner.Delete(ctx, key)
	})
	return err
}

func (c *CacheBreaker) Ping() error { return c.inner.Ping() }
func (c *CacheBreaker) Close() error { return c.inner.Close() }

// QueueBreaker wraps a queue.MessageQueue so Publish trips a breaker instead
// of blocking callers on a degraded broker. Subscribe passes through
// unwrapped: it runs once at startup, not on the façade's hot path.
type QueueBreaker struct {
	inner   queue.MessageQueue
	breaker *gobreaker.CircuitBreaker
}

// WrapQueue returns a breaker-guarded MessageQueue. inner may be nil.
func WrapQueue(inner queue.MessageQueue, name string, log *zap.Logger) queue.MessageQueue {
	if inner == nil {
		return nil
	}
	return &QueueBreaker{
		inner:   inner,
		breaker: newBreaker(Settings{Name: name, MaxRequests: 3, Interval: time.Minute, Timeout: 30 * time.Second}, log),
	}
}

func (q *QueueBreaker) Publish(subject string, data []byte) error {
	_, err := q.breaker.Execute(func() (interface{}, error) {
		return nil, q.inner.Publish(subject, data)
	})
	return err
}

func (q *QueueBreaker) Subscribe(subject string, handler func(data []byte) error) error {
	return q.inner.Subscribe(subject, handler)
}

func (q *QueueBreaker) Close() error { return q.inner.Close() }
