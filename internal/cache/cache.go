// Package cache provides a generic in-memory TTL cache with per-key request
// coalescing, shared by every remote-data client.
package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Entry is a cached value with its fetch and expiry times.
type Entry[T any] struct {
	Key       string
	Value     T
	FetchedAt time.Time
	ExpiresAt time.Time
}

func (e Entry[T]) expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Result is what GetOrFetch hands back. When Stale is true the upstream fetch
// failed (FetchErr holds why) and Value is the last good copy.
type Result[T any] struct {
	Value     T
	FetchedAt time.Time
	Stale     bool
	FetchErr  error
}

type FetchFunc[T any] func(ctx context.Context) (T, error)

// Observer receives cache events, typically to feed metrics.
type Observer interface {
	CacheHit(cache string)
	CacheMiss(cache string)
	CacheStale(cache string)
}

type nopObserver struct{}

func (nopObserver) CacheHit(string)   {}
func (nopObserver) CacheMiss(string)  {}
func (nopObserver) CacheStale(string) {}

type options struct {
	now      func() time.Time
	observer Observer
}

type Option func(*options)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// TTL is a time-boxed cache. Expiry is evaluated lazily on read; call
// EvictExpired to bound memory. At most one fetch per key is in flight.
type TTL[T any] struct {
	name     string
	now      func() time.Time
	observer Observer

	mu      sync.RWMutex
	entries map[string]Entry[T]
	flight  singleflight.Group
}

// New creates a cache. name labels observer events.
func New[T any](name string, opts ...Option) *TTL[T] {
	o := options{now: time.Now, observer: nopObserver{}}
	for _, opt := range opts {
		opt(&o)
	}
	return &TTL[T]{
		name:     name,
		now:      o.now,
		observer: o.observer,
		entries:  make(map[string]Entry[T]),
	}
}

// Get returns the value for key if present and unexpired.
func (c *TTL[T]) Get(key string) (T, bool) {
	e, ok := c.lookup(key)
	if !ok || e.expired(c.now()) {
		var zero T
		return zero, false
	}
	return e.Value, true
}

// Peek returns the entry for key even when expired.
func (c *TTL[T]) Peek(key string) (Entry[T], bool) {
	return c.lookup(key)
}

func (c *TTL[T]) Set(key string, value T, ttl time.Duration) {
	c.store(key, value, ttl)
}

// GetOrFetch returns the cached value for key, or runs fetch to fill it.
// Concurrent callers for the same key share one fetch. The fetch is detached
// from the caller's cancellation: a caller whose ctx ends stops waiting, but
// the fill completes for everyone else riding it.
//
// If fetch fails and an expired value is still held, that value is returned
// with Stale set and a nil error. With nothing held, the fetch error is
// returned.
func (c *TTL[T]) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch FetchFunc[T]) (Result[T], error) {
	if e, ok := c.lookup(key); ok && !e.expired(c.now()) {
		c.observer.CacheHit(c.name)
		return Result[T]{Value: e.Value, FetchedAt: e.FetchedAt}, nil
	}
	c.observer.CacheMiss(c.name)
	return c.fill(ctx, key, ttl, fetch, false)
}

// Refresh forces a fetch for key even when the held value is unexpired. It
// joins any fill already in flight for key and falls back to the held value
// the same way GetOrFetch does.
func (c *TTL[T]) Refresh(ctx context.Context, key string, ttl time.Duration, fetch FetchFunc[T]) (Result[T], error) {
	return c.fill(ctx, key, ttl, fetch, true)
}

func (c *TTL[T]) fill(ctx context.Context, key string, ttl time.Duration, fetch FetchFunc[T], force bool) (Result[T], error) {
	fillCtx := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(key, func() (any, error) {
		// A fill may have landed between our miss and winning the flight.
		if e, ok := c.lookup(key); ok && !force && !e.expired(c.now()) {
			return e, nil
		}
		v, err := fetch(fillCtx)
		if err != nil {
			return nil, err
		}
		return c.store(key, v, ttl), nil
	})

	select {
	case <-ctx.Done():
		return Result[T]{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			if e, ok := c.lookup(key); ok {
				c.observer.CacheStale(c.name)
				return Result[T]{Value: e.Value, FetchedAt: e.FetchedAt, Stale: true, FetchErr: res.Err}, nil
			}
			return Result[T]{}, res.Err
		}
		e := res.Val.(Entry[T])
		return Result[T]{Value: e.Value, FetchedAt: e.FetchedAt}, nil
	}
}

// EvictExpired drops every expired entry and returns how many were removed.
// Evicted keys lose their stale fallback.
func (c *TTL[T]) EvictExpired() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

func (c *TTL[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *TTL[T]) lookup(key string) (Entry[T], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e, ok
}

func (c *TTL[T]) store(key string, value T, ttl time.Duration) Entry[T] {
	now := c.now()
	e := Entry[T]{
		Key:       key,
		Value:     value,
		FetchedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
	return e
}
