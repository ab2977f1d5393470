// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit provides keyed token bucket limiters.
package ratelimit

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrRateLimitExceeded is returned when rate limit is exceeded.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// TokenBucket holds up to capacity tokens and regains one every interval.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   int64
	tokens     int64
	interval   time.Duration
	lastRefill time.Time
	now        func() time.Time
}

// NewTokenBucket creates a full bucket.
func NewTokenBucket(capacity int64, interval time.Duration) *TokenBucket {
	return newBucket(capacity, interval, time.Now)
}

func newBucket(capacity int64, interval time.Duration, now func() time.Time) *TokenBucket {
	if capacity <= 0 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		interval:   interval,
		lastRefill: now(),
		now:        now,
	}
}

// Allow takes one token if available.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

// Available returns the number of available tokens.
func (tb *TokenBucket) Available() int64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	return tb.tokens
}

// full reports whether the bucket has refilled completely.
func (tb *TokenBucket) full() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	return tb.tokens == tb.capacity
}

func (tb *TokenBucket) refill() {
	now := tb.now()
	n := int64(now.Sub(tb.lastRefill) / tb.interval)
	if n <= 0 {
		return
	}
	tb.tokens += n
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = tb.lastRefill.Add(time.Duration(n) * tb.interval)
}

// Limiter keeps one bucket per key. When maxKeys buckets exist, full
// buckets are dropped first; if none can be dropped new keys are refused.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*TokenBucket
	capacity int64
	interval time.Duration
	maxKeys  int
	now      func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the limiter's time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// NewLimiter creates a keyed limiter.
func NewLimiter(capacity int64, interval time.Duration, maxKeys int, opts ...Option) *Limiter {
	if maxKeys <= 0 {
		maxKeys = 10000
	}
	l := &Limiter{
		buckets:  make(map[string]*TokenBucket),
		capacity: capacity,
		interval: interval,
		maxKeys:  maxKeys,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow reports whether key may proceed, consuming one token. A nil
// Limiter allows everything.
func (l *Limiter) Allow(key string) bool {
	if l == nil {
		return true
	}

	l.mu.Lock()
	tb, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= l.maxKeys {
			l.evictFull()
		}
		if len(l.buckets) >= l.maxKeys {
			l.mu.Unlock()
			return false
		}
		tb = newBucket(l.capacity, l.interval, l.now)
		l.buckets[key] = tb
	}
	l.mu.Unlock()

	return tb.Allow()
}

// Remove forgets key.
func (l *Limiter) Remove(key string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// evictFull drops buckets that carry no state. Callers hold l.mu.
func (l *Limiter) evictFull() {
	for k, tb := range l.buckets {
		if tb.full() {
			delete(l.buckets, k)
		}
	}
}
