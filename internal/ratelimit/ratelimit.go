// Package ratelimit protects the proxy from a single client flooding the
// worker pool, using a token bucket per remote address applied at
// connection admission rather than per HTTP request.
package ratelimit

import (
	"strings"
	"sync"
	"time"
)

// TokenBucket implements the token bucket algorithm: up to capacity
// tokens may be consumed in a burst, refilling at refillRate tokens per
// second.
type TokenBucket struct {
    capacity   int
    tokens     int
    refillRate int
    lastRefill time.Time
    mu         sync.Mutex
}

// NewTokenBucket creates a bucket starting at full capacity.
func NewTokenBucket(capacity, refillRate int) *TokenBucket {
    return &TokenBucket{
        capacity:   capacity,
        tokens:     capacity,
        refillRate: refillRate,
        lastRefill: time.Now(),
    }
}

// TryConsume attempts to consume n tokens, returning whether it succeeded.
func (tb *TokenBucket) TryConsume(n int) bool {
    tb.mu.Lock()
    defer tb.mu.Unlock()

    tb.refill()

    if tb.tokens >= n {
        tb.tokens -= n
        return true
    }
    return false
}

func (tb *TokenBucket) refill() {
    now := time.Now()
    elapsed := now.Sub(tb.lastRefill)

    tokensToAdd := int(elapsed.Seconds()) * tb.refillRate
    if tokensToAdd > 0 {
        tb.tokens += tokensToAdd
        if tb.tokens > tb.capacity {
            tb.tokens = tb.capacity
        }
        tb.lastRefill = now
    }
}

// Limiter admits or rejects connections per remote client, identified by
// the host portion of net.Conn.RemoteAddr().
type Limiter struct {
    buckets    map[string]*TokenBucket
    mu         sync.RWMutex
    capacity   int
    refillRate int
}

// New creates a limiter with the given per-client capacity and refill
// rate. A non-positive capacity disables limiting: Allow always succeeds.
func New(capacity, refillRate int) *Limiter {
    return &Limiter{
        buckets:    make(map[string]*TokenBucket),
        capacity:   capacity,
        refillRate: refillRate,
    }
}

// Allow reports whether a new connection from remoteAddr may proceed,
// consuming one token from that client's bucket.
func (l *Limiter) Allow(remoteAddr string) bool {
    if l.capacity <= 0 {
        return true
    }
    return l.bucketFor(clientKey(remoteAddr)).TryConsume(1)
}

func (l *Limiter) bucketFor(key string) *TokenBucket {
    l.mu.RLock()
    bucket, ok := l.buckets[key]
    l.mu.RUnlock()
    if ok {
        return bucket
    }

    l.mu.Lock()
    defer l.mu.Unlock()
    if bucket, ok := l.buckets[key]; ok {
        return bucket
    }
    bucket = NewTokenBucket(l.capacity, l.refillRate)
    l.buckets[key] = bucket
    return bucket
}

// clientKey extracts the host portion of a "host:port" remote address,
// falling back to the raw string for anything else (e.g. pipe addresses
// used in tests).
func clientKey(remoteAddr string) string {
    if idx := strings.LastIndexByte(remoteAddr, ':'); idx >= 0 {
        return remoteAddr[:idx]
    }
    return remoteAddr
}
