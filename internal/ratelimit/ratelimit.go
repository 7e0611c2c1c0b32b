// Package ratelimit bounds how fast any single publishing service may push
// envelopes into the broker, independent of the per-subscriber backpressure
// shedding the registry already performs.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter hands out a per-service token bucket, created lazily on first use
// and shared across that service's subsequent publish requests.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	rps     rate.Limit
	burst   int
}

// New builds a Limiter with the given requests-per-second rate and burst
// size, applied independently to each service name seen on publish.
func New(requestsPerSecond float64, burst int) *Limiter {
	return &Limiter{
		buckets: make(map[string]*rate.Limiter),
		rps:     rate.Limit(requestsPerSecond),
		burst:   burst,
	}
}

// Allow reports whether service may publish now, consuming one token from
// its bucket if so.
func (l *Limiter) Allow(service string) bool {
	return l.bucketFor(service).Allow()
}

func (l *Limiter) bucketFor(service string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[service]
	if !ok {
		b = rate.NewLimiter(l.rps, l.burst)
		l.buckets[service] = b
	}
	return b
}
