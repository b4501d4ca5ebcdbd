// Package ratelimit keeps one token bucket per client key, with idle
// buckets swept after a TTL. Time comes from an injected clock.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/spei-ledger/internal/platform/clock"
	"golang.org/x/time/rate"
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Store holds the per-key limiters.
type Store struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	clock   clock.Clock
}

// NewStore allows rps sustained requests per key with bursts of burst.
func NewStore(rps float64, burst int, idleTTL time.Duration, clk clock.Clock) *Store {
	return &Store{
		buckets: make(map[string]*bucket),
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: idleTTL,
		clock:   clk,
	}
}

// Allow consumes one token for key and reports whether it was available.
func (s *Store) Allow(key string) bool {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// RetryAfter estimates how long key must wait for the next token.
func (s *Store) RetryAfter(key string) time.Duration {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		return 0
	}
	tokens := b.limiter.TokensAt(now)
	if tokens >= 1 {
		return 0
	}
	return time.Duration((1 - tokens) / float64(s.limit) * float64(time.Second))
}

// Sweep drops buckets idle for longer than the TTL and returns how many were dropped.
func (s *Store) Sweep() int {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for key, b := range s.buckets {
		if now.Sub(b.lastSeen) > s.idleTTL {
			delete(s.buckets, key)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of tracked keys.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
