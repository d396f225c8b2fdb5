package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultIdleTTL         = time.Hour
	defaultCleanupInterval = 10 * time.Minute
)

// bucket holds one key's token bucket and its last use for idle eviction.
type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter manages lazily created per-key token buckets. Buckets idle for an
// hour are evicted by a background loop. State is process-local: multi-instance
// deployments would need a shared backing store, which is out of scope here.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	quit    chan struct{}
}

// New creates a limiter refilling at limit tokens/sec with the given burst
// capacity per key, and starts the eviction loop.
func New(limit rate.Limit, burst int) *Limiter {
	l := &Limiter{
		buckets: make(map[string]*bucket),
		limit:   limit,
		burst:   burst,
		idleTTL: defaultIdleTTL,
		quit:    make(chan struct{}),
	}
	go l.cleanupLoop(defaultCleanupInterval)
	return l
}

// NewGeneral returns the per-client bucket applied to all API traffic:
// 20 requests with continuous refill at 20 per minute.
func NewGeneral() *Limiter {
	return New(rate.Limit(20.0/60.0), 20)
}

// NewPayment returns the stricter bucket for payment order creation:
// 5 attempts with continuous refill at 5 per hour.
func NewPayment() *Limiter {
	return New(rate.Every(12*time.Minute), 5)
}

// Allow consumes one token for key, reporting whether it was admitted.
func (l *Limiter) Allow(key string) bool {
	return l.AllowN(key, 1)
}

// AllowN consumes n tokens for key.
func (l *Limiter) AllowN(key string, n int) bool {
	return l.get(key).AllowN(time.Now(), n)
}

// Remaining reports the whole tokens currently available for key. Callers
// expose it as a rate-limit response header.
func (l *Limiter) Remaining(key string) int {
	tokens := l.get(key).Tokens()
	if tokens < 0 {
		return 0
	}
	return int(tokens)
}

// Close stops the eviction loop.
func (l *Limiter) Close() {
	close(l.quit)
}

func (l *Limiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.buckets[key]
	if b == nil {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = time.Now()
	return b.limiter
}

func (l *Limiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			for key, b := range l.buckets {
				if time.Since(b.lastSeen) > l.idleTTL {
					delete(l.buckets, key)
				}
			}
			l.mu.Unlock()
		case <-l.quit:
			return
		}
	}
}
