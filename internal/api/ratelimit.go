package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter keeps one token bucket per client. A bucket left alone long enough
// to refill completely is dropped, since a fresh bucket behaves the same.
type Limiter struct {
	limiters  map[string]*clientBucket
	mu        sync.Mutex
	rate      rate.Limit
	burst     int
	idle      time.Duration
	lastSweep time.Time
	now       func() time.Time
}

// NewLimiter creates a limiter allowing perSecond requests per client with
// the given burst.
func NewLimiter(perSecond float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	l := &Limiter{
		limiters: make(map[string]*clientBucket),
		rate:     rate.Limit(perSecond),
		burst:    burst,
		now:      time.Now,
	}
	if perSecond > 0 {
		l.idle = time.Duration(float64(burst) / perSecond * float64(time.Second))
	}
	l.lastSweep = l.now()
	return l
}

// GetLimiter returns the bucket for a client, creating it on first use.
func (l *Limiter) GetLimiter(client string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweepLocked(now)

	b, exists := l.limiters[client]
	if !exists {
		b = &clientBucket{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[client] = b
	}
	b.lastSeen = now
	return b.limiter
}

// sweepLocked drops idle buckets, at most once per idle period.
func (l *Limiter) sweepLocked(now time.Time) {
	if l.idle <= 0 || now.Sub(l.lastSweep) < l.idle {
		return
	}
	for client, b := range l.limiters {
		if now.Sub(b.lastSeen) >= l.idle {
			delete(l.limiters, client)
		}
	}
	l.lastSweep = now
}

// Allow consumes a token for client if one is available.
func (l *Limiter) Allow(client string) bool {
	return l.GetLimiter(client).AllowN(l.now(), 1)
}

// Tokens returns the tokens currently left for client.
func (l *Limiter) Tokens(client string) float64 {
	return l.GetLimiter(client).TokensAt(l.now())
}

// Burst returns the bucket size.
func (l *Limiter) Burst() int { return l.burst }
