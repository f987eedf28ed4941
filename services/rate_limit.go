package services

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// PlayerLimiter throttles submissions per player. A nil limiter allows
// everything.
type PlayerLimiter struct {
	mu       sync.Mutex
	limiters map[string]*playerBucket
	limit    rate.Limit
	burst    int
	idle     time.Duration
	calls    int
}

type playerBucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func NewPlayerLimiter(perSecond float64, burst int) *PlayerLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &PlayerLimiter{
		limiters: make(map[string]*playerBucket),
		limit:    rate.Limit(perSecond),
		burst:    burst,
		idle:     10 * time.Minute,
	}
}

func (l *PlayerLimiter) Allow(playerID string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.limiters[playerID]
	if !ok {
		b = &playerBucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[playerID] = b
	}
	b.seen = now

	l.calls++
	if l.calls%1024 == 0 {
		for id, other := range l.limiters {
			if now.Sub(other.seen) > l.idle {
				delete(l.limiters, id)
			}
		}
	}
	return b.lim.AllowN(now, 1)
}
