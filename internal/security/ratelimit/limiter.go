// Package ratelimit implements fixed-window request counting with pluggable
// per-rule key derivation. Fixed windows admit up to twice the limit across a
// window boundary; that is the accepted tradeoff of the algorithm.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"github.com/hrkit/secgate/internal/common"
	"github.com/hrkit/secgate/params"
)

type counter struct {
	count   int
	resetAt time.Time
}

// Limiter tracks hit counts per opaque key in fixed windows.
type Limiter struct {
	mu       sync.Mutex
	counters map[string]*counter
	nowFn    func() time.Time
	sweeper  *common.Sweeper
}

func NewLimiter() *Limiter {
	l := &Limiter{
		counters: make(map[string]*counter),
		nowFn:    time.Now,
	}
	l.sweeper = common.NewSweeper(params.StateSweepInterval, l.sweepExpired)
	return l
}

// Start begins the background counter sweep.
func (l *Limiter) Start() {
	l.sweeper.Start()
}

// Stop terminates the background sweep and waits for it to exit.
func (l *Limiter) Stop() {
	l.sweeper.Stop()
}

// Hit records one request for key and returns the total hits within the
// current window plus the seconds until the window resets. The first hit of
// an elapsed or unknown window starts a fresh one.
func (l *Limiter) Hit(key string, window time.Duration) (int, int) {
	now := l.nowFn()

	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.counters[key]
	if !ok || now.After(c.resetAt) {
		l.counters[key] = &counter{count: 1, resetAt: now.Add(window)}
		return 1, int(window.Seconds())
	}
	c.count++
	secondsToReset := int(math.Ceil(c.resetAt.Sub(now).Seconds()))
	return c.count, secondsToReset
}

// Strike records one rule violation for key. Strikes live in their own
// fixed window, much longer than request windows, so escalation persists
// across several of them.
func (l *Limiter) Strike(key string, window time.Duration) int {
	hits, _ := l.Hit("strike:"+key, window)
	return hits
}

// Strikes reports the live violation count for key without recording one.
func (l *Limiter) Strikes(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.counters["strike:"+key]
	if !ok || l.nowFn().After(c.resetAt) {
		return 0
	}
	return c.count
}

func (l *Limiter) sweepExpired() {
	now := l.nowFn()
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, c := range l.counters {
		if now.After(c.resetAt) {
			delete(l.counters, key)
		}
	}
}
