package memory

import (
	"context"
	"sync"
	"time"

	"github.com/oksasatya/go-ddd-school-auth/internal/domain/port"
)

// LoginRateLimiter is a single-process sliding-window counter.
type LoginRateLimiter struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	limit      int
	window     time.Duration
	suspicious int
	clock      port.Clock
}

type bucket struct {
	attempts []time.Time
	lastSeen time.Time
}

func NewLoginRateLimiter(limit int, window time.Duration, suspicious int, clock port.Clock) *LoginRateLimiter {
	if clock == nil {
		clock = port.SystemClock{}
	}
	return &LoginRateLimiter{
		buckets:    make(map[string]*bucket),
		limit:      limit,
		window:     window,
		suspicious: suspicious,
		clock:      clock,
	}
}

func (l *LoginRateLimiter) TooManyAttempts(_ context.Context, addr string, window time.Duration) (bool, error) {
	if l.limit <= 0 {
		return false, nil
	}
	return l.count(addr, window) >= l.limit, nil
}

func (l *LoginRateLimiter) RegisterAttempt(_ context.Context, addr string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[addr]
	if !ok {
		b = &bucket{}
		l.buckets[addr] = b
	}
	b.attempts = append(b.attempts, at)
	if at.After(b.lastSeen) {
		b.lastSeen = at
	}
	return nil
}

func (l *LoginRateLimiter) IsSuspiciousAddress(_ context.Context, addr string) (bool, error) {
	if l.suspicious <= 0 {
		return false, nil
	}
	return l.count(addr, l.window) >= l.suspicious, nil
}

func (l *LoginRateLimiter) count(addr string, window time.Duration) int {
	if window <= 0 {
		window = l.window
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[addr]
	if !ok {
		return 0
	}
	cutoff := l.clock.Now().Add(-window)
	kept := b.attempts[:0]
	for _, t := range b.attempts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.attempts = kept
	return len(kept)
}

// Sweep drops addresses with no attempt inside the window.
func (l *LoginRateLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	stale := l.clock.Now().Add(-l.window)
	removed := 0
	for addr, b := range l.buckets {
		if b.lastSeen.Before(stale) {
			delete(l.buckets, addr)
			removed++
		}
	}
	return removed
}

var _ port.LoginRateLimiter = (*LoginRateLimiter)(nil)
