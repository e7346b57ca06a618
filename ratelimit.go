package deeptrace

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// RateLimiter decides whether another attempt for key is allowed.
type RateLimiter interface {
	Allow(key string) bool

	// Reset forgets the attempts recorded for key.
	Reset(key string)
}

const (
	DefaultLoginMaxAttempts = 10
	DefaultLoginWindow      = 15 * time.Minute
	defaultLimiterKeys      = 10000
)

type attemptWindow struct {
	start time.Time
	count int
}

// LoginLimiter is a fixed-window limiter for login attempts. Windows are kept
// in a bounded LRU whose entries expire with the window, so memory stays
// bounded under key churn.
type LoginLimiter struct {
	MaxAttempts int
	Window      time.Duration
	Now         func() time.Time

	mu      sync.Mutex
	windows *expirable.LRU[string, *attemptWindow]
}

func NewLoginLimiter(maxAttempts int, window time.Duration) *LoginLimiter {
	if maxAttempts <= 0 {
		maxAttempts = DefaultLoginMaxAttempts
	}
	if window <= 0 {
		window = DefaultLoginWindow
	}
	return &LoginLimiter{
		MaxAttempts: maxAttempts,
		Window:      window,
		windows:     expirable.NewLRU[string, *attemptWindow](defaultLimiterKeys, nil, window),
	}
}

func (l *LoginLimiter) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func (l *LoginLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows.Get(key)
	if !ok || now.Sub(w.start) >= l.Window {
		l.windows.Add(key, &attemptWindow{start: now, count: 1})
		return true
	}
	if w.count >= l.MaxAttempts {
		return false
	}
	// Mutating in place keeps the LRU expiry anchored at the window start.
	w.count++
	return true
}

func (l *LoginLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.windows.Remove(key)
}
