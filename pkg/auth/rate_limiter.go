// Package auth holds request throttling used by the HTTP middleware.
package auth

import (
	"context"
	"sync"
	"time"
)

// IPRateLimiter bounds requests per client IP with a sliding one-minute
// window. Windows for idle IPs are dropped by a background janitor so the
// map does not grow without bound.
type IPRateLimiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	limit   int
	size    time.Duration
}

// NewIPRateLimiter creates a limiter allowing requestsPerMinute per IP.
func NewIPRateLimiter(requestsPerMinute int) *IPRateLimiter {
	l := &IPRateLimiter{
		windows: make(map[string][]time.Time),
		limit:   requestsPerMinute,
		size:    time.Minute,
	}
	go l.janitor()
	return l
}

// Allow records the request and reports whether it fits in the window.
func (l *IPRateLimiter) Allow(ctx context.Context, ip string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	now := time.Now()
	cutoff := now.Add(-l.size)

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.windows[ip][:0]
	for _, at := range l.windows[ip] {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}

	if len(kept) >= l.limit {
		l.windows[ip] = kept
		return false, nil
	}
	l.windows[ip] = append(kept, now)
	return true, nil
}

// Reset forgets the window for an IP.
func (l *IPRateLimiter) Reset(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, ip)
}

func (l *IPRateLimiter) janitor() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		cutoff := time.Now().Add(-l.size)
		l.mu.Lock()
		for ip, window := range l.windows {
			if len(window) == 0 || !window[len(window)-1].After(cutoff) {
				delete(l.windows, ip)
			}
		}
		l.mu.Unlock()
	}
}
