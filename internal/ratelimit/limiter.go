// Package ratelimit spaces out requests to the same host.
package ratelimit

import (
	"context"
	"net/url"
	"sync"
	"time"
)

// Limiter enforces a minimum interval between requests to the same host.
type Limiter struct {
	mu          sync.Mutex
	hosts       map[string]time.Time
	minInterval time.Duration
	now         func() time.Time
}

func New(minInterval time.Duration) *Limiter {
	return &Limiter{
		hosts:       make(map[string]time.Time),
		minInterval: minInterval,
		now:         time.Now,
	}
}

// Interval returns the minimum spacing between requests to one host.
func (l *Limiter) Interval() time.Duration {
	return l.minInterval
}

// Allow reports whether a request to host may go out now, and if so records it.
func (l *Limiter) Allow(host string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if last, ok := l.hosts[host]; ok && now.Sub(last) < l.minInterval {
		return false
	}
	l.hosts[host] = now
	return true
}

// Wait blocks until a request to host is allowed.
func (l *Limiter) Wait(host string) {
	_ = l.WaitContext(context.Background(), host)
}

// WaitContext blocks until a request to host is allowed or ctx is done. The slot is
// reserved before sleeping, so concurrent callers queue up behind each other.
func (l *Limiter) WaitContext(ctx context.Context, host string) error {
	l.mu.Lock()
	now := l.now()
	next := now
	if last, ok := l.hosts[host]; ok {
		if earliest := last.Add(l.minInterval); earliest.After(now) {
			next = earliest
		}
	}
	l.hosts[host] = next
	l.mu.Unlock()

	delay := next.Sub(now)
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Limiter) Reset(host string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.hosts, host)
}

func (l *Limiter) ResetAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hosts = make(map[string]time.Time)
}

// HostOf extracts the host used as limiter key; unparseable URLs key on themselves.
func HostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}
