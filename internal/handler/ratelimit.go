package handler

import (
	"sync"
	"time"
)

// ipLimiter admits at most limit requests per client IP in each fixed
// window. A client's window opens with its first request and nothing
// carries over into the next one.
type ipLimiter struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	visitors map[string]*visitor
	swept    time.Time
	now      func() time.Time
}

type visitor struct {
	start time.Time
	count int
}

// quota is the outcome of one admission check.
type quota struct {
	allowed   bool
	remaining int
	reset     time.Duration
}

func newIPLimiter(limit int, window time.Duration) *ipLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &ipLimiter{
		limit:    limit,
		window:   window,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
}

func (l *ipLimiter) allow(ip string) quota {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.evict(now)

	v, ok := l.visitors[ip]
	if !ok || now.Sub(v.start) >= l.window {
		v = &visitor{start: now}
		l.visitors[ip] = v
	}

	q := quota{reset: v.start.Add(l.window).Sub(now)}
	if v.count >= l.limit {
		return q
	}
	v.count++
	q.allowed = true
	q.remaining = l.limit - v.count
	return q
}

// evict drops visitors whose window has closed. It sweeps at most once per
// window.
func (l *ipLimiter) evict(now time.Time) {
	if now.Sub(l.swept) < l.window {
		return
	}
	l.swept = now
	for ip, v := range l.visitors {
		if now.Sub(v.start) >= l.window {
			delete(l.visitors, ip)
		}
	}
}
