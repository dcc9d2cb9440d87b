package server

import (
	"sync"
	"time"
)

// Rejection reasons returned by CheckRequestAllowed.
const (
	ReasonRateLimited   = "rate limit exceeded"
	ReasonTooConcurrent = "too many concurrent requests"
)

const rateWindow = time.Minute

// ClientRateLimiter implements sliding window rate limiting per client
type ClientRateLimiter struct {
	mu                 sync.Mutex
	requestsPerMinute  int
	maxConcurrent      int
	requests           []time.Time
	concurrentRequests int
	now                func() time.Time
}

// NewClientRateLimiter allows requestsPerMinute starts in any sliding minute
// and at most maxConcurrent unfinished requests. A limit <= 0 disables it.
func NewClientRateLimiter(requestsPerMinute, maxConcurrent int) *ClientRateLimiter {
	return &ClientRateLimiter{
		requestsPerMinute: requestsPerMinute,
		maxConcurrent:     maxConcurrent,
		now:               time.Now,
	}
}

// CheckRequestAllowed checks if a request is allowed under rate limits
func (r *ClientRateLimiter) CheckRequestAllowed() (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxConcurrent > 0 && r.concurrentRequests >= r.maxConcurrent {
		return false, ReasonTooConcurrent
	}

	r.pruneLocked()
	if r.requestsPerMinute > 0 && len(r.requests) >= r.requestsPerMinute {
		return false, ReasonRateLimited
	}
	return true, ""
}

func (r *ClientRateLimiter) RecordRequestStart() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.requests = append(r.requests, r.now())
	r.concurrentRequests++
}

func (r *ClientRateLimiter) RecordRequestEnd() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.concurrentRequests > 0 {
		r.concurrentRequests--
	}
}

// GetStats returns current rate limiter statistics
func (r *ClientRateLimiter) GetStats() (requestCount, concurrentCount int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneLocked()
	return len(r.requests), r.concurrentRequests
}

func (r *ClientRateLimiter) idle() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneLocked()
	return len(r.requests) == 0 && r.concurrentRequests == 0
}

func (r *ClientRateLimiter) pruneLocked() {
	cutoff := r.now().Add(-rateWindow)
	keep := r.requests[:0]
	for _, t := range r.requests {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}
	r.requests = keep
}

// IPRateLimiter keeps one ClientRateLimiter per remote address.
type IPRateLimiter struct {
	mu                sync.Mutex
	requestsPerMinute int
	maxConcurrent     int
	limiters          map[string]*ClientRateLimiter
	now               func() time.Time
}

func NewIPRateLimiter(requestsPerMinute, maxConcurrent int) *IPRateLimiter {
	return &IPRateLimiter{
		requestsPerMinute: requestsPerMinute,
		maxConcurrent:     maxConcurrent,
		limiters:          make(map[string]*ClientRateLimiter),
		now:               time.Now,
	}
}

// Acquire admits one request from ip. On success the returned release must
// be called when the request finishes.
func (l *IPRateLimiter) Acquire(ip string) (release func(), reason string, ok bool) {
	limiter := l.limiter(ip)
	limiter.mu.Lock()
	defer limiter.mu.Unlock()

	if limiter.maxConcurrent > 0 && limiter.concurrentRequests >= limiter.maxConcurrent {
		return nil, ReasonTooConcurrent, false
	}
	limiter.pruneLocked()
	if limiter.requestsPerMinute > 0 && len(limiter.requests) >= limiter.requestsPerMinute {
		return nil, ReasonRateLimited, false
	}
	limiter.requests = append(limiter.requests, limiter.now())
	limiter.concurrentRequests++

	var once sync.Once
	return func() { once.Do(limiter.RecordRequestEnd) }, "", true
}

func (l *IPRateLimiter) limiter(ip string) *ClientRateLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters[ip]
	if !ok {
		limiter = NewClientRateLimiter(l.requestsPerMinute, l.maxConcurrent)
		limiter.now = l.now
		l.limiters[ip] = limiter
	}
	return limiter
}

// Prune forgets addresses with no request in the current window.
func (l *IPRateLimiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for ip, limiter := range l.limiters {
		if limiter.idle() {
			delete(l.limiters, ip)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked addresses.
func (l *IPRateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
