package server

import (
	"fmt"
	"sync"
	"time"
)

// RateLimiter tracks per-client request rates and daily upload quotas.
type RateLimiter struct {
	mu sync.Mutex

	requestsPerMinute int
	maxDataPerDay     int64 // bytes

	clients map[string]*clientUsage

	now func() time.Time // test seam
}

// clientUsage tracks usage for a single client IP.
type clientUsage struct {
	windowStart    time.Time // start of the current minute window
	requestsWindow int

	dayStart  time.Time
	dataToday int64
}

// NewRateLimiter creates a limiter. A zero limit disables that check.
func NewRateLimiter(requestsPerMinute int, maxDataPerDay int64) *RateLimiter {
	return &RateLimiter{
		requestsPerMinute: requestsPerMinute,
		maxDataPerDay:     maxDataPerDay,
		clients:           make(map[string]*clientUsage),
		now:               time.Now,
	}
}

// Allow checks whether a request of dataSize bytes from clientIP may proceed,
// and records it when allowed.
func (rl *RateLimiter) Allow(clientIP string, dataSize int64) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	usage, ok := rl.clients[clientIP]
	if !ok {
		usage = &clientUsage{windowStart: now, dayStart: now}
		rl.clients[clientIP] = usage
	}

	if now.Sub(usage.windowStart) >= time.Minute {
		usage.windowStart = now
		usage.requestsWindow = 0
	}
	if now.YearDay() != usage.dayStart.YearDay() || now.Year() != usage.dayStart.Year() {
		usage.dayStart = now
		usage.dataToday = 0
	}

	if rl.requestsPerMinute > 0 && usage.requestsWindow >= rl.requestsPerMinute {
		return &RateLimitError{
			Limit:      rl.requestsPerMinute,
			RetryAfter: time.Minute - now.Sub(usage.windowStart),
		}
	}

	if rl.maxDataPerDay > 0 && usage.dataToday+dataSize > rl.maxDataPerDay {
		return &QuotaExceededError{
			Limit:  rl.maxDataPerDay,
			Used:   usage.dataToday,
			Resets: time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location()),
		}
	}

	usage.requestsWindow++
	usage.dataToday += dataSize
	return nil
}

// RateLimitError reports a request-rate violation.
type RateLimitError struct {
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded (limit: %d/minute, retry after: %v)", e.Limit, e.RetryAfter)
}

// QuotaExceededError reports a daily data-quota violation.
type QuotaExceededError struct {
	Limit  int64
	Used   int64
	Resets time.Time
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("daily data quota exceeded (used: %d, limit: %d, resets: %s)",
		e.Used, e.Limit, e.Resets.Format(time.RFC3339))
}
