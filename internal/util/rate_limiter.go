package util

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var (
	// DefaultRate is the default minimum time between lookups
	DefaultRate = 200 * time.Millisecond
	// DefaultBurst is the default number of lookups allowed back to back
	DefaultBurst = 5
	// MaxRate caps the delay reached by repeated OnRateLimit calls
	MaxRate = 5 * time.Second
)

// RateLimiter wraps a token bucket that slows down when the remote side
// answers with 429 and recovers via ResetRate. After a 429 the banked
// burst is dropped and every Wait blocks until the announced pause is over.
type RateLimiter struct {
	limiter *rate.Limiter

	mu          sync.Mutex
	interval    time.Duration
	minInterval time.Duration
	maxInterval time.Duration
	burst       int
	pauseUntil  time.Time
	now         func() time.Time
}

// NewRateLimiter creates a limiter releasing one token per interval with
// up to burst tokens banked.
func NewRateLimiter(interval time.Duration, burst int) *RateLimiter {
	if interval <= 0 {
		interval = DefaultRate
	}
	if burst <= 0 {
		burst = DefaultBurst
	}

	return &RateLimiter{
		limiter:     rate.NewLimiter(rate.Every(interval), burst),
		interval:    interval,
		minInterval: interval,
		maxInterval: MaxRate,
		burst:       burst,
		now:         time.Now,
	}
}

// Wait blocks until any rate-limit pause has passed and a token is
// available, or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	pause := r.pauseUntil.Sub(r.now())
	r.mu.Unlock()

	if pause > 0 {
		if err := Sleep(ctx, pause); err != nil {
			return err
		}
	}
	return r.limiter.Wait(ctx)
}

// OnRateLimit widens the gap between requests after a 429, drops the
// banked burst and holds back every caller for the returned pause.
func (r *RateLimiter) OnRateLimit(retryAfter time.Duration) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.interval = r.interval * 3 / 2
	if r.interval > r.maxInterval {
		r.interval = r.maxInterval
	}
	r.limiter.SetLimit(rate.Every(r.interval))
	r.limiter.SetBurst(1)

	pause := r.interval
	if retryAfter > pause {
		pause = retryAfter
	}
	if until := r.now().Add(pause); until.After(r.pauseUntil) {
		r.pauseUntil = until
	}
	return pause
}

// ResetRate restores the original rate and burst. It is a no-op while
// the limiter has not been slowed down.
func (r *RateLimiter) ResetRate() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.interval == r.minInterval {
		return
	}
	r.interval = r.minInterval
	r.limiter.SetLimit(rate.Every(r.interval))
	r.limiter.SetBurst(r.burst)
}

// GetRate returns the current minimum time between requests
func (r *RateLimiter) GetRate() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interval
}

// ParseRetryAfter reads a Retry-After header given in seconds or as an
// HTTP date. Unknown values yield zero.
func ParseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
