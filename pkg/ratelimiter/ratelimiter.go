package ratelimiter

import (
	"sync"
	"time"
)

// RateLimiter implements the server-wide inbound rate limit: a single shared
// counter zeroed by a periodic timer. This is a fixed window, not a sliding
// one; a burst across a window boundary can briefly exceed the ceiling.
type RateLimiter struct {
	mutex       sync.Mutex
	count       int
	limit       int
	window      time.Duration
	windowStart time.Time
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// Info is a snapshot of the limiter state
type Info struct {
	Limit     int `json:"limit"`
	Current   int `json:"current"`
	Remaining int `json:"remaining"`
	ResetIn   int `json:"resetIn"`
}

// New creates a RateLimiter and starts its reset timer
func New(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		limit:       limit,
		window:      window,
		windowStart: time.Now(),
		stopCh:      make(chan struct{}),
	}

	go rl.resetLoop()

	return rl
}

// Allow records a request and reports whether it is within the ceiling.
// The counter keeps incrementing past the limit so rejected clients can see
// how far over they are.
func (rl *RateLimiter) Allow() bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	rl.count++
	return rl.count <= rl.limit
}

// Snapshot returns the current counters and seconds until the next reset
func (rl *RateLimiter) Snapshot() Info {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	remaining := rl.limit - rl.count
	if remaining < 0 {
		remaining = 0
	}

	resetIn := int(rl.window.Seconds() - time.Since(rl.windowStart).Seconds())
	if resetIn < 0 {
		resetIn = 0
	}

	return Info{
		Limit:     rl.limit,
		Current:   rl.count,
		Remaining: remaining,
		ResetIn:   resetIn,
	}
}

// resetLoop zeroes the counter every window
func (rl *RateLimiter) resetLoop() {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mutex.Lock()
			rl.count = 0
			rl.windowStart = time.Now()
			rl.mutex.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

// Stop stops the reset timer
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stopCh)
	})
}
