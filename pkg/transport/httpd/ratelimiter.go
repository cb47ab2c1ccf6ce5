package httpd

import (
	"sync"
	"time"
)

// RateLimiter applies a per-client sliding-window limit.
type RateLimiter struct {
	mu              sync.Mutex
	windows         map[string][]int64
	maxPerMinute    int
	cleanupInterval time.Duration
	stop            chan struct{}
}

// NewRateLimiter allows maxPerMinute requests per client key per minute.
func NewRateLimiter(maxPerMinute int) *RateLimiter {
	rl := &RateLimiter{
		windows:         make(map[string][]int64),
		maxPerMinute:    maxPerMinute,
		cleanupInterval: 5 * time.Minute,
		stop:            make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Allow reports whether a request from key fits the window and records it.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now().UnixMilli()
	window := rl.windows[key]

	valid := window[:0]
	for _, at := range window {
		if now-at < 60_000 {
			valid = append(valid, at)
		}
	}

	if len(valid) >= rl.maxPerMinute {
		rl.windows[key] = valid
		return false
	}

	rl.windows[key] = append(valid, now)
	return true
}

// RetryAfter returns the seconds until the oldest request in key's window
// ages out.
func (rl *RateLimiter) RetryAfter(key string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	window := rl.windows[key]
	if len(window) == 0 {
		return 0
	}

	now := time.Now().UnixMilli()
	remaining := 60_000 - (now - window[0])
	if remaining < 0 {
		return 0
	}
	return int(remaining/1000) + 1
}

// Stop halts the background cleanup.
func (rl *RateLimiter) Stop() {
	close(rl.stop)
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().UnixMilli() - 60_000
			rl.mu.Lock()
			for key, window := range rl.windows {
				if len(window) == 0 || window[len(window)-1] < cutoff {
					delete(rl.windows, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stop:
			return
		}
	}
}
