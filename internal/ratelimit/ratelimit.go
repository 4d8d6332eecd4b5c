// Package ratelimit provides a token-bucket limiter owned by the auction engine
package ratelimit

import (
	"sync"
	"time"
)

// Config holds rate limiter configuration
type Config struct {
	RequestsPerSecond int           // Refill rate per key
	BurstSize         int           // Max tokens per bucket
	CleanupInterval   time.Duration // How often stale buckets are removed
}

// DefaultConfig returns default limiter configuration
func DefaultConfig() *Config {
	return &Config{
		RequestsPerSecond: 100,
		BurstSize:         200,
		CleanupInterval:   time.Minute,
	}
}

// bucketState tracks the token bucket for a single key
type bucketState struct {
	tokens    float64
	lastCheck time.Time
}

// Limiter is a keyed token-bucket rate limiter. It is safe for concurrent
// use; time arithmetic relies on Go's monotonic clock readings, so wall
// clock adjustments do not skew refill.
type Limiter struct {
	config  *Config
	buckets map[string]*bucketState
	mu      sync.Mutex
	stopCh  chan struct{}
}

// New creates a rate limiter and starts its cleanup loop
func New(config *Config) *Limiter {
	if config == nil {
		config = DefaultConfig()
	}

	rl := &Limiter{
		config:  config,
		buckets: make(map[string]*bucketState),
		stopCh:  make(chan struct{}),
	}

	if config.CleanupInterval > 0 {
		go rl.cleanup()
	}

	return rl
}

// cleanup periodically removes stale bucket entries
func (rl *Limiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := time.Now()
			for key, state := range rl.buckets {
				if now.Sub(state.lastCheck) > time.Minute {
					delete(rl.buckets, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

// Stop stops the cleanup goroutine
func (rl *Limiter) Stop() {
	close(rl.stopCh)
}

// Allow reports whether a request under the given key may proceed. It
// never blocks; callers must fail fast on false.
func (rl *Limiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	state, exists := rl.buckets[key]

	if !exists {
		// New key starts with a full burst, minus the current request
		rl.buckets[key] = &bucketState{
			tokens:    float64(rl.config.BurstSize - 1),
			lastCheck: now,
		}
		return true
	}

	// Refill based on elapsed time
	elapsed := now.Sub(state.lastCheck).Seconds()
	state.tokens += elapsed * float64(rl.config.RequestsPerSecond)
	if state.tokens > float64(rl.config.BurstSize) {
		state.tokens = float64(rl.config.BurstSize)
	}
	state.lastCheck = now

	if state.tokens < 1 {
		return false
	}

	state.tokens--
	return true
}
