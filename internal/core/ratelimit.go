// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RoomRelay Contributors

package core

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
)

// Default rate limiting values.
const (
	// DefaultBurstCapacity is the number of messages a connection may send in
	// a burst before rate limiting kicks in.
	DefaultBurstCapacity = 10

	// DefaultSustainedRate is the number of messages per second allowed as
	// sustained rate (token refill rate).
	DefaultSustainedRate = 2.0

	// MinSustainedRate ensures sustained rate is at least 0.1 tokens/second.
	MinSustainedRate = 0.1

	// DefaultCleanupInterval is how often idle buckets are swept.
	DefaultCleanupInterval = 5 * time.Minute

	// DefaultBucketMaxAge is how long an untouched bucket is kept.
	DefaultBucketMaxAge = time.Hour
)

// RateLimiterConfig configures the rate limiter.
type RateLimiterConfig struct {
	// BurstCapacity defaults to DefaultBurstCapacity if zero or negative.
	BurstCapacity int

	// SustainedRate defaults to DefaultSustainedRate if zero or negative.
	SustainedRate float64

	// CleanupInterval defaults to DefaultCleanupInterval if zero.
	CleanupInterval time.Duration

	// BucketMaxAge defaults to DefaultBucketMaxAge if zero.
	BucketMaxAge time.Duration
}

// connBucket is the token bucket of one connection.
type connBucket struct {
	tokens    float64
	lastCheck time.Time
}

// RateLimiter implements per-connection send limiting with a token bucket.
// It is safe for concurrent use.
//
// A background goroutine sweeps idle buckets. Call Close to stop it.
type RateLimiter struct {
	mu            sync.Mutex
	buckets       map[ulid.ULID]*connBucket
	burstCapacity int
	sustainedRate float64 // tokens per second
	bucketMaxAge  time.Duration

	stopChan chan struct{}
	wg       sync.WaitGroup

	bucketGauge prometheus.Gauge // nil if no registry provided
}

// NewRateLimiter creates a rate limiter and starts its cleanup goroutine.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	return newRateLimiter(cfg, nil)
}

// NewRateLimiterWithRegistry creates a rate limiter and registers a bucket
// count gauge with reg.
func NewRateLimiterWithRegistry(cfg RateLimiterConfig, reg prometheus.Registerer) *RateLimiter {
	return newRateLimiter(cfg, reg)
}

func newRateLimiter(cfg RateLimiterConfig, reg prometheus.Registerer) *RateLimiter {
	burstCapacity := cfg.BurstCapacity
	if burstCapacity <= 0 {
		burstCapacity = DefaultBurstCapacity
	}

	sustainedRate := cfg.SustainedRate
	if sustainedRate <= 0 {
		sustainedRate = DefaultSustainedRate
	}
	if sustainedRate < MinSustainedRate {
		sustainedRate = MinSustainedRate
	}

	cleanupInterval := cfg.CleanupInterval
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}

	bucketMaxAge := cfg.BucketMaxAge
	if bucketMaxAge <= 0 {
		bucketMaxAge = DefaultBucketMaxAge
	}

	rl := &RateLimiter{
		buckets:       make(map[ulid.ULID]*connBucket),
		burstCapacity: burstCapacity,
		sustainedRate: sustainedRate,
		bucketMaxAge:  bucketMaxAge,
		stopChan:      make(chan struct{}),
	}

	if reg != nil {
		rl.bucketGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "roomrelay_ratelimiter_connections",
			Help: "Current number of tracked rate limiter buckets",
		})
		reg.MustRegister(rl.bucketGauge)
	}

	rl.wg.Add(1)
	go rl.cleanupLoop(cleanupInterval)

	return rl
}

// Allow consumes one token for connID. It returns false and the time in
// milliseconds until the next token when the bucket is empty.
func (rl *RateLimiter) Allow(connID ulid.ULID) (allowed bool, cooldownMs int64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()

	bucket, exists := rl.buckets[connID]
	if !exists {
		bucket = &connBucket{
			tokens:    float64(rl.burstCapacity),
			lastCheck: now,
		}
		rl.buckets[connID] = bucket
		rl.updateGauge()
	}

	elapsed := now.Sub(bucket.lastCheck).Seconds()
	bucket.tokens += elapsed * rl.sustainedRate
	if bucket.tokens > float64(rl.burstCapacity) {
		bucket.tokens = float64(rl.burstCapacity)
	}
	bucket.lastCheck = now

	if bucket.tokens >= 1.0 {
		bucket.tokens -= 1.0
		return true, 0
	}

	deficit := 1.0 - bucket.tokens
	cooldownMs = int64(deficit / rl.sustainedRate * 1000)
	return false, cooldownMs
}

// Forget drops the bucket of a closed connection.
func (rl *RateLimiter) Forget(connID ulid.ULID) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.buckets[connID]; ok {
		delete(rl.buckets, connID)
		rl.updateGauge()
	}
}

// BucketCount returns the number of tracked connections.
func (rl *RateLimiter) BucketCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// Cleanup removes buckets not touched within maxAge.
func (rl *RateLimiter) Cleanup(maxAge time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	threshold := time.Now().Add(-maxAge)
	for connID, bucket := range rl.buckets {
		if bucket.lastCheck.Before(threshold) {
			delete(rl.buckets, connID)
		}
	}

	rl.updateGauge()
}

// updateGauge publishes the bucket count. Callers hold rl.mu.
func (rl *RateLimiter) updateGauge() {
	if rl.bucketGauge != nil {
		rl.bucketGauge.Set(float64(len(rl.buckets)))
	}
}

func (rl *RateLimiter) cleanupLoop(interval time.Duration) {
	defer rl.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopChan:
			return
		case <-ticker.C:
			rl.Cleanup(rl.bucketMaxAge)
		}
	}
}

// Close stops the cleanup goroutine and waits for it to exit.
func (rl *RateLimiter) Close() {
	close(rl.stopChan)
	rl.wg.Wait()
}
