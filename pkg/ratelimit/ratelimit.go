// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-shardfs.
//
// go-shardfs is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.


// Package ratelimit admits shard server requests per peer with token
// buckets from golang.org/x/time/rate.
package ratelimit

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter implements a token bucket rate limiter with per-peer tracking.
type Limiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	lastSeen map[string]time.Time
	rate     rate.Limit
	burst    int
	enabled  bool

	cleanupInterval time.Duration
	maxIdle         time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// Config holds rate limiter configuration.
type Config struct {
	// Enabled controls whether rate limiting is active.
	Enabled bool `yaml:"enabled"`

	// RequestsPerSecond sets the sustained per-peer rate.
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// Burst allows short bursts above the sustained rate.
	// If not set, defaults to RequestsPerSecond rounded up.
	Burst int `yaml:"burst"`

	// CleanupInterval controls how often idle peers are forgotten.
	// Defaults to 10 minutes.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// MaxIdle is how long a peer can be idle before cleanup.
	// Defaults to 30 minutes.
	MaxIdle time.Duration `yaml:"max_idle"`
}

// Stats is a snapshot of limiter state.
type Stats struct {
	Enabled           bool
	ActivePeers       int
	RequestsPerSecond float64
	Burst             int
}

// New creates a rate limiter. A nil or disabled config admits everything.
func New(config *Config) *Limiter {
	if config == nil {
		config = &Config{Enabled: false}
	}

	burst := config.Burst
	if burst == 0 {
		burst = int(config.RequestsPerSecond + 0.999)
	}

	cleanupInterval := config.CleanupInterval
	if cleanupInterval == 0 {
		cleanupInterval = 10 * time.Minute
	}

	maxIdle := config.MaxIdle
	if maxIdle == 0 {
		maxIdle = 30 * time.Minute
	}

	l := &Limiter{
		limiters:        make(map[string]*rate.Limiter),
		lastSeen:        make(map[string]time.Time),
		rate:            rate.Limit(config.RequestsPerSecond),
		burst:           burst,
		enabled:         config.Enabled,
		cleanupInterval: cleanupInterval,
		maxIdle:         maxIdle,
		stopCleanup:     make(chan struct{}),
	}

	if config.Enabled {
		go l.cleanupWorker()
	}

	return l
}

// getLimiter returns the bucket of peer, creating it on first use.
func (l *Limiter) getLimiter(peer string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.limiters[peer]
	if !exists {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[peer] = limiter
	}

	l.lastSeen[peer] = time.Now()
	return limiter
}

// Allow reports whether a request from peer is within its rate limit.
func (l *Limiter) Allow(peer string) bool {
	if !l.enabled {
		return true
	}
	return l.getLimiter(peer).Allow()
}

// Wait blocks until peer may issue a request or ctx is done.
func (l *Limiter) Wait(ctx context.Context, peer string) error {
	if !l.enabled {
		return nil
	}
	return l.getLimiter(peer).Wait(ctx)
}

// AllowAddr is Allow keyed by the host part of a remote address.
func (l *Limiter) AllowAddr(addr net.Addr) bool {
	if !l.enabled {
		return true
	}
	return l.Allow(PeerID(addr))
}

// PeerID returns the host part of addr, which identifies a peer regardless
// of its source port.
func PeerID(addr net.Addr) string {
	if addr == nil {
		return "unknown"
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

func (l *Limiter) cleanupWorker() {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCleanup:
			return
		}
	}
}

// cleanup forgets peers idle for longer than maxIdle.
func (l *Limiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for peer, lastSeen := range l.lastSeen {
		if now.Sub(lastSeen) > l.maxIdle {
			delete(l.limiters, peer)
			delete(l.lastSeen, peer)
		}
	}
}

// Stop stops the cleanup worker. It is safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCleanup) })
}

// Stats returns current rate limiter statistics.
func (l *Limiter) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return Stats{
		Enabled:           l.enabled,
		ActivePeers:       len(l.limiters),
		RequestsPerSecond: float64(l.rate),
		Burst:             l.burst,
	}
}

// IsEnabled returns whether rate limiting is enabled.
func (l *Limiter) IsEnabled() bool {
	return l.enabled
}
