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


// Package health reports whether a mount or a shard server can serve.
//
// Liveness only says the process finished starting. Readiness runs every
// registered check concurrently, each under its own deadline, so one
// unreachable peer cannot stall the probe.
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultTimeout bounds a single readiness check.
const DefaultTimeout = 2 * time.Second

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"

	// StatusDegraded means reads still succeed but with less redundancy,
	// for example a machine down while parity covers it.
	StatusDegraded Status = "degraded"
)

// CheckResult is the outcome of one check.
type CheckResult struct {
	Name    string        `json:"name"`
	Status  Status        `json:"status"`
	Message string        `json:"message,omitempty"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

// CheckFunc performs one check. It must honour ctx.
type CheckFunc func(ctx context.Context) CheckResult

// Checker holds the registered readiness checks.
type Checker struct {
	mu      sync.RWMutex
	started time.Time
	created time.Time
	timeout time.Duration
	checks  map[string]CheckFunc
}

// NewChecker returns a Checker using DefaultTimeout.
func NewChecker() *Checker {
	return &Checker{
		created: time.Now(),
		timeout: DefaultTimeout,
		checks:  make(map[string]CheckFunc),
	}
}

// SetTimeout changes the per-check deadline. Non-positive values are ignored.
func (c *Checker) SetTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.timeout = d
	c.mu.Unlock()
}

// RegisterCheck adds or replaces the check called name.
func (c *Checker) RegisterCheck(name string, check CheckFunc) {
	if check == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// MarkStarted records that startup finished. Later calls are no-ops.
func (c *Checker) MarkStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started.IsZero() {
		c.started = time.Now()
	}
}

// IsStarted reports whether MarkStarted was called.
func (c *Checker) IsStarted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.started.IsZero()
}

// Uptime is the time since MarkStarted, or zero before it.
func (c *Checker) Uptime() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.started.IsZero() {
		return 0
	}
	return time.Since(c.started)
}

// Live reports healthy once started.
func (c *Checker) Live(ctx context.Context) CheckResult {
	if !c.IsStarted() {
		c.mu.RLock()
		waiting := time.Since(c.created)
		c.mu.RUnlock()
		return CheckResult{
			Name:    "liveness",
			Status:  StatusUnhealthy,
			Message: fmt.Sprintf("starting (%s)", waiting.Round(time.Millisecond)),
		}
	}
	return CheckResult{
		Name:    "liveness",
		Status:  StatusHealthy,
		Message: fmt.Sprintf("up %s", c.Uptime().Round(time.Second)),
	}
}

// Ready runs every check concurrently and returns the results sorted by
// name. A check that overruns its deadline is reported unhealthy.
func (c *Checker) Ready(ctx context.Context) []CheckResult {
	c.mu.RLock()
	timeout := c.timeout
	names := make([]string, 0, len(c.checks))
	checks := make([]CheckFunc, 0, len(c.checks))
	for name, check := range c.checks {
		names = append(names, name)
		checks = append(checks, check)
	}
	c.mu.RUnlock()

	if len(checks) == 0 {
		return []CheckResult{{Name: "default", Status: StatusHealthy, Message: "no checks registered"}}
	}

	results := make([]CheckResult, len(checks))
	var g errgroup.Group
	for i := range checks {
		g.Go(func() error {
			results[i] = run(ctx, names[i], checks[i], timeout)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(results, func(a, b int) bool { return results[a].Name < results[b].Name })
	return results
}

func run(ctx context.Context, name string, check CheckFunc, timeout time.Duration) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan CheckResult, 1)
	go func() { done <- check(ctx) }()

	var result CheckResult
	select {
	case result = <-done:
	case <-ctx.Done():
		result = CheckResult{Status: StatusUnhealthy, Message: "check timed out", Error: ctx.Err().Error()}
	}
	result.Latency = time.Since(start)
	if result.Name == "" {
		result.Name = name
	}
	return result
}

// IsHealthy reports whether every readiness check passed.
func (c *Checker) IsHealthy(ctx context.Context) bool {
	return AggregateStatus(c.Ready(ctx)) == StatusHealthy
}

// AggregateStatus folds results: any unhealthy wins, then any degraded.
func AggregateStatus(results []CheckResult) Status {
	status := StatusHealthy
	for _, r := range results {
		switch r.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}
