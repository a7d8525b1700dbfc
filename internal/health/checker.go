// Package health provides health check functionality for liveness and readiness probes.
package health

import (
	"context"
	"sync"
	"time"
)

// ReadinessChecker is implemented by dependencies that can report whether
// they are able to serve work.
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

// ReadinessFunc adapts a function to ReadinessChecker.
type ReadinessFunc func(ctx context.Context) error

// Ready calls f.
func (f ReadinessFunc) Ready(ctx context.Context) error {
	return f(ctx)
}

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// CheckResult contains the result of a health check.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response is the health check response.
type Response struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Check is one named readiness dependency. A failing required check makes
// the service unhealthy; a failing optional one only degrades it.
type Check struct {
	Name     string
	Checker  ReadinessChecker
	Required bool
}

// Checker performs health checks on dependencies.
type Checker struct {
	checks   []Check
	timeout  time.Duration
	cacheTTL time.Duration

	mu           sync.RWMutex
	lastCheck    time.Time
	cachedReady  *Response
	shuttingDown bool
}

// NewChecker creates a new health checker.
func NewChecker(checks ...Check) *Checker {
	return &Checker{
		checks:   checks,
		timeout:  5 * time.Second,
		cacheTTL: 5 * time.Second,
	}
}

// Liveness returns true if the service is alive.
// This should be a lightweight check that doesn't depend on external services.
// Failing this probe should trigger a container restart.
func (c *Checker) Liveness(ctx context.Context) *Response {
	return &Response{
		Status: StatusHealthy,
	}
}

// Readiness runs every check concurrently. Results are cached briefly so
// frequent probes do not open a remote session each time.
// Failing this probe should remove the instance from load balancer rotation.
func (c *Checker) Readiness(ctx context.Context) *Response {
	c.mu.RLock()
	if c.shuttingDown {
		c.mu.RUnlock()
		return &Response{
			Status: StatusUnhealthy,
			Checks: map[string]CheckResult{
				"shutdown": {Status: StatusUnhealthy, Message: "service is shutting down"},
			},
		}
	}
	if c.cachedReady != nil && time.Since(c.lastCheck) < c.cacheTTL {
		cached := c.cachedReady
		c.mu.RUnlock()
		return cached
	}
	c.mu.RUnlock()

	response := &Response{
		Status: StatusHealthy,
		Checks: make(map[string]CheckResult, len(c.checks)),
	}
	if len(c.checks) == 0 {
		response.Status = StatusUnhealthy
		response.Checks["config"] = CheckResult{Status: StatusUnhealthy, Message: "no readiness checks configured"}
	}

	results := make([]CheckResult, len(c.checks))
	var wg sync.WaitGroup
	for i, check := range c.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = c.run(ctx, check)
		}()
	}
	wg.Wait()

	for i, check := range c.checks {
		response.Checks[check.Name] = results[i]
		if results[i].Status == StatusHealthy {
			continue
		}
		if check.Required {
			response.Status = StatusUnhealthy
		} else if response.Status == StatusHealthy {
			response.Status = StatusDegraded
		}
	}

	c.mu.Lock()
	c.cachedReady = response
	c.lastCheck = time.Now()
	c.mu.Unlock()

	return response
}

func (c *Checker) run(ctx context.Context, check Check) CheckResult {
	if check.Checker == nil {
		return CheckResult{Status: StatusUnhealthy, Message: check.Name + " not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := check.Checker.Ready(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Message: err.Error()}
	}
	return CheckResult{Status: StatusHealthy}
}

// IsHealthy reports whether the service can take traffic. A degraded
// service still can.
func (r *Response) IsHealthy() bool {
	return r.Status == StatusHealthy || r.Status == StatusDegraded
}

// SetShuttingDown marks the service as shutting down.
// This causes readiness checks to return unhealthy, signaling
// load balancers to stop sending new traffic.
func (c *Checker) SetShuttingDown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shuttingDown = true
	c.cachedReady = nil // Clear cache to ensure immediate effect
}
