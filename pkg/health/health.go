// Package health serves the liveness, readiness and detailed health endpoints.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

const checkTimeout = 5 * time.Second

type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

type ImportStatus struct {
	InProgress bool `json:"in_progress"`
}

type Response struct {
	Status     Status                  `json:"status"`
	Version    string                  `json:"version,omitempty"`
	Uptime     string                  `json:"uptime,omitempty"`
	Checks     map[string]CheckResult  `json:"checks,omitempty"`
	Imports    map[string]ImportStatus `json:"imports,omitempty"`
	ReportedAt time.Time               `json:"reported_at"`
}

// CheckFunc pings one dependency.
type CheckFunc func(ctx context.Context) error

// Importer is a reconciler whose run state is reported.
type Importer interface {
	Name() string
	InProgress() bool
}

type check struct {
	name string
	fn   CheckFunc
	// optional dependencies only degrade the service
	optional bool
}

// Checker provides health check functionality
type Checker struct {
	checks    []check
	importers []Importer
	startTime time.Time
	version   string
	mu        sync.RWMutex
	ready     bool
}

func NewChecker(version string) *Checker {
	return &Checker{
		startTime: time.Now(),
		version:   version,
	}
}

// AddCheck registers a required dependency. A failure makes the service unhealthy.
func (c *Checker) AddCheck(name string, fn CheckFunc) {
	c.checks = append(c.checks, check{name: name, fn: fn})
}

// AddOptionalCheck registers a dependency whose failure only degrades the service.
func (c *Checker) AddOptionalCheck(name string, fn CheckFunc) {
	c.checks = append(c.checks, check{name: name, fn: fn, optional: true})
}

func (c *Checker) AddImporter(i Importer) {
	c.importers = append(c.importers, i)
}

// SetReady marks the service as ready to receive traffic
func (c *Checker) SetReady(ready bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = ready
}

func (c *Checker) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// LivenessHandler reports that the process is up.
func (c *Checker) LivenessHandler(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, Response{
		Status:     StatusHealthy,
		Version:    c.version,
		Uptime:     c.uptime(),
		ReportedAt: time.Now(),
	})
}

// ReadinessHandler reports whether startup finished and the dependencies answer.
func (c *Checker) ReadinessHandler(ctx echo.Context) error {
	if !c.IsReady() {
		return ctx.JSON(http.StatusServiceUnavailable, Response{
			Status:     StatusUnhealthy,
			Version:    c.version,
			ReportedAt: time.Now(),
			Checks: map[string]CheckResult{
				"startup": {Status: StatusUnhealthy, Message: "service is still starting up"},
			},
		})
	}
	return c.respond(ctx, false)
}

// HealthHandler reports every dependency and the state of each import.
func (c *Checker) HealthHandler(ctx echo.Context) error {
	return c.respond(ctx, true)
}

func (c *Checker) respond(ctx echo.Context, detailed bool) error {
	checks := c.runChecks(ctx.Request().Context())
	overall := overallStatus(checks)

	statusCode := http.StatusOK
	if overall == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	resp := Response{
		Status:     overall,
		Version:    c.version,
		Uptime:     c.uptime(),
		Checks:     checks,
		ReportedAt: time.Now(),
	}
	if detailed {
		resp.Imports = c.imports()
	}
	return ctx.JSON(statusCode, resp)
}

func (c *Checker) runChecks(ctx context.Context) map[string]CheckResult {
	results := make(map[string]CheckResult, len(c.checks))
	for _, ch := range c.checks {
		results[ch.name] = run(ctx, ch)
	}
	return results
}

func run(ctx context.Context, ch check) CheckResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	if err := ch.fn(ctx); err != nil {
		status := StatusUnhealthy
		if ch.optional {
			status = StatusDegraded
		}
		return CheckResult{
			Status:  status,
			Message: err.Error(),
			Latency: time.Since(start).String(),
		}
	}

	return CheckResult{
		Status:  StatusHealthy,
		Latency: time.Since(start).String(),
	}
}

func (c *Checker) imports() map[string]ImportStatus {
	if len(c.importers) == 0 {
		return nil
	}
	out := make(map[string]ImportStatus, len(c.importers))
	for _, i := range c.importers {
		out[i.Name()] = ImportStatus{InProgress: i.InProgress()}
	}
	return out
}

func (c *Checker) uptime() string {
	return time.Since(c.startTime).Round(time.Second).String()
}

func overallStatus(checks map[string]CheckResult) Status {
	hasUnhealthy := false
	hasDegraded := false

	for _, check := range checks {
		switch check.Status {
		case StatusUnhealthy:
			hasUnhealthy = true
		case StatusDegraded:
			hasDegraded = true
		}
	}

	if hasUnhealthy {
		return StatusUnhealthy
	}
	if hasDegraded {
		return StatusDegraded
	}
	return StatusHealthy
}

// RegisterRoutes registers health check routes under /api/v1
func (c *Checker) RegisterRoutes(e *echo.Echo) {
	health := e.Group("/api/v1/health")

	health.GET("", c.HealthHandler)
	health.GET("/live", c.LivenessHandler)
	health.GET("/ready", c.ReadinessHandler)
}
