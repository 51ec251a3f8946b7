// Package health provides health check functionality for the service.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"
)

// Checker defines a component that can be health checked.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// CheckFunc adapts a plain function to the Checker interface.
type CheckFunc func(ctx context.Context) error

// HealthCheck implements Checker.
func (f CheckFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// errDegraded marks failures that reduce service quality without making the
// service unusable. A PLC link that is down but being reconnected is
// degraded: the HTTP surface still works and readiness stays green.
var errDegraded = errors.New("degraded")

// Degraded wraps an error so the checker reports it as degraded rather than
// unhealthy.
func Degraded(err error) error {
	return errors.Join(errDegraded, err)
}

// Statuses, ordered by severity.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthChecker runs registered checks and serves the probe endpoints.
type HealthChecker struct {
	config Config

	mu     sync.RWMutex
	checks map[string]Checker
}

// Config holds health checker configuration.
type Config struct {
	ServiceName    string
	ServiceVersion string
	CheckTimeout   time.Duration
}

// CheckStatus represents the status of a single health check.
type CheckStatus struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	LastCheck time.Time `json:"last_check"`
}

// HealthResponse represents the full health response.
type HealthResponse struct {
	Status    string                  `json:"status"`
	Service   string                  `json:"service"`
	Version   string                  `json:"version"`
	Timestamp time.Time               `json:"timestamp"`
	Checks    map[string]*CheckStatus `json:"checks,omitempty"`
}

// NewChecker creates a new health checker.
func NewChecker(config Config) *HealthChecker {
	if config.CheckTimeout == 0 {
		config.CheckTimeout = 5 * time.Second
	}
	return &HealthChecker{
		config: config,
		checks: make(map[string]Checker),
	}
}

// AddCheck registers a health check.
func (h *HealthChecker) AddCheck(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = checker
}

// Check performs all health checks and returns the overall status. Degraded
// checks degrade the overall status; unhealthy checks dominate.
func (h *HealthChecker) Check(ctx context.Context) *HealthResponse {
	h.mu.RLock()
	checks := make(map[string]Checker, len(h.checks))
	for name, checker := range h.checks {
		checks[name] = checker
	}
	h.mu.RUnlock()

	response := &HealthResponse{
		Status:    StatusHealthy,
		Service:   h.config.ServiceName,
		Version:   h.config.ServiceVersion,
		Timestamp: time.Now(),
		Checks:    make(map[string]*CheckStatus),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex

	for name, checker := range checks {
		wg.Add(1)
		go func(name string, checker Checker) {
			defer wg.Done()

			checkCtx, cancel := context.WithTimeout(ctx, h.config.CheckTimeout)
			defer cancel()

			status := &CheckStatus{
				Name:      name,
				Status:    StatusHealthy,
				LastCheck: time.Now(),
			}
			if err := checker.HealthCheck(checkCtx); err != nil {
				if errors.Is(err, errDegraded) {
					status.Status = StatusDegraded
				} else {
					status.Status = StatusUnhealthy
				}
				status.Error = err.Error()
			}

			mu.Lock()
			response.Checks[name] = status
			switch status.Status {
			case StatusUnhealthy:
				response.Status = StatusUnhealthy
			case StatusDegraded:
				if response.Status == StatusHealthy {
					response.Status = StatusDegraded
				}
			}
			mu.Unlock()
		}(name, checker)
	}

	wg.Wait()
	return response
}

// HealthHandler handles HTTP health check requests. Degraded reports 200:
// the service is functioning even when the PLC link is down.
func (h *HealthChecker) HealthHandler(w http.ResponseWriter, r *http.Request) {
	response := h.Check(r.Context())

	statusCode := http.StatusOK
	if response.Status == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, response)
}

// LivenessHandler handles the liveness probe: 200 while the process runs.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, &HealthResponse{
		Status:    StatusHealthy,
		Service:   h.config.ServiceName,
		Version:   h.config.ServiceVersion,
		Timestamp: time.Now(),
	})
}

// ReadinessHandler handles the readiness probe.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	response := h.Check(r.Context())

	statusCode := http.StatusOK
	if response.Status == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, response)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
