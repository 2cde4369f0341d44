// Package health aggregates component health checks behind HTTP probe
// endpoints.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Checker is a component that can report its own health.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// Config holds health checker configuration.
type Config struct {
	ServiceName    string
	ServiceVersion string
	CheckTimeout   time.Duration

	// CheckInterval drives the background loop; zero disables it.
	CheckInterval time.Duration
}

// CheckStatus is the outcome of a single component check.
type CheckStatus struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"` // healthy or unhealthy
	Error     string    `json:"error,omitempty"`
	LastCheck time.Time `json:"last_check"`
}

// Response is the aggregate health report.
type Response struct {
	Status    string                  `json:"status"`
	Service   string                  `json:"service"`
	Version   string                  `json:"version"`
	Timestamp time.Time               `json:"timestamp"`
	Uptime    string                  `json:"uptime"`
	Checks    map[string]*CheckStatus `json:"checks,omitempty"`
}

// HealthChecker runs registered component checks in parallel, each under
// its own timeout, and caches the latest results. An optional background
// loop keeps the cache warm so unhealthy components surface in logs even
// when nobody polls the endpoints.
type HealthChecker struct {
	config  Config
	logger  zerolog.Logger
	started time.Time

	mu       sync.RWMutex
	checks   map[string]Checker
	statuses map[string]*CheckStatus

	loopCancel context.CancelFunc
	loopWG     sync.WaitGroup
}

// NewChecker creates a health checker.
func NewChecker(config Config, logger zerolog.Logger) *HealthChecker {
	if config.CheckTimeout <= 0 {
		config.CheckTimeout = 5 * time.Second
	}

	return &HealthChecker{
		config:   config,
		logger:   logger.With().Str("component", "health").Logger(),
		started:  time.Now(),
		checks:   make(map[string]Checker),
		statuses: make(map[string]*CheckStatus),
	}
}

// AddCheck registers a component check under name.
func (h *HealthChecker) AddCheck(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = checker
	h.statuses[name] = &CheckStatus{Name: name, Status: "unknown"}
}

// Start launches the background check loop. No-op when the interval is
// unset.
func (h *HealthChecker) Start(ctx context.Context) {
	if h.config.CheckInterval <= 0 || h.loopCancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	h.loopCancel = cancel

	h.loopWG.Add(1)
	go func() {
		defer h.loopWG.Done()
		ticker := time.NewTicker(h.config.CheckInterval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				resp := h.Check(loopCtx)
				if resp.Status != "healthy" {
					h.logger.Warn().Interface("checks", resp.Checks).Msg("health degraded")
				}
			}
		}
	}()
}

// Stop halts the background loop.
func (h *HealthChecker) Stop() {
	if h.loopCancel == nil {
		return
	}
	h.loopCancel()
	h.loopWG.Wait()
	h.loopCancel = nil
}

// Check runs every registered check and returns the aggregate report.
func (h *HealthChecker) Check(ctx context.Context) *Response {
	h.mu.RLock()
	checks := make(map[string]Checker, len(h.checks))
	for name, checker := range h.checks {
		checks[name] = checker
	}
	h.mu.RUnlock()

	response := &Response{
		Status:    "healthy",
		Service:   h.config.ServiceName,
		Version:   h.config.ServiceVersion,
		Timestamp: time.Now(),
		Uptime:    time.Since(h.started).Round(time.Second).String(),
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

			status := &CheckStatus{Name: name, LastCheck: time.Now()}
			if err := checker.HealthCheck(checkCtx); err != nil {
				status.Status = "unhealthy"
				status.Error = err.Error()
			} else {
				status.Status = "healthy"
			}

			mu.Lock()
			response.Checks[name] = status
			if status.Status != "healthy" {
				response.Status = "unhealthy"
			}
			mu.Unlock()
		}(name, checker)
	}
	wg.Wait()

	h.mu.Lock()
	for name, status := range response.Checks {
		h.statuses[name] = status
	}
	h.mu.Unlock()

	return response
}

// Status returns the cached status of one check.
func (h *HealthChecker) Status(name string) *CheckStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.statuses[name]
}

// HealthHandler serves the full aggregate report.
func (h *HealthChecker) HealthHandler(w http.ResponseWriter, r *http.Request) {
	h.writeReport(w, h.Check(r.Context()))
}

// LivenessHandler reports the process as alive without running checks.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(&Response{
		Status:    "healthy",
		Service:   h.config.ServiceName,
		Version:   h.config.ServiceVersion,
		Timestamp: time.Now(),
		Uptime:    time.Since(h.started).Round(time.Second).String(),
	})
}

// ReadinessHandler serves 200 only while every dependency is healthy.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	h.writeReport(w, h.Check(r.Context()))
}

func (h *HealthChecker) writeReport(w http.ResponseWriter, response *Response) {
	w.Header().Set("Content-Type", "application/json")
	statusCode := http.StatusOK
	if response.Status != "healthy" {
		statusCode = http.StatusServiceUnavailable
	}
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}
