package server

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/render"

	"telegram_studio_bot/pkg/metrics"
)

const (
	statusHealthy   = "healthy"
	statusWarning   = "warning"
	statusUnhealthy = "unhealthy"
)

// HealthResponse представляет ответ health check
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Checks    map[string]string      `json:"checks"`
	Metrics   map[string]interface{} `json:"metrics,omitempty"`
}

// Pinger проверка доступности хранилища
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker проверяет состояние системы
type HealthChecker struct {
	storage   Pinger
	startTime time.Time
	version   string
}

// NewHealthChecker создает новый health checker
func NewHealthChecker(storage Pinger, version string) *HealthChecker {
	return &HealthChecker{
		storage:   storage,
		startTime: time.Now(),
		version:   version,
	}
}

// HealthHandler обрабатывает запросы health check
func (h *HealthChecker) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	overall := statusHealthy

	if err := h.checkDatabase(ctx); err != nil {
		checks["database"] = statusUnhealthy + ": " + err.Error()
		overall = statusUnhealthy
	} else {
		checks["database"] = statusHealthy
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	goroutines := runtime.NumGoroutine()

	metrics.MemoryUsage.Set(float64(m.Alloc))
	metrics.GoroutinesCount.Set(float64(goroutines))

	checks["memory"] = memoryStatus(m.Alloc)
	checks["goroutines"] = goroutineStatus(goroutines)
	if overall == statusHealthy && (checks["memory"] != statusHealthy || checks["goroutines"] != statusHealthy) {
		overall = statusWarning
	}

	response := HealthResponse{
		Status:    overall,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   h.version,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Checks:    checks,
		Metrics: map[string]interface{}{
			"alloc_bytes":    m.Alloc,
			"sys_bytes":      m.Sys,
			"num_gc":         m.NumGC,
			"goroutines":     goroutines,
			"uptime_seconds": time.Since(h.startTime).Seconds(),
		},
	}

	// warning все еще 200: сервис работает
	if overall == statusUnhealthy {
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, response)
}

func (h *HealthChecker) checkDatabase(ctx context.Context) error {
	if h.storage == nil {
		return nil
	}
	return h.storage.Ping(ctx)
}

func memoryStatus(alloc uint64) string {
	const (
		warningLimit  = 500 << 20
		criticalLimit = 1 << 30
	)

	switch {
	case alloc > criticalLimit:
		return "critical: memory usage > 1GB"
	case alloc > warningLimit:
		return "warning: memory usage > 500MB"
	}
	return statusHealthy
}

func goroutineStatus(count int) string {
	const (
		warningLimit  = 200
		criticalLimit = 1000
	)

	switch {
	case count > criticalLimit:
		return "critical: too many goroutines"
	case count > warningLimit:
		return "warning: high goroutine count"
	}
	return statusHealthy
}
