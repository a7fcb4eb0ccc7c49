package monitoring

import (
	"context"
	"database/sql"
	"fmt"
	"runtime"
	"time"
)

// HealthStatus represents the overall health status
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// QueueLoad is the transfer queue state a health check looks at
type QueueLoad struct {
	Size   int
	Active int
	Failed int
}

// HealthCheck represents a health check response
type HealthCheck struct {
	Status          HealthStatus     `json:"status"`
	Version         string           `json:"version"`
	Uptime          int64            `json:"uptime"`
	UptimeHuman     string           `json:"uptime_human"`
	QueueSize       int              `json:"queue_size"`
	ActiveTransfers int              `json:"active_transfers"`
	MemoryUsageMB   uint64           `json:"memory_usage_mb"`
	HistoryStatus   string           `json:"history_status"`
	Checks          map[string]Check `json:"checks"`
	Timestamp       time.Time        `json:"timestamp"`
}

// Check represents an individual health check
type Check struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthChecker performs health checks
type HealthChecker struct {
	version    string
	startTime  time.Time
	historyDB  *sql.DB
	maxWorkers int
}

// NewHealthChecker creates a new health checker. historyDB may be nil when
// transfer history is disabled.
func NewHealthChecker(version string, historyDB *sql.DB, maxWorkers int) *HealthChecker {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return &HealthChecker{
		version:    version,
		startTime:  time.Now(),
		historyDB:  historyDB,
		maxWorkers: maxWorkers,
	}
}

// Check performs all health checks and returns the result
func (h *HealthChecker) Check(load QueueLoad) *HealthCheck {
	checks := make(map[string]Check)
	overallStatus := HealthStatusHealthy

	degrade := func(c Check) {
		switch c.Status {
		case "unhealthy":
			overallStatus = HealthStatusUnhealthy
		case "degraded":
			if overallStatus == HealthStatusHealthy {
				overallStatus = HealthStatusDegraded
			}
		}
	}

	historyCheck := h.checkHistory()
	checks["history"] = historyCheck
	degrade(historyCheck)

	memCheck := h.checkMemory()
	checks["memory"] = memCheck
	degrade(memCheck)

	queueCheck := h.checkQueue(load)
	checks["queue"] = queueCheck
	degrade(queueCheck)

	uptime := time.Since(h.startTime)

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	historyStatus := "connected"
	switch historyCheck.Status {
	case "disabled":
		historyStatus = "disabled"
	case "unhealthy":
		historyStatus = "disconnected"
	}

	return &HealthCheck{
		Status:          overallStatus,
		Version:         h.version,
		Uptime:          int64(uptime.Seconds()),
		UptimeHuman:     formatDuration(uptime),
		QueueSize:       load.Size,
		ActiveTransfers: load.Active,
		MemoryUsageMB:   m.Alloc / 1024 / 1024,
		HistoryStatus:   historyStatus,
		Checks:          checks,
		Timestamp:       time.Now(),
	}
}

// checkHistory pings the history database
func (h *HealthChecker) checkHistory() Check {
	if h.historyDB == nil {
		return Check{
			Status:  "disabled",
			Message: "Transfer history is disabled",
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := h.historyDB.PingContext(ctx); err != nil {
		return Check{
			Status:  "unhealthy",
			Message: "History database ping failed: " + err.Error(),
		}
	}

	return Check{
		Status:  "healthy",
		Message: "History database is reachable",
	}
}

// checkMemory checks memory usage
func (h *HealthChecker) checkMemory() Check {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	memoryMB := m.Alloc / 1024 / 1024

	const (
		warningThresholdMB  = 500
		criticalThresholdMB = 1000
	)

	if memoryMB > criticalThresholdMB {
		return Check{
			Status:  "unhealthy",
			Message: "Memory usage is critically high",
		}
	}

	if memoryMB > warningThresholdMB {
		return Check{
			Status:  "degraded",
			Message: "Memory usage is elevated",
		}
	}

	return Check{
		Status:  "healthy",
		Message: "Memory usage is normal",
	}
}

// checkQueue reports a backlog far beyond what the worker slots can drain
func (h *HealthChecker) checkQueue(load QueueLoad) Check {
	waiting := load.Size - load.Active
	backlogThreshold := h.maxWorkers * 100

	if waiting > backlogThreshold {
		return Check{
			Status:  "degraded",
			Message: fmt.Sprintf("%d transfers waiting for %d worker slots", waiting, h.maxWorkers),
		}
	}

	return Check{
		Status:  "healthy",
		Message: "Queue backlog is normal",
	}
}

// formatDuration formats a duration into a human-readable string
func formatDuration(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
