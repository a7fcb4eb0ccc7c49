package monitoring

import (
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func openMemoryDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestHealthCheckHealthy(t *testing.T) {
	healthChecker := NewHealthChecker("1.0.0", openMemoryDB(t), 4)

	healthCheck := healthChecker.Check(QueueLoad{Size: 10, Active: 4})

	if healthCheck.Status != HealthStatusHealthy {
		t.Errorf("Expected status healthy, got %s", healthCheck.Status)
	}
	if healthCheck.Version != "1.0.0" {
		t.Errorf("Expected version 1.0.0, got %s", healthCheck.Version)
	}
	if healthCheck.QueueSize != 10 {
		t.Errorf("Expected queue size 10, got %d", healthCheck.QueueSize)
	}
	if healthCheck.ActiveTransfers != 4 {
		t.Errorf("Expected active transfers 4, got %d", healthCheck.ActiveTransfers)
	}
	if healthCheck.HistoryStatus != "connected" {
		t.Errorf("Expected history status connected, got %s", healthCheck.HistoryStatus)
	}
}

func TestHealthCheckBacklogDegraded(t *testing.T) {
	healthChecker := NewHealthChecker("1.0.0", openMemoryDB(t), 2)

	healthCheck := healthChecker.Check(QueueLoad{Size: 500, Active: 2})

	if healthCheck.Status != HealthStatusDegraded {
		t.Errorf("Expected status degraded, got %s", healthCheck.Status)
	}
	if queueCheck := healthCheck.Checks["queue"]; queueCheck.Status != "degraded" {
		t.Errorf("Expected queue check degraded, got %s", queueCheck.Status)
	}
}

func TestHealthCheckHistoryDisabled(t *testing.T) {
	healthChecker := NewHealthChecker("1.0.0", nil, 2)

	healthCheck := healthChecker.Check(QueueLoad{})

	if healthCheck.Status != HealthStatusHealthy {
		t.Errorf("Expected disabled history to keep status healthy, got %s", healthCheck.Status)
	}
	if healthCheck.HistoryStatus != "disabled" {
		t.Errorf("Expected history status disabled, got %s", healthCheck.HistoryStatus)
	}
}

func TestHealthCheckHistoryClosed(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	db.Close()

	healthCheck := NewHealthChecker("1.0.0", db, 2).Check(QueueLoad{})

	if healthCheck.Status != HealthStatusUnhealthy {
		t.Errorf("Expected status unhealthy, got %s", healthCheck.Status)
	}
	if healthCheck.HistoryStatus != "disconnected" {
		t.Errorf("Expected history status disconnected, got %s", healthCheck.HistoryStatus)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{30 * time.Second, "30s"},
		{90 * time.Second, "1m 30s"},
		{3661 * time.Second, "1h 1m 1s"},
		{86400 * time.Second, "1d 0h 0m 0s"},
		{90061 * time.Second, "1d 1h 1m 1s"},
	}

	for _, tt := range tests {
		result := formatDuration(tt.duration)
		if result != tt.expected {
			t.Errorf("formatDuration(%v) = %s, expected %s", tt.duration, result, tt.expected)
		}
	}
}

func TestHealthCheckTimestamp(t *testing.T) {
	healthChecker := NewHealthChecker("1.0.0", openMemoryDB(t), 1)

	before := time.Now()
	healthCheck := healthChecker.Check(QueueLoad{})
	after := time.Now()

	if healthCheck.Timestamp.Before(before) || healthCheck.Timestamp.After(after) {
		t.Error("Health check timestamp is not within expected range")
	}
}
