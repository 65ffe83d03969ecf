package database

import (
	"context"
	"database/sql"
	"time"
)

// HealthStatus is the database section of the /health response.
type HealthStatus struct {
	Status          string `json:"status"`
	ResponseTime    int64  `json:"response_time_ms"`
	OpenConnections int    `json:"open_connections"`
	InUse           int    `json:"in_use"`
	Idle            int    `json:"idle"`
	WaitCount       int64  `json:"wait_count"`
	MaxOpenConns    int    `json:"max_open_conns"`
}

// Health pings the database and reports pool statistics. The returned status
// is non-nil even when the ping fails.
func Health(ctx context.Context, db *sql.DB) (*HealthStatus, error) {
	start := time.Now()
	err := db.PingContext(ctx)
	status := &HealthStatus{Status: "healthy", ResponseTime: time.Since(start).Milliseconds()}
	if err != nil {
		status.Status = "unhealthy"
		return status, err
	}

	stats := db.Stats()
	status.OpenConnections = stats.OpenConnections
	status.InUse = stats.InUse
	status.Idle = stats.Idle
	status.WaitCount = stats.WaitCount
	status.MaxOpenConns = stats.MaxOpenConnections
	return status, nil
}
