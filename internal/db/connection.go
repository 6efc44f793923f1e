/*-------------------------------------------------------------------------
 *
 * connection.go
 *    Database connection management for NeuronLedger
 *
 * Provides PostgreSQL connection pooling, jittered retry on connect, health
 * checks and pool statistics. The pool is shared by every concurrent cost
 * recording and webhook delivery, so it is sized from configuration.
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/db/connection.go
 *
 *-------------------------------------------------------------------------
 */

package db

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/neurondb/NeuronLedger/internal/metrics"
	"github.com/neurondb/NeuronLedger/internal/utils"
)

/* ConnectionInfo holds details about the database connection */
type ConnectionInfo struct {
	Host     string
	Port     int
	Database string
	User     string
}

/* DB manages PostgreSQL connections */
type DB struct {
	*sqlx.DB
	poolConfig PoolConfig
	connInfo   *ConnectionInfo
}

/* PoolConfig sizes the connection pool */
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

/* NewDB creates a new database instance */
func NewDB(connStr string, poolConfig PoolConfig) (*DB, error) {
	return NewDBWithRetry(connStr, poolConfig, 5, 2*time.Second)
}

/* NewDBWithRetry connects with exponential backoff and ±25% jitter between attempts */
func NewDBWithRetry(connStr string, poolConfig PoolConfig, maxRetries int, retryDelay time.Duration) (*DB, error) {
	connInfo := parseConnectionInfo(connStr)
	ctx := context.Background()

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		conn, err := connectOnce(connStr, poolConfig)
		if err == nil {
			metrics.InfoWithContext(ctx, "Database connection established", map[string]interface{}{
				"attempt":    attempt + 1,
				"connection": connInfo.Host,
				"database":   connInfo.Database,
			})
			return &DB{DB: conn, poolConfig: poolConfig, connInfo: connInfo}, nil
		}
		lastErr = err

		if attempt < maxRetries-1 {
			delay := jitter(retryDelay)
			metrics.WarnWithContext(ctx, "Database connection failed, retrying", map[string]interface{}{
				"attempt":     attempt + 1,
				"max_retries": maxRetries,
				"retry_delay": delay.String(),
				"error":       err.Error(),
				"connection":  connInfo.Host,
			})
			time.Sleep(delay)
			retryDelay *= 2
		}
	}

	connInfoStr := utils.FormatConnectionInfo(connInfo.Host, connInfo.Port, connInfo.Database, connInfo.User)
	return nil, fmt.Errorf("failed to connect to %s after %d attempts (last error: %w)", connInfoStr, maxRetries, lastErr)
}

/* NewDBFromConn wraps an existing pool, used by tests */
func NewDBFromConn(conn *sqlx.DB) *DB {
	return &DB{DB: conn, connInfo: &ConnectionInfo{Host: "external", Port: 5432, Database: "unknown", User: "unknown"}}
}

func connectOnce(connStr string, poolConfig PoolConfig) (*sqlx.DB, error) {
	conn, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	conn.SetMaxOpenConns(poolConfig.MaxOpenConns)
	conn.SetMaxIdleConns(poolConfig.MaxIdleConns)
	conn.SetConnMaxLifetime(poolConfig.ConnMaxLifetime)
	conn.SetConnMaxIdleTime(poolConfig.ConnMaxIdleTime)
	return conn, nil
}

func jitter(d time.Duration) time.Duration {
	spread := float64(d) * 0.25
	return d + time.Duration(spread*(rand.Float64()*2-1))
}

/* parseConnectionInfo extracts connection information from a key/value connection string */
func parseConnectionInfo(connStr string) *ConnectionInfo {
	info := &ConnectionInfo{
		Host:     "unknown",
		Port:     5432,
		Database: "unknown",
		User:     "unknown",
	}

	for _, part := range strings.Fields(connStr) {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		switch key {
		case "host":
			info.Host = value
		case "port":
			fmt.Sscanf(value, "%d", &info.Port)
		case "dbname":
			info.Database = value
		case "user":
			info.User = value
		}
	}

	return info
}

/* GetConnInfoString returns a formatted string of connection details */
func (d *DB) GetConnInfoString() string {
	if d.connInfo == nil {
		return "unknown database connection"
	}
	return utils.FormatConnectionInfo(d.connInfo.Host, d.connInfo.Port, d.connInfo.Database, d.connInfo.User)
}

/* HealthCheck tests the database connection */
func (d *DB) HealthCheck(ctx context.Context) error {
	if d.DB == nil {
		return fmt.Errorf("database connection not established: %s (connection pool is nil, ensure NewDB() was called successfully)", d.GetConnInfoString())
	}

	var result int
	if err := d.DB.GetContext(ctx, &result, "SELECT 1"); err != nil {
		return fmt.Errorf("health check failed on %s: query='SELECT 1', error=%w", d.GetConnInfoString(), err)
	}
	return nil
}

/* GetPoolStats returns connection pool statistics */
func (d *DB) GetPoolStats() (openConns, idleConns, inUse int) {
	if d.DB == nil {
		return 0, 0, 0
	}
	stats := d.DB.Stats()
	return stats.OpenConnections, stats.Idle, stats.InUse
}

/* ReportPoolStats publishes pool statistics to Prometheus */
func (d *DB) ReportPoolStats(ctx context.Context) error {
	open, idle, inUse := d.GetPoolStats()
	database := "unknown"
	if d.connInfo != nil {
		database = d.connInfo.Database
	}
	metrics.RecordDBPoolStats(database, open, idle, inUse)
	return nil
}

/* Close closes the connection pool */
func (d *DB) Close() error {
	if d.DB == nil {
		return nil
	}
	return d.DB.Close()
}
