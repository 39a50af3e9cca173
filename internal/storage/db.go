package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// DB wraps the database connection pool and the read cache in front of the
// performance tables.
type DB struct {
	conn       *sqlx.DB
	statsCache *LRUCache
}

// DBConfig holds connection and pool settings.
type DBConfig struct {
	URL string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	StatsCacheSize int
	StatsCacheTTL  time.Duration
}

// DefaultDBConfig returns the pool defaults. URL must still be supplied.
func DefaultDBConfig() DBConfig {
	return DBConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,

		StatsCacheSize: 500,
		StatsCacheTTL:  1 * time.Minute,
	}
}

// NewDB connects to Postgres and configures the pool.
func NewDB(cfg DBConfig) (*DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	conn, err := sqlx.Connect("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	conn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return &DB{
		conn:       conn,
		statsCache: NewLRUCache(cfg.StatsCacheSize, cfg.StatsCacheTTL),
	}, nil
}

// Close closes the connection pool and clears the cache.
func (db *DB) Close() error {
	db.statsCache.Clear()
	return db.conn.Close()
}

// Ping checks that the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Health pings and runs a trivial query.
func (db *DB) Health(ctx context.Context) error {
	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var result int
	if err := db.conn.GetContext(ctx, &result, "SELECT 1"); err != nil {
		return fmt.Errorf("health check query failed: %w", err)
	}
	return nil
}

// BeginTx starts a transaction.
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return db.conn.BeginTxx(ctx, opts)
}

// Conn exposes the underlying sqlx connection for queries the repository
// does not cover.
func (db *DB) Conn() *sqlx.DB {
	return db.conn
}

// DBStats combines pool and cache statistics.
type DBStats struct {
	MaxOpenConnections int
	OpenConnections    int
	InUse              int
	Idle               int
	WaitCount          int64
	WaitDuration       time.Duration

	StatsCache CacheStats
}

// GetStats returns current pool and cache statistics.
func (db *DB) GetStats() DBStats {
	stats := db.conn.Stats()
	return DBStats{
		MaxOpenConnections: stats.MaxOpenConnections,
		OpenConnections:    stats.OpenConnections,
		InUse:              stats.InUse,
		Idle:               stats.Idle,
		WaitCount:          stats.WaitCount,
		WaitDuration:       stats.WaitDuration,

		StatsCache: db.statsCache.GetStats(),
	}
}
