package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// DB wraps the database connection and provides health checks
type DB struct {
	conn *sqlx.DB

	// Cache for frequently accessed configuration
	pricingCache *LRUCache
	filterCache  *LRUCache
}

// DBConfig holds database configuration
type DBConfig struct {
	DSN string

	// Pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// Cache settings
	PricingCacheSize int
	PricingCacheTTL  time.Duration
	FilterCacheSize  int
	FilterCacheTTL   time.Duration
}

// DefaultDBConfig returns default database configuration
func DefaultDBConfig() DBConfig {
	return DBConfig{
		DSN: "postgres://postgres@localhost:5432/billfrog?sslmode=disable",

		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,

		PricingCacheSize: 500,
		PricingCacheTTL:  1 * time.Minute,
		FilterCacheSize:  100,
		FilterCacheTTL:   30 * time.Second,
	}
}

// NewDB creates a new database connection with caching
func NewDB(cfg DBConfig) (*DB, error) {
	conn, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	conn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return &DB{
		conn:         conn,
		pricingCache: NewLRUCache(cfg.PricingCacheSize, cfg.PricingCacheTTL),
		filterCache:  NewLRUCache(cfg.FilterCacheSize, cfg.FilterCacheTTL),
	}, nil
}

// Close closes the database connection and clears caches
func (db *DB) Close() error {
	db.pricingCache.Clear()
	db.filterCache.Clear()
	return db.conn.Close()
}

// Ping checks if the database is reachable
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Health returns the health status of the database
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

// BeginTx starts a new transaction
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return db.conn.BeginTxx(ctx, opts)
}

// Conn returns the underlying sqlx connection
// Use this for custom queries not covered by repositories
func (db *DB) Conn() *sqlx.DB {
	return db.conn
}

// PricingCache returns the pricing entry cache
func (db *DB) PricingCache() *LRUCache {
	return db.pricingCache
}

// FilterCache returns the safety filter cache
func (db *DB) FilterCache() *LRUCache {
	return db.filterCache
}

// CleanupExpiredCacheEntries removes expired entries from all caches.
// Should be called periodically (e.g., every minute).
func (db *DB) CleanupExpiredCacheEntries() (pricingRemoved, filterRemoved int) {
	pricingRemoved = db.pricingCache.CleanupExpired()
	filterRemoved = db.filterCache.CleanupExpired()
	return
}
