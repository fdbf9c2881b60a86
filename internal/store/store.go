package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/pumpkinperf/pumpkin/internal/errs"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// PoolConfig bounds the shared connection pool (SPEC_FULL.md §5).
type PoolConfig struct {
	MaxOpenConns int
	MaxIdleConns int
}

// DB wraps a *sqlx.DB with a circuit breaker: three consecutive failed
// calls through it open the breaker for 5s, after which one probe call is
// let through. The breaker itself retries nothing.
type DB struct {
	*sqlx.DB
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// Open connects to dsn, applies the pool configuration, and verifies
// reachability with one ping through the circuit breaker. It returns
// *errs.DatabaseUnavailable if that ping fails.
func Open(ctx context.Context, dsn string, cfg PoolConfig, logger *zap.Logger) (*DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, &errs.DatabaseUnavailable{Cause: err}
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	db := WrapDB(sqlx.NewDb(sqlDB, "pgx"), logger)

	if err := db.Ping(ctx); err != nil {
		return nil, &errs.DatabaseUnavailable{Cause: err}
	}

	return db, nil
}

// WrapDB builds a DB (including its circuit breaker) around an
// already-open *sqlx.DB. Production code reaches this indirectly through
// Open; tests use it directly to wrap a go-sqlmock connection.
func WrapDB(sqlxDB *sqlx.DB, logger *zap.Logger) *DB {
	if logger == nil {
		logger = zap.NewNop()
	}
	db := &DB{DB: sqlxDB, logger: logger}
	db.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "pumpkin-db",
		MaxRequests: 1,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			logger.Warn("database circuit breaker state change",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return db
}

// Ping verifies connectivity through the circuit breaker.
func (d *DB) Ping(ctx context.Context) error {
	_, err := d.breaker.Execute(func() (any, error) {
		return nil, d.DB.PingContext(ctx)
	})
	return err
}

// Healthy reports whether the circuit breaker currently allows requests.
func (d *DB) Healthy() bool {
	return d.breaker.State() == gobreaker.StateClosed || d.breaker.State() == gobreaker.StateHalfOpen
}

// Breaker exposes the circuit breaker so other components (e.g.
// internal/ingest) can run their own multi-step operations through it;
// their failures then count towards opening it, as Ping's do.
func (d *DB) Breaker() *gobreaker.CircuitBreaker {
	return d.breaker
}

// Migrate applies every embedded migration in migrations/ via goose.
func Migrate(sqlDB *sql.DB) error {
	goose.SetBaseFS(migrationFiles)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("store: failed to set goose dialect: %w", err)
	}
	if err := goose.Up(sqlDB, "migrations"); err != nil {
		return fmt.Errorf("store: migration failed: %w", err)
	}
	return nil
}
