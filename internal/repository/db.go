package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/joseph-ayodele/invoice-extractor/internal/common"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// DB is the outcome store handle. Postgres connections come from a pgx
// pool wrapped as *sql.DB; SQLite uses the pure-Go modernc driver.
type DB struct {
	SQL    *sql.DB
	Driver string
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open connects to the configured database.
func Open(ctx context.Context, cfg common.DatabaseConfig, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("connecting to database", "driver", cfg.Driver)
	switch cfg.Driver {
	case DriverPostgres:
		return openPostgres(ctx, cfg, logger)
	case DriverSQLite, "":
		return openSQLite(ctx, cfg, logger)
	}
	return nil, common.NewAppError(common.CodeConfig, fmt.Sprintf("unsupported database driver %q", cfg.Driver), common.ErrInvalidInput)
}

func openPostgres(ctx context.Context, cfg common.DatabaseConfig, logger *slog.Logger) (*DB, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		logger.Error("failed to parse database dsn", "error", err)
		return nil, common.NewAppError(common.CodeConfig, "parse database dsn", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	pc.MinConns = cfg.MinConns
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	pc.ConnConfig.RuntimeParams["application_name"] = "invoice-extractor"
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = fmt.Sprint(cfg.StatementTimeout.Milliseconds())
	}

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return nil, fmt.Errorf("%w: %w", common.ErrDatabase, err)
	}
	logger.Info("successfully connected to database", "driver", DriverPostgres)
	return &DB{SQL: stdlib.OpenDBFromPool(pool), Driver: DriverPostgres, pool: pool, logger: logger}, nil
}

func openSQLite(ctx context.Context, cfg common.DatabaseConfig, logger *slog.Logger) (*DB, error) {
	dsn := cfg.DSN
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrDatabase, err)
	}
	// one writer; an in-memory database also lives and dies with its connection
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		logger.Error("failed to open sqlite database", "error", err)
		return nil, fmt.Errorf("%w: %w", common.ErrDatabase, err)
	}
	logger.Info("successfully connected to database", "driver", DriverSQLite, "memory", strings.Contains(dsn, ":memory:"))
	return &DB{SQL: db, Driver: DriverSQLite, logger: logger}, nil
}

// Close closes the database connections gracefully
func (d *DB) Close() {
	d.logger.Info("closing database connections")
	if err := d.SQL.Close(); err != nil {
		d.logger.Error("failed to close database", "error", err)
	}
	if d.pool != nil {
		d.pool.Close()
	}
	d.logger.Info("database connections closed")
}

// HealthCheck pings the database to catch DSN issues early.
func (d *DB) HealthCheck(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	d.logger.Debug("pinging database")
	if d.pool != nil {
		return d.pool.Ping(ctx)
	}
	return d.SQL.PingContext(ctx)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS extraction_request (
		request_id     TEXT PRIMARY KEY,
		document       TEXT NOT NULL,
		started_at_ms  BIGINT NOT NULL,
		total_ms       BIGINT NOT NULL,
		winner         TEXT NOT NULL DEFAULT '',
		low_confidence BOOLEAN NOT NULL DEFAULT FALSE,
		flags          TEXT NOT NULL DEFAULT '[]'
	)`,
	`CREATE TABLE IF NOT EXISTS extraction_outcome (
		request_id    TEXT NOT NULL,
		seq           INTEGER NOT NULL,
		tier          TEXT NOT NULL,
		status        TEXT NOT NULL,
		reason        TEXT NOT NULL DEFAULT '',
		items         INTEGER NOT NULL DEFAULT 0,
		budget_ms     BIGINT NOT NULL DEFAULT 0,
		elapsed_ms    BIGINT NOT NULL DEFAULT 0,
		started_at_ms BIGINT NOT NULL,
		PRIMARY KEY (request_id, seq)
	)`,
	`CREATE INDEX IF NOT EXISTS extraction_outcome_tier_idx ON extraction_outcome (tier)`,
}

// Migrate creates the outcome tables when missing.
func (d *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := d.SQL.ExecContext(ctx, stmt); err != nil {
			return common.NewAppError(common.CodeOutcomePersistence, "migrate", fmt.Errorf("%w: %w", common.ErrDatabase, err))
		}
	}
	d.logger.Debug("database schema ready")
	return nil
}

// builder returns a squirrel builder with the driver's placeholder style.
func (d *DB) builder() sq.StatementBuilderType {
	if d.Driver == DriverPostgres {
		return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}
