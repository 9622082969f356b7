// internal/infrastructure/persistence/postgres/connection.go
package postgres

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"crypto-phase-trading-bot/pkg/logger"
)

type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

func DefaultConfig() *Config {
	return &Config{
		Host:     "localhost",
		Port:     5432,
		User:     "tradingbot",
		Password: "password",
		Database: "tradingbot_db",
		SSLMode:  "disable",
		MaxConns: 25,
		MaxIdle:  10,
	}
}

func Connect(cfg *Config) (*sqlx.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	logger.Info("✅ Connected to PostgreSQL")

	if err := ensureSchema(db); err != nil {
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	return db, nil
}

// ensureSchema создает таблицы журнала сделок и сигналов
func ensureSchema(db *sqlx.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS closed_trades (
		id          TEXT PRIMARY KEY,
		symbol      TEXT NOT NULL,
		side        TEXT NOT NULL,
		entry_price DOUBLE PRECISION NOT NULL,
		exit_price  DOUBLE PRECISION NOT NULL,
		qty         DOUBLE PRECISION NOT NULL,
		entry_time  TIMESTAMPTZ NOT NULL,
		exit_time   TIMESTAMPTZ NOT NULL,
		pnl_gross   DOUBLE PRECISION NOT NULL,
		fees        DOUBLE PRECISION NOT NULL,
		pnl_net     DOUBLE PRECISION NOT NULL,
		reason      TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_closed_trades_symbol ON closed_trades (symbol, exit_time);

	CREATE TABLE IF NOT EXISTS signal_journal (
		id          BIGSERIAL PRIMARY KEY,
		symbol      TEXT NOT NULL,
		side        TEXT NOT NULL,
		phase       TEXT NOT NULL,
		long_score  DOUBLE PRECISION NOT NULL,
		short_score DOUBLE PRECISION NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_signal_journal_symbol ON signal_journal (symbol, created_at);
	`
	if _, err := db.Exec(schema); err != nil {
		return err
	}
	return nil
}
