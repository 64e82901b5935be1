package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"hma-trading-bot/config"
	"hma-trading-bot/internal/engine"
	"hma-trading-bot/internal/gateway"
)

// PostgresStore persists trading state as one JSONB document per user
// plus an append-only exit log table.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPostgresStore connects the pool and runs migrations
func NewPostgresStore(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*PostgresStore, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	s := &PostgresStore{pool: pool, logger: logger}
	if err := s.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info().Str("database", cfg.Database).Msg("connected to postgres")
	return s, nil
}

func (s *PostgresStore) runMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS trading_state (
			user_id VARCHAR(64) PRIMARY KEY,
			state JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS exit_log (
			id SERIAL PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL,
			symbol_id VARCHAR(64) NOT NULL,
			instrument VARCHAR(64) NOT NULL,
			side VARCHAR(4) NOT NULL,
			entry_price DOUBLE PRECISION NOT NULL,
			entry_date TIMESTAMPTZ NOT NULL,
			exit_price DOUBLE PRECISION NOT NULL,
			exit_date TIMESTAMPTZ NOT NULL,
			quantity INTEGER NOT NULL,
			holding_days INTEGER NOT NULL,
			pnl_amount DOUBLE PRECISION NOT NULL,
			pnl_percent DOUBLE PRECISION NOT NULL,
			reason VARCHAR(32) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE INDEX IF NOT EXISTS idx_exit_log_user ON exit_log(user_id, exit_date DESC)`,

		`CREATE INDEX IF NOT EXISTS idx_trading_state_monitoring
			ON trading_state ((state->'execution_flags'->>'is_monitoring'))`,
	}

	for i, migration := range migrations {
		if _, err := s.pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}

func (s *PostgresStore) LoadState(ctx context.Context, userID string) (*engine.TradingState, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT state FROM trading_state WHERE user_id = $1`, userID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load state for %s: %w", userID, err)
	}

	var state engine.TradingState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("failed to decode state for %s: %w", userID, err)
	}
	return &state, nil
}

func (s *PostgresStore) SaveState(ctx context.Context, state *engine.TradingState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode state for %s: %w", state.UserID, err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO trading_state (user_id, state, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (user_id) DO UPDATE SET state = $2, updated_at = NOW()`,
		state.UserID, raw)
	if err != nil {
		return fmt.Errorf("failed to save state for %s: %w", state.UserID, err)
	}
	return nil
}

func (s *PostgresStore) AppendExitLog(ctx context.Context, userID string, entry engine.ExitLogEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO exit_log (user_id, symbol_id, instrument, side, entry_price,
			entry_date, exit_price, exit_date, quantity, holding_days,
			pnl_amount, pnl_percent, reason)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		userID, entry.SymbolID, entry.Instrument, string(entry.Side), entry.EntryPrice,
		entry.EntryDate, entry.ExitPrice, entry.ExitDate, entry.Quantity, entry.HoldingDays,
		entry.PnLAmount, entry.PnLPercent, entry.Reason)
	if err != nil {
		return fmt.Errorf("failed to append exit log for %s: %w", userID, err)
	}
	return nil
}

func (s *PostgresStore) ListExitLog(ctx context.Context, userID string, limit int) ([]engine.ExitLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT symbol_id, instrument, side, entry_price, entry_date, exit_price,
			exit_date, quantity, holding_days, pnl_amount, pnl_percent, reason
		 FROM exit_log WHERE user_id = $1
		 ORDER BY exit_date DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list exit log for %s: %w", userID, err)
	}
	defer rows.Close()

	var out []engine.ExitLogEntry
	for rows.Next() {
		var e engine.ExitLogEntry
		var side string
		if err := rows.Scan(&e.SymbolID, &e.Instrument, &side, &e.EntryPrice, &e.EntryDate,
			&e.ExitPrice, &e.ExitDate, &e.Quantity, &e.HoldingDays,
			&e.PnLAmount, &e.PnLPercent, &e.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan exit log row: %w", err)
		}
		e.Side = gatewaySide(side)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListMonitoringUsers(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id FROM trading_state
		 WHERE state->'execution_flags'->>'is_monitoring' = 'true'`)
	if err != nil {
		return nil, fmt.Errorf("failed to list monitoring users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		users = append(users, userID)
	}
	return users, rows.Err()
}

// HealthCheck pings the pool
func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
		s.logger.Info().Msg("postgres connection closed")
	}
}

func gatewaySide(s string) gateway.OrderSide {
	if s == string(gateway.SideSell) {
		return gateway.SideSell
	}
	return gateway.SideBuy
}
