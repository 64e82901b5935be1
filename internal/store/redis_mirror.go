package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"hma-trading-bot/config"
	"hma-trading-bot/internal/engine"
)

const (
	// stateKeyPrefix is the key for one user's live state snapshot.
	// Format: hma:state:{userID}
	stateKeyPrefix = "hma:state"

	// stateSnapshotTTL bounds how long a stale snapshot survives an
	// instance that stopped publishing
	stateSnapshotTTL = 24 * time.Hour
)

// RedisMirror publishes best-effort snapshots of live per-user trading
// state after each cycle, so a standby instance or an operator dashboard
// can observe what the active instance is doing. When Redis is
// unavailable it falls back to an in-memory map so trading continues
// without interruption.
type RedisMirror struct {
	client    *redis.Client
	available atomic.Bool
	logger    zerolog.Logger

	mu       sync.RWMutex
	fallback map[string][]byte
}

// NewRedisMirror connects to Redis; a failed ping degrades to the
// in-memory fallback rather than failing startup
func NewRedisMirror(cfg config.RedisConfig, logger zerolog.Logger) *RedisMirror {
	m := &RedisMirror{
		logger:   logger,
		fallback: make(map[string][]byte),
	}
	if !cfg.Enabled {
		return m
	}

	m.client = redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := m.client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, state mirror degrades to memory")
	} else {
		m.available.Store(true)
		logger.Info().Str("addr", cfg.Address).Msg("redis state mirror connected")
	}
	return m
}

func stateKey(userID string) string {
	return fmt.Sprintf("%s:%s", stateKeyPrefix, userID)
}

// Publish writes one user's current state snapshot. Errors are absorbed:
// a mirror failure must never fail a trading cycle.
func (m *RedisMirror) Publish(ctx context.Context, state *engine.TradingState) {
	raw, err := json.Marshal(state)
	if err != nil {
		m.logger.Error().Err(err).Str("user", state.UserID).Msg("failed to encode state snapshot")
		return
	}

	if m.client != nil && m.available.Load() {
		if err := m.client.Set(ctx, stateKey(state.UserID), raw, stateSnapshotTTL).Err(); err != nil {
			m.logger.Warn().Err(err).Msg("redis publish failed, degrading to memory")
			m.available.Store(false)
		} else {
			return
		}
	}

	m.mu.Lock()
	m.fallback[state.UserID] = raw
	m.mu.Unlock()
}

// Snapshot returns the last published state for a user
func (m *RedisMirror) Snapshot(ctx context.Context, userID string) (*engine.TradingState, error) {
	var raw []byte

	if m.client != nil && m.available.Load() {
		val, err := m.client.Get(ctx, stateKey(userID)).Bytes()
		if err == nil {
			raw = val
		} else if err != redis.Nil {
			m.logger.Warn().Err(err).Msg("redis read failed, trying memory fallback")
		}
	}
	if raw == nil {
		m.mu.RLock()
		raw = m.fallback[userID]
		m.mu.RUnlock()
	}
	if raw == nil {
		return nil, ErrNotFound
	}

	var state engine.TradingState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot for %s: %w", userID, err)
	}
	return &state, nil
}

// Reconnect retries the Redis connection if it previously degraded
func (m *RedisMirror) Reconnect(ctx context.Context) {
	if m.client == nil || m.available.Load() {
		return
	}
	if err := m.client.Ping(ctx).Err(); err == nil {
		m.available.Store(true)
		m.logger.Info().Msg("redis state mirror reconnected")
	}
}

// Available reports whether the Redis side of the mirror is healthy
func (m *RedisMirror) Available() bool {
	return m.available.Load()
}

// Close shuts the client down
func (m *RedisMirror) Close() {
	if m.client != nil {
		_ = m.client.Close()
	}
}
