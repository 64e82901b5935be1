package store

import (
	"context"
	"errors"

	"hma-trading-bot/internal/engine"
)

// ErrNotFound is returned when a user has no persisted trading state
var ErrNotFound = errors.New("trading state not found")

// StateStore is the durable per-user state surface. Implementations are
// linearizable per user: a load after a save observes that save.
type StateStore interface {
	// LoadState returns the user's state, or ErrNotFound
	LoadState(ctx context.Context, userID string) (*engine.TradingState, error)

	// SaveState persists the whole state document
	SaveState(ctx context.Context, state *engine.TradingState) error

	// AppendExitLog appends one immutable closed-trade record
	AppendExitLog(ctx context.Context, userID string, entry engine.ExitLogEntry) error

	// ListExitLog returns the user's closed trades, newest first
	ListExitLog(ctx context.Context, userID string, limit int) ([]engine.ExitLogEntry, error)

	// ListMonitoringUsers returns the ids of users with monitoring enabled
	ListMonitoringUsers(ctx context.Context) ([]string, error)

	// Close releases the underlying resources
	Close()
}
