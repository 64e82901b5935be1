package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"hma-trading-bot/internal/engine"
)

// MemoryStore is an in-memory StateStore for tests and dry runs.
// States are deep-copied on the way in and out so callers never share
// pointers with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	states   map[string][]byte
	exitLogs map[string][]engine.ExitLogEntry
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states:   make(map[string][]byte),
		exitLogs: make(map[string][]engine.ExitLogEntry),
	}
}

func (s *MemoryStore) LoadState(_ context.Context, userID string) (*engine.TradingState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, ok := s.states[userID]
	if !ok {
		return nil, ErrNotFound
	}
	var state engine.TradingState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("failed to decode state for %s: %w", userID, err)
	}
	return &state, nil
}

func (s *MemoryStore) SaveState(_ context.Context, state *engine.TradingState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode state for %s: %w", state.UserID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.UserID] = raw
	return nil
}

func (s *MemoryStore) AppendExitLog(_ context.Context, userID string, entry engine.ExitLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exitLogs[userID] = append(s.exitLogs[userID], entry)
	return nil
}

func (s *MemoryStore) ListExitLog(_ context.Context, userID string, limit int) ([]engine.ExitLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.exitLogs[userID]
	out := make([]engine.ExitLogEntry, 0, len(log))
	for i := len(log) - 1; i >= 0; i-- {
		out = append(out, log[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) ListMonitoringUsers(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var users []string
	for userID, raw := range s.states {
		var state engine.TradingState
		if err := json.Unmarshal(raw, &state); err != nil {
			continue
		}
		if state.ExecutionFlags.IsMonitoring {
			users = append(users, userID)
		}
	}
	return users, nil
}

func (s *MemoryStore) Close() {}
