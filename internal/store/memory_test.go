package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"hma-trading-bot/internal/engine"
	"hma-trading-bot/internal/gateway"
)

// TestStateRoundTrip verifies the persisted layout survives save/load
// unchanged, including nested order linkage and pending signals
func TestStateRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	state := engine.NewTradingState("user1")
	state.ExecutionFlags.IsMonitoring = true
	state.ExecutionFlags.DailyTradeCount = 3
	state.MonitoredSymbols = []*engine.MonitoredSymbol{{
		ID:                "sym1",
		LogicalName:       "NIFTY-FUT",
		Instrument:        "NIFTY24SEPFUT",
		Side:              gateway.SideBuy,
		Quantity:          25,
		TargetPoints:      10,
		StopLossPoints:    5,
		Trailing:          engine.TrailingConfig{Enabled: true, Offset: 3},
		MaxReEntries:      2,
		ReEntryCount:      1,
		HMAValue:          100.5,
		PreviousHMAValue:  100.1,
		HMADefined:        true,
		OrderID:           "ORD-7",
		OrderHMA:          100.5,
		LastLimitPrice:    100.5,
		ModificationCount: 2,
		ModificationHistory: []engine.OrderModification{{
			Timestamp:  time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC),
			OldOrderID: "ORD-5", NewOrderID: "ORD-7",
			OldHMA: 99.9, NewHMA: 100.5, Reason: "hma moved", Type: "CANCEL_REPLACE",
		}},
		TriggerStatus: engine.StatusOrderModified,
		PendingSignal: &engine.PendingSignal{Kind: engine.SignalReversal, CyclesSeen: 1},
	}}
	state.ActivePositions = []*engine.ActivePosition{{
		SymbolID: "sym2", Instrument: "BANKNIFTY24SEPFUT",
		Side: gateway.SideBuy, BuyPrice: 500, Quantity: 15,
		StopLevel: 495, HighWaterMark: 510, TrailingActivated: true,
	}}

	if err := s.SaveState(ctx, state); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	loaded, err := s.LoadState(ctx, "user1")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	sym := loaded.FindSymbol("sym1")
	if sym == nil {
		t.Fatal("symbol lost in round trip")
	}
	if sym.TriggerStatus != engine.StatusOrderModified || sym.OrderID != "ORD-7" {
		t.Errorf("order linkage lost: %s %s", sym.TriggerStatus, sym.OrderID)
	}
	if sym.ModificationCount != 2 || len(sym.ModificationHistory) != 1 {
		t.Errorf("modification audit lost: count=%d records=%d",
			sym.ModificationCount, len(sym.ModificationHistory))
	}
	if sym.PendingSignal == nil || sym.PendingSignal.Kind != engine.SignalReversal {
		t.Error("pending signal lost")
	}
	pos := loaded.FindPosition("sym2")
	if pos == nil || pos.StopLevel != 495 || !pos.TrailingActivated {
		t.Errorf("position state lost: %+v", pos)
	}
	if !loaded.ExecutionFlags.IsMonitoring || loaded.ExecutionFlags.DailyTradeCount != 3 {
		t.Errorf("execution flags lost: %+v", loaded.ExecutionFlags)
	}
}

// TestLoadMissingUser verifies the not-found contract
func TestLoadMissingUser(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.LoadState(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

// TestSavedStateIsolatedFromCaller verifies mutations after save do not
// leak into the stored copy
func TestSavedStateIsolatedFromCaller(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	state := engine.NewTradingState("user1")
	state.MonitoredSymbols = []*engine.MonitoredSymbol{{ID: "sym1", TriggerStatus: engine.StatusWaiting}}
	if err := s.SaveState(ctx, state); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	state.MonitoredSymbols[0].TriggerStatus = engine.StatusCancelled

	loaded, err := s.LoadState(ctx, "user1")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.MonitoredSymbols[0].TriggerStatus != engine.StatusWaiting {
		t.Error("stored state shares memory with the caller")
	}
}

// TestExitLogAppendOnlyNewestFirst verifies ordering and limit
func TestExitLogAppendOnlyNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := s.AppendExitLog(ctx, "user1", engine.ExitLogEntry{
			SymbolID:  "sym1",
			PnLAmount: float64(i),
		})
		if err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	entries, err := s.ListExitLog(ctx, "user1", 2)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].PnLAmount != 2 || entries[1].PnLAmount != 1 {
		t.Errorf("order = %v,%v, want newest first", entries[0].PnLAmount, entries[1].PnLAmount)
	}
}

// TestListMonitoringUsers verifies only flagged users are returned
func TestListMonitoringUsers(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	on := engine.NewTradingState("on-user")
	on.ExecutionFlags.IsMonitoring = true
	off := engine.NewTradingState("off-user")

	if err := s.SaveState(ctx, on); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := s.SaveState(ctx, off); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	users, err := s.ListMonitoringUsers(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(users) != 1 || users[0] != "on-user" {
		t.Errorf("users = %v, want [on-user]", users)
	}
}
