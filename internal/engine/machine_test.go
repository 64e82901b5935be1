package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"hma-trading-bot/config"
	"hma-trading-bot/internal/gateway"
	"hma-trading-bot/internal/resolver"
)

var testTime = time.Date(2026, 8, 28, 10, 30, 0, 0, time.UTC)

func newTestEngine(gw *gateway.MockGateway) *Engine {
	res := resolver.NewTableResolver(map[string]resolver.Entry{
		"NIFTY-FUT": {SymbolTemplate: "NIFTY24SEPFUT", LotSize: 25, TickSize: 0.05},
	})
	e := NewEngine(gw, res, config.EngineConfig{
		ModifyThresholdPoints: 0.5,
		ConfirmCycles:         2,
		MaxDailyTrades:        20,
	}, zerolog.Nop())
	e.SetNowFunc(func() time.Time { return testTime })
	return e
}

func newTestSymbol() *MonitoredSymbol {
	return &MonitoredSymbol{
		ID:             "sym1",
		LogicalName:    "NIFTY-FUT",
		Instrument:     "NIFTY24SEPFUT",
		Side:           gateway.SideBuy,
		Lots:           1,
		Quantity:       25,
		TickSize:       0.05,
		TargetPoints:   10,
		StopLossPoints: 5,
		MaxReEntries:   1,
		HMAValue:       100,
		HMADefined:     true,
		TriggerStatus:  StatusWaitingForEntry,
	}
}

func newTestState(sym *MonitoredSymbol) *TradingState {
	state := NewTradingState("user1")
	state.MonitoredSymbols = []*MonitoredSymbol{sym}
	state.ExecutionFlags.IsMonitoring = true
	return state
}

// TestEntryOrderPlacedOnCrossover verifies the crossover places a limit
// order priced at the HMA
func TestEntryOrderPlacedOnCrossover(t *testing.T) {
	gw := gateway.NewMockGateway()
	e := newTestEngine(gw)
	sym := newTestSymbol()
	state := newTestState(sym)

	if err := e.EvaluateSymbol(context.Background(), state, sym, 101); err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}

	if sym.TriggerStatus != StatusOrderPlaced {
		t.Errorf("status = %s, want %s", sym.TriggerStatus, StatusOrderPlaced)
	}
	if gw.PlacedCount() != 1 {
		t.Fatalf("placed orders = %d, want 1", gw.PlacedCount())
	}
	if gw.Placed[0].LimitPrice != 100 {
		t.Errorf("limit = %v, want 100 (the HMA)", gw.Placed[0].LimitPrice)
	}
	if sym.OrderID == "" {
		t.Error("order id not recorded")
	}
}

// TestOrderReplacedWhenHMAMoves verifies cancel/replace at the
// materiality threshold, with exactly one modification record
func TestOrderReplacedWhenHMAMoves(t *testing.T) {
	gw := gateway.NewMockGateway()
	e := newTestEngine(gw)
	sym := newTestSymbol()
	state := newTestState(sym)

	if err := e.EvaluateSymbol(context.Background(), state, sym, 101); err != nil {
		t.Fatalf("entry failed: %v", err)
	}
	firstID := sym.OrderID

	sym.HMAValue = 100.75 // moved 0.75 >= 0.5
	if err := e.EvaluateSymbol(context.Background(), state, sym, 101); err != nil {
		t.Fatalf("replace failed: %v", err)
	}

	if sym.TriggerStatus != StatusOrderModified {
		t.Errorf("status = %s, want %s", sym.TriggerStatus, StatusOrderModified)
	}
	if sym.ModificationCount != 1 {
		t.Errorf("modification count = %d, want 1", sym.ModificationCount)
	}
	if len(sym.ModificationHistory) != 1 {
		t.Fatalf("modification records = %d, want 1", len(sym.ModificationHistory))
	}
	if len(gw.Cancelled) != 1 || gw.Cancelled[0] != firstID {
		t.Errorf("old order %s not superseded (cancelled: %v)", firstID, gw.Cancelled)
	}
	if sym.OrderID == firstID {
		t.Error("order id not replaced")
	}
	rec := sym.ModificationHistory[0]
	if rec.OldOrderID != firstID || rec.NewOrderID != sym.OrderID {
		t.Errorf("record ids = %s -> %s, want %s -> %s",
			rec.OldOrderID, rec.NewOrderID, firstID, sym.OrderID)
	}
	if rec.NewLimitPrice != 100.75 {
		t.Errorf("new limit = %v, want 100.75", rec.NewLimitPrice)
	}
}

// TestNoReplaceBelowThreshold verifies sub-threshold HMA drift leaves
// the order alone
func TestNoReplaceBelowThreshold(t *testing.T) {
	gw := gateway.NewMockGateway()
	e := newTestEngine(gw)
	sym := newTestSymbol()
	state := newTestState(sym)

	if err := e.EvaluateSymbol(context.Background(), state, sym, 101); err != nil {
		t.Fatalf("entry failed: %v", err)
	}

	sym.HMAValue = 100.4 // moved 0.4 < 0.5
	if err := e.EvaluateSymbol(context.Background(), state, sym, 101); err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}

	if sym.TriggerStatus != StatusOrderPlaced {
		t.Errorf("status = %s, want unchanged %s", sym.TriggerStatus, StatusOrderPlaced)
	}
	if sym.ModificationCount != 0 {
		t.Errorf("modification count = %d, want 0", sym.ModificationCount)
	}
	if len(gw.Cancelled) != 0 {
		t.Errorf("cancelled = %v, want none", gw.Cancelled)
	}
}

// TestFillOpensPosition verifies the fill event converges on
// ACTIVE_POSITION with the fill price as entry
func TestFillOpensPosition(t *testing.T) {
	gw := gateway.NewMockGateway()
	e := newTestEngine(gw)
	sym := newTestSymbol()
	state := newTestState(sym)

	if err := e.EvaluateSymbol(context.Background(), state, sym, 101); err != nil {
		t.Fatalf("entry failed: %v", err)
	}

	result, err := e.ApplyOrderEvent(state, gateway.OrderEvent{
		UserID:    "user1",
		OrderID:   sym.OrderID,
		Type:      gateway.EventFilled,
		FillPrice: 100.75,
		Timestamp: testTime,
	})
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if !result.Applied {
		t.Fatal("event not applied")
	}

	if sym.TriggerStatus != StatusActivePosition {
		t.Errorf("status = %s, want %s", sym.TriggerStatus, StatusActivePosition)
	}
	if sym.OrderID != "" {
		t.Error("order id should be cleared after fill")
	}
	pos := state.FindPosition("sym1")
	if pos == nil {
		t.Fatal("no active position created")
	}
	if pos.BuyPrice != 100.75 {
		t.Errorf("buy price = %v, want 100.75", pos.BuyPrice)
	}
	if state.ExecutionFlags.DailyTradeCount != 1 {
		t.Errorf("daily trade count = %d, want 1", state.ExecutionFlags.DailyTradeCount)
	}
}

// TestOrderEventReplayIdempotent verifies applying the same fill twice
// leaves state identical to applying it once
func TestOrderEventReplayIdempotent(t *testing.T) {
	gw := gateway.NewMockGateway()
	e := newTestEngine(gw)
	sym := newTestSymbol()
	state := newTestState(sym)

	if err := e.EvaluateSymbol(context.Background(), state, sym, 101); err != nil {
		t.Fatalf("entry failed: %v", err)
	}
	ev := gateway.OrderEvent{
		OrderID:   sym.OrderID,
		Type:      gateway.EventFilled,
		FillPrice: 100.75,
		Timestamp: testTime,
	}

	if _, err := e.ApplyOrderEvent(state, ev); err != nil {
		t.Fatalf("first apply failed: %v", err)
	}
	result, err := e.ApplyOrderEvent(state, ev)
	if err != nil {
		t.Fatalf("second apply failed: %v", err)
	}
	if result.Applied {
		t.Error("replayed event should be a no-op")
	}

	if len(state.ActivePositions) != 1 {
		t.Errorf("positions = %d, want 1", len(state.ActivePositions))
	}
	if state.ExecutionFlags.DailyTradeCount != 1 {
		t.Errorf("daily trade count = %d, want 1", state.ExecutionFlags.DailyTradeCount)
	}
}

// TestStaleEventForSupersededOrderIgnored verifies events for a replaced
// order id do not disturb the live order
func TestStaleEventForSupersededOrderIgnored(t *testing.T) {
	gw := gateway.NewMockGateway()
	e := newTestEngine(gw)
	sym := newTestSymbol()
	state := newTestState(sym)

	if err := e.EvaluateSymbol(context.Background(), state, sym, 101); err != nil {
		t.Fatalf("entry failed: %v", err)
	}
	oldID := sym.OrderID
	sym.HMAValue = 101.0
	if err := e.EvaluateSymbol(context.Background(), state, sym, 101.5); err != nil {
		t.Fatalf("replace failed: %v", err)
	}

	result, err := e.ApplyOrderEvent(state, gateway.OrderEvent{
		OrderID: oldID,
		Type:    gateway.EventCancelled,
	})
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if result.Applied {
		t.Error("superseded order event should be ignored")
	}
	if sym.TriggerStatus != StatusOrderModified {
		t.Errorf("status = %s, want %s", sym.TriggerStatus, StatusOrderModified)
	}
}

// TestExitWithReentry verifies the post-exit re-arm and the terminal
// CANCELLED once maxReEntries is exhausted
func TestExitWithReentry(t *testing.T) {
	gw := gateway.NewMockGateway()
	e := newTestEngine(gw)
	sym := newTestSymbol() // MaxReEntries = 1
	state := newTestState(sym)

	openPosition := func() {
		if err := e.EvaluateSymbol(context.Background(), state, sym, 101); err != nil {
			t.Fatalf("entry failed: %v", err)
		}
		if _, err := e.ApplyOrderEvent(state, gateway.OrderEvent{
			OrderID:   sym.OrderID,
			Type:      gateway.EventFilled,
			FillPrice: 100.75,
			Timestamp: testTime,
		}); err != nil {
			t.Fatalf("fill failed: %v", err)
		}
	}

	openPosition()
	entry, err := e.CompleteExit(state, "sym1", 110.75, testTime.Add(time.Hour), "target")
	if err != nil {
		t.Fatalf("exit failed: %v", err)
	}
	if entry.PnLAmount <= 0 {
		t.Errorf("pnl = %v, want positive", entry.PnLAmount)
	}
	if entry.PnLAmount != 250 { // 10 points * 25 qty
		t.Errorf("pnl = %v, want 250", entry.PnLAmount)
	}
	if state.FindPosition("sym1") != nil {
		t.Error("position should be removed after exit")
	}
	if sym.TriggerStatus != StatusWaitingReentry {
		t.Errorf("status = %s, want %s", sym.TriggerStatus, StatusWaitingReentry)
	}
	if sym.ReEntryCount != 1 {
		t.Errorf("re-entry count = %d, want 1", sym.ReEntryCount)
	}

	// Re-armed symbol cycles back through the reversal wait
	if err := e.EvaluateSymbol(context.Background(), state, sym, 101); err != nil {
		t.Fatalf("re-arm failed: %v", err)
	}
	if sym.TriggerStatus != StatusWaitingForReversal {
		t.Errorf("status = %s, want %s", sym.TriggerStatus, StatusWaitingForReversal)
	}

	// Second round: reversal confirm, entry, fill, exit
	if err := e.EvaluateSymbol(context.Background(), state, sym, 99); err != nil {
		t.Fatalf("reversal failed: %v", err)
	}
	if err := e.EvaluateSymbol(context.Background(), state, sym, 99); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if sym.TriggerStatus != StatusWaitingForEntry {
		t.Fatalf("status = %s, want %s after confirmation", sym.TriggerStatus, StatusWaitingForEntry)
	}
	openPosition()
	if _, err := e.CompleteExit(state, "sym1", 95, testTime.Add(2*time.Hour), "stoploss"); err != nil {
		t.Fatalf("second exit failed: %v", err)
	}
	if sym.TriggerStatus != StatusCancelled {
		t.Errorf("status = %s, want %s with re-entries exhausted", sym.TriggerStatus, StatusCancelled)
	}
}

// TestReversalConfirmationCycles verifies the reversal must persist
// across the configured cycle count
func TestReversalConfirmationCycles(t *testing.T) {
	gw := gateway.NewMockGateway()
	e := newTestEngine(gw)
	sym := newTestSymbol()
	sym.TriggerStatus = StatusWaitingForReversal
	state := newTestState(sym)

	if err := e.EvaluateSymbol(context.Background(), state, sym, 99); err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if sym.TriggerStatus != StatusConfirmingReversal {
		t.Fatalf("status = %s, want %s", sym.TriggerStatus, StatusConfirmingReversal)
	}
	if sym.PendingSignal == nil || sym.PendingSignal.CyclesSeen != 1 {
		t.Fatalf("pending signal = %+v, want 1 cycle seen", sym.PendingSignal)
	}

	// Price back above the HMA abandons the confirmation
	if err := e.EvaluateSymbol(context.Background(), state, sym, 101); err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if sym.TriggerStatus != StatusWaitingForReversal {
		t.Errorf("status = %s, want %s after abandon", sym.TriggerStatus, StatusWaitingForReversal)
	}
	if sym.PendingSignal != nil {
		t.Error("pending signal should be cleared on abandon")
	}

	// Two persistent cycles confirm
	if err := e.EvaluateSymbol(context.Background(), state, sym, 99); err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if err := e.EvaluateSymbol(context.Background(), state, sym, 99); err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if sym.TriggerStatus != StatusWaitingForEntry {
		t.Errorf("status = %s, want %s after confirmation", sym.TriggerStatus, StatusWaitingForEntry)
	}
}

// TestManualOverrideSkipsConfirmation verifies the stamped override
func TestManualOverrideSkipsConfirmation(t *testing.T) {
	gw := gateway.NewMockGateway()
	e := newTestEngine(gw)
	sym := newTestSymbol()
	sym.TriggerStatus = StatusWaitingForReversal
	state := newTestState(sym)

	if err := e.EvaluateSymbol(context.Background(), state, sym, 99); err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if err := e.ConfirmReversalOverride(state, "sym1", "operator confirmed on chart"); err != nil {
		t.Fatalf("override failed: %v", err)
	}

	if sym.TriggerStatus != StatusWaitingForEntry {
		t.Errorf("status = %s, want %s", sym.TriggerStatus, StatusWaitingForEntry)
	}
	if !sym.ManualOverride || sym.OverrideReason == "" {
		t.Error("override must be stamped with a reason")
	}
}

// TestRejectedEventAndRetrigger verifies the operator recovery path
func TestRejectedEventAndRetrigger(t *testing.T) {
	gw := gateway.NewMockGateway()
	e := newTestEngine(gw)
	sym := newTestSymbol()
	state := newTestState(sym)

	if err := e.EvaluateSymbol(context.Background(), state, sym, 101); err != nil {
		t.Fatalf("entry failed: %v", err)
	}
	if _, err := e.ApplyOrderEvent(state, gateway.OrderEvent{
		OrderID: sym.OrderID,
		Type:    gateway.EventRejected,
		Reason:  "margin shortfall",
	}); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if sym.TriggerStatus != StatusOrderRejected {
		t.Fatalf("status = %s, want %s", sym.TriggerStatus, StatusOrderRejected)
	}

	if err := e.Retrigger(state, "sym1"); err != nil {
		t.Fatalf("retrigger failed: %v", err)
	}
	if sym.TriggerStatus != StatusWaiting {
		t.Errorf("status = %s, want %s", sym.TriggerStatus, StatusWaiting)
	}
}

// TestRecoverySweepConvergesWithPush verifies the sweep classifies a
// fill identically to the push path
func TestRecoverySweepConvergesWithPush(t *testing.T) {
	gw := gateway.NewMockGateway()
	e := newTestEngine(gw)
	sym := newTestSymbol()
	state := newTestState(sym)

	if err := e.EvaluateSymbol(context.Background(), state, sym, 101); err != nil {
		t.Fatalf("entry failed: %v", err)
	}
	gw.Recovery[sym.OrderID] = gateway.OrderEvent{
		OrderID:   sym.OrderID,
		Type:      gateway.EventFilled,
		FillPrice: 100.75,
		Timestamp: testTime,
	}

	exits, err := e.RecoverOrders(context.Background(), state)
	if err != nil {
		t.Fatalf("recovery failed: %v", err)
	}
	if len(exits) != 0 {
		t.Errorf("exits = %d, want 0 for an entry fill", len(exits))
	}
	if sym.TriggerStatus != StatusActivePosition {
		t.Errorf("status = %s, want %s", sym.TriggerStatus, StatusActivePosition)
	}
	pos := state.FindPosition("sym1")
	if pos == nil || pos.BuyPrice != 100.75 {
		t.Errorf("position = %+v, want buy price 100.75", pos)
	}
}

// TestRepairStatusReclassifies verifies out-of-enum statuses are coerced
// at the boundary by price vs HMA
func TestRepairStatusReclassifies(t *testing.T) {
	gw := gateway.NewMockGateway()
	e := newTestEngine(gw)

	sym := newTestSymbol()
	sym.TriggerStatus = TriggerStatus("LEGACY_STATE_7")
	if !e.RepairStatus(sym, 99) {
		t.Fatal("expected a repair")
	}
	if sym.TriggerStatus != StatusWaitingForEntry {
		t.Errorf("status = %s, want %s for price <= hma", sym.TriggerStatus, StatusWaitingForEntry)
	}

	sym2 := newTestSymbol()
	sym2.TriggerStatus = TriggerStatus("???")
	e.RepairStatus(sym2, 105)
	if sym2.TriggerStatus != StatusWaitingForReversal {
		t.Errorf("status = %s, want %s for price > hma", sym2.TriggerStatus, StatusWaitingForReversal)
	}

	sym3 := newTestSymbol()
	sym3.TriggerStatus = StatusOrderPlaced
	if e.RepairStatus(sym3, 99) {
		t.Error("valid status must not be repaired")
	}
}

// TestResetRefusedWithLiveOrder verifies reset only runs with no order live
func TestResetRefusedWithLiveOrder(t *testing.T) {
	gw := gateway.NewMockGateway()
	e := newTestEngine(gw)
	sym := newTestSymbol()
	state := newTestState(sym)

	if err := e.EvaluateSymbol(context.Background(), state, sym, 101); err != nil {
		t.Fatalf("entry failed: %v", err)
	}
	if err := e.Reset(state, "sym1"); !errors.Is(err, ErrOrderStillLive) {
		t.Errorf("reset = %v, want ErrOrderStillLive", err)
	}

	// After the order resolves, reset is allowed
	if _, err := e.ApplyOrderEvent(state, gateway.OrderEvent{
		OrderID: sym.OrderID,
		Type:    gateway.EventCancelled,
	}); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if err := e.Reset(state, "sym1"); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if sym.TriggerStatus != StatusWaiting {
		t.Errorf("status = %s, want %s", sym.TriggerStatus, StatusWaiting)
	}
}

// TestCancelSupersedesLiveOrder verifies cancelling a symbol closes its
// live order first
func TestCancelSupersedesLiveOrder(t *testing.T) {
	gw := gateway.NewMockGateway()
	e := newTestEngine(gw)
	sym := newTestSymbol()
	state := newTestState(sym)

	if err := e.EvaluateSymbol(context.Background(), state, sym, 101); err != nil {
		t.Fatalf("entry failed: %v", err)
	}
	orderID := sym.OrderID

	if err := e.Cancel(context.Background(), state, "sym1"); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if sym.TriggerStatus != StatusCancelled {
		t.Errorf("status = %s, want %s", sym.TriggerStatus, StatusCancelled)
	}
	if len(gw.Cancelled) != 1 || gw.Cancelled[0] != orderID {
		t.Errorf("cancelled = %v, want [%s]", gw.Cancelled, orderID)
	}
}

// TestDailyTradeCap verifies the per-user daily entry cap blocks placement
func TestDailyTradeCap(t *testing.T) {
	gw := gateway.NewMockGateway()
	res := resolver.NewTableResolver(nil)
	e := NewEngine(gw, res, config.EngineConfig{
		ModifyThresholdPoints: 0.5,
		ConfirmCycles:         2,
		MaxDailyTrades:        1,
	}, zerolog.Nop())
	e.SetNowFunc(func() time.Time { return testTime })

	sym := newTestSymbol()
	state := newTestState(sym)
	state.ExecutionFlags.DailyTradeCount = 1
	state.ExecutionFlags.DailyCounterDate = testTime.Format("2006-01-02")

	err := e.EvaluateSymbol(context.Background(), state, sym, 101)
	if !errors.Is(err, ErrDailyLimitReached) {
		t.Errorf("err = %v, want ErrDailyLimitReached", err)
	}
	if gw.PlacedCount() != 0 {
		t.Errorf("placed = %d, want 0", gw.PlacedCount())
	}
}

// TestTransitionTableRejectsJumps verifies illegal transitions fail closed
func TestTransitionTableRejectsJumps(t *testing.T) {
	if CanTransition(StatusWaiting, StatusActivePosition) {
		t.Error("WAITING -> ACTIVE_POSITION must be illegal")
	}
	if CanTransition(StatusCancelled, StatusWaiting) {
		t.Error("CANCELLED is terminal")
	}
	if !CanTransition(StatusOrderModified, StatusOrderModified) {
		t.Error("ORDER_MODIFIED self-loop must be legal")
	}
	if !CanTransition(StatusExecuted, StatusActivePosition) {
		t.Error("EXECUTED -> ACTIVE_POSITION must be legal")
	}
}
