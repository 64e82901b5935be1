package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"hma-trading-bot/config"
	"hma-trading-bot/internal/gateway"
	"hma-trading-bot/internal/resolver"
)

// Engine advances the per-symbol trigger state machine. It owns every
// trigger-status write; all transitions pass the validation table.
// The engine itself is stateless across calls — all state lives in the
// TradingState it is handed, so one engine instance serves all users.
type Engine struct {
	gw       gateway.OrderGateway
	resolver resolver.Resolver
	cfg      config.EngineConfig
	logger   zerolog.Logger

	now func() time.Time
}

// NewEngine creates the state machine driver
func NewEngine(gw gateway.OrderGateway, res resolver.Resolver, cfg config.EngineConfig, logger zerolog.Logger) *Engine {
	return &Engine{
		gw:       gw,
		resolver: res,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// SetNowFunc replaces the time source, for deterministic tests
func (e *Engine) SetNowFunc(now func() time.Time) {
	e.now = now
}

// setStatus performs one validated transition
func (e *Engine) setStatus(sym *MonitoredSymbol, to TriggerStatus) error {
	if !CanTransition(sym.TriggerStatus, to) {
		return fmt.Errorf("%w: %s -> %s for %s", ErrInvalidTransition, sym.TriggerStatus, to, sym.ID)
	}
	e.logger.Debug().
		Str("symbol", sym.ID).
		Str("from", string(sym.TriggerStatus)).
		Str("to", string(to)).
		Msg("trigger status transition")
	sym.TriggerStatus = to
	return nil
}

// RepairStatus coerces an out-of-enum trigger status back into the
// machine by reclassifying against the current price and HMA. Valid
// statuses are left untouched. Returns true when a repair happened.
func (e *Engine) RepairStatus(sym *MonitoredSymbol, price float64) bool {
	if IsValidTriggerStatus(sym.TriggerStatus) {
		return false
	}

	old := sym.TriggerStatus
	switch {
	case sym.HMADefined && price <= sym.HMAValue:
		sym.TriggerStatus = StatusWaitingForEntry
	case sym.HMADefined:
		sym.TriggerStatus = StatusWaitingForReversal
	default:
		sym.TriggerStatus = StatusWaiting
	}
	sym.PendingSignal = nil

	e.logger.Warn().
		Str("symbol", sym.ID).
		Str("from", string(old)).
		Str("to", string(sym.TriggerStatus)).
		Msg("repaired out-of-enum trigger status")
	return true
}

// EvaluateSymbol runs one cycle of the state machine for a symbol
// against the latest traded price. The symbol's HMA fields must already
// be refreshed by the caller.
func (e *Engine) EvaluateSymbol(ctx context.Context, state *TradingState, sym *MonitoredSymbol, price float64) error {
	e.RepairStatus(sym, price)

	if !sym.HMADefined {
		return nil
	}
	hma := sym.HMAValue

	switch sym.TriggerStatus {
	case StatusWaiting:
		// Initial classification: at/below HMA is an entry setup,
		// above means wait for the pullback
		if price <= hma {
			return e.setStatus(sym, StatusWaitingForEntry)
		}
		return e.setStatus(sym, StatusWaitingForReversal)

	case StatusWaitingForReversal:
		if price <= hma {
			sym.PendingSignal = &PendingSignal{
				Kind:       SignalReversal,
				CyclesSeen: 1,
				StartedAt:  e.now(),
			}
			return e.setStatus(sym, StatusConfirmingReversal)
		}

	case StatusConfirmingReversal:
		if price > hma {
			// Reversal did not hold
			sym.PendingSignal = nil
			return e.setStatus(sym, StatusWaitingForReversal)
		}
		if sym.PendingSignal == nil {
			sym.PendingSignal = &PendingSignal{Kind: SignalReversal, StartedAt: e.now()}
		}
		sym.PendingSignal.CyclesSeen++
		if sym.PendingSignal.CyclesSeen >= e.cfg.ConfirmCycles {
			sym.PendingSignal = nil
			return e.setStatus(sym, StatusWaitingForEntry)
		}

	case StatusWaitingForEntry:
		// Crossover: price moved above the HMA from the entry setup
		if price > hma {
			return e.placeEntryOrder(ctx, state, sym, price)
		}

	case StatusOrderPlaced, StatusOrderModified:
		if math.Abs(hma-sym.OrderHMA) >= e.cfg.ModifyThresholdPoints {
			return e.replaceOrder(ctx, state, sym)
		}

	case StatusWaitingReentry:
		// Re-armed: the cycle restarts at the reversal wait
		return e.setStatus(sym, StatusWaitingForReversal)

	case StatusActivePosition, StatusOrderRejected, StatusCancelled:
		// Position handling belongs to the accountant; terminal states idle
	}
	return nil
}

// placeEntryOrder submits the entry limit order priced off the current HMA
func (e *Engine) placeEntryOrder(ctx context.Context, state *TradingState, sym *MonitoredSymbol, price float64) error {
	e.rollDailyCounter(state)
	if e.cfg.MaxDailyTrades > 0 && state.ExecutionFlags.DailyTradeCount >= e.cfg.MaxDailyTrades {
		e.logger.Warn().
			Str("user", state.UserID).
			Str("symbol", sym.ID).
			Int("count", state.ExecutionFlags.DailyTradeCount).
			Msg("daily trade limit reached, entry skipped")
		return ErrDailyLimitReached
	}

	if sym.Instrument == "" {
		inst, err := e.resolver.Resolve(sym.LogicalName, price)
		if err != nil {
			return err
		}
		sym.Instrument = inst.Symbol
		sym.TickSize = inst.TickSize
		if sym.Quantity == 0 {
			sym.Quantity = sym.Lots * inst.LotSize
		}
	}

	side := sym.Side
	if side == "" {
		side = gateway.SideBuy
	}
	limit := roundToTick(sym.HMAValue, sym.TickSize)

	tag := "entry"
	if sym.ReEntryCount > 0 {
		tag = "reentry"
	}
	spec := gateway.OrderSpec{
		UserID:        state.UserID,
		Instrument:    sym.Instrument,
		Side:          side,
		Type:          gateway.TypeLimit,
		Quantity:      sym.Quantity,
		LimitPrice:    limit,
		ClientOrderID: gateway.NewClientOrderID(),
		Tag:           tag,
	}

	ack, err := e.gw.PlaceOrder(ctx, spec)
	if err != nil {
		if gateway.IsKind(err, gateway.KindRejected) {
			e.logger.Warn().Err(err).Str("symbol", sym.ID).Msg("entry order rejected")
			if terr := e.setStatus(sym, StatusOrderPlaced); terr != nil {
				return terr
			}
			return e.setStatus(sym, StatusOrderRejected)
		}
		return err
	}

	sym.OrderID = ack.OrderID
	sym.OrderHMA = sym.HMAValue
	sym.LastLimitPrice = limit
	e.logger.Info().
		Str("user", state.UserID).
		Str("symbol", sym.ID).
		Str("order_id", ack.OrderID).
		Float64("limit", limit).
		Msg("entry order placed")
	return e.setStatus(sym, StatusOrderPlaced)
}

// replaceOrder supersedes the live order and re-places at the new HMA.
// The cancel always goes out before the replacement so the at-most-one-
// live-order invariant holds even when a prior attempt's outcome is
// unknown.
func (e *Engine) replaceOrder(ctx context.Context, state *TradingState, sym *MonitoredSymbol) error {
	oldID := sym.OrderID
	oldHMA := sym.OrderHMA
	oldLimit := sym.LastLimitPrice

	if err := e.gw.CancelOrder(ctx, state.UserID, oldID); err != nil {
		if gateway.IsKind(err, gateway.KindInconsistentState) {
			// The broker no longer knows this order; only the recovery
			// sweep may decide what happened to it
			e.logger.Warn().Err(err).Str("order_id", oldID).Msg("cancel found unknown order, leaving for recovery sweep")
		}
		return err
	}

	newLimit := roundToTick(sym.HMAValue, sym.TickSize)
	side := sym.Side
	if side == "" {
		side = gateway.SideBuy
	}
	spec := gateway.OrderSpec{
		UserID:        state.UserID,
		Instrument:    sym.Instrument,
		Side:          side,
		Type:          gateway.TypeLimit,
		Quantity:      sym.Quantity,
		LimitPrice:    newLimit,
		ClientOrderID: gateway.NewClientOrderID(),
		Tag:           "replace",
	}

	ack, err := e.gw.PlaceOrder(ctx, spec)
	if err != nil {
		// The old order is already superseded; fall back to the entry
		// wait so the next crossover re-places cleanly
		sym.OrderID = ""
		sym.OrderHMA = 0
		if gateway.IsKind(err, gateway.KindRejected) {
			if terr := e.setStatus(sym, StatusOrderRejected); terr != nil {
				return terr
			}
			return err
		}
		if terr := e.setStatus(sym, StatusWaitingForEntry); terr != nil {
			return terr
		}
		return err
	}

	sym.OrderID = ack.OrderID
	sym.OrderHMA = sym.HMAValue
	sym.LastLimitPrice = newLimit
	sym.ModificationCount++
	sym.ModificationHistory = append(sym.ModificationHistory, OrderModification{
		Timestamp:     e.now(),
		OldOrderID:    oldID,
		NewOrderID:    ack.OrderID,
		OldHMA:        oldHMA,
		NewHMA:        sym.HMAValue,
		OldLimitPrice: oldLimit,
		NewLimitPrice: newLimit,
		Reason:        fmt.Sprintf("hma moved %.2f -> %.2f", oldHMA, sym.HMAValue),
		Type:          "CANCEL_REPLACE",
	})

	e.logger.Info().
		Str("user", state.UserID).
		Str("symbol", sym.ID).
		Str("old_order_id", oldID).
		Str("new_order_id", ack.OrderID).
		Float64("limit", newLimit).
		Int("modification_count", sym.ModificationCount).
		Msg("order replaced at new hma")
	return e.setStatus(sym, StatusOrderModified)
}

// ApplyResult reports what an order event changed
type ApplyResult struct {
	Applied bool
	Exit    *ExitLogEntry
}

// ApplyOrderEvent applies one asynchronous order event to the state.
// Events for unknown or superseded order ids are ignored, which makes
// replay idempotent: applying the same event twice leaves state
// identical to applying it once.
func (e *Engine) ApplyOrderEvent(state *TradingState, ev gateway.OrderEvent) (ApplyResult, error) {
	// Exit fills first: a closing order id lives on the position
	for _, pos := range state.ActivePositions {
		if pos.ExitOrderID == ev.OrderID {
			return e.applyExitEvent(state, pos, ev)
		}
	}

	sym := state.FindSymbolByOrderID(ev.OrderID)
	if sym == nil || !sym.HasLiveOrder() {
		return ApplyResult{}, nil
	}

	switch ev.Type {
	case gateway.EventFilled:
		if err := e.setStatus(sym, StatusExecuted); err != nil {
			return ApplyResult{}, err
		}
		fillPrice := ev.FillPrice
		if fillPrice == 0 {
			fillPrice = sym.LastLimitPrice
		}
		fillTime := ev.Timestamp
		if fillTime.IsZero() {
			fillTime = e.now()
		}
		state.ActivePositions = append(state.ActivePositions, &ActivePosition{
			SymbolID:   sym.ID,
			Instrument: sym.Instrument,
			Side:       entrySide(sym),
			BuyPrice:   fillPrice,
			BuyDate:    fillTime,
			Quantity:   sym.Quantity,
			MarkPrice:  fillPrice,
		})
		sym.OrderID = ""
		sym.OrderHMA = 0
		e.rollDailyCounter(state)
		state.ExecutionFlags.DailyTradeCount++
		e.logger.Info().
			Str("user", state.UserID).
			Str("symbol", sym.ID).
			Float64("fill_price", fillPrice).
			Msg("entry filled, position opened")
		return ApplyResult{Applied: true}, e.setStatus(sym, StatusActivePosition)

	case gateway.EventRejected:
		sym.OrderID = ""
		sym.OrderHMA = 0
		e.logger.Warn().
			Str("symbol", sym.ID).
			Str("reason", ev.Reason).
			Msg("order rejected by broker")
		return ApplyResult{Applied: true}, e.setStatus(sym, StatusOrderRejected)

	case gateway.EventCancelled:
		// Externally cancelled with no replacement in flight: re-arm
		sym.OrderID = ""
		sym.OrderHMA = 0
		return ApplyResult{Applied: true}, e.setStatus(sym, StatusWaitingForEntry)
	}

	return ApplyResult{}, nil
}

// applyExitEvent settles a closing order's terminal event
func (e *Engine) applyExitEvent(state *TradingState, pos *ActivePosition, ev gateway.OrderEvent) (ApplyResult, error) {
	switch ev.Type {
	case gateway.EventFilled:
		exitPrice := ev.FillPrice
		if exitPrice == 0 {
			exitPrice = pos.MarkPrice
		}
		exitTime := ev.Timestamp
		if exitTime.IsZero() {
			exitTime = e.now()
		}
		entry, err := e.CompleteExit(state, pos.SymbolID, exitPrice, exitTime, pos.PendingExitReason)
		if err != nil {
			return ApplyResult{}, err
		}
		return ApplyResult{Applied: true, Exit: entry}, nil

	case gateway.EventRejected, gateway.EventCancelled:
		// Closing order died; the accountant re-triggers on the next pass
		pos.ExitOrderID = ""
		pos.PendingExitReason = ""
		e.logger.Warn().
			Str("symbol", pos.SymbolID).
			Str("event", string(ev.Type)).
			Msg("exit order did not fill, will re-evaluate")
		return ApplyResult{Applied: true}, nil
	}
	return ApplyResult{}, nil
}

// CompleteExit closes a position: appends nothing itself but returns the
// immutable exit record for the caller to persist, removes the position,
// and runs the re-entry bookkeeping on the owning symbol.
func (e *Engine) CompleteExit(state *TradingState, symbolID string, exitPrice float64, exitAt time.Time, reason string) (*ExitLogEntry, error) {
	pos := state.FindPosition(symbolID)
	if pos == nil {
		return nil, fmt.Errorf("%w: no active position for %s", ErrSymbolNotFound, symbolID)
	}

	pnl := pnlAmount(pos.Side, pos.BuyPrice, exitPrice, pos.Quantity)
	entry := &ExitLogEntry{
		SymbolID:    pos.SymbolID,
		Instrument:  pos.Instrument,
		Side:        pos.Side,
		EntryPrice:  pos.BuyPrice,
		EntryDate:   pos.BuyDate,
		ExitPrice:   exitPrice,
		ExitDate:    exitAt,
		Quantity:    pos.Quantity,
		HoldingDays: calendarDays(pos.BuyDate, exitAt),
		PnLAmount:   pnl,
		PnLPercent:  pnlPercent(pos.Side, pos.BuyPrice, exitPrice),
		Reason:      reason,
	}
	state.RemovePosition(symbolID)

	sym := state.FindSymbol(symbolID)
	if sym != nil && sym.TriggerStatus == StatusActivePosition {
		if sym.ReEntryCount < sym.MaxReEntries {
			sym.ReEntryCount++
			if err := e.setStatus(sym, StatusWaitingReentry); err != nil {
				return entry, err
			}
		} else {
			if err := e.setStatus(sym, StatusCancelled); err != nil {
				return entry, err
			}
		}
	}

	e.logger.Info().
		Str("user", state.UserID).
		Str("symbol", symbolID).
		Float64("exit_price", exitPrice).
		Float64("pnl", pnl).
		Str("reason", reason).
		Msg("position closed")
	return entry, nil
}

// RecoverOrders reconciles every outstanding order id against the
// gateway. Push events and the sweep converge on the same classification
// because both flow through ApplyOrderEvent.
func (e *Engine) RecoverOrders(ctx context.Context, state *TradingState) ([]*ExitLogEntry, error) {
	var ids []string
	for _, sym := range state.MonitoredSymbols {
		if sym.HasLiveOrder() {
			ids = append(ids, sym.OrderID)
		}
	}
	for _, pos := range state.ActivePositions {
		if pos.ExitOrderID != "" {
			ids = append(ids, pos.ExitOrderID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	events, err := e.gw.RecoverOrderStatuses(ctx, state.UserID, ids)
	if err != nil {
		return nil, err
	}

	var exits []*ExitLogEntry
	for _, ev := range events {
		result, applyErr := e.ApplyOrderEvent(state, ev)
		if applyErr != nil {
			return exits, applyErr
		}
		if result.Exit != nil {
			exits = append(exits, result.Exit)
		}
	}
	e.logger.Info().
		Str("user", state.UserID).
		Int("orders", len(ids)).
		Int("events", len(events)).
		Msg("recovery sweep applied")
	return exits, nil
}

// ConfirmReversalOverride skips the remaining confirmation cycles. The
// override is stamped with the operator's reason.
func (e *Engine) ConfirmReversalOverride(state *TradingState, symbolID, reason string) error {
	sym := state.FindSymbol(symbolID)
	if sym == nil {
		return ErrSymbolNotFound
	}
	if sym.TriggerStatus != StatusConfirmingReversal {
		return fmt.Errorf("%w: %s is %s, not %s", ErrInvalidTransition,
			symbolID, sym.TriggerStatus, StatusConfirmingReversal)
	}
	sym.ManualOverride = true
	sym.OverrideReason = reason
	sym.PendingSignal = nil
	return e.setStatus(sym, StatusWaitingForEntry)
}

// Retrigger re-arms an operator-recoverable rejected symbol
func (e *Engine) Retrigger(state *TradingState, symbolID string) error {
	sym := state.FindSymbol(symbolID)
	if sym == nil {
		return ErrSymbolNotFound
	}
	if sym.TriggerStatus != StatusOrderRejected {
		return fmt.Errorf("%w: retrigger from %s", ErrInvalidTransition, sym.TriggerStatus)
	}
	return e.setStatus(sym, StatusWaiting)
}

// Reset clears the pending signal and returns the symbol to WAITING.
// Refused while an order is live.
func (e *Engine) Reset(state *TradingState, symbolID string) error {
	sym := state.FindSymbol(symbolID)
	if sym == nil {
		return ErrSymbolNotFound
	}
	if sym.HasLiveOrder() {
		return fmt.Errorf("%w: %s", ErrOrderStillLive, sym.OrderID)
	}
	sym.PendingSignal = nil
	sym.OrderID = ""
	sym.OrderHMA = 0
	sym.TriggerStatus = StatusWaiting
	return nil
}

// Cancel stops monitoring a symbol, superseding any live order first
func (e *Engine) Cancel(ctx context.Context, state *TradingState, symbolID string) error {
	sym := state.FindSymbol(symbolID)
	if sym == nil {
		return ErrSymbolNotFound
	}
	if sym.HasLiveOrder() {
		if err := e.gw.CancelOrder(ctx, state.UserID, sym.OrderID); err != nil {
			return err
		}
		sym.OrderID = ""
		sym.OrderHMA = 0
	}
	if sym.TriggerStatus == StatusCancelled {
		return nil
	}
	return e.setStatus(sym, StatusCancelled)
}

// rollDailyCounter resets the daily trade count on date change
func (e *Engine) rollDailyCounter(state *TradingState) {
	today := e.now().Format("2006-01-02")
	if state.ExecutionFlags.DailyCounterDate != today {
		state.ExecutionFlags.DailyCounterDate = today
		state.ExecutionFlags.DailyTradeCount = 0
	}
}

func entrySide(sym *MonitoredSymbol) gateway.OrderSide {
	if sym.Side == "" {
		return gateway.SideBuy
	}
	return sym.Side
}

func pnlAmount(side gateway.OrderSide, entry, exit float64, qty int) float64 {
	if side == gateway.SideSell {
		return (entry - exit) * float64(qty)
	}
	return (exit - entry) * float64(qty)
}

func pnlPercent(side gateway.OrderSide, entry, exit float64) float64 {
	if entry == 0 {
		return 0
	}
	if side == gateway.SideSell {
		return (entry - exit) / entry * 100
	}
	return (exit - entry) / entry * 100
}

// calendarDays counts whole calendar-day boundaries between two times
func calendarDays(from, to time.Time) int {
	f := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())
	t := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, to.Location())
	return int(t.Sub(f).Hours() / 24)
}

// roundToTick snaps a price to the instrument tick size
func roundToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	return math.Round(price/tick) * tick
}
