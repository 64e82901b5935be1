package accountant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"hma-trading-bot/internal/engine"
	"hma-trading-bot/internal/gateway"
	"hma-trading-bot/internal/marketdata"
)

// Exit reasons recorded on the closed-trade log
const (
	ReasonStopLoss = "STOP_LOSS"
	ReasonTarget   = "TARGET"
	ReasonTimeExit = "TIME_EXIT"
)

// Accountant refreshes open positions against the quote cache and
// places exit orders when a close condition is met. Exit fills settle
// through the same order-event path as entries.
type Accountant struct {
	gw     gateway.OrderGateway
	quotes *marketdata.QuoteService
	logger zerolog.Logger

	now func() time.Time
}

// NewAccountant creates the position accountant
func NewAccountant(gw gateway.OrderGateway, quotes *marketdata.QuoteService, logger zerolog.Logger) *Accountant {
	return &Accountant{
		gw:     gw,
		quotes: quotes,
		logger: logger,
		now:    time.Now,
	}
}

// SetNowFunc replaces the time source, for deterministic tests
func (a *Accountant) SetNowFunc(now func() time.Time) {
	a.now = now
}

// EvaluatePositions runs one accounting pass over every active position:
// refresh the mark, recompute PnL and holding days, ratchet the stop,
// and fire the first exit condition in priority order
// stop > target > time.
func (a *Accountant) EvaluatePositions(ctx context.Context, state *engine.TradingState) error {
	for _, pos := range state.ActivePositions {
		if pos.ExitOrderID != "" {
			continue // close already in flight
		}

		quote, err := a.quotes.GetQuote(ctx, pos.Instrument)
		if err != nil {
			if gateway.IsKind(err, gateway.KindRateLimited) || errors.Is(err, marketdata.ErrRateLimitExceeded) {
				return err
			}
			a.logger.Warn().Err(err).
				Str("instrument", pos.Instrument).
				Msg("mark refresh failed, skipping position this cycle")
			continue
		}

		a.refreshPosition(pos, quote.Last)

		sym := state.FindSymbol(pos.SymbolID)
		reason := a.exitReason(pos, sym)
		if reason == "" {
			continue
		}

		if err := a.placeExitOrder(ctx, state, pos, reason); err != nil {
			a.logger.Error().Err(err).
				Str("symbol", pos.SymbolID).
				Str("reason", reason).
				Msg("exit order failed, will retry next cycle")
			if gateway.IsKind(err, gateway.KindRateLimited) || gateway.IsKind(err, gateway.KindAuthExpired) {
				return err
			}
		}
	}
	return nil
}

// refreshPosition updates mark-derived fields
func (a *Accountant) refreshPosition(pos *engine.ActivePosition, mark float64) {
	pos.MarkPrice = mark

	qty := float64(pos.Quantity)
	if pos.Side == gateway.SideSell {
		pos.PnLAmount = (pos.BuyPrice - mark) * qty
	} else {
		pos.PnLAmount = (mark - pos.BuyPrice) * qty
	}
	if pos.BuyPrice != 0 {
		pos.PnLPercent = pos.PnLAmount / (pos.BuyPrice * qty) * 100
	}
	pos.HoldingDays = calendarDays(pos.BuyDate, a.now())
}

// exitReason evaluates the close conditions in fixed priority
func (a *Accountant) exitReason(pos *engine.ActivePosition, sym *engine.MonitoredSymbol) string {
	var trailing engine.TrailingConfig
	var stopPoints, targetPoints float64
	var timeExit engine.TimeExitConfig
	if sym != nil {
		trailing = sym.Trailing
		stopPoints = sym.StopLossPoints
		targetPoints = sym.TargetPoints
		timeExit = sym.TimeExit
	}

	UpdateStopLevel(pos, trailing, stopPoints)

	if StopHit(pos) {
		return ReasonStopLoss
	}
	if TargetHit(pos, targetPoints) {
		return ReasonTarget
	}
	if a.timeExitDue(pos, timeExit) {
		return ReasonTimeExit
	}
	return ""
}

// timeExitDue checks the clock-based close: elapsed minutes in the trade
// or a fixed HH:MM wall time
func (a *Accountant) timeExitDue(pos *engine.ActivePosition, cfg engine.TimeExitConfig) bool {
	if !cfg.Enabled {
		return false
	}
	now := a.now()
	if cfg.Minutes > 0 && now.Sub(pos.BuyDate) >= time.Duration(cfg.Minutes)*time.Minute {
		return true
	}
	if cfg.AtTime != "" {
		if at, err := time.Parse("15:04", cfg.AtTime); err == nil {
			cutoff := time.Date(now.Year(), now.Month(), now.Day(),
				at.Hour(), at.Minute(), 0, 0, now.Location())
			if !now.Before(cutoff) {
				return true
			}
		}
	}
	return false
}

// placeExitOrder submits the closing market order and links it to the
// position so the fill event settles it
func (a *Accountant) placeExitOrder(ctx context.Context, state *engine.TradingState, pos *engine.ActivePosition, reason string) error {
	side := gateway.SideSell
	if pos.Side == gateway.SideSell {
		side = gateway.SideBuy
	}

	ack, err := a.gw.PlaceOrder(ctx, gateway.OrderSpec{
		UserID:        state.UserID,
		Instrument:    pos.Instrument,
		Side:          side,
		Type:          gateway.TypeMarket,
		Quantity:      pos.Quantity,
		ClientOrderID: gateway.NewClientOrderID(),
		Tag:           "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to place exit order for %s: %w", pos.SymbolID, err)
	}

	pos.ExitOrderID = ack.OrderID
	pos.PendingExitReason = reason
	a.logger.Info().
		Str("user", state.UserID).
		Str("symbol", pos.SymbolID).
		Str("order_id", ack.OrderID).
		Str("reason", reason).
		Float64("mark", pos.MarkPrice).
		Msg("exit order placed")
	return nil
}

func calendarDays(from, to time.Time) int {
	f := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())
	t := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, to.Location())
	return int(t.Sub(f).Hours() / 24)
}
