package engine

import (
	"errors"
	"time"

	"hma-trading-bot/internal/gateway"
)

// TriggerStatus is the lifecycle state of a monitored symbol
type TriggerStatus string

const (
	StatusWaiting            TriggerStatus = "WAITING"
	StatusWaitingForEntry    TriggerStatus = "WAITING_FOR_ENTRY"
	StatusWaitingForReversal TriggerStatus = "WAITING_FOR_REVERSAL"
	StatusConfirmingReversal TriggerStatus = "CONFIRMING_REVERSAL"
	StatusOrderPlaced        TriggerStatus = "ORDER_PLACED"
	StatusOrderModified      TriggerStatus = "ORDER_MODIFIED"
	StatusOrderRejected      TriggerStatus = "ORDER_REJECTED"
	StatusExecuted           TriggerStatus = "EXECUTED"
	StatusActivePosition     TriggerStatus = "ACTIVE_POSITION"
	StatusWaitingReentry     TriggerStatus = "WAITING_REENTRY"
	StatusCancelled          TriggerStatus = "CANCELLED"
)

var (
	ErrInvalidTransition = errors.New("invalid trigger status transition")
	ErrSymbolNotFound    = errors.New("monitored symbol not found")
	ErrOrderStillLive    = errors.New("symbol has a live order")
	ErrDailyLimitReached = errors.New("daily trade limit reached")
)

// IsValidTriggerStatus reports whether s is a member of the closed enum
func IsValidTriggerStatus(s TriggerStatus) bool {
	switch s {
	case StatusWaiting, StatusWaitingForEntry, StatusWaitingForReversal,
		StatusConfirmingReversal, StatusOrderPlaced, StatusOrderModified,
		StatusOrderRejected, StatusExecuted, StatusActivePosition,
		StatusWaitingReentry, StatusCancelled:
		return true
	}
	return false
}

// validTransitions is the explicit transition table, checked on every
// status write. EXECUTED is transient: the fill application lands on
// ACTIVE_POSITION within the same pass, so persisted state never holds it.
var validTransitions = map[TriggerStatus][]TriggerStatus{
	StatusWaiting:            {StatusWaitingForEntry, StatusWaitingForReversal, StatusCancelled},
	StatusWaitingForEntry:    {StatusWaitingForReversal, StatusOrderPlaced, StatusCancelled},
	StatusWaitingForReversal: {StatusWaitingForEntry, StatusConfirmingReversal, StatusCancelled},
	StatusConfirmingReversal: {StatusWaitingForEntry, StatusWaitingForReversal, StatusCancelled},
	StatusOrderPlaced:        {StatusOrderModified, StatusExecuted, StatusOrderRejected, StatusWaitingForEntry, StatusCancelled},
	StatusOrderModified:      {StatusOrderModified, StatusExecuted, StatusOrderRejected, StatusWaitingForEntry, StatusCancelled},
	StatusOrderRejected:      {StatusWaiting, StatusCancelled},
	StatusExecuted:           {StatusActivePosition},
	StatusActivePosition:     {StatusWaitingReentry, StatusCancelled},
	StatusWaitingReentry:     {StatusWaitingForReversal, StatusCancelled},
	StatusCancelled:          {},
}

// CanTransition reports whether from → to is allowed by the table
func CanTransition(from, to TriggerStatus) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// SignalKind labels an in-flight entry/reversal decision
type SignalKind string

const (
	SignalReversal SignalKind = "REVERSAL"
	SignalEntry    SignalKind = "ENTRY"
)

// PendingSignal tracks a decision that must persist across cycles before
// it is acted on
type PendingSignal struct {
	Kind       SignalKind `json:"kind"`
	CyclesSeen int        `json:"cycles_seen"`
	StartedAt  time.Time  `json:"started_at"`
}

// TrailingConfig selects the trailing stop scheme. A positive Offset
// trails at a fixed distance; otherwise ActivatePoints/TrailPoints run
// the activate-then-trail scheme.
type TrailingConfig struct {
	Enabled        bool    `json:"enabled"`
	Offset         float64 `json:"offset,omitempty"`
	ActivatePoints float64 `json:"activate_points,omitempty"`
	TrailPoints    float64 `json:"trail_points,omitempty"`
}

// TimeExitConfig closes a position on the clock
type TimeExitConfig struct {
	Enabled bool   `json:"enabled"`
	Minutes int    `json:"minutes,omitempty"`  // Exit after N minutes in the trade
	AtTime  string `json:"at_time,omitempty"`  // Exit at a fixed HH:MM, e.g. square-off
}

// OrderModification is one immutable audit record of a cancel/replace.
// The history is append-only; records are never edited after creation.
type OrderModification struct {
	Timestamp     time.Time `json:"timestamp"`
	OldOrderID    string    `json:"old_order_id"`
	NewOrderID    string    `json:"new_order_id"`
	OldHMA        float64   `json:"old_hma"`
	NewHMA        float64   `json:"new_hma"`
	OldLimitPrice float64   `json:"old_limit_price"`
	NewLimitPrice float64   `json:"new_limit_price"`
	Reason        string    `json:"reason"`
	Type          string    `json:"type"`
}

// MonitoredSymbol is the per-symbol trigger state
type MonitoredSymbol struct {
	ID          string            `json:"id"`
	LogicalName string            `json:"logical_name"`
	Instrument  string            `json:"instrument"`
	Side        gateway.OrderSide `json:"side"`
	Lots        int               `json:"lots"`
	Quantity    int               `json:"quantity"`
	TickSize    float64           `json:"tick_size"`

	TargetPoints   float64        `json:"target_points"`
	StopLossPoints float64        `json:"stop_loss_points"`
	Trailing       TrailingConfig `json:"trailing"`
	TimeExit       TimeExitConfig `json:"time_exit"`
	MaxReEntries   int            `json:"max_re_entries"`
	ReEntryCount   int            `json:"re_entry_count"`

	HMAValue         float64 `json:"hma_value"`
	PreviousHMAValue float64 `json:"previous_hma_value"`
	HMADefined       bool    `json:"hma_defined"`

	// At most one non-terminal order id at any time
	OrderID             string              `json:"order_id,omitempty"`
	OrderHMA            float64             `json:"order_hma,omitempty"`
	LastLimitPrice      float64             `json:"last_limit_price,omitempty"`
	ModificationCount   int                 `json:"modification_count"`
	ModificationHistory []OrderModification `json:"modification_history,omitempty"`

	TriggerStatus  TriggerStatus  `json:"trigger_status"`
	PendingSignal  *PendingSignal `json:"pending_signal,omitempty"`
	ManualOverride bool           `json:"manual_override,omitempty"`
	OverrideReason string         `json:"override_reason,omitempty"`
}

// HasLiveOrder reports whether a broker order may still be open
func (m *MonitoredSymbol) HasLiveOrder() bool {
	return m.OrderID != "" &&
		(m.TriggerStatus == StatusOrderPlaced || m.TriggerStatus == StatusOrderModified)
}

// ActivePosition is an open position created from a fill
type ActivePosition struct {
	SymbolID   string            `json:"symbol_id"`
	Instrument string            `json:"instrument"`
	Side       gateway.OrderSide `json:"side"`
	BuyPrice   float64           `json:"buy_price"`
	BuyDate    time.Time         `json:"buy_date"`
	Quantity   int               `json:"quantity"`

	MarkPrice   float64 `json:"mark_price"`
	PnLAmount   float64 `json:"pnl_amount"`
	PnLPercent  float64 `json:"pnl_percent"`
	HoldingDays int     `json:"holding_days"`

	// Trailing stop bookkeeping
	StopLevel          float64 `json:"stop_level,omitempty"`
	TrailingActivated  bool    `json:"trailing_activated,omitempty"`
	HighWaterMark      float64 `json:"high_water_mark,omitempty"`

	// Exit in flight: the closing order id and its trigger reason
	ExitOrderID       string `json:"exit_order_id,omitempty"`
	PendingExitReason string `json:"pending_exit_reason,omitempty"`
}

// ExitLogEntry is one immutable closed-trade record
type ExitLogEntry struct {
	SymbolID    string            `json:"symbol_id"`
	Instrument  string            `json:"instrument"`
	Side        gateway.OrderSide `json:"side"`
	EntryPrice  float64           `json:"entry_price"`
	EntryDate   time.Time         `json:"entry_date"`
	ExitPrice   float64           `json:"exit_price"`
	ExitDate    time.Time         `json:"exit_date"`
	Quantity    int               `json:"quantity"`
	HoldingDays int               `json:"holding_days"`
	PnLAmount   float64           `json:"pnl_amount"`
	PnLPercent  float64           `json:"pnl_percent"`
	Reason      string            `json:"reason"`
}

// ExecutionFlags is per-user run-state bookkeeping
type ExecutionFlags struct {
	IsMonitoring         bool      `json:"is_monitoring"`
	RequiresReconnect    bool      `json:"requires_reconnect,omitempty"`
	LastIndicatorRefresh time.Time `json:"last_indicator_refresh,omitempty"`
	LastCycleAt          time.Time `json:"last_cycle_at,omitempty"`
	DailyTradeCount      int       `json:"daily_trade_count"`
	DailyCounterDate     string    `json:"daily_counter_date,omitempty"`
}

// TradingState is the whole persisted per-user state. It is owned by
// exactly one user and mutated only under that user's pass.
type TradingState struct {
	UserID           string             `json:"user_id"`
	MonitoredSymbols []*MonitoredSymbol `json:"monitored_symbols"`
	ActivePositions  []*ActivePosition  `json:"active_positions"`
	ExecutionFlags   ExecutionFlags     `json:"execution_flags"`
}

// NewTradingState returns empty state for a user
func NewTradingState(userID string) *TradingState {
	return &TradingState{UserID: userID}
}

// FindSymbol returns the monitored symbol with the given id
func (s *TradingState) FindSymbol(id string) *MonitoredSymbol {
	for _, sym := range s.MonitoredSymbols {
		if sym.ID == id {
			return sym
		}
	}
	return nil
}

// FindSymbolByOrderID returns the symbol owning the given live order id
func (s *TradingState) FindSymbolByOrderID(orderID string) *MonitoredSymbol {
	for _, sym := range s.MonitoredSymbols {
		if sym.OrderID == orderID {
			return sym
		}
	}
	return nil
}

// FindPosition returns the active position for a symbol id
func (s *TradingState) FindPosition(symbolID string) *ActivePosition {
	for _, pos := range s.ActivePositions {
		if pos.SymbolID == symbolID {
			return pos
		}
	}
	return nil
}

// RemovePosition drops the active position for a symbol id
func (s *TradingState) RemovePosition(symbolID string) {
	for i, pos := range s.ActivePositions {
		if pos.SymbolID == symbolID {
			s.ActivePositions = append(s.ActivePositions[:i], s.ActivePositions[i+1:]...)
			return
		}
	}
}

// MonitoredInstruments returns the concrete instruments needing quotes
func (s *TradingState) MonitoredInstruments() []string {
	var out []string
	for _, sym := range s.MonitoredSymbols {
		if sym.TriggerStatus == StatusCancelled {
			continue
		}
		if sym.Instrument != "" {
			out = append(out, sym.Instrument)
		}
	}
	for _, pos := range s.ActivePositions {
		out = append(out, pos.Instrument)
	}
	return out
}
