package resolver

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"hma-trading-bot/internal/gateway"
)

// Instrument is a tradable contract resolved from a logical name
type Instrument struct {
	Symbol   string  `json:"symbol"`
	LotSize  int     `json:"lot_size"`
	TickSize float64 `json:"tick_size"`
}

// Entry describes how one logical name maps to a tradable instrument.
// SymbolTemplate may contain "{strike}", filled from the spot hint
// rounded to the nearest StrikeStep.
type Entry struct {
	SymbolTemplate string  `json:"symbol_template"`
	LotSize        int     `json:"lot_size"`
	TickSize       float64 `json:"tick_size"`
	StrikeStep     float64 `json:"strike_step,omitempty"`
}

// Resolver maps logical names to tradable instruments
type Resolver interface {
	Resolve(logicalName string, spotHint float64) (Instrument, error)
}

// TableResolver resolves from a configured mapping table
type TableResolver struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewTableResolver creates a resolver over the given table
func NewTableResolver(entries map[string]Entry) *TableResolver {
	if entries == nil {
		entries = make(map[string]Entry)
	}
	return &TableResolver{entries: entries}
}

// Add registers or replaces one logical name
func (r *TableResolver) Add(logicalName string, entry Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[logicalName] = entry
}

// Resolve maps a logical name to a concrete instrument. Names absent
// from the table fail with the UnresolvedSymbol kind; strike-templated
// names additionally require a positive spot hint.
func (r *TableResolver) Resolve(logicalName string, spotHint float64) (Instrument, error) {
	r.mu.RLock()
	entry, ok := r.entries[logicalName]
	r.mu.RUnlock()

	if !ok {
		return Instrument{}, gateway.NewTradeError(gateway.KindUnresolvedSymbol,
			fmt.Sprintf("no instrument mapping for %q", logicalName), nil)
	}

	symbol := entry.SymbolTemplate
	if strings.Contains(symbol, "{strike}") {
		if spotHint <= 0 || entry.StrikeStep <= 0 {
			return Instrument{}, gateway.NewTradeError(gateway.KindUnresolvedSymbol,
				fmt.Sprintf("%q needs a spot hint to pick a strike", logicalName), nil)
		}
		strike := math.Round(spotHint/entry.StrikeStep) * entry.StrikeStep
		symbol = strings.ReplaceAll(symbol, "{strike}", fmt.Sprintf("%d", int(strike)))
	}

	return Instrument{
		Symbol:   symbol,
		LotSize:  entry.LotSize,
		TickSize: entry.TickSize,
	}, nil
}
