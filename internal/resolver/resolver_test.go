package resolver

import (
	"testing"

	"hma-trading-bot/internal/gateway"
)

// TestResolveDirectMapping verifies a plain table entry resolves as-is
func TestResolveDirectMapping(t *testing.T) {
	r := NewTableResolver(map[string]Entry{
		"NIFTY-FUT": {SymbolTemplate: "NIFTY24SEPFUT", LotSize: 25, TickSize: 0.05},
	})

	inst, err := r.Resolve("NIFTY-FUT", 0)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if inst.Symbol != "NIFTY24SEPFUT" || inst.LotSize != 25 || inst.TickSize != 0.05 {
		t.Errorf("unexpected instrument: %+v", inst)
	}
}

// TestResolveStrikeFromSpotHint verifies strike templating rounds the
// spot to the nearest step
func TestResolveStrikeFromSpotHint(t *testing.T) {
	r := NewTableResolver(map[string]Entry{
		"NIFTY-ATM-CE": {SymbolTemplate: "NIFTY{strike}CE", LotSize: 25, TickSize: 0.05, StrikeStep: 50},
	})

	inst, err := r.Resolve("NIFTY-ATM-CE", 22034)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if inst.Symbol != "NIFTY22050CE" {
		t.Errorf("symbol = %s, want NIFTY22050CE", inst.Symbol)
	}
}

// TestResolveUnknownName verifies the UnresolvedSymbol failure kind
func TestResolveUnknownName(t *testing.T) {
	r := NewTableResolver(nil)

	_, err := r.Resolve("GHOST", 100)
	if !gateway.IsKind(err, gateway.KindUnresolvedSymbol) {
		t.Errorf("err = %v, want UnresolvedSymbol kind", err)
	}
}

// TestResolveStrikeWithoutHint verifies templated names demand a spot hint
func TestResolveStrikeWithoutHint(t *testing.T) {
	r := NewTableResolver(map[string]Entry{
		"NIFTY-ATM-PE": {SymbolTemplate: "NIFTY{strike}PE", LotSize: 25, TickSize: 0.05, StrikeStep: 50},
	})

	_, err := r.Resolve("NIFTY-ATM-PE", 0)
	if !gateway.IsKind(err, gateway.KindUnresolvedSymbol) {
		t.Errorf("err = %v, want UnresolvedSymbol kind", err)
	}
}
