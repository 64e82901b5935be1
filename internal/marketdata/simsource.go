package marketdata

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// SimulatedSource serves a random walk around seeded prices, for dry
// runs and local development without a broker connection.
type SimulatedSource struct {
	mu     sync.Mutex
	prices map[string]float64
	rng    *rand.Rand
}

// NewSimulatedSource seeds the walk. Symbols not in the seed map start
// at a default level on first request.
func NewSimulatedSource(seed map[string]float64) *SimulatedSource {
	prices := make(map[string]float64, len(seed))
	for sym, price := range seed {
		prices[sym] = price
	}
	return &SimulatedSource{
		prices: prices,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *SimulatedSource) FetchQuotes(_ context.Context, symbols []string) ([]Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	out := make([]Quote, 0, len(symbols))
	for _, sym := range symbols {
		price := s.step(sym)
		out = append(out, Quote{
			Symbol:    sym,
			Last:      price,
			Bid:       price - 0.05,
			Ask:       price + 0.05,
			Timestamp: now,
		})
	}
	return out, nil
}

func (s *SimulatedSource) FetchCandles(_ context.Context, symbol, timeframe string, bars int) ([]Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := s.current(symbol)
	out := make([]Candle, bars)
	openTime := time.Now().Add(-time.Duration(bars) * 24 * time.Hour)

	// Walk backwards from the live level so history joins the present
	level := base - float64(bars)*0.1
	for i := 0; i < bars; i++ {
		move := (s.rng.Float64() - 0.45) * 2
		open := level
		level += move
		out[i] = Candle{
			Symbol:    symbol,
			Timeframe: timeframe,
			Open:      open,
			High:      maxFloat(open, level) + s.rng.Float64(),
			Low:       minFloat(open, level) - s.rng.Float64(),
			Close:     level,
			Volume:    float64(1000 + s.rng.Intn(9000)),
			OpenTime:  openTime.Add(time.Duration(i) * 24 * time.Hour),
		}
	}
	return out, nil
}

func (s *SimulatedSource) current(symbol string) float64 {
	price, ok := s.prices[symbol]
	if !ok {
		price = 1000
		s.prices[symbol] = price
	}
	return price
}

func (s *SimulatedSource) step(symbol string) float64 {
	price := s.current(symbol)
	price += (s.rng.Float64() - 0.5) * price * 0.001
	s.prices[symbol] = price
	return price
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
