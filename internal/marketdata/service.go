package marketdata

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"hma-trading-bot/config"
	"hma-trading-bot/internal/gateway"
)

// QuoteService serves quotes and candles cache-first, passing every
// upstream call through the rate governor. Results are shared across
// users; the polled set is the static watchlist plus every live
// monitored instrument, deduplicated into one batch.
type QuoteService struct {
	source   Source
	cache    *QuoteCache
	governor *RateGovernor
	cfg      config.QuoteConfig
	logger   zerolog.Logger

	breakerCooldown time.Duration

	sleep func(time.Duration)
}

// NewQuoteService wires the cache-then-governor-then-source chain
func NewQuoteService(source Source, cache *QuoteCache, governor *RateGovernor, cfg config.QuoteConfig, breakerCooldown time.Duration, logger zerolog.Logger) *QuoteService {
	return &QuoteService{
		source:          source,
		cache:           cache,
		governor:        governor,
		cfg:             cfg,
		breakerCooldown: breakerCooldown,
		logger:          logger,
		sleep:           time.Sleep,
	}
}

// liveTTL returns the quote TTL for a batch. Batches consisting solely
// of watchlist indices get the longer snapshot TTL.
func (s *QuoteService) liveTTL(symbols []string) time.Duration {
	watch := make(map[string]struct{}, len(s.cfg.Watchlist))
	for _, w := range s.cfg.Watchlist {
		watch[w] = struct{}{}
	}
	for _, sym := range symbols {
		if _, ok := watch[sym]; !ok {
			return time.Duration(s.cfg.LiveTTLSeconds) * time.Second
		}
	}
	return time.Duration(s.cfg.SnapshotTTLSeconds) * time.Second
}

// GetQuotes returns fresh-enough quotes for the symbol set, hitting the
// upstream at most once per distinct set per TTL window
func (s *QuoteService) GetQuotes(ctx context.Context, symbols []string) ([]Quote, error) {
	if len(symbols) == 0 {
		return nil, nil
	}

	key := QuoteKey(symbols)
	if cached, ok := s.cache.Get(key, s.liveTTL(symbols)); ok {
		return cached.([]Quote), nil
	}

	if err := s.governor.TryAcquire(); err != nil {
		return nil, err
	}

	quotes, err := s.fetchQuotesWithRetry(ctx, symbols)
	if err != nil {
		return nil, err
	}

	s.cache.Set(key, quotes)
	return quotes, nil
}

// GetQuote returns a single-symbol quote through the batch path
func (s *QuoteService) GetQuote(ctx context.Context, symbol string) (Quote, error) {
	quotes, err := s.GetQuotes(ctx, []string{symbol})
	if err != nil {
		return Quote{}, err
	}
	for _, q := range quotes {
		if q.Symbol == symbol {
			return q, nil
		}
	}
	return Quote{}, gateway.NewTradeError(gateway.KindTransient,
		fmt.Sprintf("no quote returned for %s", symbol), nil)
}

// GetCandles returns candle history for one symbol, cached for hours
func (s *QuoteService) GetCandles(ctx context.Context, symbol, timeframe string, bars int) ([]Candle, error) {
	key := CandleKey(symbol, timeframe)
	ttl := time.Duration(s.cfg.HistoryTTLMinutes) * time.Minute
	if cached, ok := s.cache.Get(key, ttl); ok {
		return cached.([]Candle), nil
	}

	if err := s.governor.TryAcquire(); err != nil {
		return nil, err
	}

	var candles []Candle
	err := s.withRetry(ctx, func() error {
		var fetchErr error
		candles, fetchErr = s.source.FetchCandles(ctx, symbol, timeframe, bars)
		return fetchErr
	})
	if err != nil {
		return nil, err
	}

	s.cache.Set(key, candles)
	return candles, nil
}

// PolledSet merges the watchlist with the monitored instruments into
// one deduplicated, sorted batch
func (s *QuoteService) PolledSet(monitored []string) []string {
	seen := make(map[string]struct{}, len(s.cfg.Watchlist)+len(monitored))
	var out []string
	for _, sym := range s.cfg.Watchlist {
		if _, ok := seen[sym]; !ok {
			seen[sym] = struct{}{}
			out = append(out, sym)
		}
	}
	for _, sym := range monitored {
		if _, ok := seen[sym]; !ok {
			seen[sym] = struct{}{}
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out
}

// GovernorStatus exposes the governor snapshot for the admin API
func (s *QuoteService) GovernorStatus() map[string]interface{} {
	return s.governor.Status()
}

// CacheStats exposes cache counters for the admin API
func (s *QuoteService) CacheStats() map[string]interface{} {
	return s.cache.Stats()
}

func (s *QuoteService) fetchQuotesWithRetry(ctx context.Context, symbols []string) ([]Quote, error) {
	var quotes []Quote
	err := s.withRetry(ctx, func() error {
		var fetchErr error
		quotes, fetchErr = s.source.FetchQuotes(ctx, symbols)
		return fetchErr
	})
	return quotes, err
}

// withRetry runs call with bounded exponential backoff plus jitter.
// Only Transient failures are retried; an upstream RateLimited opens
// the governor circuit and is surfaced immediately.
func (s *QuoteService) withRetry(ctx context.Context, call func() error) error {
	attempts := s.cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	base := time.Duration(s.cfg.RetryBaseMillis) * time.Millisecond
	if base <= 0 {
		base = time.Millisecond
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = call()
		if lastErr == nil {
			return nil
		}

		if gateway.IsKind(lastErr, gateway.KindRateLimited) {
			s.governor.RecordUpstreamBan(s.breakerCooldown)
			s.logger.Warn().Err(lastErr).Msg("upstream rate limit, opening circuit")
			return lastErr
		}
		if !gateway.IsKind(lastErr, gateway.KindTransient) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		delay := base * (1 << (attempt - 1))
		jitter := time.Duration(rand.Int63n(int64(base)))
		s.logger.Debug().Err(lastErr).Int("attempt", attempt).Dur("delay", delay+jitter).
			Msg("transient quote fetch failure, backing off")
		s.sleep(delay + jitter)
	}
	return lastErr
}
