package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"hma-trading-bot/internal/gateway"
)

// HTTPSource fetches quotes and candles from the broker's market-data
// REST API. Failures are classified into gateway error kinds so the
// retry and circuit logic upstream can act on them.
type HTTPSource struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPSource creates the market-data client. bulkTimeout covers
// candle-history backfills, which run longer than live quote calls.
func NewHTTPSource(baseURL, apiKey string, bulkTimeout time.Duration) *HTTPSource {
	if bulkTimeout <= 0 {
		bulkTimeout = 2 * time.Minute
	}
	return &HTTPSource{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: bulkTimeout},
	}
}

func (s *HTTPSource) FetchQuotes(ctx context.Context, symbols []string) ([]Quote, error) {
	params := url.Values{}
	params.Set("symbols", strings.Join(symbols, ","))

	raw, err := s.get(ctx, "/api/v1/quotes?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var resp struct {
		Quotes []Quote `json:"quotes"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, gateway.NewTradeError(gateway.KindTransient, "failed to decode quotes", err)
	}
	return resp.Quotes, nil
}

func (s *HTTPSource) FetchCandles(ctx context.Context, symbol, timeframe string, bars int) ([]Candle, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("timeframe", timeframe)
	params.Set("bars", strconv.Itoa(bars))

	raw, err := s.get(ctx, "/api/v1/candles?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var resp struct {
		Candles []Candle `json:"candles"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, gateway.NewTradeError(gateway.KindTransient, "failed to decode candles", err)
	}
	return resp.Candles, nil
}

func (s *HTTPSource) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return nil, gateway.NewTradeError(gateway.KindTransient, "failed to build request", err)
	}
	req.Header.Set("X-API-Key", s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, gateway.NewTradeError(gateway.KindTransient, "market data request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, gateway.NewTradeError(gateway.KindTransient, "failed to read response", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return raw, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, gateway.NewTradeError(gateway.KindAuthExpired,
			fmt.Sprintf("market data auth failed: %d", resp.StatusCode), nil)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, gateway.NewTradeError(gateway.KindRateLimited,
			"market data rate limited", nil)
	default:
		return nil, gateway.NewTradeError(gateway.KindTransient,
			fmt.Sprintf("market data returned %d: %s", resp.StatusCode, string(raw)), nil)
	}
}
