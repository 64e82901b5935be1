package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// HTTPGateway talks to the broker's REST order API. Requests carry an
// HMAC-SHA256 signature over the request body plus timestamp.
type HTTPGateway struct {
	baseURL    string
	apiKey     string
	secretKey  string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewHTTPGateway creates the broker order client
func NewHTTPGateway(baseURL, apiKey, secretKey string, callTimeout time.Duration, logger zerolog.Logger) *HTTPGateway {
	if callTimeout <= 0 {
		callTimeout = 10 * time.Second
	}
	return &HTTPGateway{
		baseURL:    baseURL,
		apiKey:     apiKey,
		secretKey:  secretKey,
		httpClient: &http.Client{Timeout: callTimeout},
		logger:     logger,
	}
}

type orderResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
}

// PlaceOrder submits one order and returns the broker's ack
func (g *HTTPGateway) PlaceOrder(ctx context.Context, spec OrderSpec) (OrderAck, error) {
	body, err := json.Marshal(spec)
	if err != nil {
		return OrderAck{}, NewTradeError(KindTransient, "failed to encode order", err)
	}

	raw, err := g.do(ctx, http.MethodPost, "/api/v1/orders", body)
	if err != nil {
		return OrderAck{}, err
	}

	var resp orderResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return OrderAck{}, NewTradeError(KindTransient, "failed to decode order ack", err)
	}
	if resp.Status == "REJECTED" {
		return OrderAck{}, NewTradeError(KindRejected,
			fmt.Sprintf("order rejected: %s", resp.Reason), nil)
	}

	return OrderAck{
		OrderID:  resp.OrderID,
		Status:   resp.Status,
		PlacedAt: time.Now(),
	}, nil
}

// CancelOrder cancels a live order. Cancelling an already-terminal order
// surfaces as KindInconsistentState for the recovery sweep to resolve.
func (g *HTTPGateway) CancelOrder(ctx context.Context, userID, orderID string) error {
	path := fmt.Sprintf("/api/v1/orders/%s?user=%s", url.PathEscape(orderID), url.QueryEscape(userID))
	_, err := g.do(ctx, http.MethodDelete, path, nil)
	return err
}

// RecoverOrderStatuses fetches the terminal status of the given orders
func (g *HTTPGateway) RecoverOrderStatuses(ctx context.Context, userID string, orderIDs []string) ([]OrderEvent, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"user_id":   userID,
		"order_ids": orderIDs,
	})
	if err != nil {
		return nil, NewTradeError(KindTransient, "failed to encode status query", err)
	}

	raw, err := g.do(ctx, http.MethodPost, "/api/v1/orders/status", payload)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Events []OrderEvent `json:"events"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, NewTradeError(KindTransient, "failed to decode order statuses", err)
	}
	return resp.Events, nil
}

// do executes one signed request and classifies failures
func (g *HTTPGateway) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, NewTradeError(KindTransient, "failed to build request", err)
	}

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", g.apiKey)
	req.Header.Set("X-Timestamp", timestamp)
	req.Header.Set("X-Signature", g.sign(append(body, []byte(timestamp)...)))

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, NewTradeError(KindTransient, "broker request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewTradeError(KindTransient, "failed to read broker response", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return raw, nil
	}
	return nil, g.classifyStatus(resp.StatusCode, raw)
}

// classifyStatus maps a broker HTTP error onto a TradeError kind
func (g *HTTPGateway) classifyStatus(status int, body []byte) error {
	message := fmt.Sprintf("broker returned %d: %s", status, string(body))
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewTradeError(KindAuthExpired, message, nil)
	case status == http.StatusTooManyRequests:
		return NewTradeError(KindRateLimited, message, nil)
	case status == http.StatusNotFound:
		return NewTradeError(KindInconsistentState, message, nil)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return NewTradeError(KindRejected, message, nil)
	default:
		return NewTradeError(KindTransient, message, nil)
	}
}

func (g *HTTPGateway) sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(g.secretKey))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
