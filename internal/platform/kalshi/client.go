// Package kalshi is the REST and WebSocket client for the Kalshi exchange API.
package kalshi

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// RateLimitKey is the shared sliding-window key for all REST calls. Callers
// configuring the limiter's per-key limits should use this key.
const RateLimitKey = "kalshi_api"

// Client is the REST client for the Kalshi exchange API.
type Client struct {
	baseURL    string
	apiKeyID   string
	privateKey *rsa.PrivateKey
	httpClient *http.Client
	limiter    domain.RateLimiter
}

// NewClient creates a new Kalshi REST client.
//
// baseURL is the API root, e.g. "https://api.elections.kalshi.com/trade-api/v2".
// apiKeyID is the Kalshi API key identifier. A zero timeout falls back to 30s.
func NewClient(baseURL, apiKeyID string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:  baseURL,
		apiKeyID: apiKeyID,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SetRateLimiter installs a distributed rate limiter that every REST call
// waits on before dispatch. A nil limiter disables throttling.
func (c *Client) SetRateLimiter(rl domain.RateLimiter) {
	c.limiter = rl
}

// SetPrivateKey configures the client with an already-parsed RSA key.
func (c *Client) SetPrivateKey(key *rsa.PrivateKey) {
	c.privateKey = key
}

// SetRSAPrivateKey loads an RSA private key from PEM-encoded bytes and
// configures the client for RSA-signed authentication.
func (c *Client) SetRSAPrivateKey(pemBytes []byte) error {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return fmt.Errorf("kalshi: no PEM block found in private key")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		// Try PKCS1 as fallback.
		pkcs1Key, pkcs1Err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if pkcs1Err != nil {
			return fmt.Errorf("kalshi: parse private key: %w (pkcs1: %v)", err, pkcs1Err)
		}
		c.privateKey = pkcs1Key
		return nil
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return fmt.Errorf("kalshi: expected RSA private key, got %T", key)
	}
	c.privateKey = rsaKey
	return nil
}

// GetMarkets returns one page of Kalshi markets plus the cursor for the next
// page. An empty cursor means the listing is exhausted.
func (c *Client) GetMarkets(ctx context.Context, limit int, cursor, status string) ([]KalshiMarket, string, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	if status != "" {
		params.Set("status", status)
	}

	path := "/markets"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	body, err := c.doSignedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, "", fmt.Errorf("kalshi: get markets: %w", err)
	}

	var resp struct {
		Markets []KalshiMarket `json:"markets"`
		Cursor  string         `json:"cursor"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, "", fmt.Errorf("kalshi: decode markets: %w", err)
	}

	return resp.Markets, resp.Cursor, nil
}

// GetMarket returns a single market by its ticker.
func (c *Client) GetMarket(ctx context.Context, ticker string) (KalshiMarket, error) {
	path := fmt.Sprintf("/markets/%s", url.PathEscape(ticker))

	body, err := c.doSignedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return KalshiMarket{}, fmt.Errorf("kalshi: get market %s: %w", ticker, err)
	}

	var resp struct {
		Market KalshiMarket `json:"market"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return KalshiMarket{}, fmt.Errorf("kalshi: decode market: %w", err)
	}

	return resp.Market, nil
}

// GetEvents returns one page of Kalshi events plus the next-page cursor.
// Events carry the mutually_exclusive flag that drives probability-sum
// arbitrage detection.
func (c *Client) GetEvents(ctx context.Context, limit int, cursor string) ([]KalshiEvent, string, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}

	path := "/events"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	body, err := c.doSignedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, "", fmt.Errorf("kalshi: get events: %w", err)
	}

	var resp struct {
		Events []KalshiEvent `json:"events"`
		Cursor string        `json:"cursor"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, "", fmt.Errorf("kalshi: decode events: %w", err)
	}

	return resp.Events, resp.Cursor, nil
}

// GetCandlesticks returns historical price candles for a market between the
// two Unix timestamps, at the given period in minutes.
func (c *Client) GetCandlesticks(ctx context.Context, ticker string, startTs, endTs int64, periodMinutes int) ([]KalshiCandle, error) {
	params := url.Values{}
	params.Set("start_ts", strconv.FormatInt(startTs, 10))
	params.Set("end_ts", strconv.FormatInt(endTs, 10))
	if periodMinutes > 0 {
		params.Set("period_interval", strconv.Itoa(periodMinutes))
	}

	path := fmt.Sprintf("/markets/%s/candlesticks?%s", url.PathEscape(ticker), params.Encode())

	body, err := c.doSignedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("kalshi: get candlesticks %s: %w", ticker, err)
	}

	var resp struct {
		Candlesticks []KalshiCandle `json:"candlesticks"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("kalshi: decode candlesticks: %w", err)
	}

	return resp.Candlesticks, nil
}

// GetBalance returns the portfolio's available balance in cents.
func (c *Client) GetBalance(ctx context.Context) (int64, error) {
	body, err := c.doSignedRequest(ctx, http.MethodGet, "/portfolio/balance", nil)
	if err != nil {
		return 0, fmt.Errorf("kalshi: get balance: %w", err)
	}

	var resp struct {
		Balance int64 `json:"balance"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("kalshi: decode balance: %w", err)
	}

	return resp.Balance, nil
}

// CreateOrder submits a new order. The order's ClientOrderID makes the call
// idempotent on the venue side: resubmitting with the same ID can never
// produce a second fill.
func (c *Client) CreateOrder(ctx context.Context, order KalshiOrder) (KalshiOrderState, error) {
	body, err := c.doSignedRequest(ctx, http.MethodPost, "/portfolio/orders", order)
	if err != nil {
		return KalshiOrderState{}, fmt.Errorf("kalshi: create order: %w", err)
	}

	var resp struct {
		Order KalshiOrderState `json:"order"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return KalshiOrderState{}, fmt.Errorf("kalshi: decode order response: %w", err)
	}

	return resp.Order, nil
}

// GetOrder returns the current state of an order by its venue ID.
func (c *Client) GetOrder(ctx context.Context, orderID string) (KalshiOrderState, error) {
	path := fmt.Sprintf("/portfolio/orders/%s", url.PathEscape(orderID))

	body, err := c.doSignedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return KalshiOrderState{}, fmt.Errorf("kalshi: get order %s: %w", orderID, err)
	}

	var resp struct {
		Order KalshiOrderState `json:"order"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return KalshiOrderState{}, fmt.Errorf("kalshi: decode order: %w", err)
	}

	return resp.Order, nil
}

// CancelOrder cancels an existing order by its venue ID.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	path := fmt.Sprintf("/portfolio/orders/%s", url.PathEscape(orderID))

	_, err := c.doSignedRequest(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return fmt.Errorf("kalshi: cancel order %s: %w", orderID, err)
	}

	return nil
}

// GetExchangeStatus reports whether the exchange currently accepts trading.
func (c *Client) GetExchangeStatus(ctx context.Context) (KalshiExchangeStatus, error) {
	body, err := c.doSignedRequest(ctx, http.MethodGet, "/exchange/status", nil)
	if err != nil {
		return KalshiExchangeStatus{}, fmt.Errorf("kalshi: get exchange status: %w", err)
	}

	var resp KalshiExchangeStatus
	if err := json.Unmarshal(body, &resp); err != nil {
		return KalshiExchangeStatus{}, fmt.Errorf("kalshi: decode exchange status: %w", err)
	}

	return resp, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doSignedRequest builds, signs (RSA), sends, and reads an HTTP request
// against the Kalshi API, waiting on the rate limiter first if one is set.
func (c *Client) doSignedRequest(ctx context.Context, method, path string, reqBody any) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, RateLimitKey); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	fullURL := c.baseURL + path

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	// Sign the request with RSA.
	if err := c.signRequest(req, method, path); err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := c.checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}

	return respBody, nil
}

// signRequest adds RSA authentication headers to the HTTP request.
// Kalshi uses RSA-PSS-SHA256 signatures over the timestamp + method + path
// message string.
func (c *Client) signRequest(req *http.Request, method, path string) error {
	if c.privateKey == nil {
		// If no RSA key is set, we cannot sign. This is a configuration error.
		return fmt.Errorf("kalshi: RSA private key not configured")
	}

	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)

	// The message to sign is: timestamp + method + path
	message := ts + method + path

	hash := sha256.Sum256([]byte(message))
	signature, err := rsa.SignPSS(rand.Reader, c.privateKey, crypto.SHA256, hash[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		return fmt.Errorf("RSA sign: %w", err)
	}

	encodedSig := base64.StdEncoding.EncodeToString(signature)

	req.Header.Set("KALSHI-ACCESS-KEY", c.apiKeyID)
	req.Header.Set("KALSHI-ACCESS-SIGNATURE", encodedSig)
	req.Header.Set("KALSHI-ACCESS-TIMESTAMP", ts)

	return nil
}

// checkStatus maps non-2xx HTTP status codes to appropriate errors.
func (c *Client) checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr KalshiErrorResponse
	_ = json.Unmarshal(body, &apiErr)

	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("kalshi: not found: %s (%s)", apiErr.Message, apiErr.Code)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("kalshi: unauthorized: %s (%s)", apiErr.Message, apiErr.Code)
	case http.StatusTooManyRequests:
		return fmt.Errorf("kalshi: rate limited: %s (%s)", apiErr.Message, apiErr.Code)
	case http.StatusBadRequest:
		return fmt.Errorf("kalshi: bad request: %s (%s)", apiErr.Message, apiErr.Code)
	case http.StatusConflict:
		return fmt.Errorf("kalshi: conflict: %s (%s)", apiErr.Message, apiErr.Code)
	default:
		return fmt.Errorf("kalshi: HTTP %d: %s (%s)", statusCode, apiErr.Message, apiErr.Code)
	}
}
