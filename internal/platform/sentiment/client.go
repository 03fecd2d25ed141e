// Package sentiment is the HTTP client for the sentiment-scores API, which
// serves per-market model sentiment readings.
package sentiment

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

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// Client fetches sentiment observations over REST.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new sentiment API client.
//
// baseURL is the API root, e.g. "https://scores.example.com/v1".
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// scoreDTO is one sentiment reading as served by the API.
type scoreDTO struct {
	MarketID   string  `json:"market_id"`
	Model      string  `json:"model"`
	Score      float64 `json:"score"`      // [-1,1]
	Confidence float64 `json:"confidence"` // [0,1]
	ObservedAt int64   `json:"observed_at"`
}

func (d scoreDTO) toDomain() domain.SentimentObservation {
	return domain.SentimentObservation{
		MarketID:   d.MarketID,
		Model:      d.Model,
		Score:      d.Score,
		Confidence: d.Confidence,
		ObservedAt: time.Unix(d.ObservedAt, 0).UTC(),
	}
}

// FetchScores returns observations for one market at or after since.
// Malformed observations are dropped, not surfaced as errors.
func (c *Client) FetchScores(ctx context.Context, marketID string, since time.Time) ([]domain.SentimentObservation, error) {
	params := url.Values{}
	params.Set("market_id", marketID)
	params.Set("since", strconv.FormatInt(since.Unix(), 10))

	body, err := c.doGet(ctx, "/scores?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("sentiment: fetch scores %s: %w", marketID, err)
	}

	var resp struct {
		Scores []scoreDTO `json:"scores"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("sentiment: decode scores: %w", err)
	}

	obs := make([]domain.SentimentObservation, 0, len(resp.Scores))
	for _, d := range resp.Scores {
		o := d.toDomain()
		if !o.Valid() {
			continue
		}
		obs = append(obs, o)
	}
	return obs, nil
}

// FetchBatch returns observations for multiple markets in one request, keyed
// by market ID. Markets with no fresh observations are absent from the map.
func (c *Client) FetchBatch(ctx context.Context, marketIDs []string, since time.Time) (map[string][]domain.SentimentObservation, error) {
	if len(marketIDs) == 0 {
		return map[string][]domain.SentimentObservation{}, nil
	}

	params := url.Values{}
	params.Set("market_ids", strings.Join(marketIDs, ","))
	params.Set("since", strconv.FormatInt(since.Unix(), 10))

	body, err := c.doGet(ctx, "/scores/batch?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("sentiment: fetch batch: %w", err)
	}

	var resp struct {
		Scores []scoreDTO `json:"scores"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("sentiment: decode batch: %w", err)
	}

	out := make(map[string][]domain.SentimentObservation)
	for _, d := range resp.Scores {
		o := d.toDomain()
		if !o.Valid() {
			continue
		}
		out[o.MarketID] = append(out[o.MarketID], o)
	}
	return out, nil
}

// doGet executes a GET request against the sentiment API.
func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}
