package api

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

	"golang.org/x/time/rate"

	"github.com/wry5560/PolyHermes-sub002/models"
)

// DataClient reads a trader's activity history from the data API. One client
// is shared by every poller goroutine; the rate limiter keeps the combined
// request rate under the API's ceiling no matter how many leaders are
// watched.
type DataClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// DataTrade is one activity row as the data API reports it.
type DataTrade struct {
	TransactionHash string  `json:"transactionHash"`
	ProxyWallet     string  `json:"proxyWallet"`
	Type            string  `json:"type"` // TRADE, REDEEM, SPLIT, MERGE
	Side            string  `json:"side"`
	ConditionID     string  `json:"conditionId"`
	Asset           string  `json:"asset"` // token id
	OutcomeIndex    int     `json:"outcomeIndex"`
	Size            float64 `json:"size"`
	Price           float64 `json:"price"`
	UsdcSize        float64 `json:"usdcSize"`
	Timestamp       int64   `json:"timestamp"` // unix seconds
	EventSlug       string  `json:"eventSlug"`
	Title           string  `json:"title"`
}

// ID is the dedup identity of this row. The data API has no stable trade id
// field, so the identity is the tx hash qualified by the asset and side; one
// transaction can carry fills on both outcome tokens.
func (t DataTrade) ID() string {
	return fmt.Sprintf("%s:%s:%s", strings.ToLower(t.TransactionHash), t.Asset, t.Side)
}

// Signal converts the row to the engine's signal form.
func (t DataTrade) Signal(leaderID int64) models.TradeSignal {
	return models.TradeSignal{
		LeaderID:     leaderID,
		TradeID:      t.ID(),
		Type:         t.Type,
		Side:         models.Side(strings.ToUpper(t.Side)),
		Market:       t.ConditionID,
		TokenID:      t.Asset,
		OutcomeIndex: t.OutcomeIndex,
		Price:        t.Price,
		Size:         t.Size,
		UsdcSize:     t.UsdcSize,
		TxHash:       strings.ToLower(t.TransactionHash),
		Timestamp:    time.Unix(t.Timestamp, 0),
		Source:       models.SourcePoller,
	}
}

// NewDataClient creates a data API client limited to requestsPerSecond.
func NewDataClient(baseURL string, requestsPerSecond float64) *DataClient {
	if baseURL == "" {
		baseURL = "https://data-api.polymarket.com"
	}
	if requestsPerSecond <= 0 {
		requestsPerSecond = 10
	}
	return &DataClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), int(requestsPerSecond)),
	}
}

// GetTrades returns the wallet's most recent activity, newest first, up to
// limit rows. Blocks on the shared rate limiter before issuing the request.
func (c *DataClient) GetTrades(ctx context.Context, wallet string, limit int) ([]DataTrade, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	values := url.Values{}
	values.Set("user", wallet)
	values.Set("limit", strconv.Itoa(limit))
	values.Set("sortBy", "TIMESTAMP")
	values.Set("sortDirection", "DESC")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/activity?"+values.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("get trades failed: %d %s", resp.StatusCode, string(body))
	}

	var trades []DataTrade
	if err := json.NewDecoder(resp.Body).Decode(&trades); err != nil {
		return nil, fmt.Errorf("decode trades: %w", err)
	}
	return trades, nil
}
