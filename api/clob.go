// Package api contains the engine's external collaborators: the CLOB
// exchange client, the trade-history client, the RPC node pool and the
// multiplexed chain log subscription.
package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/wry5560/PolyHermes-sub002/models"
)

// ClobClient talks to the exchange REST API: order book snapshots, market
// metadata, and authenticated order submission. It holds no per-account
// state; credentials are passed per call so one client serves every
// follower account.
type ClobClient struct {
	baseURL    string
	httpClient *http.Client
}

// OrderBook is a snapshot of one token's book.
type OrderBook struct {
	Market    string           `json:"market"`
	AssetID   string           `json:"asset_id"`
	Timestamp string           `json:"timestamp"`
	Bids      []OrderBookLevel `json:"bids"`
	Asks      []OrderBookLevel `json:"asks"`
}

// OrderBookLevel is a single price level.
type OrderBookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// BestBid returns the highest bid, false when the side is empty.
func (b *OrderBook) BestBid() (float64, bool) {
	return bestLevel(b.Bids, func(best, p float64) bool { return p > best })
}

// BestAsk returns the lowest ask, false when the side is empty.
func (b *OrderBook) BestAsk() (float64, bool) {
	return bestLevel(b.Asks, func(best, p float64) bool { return p < best })
}

func bestLevel(levels []OrderBookLevel, better func(best, p float64) bool) (float64, bool) {
	found := false
	var best float64
	for _, l := range levels {
		p, err := strconv.ParseFloat(l.Price, 64)
		if err != nil || p <= 0 {
			continue
		}
		if !found || better(best, p) {
			best = p
			found = true
		}
	}
	return best, found
}

// Spread returns (bestAsk - bestBid) / bestBid, false when either side is
// empty.
func (b *OrderBook) Spread() (float64, bool) {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if !okBid || !okAsk || bid <= 0 {
		return 0, false
	}
	return (ask - bid) / bid, true
}

// DepthAt sums the share size available on one side of the book.
func (b *OrderBook) DepthAt(side models.Side) float64 {
	levels := b.Asks // a buy consumes asks
	if side == models.SideSell {
		levels = b.Bids
	}
	var depth float64
	for _, l := range levels {
		size, err := strconv.ParseFloat(l.Size, 64)
		if err != nil {
			continue
		}
		depth += size
	}
	return depth
}

// MarketInfo is the CLOB's market metadata.
type MarketInfo struct {
	ConditionID      string          `json:"condition_id"`
	Tokens           []ClobTokenInfo `json:"tokens"`
	MinimumOrderSize string          `json:"minimum_order_size"`
	MinimumTickSize  string          `json:"minimum_tick_size"`
	Category         string          `json:"category"`
	Active           bool            `json:"active"`
	Closed           bool            `json:"closed"`
	NegRisk          bool            `json:"neg_risk"`
}

// ClobTokenInfo is one outcome token within a market.
type ClobTokenInfo struct {
	TokenID string `json:"token_id"`
	Outcome string `json:"outcome"`
	Price   string `json:"price"`
}

// OrderType selects the exchange's matching behavior.
type OrderType string

const (
	// OrderTypeFAK executes immediately and cancels any unfilled remainder,
	// so a replica never rests in the book drifting from the leader's price.
	OrderTypeFAK OrderType = "FAK"
	OrderTypeFOK OrderType = "FOK"
	OrderTypeGTC OrderType = "GTC"
)

// OrderRequest is the POST /order payload.
type OrderRequest struct {
	Order     SignedOrder `json:"order"`
	Owner     string      `json:"owner"`
	OrderType OrderType   `json:"orderType"`
}

// OrderResponse is the exchange's reply to an order submission.
type OrderResponse struct {
	Success     bool     `json:"success"`
	ErrorMsg    string   `json:"errorMsg"`
	OrderID     string   `json:"orderId"`
	OrderHashes []string `json:"orderHashes"`
	Status      string   `json:"status"` // matched, live, delayed, unmatched
}

// NewClobClient creates an exchange client.
func NewClobClient(baseURL string) *ClobClient {
	if baseURL == "" {
		baseURL = "https://clob.polymarket.com"
	}
	return &ClobClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetOrderBook fetches the book for a token.
func (c *ClobClient) GetOrderBook(ctx context.Context, tokenID string) (*OrderBook, error) {
	values := url.Values{}
	values.Set("token_id", tokenID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/book?"+values.Encode(), nil)
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
		return nil, fmt.Errorf("get order book failed: %d %s", resp.StatusCode, string(body))
	}

	var book OrderBook
	if err := json.NewDecoder(resp.Body).Decode(&book); err != nil {
		return nil, fmt.Errorf("decode order book: %w", err)
	}
	return &book, nil
}

// GetMarket fetches market metadata by condition id.
func (c *ClobClient) GetMarket(ctx context.Context, conditionID string) (*MarketInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/markets/"+conditionID, nil)
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
		return nil, fmt.Errorf("get market failed: %d %s", resp.StatusCode, string(body))
	}

	var market MarketInfo
	if err := json.NewDecoder(resp.Body).Decode(&market); err != nil {
		return nil, fmt.Errorf("decode market: %w", err)
	}
	return &market, nil
}

// PostOrder submits a signed order under the account's L2 credentials.
func (c *ClobClient) PostOrder(ctx context.Context, order *SignedOrder, orderType OrderType, creds models.Credentials) (*OrderResponse, error) {
	if order == nil {
		return nil, fmt.Errorf("order required")
	}

	payload := OrderRequest{
		Order:     *order,
		Owner:     creds.APIKey,
		OrderType: orderType,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/order", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.setL2Headers(req, creds, order.Signer, http.MethodPost, "/order", body)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("post order failed: %d %s", resp.StatusCode, string(respBody))
	}

	var orderResp OrderResponse
	if err := json.Unmarshal(respBody, &orderResp); err != nil {
		return nil, fmt.Errorf("decode order response: %w", err)
	}
	return &orderResp, nil
}

// setL2Headers signs the request with the account's API credentials.
// Canonical message: timestamp + method + path + body.
func (c *ClobClient) setL2Headers(req *http.Request, creds models.Credentials, address, method, path string, body []byte) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)

	message := timestamp + method + path
	if body != nil {
		message += string(body)
	}
	signature := hmacSign(message, creds.APISecret)

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("POLY_ADDRESS", address)
	req.Header.Set("POLY_API_KEY", creds.APIKey)
	req.Header.Set("POLY_PASSPHRASE", creds.Passphrase)
	req.Header.Set("POLY_TIMESTAMP", timestamp)
	req.Header.Set("POLY_SIGNATURE", signature)
}

func hmacSign(message, secret string) string {
	// Secrets arrive URL-safe base64 encoded; fall back to standard, then raw.
	key, err := base64.URLEncoding.DecodeString(secret)
	if err != nil {
		key, err = base64.StdEncoding.DecodeString(secret)
		if err != nil {
			key = []byte(secret)
		}
	}

	h := hmac.New(sha256.New, key)
	h.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(h.Sum(nil))
}
