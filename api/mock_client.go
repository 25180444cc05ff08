package api

import (
	"context"
	"fmt"
	"sync"

	"github.com/wry5560/PolyHermes-sub002/models"
)

// ExchangeClient is the slice of the CLOB client the engine uses.
type ExchangeClient interface {
	GetOrderBook(ctx context.Context, tokenID string) (*OrderBook, error)
	GetMarket(ctx context.Context, conditionID string) (*MarketInfo, error)
	PostOrder(ctx context.Context, order *SignedOrder, orderType OrderType, creds models.Credentials) (*OrderResponse, error)
}

// TradeHistoryClient is the slice of the data API client the poller uses.
type TradeHistoryClient interface {
	GetTrades(ctx context.Context, wallet string, limit int) ([]DataTrade, error)
}

var (
	_ ExchangeClient     = (*ClobClient)(nil)
	_ ExchangeClient     = (*MockExchange)(nil)
	_ TradeHistoryClient = (*DataClient)(nil)
	_ TradeHistoryClient = (*MockTradeHistory)(nil)
)

// MockExchange is a settable in-memory exchange for tests.
type MockExchange struct {
	mu sync.Mutex

	Books   map[string]*OrderBook  // by token id
	Markets map[string]*MarketInfo // by condition id

	// PostResponse is returned for every submission unless PostErrs still
	// has entries, which are consumed first, one per call.
	PostResponse *OrderResponse
	PostErrs     []error

	Posted []PostedOrder
}

// PostedOrder records one submission the mock received.
type PostedOrder struct {
	Order     SignedOrder
	OrderType OrderType
	APIKey    string
}

// NewMockExchange creates an empty mock exchange.
func NewMockExchange() *MockExchange {
	return &MockExchange{
		Books:        make(map[string]*OrderBook),
		Markets:      make(map[string]*MarketInfo),
		PostResponse: &OrderResponse{Success: true, Status: "matched", OrderID: "mock-order"},
	}
}

// SetBook installs a book with the given bid and ask levels.
func (m *MockExchange) SetBook(tokenID string, bids, asks []OrderBookLevel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Books[tokenID] = &OrderBook{AssetID: tokenID, Bids: bids, Asks: asks}
}

func (m *MockExchange) GetOrderBook(ctx context.Context, tokenID string) (*OrderBook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if book, ok := m.Books[tokenID]; ok {
		return book, nil
	}
	return nil, fmt.Errorf("no book for token %s", tokenID)
}

func (m *MockExchange) GetMarket(ctx context.Context, conditionID string) (*MarketInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if market, ok := m.Markets[conditionID]; ok {
		return market, nil
	}
	return nil, fmt.Errorf("no market %s", conditionID)
}

func (m *MockExchange) PostOrder(ctx context.Context, order *SignedOrder, orderType OrderType, creds models.Credentials) (*OrderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Posted = append(m.Posted, PostedOrder{Order: *order, OrderType: orderType, APIKey: creds.APIKey})
	if len(m.PostErrs) > 0 {
		err := m.PostErrs[0]
		m.PostErrs = m.PostErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return m.PostResponse, nil
}

// PostedOrders returns a copy of recorded submissions.
func (m *MockExchange) PostedOrders() []PostedOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PostedOrder(nil), m.Posted...)
}

// MockTradeHistory serves canned activity rows per wallet.
type MockTradeHistory struct {
	mu     sync.Mutex
	Trades map[string][]DataTrade // by lowercase wallet
	Calls  int
}

// NewMockTradeHistory creates an empty mock history.
func NewMockTradeHistory() *MockTradeHistory {
	return &MockTradeHistory{Trades: make(map[string][]DataTrade)}
}

// SetTrades installs the rows returned for a wallet, newest first.
func (m *MockTradeHistory) SetTrades(wallet string, trades []DataTrade) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Trades[wallet] = trades
}

func (m *MockTradeHistory) GetTrades(ctx context.Context, wallet string, limit int) ([]DataTrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	trades := m.Trades[wallet]
	if limit > 0 && len(trades) > limit {
		trades = trades[:limit]
	}
	return append([]DataTrade(nil), trades...), nil
}
