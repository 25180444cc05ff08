package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wry5560/PolyHermes-sub002/models"
)

// MemoryStore is an in-memory EngineStore used by tests and local dry runs.
// A single mutex guards all maps; the claim and match operations get the
// same atomicity the Postgres implementation derives from its constraints.
type MemoryStore struct {
	mu sync.Mutex

	leaders  map[int64]models.Leader
	accounts map[int64]models.FollowerAccount
	configs  map[int64]models.ReplicationConfig

	claims   map[string]models.ProcessedTradeRecord
	lots     map[int64]*models.ReplicaBuyLot
	nextLot  int64
	matches  []models.SellMatchRecord
	details  map[string][]models.SellMatchDetail
	failed   []models.FailedTradeRecord
	filtered []models.FilteredOrderRecord
	tokens   map[string]models.TokenMapping
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		leaders:  make(map[int64]models.Leader),
		accounts: make(map[int64]models.FollowerAccount),
		configs:  make(map[int64]models.ReplicationConfig),
		claims:   make(map[string]models.ProcessedTradeRecord),
		lots:     make(map[int64]*models.ReplicaBuyLot),
		details:  make(map[string][]models.SellMatchDetail),
		tokens:   make(map[string]models.TokenMapping),
	}
}

func (s *MemoryStore) Close() error { return nil }

// Seed helpers for tests; the admin layer owns these records in production.

func (s *MemoryStore) PutLeader(l models.Leader) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaders[l.ID] = l
}

func (s *MemoryStore) PutAccount(a models.FollowerAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a
}

func (s *MemoryStore) PutConfig(c models.ReplicationConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[c.ID] = c
}

func (s *MemoryStore) ListWatchedLeaders(ctx context.Context) ([]models.Leader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	watched := make(map[int64]bool)
	for _, c := range s.configs {
		if c.Enabled {
			watched[c.LeaderID] = true
		}
	}
	out := make([]models.Leader, 0, len(watched))
	for id, l := range s.leaders {
		if watched[id] {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) ListEnabledConfigsForLeader(ctx context.Context, leaderID int64) ([]models.ReplicationConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ReplicationConfig
	for _, c := range s.configs {
		if c.LeaderID == leaderID && c.Enabled {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetConfig(ctx context.Context, configID int64) (*models.ReplicationConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.configs[configID]; ok {
		return &c, nil
	}
	return nil, nil
}

func (s *MemoryStore) SetConfigEnabled(ctx context.Context, configID int64, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.configs[configID]
	if !ok {
		return fmt.Errorf("config %d not found", configID)
	}
	c.Enabled = enabled
	s.configs[configID] = c
	return nil
}

func (s *MemoryStore) GetAccount(ctx context.Context, accountID int64) (*models.FollowerAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[accountID]; ok {
		return &a, nil
	}
	return nil, nil
}

func claimKey(leaderID int64, tradeID string) string {
	return fmt.Sprintf("%d:%s", leaderID, tradeID)
}

func (s *MemoryStore) TryClaimTrade(ctx context.Context, leaderID int64, tradeID, tradeType string, source models.SignalSource) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := claimKey(leaderID, tradeID)
	if _, exists := s.claims[key]; exists {
		return false, nil
	}
	s.claims[key] = models.ProcessedTradeRecord{
		LeaderID:  leaderID,
		TradeID:   tradeID,
		TradeType: tradeType,
		Source:    source,
		Status:    models.TradeOutcomePending,
		CreatedAt: time.Now(),
	}
	return true, nil
}

func (s *MemoryStore) SetTradeOutcome(ctx context.Context, leaderID int64, tradeID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := claimKey(leaderID, tradeID)
	rec, ok := s.claims[key]
	if !ok {
		return fmt.Errorf("trade %s not claimed", key)
	}
	rec.Status = status
	s.claims[key] = rec
	return nil
}

// ClaimCount reports how many trades have been claimed; test helper.
func (s *MemoryStore) ClaimCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.claims)
}

func (s *MemoryStore) InsertBuyLot(ctx context.Context, lot models.ReplicaBuyLot) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextLot++
	lot.ID = s.nextLot
	lot.MatchedQuantity = 0
	lot.RemainingQuantity = lot.Quantity
	lot.Status = models.LotStatusFilled
	if lot.CreatedAt.IsZero() {
		lot.CreatedAt = time.Now()
	}
	s.lots[lot.ID] = &lot
	return lot.ID, nil
}

func (s *MemoryStore) openLotsLocked(configID int64, market string, outcomeIndex int) []*models.ReplicaBuyLot {
	var out []*models.ReplicaBuyLot
	for _, lot := range s.lots {
		if lot.ConfigID == configID && lot.Market == market &&
			lot.OutcomeIndex == outcomeIndex && lot.RemainingQuantity > 0 {
			out = append(out, lot)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *MemoryStore) FindOpenLotsFIFO(ctx context.Context, configID int64, market string, outcomeIndex int) ([]models.ReplicaBuyLot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ReplicaBuyLot
	for _, lot := range s.openLotsLocked(configID, market, outcomeIndex) {
		out = append(out, *lot)
	}
	return out, nil
}

func (s *MemoryStore) OpenPositionTotals(ctx context.Context, configID int64, market string, outcomeIndex int) (float64, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var value float64
	var count int
	for _, lot := range s.openLotsLocked(configID, market, outcomeIndex) {
		value += lot.RemainingQuantity * lot.Price
		count++
	}
	return value, count, nil
}

func (s *MemoryStore) ApplySellMatch(ctx context.Context, rec models.SellMatchRecord, details []models.SellMatchDetail) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate every slice before mutating anything.
	for _, d := range details {
		lot, ok := s.lots[d.LotID]
		if !ok {
			return fmt.Errorf("consume lot %d: not found", d.LotID)
		}
		if lot.RemainingQuantity < d.MatchedQuantity {
			return fmt.Errorf("consume lot %d: remaining quantity changed concurrently", d.LotID)
		}
	}

	for _, d := range details {
		lot := s.lots[d.LotID]
		lot.MatchedQuantity += d.MatchedQuantity
		lot.RemainingQuantity -= d.MatchedQuantity
		if lot.RemainingQuantity <= 0 {
			lot.RemainingQuantity = 0
			lot.Status = models.LotStatusFullyMatched
		} else {
			lot.Status = models.LotStatusPartiallyMatched
		}
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	s.matches = append(s.matches, rec)
	s.details[rec.ID] = append(s.details[rec.ID], details...)
	return nil
}

func (s *MemoryStore) ListOpenLots(ctx context.Context, configID int64) ([]models.ReplicaBuyLot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ReplicaBuyLot
	for _, lot := range s.lots {
		if lot.ConfigID == configID && lot.RemainingQuantity > 0 {
			out = append(out, *lot)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetLot returns a lot by id regardless of status; test helper.
func (s *MemoryStore) GetLot(lotID int64) (models.ReplicaBuyLot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lot, ok := s.lots[lotID]; ok {
		return *lot, true
	}
	return models.ReplicaBuyLot{}, false
}

func (s *MemoryStore) ListMatchHistory(ctx context.Context, configID int64, limit int) ([]models.SellMatchRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SellMatchRecord
	for i := len(s.matches) - 1; i >= 0; i-- {
		if s.matches[i].ConfigID == configID {
			out = append(out, s.matches[i])
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) ListMatchDetails(ctx context.Context, matchID string) ([]models.SellMatchDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.SellMatchDetail(nil), s.details[matchID]...), nil
}

func (s *MemoryStore) SaveFailedTrade(ctx context.Context, rec models.FailedTradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	s.failed = append(s.failed, rec)
	return nil
}

func (s *MemoryStore) SaveFilteredOrder(ctx context.Context, rec models.FilteredOrderRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	s.filtered = append(s.filtered, rec)
	return nil
}

// FailedTrades returns a copy of recorded failures; test helper.
func (s *MemoryStore) FailedTrades() []models.FailedTradeRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.FailedTradeRecord(nil), s.failed...)
}

// FilteredOrders returns a copy of recorded rejections; test helper.
func (s *MemoryStore) FilteredOrders() []models.FilteredOrderRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.FilteredOrderRecord(nil), s.filtered...)
}

func tokenKey(market string, outcomeIndex int) string {
	return fmt.Sprintf("%s:%d", market, outcomeIndex)
}

func (s *MemoryStore) GetTokenMapping(ctx context.Context, market string, outcomeIndex int) (*models.TokenMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.tokens[tokenKey(market, outcomeIndex)]; ok {
		return &m, nil
	}
	return nil, nil
}

func (s *MemoryStore) SaveTokenMapping(ctx context.Context, m models.TokenMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[tokenKey(m.Market, m.OutcomeIndex)] = m
	return nil
}
