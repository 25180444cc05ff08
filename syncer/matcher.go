package syncer

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wry5560/PolyHermes-sub002/models"
	"github.com/wry5560/PolyHermes-sub002/storage"
)

// Matcher attributes replica sells to open buy lots, oldest first, and
// realizes P&L per consumed slice. Matching for one (config, market,
// outcome) position runs serialized; the storage layer additionally guards
// each lot's remaining quantity, so a concurrent writer fails the match
// instead of overdrawing a lot.
type Matcher struct {
	store storage.EngineStore

	mu        sync.Mutex
	positions map[string]*sync.Mutex
}

// NewMatcher creates a matcher.
func NewMatcher(store storage.EngineStore) *Matcher {
	return &Matcher{
		store:     store,
		positions: make(map[string]*sync.Mutex),
	}
}

func (m *Matcher) positionLock(configID int64, market string, outcomeIndex int) *sync.Mutex {
	key := fmt.Sprintf("%d:%s:%d", configID, market, outcomeIndex)
	m.mu.Lock()
	defer m.mu.Unlock()
	if lk, ok := m.positions[key]; ok {
		return lk
	}
	lk := &sync.Mutex{}
	m.positions[key] = lk
	return lk
}

// OpenRemaining sums the open lot quantity for a position.
func (m *Matcher) OpenRemaining(ctx context.Context, configID int64, market string, outcomeIndex int) (float64, error) {
	lots, err := m.store.FindOpenLotsFIFO(ctx, configID, market, outcomeIndex)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, lot := range lots {
		total += lot.RemainingQuantity
	}
	return total, nil
}

// MatchSell consumes open lots for targetQty at sellPrice, oldest lot
// first, and persists the match atomically. A target beyond the open
// quantity leaves an unmatched remainder: logged as a warning and recorded
// unattributed, never invented from thin air.
func (m *Matcher) MatchSell(ctx context.Context, configID int64, market string, outcomeIndex int, sellTradeID string, sellPrice, targetQty float64) (*models.SellMatchRecord, error) {
	lock := m.positionLock(configID, market, outcomeIndex)
	lock.Lock()
	defer lock.Unlock()

	lots, err := m.store.FindOpenLotsFIFO(ctx, configID, market, outcomeIndex)
	if err != nil {
		return nil, fmt.Errorf("find open lots: %w", err)
	}

	rec := models.SellMatchRecord{
		ID:           uuid.New().String(),
		ConfigID:     configID,
		Market:       market,
		OutcomeIndex: outcomeIndex,
		SellTradeID:  sellTradeID,
		SellPrice:    sellPrice,
		TargetQuantity: targetQty,
		CreatedAt:    time.Now(),
	}

	var details []models.SellMatchDetail
	remaining := targetQty
	for _, lot := range lots {
		if remaining <= 0 {
			break
		}
		qty := lot.RemainingQuantity
		if qty > remaining {
			qty = remaining
		}
		details = append(details, models.SellMatchDetail{
			ID:              uuid.New().String(),
			MatchID:         rec.ID,
			LotID:           lot.ID,
			MatchedQuantity: qty,
			BuyPrice:        lot.Price,
			SellPrice:       sellPrice,
			RealizedPnl:     (sellPrice - lot.Price) * qty,
		})
		remaining -= qty
	}

	rec.MatchedQuantity = targetQty - remaining
	rec.UnmatchedQuantity = remaining
	if remaining > 0 {
		log.Printf("[Matcher] Config %d %s/%d: %.4f of sell target %.4f has no open lot to match",
			configID, market, outcomeIndex, remaining, targetQty)
	}

	if err := m.store.ApplySellMatch(ctx, rec, details); err != nil {
		return nil, fmt.Errorf("apply sell match: %w", err)
	}

	var pnl float64
	for _, d := range details {
		pnl += d.RealizedPnl
	}
	log.Printf("[Matcher] Config %d matched %.4f across %d lots at %.4f, realized %.4f",
		configID, rec.MatchedQuantity, len(details), sellPrice, pnl)
	return &rec, nil
}
