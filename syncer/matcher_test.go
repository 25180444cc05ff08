package syncer

import (
	"context"
	"testing"

	"github.com/wry5560/PolyHermes-sub002/models"
	"github.com/wry5560/PolyHermes-sub002/storage"
)

func seedLots(t *testing.T, store *storage.MemoryStore, configID int64, prices []float64, quantities []float64) []int64 {
	t.Helper()
	ids := make([]int64, 0, len(prices))
	for i := range prices {
		id, err := store.InsertBuyLot(context.Background(), models.ReplicaBuyLot{
			ConfigID:     configID,
			Market:       "0xcond",
			OutcomeIndex: 0,
			TokenID:      "123",
			Quantity:     quantities[i],
			Price:        prices[i],
		})
		if err != nil {
			t.Fatalf("seed lot %d: %v", i, err)
		}
		ids = append(ids, id)
	}
	return ids
}

func TestMatchSellFIFO(t *testing.T) {
	store := storage.NewMemory()
	matcher := NewMatcher(store)
	ctx := context.Background()

	ids := seedLots(t, store, 1, []float64{0.40, 0.42, 0.50}, []float64{10, 5, 8})

	rec, err := matcher.MatchSell(ctx, 1, "0xcond", 0, "sell-1", 0.45, 12)
	if err != nil {
		t.Fatalf("MatchSell() error = %v", err)
	}

	if !almostEqual(rec.MatchedQuantity, 12) {
		t.Errorf("matched = %v, want 12", rec.MatchedQuantity)
	}
	if !almostEqual(rec.UnmatchedQuantity, 0) {
		t.Errorf("unmatched = %v, want 0", rec.UnmatchedQuantity)
	}

	details, err := store.ListMatchDetails(ctx, rec.ID)
	if err != nil {
		t.Fatalf("ListMatchDetails() error = %v", err)
	}
	if len(details) != 2 {
		t.Fatalf("details = %d slices, want 2", len(details))
	}

	// Oldest lot first: all 10 from the 0.40 lot, then 2 from the 0.42 lot.
	if details[0].LotID != ids[0] || !almostEqual(details[0].MatchedQuantity, 10) {
		t.Errorf("slice 0 = lot %d qty %v, want lot %d qty 10", details[0].LotID, details[0].MatchedQuantity, ids[0])
	}
	if !almostEqual(details[0].RealizedPnl, (0.45-0.40)*10) {
		t.Errorf("slice 0 pnl = %v, want 0.5", details[0].RealizedPnl)
	}
	if details[1].LotID != ids[1] || !almostEqual(details[1].MatchedQuantity, 2) {
		t.Errorf("slice 1 = lot %d qty %v, want lot %d qty 2", details[1].LotID, details[1].MatchedQuantity, ids[1])
	}
	if !almostEqual(details[1].RealizedPnl, (0.45-0.42)*2) {
		t.Errorf("slice 1 pnl = %v, want 0.06", details[1].RealizedPnl)
	}

	// Status transitions are monotonic per consumed lot.
	lot0, _ := store.GetLot(ids[0])
	if lot0.Status != models.LotStatusFullyMatched || !almostEqual(lot0.RemainingQuantity, 0) {
		t.Errorf("lot 0 = %s remaining %v, want fully_matched/0", lot0.Status, lot0.RemainingQuantity)
	}
	lot1, _ := store.GetLot(ids[1])
	if lot1.Status != models.LotStatusPartiallyMatched || !almostEqual(lot1.RemainingQuantity, 3) {
		t.Errorf("lot 1 = %s remaining %v, want partially_matched/3", lot1.Status, lot1.RemainingQuantity)
	}
	lot2, _ := store.GetLot(ids[2])
	if lot2.Status != models.LotStatusFilled || !almostEqual(lot2.RemainingQuantity, 8) {
		t.Errorf("lot 2 = %s remaining %v, want filled/8 untouched", lot2.Status, lot2.RemainingQuantity)
	}
}

func TestMatchSellUnmatchedRemainder(t *testing.T) {
	store := storage.NewMemory()
	matcher := NewMatcher(store)
	ctx := context.Background()

	seedLots(t, store, 1, []float64{0.40}, []float64{5})

	rec, err := matcher.MatchSell(ctx, 1, "0xcond", 0, "sell-1", 0.45, 12)
	if err != nil {
		t.Fatalf("MatchSell() error = %v", err)
	}
	if !almostEqual(rec.MatchedQuantity, 5) {
		t.Errorf("matched = %v, want 5", rec.MatchedQuantity)
	}
	if !almostEqual(rec.UnmatchedQuantity, 7) {
		t.Errorf("unmatched = %v, want 7", rec.UnmatchedQuantity)
	}
}

func TestMatchSellScopedToPosition(t *testing.T) {
	store := storage.NewMemory()
	matcher := NewMatcher(store)
	ctx := context.Background()

	// Same market, other outcome and other config must stay untouched.
	mine := seedLots(t, store, 1, []float64{0.40}, []float64{10})
	otherOutcome, err := store.InsertBuyLot(ctx, models.ReplicaBuyLot{
		ConfigID: 1, Market: "0xcond", OutcomeIndex: 1, TokenID: "456", Quantity: 10, Price: 0.30,
	})
	if err != nil {
		t.Fatal(err)
	}
	otherConfig, err := store.InsertBuyLot(ctx, models.ReplicaBuyLot{
		ConfigID: 2, Market: "0xcond", OutcomeIndex: 0, TokenID: "123", Quantity: 10, Price: 0.30,
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := matcher.MatchSell(ctx, 1, "0xcond", 0, "sell-1", 0.45, 10); err != nil {
		t.Fatalf("MatchSell() error = %v", err)
	}

	lot, _ := store.GetLot(mine[0])
	if lot.Status != models.LotStatusFullyMatched {
		t.Errorf("target lot status = %s, want fully_matched", lot.Status)
	}
	for _, id := range []int64{otherOutcome, otherConfig} {
		lot, _ := store.GetLot(id)
		if !almostEqual(lot.RemainingQuantity, 10) {
			t.Errorf("lot %d remaining = %v, want untouched 10", id, lot.RemainingQuantity)
		}
	}
}

func TestOpenRemaining(t *testing.T) {
	store := storage.NewMemory()
	matcher := NewMatcher(store)
	ctx := context.Background()

	seedLots(t, store, 1, []float64{0.40, 0.42}, []float64{10, 5})

	open, err := matcher.OpenRemaining(ctx, 1, "0xcond", 0)
	if err != nil {
		t.Fatalf("OpenRemaining() error = %v", err)
	}
	if !almostEqual(open, 15) {
		t.Errorf("open = %v, want 15", open)
	}

	if _, err := matcher.MatchSell(ctx, 1, "0xcond", 0, "sell-1", 0.45, 15); err != nil {
		t.Fatal(err)
	}
	open, err = matcher.OpenRemaining(ctx, 1, "0xcond", 0)
	if err != nil {
		t.Fatal(err)
	}
	if !almostEqual(open, 0) {
		t.Errorf("open after full sell = %v, want 0", open)
	}
}
