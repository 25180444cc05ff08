package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/wry5560/PolyHermes-sub002/models"
)

func TestTryClaimTradeExactlyOnce(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	var wins int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := store.TryClaimTrade(ctx, 1, "trade-1", "TRADE", models.SourceWebsocket)
			if err != nil {
				t.Errorf("TryClaimTrade() error = %v", err)
				return
			}
			if claimed {
				atomic.AddInt64(&wins, 1)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("winners = %d, want exactly 1", wins)
	}
	if store.ClaimCount() != 1 {
		t.Errorf("claims = %d, want 1", store.ClaimCount())
	}
}

func TestTryClaimTradeScopedByLeader(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	first, err := store.TryClaimTrade(ctx, 1, "trade-1", "TRADE", models.SourcePoller)
	if err != nil || !first {
		t.Fatalf("first claim = %v, %v", first, err)
	}
	// The same trade id under another leader is a distinct claim.
	other, err := store.TryClaimTrade(ctx, 2, "trade-1", "TRADE", models.SourcePoller)
	if err != nil || !other {
		t.Errorf("other-leader claim = %v, %v, want true", other, err)
	}
	dup, err := store.TryClaimTrade(ctx, 1, "trade-1", "TRADE", models.SourceWebsocket)
	if err != nil || dup {
		t.Errorf("duplicate claim = %v, %v, want false", dup, err)
	}
}

func TestApplySellMatchRejectsOverdraw(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	lotID, err := store.InsertBuyLot(ctx, models.ReplicaBuyLot{
		ConfigID: 1, Market: "0xcond", OutcomeIndex: 0, TokenID: "123", Quantity: 5, Price: 0.40,
	})
	if err != nil {
		t.Fatal(err)
	}

	rec := models.SellMatchRecord{ID: "m1", ConfigID: 1, Market: "0xcond"}
	err = store.ApplySellMatch(ctx, rec, []models.SellMatchDetail{
		{ID: "d1", MatchID: "m1", LotID: lotID, MatchedQuantity: 6},
	})
	if err == nil {
		t.Fatal("expected error when consuming more than the lot holds")
	}

	// The failed match must leave no side effects.
	lot, _ := store.GetLot(lotID)
	if lot.RemainingQuantity != 5 || lot.Status != models.LotStatusFilled {
		t.Errorf("lot = %v/%s, want untouched 5/filled", lot.RemainingQuantity, lot.Status)
	}
	matches, _ := store.ListMatchHistory(ctx, 1, 10)
	if len(matches) != 0 {
		t.Errorf("matches = %d, want none recorded", len(matches))
	}
}

func TestApplySellMatchAllOrNothing(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	okLot, err := store.InsertBuyLot(ctx, models.ReplicaBuyLot{
		ConfigID: 1, Market: "0xcond", OutcomeIndex: 0, TokenID: "123", Quantity: 10, Price: 0.40,
	})
	if err != nil {
		t.Fatal(err)
	}
	thinLot, err := store.InsertBuyLot(ctx, models.ReplicaBuyLot{
		ConfigID: 1, Market: "0xcond", OutcomeIndex: 0, TokenID: "123", Quantity: 2, Price: 0.42,
	})
	if err != nil {
		t.Fatal(err)
	}

	// Second slice overdraws; the first must not be applied either.
	err = store.ApplySellMatch(ctx, models.SellMatchRecord{ID: "m1", ConfigID: 1}, []models.SellMatchDetail{
		{ID: "d1", MatchID: "m1", LotID: okLot, MatchedQuantity: 5},
		{ID: "d2", MatchID: "m1", LotID: thinLot, MatchedQuantity: 3},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	lot, _ := store.GetLot(okLot)
	if lot.RemainingQuantity != 10 {
		t.Errorf("first lot remaining = %v, want untouched 10", lot.RemainingQuantity)
	}
}

func TestFindOpenLotsFIFOOrder(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	var ids []int64
	for _, price := range []float64{0.50, 0.40, 0.45} {
		id, err := store.InsertBuyLot(ctx, models.ReplicaBuyLot{
			ConfigID: 1, Market: "0xcond", OutcomeIndex: 0, TokenID: "123", Quantity: 1, Price: price,
		})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}

	lots, err := store.FindOpenLotsFIFO(ctx, 1, "0xcond", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(lots) != 3 {
		t.Fatalf("lots = %d, want 3", len(lots))
	}
	for i, lot := range lots {
		if lot.ID != ids[i] {
			t.Errorf("position %d = lot %d, want insertion order %d", i, lot.ID, ids[i])
		}
	}
}

func TestListWatchedLeaders(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	store.PutLeader(models.Leader{ID: 1, Address: "0x01"})
	store.PutLeader(models.Leader{ID: 2, Address: "0x02"})
	store.PutConfig(models.ReplicationConfig{ID: 1, LeaderID: 1, Enabled: true})
	store.PutConfig(models.ReplicationConfig{ID: 2, LeaderID: 2, Enabled: false})

	watched, err := store.ListWatchedLeaders(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(watched) != 1 || watched[0].ID != 1 {
		t.Errorf("watched = %+v, want only leader 1", watched)
	}

	// Disabling the last config for a leader drops it from the watch set.
	if err := store.SetConfigEnabled(ctx, 1, false); err != nil {
		t.Fatal(err)
	}
	watched, _ = store.ListWatchedLeaders(ctx)
	if len(watched) != 0 {
		t.Errorf("watched after disable = %d, want 0", len(watched))
	}
}

func TestListEnabledConfigsForLeader(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	store.PutConfig(models.ReplicationConfig{ID: 1, LeaderID: 1, Enabled: true})
	store.PutConfig(models.ReplicationConfig{ID: 2, LeaderID: 1, Enabled: false})
	store.PutConfig(models.ReplicationConfig{ID: 3, LeaderID: 2, Enabled: true})

	configs, err := store.ListEnabledConfigsForLeader(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(configs) != 1 || configs[0].ID != 1 {
		t.Errorf("configs = %+v, want only config 1", configs)
	}

	if err := store.SetConfigEnabled(ctx, 2, true); err != nil {
		t.Fatal(err)
	}
	configs, _ = store.ListEnabledConfigsForLeader(ctx, 1)
	if len(configs) != 2 {
		t.Errorf("configs after enable = %d, want 2", len(configs))
	}
}
