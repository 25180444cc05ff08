package syncer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/wry5560/PolyHermes-sub002/api"
	"github.com/wry5560/PolyHermes-sub002/models"
	"github.com/wry5560/PolyHermes-sub002/storage"
)

const pollerLeaderAddr = "0xaaaa000000000000000000000000000000000001"

type signalRecorder struct {
	mu      sync.Mutex
	signals []models.TradeSignal
}

func (r *signalRecorder) record(s models.TradeSignal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, s)
}

func (r *signalRecorder) all() []models.TradeSignal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.TradeSignal(nil), r.signals...)
}

func dataTrade(tx, asset, side string, ts int64) api.DataTrade {
	return api.DataTrade{
		TransactionHash: tx,
		Type:            "TRADE",
		Side:            side,
		ConditionID:     "0xcond",
		Asset:           asset,
		Size:            100,
		Price:           0.35,
		Timestamp:       ts,
	}
}

func TestPollerColdStartSeedsWithoutEmitting(t *testing.T) {
	store := storage.NewMemory()
	store.PutLeader(models.Leader{ID: 1, Address: pollerLeaderAddr})
	store.PutConfig(models.ReplicationConfig{ID: 1, LeaderID: 1, Enabled: true})

	history := api.NewMockTradeHistory()
	history.SetTrades(pollerLeaderAddr, []api.DataTrade{
		dataTrade("0x02", "123", "BUY", 200),
		dataTrade("0x01", "123", "BUY", 100),
	})

	rec := &signalRecorder{}
	poller := NewPoller(history, store, time.Hour, 50, rec.record)

	poller.pollOnce(context.Background())
	if got := rec.all(); len(got) != 0 {
		t.Fatalf("cold start emitted %d signals, want 0", len(got))
	}
}

func TestPollerEmitsSetDifference(t *testing.T) {
	store := storage.NewMemory()
	store.PutLeader(models.Leader{ID: 1, Address: pollerLeaderAddr})
	store.PutConfig(models.ReplicationConfig{ID: 1, LeaderID: 1, Enabled: true})

	history := api.NewMockTradeHistory()
	history.SetTrades(pollerLeaderAddr, []api.DataTrade{
		dataTrade("0x01", "123", "BUY", 100),
	})

	rec := &signalRecorder{}
	poller := NewPoller(history, store, time.Hour, 50, rec.record)

	poller.pollOnce(context.Background()) // seed

	// Two new trades arrive; the old one is still in the window.
	history.SetTrades(pollerLeaderAddr, []api.DataTrade{
		dataTrade("0x03", "123", "SELL", 300),
		dataTrade("0x02", "123", "BUY", 200),
		dataTrade("0x01", "123", "BUY", 100),
	})
	poller.pollOnce(context.Background())

	signals := rec.all()
	if len(signals) != 2 {
		t.Fatalf("emitted %d signals, want 2", len(signals))
	}
	// Oldest first, so replication happens in trade order.
	if signals[0].TxHash != "0x02" || signals[1].TxHash != "0x03" {
		t.Errorf("order = %s, %s; want 0x02 then 0x03", signals[0].TxHash, signals[1].TxHash)
	}
	if signals[0].Source != models.SourcePoller {
		t.Errorf("source = %s, want POLLER", signals[0].Source)
	}

	// A third poll with the same window emits nothing.
	poller.pollOnce(context.Background())
	if got := rec.all(); len(got) != 2 {
		t.Errorf("re-poll emitted %d extra signals", len(got)-2)
	}
}

func TestPollerDistinguishesLegsOfOneTransaction(t *testing.T) {
	store := storage.NewMemory()
	store.PutLeader(models.Leader{ID: 1, Address: pollerLeaderAddr})
	store.PutConfig(models.ReplicationConfig{ID: 1, LeaderID: 1, Enabled: true})

	history := api.NewMockTradeHistory()
	history.SetTrades(pollerLeaderAddr, nil)

	rec := &signalRecorder{}
	poller := NewPoller(history, store, time.Hour, 50, rec.record)
	poller.pollOnce(context.Background()) // seed on empty history

	// One transaction carrying fills on both outcome tokens must yield two
	// distinct trade ids.
	history.SetTrades(pollerLeaderAddr, []api.DataTrade{
		dataTrade("0x01", "123", "BUY", 100),
		dataTrade("0x01", "456", "BUY", 100),
	})
	poller.pollOnce(context.Background())

	signals := rec.all()
	if len(signals) != 2 {
		t.Fatalf("emitted %d signals, want 2", len(signals))
	}
	if signals[0].TradeID == signals[1].TradeID {
		t.Errorf("both legs share trade id %s", signals[0].TradeID)
	}
}

func TestSeenSetTrimsToRecent(t *testing.T) {
	set := newSeenSet()
	for i := 0; i < seenTradeCap+1; i++ {
		set.add(api.DataTrade{TransactionHash: "0x01", Asset: string(rune(i)), Side: "BUY"}.ID())
	}
	if len(set.ids) != seenTradeKeep {
		t.Errorf("seen set = %d entries after trim, want %d", len(set.ids), seenTradeKeep)
	}
	// The most recent entries survive the trim.
	recent := api.DataTrade{TransactionHash: "0x01", Asset: string(rune(seenTradeCap)), Side: "BUY"}.ID()
	if !set.ids[recent] {
		t.Error("most recent id was trimmed")
	}
}
