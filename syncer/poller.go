package syncer

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/wry5560/PolyHermes-sub002/api"
	"github.com/wry5560/PolyHermes-sub002/models"
	"github.com/wry5560/PolyHermes-sub002/storage"
)

// seen-set bounds per leader; trimmed to the most recent entries.
const (
	seenTradeCap  = 1000
	seenTradeKeep = 500
)

// Poller is the catch-all detection channel: it reads every leader's recent
// activity from the data API on a fixed interval and emits what it has not
// seen before. Slower than the websocket channel but immune to dropped
// connections and missed logs.
type Poller struct {
	data     api.TradeHistoryClient
	store    storage.EngineStore
	funnel   func(models.TradeSignal)
	interval time.Duration
	limit    int

	seenMu sync.Mutex
	seen   map[int64]*seenSet // by leader id

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// seenSet is an insertion-ordered bounded set of trade ids.
type seenSet struct {
	ids   map[string]bool
	order []string
}

func newSeenSet() *seenSet {
	return &seenSet{ids: make(map[string]bool)}
}

// add returns true when the id was not present.
func (s *seenSet) add(id string) bool {
	if s.ids[id] {
		return false
	}
	s.ids[id] = true
	s.order = append(s.order, id)
	if len(s.order) > seenTradeCap {
		drop := s.order[:len(s.order)-seenTradeKeep]
		for _, d := range drop {
			delete(s.ids, d)
		}
		s.order = append([]string(nil), s.order[len(s.order)-seenTradeKeep:]...)
	}
	return true
}

// NewPoller creates a poller.
func NewPoller(data api.TradeHistoryClient, store storage.EngineStore, interval time.Duration, limit int, funnel func(models.TradeSignal)) *Poller {
	return &Poller{
		data:     data,
		store:    store,
		funnel:   funnel,
		interval: interval,
		limit:    limit,
		seen:     make(map[int64]*seenSet),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the poll loop.
func (p *Poller) Start(ctx context.Context) error {
	if p.running {
		return fmt.Errorf("poller already running")
	}
	p.running = true
	p.wg.Add(1)
	go p.run(ctx)
	log.Printf("[Poller] Started, interval=%v limit=%d", p.interval, p.limit)
	return nil
}

// Stop ends the poll loop, letting an in-flight tick finish.
func (p *Poller) Stop() {
	if !p.running {
		return
	}
	p.running = false
	close(p.stopCh)
	p.wg.Wait()
	log.Println("[Poller] Stopped")
}

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.pollOnce(ctx)
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		}
	}
}

// pollOnce polls every leader. The first observation of a leader seeds the
// seen-set without emitting, so a restart never replays history the dedup
// gate would reject one by one.
func (p *Poller) pollOnce(ctx context.Context) {
	leaders, err := p.store.ListWatchedLeaders(ctx)
	if err != nil {
		log.Printf("[Poller] List leaders failed: %v", err)
		return
	}

	for _, leader := range leaders {
		select {
		case <-p.stopCh:
			return
		default:
		}
		if err := p.pollLeader(ctx, leader); err != nil {
			log.Printf("[Poller] Poll leader %d failed: %v", leader.ID, err)
		}
	}
}

func (p *Poller) pollLeader(ctx context.Context, leader models.Leader) error {
	trades, err := p.data.GetTrades(ctx, strings.ToLower(leader.Address), p.limit)
	if err != nil {
		return err
	}

	p.seenMu.Lock()
	set, ok := p.seen[leader.ID]
	coldStart := !ok
	if coldStart {
		set = newSeenSet()
		p.seen[leader.ID] = set
	}

	// Rows arrive newest first; walk oldest first so emission order matches
	// trade order.
	var fresh []api.DataTrade
	for i := len(trades) - 1; i >= 0; i-- {
		if set.add(trades[i].ID()) && !coldStart {
			fresh = append(fresh, trades[i])
		}
	}
	p.seenMu.Unlock()

	if coldStart {
		log.Printf("[Poller] Seeded leader %d with %d existing trades", leader.ID, len(trades))
		return nil
	}

	for _, t := range fresh {
		signal := t.Signal(leader.ID)
		if signal.Category == "" {
			signal.Category = leader.Category
		}
		p.funnel(signal)
	}
	return nil
}
