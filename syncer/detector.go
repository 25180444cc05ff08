package syncer

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/wry5560/PolyHermes-sub002/api"
	"github.com/wry5560/PolyHermes-sub002/models"
	"github.com/wry5560/PolyHermes-sub002/storage"
)

// seenTxCap bounds the detector's per-process duplicate set; the storage
// claim is the real dedup gate, this only avoids refetching receipts.
const (
	seenTxCap  = 1000
	seenTxKeep = 500
)

// Detector is the low-latency detection channel: it subscribes to the
// exchanges' OrderFilled logs over one multiplexed websocket, fetches the
// full receipt for each transaction a watched leader appears in, and emits
// one signal per leader fill. Signals funnel into the engine, which owns
// dedup against the poller channel.
type Detector struct {
	chainWS *api.ChainWS
	pool    *api.NodePool
	store   storage.EngineStore
	funnel  func(models.TradeSignal)
	metrics *EngineMetrics

	exchanges []common.Address

	leadersMu sync.RWMutex
	leaders   map[common.Address]models.Leader

	seenMu    sync.Mutex
	seenTx    map[string]bool
	seenOrder []string

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewDetector creates a detector over the given exchange contracts.
func NewDetector(chainWS *api.ChainWS, pool *api.NodePool, store storage.EngineStore, exchanges []common.Address, funnel func(models.TradeSignal), metrics *EngineMetrics) *Detector {
	return &Detector{
		chainWS:   chainWS,
		pool:      pool,
		store:     store,
		funnel:    funnel,
		metrics:   metrics,
		exchanges: exchanges,
		leaders:   make(map[common.Address]models.Leader),
		seenTx:    make(map[string]bool),
		stopCh:    make(chan struct{}),
	}
}

// Start loads the watched leaders and opens the log subscriptions.
func (d *Detector) Start(ctx context.Context) error {
	if d.running {
		return fmt.Errorf("detector already running")
	}
	if err := d.RefreshLeaders(ctx); err != nil {
		return fmt.Errorf("load leaders: %w", err)
	}
	d.running = true

	d.wg.Add(1)
	go d.leaderRefreshLoop()

	log.Printf("[Detector] Started watching %d leaders across %d exchanges", d.leaderCount(), len(d.exchanges))
	return nil
}

// Stop removes the subscriptions and ends the refresh loop.
func (d *Detector) Stop() {
	if !d.running {
		return
	}
	d.running = false
	close(d.stopCh)
	d.wg.Wait()
	d.chainWS.Unsubscribe("fills:maker")
	d.chainWS.Unsubscribe("fills:taker")
	log.Println("[Detector] Stopped")
}

func (d *Detector) leaderCount() int {
	d.leadersMu.RLock()
	defer d.leadersMu.RUnlock()
	return len(d.leaders)
}

// RefreshLeaders reloads the watched leader set and rebuilds the log
// filters. The maker and taker address slots are separate indexed topics, so
// each gets its own subscription over the same connection. Disabling the
// last config drops its leader from the set; with no leaders left the
// subscriptions go away and the socket is torn down.
func (d *Detector) RefreshLeaders(ctx context.Context) error {
	leaders, err := d.store.ListWatchedLeaders(ctx)
	if err != nil {
		return err
	}

	byAddr := make(map[common.Address]models.Leader, len(leaders))
	topics := make([]common.Hash, 0, len(leaders))
	for _, l := range leaders {
		addr := common.HexToAddress(l.Address)
		byAddr[addr] = l
		topics = append(topics, common.BytesToHash(addr.Bytes()))
	}

	d.leadersMu.Lock()
	d.leaders = byAddr
	d.leadersMu.Unlock()

	if len(topics) == 0 {
		d.chainWS.Unsubscribe("fills:maker")
		d.chainWS.Unsubscribe("fills:taker")
		return nil
	}

	makerFilter := api.LogFilter{
		Addresses: d.exchanges,
		Topics:    [][]common.Hash{{api.OrderFilledTopic}, nil, topics},
	}
	takerFilter := api.LogFilter{
		Addresses: d.exchanges,
		Topics:    [][]common.Hash{{api.OrderFilledTopic}, nil, nil, topics},
	}

	if err := d.chainWS.Subscribe("fills:maker", makerFilter, d.handleLog); err != nil {
		return err
	}
	return d.chainWS.Subscribe("fills:taker", takerFilter, d.handleLog)
}

func (d *Detector) leaderRefreshLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := d.RefreshLeaders(ctx); err != nil {
				log.Printf("[Detector] Leader refresh failed: %v", err)
			}
			cancel()
		case <-d.stopCh:
			return
		}
	}
}

// handleLog runs on the websocket read loop; it only marks the transaction
// and hands the heavy receipt work to its own goroutine.
func (d *Detector) handleLog(lg types.Log) {
	txHash := strings.ToLower(lg.TxHash.Hex())
	if !d.markTxSeen(txHash) {
		return
	}
	go d.processTransaction(lg.TxHash)
}

// markTxSeen returns true for the first observation of a transaction; both
// the maker and taker subscription can deliver the same log.
func (d *Detector) markTxSeen(txHash string) bool {
	d.seenMu.Lock()
	defer d.seenMu.Unlock()
	if d.seenTx[txHash] {
		return false
	}
	d.seenTx[txHash] = true
	d.seenOrder = append(d.seenOrder, txHash)
	if len(d.seenOrder) > seenTxCap {
		drop := d.seenOrder[:len(d.seenOrder)-seenTxKeep]
		for _, h := range drop {
			delete(d.seenTx, h)
		}
		d.seenOrder = append([]string(nil), d.seenOrder[len(d.seenOrder)-seenTxKeep:]...)
	}
	return true
}

// fillAccum sums a leader's partial fills of one (token, side) within a
// transaction so the emitted signal matches the trade-history row for the
// same trade.
type fillAccum struct {
	leader  models.Leader
	side    models.Side
	tokenID string
	shares  float64
	usdc    float64
}

// processTransaction fetches the receipt and emits one signal per
// (leader, token, side) in it. The subscription delivers a single matching
// log, but one transaction can carry several partial fills; the receipt has
// all of them.
func (d *Detector) processTransaction(txHash common.Hash) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	receipt, err := d.pool.TransactionReceipt(ctx, txHash.Hex())
	if err != nil {
		log.Printf("[Detector] Receipt fetch %s failed: %v", txHash.Hex(), err)
		return
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return
	}

	accums := make(map[string]*fillAccum)
	var order []string
	for _, lg := range receipt.Logs {
		event, err := api.DecodeOrderFilled(*lg)
		if err != nil {
			continue
		}
		id, acc := d.classifyFill(event)
		if acc == nil {
			continue
		}
		if prev, ok := accums[id]; ok {
			prev.shares += acc.shares
			prev.usdc += acc.usdc
		} else {
			accums[id] = acc
			order = append(order, id)
		}
	}

	for _, id := range order {
		d.emitFill(txHash, id, accums[id])
	}
}

// classifyFill resolves the watched leader in the fill, if any, and returns
// the trade identity shared with the poller channel.
func (d *Detector) classifyFill(event *api.OrderFilledEvent) (string, *fillAccum) {
	d.leadersMu.RLock()
	leader, isMaker := d.leaders[event.Maker]
	if !isMaker {
		leader = d.leaders[event.Taker]
	}
	_, isTaker := d.leaders[event.Taker]
	d.leadersMu.RUnlock()
	if !isMaker && !isTaker {
		return "", nil
	}

	wallet := event.Maker
	if !isMaker {
		wallet = event.Taker
	}

	side, tokenID, shares, price, err := api.ClassifyLeaderFill(event, wallet)
	if err != nil {
		log.Printf("[Detector] Classify fill %s: %v", event.ID(), err)
		return "", nil
	}

	return api.TradeID(event.TxHash, tokenID, string(side)), &fillAccum{
		leader:  leader,
		side:    side,
		tokenID: tokenID.String(),
		shares:  shares,
		usdc:    price * shares,
	}
}

func (d *Detector) emitFill(txHash common.Hash, tradeID string, acc *fillAccum) {
	price := 0.0
	if acc.shares > 0 {
		price = acc.usdc / acc.shares
	}

	signal := models.TradeSignal{
		LeaderID:     acc.leader.ID,
		TradeID:      tradeID,
		Type:         "TRADE",
		Side:         acc.side,
		TokenID:      acc.tokenID,
		OutcomeIndex: -1, // resolved by the engine from market metadata
		Category:     acc.leader.Category,
		Price:        price,
		Size:         acc.shares,
		UsdcSize:     acc.usdc,
		TxHash:       strings.ToLower(txHash.Hex()),
		Timestamp:    time.Now(),
		Source:       models.SourceWebsocket,
	}

	log.Printf("[Detector] Leader %d %s %.4f @ %.4f (tx %s)", acc.leader.ID, acc.side, acc.shares, price, signal.TxHash)
	d.funnel(signal)
}
