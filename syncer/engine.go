package syncer

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wry5560/PolyHermes-sub002/api"
	"github.com/wry5560/PolyHermes-sub002/models"
	"github.com/wry5560/PolyHermes-sub002/notify"
	"github.com/wry5560/PolyHermes-sub002/storage"
)

// EngineConfig are the pipeline tunables.
type EngineConfig struct {
	Workers              int
	QueueSize            int
	BookTimeout          time.Duration
	SellFallbackDiscount float64
	CredentialKey        []byte
}

// Engine is the replication pipeline. Both detection channels funnel into
// OnLeaderTrade; the storage claim decides the single winner per trade, a
// bounded queue decouples ingestion from processing, and a fixed worker
// pool replicates each claimed trade across every enabled config.
type Engine struct {
	store    storage.EngineStore
	exchange api.ExchangeClient
	submit   *Submitter
	matcher  *Matcher
	notifier *notify.Notifier
	metrics  *EngineMetrics
	detector *Detector

	cfg EngineConfig

	queue chan models.TradeSignal

	accountMuMu sync.Mutex
	accountMu   map[int64]*sync.Mutex

	acceptMu  sync.Mutex
	accepting bool
	wg        sync.WaitGroup
}

// NewEngine wires the pipeline.
func NewEngine(store storage.EngineStore, exchange api.ExchangeClient, submit *Submitter, matcher *Matcher, notifier *notify.Notifier, metrics *EngineMetrics, cfg EngineConfig) *Engine {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	return &Engine{
		store:     store,
		exchange:  exchange,
		submit:    submit,
		matcher:   matcher,
		notifier:  notifier,
		metrics:   metrics,
		cfg:       cfg,
		queue:     make(chan models.TradeSignal, cfg.QueueSize),
		accountMu: make(map[int64]*sync.Mutex),
	}
}

// SetDetector hands the engine the detector so config changes can refresh
// the watched leader set.
func (e *Engine) SetDetector(d *Detector) { e.detector = d }

// Metrics exposes the counters for the health endpoint.
func (e *Engine) Metrics() *EngineMetrics { return e.metrics }

// Start launches the worker pool.
func (e *Engine) Start() {
	e.acceptMu.Lock()
	e.accepting = true
	e.acceptMu.Unlock()

	for i := 0; i < e.cfg.Workers; i++ {
		e.wg.Add(1)
		go e.worker(i)
	}
	log.Printf("[Engine] Started %d workers, queue size %d", e.cfg.Workers, e.cfg.QueueSize)
}

// Stop stops accepting signals and drains in-flight jobs, bounded. The
// queue is closed under acceptMu so a funnel caller can never race its
// enqueue against the close.
func (e *Engine) Stop() {
	e.acceptMu.Lock()
	if !e.accepting {
		e.acceptMu.Unlock()
		return
	}
	e.accepting = false
	close(e.queue)
	e.acceptMu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(60 * time.Second):
		log.Println("[Engine] Drain timed out, abandoning remaining jobs")
	}
	log.Println("[Engine] Stopped")
}

// OnLeaderTrade is the single funnel for both detection channels. The
// storage claim runs here, before queueing, so a duplicate never consumes
// queue capacity; a full queue drops the trade with a failure record rather
// than blocking the detection path.
func (e *Engine) OnLeaderTrade(signal models.TradeSignal) {
	latency := time.Duration(0)
	if !signal.Timestamp.IsZero() {
		latency = time.Since(signal.Timestamp)
	}
	e.metrics.RecordSignal(signal.Source == models.SourceWebsocket, latency)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	claimed, err := e.store.TryClaimTrade(ctx, signal.LeaderID, signal.TradeID, signal.Type, signal.Source)
	if err != nil {
		log.Printf("[Engine] Claim %d/%s failed: %v", signal.LeaderID, signal.TradeID, err)
		return
	}
	if !claimed {
		e.metrics.RecordDuplicate()
		return
	}

	// The accepting check and the enqueue sit under one lock acquisition;
	// Stop closes the queue under the same lock, so the send can never hit
	// a closed channel.
	e.acceptMu.Lock()
	if !e.accepting {
		e.acceptMu.Unlock()
		e.recordDrop(ctx, signal, "engine shutting down")
		return
	}
	select {
	case e.queue <- signal:
		e.acceptMu.Unlock()
	default:
		e.acceptMu.Unlock()
		e.metrics.RecordQueueDrop()
		e.recordDrop(ctx, signal, fmt.Sprintf("queue full (%d)", e.cfg.QueueSize))
	}
}

func (e *Engine) recordDrop(ctx context.Context, signal models.TradeSignal, reason string) {
	log.Printf("[Engine] Dropping trade %d/%s: %s", signal.LeaderID, signal.TradeID, reason)
	if err := e.store.SaveFailedTrade(ctx, models.FailedTradeRecord{
		ID:       uuid.New().String(),
		LeaderID: signal.LeaderID,
		TradeID:  signal.TradeID,
		Side:     signal.Side,
		Market:   signal.Market,
		TokenID:  signal.TokenID,
		Price:    signal.Price,
		Size:     signal.Size,
		Error:    reason,
	}); err != nil {
		log.Printf("[Engine] Record drop failed: %v", err)
	}
	if err := e.store.SetTradeOutcome(ctx, signal.LeaderID, signal.TradeID, models.TradeOutcomeFailed); err != nil {
		log.Printf("[Engine] Set outcome failed: %v", err)
	}
}

func (e *Engine) worker(id int) {
	defer e.wg.Done()
	for signal := range e.queue {
		e.processSignal(signal)
	}
	log.Printf("[Engine] Worker %d exiting", id)
}

func (e *Engine) processSignal(signal models.TradeSignal) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	outcome := e.replicate(ctx, &signal)
	if err := e.store.SetTradeOutcome(ctx, signal.LeaderID, signal.TradeID, outcome); err != nil {
		log.Printf("[Engine] Set outcome %s for %d/%s failed: %v", outcome, signal.LeaderID, signal.TradeID, err)
	}
}

// replicate runs the claimed trade across every enabled config and returns
// the aggregate outcome: REPLICATED if any config traded, else FAILED if
// any config errored, else FILTERED/SKIPPED.
func (e *Engine) replicate(ctx context.Context, signal *models.TradeSignal) string {
	if signal.Type != "" && signal.Type != "TRADE" {
		log.Printf("[Engine] Skipping %s activity %d/%s", signal.Type, signal.LeaderID, signal.TradeID)
		e.metrics.RecordSkipped()
		return models.TradeOutcomeSkipped
	}
	if signal.Side != models.SideBuy && signal.Side != models.SideSell {
		e.metrics.RecordSkipped()
		return models.TradeOutcomeSkipped
	}

	negRisk, err := e.resolveMarket(ctx, signal)
	if err != nil {
		log.Printf("[Engine] Resolve market for %d/%s failed: %v", signal.LeaderID, signal.TradeID, err)
		e.metrics.RecordFailed()
		return models.TradeOutcomeFailed
	}

	configs, err := e.store.ListEnabledConfigsForLeader(ctx, signal.LeaderID)
	if err != nil {
		log.Printf("[Engine] List configs for leader %d failed: %v", signal.LeaderID, err)
		e.metrics.RecordFailed()
		return models.TradeOutcomeFailed
	}
	if len(configs) == 0 {
		e.metrics.RecordSkipped()
		return models.TradeOutcomeSkipped
	}

	var replicated, failed int
	for _, cfg := range configs {
		switch e.replicateForConfig(ctx, cfg, *signal, negRisk) {
		case models.TradeOutcomeReplicated:
			replicated++
		case models.TradeOutcomeFailed:
			failed++
		}
	}

	switch {
	case replicated > 0:
		e.metrics.RecordReplicated()
		return models.TradeOutcomeReplicated
	case failed > 0:
		e.metrics.RecordFailed()
		return models.TradeOutcomeFailed
	default:
		e.metrics.RecordFiltered()
		return models.TradeOutcomeFiltered
	}
}

// resolveMarket fills in whatever the detection channel could not know: the
// chain channel has only a token id, the poller has market and outcome. The
// token mapping cache short-circuits repeat lookups; misses go to the CLOB
// market metadata and backfill the cache.
func (e *Engine) resolveMarket(ctx context.Context, signal *models.TradeSignal) (negRisk bool, err error) {
	if signal.Market != "" && signal.OutcomeIndex >= 0 {
		mapping, err := e.store.GetTokenMapping(ctx, signal.Market, signal.OutcomeIndex)
		if err == nil && mapping != nil {
			if signal.TokenID == "" {
				signal.TokenID = mapping.TokenID
			}
			return mapping.NegRisk, nil
		}
	}

	if signal.Market == "" {
		if signal.TokenID == "" {
			return false, fmt.Errorf("signal has neither market nor token id")
		}
		bookCtx, cancel := context.WithTimeout(ctx, e.cfg.BookTimeout)
		book, err := e.exchange.GetOrderBook(bookCtx, signal.TokenID)
		cancel()
		if err != nil {
			return false, fmt.Errorf("resolve market from book: %w", err)
		}
		signal.Market = book.Market
	}

	info, err := e.exchange.GetMarket(ctx, signal.Market)
	if err != nil {
		return false, fmt.Errorf("market metadata %s: %w", signal.Market, err)
	}

	if signal.OutcomeIndex < 0 {
		signal.OutcomeIndex = -1
		for i, token := range info.Tokens {
			if token.TokenID == signal.TokenID {
				signal.OutcomeIndex = i
				break
			}
		}
		if signal.OutcomeIndex < 0 {
			return false, fmt.Errorf("token %s not in market %s", signal.TokenID, signal.Market)
		}
	}
	if signal.TokenID == "" && signal.OutcomeIndex < len(info.Tokens) {
		signal.TokenID = info.Tokens[signal.OutcomeIndex].TokenID
	}
	if signal.Category == "" {
		signal.Category = info.Category
	}

	if err := e.store.SaveTokenMapping(ctx, models.TokenMapping{
		Market:       signal.Market,
		OutcomeIndex: signal.OutcomeIndex,
		TokenID:      signal.TokenID,
		NegRisk:      info.NegRisk,
	}); err != nil {
		log.Printf("[Engine] Cache token mapping failed: %v", err)
	}
	return info.NegRisk, nil
}

// accountLock serializes submission per follower account; distinct accounts
// run in parallel.
func (e *Engine) accountLock(accountID int64) *sync.Mutex {
	e.accountMuMu.Lock()
	defer e.accountMuMu.Unlock()
	if lk, ok := e.accountMu[accountID]; ok {
		return lk
	}
	lk := &sync.Mutex{}
	e.accountMu[accountID] = lk
	return lk
}

func (e *Engine) replicateForConfig(ctx context.Context, cfg models.ReplicationConfig, signal models.TradeSignal, negRisk bool) string {
	account, err := e.store.GetAccount(ctx, cfg.AccountID)
	if err != nil || account == nil {
		log.Printf("[Engine] Config %d: account %d unavailable: %v", cfg.ID, cfg.AccountID, err)
		return models.TradeOutcomeSkipped
	}
	if !account.Enabled {
		return models.TradeOutcomeSkipped
	}

	creds, err := account.Credentials.Decrypt(e.cfg.CredentialKey)
	if err != nil {
		e.recordFailure(ctx, cfg, signal, 0, fmt.Sprintf("decrypt credentials: %v", err))
		return models.TradeOutcomeFailed
	}

	bookCtx, cancel := context.WithTimeout(ctx, e.cfg.BookTimeout)
	book, bookErr := e.exchange.GetOrderBook(bookCtx, signal.TokenID)
	cancel()
	if bookErr != nil {
		// A missing book is a filter condition for buys and a fallback
		// pricing path for sells, not a hard failure.
		log.Printf("[Engine] Config %d: book fetch for %s failed: %v", cfg.ID, signal.TokenID, bookErr)
		book = nil
	}

	if signal.Side == models.SideBuy {
		return e.replicateBuy(ctx, cfg, *account, creds, signal, negRisk, book)
	}
	return e.replicateSell(ctx, cfg, *account, creds, signal, negRisk, book)
}

func (e *Engine) replicateBuy(ctx context.Context, cfg models.ReplicationConfig, account models.FollowerAccount, creds models.Credentials, signal models.TradeSignal, negRisk bool, book *api.OrderBook) string {
	openValue, openCount, err := e.store.OpenPositionTotals(ctx, cfg.ID, signal.Market, signal.OutcomeIndex)
	if err != nil {
		e.recordFailure(ctx, cfg, signal, 0, fmt.Sprintf("open position totals: %v", err))
		return models.TradeOutcomeFailed
	}

	result, rejection := EvaluateBuy(cfg, signal, signal.Category, book, openValue, openCount)
	if rejection != nil {
		e.recordRejection(ctx, cfg, signal, rejection)
		return models.TradeOutcomeFiltered
	}

	args := api.OrderArgs{
		TokenID:       signal.TokenID,
		Side:          models.SideBuy,
		Price:         result.LimitPrice,
		Size:          result.Size,
		Maker:         account.MakerAddress(),
		Signer:        account.WalletAddress,
		SignatureType: account.SignatureType,
		NegRisk:       negRisk,
	}

	lock := e.accountLock(account.ID)
	lock.Lock()
	resp, err := e.submit.Submit(ctx, args, creds)
	lock.Unlock()
	if err != nil {
		e.recordFailure(ctx, cfg, signal, e.submitAttempts(), fmt.Sprintf("buy submission: %v", err))
		return models.TradeOutcomeFailed
	}

	lotID, err := e.store.InsertBuyLot(ctx, models.ReplicaBuyLot{
		ConfigID:     cfg.ID,
		Market:       signal.Market,
		OutcomeIndex: signal.OutcomeIndex,
		TokenID:      signal.TokenID,
		Quantity:     result.Size,
		Price:        result.LimitPrice,
		OrderID:      resp.OrderID,
	})
	if err != nil {
		// The order went out; losing the lot record is a bookkeeping failure
		// that must be visible, not silent.
		e.recordFailure(ctx, cfg, signal, 0, fmt.Sprintf("record buy lot after fill: %v", err))
		return models.TradeOutcomeFailed
	}

	log.Printf("[Engine] Config %d replicated BUY %.4f @ %.4f (lot %d, order %s)",
		cfg.ID, result.Size, result.LimitPrice, lotID, resp.OrderID)
	return models.TradeOutcomeReplicated
}

func (e *Engine) replicateSell(ctx context.Context, cfg models.ReplicationConfig, account models.FollowerAccount, creds models.Credentials, signal models.TradeSignal, negRisk bool, book *api.OrderBook) string {
	if !cfg.SupportsSell {
		e.recordRejection(ctx, cfg, signal, reject(ReasonSellUnsupported, "config does not replicate sells"))
		return models.TradeOutcomeFiltered
	}
	if cfg.CategoryExcluded(signal.Category) {
		e.recordRejection(ctx, cfg, signal, reject(ReasonCategoryExcluded, "category %q excluded", signal.Category))
		return models.TradeOutcomeFiltered
	}

	open, err := e.matcher.OpenRemaining(ctx, cfg.ID, signal.Market, signal.OutcomeIndex)
	if err != nil {
		e.recordFailure(ctx, cfg, signal, 0, fmt.Sprintf("open remaining: %v", err))
		return models.TradeOutcomeFailed
	}
	if open <= 0 {
		e.recordRejection(ctx, cfg, signal, reject(ReasonNoOpenLots, "no open lots for %s/%d", signal.Market, signal.OutcomeIndex))
		return models.TradeOutcomeFiltered
	}

	// Sell what the sizing rule asks for, capped at what we actually hold.
	target := SizeReplica(cfg, signal.Size, signal.Price)
	if target > open {
		target = open
	}
	if target <= 0 {
		e.recordRejection(ctx, cfg, signal, reject(ReasonSizeBelowMin, "sell target %.4f", target))
		return models.TradeOutcomeFiltered
	}

	discount := cfg.SellFallbackDiscount
	if discount <= 0 {
		discount = e.cfg.SellFallbackDiscount
	}
	price := SellPrice(book, signal.Price, discount)

	args := api.OrderArgs{
		TokenID:       signal.TokenID,
		Side:          models.SideSell,
		Price:         price,
		Size:          target,
		Maker:         account.MakerAddress(),
		Signer:        account.WalletAddress,
		SignatureType: account.SignatureType,
		NegRisk:       negRisk,
	}

	lock := e.accountLock(account.ID)
	lock.Lock()
	_, err = e.submit.Submit(ctx, args, creds)
	lock.Unlock()
	if err != nil {
		e.recordFailure(ctx, cfg, signal, e.submitAttempts(), fmt.Sprintf("sell submission: %v", err))
		return models.TradeOutcomeFailed
	}

	if _, err := e.matcher.MatchSell(ctx, cfg.ID, signal.Market, signal.OutcomeIndex, signal.TradeID, price, target); err != nil {
		e.recordFailure(ctx, cfg, signal, 0, fmt.Sprintf("match sell: %v", err))
		return models.TradeOutcomeFailed
	}

	log.Printf("[Engine] Config %d replicated SELL %.4f @ %.4f", cfg.ID, target, price)
	return models.TradeOutcomeReplicated
}

func (e *Engine) submitAttempts() int {
	if e.submit == nil {
		return 0
	}
	return e.submit.attempts
}

func (e *Engine) recordRejection(ctx context.Context, cfg models.ReplicationConfig, signal models.TradeSignal, rejection *Rejection) {
	log.Printf("[Engine] Config %d filtered trade %s: %s (%s)", cfg.ID, signal.TradeID, rejection.Reason, rejection.Detail)
	if err := e.store.SaveFilteredOrder(ctx, models.FilteredOrderRecord{
		ConfigID: cfg.ID,
		LeaderID: signal.LeaderID,
		TradeID:  signal.TradeID,
		Reason:   string(rejection.Reason),
		Detail:   rejection.Detail,
	}); err != nil {
		log.Printf("[Engine] Record rejection failed: %v", err)
	}
}

func (e *Engine) recordFailure(ctx context.Context, cfg models.ReplicationConfig, signal models.TradeSignal, retries int, detail string) {
	log.Printf("[Engine] Config %d failed trade %s: %s", cfg.ID, signal.TradeID, detail)
	if err := e.store.SaveFailedTrade(ctx, models.FailedTradeRecord{
		ID:         uuid.New().String(),
		ConfigID:   cfg.ID,
		LeaderID:   signal.LeaderID,
		TradeID:    signal.TradeID,
		Side:       signal.Side,
		Market:     signal.Market,
		TokenID:    signal.TokenID,
		Price:      signal.Price,
		Size:       signal.Size,
		Error:      detail,
		RetryCount: retries,
	}); err != nil {
		log.Printf("[Engine] Record failure failed: %v", err)
	}
	e.notifier.Send(notify.Event{
		Kind:     "replication_failed",
		ConfigID: cfg.ID,
		LeaderID: signal.LeaderID,
		TradeID:  signal.TradeID,
		Message:  detail,
	})
}

// OnConfigEnabled reacts to a config being switched on: the detector's
// leader set may now include a new address.
func (e *Engine) OnConfigEnabled(configID int64) {
	log.Printf("[Engine] Config %d enabled", configID)
	e.refreshDetector()
}

// OnConfigDisabled reacts to a config being switched off.
func (e *Engine) OnConfigDisabled(configID int64) {
	log.Printf("[Engine] Config %d disabled", configID)
	e.refreshDetector()
}

func (e *Engine) refreshDetector() {
	if e.detector == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.detector.RefreshLeaders(ctx); err != nil {
		log.Printf("[Engine] Detector refresh failed: %v", err)
	}
}
