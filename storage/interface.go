// Package storage persists the replication engine's records.
package storage

import (
	"context"

	"github.com/wry5560/PolyHermes-sub002/models"
)

// EngineStore is the storage contract for the replication engine. The engine
// exclusively owns processed trades, buy lots, sell matches, filtered orders
// and failed trades; leaders, accounts and configs are owned by the admin
// layer and read-only here.
type EngineStore interface {
	Close() error

	// Admin-owned records (read-only to the engine, except the enabled flag
	// which the read API toggles on behalf of the admin layer).
	// ListWatchedLeaders returns only leaders with at least one enabled
	// config; the detection channels monitor exactly this set.
	ListWatchedLeaders(ctx context.Context) ([]models.Leader, error)
	ListEnabledConfigsForLeader(ctx context.Context, leaderID int64) ([]models.ReplicationConfig, error)
	GetConfig(ctx context.Context, configID int64) (*models.ReplicationConfig, error)
	SetConfigEnabled(ctx context.Context, configID int64, enabled bool) error
	GetAccount(ctx context.Context, accountID int64) (*models.FollowerAccount, error)

	// Dedup gate. Returns true only for the single caller that wins the
	// (leaderID, tradeID) claim; every concurrent or later caller gets false.
	TryClaimTrade(ctx context.Context, leaderID int64, tradeID, tradeType string, source models.SignalSource) (bool, error)
	SetTradeOutcome(ctx context.Context, leaderID int64, tradeID, status string) error

	// Position ledger.
	InsertBuyLot(ctx context.Context, lot models.ReplicaBuyLot) (int64, error)
	FindOpenLotsFIFO(ctx context.Context, configID int64, market string, outcomeIndex int) ([]models.ReplicaBuyLot, error)
	OpenPositionTotals(ctx context.Context, configID int64, market string, outcomeIndex int) (value float64, count int, err error)
	// ApplySellMatch consumes lot slices and records the match atomically.
	// It fails without side effects if any lot no longer has the remaining
	// quantity a detail claims.
	ApplySellMatch(ctx context.Context, rec models.SellMatchRecord, details []models.SellMatchDetail) error
	ListOpenLots(ctx context.Context, configID int64) ([]models.ReplicaBuyLot, error)
	ListMatchHistory(ctx context.Context, configID int64, limit int) ([]models.SellMatchRecord, error)
	ListMatchDetails(ctx context.Context, matchID string) ([]models.SellMatchDetail, error)

	// Operator visibility.
	SaveFailedTrade(ctx context.Context, rec models.FailedTradeRecord) error
	SaveFilteredOrder(ctx context.Context, rec models.FilteredOrderRecord) error

	// Token metadata cache.
	GetTokenMapping(ctx context.Context, market string, outcomeIndex int) (*models.TokenMapping, error)
	SaveTokenMapping(ctx context.Context, m models.TokenMapping) error
}

// Both implementations must satisfy the same contract.
var (
	_ EngineStore = (*PostgresStore)(nil)
	_ EngineStore = (*MemoryStore)(nil)
)
