// Package models holds the domain records shared by the replication engine.
package models

import (
	"time"
)

// SignalSource identifies which detection channel delivered a trade signal.
type SignalSource string

const (
	SourceWebsocket SignalSource = "WEBSOCKET"
	SourcePoller    SignalSource = "POLLER"
)

// Side of a trade, leader or replica.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// SizingMode selects how a replica order is sized from the leader's trade.
type SizingMode string

const (
	// SizingRatio multiplies the leader's share quantity by CopyRatio.
	SizingRatio SizingMode = "RATIO"
	// SizingFixed spends FixedAmount USDC per leader trade regardless of the
	// leader's own size.
	SizingFixed SizingMode = "FIXED"
)

// Leader is a trader whose fills are being replicated. Created by an
// operator; the engine only reads these.
type Leader struct {
	ID       int64
	Address  string
	Category string
	Label    string
}

// FollowerAccount is a wallet that replicates a leader's trades. The CLOB
// API secret, passphrase and signing key are stored encrypted; Decrypt turns
// them into usable credentials right before an order is built.
type FollowerAccount struct {
	ID            int64
	WalletAddress string
	// FunderAddress is the proxy wallet holding USDC; it becomes the order
	// maker. Empty means the wallet itself is the maker (EOA).
	FunderAddress string
	SignatureType int
	Credentials   EncryptedCredentials
	Enabled       bool
}

// MakerAddress returns the address used as order maker for this account.
func (a FollowerAccount) MakerAddress() string {
	if a.FunderAddress != "" {
		return a.FunderAddress
	}
	return a.WalletAddress
}

// ReplicationConfig links one follower account to one leader, with all the
// sizing and filtering knobs applied per trade. Mutated by the admin layer;
// the engine reads the enabled set on every signal.
type ReplicationConfig struct {
	ID        int64
	AccountID int64
	LeaderID  int64

	SizingMode  SizingMode
	CopyRatio   float64 // RATIO mode: replica qty = leader qty * CopyRatio
	FixedAmount float64 // FIXED mode: USDC notional per trade

	MinOrderSize float64 // shares
	MaxOrderSize float64 // shares, 0 = unbounded
	MinPrice     float64
	MaxPrice     float64 // 0 = unbounded

	PriceTolerancePct float64 // buy limit shifted in the taker's favor
	MaxSpreadPct      float64 // reject when book spread exceeds this, 0 = off
	MinOrderDepth     float64 // shares available at the relevant side

	MaxPositionValue float64 // USDC across open lots, 0 = unbounded
	MaxPositionCount int     // open lot count, 0 = unbounded

	ExcludedCategories []string

	SupportsSell bool
	// SellFallbackDiscount is applied to the leader's sell price when the
	// live book has no bids. The replica sells later than the leader, so the
	// unadjusted leader price is never used.
	SellFallbackDiscount float64

	Enabled bool
}

// CategoryExcluded reports whether a market category is filtered out.
func (c ReplicationConfig) CategoryExcluded(category string) bool {
	for _, ex := range c.ExcludedCategories {
		if ex != "" && ex == category {
			return true
		}
	}
	return false
}

// TradeSignal is a leader trade as observed by either detection channel.
type TradeSignal struct {
	LeaderID int64
	TradeID  string

	Type         string // TRADE, REDEEM, SPLIT, MERGE
	Side         Side
	Market       string // condition id
	TokenID      string
	OutcomeIndex int
	Category     string

	Price    float64
	Size     float64 // leader share quantity
	UsdcSize float64

	TxHash    string
	Timestamp time.Time
	Source    SignalSource
}

// Processing outcome recorded against a claimed trade.
const (
	TradeOutcomePending    = "PENDING"
	TradeOutcomeReplicated = "REPLICATED"
	TradeOutcomeFiltered   = "FILTERED"
	TradeOutcomeFailed     = "FAILED"
	TradeOutcomeSkipped    = "SKIPPED"
)

// ProcessedTradeRecord is the dedup gate: exactly one row ever exists per
// (LeaderID, TradeID). It is written the moment a signal wins the claim,
// before any order is submitted.
type ProcessedTradeRecord struct {
	LeaderID  int64
	TradeID   string
	TradeType string
	Source    SignalSource
	Status    string
	CreatedAt time.Time
}

// Lot status values. Transitions are monotonic:
// filled -> partially_matched -> fully_matched.
const (
	LotStatusFilled           = "filled"
	LotStatusPartiallyMatched = "partially_matched"
	LotStatusFullyMatched     = "fully_matched"
)

// ReplicaBuyLot is one successful replica buy, tracked for FIFO matching.
// RemainingQuantity only ever decreases and never goes negative.
type ReplicaBuyLot struct {
	ID           int64
	ConfigID     int64
	Market       string
	OutcomeIndex int
	TokenID      string

	Quantity          float64
	Price             float64
	MatchedQuantity   float64
	RemainingQuantity float64
	Status            string

	OrderID   string
	CreatedAt time.Time
}

// SellMatchRecord is written once per replica sell, atomically with its
// details. Immutable afterward.
type SellMatchRecord struct {
	ID           string // uuid
	ConfigID     int64
	Market       string
	OutcomeIndex int
	SellTradeID  string

	SellPrice         float64
	TargetQuantity    float64
	MatchedQuantity   float64
	UnmatchedQuantity float64

	CreatedAt time.Time
}

// SellMatchDetail links one sell to one consumed buy lot slice.
type SellMatchDetail struct {
	ID              string // uuid
	MatchID         string
	LotID           int64
	MatchedQuantity float64
	BuyPrice        float64
	SellPrice       float64
	RealizedPnl     float64
}

// FailedTradeRecord captures a replication attempt that exhausted retries.
type FailedTradeRecord struct {
	ID       string // uuid
	ConfigID int64
	LeaderID int64
	TradeID  string

	Side    Side
	Market  string
	TokenID string
	Price   float64
	Size    float64

	Error      string
	RetryCount int
	CreatedAt  time.Time
}

// FilteredOrderRecord captures an expected business rejection by the sizing
// and filter pipeline. Never retried, never a FailedTradeRecord.
type FilteredOrderRecord struct {
	ConfigID  int64
	LeaderID  int64
	TradeID   string
	Reason    string
	Detail    string
	CreatedAt time.Time
}

// TokenMapping caches the resolution of (market, outcome index) to the
// tradable token id and the neg-risk flag of its exchange deployment.
type TokenMapping struct {
	Market       string
	OutcomeIndex int
	TokenID      string
	NegRisk      bool
}
