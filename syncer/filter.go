package syncer

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/wry5560/PolyHermes-sub002/api"
	"github.com/wry5560/PolyHermes-sub002/models"
)

// RejectReason is a typed business rejection from the sizing and filter
// pipeline. Rejections are expected outcomes, recorded but never retried.
type RejectReason string

const (
	ReasonSizeBelowMin      RejectReason = "SIZE_BELOW_MIN"
	ReasonSizeAboveMax      RejectReason = "SIZE_ABOVE_MAX"
	ReasonPriceBelowMin     RejectReason = "PRICE_BELOW_MIN"
	ReasonPriceAboveMax     RejectReason = "PRICE_ABOVE_MAX"
	ReasonCategoryExcluded  RejectReason = "CATEGORY_EXCLUDED"
	ReasonBookUnavailable   RejectReason = "BOOK_UNAVAILABLE"
	ReasonBookEmpty         RejectReason = "BOOK_EMPTY"
	ReasonSpreadTooWide     RejectReason = "SPREAD_TOO_WIDE"
	ReasonInsufficientDepth RejectReason = "INSUFFICIENT_DEPTH"
	ReasonPositionValueCap  RejectReason = "POSITION_VALUE_CAP"
	ReasonPositionCountCap  RejectReason = "POSITION_COUNT_CAP"
	ReasonSellUnsupported   RejectReason = "SELL_UNSUPPORTED"
	ReasonNoOpenLots        RejectReason = "NO_OPEN_LOTS"
)

// Rejection carries a typed reason plus a human-readable detail.
type Rejection struct {
	Reason RejectReason
	Detail string
}

func reject(reason RejectReason, format string, args ...interface{}) *Rejection {
	return &Rejection{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// FilterResult is an accepted order: the replica size in shares and the
// limit price to submit at.
type FilterResult struct {
	Size       float64
	LimitPrice float64
}

// SizeReplica derives the replica's share quantity from the leader's trade
// and the config's sizing mode. Decimal math end to end; float conversion
// happens once at the boundary.
func SizeReplica(cfg models.ReplicationConfig, leaderSize, leaderPrice float64) float64 {
	price := decimal.NewFromFloat(leaderPrice)
	switch cfg.SizingMode {
	case models.SizingFixed:
		if price.IsZero() {
			return 0
		}
		size, _ := decimal.NewFromFloat(cfg.FixedAmount).Div(price).Float64()
		return size
	default: // RATIO
		size, _ := decimal.NewFromFloat(leaderSize).Mul(decimal.NewFromFloat(cfg.CopyRatio)).Float64()
		return size
	}
}

// EvaluateBuy runs the full buy pipeline for one config: sizing, static
// filters, order book quality gates, price tolerance with best-ask clamp,
// and position caps. openValue and openCount are the config's current open
// lot totals for this market and outcome. Pure; identical inputs produce
// identical results.
func EvaluateBuy(cfg models.ReplicationConfig, signal models.TradeSignal, category string, book *api.OrderBook, openValue float64, openCount int) (FilterResult, *Rejection) {
	if cfg.CategoryExcluded(category) {
		return FilterResult{}, reject(ReasonCategoryExcluded, "category %q excluded", category)
	}

	size := SizeReplica(cfg, signal.Size, signal.Price)
	if size < cfg.MinOrderSize {
		return FilterResult{}, reject(ReasonSizeBelowMin, "size %.4f below min %.4f", size, cfg.MinOrderSize)
	}
	if cfg.MaxOrderSize > 0 && size > cfg.MaxOrderSize {
		return FilterResult{}, reject(ReasonSizeAboveMax, "size %.4f above max %.4f", size, cfg.MaxOrderSize)
	}
	if signal.Price < cfg.MinPrice {
		return FilterResult{}, reject(ReasonPriceBelowMin, "price %.4f below min %.4f", signal.Price, cfg.MinPrice)
	}
	if cfg.MaxPrice > 0 && signal.Price > cfg.MaxPrice {
		return FilterResult{}, reject(ReasonPriceAboveMax, "price %.4f above max %.4f", signal.Price, cfg.MaxPrice)
	}

	if book == nil {
		return FilterResult{}, reject(ReasonBookUnavailable, "order book unavailable")
	}
	bestAsk, haveAsk := book.BestAsk()
	if !haveAsk {
		return FilterResult{}, reject(ReasonBookEmpty, "no asks in book")
	}
	if cfg.MaxSpreadPct > 0 {
		spread, ok := book.Spread()
		if !ok {
			return FilterResult{}, reject(ReasonBookEmpty, "one-sided book, spread unknown")
		}
		if spread > cfg.MaxSpreadPct {
			return FilterResult{}, reject(ReasonSpreadTooWide, "spread %.4f above max %.4f", spread, cfg.MaxSpreadPct)
		}
	}
	if cfg.MinOrderDepth > 0 {
		depth := book.DepthAt(models.SideBuy)
		if depth < cfg.MinOrderDepth {
			return FilterResult{}, reject(ReasonInsufficientDepth, "ask depth %.4f below min %.4f", depth, cfg.MinOrderDepth)
		}
	}

	// Limit shifted in the taker's favor, but never above the live ask.
	limit := signal.Price * (1 + cfg.PriceTolerancePct)
	if limit > bestAsk {
		limit = bestAsk
	}

	// Position caps: shrink to remaining headroom, reject at zero headroom.
	if cfg.MaxPositionCount > 0 && openCount >= cfg.MaxPositionCount {
		return FilterResult{}, reject(ReasonPositionCountCap, "%d open lots at cap %d", openCount, cfg.MaxPositionCount)
	}
	if cfg.MaxPositionValue > 0 {
		headroom := cfg.MaxPositionValue - openValue
		if headroom <= 0 {
			return FilterResult{}, reject(ReasonPositionValueCap, "open value %.2f at cap %.2f", openValue, cfg.MaxPositionValue)
		}
		if size*limit > headroom {
			shrunk := headroom / limit
			if shrunk < cfg.MinOrderSize {
				return FilterResult{}, reject(ReasonPositionValueCap, "headroom %.2f leaves size %.4f below min", headroom, shrunk)
			}
			size = shrunk
		}
	}

	return FilterResult{Size: size, LimitPrice: limit}, nil
}

// SellPrice picks the replica's sell price: the live best bid when one
// exists, otherwise the leader's price haircut by the fallback discount.
// The replica always sells after the leader did, so the raw leader price is
// never trusted.
func SellPrice(book *api.OrderBook, leaderPrice, fallbackDiscount float64) float64 {
	if book != nil {
		if bid, ok := book.BestBid(); ok {
			return bid
		}
	}
	return leaderPrice * (1 - fallbackDiscount)
}
