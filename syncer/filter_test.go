package syncer

import (
	"math"
	"testing"

	"github.com/wry5560/PolyHermes-sub002/api"
	"github.com/wry5560/PolyHermes-sub002/models"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func bookWith(bids, asks []api.OrderBookLevel) *api.OrderBook {
	return &api.OrderBook{Bids: bids, Asks: asks}
}

func levels(pairs ...string) []api.OrderBookLevel {
	var out []api.OrderBookLevel
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, api.OrderBookLevel{Price: pairs[i], Size: pairs[i+1]})
	}
	return out
}

func baseConfig() models.ReplicationConfig {
	return models.ReplicationConfig{
		ID:           1,
		SizingMode:   models.SizingRatio,
		CopyRatio:    0.1,
		MinOrderSize: 1,
		Enabled:      true,
	}
}

func baseSignal() models.TradeSignal {
	return models.TradeSignal{
		LeaderID: 1,
		TradeID:  "t1",
		Side:     models.SideBuy,
		Market:   "0xcond",
		TokenID:  "123",
		Price:    0.35,
		Size:     100,
	}
}

func TestSizeReplica(t *testing.T) {
	tests := []struct {
		name        string
		mode        models.SizingMode
		ratio       float64
		fixed       float64
		leaderSize  float64
		leaderPrice float64
		want        float64
	}{
		{"ratio", models.SizingRatio, 0.1, 0, 100, 0.35, 10},
		{"ratio fractional", models.SizingRatio, 0.05, 0, 33, 0.5, 1.65},
		{"fixed", models.SizingFixed, 0, 50, 100, 0.5, 100},
		{"fixed odd price", models.SizingFixed, 0, 10, 100, 0.4, 25},
		{"fixed zero price", models.SizingFixed, 0, 10, 100, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := models.ReplicationConfig{SizingMode: tt.mode, CopyRatio: tt.ratio, FixedAmount: tt.fixed}
			got := SizeReplica(cfg, tt.leaderSize, tt.leaderPrice)
			if !almostEqual(got, tt.want) {
				t.Errorf("SizeReplica() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluateBuyAccepts(t *testing.T) {
	cfg := baseConfig()
	cfg.PriceTolerancePct = 0.02
	book := bookWith(levels("0.34", "50"), levels("0.36", "80"))

	result, rejection := EvaluateBuy(cfg, baseSignal(), "sports", book, 0, 0)
	if rejection != nil {
		t.Fatalf("unexpected rejection: %s (%s)", rejection.Reason, rejection.Detail)
	}
	if !almostEqual(result.Size, 10) {
		t.Errorf("size = %v, want 10", result.Size)
	}
	// 0.35 * 1.02 = 0.357, below the 0.36 ask so no clamp.
	if !almostEqual(result.LimitPrice, 0.357) {
		t.Errorf("limit = %v, want 0.357", result.LimitPrice)
	}
}

func TestEvaluateBuyClampsToBestAsk(t *testing.T) {
	cfg := baseConfig()
	cfg.PriceTolerancePct = 0.10
	book := bookWith(levels("0.34", "50"), levels("0.36", "80"))

	result, rejection := EvaluateBuy(cfg, baseSignal(), "", book, 0, 0)
	if rejection != nil {
		t.Fatalf("unexpected rejection: %s", rejection.Reason)
	}
	// 0.35 * 1.10 = 0.385 exceeds the ask; clamp to 0.36.
	if !almostEqual(result.LimitPrice, 0.36) {
		t.Errorf("limit = %v, want clamp to 0.36", result.LimitPrice)
	}
}

func TestEvaluateBuyRejections(t *testing.T) {
	goodBook := bookWith(levels("0.34", "50"), levels("0.36", "80"))

	tests := []struct {
		name       string
		mutate     func(*models.ReplicationConfig, *models.TradeSignal)
		book       *api.OrderBook
		category   string
		openValue  float64
		openCount  int
		wantReason RejectReason
	}{
		{
			name:       "size below min",
			mutate:     func(c *models.ReplicationConfig, s *models.TradeSignal) { c.MinOrderSize = 50 },
			book:       goodBook,
			wantReason: ReasonSizeBelowMin,
		},
		{
			name:       "size above max",
			mutate:     func(c *models.ReplicationConfig, s *models.TradeSignal) { c.MaxOrderSize = 5 },
			book:       goodBook,
			wantReason: ReasonSizeAboveMax,
		},
		{
			name:       "price below min",
			mutate:     func(c *models.ReplicationConfig, s *models.TradeSignal) { c.MinPrice = 0.40 },
			book:       goodBook,
			wantReason: ReasonPriceBelowMin,
		},
		{
			name:       "price above max",
			mutate:     func(c *models.ReplicationConfig, s *models.TradeSignal) { c.MaxPrice = 0.30 },
			book:       goodBook,
			wantReason: ReasonPriceAboveMax,
		},
		{
			name:       "excluded category",
			mutate:     func(c *models.ReplicationConfig, s *models.TradeSignal) { c.ExcludedCategories = []string{"sports"} },
			book:       goodBook,
			category:   "sports",
			wantReason: ReasonCategoryExcluded,
		},
		{
			name:       "book unavailable",
			mutate:     func(c *models.ReplicationConfig, s *models.TradeSignal) {},
			book:       nil,
			wantReason: ReasonBookUnavailable,
		},
		{
			name:       "no asks",
			mutate:     func(c *models.ReplicationConfig, s *models.TradeSignal) {},
			book:       bookWith(levels("0.34", "50"), nil),
			wantReason: ReasonBookEmpty,
		},
		{
			name:       "spread too wide",
			mutate:     func(c *models.ReplicationConfig, s *models.TradeSignal) { c.MaxSpreadPct = 0.01 },
			book:       bookWith(levels("0.30", "50"), levels("0.40", "80")),
			wantReason: ReasonSpreadTooWide,
		},
		{
			name:       "insufficient depth",
			mutate:     func(c *models.ReplicationConfig, s *models.TradeSignal) { c.MinOrderDepth = 500 },
			book:       goodBook,
			wantReason: ReasonInsufficientDepth,
		},
		{
			name:       "position count cap",
			mutate:     func(c *models.ReplicationConfig, s *models.TradeSignal) { c.MaxPositionCount = 3 },
			book:       goodBook,
			openCount:  3,
			wantReason: ReasonPositionCountCap,
		},
		{
			name:       "position value cap exhausted",
			mutate:     func(c *models.ReplicationConfig, s *models.TradeSignal) { c.MaxPositionValue = 100 },
			book:       goodBook,
			openValue:  100,
			wantReason: ReasonPositionValueCap,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			signal := baseSignal()
			tt.mutate(&cfg, &signal)

			_, rejection := EvaluateBuy(cfg, signal, tt.category, tt.book, tt.openValue, tt.openCount)
			if rejection == nil {
				t.Fatal("expected rejection")
			}
			if rejection.Reason != tt.wantReason {
				t.Errorf("reason = %s, want %s", rejection.Reason, tt.wantReason)
			}
		})
	}
}

func TestEvaluateBuyIdempotent(t *testing.T) {
	cfg := baseConfig()
	cfg.PriceTolerancePct = 0.02
	cfg.MaxPositionValue = 100
	book := bookWith(levels("0.34", "50"), levels("0.36", "80"))

	// Identical inputs decide identically, accept or reject.
	first, rej := EvaluateBuy(cfg, baseSignal(), "sports", book, 20, 1)
	second, rej2 := EvaluateBuy(cfg, baseSignal(), "sports", book, 20, 1)
	if rej != nil || rej2 != nil {
		t.Fatalf("unexpected rejections: %v, %v", rej, rej2)
	}
	if first.Size != second.Size || first.LimitPrice != second.LimitPrice {
		t.Errorf("results differ: %v/%v vs %v/%v",
			first.Size, first.LimitPrice, second.Size, second.LimitPrice)
	}

	cfg.MinOrderSize = 50
	_, r1 := EvaluateBuy(cfg, baseSignal(), "sports", book, 20, 1)
	_, r2 := EvaluateBuy(cfg, baseSignal(), "sports", book, 20, 1)
	if r1 == nil || r2 == nil || r1.Reason != r2.Reason {
		t.Errorf("rejections differ: %+v vs %+v", r1, r2)
	}
}

func TestEvaluateBuyShrinksToHeadroom(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxPositionValue = 100
	book := bookWith(levels("0.49", "100"), levels("0.50", "200"))

	signal := baseSignal()
	signal.Price = 0.50
	signal.Size = 1000 // ratio 0.1 -> replica wants 100 shares = $50

	// $98 already open leaves $2 headroom: 4 shares at the 0.50 limit.
	result, rejection := EvaluateBuy(cfg, signal, "", book, 98, 1)
	if rejection != nil {
		t.Fatalf("unexpected rejection: %s", rejection.Reason)
	}
	if !almostEqual(result.Size, 4) {
		t.Errorf("size = %v, want shrink to 4", result.Size)
	}
}

func TestEvaluateBuyShrinkBelowMinRejects(t *testing.T) {
	cfg := baseConfig()
	cfg.MinOrderSize = 10
	cfg.MaxPositionValue = 100
	book := bookWith(levels("0.49", "100"), levels("0.50", "200"))

	signal := baseSignal()
	signal.Price = 0.50
	signal.Size = 1000

	_, rejection := EvaluateBuy(cfg, signal, "", book, 98, 1)
	if rejection == nil || rejection.Reason != ReasonPositionValueCap {
		t.Fatalf("rejection = %+v, want POSITION_VALUE_CAP", rejection)
	}
}

func TestSellPrice(t *testing.T) {
	withBids := bookWith(levels("0.44", "100"), levels("0.46", "100"))
	noBids := bookWith(nil, levels("0.46", "100"))

	if got := SellPrice(withBids, 0.50, 0.10); !almostEqual(got, 0.44) {
		t.Errorf("SellPrice with bids = %v, want best bid 0.44", got)
	}
	if got := SellPrice(noBids, 0.50, 0.10); !almostEqual(got, 0.45) {
		t.Errorf("SellPrice empty book = %v, want 0.50*0.90 = 0.45", got)
	}
	if got := SellPrice(nil, 0.50, 0.20); !almostEqual(got, 0.40) {
		t.Errorf("SellPrice nil book = %v, want 0.40", got)
	}
}
