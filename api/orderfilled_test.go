package api

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/wry5560/PolyHermes-sub002/models"
)

var (
	leaderAddr = common.HexToAddress("0xAAAA000000000000000000000000000000000001")
	otherAddr  = common.HexToAddress("0xBBBB000000000000000000000000000000000002")
)

// fillLog builds an OrderFilled log with the given legs.
func fillLog(maker, taker common.Address, makerAsset, takerAsset, makerAmt, takerAmt *big.Int) types.Log {
	data := make([]byte, 5*32)
	copy(data[0*32:], common.BigToHash(makerAsset).Bytes())
	copy(data[1*32:], common.BigToHash(takerAsset).Bytes())
	copy(data[2*32:], common.BigToHash(makerAmt).Bytes())
	copy(data[3*32:], common.BigToHash(takerAmt).Bytes())
	copy(data[4*32:], common.BigToHash(big.NewInt(0)).Bytes())

	return types.Log{
		Topics: []common.Hash{
			OrderFilledTopic,
			common.HexToHash("0x01"),
			common.BytesToHash(maker.Bytes()),
			common.BytesToHash(taker.Bytes()),
		},
		Data:   data,
		TxHash: common.HexToHash("0xdead"),
		Index:  7,
	}
}

func TestDecodeOrderFilled(t *testing.T) {
	lg := fillLog(leaderAddr, otherAddr, big.NewInt(0), big.NewInt(999), big.NewInt(3500000), big.NewInt(10000000))

	event, err := DecodeOrderFilled(lg)
	if err != nil {
		t.Fatalf("DecodeOrderFilled() error = %v", err)
	}
	if event.Maker != leaderAddr || event.Taker != otherAddr {
		t.Errorf("maker/taker = %s/%s", event.Maker.Hex(), event.Taker.Hex())
	}
	if event.MakerAssetID.Sign() != 0 || event.TakerAssetID.Int64() != 999 {
		t.Errorf("asset ids = %s/%s", event.MakerAssetID, event.TakerAssetID)
	}
	if event.MakerAmountFilled.Int64() != 3500000 || event.TakerAmountFilled.Int64() != 10000000 {
		t.Errorf("amounts = %s/%s", event.MakerAmountFilled, event.TakerAmountFilled)
	}
	if event.ID() != "0x000000000000000000000000000000000000000000000000000000000000dead:7" {
		t.Errorf("ID() = %s", event.ID())
	}
}

func TestDecodeOrderFilledRejectsOtherLogs(t *testing.T) {
	lg := fillLog(leaderAddr, otherAddr, big.NewInt(0), big.NewInt(1), big.NewInt(1), big.NewInt(1))
	lg.Topics[0] = common.HexToHash("0x1234")
	if _, err := DecodeOrderFilled(lg); err == nil {
		t.Fatal("expected error for foreign topic")
	}

	short := fillLog(leaderAddr, otherAddr, big.NewInt(0), big.NewInt(1), big.NewInt(1), big.NewInt(1))
	short.Data = short.Data[:64]
	if _, err := DecodeOrderFilled(short); err == nil {
		t.Fatal("expected error for truncated data")
	}
}

func TestClassifyLeaderFill(t *testing.T) {
	token := new(big.Int).Lsh(big.NewInt(1), 200) // realistic 256-bit-ish id

	tests := []struct {
		name       string
		lg         types.Log
		wantSide   models.Side
		wantShares float64
		wantPrice  float64
	}{
		{
			// Leader is maker spending collateral: 3.5 USDC for 10 shares.
			name:       "maker buy",
			lg:         fillLog(leaderAddr, otherAddr, big.NewInt(0), token, big.NewInt(3500000), big.NewInt(10000000)),
			wantSide:   models.SideBuy,
			wantShares: 10,
			wantPrice:  0.35,
		},
		{
			// Leader is maker sending shares: 20 shares for 9 USDC.
			name:       "maker sell",
			lg:         fillLog(leaderAddr, otherAddr, token, big.NewInt(0), big.NewInt(20000000), big.NewInt(9000000)),
			wantSide:   models.SideSell,
			wantShares: 20,
			wantPrice:  0.45,
		},
		{
			// Leader is taker receiving shares.
			name:       "taker buy",
			lg:         fillLog(otherAddr, leaderAddr, token, big.NewInt(0), big.NewInt(10000000), big.NewInt(4200000)),
			wantSide:   models.SideBuy,
			wantShares: 10,
			wantPrice:  0.42,
		},
		{
			// Neither leg zero: the small id is the collateral side.
			name:       "bitlen fallback",
			lg:         fillLog(leaderAddr, otherAddr, big.NewInt(12345), token, big.NewInt(5000000), big.NewInt(10000000)),
			wantSide:   models.SideBuy,
			wantShares: 10,
			wantPrice:  0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := DecodeOrderFilled(tt.lg)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			side, tokenID, shares, price, err := ClassifyLeaderFill(event, leaderAddr)
			if err != nil {
				t.Fatalf("ClassifyLeaderFill() error = %v", err)
			}
			if side != tt.wantSide {
				t.Errorf("side = %s, want %s", side, tt.wantSide)
			}
			if tokenID.Cmp(token) != 0 {
				t.Errorf("tokenID = %s, want %s", tokenID, token)
			}
			if shares != tt.wantShares {
				t.Errorf("shares = %v, want %v", shares, tt.wantShares)
			}
			if price != tt.wantPrice {
				t.Errorf("price = %v, want %v", price, tt.wantPrice)
			}
		})
	}
}

func TestClassifyLeaderFillNotInvolved(t *testing.T) {
	lg := fillLog(otherAddr, otherAddr, big.NewInt(0), big.NewInt(1), big.NewInt(1), big.NewInt(1))
	event, err := DecodeOrderFilled(lg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, _, _, _, err := ClassifyLeaderFill(event, leaderAddr); err == nil {
		t.Fatal("expected error for uninvolved wallet")
	}
}
