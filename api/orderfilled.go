package api

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/wry5560/PolyHermes-sub002/models"
)

// OrderFilledTopic is the topic0 of the exchange's fill event:
// OrderFilled(bytes32 orderHash, address indexed maker, address indexed
// taker, uint256 makerAssetId, uint256 takerAssetId, uint256
// makerAmountFilled, uint256 takerAmountFilled, uint256 fee).
var OrderFilledTopic = crypto.Keccak256Hash([]byte(
	"OrderFilled(bytes32,address,address,uint256,uint256,uint256,uint256,uint256)",
))

// usdcPerShare scale shared by USDC and outcome tokens.
var baseUnit = big.NewFloat(1e6)

// OrderFilledEvent is one decoded fill.
type OrderFilledEvent struct {
	OrderHash common.Hash
	Maker     common.Address
	Taker     common.Address

	MakerAssetID      *big.Int
	TakerAssetID      *big.Int
	MakerAmountFilled *big.Int
	TakerAmountFilled *big.Int
	Fee               *big.Int

	TxHash   common.Hash
	LogIndex uint
}

// DecodeOrderFilled parses an OrderFilled log. The order hash, maker and
// taker are indexed; the five amounts sit in the data as 32-byte words.
func DecodeOrderFilled(lg types.Log) (*OrderFilledEvent, error) {
	if len(lg.Topics) != 4 || lg.Topics[0] != OrderFilledTopic {
		return nil, fmt.Errorf("not an OrderFilled log")
	}
	if len(lg.Data) < 5*32 {
		return nil, fmt.Errorf("OrderFilled data too short: %d bytes", len(lg.Data))
	}

	word := func(i int) *big.Int {
		return new(big.Int).SetBytes(lg.Data[i*32 : (i+1)*32])
	}

	return &OrderFilledEvent{
		OrderHash:         lg.Topics[1],
		Maker:             common.BytesToAddress(lg.Topics[2].Bytes()),
		Taker:             common.BytesToAddress(lg.Topics[3].Bytes()),
		MakerAssetID:      word(0),
		TakerAssetID:      word(1),
		MakerAmountFilled: word(2),
		TakerAmountFilled: word(3),
		Fee:               word(4),
		TxHash:            lg.TxHash,
		LogIndex:          lg.Index,
	}, nil
}

// ID identifies this single fill log within its transaction.
func (e *OrderFilledEvent) ID() string {
	return fmt.Sprintf("%s:%d", strings.ToLower(e.TxHash.Hex()), e.LogIndex)
}

// TradeID is the dedup identity of a leader trade: the same value the
// trade-history API yields for the same economic event, so a trade observed
// by both detection channels claims the same (leader, trade) key.
func TradeID(txHash common.Hash, tokenID *big.Int, side string) string {
	return fmt.Sprintf("%s:%s:%s", strings.ToLower(txHash.Hex()), tokenID.String(), side)
}

// InvolvesWallet reports whether the wallet is the fill's maker or taker.
func (e *OrderFilledEvent) InvolvesWallet(wallet common.Address) bool {
	return e.Maker == wallet || e.Taker == wallet
}

// ClassifyLeaderFill derives the leader's side, token, share size and price
// from a fill the leader participated in. The collateral leg has asset id
// zero: when the leader's outgoing leg is collateral the leader bought; when
// the incoming leg is collateral the leader sold. Price is the collateral
// amount over the share amount, both in 1e6 base units.
func ClassifyLeaderFill(e *OrderFilledEvent, leader common.Address) (side models.Side, tokenID *big.Int, shares, price float64, err error) {
	var outAsset, inAsset, outAmount, inAmount *big.Int
	switch leader {
	case e.Maker:
		outAsset, inAsset = e.MakerAssetID, e.TakerAssetID
		outAmount, inAmount = e.MakerAmountFilled, e.TakerAmountFilled
	case e.Taker:
		outAsset, inAsset = e.TakerAssetID, e.MakerAssetID
		outAmount, inAmount = e.TakerAmountFilled, e.MakerAmountFilled
	default:
		return "", nil, 0, 0, fmt.Errorf("wallet %s not in fill %s", leader.Hex(), e.ID())
	}

	var collateralOut bool
	switch {
	case outAsset.Sign() == 0:
		collateralOut = true
	case inAsset.Sign() == 0:
		collateralOut = false
	default:
		// Neither leg is the zero id. Outcome token ids are keccak-derived
		// 256-bit values, so a leg that fits in 160 bits is the collateral
		// side of a wrapped-collateral fill.
		if outAsset.BitLen() <= 160 && inAsset.BitLen() > 160 {
			collateralOut = true
		} else if inAsset.BitLen() <= 160 && outAsset.BitLen() > 160 {
			collateralOut = false
		} else {
			return "", nil, 0, 0, fmt.Errorf("fill %s: cannot identify collateral leg", e.ID())
		}
	}

	var usdc, shareUnits *big.Int
	if collateralOut {
		side = models.SideBuy
		tokenID = inAsset
		usdc, shareUnits = outAmount, inAmount
	} else {
		side = models.SideSell
		tokenID = outAsset
		usdc, shareUnits = inAmount, outAmount
	}

	if shareUnits.Sign() == 0 {
		return "", nil, 0, 0, fmt.Errorf("fill %s: zero share amount", e.ID())
	}

	sharesF := new(big.Float).Quo(new(big.Float).SetInt(shareUnits), baseUnit)
	usdcF := new(big.Float).Quo(new(big.Float).SetInt(usdc), baseUnit)
	shares, _ = sharesF.Float64()
	priceF := new(big.Float).Quo(usdcF, sharesF)
	price, _ = priceF.Float64()
	return side, tokenID, shares, price, nil
}
