package api

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/shopspring/decimal"

	"github.com/wry5560/PolyHermes-sub002/models"
)

// ErrInvalidOrderParameters marks malformed build input. Retrying a
// malformed order cannot succeed, so callers must not retry on it.
var ErrInvalidOrderParameters = errors.New("invalid order parameters")

const zeroAddress = "0x0000000000000000000000000000000000000000"

// Decimal rails enforced by the exchange API: on a buy the maker leg is
// collateral (2 decimals max) and the taker leg shares (4 decimals max); a
// sell flips the legs.
const (
	collateralDecimals = 2
	shareDecimals      = 4
	baseUnitDecimals   = 6 // USDC and outcome tokens both use 1e6 base units
)

// SignedOrder is the exchange's order object in wire form.
type SignedOrder struct {
	Salt          int64  `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          string `json:"side"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`

	sideInt int
}

// OrderArgs is everything needed to build and sign one order.
type OrderArgs struct {
	TokenID string
	Side    models.Side
	Price   float64
	Size    float64 // shares

	Maker         string // funder address, holds the collateral
	Signer        string // wallet address matching the private key
	SignatureType int
	FeeRateBps    int
	NegRisk       bool
}

// OrderBuilder produces signed orders for one exchange deployment.
type OrderBuilder struct {
	chainID             int64
	exchangeAddr        string
	negRiskExchangeAddr string
	saltFn              func() int64
}

// NewOrderBuilder wires an order builder for a chain and its exchange
// contracts. saltFn may be nil; the default derives the salt from the
// current time in milliseconds so every signing attempt yields a fresh,
// non-replayable order.
func NewOrderBuilder(chainID int64, exchangeAddr, negRiskExchangeAddr string, saltFn func() int64) *OrderBuilder {
	if saltFn == nil {
		saltFn = func() int64 { return time.Now().UnixMilli() }
	}
	return &OrderBuilder{
		chainID:             chainID,
		exchangeAddr:        exchangeAddr,
		negRiskExchangeAddr: negRiskExchangeAddr,
		saltFn:              saltFn,
	}
}

// ComputeAmounts derives the on-chain integer amounts from a (side, price,
// size) tuple. Every step truncates, never rounds up:
//
//	BUY:  makerAmount = price*size truncated to 2 decimals (USDC spend),
//	      takerAmount = size truncated to 4 decimals (shares received).
//	SELL: makerAmount = size truncated to 4 decimals (shares sold),
//	      takerAmount = price*size from the untruncated product (USDC
//	      received), so rounding error never compounds on the settlement leg.
func ComputeAmounts(side models.Side, price, size float64) (makerUnits, takerUnits *big.Int, err error) {
	if price <= 0 || size <= 0 {
		return nil, nil, fmt.Errorf("%w: price=%v size=%v", ErrInvalidOrderParameters, price, size)
	}

	priceDec := decimal.NewFromFloat(price)
	sizeDec := decimal.NewFromFloat(size)
	notional := priceDec.Mul(sizeDec)

	var maker, taker decimal.Decimal
	switch side {
	case models.SideBuy:
		maker = notional.Truncate(collateralDecimals)
		taker = sizeDec.Truncate(shareDecimals)
	case models.SideSell:
		maker = sizeDec.Truncate(shareDecimals)
		taker = notional
	default:
		return nil, nil, fmt.Errorf("%w: side %q", ErrInvalidOrderParameters, side)
	}

	makerUnits = toBaseUnits(maker)
	takerUnits = toBaseUnits(taker)
	if makerUnits.Sign() <= 0 || takerUnits.Sign() <= 0 {
		return nil, nil, fmt.Errorf("%w: amount truncates to zero", ErrInvalidOrderParameters)
	}
	return makerUnits, takerUnits, nil
}

// toBaseUnits scales a decimal amount to 1e6 integer units, truncating any
// precision beyond the base unit.
func toBaseUnits(d decimal.Decimal) *big.Int {
	return d.Shift(baseUnitDecimals).Truncate(0).BigInt()
}

// BuildSigned converts the args into exact on-chain amounts, hashes the
// order as EIP-712 typed data and signs it. Pure apart from the salt: the
// same args with the same salt produce an identical payload. Never retries
// internally; a retry must come back through here for a fresh salt.
func (b *OrderBuilder) BuildSigned(args OrderArgs, privateKeyHex string) (*SignedOrder, error) {
	if args.TokenID == "" {
		return nil, fmt.Errorf("%w: empty token id", ErrInvalidOrderParameters)
	}
	if !common.IsHexAddress(args.Maker) || !common.IsHexAddress(args.Signer) {
		return nil, fmt.Errorf("%w: maker=%q signer=%q", ErrInvalidOrderParameters, args.Maker, args.Signer)
	}

	makerUnits, takerUnits, err := ComputeAmounts(args.Side, args.Price, args.Size)
	if err != nil {
		return nil, err
	}

	sideInt := 0
	if args.Side == models.SideSell {
		sideInt = 1
	}

	order := &SignedOrder{
		Salt:          b.saltFn(),
		Maker:         common.HexToAddress(args.Maker).Hex(),
		Signer:        common.HexToAddress(args.Signer).Hex(),
		Taker:         zeroAddress,
		TokenID:       args.TokenID,
		MakerAmount:   makerUnits.String(),
		TakerAmount:   takerUnits.String(),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    strconv.Itoa(args.FeeRateBps),
		Side:          string(args.Side),
		SignatureType: args.SignatureType,
		sideInt:       sideInt,
	}

	privateKey, err := parsePrivateKey(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOrderParameters, err)
	}

	contract := b.exchangeAddr
	if args.NegRisk {
		contract = b.negRiskExchangeAddr
	}

	signature, err := b.signTypedOrder(order, contract, privateKey)
	if err != nil {
		return nil, err
	}
	order.Signature = signature
	return order, nil
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, fmt.Errorf("empty private key")
	}
	return crypto.HexToECDSA(hexKey)
}

// signTypedOrder hashes the order as EIP-712 typed data binding the chain
// id, the exchange contract and every order field, then signs it with the
// follower's key. Signature layout is r||s||v with v in {27,28}.
func (b *OrderBuilder) signTypedOrder(order *SignedOrder, verifyingContract string, privateKey *ecdsa.PrivateKey) (string, error) {
	domain := apitypes.TypedDataDomain{
		Name:              "Polymarket CTF Exchange",
		Version:           "1",
		ChainId:           math.NewHexOrDecimal256(b.chainID),
		VerifyingContract: verifyingContract,
	}

	tokenID, ok := new(big.Int).SetString(order.TokenID, 10)
	if !ok {
		return "", fmt.Errorf("%w: token id %q not decimal", ErrInvalidOrderParameters, order.TokenID)
	}
	makerAmount, _ := new(big.Int).SetString(order.MakerAmount, 10)
	takerAmount, _ := new(big.Int).SetString(order.TakerAmount, 10)
	feeRateBps, _ := new(big.Int).SetString(order.FeeRateBps, 10)

	message := map[string]interface{}{
		"salt":          big.NewInt(order.Salt),
		"maker":         order.Maker,
		"signer":        order.Signer,
		"taker":         order.Taker,
		"tokenId":       tokenID,
		"makerAmount":   makerAmount,
		"takerAmount":   takerAmount,
		"expiration":    big.NewInt(0),
		"nonce":         big.NewInt(0),
		"feeRateBps":    feeRateBps,
		"side":          big.NewInt(int64(order.sideInt)),
		"signatureType": big.NewInt(int64(order.SignatureType)),
	}

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Order": []apitypes.Type{
				{Name: "salt", Type: "uint256"},
				{Name: "maker", Type: "address"},
				{Name: "signer", Type: "address"},
				{Name: "taker", Type: "address"},
				{Name: "tokenId", Type: "uint256"},
				{Name: "makerAmount", Type: "uint256"},
				{Name: "takerAmount", Type: "uint256"},
				{Name: "expiration", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "feeRateBps", Type: "uint256"},
				{Name: "side", Type: "uint8"},
				{Name: "signatureType", Type: "uint8"},
			},
		},
		PrimaryType: "Order",
		Domain:      domain,
		Message:     message,
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return "", fmt.Errorf("hash typed data: %w", err)
	}

	signature, err := crypto.Sign(hash, privateKey)
	if err != nil {
		return "", fmt.Errorf("sign order: %w", err)
	}
	signature[64] += 27

	return "0x" + hex.EncodeToString(signature), nil
}
