// Command test_trade builds and signs a single order from environment
// inputs and prints the payload. With TEST_TRADE_POST=true it submits the
// order for real; use a tiny size.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/wry5560/PolyHermes-sub002/api"
	"github.com/wry5560/PolyHermes-sub002/config"
	"github.com/wry5560/PolyHermes-sub002/models"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using defaults")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	tokenID := os.Getenv("TEST_TRADE_TOKEN_ID")
	if tokenID == "" {
		log.Fatal("TEST_TRADE_TOKEN_ID required")
	}
	side := models.Side(os.Getenv("TEST_TRADE_SIDE"))
	if side == "" {
		side = models.SideBuy
	}
	price := envFloat("TEST_TRADE_PRICE", 0.50)
	size := envFloat("TEST_TRADE_SIZE", 5)
	wallet := os.Getenv("TEST_TRADE_WALLET")
	privateKey := os.Getenv("TEST_TRADE_PRIVATE_KEY")
	if wallet == "" || privateKey == "" {
		log.Fatal("TEST_TRADE_WALLET and TEST_TRADE_PRIVATE_KEY required")
	}
	funder := os.Getenv("TEST_TRADE_FUNDER")
	if funder == "" {
		funder = wallet
	}

	builder := api.NewOrderBuilder(cfg.ChainID, cfg.ExchangeAddr, cfg.NegRiskExchangeAddr, nil)
	order, err := builder.BuildSigned(api.OrderArgs{
		TokenID: tokenID,
		Side:    side,
		Price:   price,
		Size:    size,
		Maker:   funder,
		Signer:  wallet,
		NegRisk: os.Getenv("TEST_TRADE_NEG_RISK") == "true",
	}, privateKey)
	if err != nil {
		log.Fatalf("build order: %v", err)
	}

	payload, _ := json.MarshalIndent(order, "", "  ")
	fmt.Printf("Signed order:\n%s\n", payload)

	if os.Getenv("TEST_TRADE_POST") != "true" {
		fmt.Println("\nDry run only. Set TEST_TRADE_POST=true to submit.")
		return
	}

	creds := models.Credentials{
		APIKey:     os.Getenv("TEST_TRADE_API_KEY"),
		APISecret:  os.Getenv("TEST_TRADE_API_SECRET"),
		Passphrase: os.Getenv("TEST_TRADE_PASSPHRASE"),
		PrivateKey: privateKey,
	}
	clob := api.NewClobClient(cfg.ClobBaseURL)
	resp, err := clob.PostOrder(context.Background(), order, api.OrderTypeFAK, creds)
	if err != nil {
		log.Fatalf("post order: %v", err)
	}
	fmt.Printf("Response: success=%v status=%s orderId=%s errorMsg=%q\n",
		resp.Success, resp.Status, resp.OrderID, resp.ErrorMsg)
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
