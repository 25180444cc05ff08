// Command inspect_db prints a quick operational summary of the engine's
// database: claim counts by outcome, open lots per config, and recent
// failures.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/wry5560/PolyHermes-sub002/config"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using defaults")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresDB)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer pool.Close()

	fmt.Println("=== Processed trades by outcome ===")
	rows, err := pool.Query(ctx, `SELECT status, COUNT(*) FROM processed_trades GROUP BY status ORDER BY status`)
	if err != nil {
		log.Fatalf("query processed_trades: %v", err)
	}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			log.Fatalf("scan: %v", err)
		}
		fmt.Printf("  %-12s %d\n", status, count)
	}
	rows.Close()

	fmt.Println("\n=== Open lots per config ===")
	rows, err = pool.Query(ctx, `
		SELECT config_id, COUNT(*), SUM(remaining_quantity), SUM(remaining_quantity * price)
		FROM replica_buy_lots WHERE remaining_quantity > 0
		GROUP BY config_id ORDER BY config_id`)
	if err != nil {
		log.Fatalf("query replica_buy_lots: %v", err)
	}
	for rows.Next() {
		var configID, count int64
		var qty, value float64
		if err := rows.Scan(&configID, &count, &qty, &value); err != nil {
			log.Fatalf("scan: %v", err)
		}
		fmt.Printf("  config %-4d  lots=%-4d  shares=%-10.4f  value=$%.2f\n", configID, count, qty, value)
	}
	rows.Close()

	fmt.Println("\n=== Recent failures ===")
	rows, err = pool.Query(ctx, `
		SELECT config_id, trade_id, side, error, created_at
		FROM failed_trades ORDER BY created_at DESC LIMIT 10`)
	if err != nil {
		log.Fatalf("query failed_trades: %v", err)
	}
	count := 0
	for rows.Next() {
		var configID int64
		var tradeID, side, errMsg string
		var createdAt time.Time
		if err := rows.Scan(&configID, &tradeID, &side, &errMsg, &createdAt); err != nil {
			log.Fatalf("scan: %v", err)
		}
		fmt.Printf("  [%s] config %d %s %s: %s\n", createdAt.Format("2006-01-02 15:04"), configID, side, tradeID, errMsg)
		count++
	}
	rows.Close()
	if count == 0 {
		fmt.Println("  none")
	}

	os.Exit(0)
}
