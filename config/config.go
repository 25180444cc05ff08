// Package config loads engine configuration from the environment.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// RPCNode is one prioritized blockchain RPC endpoint.
type RPCNode struct {
	Name     string
	HTTPURL  string
	WSURL    string
	Priority int
	Disabled bool
}

// Config holds every tunable the engine reads at startup.
type Config struct {
	// Chain / exchange
	ChainID             int64
	ExchangeAddr        string
	NegRiskExchangeAddr string
	RPCNodes            []RPCNode

	// External services
	ClobBaseURL string
	DataAPIURL  string
	WebhookURL  string

	// Ingestion
	PollInterval   time.Duration
	PollLimit      int
	ProbeInterval  time.Duration
	ProbeTimeout   time.Duration
	ReconnectDelay time.Duration

	// Pipeline
	Workers       int
	QueueSize     int
	SubmitTimeout time.Duration
	BookTimeout   time.Duration

	// Submission retry
	SubmitAttempts int
	SubmitBackoff  time.Duration

	// Matching
	SellFallbackDiscount float64

	// Secrets
	CredentialKey []byte // 32 bytes, AES-256

	// Storage
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	RedisHost        string
	RedisPort        string
	RedisPassword    string

	// HTTP read API
	Port string
}

// Load reads the environment and applies defaults. Call godotenv.Load first
// if a .env file should participate.
func Load() (*Config, error) {
	cfg := &Config{
		ChainID:             getInt64("CHAIN_ID", 137),
		ExchangeAddr:        getEnv("EXCHANGE_ADDRESS", "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"),
		NegRiskExchangeAddr: getEnv("NEG_RISK_EXCHANGE_ADDRESS", "0xC5d563A36AE78145C45a50134d48A1215220f80a"),

		ClobBaseURL: getEnv("CLOB_BASE_URL", "https://clob.polymarket.com"),
		DataAPIURL:  getEnv("DATA_API_URL", "https://data-api.polymarket.com"),
		WebhookURL:  getEnv("NOTIFY_WEBHOOK_URL", ""),

		PollInterval:   getDuration("POLL_INTERVAL", 2*time.Second),
		PollLimit:      getInt("POLL_LIMIT", 50),
		ProbeInterval:  getDuration("RPC_PROBE_INTERVAL", 30*time.Second),
		ProbeTimeout:   getDuration("RPC_PROBE_TIMEOUT", 5*time.Second),
		ReconnectDelay: getDuration("WS_RECONNECT_DELAY", 5*time.Second),

		Workers:       getInt("ENGINE_WORKERS", 4),
		QueueSize:     getInt("ENGINE_QUEUE_SIZE", 256),
		SubmitTimeout: getDuration("SUBMIT_TIMEOUT", 10*time.Second),
		BookTimeout:   getDuration("BOOK_TIMEOUT", 5*time.Second),

		SubmitAttempts: getInt("SUBMIT_ATTEMPTS", 2),
		SubmitBackoff:  getDuration("SUBMIT_BACKOFF", 3*time.Second),

		SellFallbackDiscount: getFloat("SELL_FALLBACK_DISCOUNT", 0.10),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "polyhermes"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresDB:       getEnv("POSTGRES_DB", "polyhermes"),
		RedisHost:        getEnv("REDIS_HOST", "localhost"),
		RedisPort:        getEnv("REDIS_PORT", "6379"),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),

		Port: getEnv("PORT", "8080"),
	}

	nodes, err := parseRPCNodes(getEnv("RPC_NODES", ""))
	if err != nil {
		return nil, err
	}
	cfg.RPCNodes = nodes

	keyHex := getEnv("CREDENTIAL_KEY", "")
	if keyHex != "" {
		key, err := hex.DecodeString(keyHex)
		if err != nil {
			return nil, fmt.Errorf("config: CREDENTIAL_KEY not hex: %w", err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("config: CREDENTIAL_KEY must be 32 bytes, got %d", len(key))
		}
		cfg.CredentialKey = key
	}

	if cfg.SellFallbackDiscount < 0 || cfg.SellFallbackDiscount >= 1 {
		return nil, fmt.Errorf("config: SELL_FALLBACK_DISCOUNT must be in [0,1), got %v", cfg.SellFallbackDiscount)
	}
	if cfg.SubmitAttempts < 1 {
		cfg.SubmitAttempts = 1
	}

	return cfg, nil
}

// parseRPCNodes parses "name|https://...|wss://...|priority" entries joined
// by commas. Priority 0 is highest.
func parseRPCNodes(raw string) ([]RPCNode, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var nodes []RPCNode
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, "|")
		if len(parts) < 3 {
			return nil, fmt.Errorf("config: invalid RPC_NODES entry %q", entry)
		}
		node := RPCNode{
			Name:    strings.TrimSpace(parts[0]),
			HTTPURL: strings.TrimSpace(parts[1]),
			WSURL:   strings.TrimSpace(parts[2]),
		}
		if len(parts) >= 4 {
			p, err := strconv.Atoi(strings.TrimSpace(parts[3]))
			if err != nil {
				return nil, fmt.Errorf("config: invalid priority in RPC_NODES entry %q", entry)
			}
			node.Priority = p
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
