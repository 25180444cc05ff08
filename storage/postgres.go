package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wry5560/PolyHermes-sub002/config"
	"github.com/wry5560/PolyHermes-sub002/models"
)

// PostgresStore wraps PostgreSQL persistence with a Redis side cache for
// token metadata lookups on the hot path.
type PostgresStore struct {
	pool  *pgxpool.Pool
	redis *redis.Client
}

// NewPostgres creates the store with connection pooling and pings both
// backends before returning.
func NewPostgres(cfg *config.Config) (*PostgresStore, error) {
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresDB)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}

	poolCfg.MaxConns = 20
	poolCfg.MinConns = 4
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 30 * time.Second

	// Keep slow queries from wedging a worker mid-pipeline.
	poolCfg.ConnConfig.RuntimeParams["statement_timeout"] = "15000"
	poolCfg.ConnConfig.RuntimeParams["lock_timeout"] = "5000"

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password:     cfg.RedisPassword,
		DB:           0,
		PoolSize:     20,
		MinIdleConns: 2,
		MaxRetries:   3,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	return &PostgresStore{pool: pool, redis: rdb}, nil
}

// Close releases database connections.
func (s *PostgresStore) Close() error {
	if s.redis != nil {
		s.redis.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// InitSchema creates the engine-owned tables. The admin-owned tables
// (leaders, follower_accounts, replication_configs) are created too so a
// fresh deployment comes up without a separate migration step; the admin
// layer owns their contents.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS leaders (
			id BIGSERIAL PRIMARY KEY,
			address TEXT NOT NULL UNIQUE,
			category TEXT NOT NULL DEFAULT '',
			label TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS follower_accounts (
			id BIGSERIAL PRIMARY KEY,
			wallet_address TEXT NOT NULL,
			funder_address TEXT NOT NULL DEFAULT '',
			signature_type INT NOT NULL DEFAULT 0,
			api_key TEXT NOT NULL DEFAULT '',
			api_secret_enc TEXT NOT NULL DEFAULT '',
			passphrase_enc TEXT NOT NULL DEFAULT '',
			private_key_enc TEXT NOT NULL DEFAULT '',
			enabled BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE TABLE IF NOT EXISTS replication_configs (
			id BIGSERIAL PRIMARY KEY,
			account_id BIGINT NOT NULL REFERENCES follower_accounts(id),
			leader_id BIGINT NOT NULL REFERENCES leaders(id),
			sizing_mode TEXT NOT NULL,
			copy_ratio DOUBLE PRECISION NOT NULL DEFAULT 0,
			fixed_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
			min_order_size DOUBLE PRECISION NOT NULL DEFAULT 0,
			max_order_size DOUBLE PRECISION NOT NULL DEFAULT 0,
			min_price DOUBLE PRECISION NOT NULL DEFAULT 0,
			max_price DOUBLE PRECISION NOT NULL DEFAULT 0,
			price_tolerance_pct DOUBLE PRECISION NOT NULL DEFAULT 0,
			max_spread_pct DOUBLE PRECISION NOT NULL DEFAULT 0,
			min_order_depth DOUBLE PRECISION NOT NULL DEFAULT 0,
			max_position_value DOUBLE PRECISION NOT NULL DEFAULT 0,
			max_position_count INT NOT NULL DEFAULT 0,
			excluded_categories TEXT[] NOT NULL DEFAULT '{}',
			supports_sell BOOLEAN NOT NULL DEFAULT FALSE,
			sell_fallback_discount DOUBLE PRECISION NOT NULL DEFAULT 0.10,
			enabled BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE TABLE IF NOT EXISTS processed_trades (
			leader_id BIGINT NOT NULL,
			trade_id TEXT NOT NULL,
			trade_type TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'PENDING',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (leader_id, trade_id)
		)`,
		`CREATE TABLE IF NOT EXISTS replica_buy_lots (
			id BIGSERIAL PRIMARY KEY,
			config_id BIGINT NOT NULL,
			market TEXT NOT NULL,
			outcome_index INT NOT NULL,
			token_id TEXT NOT NULL,
			quantity DOUBLE PRECISION NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			matched_quantity DOUBLE PRECISION NOT NULL DEFAULT 0,
			remaining_quantity DOUBLE PRECISION NOT NULL,
			status TEXT NOT NULL DEFAULT 'filled',
			order_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_lots_open
			ON replica_buy_lots (config_id, market, outcome_index, created_at)
			WHERE remaining_quantity > 0`,
		`CREATE TABLE IF NOT EXISTS sell_matches (
			id UUID PRIMARY KEY,
			config_id BIGINT NOT NULL,
			market TEXT NOT NULL,
			outcome_index INT NOT NULL,
			sell_trade_id TEXT NOT NULL,
			sell_price DOUBLE PRECISION NOT NULL,
			target_quantity DOUBLE PRECISION NOT NULL,
			matched_quantity DOUBLE PRECISION NOT NULL,
			unmatched_quantity DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS sell_match_details (
			id UUID PRIMARY KEY,
			match_id UUID NOT NULL REFERENCES sell_matches(id),
			lot_id BIGINT NOT NULL REFERENCES replica_buy_lots(id),
			matched_quantity DOUBLE PRECISION NOT NULL,
			buy_price DOUBLE PRECISION NOT NULL,
			sell_price DOUBLE PRECISION NOT NULL,
			realized_pnl DOUBLE PRECISION NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS failed_trades (
			id UUID PRIMARY KEY,
			config_id BIGINT NOT NULL,
			leader_id BIGINT NOT NULL,
			trade_id TEXT NOT NULL,
			side TEXT NOT NULL,
			market TEXT NOT NULL,
			token_id TEXT NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			size DOUBLE PRECISION NOT NULL,
			error TEXT NOT NULL,
			retry_count INT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS filtered_orders (
			id BIGSERIAL PRIMARY KEY,
			config_id BIGINT NOT NULL,
			leader_id BIGINT NOT NULL,
			trade_id TEXT NOT NULL,
			reason TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS token_map_cache (
			market TEXT NOT NULL,
			outcome_index INT NOT NULL,
			token_id TEXT NOT NULL,
			neg_risk BOOLEAN NOT NULL DEFAULT FALSE,
			PRIMARY KEY (market, outcome_index)
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) ListWatchedLeaders(ctx context.Context) ([]models.Leader, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT l.id, l.address, l.category, l.label FROM leaders l
		WHERE EXISTS (
			SELECT 1 FROM replication_configs c WHERE c.leader_id = l.id AND c.enabled
		)
		ORDER BY l.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var leaders []models.Leader
	for rows.Next() {
		var l models.Leader
		if err := rows.Scan(&l.ID, &l.Address, &l.Category, &l.Label); err != nil {
			return nil, err
		}
		leaders = append(leaders, l)
	}
	return leaders, rows.Err()
}

const configColumns = `id, account_id, leader_id, sizing_mode, copy_ratio, fixed_amount,
	min_order_size, max_order_size, min_price, max_price, price_tolerance_pct,
	max_spread_pct, min_order_depth, max_position_value, max_position_count,
	excluded_categories, supports_sell, sell_fallback_discount, enabled`

func scanConfig(row pgx.Row) (models.ReplicationConfig, error) {
	var c models.ReplicationConfig
	var mode string
	err := row.Scan(&c.ID, &c.AccountID, &c.LeaderID, &mode, &c.CopyRatio, &c.FixedAmount,
		&c.MinOrderSize, &c.MaxOrderSize, &c.MinPrice, &c.MaxPrice, &c.PriceTolerancePct,
		&c.MaxSpreadPct, &c.MinOrderDepth, &c.MaxPositionValue, &c.MaxPositionCount,
		&c.ExcludedCategories, &c.SupportsSell, &c.SellFallbackDiscount, &c.Enabled)
	if err != nil {
		return c, err
	}
	c.SizingMode = models.SizingMode(mode)
	return c, nil
}

func (s *PostgresStore) ListEnabledConfigsForLeader(ctx context.Context, leaderID int64) ([]models.ReplicationConfig, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+configColumns+` FROM replication_configs WHERE leader_id = $1 AND enabled ORDER BY id`,
		leaderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []models.ReplicationConfig
	for rows.Next() {
		c, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, c)
	}
	return configs, rows.Err()
}

func (s *PostgresStore) GetConfig(ctx context.Context, configID int64) (*models.ReplicationConfig, error) {
	c, err := scanConfig(s.pool.QueryRow(ctx,
		`SELECT `+configColumns+` FROM replication_configs WHERE id = $1`, configID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) SetConfigEnabled(ctx context.Context, configID int64, enabled bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE replication_configs SET enabled = $2 WHERE id = $1`, configID, enabled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("config %d not found", configID)
	}
	return nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, accountID int64) (*models.FollowerAccount, error) {
	var a models.FollowerAccount
	err := s.pool.QueryRow(ctx, `
		SELECT id, wallet_address, funder_address, signature_type,
			   api_key, api_secret_enc, passphrase_enc, private_key_enc, enabled
		FROM follower_accounts WHERE id = $1
	`, accountID).Scan(&a.ID, &a.WalletAddress, &a.FunderAddress, &a.SignatureType,
		&a.Credentials.APIKey, &a.Credentials.APISecretEnc, &a.Credentials.PassphraseEnc,
		&a.Credentials.PrivateKeyEnc, &a.Enabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// TryClaimTrade is the single-writer dedup gate. The unique primary key on
// (leader_id, trade_id) serializes concurrent inserts; only the insert that
// lands claims the trade.
func (s *PostgresStore) TryClaimTrade(ctx context.Context, leaderID int64, tradeID, tradeType string, source models.SignalSource) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO processed_trades (leader_id, trade_id, trade_type, source, status, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (leader_id, trade_id) DO NOTHING
	`, leaderID, tradeID, tradeType, string(source), models.TradeOutcomePending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) SetTradeOutcome(ctx context.Context, leaderID int64, tradeID, status string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE processed_trades SET status = $3 WHERE leader_id = $1 AND trade_id = $2
	`, leaderID, tradeID, status)
	return err
}

func (s *PostgresStore) InsertBuyLot(ctx context.Context, lot models.ReplicaBuyLot) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO replica_buy_lots
			(config_id, market, outcome_index, token_id, quantity, price,
			 matched_quantity, remaining_quantity, status, order_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $5, $7, $8, NOW())
		RETURNING id
	`, lot.ConfigID, lot.Market, lot.OutcomeIndex, lot.TokenID, lot.Quantity,
		lot.Price, models.LotStatusFilled, lot.OrderID).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

const lotColumns = `id, config_id, market, outcome_index, token_id, quantity, price,
	matched_quantity, remaining_quantity, status, order_id, created_at`

func scanLots(rows pgx.Rows) ([]models.ReplicaBuyLot, error) {
	defer rows.Close()
	var lots []models.ReplicaBuyLot
	for rows.Next() {
		var l models.ReplicaBuyLot
		if err := rows.Scan(&l.ID, &l.ConfigID, &l.Market, &l.OutcomeIndex, &l.TokenID,
			&l.Quantity, &l.Price, &l.MatchedQuantity, &l.RemainingQuantity,
			&l.Status, &l.OrderID, &l.CreatedAt); err != nil {
			return nil, err
		}
		lots = append(lots, l)
	}
	return lots, rows.Err()
}

// FindOpenLotsFIFO returns consumable lots oldest-first.
func (s *PostgresStore) FindOpenLotsFIFO(ctx context.Context, configID int64, market string, outcomeIndex int) ([]models.ReplicaBuyLot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+lotColumns+` FROM replica_buy_lots
		WHERE config_id = $1 AND market = $2 AND outcome_index = $3 AND remaining_quantity > 0
		ORDER BY created_at ASC, id ASC
	`, configID, market, outcomeIndex)
	if err != nil {
		return nil, err
	}
	return scanLots(rows)
}

func (s *PostgresStore) OpenPositionTotals(ctx context.Context, configID int64, market string, outcomeIndex int) (float64, int, error) {
	var value float64
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(remaining_quantity * price), 0), COUNT(*)
		FROM replica_buy_lots
		WHERE config_id = $1 AND market = $2 AND outcome_index = $3 AND remaining_quantity > 0
	`, configID, market, outcomeIndex).Scan(&value, &count)
	if err != nil {
		return 0, 0, err
	}
	return value, count, nil
}

// ApplySellMatch consumes the named lot slices and writes the match records
// in one transaction. The guarded UPDATE rejects any slice whose lot has been
// consumed concurrently, so two racing sells can never double-spend the same
// remaining quantity.
func (s *PostgresStore) ApplySellMatch(ctx context.Context, rec models.SellMatchRecord, details []models.SellMatchDetail) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, d := range details {
		tag, err := tx.Exec(ctx, `
			UPDATE replica_buy_lots
			SET matched_quantity = matched_quantity + $2,
				remaining_quantity = remaining_quantity - $2,
				status = CASE WHEN remaining_quantity - $2 <= 0
					THEN 'fully_matched' ELSE 'partially_matched' END
			WHERE id = $1 AND remaining_quantity >= $2
		`, d.LotID, d.MatchedQuantity)
		if err != nil {
			return fmt.Errorf("consume lot %d: %w", d.LotID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("consume lot %d: remaining quantity changed concurrently", d.LotID)
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO sell_matches
			(id, config_id, market, outcome_index, sell_trade_id, sell_price,
			 target_quantity, matched_quantity, unmatched_quantity, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
	`, rec.ID, rec.ConfigID, rec.Market, rec.OutcomeIndex, rec.SellTradeID,
		rec.SellPrice, rec.TargetQuantity, rec.MatchedQuantity, rec.UnmatchedQuantity)
	if err != nil {
		return fmt.Errorf("insert sell match: %w", err)
	}

	for _, d := range details {
		_, err = tx.Exec(ctx, `
			INSERT INTO sell_match_details
				(id, match_id, lot_id, matched_quantity, buy_price, sell_price, realized_pnl)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, d.ID, rec.ID, d.LotID, d.MatchedQuantity, d.BuyPrice, d.SellPrice, d.RealizedPnl)
		if err != nil {
			return fmt.Errorf("insert match detail: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) ListOpenLots(ctx context.Context, configID int64) ([]models.ReplicaBuyLot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+lotColumns+` FROM replica_buy_lots
		WHERE config_id = $1 AND remaining_quantity > 0
		ORDER BY created_at ASC, id ASC
	`, configID)
	if err != nil {
		return nil, err
	}
	return scanLots(rows)
}

func (s *PostgresStore) ListMatchHistory(ctx context.Context, configID int64, limit int) ([]models.SellMatchRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, config_id, market, outcome_index, sell_trade_id, sell_price,
			   target_quantity, matched_quantity, unmatched_quantity, created_at
		FROM sell_matches
		WHERE config_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, configID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []models.SellMatchRecord
	for rows.Next() {
		var r models.SellMatchRecord
		if err := rows.Scan(&r.ID, &r.ConfigID, &r.Market, &r.OutcomeIndex, &r.SellTradeID,
			&r.SellPrice, &r.TargetQuantity, &r.MatchedQuantity, &r.UnmatchedQuantity,
			&r.CreatedAt); err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

func (s *PostgresStore) ListMatchDetails(ctx context.Context, matchID string) ([]models.SellMatchDetail, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, match_id, lot_id, matched_quantity, buy_price, sell_price, realized_pnl
		FROM sell_match_details WHERE match_id = $1 ORDER BY lot_id
	`, matchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var details []models.SellMatchDetail
	for rows.Next() {
		var d models.SellMatchDetail
		if err := rows.Scan(&d.ID, &d.MatchID, &d.LotID, &d.MatchedQuantity,
			&d.BuyPrice, &d.SellPrice, &d.RealizedPnl); err != nil {
			return nil, err
		}
		details = append(details, d)
	}
	return details, rows.Err()
}

func (s *PostgresStore) SaveFailedTrade(ctx context.Context, rec models.FailedTradeRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO failed_trades
			(id, config_id, leader_id, trade_id, side, market, token_id,
			 price, size, error, retry_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
	`, rec.ID, rec.ConfigID, rec.LeaderID, rec.TradeID, string(rec.Side), rec.Market,
		rec.TokenID, rec.Price, rec.Size, rec.Error, rec.RetryCount)
	return err
}

func (s *PostgresStore) SaveFilteredOrder(ctx context.Context, rec models.FilteredOrderRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO filtered_orders (config_id, leader_id, trade_id, reason, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, rec.ConfigID, rec.LeaderID, rec.TradeID, rec.Reason, rec.Detail)
	return err
}

func tokenCacheKey(market string, outcomeIndex int) string {
	return fmt.Sprintf("tokenmap:%s:%d", market, outcomeIndex)
}

func (s *PostgresStore) GetTokenMapping(ctx context.Context, market string, outcomeIndex int) (*models.TokenMapping, error) {
	// Redis first; fall through to Postgres and backfill on hit.
	key := tokenCacheKey(market, outcomeIndex)
	if cached, err := s.redis.HGetAll(ctx, key).Result(); err == nil && cached["token_id"] != "" {
		return &models.TokenMapping{
			Market:       market,
			OutcomeIndex: outcomeIndex,
			TokenID:      cached["token_id"],
			NegRisk:      cached["neg_risk"] == "1",
		}, nil
	}

	var m models.TokenMapping
	err := s.pool.QueryRow(ctx, `
		SELECT market, outcome_index, token_id, neg_risk
		FROM token_map_cache WHERE market = $1 AND outcome_index = $2
	`, market, outcomeIndex).Scan(&m.Market, &m.OutcomeIndex, &m.TokenID, &m.NegRisk)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	s.cacheTokenMapping(ctx, m)
	return &m, nil
}

func (s *PostgresStore) SaveTokenMapping(ctx context.Context, m models.TokenMapping) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO token_map_cache (market, outcome_index, token_id, neg_risk)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (market, outcome_index) DO UPDATE SET
			token_id = EXCLUDED.token_id,
			neg_risk = EXCLUDED.neg_risk
	`, m.Market, m.OutcomeIndex, m.TokenID, m.NegRisk)
	if err != nil {
		return err
	}
	s.cacheTokenMapping(ctx, m)
	return nil
}

func (s *PostgresStore) cacheTokenMapping(ctx context.Context, m models.TokenMapping) {
	key := tokenCacheKey(m.Market, m.OutcomeIndex)
	negRisk := "0"
	if m.NegRisk {
		negRisk = "1"
	}
	if err := s.redis.HSet(ctx, key, "token_id", m.TokenID, "neg_risk", negRisk).Err(); err != nil {
		log.Printf("[Storage] Warning: token cache write failed: %v", err)
		return
	}
	s.redis.Expire(ctx, key, 24*time.Hour)
}
