package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/wry5560/PolyHermes-sub002/api"
	"github.com/wry5560/PolyHermes-sub002/config"
	"github.com/wry5560/PolyHermes-sub002/handlers"
	"github.com/wry5560/PolyHermes-sub002/middleware"
	"github.com/wry5560/PolyHermes-sub002/notify"
	"github.com/wry5560/PolyHermes-sub002/storage"
	"github.com/wry5560/PolyHermes-sub002/syncer"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using defaults")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	store, err := storage.NewPostgres(cfg)
	if err != nil {
		log.Fatalf("failed to init storage: %v", err)
	}
	defer store.Close()

	if err := store.InitSchema(context.Background()); err != nil {
		log.Fatalf("failed to init schema: %v", err)
	}

	// External collaborators
	pool := api.NewNodePool(cfg.RPCNodes, cfg.ProbeInterval, cfg.ProbeTimeout, nil)
	pool.Start()
	defer pool.Stop()

	chainWS := api.NewChainWS(pool.HealthyWSURL, cfg.ReconnectDelay)
	defer chainWS.Stop()

	clob := api.NewClobClient(cfg.ClobBaseURL)
	dataClient := api.NewDataClient(cfg.DataAPIURL, 10)
	notifier := notify.New(cfg.WebhookURL)

	// Pipeline
	builder := api.NewOrderBuilder(cfg.ChainID, cfg.ExchangeAddr, cfg.NegRiskExchangeAddr, nil)
	submitter := syncer.NewSubmitter(clob, builder, cfg.SubmitAttempts, cfg.SubmitBackoff, cfg.SubmitTimeout)
	matcher := syncer.NewMatcher(store)
	metrics := &syncer.EngineMetrics{}

	engine := syncer.NewEngine(store, clob, submitter, matcher, notifier, metrics, syncer.EngineConfig{
		Workers:              cfg.Workers,
		QueueSize:            cfg.QueueSize,
		BookTimeout:          cfg.BookTimeout,
		SellFallbackDiscount: cfg.SellFallbackDiscount,
		CredentialKey:        cfg.CredentialKey,
	})
	engine.Start()
	defer engine.Stop()

	// Detection channels
	exchanges := []common.Address{
		common.HexToAddress(cfg.ExchangeAddr),
		common.HexToAddress(cfg.NegRiskExchangeAddr),
	}
	detector := syncer.NewDetector(chainWS, pool, store, exchanges, engine.OnLeaderTrade, metrics)
	engine.SetDetector(detector)

	ctx := context.Background()
	if err := detector.Start(ctx); err != nil {
		log.Printf("[main] Detector failed to start: %v (poller remains the only channel)", err)
	} else {
		defer detector.Stop()
	}

	poller := syncer.NewPoller(dataClient, store, cfg.PollInterval, cfg.PollLimit, engine.OnLeaderTrade)
	if err := poller.Start(ctx); err != nil {
		log.Fatalf("failed to start poller: %v", err)
	}
	defer poller.Stop()

	// Read API
	r := gin.Default()
	h := handlers.NewHandler(store, engine, pool)

	authed := r.Group("/", middleware.BasicAuth())
	authed.GET("/api/lots/:configID", middleware.ValidateConfigID(), h.GetOpenLots)
	authed.GET("/api/matches/:configID", middleware.ValidateConfigID(), middleware.ValidateQueryParams(), h.GetMatchHistory)
	authed.GET("/api/matches/details/:matchID", h.GetMatchDetails)
	authed.GET("/api/engine/health", h.GetEngineHealth)
	authed.POST("/api/configs/:id/enable", middleware.ValidateConfigID(), h.EnableConfig)
	authed.POST("/api/configs/:id/disable", middleware.ValidateConfigID(), h.DisableConfig)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}
	go func() {
		log.Printf("[main] Read API on http://localhost:%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Graceful shutdown: stop detection first, then drain the engine via the
	// deferred stops in reverse registration order.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("[main] Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] Server shutdown: %v", err)
	}
}
