package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lucra/lucra-backend/internal/api"
	"github.com/lucra/lucra-backend/internal/auth"
	"github.com/lucra/lucra-backend/internal/clock"
	"github.com/lucra/lucra-backend/internal/config"
	"github.com/lucra/lucra-backend/internal/engine"
	"github.com/lucra/lucra-backend/internal/jobs"
	"github.com/lucra/lucra-backend/internal/journal"
	"github.com/lucra/lucra-backend/internal/log"
	"github.com/lucra/lucra-backend/internal/metrics"
	"github.com/lucra/lucra-backend/internal/oracle"
	"github.com/lucra/lucra-backend/internal/prices"
	"github.com/lucra/lucra-backend/internal/protoerr"
	"github.com/lucra/lucra-backend/internal/store"
	"github.com/lucra/lucra-backend/internal/ws"
	"github.com/lucra/lucra-backend/pkg/kv"
	_ "github.com/lucra/lucra-backend/pkg/kv/memory"
	redisstore "github.com/lucra/lucra-backend/pkg/kv/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := log.NewSugar(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Infow("Starting Lucra credit API",
		"env", cfg.Env,
		"addr", cfg.HTTPAddr,
		"kv", cfg.KV.Backend,
		"oracle", cfg.Oracle.Provider,
	)

	metricsObj, metricsHandler, err := metrics.Setup("lucra-api")
	if err != nil {
		logger.Fatalw("Failed to setup metrics", "error", err)
	}

	kvStore, err := kv.NewStoreFromConfig(kv.Config{
		Backend:          kv.Backend(cfg.KV.Backend),
		RedisURL:         cfg.KV.RedisURL,
		JanitorInterval:  cfg.KV.JanitorInterval,
		FallbackToMemory: cfg.KV.FallbackToMemory,
		Logger:           logger.Infow,
	})
	if err != nil {
		logger.Fatalw("Failed to open kv store", "error", err)
	}
	defer kvStore.Close()

	// Pub/sub rides on the same Redis connection when the kv store has one.
	var cache *store.Cache
	if rs, ok := kvStore.(*redisstore.Store); ok {
		cache = store.NewCache(kvStore, rs.Client(), logger, metricsObj)
	} else {
		cache = store.NewCache(kvStore, nil, logger, metricsObj)
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelStart()

	var eventLog journal.Journal
	if cfg.Database.PostgresDSN != "" {
		pg, err := journal.OpenPostgres(startCtx, cfg.Database.PostgresDSN)
		if err != nil {
			logger.Fatalw("Failed to open journal", "error", err)
		}
		eventLog = pg
		logger.Infow("Instruction journal on Postgres")
	} else {
		eventLog = journal.NewMemory(0)
		logger.Infow("Instruction journal in memory")
	}
	defer eventLog.Close()

	genesisAt, err := cfg.Oracle.Genesis()
	if err != nil {
		logger.Fatalw("Invalid clock genesis", "error", err)
	}
	clk := clock.NewWall(genesisAt, cfg.Oracle.SlotDuration)

	board := prices.NewBoard()
	deriver := oracle.NewDeriver(cfg.Oracle.MaxStaleSlots)
	oraclePrices := oracle.NewPrices(board, deriver)

	eng := engine.New(store.NewLedger(kvStore), oraclePrices, clk, logger,
		engine.WithPublisher(cache),
		engine.WithJournal(eventLog),
		engine.WithMetrics(metricsObj),
		engine.WithHistoryParams(cfg.Ledger.Params()),
	)

	if err := bootstrap(startCtx, eng, cfg, logger); err != nil {
		logger.Fatalw("Failed to bootstrap ledger", "error", err)
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	publisher := jobs.NewOraclePublisher(board, cache, clk, metricsObj, logger, jobs.OraclePublisherConfig{
		ProviderType:    cfg.Oracle.Provider,
		RefreshInterval: cfg.Oracle.RefreshInterval,
		RetryInterval:   cfg.Oracle.RetryInterval,
		QuoteTTL:        cfg.Oracle.QuoteTTL,
		MockVolatility:  cfg.Oracle.MockVolatility,
	})
	go func() {
		if err := publisher.Start(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorw("Oracle publisher stopped", "error", err)
		}
	}()

	if cfg.Keeper.Enabled {
		keeper, _ := cfg.Keeper.Keeper()
		sampler := jobs.NewPriceSampler(eng, keeper, cfg.Keeper.SampleInterval, logger)
		penalties := jobs.NewPenaltyKeeper(eng, keeper, cfg.Keeper.PenaltyInterval, logger)
		go runJob(bgCtx, logger, "price sampler", sampler.Start)
		go runJob(bgCtx, logger, "penalty keeper", penalties.Start)
		logger.Infow("Keeper jobs started", "keeper", keeper,
			"sampleInterval", cfg.Keeper.SampleInterval,
			"penaltyInterval", cfg.Keeper.PenaltyInterval,
		)
	}

	wsHub := ws.NewHub(cache, logger, metricsObj, cfg.Security.CORSAllowedOrigins)
	go wsHub.Run(bgCtx)
	sseHandler := ws.NewSSEHandler(cache, logger)

	handler := api.NewHandler(api.Deps{
		Engine:   eng,
		Prices:   oraclePrices,
		Feeds:    board,
		Clock:    clk,
		Deriver:  deriver,
		Journal:  eventLog,
		Verifier: auth.NewVerifier(cfg.Security.RequireSignatures,
			auth.WithNonceStore(kvStore),
			auth.WithClock(clk),
			auth.WithMaxTTL(cfg.Security.SignatureMaxTTL),
		),
		Hub:      wsHub,
		SSE:      sseHandler,
		Checks: map[string]api.Pinger{
			"kv":      kvStore,
			"journal": eventLog,
		},
		Logger:  logger,
		Metrics: metricsObj,
	})
	middleware := api.NewMiddleware(logger, metricsObj)
	router := handler.Routes(middleware, cfg.Security.CORSAllowedOrigins, cfg.Security.RateLimitRPM, metricsHandler)

	logger.Infow("CORS configured", "allowed_origins", cfg.Security.CORSAllowedOrigins)
	if !cfg.Security.RequireSignatures {
		logger.Warnw("Request signatures are not verified; signer fields are trusted")
	}

	// Streaming routes run unbounded, so only reads get a deadline.
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Infow("API server starting", "addr", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Fatalw("Server startup failed", "error", err)
	case sig := <-shutdown:
		logger.Infow("Shutdown signal received", "signal", sig.String())
		bgCancel()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Errorw("Graceful shutdown failed", "error", err)
			server.Close()
		}

		logger.Infow("Server stopped")
	}
}

// bootstrap initializes the system record and the price history on a fresh
// ledger. Both are skipped when they already exist.
func bootstrap(ctx context.Context, eng *engine.Engine, cfg *config.Config, logger *zap.SugaredLogger) error {
	genesis, err := engine.LoadGenesis(cfg.GenesisPath)
	if err != nil {
		return err
	}

	if _, err := eng.System(ctx); err == nil {
		logger.Infow("System already initialized")
	} else if !errors.Is(err, protoerr.NotRentExempt) {
		return fmt.Errorf("read system: %w", err)
	} else {
		if err := eng.InitializeSystem(ctx, genesis); err != nil {
			return fmt.Errorf("initialize system: %w", err)
		}
		logger.Infow("System initialized", "genesis", cfg.GenesisPath)
	}

	if _, err := eng.History(ctx); err == nil {
		return nil
	}
	if err := eng.CreatePriceHistory(ctx, genesis.CreatorAuthority); err != nil {
		return fmt.Errorf("create price history: %w", err)
	}
	logger.Infow("Price history created", "params", eng.HistoryParams())
	return nil
}

func runJob(ctx context.Context, logger *zap.SugaredLogger, name string, start func(context.Context) error) {
	if err := start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Errorw("Job stopped", "job", name, "error", err)
	}
}
