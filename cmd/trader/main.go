package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"swarmtrade/internal/agent"
	"swarmtrade/internal/cache"
	"swarmtrade/internal/config"
	"swarmtrade/internal/consensus"
	cronrunner "swarmtrade/internal/cron"
	"swarmtrade/internal/db"
	"swarmtrade/internal/exchange"
	"swarmtrade/internal/executor"
	"swarmtrade/internal/flow"
	"swarmtrade/internal/handler"
	"swarmtrade/internal/logger"
	"swarmtrade/internal/marketdata"
	"swarmtrade/internal/monitor"
	"swarmtrade/internal/repository"
	gormrepository "swarmtrade/internal/repository/gorm"
	"swarmtrade/internal/risk"
	"swarmtrade/internal/service"
)

func main() {
	cfgPath := os.Getenv("ST_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("ST_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	store := gormrepository.New(dbConn.Gorm)
	settingsSvc := &service.SystemSettingsService{Repo: store}
	if err := settingsSvc.EnsureDefaultSwitches(context.Background()); err != nil {
		logger.Warn("init default system switches failed", zap.Error(err))
	}

	var sentimentCache cache.Store
	var locker flow.Locker
	if cfg.Redis.Addr != "" {
		opt := &redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}
		sentimentCache = cache.NewRedisStore(opt)
		locker = flow.NewRedisLocker(redis.NewClient(opt))
	} else {
		sentimentCache = cache.NewMemoryStore()
		locker = flow.NewMemoryLocker()
	}

	feed := marketdata.NewBinanceFeed(cfg.MarketData)
	sentiment := marketdata.NewSentimentClient(logger, sentimentCache,
		cfg.MarketData.SentimentURL, cfg.MarketData.SentimentTTL, cfg.MarketData.Timeout)
	aggregator := &marketdata.Aggregator{
		Logger:    logger,
		Feed:      feed,
		Sentiment: sentiment,
		Cfg:       cfg.MarketData,
	}

	stream := marketdata.NewPriceStream(logger, cfg.MarketData.StreamURL,
		flowSymbols(context.Background(), store, logger))
	stream.ReadLimit = cfg.MarketData.StreamReadLimit
	if cfg.MarketData.StreamMaxBackoff > 0 {
		stream.MaxBackoff = cfg.MarketData.StreamMaxBackoff
	}

	aiClient := agent.NewClient(logger, cfg.AI)
	consensusEngine := &consensus.Engine{Logger: logger, Analyst: aiClient}
	gate := &risk.Gate{Logger: logger, Repo: store, Assessor: aiClient, Cfg: cfg.Risk}

	var adapter exchange.Adapter
	if strings.EqualFold(cfg.Executor.Mode, "live") {
		adapter = exchange.NewBinance(
			os.Getenv(cfg.Executor.APIKeyEnv),
			os.Getenv(cfg.Executor.APISecretEnv),
			"")
	} else {
		adapter = exchange.NewPaper(feed, cfg.Executor.PaperFeeRate, cfg.Executor.PaperSlippage)
	}
	logger.Info("execution adapter ready", zap.String("venue", adapter.Name()))

	exec := &executor.Service{Logger: logger, Repo: store, Adapter: adapter, Cfg: cfg.Executor}
	orchestrator := &flow.Orchestrator{
		Logger:    logger,
		Repo:      store,
		Market:    aggregator,
		Consensus: consensusEngine,
		Gate:      gate,
		Exec:      exec,
		Locks:     locker,
		Switches:  settingsSvc,
		Cfg:       cfg.Flow,
	}
	scheduler := &flow.Scheduler{
		Logger:   logger,
		Repo:     store,
		Orch:     orchestrator,
		Switches: settingsSvc,
		Cfg:      cfg.Flow,
	}
	positionMonitor := &monitor.Service{
		Logger:    logger,
		Repo:      store,
		Prices:    stream,
		Fallback:  feed,
		Exec:      exec,
		Reviewer:  aiClient,
		Sentiment: sentiment,
		Switches:  settingsSvc,
		Cfg:       cfg.Monitor,
	}
	snapshotSvc := &service.PortfolioSnapshotService{
		Repo:     store,
		Logger:   logger,
		Settings: settingsSvc,
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm}
	healthHandler.Register(engine)
	flowHandler := &handler.FlowHandler{Repo: store, Orch: orchestrator}
	flowHandler.Register(engine)
	executionHandler := &handler.ExecutionHandler{Repo: store}
	executionHandler.Register(engine)
	positionHandler := &handler.PositionHandler{Repo: store, Monitor: positionMonitor}
	positionHandler.Register(engine)
	orderHandler := &handler.OrderHandler{Repo: store, Exec: exec}
	orderHandler.Register(engine)
	transactionHandler := &handler.TransactionHandler{Repo: store}
	transactionHandler.Register(engine)
	settingsHandler := &handler.SettingsHandler{Repo: store, Settings: settingsSvc}
	settingsHandler.Register(engine)

	engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cronRunner := cronrunner.New(logger, ctx)
	if cfg.Cron.Enabled {
		_, err := cronRunner.Add(cfg.Cron.PortfolioSnapshot, func(ctx context.Context) {
			if err := snapshotSvc.Snapshot(ctx); err != nil {
				logger.Warn("portfolio snapshot failed", zap.Error(err))
			}
		})
		if err != nil {
			logger.Warn("cron register portfolio snapshot failed", zap.Error(err))
		}
	}
	cronRunner.Start()
	defer cronRunner.Stop()

	go func() {
		if err := stream.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("price stream stopped", zap.Error(err))
		}
	}()
	go func() {
		if err := exec.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("order poller stopped", zap.Error(err))
		}
	}()
	go func() {
		if err := positionMonitor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("position monitor stopped", zap.Error(err))
		}
	}()
	go func() {
		if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("flow scheduler stopped", zap.Error(err))
		}
	}()

	errCh := make(chan error, 2)

	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// flowSymbols collects the distinct symbols of all configured flows so the
// price stream subscribes to them at startup. Flows created afterwards are
// picked up on the next restart; the monitor falls back to REST until then.
func flowSymbols(ctx context.Context, store repository.Repository, logger *zap.Logger) []string {
	flows, err := store.ListFlows(ctx, repository.ListFlowsParams{Limit: 500})
	if err != nil {
		logger.Warn("list flows for stream subscribe failed", zap.Error(err))
		return nil
	}
	seen := map[string]bool{}
	symbols := make([]string, 0, len(flows))
	for _, f := range flows {
		sym := strings.ToUpper(strings.TrimSpace(f.Symbol))
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		symbols = append(symbols, sym)
	}
	return symbols
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
