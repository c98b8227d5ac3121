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
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"calc/internal/config"
	cronrunner "calc/internal/cron"
	"calc/internal/db"
	"calc/internal/fees"
	"calc/internal/handler"
	"calc/internal/logger"
	gormrepository "calc/internal/repository/gorm"
	"calc/internal/service"
	"calc/internal/treasury"
	"calc/internal/venue/fin"
)

func main() {
	cfgPath := os.Getenv("CALC_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("CALC_ENV_ONLY"); envOnlyRaw != "" {
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

	params, err := service.ParamsFromConfig(cfg.Engine)
	if err != nil {
		logger.Fatal("engine config invalid", zap.Error(err))
	}

	store := gormrepository.New(dbConn.Gorm)
	venueHTTP := &http.Client{Timeout: cfg.Venue.Timeout}
	venueClient := fin.NewClient(venueHTTP, cfg.Venue.BaseURL)
	ledger := treasury.NewLedger(store, &http.Client{Timeout: cfg.Venue.CallbackTimeout}, logger)
	ledger.CallbackTimeout = cfg.Venue.CallbackTimeout
	calculator := fees.Calculator{
		SwapFeePercent:     params.SwapFeePercent,
		PerformanceFeeRate: params.PerformanceFeeRate,
	}

	executor := &service.TriggerExecutor{
		Repo:     store,
		Venue:    venueClient,
		Treasury: ledger,
		Fees:     calculator,
		Params:   params,
		Logger:   logger,
	}
	vaultService := &service.VaultService{
		Repo:     store,
		Venue:    venueClient,
		Treasury: ledger,
		Executor: executor,
		Params:   params,
		Logger:   logger,
	}
	escrowService := &service.EscrowService{
		Repo:     store,
		Treasury: ledger,
		Fees:     calculator,
		Params:   params,
		Logger:   logger,
	}
	adjustmentService := &service.AdjustmentService{Repo: store, Params: params}
	automation := &service.AutomationService{
		Repo:     store,
		Venue:    venueClient,
		Executor: executor,
		Escrow:   escrowService,
		Logger:   logger,
		Config:   cfg.Automation,
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())
	engine.Use(handler.RequireAccountMiddleware())
	engine.Use(handler.WriteAuditMiddleware(logger))

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm}
	healthHandler.Register(engine)
	vaultHandler := &handler.VaultHandler{Vaults: vaultService, Executor: executor, Logger: logger}
	vaultHandler.Register(engine)
	escrowHandler := &handler.EscrowHandler{Escrow: escrowService, Logger: logger}
	escrowHandler.Register(engine)
	adjustmentHandler := &handler.AdjustmentHandler{Adjustments: adjustmentService}
	adjustmentHandler.Register(engine)

	engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cronRunner := cronrunner.New(logger, ctx)
	if cfg.Cron.Enabled && cfg.Automation.EscrowEnabled {
		_, err := cronRunner.Add("escrow-sweep", cfg.Automation.EscrowCron, func(ctx context.Context) {
			if err := automation.SweepEscrow(ctx); err != nil {
				logger.Warn("escrow sweep failed", zap.Error(err))
			}
		})
		if err != nil {
			logger.Warn("cron register escrow sweep failed", zap.Error(err))
		}
	}
	cronRunner.Start()
	defer cronRunner.Stop()

	if cfg.Automation.Enabled {
		go func() {
			if err := automation.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("automation loop stopped", zap.Error(err))
			}
		}()
	}

	if cfg.Automation.Enabled && cfg.Venue.WSURL != "" {
		stream := fin.NewFillStream(fin.FillStreamOptions{
			URL:             cfg.Venue.WSURL,
			OrderIDProvider: automation.OpenOrderIDs,
			RefreshInterval: cfg.Venue.RefreshInterval,
			Logger:          logger,
		})
		go func() {
			err := stream.Run(ctx, func(env fin.FillEnvelope) {
				automation.OnOrderFill(ctx, env.OrderID)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("fill stream stopped", zap.Error(err))
			}
		}()
	}

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

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization,X-Calc-Account")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
