package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/anonto42/nano-midea/fanout/internal/app"
	"github.com/anonto42/nano-midea/fanout/internal/reconcile"
	"github.com/anonto42/nano-midea/fanout/internal/router"
	"github.com/anonto42/nano-midea/fanout/pkg/config"
	"github.com/anonto42/nano-midea/fanout/pkg/logger"
	"github.com/anonto42/nano-midea/fanout/validators"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if err := logger.Init(cfg.Env, cfg.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Open the store and build services
	a, err := app.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer a.Close()

	deps := router.Deps{
		Users:          a.Users,
		Posts:          a.Posts,
		Follows:        a.Follows,
		Likes:          a.Likes,
		Engine:         a.Engine,
		Reader:         a.Reader,
		Lifetime:       ctx,
		JWTSecret:      cfg.JWTSecret,
		AcceptIDTokens: cfg.AuthMode == config.AuthFirebase,
		RatePerSecond:  cfg.RateLimitPerSecond,
		RateBurst:      cfg.RateLimitBurst,
	}
	if a.Firebase != nil {
		deps.Verifier = a.Firebase.AuthClient
	}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		deps.Redis = rdb
	}

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true
	e.Validator = validators.NewValidator()

	config.SetupMiddleware(e)
	router.SetupRoutes(e, deps)

	stopReconcile, err := reconcile.Start(ctx, a.Reconciler, cfg.ReconcileCron)
	if err != nil {
		log.Fatalf("Failed to start reconciliation: %v", err)
	}
	defer stopReconcile()

	metricsSrv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: promhttp.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Error("metrics_server_failed", zap.Error(err))
		}
	}()

	// Start server
	go func() {
		logger.Log.Info("server_starting", zap.String("port", cfg.Port), zap.String("backend", cfg.StoreBackend))
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Error("server_failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Log.Info("server_stopping")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("server_shutdown_failed", zap.Error(err))
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("metrics_shutdown_failed", zap.Error(err))
	}
}
