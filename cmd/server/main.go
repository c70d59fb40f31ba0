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

	"cloudstore/internal/api"
	"cloudstore/internal/config"
	"cloudstore/internal/database"
	"cloudstore/internal/logging"
	"cloudstore/internal/middleware"
	"cloudstore/internal/repository"
	"cloudstore/internal/repository/postgres"
	"cloudstore/internal/service"
	"cloudstore/internal/storage/drivers"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("配置加载完成，开始启动服务", zap.String("driver", cfg.StorageDriver))

	ctx := context.Background()

	client := drivers.NewFetchClient(cfg, logger)
	store, err := drivers.Open(ctx, cfg, client, logger)
	if err != nil {
		logger.Fatal("open storage", zap.Error(err))
	}

	var repo repository.ObjectRepository
	if cfg.LedgerEnabled {
		db, err := database.Connect(ctx, cfg.PostgresDSN(), database.DefaultPoolOptions, logger)
		if err != nil {
			logger.Fatal("connect database", zap.Error(err))
		}
		defer db.Close()
		repo = postgres.NewObjectRepository(db)
	}

	defaults, err := service.DefaultsFromConfig(cfg.Relay)
	if err != nil {
		logger.Fatal("relay defaults", zap.Error(err))
	}
	svc := service.NewObjectService(store, repo, cfg.StorageDriver, defaults, logger)

	verifier, err := middleware.NewJWTVerifier(cfg.JWKSURL, cfg.JWTSecret, cfg.JWTIssuer, logger)
	if err != nil {
		logger.Fatal("init jwt verifier", zap.Error(err))
	}

	router := api.NewRouter(cfg, api.NewObjectHandler(svc, logger), verifier, logger)

	// 上传是长连接流式请求，不设置整体读写超时
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		Handler:           router,
	}

	logger.Info("服务监听", zap.String("addr", srv.Addr))

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("监听失败", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("优雅关闭失败", zap.Error(err))
	}
	client.CloseIdleConnections()

	logger.Info("服务已停止")
}
