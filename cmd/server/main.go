package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tempmail/proxy/internal/auth"
	"tempmail/proxy/internal/catalog"
	"tempmail/proxy/internal/config"
	"tempmail/proxy/internal/health"
	"tempmail/proxy/internal/logger"
	"tempmail/proxy/internal/monitoring"
	"tempmail/proxy/internal/provision"
	"tempmail/proxy/internal/registry"
	"tempmail/proxy/internal/rotation"
	httptransport "tempmail/proxy/internal/transport/http"
	"tempmail/proxy/internal/upstream"
	"tempmail/proxy/internal/websocket"
)

// main 启动临时邮箱开通代理服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// 初始化日志系统
	log, err := logger.NewLogger(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		LogFile:     "",
		MaxSize:     100,
		MaxBackups:  3,
		MaxAge:      28,
		Compress:    true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	log.Info("starting tempmail proxy",
		zap.String("upstream", cfg.Upstream.BaseURL),
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	// 初始化监控系统
	metrics := monitoring.NewMetrics()

	// 上游客户端与域名目录
	client := upstream.NewClient(cfg.Upstream, log)
	cat := catalog.New(client, cfg.Catalog, log)

	// 开通引擎与邮箱注册表
	cursor := rotation.NewCursor()
	engine := provision.NewEngine(client, cat, cursor, cfg.Mailbox.MaxTrialDomains, metrics, log)
	reg := registry.New(client, engine, cfg.Mailbox.TTL, cfg.Mailbox.SweepInterval, metrics, log)

	// 邮箱访问令牌
	tokenManager := auth.NewManager(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if cfg.Auth.Secret == "" {
		log.Warn("auth secret not configured, using random per-process key; tokens will not survive restart")
	}

	// 健康检查
	healthHandler := health.NewHandler(cat, 200)

	// WebSocket 推送中枢
	wsHub := websocket.NewHub(reg, log)

	// 创建 HTTP 服务器
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:       cfg,
		Engine:       engine,
		Registry:     reg,
		Catalog:      cat,
		TokenManager: tokenManager,
		Metrics:      metrics,
		Health:       healthHandler,
		WebSocketHub: wsHub,
		Logger:       log,
	})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 定时清扫过期邮箱 goroutine
	group.Go(func() error {
		log.Info("starting mailbox sweep task", zap.Duration("interval", cfg.Mailbox.SweepInterval))
		if err := reg.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		log.Info("mailbox sweep task stopped")
		return nil
	})

	// WebSocket Hub goroutine
	group.Go(func() error {
		log.Info("starting WebSocket hub")
		if err := wsHub.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	// 预热域名目录，不阻塞启动
	group.Go(func() error {
		warmupCtx, cancel := context.WithTimeout(groupCtx, 30*time.Second)
		defer cancel()

		if _, err := cat.ListDomains(warmupCtx); err != nil {
			log.Warn("domain catalog warmup failed, will retry on demand", zap.Error(err))
		}
		return nil
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		log.Info("server stopped")
		return nil
	})

	// 等待所有 goroutine 完成
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}
