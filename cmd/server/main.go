package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/usermicrodevices/mas/config"
	"github.com/usermicrodevices/mas/internal/api/handler"
	"github.com/usermicrodevices/mas/internal/api/middleware"
	"github.com/usermicrodevices/mas/internal/api/router"
	"github.com/usermicrodevices/mas/internal/bootstrap"
	applogger "github.com/usermicrodevices/mas/pkg/logger"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	logger, err := applogger.NewLogger(&cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("应用启动中...",
		zap.Int("port", cfg.Server.Port),
		zap.String("log_level", cfg.Log.Level),
	)

	// 3. 装配依赖：数据库迁移 + 权限矩阵同步
	bootCtx, bootCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	app, err := bootstrap.New(bootCtx, cfg, bootstrap.Options{Migrate: true, SyncMatrix: true}, logger)
	bootCancel()
	if err != nil {
		logger.Fatal("启动失败", zap.Error(err))
	}

	// 4. 延迟通知 worker
	if cfg.Scheduler.Enabled {
		if err := app.Worker.Start(); err != nil {
			logger.Fatal("延迟通知 worker 启动失败", zap.Error(err))
		}
	}

	// 5. 初始化路由
	var limiter middleware.RateLimiter
	if app.Redis != nil {
		limiter = app.Redis
	}
	h := handler.NewHandler(app.Service)
	engine := router.Setup(cfg, h, app.JWT, app.Service.Auth, limiter, logger)

	// 6. 启动 HTTP 服务器（优雅关闭）
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("HTTP 服务器已启动", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP 服务器异常", zap.Error(err))
		}
	}()

	// 7. 监听系统信号，优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("收到关闭信号，开始优雅关闭...", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("服务器关闭异常", zap.Error(err))
	}

	if cfg.Scheduler.Enabled {
		if err := app.Worker.Stop(ctx); err != nil {
			logger.Warn("等待延迟通知任务结束超时", zap.Error(err))
		}
	}

	app.Close()

	logger.Info("服务器已关闭")
}
