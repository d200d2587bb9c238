package bootstrap

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/usermicrodevices/mas/config"
	"github.com/usermicrodevices/mas/internal/repository"
	"github.com/usermicrodevices/mas/internal/service"
	"github.com/usermicrodevices/mas/internal/worker"
	"github.com/usermicrodevices/mas/pkg/database"
	"github.com/usermicrodevices/mas/pkg/jwt"
	"github.com/usermicrodevices/mas/pkg/mail"
	"github.com/usermicrodevices/mas/pkg/push"
	"github.com/usermicrodevices/mas/pkg/redis"
)

// App 进程级依赖：数据库、Redis、Service 聚合与延迟通知 worker
type App struct {
	Config  *config.Config
	DB      *gorm.DB
	Redis   *redis.Client // 连接失败时为 nil
	JWT     *jwt.Manager
	Repo    *repository.Repository
	Service *service.Service
	Worker  *worker.NotificationWorker
	logger  *zap.Logger
}

// Options 控制启动阶段的可选步骤
type Options struct {
	// Migrate 启动时执行数据库迁移
	Migrate bool
	// SyncMatrix 启动时补齐全部角色 × 可追踪模型的权限矩阵
	SyncMatrix bool
}

// New 按依赖顺序装配：数据库 → Redis → 发送通道 → Repository → Service → Worker
func New(ctx context.Context, cfg *config.Config, opts Options, logger *zap.Logger) (*App, error) {
	db, err := database.NewDB(&cfg.Database, cfg.Log.Level, logger)
	if err != nil {
		return nil, fmt.Errorf("数据库连接失败: %w", err)
	}
	logger.Info("数据库连接成功")

	if opts.Migrate {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("获取底层 sql.DB 失败: %w", err)
		}
		if err := database.RunMigrations(sqlDB, logger); err != nil {
			return nil, fmt.Errorf("数据库迁移失败: %w", err)
		}
	}

	// Redis 可选：连接失败时缓存与黑名单降级为空实现
	rdb, err := redis.NewClient(&cfg.Redis, logger)
	if err != nil {
		logger.Warn("Redis 连接失败，缓存与 Token 黑名单将不可用", zap.Error(err))
		rdb = nil
	}

	deps := service.Deps{
		Mailer: mail.NewSender(&cfg.Mail, logger),
		Pusher: push.NewClient(&cfg.Push, logger),
	}
	if rdb != nil {
		deps.Cache = rdb
		deps.Blacklist = rdb
	}

	jwtMgr := jwt.NewManager(&cfg.Auth)
	repo := repository.NewRepository(db)
	svc := service.NewService(cfg, repo, jwtMgr, deps, logger)

	if opts.SyncMatrix {
		report, err := svc.Registry.SyncAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("权限矩阵同步失败: %w", err)
		}
		logger.Info("权限矩阵同步完成",
			zap.Int("created", report.Created),
			zap.Int("upgraded", report.Upgraded),
			zap.Int("pruned", report.Pruned),
			zap.Int("failed", report.Failed),
		)
	}

	return &App{
		Config:  cfg,
		DB:      db,
		Redis:   rdb,
		JWT:     jwtMgr,
		Repo:    repo,
		Service: svc,
		Worker:  worker.NewNotificationWorker(cfg.Scheduler, repo.Task, svc.Dispatch, logger),
		logger:  logger,
	}, nil
}

// Close 释放数据库与 Redis 连接
func (a *App) Close() {
	if sqlDB, err := a.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			a.logger.Warn("关闭数据库连接失败", zap.Error(err))
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.logger.Warn("关闭 Redis 连接失败", zap.Error(err))
		}
	}
}
