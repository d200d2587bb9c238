package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/usermicrodevices/mas/config"
	"github.com/usermicrodevices/mas/internal/repository"
	"github.com/usermicrodevices/mas/internal/service"
	pkgerrors "github.com/usermicrodevices/mas/pkg/errors"
)

const (
	defaultSpec      = "@every 30s"
	defaultBatchSize = 100
	runTimeout       = 5 * time.Minute
)

// DrainReport 一轮延迟任务投递的结果
type DrainReport struct {
	Due       int `json:"due"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// NotificationWorker 定时投递 send_after 已到期的延迟通知任务
type NotificationWorker struct {
	tasks     repository.NotificationTaskRepository
	dispatch  service.DispatchEngine
	spec      string
	batchSize int
	now       func() time.Time
	cron      *cron.Cron
	logger    *zap.Logger
}

// NewNotificationWorker 创建 NotificationWorker 实例
func NewNotificationWorker(
	cfg config.SchedulerConfig,
	tasks repository.NotificationTaskRepository,
	dispatch service.DispatchEngine,
	logger *zap.Logger,
) *NotificationWorker {
	spec := cfg.Spec
	if spec == "" {
		spec = defaultSpec
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &NotificationWorker{
		tasks:     tasks,
		dispatch:  dispatch,
		spec:      spec,
		batchSize: batch,
		now:       time.Now,
		logger:    logger.Named("notification-worker"),
	}
}

// RunOnce 取出一批到期任务并逐个投递，单个任务失败不影响其余任务
func (w *NotificationWorker) RunOnce(ctx context.Context) (*DrainReport, error) {
	report := &DrainReport{}

	due, err := w.tasks.ListDue(ctx, w.now(), w.batchSize)
	if err != nil {
		w.logger.Error("查询到期任务失败", zap.Error(err))
		return report, err
	}
	report.Due = len(due)

	for i := range due {
		if ctx.Err() != nil {
			break
		}
		task := &due[i]
		err := w.dispatch.DeliverTask(ctx, task)
		switch {
		case err == nil:
			report.Delivered++
		case errors.Is(err, pkgerrors.ErrOptimisticLock):
			// 另一实例已投递该任务
			report.Skipped++
		default:
			w.logger.Warn("延迟任务投递失败",
				zap.Uint("task_id", task.ID),
				zap.Uint("source_id", task.SourceID),
				zap.Error(err),
			)
			report.Failed++
		}
	}

	if report.Due > 0 {
		w.logger.Info("延迟任务投递完成",
			zap.Int("due", report.Due),
			zap.Int("delivered", report.Delivered),
			zap.Int("failed", report.Failed),
			zap.Int("skipped", report.Skipped),
		)
	}
	return report, ctx.Err()
}

// Start 按 cron 表达式调度 RunOnce，上一轮未结束时跳过本轮
func (w *NotificationWorker) Start() error {
	logger := cronLogger{w.logger}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(w.spec, w.tick); err != nil {
		return fmt.Errorf("无效的调度表达式 %q: %w", w.spec, err)
	}
	c.Start()
	w.cron = c
	w.logger.Info("延迟任务调度已启动", zap.String("spec", w.spec), zap.Int("batch_size", w.batchSize))
	return nil
}

// Stop 停止调度并等待正在执行的一轮结束
func (w *NotificationWorker) Stop(ctx context.Context) error {
	if w.cron == nil {
		return nil
	}
	done := w.cron.Stop()
	select {
	case <-done.Done():
		w.logger.Info("延迟任务调度已停止")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *NotificationWorker) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()
	_, _ = w.RunOnce(ctx)
}

// cronLogger 把 cron 内部日志接入 zap
type cronLogger struct {
	l *zap.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
