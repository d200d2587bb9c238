package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/usermicrodevices/mas/config"
	"github.com/usermicrodevices/mas/internal/model"
	"github.com/usermicrodevices/mas/internal/service"
	pkgerrors "github.com/usermicrodevices/mas/pkg/errors"
)

// ── Mock ──

type mockTaskRepo struct {
	due     []model.NotificationTask
	listErr error
	limit   int
	at      time.Time
}

func (m *mockTaskRepo) CreateIfAbsent(context.Context, *model.NotificationTask) (bool, error) {
	return true, nil
}

func (m *mockTaskRepo) ListDue(_ context.Context, now time.Time, limit int) ([]model.NotificationTask, error) {
	m.at, m.limit = now, limit
	return m.due, m.listErr
}

func (m *mockTaskRepo) Claim(context.Context, uint, time.Time, time.Duration) error { return nil }
func (m *mockTaskRepo) MarkSent(context.Context, uint, time.Time, string) error      { return nil }
func (m *mockTaskRepo) MarkFailed(context.Context, uint, string) error               { return nil }

type mockDispatch struct {
	results   map[uint]error
	delivered []uint
}

func (m *mockDispatch) Notify(context.Context, string, string, []uint) (*service.DispatchReport, error) {
	return &service.DispatchReport{}, nil
}

func (m *mockDispatch) DeliverTask(_ context.Context, task *model.NotificationTask) error {
	m.delivered = append(m.delivered, task.ID)
	return m.results[task.ID]
}

func newTestWorker(tasks *mockTaskRepo, dispatch *mockDispatch, logger *zap.Logger) *NotificationWorker {
	w := NewNotificationWorker(config.SchedulerConfig{BatchSize: 2}, tasks, dispatch, logger)
	w.now = func() time.Time { return time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC) }
	return w
}

// ── RunOnce ──

func TestRunOnce_DeliversAllDueTasks(t *testing.T) {
	tasks := &mockTaskRepo{due: []model.NotificationTask{{ID: 1}, {ID: 2}, {ID: 3}}}
	dispatch := &mockDispatch{results: map[uint]error{
		2: pkgerrors.ErrSend,
		3: pkgerrors.ErrOptimisticLock,
	}}
	core, logs := observer.New(zapcore.InfoLevel)
	w := newTestWorker(tasks, dispatch, zap.New(core))

	report, err := w.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []uint{1, 2, 3}, dispatch.delivered)
	assert.Equal(t, &DrainReport{Due: 3, Delivered: 1, Failed: 1, Skipped: 1}, report)
	assert.Equal(t, 2, tasks.limit)
	assert.Equal(t, w.now(), tasks.at)
	assert.Equal(t, 1, logs.FilterMessage("延迟任务投递失败").Len())
}

func TestRunOnce_ListError(t *testing.T) {
	tasks := &mockTaskRepo{listErr: errors.New("connection refused")}
	w := newTestWorker(tasks, &mockDispatch{}, zap.NewNop())

	report, err := w.RunOnce(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 0, report.Due)
}

func TestRunOnce_CancelledContext(t *testing.T) {
	tasks := &mockTaskRepo{due: []model.NotificationTask{{ID: 1}, {ID: 2}}}
	dispatch := &mockDispatch{}
	w := newTestWorker(tasks, dispatch, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := w.RunOnce(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, dispatch.delivered)
}

// ── 调度 ──

func TestNewNotificationWorker_Defaults(t *testing.T) {
	w := NewNotificationWorker(config.SchedulerConfig{}, &mockTaskRepo{}, &mockDispatch{}, zap.NewNop())
	assert.Equal(t, defaultSpec, w.spec)
	assert.Equal(t, defaultBatchSize, w.batchSize)
}

func TestStart_InvalidSpec(t *testing.T) {
	w := NewNotificationWorker(config.SchedulerConfig{Spec: "every now and then"}, &mockTaskRepo{}, &mockDispatch{}, zap.NewNop())
	assert.Error(t, w.Start())
}

func TestStartStop(t *testing.T) {
	w := NewNotificationWorker(config.SchedulerConfig{Spec: "@every 1h"}, &mockTaskRepo{}, &mockDispatch{}, zap.NewNop())
	require.NoError(t, w.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, w.Stop(ctx))
}

func TestCronLogger_Error(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	cronLogger{zap.New(core)}.Error(errors.New("boom"), "job panic", "job", 1)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "job panic", entries[0].Message)
	assert.Equal(t, "boom", entries[0].ContextMap()["error"])
}
