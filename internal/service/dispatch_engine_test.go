package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/usermicrodevices/mas/internal/model"
	pkgerrors "github.com/usermicrodevices/mas/pkg/errors"
)

type dispatchFixture struct {
	env    *testEnv
	engine *dispatchEngine
	mailer *mockMailer
	pusher *mockPusher
	logs   *observer.ObservedLogs
	source *model.NotificationSource
	email  *model.NotificationType
	push   *model.NotificationType
	now    time.Time
}

func setupDispatch() *dispatchFixture {
	env := newTestEnv()
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	f := &dispatchFixture{
		env:    env,
		mailer: newMockMailer(),
		pusher: &mockPusher{},
		logs:   logs,
		now:    time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC),
	}
	f.source = &model.NotificationSource{ID: 7, Value: "device_status_changed", Name: "Device status"}
	_ = env.sources.Create(context.Background(), f.source)
	f.email = env.types.add(model.ChannelEmail)
	f.push = env.types.add(model.ChannelPush)
	env.templates.add(f.source.ID, f.email.ID, `<p>{{.Description}} для {{.TargetUser.FullName}}</p>`)
	env.templates.add(f.source.ID, f.push.ID, `{{.Description}}`)

	dir := NewNotificationDirectory(env.repo, NewNopCache(), 0, time.Minute, logger)
	opts := DispatchOptions{
		From:             "noreply@example.com",
		PlaceholderEmail: "email@email.ru",
		OperatorMails:    []string{"ops@example.com"},
		AdminURL:         "https://admin.example.com/users",
	}
	f.engine = NewDispatchEngine(env.repo, dir, NewTemplateRenderer(env.repo), f.mailer, f.pusher, opts, logger).(*dispatchEngine)
	f.engine.now = func() time.Time { return f.now }
	return f
}

func (f *dispatchFixture) notify(t *testing.T, excluded ...uint) *DispatchReport {
	t.Helper()
	report, err := f.engine.Notify(context.Background(), f.source.Value, "kiosk-7 offline", excluded)
	if err != nil {
		t.Fatalf("Notify 应成功: %v", err)
	}
	return report
}

// ── Notify ──

func TestDispatch_SharedEmailSentOnce(t *testing.T) {
	f := setupDispatch()
	f.env.options.set(f.source.ID, 0, f.email)
	f.env.users.add(&model.User{ID: 5, Username: "anna", Email: "shared@example.com"})
	f.env.users.add(&model.User{ID: 6, Username: "boris", Email: " Shared@Example.com "})

	report := f.notify(t)

	if n := len(f.mailer.to("shared@example.com")); n != 1 {
		t.Errorf("共享地址应只发送一次，实际=%d", n)
	}
	if n := f.logs.FilterMessage("重复邮件已抑制").Len(); n != 1 {
		t.Errorf("期望恰好一条重复告警日志，实际=%d", n)
	}
	if report.Sent != 1 || report.Duplicates != 1 {
		t.Errorf("期望 Sent=1 Duplicates=1，实际=%+v", report)
	}

	alerts := f.mailer.to("ops@example.com")
	if len(alerts) != 1 {
		t.Fatalf("运维列表应收到 1 封告警，实际=%d", len(alerts))
	}
	if alerts[0].Subject != duplicateAlertSubject {
		t.Errorf("告警主题不符: %s", alerts[0].Subject)
	}
	if !strings.Contains(alerts[0].Body, "?q=Shared%40Example.com") {
		t.Errorf("告警应包含管理后台链接，实际=%s", alerts[0].Body)
	}
}

func TestDispatch_SubjectAndBody(t *testing.T) {
	f := setupDispatch()
	f.env.options.set(f.source.ID, 0, f.email)
	f.env.users.add(&model.User{ID: 5, Username: "anna", FirstName: "Anna", Email: "anna@example.com"})

	f.notify(t)

	sent := f.mailer.to("anna@example.com")
	if len(sent) != 1 {
		t.Fatalf("期望 1 封邮件，实际=%d", len(sent))
	}
	if sent[0].Subject != "Device status [kiosk-7 offline]" {
		t.Errorf("主题不符: %s", sent[0].Subject)
	}
	if sent[0].Body != "<p>kiosk-7 offline для Anna</p>" {
		t.Errorf("正文不符: %s", sent[0].Body)
	}
}

func TestDispatch_MissingSourceIsNoop(t *testing.T) {
	f := setupDispatch()
	f.env.options.set(f.source.ID, 0, f.email)
	f.env.users.add(&model.User{ID: 5, Username: "anna", Email: "anna@example.com"})

	report, err := f.engine.Notify(context.Background(), "no_such_source", "x", nil)
	if err != nil {
		t.Fatalf("来源不存在不应报错: %v", err)
	}
	if report.Sent+report.Failed+report.Skipped != 0 || len(f.mailer.sent) != 0 {
		t.Errorf("来源不存在时不应发送，实际=%+v", report)
	}
}

func TestDispatch_BulkListReceivesMail(t *testing.T) {
	f := setupDispatch()
	_ = f.env.bulk.Create(context.Background(), &model.NotificationBulkEmail{
		Name:          "duty",
		Emails:        "duty@example.com; night@example.com;",
		Notifications: []byte(`[{"sources":[7]}]`),
	})
	_ = f.env.bulk.Create(context.Background(), &model.NotificationBulkEmail{
		Name:          "other",
		Emails:        "other@example.com",
		Notifications: []byte(`[{"sources":[8]}]`),
	})

	report := f.notify(t)

	duty := f.mailer.to("duty@example.com")
	if len(duty) != 1 {
		t.Fatalf("群发地址应收到 1 封邮件，实际=%d", len(duty))
	}
	if duty[0].Body != "<html><body><p>kiosk-7 offline</p></body></html>" {
		t.Errorf("群发正文不符: %s", duty[0].Body)
	}
	if len(f.mailer.to("night@example.com")) != 1 {
		t.Error("列表中的第二个地址也应收到邮件")
	}
	if len(f.mailer.to("other@example.com")) != 0 {
		t.Error("未引用该来源的列表不应收到邮件")
	}
	if report.Sent != 2 {
		t.Errorf("期望 Sent=2，实际=%d", report.Sent)
	}
}

func TestDispatch_BulkAddressAlreadyUsedByUser(t *testing.T) {
	f := setupDispatch()
	f.env.options.set(f.source.ID, 0, f.email)
	f.env.users.add(&model.User{ID: 5, Username: "anna", Email: "duty@example.com"})
	_ = f.env.bulk.Create(context.Background(), &model.NotificationBulkEmail{
		Name:          "duty",
		Emails:        "duty@example.com",
		Notifications: []byte(`[{"sources":[7]}]`),
	})

	report := f.notify(t)

	if n := len(f.mailer.to("duty@example.com")); n != 1 {
		t.Errorf("地址只应收到一次，实际=%d", n)
	}
	if report.Duplicates != 1 {
		t.Errorf("期望 Duplicates=1，实际=%d", report.Duplicates)
	}
}

func TestDispatch_PushOnly(t *testing.T) {
	f := setupDispatch()
	f.env.options.set(f.source.ID, 5, f.push)
	f.env.users.add(&model.User{ID: 5, Username: "anna", Email: "anna@example.com"})

	report := f.notify(t)

	if len(f.pusher.sent) != 1 {
		t.Errorf("期望恰好 1 条推送，实际=%d", len(f.pusher.sent))
	}
	if len(f.mailer.sent) != 0 {
		t.Errorf("不应发送邮件，实际=%d", len(f.mailer.sent))
	}
	if f.pusher.sent[0].UserID != 5 || f.pusher.sent[0].Body != "kiosk-7 offline" {
		t.Errorf("推送内容不符: %+v", f.pusher.sent[0])
	}
	if report.Sent != 1 {
		t.Errorf("期望 Sent=1，实际=%d", report.Sent)
	}
}

func TestDispatch_PlaceholderAndEmptyAddressSkipped(t *testing.T) {
	f := setupDispatch()
	f.env.options.set(f.source.ID, 0, f.email)
	f.env.users.add(&model.User{ID: 5, Username: "anna", Email: "email@email.ru"})
	f.env.users.add(&model.User{ID: 6, Username: "boris"})

	report := f.notify(t)

	if len(f.mailer.sent) != 0 {
		t.Errorf("占位邮箱与空邮箱不应发送，实际=%d", len(f.mailer.sent))
	}
	if report.Skipped != 2 {
		t.Errorf("期望 Skipped=2，实际=%d", report.Skipped)
	}
}

func TestDispatch_FailureDoesNotStopBatch(t *testing.T) {
	f := setupDispatch()
	f.env.options.set(f.source.ID, 0, f.email)
	f.env.users.add(&model.User{ID: 5, Username: "anna", Email: "anna@example.com"})
	f.env.users.add(&model.User{ID: 6, Username: "boris", Email: "boris@example.com"})
	f.mailer.failTo["anna@example.com"] = errors.New("smtp 550")

	report := f.notify(t)

	if report.Failed != 1 || report.Sent != 1 {
		t.Errorf("期望 Failed=1 Sent=1，实际=%+v", report)
	}
	if len(f.mailer.to("boris@example.com")) != 1 {
		t.Error("后续收件人应继续发送")
	}
}

func TestDispatch_UnsupportedChannelSkipped(t *testing.T) {
	f := setupDispatch()
	other := f.env.types.add("sms")
	f.env.options.set(f.source.ID, 0, other)
	f.env.users.add(&model.User{ID: 5, Username: "anna", Email: "anna@example.com"})

	report := f.notify(t)

	if report.Skipped != 1 || report.Sent != 0 {
		t.Errorf("不支持的渠道应跳过，实际=%+v", report)
	}
}

func TestDispatch_TemplateMissingSkipped(t *testing.T) {
	f := setupDispatch()
	delete(f.env.templates.templates, [2]uint{f.source.ID, f.push.ID})
	f.env.options.set(f.source.ID, 0, f.push, f.email)
	f.env.users.add(&model.User{ID: 5, Username: "anna", Email: "anna@example.com"})

	report := f.notify(t)

	if len(f.pusher.sent) != 0 {
		t.Error("没有模板的渠道不应发送")
	}
	if report.Skipped != 1 || report.Sent != 1 {
		t.Errorf("期望 Skipped=1 Sent=1，实际=%+v", report)
	}
}

func TestDispatch_RenderErrorSkipped(t *testing.T) {
	f := setupDispatch()
	f.env.templates.add(f.source.ID, f.push.ID, `{{.Missing}}`)
	f.env.options.set(f.source.ID, 0, f.push)
	f.env.users.add(&model.User{ID: 5, Username: "anna"})

	report := f.notify(t)

	if report.Skipped != 1 || len(f.pusher.sent) != 0 {
		t.Errorf("渲染失败应跳过，实际=%+v", report)
	}
}

func TestDispatch_DelayCreatesTask(t *testing.T) {
	f := setupDispatch()
	f.env.options.set(f.source.ID, 0, f.email)
	f.env.options.setDelay(f.source.ID, 5, 60)
	f.env.users.add(&model.User{ID: 5, Username: "anna", Email: "anna@example.com"})

	report := f.notify(t)

	if len(f.mailer.sent) != 0 {
		t.Errorf("延迟发送不应立即发送，实际=%d", len(f.mailer.sent))
	}
	if report.Scheduled != 1 {
		t.Errorf("期望 Scheduled=1，实际=%d", report.Scheduled)
	}
	if len(f.env.tasks.tasks) != 1 {
		t.Fatalf("期望 1 个任务，实际=%d", len(f.env.tasks.tasks))
	}
	task := f.env.tasks.tasks[1]
	if !task.SendAfter.Equal(f.now.Add(60 * time.Second)) {
		t.Errorf("send_after 不符: %v", task.SendAfter)
	}
	if *task.TargetUserID != 5 || task.TypeID != f.email.ID || task.SourceID != f.source.ID {
		t.Errorf("任务字段不符: %+v", task)
	}

	// 同一时刻重复触发不会产生第二个任务
	second := f.notify(t)
	if second.Skipped != 1 || len(f.env.tasks.tasks) != 1 {
		t.Errorf("重复任务应跳过，实际=%+v", second)
	}
}

// ── DeliverTask ──

func (f *dispatchFixture) dueTask(user *model.User, typ *model.NotificationType) *model.NotificationTask {
	subject := "Device status [kiosk-7 offline]"
	task := &model.NotificationTask{
		Created:      f.now,
		SourceID:     f.source.ID,
		TypeID:       typ.ID,
		TargetUserID: &user.ID,
		Subject:      &subject,
		Content:      "<p>later</p>",
		Type:         typ,
		TargetUser:   user,
	}
	_, _ = f.env.tasks.CreateIfAbsent(context.Background(), task)
	return task
}

func TestDeliverTask_Success(t *testing.T) {
	f := setupDispatch()
	user := f.env.users.add(&model.User{ID: 5, Username: "anna", Email: "anna@example.com"})
	task := f.dueTask(user, f.email)

	if err := f.engine.DeliverTask(context.Background(), task); err != nil {
		t.Fatalf("DeliverTask 应成功: %v", err)
	}
	stored := f.env.tasks.tasks[task.ID]
	if stored.Sent == nil || *stored.Response != "ok" {
		t.Errorf("任务应标记为已发送，实际=%+v", stored)
	}
	if len(f.mailer.to("anna@example.com")) != 1 {
		t.Error("应发送 1 封邮件")
	}
}

func TestDeliverTask_NoAddressMarksReason(t *testing.T) {
	f := setupDispatch()
	user := f.env.users.add(&model.User{ID: 5, Username: "anna"})
	task := f.dueTask(user, f.email)

	if err := f.engine.DeliverTask(context.Background(), task); err != nil {
		t.Fatalf("无地址不应返回错误: %v", err)
	}
	stored := f.env.tasks.tasks[task.ID]
	if stored.Reason == nil || stored.Sent != nil {
		t.Errorf("任务应记录失败原因，实际=%+v", stored)
	}
}

func TestDeliverTask_SendFailure(t *testing.T) {
	f := setupDispatch()
	user := f.env.users.add(&model.User{ID: 5, Username: "anna"})
	task := f.dueTask(user, f.push)
	f.pusher.err = errors.New("gateway timeout")

	err := f.engine.DeliverTask(context.Background(), task)
	if !errors.Is(err, pkgerrors.ErrSend) {
		t.Errorf("期望 ErrSend，实际: %v", err)
	}
	stored := f.env.tasks.tasks[task.ID]
	if stored.Reason == nil || !strings.Contains(*stored.Reason, "gateway timeout") {
		t.Errorf("失败原因应被记录，实际=%v", stored.Reason)
	}

	// 已失败的任务不再出现在到期列表中
	due, _ := f.env.tasks.ListDue(context.Background(), f.now.Add(time.Hour), 10)
	if len(due) != 0 {
		t.Errorf("失败任务不应重试，实际=%d", len(due))
	}
}

func TestDeliverTask_SameTaskTwiceSendsOnce(t *testing.T) {
	f := setupDispatch()
	user := f.env.users.add(&model.User{ID: 5, Username: "anna", Email: "anna@example.com"})
	task := f.dueTask(user, f.email)

	// 两个 worker 各自持有同一任务的副本
	first, second := *task, *task
	if err := f.engine.DeliverTask(context.Background(), &first); err != nil {
		t.Fatalf("第一次投递应成功: %v", err)
	}
	err := f.engine.DeliverTask(context.Background(), &second)
	if !errors.Is(err, pkgerrors.ErrOptimisticLock) {
		t.Errorf("第二次投递期望 ErrOptimisticLock，实际: %v", err)
	}
	if n := len(f.mailer.to("anna@example.com")); n != 1 {
		t.Errorf("同一任务只应发送一次，实际=%d", n)
	}
}

func TestDeliverTask_ClaimedTaskSkippedUntilLeaseExpires(t *testing.T) {
	f := setupDispatch()
	user := f.env.users.add(&model.User{ID: 5, Username: "anna", Email: "anna@example.com"})
	task := f.dueTask(user, f.email)

	// 另一 worker 已占用但尚未标记结果
	if err := f.env.tasks.Claim(context.Background(), task.ID, f.now, taskClaimLease); err != nil {
		t.Fatalf("占用应成功: %v", err)
	}
	if err := f.engine.DeliverTask(context.Background(), task); !errors.Is(err, pkgerrors.ErrOptimisticLock) {
		t.Errorf("租约内期望 ErrOptimisticLock，实际: %v", err)
	}
	if due, _ := f.env.tasks.ListDue(context.Background(), f.now, 10); len(due) != 0 {
		t.Errorf("租约内的任务不应出现在到期列表，实际=%d", len(due))
	}
	if len(f.mailer.sent) != 0 {
		t.Fatalf("租约内不应发送，实际=%d", len(f.mailer.sent))
	}

	// 占用方崩溃，租约到期后可重新投递
	f.now = f.now.Add(taskClaimLease + time.Second)
	if err := f.engine.DeliverTask(context.Background(), task); err != nil {
		t.Fatalf("租约到期后应可投递: %v", err)
	}
	if n := len(f.mailer.to("anna@example.com")); n != 1 {
		t.Errorf("期望 1 封邮件，实际=%d", n)
	}
}

func TestDispatch_BulkDuplicateCountedUnderBulk(t *testing.T) {
	f := setupDispatch()
	for _, name := range []string{"duty", "night"} {
		_ = f.env.bulk.Create(context.Background(), &model.NotificationBulkEmail{
			Name:          name,
			Emails:        "duty@example.com",
			Notifications: []byte(`[{"sources":[7]}]`),
		})
	}
	bulkBefore := testutil.ToFloat64(notifySendTotal.WithLabelValues(bulkChannel, statusDuplicate))
	emailBefore := testutil.ToFloat64(notifySendTotal.WithLabelValues(model.ChannelEmail, statusDuplicate))

	report := f.notify(t)

	if report.Sent != 1 || report.Duplicates != 1 {
		t.Errorf("期望 Sent=1 Duplicates=1，实际=%+v", report)
	}
	if d := testutil.ToFloat64(notifySendTotal.WithLabelValues(bulkChannel, statusDuplicate)) - bulkBefore; d != 1 {
		t.Errorf("群发重复应计入 bulk 渠道，实际增量=%v", d)
	}
	if d := testutil.ToFloat64(notifySendTotal.WithLabelValues(model.ChannelEmail, statusDuplicate)) - emailBefore; d != 0 {
		t.Errorf("群发重复不应计入 email 渠道，实际增量=%v", d)
	}
}

func TestDispatch_TemplateCannotReadPasswordHash(t *testing.T) {
	f := setupDispatch()
	f.env.templates.add(f.source.ID, f.email.ID, `<p>{{.TargetUser.PasswordHash}}</p>`)
	f.env.options.set(f.source.ID, 0, f.email)
	f.env.users.add(&model.User{ID: 5, Username: "anna", Email: "anna@example.com", PasswordHash: "$2a$10$secret"})

	report := f.notify(t)

	if len(f.mailer.sent) != 0 {
		t.Errorf("引用内部字段的模板不应发出邮件，实际=%+v", f.mailer.sent)
	}
	if report.Skipped != 1 {
		t.Errorf("期望 Skipped=1，实际=%+v", report)
	}
}
