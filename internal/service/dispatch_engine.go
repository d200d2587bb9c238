package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/usermicrodevices/mas/config"
	"github.com/usermicrodevices/mas/internal/model"
	"github.com/usermicrodevices/mas/internal/repository"
	pkgerrors "github.com/usermicrodevices/mas/pkg/errors"
)

const (
	duplicateAlertSubject = "DOUBLE EMAIL FOR NOTIFY"
	bulkChannel           = "bulk"

	// taskClaimLease 占用后未能标记结果的任务，租约到期后可被重新取出
	taskClaimLease = 5 * time.Minute
)

// Mailer 邮件发送端口，由 pkg/mail.Sender 实现
type Mailer interface {
	Send(ctx context.Context, subject, from, to, htmlBody string) error
}

// Pusher 推送端口，由 pkg/push.Client 实现
type Pusher interface {
	Push(ctx context.Context, userID uint, title, body string) error
}

// DispatchOptions 发送相关常量
type DispatchOptions struct {
	From             string
	PlaceholderEmail string
	OperatorMails    []string
	AdminURL         string
}

// DispatchOptionsFromConfig 由配置构造 DispatchOptions
func DispatchOptionsFromConfig(cfg *config.Config) DispatchOptions {
	return DispatchOptions{
		From:             cfg.Mail.From,
		PlaceholderEmail: cfg.Notify.PlaceholderEmail,
		OperatorMails:    cfg.Notify.OperatorMails,
		AdminURL:         cfg.Notify.AdminURL,
	}
}

// DispatchEngine 事件通知的扇出引擎
// 单个收件人或地址的失败只记录日志，不中断批次
type DispatchEngine interface {
	// Notify 来源不存在时返回空报告且不发送
	Notify(ctx context.Context, sourceKey, description string, excluded []uint) (*DispatchReport, error)
	// DeliverTask 发送一条到期的延迟任务，并标记 sent 或 reason
	DeliverTask(ctx context.Context, task *model.NotificationTask) error
}

type dispatchEngine struct {
	repo      *repository.Repository
	directory NotificationDirectory
	renderer  TemplateRenderer
	mailer    Mailer
	pusher    Pusher
	opts      DispatchOptions
	now       func() time.Time
	logger    *zap.Logger
}

// NewDispatchEngine 创建 DispatchEngine 实例
func NewDispatchEngine(
	repo *repository.Repository,
	directory NotificationDirectory,
	renderer TemplateRenderer,
	mailer Mailer,
	pusher Pusher,
	opts DispatchOptions,
	logger *zap.Logger,
) DispatchEngine {
	return &dispatchEngine{
		repo:      repo,
		directory: directory,
		renderer:  renderer,
		mailer:    mailer,
		pusher:    pusher,
		opts:      opts,
		now:       time.Now,
		logger:    logger,
	}
}

// ────────────────────── Notify ──────────────────────

func (e *dispatchEngine) Notify(ctx context.Context, sourceKey, description string, excluded []uint) (*DispatchReport, error) {
	batch := newDeliveryLog(sourceKey)

	resolved, err := e.directory.RecipientsFor(ctx, sourceKey, excluded)
	if err != nil {
		return batch.report, err
	}
	if resolved.Source == nil {
		e.logger.Debug("通知来源不存在，忽略", zap.String("source", sourceKey))
		return batch.report, nil
	}
	source := resolved.Source
	subject := fmt.Sprintf("%s [%s]", source.Name, description)

	for i := range resolved.Recipients {
		e.deliver(ctx, batch, source, subject, description, &resolved.Recipients[i])
	}

	e.deliverBulk(ctx, batch, source, subject, description)

	r := batch.report
	e.logger.Info("通知批次完成",
		zap.String("source", sourceKey),
		zap.Int("sent", r.Sent),
		zap.Int("failed", r.Failed),
		zap.Int("skipped", r.Skipped),
		zap.Int("duplicates", r.Duplicates),
		zap.Int("scheduled", r.Scheduled),
	)
	return r, nil
}

// deliver 处理一个 (用户, 渠道) 投递对
func (e *dispatchEngine) deliver(ctx context.Context, batch *deliveryLog, source *model.NotificationSource, subject, description string, rcpt *Recipient) {
	channel := rcpt.Type.Value
	log := e.logger.With(
		zap.String("source", source.Value),
		zap.Uint("user_id", rcpt.User.ID),
		zap.String("channel", channel),
	)

	var address string
	switch channel {
	case model.ChannelEmail:
		address = strings.TrimSpace(rcpt.User.Email)
		if !e.usableAddress(address) {
			log.Info("用户没有可用邮箱，跳过", zap.String("address", address))
			batch.record(channel, statusSkipped)
			return
		}
		if firstUser, dup := batch.seen(address); dup {
			e.suppressDuplicate(ctx, batch, model.ChannelEmail, source, rcpt.User.ID, firstUser, address)
			return
		}
	case model.ChannelPush:
	default:
		log.Warn("不支持的通知渠道，跳过")
		batch.record(channel, statusSkipped)
		return
	}

	content, err := e.renderer.Render(ctx, &rcpt.Type, RenderContext{
		TargetUser:  newTemplateUser(&rcpt.User),
		Source:      source,
		Description: description,
	})
	if err != nil {
		if errors.Is(err, pkgerrors.ErrTemplateMissing) {
			log.Info("通知模板不存在，跳过", zap.Error(err))
		} else {
			log.Error("通知模板渲染失败，跳过", zap.Error(err))
		}
		batch.record(channel, statusSkipped)
		return
	}

	if rcpt.Delay > 0 {
		e.schedule(ctx, batch, source, subject, description, content, rcpt, log)
		if address != "" {
			batch.mark(address, rcpt.User.ID)
		}
		return
	}

	if err := e.send(ctx, channel, rcpt.User.ID, address, subject, content); err != nil {
		log.Error("通知发送失败", zap.String("address", address), zap.Error(err))
		batch.record(channel, statusFailed)
		return
	}
	if address != "" {
		batch.mark(address, rcpt.User.ID)
	}
	batch.record(channel, statusSent)
}

// deliverBulk 群发列表：过滤条件引用了来源的列表中每个未使用过的地址
func (e *dispatchEngine) deliverBulk(ctx context.Context, batch *deliveryLog, source *model.NotificationSource, subject, description string) {
	lists, err := e.repo.BulkEmail.ListBySource(ctx, source.ID)
	if err != nil {
		e.logger.Error("查询群发列表失败", zap.String("source", source.Value), zap.Error(err))
		return
	}
	if len(lists) == 0 {
		return
	}

	body := bulkBody(description)
	for _, list := range lists {
		for _, address := range list.Addresses() {
			if firstUser, dup := batch.seen(address); dup {
				e.suppressDuplicate(ctx, batch, bulkChannel, source, 0, firstUser, address)
				continue
			}
			if err := e.mailer.Send(ctx, subject, e.opts.From, address, body); err != nil {
				e.logger.Error("群发邮件发送失败",
					zap.String("source", source.Value),
					zap.String("list", list.Name),
					zap.String("address", address),
					zap.Error(err),
				)
				batch.record(bulkChannel, statusFailed)
				continue
			}
			batch.mark(address, 0)
			batch.record(bulkChannel, statusSent)
		}
	}
}

// suppressDuplicate 同一批次内重复地址：不再发送，记录告警并通知运维列表
func (e *dispatchEngine) suppressDuplicate(ctx context.Context, batch *deliveryLog, channel string, source *model.NotificationSource, userID, firstUser uint, address string) {
	e.logger.Warn("重复邮件已抑制",
		zap.String("source", source.Value),
		zap.Uint("user_id", userID),
		zap.Uint("first_user_id", firstUser),
		zap.String("address", address),
		zap.String("channel", channel),
	)
	batch.record(channel, statusDuplicate)

	if len(e.opts.OperatorMails) == 0 {
		return
	}
	link := e.opts.AdminURL + "?q=" + url.QueryEscape(address)
	var sb strings.Builder
	if err := duplicateAlertTemplate.Execute(&sb, map[string]interface{}{
		"Source":  source.Value,
		"UserID":  userID,
		"Address": address,
		"Link":    link,
	}); err != nil {
		e.logger.Error("重复告警渲染失败", zap.Error(err))
		return
	}
	for _, op := range e.opts.OperatorMails {
		if err := e.mailer.Send(ctx, duplicateAlertSubject, e.opts.From, op, sb.String()); err != nil {
			e.logger.Error("重复告警发送失败", zap.String("address", op), zap.Error(err))
		}
	}
}

func (e *dispatchEngine) usableAddress(address string) bool {
	return address != "" && !strings.EqualFold(address, e.opts.PlaceholderEmail)
}

func (e *dispatchEngine) send(ctx context.Context, channel string, userID uint, address, subject, content string) (err error) {
	defer func() {
		// 外部发送方 panic 不得中断批次
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", pkgerrors.ErrSend, r)
		}
	}()

	switch channel {
	case model.ChannelEmail:
		err = e.mailer.Send(ctx, subject, e.opts.From, address, content)
	case model.ChannelPush:
		err = e.pusher.Push(ctx, userID, subject, content)
	default:
		err = fmt.Errorf("不支持的通知渠道 %s", channel)
	}
	if err != nil && !errors.Is(err, pkgerrors.ErrSend) {
		err = fmt.Errorf("%w: %v", pkgerrors.ErrSend, err)
	}
	return err
}

// ────────────────────── 延迟发送 ──────────────────────

// schedule 延迟大于 0 时写入任务，由 worker 到期后投递
func (e *dispatchEngine) schedule(ctx context.Context, batch *deliveryLog, source *model.NotificationSource, subject, description, content string, rcpt *Recipient, log *zap.Logger) {
	now := e.now()
	sendAfter := now.Add(time.Duration(rcpt.Delay) * time.Second)
	userID := rcpt.User.ID
	subj := truncateRunes(subject, 199)
	entity, _ := json.Marshal(map[string]interface{}{
		"source":      source.Value,
		"description": description,
		"user_id":     userID,
	})

	task := &model.NotificationTask{
		Created:      now,
		SendAfter:    &sendAfter,
		SourceID:     source.ID,
		TypeID:       rcpt.Type.ID,
		TargetUserID: &userID,
		Subject:      &subj,
		Content:      content,
		Entity:       entity,
		Description:  description,
	}
	created, err := e.repo.Task.CreateIfAbsent(ctx, task)
	if err != nil {
		log.Error("写入延迟任务失败", zap.Error(err))
		batch.record(rcpt.Type.Value, statusFailed)
		return
	}
	if !created {
		log.Info("延迟任务已存在，跳过")
		batch.record(rcpt.Type.Value, statusSkipped)
		return
	}
	log.Debug("写入延迟任务", zap.Time("send_after", sendAfter))
	batch.record(rcpt.Type.Value, statusScheduled)
}

// ────────────────────── DeliverTask ──────────────────────

func (e *dispatchEngine) DeliverTask(ctx context.Context, task *model.NotificationTask) error {
	log := e.logger.With(zap.Uint("task_id", task.ID), zap.Uint("source_id", task.SourceID))

	// 先占用再发送，多个 worker 取到同一任务时只有一个能继续
	if err := e.repo.Task.Claim(ctx, task.ID, e.now(), taskClaimLease); err != nil {
		if errors.Is(err, pkgerrors.ErrOptimisticLock) {
			log.Debug("任务已被其他 worker 占用，跳过")
		} else {
			log.Error("占用延迟任务失败", zap.Error(err))
		}
		return err
	}

	if task.Type == nil || task.TargetUser == nil {
		reason := "任务缺少渠道或目标用户"
		log.Warn(reason)
		return e.failTask(ctx, task, reason)
	}
	channel := task.Type.Value

	address := ""
	if channel == model.ChannelEmail {
		address = strings.TrimSpace(task.TargetUser.Email)
		if !e.usableAddress(address) {
			notifySendTotal.WithLabelValues(channel, statusSkipped).Inc()
			return e.failTask(ctx, task, "用户没有可用邮箱")
		}
	}

	subject := ""
	if task.Subject != nil {
		subject = *task.Subject
	}
	if err := e.send(ctx, channel, task.TargetUser.ID, address, subject, task.Content); err != nil {
		log.Error("延迟任务发送失败", zap.String("channel", channel), zap.Error(err))
		notifySendTotal.WithLabelValues(channel, statusFailed).Inc()
		if ferr := e.failTask(ctx, task, err.Error()); ferr != nil {
			return ferr
		}
		return err
	}

	notifySendTotal.WithLabelValues(channel, statusSent).Inc()
	if err := e.repo.Task.MarkSent(ctx, task.ID, e.now(), "ok"); err != nil {
		log.Error("标记任务已发送失败", zap.Error(err))
		return err
	}
	return nil
}

func (e *dispatchEngine) failTask(ctx context.Context, task *model.NotificationTask, reason string) error {
	if err := e.repo.Task.MarkFailed(ctx, task.ID, reason); err != nil {
		e.logger.Error("标记任务失败原因失败", zap.Uint("task_id", task.ID), zap.Error(err))
		return err
	}
	return nil
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
