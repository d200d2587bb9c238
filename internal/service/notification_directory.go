package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/usermicrodevices/mas/internal/model"
	"github.com/usermicrodevices/mas/internal/repository"
)

// Recipient 一个 (用户, 渠道) 投递对
type Recipient struct {
	User  model.User
	Type  model.NotificationType
	Delay int // 秒，0 表示立即发送
}

// SourceRecipients 来源及其收件人；Source 为 nil 表示来源不存在
type SourceRecipients struct {
	Source     *model.NotificationSource
	Recipients []Recipient
}

// NotificationDirectory 来源 → 收件人、渠道、延迟的解析
type NotificationDirectory interface {
	RecipientsFor(ctx context.Context, sourceKey string, excluded []uint) (*SourceRecipients, error)
	// DelayFor 未配置时返回 0
	DelayFor(ctx context.Context, sourceID, ownerID uint) (int, error)
	// SourceKeys 返回全部来源 value，优先读缓存
	SourceKeys(ctx context.Context) ([]string, error)
	// RefreshSourceKeys 来源变更后重建缓存
	RefreshSourceKeys(ctx context.Context) error
}

type notificationDirectory struct {
	repo           *repository.Repository
	cache          Cache
	defaultOwnerID uint
	sourcesTTL     time.Duration
	logger         *zap.Logger
}

// NewNotificationDirectory 创建 NotificationDirectory 实例
func NewNotificationDirectory(
	repo *repository.Repository,
	cache Cache,
	defaultOwnerID uint,
	sourcesTTL time.Duration,
	logger *zap.Logger,
) NotificationDirectory {
	return &notificationDirectory{
		repo:           repo,
		cache:          cache,
		defaultOwnerID: defaultOwnerID,
		sourcesTTL:     sourcesTTL,
		logger:         logger,
	}
}

func (d *notificationDirectory) RecipientsFor(ctx context.Context, sourceKey string, excluded []uint) (*SourceRecipients, error) {
	result := &SourceRecipients{}

	// 缓存命中且不含该 key 时直接返回
	var keys []string
	if hit, err := d.cache.GetJSON(ctx, cacheKeySources, &keys); err != nil {
		d.logger.Warn("读取来源缓存失败", zap.Error(err))
	} else if hit && !contains(keys, sourceKey) {
		return result, nil
	}

	source, err := d.repo.Source.GetByValue(ctx, sourceKey)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return result, nil
		}
		d.logger.Error("查询通知来源失败", zap.String("source", sourceKey), zap.Error(err))
		return nil, err
	}
	result.Source = source

	candidates, err := d.repo.User.ListCandidates(ctx, append(append([]uint(nil), excluded...), d.defaultOwnerID))
	if err != nil {
		d.logger.Error("查询候选用户失败", zap.String("source", sourceKey), zap.Error(err))
		return nil, err
	}
	if len(candidates) == 0 {
		return result, nil
	}

	owners := make([]uint, 0, len(candidates)+1)
	owners = append(owners, d.defaultOwnerID)
	for _, u := range candidates {
		owners = append(owners, u.ID)
	}
	options, err := d.repo.Option.ListForSource(ctx, source.ID, owners)
	if err != nil {
		d.logger.Error("查询渠道选项失败", zap.String("source", sourceKey), zap.Error(err))
		return nil, err
	}
	byOwner := make(map[uint]*model.NotificationOption, len(options))
	for i := range options {
		byOwner[options[i].OwnerID] = &options[i]
	}
	fallback := byOwner[d.defaultOwnerID]

	for _, u := range candidates {
		opt, ok := byOwner[u.ID]
		if !ok {
			opt = fallback
		}
		if opt == nil || len(opt.Types) == 0 {
			continue
		}
		delay, err := d.DelayFor(ctx, source.ID, u.ID)
		if err != nil {
			// 延迟读取失败按立即发送处理
			d.logger.Warn("读取发送延迟失败", zap.Uint("user_id", u.ID), zap.String("source", sourceKey), zap.Error(err))
			delay = 0
		}
		for _, t := range opt.Types {
			result.Recipients = append(result.Recipients, Recipient{User: u, Type: t, Delay: delay})
		}
	}
	return result, nil
}

func (d *notificationDirectory) DelayFor(ctx context.Context, sourceID, ownerID uint) (int, error) {
	delay, err := d.repo.Option.GetDelay(ctx, sourceID, ownerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	if delay.Interval < 0 {
		return 0, nil
	}
	return delay.Interval, nil
}

func (d *notificationDirectory) SourceKeys(ctx context.Context) ([]string, error) {
	var keys []string
	if hit, err := d.cache.GetJSON(ctx, cacheKeySources, &keys); err == nil && hit {
		return keys, nil
	}
	keys, err := d.repo.Source.ListValues(ctx)
	if err != nil {
		return nil, err
	}
	if err := d.cache.SetJSON(ctx, cacheKeySources, keys, d.sourcesTTL); err != nil {
		d.logger.Warn("写入来源缓存失败", zap.Error(err))
	}
	return keys, nil
}

func (d *notificationDirectory) RefreshSourceKeys(ctx context.Context) error {
	keys, err := d.repo.Source.ListValues(ctx)
	if err != nil {
		return err
	}
	return d.cache.SetJSON(ctx, cacheKeySources, keys, d.sourcesTTL)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
