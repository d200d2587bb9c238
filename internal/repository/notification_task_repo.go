package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/usermicrodevices/mas/internal/model"
	pkgerrors "github.com/usermicrodevices/mas/pkg/errors"
)

// NotificationTaskRepository 延迟通知任务数据访问接口
type NotificationTaskRepository interface {
	// CreateIfAbsent 唯一键 (created, source, type, target_user) 冲突时不报错
	CreateIfAbsent(ctx context.Context, task *model.NotificationTask) (created bool, err error)
	// ListDue 返回 send_after 已到期、尚未发送且未失败的任务，租约未过期的任务除外
	ListDue(ctx context.Context, now time.Time, limit int) ([]model.NotificationTask, error)
	// Claim 发送前占用任务至 now+lease，已发送、已失败或被他人占用时返回 ErrOptimisticLock
	Claim(ctx context.Context, id uint, now time.Time, lease time.Duration) error
	MarkSent(ctx context.Context, id uint, sentAt time.Time, response string) error
	MarkFailed(ctx context.Context, id uint, reason string) error
}

type notificationTaskRepo struct {
	db *gorm.DB
}

// NewNotificationTaskRepo 创建 NotificationTaskRepository 实例
func NewNotificationTaskRepo(db *gorm.DB) NotificationTaskRepository {
	return &notificationTaskRepo{db: db}
}

func (r *notificationTaskRepo) CreateIfAbsent(ctx context.Context, task *model.NotificationTask) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Omit("Source", "Type", "TargetUser").
		Create(task)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *notificationTaskRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]model.NotificationTask, error) {
	var tasks []model.NotificationTask
	db := r.db.WithContext(ctx).
		Preload("Source").
		Preload("Type").
		Preload("TargetUser").
		Where("sent IS NULL AND reason IS NULL").
		Where("send_after IS NULL OR send_after <= ?", now).
		Where("claimed_until IS NULL OR claimed_until <= ?", now).
		Order("send_after ASC, id ASC")
	if limit > 0 {
		db = db.Limit(limit)
	}
	if err := db.Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

func (r *notificationTaskRepo) Claim(ctx context.Context, id uint, now time.Time, lease time.Duration) error {
	result := r.db.WithContext(ctx).Model(&model.NotificationTask{}).
		Where("id = ? AND sent IS NULL AND reason IS NULL", id).
		Where("claimed_until IS NULL OR claimed_until <= ?", now).
		Update("claimed_until", now.Add(lease))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.ErrOptimisticLock
	}
	return nil
}

func (r *notificationTaskRepo) MarkSent(ctx context.Context, id uint, sentAt time.Time, response string) error {
	result := r.db.WithContext(ctx).Model(&model.NotificationTask{}).
		Where("id = ? AND sent IS NULL", id).
		Updates(map[string]interface{}{"sent": sentAt, "response": truncate(response, 199)})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// 其他 worker 已先一步完成发送
		return pkgerrors.ErrOptimisticLock
	}
	return nil
}

func (r *notificationTaskRepo) MarkFailed(ctx context.Context, id uint, reason string) error {
	return r.db.WithContext(ctx).Model(&model.NotificationTask{}).
		Where("id = ?", id).
		Update("reason", reason).Error
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// ── NotificationBulkEmail ──

// BulkEmailRepository 群发邮件列表数据访问接口
type BulkEmailRepository interface {
	Create(ctx context.Context, bulk *model.NotificationBulkEmail) error
	List(ctx context.Context) ([]model.NotificationBulkEmail, error)
	// ListBySource 返回过滤条件引用了 sourceID 的列表
	ListBySource(ctx context.Context, sourceID uint) ([]model.NotificationBulkEmail, error)
}

type bulkEmailRepo struct {
	db *gorm.DB
}

// NewBulkEmailRepo 创建 BulkEmailRepository 实例
func NewBulkEmailRepo(db *gorm.DB) BulkEmailRepository {
	return &bulkEmailRepo{db: db}
}

func (r *bulkEmailRepo) Create(ctx context.Context, bulk *model.NotificationBulkEmail) error {
	return r.db.WithContext(ctx).Create(bulk).Error
}

func (r *bulkEmailRepo) List(ctx context.Context) ([]model.NotificationBulkEmail, error) {
	var list []model.NotificationBulkEmail
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *bulkEmailRepo) ListBySource(ctx context.Context, sourceID uint) ([]model.NotificationBulkEmail, error) {
	var list []model.NotificationBulkEmail
	filter := fmt.Sprintf(`[{"sources":[%d]}]`, sourceID)
	err := r.db.WithContext(ctx).
		Where("notifications @> ?::jsonb", filter).
		Order("id ASC").
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	return list, nil
}
