package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/usermicrodevices/mas/internal/model"
)

// NotificationTypeRepository 通知渠道数据访问接口
type NotificationTypeRepository interface {
	Create(ctx context.Context, t *model.NotificationType) error
	GetByValue(ctx context.Context, value string) (*model.NotificationType, error)
	List(ctx context.Context) ([]model.NotificationType, error)
}

type notificationTypeRepo struct {
	db *gorm.DB
}

// NewNotificationTypeRepo 创建 NotificationTypeRepository 实例
func NewNotificationTypeRepo(db *gorm.DB) NotificationTypeRepository {
	return &notificationTypeRepo{db: db}
}

func (r *notificationTypeRepo) Create(ctx context.Context, t *model.NotificationType) error {
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *notificationTypeRepo) GetByValue(ctx context.Context, value string) (*model.NotificationType, error) {
	var t model.NotificationType
	if err := r.db.WithContext(ctx).Where("value = ?", value).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *notificationTypeRepo) List(ctx context.Context) ([]model.NotificationType, error) {
	var list []model.NotificationType
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// ── NotificationTemplate ──

// NotificationTemplateRepository 通知模板数据访问接口
type NotificationTemplateRepository interface {
	Create(ctx context.Context, tpl *model.NotificationTemplate) error
	// Get 按 (source, type) 查询模板
	Get(ctx context.Context, sourceID, typeID uint) (*model.NotificationTemplate, error)
	List(ctx context.Context, sourceID *uint) ([]model.NotificationTemplate, error)
}

type notificationTemplateRepo struct {
	db *gorm.DB
}

// NewNotificationTemplateRepo 创建 NotificationTemplateRepository 实例
func NewNotificationTemplateRepo(db *gorm.DB) NotificationTemplateRepository {
	return &notificationTemplateRepo{db: db}
}

func (r *notificationTemplateRepo) Create(ctx context.Context, tpl *model.NotificationTemplate) error {
	return r.db.WithContext(ctx).Omit("Source", "Type").Create(tpl).Error
}

func (r *notificationTemplateRepo) Get(ctx context.Context, sourceID, typeID uint) (*model.NotificationTemplate, error) {
	var tpl model.NotificationTemplate
	err := r.db.WithContext(ctx).
		Where("source_id = ? AND notification_type_id = ?", sourceID, typeID).
		First(&tpl).Error
	if err != nil {
		return nil, err
	}
	return &tpl, nil
}

func (r *notificationTemplateRepo) List(ctx context.Context, sourceID *uint) ([]model.NotificationTemplate, error) {
	var list []model.NotificationTemplate
	db := r.db.WithContext(ctx).Preload("Source").Preload("Type")
	if sourceID != nil {
		db = db.Where("source_id = ?", *sourceID)
	}
	if err := db.Order("id ASC").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}
