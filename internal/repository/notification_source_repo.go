package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/usermicrodevices/mas/internal/model"
)

// NotificationSourceRepository 通知来源与来源分组数据访问接口
type NotificationSourceRepository interface {
	Create(ctx context.Context, source *model.NotificationSource) error
	GetByID(ctx context.Context, id uint) (*model.NotificationSource, error)
	GetByValue(ctx context.Context, value string) (*model.NotificationSource, error)
	Update(ctx context.Context, source *model.NotificationSource) error
	Delete(ctx context.Context, id uint) error
	// List groupID 非空时只返回该分组下的来源
	List(ctx context.Context, groupID *uint) ([]model.NotificationSource, error)
	ListValues(ctx context.Context) ([]string, error)

	CreateGroup(ctx context.Context, group *model.NotificationSourceGroup) error
	ListGroups(ctx context.Context) ([]model.NotificationSourceGroup, error)
}

type notificationSourceRepo struct {
	db *gorm.DB
}

// NewNotificationSourceRepo 创建 NotificationSourceRepository 实例
func NewNotificationSourceRepo(db *gorm.DB) NotificationSourceRepository {
	return &notificationSourceRepo{db: db}
}

func (r *notificationSourceRepo) Create(ctx context.Context, source *model.NotificationSource) error {
	return r.db.WithContext(ctx).Omit("Group").Create(source).Error
}

func (r *notificationSourceRepo) GetByID(ctx context.Context, id uint) (*model.NotificationSource, error) {
	var source model.NotificationSource
	if err := r.db.WithContext(ctx).First(&source, id).Error; err != nil {
		return nil, err
	}
	return &source, nil
}

func (r *notificationSourceRepo) GetByValue(ctx context.Context, value string) (*model.NotificationSource, error) {
	var source model.NotificationSource
	if err := r.db.WithContext(ctx).Where("value = ?", value).First(&source).Error; err != nil {
		return nil, err
	}
	return &source, nil
}

func (r *notificationSourceRepo) Update(ctx context.Context, source *model.NotificationSource) error {
	return r.db.WithContext(ctx).Omit("Group").Save(source).Error
}

func (r *notificationSourceRepo) Delete(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Delete(&model.NotificationSource{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *notificationSourceRepo) List(ctx context.Context, groupID *uint) ([]model.NotificationSource, error) {
	var list []model.NotificationSource
	db := r.db.WithContext(ctx).Preload("Group")
	if groupID != nil {
		db = db.Where("group_id = ?", *groupID)
	}
	if err := db.Order("id ASC").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *notificationSourceRepo) ListValues(ctx context.Context) ([]string, error) {
	var values []string
	if err := r.db.WithContext(ctx).Model(&model.NotificationSource{}).Order("id ASC").Pluck("value", &values).Error; err != nil {
		return nil, err
	}
	return values, nil
}

func (r *notificationSourceRepo) CreateGroup(ctx context.Context, group *model.NotificationSourceGroup) error {
	return r.db.WithContext(ctx).Create(group).Error
}

func (r *notificationSourceRepo) ListGroups(ctx context.Context) ([]model.NotificationSourceGroup, error) {
	var list []model.NotificationSourceGroup
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}
