package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/usermicrodevices/mas/internal/model"
)

// NotificationOptionRepository 用户渠道选项与发送延迟数据访问接口
type NotificationOptionRepository interface {
	// Get 按 (source, owner) 查询选项，预加载所选渠道
	Get(ctx context.Context, sourceID, ownerID uint) (*model.NotificationOption, error)
	// ListForSource 一次取出某来源下指定持有人的全部选项
	ListForSource(ctx context.Context, sourceID uint, ownerIDs []uint) ([]model.NotificationOption, error)
	// List ownerID 为 nil 时不限持有人，groupID 非 nil 时只返回该来源分组下的选项
	List(ctx context.Context, ownerID, groupID *uint) ([]model.NotificationOption, error)
	GetByID(ctx context.Context, id uint) (*model.NotificationOption, error)
	Create(ctx context.Context, opt *model.NotificationOption) error
	// ReplaceTypes 以 typeIDs 整体替换选项的渠道集合
	ReplaceTypes(ctx context.Context, optionID uint, typeIDs []uint) error
	// GetOrCreate 并发安全地取得 (source, owner) 选项
	GetOrCreate(ctx context.Context, sourceID, ownerID uint) (*model.NotificationOption, error)
	// AddType 为选项追加渠道，已存在时 added=false
	AddType(ctx context.Context, optionID, typeID uint) (added bool, err error)

	GetDelay(ctx context.Context, sourceID, ownerID uint) (*model.NotificationDelay, error)
	ListDelays(ctx context.Context, ownerID *uint) ([]model.NotificationDelay, error)
	GetDelayByID(ctx context.Context, id uint) (*model.NotificationDelay, error)
	CreateDelay(ctx context.Context, delay *model.NotificationDelay) error
	UpdateDelay(ctx context.Context, id uint, interval int) error
}

type notificationOptionRepo struct {
	db *gorm.DB
}

// NewNotificationOptionRepo 创建 NotificationOptionRepository 实例
func NewNotificationOptionRepo(db *gorm.DB) NotificationOptionRepository {
	return &notificationOptionRepo{db: db}
}

func (r *notificationOptionRepo) Get(ctx context.Context, sourceID, ownerID uint) (*model.NotificationOption, error) {
	var opt model.NotificationOption
	err := r.db.WithContext(ctx).
		Preload("Types").
		Where("source_id = ? AND owner_id = ?", sourceID, ownerID).
		First(&opt).Error
	if err != nil {
		return nil, err
	}
	return &opt, nil
}

func (r *notificationOptionRepo) ListForSource(ctx context.Context, sourceID uint, ownerIDs []uint) ([]model.NotificationOption, error) {
	var list []model.NotificationOption
	if len(ownerIDs) == 0 {
		return list, nil
	}
	err := r.db.WithContext(ctx).
		Preload("Types").
		Where("source_id = ? AND owner_id IN ?", sourceID, ownerIDs).
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	return list, nil
}

func (r *notificationOptionRepo) List(ctx context.Context, ownerID, groupID *uint) ([]model.NotificationOption, error) {
	var list []model.NotificationOption
	db := r.db.WithContext(ctx).Preload("Types").Preload("Source")
	if ownerID != nil {
		db = db.Where("notification_options.owner_id = ?", *ownerID)
	}
	if groupID != nil {
		db = db.Joins("JOIN notification_sources ON notification_sources.id = notification_options.source_id").
			Where("notification_sources.group_id = ?", *groupID)
	}
	if err := db.Order("notification_options.id ASC").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *notificationOptionRepo) GetByID(ctx context.Context, id uint) (*model.NotificationOption, error) {
	var opt model.NotificationOption
	if err := r.db.WithContext(ctx).Preload("Types").Preload("Source").First(&opt, id).Error; err != nil {
		return nil, err
	}
	return &opt, nil
}

func (r *notificationOptionRepo) Create(ctx context.Context, opt *model.NotificationOption) error {
	return r.db.WithContext(ctx).Omit("Source", "Types.*").Create(opt).Error
}

func (r *notificationOptionRepo) ReplaceTypes(ctx context.Context, optionID uint, typeIDs []uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM notification_option_types WHERE notification_option_id = ?", optionID).Error; err != nil {
			return err
		}
		for _, tid := range typeIDs {
			err := tx.Exec(
				"INSERT INTO notification_option_types (notification_option_id, notification_type_id) VALUES (?, ?) ON CONFLICT DO NOTHING",
				optionID, tid,
			).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *notificationOptionRepo) GetOrCreate(ctx context.Context, sourceID, ownerID uint) (*model.NotificationOption, error) {
	opt := &model.NotificationOption{SourceID: sourceID, OwnerID: ownerID}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "source_id"}, {Name: "owner_id"}},
			DoNothing: true,
		}).
		Omit("Source", "Types").
		Create(opt).Error
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, sourceID, ownerID)
}

func (r *notificationOptionRepo) AddType(ctx context.Context, optionID, typeID uint) (bool, error) {
	result := r.db.WithContext(ctx).Exec(
		"INSERT INTO notification_option_types (notification_option_id, notification_type_id) VALUES (?, ?) ON CONFLICT DO NOTHING",
		optionID, typeID,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *notificationOptionRepo) GetDelay(ctx context.Context, sourceID, ownerID uint) (*model.NotificationDelay, error) {
	var delay model.NotificationDelay
	err := r.db.WithContext(ctx).
		Where("source_id = ? AND owner_id = ?", sourceID, ownerID).
		First(&delay).Error
	if err != nil {
		return nil, err
	}
	return &delay, nil
}

func (r *notificationOptionRepo) ListDelays(ctx context.Context, ownerID *uint) ([]model.NotificationDelay, error) {
	var list []model.NotificationDelay
	db := r.db.WithContext(ctx).Preload("Source")
	if ownerID != nil {
		db = db.Where("owner_id = ?", *ownerID)
	}
	if err := db.Order("id ASC").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *notificationOptionRepo) GetDelayByID(ctx context.Context, id uint) (*model.NotificationDelay, error) {
	var delay model.NotificationDelay
	if err := r.db.WithContext(ctx).Preload("Source").First(&delay, id).Error; err != nil {
		return nil, err
	}
	return &delay, nil
}

func (r *notificationOptionRepo) CreateDelay(ctx context.Context, delay *model.NotificationDelay) error {
	return r.db.WithContext(ctx).Omit("Source").Create(delay).Error
}

func (r *notificationOptionRepo) UpdateDelay(ctx context.Context, id uint, interval int) error {
	result := r.db.WithContext(ctx).Model(&model.NotificationDelay{}).Where("id = ?", id).Update("interval", interval)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
