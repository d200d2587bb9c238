package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/usermicrodevices/mas/internal/model"
)

// DeviceListFilters 设备列表筛选条件
type DeviceListFilters struct {
	GroupID      *uint
	DeviceTypeID *uint
	Status       *int
	Keyword      string
}

// DeviceRepository 设备数据访问接口
type DeviceRepository interface {
	Create(ctx context.Context, device *model.Device) error
	GetByID(ctx context.Context, id uint) (*model.Device, error)
	List(ctx context.Context, filters *DeviceListFilters, offset, limit int) ([]model.Device, int64, error)
	// UpdateColumns 只更新给定列，键为列名
	UpdateColumns(ctx context.Context, id uint, columns map[string]interface{}) error
	ReplaceTags(ctx context.Context, id uint, tagIDs []uint) error
}

type deviceRepo struct {
	db *gorm.DB
}

// NewDeviceRepo 创建 DeviceRepository 实例
func NewDeviceRepo(db *gorm.DB) DeviceRepository {
	return &deviceRepo{db: db}
}

func (r *deviceRepo) Create(ctx context.Context, device *model.Device) error {
	return r.db.WithContext(ctx).Omit("Tags.*").Create(device).Error
}

func (r *deviceRepo) GetByID(ctx context.Context, id uint) (*model.Device, error) {
	var device model.Device
	if err := r.db.WithContext(ctx).Preload("Tags").First(&device, id).Error; err != nil {
		return nil, err
	}
	return &device, nil
}

func (r *deviceRepo) List(ctx context.Context, filters *DeviceListFilters, offset, limit int) ([]model.Device, int64, error) {
	var devices []model.Device
	var total int64

	db := r.db.WithContext(ctx).Model(&model.Device{})
	if filters != nil {
		if filters.GroupID != nil {
			db = db.Where("group_id = ?", *filters.GroupID)
		}
		if filters.DeviceTypeID != nil {
			db = db.Where("device_type_id = ?", *filters.DeviceTypeID)
		}
		if filters.Status != nil {
			db = db.Where("status = ?", *filters.Status)
		}
		if filters.Keyword != "" {
			db = db.Where("name ILIKE ?", "%"+filters.Keyword+"%")
		}
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if limit > 0 {
		db = db.Offset(offset).Limit(limit)
	}
	if err := db.Preload("Tags").Order("id ASC").Find(&devices).Error; err != nil {
		return nil, 0, err
	}
	return devices, total, nil
}

func (r *deviceRepo) UpdateColumns(ctx context.Context, id uint, columns map[string]interface{}) error {
	if len(columns) == 0 {
		return nil
	}
	result := r.db.WithContext(ctx).Model(&model.Device{}).Where("id = ?", id).Updates(columns)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *deviceRepo) ReplaceTags(ctx context.Context, id uint, tagIDs []uint) error {
	tags := make([]model.Tag, 0, len(tagIDs))
	for _, tid := range tagIDs {
		tags = append(tags, model.Tag{ID: tid})
	}
	return r.db.WithContext(ctx).Model(&model.Device{ID: id}).Association("Tags").Replace(tags)
}

// ── History ──

// HistoryRepository 设备占用记录数据访问接口
type HistoryRepository interface {
	// GetOpen 返回设备当前未关闭的记录
	GetOpen(ctx context.Context, deviceID uint) (*model.History, error)
	Create(ctx context.Context, h *model.History) error
	Close(ctx context.Context, id uint, at time.Time) error
	ListByDevice(ctx context.Context, deviceID uint) ([]model.History, error)
	OwnerExists(ctx context.Context, ownerID uint) (bool, error)
}

type historyRepo struct {
	db *gorm.DB
}

// NewHistoryRepo 创建 HistoryRepository 实例
func NewHistoryRepo(db *gorm.DB) HistoryRepository {
	return &historyRepo{db: db}
}

func (r *historyRepo) GetOpen(ctx context.Context, deviceID uint) (*model.History, error) {
	var h model.History
	err := r.db.WithContext(ctx).
		Where("device_id = ? AND closed IS NULL", deviceID).
		Order("created DESC").
		First(&h).Error
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (r *historyRepo) Create(ctx context.Context, h *model.History) error {
	return r.db.WithContext(ctx).Create(h).Error
}

func (r *historyRepo) Close(ctx context.Context, id uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&model.History{}).
		Where("id = ? AND closed IS NULL", id).
		Update("closed", at).Error
}

func (r *historyRepo) ListByDevice(ctx context.Context, deviceID uint) ([]model.History, error) {
	var list []model.History
	err := r.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("created DESC").
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	return list, nil
}

func (r *historyRepo) OwnerExists(ctx context.Context, ownerID uint) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&model.Owner{}).Where("id = ?", ownerID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
