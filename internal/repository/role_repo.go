package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/usermicrodevices/mas/internal/model"
)

// RoleRepository 角色数据访问接口
type RoleRepository interface {
	Create(ctx context.Context, role *model.Role) error
	GetByID(ctx context.Context, id uint) (*model.Role, error)
	GetByValue(ctx context.Context, value string) (*model.Role, error)
	Update(ctx context.Context, role *model.Role) error
	Delete(ctx context.Context, id uint) error
	// List minWeight 为 nil 时返回全部角色
	List(ctx context.Context, minWeight *int) ([]model.Role, error)
}

type roleRepo struct {
	db *gorm.DB
}

// NewRoleRepo 创建 RoleRepository 实例
func NewRoleRepo(db *gorm.DB) RoleRepository {
	return &roleRepo{db: db}
}

func (r *roleRepo) Create(ctx context.Context, role *model.Role) error {
	return r.db.WithContext(ctx).Create(role).Error
}

func (r *roleRepo) GetByID(ctx context.Context, id uint) (*model.Role, error) {
	var role model.Role
	if err := r.db.WithContext(ctx).Preload("Group").First(&role, id).Error; err != nil {
		return nil, err
	}
	return &role, nil
}

func (r *roleRepo) GetByValue(ctx context.Context, value string) (*model.Role, error) {
	var role model.Role
	if err := r.db.WithContext(ctx).Where("value = ?", value).First(&role).Error; err != nil {
		return nil, err
	}
	return &role, nil
}

func (r *roleRepo) Update(ctx context.Context, role *model.Role) error {
	return r.db.WithContext(ctx).Omit("Group").Save(role).Error
}

func (r *roleRepo) Delete(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Delete(&model.Role{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *roleRepo) List(ctx context.Context, minWeight *int) ([]model.Role, error) {
	var roles []model.Role
	db := r.db.WithContext(ctx).Model(&model.Role{})
	if minWeight != nil {
		db = db.Where("weight >= ?", *minWeight)
	}
	if err := db.Order("weight ASC, id ASC").Find(&roles).Error; err != nil {
		return nil, err
	}
	return roles, nil
}

// ── RoleModel ──

// RoleModelRepository 可追踪模型登记数据访问接口
type RoleModelRepository interface {
	// Ensure 按 value 取得登记记录，不存在时创建；created 表示本次新建
	Ensure(ctx context.Context, value, description string) (rm *model.RoleModel, created bool, err error)
	GetByValue(ctx context.Context, value string) (*model.RoleModel, error)
	List(ctx context.Context) ([]model.RoleModel, error)
}

type roleModelRepo struct {
	db *gorm.DB
}

// NewRoleModelRepo 创建 RoleModelRepository 实例
func NewRoleModelRepo(db *gorm.DB) RoleModelRepository {
	return &roleModelRepo{db: db}
}

func (r *roleModelRepo) Ensure(ctx context.Context, value, description string) (*model.RoleModel, bool, error) {
	rm := &model.RoleModel{Value: value}
	if description != "" {
		rm.Description = &description
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "value"}}, DoNothing: true}).
		Create(rm)
	if result.Error != nil {
		return nil, false, result.Error
	}
	if result.RowsAffected == 1 {
		return rm, true, nil
	}
	existing, err := r.GetByValue(ctx, value)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *roleModelRepo) GetByValue(ctx context.Context, value string) (*model.RoleModel, error) {
	var rm model.RoleModel
	if err := r.db.WithContext(ctx).Where("value = ?", value).First(&rm).Error; err != nil {
		return nil, err
	}
	return &rm, nil
}

func (r *roleModelRepo) List(ctx context.Context) ([]model.RoleModel, error) {
	var list []model.RoleModel
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}
