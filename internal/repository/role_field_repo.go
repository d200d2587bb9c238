package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/usermicrodevices/mas/internal/model"
)

// RoleFieldRepository 权限矩阵单元数据访问接口
type RoleFieldRepository interface {
	// ListFor 返回 (role, model) 下的全部单元
	ListFor(ctx context.Context, roleID, roleModelID uint) ([]model.RoleField, error)
	// ListByRoleAndModelName 按角色与模型名查询，用于字段权限解析
	ListByRoleAndModelName(ctx context.Context, roleID uint, modelName string) ([]model.RoleField, error)
	// CreateIfAbsent 唯一约束冲突时不报错，created=false 表示单元已存在
	CreateIfAbsent(ctx context.Context, field *model.RoleField) (created bool, err error)
	// Grant 只放宽不收紧：把 read/write 提升为 true
	Grant(ctx context.Context, id uint, read, write bool) error
	Update(ctx context.Context, field *model.RoleField) error
	Delete(ctx context.Context, id uint) error
}

type roleFieldRepo struct {
	db *gorm.DB
}

// NewRoleFieldRepo 创建 RoleFieldRepository 实例
func NewRoleFieldRepo(db *gorm.DB) RoleFieldRepository {
	return &roleFieldRepo{db: db}
}

func (r *roleFieldRepo) ListFor(ctx context.Context, roleID, roleModelID uint) ([]model.RoleField, error) {
	var fields []model.RoleField
	err := r.db.WithContext(ctx).
		Where("role_id = ? AND role_model_id = ?", roleID, roleModelID).
		Order("id ASC").
		Find(&fields).Error
	if err != nil {
		return nil, err
	}
	return fields, nil
}

func (r *roleFieldRepo) ListByRoleAndModelName(ctx context.Context, roleID uint, modelName string) ([]model.RoleField, error) {
	var fields []model.RoleField
	err := r.db.WithContext(ctx).
		Joins("JOIN role_models ON role_models.id = role_fields.role_model_id").
		Where("role_fields.role_id = ? AND role_models.value = ?", roleID, modelName).
		Order("role_fields.id ASC").
		Find(&fields).Error
	if err != nil {
		return nil, err
	}
	return fields, nil
}

func (r *roleFieldRepo) CreateIfAbsent(ctx context.Context, field *model.RoleField) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "value"}, {Name: "role_id"}, {Name: "role_model_id"}},
			DoNothing: true,
		}).
		Omit("Role", "RoleModel").
		Create(field)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *roleFieldRepo) Grant(ctx context.Context, id uint, read, write bool) error {
	updates := map[string]interface{}{}
	if read {
		updates["read"] = true
	}
	if write {
		updates["write"] = true
	}
	if len(updates) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&model.RoleField{}).Where("id = ?", id).Updates(updates).Error
}

func (r *roleFieldRepo) Update(ctx context.Context, field *model.RoleField) error {
	return r.db.WithContext(ctx).Model(&model.RoleField{}).
		Where("id = ?", field.ID).
		Updates(map[string]interface{}{"read": field.Read, "write": field.Write}).Error
}

func (r *roleFieldRepo) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Delete(&model.RoleField{}, id).Error
}
