package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/usermicrodevices/mas/internal/model"
)

// PermissionRepository 操作权限数据访问接口
type PermissionRepository interface {
	// ListForUser 返回用户所在组的权限与直接授予权限的并集，限定到指定模型
	ListForUser(ctx context.Context, userID uint, modelName string) ([]model.Permission, error)
}

type permissionRepo struct {
	db *gorm.DB
}

// NewPermissionRepo 创建 PermissionRepository 实例
func NewPermissionRepo(db *gorm.DB) PermissionRepository {
	return &permissionRepo{db: db}
}

func (r *permissionRepo) ListForUser(ctx context.Context, userID uint, modelName string) ([]model.Permission, error) {
	var perms []model.Permission
	err := r.db.WithContext(ctx).
		Where("model_name = ?", modelName).
		Where(
			r.db.Where("id IN (?)",
				r.db.Table("group_permissions").
					Select("group_permissions.permission_id").
					Joins("JOIN user_groups ON user_groups.group_id = group_permissions.group_id").
					Where("user_groups.user_id = ?", userID),
			).Or("id IN (?)",
				r.db.Table("user_permissions").
					Select("permission_id").
					Where("user_id = ?", userID),
			),
		).
		Order("id ASC").
		Find(&perms).Error
	if err != nil {
		return nil, err
	}
	return perms, nil
}
