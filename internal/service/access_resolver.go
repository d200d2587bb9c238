package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/usermicrodevices/mas/internal/dto"
	"github.com/usermicrodevices/mas/internal/model"
	"github.com/usermicrodevices/mas/internal/repository"
	pkgerrors "github.com/usermicrodevices/mas/pkg/errors"
)

// 超级用户可执行的全部动作
var superuserActions = []string{"add", "change", "delete", "view"}

// AccessResolver 字段级读写与记录级动作的权限解析
type AccessResolver interface {
	// FieldPermissions 返回模型每个可存储字段的读写权限，缺失单元视为 {false,false}
	FieldPermissions(ctx context.Context, p *Principal, modelName string) (map[string]dto.FieldPermission, error)
	// AllowedActions 由组权限与直接权限的并集得出的动作集合
	AllowedActions(ctx context.Context, p *Principal, modelName string) ([]string, error)
	// FilterReadable 删除记录中主体不可读的字段
	FilterReadable(ctx context.Context, p *Principal, modelName string, record map[string]interface{}) (map[string]interface{}, error)
	// CheckWritable 任一字段不可写时返回 *pkgerrors.FieldDeniedError
	CheckWritable(ctx context.Context, p *Principal, modelName string, fields []string) error
}

type accessResolver struct {
	repo   *repository.Repository
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewAccessResolver 创建 AccessResolver 实例
func NewAccessResolver(repo *repository.Repository, cache Cache, ttl time.Duration, logger *zap.Logger) AccessResolver {
	return &accessResolver{repo: repo, cache: cache, ttl: ttl, logger: logger}
}

// ────────────────────── FieldPermissions ──────────────────────

func (a *accessResolver) FieldPermissions(ctx context.Context, p *Principal, modelName string) (map[string]dto.FieldPermission, error) {
	tm, ok := model.LookupTrackable(modelName)
	if !ok {
		return nil, fmt.Errorf("模型 %s: %w", modelName, pkgerrors.ErrNotFound)
	}

	result := make(map[string]dto.FieldPermission, len(tm.Fields))
	for _, f := range tm.Fields {
		if f.Storable() {
			result[f.Name] = dto.FieldPermission{}
		}
	}
	if !p.HasRole() {
		return result, nil
	}

	key := permissionsCacheKey(*p.RoleID, modelName)
	var cached map[string]dto.FieldPermission
	if hit, err := a.cache.GetJSON(ctx, key, &cached); err != nil {
		a.logger.Warn("读取字段权限缓存失败", zap.String("key", key), zap.Error(err))
	} else if hit {
		for name, perm := range cached {
			if _, ok := result[name]; ok {
				result[name] = perm
			}
		}
		return result, nil
	}

	cells, err := a.repo.RoleField.ListByRoleAndModelName(ctx, *p.RoleID, modelName)
	if err != nil {
		a.logger.Error("查询字段权限失败", zap.Uint("role_id", *p.RoleID), zap.String("model", modelName), zap.Error(err))
		return nil, err
	}
	for _, c := range cells {
		if _, ok := result[c.Value]; ok {
			result[c.Value] = dto.FieldPermission{Read: c.Read, Write: c.Write}
		}
	}

	if err := a.cache.SetJSON(ctx, key, result, a.ttl); err != nil {
		a.logger.Warn("写入字段权限缓存失败", zap.String("key", key), zap.Error(err))
	}
	return result, nil
}

// ────────────────────── AllowedActions ──────────────────────

func (a *accessResolver) AllowedActions(ctx context.Context, p *Principal, modelName string) ([]string, error) {
	if _, ok := model.LookupTrackable(modelName); !ok {
		return nil, fmt.Errorf("模型 %s: %w", modelName, pkgerrors.ErrNotFound)
	}
	if p.IsSuperuser {
		return append([]string(nil), superuserActions...), nil
	}

	lower := strings.ToLower(modelName)
	perms, err := a.repo.Permission.ListForUser(ctx, p.UserID, lower)
	if err != nil {
		a.logger.Error("查询操作权限失败", zap.Uint("user_id", p.UserID), zap.String("model", modelName), zap.Error(err))
		return nil, err
	}

	seen := make(map[string]bool, len(perms))
	actions := make([]string, 0, len(perms))
	for _, perm := range perms {
		action := strings.TrimSuffix(perm.Codename, "_"+lower)
		if action == "" || seen[action] {
			continue
		}
		seen[action] = true
		actions = append(actions, action)
	}
	sort.Strings(actions)
	return actions, nil
}

// ────────────────────── 执行 ──────────────────────

func (a *accessResolver) FilterReadable(ctx context.Context, p *Principal, modelName string, record map[string]interface{}) (map[string]interface{}, error) {
	if p.IsSuperuser {
		return record, nil
	}
	perms, err := a.FieldPermissions(ctx, p, modelName)
	if err != nil {
		return nil, err
	}
	filtered := make(map[string]interface{}, len(record))
	for name, value := range record {
		if perms[name].Read {
			filtered[name] = value
		}
	}
	return filtered, nil
}

func (a *accessResolver) CheckWritable(ctx context.Context, p *Principal, modelName string, fields []string) error {
	if p.IsSuperuser {
		return nil
	}
	perms, err := a.FieldPermissions(ctx, p, modelName)
	if err != nil {
		return err
	}
	var denied []string
	for _, name := range fields {
		if !perms[name].Write {
			denied = append(denied, name)
		}
	}
	if len(denied) > 0 {
		sort.Strings(denied)
		return &pkgerrors.FieldDeniedError{Model: modelName, Fields: denied}
	}
	return nil
}
