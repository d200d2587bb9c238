package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/usermicrodevices/mas/internal/dto"
	"github.com/usermicrodevices/mas/internal/model"
	"github.com/usermicrodevices/mas/internal/repository"
)

// ── 角色模块业务错误 ──

var (
	ErrRoleNotFound    = errors.New("角色不存在")
	ErrRoleValueExists = errors.New("角色 value 已存在")
	ErrRoleWeightAbove = errors.New("不能创建或修改权重高于自己的角色")

	ErrRoleModelUnknown = errors.New("未登记的可追踪模型")
	ErrRoleFieldUnknown = errors.New("模型中不存在该字段")
	ErrSuperadminNarrow = errors.New("不能收紧超级管理员角色的字段权限")
)

// RoleService 角色业务接口
type RoleService interface {
	// List 非超级用户只能看到 weight >= 自己权重的角色，无角色时为空
	List(ctx context.Context, p *Principal) ([]dto.RoleResponse, error)
	GetByID(ctx context.Context, p *Principal, id uint) (*dto.RoleResponse, error)
	Create(ctx context.Context, p *Principal, req *dto.CreateRoleRequest) (*dto.RoleResponse, *MatrixReport, error)
	Update(ctx context.Context, p *Principal, id uint, req *dto.UpdateRoleRequest) (*dto.RoleResponse, *MatrixReport, error)
	Delete(ctx context.Context, p *Principal, id uint) error
	// SyncMatrix 手动触发单个角色的矩阵维护
	SyncMatrix(ctx context.Context, id uint) (*MatrixReport, error)
	// UpdateFields 按请求设置 (role, model) 下字段的读写，可放宽也可收紧，返回该模型的完整矩阵
	UpdateFields(ctx context.Context, p *Principal, id uint, req *dto.UpdateRoleFieldsRequest) (map[string]dto.FieldPermission, error)
}

type roleService struct {
	repo           *repository.Repository
	registry       RoleFieldRegistry
	cache          Cache
	superadminRole string
	logger         *zap.Logger
}

// NewRoleService 创建 RoleService 实例
func NewRoleService(
	repo *repository.Repository,
	registry RoleFieldRegistry,
	cache Cache,
	superadminRole string,
	logger *zap.Logger,
) RoleService {
	return &roleService{
		repo:           repo,
		registry:       registry,
		cache:          cache,
		superadminRole: superadminRole,
		logger:         logger,
	}
}

// ────────────────────── List / Get ──────────────────────

func (s *roleService) List(ctx context.Context, p *Principal) ([]dto.RoleResponse, error) {
	var minWeight *int
	if !p.IsSuperuser {
		if !p.HasRole() {
			return []dto.RoleResponse{}, nil
		}
		w := p.RoleWeight
		minWeight = &w
	}

	roles, err := s.repo.Role.List(ctx, minWeight)
	if err != nil {
		s.logger.Error("列出角色失败", zap.Error(err))
		return nil, err
	}

	result := make([]dto.RoleResponse, 0, len(roles))
	for i := range roles {
		result = append(result, *toRoleResponse(&roles[i]))
	}
	return result, nil
}

func (s *roleService) GetByID(ctx context.Context, p *Principal, id uint) (*dto.RoleResponse, error) {
	role, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.visible(p, role) {
		return nil, ErrRoleNotFound
	}
	return toRoleResponse(role), nil
}

// ────────────────────── Create ──────────────────────

func (s *roleService) Create(ctx context.Context, p *Principal, req *dto.CreateRoleRequest) (*dto.RoleResponse, *MatrixReport, error) {
	if !p.IsSuperuser && (!p.HasRole() || req.Weight < p.RoleWeight) {
		return nil, nil, ErrRoleWeightAbove
	}

	role := &model.Role{
		Value:       req.Value,
		Description: req.Description,
		GroupID:     req.GroupID,
		Weight:      req.Weight,
	}
	if err := s.repo.Role.Create(ctx, role); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, nil, ErrRoleValueExists
		}
		s.logger.Error("创建角色失败", zap.String("value", req.Value), zap.Error(err))
		return nil, nil, err
	}

	// 新角色立即补齐权限矩阵
	report, err := s.registry.EnsureMatrixForRole(ctx, role)
	if err != nil {
		s.logger.Error("初始化角色权限矩阵失败", zap.String("role", role.Value), zap.Error(err))
	}

	return toRoleResponse(role), &report, nil
}

// ────────────────────── Update ──────────────────────

func (s *roleService) Update(ctx context.Context, p *Principal, id uint, req *dto.UpdateRoleRequest) (*dto.RoleResponse, *MatrixReport, error) {
	role, err := s.get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !s.visible(p, role) {
		return nil, nil, ErrRoleNotFound
	}

	wasSuperadmin := role.Value == s.superadminRole
	if req.Value != nil {
		role.Value = *req.Value
	}
	if req.Description != nil {
		role.Description = req.Description
	}
	if req.GroupID != nil {
		role.GroupID = req.GroupID
	}
	if req.Weight != nil {
		if !p.IsSuperuser && *req.Weight < p.RoleWeight {
			return nil, nil, ErrRoleWeightAbove
		}
		role.Weight = *req.Weight
	}

	if err := s.repo.Role.Update(ctx, role); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, nil, ErrRoleValueExists
		}
		s.logger.Error("更新角色失败", zap.Uint("id", id), zap.Error(err))
		return nil, nil, err
	}

	// 改名为超级管理员时显式提升全部单元，其余情况只补齐缺失单元
	var report MatrixReport
	if !wasSuperadmin && role.Value == s.superadminRole {
		report, err = s.registry.GrantAll(ctx, role)
	} else {
		report, err = s.registry.EnsureMatrixForRole(ctx, role)
	}
	if err != nil {
		s.logger.Error("维护角色权限矩阵失败", zap.String("role", role.Value), zap.Error(err))
	}

	// 权重影响用户列表可见性
	s.invalidateUsers(ctx)
	return toRoleResponse(role), &report, nil
}

// ────────────────────── Delete ──────────────────────

func (s *roleService) Delete(ctx context.Context, p *Principal, id uint) error {
	role, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if !s.visible(p, role) {
		return ErrRoleNotFound
	}
	if err := s.repo.Role.Delete(ctx, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRoleNotFound
		}
		s.logger.Error("删除角色失败", zap.Uint("id", id), zap.Error(err))
		return err
	}
	s.invalidateUsers(ctx)
	if err := s.cache.DeletePrefix(ctx, cachePrefixPermissions); err != nil {
		s.logger.Warn("清理字段权限缓存失败", zap.Error(err))
	}
	return nil
}

func (s *roleService) SyncMatrix(ctx context.Context, id uint) (*MatrixReport, error) {
	role, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	report, err := s.registry.EnsureMatrixForRole(ctx, role)
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// ────────────────────── UpdateFields ──────────────────────

func (s *roleService) UpdateFields(ctx context.Context, p *Principal, id uint, req *dto.UpdateRoleFieldsRequest) (map[string]dto.FieldPermission, error) {
	role, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.visible(p, role) {
		return nil, ErrRoleNotFound
	}

	tm, ok := model.LookupTrackable(req.Model)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRoleModelUnknown, req.Model)
	}
	var unknown []string
	for name, perm := range req.Fields {
		f, ok := tm.Field(name)
		if !ok || !f.Storable() {
			unknown = append(unknown, name)
			continue
		}
		// 超级管理员的单元在下次矩阵维护时会被重新提升
		if role.Value == s.superadminRole && (!perm.Read || !perm.Write) {
			return nil, ErrSuperadminNarrow
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("%w: %s", ErrRoleFieldUnknown, strings.Join(unknown, ", "))
	}

	// 先补齐缺失单元，保证每个请求字段都有对应的行
	if _, err := s.registry.EnsureMatrixForRole(ctx, role); err != nil {
		s.logger.Error("维护角色权限矩阵失败", zap.String("role", role.Value), zap.Error(err))
		return nil, err
	}
	rm, err := s.repo.RoleModel.GetByValue(ctx, req.Model)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRoleModelUnknown, req.Model)
		}
		return nil, err
	}

	result := make(map[string]dto.FieldPermission)
	err = s.repo.Transaction(ctx, func(txRepo *repository.Repository) error {
		cells, err := txRepo.RoleField.ListFor(ctx, role.ID, rm.ID)
		if err != nil {
			return err
		}
		applied := 0
		for i := range cells {
			cell := &cells[i]
			if perm, ok := req.Fields[cell.Value]; ok {
				cell.Read, cell.Write = perm.Read, perm.Write
				if err := txRepo.RoleField.Update(ctx, cell); err != nil {
					return err
				}
				applied++
			}
			result[cell.Value] = dto.FieldPermission{Read: cell.Read, Write: cell.Write}
		}
		if applied != len(req.Fields) {
			return fmt.Errorf("角色 %s 的 %s 权限单元不完整", role.Value, req.Model)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("更新角色字段权限失败", zap.Uint("role_id", id), zap.String("model", req.Model), zap.Error(err))
		return nil, err
	}

	if err := s.cache.DeletePrefix(ctx, cachePrefixPermissions); err != nil {
		s.logger.Warn("清理字段权限缓存失败", zap.Error(err))
	}
	s.logger.Info("角色字段权限已更新",
		zap.String("role", role.Value),
		zap.String("model", req.Model),
		zap.Int("fields", len(req.Fields)),
	)
	return result, nil
}

// ────────────────────── 辅助 ──────────────────────

func (s *roleService) get(ctx context.Context, id uint) (*model.Role, error) {
	role, err := s.repo.Role.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoleNotFound
		}
		s.logger.Error("查询角色失败", zap.Uint("id", id), zap.Error(err))
		return nil, err
	}
	return role, nil
}

func (s *roleService) visible(p *Principal, role *model.Role) bool {
	if p.IsSuperuser {
		return true
	}
	return p.HasRole() && role.Weight >= p.RoleWeight
}

func (s *roleService) invalidateUsers(ctx context.Context) {
	if err := s.cache.DeletePrefix(ctx, cachePrefixUsers); err != nil {
		s.logger.Warn("清理用户缓存失败", zap.Error(err))
	}
}

func toRoleResponse(r *model.Role) *dto.RoleResponse {
	return &dto.RoleResponse{
		ID:          r.ID,
		Value:       r.Value,
		Description: r.Description,
		GroupID:     r.GroupID,
		Weight:      r.Weight,
	}
}
