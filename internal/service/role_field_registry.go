package service

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/usermicrodevices/mas/internal/model"
	"github.com/usermicrodevices/mas/internal/repository"
)

// MatrixReport 一次权限矩阵维护的结果统计
type MatrixReport struct {
	Created  int `json:"created"`
	Upgraded int `json:"upgraded"`
	Pruned   int `json:"pruned"`
	Failed   int `json:"failed"`
}

func (r *MatrixReport) merge(o MatrixReport) {
	r.Created += o.Created
	r.Upgraded += o.Upgraded
	r.Pruned += o.Pruned
	r.Failed += o.Failed
}

// RoleFieldRegistry 维护 (角色 × 可追踪模型 × 字段) 权限矩阵
// 所有操作幂等，可重复、可并发调用；单元失败只记录并跳过
type RoleFieldRegistry interface {
	// EnsureMatrixForRole 为角色补齐所有可追踪模型的单元
	EnsureMatrixForRole(ctx context.Context, role *model.Role) (MatrixReport, error)
	// EnsureMatrixForModel 登记模型并为所有角色补齐该模型的单元
	EnsureMatrixForModel(ctx context.Context, tm model.TrackableModel) (MatrixReport, error)
	// GrantAll 显式把角色的全部单元提升为可读写
	GrantAll(ctx context.Context, role *model.Role) (MatrixReport, error)
	// SyncAll 启动维护：全部角色 × 全部已声明模型
	SyncAll(ctx context.Context) (MatrixReport, error)
}

type roleFieldRegistry struct {
	repo           *repository.Repository
	models         []model.TrackableModel
	superadminRole string
	cache          Cache
	logger         *zap.Logger
}

// NewRoleFieldRegistry 创建 RoleFieldRegistry 实例，models 为可追踪模型能力表
func NewRoleFieldRegistry(
	repo *repository.Repository,
	models []model.TrackableModel,
	superadminRole string,
	cache Cache,
	logger *zap.Logger,
) RoleFieldRegistry {
	return &roleFieldRegistry{
		repo:           repo,
		models:         models,
		superadminRole: superadminRole,
		cache:          cache,
		logger:         logger,
	}
}

// ────────────────────── 入口 ──────────────────────

func (r *roleFieldRegistry) EnsureMatrixForRole(ctx context.Context, role *model.Role) (MatrixReport, error) {
	return r.ensureRole(ctx, role, r.isSuperadmin(role))
}

func (r *roleFieldRegistry) GrantAll(ctx context.Context, role *model.Role) (MatrixReport, error) {
	return r.ensureRole(ctx, role, true)
}

func (r *roleFieldRegistry) EnsureMatrixForModel(ctx context.Context, tm model.TrackableModel) (MatrixReport, error) {
	var report MatrixReport

	rm, err := r.registerModel(ctx, tm)
	if err != nil {
		return report, err
	}

	roles, err := r.repo.Role.List(ctx, nil)
	if err != nil {
		r.logger.Error("查询角色列表失败", zap.Error(err))
		return report, err
	}

	for i := range roles {
		report.merge(r.ensureCells(ctx, &roles[i], rm, tm, r.isSuperadmin(&roles[i])))
	}

	r.finish(ctx, report)
	return report, nil
}

func (r *roleFieldRegistry) SyncAll(ctx context.Context) (MatrixReport, error) {
	var report MatrixReport

	roles, err := r.repo.Role.List(ctx, nil)
	if err != nil {
		r.logger.Error("查询角色列表失败", zap.Error(err))
		return report, err
	}

	for _, tm := range r.models {
		rm, err := r.registerModel(ctx, tm)
		if err != nil {
			report.Failed++
			continue
		}
		for i := range roles {
			report.merge(r.ensureCells(ctx, &roles[i], rm, tm, r.isSuperadmin(&roles[i])))
		}
	}

	r.finish(ctx, report)
	r.logger.Info("权限矩阵维护完成",
		zap.Int("roles", len(roles)),
		zap.Int("models", len(r.models)),
		zap.Int("created", report.Created),
		zap.Int("upgraded", report.Upgraded),
		zap.Int("pruned", report.Pruned),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

// ────────────────────── 内部实现 ──────────────────────

func (r *roleFieldRegistry) isSuperadmin(role *model.Role) bool {
	return role.Value == r.superadminRole
}

func (r *roleFieldRegistry) ensureRole(ctx context.Context, role *model.Role, grant bool) (MatrixReport, error) {
	var report MatrixReport
	for _, tm := range r.models {
		rm, err := r.registerModel(ctx, tm)
		if err != nil {
			report.Failed++
			continue
		}
		report.merge(r.ensureCells(ctx, role, rm, tm, grant))
	}
	r.finish(ctx, report)
	return report, nil
}

// registerModel 首次见到模型时登记 RoleModel
func (r *roleFieldRegistry) registerModel(ctx context.Context, tm model.TrackableModel) (*model.RoleModel, error) {
	rm, created, err := r.repo.RoleModel.Ensure(ctx, tm.Name, tm.Description)
	if err != nil {
		r.logger.Error("登记可追踪模型失败", zap.String("model", tm.Name), zap.Error(err))
		return nil, err
	}
	if created {
		r.logger.Info("登记可追踪模型", zap.String("model", tm.Name))
	}
	return rm, nil
}

// ensureCells 补齐 (role, model) 下的单元，剪除不可存储或已不存在的字段
// grant=true 时新单元为可读写，已有单元只会被放宽
func (r *roleFieldRegistry) ensureCells(ctx context.Context, role *model.Role, rm *model.RoleModel, tm model.TrackableModel, grant bool) MatrixReport {
	var report MatrixReport
	log := r.logger.With(zap.String("role", role.Value), zap.String("model", tm.Name))

	existing, err := r.repo.RoleField.ListFor(ctx, role.ID, rm.ID)
	if err != nil {
		log.Error("查询权限单元失败", zap.Error(err))
		report.Failed++
		return report
	}
	byName := make(map[string]model.RoleField, len(existing))
	for _, f := range existing {
		byName[f.Value] = f
	}

	declared := make(map[string]bool, len(tm.Fields))
	for _, field := range tm.Fields {
		declared[field.Name] = true
		cell, ok := byName[field.Name]

		if !field.Storable() {
			if ok {
				r.prune(ctx, log, cell, &report)
			}
			continue
		}

		if ok {
			if grant && (!cell.Read || !cell.Write) {
				if err := r.repo.RoleField.Grant(ctx, cell.ID, true, true); err != nil {
					log.Error("提升权限单元失败", zap.String("field", field.Name), zap.Error(err))
					report.Failed++
					continue
				}
				report.Upgraded++
			}
			continue
		}

		created, err := r.repo.RoleField.CreateIfAbsent(ctx, &model.RoleField{
			Value:       field.Name,
			RoleID:      role.ID,
			RoleModelID: rm.ID,
			Read:        grant,
			Write:       grant,
		})
		switch {
		case errors.Is(err, gorm.ErrDuplicatedKey):
			// 并发创建的失败方，视为已存在
		case err != nil:
			log.Error("创建权限单元失败", zap.String("field", field.Name), zap.Error(err))
			report.Failed++
		case created:
			report.Created++
		}
	}

	for name, cell := range byName {
		if !declared[name] {
			r.prune(ctx, log, cell, &report)
		}
	}
	return report
}

func (r *roleFieldRegistry) prune(ctx context.Context, log *zap.Logger, cell model.RoleField, report *MatrixReport) {
	if err := r.repo.RoleField.Delete(ctx, cell.ID); err != nil {
		log.Error("删除过期权限单元失败", zap.String("field", cell.Value), zap.Error(err))
		report.Failed++
		return
	}
	log.Info("删除过期权限单元", zap.String("field", cell.Value))
	report.Pruned++
}

// finish 记录指标，矩阵有变化时清空字段权限快照
func (r *roleFieldRegistry) finish(ctx context.Context, report MatrixReport) {
	observeMatrix(report)
	if report.Created+report.Upgraded+report.Pruned == 0 {
		return
	}
	if err := r.cache.DeletePrefix(ctx, cachePrefixPermissions); err != nil {
		r.logger.Warn("清理字段权限缓存失败", zap.Error(err))
	}
}
