package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/usermicrodevices/mas/internal/dto"
	"github.com/usermicrodevices/mas/internal/service"
	"github.com/usermicrodevices/mas/pkg/response"
)

// RoleHandler 角色模块 HTTP 处理器
type RoleHandler struct {
	roleSvc service.RoleService
}

// NewRoleHandler 创建 RoleHandler
func NewRoleHandler(roleSvc service.RoleService) *RoleHandler {
	return &RoleHandler{roleSvc: roleSvc}
}

// roleWithMatrix 创建/更新角色的响应：角色本身与矩阵维护结果
type roleWithMatrix struct {
	Role   *dto.RoleResponse         `json:"role"`
	Matrix *dto.MatrixReportResponse `json:"matrix,omitempty"`
}

func toMatrixResponse(r *service.MatrixReport) *dto.MatrixReportResponse {
	if r == nil {
		return nil
	}
	return &dto.MatrixReportResponse{Created: r.Created, Upgraded: r.Upgraded, Pruned: r.Pruned, Failed: r.Failed}
}

// ListRoles 角色列表
// GET /api/v1/roles
func (h *RoleHandler) ListRoles(c *gin.Context) {
	p, ok := MustGetPrincipal(c)
	if !ok {
		return
	}

	roles, err := h.roleSvc.List(c.Request.Context(), p)
	if err != nil {
		response.InternalError(c)
		return
	}

	response.OK(c, gin.H{"list": roles})
}

// GetRole 角色详情
// GET /api/v1/roles/:id
func (h *RoleHandler) GetRole(c *gin.Context) {
	p, ok := MustGetPrincipal(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	role, err := h.roleSvc.GetByID(c.Request.Context(), p, id)
	if err != nil {
		h.handleRoleError(c, err)
		return
	}

	response.OK(c, role)
}

// CreateRole 创建角色并补齐权限矩阵
// POST /api/v1/roles
func (h *RoleHandler) CreateRole(c *gin.Context) {
	p, ok := MustGetPrincipal(c)
	if !ok {
		return
	}

	var req dto.CreateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	role, report, err := h.roleSvc.Create(c.Request.Context(), p, &req)
	if err != nil {
		h.handleRoleError(c, err)
		return
	}

	response.Created(c, roleWithMatrix{Role: role, Matrix: toMatrixResponse(report)})
}

// UpdateRole 更新角色
// PUT /api/v1/roles/:id
func (h *RoleHandler) UpdateRole(c *gin.Context) {
	p, ok := MustGetPrincipal(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req dto.UpdateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	role, report, err := h.roleSvc.Update(c.Request.Context(), p, id, &req)
	if err != nil {
		h.handleRoleError(c, err)
		return
	}

	response.OK(c, roleWithMatrix{Role: role, Matrix: toMatrixResponse(report)})
}

// DeleteRole 删除角色
// DELETE /api/v1/roles/:id
func (h *RoleHandler) DeleteRole(c *gin.Context) {
	p, ok := MustGetPrincipal(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	if err := h.roleSvc.Delete(c.Request.Context(), p, id); err != nil {
		h.handleRoleError(c, err)
		return
	}

	response.OK(c, nil)
}

// SyncMatrix 手动补齐单个角色的权限矩阵（超级用户）
// POST /api/v1/roles/:id/sync-matrix
func (h *RoleHandler) SyncMatrix(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	report, err := h.roleSvc.SyncMatrix(c.Request.Context(), id)
	if err != nil {
		h.handleRoleError(c, err)
		return
	}

	response.OK(c, toMatrixResponse(report))
}

// UpdateRoleFields 设置角色在某模型下字段的读写（超级用户）
// PUT /api/v1/roles/:id/fields
func (h *RoleHandler) UpdateRoleFields(c *gin.Context) {
	p, ok := MustGetPrincipal(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req dto.UpdateRoleFieldsRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Fields) == 0 {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	fields, err := h.roleSvc.UpdateFields(c.Request.Context(), p, id, &req)
	if err != nil {
		h.handleRoleError(c, err)
		return
	}

	response.OK(c, gin.H{"model": req.Model, "fields": fields})
}

// handleRoleError 统一处理角色模块业务错误
func (h *RoleHandler) handleRoleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrRoleNotFound):
		response.NotFound(c, 21001, "角色不存在")
	case errors.Is(err, service.ErrRoleValueExists):
		response.Conflict(c, 21002, "角色 value 已存在")
	case errors.Is(err, service.ErrRoleWeightAbove):
		response.Forbidden(c, 21003, "不能创建或修改权重高于自己的角色")
	case errors.Is(err, service.ErrRoleModelUnknown), errors.Is(err, service.ErrRoleFieldUnknown):
		response.BadRequest(c, 21004, err.Error())
	case errors.Is(err, service.ErrSuperadminNarrow):
		response.BadRequest(c, 21005, "不能收紧超级管理员角色的字段权限")
	default:
		response.InternalError(c)
	}
}
