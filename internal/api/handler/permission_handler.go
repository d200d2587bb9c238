package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/usermicrodevices/mas/internal/dto"
	"github.com/usermicrodevices/mas/internal/service"
	pkgerrors "github.com/usermicrodevices/mas/pkg/errors"
	"github.com/usermicrodevices/mas/pkg/response"
)

// PermissionHandler 字段级权限查询
type PermissionHandler struct {
	access service.AccessResolver
}

// NewPermissionHandler 创建 PermissionHandler
func NewPermissionHandler(access service.AccessResolver) *PermissionHandler {
	return &PermissionHandler{access: access}
}

// GetPermissions 当前主体对某模型的字段读写权限与允许动作
// GET /api/v1/permissions/:model
func (h *PermissionHandler) GetPermissions(c *gin.Context) {
	p, ok := MustGetPrincipal(c)
	if !ok {
		return
	}
	modelName := c.Param("model")

	ctx := c.Request.Context()
	fields, err := h.access.FieldPermissions(ctx, p, modelName)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrNotFound) {
			response.NotFound(c, 30001, "模型不存在或不可追踪")
			return
		}
		response.InternalError(c)
		return
	}
	actions, err := h.access.AllowedActions(ctx, p, modelName)
	if err != nil {
		response.InternalError(c)
		return
	}

	response.OK(c, dto.PermissionsResponse{Fields: fields, Actions: actions})
}
