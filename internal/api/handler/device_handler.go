package handler

import (
	"encoding/json"
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/usermicrodevices/mas/internal/dto"
	"github.com/usermicrodevices/mas/internal/service"
	"github.com/usermicrodevices/mas/pkg/response"
)

// DeviceHandler 设备模块 HTTP 处理器，返回的记录已按字段读权限过滤
type DeviceHandler struct {
	deviceSvc service.DeviceService
}

// NewDeviceHandler 创建 DeviceHandler
func NewDeviceHandler(deviceSvc service.DeviceService) *DeviceHandler {
	return &DeviceHandler{deviceSvc: deviceSvc}
}

// ListDevices GET /api/v1/devices
func (h *DeviceHandler) ListDevices(c *gin.Context) {
	p, ok := MustGetPrincipal(c)
	if !ok {
		return
	}

	var req dto.DeviceListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	list, total, err := h.deviceSvc.List(c.Request.Context(), p, &req)
	if err != nil {
		h.handleDeviceError(c, err)
		return
	}

	response.OKPage(c, list, total, req.GetLimit(), req.GetOffset())
}

// GetDevice GET /api/v1/devices/:id
func (h *DeviceHandler) GetDevice(c *gin.Context) {
	p, ok := MustGetPrincipal(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	record, err := h.deviceSvc.Get(c.Request.Context(), p, id)
	if err != nil {
		h.handleDeviceError(c, err)
		return
	}

	response.OK(c, record)
}

// UpdateDevice 部分更新，任一字段不可写时整体拒绝
// PATCH /api/v1/devices/:id
func (h *DeviceHandler) UpdateDevice(c *gin.Context) {
	p, ok := MustGetPrincipal(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var fields map[string]json.RawMessage
	if err := c.ShouldBindJSON(&fields); err != nil || len(fields) == 0 {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	record, err := h.deviceSvc.Update(c.Request.Context(), p, id, fields)
	if err != nil {
		h.handleDeviceError(c, err)
		return
	}

	response.OK(c, record)
}

// ChangeStatus PUT /api/v1/devices/:id/status
func (h *DeviceHandler) ChangeStatus(c *gin.Context) {
	p, ok := MustGetPrincipal(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req dto.ChangeStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	record, err := h.deviceSvc.ChangeStatus(c.Request.Context(), p, id, *req.Status)
	if err != nil {
		h.handleDeviceError(c, err)
		return
	}

	response.OK(c, record)
}

// AssignOwner 关闭当前占用记录并为新持有人开启一条
// PUT /api/v1/devices/:id/owner
func (h *DeviceHandler) AssignOwner(c *gin.Context) {
	p, ok := MustGetPrincipal(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req dto.AssignOwnerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	history, err := h.deviceSvc.AssignOwner(c.Request.Context(), p, id, req.OwnerID)
	if err != nil {
		h.handleDeviceError(c, err)
		return
	}

	response.OK(c, history)
}

// handleDeviceError 统一处理设备模块业务错误
func (h *DeviceHandler) handleDeviceError(c *gin.Context, err error) {
	if writeFieldDenied(c, err) {
		return
	}
	switch {
	case errors.Is(err, service.ErrDeviceNotFound):
		response.NotFound(c, 50001, "设备不存在")
	case errors.Is(err, service.ErrOwnerNotFound):
		response.BadRequest(c, 50002, "持有人不存在")
	case errors.Is(err, service.ErrInvalidField):
		response.BadRequest(c, 50003, err.Error())
	default:
		response.InternalError(c)
	}
}
