package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/usermicrodevices/mas/internal/dto"
	"github.com/usermicrodevices/mas/internal/service"
	pkgerrors "github.com/usermicrodevices/mas/pkg/errors"
	"github.com/usermicrodevices/mas/pkg/response"
)

// NotificationHandler 通知模块 HTTP 处理器
type NotificationHandler struct {
	notifySvc service.NotificationService
	dispatch  service.DispatchEngine
}

// NewNotificationHandler 创建 NotificationHandler
func NewNotificationHandler(notifySvc service.NotificationService, dispatch service.DispatchEngine) *NotificationHandler {
	return &NotificationHandler{notifySvc: notifySvc, dispatch: dispatch}
}

// ────────────────────── 来源 ──────────────────────

// ListSources 来源列表，非超级用户只看到公开分组
// GET /api/v1/notifications/sources
func (h *NotificationHandler) ListSources(c *gin.Context) {
	p, ok := MustGetPrincipal(c)
	if !ok {
		return
	}

	sources, err := h.notifySvc.ListSources(c.Request.Context(), p)
	if err != nil {
		response.InternalError(c)
		return
	}

	response.OK(c, gin.H{"list": sources})
}

// CreateSource 创建来源
// POST /api/v1/notifications/sources
func (h *NotificationHandler) CreateSource(c *gin.Context) {
	var req dto.CreateSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	src, err := h.notifySvc.CreateSource(c.Request.Context(), &req)
	if err != nil {
		h.handleNotificationError(c, err)
		return
	}

	response.Created(c, src)
}

// UpdateSource 更新来源
// PUT /api/v1/notifications/sources/:id
func (h *NotificationHandler) UpdateSource(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req dto.CreateSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	src, err := h.notifySvc.UpdateSource(c.Request.Context(), id, &req)
	if err != nil {
		h.handleNotificationError(c, err)
		return
	}

	response.OK(c, src)
}

// DeleteSource 删除来源
// DELETE /api/v1/notifications/sources/:id
func (h *NotificationHandler) DeleteSource(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	if err := h.notifySvc.DeleteSource(c.Request.Context(), id); err != nil {
		h.handleNotificationError(c, err)
		return
	}

	response.OK(c, nil)
}

// ────────────────────── 分组 / 渠道 / 模板 ──────────────────────

// ListSourceGroups GET /api/v1/notifications/source-groups
func (h *NotificationHandler) ListSourceGroups(c *gin.Context) {
	groups, err := h.notifySvc.ListSourceGroups(c.Request.Context())
	if err != nil {
		response.InternalError(c)
		return
	}
	response.OK(c, gin.H{"list": groups})
}

// CreateSourceGroup POST /api/v1/notifications/source-groups
func (h *NotificationHandler) CreateSourceGroup(c *gin.Context) {
	var req dto.CreateSourceGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	group, err := h.notifySvc.CreateSourceGroup(c.Request.Context(), &req)
	if err != nil {
		h.handleNotificationError(c, err)
		return
	}
	response.Created(c, group)
}

// ListTypes GET /api/v1/notifications/types
func (h *NotificationHandler) ListTypes(c *gin.Context) {
	types, err := h.notifySvc.ListTypes(c.Request.Context())
	if err != nil {
		response.InternalError(c)
		return
	}
	response.OK(c, gin.H{"list": types})
}

// CreateType POST /api/v1/notifications/types
func (h *NotificationHandler) CreateType(c *gin.Context) {
	var req dto.CreateTypeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	t, err := h.notifySvc.CreateType(c.Request.Context(), &req)
	if err != nil {
		h.handleNotificationError(c, err)
		return
	}
	response.Created(c, t)
}

// ListTemplates 模板列表，可按 source_id 过滤
// GET /api/v1/notifications/templates
func (h *NotificationHandler) ListTemplates(c *gin.Context) {
	var sourceID *uint
	if raw := c.Query("source_id"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			response.BadRequest(c, 10001, "source_id 格式错误")
			return
		}
		id := uint(v)
		sourceID = &id
	}

	templates, err := h.notifySvc.ListTemplates(c.Request.Context(), sourceID)
	if err != nil {
		response.InternalError(c)
		return
	}
	response.OK(c, gin.H{"list": templates})
}

// CreateTemplate 创建模板，保存前校验模板语法
// POST /api/v1/notifications/templates
func (h *NotificationHandler) CreateTemplate(c *gin.Context) {
	var req dto.CreateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	tpl, err := h.notifySvc.CreateTemplate(c.Request.Context(), &req)
	if err != nil {
		h.handleNotificationError(c, err)
		return
	}
	response.Created(c, tpl)
}

// ────────────────────── 个人选项与延迟 ──────────────────────

// CurrentOptions GET /api/v1/notifications/options/current
func (h *NotificationHandler) CurrentOptions(c *gin.Context) {
	p, ok := MustGetPrincipal(c)
	if !ok {
		return
	}

	options, err := h.notifySvc.CurrentOptions(c.Request.Context(), p)
	if err != nil {
		response.InternalError(c)
		return
	}
	response.OK(c, gin.H{"list": options})
}

// CreateOption POST /api/v1/notifications/options
func (h *NotificationHandler) CreateOption(c *gin.Context) {
	p, ok := MustGetPrincipal(c)
	if !ok {
		return
	}

	var req dto.CreateOptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	opt, err := h.notifySvc.CreateOption(c.Request.Context(), p, &req)
	if err != nil {
		h.handleNotificationError(c, err)
		return
	}
	response.Created(c, opt)
}

// UpdateOption 整体替换渠道集合，持有人或超级用户可调用
// PUT /api/v1/notifications/options/:id
func (h *NotificationHandler) UpdateOption(c *gin.Context) {
	p, ok := MustGetPrincipal(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req dto.UpdateOptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	opt, err := h.notifySvc.UpdateOption(c.Request.Context(), p, id, &req)
	if err != nil {
		h.handleNotificationError(c, err)
		return
	}
	response.OK(c, opt)
}

// CurrentDelays GET /api/v1/notifications/delays/current
func (h *NotificationHandler) CurrentDelays(c *gin.Context) {
	p, ok := MustGetPrincipal(c)
	if !ok {
		return
	}

	delays, err := h.notifySvc.CurrentDelays(c.Request.Context(), p)
	if err != nil {
		response.InternalError(c)
		return
	}
	response.OK(c, gin.H{"list": delays})
}

// CreateDelay POST /api/v1/notifications/delays
func (h *NotificationHandler) CreateDelay(c *gin.Context) {
	p, ok := MustGetPrincipal(c)
	if !ok {
		return
	}

	var req dto.CreateDelayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	delay, err := h.notifySvc.CreateDelay(c.Request.Context(), p, &req)
	if err != nil {
		h.handleNotificationError(c, err)
		return
	}
	response.Created(c, delay)
}

// UpdateDelay PUT /api/v1/notifications/delays/:id
func (h *NotificationHandler) UpdateDelay(c *gin.Context) {
	p, ok := MustGetPrincipal(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req dto.UpdateDelayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	delay, err := h.notifySvc.UpdateDelay(c.Request.Context(), p, id, &req)
	if err != nil {
		h.handleNotificationError(c, err)
		return
	}
	response.OK(c, delay)
}

// ────────────────────── 群发 ──────────────────────

// ListBulkEmails GET /api/v1/notifications/bulk-emails
func (h *NotificationHandler) ListBulkEmails(c *gin.Context) {
	lists, err := h.notifySvc.ListBulkEmails(c.Request.Context())
	if err != nil {
		response.InternalError(c)
		return
	}
	response.OK(c, gin.H{"list": lists})
}

// CreateBulkEmail POST /api/v1/notifications/bulk-emails
func (h *NotificationHandler) CreateBulkEmail(c *gin.Context) {
	var req dto.CreateBulkEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	bulk, err := h.notifySvc.CreateBulkEmail(c.Request.Context(), &req)
	if err != nil {
		h.handleNotificationError(c, err)
		return
	}
	response.Created(c, bulk)
}

// ────────────────────── 管理动作 ──────────────────────

// SetAllPush 为指定用户开启全部来源的 push
// POST /api/v1/notifications/set-all-push
func (h *NotificationHandler) SetAllPush(c *gin.Context) {
	var req dto.SetAllPushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	result, err := h.notifySvc.SetAllPushNotifications(c.Request.Context(), req.UserIDs)
	if err != nil {
		h.handleNotificationError(c, err)
		return
	}
	response.OK(c, result)
}

// Notify 手动触发一次通知批次，返回发送报告
// POST /api/v1/notifications/notify
func (h *NotificationHandler) Notify(c *gin.Context) {
	var req dto.NotifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	report, err := h.dispatch.Notify(c.Request.Context(), req.Source, req.Description, req.ExcludeUsers)
	if err != nil {
		response.InternalError(c)
		return
	}
	response.OK(c, report)
}

// handleNotificationError 统一处理通知模块业务错误
func (h *NotificationHandler) handleNotificationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrSourceNotFound):
		response.NotFound(c, 40001, "通知来源不存在")
	case errors.Is(err, service.ErrSourceValueExists):
		response.Conflict(c, 40002, "通知来源 value 已存在")
	case errors.Is(err, service.ErrSourceGroupNotFound):
		response.NotFound(c, 40003, "来源分组不存在")
	case errors.Is(err, service.ErrTypeNotFound):
		response.NotFound(c, 40004, "通知渠道不存在")
	case errors.Is(err, service.ErrTemplateExists):
		response.Conflict(c, 40005, "该来源与渠道的模板已存在")
	case errors.Is(err, pkgerrors.ErrRender):
		response.BadRequest(c, 40006, "模板语法错误")
	case errors.Is(err, service.ErrOptionExists):
		response.Conflict(c, 40007, "该来源的选项已存在")
	case errors.Is(err, service.ErrInvalidBulkFilters):
		response.BadRequest(c, 40008, service.ErrInvalidBulkFilters.Error())
	case errors.Is(err, service.ErrPushTypeMissing):
		response.BadRequest(c, 40009, "未配置 push 通知渠道")
	case errors.Is(err, service.ErrOptionNotFound):
		response.NotFound(c, 40010, "渠道选项不存在")
	case errors.Is(err, service.ErrOptionOwner):
		response.Forbidden(c, 40011, "只有超级用户可以为他人配置选项")
	default:
		response.InternalError(c)
	}
}
