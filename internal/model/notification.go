package model

import (
	"encoding/json"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// 通知渠道值
const (
	ChannelEmail = "email"
	ChannelPush  = "push"
)

// NotificationSourceGroup 通知来源分组，对应 notification_source_groups
type NotificationSourceGroup struct {
	ID          uint    `gorm:"primaryKey"                             json:"id"`
	Name        string  `gorm:"type:varchar(191);uniqueIndex;not null" json:"name"`
	Description *string `gorm:"type:text"                              json:"description,omitempty"`
}

// TableName 指定表名
func (NotificationSourceGroup) TableName() string { return "notification_source_groups" }

// NotificationSource 通知来源（事件类型），对应 notification_sources
type NotificationSource struct {
	ID          uint    `gorm:"primaryKey"                            json:"id"`
	Value       string  `gorm:"type:varchar(64);uniqueIndex;not null" json:"value"`
	Name        string  `gorm:"type:varchar(191);not null"            json:"name"`
	Description *string `gorm:"type:text"                             json:"description,omitempty"`
	GroupID     *uint   `                                             json:"group_id,omitempty"`

	Group *NotificationSourceGroup `gorm:"foreignKey:GroupID" json:"group,omitempty"`
}

// TableName 指定表名
func (NotificationSource) TableName() string { return "notification_sources" }

// NotificationType 通知渠道，对应 notification_types
type NotificationType struct {
	ID    uint   `gorm:"primaryKey"                            json:"id"`
	Value string `gorm:"type:varchar(64);uniqueIndex;not null" json:"value"`
	Name  string `gorm:"type:varchar(191);not null"            json:"name"`
}

// TableName 指定表名
func (NotificationType) TableName() string { return "notification_types" }

// NotificationTemplate 来源 + 渠道对应的消息模板，对应 notification_templates
type NotificationTemplate struct {
	ID       uint   `gorm:"primaryKey"                                                  json:"id"`
	SourceID uint   `gorm:"not null;uniqueIndex:idx_template_source_type"               json:"source_id"`
	TypeID   uint   `gorm:"column:notification_type_id;not null;uniqueIndex:idx_template_source_type" json:"type_id"`
	Body     string `gorm:"type:text;not null;default:''"                               json:"body"`

	Source *NotificationSource `gorm:"foreignKey:SourceID" json:"source,omitempty"`
	Type   *NotificationType   `gorm:"foreignKey:TypeID"   json:"type,omitempty"`
}

// TableName 指定表名
func (NotificationTemplate) TableName() string { return "notification_templates" }

// NotificationOption 用户对某来源选择的渠道，对应 notification_options
// OwnerID = 0 为默认选项，用户没有自己的选项时使用
type NotificationOption struct {
	ID       uint `gorm:"primaryKey"                                  json:"id"`
	SourceID uint `gorm:"not null;uniqueIndex:idx_option_source_owner" json:"source_id"`
	OwnerID  uint `gorm:"not null;uniqueIndex:idx_option_source_owner" json:"owner_id"`

	Source *NotificationSource `gorm:"foreignKey:SourceID"                json:"source,omitempty"`
	Types  []NotificationType  `gorm:"many2many:notification_option_types;" json:"types"`
}

// TableName 指定表名
func (NotificationOption) TableName() string { return "notification_options" }

// NotificationDelay 用户对某来源的发送延迟（秒），对应 notification_delays
type NotificationDelay struct {
	ID       uint `gorm:"primaryKey"                                 json:"id"`
	SourceID uint `gorm:"not null;uniqueIndex:idx_delay_source_owner" json:"source_id"`
	OwnerID  uint `gorm:"not null;uniqueIndex:idx_delay_source_owner" json:"owner_id"`
	Interval int  `gorm:"not null;default:0"                         json:"interval"`

	Source *NotificationSource `gorm:"foreignKey:SourceID" json:"source,omitempty"`
}

// TableName 指定表名
func (NotificationDelay) TableName() string { return "notification_delays" }

// NotificationTask 延迟发送任务记录，对应 notification_tasks
type NotificationTask struct {
	ID           uint           `gorm:"primaryKey"                                  json:"id"`
	Created      time.Time      `gorm:"not null;uniqueIndex:idx_task_unique"        json:"created"`
	SendAfter    *time.Time     `gorm:"index"                                       json:"send_after,omitempty"`
	Sent         *time.Time     `gorm:"index"                                       json:"sent,omitempty"`
	SourceID     uint           `gorm:"not null;uniqueIndex:idx_task_unique"        json:"source_id"`
	TypeID       uint           `gorm:"column:notification_type_id;not null;uniqueIndex:idx_task_unique" json:"type_id"`
	TargetUserID *uint          `gorm:"uniqueIndex:idx_task_unique"                 json:"target_user_id,omitempty"`
	Response     *string        `gorm:"type:varchar(199)"                           json:"response,omitempty"`
	Subject      *string        `gorm:"type:varchar(199)"                           json:"subject,omitempty"`
	Content      string         `gorm:"type:text;not null;default:''"               json:"content"`
	Entity       datatypes.JSON `gorm:"type:jsonb"                                  json:"entity,omitempty"`
	Description  string         `gorm:"type:text;not null;default:''"               json:"description"`
	Reason       *string        `gorm:"type:text"                                   json:"reason,omitempty"`
	ClaimedUntil *time.Time     `                                                   json:"-"`

	Source     *NotificationSource `gorm:"foreignKey:SourceID"     json:"source,omitempty"`
	Type       *NotificationType   `gorm:"foreignKey:TypeID"       json:"type,omitempty"`
	TargetUser *User               `gorm:"foreignKey:TargetUserID" json:"-"`
}

// TableName 指定表名
func (NotificationTask) TableName() string { return "notification_tasks" }

// BulkEmailFilter 群发列表的过滤条件，引用一个或多个来源 ID
type BulkEmailFilter struct {
	Sources []uint `json:"sources"`
}

// NotificationBulkEmail 静态群发邮件列表，对应 notification_bulk_emails
type NotificationBulkEmail struct {
	ID            uint           `gorm:"primaryKey"                             json:"id"`
	Name          string         `gorm:"type:varchar(191);uniqueIndex;not null" json:"name"`
	Emails        string         `gorm:"type:text;not null"                     json:"emails"`
	Notifications datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'"       json:"notifications"`
}

// TableName 指定表名
func (NotificationBulkEmail) TableName() string { return "notification_bulk_emails" }

// Addresses 按分号拆分邮件列表，忽略空白项
func (b *NotificationBulkEmail) Addresses() []string {
	parts := strings.Split(b.Emails, ";")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	return result
}

// Filters 解析过滤条件 JSON
func (b *NotificationBulkEmail) Filters() ([]BulkEmailFilter, error) {
	if len(b.Notifications) == 0 {
		return nil, nil
	}
	var filters []BulkEmailFilter
	if err := json.Unmarshal(b.Notifications, &filters); err != nil {
		return nil, err
	}
	return filters, nil
}

// References 判断过滤条件是否引用了指定来源
func (b *NotificationBulkEmail) References(sourceID uint) bool {
	filters, err := b.Filters()
	if err != nil {
		return false
	}
	for _, f := range filters {
		for _, id := range f.Sources {
			if id == sourceID {
				return true
			}
		}
	}
	return false
}
