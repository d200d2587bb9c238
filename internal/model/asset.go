package model

import (
	"time"

	"gorm.io/datatypes"
)

// 设备状态
const (
	DeviceStatusNotUsed = -1
	DeviceStatusOff     = 0
	DeviceStatusOn      = 1
)

// Owner 设备持有人，对应 owners
type Owner struct {
	ID         uint   `gorm:"primaryKey"                            json:"id"`
	Name       string `gorm:"type:varchar(191);not null;default:''" json:"name"`
	Family     string `gorm:"type:varchar(191);not null;default:''" json:"family"`
	Patronymic string `gorm:"type:varchar(191);not null;default:''" json:"patronymic"`
	Domain     string `gorm:"type:varchar(191);not null;default:''" json:"domain"`
	Login      string `gorm:"type:varchar(191);not null;default:''" json:"login"`
	Password   string `gorm:"type:varchar(191);not null;default:''" json:"password"`
	Active     bool   `gorm:"not null;default:true"                 json:"active"`
}

// TableName 指定表名
func (Owner) TableName() string { return "owners" }

// Tag 标签，对应 tags
type Tag struct {
	ID     uint   `gorm:"primaryKey"                                      json:"id"`
	Name   string `gorm:"type:varchar(191);uniqueIndex;not null;default:''" json:"name"`
	Weight int    `gorm:"not null;default:0"                              json:"weight"`
}

// TableName 指定表名
func (Tag) TableName() string { return "tags" }

// DeviceType 设备类型，对应 device_types
type DeviceType struct {
	ID          uint    `gorm:"primaryKey"                                       json:"id"`
	Name        string  `gorm:"type:varchar(191);uniqueIndex;not null;default:''" json:"name"`
	Description *string `gorm:"type:text"                                        json:"description"`
}

// TableName 指定表名
func (DeviceType) TableName() string { return "device_types" }

// DeviceGroup 设备分组（树形），对应 device_groups
type DeviceGroup struct {
	ID       uint   `gorm:"primaryKey"                                          json:"id"`
	ParentID *uint  `gorm:"uniqueIndex:idx_device_group_parent_name"            json:"parent"`
	Name     string `gorm:"type:varchar(191);not null;default:'';uniqueIndex:idx_device_group_parent_name" json:"name"`
}

// TableName 指定表名
func (DeviceGroup) TableName() string { return "device_groups" }

// Device 设备，对应 devices
type Device struct {
	ID           uint           `gorm:"primaryKey"                            json:"id"`
	Name         string         `gorm:"type:varchar(191);not null;default:''" json:"name"`
	GroupID      *uint          `                                             json:"group"`
	DeviceTypeID *uint          `                                             json:"device_type"`
	Created      time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"    json:"created"`
	TZ           string         `gorm:"column:tz;type:varchar(191);not null"  json:"tz"`
	Status       int            `gorm:"not null;default:0"                    json:"status"`
	Tags         []Tag          `gorm:"many2many:device_tags;"                json:"tags"`
	Extinfo      datatypes.JSON `gorm:"type:jsonb"                            json:"extinfo"`
}

// TableName 指定表名
func (Device) TableName() string { return "devices" }

// History 设备与持有人的占用区间，对应 histories
// Closed 为空表示当前仍在使用
type History struct {
	ID       uint       `gorm:"primaryKey"                          json:"id"`
	Created  time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP"  json:"created"`
	Closed   *time.Time `gorm:"index"                               json:"closed"`
	DeviceID uint       `gorm:"not null"                            json:"device"`
	OwnerID  uint       `gorm:"not null"                            json:"owner"`
}

// TableName 指定表名
func (History) TableName() string { return "histories" }
