package model

import (
	"time"

	"gorm.io/datatypes"
)

// User 用户表，对应 users
type User struct {
	ID           uint           `gorm:"primaryKey"                              json:"id"`
	Username     string         `gorm:"type:varchar(150);uniqueIndex;not null"  json:"username"`
	FirstName    string         `gorm:"type:varchar(150);not null;default:''"   json:"first_name"`
	LastName     string         `gorm:"type:varchar(150);not null;default:''"   json:"last_name"`
	Email        string         `gorm:"type:varchar(254);not null;default:''"   json:"email"`
	PasswordHash string         `gorm:"type:varchar(255);not null"              json:"-"`
	RoleID       *uint          `                                               json:"role_id,omitempty"`
	IsSuperuser  bool           `gorm:"not null;default:false"                  json:"is_superuser"`
	IsStaff      bool           `gorm:"not null;default:false"                  json:"is_staff"`
	IsActive     bool           `gorm:"not null;default:true"                   json:"is_active"`
	LastLogin    *time.Time     `                                               json:"last_login,omitempty"`
	Extinfo      datatypes.JSON `gorm:"type:jsonb"                              json:"extinfo,omitempty"`
	BaseModel

	// 关联
	Role        *Role        `gorm:"foreignKey:RoleID"         json:"role,omitempty"`
	Groups      []Group      `gorm:"many2many:user_groups;"     json:"groups,omitempty"`
	Permissions []Permission `gorm:"many2many:user_permissions;" json:"-"`
}

// TableName 指定表名
func (User) TableName() string { return "users" }

// FullName 姓名，缺省时返回用户名
func (u *User) FullName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	case u.LastName != "":
		return u.LastName
	}
	return u.Username
}

// HasGroup 判断用户是否已属于指定组
func (u *User) HasGroup(groupID uint) bool {
	for _, g := range u.Groups {
		if g.ID == groupID {
			return true
		}
	}
	return false
}
