package model

// Group 权限组，对应 auth_groups
type Group struct {
	ID          uint         `gorm:"primaryKey"                              json:"id"`
	Name        string       `gorm:"type:varchar(150);uniqueIndex;not null"  json:"name"`
	Permissions []Permission `gorm:"many2many:group_permissions;"            json:"permissions,omitempty"`
}

// TableName 指定表名
func (Group) TableName() string { return "auth_groups" }

// Permission 操作权限，对应 auth_permissions
// Codename 形如 "change_device"，ModelName 为小写模型名
type Permission struct {
	ID        uint   `gorm:"primaryKey"                                     json:"id"`
	Name      string `gorm:"type:varchar(255);not null;default:''"          json:"name"`
	Codename  string `gorm:"type:varchar(100);not null;uniqueIndex:idx_perm" json:"codename"`
	ModelName string `gorm:"type:varchar(100);not null;uniqueIndex:idx_perm" json:"model_name"`
}

// TableName 指定表名
func (Permission) TableName() string { return "auth_permissions" }

// Role 角色，对应 roles
// Weight 越小权限越高；非超级用户只能看到 weight 不低于自己的角色与用户
type Role struct {
	ID          uint    `gorm:"primaryKey"                             json:"id"`
	Value       string  `gorm:"type:varchar(32);uniqueIndex;not null"  json:"value"`
	Description *string `gorm:"type:varchar(191)"                      json:"description,omitempty"`
	GroupID     *uint   `                                              json:"group_id,omitempty"`
	Weight      int     `gorm:"not null;default:0"                     json:"weight"`
	BaseModel

	Group *Group `gorm:"foreignKey:GroupID" json:"group,omitempty"`
}

// TableName 指定表名
func (Role) TableName() string { return "roles" }

// RoleModel 参与字段级权限控制的模型，对应 role_models
type RoleModel struct {
	ID          uint    `gorm:"primaryKey"                              json:"id"`
	Value       string  `gorm:"type:varchar(128);uniqueIndex;not null"  json:"value"`
	Description *string `gorm:"type:varchar(191)"                       json:"description,omitempty"`
}

// TableName 指定表名
func (RoleModel) TableName() string { return "role_models" }

// RoleField 权限矩阵中的一个单元 (role, model, field)，对应 role_fields
type RoleField struct {
	ID          uint   `gorm:"primaryKey"                                         json:"id"`
	Value       string `gorm:"type:varchar(191);not null;uniqueIndex:idx_role_field_cell" json:"value"`
	RoleID      uint   `gorm:"not null;uniqueIndex:idx_role_field_cell"           json:"role_id"`
	RoleModelID uint   `gorm:"not null;uniqueIndex:idx_role_field_cell"           json:"role_model_id"`
	Read        bool   `gorm:"not null;default:false"                             json:"read"`
	Write       bool   `gorm:"not null;default:false"                             json:"write"`

	Role      *Role      `gorm:"foreignKey:RoleID"      json:"-"`
	RoleModel *RoleModel `gorm:"foreignKey:RoleModelID" json:"-"`
}

// TableName 指定表名
func (RoleField) TableName() string { return "role_fields" }
