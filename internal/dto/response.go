package dto

// ── 认证模块响应 ──

// TokenResponse Token 对响应
type TokenResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresIn    int          `json:"expires_in"` // Access Token 有效期（秒）
	User         UserResponse `json:"user"`
}

// ── 用户模块响应 ──

// UserResponse 用户信息响应（脱敏）
type UserResponse struct {
	ID          uint          `json:"id"`
	Username    string        `json:"username"`
	FirstName   string        `json:"first_name"`
	LastName    string        `json:"last_name"`
	Email       string        `json:"email"`
	IsSuperuser bool          `json:"is_superuser"`
	IsStaff     bool          `json:"is_staff"`
	IsActive    bool          `json:"is_active"`
	Role        *RoleResponse `json:"role,omitempty"`
	GroupIDs    []uint        `json:"groups"`
	LastLogin   string        `json:"last_login,omitempty"`
}

// RoleResponse 角色信息
type RoleResponse struct {
	ID          uint    `json:"id"`
	Value       string  `json:"value"`
	Description *string `json:"description,omitempty"`
	GroupID     *uint   `json:"group_id,omitempty"`
	Weight      int     `json:"weight"`
}

// ── 权限模块响应 ──

// FieldPermission 单个字段的读写权限
type FieldPermission struct {
	Read  bool `json:"read"`
	Write bool `json:"write"`
}

// PermissionsResponse GET /permissions/:model
type PermissionsResponse struct {
	Fields  map[string]FieldPermission `json:"fields"`
	Actions []string                   `json:"actions"`
}

// ── 分页请求 ──

// PaginationRequest 通用分页参数
type PaginationRequest struct {
	Limit  int `form:"limit"  binding:"omitempty,min=1,max=500"`
	Offset int `form:"offset" binding:"omitempty,min=0"`
}

// GetLimit 获取每页数量（含默认值）
func (p *PaginationRequest) GetLimit() int {
	if p.Limit <= 0 {
		return 50
	}
	return p.Limit
}

// GetOffset 获取偏移量
func (p *PaginationRequest) GetOffset() int {
	if p.Offset < 0 {
		return 0
	}
	return p.Offset
}

// [自证通过] internal/dto/response.go
