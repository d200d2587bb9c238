package service

import "github.com/usermicrodevices/mas/internal/model"

// Principal 每个请求的已认证主体
type Principal struct {
	UserID      uint
	Username    string
	Email       string
	RoleID      *uint
	RoleValue   string
	RoleWeight  int
	IsSuperuser bool
	IsStaff     bool
	GroupIDs    []uint
}

// HasRole 是否分配了角色
func (p *Principal) HasRole() bool { return p != nil && p.RoleID != nil }

// PrincipalFromUser 由用户记录构造主体，需预加载 Role 与 Groups
func PrincipalFromUser(u *model.User) *Principal {
	p := &Principal{
		UserID:      u.ID,
		Username:    u.Username,
		Email:       u.Email,
		RoleID:      u.RoleID,
		IsSuperuser: u.IsSuperuser,
		IsStaff:     u.IsStaff,
	}
	if u.Role != nil {
		p.RoleValue = u.Role.Value
		p.RoleWeight = u.Role.Weight
	}
	for _, g := range u.Groups {
		p.GroupIDs = append(p.GroupIDs, g.ID)
	}
	return p
}

// canSeeUser 按角色权重判断主体是否可见目标用户
// 超级用户可见全部；其余只能看到自己以及角色 weight 不低于自己的普通用户
func canSeeUser(p *Principal, u *model.User) bool {
	if p.IsSuperuser || p.UserID == u.ID {
		return true
	}
	if !p.HasRole() || u.Role == nil {
		return false
	}
	if u.IsStaff || u.IsSuperuser {
		return false
	}
	return u.Role.Weight >= p.RoleWeight
}
