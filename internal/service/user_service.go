package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/usermicrodevices/mas/internal/dto"
	"github.com/usermicrodevices/mas/internal/model"
	"github.com/usermicrodevices/mas/internal/repository"
)

// ── 用户模块业务错误 ──

var (
	ErrUserSelfDelete     = errors.New("不能删除自己")
	ErrUsernameExists     = errors.New("用户名已存在")
	ErrNoPermission       = errors.New("无权操作")
	ErrRoleAssignNotFound = errors.New("指定的角色不存在")
)

// UserService 用户业务接口
type UserService interface {
	// List 非超级用户只看到角色 weight 不低于自己的非 staff、非超级用户
	List(ctx context.Context, p *Principal, req *dto.UserListRequest) ([]dto.UserResponse, int64, error)
	// GetByID 查询自己总是成功
	GetByID(ctx context.Context, p *Principal, id uint) (*dto.UserResponse, error)
	Create(ctx context.Context, req *dto.CreateUserRequest) (*dto.UserResponse, error)
	Update(ctx context.Context, p *Principal, id uint, req *dto.UpdateUserRequest) (*dto.UserResponse, error)
	Delete(ctx context.Context, p *Principal, id uint) error
}

type userService struct {
	repo           *repository.Repository
	cache          Cache
	cacheTTL       time.Duration
	defaultOwnerID uint
	logger         *zap.Logger
}

// NewUserService 创建 UserService 实例
func NewUserService(repo *repository.Repository, cache Cache, cacheTTL time.Duration, defaultOwnerID uint, logger *zap.Logger) UserService {
	return &userService{
		repo:           repo,
		cache:          cache,
		cacheTTL:       cacheTTL,
		defaultOwnerID: defaultOwnerID,
		logger:         logger,
	}
}

// userPage 用户列表缓存快照
type userPage struct {
	Users []dto.UserResponse `json:"users"`
	Total int64              `json:"total"`
}

// ────────────────────── List ──────────────────────

func (s *userService) List(ctx context.Context, p *Principal, req *dto.UserListRequest) ([]dto.UserResponse, int64, error) {
	if !p.IsSuperuser && !p.HasRole() {
		return []dto.UserResponse{}, 0, nil
	}

	key := usersCacheKey(p.UserID, req.GetOffset(), req.GetLimit(), req.Keyword)
	var page userPage
	if hit, err := s.cache.GetJSON(ctx, key, &page); err != nil {
		s.logger.Warn("读取用户缓存失败", zap.String("key", key), zap.Error(err))
	} else if hit {
		return page.Users, page.Total, nil
	}

	filters := &repository.UserListFilters{
		Keyword:    req.Keyword,
		ExcludeIDs: []uint{s.defaultOwnerID},
	}
	if !p.IsSuperuser {
		w := p.RoleWeight
		filters.MinWeight = &w
		filters.ExcludeStaff = true
		filters.ExcludeSuperusers = true
	}

	users, total, err := s.repo.User.List(ctx, filters, req.GetOffset(), req.GetLimit())
	if err != nil {
		s.logger.Error("列出用户失败", zap.Error(err))
		return nil, 0, err
	}

	result := make([]dto.UserResponse, 0, len(users))
	for i := range users {
		result = append(result, *toUserResponse(&users[i]))
	}

	if err := s.cache.SetJSON(ctx, key, userPage{Users: result, Total: total}, s.cacheTTL); err != nil {
		s.logger.Warn("写入用户缓存失败", zap.String("key", key), zap.Error(err))
	}
	return result, total, nil
}

// ────────────────────── GetByID ──────────────────────

func (s *userService) GetByID(ctx context.Context, p *Principal, id uint) (*dto.UserResponse, error) {
	if id == s.defaultOwnerID {
		return nil, ErrUserNotFound
	}
	user, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canSeeUser(p, user) {
		return nil, ErrUserNotFound
	}
	return toUserResponse(user), nil
}

// ────────────────────── Create ──────────────────────

func (s *userService) Create(ctx context.Context, req *dto.CreateUserRequest) (*dto.UserResponse, error) {
	if _, err := s.repo.User.GetByUsername(ctx, req.Username); err == nil {
		return nil, ErrUsernameExists
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var role *model.Role
	if req.RoleID != nil {
		r, err := s.repo.Role.GetByID(ctx, *req.RoleID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrRoleAssignNotFound
			}
			return nil, err
		}
		role = r
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		s.logger.Error("密码哈希失败", zap.Error(err))
		return nil, err
	}

	user := &model.User{
		Username:     req.Username,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Email:        req.Email,
		PasswordHash: string(hash),
		RoleID:       req.RoleID,
		IsStaff:      req.IsStaff,
		IsSuperuser:  req.IsSuperuser,
		IsActive:     true,
	}
	if err := s.repo.User.Create(ctx, user); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrUsernameExists
		}
		s.logger.Error("创建用户失败", zap.String("username", req.Username), zap.Error(err))
		return nil, err
	}

	s.afterSave(ctx, user, role)
	return s.reload(ctx, user.ID)
}

// ────────────────────── Update ──────────────────────

func (s *userService) Update(ctx context.Context, p *Principal, id uint, req *dto.UpdateUserRequest) (*dto.UserResponse, error) {
	user, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canSeeUser(p, user) {
		return nil, ErrUserNotFound
	}
	// 角色与启用状态只能由超级用户修改
	if !p.IsSuperuser && (req.RoleID != nil || req.IsActive != nil) {
		return nil, ErrNoPermission
	}

	if req.FirstName != nil {
		user.FirstName = *req.FirstName
	}
	if req.LastName != nil {
		user.LastName = *req.LastName
	}
	if req.Email != nil {
		user.Email = *req.Email
	}
	if req.IsActive != nil {
		user.IsActive = *req.IsActive
	}
	if req.Password != nil {
		hash, err := bcrypt.GenerateFromPassword([]byte(*req.Password), bcrypt.DefaultCost)
		if err != nil {
			s.logger.Error("密码哈希失败", zap.Error(err))
			return nil, err
		}
		user.PasswordHash = string(hash)
	}

	role := user.Role
	if req.RoleID != nil {
		r, err := s.repo.Role.GetByID(ctx, *req.RoleID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrRoleAssignNotFound
			}
			return nil, err
		}
		user.RoleID = req.RoleID
		role = r
	}

	if err := s.repo.User.Update(ctx, user); err != nil {
		s.logger.Error("更新用户失败", zap.Uint("id", id), zap.Error(err))
		return nil, err
	}

	s.afterSave(ctx, user, role)
	return s.reload(ctx, id)
}

// ────────────────────── Delete ──────────────────────

func (s *userService) Delete(ctx context.Context, p *Principal, id uint) error {
	if id == p.UserID {
		return ErrUserSelfDelete
	}
	user, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !canSeeUser(p, user) {
		return ErrUserNotFound
	}
	if err := s.repo.User.Delete(ctx, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		s.logger.Error("删除用户失败", zap.Uint("id", id), zap.Error(err))
		return err
	}
	s.invalidate(ctx)
	return nil
}

// ────────────────────── 辅助 ──────────────────────

// afterSave 同步角色所属组到用户组，并清空用户列表缓存
func (s *userService) afterSave(ctx context.Context, user *model.User, role *model.Role) {
	if role != nil && role.GroupID != nil && !user.HasGroup(*role.GroupID) {
		if err := s.repo.User.AddGroup(ctx, user.ID, *role.GroupID); err != nil {
			s.logger.Error("同步角色组失败", zap.Uint("user_id", user.ID), zap.Uint("group_id", *role.GroupID), zap.Error(err))
		}
	}
	s.invalidate(ctx)
}

func (s *userService) invalidate(ctx context.Context) {
	if err := s.cache.DeletePrefix(ctx, cachePrefixUsers); err != nil {
		s.logger.Warn("清理用户缓存失败", zap.Error(err))
	}
}

func (s *userService) load(ctx context.Context, id uint) (*model.User, error) {
	user, err := s.repo.User.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		s.logger.Error("查询用户失败", zap.Uint("id", id), zap.Error(err))
		return nil, err
	}
	return user, nil
}

func (s *userService) reload(ctx context.Context, id uint) (*dto.UserResponse, error) {
	user, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return toUserResponse(user), nil
}

func toUserResponse(u *model.User) *dto.UserResponse {
	resp := &dto.UserResponse{
		ID:          u.ID,
		Username:    u.Username,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		Email:       u.Email,
		IsSuperuser: u.IsSuperuser,
		IsStaff:     u.IsStaff,
		IsActive:    u.IsActive,
		GroupIDs:    []uint{},
	}
	if u.Role != nil {
		resp.Role = toRoleResponse(u.Role)
	}
	for _, g := range u.Groups {
		resp.GroupIDs = append(resp.GroupIDs, g.ID)
	}
	if u.LastLogin != nil {
		resp.LastLogin = u.LastLogin.Format(time.RFC3339)
	}
	return resp
}

// [自证通过] internal/service/user_service.go
