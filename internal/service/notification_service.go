package service

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/usermicrodevices/mas/internal/dto"
	"github.com/usermicrodevices/mas/internal/model"
	"github.com/usermicrodevices/mas/internal/repository"
)

// ── 通知模块业务错误 ──

var (
	ErrSourceNotFound      = errors.New("通知来源不存在")
	ErrSourceValueExists   = errors.New("通知来源 value 已存在")
	ErrTypeNotFound        = errors.New("通知渠道不存在")
	ErrPushTypeMissing     = errors.New("未配置 push 通知渠道")
	ErrOptionExists        = errors.New("该来源的选项已存在")
	ErrOptionNotFound      = errors.New("通知选项不存在")
	ErrOptionOwner         = errors.New("只有超级用户可以为他人配置通知选项")
	ErrInvalidBulkFilters  = errors.New("群发过滤条件格式错误，应为 [{\"sources\":[id,...]}]")
	ErrTemplateExists      = errors.New("该来源与渠道的模板已存在")
	ErrSourceGroupNotFound = errors.New("来源分组不存在")
)

// NotificationService 通知配置管理
type NotificationService interface {
	ListSources(ctx context.Context, p *Principal) ([]model.NotificationSource, error)
	CreateSource(ctx context.Context, req *dto.CreateSourceRequest) (*model.NotificationSource, error)
	UpdateSource(ctx context.Context, id uint, req *dto.CreateSourceRequest) (*model.NotificationSource, error)
	DeleteSource(ctx context.Context, id uint) error

	ListSourceGroups(ctx context.Context) ([]model.NotificationSourceGroup, error)
	CreateSourceGroup(ctx context.Context, req *dto.CreateSourceGroupRequest) (*model.NotificationSourceGroup, error)
	ListTypes(ctx context.Context) ([]model.NotificationType, error)
	CreateType(ctx context.Context, req *dto.CreateTypeRequest) (*model.NotificationType, error)
	ListTemplates(ctx context.Context, sourceID *uint) ([]model.NotificationTemplate, error)
	CreateTemplate(ctx context.Context, req *dto.CreateTemplateRequest) (*model.NotificationTemplate, error)

	// CurrentOptions 超级用户返回全部，其他用户只返回自己在公开来源分组下的选项
	CurrentOptions(ctx context.Context, p *Principal) ([]model.NotificationOption, error)
	CreateOption(ctx context.Context, p *Principal, req *dto.CreateOptionRequest) (*model.NotificationOption, error)
	// UpdateOption 持有人或超级用户整体替换渠道集合
	UpdateOption(ctx context.Context, p *Principal, id uint, req *dto.UpdateOptionRequest) (*model.NotificationOption, error)
	CurrentDelays(ctx context.Context, p *Principal) ([]model.NotificationDelay, error)
	CreateDelay(ctx context.Context, p *Principal, req *dto.CreateDelayRequest) (*model.NotificationDelay, error)
	UpdateDelay(ctx context.Context, p *Principal, id uint, req *dto.UpdateDelayRequest) (*model.NotificationDelay, error)

	ListBulkEmails(ctx context.Context) ([]model.NotificationBulkEmail, error)
	CreateBulkEmail(ctx context.Context, req *dto.CreateBulkEmailRequest) (*model.NotificationBulkEmail, error)

	// SetAllPushNotifications 为用户 × 全部来源开启 push，userIDs 为空时作用于全部用户
	SetAllPushNotifications(ctx context.Context, userIDs []uint) (*dto.SetAllPushResponse, error)
}

type notificationService struct {
	repo          *repository.Repository
	directory     NotificationDirectory
	publicGroupID uint
	defaultOwner  uint
	logger        *zap.Logger
}

// NewNotificationService 创建 NotificationService 实例
func NewNotificationService(
	repo *repository.Repository,
	directory NotificationDirectory,
	publicGroupID, defaultOwner uint,
	logger *zap.Logger,
) NotificationService {
	return &notificationService{
		repo:          repo,
		directory:     directory,
		publicGroupID: publicGroupID,
		defaultOwner:  defaultOwner,
		logger:        logger,
	}
}

// ────────────────────── 来源 ──────────────────────

func (s *notificationService) ListSources(ctx context.Context, p *Principal) ([]model.NotificationSource, error) {
	var groupID *uint
	if !p.IsSuperuser {
		gid := s.publicGroupID
		groupID = &gid
	}
	return s.repo.Source.List(ctx, groupID)
}

func (s *notificationService) CreateSource(ctx context.Context, req *dto.CreateSourceRequest) (*model.NotificationSource, error) {
	source := &model.NotificationSource{
		Value:       req.Value,
		Name:        req.Name,
		Description: req.Description,
		GroupID:     req.GroupID,
	}
	if err := s.repo.Source.Create(ctx, source); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrSourceValueExists
		}
		s.logger.Error("创建通知来源失败", zap.String("value", req.Value), zap.Error(err))
		return nil, err
	}
	s.refreshKeys(ctx)
	return source, nil
}

func (s *notificationService) UpdateSource(ctx context.Context, id uint, req *dto.CreateSourceRequest) (*model.NotificationSource, error) {
	source, err := s.repo.Source.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSourceNotFound
		}
		return nil, err
	}
	source.Value = req.Value
	source.Name = req.Name
	source.Description = req.Description
	source.GroupID = req.GroupID
	if err := s.repo.Source.Update(ctx, source); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrSourceValueExists
		}
		s.logger.Error("更新通知来源失败", zap.Uint("id", id), zap.Error(err))
		return nil, err
	}
	s.refreshKeys(ctx)
	return source, nil
}

func (s *notificationService) DeleteSource(ctx context.Context, id uint) error {
	if err := s.repo.Source.Delete(ctx, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSourceNotFound
		}
		s.logger.Error("删除通知来源失败", zap.Uint("id", id), zap.Error(err))
		return err
	}
	s.refreshKeys(ctx)
	return nil
}

// refreshKeys 来源保存后刷新缓存中的 value 列表
func (s *notificationService) refreshKeys(ctx context.Context) {
	if err := s.directory.RefreshSourceKeys(ctx); err != nil {
		s.logger.Warn("刷新来源缓存失败", zap.Error(err))
	}
}

// ────────────────────── 分组 / 渠道 / 模板 ──────────────────────

func (s *notificationService) ListSourceGroups(ctx context.Context) ([]model.NotificationSourceGroup, error) {
	return s.repo.Source.ListGroups(ctx)
}

func (s *notificationService) CreateSourceGroup(ctx context.Context, req *dto.CreateSourceGroupRequest) (*model.NotificationSourceGroup, error) {
	group := &model.NotificationSourceGroup{Name: req.Name, Description: req.Description}
	if err := s.repo.Source.CreateGroup(ctx, group); err != nil {
		s.logger.Error("创建来源分组失败", zap.String("name", req.Name), zap.Error(err))
		return nil, err
	}
	return group, nil
}

func (s *notificationService) ListTypes(ctx context.Context) ([]model.NotificationType, error) {
	return s.repo.Type.List(ctx)
}

func (s *notificationService) CreateType(ctx context.Context, req *dto.CreateTypeRequest) (*model.NotificationType, error) {
	t := &model.NotificationType{Value: req.Value, Name: req.Name}
	if err := s.repo.Type.Create(ctx, t); err != nil {
		s.logger.Error("创建通知渠道失败", zap.String("value", req.Value), zap.Error(err))
		return nil, err
	}
	return t, nil
}

func (s *notificationService) ListTemplates(ctx context.Context, sourceID *uint) ([]model.NotificationTemplate, error) {
	return s.repo.Template.List(ctx, sourceID)
}

func (s *notificationService) CreateTemplate(ctx context.Context, req *dto.CreateTemplateRequest) (*model.NotificationTemplate, error) {
	// 保存前先校验模板语法
	if err := parseBody(req.Body); err != nil {
		return nil, err
	}
	tpl := &model.NotificationTemplate{SourceID: req.SourceID, TypeID: req.TypeID, Body: req.Body}
	if err := s.repo.Template.Create(ctx, tpl); err != nil {
		switch {
		case errors.Is(err, gorm.ErrDuplicatedKey):
			return nil, ErrTemplateExists
		case errors.Is(err, gorm.ErrForeignKeyViolated):
			return nil, ErrSourceNotFound
		}
		s.logger.Error("创建通知模板失败", zap.Error(err))
		return nil, err
	}
	return tpl, nil
}

// ────────────────────── 选项 / 延迟 ──────────────────────

func (s *notificationService) CurrentOptions(ctx context.Context, p *Principal) ([]model.NotificationOption, error) {
	if p.IsSuperuser {
		return s.repo.Option.List(ctx, nil, nil)
	}
	owner, gid := p.UserID, s.publicGroupID
	return s.repo.Option.List(ctx, &owner, &gid)
}

// ownerFor 请求未指定持有人时为当前用户，为他人指定需要超级用户
func ownerFor(p *Principal, requested *uint) (uint, error) {
	if requested == nil || *requested == p.UserID {
		return p.UserID, nil
	}
	if !p.IsSuperuser {
		return 0, ErrOptionOwner
	}
	return *requested, nil
}

func (s *notificationService) CreateOption(ctx context.Context, p *Principal, req *dto.CreateOptionRequest) (*model.NotificationOption, error) {
	owner, err := ownerFor(p, req.OwnerID)
	if err != nil {
		return nil, err
	}
	opt := &model.NotificationOption{SourceID: req.SourceID, OwnerID: owner}
	for _, tid := range req.TypeIDs {
		opt.Types = append(opt.Types, model.NotificationType{ID: tid})
	}
	if err := s.repo.Option.Create(ctx, opt); err != nil {
		switch {
		case errors.Is(err, gorm.ErrDuplicatedKey):
			return nil, ErrOptionExists
		case errors.Is(err, gorm.ErrForeignKeyViolated):
			return nil, ErrSourceNotFound
		}
		s.logger.Error("创建渠道选项失败", zap.Uint("owner_id", owner), zap.Error(err))
		return nil, err
	}
	return s.repo.Option.Get(ctx, req.SourceID, owner)
}

func (s *notificationService) UpdateOption(ctx context.Context, p *Principal, id uint, req *dto.UpdateOptionRequest) (*model.NotificationOption, error) {
	opt, err := s.repo.Option.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOptionNotFound
		}
		return nil, err
	}
	if !p.IsSuperuser && opt.OwnerID != p.UserID {
		return nil, ErrOptionNotFound
	}

	if err := s.repo.Option.ReplaceTypes(ctx, id, req.TypeIDs); err != nil {
		if errors.Is(err, gorm.ErrForeignKeyViolated) {
			return nil, ErrTypeNotFound
		}
		s.logger.Error("更新渠道选项失败", zap.Uint("id", id), zap.Error(err))
		return nil, err
	}
	return s.repo.Option.GetByID(ctx, id)
}

func (s *notificationService) CurrentDelays(ctx context.Context, p *Principal) ([]model.NotificationDelay, error) {
	owner := p.UserID
	return s.repo.Option.ListDelays(ctx, &owner)
}

func (s *notificationService) CreateDelay(ctx context.Context, p *Principal, req *dto.CreateDelayRequest) (*model.NotificationDelay, error) {
	owner, err := ownerFor(p, req.OwnerID)
	if err != nil {
		return nil, err
	}
	delay := &model.NotificationDelay{SourceID: req.SourceID, OwnerID: owner, Interval: req.Interval}
	if err := s.repo.Option.CreateDelay(ctx, delay); err != nil {
		switch {
		case errors.Is(err, gorm.ErrDuplicatedKey):
			return nil, ErrOptionExists
		case errors.Is(err, gorm.ErrForeignKeyViolated):
			return nil, ErrSourceNotFound
		}
		s.logger.Error("创建发送延迟失败", zap.Uint("owner_id", owner), zap.Error(err))
		return nil, err
	}
	return delay, nil
}

func (s *notificationService) UpdateDelay(ctx context.Context, p *Principal, id uint, req *dto.UpdateDelayRequest) (*model.NotificationDelay, error) {
	delay, err := s.repo.Option.GetDelayByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOptionNotFound
		}
		return nil, err
	}
	if !p.IsSuperuser && delay.OwnerID != p.UserID {
		return nil, ErrOptionNotFound
	}

	if err := s.repo.Option.UpdateDelay(ctx, id, req.Interval); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOptionNotFound
		}
		s.logger.Error("更新发送延迟失败", zap.Uint("id", id), zap.Error(err))
		return nil, err
	}
	delay.Interval = req.Interval
	return delay, nil
}

// ────────────────────── 群发列表 ──────────────────────

func (s *notificationService) ListBulkEmails(ctx context.Context) ([]model.NotificationBulkEmail, error) {
	return s.repo.BulkEmail.List(ctx)
}

func (s *notificationService) CreateBulkEmail(ctx context.Context, req *dto.CreateBulkEmailRequest) (*model.NotificationBulkEmail, error) {
	raw := []byte(req.Notifications)
	if len(raw) == 0 {
		raw = []byte("[]")
	}
	var filters []model.BulkEmailFilter
	if err := json.Unmarshal(raw, &filters); err != nil {
		return nil, ErrInvalidBulkFilters
	}
	bulk := &model.NotificationBulkEmail{
		Name:          req.Name,
		Emails:        req.Emails,
		Notifications: datatypes.JSON(raw),
	}
	if err := s.repo.BulkEmail.Create(ctx, bulk); err != nil {
		s.logger.Error("创建群发列表失败", zap.String("name", req.Name), zap.Error(err))
		return nil, err
	}
	return bulk, nil
}

// ────────────────────── SetAllPushNotifications ──────────────────────

func (s *notificationService) SetAllPushNotifications(ctx context.Context, userIDs []uint) (*dto.SetAllPushResponse, error) {
	pushType, err := s.repo.Type.GetByValue(ctx, model.ChannelPush)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPushTypeMissing
		}
		return nil, err
	}

	if len(userIDs) == 0 {
		userIDs, err = s.repo.User.ListIDs(ctx, []uint{s.defaultOwner})
		if err != nil {
			return nil, err
		}
	}

	sources, err := s.repo.Source.List(ctx, nil)
	if err != nil {
		return nil, err
	}

	result := &dto.SetAllPushResponse{}
	for _, uid := range userIDs {
		for _, src := range sources {
			opt, err := s.repo.Option.GetOrCreate(ctx, src.ID, uid)
			if err != nil {
				s.logger.Error("获取渠道选项失败", zap.Uint("user_id", uid), zap.String("source", src.Value), zap.Error(err))
				result.Failed++
				continue
			}
			added, err := s.repo.Option.AddType(ctx, opt.ID, pushType.ID)
			if err != nil {
				s.logger.Error("开启 push 失败", zap.Uint("user_id", uid), zap.String("source", src.Value), zap.Error(err))
				result.Failed++
				continue
			}
			result.Succeeded++
			if added {
				result.Changed++
			}
		}
	}

	s.logger.Info("批量开启 push 完成",
		zap.Int("users", len(userIDs)),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("changed", result.Changed),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}
