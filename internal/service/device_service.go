package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/usermicrodevices/mas/internal/dto"
	"github.com/usermicrodevices/mas/internal/model"
	"github.com/usermicrodevices/mas/internal/repository"
	pkgerrors "github.com/usermicrodevices/mas/pkg/errors"
)

// 设备事件来源
const (
	SourceDeviceStatusChanged = "device_status_changed"
	SourceDeviceOwnerChanged  = "device_owner_changed"
)

const (
	deviceModel  = "Device"
	historyModel = "History"
)

// ── 设备模块业务错误 ──

var (
	ErrDeviceNotFound = errors.New("设备不存在")
	ErrOwnerNotFound  = errors.New("持有人不存在")
	ErrInvalidField   = errors.New("字段值格式错误")
)

// DeviceService 设备业务接口，读写都经过字段级权限
type DeviceService interface {
	List(ctx context.Context, p *Principal, req *dto.DeviceListRequest) ([]map[string]interface{}, int64, error)
	Get(ctx context.Context, p *Principal, id uint) (map[string]interface{}, error)
	// Update 任一字段不可写时整体拒绝
	Update(ctx context.Context, p *Principal, id uint, fields map[string]json.RawMessage) (map[string]interface{}, error)
	ChangeStatus(ctx context.Context, p *Principal, id uint, status int) (map[string]interface{}, error)
	// AssignOwner 关闭当前占用记录并新开一条
	AssignOwner(ctx context.Context, p *Principal, id, ownerID uint) (*model.History, error)
}

type deviceService struct {
	repo     *repository.Repository
	access   AccessResolver
	dispatch DispatchEngine
	now      func() time.Time
	logger   *zap.Logger
}

// NewDeviceService 创建 DeviceService 实例
func NewDeviceService(repo *repository.Repository, access AccessResolver, dispatch DispatchEngine, logger *zap.Logger) DeviceService {
	return &deviceService{repo: repo, access: access, dispatch: dispatch, now: time.Now, logger: logger}
}

// ────────────────────── 读取 ──────────────────────

func (s *deviceService) List(ctx context.Context, p *Principal, req *dto.DeviceListRequest) ([]map[string]interface{}, int64, error) {
	filters := &repository.DeviceListFilters{
		GroupID:      req.GroupID,
		DeviceTypeID: req.DeviceTypeID,
		Status:       req.Status,
		Keyword:      req.Keyword,
	}
	devices, total, err := s.repo.Device.List(ctx, filters, req.GetOffset(), req.GetLimit())
	if err != nil {
		s.logger.Error("列出设备失败", zap.Error(err))
		return nil, 0, err
	}

	result := make([]map[string]interface{}, 0, len(devices))
	for i := range devices {
		record, err := s.access.FilterReadable(ctx, p, deviceModel, deviceRecord(&devices[i]))
		if err != nil {
			return nil, 0, err
		}
		result = append(result, record)
	}
	return result, total, nil
}

func (s *deviceService) Get(ctx context.Context, p *Principal, id uint) (map[string]interface{}, error) {
	device, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.access.FilterReadable(ctx, p, deviceModel, deviceRecord(device))
}

// ────────────────────── Update ──────────────────────

func (s *deviceService) Update(ctx context.Context, p *Principal, id uint, fields map[string]json.RawMessage) (map[string]interface{}, error) {
	tm, _ := model.LookupTrackable(deviceModel)

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	// id、反向关系与未声明字段一律不可写
	var invalid []string
	for _, name := range names {
		f, ok := tm.Field(name)
		if !ok || !f.Storable() || name == "id" {
			invalid = append(invalid, name)
		}
	}
	if len(invalid) > 0 {
		return nil, &pkgerrors.FieldDeniedError{Model: deviceModel, Fields: invalid}
	}
	if err := s.access.CheckWritable(ctx, p, deviceModel, names); err != nil {
		return nil, err
	}

	device, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	columns := make(map[string]interface{}, len(names))
	var tagIDs []uint
	tagsChanged := false
	for _, name := range names {
		f, _ := tm.Field(name)
		raw := fields[name]
		switch {
		case f.Kind == model.FieldManyToMany:
			if err := json.Unmarshal(raw, &tagIDs); err != nil {
				return nil, fmt.Errorf("%w: %s", ErrInvalidField, name)
			}
			tagsChanged = true
		case name == "extinfo":
			columns[f.Column] = datatypes.JSON(raw)
		default:
			v, err := decodeDeviceValue(name, raw)
			if err != nil {
				return nil, err
			}
			columns[f.Column] = v
		}
	}

	statusBefore := device.Status
	// 列与标签同时成功或同时回滚
	err = s.repo.Transaction(ctx, func(txRepo *repository.Repository) error {
		if err := txRepo.Device.UpdateColumns(ctx, id, columns); err != nil {
			return err
		}
		if tagsChanged {
			if err := txRepo.Device.ReplaceTags(ctx, id, tagIDs); err != nil {
				return fmt.Errorf("更新设备标签: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeviceNotFound
		}
		s.logger.Error("更新设备失败", zap.Uint("id", id), zap.Error(err))
		return nil, err
	}

	updated, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if updated.Status != statusBefore {
		s.emit(ctx, p, SourceDeviceStatusChanged, statusDescription(updated, statusBefore))
	}
	return s.access.FilterReadable(ctx, p, deviceModel, deviceRecord(updated))
}

// ────────────────────── ChangeStatus ──────────────────────

func (s *deviceService) ChangeStatus(ctx context.Context, p *Principal, id uint, status int) (map[string]interface{}, error) {
	if err := s.access.CheckWritable(ctx, p, deviceModel, []string{"status"}); err != nil {
		return nil, err
	}
	device, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if device.Status == status {
		return s.access.FilterReadable(ctx, p, deviceModel, deviceRecord(device))
	}

	before := device.Status
	if err := s.repo.Device.UpdateColumns(ctx, id, map[string]interface{}{"status": status}); err != nil {
		s.logger.Error("更新设备状态失败", zap.Uint("id", id), zap.Error(err))
		return nil, err
	}
	device.Status = status

	s.emit(ctx, p, SourceDeviceStatusChanged, statusDescription(device, before))
	return s.access.FilterReadable(ctx, p, deviceModel, deviceRecord(device))
}

// ────────────────────── AssignOwner ──────────────────────

func (s *deviceService) AssignOwner(ctx context.Context, p *Principal, id, ownerID uint) (*model.History, error) {
	if err := s.access.CheckWritable(ctx, p, historyModel, []string{"device", "owner", "closed"}); err != nil {
		return nil, err
	}
	device, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	var history *model.History
	err = s.repo.Transaction(ctx, func(txRepo *repository.Repository) error {
		h, err := s.reassign(ctx, txRepo, device.ID, ownerID)
		history = h
		return err
	})
	if err != nil {
		if !errors.Is(err, ErrOwnerNotFound) {
			s.logger.Error("变更设备持有人失败", zap.Uint("device_id", id), zap.Error(err))
		}
		return nil, err
	}

	s.emit(ctx, p, SourceDeviceOwnerChanged, fmt.Sprintf("%s: owner #%d", device.Name, ownerID))
	return history, nil
}

func (s *deviceService) reassign(ctx context.Context, repo *repository.Repository, deviceID, ownerID uint) (*model.History, error) {
	exists, err := repo.History.OwnerExists(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrOwnerNotFound
	}

	now := s.now()
	open, err := repo.History.GetOpen(ctx, deviceID)
	switch {
	case err == nil:
		if open.OwnerID == ownerID {
			return open, nil
		}
		if err := repo.History.Close(ctx, open.ID, now); err != nil {
			return nil, err
		}
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	history := &model.History{Created: now, DeviceID: deviceID, OwnerID: ownerID}
	if err := repo.History.Create(ctx, history); err != nil {
		return nil, err
	}
	return history, nil
}

// ────────────────────── 辅助 ──────────────────────

// emit 触发通知，调用方本人不在收件人之列；通知失败不影响业务结果
func (s *deviceService) emit(ctx context.Context, p *Principal, source, description string) {
	if _, err := s.dispatch.Notify(ctx, source, description, []uint{p.UserID}); err != nil {
		s.logger.Error("触发通知失败", zap.String("source", source), zap.Error(err))
	}
}

func (s *deviceService) load(ctx context.Context, id uint) (*model.Device, error) {
	device, err := s.repo.Device.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeviceNotFound
		}
		s.logger.Error("查询设备失败", zap.Uint("id", id), zap.Error(err))
		return nil, err
	}
	return device, nil
}

// deviceRecord 以可追踪字段名为键输出设备记录
func deviceRecord(d *model.Device) map[string]interface{} {
	tags := make([]uint, 0, len(d.Tags))
	for _, t := range d.Tags {
		tags = append(tags, t.ID)
	}
	return map[string]interface{}{
		"id":          d.ID,
		"name":        d.Name,
		"group":       d.GroupID,
		"device_type": d.DeviceTypeID,
		"created":     d.Created,
		"tz":          d.TZ,
		"status":      d.Status,
		"tags":        tags,
		"extinfo":     d.Extinfo,
	}
}

func decodeDeviceValue(name string, raw json.RawMessage) (interface{}, error) {
	var err error
	switch name {
	case "name", "tz":
		var v string
		if err = json.Unmarshal(raw, &v); err == nil {
			return v, nil
		}
	case "status":
		var v int
		if err = json.Unmarshal(raw, &v); err == nil {
			if v < model.DeviceStatusNotUsed || v > model.DeviceStatusOn {
				return nil, fmt.Errorf("%w: %s", ErrInvalidField, name)
			}
			return v, nil
		}
	case "group", "device_type":
		var v *uint
		if err = json.Unmarshal(raw, &v); err == nil {
			return v, nil
		}
	case "created":
		var v time.Time
		if err = json.Unmarshal(raw, &v); err == nil {
			return v, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrInvalidField, name)
}

func statusDescription(d *model.Device, before int) string {
	return fmt.Sprintf("%s: %s -> %s", d.Name, statusName(before), statusName(d.Status))
}

func statusName(status int) string {
	switch status {
	case model.DeviceStatusNotUsed:
		return "not used"
	case model.DeviceStatusOff:
		return "off"
	case model.DeviceStatusOn:
		return "on"
	}
	return fmt.Sprintf("%d", status)
}
