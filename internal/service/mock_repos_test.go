package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/usermicrodevices/mas/internal/model"
	"github.com/usermicrodevices/mas/internal/repository"
	pkgerrors "github.com/usermicrodevices/mas/pkg/errors"
)

// ── Mock RoleRepository ──

type mockRoleRepo struct {
	roles  map[uint]*model.Role
	nextID uint
}

func newMockRoleRepo() *mockRoleRepo {
	return &mockRoleRepo{roles: make(map[uint]*model.Role), nextID: 1}
}

func (m *mockRoleRepo) add(value string, weight int) *model.Role {
	r := &model.Role{Value: value, Weight: weight}
	_ = m.Create(context.Background(), r)
	return r
}

func (m *mockRoleRepo) Create(_ context.Context, role *model.Role) error {
	for _, r := range m.roles {
		if r.Value == role.Value {
			return gorm.ErrDuplicatedKey
		}
	}
	if role.ID == 0 {
		role.ID = m.nextID
		m.nextID++
	}
	m.roles[role.ID] = role
	return nil
}

func (m *mockRoleRepo) GetByID(_ context.Context, id uint) (*model.Role, error) {
	if r, ok := m.roles[id]; ok {
		return r, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockRoleRepo) GetByValue(_ context.Context, value string) (*model.Role, error) {
	for _, r := range m.roles {
		if r.Value == value {
			return r, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockRoleRepo) Update(_ context.Context, role *model.Role) error {
	m.roles[role.ID] = role
	return nil
}

func (m *mockRoleRepo) Delete(_ context.Context, id uint) error {
	if _, ok := m.roles[id]; !ok {
		return gorm.ErrRecordNotFound
	}
	delete(m.roles, id)
	return nil
}

func (m *mockRoleRepo) List(_ context.Context, minWeight *int) ([]model.Role, error) {
	var result []model.Role
	for _, r := range m.roles {
		if minWeight == nil || r.Weight >= *minWeight {
			result = append(result, *r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// ── Mock RoleModelRepository ──

type mockRoleModelRepo struct {
	models map[string]*model.RoleModel
	nextID uint
}

func newMockRoleModelRepo() *mockRoleModelRepo {
	return &mockRoleModelRepo{models: make(map[string]*model.RoleModel), nextID: 1}
}

func (m *mockRoleModelRepo) Ensure(_ context.Context, value, description string) (*model.RoleModel, bool, error) {
	if rm, ok := m.models[value]; ok {
		return rm, false, nil
	}
	rm := &model.RoleModel{ID: m.nextID, Value: value, Description: &description}
	m.nextID++
	m.models[value] = rm
	return rm, true, nil
}

func (m *mockRoleModelRepo) GetByValue(_ context.Context, value string) (*model.RoleModel, error) {
	if rm, ok := m.models[value]; ok {
		return rm, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockRoleModelRepo) List(_ context.Context) ([]model.RoleModel, error) {
	var result []model.RoleModel
	for _, rm := range m.models {
		result = append(result, *rm)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// ── Mock RoleFieldRepository ──

type mockRoleFieldRepo struct {
	mu      sync.Mutex
	fields  map[uint]*model.RoleField
	nextID  uint
	models  *mockRoleModelRepo
	failOn  map[string]error // 按字段名注入创建失败
	raceOn  map[string]bool  // 按字段名模拟并发创建的失败方
	creates int
}

func newMockRoleFieldRepo(models *mockRoleModelRepo) *mockRoleFieldRepo {
	return &mockRoleFieldRepo{
		fields: make(map[uint]*model.RoleField),
		nextID: 1,
		models: models,
		failOn: make(map[string]error),
		raceOn: make(map[string]bool),
	}
}

func (m *mockRoleFieldRepo) ListFor(_ context.Context, roleID, roleModelID uint) ([]model.RoleField, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.RoleField
	for _, f := range m.fields {
		if f.RoleID == roleID && f.RoleModelID == roleModelID {
			result = append(result, *f)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *mockRoleFieldRepo) ListByRoleAndModelName(ctx context.Context, roleID uint, modelName string) ([]model.RoleField, error) {
	rm, err := m.models.GetByValue(ctx, modelName)
	if err != nil {
		return nil, nil
	}
	return m.ListFor(ctx, roleID, rm.ID)
}

func (m *mockRoleFieldRepo) CreateIfAbsent(_ context.Context, field *model.RoleField) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failOn[field.Value]; ok {
		return false, err
	}
	if m.raceOn[field.Value] {
		// 另一个并发请求刚刚创建了同一单元
		m.raceOn[field.Value] = false
		f := *field
		f.ID = m.nextID
		m.nextID++
		m.fields[f.ID] = &f
		return false, gorm.ErrDuplicatedKey
	}
	for _, f := range m.fields {
		if f.Value == field.Value && f.RoleID == field.RoleID && f.RoleModelID == field.RoleModelID {
			return false, nil
		}
	}
	field.ID = m.nextID
	m.nextID++
	f := *field
	m.fields[f.ID] = &f
	m.creates++
	return true, nil
}

func (m *mockRoleFieldRepo) Grant(_ context.Context, id uint, read, write bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.fields[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if read {
		f.Read = true
	}
	if write {
		f.Write = true
	}
	return nil
}

func (m *mockRoleFieldRepo) Update(_ context.Context, field *model.RoleField) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.fields[field.ID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	f.Read, f.Write = field.Read, field.Write
	return nil
}

func (m *mockRoleFieldRepo) Delete(_ context.Context, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.fields, id)
	return nil
}

// insert 直接写入一个单元，用于构造历史数据
func (m *mockRoleFieldRepo) insert(roleID, roleModelID uint, value string, read, write bool) *model.RoleField {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := &model.RoleField{ID: m.nextID, Value: value, RoleID: roleID, RoleModelID: roleModelID, Read: read, Write: write}
	m.nextID++
	m.fields[f.ID] = f
	return f
}

// matrix 以 "role/model/field" → read,write 输出快照
func (m *mockRoleFieldRepo) matrix() map[string][2]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make(map[string][2]bool, len(m.fields))
	for _, f := range m.fields {
		result[fmt.Sprintf("%d/%d/%s", f.RoleID, f.RoleModelID, f.Value)] = [2]bool{f.Read, f.Write}
	}
	return result
}

// ── Mock UserRepository ──

type mockUserRepo struct {
	users  map[uint]*model.User
	roles  *mockRoleRepo
	nextID uint
	groups map[uint][]uint // user → 新增的组
}

func newMockUserRepo(roles *mockRoleRepo) *mockUserRepo {
	return &mockUserRepo{users: make(map[uint]*model.User), roles: roles, nextID: 1, groups: make(map[uint][]uint)}
}

func (m *mockUserRepo) add(u *model.User) *model.User {
	if u.ID == 0 {
		u.ID = m.nextID
	}
	if u.ID >= m.nextID {
		m.nextID = u.ID + 1
	}
	u.IsActive = true
	m.users[u.ID] = u
	return u
}

func (m *mockUserRepo) withRole(u *model.User) *model.User {
	cp := *u
	if cp.RoleID != nil {
		if r, ok := m.roles.roles[*cp.RoleID]; ok {
			cp.Role = r
		}
	}
	for _, gid := range m.groups[cp.ID] {
		cp.Groups = append(cp.Groups, model.Group{ID: gid})
	}
	return &cp
}

func (m *mockUserRepo) Create(_ context.Context, user *model.User) error {
	for _, u := range m.users {
		if u.Username == user.Username {
			return gorm.ErrDuplicatedKey
		}
	}
	user.ID = m.nextID
	m.nextID++
	m.users[user.ID] = user
	return nil
}

func (m *mockUserRepo) GetByID(_ context.Context, id uint) (*model.User, error) {
	if u, ok := m.users[id]; ok {
		return m.withRole(u), nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockUserRepo) GetByUsername(_ context.Context, username string) (*model.User, error) {
	for _, u := range m.users {
		if u.Username == username {
			return m.withRole(u), nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockUserRepo) Update(_ context.Context, user *model.User) error {
	cp := *user
	cp.Role = nil
	cp.Groups = nil
	m.users[user.ID] = &cp
	return nil
}

func (m *mockUserRepo) Delete(_ context.Context, id uint) error {
	if _, ok := m.users[id]; !ok {
		return gorm.ErrRecordNotFound
	}
	delete(m.users, id)
	return nil
}

func (m *mockUserRepo) List(_ context.Context, filters *repository.UserListFilters, offset, limit int) ([]model.User, int64, error) {
	var result []model.User
	excluded := map[uint]bool{}
	for _, id := range filters.ExcludeIDs {
		excluded[id] = true
	}
	for _, u := range m.users {
		full := m.withRole(u)
		if excluded[u.ID] {
			continue
		}
		if filters.MinWeight != nil && (full.Role == nil || full.Role.Weight < *filters.MinWeight) {
			continue
		}
		if filters.ExcludeStaff && u.IsStaff {
			continue
		}
		if filters.ExcludeSuperusers && u.IsSuperuser {
			continue
		}
		if filters.Keyword != "" && !strings.Contains(u.Username, filters.Keyword) {
			continue
		}
		result = append(result, *full)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	total := int64(len(result))
	if offset >= len(result) {
		return []model.User{}, total, nil
	}
	end := len(result)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return result[offset:end], total, nil
}

func (m *mockUserRepo) ListCandidates(_ context.Context, excluded []uint) ([]model.User, error) {
	skip := map[uint]bool{}
	for _, id := range excluded {
		skip[id] = true
	}
	var result []model.User
	for _, u := range m.users {
		if !skip[u.ID] {
			result = append(result, *u)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *mockUserRepo) ListIDs(ctx context.Context, excluded []uint) ([]uint, error) {
	users, _ := m.ListCandidates(ctx, excluded)
	ids := make([]uint, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	return ids, nil
}

func (m *mockUserRepo) AddGroup(_ context.Context, userID, groupID uint) error {
	for _, g := range m.groups[userID] {
		if g == groupID {
			return nil
		}
	}
	m.groups[userID] = append(m.groups[userID], groupID)
	return nil
}

func (m *mockUserRepo) TouchLastLogin(_ context.Context, userID uint) error {
	if u, ok := m.users[userID]; ok {
		now := time.Now()
		u.LastLogin = &now
	}
	return nil
}

// ── Mock PermissionRepository ──

type mockPermissionRepo struct {
	perms map[uint][]model.Permission // user → 组权限 ∪ 直接权限
}

func newMockPermissionRepo() *mockPermissionRepo {
	return &mockPermissionRepo{perms: make(map[uint][]model.Permission)}
}

func (m *mockPermissionRepo) ListForUser(_ context.Context, userID uint, modelName string) ([]model.Permission, error) {
	var result []model.Permission
	for _, p := range m.perms[userID] {
		if p.ModelName == modelName {
			result = append(result, p)
		}
	}
	return result, nil
}

// ── Mock NotificationSourceRepository ──

type mockSourceRepo struct {
	sources map[uint]*model.NotificationSource
	groups  []model.NotificationSourceGroup
	nextID  uint
}

func newMockSourceRepo() *mockSourceRepo {
	return &mockSourceRepo{sources: make(map[uint]*model.NotificationSource), nextID: 1}
}

func (m *mockSourceRepo) add(value, name string, groupID *uint) *model.NotificationSource {
	s := &model.NotificationSource{Value: value, Name: name, GroupID: groupID}
	_ = m.Create(context.Background(), s)
	return s
}

func (m *mockSourceRepo) Create(_ context.Context, source *model.NotificationSource) error {
	for _, s := range m.sources {
		if s.Value == source.Value {
			return gorm.ErrDuplicatedKey
		}
	}
	if source.ID == 0 {
		source.ID = m.nextID
	}
	if source.ID >= m.nextID {
		m.nextID = source.ID + 1
	}
	m.sources[source.ID] = source
	return nil
}

func (m *mockSourceRepo) GetByID(_ context.Context, id uint) (*model.NotificationSource, error) {
	if s, ok := m.sources[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockSourceRepo) GetByValue(_ context.Context, value string) (*model.NotificationSource, error) {
	for _, s := range m.sources {
		if s.Value == value {
			cp := *s
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockSourceRepo) Update(_ context.Context, source *model.NotificationSource) error {
	cp := *source
	m.sources[source.ID] = &cp
	return nil
}

func (m *mockSourceRepo) Delete(_ context.Context, id uint) error {
	if _, ok := m.sources[id]; !ok {
		return gorm.ErrRecordNotFound
	}
	delete(m.sources, id)
	return nil
}

func (m *mockSourceRepo) List(_ context.Context, groupID *uint) ([]model.NotificationSource, error) {
	var result []model.NotificationSource
	for _, s := range m.sources {
		if groupID != nil && (s.GroupID == nil || *s.GroupID != *groupID) {
			continue
		}
		result = append(result, *s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *mockSourceRepo) ListValues(ctx context.Context) ([]string, error) {
	list, _ := m.List(ctx, nil)
	values := make([]string, 0, len(list))
	for _, s := range list {
		values = append(values, s.Value)
	}
	return values, nil
}

func (m *mockSourceRepo) CreateGroup(_ context.Context, group *model.NotificationSourceGroup) error {
	group.ID = uint(len(m.groups) + 1)
	m.groups = append(m.groups, *group)
	return nil
}

func (m *mockSourceRepo) ListGroups(_ context.Context) ([]model.NotificationSourceGroup, error) {
	return m.groups, nil
}

// ── Mock NotificationTypeRepository ──

type mockTypeRepo struct {
	types map[uint]*model.NotificationType
}

func newMockTypeRepo() *mockTypeRepo {
	return &mockTypeRepo{types: make(map[uint]*model.NotificationType)}
}

func (m *mockTypeRepo) add(value string) *model.NotificationType {
	t := &model.NotificationType{ID: uint(len(m.types) + 1), Value: value, Name: value}
	m.types[t.ID] = t
	return t
}

func (m *mockTypeRepo) Create(_ context.Context, t *model.NotificationType) error {
	t.ID = uint(len(m.types) + 1)
	m.types[t.ID] = t
	return nil
}

func (m *mockTypeRepo) GetByValue(_ context.Context, value string) (*model.NotificationType, error) {
	for _, t := range m.types {
		if t.Value == value {
			return t, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockTypeRepo) List(_ context.Context) ([]model.NotificationType, error) {
	var result []model.NotificationType
	for _, t := range m.types {
		result = append(result, *t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// ── Mock NotificationTemplateRepository ──

type mockTemplateRepo struct {
	templates map[[2]uint]*model.NotificationTemplate
}

func newMockTemplateRepo() *mockTemplateRepo {
	return &mockTemplateRepo{templates: make(map[[2]uint]*model.NotificationTemplate)}
}

func (m *mockTemplateRepo) add(sourceID, typeID uint, body string) {
	m.templates[[2]uint{sourceID, typeID}] = &model.NotificationTemplate{SourceID: sourceID, TypeID: typeID, Body: body}
}

func (m *mockTemplateRepo) Create(_ context.Context, tpl *model.NotificationTemplate) error {
	key := [2]uint{tpl.SourceID, tpl.TypeID}
	if _, ok := m.templates[key]; ok {
		return gorm.ErrDuplicatedKey
	}
	tpl.ID = uint(len(m.templates) + 1)
	m.templates[key] = tpl
	return nil
}

func (m *mockTemplateRepo) Get(_ context.Context, sourceID, typeID uint) (*model.NotificationTemplate, error) {
	if t, ok := m.templates[[2]uint{sourceID, typeID}]; ok {
		return t, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockTemplateRepo) List(_ context.Context, sourceID *uint) ([]model.NotificationTemplate, error) {
	var result []model.NotificationTemplate
	for _, t := range m.templates {
		if sourceID == nil || t.SourceID == *sourceID {
			result = append(result, *t)
		}
	}
	return result, nil
}

// ── Mock NotificationOptionRepository ──

type mockOptionRepo struct {
	options map[[2]uint]*model.NotificationOption // (source, owner)
	delays  map[[2]uint]*model.NotificationDelay
	types   *mockTypeRepo
	sources *mockSourceRepo
	nextID  uint
	failFor map[uint]error // 按 owner 注入失败
}

func newMockOptionRepo(types *mockTypeRepo) *mockOptionRepo {
	return &mockOptionRepo{
		options: make(map[[2]uint]*model.NotificationOption),
		delays:  make(map[[2]uint]*model.NotificationDelay),
		types:   types,
		nextID:  1,
		failFor: make(map[uint]error),
	}
}

func (m *mockOptionRepo) set(sourceID, ownerID uint, types ...*model.NotificationType) {
	opt := &model.NotificationOption{ID: m.nextID, SourceID: sourceID, OwnerID: ownerID}
	m.nextID++
	for _, t := range types {
		opt.Types = append(opt.Types, *t)
	}
	m.options[[2]uint{sourceID, ownerID}] = opt
}

func (m *mockOptionRepo) setDelay(sourceID, ownerID uint, interval int) {
	m.delays[[2]uint{sourceID, ownerID}] = &model.NotificationDelay{ID: m.nextID, SourceID: sourceID, OwnerID: ownerID, Interval: interval}
	m.nextID++
}

func (m *mockOptionRepo) Get(_ context.Context, sourceID, ownerID uint) (*model.NotificationOption, error) {
	if o, ok := m.options[[2]uint{sourceID, ownerID}]; ok {
		cp := *o
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockOptionRepo) ListForSource(_ context.Context, sourceID uint, ownerIDs []uint) ([]model.NotificationOption, error) {
	var result []model.NotificationOption
	for _, owner := range ownerIDs {
		if o, ok := m.options[[2]uint{sourceID, owner}]; ok {
			result = append(result, *o)
		}
	}
	return result, nil
}

func (m *mockOptionRepo) List(_ context.Context, ownerID, groupID *uint) ([]model.NotificationOption, error) {
	var result []model.NotificationOption
	for _, o := range m.options {
		if ownerID != nil && o.OwnerID != *ownerID {
			continue
		}
		if groupID != nil {
			src, ok := m.sources.sources[o.SourceID]
			if !ok || src.GroupID == nil || *src.GroupID != *groupID {
				continue
			}
		}
		result = append(result, *o)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *mockOptionRepo) Create(_ context.Context, opt *model.NotificationOption) error {
	key := [2]uint{opt.SourceID, opt.OwnerID}
	if _, ok := m.options[key]; ok {
		return gorm.ErrDuplicatedKey
	}
	opt.ID = m.nextID
	m.nextID++
	for i, t := range opt.Types {
		if full, ok := m.types.types[t.ID]; ok {
			opt.Types[i] = *full
		}
	}
	m.options[key] = opt
	return nil
}

func (m *mockOptionRepo) GetByID(_ context.Context, id uint) (*model.NotificationOption, error) {
	for _, o := range m.options {
		if o.ID == id {
			cp := *o
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockOptionRepo) ReplaceTypes(_ context.Context, optionID uint, typeIDs []uint) error {
	for _, o := range m.options {
		if o.ID != optionID {
			continue
		}
		types := make([]model.NotificationType, 0, len(typeIDs))
		for _, tid := range typeIDs {
			t, ok := m.types.types[tid]
			if !ok {
				return gorm.ErrForeignKeyViolated
			}
			types = append(types, *t)
		}
		o.Types = types
		return nil
	}
	return gorm.ErrRecordNotFound
}

func (m *mockOptionRepo) GetOrCreate(ctx context.Context, sourceID, ownerID uint) (*model.NotificationOption, error) {
	if err, ok := m.failFor[ownerID]; ok {
		return nil, err
	}
	key := [2]uint{sourceID, ownerID}
	if _, ok := m.options[key]; !ok {
		m.options[key] = &model.NotificationOption{ID: m.nextID, SourceID: sourceID, OwnerID: ownerID}
		m.nextID++
	}
	return m.Get(ctx, sourceID, ownerID)
}

func (m *mockOptionRepo) AddType(_ context.Context, optionID, typeID uint) (bool, error) {
	for _, o := range m.options {
		if o.ID != optionID {
			continue
		}
		for _, t := range o.Types {
			if t.ID == typeID {
				return false, nil
			}
		}
		t, ok := m.types.types[typeID]
		if !ok {
			return false, gorm.ErrForeignKeyViolated
		}
		o.Types = append(o.Types, *t)
		return true, nil
	}
	return false, gorm.ErrRecordNotFound
}

func (m *mockOptionRepo) GetDelay(_ context.Context, sourceID, ownerID uint) (*model.NotificationDelay, error) {
	if d, ok := m.delays[[2]uint{sourceID, ownerID}]; ok {
		return d, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockOptionRepo) ListDelays(_ context.Context, ownerID *uint) ([]model.NotificationDelay, error) {
	var result []model.NotificationDelay
	for _, d := range m.delays {
		if ownerID == nil || d.OwnerID == *ownerID {
			result = append(result, *d)
		}
	}
	return result, nil
}

func (m *mockOptionRepo) GetDelayByID(_ context.Context, id uint) (*model.NotificationDelay, error) {
	for _, d := range m.delays {
		if d.ID == id {
			cp := *d
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockOptionRepo) CreateDelay(_ context.Context, delay *model.NotificationDelay) error {
	key := [2]uint{delay.SourceID, delay.OwnerID}
	if _, ok := m.delays[key]; ok {
		return gorm.ErrDuplicatedKey
	}
	delay.ID = m.nextID
	m.nextID++
	m.delays[key] = delay
	return nil
}

func (m *mockOptionRepo) UpdateDelay(_ context.Context, id uint, interval int) error {
	for _, d := range m.delays {
		if d.ID == id {
			d.Interval = interval
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

// ── Mock NotificationTaskRepository ──

type mockTaskRepo struct {
	tasks  map[uint]*model.NotificationTask
	nextID uint
}

func newMockTaskRepo() *mockTaskRepo {
	return &mockTaskRepo{tasks: make(map[uint]*model.NotificationTask), nextID: 1}
}

func (m *mockTaskRepo) CreateIfAbsent(_ context.Context, task *model.NotificationTask) (bool, error) {
	for _, t := range m.tasks {
		if t.Created.Equal(task.Created) && t.SourceID == task.SourceID && t.TypeID == task.TypeID &&
			t.TargetUserID != nil && task.TargetUserID != nil && *t.TargetUserID == *task.TargetUserID {
			return false, nil
		}
	}
	task.ID = m.nextID
	m.nextID++
	m.tasks[task.ID] = task
	return true, nil
}

func (m *mockTaskRepo) ListDue(_ context.Context, now time.Time, limit int) ([]model.NotificationTask, error) {
	var result []model.NotificationTask
	for _, t := range m.tasks {
		if t.Sent != nil || t.Reason != nil {
			continue
		}
		if t.ClaimedUntil != nil && t.ClaimedUntil.After(now) {
			continue
		}
		if t.SendAfter != nil && t.SendAfter.After(now) {
			continue
		}
		result = append(result, *t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *mockTaskRepo) Claim(_ context.Context, id uint, now time.Time, lease time.Duration) error {
	t, ok := m.tasks[id]
	if !ok || t.Sent != nil || t.Reason != nil {
		return pkgerrors.ErrOptimisticLock
	}
	if t.ClaimedUntil != nil && t.ClaimedUntil.After(now) {
		return pkgerrors.ErrOptimisticLock
	}
	until := now.Add(lease)
	t.ClaimedUntil = &until
	return nil
}

func (m *mockTaskRepo) MarkSent(_ context.Context, id uint, sentAt time.Time, response string) error {
	t, ok := m.tasks[id]
	if !ok || t.Sent != nil {
		return pkgerrors.ErrOptimisticLock
	}
	t.Sent = &sentAt
	t.Response = &response
	return nil
}

func (m *mockTaskRepo) MarkFailed(_ context.Context, id uint, reason string) error {
	if t, ok := m.tasks[id]; ok {
		t.Reason = &reason
	}
	return nil
}

// ── Mock BulkEmailRepository ──

type mockBulkRepo struct {
	lists []model.NotificationBulkEmail
}

func (m *mockBulkRepo) Create(_ context.Context, bulk *model.NotificationBulkEmail) error {
	bulk.ID = uint(len(m.lists) + 1)
	m.lists = append(m.lists, *bulk)
	return nil
}

func (m *mockBulkRepo) List(_ context.Context) ([]model.NotificationBulkEmail, error) {
	return m.lists, nil
}

func (m *mockBulkRepo) ListBySource(_ context.Context, sourceID uint) ([]model.NotificationBulkEmail, error) {
	var result []model.NotificationBulkEmail
	for i := range m.lists {
		if m.lists[i].References(sourceID) {
			result = append(result, m.lists[i])
		}
	}
	return result, nil
}

// ── Mock DeviceRepository / HistoryRepository ──

type mockDeviceRepo struct {
	devices map[uint]*model.Device
}

func newMockDeviceRepo() *mockDeviceRepo {
	return &mockDeviceRepo{devices: make(map[uint]*model.Device)}
}

func (m *mockDeviceRepo) Create(_ context.Context, device *model.Device) error {
	device.ID = uint(len(m.devices) + 1)
	m.devices[device.ID] = device
	return nil
}

func (m *mockDeviceRepo) GetByID(_ context.Context, id uint) (*model.Device, error) {
	if d, ok := m.devices[id]; ok {
		cp := *d
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockDeviceRepo) List(_ context.Context, _ *repository.DeviceListFilters, _, _ int) ([]model.Device, int64, error) {
	var result []model.Device
	for _, d := range m.devices {
		result = append(result, *d)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, int64(len(result)), nil
}

func (m *mockDeviceRepo) UpdateColumns(_ context.Context, id uint, columns map[string]interface{}) error {
	d, ok := m.devices[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	for col, v := range columns {
		switch col {
		case "name":
			d.Name = v.(string)
		case "tz":
			d.TZ = v.(string)
		case "status":
			d.Status = v.(int)
		}
	}
	return nil
}

func (m *mockDeviceRepo) ReplaceTags(_ context.Context, id uint, tagIDs []uint) error {
	d, ok := m.devices[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	d.Tags = nil
	for _, tid := range tagIDs {
		d.Tags = append(d.Tags, model.Tag{ID: tid})
	}
	return nil
}

type mockHistoryRepo struct {
	rows   []*model.History
	owners map[uint]bool
}

func newMockHistoryRepo() *mockHistoryRepo {
	return &mockHistoryRepo{owners: make(map[uint]bool)}
}

func (m *mockHistoryRepo) GetOpen(_ context.Context, deviceID uint) (*model.History, error) {
	for _, h := range m.rows {
		if h.DeviceID == deviceID && h.Closed == nil {
			return h, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockHistoryRepo) Create(_ context.Context, h *model.History) error {
	h.ID = uint(len(m.rows) + 1)
	m.rows = append(m.rows, h)
	return nil
}

func (m *mockHistoryRepo) Close(_ context.Context, id uint, at time.Time) error {
	for _, h := range m.rows {
		if h.ID == id && h.Closed == nil {
			h.Closed = &at
		}
	}
	return nil
}

func (m *mockHistoryRepo) ListByDevice(_ context.Context, deviceID uint) ([]model.History, error) {
	var result []model.History
	for _, h := range m.rows {
		if h.DeviceID == deviceID {
			result = append(result, *h)
		}
	}
	return result, nil
}

func (m *mockHistoryRepo) OwnerExists(_ context.Context, ownerID uint) (bool, error) {
	return m.owners[ownerID], nil
}

// ── Mock 发送方 ──

type sentMessage struct {
	Channel string
	To      string
	UserID  uint
	Subject string
	Body    string
}

type mockMailer struct {
	mu     sync.Mutex
	sent   []sentMessage
	failTo map[string]error
}

func newMockMailer() *mockMailer {
	return &mockMailer{failTo: make(map[string]error)}
}

func (m *mockMailer) Send(_ context.Context, subject, _ string, to, htmlBody string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failTo[to]; ok {
		return err
	}
	m.sent = append(m.sent, sentMessage{Channel: model.ChannelEmail, To: to, Subject: subject, Body: htmlBody})
	return nil
}

func (m *mockMailer) to(addr string) []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []sentMessage
	for _, s := range m.sent {
		if s.To == addr {
			result = append(result, s)
		}
	}
	return result
}

type mockPusher struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (m *mockPusher) Push(_ context.Context, userID uint, title, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMessage{Channel: model.ChannelPush, UserID: userID, Subject: title, Body: body})
	return nil
}
