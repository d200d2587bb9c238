package service

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/usermicrodevices/mas/internal/model"
	"github.com/usermicrodevices/mas/internal/repository"
	"github.com/usermicrodevices/mas/pkg/redis"
)

// ── 测试辅助 ──

// testEnv 手工组装的仓储聚合，各 mock 可直接构造数据
type testEnv struct {
	roles      *mockRoleRepo
	roleModels *mockRoleModelRepo
	roleFields *mockRoleFieldRepo
	users      *mockUserRepo
	perms      *mockPermissionRepo
	sources    *mockSourceRepo
	types      *mockTypeRepo
	templates  *mockTemplateRepo
	options    *mockOptionRepo
	tasks      *mockTaskRepo
	bulk       *mockBulkRepo
	devices    *mockDeviceRepo
	histories  *mockHistoryRepo
	repo       *repository.Repository
}

func newTestEnv() *testEnv {
	env := &testEnv{
		roles:      newMockRoleRepo(),
		roleModels: newMockRoleModelRepo(),
		perms:      newMockPermissionRepo(),
		sources:    newMockSourceRepo(),
		types:      newMockTypeRepo(),
		templates:  newMockTemplateRepo(),
		tasks:      newMockTaskRepo(),
		bulk:       &mockBulkRepo{},
		devices:    newMockDeviceRepo(),
		histories:  newMockHistoryRepo(),
	}
	env.roleFields = newMockRoleFieldRepo(env.roleModels)
	env.users = newMockUserRepo(env.roles)
	env.options = newMockOptionRepo(env.types)
	env.options.sources = env.sources
	env.repo = &repository.Repository{
		Role:       env.roles,
		RoleModel:  env.roleModels,
		RoleField:  env.roleFields,
		User:       env.users,
		Permission: env.perms,
		Source:     env.sources,
		Type:       env.types,
		Template:   env.templates,
		Option:     env.options,
		Task:       env.tasks,
		BulkEmail:  env.bulk,
		Device:     env.devices,
		History:    env.histories,
	}
	return env
}

// newRedisCache 基于 miniredis 的真实缓存实现
func newRedisCache(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return redis.Wrap(rdb, zap.NewNop()), mr
}

func (env *testEnv) registry() RoleFieldRegistry {
	return NewRoleFieldRegistry(env.repo, model.TrackableModels(), "superadmin", NewNopCache(), zap.NewNop())
}

// principalOf 按 mock 中的用户构造主体
func (env *testEnv) principalOf(t *testing.T, userID uint) *Principal {
	t.Helper()
	u, ok := env.users.users[userID]
	if !ok {
		t.Fatalf("用户 %d 不存在", userID)
	}
	full := env.users.withRole(u)
	return PrincipalFromUser(full)
}

func uintPtr(v uint) *uint { return &v }

// storableCount 全部可追踪模型的可存储字段数
func storableCount() int {
	n := 0
	for _, tm := range model.TrackableModels() {
		for _, f := range tm.Fields {
			if f.Storable() {
				n++
			}
		}
	}
	return n
}
