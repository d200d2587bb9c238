//go:build integration

package repository_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/usermicrodevices/mas/internal/model"
	"github.com/usermicrodevices/mas/internal/repository"
	pkgerrors "github.com/usermicrodevices/mas/pkg/errors"
)

// ═══════════════════════════════════════════════════════════
// Test Setup
// ═══════════════════════════════════════════════════════════

var testDB *gorm.DB

func TestMain(m *testing.M) {
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		dsn = "host=localhost port=5433 user=mas password=mas_password dbname=mas_test sslmode=disable TimeZone=UTC"
	}

	var err error
	testDB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "无法连接测试数据库: %v\n", err)
		os.Exit(1)
	}

	// 自动迁移测试表结构
	err = testDB.AutoMigrate(
		&model.Group{},
		&model.Permission{},
		&model.Role{},
		&model.RoleModel{},
		&model.RoleField{},
		&model.User{},
		&model.NotificationSourceGroup{},
		&model.NotificationSource{},
		&model.NotificationType{},
		&model.NotificationTemplate{},
		&model.NotificationOption{},
		&model.NotificationDelay{},
		&model.NotificationTask{},
		&model.NotificationBulkEmail{},
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "AutoMigrate 失败: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()
	os.Exit(code)
}

func uniq(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

// ═══════════════════════════════════════════════════════════
// Test: RoleField 并发创建
// ═══════════════════════════════════════════════════════════

func TestRoleField_CreateIfAbsent_Race(t *testing.T) {
	repo := repository.NewRepository(testDB)
	ctx := context.Background()

	role := &model.Role{Value: uniq("r"), Weight: 3}
	if err := repo.Role.Create(ctx, role); err != nil {
		t.Fatalf("创建角色失败: %v", err)
	}
	defer testDB.Delete(&model.Role{}, role.ID)

	rm, created, err := repo.RoleModel.Ensure(ctx, uniq("Model"), "")
	if err != nil || !created {
		t.Fatalf("创建 RoleModel 失败: created=%v err=%v", created, err)
	}
	defer testDB.Delete(&model.RoleModel{}, rm.ID)

	results := make(chan bool, 8)
	for i := 0; i < 8; i++ {
		go func() {
			ok, err := repo.RoleField.CreateIfAbsent(ctx, &model.RoleField{Value: "name", RoleID: role.ID, RoleModelID: rm.ID})
			if err != nil {
				t.Errorf("并发创建不应报错: %v", err)
			}
			results <- ok
		}()
	}

	createdCount := 0
	for i := 0; i < 8; i++ {
		if <-results {
			createdCount++
		}
	}
	if createdCount != 1 {
		t.Errorf("期望恰好创建 1 次，实际=%d", createdCount)
	}
}

// ═══════════════════════════════════════════════════════════
// Test: Transaction Rollback
// ═══════════════════════════════════════════════════════════

func TestTransaction_Rollback(t *testing.T) {
	repo := repository.NewRepository(testDB)
	ctx := context.Background()

	tx, err := repo.BeginTx(ctx)
	if err != nil {
		t.Fatalf("BeginTx 失败: %v", err)
	}
	txRepo := repo.WithTx(tx)

	source := &model.NotificationSource{Value: uniq("src"), Name: "rollback"}
	if err := txRepo.Source.Create(ctx, source); err != nil {
		tx.Rollback()
		t.Fatalf("事务内创建来源失败: %v", err)
	}
	tx.Rollback()

	if _, err := repo.Source.GetByValue(ctx, source.Value); err == nil {
		testDB.Delete(&model.NotificationSource{}, source.ID)
		t.Fatal("期望回滚后查不到来源，但实际查到了")
	}
}

// ═══════════════════════════════════════════════════════════
// Test: BulkEmail jsonb 匹配与任务发送标记
// ═══════════════════════════════════════════════════════════

func TestBulkEmail_ListBySource(t *testing.T) {
	repo := repository.NewRepository(testDB)
	ctx := context.Background()

	bulk := &model.NotificationBulkEmail{
		Name:          uniq("ops"),
		Emails:        "a@example.com;b@example.com",
		Notifications: datatypes.JSON(`[{"sources":[424242, 7]}]`),
	}
	if err := repo.BulkEmail.Create(ctx, bulk); err != nil {
		t.Fatalf("创建群发列表失败: %v", err)
	}
	defer testDB.Delete(&model.NotificationBulkEmail{}, bulk.ID)

	list, err := repo.BulkEmail.ListBySource(ctx, 424242)
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	found := false
	for _, b := range list {
		if b.ID == bulk.ID {
			found = true
		}
	}
	if !found {
		t.Error("期望按来源 ID 匹配到群发列表")
	}

	list, _ = repo.BulkEmail.ListBySource(ctx, 424243)
	for _, b := range list {
		if b.ID == bulk.ID {
			t.Error("未引用的来源不应匹配")
		}
	}
}

func TestTask_MarkSentTwice(t *testing.T) {
	repo := repository.NewRepository(testDB)
	ctx := context.Background()

	source := &model.NotificationSource{Value: uniq("task"), Name: "task"}
	if err := repo.Source.Create(ctx, source); err != nil {
		t.Fatalf("创建来源失败: %v", err)
	}
	defer testDB.Delete(&model.NotificationSource{}, source.ID)

	typ := &model.NotificationType{Value: uniq("t"), Name: "t"}
	if err := repo.Type.Create(ctx, typ); err != nil {
		t.Fatalf("创建渠道失败: %v", err)
	}
	defer testDB.Delete(&model.NotificationType{}, typ.ID)

	past := time.Now().Add(-time.Minute)
	task := &model.NotificationTask{Created: time.Now(), SendAfter: &past, SourceID: source.ID, TypeID: typ.ID, Content: "x"}
	if _, err := repo.Task.CreateIfAbsent(ctx, task); err != nil {
		t.Fatalf("创建任务失败: %v", err)
	}
	defer testDB.Delete(&model.NotificationTask{}, task.ID)

	if err := repo.Task.MarkSent(ctx, task.ID, time.Now(), "ok"); err != nil {
		t.Fatalf("第一次标记应成功: %v", err)
	}
	if err := repo.Task.MarkSent(ctx, task.ID, time.Now(), "ok"); err != pkgerrors.ErrOptimisticLock {
		t.Errorf("期望 ErrOptimisticLock，得到: %v", err)
	}
}

func TestTask_ClaimOnce(t *testing.T) {
	repo := repository.NewRepository(testDB)
	ctx := context.Background()

	source := &model.NotificationSource{Value: uniq("claim"), Name: "claim"}
	if err := repo.Source.Create(ctx, source); err != nil {
		t.Fatalf("创建来源失败: %v", err)
	}
	defer testDB.Delete(&model.NotificationSource{}, source.ID)

	typ := &model.NotificationType{Value: uniq("t"), Name: "t"}
	if err := repo.Type.Create(ctx, typ); err != nil {
		t.Fatalf("创建渠道失败: %v", err)
	}
	defer testDB.Delete(&model.NotificationType{}, typ.ID)

	now := time.Now()
	past := now.Add(-time.Minute)
	task := &model.NotificationTask{Created: now, SendAfter: &past, SourceID: source.ID, TypeID: typ.ID, Content: "x"}
	if _, err := repo.Task.CreateIfAbsent(ctx, task); err != nil {
		t.Fatalf("创建任务失败: %v", err)
	}
	defer testDB.Delete(&model.NotificationTask{}, task.ID)

	if err := repo.Task.Claim(ctx, task.ID, now, time.Minute); err != nil {
		t.Fatalf("第一次占用应成功: %v", err)
	}
	if err := repo.Task.Claim(ctx, task.ID, now, time.Minute); err != pkgerrors.ErrOptimisticLock {
		t.Errorf("租约内再次占用期望 ErrOptimisticLock，得到: %v", err)
	}

	due, err := repo.Task.ListDue(ctx, now, 100)
	if err != nil {
		t.Fatalf("查询到期任务失败: %v", err)
	}
	for _, d := range due {
		if d.ID == task.ID {
			t.Error("租约内的任务不应出现在到期列表")
		}
	}

	// 租约到期后可再次占用
	if err := repo.Task.Claim(ctx, task.ID, now.Add(2*time.Minute), time.Minute); err != nil {
		t.Errorf("租约到期后应可再次占用: %v", err)
	}
}
