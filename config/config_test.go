package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultsAndFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
auth:
  jwt_secret: "unit-test-secret-0123456789"
notify:
  operator_mails: ["ops@example.com"]
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("写入配置文件失败: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load 应成功: %v", err)
	}
	if cfg.Notify.SuperadminRole != "superadmin" {
		t.Errorf("期望默认 superadmin_role=superadmin，实际=%s", cfg.Notify.SuperadminRole)
	}
	if cfg.Notify.PlaceholderEmail != "email@email.ru" {
		t.Errorf("期望默认占位邮箱，实际=%s", cfg.Notify.PlaceholderEmail)
	}
	if cfg.Notify.SourcesCacheTTL != time.Hour {
		t.Errorf("期望 sources_cache_ttl=1h，实际=%s", cfg.Notify.SourcesCacheTTL)
	}
	if len(cfg.Notify.OperatorMails) != 1 || cfg.Notify.OperatorMails[0] != "ops@example.com" {
		t.Errorf("operator_mails 解析错误: %v", cfg.Notify.OperatorMails)
	}
	if cfg.Scheduler.Spec != "@every 30s" {
		t.Errorf("期望默认调度表达式，实际=%s", cfg.Scheduler.Spec)
	}
}

func TestValidate_ShortSecret(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{Port: 8000},
		Auth:   AuthConfig{JWTSecret: "short"},
		Notify: NotifyConfig{SuperadminRole: "superadmin"},
	}
	if err := cfg.Validate(); err == nil {
		t.Error("过短的 jwt_secret 应校验失败")
	}
}
