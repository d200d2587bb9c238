package service

import (
	"context"
	"fmt"
	"time"
)

// Cache 带 TTL 的键值缓存端口，由 pkg/redis.Client 实现
type Cache interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// TokenBlacklist 已注销 Token 的黑名单端口
type TokenBlacklist interface {
	BlacklistToken(ctx context.Context, jti string, ttl time.Duration) error
	IsBlacklisted(ctx context.Context, jti string) (bool, error)
}

// ── 缓存键 ──

const (
	cacheKeySources        = "sources"
	cachePrefixUsers       = "users:"
	cachePrefixPermissions = "permissions:"
)

func usersCacheKey(userID uint, offset, limit int, keyword string) string {
	return fmt.Sprintf("%s%d:%d:%d:%s", cachePrefixUsers, userID, offset, limit, keyword)
}

func permissionsCacheKey(roleID uint, modelName string) string {
	return fmt.Sprintf("%s%d:%s", cachePrefixPermissions, roleID, modelName)
}

// ── 空实现：Redis 不可用时注入，读取全部未命中，写入直接丢弃 ──

type nopCache struct{}

// NewNopCache 创建空缓存
func NewNopCache() Cache { return nopCache{} }

func (nopCache) GetJSON(context.Context, string, any) (bool, error)          { return false, nil }
func (nopCache) SetJSON(context.Context, string, any, time.Duration) error   { return nil }
func (nopCache) Delete(context.Context, ...string) error                     { return nil }
func (nopCache) DeletePrefix(context.Context, string) error                  { return nil }
func (nopCache) BlacklistToken(context.Context, string, time.Duration) error { return nil }
func (nopCache) IsBlacklisted(context.Context, string) (bool, error)         { return false, nil }

// NewNopBlacklist 创建空黑名单，注销后 Token 在过期前仍然有效
func NewNopBlacklist() TokenBlacklist { return nopCache{} }
