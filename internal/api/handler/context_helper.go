package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/usermicrodevices/mas/internal/service"
	pkgerrors "github.com/usermicrodevices/mas/pkg/errors"
	"github.com/usermicrodevices/mas/pkg/jwt"
	"github.com/usermicrodevices/mas/pkg/response"
)

// 与 middleware.JWTAuth 约定的上下文键
const (
	ctxKeyPrincipal = "principal"
	ctxKeyClaims    = "claims"
)

// MustGetPrincipal 从 Gin 上下文中安全提取已认证主体。
// 调用方应在 ok=false 时直接 return。
func MustGetPrincipal(c *gin.Context) (*service.Principal, bool) {
	v, exists := c.Get(ctxKeyPrincipal)
	if !exists {
		response.Unauthorized(c, 10002, "未认证")
		return nil, false
	}
	p, ok := v.(*service.Principal)
	if !ok || p == nil {
		response.Unauthorized(c, 10002, "未认证")
		return nil, false
	}
	return p, true
}

// MustGetClaims 从 Gin 上下文中提取当前 Access Token 的声明
func MustGetClaims(c *gin.Context) (*jwt.Claims, bool) {
	v, exists := c.Get(ctxKeyClaims)
	if !exists {
		response.Unauthorized(c, 10002, "未认证")
		return nil, false
	}
	claims, ok := v.(*jwt.Claims)
	if !ok || claims == nil {
		response.Unauthorized(c, 10002, "未认证")
		return nil, false
	}
	return claims, true
}

// parseIDParam 解析路径中的正整数 ID，失败时写入 400
func parseIDParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		response.BadRequest(c, 10001, "ID 格式错误")
		return 0, false
	}
	return uint(id), true
}

// writeFieldDenied 字段级拒绝：403 并返回被拒绝的字段列表
func writeFieldDenied(c *gin.Context, err error) bool {
	var denied *pkgerrors.FieldDeniedError
	if errors.As(err, &denied) {
		response.ErrorWithData(c, http.StatusForbidden, 10006, "无权修改字段", gin.H{"model": denied.Model, "fields": denied.Fields})
		return true
	}
	return false
}
