// Package middleware 提供 HTTP 中间件
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"shayak-swasth-rag/internal/domain/entity"
	"shayak-swasth-rag/pkg/utils"
)

const (
	// PrincipalIDHeader 关闭认证时由上游网关传入的主体 ID
	PrincipalIDHeader = "X-Principal-ID"
	// PrincipalRoleHeader 关闭认证时由上游网关传入的主体角色
	PrincipalRoleHeader = "X-Principal-Role"
)

// AuthConfig 认证配置
type AuthConfig struct {
	// Secret JWT 密钥
	Secret string
	// Issuer JWT 签发者
	Issuer string
	// SkipPaths 跳过认证的路径
	SkipPaths []string
	// Enabled 关闭时信任 X-Principal-* 请求头
	Enabled bool
}

// Auth 认证中间件，解析出的主体写入 Context
func Auth(cfg AuthConfig) gin.HandlerFunc {
	jwtManager := utils.NewJWTManager(cfg.Secret, cfg.Issuer)

	return func(c *gin.Context) {
		for _, path := range cfg.SkipPaths {
			if strings.HasPrefix(c.Request.URL.Path, path) {
				c.Next()
				return
			}
		}

		if !cfg.Enabled {
			principalFromHeaders(c)
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthorized(c, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			abortUnauthorized(c, "invalid authorization format")
			return
		}

		claims, err := jwtManager.ParseToken(parts[1])
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, utils.ErrExpiredToken) {
				msg = "token expired"
			}
			abortUnauthorized(c, msg)
			return
		}

		if claims.Type != utils.TokenTypeAccess {
			abortUnauthorized(c, "invalid token type")
			return
		}

		role, ok := entity.ParseRole(claims.Role)
		if !ok || claims.PrincipalID() == "" {
			abortUnauthorized(c, "invalid principal")
			return
		}

		SetPrincipal(c, entity.Principal{ID: claims.PrincipalID(), Role: role})
		c.Next()
	}
}

func principalFromHeaders(c *gin.Context) {
	id := strings.TrimSpace(c.GetHeader(PrincipalIDHeader))
	role, ok := entity.ParseRole(c.GetHeader(PrincipalRoleHeader))
	if id == "" || !ok {
		return
	}
	SetPrincipal(c, entity.Principal{ID: id, Role: role})
}

// abortUnauthorized 终止请求并返回 401
func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"code":     401,
		"message":  msg,
		"trace_id": c.GetString("trace_id"),
	})
}

// DefaultSkipPaths 默认跳过认证的路径
var DefaultSkipPaths = []string{
	"/health",
	"/ready",
	"/live",
	"/metrics",
}
