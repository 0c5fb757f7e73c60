package middleware

import (
	"github.com/gin-gonic/gin"

	"shayak-swasth-rag/internal/domain/entity"
	"shayak-swasth-rag/pkg/logger"
)

const principalKey = "principal"

// SetPrincipal 写入 Gin Context，并把主体 ID 带入日志上下文
func SetPrincipal(c *gin.Context, p entity.Principal) {
	c.Set(principalKey, p)
	c.Set("principal_id", p.ID)
	c.Set("role", string(p.Role))

	ctx := logger.WithContext(c.Request.Context(), logger.PrincipalIDKey, p.ID)
	c.Request = c.Request.WithContext(ctx)
}

// GetPrincipal 从 Gin Context 中获取已认证主体
func GetPrincipal(c *gin.Context) (entity.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return entity.Principal{}, false
	}
	p, ok := v.(entity.Principal)
	return p, ok && p.ID != ""
}

// RequirePrincipal 未认证请求返回 401
func RequirePrincipal() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := GetPrincipal(c); !ok {
			abortUnauthorized(c, "missing principal")
			return
		}
		c.Next()
	}
}
