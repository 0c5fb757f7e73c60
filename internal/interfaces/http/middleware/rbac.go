package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"shayak-swasth-rag/internal/domain/entity"
)

// RequireRole 角色检查中间件
// 检查当前主体是否为指定角色之一，否则返回 403
func RequireRole(roles ...entity.Role) gin.HandlerFunc {
	roleSet := make(map[entity.Role]bool, len(roles))
	for _, r := range roles {
		roleSet[r] = true
	}

	return func(c *gin.Context) {
		p, ok := GetPrincipal(c)
		if !ok {
			abortUnauthorized(c, "missing principal")
			return
		}
		if !roleSet[p.Role] {
			abortForbidden(c, "role not allowed")
			return
		}
		c.Next()
	}
}

// RequireSystemScope 仅管理员与院方管理者
func RequireSystemScope() gin.HandlerFunc {
	return RequireRole(entity.RoleAdmin, entity.RoleManager)
}

// abortForbidden 终止请求并返回 403
func abortForbidden(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
		"code":     403,
		"message":  msg,
		"trace_id": c.GetString("trace_id"),
	})
}
