package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"shayak-swasth-rag/internal/interfaces/http/dto"
	apperrors "shayak-swasth-rag/pkg/errors"
	"shayak-swasth-rag/pkg/logger"
	"shayak-swasth-rag/pkg/tracer"
)

// Recovery 捕获 handler panic，返回统一错误响应并把当前 span 标记为失败
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			ctx := c.Request.Context()
			err := fmt.Errorf("panic: %v", r)
			tracer.RecordError(trace.SpanFromContext(ctx), err)
			logger.Error(ctx, "panic recovered", err,
				"stack", string(debug.Stack()),
				"route", c.FullPath(),
				"method", c.Request.Method,
			)

			dto.Error(c, http.StatusInternalServerError, "internal server error", &dto.ErrorDetail{
				ErrorCode: string(apperrors.CodeInternalError),
			})
			c.Abort()
		}()

		c.Next()
	}
}
