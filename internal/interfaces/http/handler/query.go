package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"shayak-swasth-rag/internal/application/query"
	"shayak-swasth-rag/internal/interfaces/http/dto"
	"shayak-swasth-rag/internal/interfaces/http/middleware"
	"shayak-swasth-rag/pkg/logger"
)

// Asker 查询编排
type Asker interface {
	Ask(ctx context.Context, req query.Request) (*query.Response, error)
}

// QueryHandler 查询处理器
type QueryHandler struct {
	service Asker
}

// NewQueryHandler 创建查询处理器
func NewQueryHandler(service Asker) *QueryHandler {
	return &QueryHandler{service: service}
}

// Query 检索文档并可选生成带引用的答案
// @Summary 文档问答
// @Description 只在当前主体可访问的文档中检索；无权访问的文档静默排除
// @Tags Query
// @Accept json
// @Produce json
// @Param body body dto.QueryRequest true "查询请求"
// @Success 200 {object} dto.Response[dto.QueryResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/query [post]
func (h *QueryHandler) Query(c *gin.Context) {
	ctx := c.Request.Context()
	principal, _ := middleware.GetPrincipal(c)

	var req dto.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	resp, err := h.service.Ask(ctx, req.ToQuery(principal))
	if err != nil {
		logger.Warn(ctx, "query failed", "error", err.Error())
		dto.AppError(c, err)
		return
	}
	dto.Success(c, dto.ToQueryResponse(resp))
}
