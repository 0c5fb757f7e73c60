package handler

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"shayak-swasth-rag/internal/application/ingestion"
	"shayak-swasth-rag/internal/application/vectorindex"
	"shayak-swasth-rag/internal/domain/entity"
	"shayak-swasth-rag/internal/domain/repository"
	"shayak-swasth-rag/internal/interfaces/http/dto"
	"shayak-swasth-rag/internal/interfaces/http/middleware"
	apperrors "shayak-swasth-rag/pkg/errors"
	"shayak-swasth-rag/pkg/logger"
)

// Ingestor 摄取入口
type Ingestor interface {
	Submit(ctx context.Context, req *entity.IngestRequest) (*entity.Document, error)
	Ingest(ctx context.Context, req *entity.IngestRequest) (*ingestion.Result, error)
}

// ReadChecker 单文档读权限
type ReadChecker interface {
	CanRead(ctx context.Context, principal entity.Principal, documentID string) (bool, error)
}

// VersionLister 列出已持久化的索引版本
type VersionLister interface {
	Versions(ctx context.Context, documentID string) ([]vectorindex.VersionInfo, error)
}

// DocumentHandler 文档处理器
type DocumentHandler struct {
	docs     repository.DocumentRepository
	ingestor Ingestor
	access   ReadChecker
	versions VersionLister
	// inline 为 true 时没有摄取队列，提交即同步处理
	inline bool
}

// NewDocumentHandler 创建文档处理器
func NewDocumentHandler(docs repository.DocumentRepository, ingestor Ingestor, access ReadChecker, versions VersionLister, inline bool) *DocumentHandler {
	return &DocumentHandler{
		docs:     docs,
		ingestor: ingestor,
		access:   access,
		versions: versions,
		inline:   inline,
	}
}

// SubmitDocument 提交文档摄取
// @Summary 提交文档摄取
// @Description 接收抽取后的文本，排队分块与建索引；文档处理中时返回 409
// @Tags Documents
// @Accept json
// @Produce json
// @Param body body dto.SubmitDocumentRequest true "摄取请求"
// @Success 202 {object} dto.Response[dto.DocumentResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Failure 403 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse
// @Router /v1/documents [post]
func (h *DocumentHandler) SubmitDocument(c *gin.Context) {
	ctx := c.Request.Context()
	principal, _ := middleware.GetPrincipal(c)

	var req dto.SubmitDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	documentID := strings.TrimSpace(req.DocumentID)
	if documentID == "" {
		documentID = uuid.NewString()
	}
	ownerID := principal.ID
	if req.OwnerID != "" && principal.HasSystemScope() {
		ownerID = req.OwnerID
	}

	existing, err := h.docs.GetByID(ctx, documentID)
	if err != nil {
		logger.Error(ctx, "failed to get document", err, "document_id", documentID)
		dto.AppError(c, err)
		return
	}
	if existing != nil && !principal.CanManage(existing) {
		dto.Forbidden(c, "not allowed to reprocess this document")
		return
	}

	ingestReq := req.ToIngestRequest(documentID, ownerID)

	if h.inline {
		if _, err := h.ingestor.Ingest(ctx, ingestReq); err != nil {
			dto.AppError(c, err)
			return
		}
		doc, err := h.docs.GetByID(ctx, documentID)
		if err != nil {
			dto.AppError(c, err)
			return
		}
		dto.Created(c, dto.ToDocumentResponse(doc))
		return
	}

	doc, err := h.ingestor.Submit(ctx, ingestReq)
	if err != nil {
		dto.AppError(c, err)
		return
	}
	dto.Accepted(c, dto.ToDocumentResponse(doc))
}

// GetDocument 获取文档处理状态
// @Summary 获取文档处理状态
// @Tags Documents
// @Produce json
// @Param id path string true "文档 ID"
// @Success 200 {object} dto.Response[dto.DocumentResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/documents/{id} [get]
func (h *DocumentHandler) GetDocument(c *gin.Context) {
	doc, ok := h.readableDocument(c)
	if !ok {
		return
	}
	dto.Success(c, dto.ToDocumentResponse(doc))
}

// ListDocuments 列出当前主体拥有的文档
// @Summary 列出文档
// @Tags Documents
// @Produce json
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页条数" default(20)
// @Param status query string false "状态过滤"
// @Success 200 {object} dto.Response[dto.DocumentListResponse]
// @Router /v1/documents [get]
func (h *DocumentHandler) ListDocuments(c *gin.Context) {
	ctx := c.Request.Context()
	principal, _ := middleware.GetPrincipal(c)
	pageReq := dto.BindPage(c)

	filter := &repository.DocumentFilter{OwnerID: principal.ID}
	if principal.HasSystemScope() {
		filter.OwnerID = c.Query("owner_id")
	}
	if status := c.Query("status"); status != "" {
		filter.Status = entity.DocumentStatus(status)
	}

	result, err := h.docs.List(ctx, filter, repository.NewPagination(pageReq.Page, pageReq.PageSize))
	if err != nil {
		logger.Error(ctx, "failed to list documents", err)
		dto.InternalError(c, "failed to list documents")
		return
	}

	dto.SuccessWithPage(c, dto.ToDocumentListResponse(result.Items), result)
}

// ListVersions 列出文档已持久化的索引版本
// @Summary 列出索引版本
// @Tags Documents
// @Produce json
// @Param id path string true "文档 ID"
// @Success 200 {object} dto.Response[dto.IndexVersionsResponse]
// @Router /v1/documents/{id}/versions [get]
func (h *DocumentHandler) ListVersions(c *gin.Context) {
	doc, ok := h.readableDocument(c)
	if !ok {
		return
	}

	infos, err := h.versions.Versions(c.Request.Context(), doc.ID)
	if err != nil {
		dto.AppError(c, err)
		return
	}
	resp := &dto.IndexVersionsResponse{
		DocumentID:     doc.ID,
		ServingVersion: doc.Version,
		Versions:       make([]dto.IndexVersionDetail, 0, len(infos)),
	}
	for _, v := range infos {
		resp.Versions = append(resp.Versions, dto.IndexVersionDetail{
			Version:   v.Version,
			CreatedAt: v.CreatedAt,
			SizeBytes: v.Size,
		})
	}
	dto.Success(c, resp)
}

// readableDocument 文档不存在与无权访问都返回 404
func (h *DocumentHandler) readableDocument(c *gin.Context) (*entity.Document, bool) {
	ctx := c.Request.Context()
	principal, _ := middleware.GetPrincipal(c)
	documentID := dto.BindDocumentID(c)

	allowed, err := h.access.CanRead(ctx, principal, documentID)
	if err != nil {
		logger.Error(ctx, "failed to check document access", err, "document_id", documentID)
		dto.AppError(c, err)
		return nil, false
	}
	if !allowed {
		dto.AppError(c, apperrors.ErrDocumentNotFound.WithDetail(documentID))
		return nil, false
	}

	doc, err := h.docs.GetByID(ctx, documentID)
	if err != nil {
		dto.AppError(c, err)
		return nil, false
	}
	if doc == nil {
		dto.AppError(c, apperrors.ErrDocumentNotFound.WithDetail(documentID))
		return nil, false
	}
	return doc, true
}
