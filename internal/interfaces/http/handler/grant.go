package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"shayak-swasth-rag/internal/domain/entity"
	"shayak-swasth-rag/internal/domain/repository"
	"shayak-swasth-rag/internal/interfaces/http/dto"
	"shayak-swasth-rag/internal/interfaces/http/middleware"
	apperrors "shayak-swasth-rag/pkg/errors"
	"shayak-swasth-rag/pkg/logger"
)

// GrantHandler 文档分享处理器
type GrantHandler struct {
	docs   repository.DocumentRepository
	grants repository.GrantRepository
}

// NewGrantHandler 创建文档分享处理器
func NewGrantHandler(docs repository.DocumentRepository, grants repository.GrantRepository) *GrantHandler {
	return &GrantHandler{docs: docs, grants: grants}
}

// CreateGrant 分享文档
// @Summary 分享文档
// @Description 文档所有者或系统角色授予其他主体访问权限；已撤销的授权会被重新激活
// @Tags Grants
// @Accept json
// @Produce json
// @Param id path string true "文档 ID"
// @Param body body dto.GrantRequest true "授权请求"
// @Success 201 {object} dto.Response[dto.GrantResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/documents/{id}/grants [post]
func (h *GrantHandler) CreateGrant(c *gin.Context) {
	ctx := c.Request.Context()
	principal, _ := middleware.GetPrincipal(c)

	doc, ok := h.managedDocument(c)
	if !ok {
		return
	}

	var req dto.GrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}
	perm := entity.PermissionRead
	if req.Permission != "" {
		parsed, valid := entity.ParsePermission(req.Permission)
		if !valid {
			dto.BadRequest(c, "unknown permission: "+req.Permission)
			return
		}
		perm = parsed
	}

	grant := &entity.AccessGrant{
		PrincipalID: req.PrincipalID,
		DocumentID:  doc.ID,
		Permission:  perm,
		Active:      true,
		GrantedBy:   principal.ID,
		GrantedAt:   time.Now(),
	}
	if err := h.grants.Upsert(ctx, grant); err != nil {
		logger.Error(ctx, "failed to upsert grant", err, "document_id", doc.ID)
		dto.AppError(c, err)
		return
	}

	logger.Info(ctx, "document shared", "document_id", doc.ID, "grantee", req.PrincipalID, "permission", string(perm))
	dto.Created(c, dto.ToGrantResponse(grant))
}

// ListGrants 列出文档上的授权
// @Summary 列出授权
// @Tags Grants
// @Produce json
// @Param id path string true "文档 ID"
// @Success 200 {object} dto.Response[dto.GrantListResponse]
// @Router /v1/documents/{id}/grants [get]
func (h *GrantHandler) ListGrants(c *gin.Context) {
	doc, ok := h.managedDocument(c)
	if !ok {
		return
	}

	grants, err := h.grants.ListByDocument(c.Request.Context(), doc.ID)
	if err != nil {
		dto.AppError(c, err)
		return
	}
	resp := &dto.GrantListResponse{Grants: make([]*dto.GrantResponse, 0, len(grants))}
	for _, g := range grants {
		resp.Grants = append(resp.Grants, dto.ToGrantResponse(g))
	}
	dto.Success(c, resp)
}

// RevokeGrant 撤销授权
// @Summary 撤销授权
// @Tags Grants
// @Param id path string true "文档 ID"
// @Param principal path string true "被授权主体 ID"
// @Success 204
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/documents/{id}/grants/{principal} [delete]
func (h *GrantHandler) RevokeGrant(c *gin.Context) {
	ctx := c.Request.Context()

	doc, ok := h.managedDocument(c)
	if !ok {
		return
	}
	grantee := dto.BindPrincipalID(c)

	revoked, err := h.grants.Revoke(ctx, grantee, doc.ID)
	if err != nil {
		logger.Error(ctx, "failed to revoke grant", err, "document_id", doc.ID)
		dto.AppError(c, err)
		return
	}
	if !revoked {
		dto.NotFound(c, "grant not found")
		return
	}

	logger.Info(ctx, "document access revoked", "document_id", doc.ID, "grantee", grantee)
	dto.NoContent(c)
}

// managedDocument 只有所有者与系统角色可管理分享；其他主体一律 404
func (h *GrantHandler) managedDocument(c *gin.Context) (*entity.Document, bool) {
	ctx := c.Request.Context()
	principal, _ := middleware.GetPrincipal(c)
	documentID := dto.BindDocumentID(c)

	doc, err := h.docs.GetByID(ctx, documentID)
	if err != nil {
		dto.AppError(c, err)
		return nil, false
	}
	if doc == nil || !principal.CanManage(doc) {
		dto.AppError(c, apperrors.ErrDocumentNotFound.WithDetail(documentID))
		return nil, false
	}
	return doc, true
}
