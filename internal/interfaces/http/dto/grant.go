package dto

import (
	"time"

	"shayak-swasth-rag/internal/domain/entity"
)

// GrantRequest 分享文档给其他主体
type GrantRequest struct {
	PrincipalID string `json:"principal_id" binding:"required,max=64"`
	Permission  string `json:"permission,omitempty"`
}

// GrantResponse 授权记录
type GrantResponse struct {
	PrincipalID string     `json:"principal_id"`
	DocumentID  string     `json:"document_id"`
	Permission  string     `json:"permission"`
	Active      bool       `json:"active"`
	GrantedBy   string     `json:"granted_by,omitempty"`
	GrantedAt   time.Time  `json:"granted_at"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
}

// ToGrantResponse 实体转响应
func ToGrantResponse(g *entity.AccessGrant) *GrantResponse {
	return &GrantResponse{
		PrincipalID: g.PrincipalID,
		DocumentID:  g.DocumentID,
		Permission:  string(g.Permission),
		Active:      g.Active,
		GrantedBy:   g.GrantedBy,
		GrantedAt:   g.GrantedAt,
		RevokedAt:   g.RevokedAt,
	}
}

// GrantListResponse 文档上的授权列表
type GrantListResponse struct {
	Grants []*GrantResponse `json:"grants"`
}
