package dto

import (
	"time"

	"shayak-swasth-rag/internal/domain/entity"
)

// SubmitDocumentRequest 提交摄取请求；文本由上游抽取服务给出
type SubmitDocumentRequest struct {
	DocumentID    string `json:"document_id,omitempty" binding:"omitempty,max=64"`
	OwnerID       string `json:"owner_id,omitempty" binding:"omitempty,max=64"`
	Filename      string `json:"filename,omitempty" binding:"omitempty,max=255"`
	ContentType   string `json:"content_type,omitempty"`
	MimeType      string `json:"mime_type,omitempty"`
	ExtractedText string `json:"extracted_text" binding:"required"`
	TextRef       string `json:"text_ref,omitempty" binding:"omitempty,max=512"`
}

// ResolveContentType 显式类别优先，否则按文件名与 MIME 归类
func (r *SubmitDocumentRequest) ResolveContentType() entity.ContentType {
	if r.ContentType != "" {
		return entity.ParseContentType(r.ContentType)
	}
	return entity.DetectContentType(r.Filename, r.MimeType)
}

// ToIngestRequest 转换为摄取请求
func (r *SubmitDocumentRequest) ToIngestRequest(documentID, ownerID string) *entity.IngestRequest {
	return &entity.IngestRequest{
		DocumentID:  documentID,
		OwnerID:     ownerID,
		Text:        r.ExtractedText,
		ContentType: r.ResolveContentType(),
		Filename:    r.Filename,
		TextRef:     r.TextRef,
	}
}

// DocumentResponse 文档状态
type DocumentResponse struct {
	ID             string     `json:"id"`
	OwnerID        string     `json:"owner_id"`
	Filename       string     `json:"filename,omitempty"`
	ContentType    string     `json:"content_type"`
	Status         string     `json:"status"`
	Version        int64      `json:"version"`
	ChunkCount     int        `json:"chunk_count"`
	Servable       bool       `json:"servable"`
	FailureKind    string     `json:"failure_kind,omitempty"`
	FailureMessage string     `json:"failure_message,omitempty"`
	ProcessedAt    *time.Time `json:"processed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ToDocumentResponse 实体转响应
func ToDocumentResponse(d *entity.Document) *DocumentResponse {
	if d == nil {
		return nil
	}
	return &DocumentResponse{
		ID:             d.ID,
		OwnerID:        d.OwnerID,
		Filename:       d.Filename,
		ContentType:    string(d.ContentType),
		Status:         string(d.Status),
		Version:        d.Version,
		ChunkCount:     d.ChunkCount,
		Servable:       d.Servable(),
		FailureKind:    string(d.FailureKind),
		FailureMessage: d.FailureMessage,
		ProcessedAt:    d.ProcessedAt,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

// DocumentListResponse 文档列表
type DocumentListResponse struct {
	Documents []*DocumentResponse `json:"documents"`
}

// ToDocumentListResponse 实体列表转响应
func ToDocumentListResponse(docs []*entity.Document) *DocumentListResponse {
	out := make([]*DocumentResponse, 0, len(docs))
	for _, d := range docs {
		out = append(out, ToDocumentResponse(d))
	}
	return &DocumentListResponse{Documents: out}
}

// IndexVersionsResponse 已持久化的索引版本
type IndexVersionsResponse struct {
	DocumentID     string               `json:"document_id"`
	ServingVersion int64                `json:"serving_version"`
	Versions       []IndexVersionDetail `json:"versions"`
}

// IndexVersionDetail 单个版本
type IndexVersionDetail struct {
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	SizeBytes int64     `json:"size_bytes"`
}
