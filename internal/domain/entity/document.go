// Package entity 定义领域实体
package entity

import (
	"path/filepath"
	"strings"
	"time"

	apperrors "shayak-swasth-rag/pkg/errors"
)

// DocumentStatus 文档处理状态
type DocumentStatus string

const (
	DocumentStatusPending    DocumentStatus = "pending"
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusProcessed  DocumentStatus = "processed"
	DocumentStatusError      DocumentStatus = "error"
)

// ContentType 文档内容类别
type ContentType string

const (
	ContentTypePDF    ContentType = "pdf"
	ContentTypeImage  ContentType = "image"
	ContentTypeDICOM  ContentType = "dicom"
	ContentTypeReport ContentType = "report"
)

// FailureKind 摄取失败类别
type FailureKind string

const (
	FailureNone               FailureKind = ""
	FailureInvalidInput       FailureKind = "invalid_input"
	FailureEmptyInput         FailureKind = "empty_input"
	FailureEmbeddingPermanent FailureKind = "embedding_permanent"
	FailureEmbeddingExhausted FailureKind = "embedding_exhausted"
	FailureDimensionMismatch  FailureKind = "dimension_mismatch"
	FailureIndexBuild         FailureKind = "index_build"
	FailurePersist            FailureKind = "persist"
	FailureTimeout            FailureKind = "timeout"
	FailureInternal           FailureKind = "internal"
)

// Document 上传文档及其处理状态
//
// Version 指向当前对外服务的索引版本，0 表示尚无可用索引。
// 重新处理期间 Version 保持不变，新版本持久化完成后才前移。
// 处理失败后 Withdrawn 置位，直到下一次成功持久化前都不对外服务。
type Document struct {
	ID             string         `gorm:"type:varchar(64);primaryKey" json:"id"`
	OwnerID        string         `gorm:"type:varchar(64);index;not null" json:"owner_id"`
	Filename       string         `gorm:"type:varchar(255)" json:"filename,omitempty"`
	ContentType    ContentType    `gorm:"type:varchar(16)" json:"content_type"`
	Status         DocumentStatus `gorm:"type:varchar(16);index;not null" json:"status"`
	TextRef        string         `gorm:"type:varchar(512)" json:"text_ref,omitempty"`
	Version        int64          `gorm:"not null;default:0" json:"version"`
	ChunkCount     int            `gorm:"not null;default:0" json:"chunk_count"`
	Withdrawn      bool           `gorm:"not null;default:false" json:"withdrawn"`
	FailureKind    FailureKind    `gorm:"type:varchar(32)" json:"failure_kind,omitempty"`
	FailureMessage string         `gorm:"type:text" json:"failure_message,omitempty"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	ProcessedAt    *time.Time     `json:"processed_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// TableName 表名
func (Document) TableName() string { return "documents" }

// NewDocument 创建待处理文档
func NewDocument(id, ownerID, filename string, contentType ContentType) *Document {
	now := time.Now()
	return &Document{
		ID:          id,
		OwnerID:     ownerID,
		Filename:    filename,
		ContentType: contentType,
		Status:      DocumentStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Servable 文档当前是否有可服务的索引版本
func (d *Document) Servable() bool {
	return d.Version > 0 && !d.Withdrawn && d.Status != DocumentStatusError
}

// ProcessingStale 处理中的文档是否已超过 staleAfter 仍未结束
//
// 进程崩溃后文档会停留在 processing，超时后允许接管。staleAfter <= 0 时永不过期。
func (d *Document) ProcessingStale(now time.Time, staleAfter time.Duration) bool {
	if d.Status != DocumentStatusProcessing || staleAfter <= 0 {
		return false
	}
	if d.StartedAt == nil {
		return now.Sub(d.UpdatedAt) > staleAfter
	}
	return now.Sub(*d.StartedAt) > staleAfter
}

// MarkPending 进入待处理状态，未过期的处理中文档不允许重新提交
func (d *Document) MarkPending(now time.Time, staleAfter time.Duration) error {
	if d.Status == DocumentStatusProcessing && !d.ProcessingStale(now, staleAfter) {
		return apperrors.ErrAlreadyProcessing.WithDetail(d.ID)
	}
	d.Status = DocumentStatusPending
	d.UpdatedAt = now
	return nil
}

// BeginProcessing pending/processed/error/过期的 processing -> processing
func (d *Document) BeginProcessing(now time.Time, staleAfter time.Duration) error {
	if d.Status == DocumentStatusProcessing && !d.ProcessingStale(now, staleAfter) {
		return apperrors.ErrAlreadyProcessing.WithDetail(d.ID)
	}
	d.Status = DocumentStatusProcessing
	d.FailureKind = FailureNone
	d.FailureMessage = ""
	d.StartedAt = &now
	d.UpdatedAt = now
	return nil
}

// MarkProcessed processing -> processed，同时前移服务版本
func (d *Document) MarkProcessed(version int64, chunkCount int, now time.Time) {
	d.Status = DocumentStatusProcessed
	d.Version = version
	d.ChunkCount = chunkCount
	d.Withdrawn = false
	d.FailureKind = FailureNone
	d.FailureMessage = ""
	d.ProcessedAt = &now
	d.UpdatedAt = now
}

// MarkFailed processing -> error
func (d *Document) MarkFailed(kind FailureKind, message string, now time.Time) {
	d.Status = DocumentStatusError
	d.Withdrawn = true
	d.FailureKind = kind
	d.FailureMessage = message
	d.UpdatedAt = now
}

// DetectContentType 按扩展名或 MIME 类型归类
func DetectContentType(filename, mimeType string) ContentType {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	switch ext {
	case "pdf":
		return ContentTypePDF
	case "jpg", "jpeg", "png", "tiff", "tif", "bmp":
		return ContentTypeImage
	case "dcm", "dicom":
		return ContentTypeDICOM
	}

	mimeType = strings.ToLower(mimeType)
	switch {
	case mimeType == "application/pdf":
		return ContentTypePDF
	case mimeType == "application/dicom":
		return ContentTypeDICOM
	case strings.HasPrefix(mimeType, "image/"):
		return ContentTypeImage
	}
	return ContentTypeReport
}

// ParseContentType 解析调用方给出的类别，未知值归为 report
func ParseContentType(s string) ContentType {
	switch ContentType(strings.ToLower(strings.TrimSpace(s))) {
	case ContentTypePDF:
		return ContentTypePDF
	case ContentTypeImage:
		return ContentTypeImage
	case ContentTypeDICOM:
		return ContentTypeDICOM
	case ContentTypeReport:
		return ContentTypeReport
	}
	return DetectContentType("", s)
}
