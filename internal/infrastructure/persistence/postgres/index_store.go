package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"shayak-swasth-rag/internal/application/vectorindex"
	apperrors "shayak-swasth-rag/pkg/errors"
)

// indexBlobRecord 索引二进制与清单
type indexBlobRecord struct {
	DocumentID string    `gorm:"type:varchar(64);primaryKey"`
	Version    int64     `gorm:"primaryKey"`
	IndexData  []byte    `gorm:"type:bytea;not null"`
	Manifest   []byte    `gorm:"type:bytea;not null"`
	CreatedAt  time.Time `gorm:"not null"`
}

func (indexBlobRecord) TableName() string { return "index_blobs" }

// IndexStore 以 (document_id, version) 为主键的索引存储
type IndexStore struct {
	client *Client
}

// NewIndexStore 创建 PostgreSQL 索引存储
func NewIndexStore(client *Client) *IndexStore {
	return &IndexStore{client: client}
}

var _ vectorindex.BlobStore = (*IndexStore)(nil)

func (s *IndexStore) Name() string { return "postgres" }

func (s *IndexStore) Put(ctx context.Context, key vectorindex.Key, entry *vectorindex.Entry) error {
	ctx, span := tracer.Start(ctx, "postgres.IndexStore.Put")
	defer span.End()

	rec := &indexBlobRecord{
		DocumentID: key.DocumentID,
		Version:    key.Version,
		IndexData:  entry.Index,
		Manifest:   entry.Manifest,
		CreatedAt:  entry.CreatedAt,
	}
	if err := getDB(ctx, s.client.db).Clauses(clause.OnConflict{UpdateAll: true}).Create(rec).Error; err != nil {
		span.RecordError(err)
		return apperrors.Wrap(err, apperrors.CodeStorageError, "failed to put index blob")
	}
	return nil
}

func (s *IndexStore) Get(ctx context.Context, key vectorindex.Key) (*vectorindex.Entry, error) {
	ctx, span := tracer.Start(ctx, "postgres.IndexStore.Get")
	defer span.End()

	var rec indexBlobRecord
	err := getDB(ctx, s.client.db).First(&rec, "document_id = ? AND version = ?", key.DocumentID, key.Version).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrIndexNotFound.WithDetail(key.String())
		}
		span.RecordError(err)
		return nil, apperrors.Wrap(err, apperrors.CodeStorageError, "failed to get index blob")
	}
	return &vectorindex.Entry{Index: rec.IndexData, Manifest: rec.Manifest, CreatedAt: rec.CreatedAt}, nil
}

func (s *IndexStore) Versions(ctx context.Context, documentID string) ([]vectorindex.VersionInfo, error) {
	var out []vectorindex.VersionInfo
	err := getDB(ctx, s.client.db).Model(&indexBlobRecord{}).
		Select("version, created_at, octet_length(index_data) + octet_length(manifest) AS size").
		Where("document_id = ?", documentID).
		Order("version").
		Scan(&out).Error
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStorageError, "failed to list index versions")
	}
	return out, nil
}

func (s *IndexStore) Documents(ctx context.Context) ([]string, error) {
	var ids []string
	err := getDB(ctx, s.client.db).Model(&indexBlobRecord{}).Distinct("document_id").Order("document_id").Pluck("document_id", &ids).Error
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStorageError, "failed to list indexed documents")
	}
	return ids, nil
}

func (s *IndexStore) Delete(ctx context.Context, key vectorindex.Key) error {
	err := getDB(ctx, s.client.db).Delete(&indexBlobRecord{}, "document_id = ? AND version = ?", key.DocumentID, key.Version).Error
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeStorageError, "failed to delete index blob")
	}
	return nil
}

// Close 连接由 Client 统一关闭
func (s *IndexStore) Close() error { return nil }
