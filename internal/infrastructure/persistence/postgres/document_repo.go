package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"shayak-swasth-rag/internal/domain/entity"
	"shayak-swasth-rag/internal/domain/repository"
	apperrors "shayak-swasth-rag/pkg/errors"
)

// DocumentRepository 文档仓储实现
type DocumentRepository struct {
	client *Client
	tx     *TxManager
}

// NewDocumentRepository 创建文档仓储
func NewDocumentRepository(client *Client) *DocumentRepository {
	return &DocumentRepository{client: client, tx: NewTxManager(client)}
}

var _ repository.DocumentRepository = (*DocumentRepository)(nil)

// errNotStale 复核时文档已被接管或已结束
var errNotStale = errors.New("document is no longer stale")

// Create 创建文档
func (r *DocumentRepository) Create(ctx context.Context, doc *entity.Document) error {
	ctx, span := tracer.Start(ctx, "postgres.DocumentRepository.Create")
	defer span.End()

	if err := getDB(ctx, r.client.db).Create(doc).Error; err != nil {
		span.RecordError(err)
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperrors.ErrConflict.WithDetail("document " + doc.ID + " already exists")
		}
		return apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to create document")
	}
	return nil
}

// GetByID 根据 ID 获取文档
func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*entity.Document, error) {
	ctx, span := tracer.Start(ctx, "postgres.DocumentRepository.GetByID")
	defer span.End()

	var doc entity.Document
	if err := getDB(ctx, r.client.db).First(&doc, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to get document")
	}
	return &doc, nil
}

// GetByIDs 批量获取文档
func (r *DocumentRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*entity.Document, error) {
	ctx, span := tracer.Start(ctx, "postgres.DocumentRepository.GetByIDs")
	defer span.End()

	out := make(map[string]*entity.Document, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var docs []*entity.Document
	if err := getDB(ctx, r.client.db).Where("id IN ?", ids).Find(&docs).Error; err != nil {
		span.RecordError(err)
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to get documents")
	}
	for _, d := range docs {
		out[d.ID] = d
	}
	return out, nil
}

// List 分页列出文档
func (r *DocumentRepository) List(ctx context.Context, filter *repository.DocumentFilter, pagination repository.Pagination) (*repository.PagedResult[*entity.Document], error) {
	ctx, span := tracer.Start(ctx, "postgres.DocumentRepository.List")
	defer span.End()

	db := getDB(ctx, r.client.db).Model(&entity.Document{})
	if filter != nil {
		if filter.OwnerID != "" {
			db = db.Where("owner_id = ?", filter.OwnerID)
		}
		if filter.Status != "" {
			db = db.Where("status = ?", filter.Status)
		}
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		span.RecordError(err)
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to count documents")
	}

	var docs []*entity.Document
	if err := db.Order("created_at DESC, id ASC").
		Offset(pagination.Offset()).
		Limit(pagination.Limit()).
		Find(&docs).Error; err != nil {
		span.RecordError(err)
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to list documents")
	}
	return repository.NewPagedResult(docs, total, pagination), nil
}

// ListIDs 列出文档 ID
func (r *DocumentRepository) ListIDs(ctx context.Context, ownerID string) ([]string, error) {
	ctx, span := tracer.Start(ctx, "postgres.DocumentRepository.ListIDs")
	defer span.End()

	db := getDB(ctx, r.client.db).Model(&entity.Document{})
	if ownerID != "" {
		db = db.Where("owner_id = ?", ownerID)
	}
	var ids []string
	if err := db.Order("id").Pluck("id", &ids).Error; err != nil {
		span.RecordError(err)
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to list document ids")
	}
	return ids, nil
}

// MarkPending 提交摄取请求
func (r *DocumentRepository) MarkPending(ctx context.Context, id string, staleAfter time.Duration) (*entity.Document, error) {
	ctx, span := tracer.Start(ctx, "postgres.DocumentRepository.MarkPending")
	defer span.End()
	return r.lockAndApply(ctx, id, func(doc *entity.Document, now time.Time) error {
		return doc.MarkPending(now, staleAfter)
	})
}

// BeginProcessing 行锁内检查并置为 processing
func (r *DocumentRepository) BeginProcessing(ctx context.Context, id string, staleAfter time.Duration) (*entity.Document, error) {
	ctx, span := tracer.Start(ctx, "postgres.DocumentRepository.BeginProcessing")
	defer span.End()
	return r.lockAndApply(ctx, id, func(doc *entity.Document, now time.Time) error {
		return doc.BeginProcessing(now, staleAfter)
	})
}

// FailStale 逐行加锁复核后回收失联的处理
func (r *DocumentRepository) FailStale(ctx context.Context, staleAfter time.Duration, message string) ([]*entity.Document, error) {
	ctx, span := tracer.Start(ctx, "postgres.DocumentRepository.FailStale")
	defer span.End()

	if staleAfter <= 0 {
		return nil, nil
	}
	cutoff := time.Now().Add(-staleAfter)
	var ids []string
	err := getDB(ctx, r.client.db).Model(&entity.Document{}).
		Where("status = ?", entity.DocumentStatusProcessing).
		Where("COALESCE(started_at, updated_at) < ?", cutoff).
		Order("id").
		Pluck("id", &ids).Error
	if err != nil {
		span.RecordError(err)
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to find stale documents")
	}

	var reaped []*entity.Document
	for _, id := range ids {
		doc, err := r.lockAndApply(ctx, id, func(doc *entity.Document, now time.Time) error {
			if !doc.ProcessingStale(now, staleAfter) {
				return errNotStale
			}
			doc.MarkFailed(entity.FailureTimeout, message, now)
			return nil
		})
		if errors.Is(err, errNotStale) {
			continue
		}
		if err != nil {
			span.RecordError(err)
			return reaped, err
		}
		reaped = append(reaped, doc)
	}
	return reaped, nil
}

// MarkProcessed 置为 processed 并前移服务版本
func (r *DocumentRepository) MarkProcessed(ctx context.Context, id string, version int64, chunkCount int) error {
	ctx, span := tracer.Start(ctx, "postgres.DocumentRepository.MarkProcessed")
	defer span.End()
	_, err := r.lockAndApply(ctx, id, func(doc *entity.Document, now time.Time) error {
		if version < doc.Version {
			return fmt.Errorf("version %d is older than served version %d", version, doc.Version)
		}
		doc.MarkProcessed(version, chunkCount, now)
		return nil
	})
	return err
}

// MarkFailed 置为 error
func (r *DocumentRepository) MarkFailed(ctx context.Context, id string, kind entity.FailureKind, message string) error {
	ctx, span := tracer.Start(ctx, "postgres.DocumentRepository.MarkFailed")
	defer span.End()
	_, err := r.lockAndApply(ctx, id, func(doc *entity.Document, now time.Time) error {
		doc.MarkFailed(kind, message, now)
		return nil
	})
	return err
}

func (r *DocumentRepository) lockAndApply(ctx context.Context, id string, fn func(*entity.Document, time.Time) error) (*entity.Document, error) {
	var out entity.Document
	err := r.tx.WithTransaction(ctx, func(ctx context.Context) error {
		db := getDB(ctx, r.client.db)
		if err := db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&out, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.ErrDocumentNotFound.WithDetail(id)
			}
			return apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to lock document")
		}
		if err := fn(&out, time.Now()); err != nil {
			return err
		}
		if err := db.Save(&out).Error; err != nil {
			return apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to update document")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
