package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm/clause"

	"shayak-swasth-rag/internal/domain/entity"
	"shayak-swasth-rag/internal/domain/repository"
	apperrors "shayak-swasth-rag/pkg/errors"
)

// GrantRepository 授权仓储实现
type GrantRepository struct {
	client *Client
}

// NewGrantRepository 创建授权仓储
func NewGrantRepository(client *Client) *GrantRepository {
	return &GrantRepository{client: client}
}

var _ repository.GrantRepository = (*GrantRepository)(nil)

// Upsert 新建或重新激活授权
func (r *GrantRepository) Upsert(ctx context.Context, grant *entity.AccessGrant) error {
	ctx, span := tracer.Start(ctx, "postgres.GrantRepository.Upsert")
	defer span.End()

	if grant.ID == "" {
		grant.ID = uuid.NewString()
	}
	if grant.GrantedAt.IsZero() {
		grant.GrantedAt = time.Now()
	}
	grant.Active = true
	grant.RevokedAt = nil

	err := getDB(ctx, r.client.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "principal_id"}, {Name: "document_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"permission", "active", "granted_by", "granted_at", "revoked_at"}),
	}).Create(grant).Error
	if err != nil {
		span.RecordError(err)
		return apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to upsert grant")
	}
	return nil
}

// Revoke 撤销授权
func (r *GrantRepository) Revoke(ctx context.Context, principalID, documentID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "postgres.GrantRepository.Revoke")
	defer span.End()

	res := getDB(ctx, r.client.db).Model(&entity.AccessGrant{}).
		Where("principal_id = ? AND document_id = ? AND active", principalID, documentID).
		Updates(map[string]any{"active": false, "revoked_at": time.Now()})
	if res.Error != nil {
		span.RecordError(res.Error)
		return false, apperrors.Wrap(res.Error, apperrors.CodeDatabaseError, "failed to revoke grant")
	}
	return res.RowsAffected > 0, nil
}

// ActiveForPrincipal 主体在给定文档上的有效授权
func (r *GrantRepository) ActiveForPrincipal(ctx context.Context, principalID string, documentIDs []string) (map[string]*entity.AccessGrant, error) {
	ctx, span := tracer.Start(ctx, "postgres.GrantRepository.ActiveForPrincipal")
	defer span.End()

	out := make(map[string]*entity.AccessGrant, len(documentIDs))
	if len(documentIDs) == 0 {
		return out, nil
	}
	var grants []*entity.AccessGrant
	err := getDB(ctx, r.client.db).
		Where("principal_id = ? AND active AND document_id = ANY(?)", principalID, pq.Array(documentIDs)).
		Find(&grants).Error
	if err != nil {
		span.RecordError(err)
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to load grants")
	}
	for _, g := range grants {
		out[g.DocumentID] = g
	}
	return out, nil
}

// DocumentIDsForPrincipal 主体持有有效授权的文档
func (r *GrantRepository) DocumentIDsForPrincipal(ctx context.Context, principalID string) ([]string, error) {
	ctx, span := tracer.Start(ctx, "postgres.GrantRepository.DocumentIDsForPrincipal")
	defer span.End()

	var ids []string
	err := getDB(ctx, r.client.db).Model(&entity.AccessGrant{}).
		Where("principal_id = ? AND active", principalID).
		Order("document_id").
		Pluck("document_id", &ids).Error
	if err != nil {
		span.RecordError(err)
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to list granted documents")
	}
	return ids, nil
}

// ListByDocument 文档上的全部授权
func (r *GrantRepository) ListByDocument(ctx context.Context, documentID string) ([]*entity.AccessGrant, error) {
	ctx, span := tracer.Start(ctx, "postgres.GrantRepository.ListByDocument")
	defer span.End()

	var grants []*entity.AccessGrant
	if err := getDB(ctx, r.client.db).Where("document_id = ?", documentID).Order("principal_id").Find(&grants).Error; err != nil {
		span.RecordError(err)
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to list grants")
	}
	return grants, nil
}
