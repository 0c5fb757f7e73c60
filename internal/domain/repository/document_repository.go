package repository

import (
	"context"
	"time"

	"shayak-swasth-rag/internal/domain/entity"
)

// DocumentFilter 文档过滤条件
type DocumentFilter struct {
	OwnerID string
	Status  entity.DocumentStatus
}

// DocumentRepository 文档仓储接口
//
// 查询不到记录时返回 (nil, nil)。
type DocumentRepository interface {
	// Create 创建文档
	Create(ctx context.Context, doc *entity.Document) error

	// GetByID 根据 ID 获取文档
	GetByID(ctx context.Context, id string) (*entity.Document, error)

	// GetByIDs 批量获取文档，缺失的 ID 不出现在结果中
	GetByIDs(ctx context.Context, ids []string) (map[string]*entity.Document, error)

	// List 分页列出文档
	List(ctx context.Context, filter *DocumentFilter, pagination Pagination) (*PagedResult[*entity.Document], error)

	// ListIDs 列出文档 ID；ownerID 为空时返回全部
	ListIDs(ctx context.Context, ownerID string) ([]string, error)

	// MarkPending 提交摄取请求，处理中且未超过 staleAfter 的文档返回 AlreadyProcessing
	MarkPending(ctx context.Context, id string, staleAfter time.Duration) (*entity.Document, error)

	// BeginProcessing 行锁内把文档置为 processing，处理中且未超过 staleAfter 的文档返回 AlreadyProcessing
	BeginProcessing(ctx context.Context, id string, staleAfter time.Duration) (*entity.Document, error)

	// FailStale 把超过 staleAfter 仍处于 processing 的文档置为 error(timeout)，返回被回收的文档
	FailStale(ctx context.Context, staleAfter time.Duration, message string) ([]*entity.Document, error)

	// MarkProcessed 置为 processed 并把服务版本前移到 version
	MarkProcessed(ctx context.Context, id string, version int64, chunkCount int) error

	// MarkFailed 置为 error 并记录失败类别
	MarkFailed(ctx context.Context, id string, kind entity.FailureKind, message string) error
}

// GrantRepository 授权仓储接口
type GrantRepository interface {
	// Upsert 新建或重新激活授权
	Upsert(ctx context.Context, grant *entity.AccessGrant) error

	// Revoke 撤销授权，不存在时返回 (false, nil)
	Revoke(ctx context.Context, principalID, documentID string) (bool, error)

	// ActiveForPrincipal 返回主体在给定文档上的有效授权，按文档 ID 索引
	ActiveForPrincipal(ctx context.Context, principalID string, documentIDs []string) (map[string]*entity.AccessGrant, error)

	// DocumentIDsForPrincipal 返回主体持有有效授权的所有文档 ID
	DocumentIDsForPrincipal(ctx context.Context, principalID string) ([]string, error)

	// ListByDocument 列出文档上的全部授权
	ListByDocument(ctx context.Context, documentID string) ([]*entity.AccessGrant, error)
}
