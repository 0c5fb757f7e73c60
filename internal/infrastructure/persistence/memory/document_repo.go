// Package memory 提供进程内的仓储与索引存储实现
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"shayak-swasth-rag/internal/domain/entity"
	"shayak-swasth-rag/internal/domain/repository"
	apperrors "shayak-swasth-rag/pkg/errors"
)

// DocumentRepository 文档仓储的内存实现
type DocumentRepository struct {
	mu   sync.Mutex
	docs map[string]*entity.Document
}

// NewDocumentRepository 创建内存文档仓储
func NewDocumentRepository() *DocumentRepository {
	return &DocumentRepository{docs: make(map[string]*entity.Document)}
}

var _ repository.DocumentRepository = (*DocumentRepository)(nil)

func (r *DocumentRepository) Create(_ context.Context, doc *entity.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[doc.ID]; ok {
		return apperrors.ErrConflict.WithDetail("document " + doc.ID + " already exists")
	}
	cp := *doc
	r.docs[doc.ID] = &cp
	return nil
}

func (r *DocumentRepository) GetByID(_ context.Context, id string) (*entity.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, nil
	}
	cp := *doc
	return &cp, nil
}

func (r *DocumentRepository) GetByIDs(_ context.Context, ids []string) (map[string]*entity.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*entity.Document, len(ids))
	for _, id := range ids {
		if doc, ok := r.docs[id]; ok {
			cp := *doc
			out[id] = &cp
		}
	}
	return out, nil
}

func (r *DocumentRepository) List(_ context.Context, filter *repository.DocumentFilter, pagination repository.Pagination) (*repository.PagedResult[*entity.Document], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var all []*entity.Document
	for _, doc := range r.docs {
		if filter != nil {
			if filter.OwnerID != "" && doc.OwnerID != filter.OwnerID {
				continue
			}
			if filter.Status != "" && doc.Status != filter.Status {
				continue
			}
		}
		cp := *doc
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})

	total := int64(len(all))
	start := pagination.Offset()
	if start > len(all) {
		start = len(all)
	}
	end := start + pagination.Limit()
	if end > len(all) {
		end = len(all)
	}
	return repository.NewPagedResult(all[start:end], total, pagination), nil
}

func (r *DocumentRepository) ListIDs(_ context.Context, ownerID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, doc := range r.docs {
		if ownerID == "" || doc.OwnerID == ownerID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *DocumentRepository) MarkPending(_ context.Context, id string, staleAfter time.Duration) (*entity.Document, error) {
	return r.transition(id, func(doc *entity.Document, now time.Time) error {
		return doc.MarkPending(now, staleAfter)
	})
}

func (r *DocumentRepository) BeginProcessing(_ context.Context, id string, staleAfter time.Duration) (*entity.Document, error) {
	return r.transition(id, func(doc *entity.Document, now time.Time) error {
		return doc.BeginProcessing(now, staleAfter)
	})
}

func (r *DocumentRepository) FailStale(_ context.Context, staleAfter time.Duration, message string) ([]*entity.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var reaped []*entity.Document
	for id, doc := range r.docs {
		if !doc.ProcessingStale(now, staleAfter) {
			continue
		}
		next := *doc
		next.MarkFailed(entity.FailureTimeout, message, now)
		r.docs[id] = &next
		cp := next
		reaped = append(reaped, &cp)
	}
	sort.Slice(reaped, func(i, j int) bool { return reaped[i].ID < reaped[j].ID })
	return reaped, nil
}

func (r *DocumentRepository) MarkProcessed(_ context.Context, id string, version int64, chunkCount int) error {
	_, err := r.transition(id, func(doc *entity.Document, now time.Time) error {
		doc.MarkProcessed(version, chunkCount, now)
		return nil
	})
	return err
}

func (r *DocumentRepository) MarkFailed(_ context.Context, id string, kind entity.FailureKind, message string) error {
	_, err := r.transition(id, func(doc *entity.Document, now time.Time) error {
		doc.MarkFailed(kind, message, now)
		return nil
	})
	return err
}

func (r *DocumentRepository) transition(id string, fn func(*entity.Document, time.Time) error) (*entity.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, apperrors.ErrDocumentNotFound.WithDetail(id)
	}
	next := *doc
	if err := fn(&next, time.Now()); err != nil {
		return nil, err
	}
	r.docs[id] = &next
	cp := next
	return &cp, nil
}
