package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"shayak-swasth-rag/internal/domain/entity"
	"shayak-swasth-rag/internal/domain/repository"
)

type grantKey struct {
	principalID string
	documentID  string
}

// GrantRepository 授权仓储的内存实现
type GrantRepository struct {
	mu     sync.RWMutex
	grants map[grantKey]*entity.AccessGrant
}

// NewGrantRepository 创建内存授权仓储
func NewGrantRepository() *GrantRepository {
	return &GrantRepository{grants: make(map[grantKey]*entity.AccessGrant)}
}

var _ repository.GrantRepository = (*GrantRepository)(nil)

func (r *GrantRepository) Upsert(_ context.Context, grant *entity.AccessGrant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := grantKey{grant.PrincipalID, grant.DocumentID}
	cp := *grant
	if existing, ok := r.grants[k]; ok {
		cp.ID = existing.ID
	}
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.GrantedAt.IsZero() {
		cp.GrantedAt = time.Now()
	}
	cp.Active = true
	cp.RevokedAt = nil
	r.grants[k] = &cp
	grant.ID = cp.ID
	return nil
}

func (r *GrantRepository) Revoke(_ context.Context, principalID, documentID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.grants[grantKey{principalID, documentID}]
	if !ok || !g.Active {
		return false, nil
	}
	g.Revoke(time.Now())
	return true, nil
}

func (r *GrantRepository) ActiveForPrincipal(_ context.Context, principalID string, documentIDs []string) (map[string]*entity.AccessGrant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*entity.AccessGrant)
	for _, id := range documentIDs {
		if g, ok := r.grants[grantKey{principalID, id}]; ok && g.Active {
			cp := *g
			out[id] = &cp
		}
	}
	return out, nil
}

func (r *GrantRepository) DocumentIDsForPrincipal(_ context.Context, principalID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for k, g := range r.grants {
		if k.principalID == principalID && g.Active {
			ids = append(ids, k.documentID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *GrantRepository) ListByDocument(_ context.Context, documentID string) ([]*entity.AccessGrant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*entity.AccessGrant
	for k, g := range r.grants {
		if k.documentID == documentID {
			cp := *g
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PrincipalID < out[j].PrincipalID })
	return out, nil
}
