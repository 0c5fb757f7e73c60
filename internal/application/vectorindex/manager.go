package vectorindex

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"shayak-swasth-rag/internal/domain/entity"
	"shayak-swasth-rag/internal/domain/repository"
	apperrors "shayak-swasth-rag/pkg/errors"
	"shayak-swasth-rag/pkg/logger"
	"shayak-swasth-rag/pkg/metrics"
	"shayak-swasth-rag/pkg/tracer"
)

// Manager 向量索引管理器
type Manager struct {
	backend   Backend
	store     BlobStore
	docs      repository.DocumentRepository
	dimension int
	cache     *handleCache
	group     singleflight.Group
	now       func() time.Time
}

// Options 管理器配置
type Options struct {
	Dimension int
	CacheSize int
}

// NewManager 创建索引管理器
func NewManager(backend Backend, store BlobStore, docs repository.DocumentRepository, opts Options) *Manager {
	return &Manager{
		backend:   backend,
		store:     store,
		docs:      docs,
		dimension: opts.Dimension,
		cache:     newHandleCache(opts.CacheSize),
		now:       time.Now,
	}
}

// Backend 当前近邻后端名称
func (m *Manager) Backend() string { return m.backend.Name() }

// Build 基于一个版本的全部 (分块, 向量) 构建索引
func (m *Manager) Build(ctx context.Context, documentID string, version int64, pairs []entity.ChunkVector) (*Handle, error) {
	_, span := tracer.Start(ctx, "vectorindex.Manager.Build")
	defer span.End()
	span.SetAttributes(tracer.DocumentAttributes(documentID, version)...)

	if len(pairs) == 0 {
		return nil, apperrors.ErrEmptyInput.WithDetail("no chunk vectors to index")
	}
	if documentID == "" || version <= 0 {
		return nil, apperrors.Newf(apperrors.CodeInvalidParam, "invalid index key %q@%d", documentID, version)
	}

	sorted := make([]entity.ChunkVector, len(pairs))
	copy(sorted, pairs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Chunk.Sequence < sorted[j].Chunk.Sequence })

	dim := m.dimension
	if dim <= 0 {
		dim = len(sorted[0].Vector)
	}
	if dim == 0 {
		return nil, apperrors.Newf(apperrors.CodeInvalidParam, "zero-dimension vectors")
	}

	vectors := make([][]float32, len(sorted))
	for i, p := range sorted {
		if p.Chunk.Sequence != i {
			return nil, apperrors.Newf(apperrors.CodeInvalidParam, "chunk sequence %d at position %d is not contiguous", p.Chunk.Sequence, i)
		}
		if len(p.Vector) != dim {
			return nil, apperrors.New(apperrors.CodeDimensionMismatch, "vector dimension mismatch").
				WithDetail(fmt.Sprintf("chunk %d has dimension %d, index expects %d", i, len(p.Vector), dim))
		}
		vectors[i] = p.Vector
	}

	key := Key{DocumentID: documentID, Version: version}
	idx, err := m.backend.Build(key, dim, vectors)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, apperrors.Wrap(err, apperrors.CodeIndexBuildFailed, "failed to build index")
	}
	return &Handle{Key: key, Manifest: manifestFrom(key, m.backend.Name(), dim, sorted), index: idx}, nil
}

// Persist 写入索引二进制与清单，完成后该版本可被 Load
func (m *Manager) Persist(ctx context.Context, h *Handle) (err error) {
	ctx, span := tracer.Start(ctx, "vectorindex.Manager.Persist")
	defer span.End()
	span.SetAttributes(attribute.String("index.key", h.Key.String()))

	start := m.now()
	defer func() {
		if err != nil {
			tracer.RecordError(span, err)
			return
		}
		metrics.IndexPersistDuration.WithLabelValues(m.backend.Name(), m.store.Name()).Observe(time.Since(start).Seconds())
	}()

	blob, err := h.index.Encode()
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeIndexBuildFailed, "failed to encode index")
	}
	manifest, err := json.Marshal(h.Manifest)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeIndexBuildFailed, "failed to encode manifest")
	}

	if err := m.backend.Commit(ctx, h.Key, h.index); err != nil {
		return apperrors.Wrap(err, apperrors.CodeVectorDBError, "failed to commit index to backend")
	}
	entry := &Entry{Index: blob, Manifest: manifest, CreatedAt: h.Manifest.CreatedAt}
	if err := m.store.Put(ctx, h.Key, entry); err != nil {
		if dropErr := m.backend.Drop(ctx, h.Key); dropErr != nil {
			logger.Warn(ctx, "failed to drop backend data after persist failure", "key", h.Key.String(), "error", dropErr.Error())
		}
		return apperrors.Wrap(err, apperrors.CodeStorageError, "failed to persist index")
	}
	return nil
}

// Load 加载文档当前服务版本的索引
func (m *Manager) Load(ctx context.Context, documentID string) (*Handle, error) {
	ctx, span := tracer.Start(ctx, "vectorindex.Manager.Load")
	defer span.End()

	doc, err := m.docs.GetByID(ctx, documentID)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	if doc == nil || !doc.Servable() {
		metrics.IndexLoadTotal.WithLabelValues(m.backend.Name(), "not_found").Inc()
		return nil, apperrors.ErrIndexNotFound.WithDetail(documentID)
	}
	return m.LoadVersion(ctx, Key{DocumentID: documentID, Version: doc.Version})
}

// LoadVersion 加载指定版本，同一键的并发加载只读一次存储
func (m *Manager) LoadVersion(ctx context.Context, key Key) (*Handle, error) {
	if h, ok := m.cache.get(key); ok {
		metrics.IndexLoadTotal.WithLabelValues(m.backend.Name(), "cache_hit").Inc()
		return h, nil
	}

	v, err, _ := m.group.Do(key.String(), func() (interface{}, error) {
		if h, ok := m.cache.get(key); ok {
			return h, nil
		}
		h, err := m.open(ctx, key)
		if err != nil {
			return nil, err
		}
		m.cache.add(key, h)
		return h, nil
	})
	if err != nil {
		result := "error"
		if apperrors.HasCode(err, apperrors.CodeIndexNotFound) {
			result = "not_found"
		}
		metrics.IndexLoadTotal.WithLabelValues(m.backend.Name(), result).Inc()
		return nil, err
	}
	metrics.IndexLoadTotal.WithLabelValues(m.backend.Name(), "loaded").Inc()
	return v.(*Handle), nil
}

func (m *Manager) open(ctx context.Context, key Key) (*Handle, error) {
	entry, err := m.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(entry.Index) == 0 || len(entry.Manifest) == 0 {
		return nil, apperrors.ErrIndexNotFound.WithDetail(key.String() + ": incomplete entry")
	}

	var manifest Manifest
	if err := json.Unmarshal(entry.Manifest, &manifest); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStorageError, "failed to decode manifest")
	}
	if manifest.DocumentID != key.DocumentID || manifest.Version != key.Version {
		return nil, apperrors.Newf(apperrors.CodeStorageError, "manifest %s@%d stored under %s", manifest.DocumentID, manifest.Version, key)
	}
	if manifest.Backend != m.backend.Name() {
		return nil, apperrors.Newf(apperrors.CodeStorageError, "index %s was built by backend %q, active backend is %q", key, manifest.Backend, m.backend.Name())
	}

	idx, err := m.backend.Open(ctx, key, manifest.Dimension, entry.Index)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStorageError, "failed to open index")
	}
	if idx.Len() != len(manifest.Chunks) {
		return nil, apperrors.Newf(apperrors.CodeStorageError, "index %s holds %d vectors but manifest lists %d chunks", key, idx.Len(), len(manifest.Chunks))
	}
	return &Handle{Key: key, Manifest: &manifest, index: idx}, nil
}

// Versions 列出文档已持久化的版本
func (m *Manager) Versions(ctx context.Context, documentID string) ([]VersionInfo, error) {
	return m.store.Versions(ctx, documentID)
}

// Evict 删除早于 olderThan 的持久化版本，当前服务版本与处理中可能即将上线的版本不删除
func (m *Manager) Evict(ctx context.Context, documentID string, olderThan time.Duration) (int, error) {
	ctx, span := tracer.Start(ctx, "vectorindex.Manager.Evict")
	defer span.End()

	doc, err := m.docs.GetByID(ctx, documentID)
	if err != nil {
		return 0, err
	}
	versions, err := m.store.Versions(ctx, documentID)
	if err != nil {
		return 0, err
	}

	var active int64
	processing := false
	if doc != nil {
		active = doc.Version
		processing = doc.Status == entity.DocumentStatusProcessing
	}

	cutoff := m.now().Add(-olderThan)
	removed := 0
	for _, v := range versions {
		if v.Version == active {
			continue
		}
		if v.Version > active && processing {
			continue
		}
		if !v.CreatedAt.Before(cutoff) {
			continue
		}

		key := Key{DocumentID: documentID, Version: v.Version}
		if err := m.backend.Drop(ctx, key); err != nil {
			return removed, fmt.Errorf("drop %s: %w", key, err)
		}
		if err := m.store.Delete(ctx, key); err != nil {
			return removed, fmt.Errorf("delete %s: %w", key, err)
		}
		m.cache.remove(key)
		removed++
	}

	if removed > 0 {
		metrics.IndexEvictedVersions.Add(float64(removed))
		logger.Info(ctx, "evicted index versions", "document_id", documentID, "removed", removed, "active_version", active)
	}
	return removed, nil
}

// EvictAll 对存储中的全部文档执行 Evict
func (m *Manager) EvictAll(ctx context.Context, olderThan time.Duration) (int, error) {
	docIDs, err := m.store.Documents(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, id := range docIDs {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := m.Evict(ctx, id, olderThan)
		total += n
		if err != nil {
			logger.Error(ctx, "index eviction failed", err, "document_id", id)
		}
	}
	return total, nil
}
