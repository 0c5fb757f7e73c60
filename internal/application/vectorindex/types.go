// Package vectorindex 构建、持久化、加载与淘汰按 (文档, 版本) 划分的向量索引
package vectorindex

import (
	"context"
	"fmt"
	"time"

	"shayak-swasth-rag/internal/domain/entity"
)

// Key 持久化索引的键
type Key struct {
	DocumentID string
	Version    int64
}

// String 形如 doc-1@3
func (k Key) String() string {
	return fmt.Sprintf("%s@%d", k.DocumentID, k.Version)
}

// Manifest 与索引二进制一同写入，用于把近邻结果还原为可读的引用
type Manifest struct {
	DocumentID string          `json:"document_id"`
	Version    int64           `json:"version"`
	Backend    string          `json:"backend"`
	Metric     string          `json:"metric"`
	Dimension  int             `json:"dimension"`
	CreatedAt  time.Time       `json:"created_at"`
	Chunks     []ManifestChunk `json:"chunks"`
}

// ManifestChunk 清单中的一个分块，下标即索引内位置
type ManifestChunk struct {
	ChunkID     string `json:"chunk_id"`
	Sequence    int    `json:"sequence"`
	OffsetStart int    `json:"offset_start"`
	OffsetEnd   int    `json:"offset_end"`
	Text        string `json:"text"`
}

// Hit 索引内的一个近邻命中
type Hit struct {
	Position int
	Score    float32
}

// ScoredChunk 检索结果
type ScoredChunk struct {
	DocumentID  string  `json:"document_id"`
	Version     int64   `json:"version"`
	ChunkID     string  `json:"chunk_id"`
	Sequence    int     `json:"sequence"`
	OffsetStart int     `json:"offset_start"`
	OffsetEnd   int     `json:"offset_end"`
	Text        string  `json:"text"`
	Score       float32 `json:"score"`
}

// Index 已构建或已加载的近邻索引
type Index interface {
	// Search 返回按分数降序、同分按位置升序的前 k 个命中
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)
	// Encode 序列化为可写入 BlobStore 的二进制
	Encode() ([]byte, error)
	Len() int
}

// Backend 近邻索引实现
type Backend interface {
	Name() string
	// Build 在内存中构建索引，不产生外部副作用
	Build(key Key, dimension int, vectors [][]float32) (Index, error)
	// Commit 在 BlobStore 写入之前把索引提交到后端自有存储
	Commit(ctx context.Context, key Key, idx Index) error
	// Open 从持久化二进制恢复索引
	Open(ctx context.Context, key Key, dimension int, blob []byte) (Index, error)
	// Drop 删除后端自有存储中的该版本数据
	Drop(ctx context.Context, key Key) error
}

// Entry BlobStore 中的一条记录：索引二进制加清单，二者一起写入、一起读取
type Entry struct {
	Index     []byte
	Manifest  []byte
	CreatedAt time.Time
}

// VersionInfo 已持久化的版本
type VersionInfo struct {
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	Size      int64     `json:"size"`
}

// BlobStore 以 documentId+version 为键的持久化存储
//
// Get 在键不存在时返回 ErrIndexNotFound。Versions 按版本升序返回。
type BlobStore interface {
	Name() string
	Put(ctx context.Context, key Key, entry *Entry) error
	Get(ctx context.Context, key Key) (*Entry, error)
	Versions(ctx context.Context, documentID string) ([]VersionInfo, error)
	Documents(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, key Key) error
	Close() error
}

// Handle 可查询的索引句柄
type Handle struct {
	Key      Key
	Manifest *Manifest
	index    Index
}

// Len 向量条数
func (h *Handle) Len() int { return len(h.Manifest.Chunks) }

// Search 在该版本内检索前 k 个分块
func (h *Handle) Search(ctx context.Context, query []float32, k int) ([]ScoredChunk, error) {
	if len(query) != h.Manifest.Dimension {
		return nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(query), h.Manifest.Dimension)
	}
	hits, err := h.index.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}

	out := make([]ScoredChunk, 0, len(hits))
	for _, hit := range hits {
		if hit.Position < 0 || hit.Position >= len(h.Manifest.Chunks) {
			continue
		}
		c := h.Manifest.Chunks[hit.Position]
		out = append(out, ScoredChunk{
			DocumentID:  h.Key.DocumentID,
			Version:     h.Key.Version,
			ChunkID:     c.ChunkID,
			Sequence:    c.Sequence,
			OffsetStart: c.OffsetStart,
			OffsetEnd:   c.OffsetEnd,
			Text:        c.Text,
			Score:       hit.Score,
		})
	}
	return out, nil
}

func manifestFrom(key Key, backend string, dimension int, pairs []entity.ChunkVector) *Manifest {
	m := &Manifest{
		DocumentID: key.DocumentID,
		Version:    key.Version,
		Backend:    backend,
		Metric:     "cosine",
		Dimension:  dimension,
		CreatedAt:  time.Now().UTC(),
		Chunks:     make([]ManifestChunk, len(pairs)),
	}
	for i, p := range pairs {
		m.Chunks[i] = ManifestChunk{
			ChunkID:     p.Chunk.ID,
			Sequence:    p.Chunk.Sequence,
			OffsetStart: p.Chunk.OffsetStart,
			OffsetEnd:   p.Chunk.OffsetEnd,
			Text:        p.Chunk.Text,
		}
	}
	return m
}
