package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"time"

	"shayak-swasth-rag/internal/domain/service"
	"shayak-swasth-rag/pkg/logger"
)

// VectorCache 查询向量缓存端口
type VectorCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// CachedEmbedder 缓存单条查询文本的向量；批量调用直接透传
type CachedEmbedder struct {
	next  service.Embedder
	cache VectorCache
	model string
	ttl   time.Duration
}

var _ service.Embedder = (*CachedEmbedder)(nil)

// NewCachedEmbedder 包装 next；缓存键包含提供方、模型与维度
func NewCachedEmbedder(next service.Embedder, cache VectorCache, model string, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{next: next, cache: cache, model: model, ttl: ttl}
}

// Name 提供方名称
func (e *CachedEmbedder) Name() string { return e.next.Name() }

// Dimension 向量维度
func (e *CachedEmbedder) Dimension() int { return e.next.Dimension() }

// Embed 单条文本先查缓存，缓存故障只记日志
func (e *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) != 1 || e.ttl <= 0 {
		return e.next.Embed(ctx, texts)
	}

	key := e.key(texts[0])
	if raw, ok, err := e.cache.Get(ctx, key); err != nil {
		logger.Warn(ctx, "query vector cache read failed", "error", err.Error())
	} else if ok {
		if v, ok := decodeVector(raw, e.next.Dimension()); ok {
			return [][]float32{v}, nil
		}
	}

	vecs, err := e.next.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if err := e.cache.Set(ctx, key, encodeVector(vecs[0]), e.ttl); err != nil {
		logger.Warn(ctx, "query vector cache write failed", "error", err.Error())
	}
	return vecs, nil
}

func (e *CachedEmbedder) key(text string) string {
	h := sha256.New()
	h.Write([]byte(e.next.Name()))
	h.Write([]byte{0})
	h.Write([]byte(e.model))
	h.Write([]byte{0})
	var dim [4]byte
	binary.LittleEndian.PutUint32(dim[:], uint32(e.next.Dimension()))
	h.Write(dim[:])
	h.Write([]byte(text))
	return "qvec:" + hex.EncodeToString(h.Sum(nil))
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(raw []byte, dim int) ([]float32, bool) {
	if dim <= 0 || len(raw) != 4*dim {
		return nil, false
	}
	v := make([]float32, dim)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return v, true
}
