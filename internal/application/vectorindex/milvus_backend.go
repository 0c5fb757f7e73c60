package vectorindex

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
)

const (
	BackendMilvus = "milvus"

	milvusMagic = "RAGM"
)

// ChunkVectorStore 近似检索的外部向量库端口，由 Milvus 实现
type ChunkVectorStore interface {
	InsertChunkVectors(ctx context.Context, docKey string, positions []int64, vectors [][]float32) error
	SearchChunkVectors(ctx context.Context, docKey string, query []float32, k int) ([]Hit, error)
	DeleteChunkVectors(ctx context.Context, docKey string) error
}

// MilvusBackend HNSW 近似检索，向量存放在外部向量库，BlobStore 中只保存头信息
type MilvusBackend struct {
	store ChunkVectorStore
}

// NewMilvusBackend 创建近似检索后端
func NewMilvusBackend(store ChunkVectorStore) *MilvusBackend {
	return &MilvusBackend{store: store}
}

func (b *MilvusBackend) Name() string { return BackendMilvus }

// DocKey 向量库中按版本区分数据的过滤键
func DocKey(key Key) string { return key.String() }

func (b *MilvusBackend) Build(key Key, dimension int, vectors [][]float32) (Index, error) {
	for i, v := range vectors {
		if len(v) != dimension {
			return nil, fmt.Errorf("vector %d has dimension %d, expected %d", i, len(v), dimension)
		}
	}
	return &milvusIndex{store: b.store, key: key, dim: dimension, n: len(vectors), pending: vectors}, nil
}

func (b *MilvusBackend) Commit(ctx context.Context, key Key, idx Index) error {
	mi, ok := idx.(*milvusIndex)
	if !ok {
		return fmt.Errorf("milvus backend cannot commit %T", idx)
	}
	if len(mi.pending) == 0 {
		return nil
	}
	positions := make([]int64, len(mi.pending))
	for i := range positions {
		positions[i] = int64(i)
	}
	// 先清理同键残留，保证重复提交幂等
	if err := b.store.DeleteChunkVectors(ctx, DocKey(key)); err != nil {
		return err
	}
	if err := b.store.InsertChunkVectors(ctx, DocKey(key), positions, mi.pending); err != nil {
		return err
	}
	mi.pending = nil
	return nil
}

func (b *MilvusBackend) Open(_ context.Context, key Key, dimension int, blob []byte) (Index, error) {
	if len(blob) != 12 || string(blob[:4]) != milvusMagic {
		return nil, fmt.Errorf("not a milvus index header")
	}
	dim := binary.LittleEndian.Uint32(blob[4:8])
	n := binary.LittleEndian.Uint32(blob[8:12])
	if int(dim) != dimension {
		return nil, fmt.Errorf("milvus index dimension %d does not match manifest dimension %d", dim, dimension)
	}
	return &milvusIndex{store: b.store, key: key, dim: int(dim), n: int(n)}, nil
}

func (b *MilvusBackend) Drop(ctx context.Context, key Key) error {
	return b.store.DeleteChunkVectors(ctx, DocKey(key))
}

type milvusIndex struct {
	store   ChunkVectorStore
	key     Key
	dim     int
	n       int
	pending [][]float32
}

func (m *milvusIndex) Len() int { return m.n }

func (m *milvusIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if k <= 0 || m.n == 0 {
		return nil, nil
	}
	if k > m.n {
		k = m.n
	}
	return m.store.SearchChunkVectors(ctx, DocKey(m.key), query, k)
}

func (m *milvusIndex) Encode() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(milvusMagic)
	var tmp [8]byte
	binary.LittleEndian.PutUint32(tmp[0:4], uint32(m.dim))
	binary.LittleEndian.PutUint32(tmp[4:8], uint32(m.n))
	buf.Write(tmp[:])
	return buf.Bytes(), nil
}
