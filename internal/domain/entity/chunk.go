package entity

import (
	"fmt"

	"github.com/google/uuid"
)

// chunkNamespace 分块 ID 的 UUIDv5 命名空间
var chunkNamespace = uuid.MustParse("6f1c2b0e-4d3a-5b7c-9e8f-0a1b2c3d4e5f")

// Chunk 文档某一版本中的一个文本窗口，偏移量以 rune 计，区间为 [OffsetStart, OffsetEnd)
type Chunk struct {
	ID          string `json:"chunk_id"`
	DocumentID  string `json:"document_id"`
	Version     int64  `json:"version"`
	Sequence    int    `json:"sequence"`
	OffsetStart int    `json:"offset_start"`
	OffsetEnd   int    `json:"offset_end"`
	Text        string `json:"text"`
}

// ChunkID 由文档、版本、序号确定的分块 ID
func ChunkID(documentID string, version int64, sequence int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(fmt.Sprintf("%s#%d#%d", documentID, version, sequence))).String()
}

// ChunkVector 分块与其嵌入向量
type ChunkVector struct {
	Chunk  Chunk
	Vector []float32
}

// VectorRecord 索引中的一条向量记录
type VectorRecord struct {
	ChunkID    string    `json:"chunk_id"`
	DocumentID string    `json:"document_id"`
	Version    int64     `json:"version"`
	Vector     []float32 `json:"-"`
}
