package retrieval

import (
	"shayak-swasth-rag/internal/application/vectorindex"
	"shayak-swasth-rag/internal/domain/entity"
)

// SearchInput 检索输入
type SearchInput struct {
	Principal entity.Principal
	Query     string

	// DocumentScope 为空表示检索主体可访问的全部文档
	DocumentScope []string

	// K 为空时取默认值，显式给出时必须在 [1, MaxK] 内
	K *int
}

// Result 一条检索结果
type Result = vectorindex.ScoredChunk

// SearchOutput 检索输出
type SearchOutput struct {
	Results []Result

	// Searched 实际检索的文档数
	Searched int
	// Skipped 无可用索引而跳过的文档
	Skipped []string

	// DegradedReason 非空表示查询向量不可用，结果为空
	DegradedReason string
}
