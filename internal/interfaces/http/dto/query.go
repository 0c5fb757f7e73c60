package dto

import (
	"shayak-swasth-rag/internal/application/query"
	"shayak-swasth-rag/internal/application/synthesis"
	"shayak-swasth-rag/internal/domain/entity"
)

// QueryRequest 自然语言查询
type QueryRequest struct {
	Query         string   `json:"query" binding:"required,max=5000"`
	DocumentScope []string `json:"document_scope,omitempty" binding:"omitempty,max=100,dive,max=64"`
	K             *int     `json:"k,omitempty" binding:"omitempty,min=1"`
	WantAnswer    bool     `json:"want_answer,omitempty"`
}

// ToQuery 转换为查询请求
func (r *QueryRequest) ToQuery(p entity.Principal) query.Request {
	return query.Request{
		Principal:     p,
		Query:         r.Query,
		DocumentScope: r.DocumentScope,
		K:             r.K,
		WantAnswer:    r.WantAnswer,
	}
}

// QueryResult 检索命中的分块
type QueryResult struct {
	DocumentID         string  `json:"document_id"`
	ChunkSequenceIndex int     `json:"chunk_sequence_index"`
	Text               string  `json:"text"`
	Score              float32 `json:"score"`
}

// QueryResponse 查询响应
type QueryResponse struct {
	Results        []QueryResult     `json:"results"`
	Answer         *synthesis.Answer `json:"answer,omitempty"`
	DegradedReason string            `json:"degraded_reason,omitempty"`
}

// ToQueryResponse 转换查询结果
func ToQueryResponse(resp *query.Response) *QueryResponse {
	out := &QueryResponse{
		Results:        make([]QueryResult, 0, len(resp.Results)),
		Answer:         resp.Answer,
		DegradedReason: resp.DegradedReason,
	}
	for _, r := range resp.Results {
		out.Results = append(out.Results, QueryResult{
			DocumentID:         r.DocumentID,
			ChunkSequenceIndex: r.Sequence,
			Text:               r.Text,
			Score:              r.Score,
		})
	}
	return out
}
