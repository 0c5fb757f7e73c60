package milvus

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"shayak-swasth-rag/internal/application/vectorindex"
	"shayak-swasth-rag/pkg/metrics"
)

// Repository 分块向量仓储，实现 vectorindex.ChunkVectorStore
type Repository struct {
	client    *Client
	dimension int
}

// NewRepository 创建分块向量仓储
func NewRepository(client *Client, dimension int) *Repository {
	return &Repository{client: client, dimension: dimension}
}

var _ vectorindex.ChunkVectorStore = (*Repository)(nil)

func docKeyFilter(docKey string) string {
	return fieldDocKey + " == " + strconv.Quote(docKey)
}

// EnsureCollection 确保集合与 HNSW 索引存在并已加载，不做 drop/rebuild
func (r *Repository) EnsureCollection(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "milvus.EnsureCollection")
	defer span.End()

	exists, err := r.client.HasCollection(ctx, CollectionDocumentChunks)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if !exists {
		schema := DocumentChunksSchema(r.dimension)
		schema.CollectionName = r.client.CollectionName(CollectionDocumentChunks)
		if err := r.client.milvus.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to create collection: %w", err)
		}

		idx, err := entity.NewIndexHNSW(entity.COSINE, r.client.config.HNSWM, r.client.config.HNSWEfConstruction)
		if err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
		if err := r.client.milvus.CreateIndex(ctx, schema.CollectionName, fieldVector, idx, false); err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return r.client.LoadCollection(ctx, CollectionDocumentChunks)
}

// InsertChunkVectors 写入一个版本的全部向量
func (r *Repository) InsertChunkVectors(ctx context.Context, docKey string, positions []int64, vectors [][]float32) error {
	ctx, span := tracer.Start(ctx, "milvus.InsertChunkVectors",
		trace.WithAttributes(
			attribute.String("doc_key", docKey),
			attribute.Int("count", len(vectors)),
		))
	defer span.End()

	if len(vectors) == 0 {
		return nil
	}
	if len(positions) != len(vectors) {
		return fmt.Errorf("positions (%d) and vectors (%d) differ in length", len(positions), len(vectors))
	}

	ids := make([]string, len(vectors))
	keys := make([]string, len(vectors))
	for i := range vectors {
		ids[i] = rowID(docKey, positions[i])
		keys[i] = docKey
	}

	collName := r.client.CollectionName(CollectionDocumentChunks)
	_, err := r.client.milvus.Insert(ctx, collName, "",
		entity.NewColumnVarChar(fieldID, ids),
		entity.NewColumnVarChar(fieldDocKey, keys),
		entity.NewColumnInt64(fieldPosition, positions),
		entity.NewColumnFloatVector(fieldVector, len(vectors[0]), vectors),
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert chunk vectors: %w", err)
	}
	// 插入后立即刷盘，Persist 返回即可检索
	if err := r.client.milvus.Flush(ctx, collName, false); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to flush chunk vectors: %w", err)
	}
	return nil
}

// SearchChunkVectors 在一个版本内近似检索
func (r *Repository) SearchChunkVectors(ctx context.Context, docKey string, query []float32, k int) ([]vectorindex.Hit, error) {
	ctx, span := tracer.Start(ctx, "milvus.SearchChunkVectors",
		trace.WithAttributes(
			attribute.String("doc_key", docKey),
			attribute.Int("top_k", k),
		))
	defer span.End()

	start := time.Now()
	status := "success"
	defer func() {
		metrics.MilvusSearchDuration.WithLabelValues(CollectionDocumentChunks).Observe(time.Since(start).Seconds())
		metrics.MilvusSearchTotal.WithLabelValues(CollectionDocumentChunks, status).Inc()
	}()

	ef := r.client.config.HNSWEf
	if ef < k {
		ef = k
	}
	sp, err := entity.NewIndexHNSWSearchParam(ef)
	if err != nil {
		status = "error"
		return nil, fmt.Errorf("failed to create search param: %w", err)
	}

	results, err := r.client.milvus.Search(ctx,
		r.client.CollectionName(CollectionDocumentChunks),
		nil,
		docKeyFilter(docKey),
		[]string{fieldPosition},
		[]entity.Vector{entity.FloatVector(query)},
		fieldVector,
		entity.COSINE,
		k,
		sp,
	)
	if err != nil {
		status = "error"
		span.RecordError(err)
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	var hits []vectorindex.Hit
	for _, result := range results {
		posCol, ok := result.Fields.GetColumn(fieldPosition).(*entity.ColumnInt64)
		if !ok {
			continue
		}
		for i := 0; i < result.ResultCount; i++ {
			hits = append(hits, vectorindex.Hit{Position: int(posCol.Data()[i]), Score: result.Scores[i]})
		}
	}
	sort.SliceStable(hits, func(a, b int) bool {
		if hits[a].Score != hits[b].Score {
			return hits[a].Score > hits[b].Score
		}
		return hits[a].Position < hits[b].Position
	})
	span.SetAttributes(attribute.Int("result_count", len(hits)))
	return hits, nil
}

// DeleteChunkVectors 删除一个版本的全部向量
func (r *Repository) DeleteChunkVectors(ctx context.Context, docKey string) error {
	ctx, span := tracer.Start(ctx, "milvus.DeleteChunkVectors",
		trace.WithAttributes(attribute.String("doc_key", docKey)))
	defer span.End()

	if err := r.client.milvus.Delete(ctx, r.client.CollectionName(CollectionDocumentChunks), "", docKeyFilter(docKey)); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete chunk vectors: %w", err)
	}
	return nil
}
