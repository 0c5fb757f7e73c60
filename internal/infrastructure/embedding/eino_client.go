package embedding

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/embedding/openai"
	"github.com/cloudwego/eino/components/embedding"

	"shayak-swasth-rag/internal/config"
	einoobs "shayak-swasth-rag/internal/observability/eino"
)

// EinoProvider 基于 Eino 的 OpenAI 兼容嵌入适配器
type EinoProvider struct {
	embedder embedding.Embedder
}

// NewEinoEmbedder 创建基于 Eino 的 Embedder
func NewEinoEmbedder(ctx context.Context, cfg *config.EmbeddingConfig) (embedding.Embedder, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("embedding endpoint is required")
	}

	embedder, err := openai.NewEmbedder(ctx, &openai.EmbeddingConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.Endpoint,
		Model:   cfg.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create eino embedder: %w", err)
	}
	return embedder, nil
}

// NewEinoProvider 包装任意 eino Embedder
func NewEinoProvider(embedder embedding.Embedder) *EinoProvider {
	return &EinoProvider{embedder: embedder}
}

// Name 提供方名称
func (p *EinoProvider) Name() string { return "eino" }

// EmbedBatch 调用 EmbedStrings 并转换为 float32
func (p *EinoProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	ctx = einoobs.WithProvider(ctx, p.Name())
	vecs, err := p.embedder.EmbedStrings(ctx, texts)
	if err != nil {
		return nil, Classify(err)
	}

	out := make([][]float32, len(vecs))
	for i, v := range vecs {
		f := make([]float32, len(v))
		for j := range v {
			f[j] = float32(v[j])
		}
		out[i] = f
	}
	return out, nil
}
