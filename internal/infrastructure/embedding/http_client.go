package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"shayak-swasth-rag/internal/config"
	apperrors "shayak-swasth-rag/pkg/errors"
)

// HTTPProvider 自托管嵌入服务（POST /embed）
type HTTPProvider struct {
	endpoint   string
	model      string
	httpClient *http.Client
}

type embedRequest struct {
	Texts []string `json:"texts"`
	Model string   `json:"model"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	TokensUsed int         `json:"tokens_used"`
}

// NewHTTPProvider 创建 HTTP 嵌入适配器
func NewHTTPProvider(cfg *config.EmbeddingConfig) (*HTTPProvider, error) {
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		return nil, fmt.Errorf("embedding endpoint is empty")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid embedding endpoint: %w", err)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/embed"
	}

	model := cfg.Model
	if model == "" {
		model = "BAAI/bge-m3"
	}
	return &HTTPProvider{
		endpoint: u.String(),
		model:    model,
		// 单次调用超时由 Client 通过 context 控制
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

// Name 提供方名称
func (p *HTTPProvider) Name() string { return "http" }

// EmbedBatch 调用一次 /embed
func (p *HTTPProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody, err := json.Marshal(&embedRequest{Texts: texts, Model: p.model})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeEmbeddingPermanent, "failed to marshal embed request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeEmbeddingPermanent, "failed to create embed request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, Classify(err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return nil, Classify(&StatusError{StatusCode: httpResp.StatusCode, Body: strings.TrimSpace(string(body))})
	}

	var resp embedResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeEmbeddingTransient, "failed to decode embed response")
	}
	return resp.Embeddings, nil
}
