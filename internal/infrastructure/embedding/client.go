package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"shayak-swasth-rag/internal/config"
	apperrors "shayak-swasth-rag/pkg/errors"
	"shayak-swasth-rag/pkg/logger"
	"shayak-swasth-rag/pkg/metrics"
	"shayak-swasth-rag/pkg/tracer"
)

// Client 实现 service.Embedder：按 batch_size 切分，每批经过限流、熔断与超时控制，并校验向量维度
type Client struct {
	provider  Provider
	dimension int
	batchSize int
	timeout   time.Duration
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker
}

// NewClient 包装 Provider
func NewClient(provider Provider, cfg *config.EmbeddingConfig) (*Client, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("embedding.dimension must be positive, got %d", cfg.Dimension)
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 32
	}

	var limiter *rate.Limiter
	if cfg.RateLimit.RequestsPerSecond > 0 {
		burst := cfg.RateLimit.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), burst)
	}

	return &Client{
		provider:  provider,
		dimension: cfg.Dimension,
		batchSize: batchSize,
		timeout:   cfg.Timeout,
		limiter:   limiter,
		breaker:   NewBreaker("embedding-"+provider.Name(), cfg.Breaker),
	}, nil
}

// NewBreaker 按配置创建熔断器；Permanent 错误说明服务本身可用，不计入失败
func NewBreaker(name string, cfg config.BreakerConfig) *gobreaker.CircuitBreaker {
	minRequests := cfg.MinRequests
	if minRequests == 0 {
		minRequests = 5
	}
	ratio := cfg.FailureRatio
	if ratio <= 0 {
		ratio = 0.6
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= minRequests && failureRatio >= ratio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || apperrors.HasCode(err, apperrors.CodeEmbeddingPermanent)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn(context.Background(), "circuit breaker state changed",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

// Name 提供方名称
func (c *Client) Name() string { return c.provider.Name() }

// Dimension 向量维度
func (c *Client) Dimension() int { return c.dimension }

// Embed 计算一批文本的向量
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	ctx, span := tracer.Start(ctx, "embedding.Client.Embed")
	defer span.End()
	span.SetAttributes(
		attribute.String("embedding.provider", c.provider.Name()),
		attribute.Int("embedding.texts", len(texts)),
	)

	all := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += c.batchSize {
		end := i + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		vecs, err := c.embedBatch(ctx, texts[i:end])
		if err != nil {
			tracer.RecordError(span, err)
			return nil, err
		}
		all = append(all, vecs...)
	}
	return all, nil
}

func (c *Client) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	for i, text := range batch {
		if text == "" {
			return nil, apperrors.Newf(apperrors.CodeEmbeddingPermanent, "empty text at batch position %d", i)
		}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, Classify(ctx.Err())
			}
			return nil, apperrors.Wrap(err, apperrors.CodeEmbeddingTransient, "embedding rate limit wait failed")
		}
	}

	start := time.Now()
	res, err := c.breaker.Execute(func() (interface{}, error) {
		callCtx := ctx
		if c.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}
		vecs, err := c.provider.EmbedBatch(callCtx, batch)
		if err != nil {
			return nil, Classify(err)
		}
		return vecs, nil
	})
	metrics.EmbeddingCallDuration.WithLabelValues(c.provider.Name()).Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = apperrors.Wrap(err, apperrors.CodeEmbeddingTransient, "embedding circuit breaker open")
		}
		metrics.EmbeddingCallTotal.WithLabelValues(c.provider.Name(), statusLabel(err)).Inc()
		return nil, err
	}

	vecs := res.([][]float32)
	if err := c.validate(batch, vecs); err != nil {
		metrics.EmbeddingCallTotal.WithLabelValues(c.provider.Name(), "permanent").Inc()
		return nil, err
	}
	metrics.EmbeddingCallTotal.WithLabelValues(c.provider.Name(), "ok").Inc()
	return vecs, nil
}

func (c *Client) validate(batch []string, vecs [][]float32) error {
	if len(vecs) != len(batch) {
		return apperrors.Newf(apperrors.CodeEmbeddingPermanent,
			"embedding provider returned %d vectors for %d texts", len(vecs), len(batch))
	}
	for i, v := range vecs {
		if len(v) != c.dimension {
			return apperrors.New(apperrors.CodeDimensionMismatch, "embedding dimension mismatch").
				WithDetail(fmt.Sprintf("vector %d has dimension %d, expected %d", i, len(v), c.dimension))
		}
	}
	return nil
}

func statusLabel(err error) string {
	switch {
	case apperrors.IsTransient(err):
		return "transient"
	case apperrors.HasCode(err, apperrors.CodeEmbeddingPermanent):
		return "permanent"
	default:
		return "error"
	}
}
