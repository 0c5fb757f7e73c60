// Package milvus 文档分块向量的近似检索后端
package milvus

import (
	"context"
	"fmt"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"shayak-swasth-rag/internal/config"
)

const connectTimeout = 10 * time.Second

var tracer = otel.Tracer("milvus")

// Client Milvus 连接与集合命名
type Client struct {
	milvus client.Client
	config *config.MilvusConfig
}

// NewClient 连接 Milvus，超过 connectTimeout 视为不可用
func NewClient(ctx context.Context, cfg *config.MilvusConfig) (*Client, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	c := client.Config{Address: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)}
	if cfg.User != "" {
		c.Username, c.Password = cfg.User, cfg.Password
	}

	milvusClient, err := client.NewClient(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to milvus at %s: %w", c.Address, err)
	}
	return &Client{milvus: milvusClient, config: cfg}, nil
}

func (c *Client) Close() error {
	return c.milvus.Close()
}

// HealthCheck 以分块集合是否可查询判断可用性
func (c *Client) HealthCheck(ctx context.Context) error {
	if _, err := c.HasCollection(ctx, CollectionDocumentChunks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// CollectionName 按部署前缀区分集合
func (c *Client) CollectionName(name string) string {
	if c.config.CollectionPrefix == "" {
		return name
	}
	return c.config.CollectionPrefix + "_" + name
}

func (c *Client) startSpan(ctx context.Context, op, collection string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "milvus."+op, trace.WithAttributes(attribute.String("collection", c.CollectionName(collection))))
}

// HasCollection 集合是否存在
func (c *Client) HasCollection(ctx context.Context, name string) (bool, error) {
	ctx, span := c.startSpan(ctx, "HasCollection", name)
	defer span.End()

	ok, err := c.milvus.HasCollection(ctx, c.CollectionName(name))
	if err != nil {
		span.RecordError(err)
	}
	return ok, err
}

// LoadCollection 加载集合到查询节点内存
func (c *Client) LoadCollection(ctx context.Context, name string) error {
	ctx, span := c.startSpan(ctx, "LoadCollection", name)
	defer span.End()

	if err := c.milvus.LoadCollection(ctx, c.CollectionName(name), false); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to load collection: %w", err)
	}
	return nil
}
