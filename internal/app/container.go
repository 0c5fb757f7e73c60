// Package app 按配置组装各组件，每个进程构建一次
package app

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"

	"shayak-swasth-rag/internal/application/access"
	"shayak-swasth-rag/internal/application/chunking"
	"shayak-swasth-rag/internal/application/ingestion"
	"shayak-swasth-rag/internal/application/query"
	"shayak-swasth-rag/internal/application/retrieval"
	"shayak-swasth-rag/internal/application/synthesis"
	"shayak-swasth-rag/internal/application/vectorindex"
	"shayak-swasth-rag/internal/config"
	"shayak-swasth-rag/internal/domain/repository"
	"shayak-swasth-rag/internal/domain/service"
	"shayak-swasth-rag/internal/infrastructure/embedding"
	"shayak-swasth-rag/internal/infrastructure/llm"
	"shayak-swasth-rag/internal/infrastructure/messaging"
	"shayak-swasth-rag/internal/infrastructure/persistence/filesystem"
	"shayak-swasth-rag/internal/infrastructure/persistence/memory"
	"shayak-swasth-rag/internal/infrastructure/persistence/milvus"
	"shayak-swasth-rag/internal/infrastructure/persistence/mongodb"
	"shayak-swasth-rag/internal/infrastructure/persistence/postgres"
	"shayak-swasth-rag/internal/infrastructure/persistence/redis"
	"shayak-swasth-rag/internal/infrastructure/persistence/sqlite"
	"shayak-swasth-rag/pkg/logger"
)

// Container 进程内共享的组件
type Container struct {
	Config *config.Config

	Postgres *postgres.Client
	Redis    *redis.Client
	Milvus   *milvus.Client

	Documents   repository.DocumentRepository
	Grants      repository.GrantRepository
	Producer    *messaging.Producer
	Audit       service.AuditSink
	RateLimiter *redis.RateLimiter

	Embedder    service.Embedder
	Indexes     *vectorindex.Manager
	Access      *access.Filter
	Retrieval   *retrieval.Engine
	Synthesizer *synthesis.Synthesizer
	Query       *query.Service
	Ingestion   *ingestion.Coordinator

	cleanups []func()
}

// New 按配置构建容器；失败时已创建的连接会被关闭
func New(ctx context.Context, cfg *config.Config) (c *Container, err error) {
	c = &Container{Config: cfg}
	defer func() {
		if err != nil {
			c.Close()
			c = nil
		}
	}()

	if err = c.initData(ctx); err != nil {
		return nil, err
	}
	if err = c.initMessaging(); err != nil {
		return nil, err
	}

	embedder, err := newEmbedder(ctx, &cfg.Embedding)
	if err != nil {
		return nil, err
	}
	c.Embedder = embedder

	backend, err := c.indexBackend(ctx)
	if err != nil {
		return nil, err
	}
	store, err := c.blobStore(ctx)
	if err != nil {
		return nil, err
	}
	c.Indexes = vectorindex.NewManager(backend, store, c.Documents, vectorindex.Options{
		Dimension: cfg.Embedding.Dimension,
		CacheSize: cfg.Index.CacheSize,
	})
	logger.Info(ctx, "vector index configured", "backend", backend.Name(), "store", store.Name())

	c.Access = access.NewFilter(c.Documents, c.Grants, c.Audit)
	c.Retrieval = retrieval.NewEngine(c.Access, c.Indexes, c.queryEmbedder(), retrieval.Options{
		DefaultK:    cfg.Retrieval.DefaultK,
		MaxK:        cfg.Retrieval.MaxK,
		MaxParallel: cfg.Retrieval.MaxParallel,
	})
	c.Synthesizer = c.newSynthesizer(ctx)
	c.Query = query.NewService(c.Retrieval, c.Synthesizer, c.Audit)

	chunker, err := chunking.NewWindowChunker(cfg.Chunking.WindowSize, cfg.Chunking.Overlap)
	if err != nil {
		return nil, err
	}
	locker, err := c.locker()
	if err != nil {
		return nil, err
	}
	deps := ingestion.Deps{
		Documents: c.Documents,
		Chunker:   chunker,
		Embedder:  c.Embedder,
		Indexes:   c.Indexes,
		Locker:    locker,
		Audit:     c.Audit,
	}
	if c.Producer != nil {
		deps.Publisher = c.Producer
	}
	c.Ingestion = ingestion.NewCoordinator(deps, cfg.Ingestion)
	return c, nil
}

// Close 逆序释放资源
func (c *Container) Close() {
	for i := len(c.cleanups) - 1; i >= 0; i-- {
		c.cleanups[i]()
	}
	c.cleanups = nil
}

func (c *Container) onClose(fn func()) {
	c.cleanups = append(c.cleanups, fn)
}

func (c *Container) initData(ctx context.Context) error {
	cfg := c.Config
	switch cfg.Database.Driver {
	case "memory":
		c.Documents = memory.NewDocumentRepository()
		c.Grants = memory.NewGrantRepository()
	case "", "postgres":
		client, err := postgres.NewClient(&cfg.Database.Postgres)
		if err != nil {
			return err
		}
		c.Postgres = client
		c.onClose(func() { _ = client.Close() })
		c.Documents = postgres.NewDocumentRepository(client)
		c.Grants = postgres.NewGrantRepository(client)
	default:
		return fmt.Errorf("unknown database.driver %q", cfg.Database.Driver)
	}

	if cfg.Cache.Redis.Host != "" {
		client, err := redis.NewClient(&cfg.Cache.Redis)
		if err != nil {
			return err
		}
		c.Redis = client
		c.onClose(func() { _ = client.Close() })
		c.RateLimiter = redis.NewRateLimiter(client)
	} else {
		logger.Warn(ctx, "redis not configured, streams, distributed lock and rate limiting are disabled")
	}
	return nil
}

func (c *Container) initMessaging() error {
	if c.Redis == nil {
		c.Audit = messaging.NewAuditSink(nil)
		return nil
	}
	c.Producer = messaging.NewProducer(c.Redis.Redis(), int64(c.Config.Messaging.RedisStream.MaxLen))
	c.Audit = messaging.NewAuditSink(c.Producer)
	return nil
}

func newEmbedder(ctx context.Context, cfg *config.EmbeddingConfig) (*embedding.Client, error) {
	var provider embedding.Provider
	switch cfg.Provider {
	case "http":
		p, err := embedding.NewHTTPProvider(cfg)
		if err != nil {
			return nil, err
		}
		provider = p
	case "", "eino":
		e, err := embedding.NewEinoEmbedder(ctx, cfg)
		if err != nil {
			return nil, err
		}
		provider = embedding.NewEinoProvider(e)
	default:
		return nil, fmt.Errorf("unknown embedding.provider %q", cfg.Provider)
	}
	return embedding.NewClient(provider, cfg)
}

// queryEmbedder 配置了 Redis 与缓存时长时缓存查询向量
func (c *Container) queryEmbedder() service.Embedder {
	ttl := c.Config.Retrieval.QueryCacheTTL
	if c.Redis == nil || ttl <= 0 {
		return c.Embedder
	}
	return embedding.NewCachedEmbedder(c.Embedder, redis.NewCache(c.Redis, "rag:"), c.Config.Embedding.Model, ttl)
}

func (c *Container) indexBackend(ctx context.Context) (vectorindex.Backend, error) {
	switch c.Config.Index.Backend {
	case "", vectorindex.BackendFlat:
		return vectorindex.NewFlatBackend(), nil
	case vectorindex.BackendMilvus:
		client, err := milvus.NewClient(ctx, &c.Config.Vector.Milvus)
		if err != nil {
			return nil, err
		}
		c.Milvus = client
		c.onClose(func() { _ = client.Close() })
		repo := milvus.NewRepository(client, c.Config.Embedding.Dimension)
		if err := repo.EnsureCollection(ctx); err != nil {
			return nil, err
		}
		return vectorindex.NewMilvusBackend(repo), nil
	}
	return nil, fmt.Errorf("unknown index.backend %q", c.Config.Index.Backend)
}

func (c *Container) blobStore(ctx context.Context) (vectorindex.BlobStore, error) {
	sc := c.Config.Index.Store
	var (
		store vectorindex.BlobStore
		err   error
	)
	switch sc.Backend {
	case "memory":
		store = memory.NewIndexStore()
	case "", "filesystem":
		store, err = filesystem.NewOsIndexStore(sc.Filesystem.Root)
	case "sqlite":
		store, err = sqlite.NewIndexStore(sc.SQLite.Path)
	case "mongo":
		store, err = mongodb.Connect(ctx, &sc.Mongo)
	case "redis":
		if c.Redis == nil {
			return nil, fmt.Errorf("index.store.backend redis requires cache.redis")
		}
		store = redis.NewIndexStore(c.Redis, sc.Redis.KeyPrefix)
	case "postgres":
		if c.Postgres == nil {
			return nil, fmt.Errorf("index.store.backend postgres requires database.driver postgres")
		}
		store = postgres.NewIndexStore(c.Postgres)
	default:
		return nil, fmt.Errorf("unknown index.store.backend %q", sc.Backend)
	}
	if err != nil {
		return nil, err
	}
	c.onClose(func() { _ = store.Close() })
	return store, nil
}

func (c *Container) locker() (ingestion.Locker, error) {
	switch c.Config.Ingestion.Lock.Backend {
	case "local":
		return ingestion.NewLocalLocker(), nil
	case "", "redis":
		if c.Redis == nil {
			return ingestion.NewLocalLocker(), nil
		}
		return redis.NewDocumentLocker(c.Redis, c.Config.Ingestion.Lock.TTL), nil
	}
	return nil, fmt.Errorf("unknown ingestion.lock.backend %q", c.Config.Ingestion.Lock.Backend)
}

func (c *Container) newSynthesizer(ctx context.Context) *synthesis.Synthesizer {
	cfg := c.Config
	factory := llm.NewEinoFactory(&cfg.LLM)
	name := factory.Resolve(cfg.Synthesis.Provider)

	var chatModel model.BaseChatModel
	m, err := factory.Get(ctx, name)
	if err != nil {
		logger.Warn(ctx, "chat model unavailable, answers will be extractive", "provider", name, "error", err.Error())
	} else {
		chatModel = m
	}
	breaker := embedding.NewBreaker("synthesis-"+name, cfg.Synthesis.Breaker)
	return synthesis.NewSynthesizer(chatModel, name, breaker, cfg.Synthesis)
}
