// Package config 提供配置加载功能
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

// Load 加载 configs/ 目录下的配置文件
// 按优先级加载：默认配置 -> 环境配置 -> 环境变量
func Load() (*Config, error) {
	dir := os.Getenv("CONFIG_DIR")
	if dir == "" {
		dir = "configs"
	}
	return LoadFrom(dir)
}

// LoadFrom 从指定目录加载配置；目录下缺少 config.yaml 时只使用默认值
func LoadFrom(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	// 1. 加载默认配置
	if err := loadConfigFile(v, filepath.Join(dir, "config.yaml"), true); err != nil {
		return nil, err
	}

	// 2. 加载环境特定配置
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}
	envFile := filepath.Join(dir, fmt.Sprintf("config.%s.yaml", env))
	if err := loadConfigFile(v, envFile, true); err != nil {
		return nil, err
	}

	// 3. 绑定环境变量 (直接覆盖)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 设置默认值 (兜底)
	setDefaults(v)

	// 解析配置
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadConfigFile 读取文件，执行环境变量替换，并加载到 viper
func loadConfigFile(v *viper.Viper, path string, optional bool) error {
	content, err := os.ReadFile(path)
	if err != nil {
		if optional && os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	// 执行环境变量替换
	expanded := expandEnv(string(content))

	// 加载到 viper
	reader := strings.NewReader(expanded)
	if v.ConfigFileUsed() == "" {
		if err := v.ReadConfig(reader); err != nil {
			return fmt.Errorf("failed to read processed config %s: %w", path, err)
		}
		// 手动标记已加载文件，防止后续 ReadInConfig 报错
		v.SetConfigFile(path)
	} else {
		if err := v.MergeConfig(reader); err != nil {
			return fmt.Errorf("failed to merge processed config %s: %w", path, err)
		}
	}

	return nil
}

// expandEnv 替换字符串中的 ${VAR:default} 占位符
func expandEnv(s string) string {
	// 匹配 ${VAR} 或 ${VAR:default}
	// g1: 变量名, g2: 默认值部分（含冒号）, g3: 默认值内容
	re := regexp.MustCompile(`\${(\w+)(:([^}]*))?}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		submatch := re.FindStringSubmatch(match)
		key := submatch[1]
		hasDefault := submatch[2] != ""
		defVal := submatch[3]

		val, ok := os.LookupEnv(key)
		if ok {
			return val
		}
		if hasDefault {
			return defVal
		}
		return match // 保留原样以便识别未定义的变量
	})
}

// MustLoad 加载配置，失败时 panic
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate 校验跨字段约束
func (c *Config) Validate() error {
	if c.Chunking.WindowSize <= 0 {
		return fmt.Errorf("chunking.window_size must be positive, got %d", c.Chunking.WindowSize)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.WindowSize {
		return fmt.Errorf("chunking.overlap must be in [0, window_size), got %d", c.Chunking.Overlap)
	}
	if c.Embedding.BatchSize <= 0 {
		return fmt.Errorf("embedding.batch_size must be positive, got %d", c.Embedding.BatchSize)
	}
	if c.Retrieval.DefaultK <= 0 || c.Retrieval.DefaultK > c.Retrieval.MaxK {
		return fmt.Errorf("retrieval.default_k must be in (0, max_k], got %d", c.Retrieval.DefaultK)
	}
	if c.Ingestion.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("ingestion.retry.max_attempts must be positive, got %d", c.Ingestion.Retry.MaxAttempts)
	}
	if c.Ingestion.StaleAfter > 0 && c.Ingestion.StaleAfter <= c.Ingestion.Timeout {
		return fmt.Errorf("ingestion.stale_after must exceed ingestion.timeout, got %s", c.Ingestion.StaleAfter)
	}
	switch c.Index.Backend {
	case "flat", "milvus":
	default:
		return fmt.Errorf("unknown index.backend %q", c.Index.Backend)
	}
	switch c.Index.Store.Backend {
	case "filesystem", "sqlite", "redis", "mongo", "postgres", "memory":
	default:
		return fmt.Errorf("unknown index.store.backend %q", c.Index.Store.Backend)
	}
	return nil
}

// setDefaults 设置配置默认值
func setDefaults(v *viper.Viper) {
	// 应用默认值
	v.SetDefault("app.name", "shayak-swasth-rag")
	v.SetDefault("app.version", "v0.0.0")
	v.SetDefault("app.env", "development")

	// HTTP 服务器默认值
	v.SetDefault("server.http.host", "0.0.0.0")
	v.SetDefault("server.http.port", 8080)
	v.SetDefault("server.http.read_timeout", "30s")
	v.SetDefault("server.http.write_timeout", "60s")
	v.SetDefault("server.http.idle_timeout", "120s")

	// 数据库默认值
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "postgres")
	v.SetDefault("database.postgres.database", "shayak_swasth")
	v.SetDefault("database.postgres.ssl_mode", "disable")
	v.SetDefault("database.postgres.max_open_conns", 50)
	v.SetDefault("database.postgres.max_idle_conns", 10)
	v.SetDefault("database.postgres.conn_max_lifetime", "30m")
	v.SetDefault("database.postgres.conn_max_idle_time", "5m")

	// Redis 默认值
	v.SetDefault("cache.redis.host", "localhost")
	v.SetDefault("cache.redis.port", 6379)
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.pool_size", 100)
	v.SetDefault("cache.redis.min_idle_conns", 10)
	v.SetDefault("cache.redis.dial_timeout", "5s")
	v.SetDefault("cache.redis.read_timeout", "3s")
	v.SetDefault("cache.redis.write_timeout", "3s")

	// Milvus 默认值
	v.SetDefault("vector.milvus.host", "localhost")
	v.SetDefault("vector.milvus.port", 19530)
	v.SetDefault("vector.milvus.collection_prefix", "shayak")
	v.SetDefault("vector.milvus.index_type", "HNSW")
	v.SetDefault("vector.milvus.metric_type", "COSINE")
	v.SetDefault("vector.milvus.hnsw_m", 16)
	v.SetDefault("vector.milvus.hnsw_ef_construction", 200)
	v.SetDefault("vector.milvus.hnsw_ef", 128)

	// LLM 默认值
	v.SetDefault("llm.default_provider", "openai")

	// Embedding 默认值
	v.SetDefault("embedding.provider", "eino")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimension", 1536)
	v.SetDefault("embedding.batch_size", 64)
	v.SetDefault("embedding.timeout", "30s")
	v.SetDefault("embedding.rate_limit.requests_per_second", 10)
	v.SetDefault("embedding.rate_limit.burst", 5)
	v.SetDefault("embedding.breaker.max_requests", 3)
	v.SetDefault("embedding.breaker.interval", "60s")
	v.SetDefault("embedding.breaker.timeout", "30s")
	v.SetDefault("embedding.breaker.min_requests", 5)
	v.SetDefault("embedding.breaker.failure_ratio", 0.6)

	// 分块与检索默认值
	v.SetDefault("chunking.window_size", 1000)
	v.SetDefault("chunking.overlap", 200)
	v.SetDefault("retrieval.default_k", 5)
	v.SetDefault("retrieval.max_k", 50)
	v.SetDefault("retrieval.max_parallel", 8)
	v.SetDefault("retrieval.query_cache_ttl", "10m")

	// 答案生成默认值
	v.SetDefault("synthesis.timeout", "30s")
	v.SetDefault("synthesis.max_context_runes", 4000)
	v.SetDefault("synthesis.max_chunks", 8)
	v.SetDefault("synthesis.extractive_chunks", 3)
	v.SetDefault("synthesis.high_score", 0.8)
	v.SetDefault("synthesis.breaker.max_requests", 3)
	v.SetDefault("synthesis.breaker.interval", "60s")
	v.SetDefault("synthesis.breaker.timeout", "30s")
	v.SetDefault("synthesis.breaker.min_requests", 5)
	v.SetDefault("synthesis.breaker.failure_ratio", 0.6)

	// 索引默认值
	v.SetDefault("index.backend", "flat")
	v.SetDefault("index.cache_size", 256)
	v.SetDefault("index.retention", "720h")
	v.SetDefault("index.eviction_interval", "1h")
	v.SetDefault("index.store.backend", "filesystem")
	v.SetDefault("index.store.filesystem.root", "data/indexes")
	v.SetDefault("index.store.sqlite.path", "data/indexes.db")
	v.SetDefault("index.store.mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("index.store.mongo.database", "shayak_swasth")
	v.SetDefault("index.store.mongo.collection", "vector_indexes")
	v.SetDefault("index.store.mongo.timeout", "10s")
	v.SetDefault("index.store.redis.key_prefix", "rag:index:")

	// 摄取默认值
	v.SetDefault("ingestion.timeout", "10m")
	v.SetDefault("ingestion.reap_interval", "5m")
	v.SetDefault("ingestion.retry.max_attempts", 5)
	v.SetDefault("ingestion.retry.initial", "500ms")
	v.SetDefault("ingestion.retry.max", "30s")
	v.SetDefault("ingestion.retry.multiplier", 2.0)
	v.SetDefault("ingestion.lock.backend", "redis")
	v.SetDefault("ingestion.lock.ttl", "15m")

	// 消息队列默认值
	v.SetDefault("messaging.redis_stream.max_len", 100000)
	v.SetDefault("messaging.redis_stream.consumer_group_prefix", "cg")
	v.SetDefault("messaging.redis_stream.block_timeout", "5s")
	v.SetDefault("messaging.redis_stream.claim_interval", "30s")
	v.SetDefault("messaging.redis_stream.retry_limit", 3)
	v.SetDefault("messaging.redis_stream.retry_backoff.initial", "1s")
	v.SetDefault("messaging.redis_stream.retry_backoff.max", "1m")
	v.SetDefault("messaging.redis_stream.retry_backoff.multiplier", 2.0)

	// 可观测性默认值
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.endpoint", "localhost:4317")
	v.SetDefault("observability.tracing.sample_rate", 1.0)
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.path", "/metrics")

	// 安全默认值
	v.SetDefault("security.jwt.enabled", true)
	v.SetDefault("security.jwt.issuer", "shayak-swasth")
	v.SetDefault("security.jwt.expiration", "24h")
	v.SetDefault("security.rate_limit.enabled", true)
	v.SetDefault("security.rate_limit.requests_per_second", 100)
	v.SetDefault("security.rate_limit.burst", 200)
}
