// Package router 提供 HTTP 路由配置
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"shayak-swasth-rag/internal/app"
	"shayak-swasth-rag/internal/config"
	"shayak-swasth-rag/internal/interfaces/http/handler"
	"shayak-swasth-rag/internal/interfaces/http/middleware"
)

// Handlers 路由依赖的处理器
type Handlers struct {
	Health    *handler.HealthHandler
	Documents *handler.DocumentHandler
	Query     *handler.QueryHandler
	Grants    *handler.GrantHandler
}

// Router HTTP 路由器
type Router struct {
	engine   *gin.Engine
	cfg      *config.Config
	handlers Handlers
	limiter  middleware.RateLimiter
}

// New 创建新的路由器；limiter 为 nil 时不限流
func New(cfg *config.Config, handlers Handlers, limiter middleware.RateLimiter) *Router {
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := &Router{
		engine:   gin.New(),
		cfg:      cfg,
		handlers: handlers,
		limiter:  limiter,
	}

	r.setupMiddleware()
	r.setupRoutes()

	return r
}

// NewFromContainer 由进程容器组装处理器
func NewFromContainer(c *app.Container) *Router {
	var pg, rdb, mv handler.HealthChecker
	if c.Postgres != nil {
		pg = c.Postgres
	}
	if c.Redis != nil {
		rdb = c.Redis
	}
	if c.Milvus != nil {
		mv = c.Milvus
	}

	handlers := Handlers{
		Health: handler.NewHealthHandler(c.Config.App.Version,
			handler.Dependency{Name: "postgres", Checker: pg, Required: true},
			handler.Dependency{Name: "redis", Checker: rdb, Required: true},
			handler.Dependency{Name: "milvus", Checker: mv},
		),
		Documents: handler.NewDocumentHandler(c.Documents, c.Ingestion, c.Access, c.Indexes, c.Producer == nil),
		Query:     handler.NewQueryHandler(c.Query),
		Grants:    handler.NewGrantHandler(c.Documents, c.Grants),
	}

	var limiter middleware.RateLimiter
	if c.RateLimiter != nil {
		limiter = c.RateLimiter
	}
	return New(c.Config, handlers, limiter)
}

// Engine 返回 Gin Engine
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// setupMiddleware 配置中间件
func (r *Router) setupMiddleware() {
	r.engine.Use(middleware.Recovery())

	// 追踪先于请求 ID，使请求 ID 能写入 span
	if r.cfg.Observability.Tracing.Enabled {
		r.engine.Use(middleware.Trace(r.cfg.App.Name))
		r.engine.Use(middleware.TraceContext())
	}
	r.engine.Use(middleware.RequestID())

	r.engine.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: r.cfg.Security.CORS.AllowedOrigins,
		AllowedMethods: r.cfg.Security.CORS.AllowedMethods,
		AllowedHeaders: r.cfg.Security.CORS.AllowedHeaders,
	}))

	if r.cfg.Observability.Metrics.Enabled {
		r.engine.Use(middleware.Metrics())
	}
	r.engine.Use(middleware.AccessLog(middleware.DefaultSkipPaths...))
}

// setupRoutes 配置路由
func (r *Router) setupRoutes() {
	if h := r.handlers.Health; h != nil {
		r.engine.GET("/health", h.Health)
		r.engine.GET("/ready", h.Ready)
		r.engine.GET("/live", h.Live)
	}

	if r.cfg.Observability.Metrics.Enabled {
		path := r.cfg.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.engine.GET(path, gin.WrapH(promhttp.Handler()))
	}

	v1 := r.engine.Group("/v1")
	v1.Use(
		middleware.Auth(middleware.AuthConfig{
			Secret:    r.cfg.Security.JWT.Secret,
			Issuer:    r.cfg.Security.JWT.Issuer,
			SkipPaths: middleware.DefaultSkipPaths,
			Enabled:   r.cfg.Security.JWT.Enabled,
		}),
		middleware.RequirePrincipal(),
		middleware.RateLimit(middleware.RateLimitConfig{
			Enabled:           r.cfg.Security.RateLimit.Enabled,
			RequestsPerSecond: r.cfg.Security.RateLimit.RequestsPerSecond,
			Burst:             r.cfg.Security.RateLimit.Burst,
			KeyPrefix:         "rag:ratelimit",
		}, r.limiter),
	)

	if h := r.handlers.Documents; h != nil {
		documents := v1.Group("/documents")
		{
			documents.POST("", h.SubmitDocument)
			documents.GET("", h.ListDocuments)
			documents.GET("/:id", h.GetDocument)
			documents.GET("/:id/versions", middleware.RequireSystemScope(), h.ListVersions)
		}
	}

	if h := r.handlers.Grants; h != nil {
		grants := v1.Group("/documents/:id/grants")
		{
			grants.POST("", h.CreateGrant)
			grants.GET("", h.ListGrants)
			grants.DELETE("/:principal", h.RevokeGrant)
		}
	}

	if h := r.handlers.Query; h != nil {
		v1.POST("/query", h.Query)
	}
}
