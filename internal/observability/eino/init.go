package eino

import (
	"sync"

	einocallbacks "github.com/cloudwego/eino/callbacks"
	cbtemplate "github.com/cloudwego/eino/utils/callbacks"

	"shayak-swasth-rag/internal/config"
)

var (
	initOnce   sync.Once
	registered bool
)

// Init 注册答案生成与向量化调用的全局 callbacks，进程内只生效一次。
// 指标与追踪都关闭时不注册，返回是否已注册。
func Init(cfg config.ObservabilityConfig) bool {
	initOnce.Do(func() {
		if !cfg.Metrics.Enabled && !cfg.Tracing.Enabled {
			return
		}
		einocallbacks.AppendGlobalHandlers(cbtemplate.NewHandlerHelper().
			ChatModel(newChatModelCallbackHandler()).
			Embedding(newEmbeddingCallbackHandler()).
			Handler())
		registered = true
	})
	return registered
}
