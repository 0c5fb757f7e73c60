package eino

import "context"

type stageKey struct{}
type providerKey struct{}

// WithStage 标记当前模型调用所属的管线阶段（ingest/query/answer）
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, stageKey{}, stage)
}

// StageFromContext 读取管线阶段，缺省为 unknown
func StageFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(stageKey{}).(string); ok && v != "" {
		return v
	}
	return "unknown"
}

// WithProvider 标记模型提供方
func WithProvider(ctx context.Context, provider string) context.Context {
	return context.WithValue(ctx, providerKey{}, provider)
}

// ProviderFromContext 读取模型提供方，缺省为 unknown
func ProviderFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(providerKey{}).(string); ok && v != "" {
		return v
	}
	return "unknown"
}
