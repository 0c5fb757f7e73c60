// Package llm 构造答案生成使用的 Eino ChatModel
package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"shayak-swasth-rag/internal/config"
)

// ProviderExtractive 关闭生成，只做抽取式回答
const ProviderExtractive = "extractive"

// EinoFactory 按提供商名称缓存 ChatModel
type EinoFactory struct {
	config *config.LLMConfig
	models map[string]model.BaseChatModel
	mu     sync.RWMutex
}

// NewEinoFactory 创建工厂
func NewEinoFactory(cfg *config.LLMConfig) *EinoFactory {
	return &EinoFactory{
		config: cfg,
		models: make(map[string]model.BaseChatModel),
	}
}

// Resolve 返回实际使用的提供商名称
func (f *EinoFactory) Resolve(name string) string {
	if name == "" {
		return f.config.DefaultProvider
	}
	return name
}

// Get 获取指定提供商的 ChatModel；extractive 或未配置提供商时返回 nil
func (f *EinoFactory) Get(ctx context.Context, name string) (model.BaseChatModel, error) {
	name = f.Resolve(name)
	if name == "" || name == ProviderExtractive {
		return nil, nil
	}

	f.mu.RLock()
	m, ok := f.models[name]
	f.mu.RUnlock()
	if ok {
		return m, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok = f.models[name]; ok {
		return m, nil
	}

	providerCfg, ok := f.config.Providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %s not found in LLM config", name)
	}
	if providerCfg.APIKey == "" {
		return nil, fmt.Errorf("provider %s has no api_key", name)
	}

	temperature := float32(providerCfg.Temperature)
	cfg := &openai.ChatModelConfig{
		APIKey:      providerCfg.APIKey,
		BaseURL:     providerCfg.BaseURL,
		Model:       providerCfg.Model,
		Temperature: &temperature,
		Timeout:     providerCfg.Timeout,
	}
	if providerCfg.MaxTokens > 0 {
		maxTokens := providerCfg.MaxTokens
		cfg.MaxTokens = &maxTokens
	}

	chatModel, err := openai.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create eino chat model for %s: %w", name, err)
	}
	f.models[name] = chatModel
	return chatModel, nil
}
