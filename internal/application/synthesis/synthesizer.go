// Package synthesis 基于检索结果生成带引用的答案，生成不可用时退化为抽取式回答
package synthesis

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"

	"shayak-swasth-rag/internal/application/retrieval"
	"shayak-swasth-rag/internal/config"
	einoobs "shayak-swasth-rag/internal/observability/eino"
	apperrors "shayak-swasth-rag/pkg/errors"
	"shayak-swasth-rag/pkg/logger"
	"shayak-swasth-rag/pkg/metrics"
	"shayak-swasth-rag/pkg/tracer"
)

// Mode 答案生成方式
type Mode string

const (
	ModeGenerative Mode = "generative"
	ModeExtractive Mode = "extractive"
)

// Confidence 答案置信度
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

const noContextAnswer = "No relevant content was found in the documents you can access."

// Citation 答案引用的分块
type Citation struct {
	DocumentID string `json:"document_id"`
	Sequence   int    `json:"chunk_sequence_index"`
}

// Answer 生成结果
type Answer struct {
	Text       string     `json:"text"`
	Citations  []Citation `json:"citations"`
	Confidence Confidence `json:"confidence"`
	Mode       Mode       `json:"mode"`
}

// Synthesizer 答案生成器
type Synthesizer struct {
	model    model.BaseChatModel
	provider string
	breaker  *gobreaker.CircuitBreaker

	timeout          time.Duration
	maxContextRunes  int
	maxChunks        int
	extractiveChunks int
	highScore        float64
}

// NewSynthesizer 创建生成器；chatModel 为 nil 时只做抽取式回答
func NewSynthesizer(chatModel model.BaseChatModel, provider string, breaker *gobreaker.CircuitBreaker, cfg config.SynthesisConfig) *Synthesizer {
	s := &Synthesizer{
		model:            chatModel,
		provider:         provider,
		breaker:          breaker,
		timeout:          cfg.Timeout,
		maxContextRunes:  cfg.MaxContextRunes,
		maxChunks:        cfg.MaxChunks,
		extractiveChunks: cfg.ExtractiveChunks,
		highScore:        cfg.HighScore,
	}
	if s.timeout <= 0 {
		s.timeout = 30 * time.Second
	}
	if s.extractiveChunks <= 0 {
		s.extractiveChunks = 3
	}
	if s.highScore <= 0 {
		s.highScore = 0.8
	}
	return s
}

// Synthesize 生成答案；只有调用方取消时返回错误
func (s *Synthesizer) Synthesize(ctx context.Context, query string, results []retrieval.Result) (*Answer, error) {
	ctx, span := tracer.Start(ctx, "synthesis.Synthesize")
	defer span.End()

	var ans *Answer
	if len(results) == 0 {
		ans = &Answer{Text: noContextAnswer, Citations: []Citation{}, Confidence: ConfidenceLow, Mode: ModeExtractive}
	} else {
		var err error
		ans, err = s.generate(ctx, query, results)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				tracer.RecordError(span, ctxErr)
				return nil, ctxErr
			}
			logger.Warn(ctx, "synthesis unavailable, falling back to extractive answer",
				"provider", s.provider, "error", err.Error())
			ans = s.extractive(results)
		}
	}

	span.SetAttributes(
		attribute.String("synthesis.mode", string(ans.Mode)),
		attribute.String("synthesis.confidence", string(ans.Confidence)),
		attribute.Int("synthesis.citations", len(ans.Citations)),
	)
	metrics.SynthesisTotal.WithLabelValues(string(ans.Mode), string(ans.Confidence)).Inc()
	return ans, nil
}

func (s *Synthesizer) generate(ctx context.Context, query string, results []retrieval.Result) (*Answer, error) {
	if s.model == nil {
		return nil, apperrors.ErrSynthesisUnavailable.WithDetail("no chat model configured")
	}

	promptCtx, included := BuildPromptContext(results, s.maxChunks, s.maxContextRunes)
	if included == 0 {
		return nil, apperrors.ErrSynthesisUnavailable.WithDetail("context budget too small")
	}
	messages := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(userPrompt(query, promptCtx)),
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	callCtx = einoobs.WithStage(callCtx, "answer")
	callCtx = einoobs.WithProvider(callCtx, s.provider)

	call := func() (interface{}, error) {
		return s.model.Generate(callCtx, messages)
	}
	var (
		out interface{}
		err error
	)
	if s.breaker != nil {
		out, err = s.breaker.Execute(call)
	} else {
		out, err = call()
	}
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, apperrors.ErrSynthesisUnavailable.WithDetail("circuit open").WithError(err)
		}
		return nil, apperrors.ErrSynthesisUnavailable.WithError(err)
	}

	msg, _ := out.(*schema.Message)
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return nil, apperrors.ErrSynthesisUnavailable.WithDetail("empty completion")
	}

	citations := parseCitations(msg.Content, results[:included])
	if len(citations) == 0 {
		citations = citationsFor(results[:included])
	}
	return &Answer{
		Text:       strings.TrimSpace(msg.Content),
		Citations:  citations,
		Confidence: s.confidence(results, citations),
		Mode:       ModeGenerative,
	}, nil
}

func (s *Synthesizer) confidence(results []retrieval.Result, citations []Citation) Confidence {
	if float64(results[0].Score) >= s.highScore && len(citations) >= 2 {
		return ConfidenceHigh
	}
	return ConfidenceMedium
}

// extractive 原样拼接得分最高的若干分块，编号单独成行，分块文本不做任何改动
func (s *Synthesizer) extractive(results []retrieval.Result) *Answer {
	n := min(s.extractiveChunks, len(results))
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("[" + strconv.Itoa(i+1) + "]\n")
		b.WriteString(results[i].Text)
	}
	return &Answer{
		Text:       b.String(),
		Citations:  citationsFor(results[:n]),
		Confidence: ConfidenceLow,
		Mode:       ModeExtractive,
	}
}

var citationMarker = regexp.MustCompile(`\[(\d+)\]`)

// parseCitations 提取答案中的 [n] 标记，按首次出现顺序去重，越界编号忽略
func parseCitations(text string, included []retrieval.Result) []Citation {
	seen := make(map[int]bool)
	var out []Citation
	for _, m := range citationMarker.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > len(included) || seen[n] {
			continue
		}
		seen[n] = true
		r := included[n-1]
		out = append(out, Citation{DocumentID: r.DocumentID, Sequence: r.Sequence})
	}
	return out
}

func citationsFor(results []retrieval.Result) []Citation {
	out := make([]Citation, len(results))
	for i, r := range results {
		out[i] = Citation{DocumentID: r.DocumentID, Sequence: r.Sequence}
	}
	return out
}
