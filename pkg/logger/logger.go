// Package logger 提供结构化日志功能
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// ContextKey 用于从 context 中提取值的键类型
type ContextKey string

const (
	TraceIDKey     ContextKey = "trace_id"
	SpanIDKey      ContextKey = "span_id"
	RequestIDKey   ContextKey = "request_id"
	PrincipalIDKey ContextKey = "principal_id"
	DocumentIDKey  ContextKey = "document_id"
	MessageIDKey   ContextKey = "message_id"
)

// 这些键的值可能含病历原文或凭证，一律不落日志
var redactedKeys = map[string]struct{}{
	"text":           {},
	"extracted_text": {},
	"query":          {},
	"answer":         {},
	"authorization":  {},
	"token":          {},
	"api_key":        {},
	"password":       {},
}

const redacted = "[REDACTED]"

var defaultLogger *slog.Logger

// Init 初始化日志器，输出到 stdout
func Init(level string, format string) {
	InitWithWriter(os.Stdout, level, format)
}

// InitWithWriter 输出到指定 writer
func InitWithWriter(w io.Writer, level string, format string) {
	lvl := parseLevel(level)
	opts := &slog.HandlerOptions{
		Level:       lvl,
		AddSource:   lvl <= slog.LevelDebug,
		ReplaceAttr: redact,
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if _, ok := redactedKeys[strings.ToLower(a.Key)]; ok {
		return slog.String(a.Key, redacted)
	}
	return a
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Default 返回默认日志器
func Default() *slog.Logger {
	if defaultLogger == nil {
		Init("info", "json")
	}
	return defaultLogger
}

// FromContext 带上 context 中的关联 ID；未显式注入 trace_id 时取当前 span
func FromContext(ctx context.Context) *slog.Logger {
	logger := Default()

	traceID, spanID := ctx.Value(TraceIDKey), ctx.Value(SpanIDKey)
	if traceID == nil {
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			traceID, spanID = sc.TraceID().String(), sc.SpanID().String()
		}
	}
	if traceID != nil {
		logger = logger.With(string(TraceIDKey), traceID)
	}
	if spanID != nil {
		logger = logger.With(string(SpanIDKey), spanID)
	}

	for _, key := range []ContextKey{RequestIDKey, PrincipalIDKey, DocumentIDKey, MessageIDKey} {
		if v := ctx.Value(key); v != nil {
			logger = logger.With(string(key), v)
		}
	}
	return logger
}

// WithContext 将日志上下文信息注入到 context
func WithContext(ctx context.Context, key ContextKey, value any) context.Context {
	return context.WithValue(ctx, key, value)
}

// WithDocument 注入 document_id
func WithDocument(ctx context.Context, documentID string) context.Context {
	if documentID == "" {
		return ctx
	}
	return WithContext(ctx, DocumentIDKey, documentID)
}

func Info(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).Info(msg, args...)
}

func Debug(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).Debug(msg, args...)
}

func Warn(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).Warn(msg, args...)
}

// Error err 为 nil 时只记录 msg
func Error(ctx context.Context, msg string, err error, args ...any) {
	if err != nil {
		args = append(args, "error", err.Error())
	}
	FromContext(ctx).Error(msg, args...)
}

// Fatal 记录错误并退出进程
func Fatal(ctx context.Context, msg string, err error, args ...any) {
	Error(ctx, msg, err, args...)
	os.Exit(1)
}
