// Package embedding 提供 Embedding 服务客户端
package embedding

import (
	"context"
	"errors"
	"net"
	"net/http"
	"regexp"
	"strconv"

	apperrors "shayak-swasth-rag/pkg/errors"
)

// Provider 单次调用外部嵌入服务的最小适配器，批量切分、限流、熔断由 Client 负责
type Provider interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
}

// StatusError 外部服务返回的非 2xx 响应
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return "embedding provider returned status " + strconv.Itoa(e.StatusCode)
	}
	return "embedding provider returned status " + strconv.Itoa(e.StatusCode) + ": " + e.Body
}

var statusCodePattern = regexp.MustCompile(`status code: (\d{3})`)

// Classify 将提供方错误归类为 Transient 或 Permanent
//
// 超时、网络错误、429、5xx 为 Transient；其余 4xx（含鉴权失败）为 Permanent。
// 无法识别的错误按 Transient 处理，交给重试上限兜底。
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if apperrors.HasCode(err, apperrors.CodeEmbeddingTransient) || apperrors.HasCode(err, apperrors.CodeEmbeddingPermanent) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Wrap(err, apperrors.CodeEmbeddingTransient, "embedding call timed out")
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return apperrors.Wrap(err, apperrors.CodeEmbeddingTransient, "embedding network error")
	}

	status := 0
	var se *StatusError
	if errors.As(err, &se) {
		status = se.StatusCode
	} else if m := statusCodePattern.FindStringSubmatch(err.Error()); m != nil {
		status, _ = strconv.Atoi(m[1])
	}
	return classifyStatus(err, status)
}

func classifyStatus(err error, status int) error {
	switch {
	case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout:
		return apperrors.Wrap(err, apperrors.CodeEmbeddingTransient, "embedding provider throttled")
	case status >= 500:
		return apperrors.Wrap(err, apperrors.CodeEmbeddingTransient, "embedding provider unavailable")
	case status >= 400:
		return apperrors.Wrap(err, apperrors.CodeEmbeddingPermanent, "embedding request rejected")
	default:
		return apperrors.Wrap(err, apperrors.CodeEmbeddingTransient, "embedding call failed")
	}
}
