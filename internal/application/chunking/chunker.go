// Package chunking 把提取后的文本切分为带重叠的固定窗口
package chunking

import (
	"shayak-swasth-rag/internal/domain/entity"
	apperrors "shayak-swasth-rag/pkg/errors"
)

const (
	DefaultWindowSize = 1000
	DefaultOverlap    = 200
)

// Chunker 分块端口
type Chunker interface {
	Chunk(documentID string, version int64, text string) ([]entity.Chunk, error)
}

// WindowChunker 以 rune 为单位的滑动窗口分块器
//
// 窗口每次前进 WindowSize-Overlap 个 rune，最后一个窗口截断到文本末尾。
// 文本不做 trim，所有窗口的偏移区间并起来恰好覆盖 [0, len)。
type WindowChunker struct {
	WindowSize int
	Overlap    int
}

// NewWindowChunker 创建分块器并校验参数
func NewWindowChunker(windowSize, overlap int) (*WindowChunker, error) {
	c := &WindowChunker{WindowSize: windowSize, Overlap: overlap}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *WindowChunker) validate() error {
	if c.WindowSize <= 0 {
		return apperrors.Newf(apperrors.CodeInvalidParam, "window_size must be positive, got %d", c.WindowSize)
	}
	if c.Overlap < 0 {
		return apperrors.Newf(apperrors.CodeInvalidParam, "overlap must not be negative, got %d", c.Overlap)
	}
	if c.Overlap >= c.WindowSize {
		return apperrors.Newf(apperrors.CodeInvalidParam, "overlap %d must be smaller than window_size %d", c.Overlap, c.WindowSize)
	}
	return nil
}

// Chunk 切分文本；不超过窗口（含空文本）时恰好返回一个覆盖全文的分块
func (c *WindowChunker) Chunk(documentID string, version int64, text string) ([]entity.Chunk, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	runes := []rune(text)
	spans := Windows(len(runes), c.WindowSize, c.Overlap)
	out := make([]entity.Chunk, 0, len(spans))
	for seq, sp := range spans {
		out = append(out, entity.Chunk{
			ID:          entity.ChunkID(documentID, version, seq),
			DocumentID:  documentID,
			Version:     version,
			Sequence:    seq,
			OffsetStart: sp.Start,
			OffsetEnd:   sp.End,
			Text:        string(runes[sp.Start:sp.End]),
		})
	}
	return out, nil
}

// Span 半开区间 [Start, End)
type Span struct {
	Start int
	End   int
}

// Windows 计算长度为 n 的文本上的窗口区间，调用方保证参数合法
func Windows(n, windowSize, overlap int) []Span {
	if n <= windowSize {
		return []Span{{Start: 0, End: n}}
	}
	step := windowSize - overlap

	out := make([]Span, 0, (n-overlap+step-1)/step)
	for start := 0; ; start += step {
		end := start + windowSize
		if end >= n {
			out = append(out, Span{Start: start, End: n})
			break
		}
		out = append(out, Span{Start: start, End: end})
	}
	return out
}
