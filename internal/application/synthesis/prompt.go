package synthesis

import (
	"fmt"
	"strings"

	"shayak-swasth-rag/internal/application/retrieval"
)

const systemPrompt = `You answer questions about a patient's medical documents.
Use only the numbered context passages. Cite every passage you rely on with its marker, for example [1] or [2][3].
If the context does not contain the answer, say so plainly. Do not give a diagnosis or treatment advice that the passages do not state.`

// BuildPromptContext 将检索结果格式化为带编号的上下文块，总长度不超过 maxRunes
//
// 返回上下文文本与实际纳入的结果数，编号 [n] 对应 results[n-1]。
func BuildPromptContext(results []retrieval.Result, maxChunks, maxRunes int) (string, int) {
	if len(results) == 0 {
		return "", 0
	}
	if maxChunks <= 0 {
		maxChunks = 8
	}
	if maxRunes <= 0 {
		maxRunes = 4000
	}

	n := len(results)
	if n > maxChunks {
		n = maxChunks
	}

	var (
		lines    []string
		used     int
		included int
	)
	for i := 0; i < n; i++ {
		r := results[i]
		prefix := fmt.Sprintf("[%d] (%s#%d) ", i+1, r.DocumentID, r.Sequence)
		remaining := maxRunes - used - runeLen(prefix)
		if remaining <= 0 {
			break
		}
		txt := truncateRunes(compactOneLine(r.Text), remaining)
		if txt == "" {
			break
		}
		line := prefix + txt
		lines = append(lines, line)
		used += runeLen(line) + 1
		included++
	}
	return strings.Join(lines, "\n"), included
}

func userPrompt(query, context string) string {
	return "Context:\n" + context + "\n\nQuestion: " + strings.TrimSpace(query)
}

func compactOneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max == 1 {
		return "…"
	}
	return strings.TrimSpace(string(r[:max-1])) + "…"
}

func runeLen(s string) int {
	return len([]rune(s))
}
