package llm

import "github.com/mira-ai/mira/internal/domain/models"

const (
	tokensPerTool = 100
	safetyMargin  = 1.05
)

// EstimateTokens approximates the prompt size of the next call. When the
// previous turn recorded an actual input token count, that measurement is
// the baseline; otherwise the estimate falls back to character count over
// four. Tool definitions add a flat per-tool cost and the whole figure gets
// a safety margin.
func EstimateTokens(lastInputTokens int, system []models.ContentBlock, messages []ChatMessage, toolCount int) int {
	var base float64
	if lastInputTokens > 0 {
		base = float64(lastInputTokens)
	} else {
		base = float64(contentChars(system, messages)) / 4
	}
	base += float64(toolCount * tokensPerTool)
	return int(base * safetyMargin)
}

func contentChars(system []models.ContentBlock, messages []ChatMessage) int {
	chars := 0
	for _, b := range system {
		chars += blockChars(b)
	}
	for _, m := range messages {
		for _, b := range m.Blocks {
			chars += blockChars(b)
		}
	}
	return chars
}

func blockChars(b models.ContentBlock) int {
	return len(b.Text) + len(b.Thinking) + len(b.Content) + len(b.Input)
}

// ReservedOutput is the context-window headroom a call must leave for the
// model's own reply.
func ReservedOutput(maxTokens, thinkingBudget int, thinkingEnabled bool) int {
	if thinkingEnabled {
		return maxTokens + thinkingBudget
	}
	return maxTokens
}
