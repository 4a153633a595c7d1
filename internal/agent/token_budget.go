package agent

import (
	"encoding/json"

	"github.com/jkaninda/orderdesk/internal/llm"
)

const maxInputTokens = 12000

func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}

func estimateMessageTokens(msg llm.Message) int {
	tokens := estimateTokens(string(msg.Role)) + 4
	if msg.Content != "" {
		tokens += estimateTokens(msg.Content)
	}
	for _, b := range msg.Blocks {
		tokens += estimateTokens(b.Text)
		if b.Input != nil {
			raw, _ := json.Marshal(b.Input)
			tokens += estimateTokens(string(raw))
		}
		tokens += estimateTokens(b.Name) + estimateTokens(b.ID) + estimateTokens(b.ToolUseID)
	}
	return tokens
}

// trimHistoryToTokenBudget drops the oldest messages until the estimate
// fits. The newest user message is always kept.
func trimHistoryToTokenBudget(history []llm.Message, fixedTokens, maxTokens int) []llm.Message {
	budget := maxTokens - fixedTokens
	if budget <= 0 {
		budget = 2000 // safety minimum
	}

	total := 0
	for _, m := range history {
		total += estimateMessageTokens(m)
	}
	if total <= budget {
		return history
	}

	for len(history) > 1 && total > budget {
		total -= estimateMessageTokens(history[0])
		history = history[1:]
	}
	return trimLeading(history)
}
