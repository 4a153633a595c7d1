package agent

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"

	"github.com/jkaninda/orderdesk/internal/llm"
	"github.com/jkaninda/orderdesk/internal/orders"
)

const summarizationPrompt = `Summarize the following order support conversation concisely.
Preserve: order ids, item names, order statuses, cancellation outcomes, and what the customer still wants.
Omit: greetings, redundant explanations, and raw tool output.
Never state that an order was cancelled unless the conversation says so.
Format as a brief paragraph.`

const (
	// SummarizeThreshold is the fraction of max history at which summarization triggers.
	SummarizeThreshold = 0.8

	summaryHeader    = "[Conversation Summary]"
	summaryMaxTokens = 512
)

var orderIDPattern = regexp.MustCompile(`\b` + orders.IDPrefix + `\d+\b`)

// summarizeHistory folds the older part of history into one summary message.
// System messages in the folded span carry confirmed action outcomes; they
// are kept verbatim after the summary instead of being paraphrased, and the
// order ids mentioned in the span are listed under the summary.
func summarizeHistory(ctx context.Context, provider llm.Provider, history []llm.Message, maxMessages int, logger *slog.Logger) []llm.Message {
	if len(history) < int(float64(maxMessages)*SummarizeThreshold) {
		return history
	}

	keepRecent := max(int(float64(maxMessages)*0.4), 2)
	cut := len(history) - keepRecent
	if cut < 4 {
		return history
	}
	// The kept tail must open on a plain user message.
	for cut < len(history)-1 &&
		(history[cut].Role == llm.RoleAssistant || hasToolResult(history[cut])) {
		cut++
	}

	var (
		sb    strings.Builder
		notes []llm.Message
		ids   []string
	)
	for _, msg := range history[:cut] {
		content := msg.Text()
		if content == "" {
			continue
		}
		for _, id := range orderIDPattern.FindAllString(content, -1) {
			if !slices.Contains(ids, id) {
				ids = append(ids, id)
			}
		}
		if msg.Role == llm.RoleSystem {
			notes = append(notes, msg)
			continue
		}
		// Earlier summaries are folded again.
		content = strings.TrimPrefix(content, summaryHeader+"\n")
		fmt.Fprintf(&sb, "[%s]: %s\n", msg.Role, content)
	}
	if sb.Len() == 0 {
		return history
	}

	resp, err := provider.SendMessage(ctx, &llm.Request{
		SystemPrompt: summarizationPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: sb.String()}},
		MaxTokens:    summaryMaxTokens,
	})
	if err != nil {
		logger.WarnContext(ctx, "conversation summarization failed, skipping",
			slog.String("error", err.Error()),
		)
		return history
	}
	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return history
	}
	if len(ids) > 0 {
		summary += "\nOrders discussed: " + strings.Join(ids, ", ")
	}

	out := make([]llm.Message, 0, 1+len(notes)+len(history)-cut)
	out = append(out, llm.Message{Role: llm.RoleUser, Content: summaryHeader + "\n" + summary})
	out = append(out, notes...)
	out = append(out, history[cut:]...)

	logger.InfoContext(ctx, "conversation history summarized",
		slog.Int("original_messages", len(history)),
		slog.Int("summarized_messages", cut),
		slog.Int("kept_notes", len(notes)),
		slog.Int("new_total", len(out)),
	)
	return out
}
