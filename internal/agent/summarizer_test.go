package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jkaninda/orderdesk/internal/llm"
)

func conversation() []llm.Message {
	return []llm.Message{
		{Role: llm.RoleUser, Content: "Where is ORD123?"},
		{Role: llm.RoleAssistant, Content: "ORD123 has shipped."},
		{Role: llm.RoleUser, Content: "cancel ORD456"},
		{Role: llm.RoleAssistant, Content: "ORD456 can be cancelled. Please confirm."},
		{Role: llm.RoleSystem, Content: "System Note: The outcome of the last confirmed action was: ✅ Order #ORD456 (Coffee Mug) cancelled successfully."},
		{Role: llm.RoleUser, Content: "thanks"},
		{Role: llm.RoleAssistant, Content: "You're welcome."},
		{Role: llm.RoleUser, Content: "list my orders"},
		{Role: llm.RoleAssistant, Content: "You have no open orders."},
		{Role: llm.RoleUser, Content: "ok"},
	}
}

func TestSummarizeKeepsActionNotes(t *testing.T) {
	p := &scriptedProvider{responses: []*llm.Response{{Content: "The customer tracked one order and cancelled another."}}}
	history := conversation()

	out := summarizeHistory(context.Background(), p, history, 10, discardLogger())

	if len(p.requests) != 1 {
		t.Fatalf("provider calls = %d, want 1", len(p.requests))
	}
	sent := p.requests[0].Messages[0].Content
	if strings.Contains(sent, "System Note") {
		t.Error("action notes must not be paraphrased by the summary")
	}
	if !strings.Contains(sent, "cancel ORD456") {
		t.Errorf("folded text = %q", sent)
	}

	if len(out) != 5 {
		t.Fatalf("len = %d, want 5: %+v", len(out), out)
	}
	if !strings.HasPrefix(out[0].Content, summaryHeader) ||
		!strings.HasSuffix(out[0].Content, "Orders discussed: ORD123, ORD456") {
		t.Errorf("summary = %q", out[0].Content)
	}
	if out[1].Role != llm.RoleSystem || out[1].Content != history[4].Content {
		t.Errorf("note = %+v, want it kept verbatim", out[1])
	}
	if out[2].Role != llm.RoleUser || out[2].Content != "list my orders" {
		t.Errorf("tail starts with %+v", out[2])
	}
}

func TestSummarizeSkips(t *testing.T) {
	t.Run("below threshold", func(t *testing.T) {
		p := &scriptedProvider{}
		history := conversation()[:5]
		out := summarizeHistory(context.Background(), p, history, 10, discardLogger())
		if len(out) != len(history) || len(p.requests) != 0 {
			t.Errorf("len = %d, calls = %d", len(out), len(p.requests))
		}
	})
	t.Run("provider error", func(t *testing.T) {
		p := &scriptedProvider{err: errors.New("rate limited")}
		history := conversation()
		out := summarizeHistory(context.Background(), p, history, 10, discardLogger())
		if len(out) != len(history) {
			t.Errorf("len = %d, want history unchanged", len(out))
		}
	})
	t.Run("empty summary", func(t *testing.T) {
		p := &scriptedProvider{responses: []*llm.Response{{Content: "  "}}}
		history := conversation()
		out := summarizeHistory(context.Background(), p, history, 10, discardLogger())
		if len(out) != len(history) {
			t.Errorf("len = %d, want history unchanged", len(out))
		}
	})
}
