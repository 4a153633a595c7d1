package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jkaninda/orderdesk/internal/llm"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func completionServer(t *testing.T, check func(req apiRequest), resp apiResponse) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != completionsPath {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req apiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if check != nil {
			check(req)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSendMessageText(t *testing.T) {
	srv := completionServer(t, func(req apiRequest) {
		if req.Model != "gpt-4o-mini" {
			t.Errorf("model = %q", req.Model)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Role != "user" {
			t.Errorf("messages = %+v", req.Messages)
		}
		if req.ParallelToolCalls != nil {
			t.Error("parallel_tool_calls should be omitted without tools")
		}
	}, apiResponse{
		Model:   "gpt-4o-mini-2024-07-18",
		Choices: []apiChoice{{Message: apiMessage{Role: "assistant", Content: "Hello!"}, FinishReason: "stop"}},
		Usage:   apiUsage{PromptTokens: 10, CompletionTokens: 5},
	})

	c := NewClient("test-key", "gpt-4o-mini", discardLogger(), WithBaseURL(srv.URL+"/"))
	resp, err := c.SendMessage(context.Background(), &llm.Request{
		SystemPrompt: "You manage orders.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "Hi"}},
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if resp.Content != "Hello!" || resp.StopReason != llm.StopEndTurn {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Model != "gpt-4o-mini-2024-07-18" || resp.Usage.InputTokens != 10 || resp.Usage.OutputTokens != 5 {
		t.Errorf("model/usage = %s %+v", resp.Model, resp.Usage)
	}
	if resp.HasToolUse() {
		t.Error("text response should not report tool use")
	}
}

func TestSendMessageSingleToolCall(t *testing.T) {
	srv := completionServer(t, func(req apiRequest) {
		if len(req.Tools) != 1 || req.Tools[0].Function.Name != "cancel_order_check" {
			t.Errorf("tools = %+v", req.Tools)
		}
		if req.ParallelToolCalls == nil || *req.ParallelToolCalls {
			t.Error("expected parallel_tool_calls=false")
		}
	}, apiResponse{
		Choices: []apiChoice{{
			Message: apiMessage{
				Role: "assistant",
				ToolCalls: []apiToolCall{{
					ID:       "call_1",
					Type:     "function",
					Function: apiToolCallFunction{Name: "cancel_order_check", Arguments: `{"order_id":"ORD123"}`},
				}},
			},
			FinishReason: "tool_calls",
		}},
	})

	c := NewClient("k", "gpt-4o-mini", discardLogger(), WithBaseURL(srv.URL))
	resp, err := c.SendMessage(context.Background(), &llm.Request{
		Messages:       []llm.Message{{Role: llm.RoleUser, Content: "cancel ORD123"}},
		Tools:          []llm.ToolDefinition{{Name: "cancel_order_check", InputSchema: map[string]any{"type": "object"}}},
		SingleToolCall: true,
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if resp.StopReason != llm.StopToolUse {
		t.Errorf("stop reason = %q", resp.StopReason)
	}
	if resp.Model != "gpt-4o-mini" {
		t.Errorf("model should fall back to the configured one, got %q", resp.Model)
	}
	calls := resp.ToolCalls()
	if len(calls) != 1 || calls[0].ID != "call_1" || calls[0].Input["order_id"] != "ORD123" {
		t.Errorf("tool calls = %+v", calls)
	}
}

func TestToolRoundTripMessages(t *testing.T) {
	srv := completionServer(t, func(req apiRequest) {
		if len(req.Messages) != 3 {
			t.Errorf("messages = %+v", req.Messages)
			return
		}
		asst := req.Messages[1]
		if asst.Role != "assistant" || len(asst.ToolCalls) != 1 || asst.ToolCalls[0].Function.Arguments != `{"order_id":"ORD456"}` {
			t.Errorf("assistant message = %+v", asst)
		}
		tool := req.Messages[2]
		if tool.Role != "tool" || tool.ToolCallID != "call_9" || tool.Content != "Order ORD456 is Processing." {
			t.Errorf("tool message = %+v", tool)
		}
	}, apiResponse{Choices: []apiChoice{{Message: apiMessage{Content: "It is processing."}, FinishReason: "stop"}}})

	c := NewClient("k", "m", discardLogger(), WithBaseURL(srv.URL))
	_, err := c.SendMessage(context.Background(), &llm.Request{Messages: []llm.Message{
		{Role: llm.RoleUser, Content: "track ORD456"},
		{Role: llm.RoleAssistant, Blocks: []llm.ContentBlock{llm.ToolUseBlock("call_9", "track_order", map[string]any{"order_id": "ORD456"})}},
		{Role: llm.RoleUser, Blocks: []llm.ContentBlock{llm.ToolResultBlock("call_9", "Order ORD456 is Processing.", false)}},
	}})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
}

func TestMalformedArgumentsArePassedThrough(t *testing.T) {
	srv := completionServer(t, nil, apiResponse{Choices: []apiChoice{{
		Message: apiMessage{ToolCalls: []apiToolCall{{ID: "c", Function: apiToolCallFunction{Name: "track_order", Arguments: "{oops"}}}},
		FinishReason: "tool_calls",
	}}})

	c := NewClient("k", "m", discardLogger(), WithBaseURL(srv.URL))
	resp, err := c.SendMessage(context.Background(), &llm.Request{Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}}})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if got := resp.ToolCalls()[0].Input["_raw"]; got != "{oops" {
		t.Errorf("raw args = %v", got)
	}
}

func TestAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"rate limited"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient("k", "m", discardLogger(), WithBaseURL(srv.URL))
	_, err := c.SendMessage(context.Background(), &llm.Request{Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}}})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d", apiErr.StatusCode)
	}
}

func TestOllamaNameAndNoAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Error("no Authorization header expected without an API key")
		}
		_ = json.NewEncoder(w).Encode(apiResponse{Choices: []apiChoice{{Message: apiMessage{Content: "ok"}, FinishReason: "stop"}}})
	}))
	defer srv.Close()

	c := NewClient("", "llama3.1", discardLogger(), WithBaseURL(srv.URL), WithName("ollama"))
	if c.Name() != "ollama" {
		t.Errorf("name = %q", c.Name())
	}
	if _, err := c.SendMessage(context.Background(), &llm.Request{Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}}}); err != nil {
		t.Fatal(err)
	}
}
