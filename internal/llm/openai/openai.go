// Package openai talks to the OpenAI Chat Completions API. Ollama exposes a
// compatible endpoint, so the same client serves both providers.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jkaninda/orderdesk/internal/llm"
)

const (
	DefaultBaseURL       = "https://api.openai.com"
	DefaultOllamaBaseURL = "http://localhost:11434"
	completionsPath      = "/v1/chat/completions"
	defaultMaxTokens     = 1024
	maxErrorBody         = 2048
)

// APIError is a non-200 answer from the completions endpoint.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chat completions returned %d: %s", e.StatusCode, e.Body)
}

// Client implements llm.Provider.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	name       string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

func WithBaseURL(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.baseURL = strings.TrimRight(url, "/")
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithName overrides the provider name reported in logs and metrics.
func WithName(name string) Option {
	return func(c *Client) { c.name = name }
}

// NewClient returns an OpenAI provider. For Ollama pass
// WithBaseURL(DefaultOllamaBaseURL) and WithName("ollama").
func NewClient(apiKey, model string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		model:      model,
		baseURL:    DefaultBaseURL,
		name:       "openai",
		httpClient: http.DefaultClient,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return c.name }

func (c *Client) Model() string { return c.model }

func (c *Client) SendMessage(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	body, err := json.Marshal(c.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("encoding completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+completionsPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", c.name, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBody))
		return nil, &APIError{StatusCode: httpResp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	var apiResp apiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decoding completion response: %w", err)
	}

	resp := c.toResponse(&apiResp)
	c.logger.DebugContext(ctx, "completion received",
		slog.String("provider", c.name),
		slog.String("model", resp.Model),
		slog.Int("input_tokens", resp.Usage.InputTokens),
		slog.Int("output_tokens", resp.Usage.OutputTokens),
		slog.String("stop_reason", resp.StopReason),
		slog.Int("tool_calls", len(resp.ToolCalls())),
	)
	return resp, nil
}

func (c *Client) buildRequest(req *llm.Request) apiRequest {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	out := apiRequest{Model: c.model, MaxTokens: maxTokens}

	if req.SystemPrompt != "" {
		out.Messages = append(out.Messages, apiMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, toAPIMessages(m)...)
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, apiTool{
			Type: "function",
			Function: apiFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}
	if len(out.Tools) > 0 && req.SingleToolCall {
		parallel := false
		out.ParallelToolCalls = &parallel
	}
	return out
}

// toAPIMessages maps one conversation entry to wire messages. Assistant tool
// calls fold into a single message; each tool result becomes a "tool" message.
func toAPIMessages(m llm.Message) []apiMessage {
	if len(m.Blocks) == 0 {
		return []apiMessage{{Role: string(m.Role), Content: m.Content}}
	}

	if m.Role == llm.RoleAssistant {
		msg := apiMessage{Role: "assistant"}
		for _, b := range m.Blocks {
			switch b.Type {
			case llm.BlockText:
				msg.Content += b.Text
			case llm.BlockToolUse:
				args, _ := json.Marshal(b.Input)
				msg.ToolCalls = append(msg.ToolCalls, apiToolCall{
					ID:   b.ID,
					Type: "function",
					Function: apiToolCallFunction{
						Name:      b.Name,
						Arguments: string(args),
					},
				})
			}
		}
		return []apiMessage{msg}
	}

	var (
		out  []apiMessage
		text strings.Builder
	)
	for _, b := range m.Blocks {
		switch b.Type {
		case llm.BlockText:
			text.WriteString(b.Text)
		case llm.BlockToolResult:
			out = append(out, apiMessage{Role: "tool", Content: b.Text, ToolCallID: b.ToolUseID})
		}
	}
	if text.Len() > 0 {
		out = append(out, apiMessage{Role: string(m.Role), Content: text.String()})
	}
	return out
}

func (c *Client) toResponse(apiResp *apiResponse) *llm.Response {
	resp := &llm.Response{
		Model: apiResp.Model,
		Usage: llm.Usage{
			InputTokens:  apiResp.Usage.PromptTokens,
			OutputTokens: apiResp.Usage.CompletionTokens,
		},
	}
	if resp.Model == "" {
		resp.Model = c.model
	}
	if len(apiResp.Choices) == 0 {
		resp.StopReason = llm.StopEndTurn
		return resp
	}

	choice := apiResp.Choices[0]
	if choice.Message.Content != "" {
		resp.Content = choice.Message.Content
		resp.Blocks = append(resp.Blocks, llm.TextBlock(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		input := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
				// Hand the raw text to the tool so it can report the problem.
				input = map[string]any{"_raw": tc.Function.Arguments}
			}
		}
		resp.Blocks = append(resp.Blocks, llm.ToolUseBlock(tc.ID, tc.Function.Name, input))
	}
	resp.StopReason = stopReason(choice.FinishReason)
	return resp
}

func stopReason(finish string) string {
	switch finish {
	case "stop", "":
		return llm.StopEndTurn
	case "tool_calls", "function_call":
		return llm.StopToolUse
	case "length":
		return llm.StopMaxTokens
	default:
		return finish
	}
}

type apiRequest struct {
	Model             string       `json:"model"`
	Messages          []apiMessage `json:"messages"`
	MaxTokens         int          `json:"max_tokens"`
	Tools             []apiTool    `json:"tools,omitempty"`
	ParallelToolCalls *bool        `json:"parallel_tool_calls,omitempty"`
}

type apiMessage struct {
	Role       string        `json:"role"`
	Content    string        `json:"content"`
	ToolCalls  []apiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

type apiTool struct {
	Type     string      `json:"type"`
	Function apiFunction `json:"function"`
}

type apiFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type apiToolCall struct {
	ID       string              `json:"id"`
	Type     string              `json:"type"`
	Function apiToolCallFunction `json:"function"`
}

type apiToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type apiResponse struct {
	Model   string      `json:"model"`
	Choices []apiChoice `json:"choices"`
	Usage   apiUsage    `json:"usage"`
}

type apiChoice struct {
	Message      apiMessage `json:"message"`
	FinishReason string     `json:"finish_reason"`
}

type apiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}
