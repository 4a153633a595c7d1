// Package llm defines the chat model abstraction used by the order assistant.
package llm

import (
	"context"
	"strings"
)

// Provider is a chat completion backend able to call tools.
type Provider interface {
	SendMessage(ctx context.Context, req *Request) (*Response, error)
	// Name identifies the backend in logs and metrics, e.g. "openai".
	Name() string
}

// Request is one round trip to the model.
type Request struct {
	SystemPrompt string
	Messages     []Message
	MaxTokens    int
	Tools        []ToolDefinition
	// SingleToolCall asks the backend to emit at most one tool call per
	// response. Backends without such a switch ignore it.
	SingleToolCall bool
}

// ToolDefinition advertises a callable tool to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Block types.
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// Message is a single conversation entry. Plain messages set Content;
// messages carrying tool calls or results use Blocks.
type Message struct {
	Role    Role
	Content string
	Blocks  []ContentBlock
}

// Text returns the message text, joining text blocks when present.
func (m Message) Text() string {
	if len(m.Blocks) == 0 {
		return m.Content
	}
	var sb strings.Builder
	for _, b := range m.Blocks {
		if b.Type == BlockText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// ContentBlock is a tagged union; Type selects the meaningful fields.
type ContentBlock struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	// tool_use
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

func ToolUseBlock(id, name string, input map[string]any) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Text: content, IsError: isError}
}

// Stop reasons, normalised across backends.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
)

// Response is the model's reply to a Request.
type Response struct {
	Content    string
	Blocks     []ContentBlock
	Model      string
	StopReason string
	Usage      Usage
}

// ToolCalls returns the tool_use blocks of the response in order.
func (r *Response) ToolCalls() []ContentBlock {
	var calls []ContentBlock
	for _, b := range r.Blocks {
		if b.Type == BlockToolUse {
			calls = append(calls, b)
		}
	}
	return calls
}

// HasToolUse reports whether the model asked for at least one tool call.
func (r *Response) HasToolUse() bool {
	return len(r.ToolCalls()) > 0
}

// Usage is the token accounting reported by the backend.
type Usage struct {
	InputTokens  int
	OutputTokens int
}
