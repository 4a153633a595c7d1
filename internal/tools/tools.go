// Package tools defines the tool interface and registry exposed to the
// model. Tools never perform irreversible actions; those go through the
// confirmation broker.
package tools

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/jkaninda/orderdesk/internal/llm"
)

// Tool is a function the model may call.
type Tool interface {
	// Name is the unique identifier sent to the model, e.g. "track_order".
	Name() string
	Description() string
	// InputSchema is the JSON Schema of the parameters.
	InputSchema() map[string]any
	// Validate rejects malformed parameters before Execute runs.
	Validate(params map[string]any) error
	Execute(ctx context.Context, params map[string]any) (*Result, error)
}

// Result is the outcome of a tool execution.
type Result struct {
	// Output is the text handed back to the model.
	Output  string `json:"output"`
	Success bool   `json:"success"`
	// Structured carries a typed payload for in-process consumers; it is
	// never sent to the model.
	Structured any `json:"-"`
}

// MaxOutputBytes caps tool output sent back to the model.
const MaxOutputBytes = 32 << 10

type contextKey int

const sessionIDKey contextKey = iota

// ContextWithSessionID tags ctx with the conversation session.
func ContextWithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// SessionIDFromContext returns the session id, or "".
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}

// TruncateOutput caps s at maxBytes, appending a notice when cut.
func TruncateOutput(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	const suffix = "\n... [output truncated]"
	if maxBytes <= len(suffix) {
		return s[:maxBytes]
	}
	return s[:maxBytes-len(suffix)] + suffix
}

// RequireString returns a non-empty string parameter.
func RequireString(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", fmt.Errorf("missing required parameter %q", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("parameter %q must be a non-empty string", key)
	}
	return s, nil
}

// OptionalString returns a string parameter or "".
func OptionalString(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return s
}

// Registry holds tools keyed by name. Writes happen at startup only.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Panics on duplicate names (startup config error).
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		panic("duplicate tool registration: " + t.Name())
	}
	r.tools[t.Name()] = t
}

// Get returns the tool by name, or nil.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// All returns the registered tools sorted by name, so the definitions sent
// to the model are stable between requests.
func (r *Registry) All() []Tool {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, len(names))
	for i, n := range names {
		out[i] = r.tools[n]
	}
	return out
}

// ToLLMDefinitions converts the registry into model tool definitions.
func ToLLMDefinitions(reg *Registry) []llm.ToolDefinition {
	all := reg.All()
	defs := make([]llm.ToolDefinition, len(all))
	for i, t := range all {
		defs[i] = llm.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		}
	}
	return defs
}
