package agent

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/orderdesk/internal/llm"
	"github.com/jkaninda/orderdesk/internal/tools"
)

// DefaultMaxHistoryMessages is the default cap on history sent per request.
const DefaultMaxHistoryMessages = 40

// DefaultMaxMessageBytes is the default per-message content size limit (32 KB).
const DefaultMaxMessageBytes = 32768

// Orchestrator is the default Agent implementation. It delegates to an LLM
// provider and executes the tools the model asks for, within a per-turn
// tool budget. Conversation history is owned by the caller.
type Orchestrator struct {
	provider     llm.Provider
	systemPrompt string
	logger       *slog.Logger
	toolRegistry *tools.Registry // nil = no tools available
	tracer       trace.Tracer    // nil = tracing disabled

	maxIterations      int // 0 = DefaultMaxIterations
	maxToolsPerTurn    int // 0 = DefaultMaxToolsPerTurn
	maxHistoryMessages int // 0 = DefaultMaxHistoryMessages
	maxMessageBytes    int // 0 = DefaultMaxMessageBytes
	maxTokens          int

	summarizeOnTruncate bool
}

// NewOrchestrator creates an agent backed by the given LLM provider. An
// empty systemPrompt selects DefaultSystemPrompt.
func NewOrchestrator(provider llm.Provider, systemPrompt string, logger *slog.Logger) *Orchestrator {
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	return &Orchestrator{
		provider:     provider,
		systemPrompt: systemPrompt,
		logger:       logger,
	}
}

// WithTools attaches a tool registry to the orchestrator.
func (o *Orchestrator) WithTools(registry *tools.Registry) *Orchestrator {
	o.toolRegistry = registry
	return o
}

// WithTracer enables agent.process spans.
func (o *Orchestrator) WithTracer(tracer trace.Tracer) *Orchestrator {
	o.tracer = tracer
	return o
}

// WithMaxIterations sets the maximum number of model round trips per turn.
func (o *Orchestrator) WithMaxIterations(n int) *Orchestrator {
	o.maxIterations = n
	return o
}

// WithMaxToolsPerTurn sets how many tool calls are executed per turn.
// Calls beyond the budget receive an error tool result.
func (o *Orchestrator) WithMaxToolsPerTurn(n int) *Orchestrator {
	o.maxToolsPerTurn = n
	return o
}

// WithHistoryLimit caps the number of history messages sent to the model.
func (o *Orchestrator) WithHistoryLimit(n int) *Orchestrator {
	o.maxHistoryMessages = n
	return o
}

// WithMaxTokens sets the per-response token limit.
func (o *Orchestrator) WithMaxTokens(n int) *Orchestrator {
	o.maxTokens = n
	return o
}

// WithSummarization enables conversation summarization before truncation.
func (o *Orchestrator) WithSummarization(enabled bool) *Orchestrator {
	o.summarizeOnTruncate = enabled
	return o
}

// Process sends the user's message to the LLM and runs the agentic loop:
// when the LLM requests tool use, the tools are executed and results fed back
// until the LLM produces a final text response.
func (o *Orchestrator) Process(ctx context.Context, input *Input) (*Response, error) {
	var span trace.Span
	if o.tracer != nil {
		ctx, span = o.tracer.Start(ctx, "agent.process",
			trace.WithAttributes(
				attribute.String("session_id", input.SessionID),
				attribute.String("correlation_id", input.CorrelationID),
			))
		defer span.End()
	}

	o.logger.DebugContext(ctx, "processing input",
		slog.String("session_id", input.SessionID),
		slog.String("correlation_id", input.CorrelationID),
		slog.Int("history", len(input.History)),
	)

	history := make([]llm.Message, 0, len(input.History)+2)
	history = append(history, input.History...)
	historyStart := len(history)

	history = append(history, llm.Message{
		Role:    llm.RoleUser,
		Content: o.truncateContent(input.Message),
	})
	newMessages := func() []llm.Message {
		return append([]llm.Message(nil), history[historyStart:]...)
	}

	// Context window management: summarize then truncate from oldest if over limit.
	window := append([]llm.Message(nil), history...)
	if o.summarizeOnTruncate {
		window = summarizeHistory(ctx, o.provider, window, o.historyLimit(), o.logger)
	}
	window = o.truncateHistory(window)
	window = trimHistoryToTokenBudget(window, estimateTokens(o.systemPrompt), maxInputTokens)

	var toolDefs []llm.ToolDefinition
	if o.toolRegistry != nil {
		toolDefs = tools.ToLLMDefinitions(o.toolRegistry)
	}

	maxIter := o.maxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	budget := o.maxToolsPerTurn
	if budget <= 0 {
		budget = DefaultMaxToolsPerTurn
	}

	totalTokens := 0
	var allToolResults []ToolCallResult

	for iter := 0; iter < maxIter; iter++ {
		llmResp, err := o.provider.SendMessage(ctx, &llm.Request{
			SystemPrompt:   o.systemPrompt,
			Messages:       window,
			MaxTokens:      o.maxTokens,
			Tools:          toolDefs,
			SingleToolCall: budget == 1,
		})
		if err != nil {
			if span != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return nil, fmt.Errorf("llm request failed: %w", err)
		}

		totalTokens += llmResp.Usage.InputTokens + llmResp.Usage.OutputTokens

		// Keep the full assistant response, tool_use blocks included.
		assistant := llm.Message{Role: llm.RoleAssistant, Content: llmResp.Content, Blocks: llmResp.Blocks}
		history = append(history, assistant)
		window = append(window, assistant)

		if !llmResp.HasToolUse() {
			return &Response{
				Message:     llmResp.Content,
				TokensUsed:  totalTokens,
				ToolResults: allToolResults,
				Messages:    newMessages(),
			}, nil
		}

		calls := llmResp.ToolCalls()
		o.logger.InfoContext(ctx, "executing tool calls",
			slog.Int("iteration", iter+1),
			slog.Int("tool_calls", len(calls)),
			slog.String("session_id", input.SessionID),
			slog.String("correlation_id", input.CorrelationID),
		)

		resultBlocks, results := o.executeToolCalls(ctx, input, calls, budget-len(allToolResults))
		allToolResults = append(allToolResults, results...)

		toolMsg := llm.Message{Role: llm.RoleUser, Blocks: resultBlocks}
		history = append(history, toolMsg)
		window = append(window, toolMsg)
	}

	o.logger.WarnContext(ctx, "max tool-use iterations reached",
		slog.Int("max_iterations", maxIter),
		slog.String("session_id", input.SessionID),
		slog.String("correlation_id", input.CorrelationID),
	)

	return &Response{
		Message:     "I could not finish that request. Please try rephrasing it.",
		TokensUsed:  totalTokens,
		ToolResults: allToolResults,
		Messages:    newMessages(),
	}, nil
}

// executeToolCalls runs up to remaining tool calls and builds the matching
// tool_result blocks. Calls beyond the budget are refused, not executed.
func (o *Orchestrator) executeToolCalls(
	ctx context.Context,
	input *Input,
	calls []llm.ContentBlock,
	remaining int,
) ([]llm.ContentBlock, []ToolCallResult) {
	var resultBlocks []llm.ContentBlock
	var results []ToolCallResult

	toolCtx := tools.ContextWithSessionID(ctx, input.SessionID)
	for _, block := range calls {
		if remaining <= 0 {
			o.logger.WarnContext(ctx, "tool call refused: per-turn tool budget spent",
				slog.String("tool", block.Name),
				slog.String("session_id", input.SessionID),
			)
			resultBlocks = append(resultBlocks, llm.ToolResultBlock(
				block.ID,
				"Error: only one tool may be used per round. Answer the user before calling another tool.",
				true,
			))
			continue
		}
		remaining--

		res, err := o.ExecuteTool(toolCtx, block.Name, block.Input)
		if err != nil {
			resultBlocks = append(resultBlocks, llm.ToolResultBlock(block.ID, fmt.Sprintf("Error: %s", err.Error()), true))
			results = append(results, ToolCallResult{ToolName: block.Name, Err: err})
			continue
		}

		resultBlocks = append(resultBlocks, llm.ToolResultBlock(
			block.ID,
			tools.TruncateOutput(res.Output, tools.MaxOutputBytes),
			false,
		))
		results = append(results, ToolCallResult{ToolName: block.Name, Success: res.Success, Result: res})
	}
	return resultBlocks, results
}

// ExecuteTool validates and runs a single registered tool.
func (o *Orchestrator) ExecuteTool(ctx context.Context, name string, params map[string]any) (*tools.Result, error) {
	if o.toolRegistry == nil {
		return nil, fmt.Errorf("no tool registry configured")
	}
	tool := o.toolRegistry.Get(name)
	if tool == nil {
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
	if params == nil {
		params = map[string]any{}
	}
	if err := tool.Validate(params); err != nil {
		return nil, fmt.Errorf("tool %s validation: %w", name, err)
	}

	o.logger.InfoContext(ctx, "executing tool",
		slog.String("tool", name),
		slog.String("session_id", tools.SessionIDFromContext(ctx)),
	)

	res, err := tool.Execute(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("tool %s execution failed: %w", name, err)
	}
	return res, nil
}

func (o *Orchestrator) historyLimit() int {
	if o.maxHistoryMessages > 0 {
		return o.maxHistoryMessages
	}
	return DefaultMaxHistoryMessages
}

// truncateHistory keeps the last maxHistoryMessages messages. The window
// never starts with an assistant message or an orphaned tool result.
func (o *Orchestrator) truncateHistory(history []llm.Message) []llm.Message {
	limit := o.historyLimit()
	if len(history) <= limit {
		return history
	}
	return trimLeading(history[len(history)-limit:])
}

// trimLeading drops messages until the slice opens on a plain user or
// system message.
func trimLeading(history []llm.Message) []llm.Message {
	for len(history) > 1 {
		m := history[0]
		if m.Role != llm.RoleAssistant && !hasToolResult(m) {
			break
		}
		history = history[1:]
	}
	return history
}

func hasToolResult(m llm.Message) bool {
	for _, b := range m.Blocks {
		if b.Type == llm.BlockToolResult {
			return true
		}
	}
	return false
}

// truncateContent enforces the per-message size limit.
func (o *Orchestrator) truncateContent(s string) string {
	limit := o.maxMessageBytes
	if limit <= 0 {
		limit = DefaultMaxMessageBytes
	}
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "\n[message truncated]"
}

var _ Agent = (*Orchestrator)(nil)
