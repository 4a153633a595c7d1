// Package agent runs the model/tool loop of one conversational turn.
package agent

import (
	"context"

	"github.com/jkaninda/orderdesk/internal/llm"
	"github.com/jkaninda/orderdesk/internal/tools"
)

// Agent turns a user message plus history into a reply, calling tools as
// the model requests them. It never performs irreversible actions.
type Agent interface {
	Process(ctx context.Context, input *Input) (*Response, error)
}

// Input is one user turn entering the agent.
type Input struct {
	SessionID     string
	CorrelationID string
	// History is the prior conversation, oldest first. It is not modified.
	History []llm.Message
	Message string
}

// DefaultMaxIterations is the safety guard against endless tool-use loops.
const DefaultMaxIterations = 5

// DefaultMaxToolsPerTurn is the number of tool calls executed per turn.
const DefaultMaxToolsPerTurn = 1

// Response is the agent's output for one turn.
type Response struct {
	Message    string
	TokensUsed int
	// ToolResults lists the tools executed during the turn, in call order.
	ToolResults []ToolCallResult
	// Messages are the entries this turn appended to the conversation,
	// starting with the user message.
	Messages []llm.Message
}

// ToolCallResult summarizes a single tool execution within the loop.
type ToolCallResult struct {
	ToolName string
	Success  bool
	// Result is nil when the tool failed or was refused.
	Result *tools.Result
	Err    error
}
