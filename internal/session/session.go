// Package session coordinates conversational turns with the confirmation
// broker: it runs the agent, turns cancellation checks into staged actions,
// and executes approved actions. Each session serializes its own turns and
// approvals; different sessions run in parallel.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/orderdesk/internal/agent"
	"github.com/jkaninda/orderdesk/internal/confirmation"
	"github.com/jkaninda/orderdesk/internal/llm"
	"github.com/jkaninda/orderdesk/internal/observability"
	"github.com/jkaninda/orderdesk/internal/policy"
	"github.com/jkaninda/orderdesk/internal/tools/ordertools"
)

var (
	ErrEmptyQuery      = errors.New("empty query")
	ErrSessionNotFound = errors.New("session not found")
)

// Texts shown to the user.
const (
	ApologyText      = "Sorry, I encountered an issue while handling your request. Please try again."
	StaleApproval    = "There is no pending confirmation for that order. Please ask again to check it."
	systemNoteFormat = "System Note: The outcome of the last confirmed action was: %s"
)

// Turn results reported to metrics.
const (
	turnOK      = "ok"
	turnPending = "pending"
	turnFailed  = "failed"
)

// TurnResult is the reply to one user query.
type TurnResult struct {
	SessionID     string
	CorrelationID string
	Text          string
	// Pending is the action awaiting user confirmation, if any.
	Pending *confirmation.PendingAction
}

// ApprovalResult is the rendered outcome of a confirmation.
type ApprovalResult struct {
	SessionID string
	Result    confirmation.ActionResult
	Message   string
}

// Snapshot is a read-only view of a session.
type Snapshot struct {
	ID         string
	State      confirmation.State
	Pending    *confirmation.PendingAction
	LastActive time.Time
}

// Session is one conversation. It owns the message history and the broker
// holding the pending action and last action result.
type Session struct {
	id      string
	mu      sync.Mutex
	broker  *confirmation.Broker
	agent   agent.Agent
	history []llm.Message

	historyLimit int
	logger       *slog.Logger
	tracer       trace.Tracer
	metrics      *observability.MetricsCollector
	now          func() time.Time

	lastActive atomic.Int64 // unix nanoseconds
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// LastActive returns the time of the last turn or approval.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

func (s *Session) touch() {
	s.lastActive.Store(s.now().UnixNano())
}

// Snapshot reports the broker state without waiting for an in-flight turn.
func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		ID:         s.id,
		State:      s.broker.State(),
		Pending:    s.broker.TakePendingForSurfacing(),
		LastActive: s.LastActive(),
	}
}

// HandleTurn runs one user query through the agent. Agent failures and
// panics are logged and answered with an apology; the session is left Idle
// and no error is returned. The only error is ErrEmptyQuery.
func (s *Session) HandleTurn(ctx context.Context, query string) (res *TurnResult, err error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// A disconnecting client must not abort a turn that may touch the store.
	ctx = context.WithoutCancel(ctx)
	correlationID := uuid.NewString()
	ctx, span := s.tracer.Start(ctx, "session.turn",
		trace.WithAttributes(
			attribute.String("session_id", s.id),
			attribute.String("correlation_id", correlationID),
		))
	defer span.End()

	start := s.now()
	s.touch()

	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "turn panicked",
				slog.String("session_id", s.id),
				slog.String("correlation_id", correlationID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			span.SetStatus(codes.Error, "panic")
			s.broker.Reset()
			res, err = &TurnResult{SessionID: s.id, CorrelationID: correlationID, Text: ApologyText}, nil
			s.metrics.ObserveTurn(turnFailed, s.now().Sub(start))
		}
	}()

	s.broker.BeginTurn()

	if last := s.broker.TakeLastResult(); last != nil {
		note := fmt.Sprintf(systemNoteFormat, last.Message)
		s.history = append(s.history, llm.Message{Role: llm.RoleSystem, Content: note})
		s.logger.InfoContext(ctx, "injecting system note",
			slog.String("session_id", s.id),
			slog.String("order_id", last.OrderID),
			slog.String("outcome", string(last.Outcome)),
		)
	}

	resp, err := s.agent.Process(ctx, &agent.Input{
		SessionID:     s.id,
		CorrelationID: correlationID,
		History:       s.history,
		Message:       query,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "agent failed",
			slog.String("session_id", s.id),
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.broker.Reset()
		s.metrics.ObserveTurn(turnFailed, s.now().Sub(start))
		return &TurnResult{SessionID: s.id, CorrelationID: correlationID, Text: ApologyText}, nil
	}

	s.appendHistory(resp.Messages)
	s.stageChecks(ctx, resp.ToolResults)

	pending := s.broker.TakePendingForSurfacing()
	result := turnOK
	if pending != nil {
		result = turnPending
		span.SetAttributes(attribute.String("order_id", pending.OrderID))
	}
	s.metrics.ObserveTurn(result, s.now().Sub(start))

	s.logger.InfoContext(ctx, "turn completed",
		slog.String("session_id", s.id),
		slog.String("correlation_id", correlationID),
		slog.Int("tools", len(resp.ToolResults)),
		slog.Bool("pending_confirmation", pending != nil),
	)
	return &TurnResult{
		SessionID:     s.id,
		CorrelationID: correlationID,
		Text:          resp.Message,
		Pending:       pending,
	}, nil
}

// stageChecks evaluates every cancellation check of the turn and stages
// the eligible one. A check whose lookup failed forces the broker Idle
// unless an action was already staged this turn.
func (s *Session) stageChecks(ctx context.Context, results []agent.ToolCallResult) {
	for _, tr := range results {
		if tr.ToolName != ordertools.NameCancelCheck {
			continue
		}
		var outcome *ordertools.CheckOutcome
		if tr.Result != nil {
			outcome, _ = tr.Result.Structured.(*ordertools.CheckOutcome)
		}
		if outcome == nil || outcome.Err != nil {
			if s.broker.ClearPending() {
				s.logger.WarnContext(ctx, "cancellation check failed, nothing staged",
					slog.String("session_id", s.id),
				)
			} else {
				s.logger.WarnContext(ctx, "cancellation check failed, earlier staged action kept",
					slog.String("session_id", s.id),
				)
			}
			continue
		}

		res := policy.Evaluate(outcome.OrderID, outcome.Order, outcome.CheckedAt)
		staged, err := s.broker.StageIfEligible(res)
		switch {
		case errors.Is(err, confirmation.ErrDuplicateStage):
			s.logger.WarnContext(ctx, "second cancellation check in one turn ignored",
				slog.String("session_id", s.id),
				slog.String("order_id", outcome.OrderID),
			)
		case err != nil:
			s.logger.WarnContext(ctx, "staging failed",
				slog.String("session_id", s.id),
				slog.String("order_id", outcome.OrderID),
				slog.String("error", err.Error()),
			)
		case staged != nil:
			s.logger.InfoContext(ctx, "cancellation staged",
				slog.String("session_id", s.id),
				slog.String("order_id", staged.OrderID),
				slog.String("item", staged.ItemName),
			)
		default:
			s.logger.InfoContext(ctx, "order not eligible for cancellation",
				slog.String("session_id", s.id),
				slog.String("order_id", outcome.OrderID),
				slog.String("reason", string(res.Reason)),
			)
		}
	}
}

// HandleApproval executes the pending action if it matches. A stale
// approval returns ErrStaleConfirmation with a generic message and leaves
// the session untouched.
func (s *Session) HandleApproval(ctx context.Context, actionType confirmation.ActionType, orderID string) (res *ApprovalResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	ctx, span := s.tracer.Start(ctx, "session.approve",
		trace.WithAttributes(
			attribute.String("session_id", s.id),
			attribute.String("action", string(actionType)),
			attribute.String("order_id", orderID),
		))
	defer span.End()
	s.touch()

	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "approval panicked",
				slog.String("session_id", s.id),
				slog.String("order_id", orderID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			span.SetStatus(codes.Error, "panic")
			s.broker.Reset()
			failed := confirmation.ActionResult{ActionType: actionType, OrderID: orderID, Outcome: confirmation.OutcomeUnknownError}
			failed.Message = confirmation.RenderResult(failed)
			res, err = &ApprovalResult{SessionID: s.id, Result: failed, Message: failed.Message}, nil
		}
	}()

	result, err := s.broker.Approve(ctx, actionType, orderID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return &ApprovalResult{SessionID: s.id, Message: StaleApproval}, err
	}

	s.logger.InfoContext(ctx, "confirmed action executed",
		slog.String("session_id", s.id),
		slog.String("order_id", orderID),
		slog.String("outcome", string(result.Outcome)),
	)
	span.SetAttributes(attribute.String("outcome", string(result.Outcome)))
	return &ApprovalResult{SessionID: s.id, Result: result, Message: result.Message}, nil
}

// Must be called with s.mu held.
func (s *Session) appendHistory(msgs []llm.Message) {
	s.history = append(s.history, msgs...)
	if over := len(s.history) - s.historyLimit; s.historyLimit > 0 && over > 0 {
		s.history = append([]llm.Message(nil), s.history[over:]...)
	}
}

// History returns a copy of the conversation so far.
func (s *Session) History() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Message(nil), s.history...)
}
