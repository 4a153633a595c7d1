package httpapi

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jkaninda/orderdesk/internal/agent"
	"github.com/jkaninda/orderdesk/internal/confirmation"
	"github.com/jkaninda/orderdesk/internal/orders"
	"github.com/jkaninda/orderdesk/internal/ratelimit"
	"github.com/jkaninda/orderdesk/internal/session"
	"github.com/jkaninda/orderdesk/internal/tools"
	"github.com/jkaninda/orderdesk/internal/tools/ordertools"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// checkingAgent reports an eligible check for ORD789 when asked to cancel.
type checkingAgent struct{}

func (checkingAgent) Process(_ context.Context, in *agent.Input) (*agent.Response, error) {
	if !strings.Contains(in.Message, "cancel") {
		return &agent.Response{Message: "How can I help?"}, nil
	}
	placed := time.Now().UTC().Add(-72 * time.Hour)
	return &agent.Response{
		Message: "Order ORD789 can be cancelled. Please confirm.",
		ToolResults: []agent.ToolCallResult{{
			ToolName: ordertools.NameCancelCheck,
			Success:  true,
			Result: &tools.Result{Success: true, Structured: &ordertools.CheckOutcome{
				OrderID:   "ORD789",
				Order:     &orders.Order{ID: "ORD789", ItemName: "Coffee Mug", Status: orders.StatusDelivered, PlacedAt: &placed},
				CheckedAt: time.Now().UTC(),
			}},
		}},
	}, nil
}

type countingExecutor struct{ calls atomic.Int32 }

func (e *countingExecutor) Execute(_ context.Context, a confirmation.PendingAction) confirmation.ActionResult {
	e.calls.Add(1)
	r := confirmation.ActionResult{ActionType: a.ActionType, OrderID: a.OrderID, ItemName: a.ItemName, Outcome: confirmation.OutcomeSuccess}
	r.Message = confirmation.RenderResult(r)
	return r
}

func newTestGateway(rl *ratelimit.Limiter) (*Gateway, *countingExecutor) {
	exec := &countingExecutor{}
	m := session.NewManager(checkingAgent{}, exec, discardLogger())
	g := NewGateway(Config{
		ListenAddr: ":0",
		APIKeys:    map[string]string{"key-alice": "alice", "key-bob": "bob"},
	}, m, rl, discardLogger())
	return g, exec
}

func TestQueryStagesConfirmation(t *testing.T) {
	g, _ := newTestGateway(nil)
	ctx := context.Background()

	code, body := g.query(ctx, "alice", QueryRequest{Message: "please cancel ORD789"})
	if code != http.StatusOK {
		t.Fatalf("status = %d, body = %+v", code, body)
	}
	resp := body.(QueryResponse)
	if resp.SessionID == "" || resp.CorrelationID == "" {
		t.Errorf("missing ids: %+v", resp)
	}
	if resp.PendingAction == nil {
		t.Fatal("expected a pending action")
	}
	if resp.PendingAction.OrderID != "ORD789" || resp.PendingAction.ActionType != "cancel_order" {
		t.Errorf("pending = %+v", resp.PendingAction)
	}
	if resp.PendingAction.Prompt != "Confirm cancellation of order ORD789 (Coffee Mug)?" {
		t.Errorf("prompt = %q", resp.PendingAction.Prompt)
	}

	code, body = g.sessionState(resp.SessionID)
	if code != http.StatusOK {
		t.Fatalf("session status = %d", code)
	}
	if st := body.(SessionResponse); st.State != "pending" || st.PendingAction == nil {
		t.Errorf("session = %+v", st)
	}
}

func TestQueryUsesGivenSessionID(t *testing.T) {
	g, _ := newTestGateway(nil)
	code, body := g.query(context.Background(), "alice", QueryRequest{Message: "hi", SessionID: "my-session"})
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if id := body.(QueryResponse).SessionID; id != "my-session" {
		t.Errorf("session id = %q", id)
	}
	if code, _ := g.sessionState("my-session"); code != http.StatusOK {
		t.Errorf("session lookup = %d", code)
	}
}

func TestQueryEmptyMessage(t *testing.T) {
	g, _ := newTestGateway(nil)
	code, body := g.query(context.Background(), "alice", QueryRequest{Message: "   "})
	if code != http.StatusBadRequest {
		t.Fatalf("status = %d", code)
	}
	if body.(ErrorBody).Error != "message is required" {
		t.Errorf("body = %+v", body)
	}
}

func TestApproveRunsOnce(t *testing.T) {
	g, exec := newTestGateway(nil)
	ctx := context.Background()

	_, body := g.query(ctx, "alice", QueryRequest{Message: "cancel ORD789"})
	sid := body.(QueryResponse).SessionID

	code, body := g.approve(ctx, "alice", ApproveRequest{SessionID: sid, OrderID: "ORD789"})
	if code != http.StatusOK {
		t.Fatalf("status = %d, body = %+v", code, body)
	}
	resp := body.(ApproveResponse)
	if resp.Outcome != "success" || resp.Message != "✅ Order #ORD789 (Coffee Mug) cancelled successfully." {
		t.Errorf("approve = %+v", resp)
	}

	code, body = g.approve(ctx, "alice", ApproveRequest{SessionID: sid, OrderID: "ORD789"})
	if code != http.StatusConflict {
		t.Fatalf("second approval status = %d", code)
	}
	if body.(ErrorBody).Error != session.StaleApproval {
		t.Errorf("stale body = %+v", body)
	}
	if exec.calls.Load() != 1 {
		t.Errorf("executions = %d, want 1", exec.calls.Load())
	}
}

func TestApproveMismatchedOrder(t *testing.T) {
	g, exec := newTestGateway(nil)
	ctx := context.Background()

	_, body := g.query(ctx, "alice", QueryRequest{Message: "cancel ORD789"})
	sid := body.(QueryResponse).SessionID

	if code, _ := g.approve(ctx, "alice", ApproveRequest{SessionID: sid, OrderID: "ORD123"}); code != http.StatusConflict {
		t.Errorf("status = %d, want 409", code)
	}
	if code, _ := g.approve(ctx, "alice", ApproveRequest{SessionID: sid, ActionType: "refund", OrderID: "ORD789"}); code != http.StatusConflict {
		t.Errorf("status = %d, want 409", code)
	}
	if exec.calls.Load() != 0 {
		t.Errorf("executions = %d", exec.calls.Load())
	}
}

func TestApproveValidation(t *testing.T) {
	g, _ := newTestGateway(nil)
	ctx := context.Background()

	if code, _ := g.approve(ctx, "alice", ApproveRequest{OrderID: "ORD789"}); code != http.StatusBadRequest {
		t.Errorf("missing session: %d", code)
	}
	if code, _ := g.approve(ctx, "alice", ApproveRequest{SessionID: "nope", OrderID: "ORD789"}); code != http.StatusNotFound {
		t.Errorf("unknown session: %d", code)
	}
}

func TestEndSession(t *testing.T) {
	g, _ := newTestGateway(nil)
	_, body := g.query(context.Background(), "alice", QueryRequest{Message: "hi"})
	sid := body.(QueryResponse).SessionID

	if code, _ := g.endSession(sid); code != http.StatusOK {
		t.Fatalf("end = %d", code)
	}
	if code, _ := g.endSession(sid); code != http.StatusNotFound {
		t.Errorf("second end = %d", code)
	}
	if code, _ := g.sessionState(sid); code != http.StatusNotFound {
		t.Errorf("state after end = %d", code)
	}
}

func TestRateLimitPerUser(t *testing.T) {
	rl := ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: 1, BurstSize: 1})
	g, _ := newTestGateway(rl)
	ctx := context.Background()

	if code, _ := g.query(ctx, "alice", QueryRequest{Message: "hi"}); code != http.StatusOK {
		t.Fatalf("first = %d", code)
	}
	code, body := g.query(ctx, "alice", QueryRequest{Message: "hi"})
	if code != http.StatusTooManyRequests {
		t.Fatalf("second = %d", code)
	}
	if eb := body.(ErrorBody); eb.RetryAfterSeconds <= 0 {
		t.Errorf("retry_after_seconds = %d", eb.RetryAfterSeconds)
	}
	if code, _ := g.query(ctx, "bob", QueryRequest{Message: "hi"}); code != http.StatusOK {
		t.Errorf("bob = %d", code)
	}
}

func TestUserForKey(t *testing.T) {
	g, _ := newTestGateway(nil)
	tests := []struct {
		header string
		user   string
		ok     bool
	}{
		{"Bearer key-alice", "alice", true},
		{"Bearer key-bob", "bob", true},
		{"Bearer wrong", "", false},
		{"key-alice", "", false},
		{"Bearer ", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		user, ok := g.userForKey(tt.header)
		if user != tt.user || ok != tt.ok {
			t.Errorf("userForKey(%q) = %q, %v", tt.header, user, ok)
		}
	}
}

func TestStreamEvents(t *testing.T) {
	g, _ := newTestGateway(nil)
	code, body := g.query(context.Background(), "alice", QueryRequest{Message: "cancel ORD789"})
	events := streamEvents(code, body)
	if len(events) != 3 {
		t.Fatalf("events = %+v", events)
	}
	want := []string{"text", "confirmation", "done"}
	for i, ev := range events {
		if ev.Type != want[i] {
			t.Errorf("event %d = %q, want %q", i, ev.Type, want[i])
		}
	}
	if events[1].PendingAction == nil || events[1].PendingAction.OrderID != "ORD789" {
		t.Errorf("confirmation event = %+v", events[1])
	}

	code, body = g.query(context.Background(), "alice", QueryRequest{Message: "hello"})
	if events := streamEvents(code, body); len(events) != 2 {
		t.Errorf("plain reply events = %+v", events)
	}

	events = streamEvents(http.StatusBadRequest, ErrorBody{Error: "message is required"})
	if len(events) != 1 || events[0].Type != "error" || events[0].Content != "message is required" {
		t.Errorf("error events = %+v", events)
	}
}
