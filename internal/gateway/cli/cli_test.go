package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jkaninda/orderdesk/internal/agent"
	"github.com/jkaninda/orderdesk/internal/confirmation"
	"github.com/jkaninda/orderdesk/internal/orders"
	"github.com/jkaninda/orderdesk/internal/session"
	"github.com/jkaninda/orderdesk/internal/tools"
	"github.com/jkaninda/orderdesk/internal/tools/ordertools"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// checkingAgent reports an eligible cancellation check for every message
// mentioning "cancel".
type checkingAgent struct{}

func (checkingAgent) Process(_ context.Context, in *agent.Input) (*agent.Response, error) {
	if !strings.Contains(in.Message, "cancel") {
		return &agent.Response{Message: "How can I help?"}, nil
	}
	placed := time.Now().UTC().Add(-48 * time.Hour)
	outcome := &ordertools.CheckOutcome{
		OrderID:   "ORD789",
		Order:     &orders.Order{ID: "ORD789", ItemName: "Coffee Mug", Status: orders.StatusDelivered, PlacedAt: &placed},
		CheckedAt: time.Now().UTC(),
	}
	return &agent.Response{
		Message: "Order ORD789 can be cancelled. Please confirm.",
		ToolResults: []agent.ToolCallResult{{
			ToolName: ordertools.NameCancelCheck,
			Success:  true,
			Result:   &tools.Result{Success: true, Structured: outcome},
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

func runREPL(t *testing.T, input string) (string, *countingExecutor, *session.Manager) {
	t.Helper()
	exec := &countingExecutor{}
	m := session.NewManager(checkingAgent{}, exec, discardLogger())
	var out bytes.Buffer
	g := NewGateway(m, discardLogger()).WithIO(strings.NewReader(input), &out)
	if err := g.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	return out.String(), exec, m
}

func TestConfirmYes(t *testing.T) {
	out, exec, m := runREPL(t, "please cancel ORD789\ny\nexit\n")
	if !strings.Contains(out, "Confirm cancellation of order ORD789 (Coffee Mug)? [y/N]") {
		t.Errorf("missing prompt:\n%s", out)
	}
	if !strings.Contains(out, "✅ Order #ORD789 (Coffee Mug) cancelled successfully.") {
		t.Errorf("missing result:\n%s", out)
	}
	if exec.calls.Load() != 1 {
		t.Errorf("executions = %d", exec.calls.Load())
	}
	if m.Len() != 0 {
		t.Error("the REPL session should be closed on exit")
	}
}

func TestConfirmNo(t *testing.T) {
	out, exec, _ := runREPL(t, "cancel ORD789\nn\nhello\n")
	if !strings.Contains(out, "Cancellation not confirmed.") {
		t.Errorf("output:\n%s", out)
	}
	if exec.calls.Load() != 0 {
		t.Errorf("executions = %d", exec.calls.Load())
	}
	if !strings.Contains(out, "How can I help?") {
		t.Errorf("the REPL should continue after a refusal:\n%s", out)
	}
}

func TestStopEndsLoop(t *testing.T) {
	m := session.NewManager(checkingAgent{}, &countingExecutor{}, discardLogger())
	var out bytes.Buffer
	g := NewGateway(m, discardLogger()).WithIO(strings.NewReader("hello\n"), &out)
	_ = g.Stop(context.Background())
	_ = g.Stop(context.Background())
	if err := g.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Shutting down.") {
		t.Errorf("output:\n%s", out.String())
	}
}
