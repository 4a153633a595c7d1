package confirmation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jkaninda/orderdesk/internal/orderapi"
)

type fakeCanceller struct {
	resp  *orderapi.CancelResponse
	err   error
	calls int
}

func (f *fakeCanceller) Cancel(context.Context, string) (*orderapi.CancelResponse, error) {
	f.calls++
	return f.resp, f.err
}

func TestStoreExecutorClassification(t *testing.T) {
	action := PendingAction{ActionType: ActionCancelOrder, OrderID: "ORD123", ItemName: "Running Shoes"}

	tests := []struct {
		name    string
		resp    *orderapi.CancelResponse
		err     error
		outcome Outcome
		message string
	}{
		{
			name:    "success",
			resp:    &orderapi.CancelResponse{Success: true, Message: orderapi.MsgCancelled},
			outcome: OutcomeSuccess,
			message: "✅ Order #ORD123 (Running Shoes) cancelled successfully.",
		},
		{
			name:    "policy",
			err:     &orderapi.APIError{Op: "cancel", StatusCode: 403, Message: "Order cannot be cancelled (placed on 2026-03-05). Policy limit: 10 days."},
			outcome: OutcomePolicyRejected,
			message: "❌ Cannot cancel order #ORD123 (Running Shoes). Reason: Order cannot be cancelled (placed on 2026-03-05). Policy limit: 10 days.",
		},
		{
			name:    "conflict",
			err:     &orderapi.APIError{Op: "cancel", StatusCode: 409, Message: orderapi.MsgAlreadyCancelled},
			outcome: OutcomeAlreadyCancelled,
			message: "ℹ️ Order #ORD123 (Running Shoes) was already cancelled.",
		},
		{
			name:    "not found",
			err:     &orderapi.APIError{Op: "cancel", StatusCode: 404, Message: orderapi.MsgOrderNotFound},
			outcome: OutcomeNotFound,
			message: "❌ Failed to cancel order #ORD123. Reason: Order not found by API.",
		},
		{
			name:    "ok status with failure body",
			resp:    &orderapi.CancelResponse{Success: false, OrderID: "ORD123", Error: "refused"},
			outcome: OutcomeUnknownError,
			message: "❌ API reported failure for order #ORD123: refused",
		},
		{
			name:    "transport",
			err:     &orderapi.TransportError{Op: "cancel", Err: context.DeadlineExceeded},
			outcome: OutcomeNetworkError,
			message: "❌ Failed to cancel order #ORD123: Could not connect to the order service.",
		},
		{
			name:    "server error",
			err:     &orderapi.APIError{Op: "cancel", StatusCode: 500, Message: "database is locked"},
			outcome: OutcomeUnknownError,
			message: "❌ Failed to cancel order #ORD123. API Error (500): database is locked",
		},
		{
			name:    "unexpected",
			err:     fmt.Errorf("cancel: decoding response: %w", errors.New("bad json")),
			outcome: OutcomeUnknownError,
			message: "❌ An unexpected error occurred trying to cancel order #ORD123.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeCanceller{resp: tt.resp, err: tt.err}
			res := NewStoreExecutor(store, discardLogger()).Execute(context.Background(), action)
			if res.Outcome != tt.outcome {
				t.Errorf("outcome = %s, want %s", res.Outcome, tt.outcome)
			}
			if res.Message != tt.message {
				t.Errorf("message = %q\nwant      %q", res.Message, tt.message)
			}
			if store.calls != 1 {
				t.Errorf("cancel called %d times, want exactly 1", store.calls)
			}
		})
	}
}

func TestStoreExecutorUnknownAction(t *testing.T) {
	store := &fakeCanceller{}
	res := NewStoreExecutor(store, discardLogger()).Execute(context.Background(), PendingAction{ActionType: "refund_order", OrderID: "ORD1"})
	if res.Outcome != OutcomeUnknownError || store.calls != 0 {
		t.Errorf("res = %+v, calls = %d", res, store.calls)
	}
}

// A store that never answers in time yields NetworkError, leaves the broker
// idle, and a later approval is stale. The cancel endpoint is hit once.
func TestCancelTimeoutScenario(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := orderapi.NewClient(srv.URL, discardLogger(), orderapi.WithTimeout(50*time.Millisecond))
	b := newTestBroker(NewStoreExecutor(client, discardLogger()))

	b.BeginTurn()
	if _, err := b.StageIfEligible(eligible("ORD123", "Running Shoes", 5)); err != nil {
		t.Fatal(err)
	}
	res, err := b.Approve(context.Background(), ActionCancelOrder, "ORD123")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if res.Outcome != OutcomeNetworkError {
		t.Errorf("outcome = %s", res.Outcome)
	}
	if b.State() != StateIdle {
		t.Errorf("state = %s", b.State())
	}
	if _, err := b.Approve(context.Background(), ActionCancelOrder, "ORD123"); !errors.Is(err, ErrStaleConfirmation) {
		t.Errorf("expected stale, got %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("cancel endpoint hit %d times, want 1", hits.Load())
	}
}

// A 200 answer whose body reports failure must not count as a cancellation.
func TestStoreExecutorFailureBodyOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":false,"order_id":"ORD1","error":"refused"}`))
	}))
	defer srv.Close()

	client := orderapi.NewClient(srv.URL, discardLogger())
	res := NewStoreExecutor(client, discardLogger()).Execute(context.Background(),
		PendingAction{ActionType: ActionCancelOrder, OrderID: "ORD1", ItemName: "Mug"})
	if res.Outcome != OutcomeUnknownError {
		t.Errorf("outcome = %s, want %s", res.Outcome, OutcomeUnknownError)
	}
	if res.StatusCode != http.StatusOK || res.Detail != "refused" {
		t.Errorf("status = %d, detail = %q", res.StatusCode, res.Detail)
	}
	if res.Message != "❌ API reported failure for order #ORD1: refused" {
		t.Errorf("message = %q", res.Message)
	}
}
