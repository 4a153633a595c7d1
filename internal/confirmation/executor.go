package confirmation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jkaninda/orderdesk/internal/orderapi"
)

// Executor runs an approved action against the outside world. It must not
// retry: a timed-out cancellation may or may not have been applied.
type Executor interface {
	Execute(ctx context.Context, action PendingAction) ActionResult
}

// Canceller is the slice of the order store client the executor needs.
type Canceller interface {
	Cancel(ctx context.Context, orderID string) (*orderapi.CancelResponse, error)
}

// StoreExecutor executes confirmed actions through the order store API.
// It performs no policy check of its own; the store is authoritative.
type StoreExecutor struct {
	store  Canceller
	logger *slog.Logger
}

// NewStoreExecutor returns an executor backed by the order store client.
func NewStoreExecutor(store Canceller, logger *slog.Logger) *StoreExecutor {
	return &StoreExecutor{store: store, logger: logger}
}

func (e *StoreExecutor) Execute(ctx context.Context, action PendingAction) ActionResult {
	res := ActionResult{
		ActionType: action.ActionType,
		OrderID:    action.OrderID,
		ItemName:   action.ItemName,
	}

	switch action.ActionType {
	case ActionCancelOrder:
		e.cancel(ctx, &res)
	default:
		res.Outcome = OutcomeUnknownError
		res.Detail = fmt.Sprintf("unsupported action type %q", action.ActionType)
	}

	res.Message = RenderResult(res)
	e.logger.InfoContext(ctx, "confirmed action executed",
		slog.String("action", string(res.ActionType)),
		slog.String("order_id", res.OrderID),
		slog.String("outcome", string(res.Outcome)),
		slog.Int("status_code", res.StatusCode),
	)
	return res
}

func (e *StoreExecutor) cancel(ctx context.Context, res *ActionResult) {
	resp, err := e.store.Cancel(ctx, res.OrderID)
	if err == nil {
		res.StatusCode = http.StatusOK
		if resp != nil && !resp.Success {
			res.Outcome = OutcomeUnknownError
			res.Detail = resp.Error
			e.logger.WarnContext(ctx, "order store reported failure",
				slog.String("order_id", res.OrderID),
				slog.String("error", resp.Error),
			)
			return
		}
		res.Outcome = OutcomeSuccess
		if resp != nil {
			res.Detail = resp.Message
		}
		return
	}

	var apiErr *orderapi.APIError
	switch {
	case errors.As(err, &apiErr):
		res.StatusCode = apiErr.StatusCode
		res.Detail = apiErr.Message
		switch apiErr.StatusCode {
		case http.StatusForbidden:
			res.Outcome = OutcomePolicyRejected
		case http.StatusConflict:
			res.Outcome = OutcomeAlreadyCancelled
		case http.StatusNotFound:
			res.Outcome = OutcomeNotFound
		default:
			res.Outcome = OutcomeUnknownError
		}
	case errors.Is(err, orderapi.ErrTransport):
		res.Outcome = OutcomeNetworkError
		res.Detail = err.Error()
	default:
		res.Outcome = OutcomeUnknownError
		res.Detail = err.Error()
	}
	e.logger.WarnContext(ctx, "cancellation not applied",
		slog.String("order_id", res.OrderID),
		slog.String("outcome", string(res.Outcome)),
		slog.String("error", err.Error()),
	)
}

// RenderResult produces the user-facing text for an action result.
func RenderResult(r ActionResult) string {
	if r.ActionType != ActionCancelOrder {
		return fmt.Sprintf("❌ Unknown action type: %s", r.ActionType)
	}
	item := r.ItemName
	if item == "" {
		item = "Unknown Item"
	}
	switch r.Outcome {
	case OutcomeSuccess:
		return fmt.Sprintf("✅ Order #%s (%s) cancelled successfully.", r.OrderID, item)
	case OutcomePolicyRejected:
		reason := r.Detail
		if reason == "" {
			reason = "Policy restriction"
		}
		return fmt.Sprintf("❌ Cannot cancel order #%s (%s). Reason: %s", r.OrderID, item, reason)
	case OutcomeAlreadyCancelled:
		return fmt.Sprintf("ℹ️ Order #%s (%s) was already cancelled.", r.OrderID, item)
	case OutcomeNotFound:
		return fmt.Sprintf("❌ Failed to cancel order #%s. Reason: Order not found by API.", r.OrderID)
	case OutcomeNetworkError:
		return fmt.Sprintf("❌ Failed to cancel order #%s: Could not connect to the order service.", r.OrderID)
	default:
		if r.StatusCode == http.StatusOK {
			detail := r.Detail
			if detail == "" {
				detail = "Unknown API error"
			}
			return fmt.Sprintf("❌ API reported failure for order #%s: %s", r.OrderID, detail)
		}
		if r.StatusCode != 0 {
			return fmt.Sprintf("❌ Failed to cancel order #%s. API Error (%d): %s", r.OrderID, r.StatusCode, r.Detail)
		}
		return fmt.Sprintf("❌ An unexpected error occurred trying to cancel order #%s.", r.OrderID)
	}
}
