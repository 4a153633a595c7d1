// Package ordertools implements the order store tools offered to the model:
// track, add, list, and the cancellation eligibility check. None of them
// cancels anything.
package ordertools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jkaninda/orderdesk/internal/orderapi"
	"github.com/jkaninda/orderdesk/internal/orders"
	"github.com/jkaninda/orderdesk/internal/policy"
	"github.com/jkaninda/orderdesk/internal/tools"
)

// Tool names.
const (
	NameTrack       = "track_order"
	NameAdd         = "add_order"
	NameList        = "list_orders"
	NameCancelCheck = "cancel_order_check"
)

// OrderService is the order store API used by the tools.
type OrderService interface {
	Track(ctx context.Context, orderID string) (*orderapi.TrackResponse, error)
	Add(ctx context.Context, itemName, comment string) (*orderapi.AddResponse, error)
	List(ctx context.Context) (*orderapi.ListResponse, error)
}

// Register adds all order tools to reg.
func Register(reg *tools.Registry, svc OrderService, logger *slog.Logger) {
	reg.Register(NewTrackTool(svc, logger))
	reg.Register(NewAddTool(svc, logger))
	reg.Register(NewListTool(svc, logger))
	reg.Register(NewCancelCheckTool(svc, logger))
}

var orderIDSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"order_id": map[string]any{"type": "string", "description": "Order identifier, e.g. ORD123"},
	},
	"required": []string{"order_id"},
}

// --- track_order ---

type TrackTool struct {
	svc    OrderService
	logger *slog.Logger
}

func NewTrackTool(svc OrderService, logger *slog.Logger) *TrackTool {
	return &TrackTool{svc: svc, logger: logger}
}

func (t *TrackTool) Name() string { return NameTrack }
func (t *TrackTool) Description() string {
	return "Get the current status, item and comment of an order."
}
func (t *TrackTool) InputSchema() map[string]any { return orderIDSchema }
func (t *TrackTool) Validate(params map[string]any) error {
	_, err := tools.RequireString(params, "order_id")
	return err
}

func (t *TrackTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	id, _ := tools.RequireString(params, "order_id")
	resp, err := t.svc.Track(ctx, id)
	switch {
	case errors.Is(err, orderapi.ErrNotFound):
		return &tools.Result{Output: fmt.Sprintf("Order ID '%s' not found.", id), Success: true}, nil
	case err != nil:
		return nil, fmt.Errorf("tracking order %s: %w", id, err)
	}
	detail := resp.Detail
	if detail == "" {
		detail = fmt.Sprintf("Status for order %s: %s", id, resp.Status)
	}
	return &tools.Result{Output: detail, Success: true}, nil
}

// --- add_order ---

type AddTool struct {
	svc    OrderService
	logger *slog.Logger
}

func NewAddTool(svc OrderService, logger *slog.Logger) *AddTool {
	return &AddTool{svc: svc, logger: logger}
}

func (t *AddTool) Name() string        { return NameAdd }
func (t *AddTool) Description() string { return "Place a new order for an item, with an optional comment." }
func (t *AddTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"item_name": map[string]any{"type": "string", "description": "Name of the item to order"},
			"comment":   map[string]any{"type": "string", "description": "Optional note for the order"},
		},
		"required": []string{"item_name"},
	}
}
func (t *AddTool) Validate(params map[string]any) error {
	_, err := tools.RequireString(params, "item_name")
	return err
}

func (t *AddTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	item, _ := tools.RequireString(params, "item_name")
	comment := tools.OptionalString(params, "comment")

	resp, err := t.svc.Add(ctx, item, comment)
	if err != nil {
		var apiErr *orderapi.APIError
		if errors.As(err, &apiErr) {
			return &tools.Result{Output: fmt.Sprintf("Failed to add order for '%s'. Reason: %s", item, apiErr.Message)}, nil
		}
		return nil, fmt.Errorf("adding order for %q: %w", item, err)
	}
	t.logger.InfoContext(ctx, "order added via tool",
		slog.String("order_id", resp.OrderID),
		slog.String("session_id", tools.SessionIDFromContext(ctx)),
	)
	return &tools.Result{
		Output:  fmt.Sprintf("Order for '%s' received! Order ID: %s. Message: %s", item, resp.OrderID, resp.Message),
		Success: true,
	}, nil
}

// --- list_orders ---

type ListTool struct {
	svc    OrderService
	logger *slog.Logger
}

func NewListTool(svc OrderService, logger *slog.Logger) *ListTool {
	return &ListTool{svc: svc, logger: logger}
}

func (t *ListTool) Name() string        { return NameList }
func (t *ListTool) Description() string { return "List every order with its status, item and placement date." }
func (t *ListTool) InputSchema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}
func (t *ListTool) Validate(map[string]any) error { return nil }

func (t *ListTool) Execute(ctx context.Context, _ map[string]any) (*tools.Result, error) {
	resp, err := t.svc.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	if len(resp.Orders) == 0 {
		return &tools.Result{Output: "There are currently no orders.", Success: true}, nil
	}
	b, err := json.Marshal(resp.Orders)
	if err != nil {
		return nil, fmt.Errorf("encoding orders: %w", err)
	}
	return &tools.Result{Output: tools.TruncateOutput(string(b), tools.MaxOutputBytes), Success: true}, nil
}

// --- cancel_order_check ---

// CheckOutcome is the structured result of a cancellation check, consumed
// by the turn coordinator to stage a confirmation.
type CheckOutcome struct {
	OrderID string
	// Order is the fresh snapshot, nil when the order was not found or the
	// lookup failed.
	Order     *orders.Order
	CheckedAt time.Time
	// Err is set when the store could not be asked; eligibility is unknown.
	Err error
}

// Found reports whether the store returned the order.
func (c *CheckOutcome) Found() bool { return c.Order != nil }

// CancelCheckTool checks whether an order may be cancelled. It never
// cancels; an eligible order must be confirmed by the user out of band.
type CancelCheckTool struct {
	svc    OrderService
	logger *slog.Logger
	now    func() time.Time
}

func NewCancelCheckTool(svc OrderService, logger *slog.Logger) *CancelCheckTool {
	return &CancelCheckTool{svc: svc, logger: logger, now: time.Now}
}

// WithClock overrides the evaluation clock.
func (t *CancelCheckTool) WithClock(now func() time.Time) *CancelCheckTool {
	t.now = now
	return t
}

func (t *CancelCheckTool) Name() string { return NameCancelCheck }
func (t *CancelCheckTool) Description() string {
	return "Check whether an order exists and is eligible for cancellation under the 10-day policy. Does NOT cancel; the user must confirm in the interface."
}
func (t *CancelCheckTool) InputSchema() map[string]any { return orderIDSchema }
func (t *CancelCheckTool) Validate(params map[string]any) error {
	_, err := tools.RequireString(params, "order_id")
	return err
}

// checkPayload mirrors what the model sees.
type checkPayload struct {
	OrderID  string        `json:"order_id"`
	Eligible bool          `json:"eligible_for_confirmation"`
	Comment  string        `json:"comment"`
	Details  *checkDetails `json:"details"`
}

type checkDetails struct {
	OrderID       string `json:"order_id"`
	ItemName      string `json:"item_name"`
	CurrentStatus string `json:"current_status"`
	PlacedDate    string `json:"placed_date,omitempty"`
}

func (t *CancelCheckTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	id, _ := tools.RequireString(params, "order_id")
	outcome := &CheckOutcome{OrderID: id, CheckedAt: t.now().UTC()}
	payload := checkPayload{OrderID: id}

	resp, err := t.svc.Track(ctx, id)
	switch {
	case errors.Is(err, orderapi.ErrNotFound):
		payload.Comment = fmt.Sprintf("Order ID '%s' not found.", id)
	case err != nil:
		outcome.Err = err
		payload.Comment = lookupFailureText(id, err)
		t.logger.WarnContext(ctx, "cancellation check lookup failed",
			slog.String("order_id", id),
			slog.String("session_id", tools.SessionIDFromContext(ctx)),
			slog.String("error", err.Error()),
		)
	default:
		snap := resp.Order()
		outcome.Order = snap
		payload.Details = &checkDetails{
			OrderID:       id,
			ItemName:      snap.ItemName,
			CurrentStatus: snap.Status.String(),
			PlacedDate:    resp.PlacedDate,
		}
		res := policy.Evaluate(id, snap, outcome.CheckedAt)
		payload.Eligible = res.Eligible
		payload.Comment = EligibilityText(res)
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding check result: %w", err)
	}
	return &tools.Result{
		Output:     string(b),
		Success:    outcome.Err == nil,
		Structured: outcome,
	}, nil
}

// EligibilityText explains an evaluation to the model.
func EligibilityText(res policy.Result) string {
	if res.Order == nil {
		return fmt.Sprintf("Order ID '%s' not found.", res.OrderID)
	}
	o := res.Order
	switch res.Reason {
	case policy.ReasonAlreadyCancelled:
		return fmt.Sprintf("Order %s (%s) has already been cancelled.", res.OrderID, o.ItemName)
	case policy.ReasonUnverifiable:
		return fmt.Sprintf("Could not verify cancellation policy for order %s. Placement date missing or invalid.", res.OrderID)
	case policy.ReasonOutsideWindow:
		return fmt.Sprintf("Order %s (%s, placed %s) cannot be cancelled. It is older than the %d-day policy limit (cutoff date: %s).",
			res.OrderID, o.ItemName, o.PlacedAt.UTC().Format(time.DateOnly), policy.CancellationWindowDays, res.Cutoff.Format(time.DateOnly))
	}
	return fmt.Sprintf("Order %s (%s, placed %s) status is '%s'. It is within the %d-day cancellation policy. "+
		"Inform the user confirmation is required via the UI button to attempt cancellation.",
		res.OrderID, o.ItemName, o.PlacedAt.UTC().Format(time.DateOnly), o.Status, policy.CancellationWindowDays)
}

func lookupFailureText(id string, err error) string {
	var apiErr *orderapi.APIError
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("API error checking order %s status (%d). Cannot determine eligibility.", id, apiErr.StatusCode)
	}
	if errors.Is(err, orderapi.ErrTransport) {
		return fmt.Sprintf("Could not connect to the order service to check order %s. Cannot determine eligibility.", id)
	}
	return fmt.Sprintf("An unexpected error occurred checking order %s. Cannot determine eligibility.", id)
}
