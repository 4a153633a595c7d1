// Package server implements the order store HTTP API: tracking, cancelling,
// adding and listing orders on top of an orders.Store.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/jkaninda/orderdesk/internal/events"
	"github.com/jkaninda/orderdesk/internal/orderapi"
	"github.com/jkaninda/orderdesk/internal/orders"
	"github.com/jkaninda/orderdesk/internal/policy"
)

// Mutation results reported to a MutationObserver.
const (
	resultOK       = "ok"
	resultRejected = "rejected"
	resultNotFound = "not_found"
	resultInvalid  = "invalid"
	resultError    = "error"
)

// MutationObserver receives one observation per cancel or add request.
type MutationObserver interface {
	ObserveOrderMutation(op, result string)
}

// ineligibleError aborts a conditional update when the policy refuses it.
type ineligibleError struct {
	res policy.Result
}

func (e *ineligibleError) Error() string {
	return fmt.Sprintf("order %s: %s", e.res.OrderID, e.res.Reason)
}

// Service holds the request handling of the order store, independent of
// the HTTP framework. Each method returns a status code and a JSON body.
type Service struct {
	store     orders.Store
	publisher events.Publisher
	observer  MutationObserver
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher emits order.created and order.cancelled events.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithObserver(o MutationObserver) Option {
	return func(s *Service) { s.observer = o }
}

// WithClock overrides the clock used for new orders and the policy window.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService returns a Service over store.
func NewService(store orders.Store, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:     store,
		publisher: events.NopPublisher{},
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Track returns the tracking payload of an order.
func (s *Service) Track(ctx context.Context, id string) (int, any) {
	o, err := s.store.Get(ctx, id)
	if errors.Is(err, orders.ErrNotFound) {
		s.logger.WarnContext(ctx, "order not found for tracking", slog.String("order_id", id))
		return http.StatusNotFound, orderapi.ErrorResponse{OrderID: id, Error: orderapi.MsgOrderNotFound}
	}
	if err != nil {
		return s.internalError(ctx, "track", id, err)
	}
	s.logger.InfoContext(ctx, "order tracked",
		slog.String("order_id", id),
		slog.String("status", o.Status.String()),
	)
	return http.StatusOK, orderapi.NewTrackResponse(o)
}

// Cancel cancels an order when the policy allows it. The policy check and
// the status change run inside one conditional update, so concurrent
// cancels of the same order succeed at most once.
func (s *Service) Cancel(ctx context.Context, id string) (int, any) {
	now := s.now()
	updated, err := s.store.Update(ctx, id, func(o *orders.Order) error {
		res := policy.Evaluate(id, o, now)
		if !res.Eligible {
			return &ineligibleError{res: res}
		}
		o.Status = orders.StatusCancelled
		o.Comment += orders.CancelledMarker
		return nil
	})

	var inel *ineligibleError
	switch {
	case err == nil:
		s.observe("cancel", resultOK)
		s.publish(ctx, events.TypeOrderCancelled, updated)
		s.logger.InfoContext(ctx, "order cancelled", slog.String("order_id", id))
		return http.StatusOK, orderapi.CancelResponse{Success: true, OrderID: id, Message: orderapi.MsgCancelled}

	case errors.Is(err, orders.ErrNotFound):
		s.observe("cancel", resultNotFound)
		s.logger.WarnContext(ctx, "order not found for cancellation", slog.String("order_id", id))
		return http.StatusNotFound, orderapi.ErrorResponse{OrderID: id, Error: orderapi.MsgOrderNotFound}

	case errors.As(err, &inel):
		s.observe("cancel", resultRejected)
		s.logger.WarnContext(ctx, "cancellation refused",
			slog.String("order_id", id),
			slog.String("reason", string(inel.res.Reason)),
		)
		return rejection(inel.res)

	default:
		s.observe("cancel", resultError)
		return s.internalError(ctx, "cancel", id, err)
	}
}

// rejection renders a policy refusal the way the store reports it.
func rejection(res policy.Result) (int, any) {
	switch res.Reason {
	case policy.ReasonAlreadyCancelled:
		return http.StatusConflict, orderapi.CancelResponse{Success: true, OrderID: res.OrderID, Message: orderapi.MsgAlreadyCancelled}
	case policy.ReasonUnverifiable:
		return http.StatusForbidden, orderapi.ErrorResponse{OrderID: res.OrderID, Error: orderapi.MsgMissingPlacedDate}
	default:
		msg := fmt.Sprintf("Order cannot be cancelled (placed on %s). Policy limit: %d days.",
			res.Order.PlacedAt.UTC().Format(time.DateOnly), policy.CancellationWindowDays)
		return http.StatusForbidden, orderapi.ErrorResponse{OrderID: res.OrderID, Error: msg}
	}
}

// Add creates an order from a JSON body.
func (s *Service) Add(ctx context.Context, contentType string, body []byte) (int, any) {
	if !isJSON(contentType) {
		s.observe("add", resultInvalid)
		return http.StatusBadRequest, orderapi.ErrorResponse{Error: orderapi.MsgRequestNotJSON}
	}
	var req orderapi.AddRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.observe("add", resultInvalid)
		return http.StatusBadRequest, orderapi.ErrorResponse{Error: orderapi.MsgRequestNotJSON}
	}
	if strings.TrimSpace(req.ItemName) == "" {
		s.observe("add", resultInvalid)
		return http.StatusBadRequest, orderapi.ErrorResponse{Error: orderapi.MsgMissingItemName}
	}

	o, err := s.store.Add(ctx, req.ItemName, req.Comment, s.now())
	if errors.Is(err, orders.ErrInvalidOrder) {
		s.observe("add", resultInvalid)
		return http.StatusBadRequest, orderapi.ErrorResponse{Error: orderapi.MsgMissingItemName}
	}
	if err != nil {
		s.observe("add", resultError)
		return s.internalError(ctx, "add", "", err)
	}

	s.observe("add", resultOK)
	s.publish(ctx, events.TypeOrderCreated, o)
	s.logger.InfoContext(ctx, "order added",
		slog.String("order_id", o.ID),
		slog.String("item", o.ItemName),
	)
	return http.StatusCreated, orderapi.AddResponse{
		Success: true,
		OrderID: o.ID,
		Message: fmt.Sprintf("Order for '%s' added successfully with ID %s.", o.ItemName, o.ID),
	}
}

// List returns every order keyed by id.
func (s *Service) List(ctx context.Context) (int, any) {
	all, err := s.store.List(ctx)
	if err != nil {
		return s.internalError(ctx, "list", "", err)
	}
	out := orderapi.ListResponse{Success: true, Orders: make(map[string]orderapi.OrderRecord, len(all))}
	for i := range all {
		out.Orders[all[i].ID] = orderapi.NewOrderRecord(&all[i])
	}
	return http.StatusOK, out
}

func (s *Service) internalError(ctx context.Context, op, id string, err error) (int, any) {
	s.logger.ErrorContext(ctx, "order store request failed",
		slog.String("op", op),
		slog.String("order_id", id),
		slog.String("error", err.Error()),
	)
	return http.StatusInternalServerError, orderapi.ErrorResponse{OrderID: id, Error: "internal error"}
}

// publish never fails the request: the mutation is already committed.
func (s *Service) publish(ctx context.Context, eventType string, o *orders.Order) {
	if o == nil {
		return
	}
	if err := s.publisher.Publish(ctx, events.NewEnvelope(eventType, o, s.now())); err != nil {
		s.logger.WarnContext(ctx, "publishing order event failed",
			slog.String("event", eventType),
			slog.String("order_id", o.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) observe(op, result string) {
	if s.observer != nil {
		s.observer.ObserveOrderMutation(op, result)
	}
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && (mt == "application/json" || strings.HasSuffix(mt, "+json"))
}
