// Package orderapi holds the HTTP contract of the order store: wire types
// shared by the server and the client used by the assistant.
package orderapi

import (
	"strings"
	"time"

	"github.com/jkaninda/orderdesk/internal/orders"
)

// Messages returned by the order store.
const (
	MsgOrderNotFound     = "Order not found"
	MsgCancelled         = "Order cancelled successfully."
	MsgAlreadyCancelled  = "Order was already cancelled."
	MsgMissingPlacedDate = "Order cannot be cancelled (missing placement date)."
	MsgRequestNotJSON    = "Request must be JSON"
	MsgMissingItemName   = "Missing 'item_name' in request body"
)

// TrackResponse is the body of GET /track/{id}.
type TrackResponse struct {
	Success    bool   `json:"success"`
	OrderID    string `json:"order_id"`
	Status     string `json:"status,omitempty"`
	Item       string `json:"item,omitempty"`
	PlacedDate string `json:"placed_date,omitempty"`
	Comment    string `json:"comment,omitempty"`
	Detail     string `json:"detail,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Order converts the tracking payload into a snapshot. An unparsable
// placed_date yields a nil PlacedAt.
func (r *TrackResponse) Order() *orders.Order {
	o := &orders.Order{
		ID:       r.OrderID,
		ItemName: r.Item,
		Status:   orders.ParseStatus(r.Status),
		Comment:  r.Comment,
	}
	if t, ok := ParsePlacedDate(r.PlacedDate); ok {
		o.PlacedAt = &t
	}
	return o
}

// CancelResponse is the body of POST /cancel/{id}.
type CancelResponse struct {
	Success bool   `json:"success"`
	OrderID string `json:"order_id"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// AddRequest is the body of POST /add.
type AddRequest struct {
	ItemName string `json:"item_name"`
	Comment  string `json:"comment,omitempty"`
}

// AddResponse is the body of POST /add.
type AddResponse struct {
	Success bool   `json:"success"`
	OrderID string `json:"order_id,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// OrderRecord is one entry of the /list payload.
type OrderRecord struct {
	ID         string `json:"id"`
	Item       string `json:"item"`
	Status     string `json:"status"`
	PlacedDate string `json:"placed_date,omitempty"`
	Comment    string `json:"comment"`
}

// ListResponse is the body of GET /list, keyed by order id.
type ListResponse struct {
	Success bool                   `json:"success"`
	Orders  map[string]OrderRecord `json:"orders"`
	Error   string                 `json:"error,omitempty"`
}

// ErrorResponse is the generic failure body.
type ErrorResponse struct {
	Success bool   `json:"success"`
	OrderID string `json:"order_id,omitempty"`
	Error   string `json:"error"`
}

// NewTrackResponse builds the tracking payload for an order.
func NewTrackResponse(o *orders.Order) TrackResponse {
	return TrackResponse{
		Success:    true,
		OrderID:    o.ID,
		Status:     o.Status.String(),
		Item:       o.ItemName,
		PlacedDate: FormatPlacedDate(o.PlacedAt),
		Comment:    o.Comment,
		Detail:     o.Detail(),
	}
}

// NewOrderRecord builds a /list entry for an order.
func NewOrderRecord(o *orders.Order) OrderRecord {
	return OrderRecord{
		ID:         o.ID,
		Item:       o.ItemName,
		Status:     o.Status.String(),
		PlacedDate: FormatPlacedDate(o.PlacedAt),
		Comment:    o.Comment,
	}
}

// FormatPlacedDate renders a placement time as RFC 3339 in UTC.
func FormatPlacedDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

var placedDateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	time.DateOnly,
}

// ParsePlacedDate accepts RFC 3339, ISO 8601 without a zone (read as UTC)
// and plain dates.
func ParsePlacedDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range placedDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
