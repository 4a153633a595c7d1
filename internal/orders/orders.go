// Package orders defines the order record, its lifecycle statuses, and the
// storage interface shared by the order store server and its backends.
package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of an order.
type Status int

const (
	StatusUnknown Status = iota
	StatusProcessing
	StatusShipped
	StatusDelivered
	StatusCancelled
)

// String returns the wire representation of the status.
func (s Status) String() string {
	switch s {
	case StatusProcessing:
		return "Processing"
	case StatusShipped:
		return "Shipped"
	case StatusDelivered:
		return "Delivered"
	case StatusCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// ParseStatus maps a wire status to a Status. Matching is case-insensitive;
// anything unrecognised becomes StatusUnknown.
func ParseStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "processing":
		return StatusProcessing
	case "shipped":
		return StatusShipped
	case "delivered":
		return StatusDelivered
	case "cancelled", "canceled":
		return StatusCancelled
	default:
		return StatusUnknown
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	*s = ParseStatus(string(b))
	return nil
}

// Order is a point-in-time view of an order record.
// PlacedAt is nil when the placement date is missing or could not be parsed.
type Order struct {
	ID       string     `json:"order_id"`
	ItemName string     `json:"item"`
	Status   Status     `json:"status"`
	PlacedAt *time.Time `json:"placed_date,omitempty"`
	Comment  string     `json:"comment"`
}

// Clone returns a deep copy of the order.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	if o.PlacedAt != nil {
		t := *o.PlacedAt
		c.PlacedAt = &t
	}
	return &c
}

// Detail renders the one-line tracking summary returned by the track endpoint.
func (o *Order) Detail() string {
	return fmt.Sprintf("Order %s (%s) is currently %s. Comment: %s", o.ID, o.ItemName, o.Status, o.Comment)
}

// DefaultComment is applied to new orders created without a comment.
const DefaultComment = "Order placed."

// CancelledMarker is appended to the comment of a cancelled order.
const CancelledMarker = " [User Cancelled]"

var (
	ErrNotFound     = errors.New("order not found")
	ErrInvalidOrder = errors.New("invalid order")
)

// UpdateFunc inspects and mutates an order inside a conditional update.
// Returning an error aborts the update and leaves the record untouched.
type UpdateFunc func(o *Order) error

// Store persists orders. Implementations must make Update atomic with
// respect to other Update calls on the same order.
type Store interface {
	Get(ctx context.Context, id string) (*Order, error)
	List(ctx context.Context) ([]Order, error)
	Add(ctx context.Context, itemName, comment string, placedAt time.Time) (*Order, error)
	Update(ctx context.Context, id string, fn UpdateFunc) (*Order, error)
}

// NewOrder validates and builds a Processing order. The id is assigned by the store.
func NewOrder(itemName, comment string, placedAt time.Time) (*Order, error) {
	itemName = strings.TrimSpace(itemName)
	if itemName == "" {
		return nil, fmt.Errorf("%w: item_name is required", ErrInvalidOrder)
	}
	if strings.TrimSpace(comment) == "" {
		comment = DefaultComment
	}
	t := placedAt.UTC()
	return &Order{
		ItemName: itemName,
		Status:   StatusProcessing,
		PlacedAt: &t,
		Comment:  comment,
	}, nil
}
