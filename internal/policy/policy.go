// Package policy decides whether an order may be cancelled.
//
// Evaluate is pure: it never performs I/O and returns the same result for the
// same inputs. Dates are compared as UTC calendar dates.
package policy

import (
	"time"

	"github.com/jkaninda/orderdesk/internal/orders"
)

// CancellationWindowDays is the number of calendar days after placement during
// which an order may still be cancelled. The boundary day is included.
const CancellationWindowDays = 10

// Reason explains why an order is not eligible.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonNotFound         Reason = "not found"
	ReasonAlreadyCancelled Reason = "already cancelled"
	ReasonUnverifiable     Reason = "cannot verify policy"
	ReasonOutsideWindow    Reason = "outside the 10-day cancellation policy"
)

// Result is the outcome of a single eligibility evaluation.
type Result struct {
	OrderID  string
	Eligible bool
	Reason   Reason
	// Order is the snapshot the decision was made on; nil when not found.
	Order *orders.Order
	// Cutoff is the earliest placement date still eligible.
	Cutoff time.Time
}

// ItemName returns the snapshot's item name, or "" when there is no snapshot.
func (r Result) ItemName() string {
	if r.Order == nil {
		return ""
	}
	return r.Order.ItemName
}

// Evaluate applies the cancellation policy to a snapshot. A nil order means
// the order does not exist. An already cancelled order is reported as such
// before its date is looked at.
func Evaluate(orderID string, order *orders.Order, now time.Time) Result {
	res := Result{OrderID: orderID, Order: order, Cutoff: Cutoff(now)}

	switch {
	case order == nil:
		res.Reason = ReasonNotFound
	case order.Status == orders.StatusCancelled:
		res.Reason = ReasonAlreadyCancelled
	case order.PlacedAt == nil || order.PlacedAt.IsZero():
		res.Reason = ReasonUnverifiable
	case calendarDate(*order.PlacedAt).Before(res.Cutoff):
		res.Reason = ReasonOutsideWindow
	default:
		res.Eligible = true
	}
	return res
}

// Cutoff returns the UTC calendar date CancellationWindowDays before now.
func Cutoff(now time.Time) time.Time {
	return calendarDate(now).AddDate(0, 0, -CancellationWindowDays)
}

func calendarDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
