// Package confirmation gates side-effecting actions behind an explicit human
// approval. A Broker holds at most one pending action per session and runs
// it at most once through an Executor.
package confirmation

import (
	"errors"
	"time"
)

var (
	// ErrStaleConfirmation is returned when an approval does not match the
	// pending action, including after it already ran.
	ErrStaleConfirmation = errors.New("no pending confirmation")
	// ErrDuplicateStage is returned for a second staging attempt in one turn.
	ErrDuplicateStage = errors.New("an action was already staged this turn")
	// ErrActionInFlight is returned when staging while an action executes.
	ErrActionInFlight = errors.New("a confirmed action is executing")
)

// ActionType names a side-effecting action that needs approval.
type ActionType string

const ActionCancelOrder ActionType = "cancel_order"

// State is the broker lifecycle: Idle -> Pending -> Executing -> Idle.
type State int

const (
	StateIdle State = iota
	StatePending
	StateExecuting
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateExecuting:
		return "executing"
	default:
		return "idle"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// PendingAction is an action staged for approval. It is single-use.
type PendingAction struct {
	ActionType ActionType `json:"action_type"`
	OrderID    string     `json:"order_id"`
	ItemName   string     `json:"item_name"`
	StagedAt   time.Time  `json:"staged_at"`
}

// Outcome classifies the result of an executed action.
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomePolicyRejected   Outcome = "policy_rejected"
	OutcomeNotFound         Outcome = "not_found"
	OutcomeAlreadyCancelled Outcome = "already_cancelled"
	OutcomeNetworkError     Outcome = "network_error"
	OutcomeUnknownError     Outcome = "unknown_error"
)

// ActionResult is the outcome of executing a PendingAction. Message is the
// user-facing text; Detail carries the store's own wording when there is one.
type ActionResult struct {
	ActionType ActionType `json:"action_type"`
	OrderID    string     `json:"order_id"`
	ItemName   string     `json:"item_name,omitempty"`
	Outcome    Outcome    `json:"outcome"`
	StatusCode int        `json:"status_code,omitempty"`
	Detail     string     `json:"detail,omitempty"`
	Message    string     `json:"message"`
}

// Succeeded reports whether the action took effect.
func (r ActionResult) Succeeded() bool { return r.Outcome == OutcomeSuccess }
