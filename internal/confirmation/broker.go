package confirmation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jkaninda/orderdesk/internal/policy"
)

// Broker events reported to an Observer.
const (
	EventStaged    = "staged"
	EventCleared   = "cleared"
	EventDuplicate = "duplicate"
	EventApproved  = "approved"
	EventStale     = "stale"
)

// Observer receives broker events, typically for metrics.
type Observer interface {
	ObserveConfirmation(event string)
}

// Broker owns the pending action and the last action result of one session.
//
// The pending action is consumed by a matching Approve, which makes a
// second approval of the same action stale. Execution happens outside the
// broker lock; a concurrent Approve sees Executing and is rejected.
type Broker struct {
	mu             sync.Mutex
	state          State
	pending        *PendingAction
	stagedThisTurn bool
	lastResult     *ActionResult

	executor Executor
	observer Observer
	logger   *slog.Logger
	now      func() time.Time
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

func WithObserver(o Observer) BrokerOption {
	return func(b *Broker) { b.observer = o }
}

// WithClock overrides the staging timestamp source.
func WithClock(now func() time.Time) BrokerOption {
	return func(b *Broker) { b.now = now }
}

// NewBroker returns an Idle broker running approved actions on executor.
func NewBroker(executor Executor, logger *slog.Logger, opts ...BrokerOption) *Broker {
	b := &Broker{executor: executor, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// BeginTurn starts a new turn: any pending action from the previous turn is
// dropped and staging is allowed again.
func (b *Broker) BeginTurn() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StatePending {
		b.emit(EventCleared)
	}
	b.clearPendingLocked()
	b.stagedThisTurn = false
}

// StageIfEligible stages a cancellation for an eligible evaluation, replacing
// whatever was pending, and clears the pending action for an ineligible one.
// Only the first staging attempt of a turn is honoured; later ones return
// ErrDuplicateStage and leave the broker unchanged.
func (b *Broker) StageIfEligible(res policy.Result) (*PendingAction, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateExecuting {
		return nil, ErrActionInFlight
	}
	if b.stagedThisTurn {
		b.emit(EventDuplicate)
		return nil, fmt.Errorf("staging %s: %w", res.OrderID, ErrDuplicateStage)
	}
	b.stagedThisTurn = true

	if !res.Eligible {
		if b.state == StatePending {
			b.emit(EventCleared)
		}
		b.clearPendingLocked()
		return nil, nil
	}

	b.pending = &PendingAction{
		ActionType: ActionCancelOrder,
		OrderID:    res.OrderID,
		ItemName:   res.ItemName(),
		StagedAt:   b.now().UTC(),
	}
	b.state = StatePending
	b.emit(EventStaged)

	cp := *b.pending
	return &cp, nil
}

// TakePendingForSurfacing returns a copy of the pending action for display,
// or nil. The action stays pending.
func (b *Broker) TakePendingForSurfacing() *PendingAction {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StatePending || b.pending == nil {
		return nil
	}
	cp := *b.pending
	return &cp
}

// Approve runs the pending action if it matches actionType and orderID.
// The broker is Idle again when Approve returns, whatever the outcome, and
// the result is kept for the next turn.
func (b *Broker) Approve(ctx context.Context, actionType ActionType, orderID string) (ActionResult, error) {
	b.mu.Lock()
	if b.state != StatePending || b.pending == nil ||
		b.pending.ActionType != actionType || b.pending.OrderID != orderID {
		state := b.state
		b.emit(EventStale)
		b.mu.Unlock()
		b.logger.WarnContext(ctx, "stale confirmation rejected",
			slog.String("action", string(actionType)),
			slog.String("order_id", orderID),
			slog.String("state", state.String()),
		)
		return ActionResult{}, ErrStaleConfirmation
	}
	action := *b.pending
	b.pending = nil
	b.state = StateExecuting
	b.emit(EventApproved)
	b.mu.Unlock()

	done := false
	defer func() {
		if !done {
			// Executor panicked; never stay in Executing.
			b.mu.Lock()
			b.state = StateIdle
			b.mu.Unlock()
		}
	}()

	res := b.executor.Execute(ctx, action)

	b.mu.Lock()
	b.state = StateIdle
	b.lastResult = &res
	b.mu.Unlock()
	done = true
	return res, nil
}

// TakeLastResult returns the last action result and forgets it.
func (b *Broker) TakeLastResult() *ActionResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.lastResult
	b.lastResult = nil
	return r
}

// ClearPending drops the pending action, unless one was already staged this
// turn: the first staged action of a turn wins over later failures.
// It reports whether the broker is Idle afterwards.
func (b *Broker) ClearPending() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stagedThisTurn {
		b.emit(EventDuplicate)
		return b.state == StateIdle
	}
	if b.state == StatePending {
		b.emit(EventCleared)
	}
	b.clearPendingLocked()
	return true
}

// Reset forces the broker back to Idle after an unexpected failure. The last
// result, if any, is kept.
func (b *Broker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = nil
	b.state = StateIdle
	b.stagedThisTurn = false
}

// State reports the current lifecycle state.
func (b *Broker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Must be called with b.mu held.
func (b *Broker) clearPendingLocked() {
	if b.state == StateExecuting {
		return
	}
	b.pending = nil
	b.state = StateIdle
}

func (b *Broker) emit(event string) {
	if b.observer != nil {
		b.observer.ObserveConfirmation(event)
	}
}
