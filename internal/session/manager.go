package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jkaninda/orderdesk/internal/agent"
	"github.com/jkaninda/orderdesk/internal/confirmation"
	"github.com/jkaninda/orderdesk/internal/observability"
)

// DefaultTTL is how long an idle session is kept.
const DefaultTTL = time.Hour

// Manager owns the live sessions. The map has its own lock; a session's
// turns are serialized by the session itself.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	agent    agent.Agent
	executor confirmation.Executor
	logger   *slog.Logger
	metrics  *observability.MetricsCollector
	tracer   trace.Tracer

	ttl          time.Duration
	historyLimit int
	now          func() time.Time
	parser       cron.Parser
	reapHooks    []func()
}

// Option configures a Manager.
type Option func(*Manager)

// WithObservability attaches metrics and tracing.
func WithObservability(obs *observability.Observability) Option {
	return func(m *Manager) {
		m.metrics = obs.MetricsOrNil()
		m.tracer = obs.TracerOrNil().Tracer()
	}
}

// WithTTL sets the idle lifetime of a session.
func WithTTL(d time.Duration) Option {
	return func(m *Manager) { m.ttl = d }
}

// WithHistoryLimit caps the messages kept per session.
func WithHistoryLimit(n int) Option {
	return func(m *Manager) { m.historyLimit = n }
}

// WithClock overrides the clock used for idle tracking and staging.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithReapHook runs fn after every scheduled reap, for housekeeping that
// shares the reaper schedule.
func WithReapHook(fn func()) Option {
	return func(m *Manager) { m.reapHooks = append(m.reapHooks, fn) }
}

// NewManager creates a session manager. Every session shares the agent and
// the executor but gets its own broker.
func NewManager(ag agent.Agent, executor confirmation.Executor, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		sessions: make(map[string]*Session),
		agent:    ag,
		executor: executor,
		logger:   logger,
		tracer:   noop.NewTracerProvider().Tracer(""),
		ttl:      DefaultTTL,
		now:      time.Now,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetOrCreate returns the session with id, creating it when unknown. An
// empty id always creates a new session with a random id.
// Lookups refresh the idle timer under the manager lock, so a session handed
// out here cannot be reaped before its caller uses it.
func (m *Manager) GetOrCreate(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id != "" {
		if s, ok := m.sessions[id]; ok {
			s.touch()
			return s, false
		}
	} else {
		id = uuid.NewString()
	}

	s := &Session{
		id:           id,
		agent:        m.agent,
		historyLimit: m.historyLimit,
		logger:       m.logger,
		tracer:       m.tracer,
		metrics:      m.metrics,
		now:          m.now,
	}
	s.broker = confirmation.NewBroker(m.executor, m.logger,
		confirmation.WithObserver(m.metrics),
		confirmation.WithClock(m.now),
	)
	s.touch()
	m.sessions[id] = s
	m.metrics.SessionOpened()

	m.logger.Info("session created", slog.String("session_id", id))
	return s, true
}

// Get returns an existing session or ErrSessionNotFound.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %q: %w", id, ErrSessionNotFound)
	}
	s.touch()
	return s, nil
}

// Close ends a session. A turn in flight finishes on its own.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return fmt.Errorf("session %q: %w", id, ErrSessionNotFound)
	}
	delete(m.sessions, id)
	m.metrics.SessionClosed()
	m.logger.Info("session closed", slog.String("session_id", id))
	return nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Reap removes sessions idle longer than the TTL. Sessions with a turn or
// approval in flight are skipped. It returns the number removed.
func (m *Manager) Reap() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.ttl)
	removed := 0
	for id, s := range m.sessions {
		if !s.mu.TryLock() {
			continue
		}
		idle := s.LastActive().Before(cutoff)
		s.mu.Unlock()
		if !idle {
			continue
		}
		delete(m.sessions, id)
		m.metrics.SessionClosed()
		removed++
	}
	if removed > 0 {
		m.logger.Info("idle sessions reaped",
			slog.Int("removed", removed),
			slog.Int("remaining", len(m.sessions)),
		)
	}
	return removed
}

// StartReaper runs Reap on the given cron spec (descriptors such as
// "@every 5m" are accepted) until ctx is done. Returns a cancel function.
func (m *Manager) StartReaper(ctx context.Context, spec string) (func(), error) {
	sched, err := m.parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid reap schedule %q: %w", spec, err)
	}
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		m.logger.InfoContext(ctx, "session reaper started",
			slog.String("schedule", spec),
			slog.String("ttl", m.ttl.String()),
		)
		for {
			now := time.Now()
			timer := time.NewTimer(sched.Next(now).Sub(now))
			select {
			case <-ctx.Done():
				timer.Stop()
				m.logger.Info("session reaper stopped")
				return
			case <-timer.C:
				m.Reap()
				for _, hook := range m.reapHooks {
					hook()
				}
			}
		}
	}()

	return cancel, nil
}
