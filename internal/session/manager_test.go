package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type mutableClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *mutableClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *mutableClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestGetOrCreate(t *testing.T) {
	m := newTestManager(&fakeAgent{}, &fakeExecutor{})

	s1, created := m.GetOrCreate("")
	if !created || s1.ID() == "" {
		t.Fatalf("expected a new session with a generated id, got %q", s1.ID())
	}
	s2, created := m.GetOrCreate(s1.ID())
	if created || s2 != s1 {
		t.Error("known id should return the existing session")
	}
	named, created := m.GetOrCreate("web-42")
	if !created || named.ID() != "web-42" {
		t.Errorf("named session = %q, created = %v", named.ID(), created)
	}
	if m.Len() != 2 {
		t.Errorf("len = %d", m.Len())
	}
}

func TestGetAndClose(t *testing.T) {
	m := newTestManager(&fakeAgent{}, &fakeExecutor{})
	s, _ := m.GetOrCreate("")

	if _, err := m.Get(s.ID()); err != nil {
		t.Fatal(err)
	}
	if err := m.Close(s.ID()); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(s.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("get after close: %v", err)
	}
	if err := m.Close(s.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("double close: %v", err)
	}
}

func TestReapRemovesIdleSessions(t *testing.T) {
	clock := &mutableClock{t: now}
	m := NewManager(&fakeAgent{}, &fakeExecutor{}, discardLogger(),
		WithClock(clock.now),
		WithTTL(30*time.Minute),
	)

	idle, _ := m.GetOrCreate("idle")
	clock.advance(20 * time.Minute)
	active, _ := m.GetOrCreate("active")
	clock.advance(15 * time.Minute)

	if n := m.Reap(); n != 1 {
		t.Fatalf("reaped = %d, want 1", n)
	}
	if _, err := m.Get(idle.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Error("idle session should be gone")
	}
	if _, err := m.Get(active.ID()); err != nil {
		t.Error("active session should remain")
	}

	// A turn refreshes the idle timer.
	clock.advance(10 * time.Minute)
	if _, err := active.HandleTurn(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}
	clock.advance(25 * time.Minute)
	if n := m.Reap(); n != 0 {
		t.Errorf("reaped = %d after activity, want 0", n)
	}
}

func TestLookupRefreshesIdleTimer(t *testing.T) {
	clock := &mutableClock{t: now}
	m := NewManager(&fakeAgent{}, &fakeExecutor{}, discardLogger(),
		WithClock(clock.now),
		WithTTL(30*time.Minute),
	)
	s, _ := m.GetOrCreate("web-1")
	clock.advance(45 * time.Minute)

	// A handler fetched the session just before the sweep.
	got, err := m.Get(s.ID())
	if err != nil {
		t.Fatal(err)
	}
	if n := m.Reap(); n != 0 {
		t.Fatalf("reaped = %d, want 0 for a session just handed out", n)
	}
	if _, err := got.HandleTurn(context.Background(), "cancel ORD123"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(s.ID()); err != nil {
		t.Errorf("session lost after turn: %v", err)
	}

	clock.advance(45 * time.Minute)
	if again, created := m.GetOrCreate(s.ID()); created || again != s {
		t.Fatal("expected the existing session")
	}
	if n := m.Reap(); n != 0 {
		t.Errorf("reaped = %d after GetOrCreate, want 0", n)
	}
}

func TestReapSkipsBusySession(t *testing.T) {
	clock := &mutableClock{t: now}
	m := NewManager(&fakeAgent{}, &fakeExecutor{}, discardLogger(),
		WithClock(clock.now),
		WithTTL(time.Minute),
	)
	s, _ := m.GetOrCreate("busy")
	clock.advance(time.Hour)

	s.mu.Lock()
	n := m.Reap()
	s.mu.Unlock()
	if n != 0 {
		t.Errorf("reaped a session with a turn in flight")
	}
	if n := m.Reap(); n != 1 {
		t.Errorf("reaped = %d once idle, want 1", n)
	}
}

func TestStartReaperRejectsBadSchedule(t *testing.T) {
	m := newTestManager(&fakeAgent{}, &fakeExecutor{})
	if _, err := m.StartReaper(context.Background(), "every now and then"); err == nil {
		t.Fatal("expected an error for an invalid schedule")
	}
}

func TestStartReaperRunsHooks(t *testing.T) {
	ran := make(chan struct{}, 1)
	m := newTestManager(&fakeAgent{}, &fakeExecutor{}, WithReapHook(func() {
		select {
		case ran <- struct{}{}:
		default:
		}
	}))

	cancel, err := m.StartReaper(context.Background(), "@every 1s")
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("reap hook did not run")
	}
}
