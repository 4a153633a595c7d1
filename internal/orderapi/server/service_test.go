package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jkaninda/orderdesk/internal/events"
	"github.com/jkaninda/orderdesk/internal/orderapi"
	"github.com/jkaninda/orderdesk/internal/orders"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var now = time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Envelope
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, evt events.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

type countingObserver struct {
	mu     sync.Mutex
	counts map[string]int
}

func (o *countingObserver) ObserveOrderMutation(op, result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counts == nil {
		o.counts = map[string]int{}
	}
	o.counts[op+"/"+result]++
}

func newTestService(t *testing.T, extra ...orders.Order) (*Service, *orders.MemoryStore, *recordingPublisher, *countingObserver) {
	t.Helper()
	store := orders.NewMemoryStore(append(orders.SeedOrders(now), extra...)...)
	pub := &recordingPublisher{}
	obs := &countingObserver{}
	svc := NewService(store, discardLogger(),
		WithPublisher(pub),
		WithObserver(obs),
		WithClock(func() time.Time { return now }),
	)
	return svc, store, pub, obs
}

func TestTrack(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	code, body := svc.Track(context.Background(), "ORD123")
	if code != http.StatusOK {
		t.Fatalf("code = %d", code)
	}
	tr := body.(orderapi.TrackResponse)
	if !tr.Success || tr.Item != "Running Shoes" || tr.Status != "Shipped" {
		t.Errorf("track = %+v", tr)
	}
	if tr.Detail != "Order ORD123 (Running Shoes) is currently Shipped. Comment: Customer requested fast delivery." {
		t.Errorf("detail = %q", tr.Detail)
	}

	code, body = svc.Track(context.Background(), "ORD999")
	if code != http.StatusNotFound || body.(orderapi.ErrorResponse).Error != orderapi.MsgOrderNotFound {
		t.Errorf("missing order: %d %+v", code, body)
	}
}

func TestCancel(t *testing.T) {
	missing := orders.Order{ID: "ORD500", ItemName: "Dateless", Status: orders.StatusProcessing, Comment: "x"}

	tests := []struct {
		id      string
		code    int
		message string
	}{
		{"ORD123", http.StatusOK, orderapi.MsgCancelled},
		{"ORD910", http.StatusOK, orderapi.MsgCancelled},
		{"ORD911", http.StatusForbidden, "Order cannot be cancelled (placed on 2026-03-09). Policy limit: 10 days."},
		{"ORD456", http.StatusForbidden, "Order cannot be cancelled (placed on 2026-03-05). Policy limit: 10 days."},
		{"ORD912", http.StatusConflict, orderapi.MsgAlreadyCancelled},
		{"ORD500", http.StatusForbidden, orderapi.MsgMissingPlacedDate},
		{"ORD999", http.StatusNotFound, orderapi.MsgOrderNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			svc, _, _, _ := newTestService(t, missing)
			code, body := svc.Cancel(context.Background(), tt.id)
			if code != tt.code {
				t.Fatalf("code = %d, want %d (%+v)", code, tt.code, body)
			}
			var got string
			switch b := body.(type) {
			case orderapi.CancelResponse:
				got = b.Message
				if !b.Success {
					t.Error("cancel and already-cancelled answers report success")
				}
			case orderapi.ErrorResponse:
				got = b.Error
			}
			if got != tt.message {
				t.Errorf("message = %q, want %q", got, tt.message)
			}
		})
	}
}

func TestCancelUpdatesOrderAndPublishes(t *testing.T) {
	svc, store, pub, obs := newTestService(t)

	if code, _ := svc.Cancel(context.Background(), "ORD789"); code != http.StatusOK {
		t.Fatalf("code = %d", code)
	}
	o, err := store.Get(context.Background(), "ORD789")
	if err != nil {
		t.Fatal(err)
	}
	if o.Status != orders.StatusCancelled || o.Comment != "Gift wrapped. [User Cancelled]" {
		t.Errorf("order = %+v", o)
	}
	if len(pub.events) != 1 || pub.events[0].EventType != events.TypeOrderCancelled || pub.events[0].AggregateID != "ORD789" {
		t.Errorf("events = %+v", pub.events)
	}

	// A refused cancel leaves the record and publishes nothing.
	if code, _ := svc.Cancel(context.Background(), "ORD911"); code != http.StatusForbidden {
		t.Fatalf("code = %d", code)
	}
	o, _ = store.Get(context.Background(), "ORD911")
	if o.Status != orders.StatusProcessing || strings.Contains(o.Comment, "Cancelled") {
		t.Errorf("refused order changed: %+v", o)
	}
	if len(pub.events) != 1 {
		t.Errorf("events = %d", len(pub.events))
	}
	if obs.counts["cancel/ok"] != 1 || obs.counts["cancel/rejected"] != 1 {
		t.Errorf("observations = %v", obs.counts)
	}
}

func TestConcurrentCancelSucceedsOnce(t *testing.T) {
	svc, _, pub, _ := newTestService(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	codes := map[int]int{}
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			code, _ := svc.Cancel(context.Background(), "ORD123")
			mu.Lock()
			codes[code]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if codes[http.StatusOK] != 1 || codes[http.StatusConflict] != 9 {
		t.Errorf("codes = %v", codes)
	}
	if len(pub.events) != 1 {
		t.Errorf("events = %d, want 1", len(pub.events))
	}
}

func TestPublishFailureDoesNotFailRequest(t *testing.T) {
	svc, _, pub, _ := newTestService(t)
	pub.err = errors.New("broker down")
	if code, _ := svc.Cancel(context.Background(), "ORD123"); code != http.StatusOK {
		t.Errorf("code = %d", code)
	}
}

func TestAdd(t *testing.T) {
	svc, store, pub, _ := newTestService(t)

	code, body := svc.Add(context.Background(), "application/json", []byte(`{"item_name":"Desk Lamp"}`))
	if code != http.StatusCreated {
		t.Fatalf("code = %d (%+v)", code, body)
	}
	ar := body.(orderapi.AddResponse)
	if ar.OrderID != "ORD913" || ar.Message != "Order for 'Desk Lamp' added successfully with ID ORD913." {
		t.Errorf("add = %+v", ar)
	}
	o, err := store.Get(context.Background(), "ORD913")
	if err != nil {
		t.Fatal(err)
	}
	if o.Status != orders.StatusProcessing || o.Comment != orders.DefaultComment || !o.PlacedAt.Equal(now) {
		t.Errorf("new order = %+v", o)
	}

	code, body = svc.Add(context.Background(), "application/json; charset=utf-8", []byte(`{"item_name":"Pen","comment":"blue"}`))
	if code != http.StatusCreated || body.(orderapi.AddResponse).OrderID != "ORD914" {
		t.Errorf("second add: %d %+v", code, body)
	}
	if len(pub.events) != 2 || pub.events[0].EventType != events.TypeOrderCreated {
		t.Errorf("events = %+v", pub.events)
	}
}

func TestAddRejectsBadRequests(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		want        string
	}{
		{"not json content type", "text/plain", `{"item_name":"x"}`, orderapi.MsgRequestNotJSON},
		{"malformed body", "application/json", `{item_name`, orderapi.MsgRequestNotJSON},
		{"missing item", "application/json", `{"comment":"hi"}`, orderapi.MsgMissingItemName},
		{"blank item", "application/json", `{"item_name":"  "}`, orderapi.MsgMissingItemName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _, _ := newTestService(t)
			code, body := svc.Add(context.Background(), tt.contentType, []byte(tt.body))
			if code != http.StatusBadRequest || body.(orderapi.ErrorResponse).Error != tt.want {
				t.Errorf("got %d %+v", code, body)
			}
		})
	}
}

func TestList(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	code, body := svc.List(context.Background())
	if code != http.StatusOK {
		t.Fatalf("code = %d", code)
	}
	lr := body.(orderapi.ListResponse)
	if len(lr.Orders) != 6 || lr.Orders["ORD912"].Status != "Cancelled" {
		t.Errorf("list = %+v", lr)
	}

	empty := NewService(orders.NewMemoryStore(), discardLogger())
	_, body = empty.List(context.Background())
	if got := body.(orderapi.ListResponse); !got.Success || len(got.Orders) != 0 {
		t.Errorf("empty list = %+v", got)
	}
}
