package mcp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jkaninda/orderdesk/internal/orderapi"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStore implements OrderStore for tests.
type fakeStore struct {
	orders  map[string]orderapi.OrderRecord
	err     error
	tracked string
	added   string
}

func (f *fakeStore) Track(_ context.Context, id string) (*orderapi.TrackResponse, error) {
	f.tracked = id
	if f.err != nil {
		return nil, f.err
	}
	rec, ok := f.orders[id]
	if !ok {
		return nil, &orderapi.APIError{Op: "track", StatusCode: 404, Message: orderapi.MsgOrderNotFound}
	}
	return &orderapi.TrackResponse{Success: true, OrderID: id, Status: rec.Status, Item: rec.Item}, nil
}

func (f *fakeStore) List(context.Context) (*orderapi.ListResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &orderapi.ListResponse{Success: true, Orders: f.orders}, nil
}

func (f *fakeStore) Add(_ context.Context, item, _ string) (*orderapi.AddResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.added = item
	return &orderapi.AddResponse{Success: true, OrderID: "ORD913"}, nil
}

func newCallToolRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func newFakeStore() *fakeStore {
	return &fakeStore{orders: map[string]orderapi.OrderRecord{
		"ORD456": {ID: "ORD456", Item: "Laptop", Status: "Shipped"},
		"ORD123": {ID: "ORD123", Item: "Running Shoes", Status: "Processing"},
	}}
}

func TestTrackOrder(t *testing.T) {
	store := newFakeStore()
	s := New(store, discardLogger())

	result, err := s.handleTrack(context.Background(), newCallToolRequest(toolTrack, map[string]any{"order_id": " ord123 "}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected success, got %+v", result)
	}
	if store.tracked != "ORD123" {
		t.Errorf("tracked %q, want normalized ORD123", store.tracked)
	}
	resp, ok := result.StructuredContent.(*orderapi.TrackResponse)
	if !ok || resp.Item != "Running Shoes" {
		t.Errorf("structured = %#v", result.StructuredContent)
	}
}

func TestTrackOrderErrors(t *testing.T) {
	tests := []struct {
		name  string
		store *fakeStore
		args  map[string]any
	}{
		{name: "missing id", store: newFakeStore(), args: map[string]any{}},
		{name: "unknown order", store: newFakeStore(), args: map[string]any{"order_id": "ORD999"}},
		{name: "store down", store: &fakeStore{err: &orderapi.TransportError{Op: "track", Err: errors.New("refused")}}, args: map[string]any{"order_id": "ORD123"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(tt.store, discardLogger())
			result, err := s.handleTrack(context.Background(), newCallToolRequest(toolTrack, tt.args))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !result.IsError {
				t.Fatal("expected tool error result")
			}
		})
	}
}

func TestListOrdersSorted(t *testing.T) {
	s := New(newFakeStore(), discardLogger())
	result, err := s.handleList(context.Background(), newCallToolRequest(toolList, nil))
	if err != nil || result.IsError {
		t.Fatalf("list failed: %v %+v", err, result)
	}
	out, ok := result.StructuredContent.(ListResult)
	if !ok || len(out.Orders) != 2 {
		t.Fatalf("structured = %#v", result.StructuredContent)
	}
	if out.Orders[0].ID != "ORD123" || out.Orders[1].ID != "ORD456" {
		t.Errorf("order = %v, %v", out.Orders[0].ID, out.Orders[1].ID)
	}
}

func TestAddOrder(t *testing.T) {
	store := newFakeStore()
	s := New(store, discardLogger())

	result, err := s.handleAdd(context.Background(), newCallToolRequest(toolAdd, map[string]any{"item_name": "Desk Lamp"}))
	if err != nil || result.IsError {
		t.Fatalf("add failed: %v %+v", err, result)
	}
	if store.added != "Desk Lamp" {
		t.Errorf("added %q", store.added)
	}

	result, _ = s.handleAdd(context.Background(), newCallToolRequest(toolAdd, map[string]any{"item_name": "  "}))
	if !result.IsError {
		t.Error("blank item_name should be rejected")
	}
}

func TestServeRequiresConfiguredServer(t *testing.T) {
	var nilServer *Server
	if err := nilServer.Serve(); err == nil {
		t.Fatal("expected error")
	}
	if err := (&Server{}).Serve(); err == nil {
		t.Fatal("expected error")
	}
}
