// Package mcp exposes read-only order tools over the Model Context Protocol.
// Cancellation is deliberately absent: it requires a human confirmation
// that an MCP client cannot provide.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jkaninda/orderdesk/internal/orderapi"
)

const (
	serverName    = "Order Desk MCP"
	serverVersion = "0.1.0"

	toolTrack = "track_order"
	toolList  = "list_orders"
	toolAdd   = "add_order"
)

// OrderStore is the subset of the order store client used by the tools.
type OrderStore interface {
	Track(ctx context.Context, orderID string) (*orderapi.TrackResponse, error)
	List(ctx context.Context) (*orderapi.ListResponse, error)
	Add(ctx context.Context, itemName, comment string) (*orderapi.AddResponse, error)
}

// TrackInput is the input of track_order.
type TrackInput struct {
	OrderID string `json:"order_id"`
}

// AddInput is the input of add_order.
type AddInput struct {
	ItemName string `json:"item_name"`
	Comment  string `json:"comment,omitempty"`
}

// ListResult is the output of list_orders, sorted by order id.
type ListResult struct {
	Orders []orderapi.OrderRecord `json:"orders"`
}

// Server hosts the MCP server.
type Server struct {
	mcpServer *server.MCPServer
	store     OrderStore
	logger    *slog.Logger
}

// New creates an MCP server backed by the order store.
func New(store OrderStore, logger *slog.Logger) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(serverName, serverVersion,
			server.WithToolCapabilities(false),
		),
		store:  store,
		logger: logger,
	}
	s.mcpServer.AddTool(trackTool(), s.handleTrack)
	s.mcpServer.AddTool(listTool(), s.handleList)
	s.mcpServer.AddTool(addTool(), s.handleAdd)
	return s
}

// Serve runs the MCP server on stdio until the client disconnects.
func (s *Server) Serve() error {
	if s == nil || s.mcpServer == nil {
		return fmt.Errorf("MCP server is not configured")
	}
	s.logger.Info("mcp server serving on stdio", slog.String("name", serverName))
	if err := server.ServeStdio(s.mcpServer); err != nil {
		return fmt.Errorf("serve MCP: %w", err)
	}
	return nil
}

func trackTool() mcp.Tool {
	return mcp.NewTool(toolTrack,
		mcp.WithDescription("Get the current status, item and placement date of an order"),
		mcp.WithString("order_id",
			mcp.Required(),
			mcp.Description("Order identifier, e.g. ORD123"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

func listTool() mcp.Tool {
	return mcp.NewTool(toolList,
		mcp.WithDescription("List every order in the store"),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

func addTool() mcp.Tool {
	return mcp.NewTool(toolAdd,
		mcp.WithDescription("Place a new order for an item"),
		mcp.WithString("item_name",
			mcp.Required(),
			mcp.Description("Name of the item to order"),
		),
		mcp.WithString("comment",
			mcp.Description("Optional comment stored with the order"),
		),
	)
}

func (s *Server) handleTrack(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input TrackInput
	if err := request.BindArguments(&input); err != nil {
		return mcp.NewToolResultErrorFromErr("invalid track_order arguments", err), nil
	}
	id := strings.ToUpper(strings.TrimSpace(input.OrderID))
	if id == "" {
		return mcp.NewToolResultError("order_id is required"), nil
	}

	resp, err := s.store.Track(ctx, id)
	if errors.Is(err, orderapi.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("Order %s not found", id)), nil
	}
	if err != nil {
		s.logger.WarnContext(ctx, "mcp track failed", slog.String("order_id", id), slog.String("error", err.Error()))
		return mcp.NewToolResultErrorFromErr("track order failed", err), nil
	}
	return mcp.NewToolResultStructuredOnly(resp), nil
}

func (s *Server) handleList(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resp, err := s.store.List(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "mcp list failed", slog.String("error", err.Error()))
		return mcp.NewToolResultErrorFromErr("list orders failed", err), nil
	}
	out := ListResult{Orders: make([]orderapi.OrderRecord, 0, len(resp.Orders))}
	for _, rec := range resp.Orders {
		out.Orders = append(out.Orders, rec)
	}
	sort.Slice(out.Orders, func(i, j int) bool { return out.Orders[i].ID < out.Orders[j].ID })
	return mcp.NewToolResultStructuredOnly(out), nil
}

func (s *Server) handleAdd(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input AddInput
	if err := request.BindArguments(&input); err != nil {
		return mcp.NewToolResultErrorFromErr("invalid add_order arguments", err), nil
	}
	if strings.TrimSpace(input.ItemName) == "" {
		return mcp.NewToolResultError("item_name is required"), nil
	}
	resp, err := s.store.Add(ctx, input.ItemName, input.Comment)
	if err != nil {
		s.logger.WarnContext(ctx, "mcp add failed", slog.String("error", err.Error()))
		return mcp.NewToolResultErrorFromErr("add order failed", err), nil
	}
	return mcp.NewToolResultStructuredOnly(resp), nil
}
