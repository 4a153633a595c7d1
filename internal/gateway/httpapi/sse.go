package httpapi

import (
	"github.com/jkaninda/okapi"
)

// SSEEvent is the payload of a server-sent event on /v1/query/stream.
type SSEEvent struct {
	Type          string             `json:"type"` // "text", "confirmation", "done", "error"
	Content       string             `json:"content,omitempty"`
	SessionID     string             `json:"session_id,omitempty"`
	CorrelationID string             `json:"correlation_id,omitempty"`
	PendingAction *PendingActionBody `json:"pending_action,omitempty"`
}

// streamEvents turns a query answer into the event sequence of the stream
// endpoint: the reply text, the pending confirmation if any, then done.
func streamEvents(code int, body any) []SSEEvent {
	resp, ok := body.(QueryResponse)
	if !ok {
		msg := "processing failed"
		if eb, isErr := body.(ErrorBody); isErr && code < 500 {
			msg = eb.Error
		}
		return []SSEEvent{{Type: "error", Content: msg}}
	}

	events := []SSEEvent{{
		Type:          "text",
		Content:       resp.Message,
		SessionID:     resp.SessionID,
		CorrelationID: resp.CorrelationID,
	}}
	if resp.PendingAction != nil {
		events = append(events, SSEEvent{
			Type:          "confirmation",
			Content:       resp.PendingAction.Prompt,
			SessionID:     resp.SessionID,
			PendingAction: resp.PendingAction,
		})
	}
	return append(events, SSEEvent{Type: "done", SessionID: resp.SessionID})
}

// handleQueryStream handles POST /v1/query/stream. The turn is run to
// completion and its result streamed as events.
func (g *Gateway) handleQueryStream(c *okapi.Context) error {
	var req QueryRequest
	if err := g.decode(c, &req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	code, body := g.query(c.Context(), c.GetString("userID"), req)
	for _, ev := range streamEvents(code, body) {
		c.SSEvent(ev.Type, ev)
	}
	return nil
}
