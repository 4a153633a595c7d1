// Package events publishes order lifecycle events.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/jkaninda/orderdesk/internal/orders"
)

// Event types emitted by the order store.
const (
	TypeOrderCreated   = "order.created"
	TypeOrderCancelled = "order.cancelled"
)

// EventVersion is bumped whenever the Envelope or its data changes shape.
const EventVersion = "v1"

// Envelope is the event schema published for every order change.
type Envelope struct {
	EventType    string    `json:"eventType"`
	EventVersion string    `json:"eventVersion"`
	OccurredAt   time.Time `json:"occurredAt"`
	AggregateID  string    `json:"aggregateId"`
	Data         OrderData `json:"data"`
}

// OrderData is the order state carried by an event.
type OrderData struct {
	OrderID  string     `json:"orderId"`
	ItemName string     `json:"itemName"`
	Status   string     `json:"status"`
	PlacedAt *time.Time `json:"placedAt,omitempty"`
	Comment  string     `json:"comment"`
}

// NewEnvelope builds an event for an order.
func NewEnvelope(eventType string, o *orders.Order, at time.Time) Envelope {
	return Envelope{
		EventType:    eventType,
		EventVersion: EventVersion,
		OccurredAt:   at.UTC(),
		AggregateID:  o.ID,
		Data: OrderData{
			OrderID:  o.ID,
			ItemName: o.ItemName,
			Status:   o.Status.String(),
			PlacedAt: o.PlacedAt,
			Comment:  o.Comment,
		},
	}
}

// Publisher delivers order events.
type Publisher interface {
	Publish(ctx context.Context, evt Envelope) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Envelope) error { return nil }
func (NopPublisher) Close() error { return nil }

// KafkaConfig configures the Kafka publisher.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	// WriteTimeout bounds a single publish. Default: 5s.
	WriteTimeout time.Duration
}

// KafkaPublisher writes events to a Kafka topic, keyed by order id so that
// events for one order keep their order within a partition.
type KafkaPublisher struct {
	w       *kafka.Writer
	timeout time.Duration
	logger  *slog.Logger
}

// NewKafkaPublisher creates a publisher. No connection is made until the
// first Publish.
func NewKafkaPublisher(cfg KafkaConfig, logger *slog.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic is required")
	}
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &KafkaPublisher{
		w: kafka.NewWriter(kafka.WriterConfig{
			Brokers:      cfg.Brokers,
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			WriteTimeout: timeout,
		}),
		timeout: timeout,
		logger:  logger,
	}, nil
}

// Publish writes a single event.
func (p *KafkaPublisher) Publish(ctx context.Context, evt Envelope) error {
	val, err := Encode(evt)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(evt.AggregateID),
		Value: val,
	}); err != nil {
		return fmt.Errorf("publishing %s for %s: %w", evt.EventType, evt.AggregateID, err)
	}
	p.logger.DebugContext(ctx, "order event published",
		slog.String("event_type", evt.EventType),
		slog.String("order_id", evt.AggregateID),
	)
	return nil
}

// Close flushes pending writes and closes the writer.
func (p *KafkaPublisher) Close() error { return p.w.Close() }

// Encode serialises an envelope for the wire.
func Encode(evt Envelope) ([]byte, error) {
	b, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("encoding %s event: %w", evt.EventType, err)
	}
	return b, nil
}
