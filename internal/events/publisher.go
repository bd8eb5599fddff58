package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"shop-checkout/internal/config"
	"shop-checkout/internal/domain"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

type EventType string

const (
	EventOrderCreated   EventType = "order.created"
	EventOrderConfirmed EventType = "order.confirmed"
	EventOrderFailed    EventType = "order.failed"
	EventOrderOnHold    EventType = "order.on_hold"
)

type OrderEvent struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	OrderID   string          `json:"orderId"`
	UserID    string          `json:"userId"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewOrderEvent snapshots order into an event of the given type.
func NewOrderEvent(eventType EventType, order *domain.Order) (*OrderEvent, error) {
	data, err := json.Marshal(order)
	if err != nil {
		return nil, err
	}
	return &OrderEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		OrderID:   order.ID.String(),
		UserID:    order.UserID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}, nil
}

type Publisher interface {
	Publish(ctx context.Context, eventType EventType, order *domain.Order) error
	Close() error
}

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
	log    logrus.FieldLogger
}

func NewKafkaPublisher(cfg config.KafkaConfig, log logrus.FieldLogger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.OrdersTopic,
		Balancer:               &kafka.Hash{},
		WriteTimeout:           10 * time.Second,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return newKafkaPublisher(writer, log)
}

func newKafkaPublisher(writer messageWriter, log logrus.FieldLogger) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, log: log.WithField("component", "events")}
}

func (p *KafkaPublisher) Publish(ctx context.Context, eventType EventType, order *domain.Order) error {
	event, err := NewOrderEvent(eventType, order)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	// keyed by order so every event of an order lands on one partition
	msg := kafka.Message{
		Key:   []byte(event.OrderID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "event_id", Value: []byte(event.ID)},
		},
	}

	fields := logrus.Fields{
		"event_id":   event.ID,
		"event_type": event.Type,
		"order_id":   event.OrderID,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		fields["error"] = err.Error()
		p.log.WithFields(fields).Error("Failed to publish event")
		return err
	}
	p.log.WithFields(fields).Debug("Event published")
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher drops every event. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, EventType, *domain.Order) error { return nil }
func (NopPublisher) Close() error                                            { return nil }

// RecordingPublisher keeps events in memory for tests and the simulator.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []*OrderEvent
	Err    error
}

func NewRecordingPublisher() *RecordingPublisher {
	return &RecordingPublisher{}
}

func (r *RecordingPublisher) Publish(_ context.Context, eventType EventType, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	event, err := NewOrderEvent(eventType, order)
	if err != nil {
		return err
	}
	r.events = append(r.events, event)
	return nil
}

func (r *RecordingPublisher) Close() error { return nil }

func (r *RecordingPublisher) Events() []*OrderEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*OrderEvent(nil), r.events...)
}

// Types lists the recorded event types in publish order.
func (r *RecordingPublisher) Types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]EventType, len(r.events))
	for i, e := range r.events {
		types[i] = e.Type
	}
	return types
}
