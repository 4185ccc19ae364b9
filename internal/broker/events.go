package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"shop-service/internal/models"
	"shop-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventWriter writes one keyed event to the order topic
type EventWriter interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher handles publishing domain events
type EventPublisher struct {
	writer EventWriter
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(writer EventWriter) *EventPublisher {
	return &EventPublisher{writer: writer}
}

// PublishOrderCreated publishes OrderCreated event
func (ep *EventPublisher) PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	return ep.writer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishOrderStatusChanged publishes OrderStatusChanged event
func (ep *EventPublisher) PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	return ep.writer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

func orderKey(orderID int64) string {
	return fmt.Sprintf("order-%d", orderID)
}

// ErrQueueFull is returned when the in-process event queue has no room
var ErrQueueFull = errors.New("local event queue is full")

const localDeliveryTimeout = 30 * time.Second

// LocalPublisher queues events for an EventHandler running in this process.
// It is used when no Kafka brokers are configured. PublishEvent never waits
// for delivery; Run drains the queue through the same decoding and routing
// as consumed messages.
type LocalPublisher struct {
	handler *EventHandler
	queue   chan kafka.Message
	done    chan struct{}
	logger  *zap.Logger
}

// NewLocalPublisher creates a publisher bound to handler with room for
// capacity pending events
func NewLocalPublisher(handler *EventHandler, capacity int) *LocalPublisher {
	if capacity < 1 {
		capacity = 1
	}
	return &LocalPublisher{
		handler: handler,
		queue:   make(chan kafka.Message, capacity),
		done:    make(chan struct{}),
		logger:  util.GetLogger(),
	}
}

// PublishEvent encodes event and queues it. It fails with ErrQueueFull
// instead of blocking.
func (lp *LocalPublisher) PublishEvent(_ context.Context, key string, event interface{}) error {
	msg, err := encodeMessage(key, event)
	if err != nil {
		return err
	}

	select {
	case lp.queue <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run delivers queued events until ctx is cancelled. Handler failures are
// logged.
func (lp *LocalPublisher) Run(ctx context.Context) {
	defer close(lp.done)

	for {
		select {
		case <-ctx.Done():
			if pending := len(lp.queue); pending > 0 {
				lp.logger.Warn("Dropping undelivered local events", zap.Int("pending", pending))
			}
			return
		case msg := <-lp.queue:
			lp.deliver(ctx, msg)
		}
	}
}

// Done is closed once Run has returned
func (lp *LocalPublisher) Done() <-chan struct{} {
	return lp.done
}

func (lp *LocalPublisher) deliver(ctx context.Context, msg kafka.Message) {
	ctx, cancel := context.WithTimeout(ctx, localDeliveryTimeout)
	defer cancel()

	if err := lp.handler.HandleMessage(ctx, msg); err != nil {
		lp.logger.Error("Local event handler failed",
			zap.String("key", string(msg.Key)),
			zap.Error(err))
	}
}

// EventHandler handles incoming events
type EventHandler struct {
	onOrderCreated       func(context.Context, *models.OrderCreatedEvent) error
	onOrderStatusChanged func(context.Context, *models.OrderStatusChangedEvent) error
	logger               *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnOrderCreated registers a handler for OrderCreated events
func (eh *EventHandler) OnOrderCreated(handler func(context.Context, *models.OrderCreatedEvent) error) {
	eh.onOrderCreated = handler
}

// OnOrderStatusChanged registers a handler for OrderStatusChanged events
func (eh *EventHandler) OnOrderStatusChanged(handler func(context.Context, *models.OrderStatusChangedEvent) error) {
	eh.onOrderStatusChanged = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeOrderCreated:
		if eh.onOrderCreated != nil {
			var event models.OrderCreatedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal OrderCreated event: %w", err)
			}
			return eh.onOrderCreated(ctx, &event)
		}

	case models.EventTypeOrderStatusChanged:
		if eh.onOrderStatusChanged != nil {
			var event models.OrderStatusChangedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal OrderStatusChanged event: %w", err)
			}
			return eh.onOrderStatusChanged(ctx, &event)
		}

	default:
		eh.logger.Warn("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
