package worker

import (
	"context"

	"shop-service/internal/broker"
	"shop-service/internal/models"
	"shop-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// OrderNotifier delivers new-order notifications
type OrderNotifier interface {
	NotifyNewOrder(ctx context.Context, event *models.OrderCreatedEvent) error
}

// MessageSource is the part of broker.Consumer the worker needs
type MessageSource interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// NotificationWorker consumes order events and sends notifications
type NotificationWorker struct {
	source       MessageSource
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(source MessageSource, notifier OrderNotifier) *NotificationWorker {
	return &NotificationWorker{
		source:       source,
		eventHandler: NewNotificationHandler(notifier),
		logger:       util.GetLogger(),
	}
}

// NewNotificationHandler routes OrderCreated events to notifier and logs
// status changes. It backs both the Kafka worker and in-process delivery.
func NewNotificationHandler(notifier OrderNotifier) *broker.EventHandler {
	logger := util.GetLogger()
	eventHandler := broker.NewEventHandler()

	eventHandler.OnOrderCreated(func(ctx context.Context, event *models.OrderCreatedEvent) error {
		logger.Info("Sending new order notifications", zap.Int64("order_id", event.OrderID))
		return notifier.NotifyNewOrder(ctx, event)
	})
	eventHandler.OnOrderStatusChanged(func(ctx context.Context, event *models.OrderStatusChangedEvent) error {
		logger.Info("Order status changed",
			zap.Int64("order_id", event.OrderID),
			zap.String("from", event.From),
			zap.String("to", event.To))
		return nil
	})

	return eventHandler
}

// Start blocks consuming events until ctx is cancelled
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.source.StartConsuming(ctx, w.handle)
}

func (w *NotificationWorker) handle(ctx context.Context, msg kafka.Message) error {
	return w.eventHandler.HandleMessage(ctx, msg)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.source.Close()
}
