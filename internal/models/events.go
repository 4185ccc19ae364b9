package models

import (
	"time"
)

// Event types
const (
	EventTypeOrderCreated       = "ORDER_CREATED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent is emitted once an order and its items are committed.
// It carries everything the notification collaborator needs so consumers
// never read back from the database.
type OrderCreatedEvent struct {
	BaseEvent
	OrderID       int64           `json:"order_id"`
	CustomerID    int64           `json:"customer_id"`
	CustomerName  string          `json:"customer_name"`
	CustomerEmail string          `json:"customer_email"`
	CustomerPhone string          `json:"customer_phone"`
	TotalAmount   Money           `json:"total_amount"`
	Notes         string          `json:"notes"`
	Items         []OrderItemData `json:"items"`
	CreatedAt     time.Time       `json:"created_at"`
}

// OrderStatusChangedEvent is emitted after a status update is persisted.
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID    int64  `json:"order_id"`
	CustomerID int64  `json:"customer_id"`
	From       string `json:"from"`
	To         string `json:"to"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	Price       Money           `json:"price"`
	Subtotal    Money           `json:"subtotal"`
}
