package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Order statuses
const (
	OrderStatusPending    = "pending"
	OrderStatusConfirmed  = "confirmed"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
	OrderStatusCanceled   = "canceled"
)

var (
	ErrInvalidQuantity   = errors.New("quantity must be at least 1")
	ErrDuplicateItem     = errors.New("product already present in order")
	ErrUnknownStatus     = errors.New("unknown order status")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// transitions lists the statuses reachable from each status.
// Delivered and canceled are terminal.
var transitions = map[string][]string{
	OrderStatusPending:    {OrderStatusConfirmed, OrderStatusCanceled},
	OrderStatusConfirmed:  {OrderStatusProcessing, OrderStatusCanceled},
	OrderStatusProcessing: {OrderStatusShipped},
	OrderStatusShipped:    {OrderStatusDelivered},
	OrderStatusDelivered:  {},
	OrderStatusCanceled:   {},
}

// Order represents a customer order together with its line items
type Order struct {
	ID             int64           `db:"id" json:"id"`
	CustomerID     int64           `db:"customer_id" json:"customer"`
	TotalAmount    decimal.Decimal `db:"total_amount" json:"total_amount"`
	Status         string          `db:"status" json:"status"`
	Notes          string          `db:"notes" json:"notes"`
	IdempotencyKey string          `db:"idempotency_key" json:"-"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`

	Items []OrderItem `db:"-" json:"items"`
}

// OrderItem is a line of an order. Price is the product price captured
// when the order was created.
type OrderItem struct {
	ID          int64           `db:"id" json:"id"`
	OrderID     int64           `db:"order_id" json:"-"`
	ProductID   int64           `db:"product_id" json:"product"`
	ProductName string          `db:"product_name" json:"product_name"`
	Quantity    int             `db:"quantity" json:"quantity"`
	Price       decimal.Decimal `db:"price" json:"price"`
}

// TotalPrice returns quantity × price.
func (i OrderItem) TotalPrice() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// NewOrder starts a pending order with no items.
func NewOrder(customerID int64, notes string) *Order {
	return &Order{
		CustomerID:  customerID,
		Notes:       notes,
		Status:      OrderStatusPending,
		TotalAmount: decimal.Zero,
		Items:       []OrderItem{},
	}
}

// AddItem appends a line for product, snapshotting its current price, and
// adds the line total to the order total.
func (o *Order) AddItem(product *Product, quantity int) error {
	if quantity < 1 {
		return fmt.Errorf("%w: product %d quantity %d", ErrInvalidQuantity, product.ID, quantity)
	}
	for _, item := range o.Items {
		if item.ProductID == product.ID {
			return fmt.Errorf("%w: %d", ErrDuplicateItem, product.ID)
		}
	}

	item := OrderItem{
		OrderID:     o.ID,
		ProductID:   product.ID,
		ProductName: product.Name,
		Quantity:    quantity,
		Price:       product.Price,
	}
	o.Items = append(o.Items, item)
	o.TotalAmount = o.TotalAmount.Add(item.TotalPrice())
	return nil
}

// CalculateTotal sums the line totals. It is equal to TotalAmount for an
// order built with AddItem.
func (o *Order) CalculateTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.TotalPrice())
	}
	return total
}

// ItemCount returns the number of line items.
func (o *Order) ItemCount() int {
	return len(o.Items)
}

// TransitionTo moves the order to status. Setting the current status again
// is a no-op.
func (o *Order) TransitionTo(status string) error {
	if err := CheckTransition(o.Status, status); err != nil {
		return err
	}
	o.Status = status
	return nil
}

// IsValidStatus reports whether status is one of the known order statuses.
func IsValidStatus(status string) bool {
	_, ok := transitions[status]
	return ok
}

// CheckTransition validates a move from one status to another.
func CheckTransition(from, to string) error {
	if !IsValidStatus(to) {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, to)
	}
	if from == to {
		return nil
	}
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
