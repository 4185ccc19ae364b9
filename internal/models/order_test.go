package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func product(id int64, price string) *Product {
	return &Product{ID: id, Name: "p", Price: decimal.RequireFromString(price), IsActive: true}
}

func TestAddItemAccumulatesTotal(t *testing.T) {
	order := NewOrder(7, "leave at door")

	require.NoError(t, order.AddItem(product(1, "10.99"), 3))
	require.NoError(t, order.AddItem(product(2, "0.10"), 7))

	assert.Equal(t, OrderStatusPending, order.Status)
	assert.Equal(t, "33.67", order.TotalAmount.StringFixed(2))
	assert.True(t, order.TotalAmount.Equal(order.CalculateTotal()))
	assert.Equal(t, 2, order.ItemCount())
	assert.Equal(t, "32.97", order.Items[0].TotalPrice().StringFixed(2))
}

func TestAddItemSnapshotsPrice(t *testing.T) {
	order := NewOrder(1, "")
	p := product(1, "10.99")
	require.NoError(t, order.AddItem(p, 1))

	p.Price = decimal.RequireFromString("15.00")

	assert.Equal(t, "10.99", order.Items[0].Price.StringFixed(2))
	assert.Equal(t, "10.99", order.TotalAmount.StringFixed(2))
}

func TestAddItemRejectsBadInput(t *testing.T) {
	order := NewOrder(1, "")

	assert.ErrorIs(t, order.AddItem(product(1, "1.00"), 0), ErrInvalidQuantity)

	require.NoError(t, order.AddItem(product(1, "1.00"), 1))
	assert.ErrorIs(t, order.AddItem(product(1, "1.00"), 2), ErrDuplicateItem)
	assert.Len(t, order.Items, 1)
	assert.Equal(t, "1.00", order.TotalAmount.StringFixed(2))
}

func TestTransitionTo(t *testing.T) {
	tests := []struct {
		name    string
		from    string
		to      string
		wantErr error
	}{
		{"pending to confirmed", OrderStatusPending, OrderStatusConfirmed, nil},
		{"pending to canceled", OrderStatusPending, OrderStatusCanceled, nil},
		{"confirmed to canceled", OrderStatusConfirmed, OrderStatusCanceled, nil},
		{"confirmed to processing", OrderStatusConfirmed, OrderStatusProcessing, nil},
		{"processing to shipped", OrderStatusProcessing, OrderStatusShipped, nil},
		{"shipped to delivered", OrderStatusShipped, OrderStatusDelivered, nil},
		{"same status", OrderStatusShipped, OrderStatusShipped, nil},
		{"skip ahead", OrderStatusPending, OrderStatusShipped, ErrInvalidTransition},
		{"backwards", OrderStatusShipped, OrderStatusProcessing, ErrInvalidTransition},
		{"cancel after processing", OrderStatusProcessing, OrderStatusCanceled, ErrInvalidTransition},
		{"leave terminal", OrderStatusCanceled, OrderStatusPending, ErrInvalidTransition},
		{"unknown", OrderStatusPending, "lost", ErrUnknownStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := &Order{Status: tt.from}
			err := order.TransitionTo(tt.to)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, tt.from, order.Status)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.to, order.Status)
		})
	}
}

func TestIsInStock(t *testing.T) {
	assert.True(t, (&Product{StockQuantity: 1}).IsInStock())
	assert.False(t, (&Product{StockQuantity: 0}).IsInStock())
}
