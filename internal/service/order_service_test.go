package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"shop-service/internal/broker"
	"shop-service/internal/models"
	"shop-service/internal/worker"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateOrder(t *testing.T) {
	sh := seedShop(t)
	pub := &recordingPublisher{}
	svc := NewOrderService(sh.store, pub, nil)

	resp, err := svc.CreateOrder(context.Background(), &CreateOrderRequest{
		CustomerID: sh.customer.ID,
		Notes:      "leave at the door",
		Items: []OrderItemRequest{
			{ProductID: sh.phone.ID, Quantity: 2},
			{ProductID: sh.charger.ID, Quantity: 1},
		},
	})
	require.NoError(t, err)
	require.False(t, resp.Replayed)

	order := resp.Order
	assert.NotZero(t, order.ID)
	assert.Equal(t, "testuser", order.CustomerName)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, "26.98", order.TotalAmount.StringFixed(2))
	require.Len(t, order.Items, 2)
	assert.Equal(t, "Test Phone", order.Items[0].ProductName)
	assert.Equal(t, "10.99", order.Items[0].Price.StringFixed(2))
	assert.False(t, order.CreatedAt.IsZero())

	require.Len(t, pub.created, 1)
	event := pub.created[0]
	assert.Equal(t, order.ID, event.OrderID)
	assert.Equal(t, models.EventTypeOrderCreated, event.EventType)
	assert.NotEmpty(t, event.EventID)
	assert.Equal(t, "+254700000000", event.CustomerPhone)
	assert.Equal(t, "26.98", event.TotalAmount.StringFixed(2))
	require.Len(t, event.Items, 2)
	assert.Equal(t, "21.98", event.Items[0].Subtotal.StringFixed(2))

	stored, err := svc.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.TotalAmount.StringFixed(2), stored.TotalAmount.StringFixed(2))
	assert.Len(t, stored.Items, 2)
}

func TestCreateOrderValidation(t *testing.T) {
	sh := seedShop(t)
	ctx := context.Background()

	hidden := &models.Product{Name: "Retired", Price: decimal.RequireFromString("1.00"), CategoryID: sh.phones.ID, IsActive: false}
	require.NoError(t, sh.store.CreateProduct(ctx, hidden))

	tests := []struct {
		name    string
		req     CreateOrderRequest
		wantErr error
		class   error
	}{
		{"no items", CreateOrderRequest{CustomerID: sh.customer.ID}, ErrEmptyItemList, ErrInvalidRequest},
		{"zero quantity", CreateOrderRequest{CustomerID: sh.customer.ID, Items: []OrderItemRequest{{ProductID: sh.phone.ID, Quantity: 0}}}, ErrInvalidQuantity, ErrInvalidRequest},
		{"negative quantity", CreateOrderRequest{CustomerID: sh.customer.ID, Items: []OrderItemRequest{{ProductID: sh.phone.ID, Quantity: -3}}}, ErrInvalidQuantity, ErrInvalidRequest},
		{"no customer", CreateOrderRequest{Items: []OrderItemRequest{{ProductID: sh.phone.ID, Quantity: 1}}}, ErrMissingCustomer, ErrInvalidRequest},
		{"unknown customer", CreateOrderRequest{CustomerID: 9999, Items: []OrderItemRequest{{ProductID: sh.phone.ID, Quantity: 1}}}, ErrCustomerNotFound, ErrNotFound},
		{"unknown product", CreateOrderRequest{CustomerID: sh.customer.ID, Items: []OrderItemRequest{{ProductID: sh.phone.ID, Quantity: 1}, {ProductID: 9999, Quantity: 1}}}, ErrProductNotFound, ErrNotFound},
		{"inactive product", CreateOrderRequest{CustomerID: sh.customer.ID, Items: []OrderItemRequest{{ProductID: hidden.ID, Quantity: 1}}}, ErrProductInactive, ErrInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &recordingPublisher{}
			svc := NewOrderService(sh.store, pub, nil)

			req := tt.req
			_, err := svc.CreateOrder(ctx, &req)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, tt.class)
			assert.Empty(t, pub.created)
		})
	}

	orders, items, err := sh.store.CountOrders(ctx)
	require.NoError(t, err)
	assert.Zero(t, orders)
	assert.Zero(t, items)
}

func TestCreateOrderMergesDuplicateProducts(t *testing.T) {
	sh := seedShop(t)
	svc := NewOrderService(sh.store, &recordingPublisher{}, nil)

	resp, err := svc.CreateOrder(context.Background(), &CreateOrderRequest{
		CustomerID: sh.customer.ID,
		Items: []OrderItemRequest{
			{ProductID: sh.phone.ID, Quantity: 1},
			{ProductID: sh.charger.ID, Quantity: 1},
			{ProductID: sh.phone.ID, Quantity: 2},
		},
	})
	require.NoError(t, err)

	require.Len(t, resp.Order.Items, 2)
	assert.Equal(t, sh.phone.ID, resp.Order.Items[0].ProductID)
	assert.Equal(t, 3, resp.Order.Items[0].Quantity)
	assert.Equal(t, "37.97", resp.Order.TotalAmount.StringFixed(2))
}

func TestOrderKeepsPriceSnapshot(t *testing.T) {
	sh := seedShop(t)
	ctx := context.Background()
	orders := NewOrderService(sh.store, &recordingPublisher{}, nil)
	catalog := NewCatalogService(sh.store, nil)

	resp, err := orders.CreateOrder(ctx, &CreateOrderRequest{
		CustomerID: sh.customer.ID,
		Items:      []OrderItemRequest{{ProductID: sh.phone.ID, Quantity: 1}},
	})
	require.NoError(t, err)

	price := decimal.RequireFromString("20.00")
	_, err = catalog.UpdateProduct(ctx, sh.phone.ID, ProductUpdate{Price: &price})
	require.NoError(t, err)

	order, err := orders.GetOrder(ctx, resp.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, "10.99", order.TotalAmount.StringFixed(2))
	assert.Equal(t, "10.99", order.Items[0].Price.StringFixed(2))
}

func TestCreateOrderSurvivesPublishFailure(t *testing.T) {
	sh := seedShop(t)
	pub := &recordingPublisher{err: errPublish}
	svc := NewOrderService(sh.store, pub, nil)

	resp, err := svc.CreateOrder(context.Background(), &CreateOrderRequest{
		CustomerID: sh.customer.ID,
		Items:      []OrderItemRequest{{ProductID: sh.phone.ID, Quantity: 1}},
	})
	require.NoError(t, err)
	assert.NotZero(t, resp.Order.ID)
	assert.Len(t, pub.created, 1)

	orders, _, err := sh.store.CountOrders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, orders)
}

// stalledNotifier blocks like an unresponsive SMS or mail relay
type stalledNotifier struct {
	release chan struct{}
	seen    chan int64
}

func (n *stalledNotifier) NotifyNewOrder(ctx context.Context, e *models.OrderCreatedEvent) error {
	select {
	case <-n.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	n.seen <- e.OrderID
	return nil
}

func TestCreateOrderDoesNotWaitForNotifications(t *testing.T) {
	sh := seedShop(t)
	notifier := &stalledNotifier{release: make(chan struct{}), seen: make(chan int64, 1)}

	local := broker.NewLocalPublisher(worker.NewNotificationHandler(notifier), 8)
	ctx, cancel := context.WithCancel(context.Background())
	go local.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-local.Done()
	})

	svc := NewOrderService(sh.store, broker.NewEventPublisher(local), nil)

	done := make(chan *CreateOrderResponse, 1)
	go func() {
		resp, err := svc.CreateOrder(context.Background(), &CreateOrderRequest{
			CustomerID: sh.customer.ID,
			Items:      []OrderItemRequest{{ProductID: sh.phone.ID, Quantity: 1}},
		})
		assert.NoError(t, err)
		done <- resp
	}()

	var resp *CreateOrderResponse
	select {
	case resp = <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("CreateOrder waited for the notifier")
	}
	require.NotNil(t, resp)

	close(notifier.release)
	select {
	case id := <-notifier.seen:
		assert.Equal(t, resp.Order.ID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("notification was never delivered")
	}
}

func TestCreateOrderIdempotencyKey(t *testing.T) {
	sh := seedShop(t)
	pub := &recordingPublisher{}
	locker := &fakeLocker{held: map[string]string{}}
	svc := NewOrderService(sh.store, pub, locker)
	ctx := context.Background()

	req := CreateOrderRequest{
		CustomerID:     sh.customer.ID,
		Items:          []OrderItemRequest{{ProductID: sh.phone.ID, Quantity: 1}},
		IdempotencyKey: "abc-123",
	}

	first, err := svc.CreateOrder(ctx, &req)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := svc.CreateOrder(ctx, &req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Len(t, second.Order.Items, 1)

	assert.Len(t, pub.created, 1)
	orders, _, err := sh.store.CountOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, orders)

	assert.Equal(t, []string{"order:abc-123", "order:abc-123"}, locker.acquired)
	assert.Empty(t, locker.held)
}

func TestCreateOrderIdempotencyKeyInProgress(t *testing.T) {
	sh := seedShop(t)
	locker := &fakeLocker{held: map[string]string{"order:busy": "other"}}
	svc := NewOrderService(sh.store, &recordingPublisher{}, locker)

	_, err := svc.CreateOrder(context.Background(), &CreateOrderRequest{
		CustomerID:     sh.customer.ID,
		Items:          []OrderItemRequest{{ProductID: sh.phone.ID, Quantity: 1}},
		IdempotencyKey: "busy",
	})
	assert.ErrorIs(t, err, ErrOrderInProgress)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestCreateOrderLockerUnavailable(t *testing.T) {
	sh := seedShop(t)
	svc := NewOrderService(sh.store, &recordingPublisher{}, &fakeLocker{err: errors.New("redis down")})

	resp, err := svc.CreateOrder(context.Background(), &CreateOrderRequest{
		CustomerID:     sh.customer.ID,
		Items:          []OrderItemRequest{{ProductID: sh.phone.ID, Quantity: 1}},
		IdempotencyKey: "k1",
	})
	require.NoError(t, err)
	assert.NotZero(t, resp.Order.ID)
}

func TestUpdateOrderStatus(t *testing.T) {
	sh := seedShop(t)
	pub := &recordingPublisher{}
	svc := NewOrderService(sh.store, pub, nil)
	ctx := context.Background()

	resp, err := svc.CreateOrder(ctx, &CreateOrderRequest{
		CustomerID: sh.customer.ID,
		Items:      []OrderItemRequest{{ProductID: sh.phone.ID, Quantity: 1}},
	})
	require.NoError(t, err)
	id := resp.Order.ID

	order, err := svc.UpdateOrderStatus(ctx, id, models.OrderStatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, order.Status)
	require.Len(t, pub.changed, 1)
	assert.Equal(t, models.OrderStatusPending, pub.changed[0].From)
	assert.Equal(t, models.OrderStatusConfirmed, pub.changed[0].To)

	order, err = svc.UpdateOrderStatus(ctx, id, models.OrderStatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, order.Status)
	assert.Len(t, pub.changed, 1)

	_, err = svc.UpdateOrderStatus(ctx, id, models.OrderStatusDelivered)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
	assert.ErrorIs(t, err, ErrConflict)

	_, err = svc.UpdateOrderStatus(ctx, id, "lost")
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = svc.UpdateOrderStatus(ctx, 9999, models.OrderStatusCanceled)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestListOrders(t *testing.T) {
	sh := seedShop(t)
	svc := NewOrderService(sh.store, &recordingPublisher{}, nil)
	ctx := context.Background()

	other := &models.Customer{Username: "other", Email: "other@test.com"}
	require.NoError(t, sh.store.CreateCustomer(ctx, other))

	for _, customerID := range []int64{sh.customer.ID, other.ID, sh.customer.ID} {
		_, err := svc.CreateOrder(ctx, &CreateOrderRequest{
			CustomerID: customerID,
			Items:      []OrderItemRequest{{ProductID: sh.charger.ID, Quantity: 1}},
		})
		require.NoError(t, err)
	}

	all, err := svc.ListOrders(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	mine, err := svc.ListOrders(ctx, sh.customer.ID)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Greater(t, mine[0].ID, mine[1].ID)
	for _, o := range mine {
		assert.Equal(t, "testuser", o.CustomerName)
		assert.Len(t, o.Items, 1)
	}
}
