package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shop-service/internal/models"
	"shop-service/internal/store"
	"shop-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	idempotencyLockTTL = 30 * time.Second
	publishTimeout     = 10 * time.Second
)

// EventPublisher publishes order events after they are committed
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
}

// Locker serializes concurrent requests sharing an idempotency key
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

// OrderService handles order business logic
type OrderService struct {
	store     *store.Store
	publisher EventPublisher
	locker    Locker
	logger    *zap.Logger
}

// NewOrderService creates a new order service. locker may be nil.
func NewOrderService(store *store.Store, publisher EventPublisher, locker Locker) *OrderService {
	return &OrderService{
		store:     store,
		publisher: publisher,
		locker:    locker,
		logger:    util.GetLogger(),
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	CustomerID     int64              `json:"customer"`
	Notes          string             `json:"notes"`
	Items          []OrderItemRequest `json:"items"`
	IdempotencyKey string             `json:"idempotency_key,omitempty"`
}

// OrderItemRequest represents an item in an order
type OrderItemRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// OrderView is the external representation of an order
type OrderView struct {
	ID           int64           `json:"id"`
	CustomerID   int64           `json:"customer"`
	CustomerName string          `json:"customer_name"`
	TotalAmount  models.Money    `json:"total_amount"`
	Status       string          `json:"status"`
	Notes        string          `json:"notes"`
	Items        []OrderItemView `json:"items"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// OrderItemView is the external representation of an order line
type OrderItemView struct {
	ID          int64           `json:"id"`
	ProductID   int64           `json:"product"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	Price       models.Money    `json:"price"`
}

// CreateOrderResponse represents the response after creating an order.
// Replayed is set when an earlier order with the same idempotency key was
// returned instead of creating a new one.
type CreateOrderResponse struct {
	Order    *OrderView
	Replayed bool
}

// CreateOrder validates the request, prices every line from the current
// catalog and persists the order with all of its items atomically. The
// OrderCreated event is published once, after commit. Publishing failures
// are logged and never fail the order.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	start := time.Now()
	defer func() {
		util.OrderCreateLatency.Observe(time.Since(start).Seconds())
	}()

	if req.CustomerID <= 0 {
		util.OrdersFailedTotal.WithLabelValues("invalid_request").Inc()
		return nil, ErrMissingCustomer
	}
	lines, err := mergeItems(req.Items)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_request").Inc()
		return nil, err
	}

	if req.IdempotencyKey != "" {
		release, err := s.lockIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			util.OrdersFailedTotal.WithLabelValues("in_progress").Inc()
			return nil, err
		}
		defer release()

		existing, err := s.store.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("failed to check idempotency: %w", err)
		}
		if existing != nil {
			return s.replay(ctx, existing)
		}
	}

	customer, err := s.store.GetCustomerByID(ctx, req.CustomerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			util.OrdersFailedTotal.WithLabelValues("unknown_customer").Inc()
			return nil, fmt.Errorf("%w: %d", ErrCustomerNotFound, req.CustomerID)
		}
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}

	products, err := s.validateOrderItems(ctx, lines)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_items").Inc()
		return nil, err
	}

	order := models.NewOrder(customer.ID, req.Notes)
	order.IdempotencyKey = req.IdempotencyKey
	for _, line := range lines {
		if err := order.AddItem(products[line.ProductID], line.Quantity); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}

	if err := s.store.CreateOrder(ctx, order); err != nil {
		util.RecordError(span, err)
		if errors.Is(err, store.ErrConflict) && req.IdempotencyKey != "" {
			existing, lookupErr := s.store.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey)
			if lookupErr == nil && existing != nil {
				return s.replay(ctx, existing)
			}
		}
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrProductNotFound, err)
		}
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	util.OrdersCreatedTotal.Inc()
	util.OrderItemsPerOrder.Observe(float64(order.ItemCount()))
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("customer_id", customer.ID),
		zap.String("total_amount", order.TotalAmount.StringFixed(2)),
		zap.Int("items", order.ItemCount()))

	s.publishOrderCreated(ctx, order, customer)

	return &CreateOrderResponse{Order: newOrderView(order, customer.Username, order.Items)}, nil
}

// mergeItems validates lines and folds repeated product ids into one line,
// summing quantities and keeping first-occurrence order
func mergeItems(items []OrderItemRequest) ([]OrderItemRequest, error) {
	if len(items) == 0 {
		return nil, ErrEmptyItemList
	}

	merged := make([]OrderItemRequest, 0, len(items))
	index := make(map[int64]int, len(items))
	for _, item := range items {
		if item.ProductID <= 0 {
			return nil, fmt.Errorf("%w: %d", ErrInvalidProductID, item.ProductID)
		}
		if item.Quantity < 1 {
			return nil, fmt.Errorf("%w: product %d quantity %d", ErrInvalidQuantity, item.ProductID, item.Quantity)
		}
		if i, ok := index[item.ProductID]; ok {
			merged[i].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, item)
	}
	return merged, nil
}

// validateOrderItems loads every referenced product and checks it can be sold
func (s *OrderService) validateOrderItems(ctx context.Context, items []OrderItemRequest) (map[int64]*models.Product, error) {
	productIDs := make([]int64, len(items))
	for i, item := range items {
		productIDs[i] = item.ProductID
	}

	products, err := s.store.GetProductsByIDs(ctx, productIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}

	productMap := make(map[int64]*models.Product, len(products))
	for i := range products {
		productMap[products[i].ID] = &products[i]
	}

	for _, id := range productIDs {
		product, ok := productMap[id]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrProductNotFound, id)
		}
		if !product.IsActive {
			return nil, fmt.Errorf("%w: %d", ErrProductInactive, id)
		}
	}

	return productMap, nil
}

func (s *OrderService) lockIdempotencyKey(ctx context.Context, key string) (func(), error) {
	noop := func() {}
	if s.locker == nil {
		return noop, nil
	}

	lockKey := "order:" + key
	token, ok, err := s.locker.AcquireLock(ctx, lockKey, idempotencyLockTTL)
	if err != nil {
		s.logger.Warn("Idempotency lock unavailable", zap.String("idempotency_key", key), zap.Error(err))
		return noop, nil
	}
	if !ok {
		return nil, ErrOrderInProgress
	}

	return func() {
		if err := s.locker.ReleaseLock(context.WithoutCancel(ctx), lockKey, token); err != nil {
			s.logger.Warn("Failed to release idempotency lock", zap.String("idempotency_key", key), zap.Error(err))
		}
	}, nil
}

func (s *OrderService) replay(ctx context.Context, order *models.Order) (*CreateOrderResponse, error) {
	s.logger.Info("Duplicate order request detected",
		zap.String("idempotency_key", order.IdempotencyKey),
		zap.Int64("order_id", order.ID))

	view, err := s.loadOrderView(ctx, order)
	if err != nil {
		return nil, err
	}
	return &CreateOrderResponse{Order: view, Replayed: true}, nil
}

func (s *OrderService) publishOrderCreated(ctx context.Context, order *models.Order, customer *models.Customer) {
	items := make([]models.OrderItemData, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, models.OrderItemData{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			Price:       models.NewMoney(item.Price),
			Subtotal:    models.NewMoney(item.TotalPrice()),
		})
	}

	event := &models.OrderCreatedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderCreated,
			Timestamp: time.Now(),
		},
		OrderID:       order.ID,
		CustomerID:    customer.ID,
		CustomerName:  customer.Username,
		CustomerEmail: customer.Email,
		CustomerPhone: customer.PhoneNumber,
		TotalAmount:   models.NewMoney(order.TotalAmount),
		Notes:         order.Notes,
		Items:         items,
		CreatedAt:     order.CreatedAt,
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := s.publisher.PublishOrderCreated(pubCtx, event); err != nil {
		util.EventsPublishFailedTotal.WithLabelValues(models.EventTypeOrderCreated).Inc()
		s.logger.Error("Failed to publish OrderCreated event",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	}
}

// GetOrder retrieves an order with its items
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*OrderView, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return s.loadOrderView(ctx, order)
}

// ListOrders retrieves orders newest first. customerID 0 lists every order.
func (s *OrderService) ListOrders(ctx context.Context, customerID int64) ([]*OrderView, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListOrders")
	defer span.End()

	orders, err := s.store.ListOrders(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}

	ids := make([]int64, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	items, err := s.store.GetOrderItemsByOrderIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list order items: %w", err)
	}

	names := make(map[int64]string)
	views := make([]*OrderView, 0, len(orders))
	for i := range orders {
		o := &orders[i]
		name, ok := names[o.CustomerID]
		if !ok {
			customer, err := s.store.GetCustomerByID(ctx, o.CustomerID)
			if err != nil {
				return nil, fmt.Errorf("failed to get customer: %w", err)
			}
			name = customer.Username
			names[o.CustomerID] = name
		}
		views = append(views, newOrderView(o, name, items[o.ID]))
	}
	return views, nil
}

// UpdateOrderStatus moves an order through its lifecycle. Setting the
// current status again returns the order unchanged.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, orderID int64, status string) (*OrderView, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateOrderStatus")
	defer span.End()

	if !models.IsValidStatus(status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	from := order.Status
	if err := order.TransitionTo(status); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStatusTransition, err)
	}
	if from == status {
		return s.loadOrderView(ctx, order)
	}

	if err := s.store.UpdateOrderStatus(ctx, orderID, from, status); err != nil {
		util.RecordError(span, err)
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidStatusTransition, err)
		}
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}

	util.OrderStatusTransitionsTotal.WithLabelValues(from, status).Inc()
	s.logger.Info("Order status updated",
		zap.Int64("order_id", orderID),
		zap.String("from", from),
		zap.String("to", status))

	event := &models.OrderStatusChangedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderStatusChanged,
			Timestamp: time.Now(),
		},
		OrderID:    orderID,
		CustomerID: order.CustomerID,
		From:       from,
		To:         status,
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.publisher.PublishOrderStatusChanged(pubCtx, event); err != nil {
		util.EventsPublishFailedTotal.WithLabelValues(models.EventTypeOrderStatusChanged).Inc()
		s.logger.Error("Failed to publish OrderStatusChanged event",
			zap.Int64("order_id", orderID),
			zap.Error(err))
	}

	return s.GetOrder(ctx, orderID)
}

func (s *OrderService) loadOrderView(ctx context.Context, order *models.Order) (*OrderView, error) {
	items, err := s.store.GetOrderItemsByOrderID(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order items: %w", err)
	}
	customer, err := s.store.GetCustomerByID(ctx, order.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	return newOrderView(order, customer.Username, items), nil
}

func newOrderView(order *models.Order, customerName string, items []models.OrderItem) *OrderView {
	view := &OrderView{
		ID:           order.ID,
		CustomerID:   order.CustomerID,
		CustomerName: customerName,
		TotalAmount:  models.NewMoney(order.TotalAmount),
		Status:       order.Status,
		Notes:        order.Notes,
		Items:        make([]OrderItemView, 0, len(items)),
		CreatedAt:    order.CreatedAt,
		UpdatedAt:    order.UpdatedAt,
	}
	for _, item := range items {
		view.Items = append(view.Items, OrderItemView{
			ID:          item.ID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			Price:       models.NewMoney(item.Price),
		})
	}
	return view
}
