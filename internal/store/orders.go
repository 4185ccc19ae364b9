package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"shop-service/internal/models"

	"github.com/jmoiron/sqlx"
)

const orderColumns = "id, customer_id, total_amount, status, notes, COALESCE(idempotency_key, '') AS idempotency_key, created_at, updated_at"

const orderItemSelect = `
	SELECT oi.id, oi.order_id, oi.product_id, p.name AS product_name, oi.quantity, oi.price
	FROM order_items oi
	JOIN products p ON p.id = oi.product_id`

// CreateOrder persists an order and all of its items in one transaction.
// Either every row is committed or none is.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	ts := now()

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		query := tx.Rebind(`
			INSERT INTO orders (customer_id, total_amount, status, notes, idempotency_key, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			RETURNING id`)

		var orderID int64
		if err := tx.GetContext(ctx, &orderID, query,
			order.CustomerID, models.FormatMoney(order.TotalAmount), order.Status, order.Notes,
			nullString(order.IdempotencyKey), ts, ts); err != nil {
			return fmt.Errorf("failed to insert order: %w", err)
		}

		itemQuery := tx.Rebind(`
			INSERT INTO order_items (order_id, product_id, quantity, price)
			VALUES (?, ?, ?, ?)
			RETURNING id`)

		for i := range order.Items {
			item := &order.Items[i]
			if err := tx.GetContext(ctx, &item.ID, itemQuery,
				orderID, item.ProductID, item.Quantity, models.FormatMoney(item.Price)); err != nil {
				return fmt.Errorf("failed to insert order item for product %d: %w", item.ProductID, err)
			}
			item.OrderID = orderID
		}

		order.ID = orderID
		return nil
	})
	if err != nil {
		order.ID = 0
		for i := range order.Items {
			order.Items[i].ID = 0
			order.Items[i].OrderID = 0
		}
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		return err
	}

	order.CreatedAt = ts
	order.UpdatedAt = ts
	return nil
}

// GetOrderByID retrieves an order by ID, without items
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		s.db.Rebind("SELECT "+orderColumns+" FROM orders WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByIdempotencyKey retrieves an order by idempotency key
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		s.db.Rebind("SELECT "+orderColumns+" FROM orders WHERE idempotency_key = ?"), key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ListOrders retrieves orders newest first. customerID 0 means all customers.
func (s *Store) ListOrders(ctx context.Context, customerID int64) ([]models.Order, error) {
	orders := []models.Order{}
	query := "SELECT " + orderColumns + " FROM orders"
	var args []interface{}
	if customerID != 0 {
		query += " WHERE customer_id = ?"
		args = append(args, customerID)
	}
	query += " ORDER BY created_at DESC, id DESC"

	err := s.db.SelectContext(ctx, &orders, s.db.Rebind(query), args...)
	return orders, err
}

// UpdateOrderStatus moves an order from one status to another. It fails
// with ErrConflict if the stored status is no longer from.
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID int64, from, to string) error {
	res, err := s.db.ExecContext(ctx,
		s.db.Rebind("UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status = ?"),
		to, now(), orderID, from)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("order %d is no longer %s: %w", orderID, from, ErrConflict)
	}
	return nil
}

// GetOrderItemsByOrderID retrieves all items for an order
func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	items := []models.OrderItem{}
	err := s.db.SelectContext(ctx, &items,
		s.db.Rebind(orderItemSelect+" WHERE oi.order_id = ? ORDER BY oi.id"), orderID)
	return items, err
}

// GetOrderItemsByOrderIDs retrieves the items of several orders keyed by order ID
func (s *Store) GetOrderItemsByOrderIDs(ctx context.Context, orderIDs []int64) (map[int64][]models.OrderItem, error) {
	result := make(map[int64][]models.OrderItem, len(orderIDs))
	if len(orderIDs) == 0 {
		return result, nil
	}

	query, args, err := sqlx.In(orderItemSelect+" WHERE oi.order_id IN (?) ORDER BY oi.id", orderIDs)
	if err != nil {
		return nil, err
	}

	var items []models.OrderItem
	if err := s.db.SelectContext(ctx, &items, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	for _, item := range items {
		result[item.OrderID] = append(result[item.OrderID], item)
	}
	return result, nil
}

// CountOrders returns the number of order rows and order item rows
func (s *Store) CountOrders(ctx context.Context) (orders, items int, err error) {
	if err = s.db.GetContext(ctx, &orders, "SELECT COUNT(*) FROM orders"); err != nil {
		return 0, 0, err
	}
	if err = s.db.GetContext(ctx, &items, "SELECT COUNT(*) FROM order_items"); err != nil {
		return 0, 0, err
	}
	return orders, items, nil
}
