package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"shop-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

const categoryColumns = "id, name, description, parent_id, position, created_at, updated_at"

const productColumns = "id, name, description, price, category_id, stock_quantity, is_active, created_at, updated_at"

// CreateCategory creates a new category
func (s *Store) CreateCategory(ctx context.Context, category *models.Category) error {
	ts := now()
	query := s.db.Rebind(`
		INSERT INTO categories (name, description, parent_id, position, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`)

	err := s.db.GetContext(ctx, &category.ID, query,
		category.Name, category.Description, category.ParentID, category.Position, ts, ts)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("parent category %v: %w", category.ParentID, ErrNotFound)
		}
		return err
	}
	category.CreatedAt = ts
	category.UpdatedAt = ts
	return nil
}

// UpdateCategory overwrites name, description, parent and position
func (s *Store) UpdateCategory(ctx context.Context, category *models.Category) error {
	ts := now()
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE categories
		SET name = ?, description = ?, parent_id = ?, position = ?, updated_at = ?
		WHERE id = ?`),
		category.Name, category.Description, category.ParentID, category.Position, ts, category.ID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("parent category %v: %w", category.ParentID, ErrNotFound)
		}
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("category %d: %w", category.ID, ErrNotFound)
	}
	category.UpdatedAt = ts
	return nil
}

// GetCategoryByID retrieves a category by ID
func (s *Store) GetCategoryByID(ctx context.Context, id int64) (*models.Category, error) {
	var category models.Category
	err := s.db.GetContext(ctx, &category,
		s.db.Rebind("SELECT "+categoryColumns+" FROM categories WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("category %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &category, nil
}

// ListCategories retrieves all categories
func (s *Store) ListCategories(ctx context.Context) ([]models.Category, error) {
	categories := []models.Category{}
	err := s.db.SelectContext(ctx, &categories,
		"SELECT "+categoryColumns+" FROM categories ORDER BY position, id")
	return categories, err
}

// CreateProduct creates a new product
func (s *Store) CreateProduct(ctx context.Context, product *models.Product) error {
	ts := now()
	query := s.db.Rebind(`
		INSERT INTO products (name, description, price, category_id, stock_quantity, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`)

	err := s.db.GetContext(ctx, &product.ID, query,
		product.Name, product.Description, models.FormatMoney(product.Price), product.CategoryID,
		product.StockQuantity, product.IsActive, ts, ts)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("category %d: %w", product.CategoryID, ErrNotFound)
		}
		return err
	}
	product.CreatedAt = ts
	product.UpdatedAt = ts
	return nil
}

// UpdateProduct overwrites the mutable product fields
func (s *Store) UpdateProduct(ctx context.Context, product *models.Product) error {
	ts := now()
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE products
		SET name = ?, description = ?, price = ?, category_id = ?, stock_quantity = ?, is_active = ?, updated_at = ?
		WHERE id = ?`),
		product.Name, product.Description, models.FormatMoney(product.Price), product.CategoryID,
		product.StockQuantity, product.IsActive, ts, product.ID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("category %d: %w", product.CategoryID, ErrNotFound)
		}
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("product %d: %w", product.ID, ErrNotFound)
	}
	product.UpdatedAt = ts
	return nil
}

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product,
		s.db.Rebind("SELECT "+productColumns+" FROM products WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// ProductFilter narrows ListProducts. A nil CategoryIDs means every category;
// an empty non-nil slice matches nothing.
type ProductFilter struct {
	ActiveOnly  bool
	CategoryIDs []int64
}

// ListProducts retrieves products matching filter
func (s *Store) ListProducts(ctx context.Context, filter ProductFilter) ([]models.Product, error) {
	products := []models.Product{}
	if filter.CategoryIDs != nil && len(filter.CategoryIDs) == 0 {
		return products, nil
	}

	query := "SELECT " + productColumns + " FROM products WHERE 1 = 1"
	var args []interface{}
	if filter.ActiveOnly {
		query += " AND is_active = ?"
		args = append(args, true)
	}
	if filter.CategoryIDs != nil {
		query += " AND category_id IN (?)"
		args = append(args, filter.CategoryIDs)
	}
	query += " ORDER BY id"

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, err
	}

	err = s.db.SelectContext(ctx, &products, s.db.Rebind(query), args...)
	return products, err
}

// GetProductsByIDs retrieves multiple products by IDs
func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	if len(ids) == 0 {
		return []models.Product{}, nil
	}

	query, args, err := sqlx.In("SELECT "+productColumns+" FROM products WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var products []models.Product
	err = s.db.SelectContext(ctx, &products, query, args...)
	return products, err
}

// GetActivePricesInCategories returns the price of every active product
// whose category is in categoryIDs
func (s *Store) GetActivePricesInCategories(ctx context.Context, categoryIDs []int64) ([]decimal.Decimal, error) {
	prices := []decimal.Decimal{}
	if len(categoryIDs) == 0 {
		return prices, nil
	}

	query, args, err := sqlx.In(
		"SELECT price FROM products WHERE is_active = ? AND category_id IN (?)", true, categoryIDs)
	if err != nil {
		return nil, err
	}

	err = s.db.SelectContext(ctx, &prices, s.db.Rebind(query), args...)
	return prices, err
}

// CreateCustomer creates a customer read-model row
func (s *Store) CreateCustomer(ctx context.Context, customer *models.Customer) error {
	ts := now()
	err := s.db.GetContext(ctx, &customer.ID, s.db.Rebind(`
		INSERT INTO customers (username, email, phone_number, created_at)
		VALUES (?, ?, ?, ?)
		RETURNING id`),
		customer.Username, customer.Email, customer.PhoneNumber, ts)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("username %q: %w", customer.Username, ErrConflict)
		}
		return err
	}
	customer.CreatedAt = ts
	return nil
}

// GetCustomerByID retrieves a customer by ID
func (s *Store) GetCustomerByID(ctx context.Context, id int64) (*models.Customer, error) {
	var customer models.Customer
	err := s.db.GetContext(ctx, &customer, s.db.Rebind(
		"SELECT id, username, email, phone_number, created_at FROM customers WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("customer %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &customer, nil
}
