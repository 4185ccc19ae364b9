package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"shop-service/internal/models"
	"shop-service/internal/store"
	"shop-service/internal/tree"
	"shop-service/internal/util"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// CatalogCache stores derived catalog views until the catalog changes.
// GetCatalog reports the catalog version it looked under; SetCatalog stores
// under the given version so a view computed before an invalidation is
// never served after it.
type CatalogCache interface {
	GetCatalog(ctx context.Context, name string, dest interface{}) (version int64, hit bool, err error)
	SetCatalog(ctx context.Context, version int64, name string, value interface{}) error
	InvalidateCatalog(ctx context.Context) error
}

// CatalogService serves category and product reads, subtree statistics and
// the admin write path for the catalog
type CatalogService struct {
	store  *store.Store
	cache  CatalogCache
	logger *zap.Logger
}

// NewCatalogService creates a new catalog service. cache may be nil.
func NewCatalogService(store *store.Store, cache CatalogCache) *CatalogService {
	return &CatalogService{
		store:  store,
		cache:  cache,
		logger: util.GetLogger(),
	}
}

// CategoryAverage is the mean active-product price of a category subtree
type CategoryAverage struct {
	CategoryID   int64           `json:"category_id"`
	CategoryName string          `json:"category"`
	AveragePrice decimal.Decimal `json:"average_price"`
	ProductCount int             `json:"product_count"`
}

// ProductView is a product with its category name and stock flag
type ProductView struct {
	ID            int64        `json:"id"`
	Name          string       `json:"name"`
	Description   string       `json:"description"`
	Price         models.Money `json:"price"`
	CategoryID    int64        `json:"category"`
	CategoryName  string       `json:"category_name"`
	StockQuantity int          `json:"stock_quantity"`
	IsActive      bool         `json:"is_active"`
	IsInStock     bool         `json:"is_in_stock"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

func newProductView(p *models.Product, categoryName string) ProductView {
	return ProductView{
		ID:            p.ID,
		Name:          p.Name,
		Description:   p.Description,
		Price:         models.NewMoney(p.Price),
		CategoryID:    p.CategoryID,
		CategoryName:  categoryName,
		StockQuantity: p.StockQuantity,
		IsActive:      p.IsActive,
		IsInStock:     p.IsInStock(),
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

// AveragePriceForSubtree averages the price of active products in the
// category and all of its descendants, rounded half-up to 2 decimals.
// A subtree without active products averages 0.00.
func (s *CatalogService) AveragePriceForSubtree(ctx context.Context, categoryID int64) (*CategoryAverage, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.AveragePriceForSubtree")
	defer span.End()

	// ids start at 1, so a non-positive id names no category
	if categoryID <= 0 {
		return nil, ErrCategoryNotFound
	}

	cacheName := fmt.Sprintf("avg:%d", categoryID)
	var cached CategoryAverage
	slot, hit := s.cacheGet(ctx, cacheName, &cached)
	if hit {
		return &cached, nil
	}

	t, err := s.loadTree(ctx)
	if err != nil {
		return nil, err
	}

	ids, err := t.Descendants(categoryID, true)
	if err != nil {
		return nil, s.treeError(span, err)
	}

	prices, err := s.store.GetActivePricesInCategories(ctx, ids)
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to load prices: %w", err)
	}

	category, _ := t.Get(categoryID)
	result := &CategoryAverage{
		CategoryID:   categoryID,
		CategoryName: category.Name,
		AveragePrice: AveragePrice(prices),
		ProductCount: len(prices),
	}

	s.cacheSet(ctx, slot, result)
	return result, nil
}

// AveragePrice returns the arithmetic mean rounded half-up to 2 decimals, or
// zero for no prices.
func AveragePrice(prices []decimal.Decimal) decimal.Decimal {
	if len(prices) == 0 {
		return decimal.Zero.Round(2)
	}
	sum := decimal.Zero
	for _, p := range prices {
		sum = sum.Add(p)
	}
	return sum.DivRound(decimal.NewFromInt(int64(len(prices))), 2)
}

// CategoryForest returns every root category with nested children
func (s *CatalogService) CategoryForest(ctx context.Context) ([]*tree.Node, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.CategoryForest")
	defer span.End()

	var cached []*tree.Node
	slot, hit := s.cacheGet(ctx, "categories", &cached)
	if hit {
		return cached, nil
	}

	t, err := s.loadTree(ctx)
	if err != nil {
		return nil, err
	}
	forest, err := t.Forest()
	if err != nil {
		return nil, s.treeError(span, err)
	}

	s.cacheSet(ctx, slot, forest)
	return forest, nil
}

// CategorySubtree returns one category with nested children
func (s *CatalogService) CategorySubtree(ctx context.Context, categoryID int64) (*tree.Node, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.CategorySubtree")
	defer span.End()

	t, err := s.loadTree(ctx)
	if err != nil {
		return nil, err
	}
	node, err := t.Subtree(categoryID)
	if err != nil {
		return nil, s.treeError(span, err)
	}
	return node, nil
}

// CategoryInput creates a category
type CategoryInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ParentID    *int64 `json:"parent"`
	Position    int    `json:"position"`
}

// CategoryUpdate changes the non-nil fields. ClearParent turns the category
// into a root.
type CategoryUpdate struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	ParentID    *int64  `json:"parent"`
	ClearParent bool    `json:"clear_parent"`
	Position    *int    `json:"position"`
}

// CreateCategory adds a category under an existing parent or as a root
func (s *CatalogService) CreateCategory(ctx context.Context, in CategoryInput) (*models.Category, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.CreateCategory")
	defer span.End()

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidCategory)
	}

	category := &models.Category{
		Name:        name,
		Description: in.Description,
		ParentID:    in.ParentID,
		Position:    in.Position,
	}
	if err := s.store.CreateCategory(ctx, category); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("parent %w", ErrCategoryNotFound)
		}
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to create category: %w", err)
	}

	s.invalidate(ctx)
	s.logger.Info("Category created", zap.Int64("category_id", category.ID), zap.String("name", category.Name))
	return category, nil
}

// UpdateCategory renames, re-describes or reparents a category. Moving a
// category below one of its own descendants fails with ErrCategoryCycle.
func (s *CatalogService) UpdateCategory(ctx context.Context, categoryID int64, in CategoryUpdate) (*models.Category, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.UpdateCategory")
	defer span.End()

	t, err := s.loadTree(ctx)
	if err != nil {
		return nil, err
	}
	current, ok := t.Get(categoryID)
	if !ok {
		return nil, ErrCategoryNotFound
	}
	category := current

	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name is required", ErrInvalidCategory)
		}
		category.Name = name
	}
	if in.Description != nil {
		category.Description = *in.Description
	}
	if in.Position != nil {
		category.Position = *in.Position
	}
	switch {
	case in.ClearParent:
		category.ParentID = nil
	case in.ParentID != nil:
		if _, ok := t.Get(*in.ParentID); !ok {
			return nil, fmt.Errorf("parent %w", ErrCategoryNotFound)
		}
		cycle, err := t.WouldCycle(categoryID, *in.ParentID)
		if err != nil {
			return nil, s.treeError(span, err)
		}
		if cycle {
			return nil, ErrCategoryCycle
		}
		parentID := *in.ParentID
		category.ParentID = &parentID
	}

	if err := s.store.UpdateCategory(ctx, &category); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrCategoryNotFound
		}
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to update category: %w", err)
	}

	s.invalidate(ctx)
	return &category, nil
}

// ListProducts returns active products, optionally limited to a category
// subtree
func (s *CatalogService) ListProducts(ctx context.Context, categoryID *int64) ([]ProductView, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.ListProducts")
	defer span.End()

	cacheName := "products:all"
	if categoryID != nil {
		cacheName = fmt.Sprintf("products:category:%d", *categoryID)
	}
	var cached []ProductView
	slot, hit := s.cacheGet(ctx, cacheName, &cached)
	if hit {
		return cached, nil
	}

	t, err := s.loadTree(ctx)
	if err != nil {
		return nil, err
	}

	filter := store.ProductFilter{ActiveOnly: true}
	if categoryID != nil {
		ids, err := t.Descendants(*categoryID, true)
		if err != nil {
			return nil, s.treeError(span, err)
		}
		filter.CategoryIDs = ids
	}

	products, err := s.store.ListProducts(ctx, filter)
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	views := make([]ProductView, 0, len(products))
	for _, p := range products {
		views = append(views, productView(p, t))
	}

	s.cacheSet(ctx, slot, views)
	return views, nil
}

// GetProduct returns one product, active or not
func (s *CatalogService) GetProduct(ctx context.Context, productID int64) (*ProductView, error) {
	product, err := s.store.GetProductByID(ctx, productID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}

	category, err := s.store.GetCategoryByID(ctx, product.CategoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to get product category: %w", err)
	}

	view := newProductView(product, category.Name)
	return &view, nil
}

// ProductInput creates a product
type ProductInput struct {
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	Price         decimal.Decimal `json:"price"`
	CategoryID    int64           `json:"category"`
	StockQuantity int             `json:"stock_quantity"`
	IsActive      *bool           `json:"is_active"`
}

// ProductUpdate changes the non-nil fields
type ProductUpdate struct {
	Name          *string          `json:"name"`
	Description   *string          `json:"description"`
	Price         *decimal.Decimal `json:"price"`
	CategoryID    *int64           `json:"category"`
	StockQuantity *int             `json:"stock_quantity"`
	IsActive      *bool            `json:"is_active"`
}

// CreateProduct adds a product to an existing category. Products are active
// unless IsActive is explicitly false.
func (s *CatalogService) CreateProduct(ctx context.Context, in ProductInput) (*ProductView, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.CreateProduct")
	defer span.End()

	product := &models.Product{
		Name:          strings.TrimSpace(in.Name),
		Description:   in.Description,
		Price:         in.Price,
		CategoryID:    in.CategoryID,
		StockQuantity: in.StockQuantity,
		IsActive:      in.IsActive == nil || *in.IsActive,
	}
	if err := validateProduct(product); err != nil {
		return nil, err
	}

	if err := s.store.CreateProduct(ctx, product); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrCategoryNotFound
		}
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	s.invalidate(ctx)
	s.logger.Info("Product created", zap.Int64("product_id", product.ID), zap.String("price", product.Price.String()))
	return s.GetProduct(ctx, product.ID)
}

// UpdateProduct applies an admin change. Orders already placed keep the
// price they were created with.
func (s *CatalogService) UpdateProduct(ctx context.Context, productID int64, in ProductUpdate) (*ProductView, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.UpdateProduct")
	defer span.End()

	product, err := s.store.GetProductByID(ctx, productID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}

	if in.Name != nil {
		product.Name = strings.TrimSpace(*in.Name)
	}
	if in.Description != nil {
		product.Description = *in.Description
	}
	if in.Price != nil {
		product.Price = *in.Price
	}
	if in.CategoryID != nil {
		product.CategoryID = *in.CategoryID
	}
	if in.StockQuantity != nil {
		product.StockQuantity = *in.StockQuantity
	}
	if in.IsActive != nil {
		product.IsActive = *in.IsActive
	}
	if err := validateProduct(product); err != nil {
		return nil, err
	}

	if err := s.store.UpdateProduct(ctx, product); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: category %d", ErrCategoryNotFound, product.CategoryID)
		}
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to update product: %w", err)
	}

	s.invalidate(ctx)
	return s.GetProduct(ctx, product.ID)
}

func validateProduct(p *models.Product) error {
	switch {
	case p.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidProduct)
	case p.Price.IsNegative():
		return fmt.Errorf("%w: price must not be negative", ErrInvalidProduct)
	case p.Price.Exponent() < -2 && !p.Price.Equal(p.Price.Round(2)):
		return fmt.Errorf("%w: price has more than 2 decimal places", ErrInvalidProduct)
	case p.StockQuantity < 0:
		return fmt.Errorf("%w: stock_quantity must not be negative", ErrInvalidProduct)
	case p.CategoryID <= 0:
		return fmt.Errorf("%w: category is required", ErrInvalidProduct)
	}
	return nil
}

func productView(p models.Product, t *tree.Tree) ProductView {
	category, _ := t.Get(p.CategoryID)
	return newProductView(&p, category.Name)
}

func (s *CatalogService) loadTree(ctx context.Context) (*tree.Tree, error) {
	categories, err := s.store.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load categories: %w", err)
	}
	return tree.New(categories), nil
}

func (s *CatalogService) treeError(span trace.Span, err error) error {
	if errors.Is(err, tree.ErrNotFound) {
		return ErrCategoryNotFound
	}
	util.RecordError(span, err)
	s.logger.Error("Category hierarchy is corrupt", zap.Error(err))
	return err
}

// cacheSlot remembers where a missed view should be stored
type cacheSlot struct {
	name    string
	version int64
	ok      bool
}

func (s *CatalogService) cacheGet(ctx context.Context, name string, dest interface{}) (cacheSlot, bool) {
	if s.cache == nil {
		return cacheSlot{}, false
	}
	version, hit, err := s.cache.GetCatalog(ctx, name, dest)
	if err != nil {
		s.logger.Warn("Catalog cache read failed", zap.String("name", name), zap.Error(err))
		util.CatalogCacheRequestsTotal.WithLabelValues("error").Inc()
		return cacheSlot{}, false
	}
	if hit {
		util.CatalogCacheRequestsTotal.WithLabelValues("hit").Inc()
	} else {
		util.CatalogCacheRequestsTotal.WithLabelValues("miss").Inc()
	}
	return cacheSlot{name: name, version: version, ok: true}, hit
}

func (s *CatalogService) cacheSet(ctx context.Context, slot cacheSlot, value interface{}) {
	if s.cache == nil || !slot.ok {
		return
	}
	if err := s.cache.SetCatalog(ctx, slot.version, slot.name, value); err != nil {
		s.logger.Warn("Catalog cache write failed", zap.String("name", slot.name), zap.Error(err))
	}
}

func (s *CatalogService) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateCatalog(ctx); err != nil {
		s.logger.Error("Catalog cache invalidation failed", zap.Error(err))
	}
}
