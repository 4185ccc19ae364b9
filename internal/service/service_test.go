package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"shop-service/internal/models"
	"shop-service/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.NewStore(store.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type recordingPublisher struct {
	mu      sync.Mutex
	created []*models.OrderCreatedEvent
	changed []*models.OrderStatusChangedEvent
	err     error
}

func (p *recordingPublisher) PublishOrderCreated(_ context.Context, e *models.OrderCreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, e)
	return p.err
}

func (p *recordingPublisher) PublishOrderStatusChanged(_ context.Context, e *models.OrderStatusChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changed = append(p.changed, e)
	return p.err
}

// memoryCache is a versioned CatalogCache backed by a map of JSON documents.
// beforeSet runs ahead of every SetCatalog.
type memoryCache struct {
	version       int64
	entries       map[string][]byte
	invalidations int
	beforeSet     func()
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string][]byte{}}
}

func (c *memoryCache) key(version int64, name string) string {
	return fmt.Sprintf("v%d:%s", version, name)
}

func (c *memoryCache) GetCatalog(_ context.Context, name string, dest interface{}) (int64, bool, error) {
	data, ok := c.entries[c.key(c.version, name)]
	if !ok {
		return c.version, false, nil
	}
	return c.version, true, json.Unmarshal(data, dest)
}

func (c *memoryCache) SetCatalog(_ context.Context, version int64, name string, value interface{}) error {
	if c.beforeSet != nil {
		c.beforeSet()
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.entries[c.key(version, name)] = data
	return nil
}

func (c *memoryCache) InvalidateCatalog(context.Context) error {
	c.version++
	c.invalidations++
	return nil
}

// live returns the entries readable at the current version
func (c *memoryCache) live() int {
	prefix := fmt.Sprintf("v%d:", c.version)
	n := 0
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			n++
		}
	}
	return n
}

type fakeLocker struct {
	held     map[string]string
	acquired []string
	err      error
}

func (l *fakeLocker) AcquireLock(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	if l.err != nil {
		return "", false, l.err
	}
	if _, ok := l.held[key]; ok {
		return "", false, nil
	}
	l.acquired = append(l.acquired, key)
	l.held[key] = "token"
	return "token", true, nil
}

func (l *fakeLocker) ReleaseLock(_ context.Context, key, token string) error {
	if l.held[key] == token {
		delete(l.held, key)
	}
	return nil
}

var errPublish = errors.New("broker unavailable")

type shop struct {
	store       *store.Store
	customer    *models.Customer
	electronics *models.Category
	phones      *models.Category
	phone       *models.Product
	charger     *models.Product
}

// seedShop builds Electronics > Phones with one 10.99 phone and a 5.00
// charger directly under Electronics
func seedShop(t *testing.T) shop {
	t.Helper()
	ctx := context.Background()
	s := newTestStore(t)

	customer := &models.Customer{Username: "testuser", Email: "test@test.com", PhoneNumber: "+254700000000"}
	require.NoError(t, s.CreateCustomer(ctx, customer))

	electronics := &models.Category{Name: "Electronics"}
	require.NoError(t, s.CreateCategory(ctx, electronics))
	phones := &models.Category{Name: "Phones", ParentID: &electronics.ID}
	require.NoError(t, s.CreateCategory(ctx, phones))

	phone := &models.Product{Name: "Test Phone", Price: decimal.RequireFromString("10.99"), CategoryID: phones.ID, StockQuantity: 10, IsActive: true}
	require.NoError(t, s.CreateProduct(ctx, phone))

	charger := &models.Product{Name: "Charger", Price: decimal.RequireFromString("5.00"), CategoryID: electronics.ID, StockQuantity: 3, IsActive: true}
	require.NoError(t, s.CreateProduct(ctx, charger))

	return shop{store: s, customer: customer, electronics: electronics, phones: phones, phone: phone, charger: charger}
}
