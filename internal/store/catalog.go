package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"github.com/ccmart/ccmart-go/internal/cache"
	"github.com/ccmart/ccmart-go/internal/models"
)

// Catalog is the cache-aside read path for products. Postgres stays the
// system of record; a nil cache degrades to plain reads. Stock mutations go
// through order placement and cancellation, which invalidate touched keys
// after commit.
type Catalog struct {
	db    *sql.DB
	cache *cache.Cache
}

func NewCatalog(db *sql.DB, c *cache.Cache) *Catalog {
	return &Catalog{db: db, cache: c}
}

func productKey(id int64) string {
	return fmt.Sprintf("product:%d", id)
}

func (c *Catalog) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	if c.cache != nil {
		var product models.Product
		err := c.cache.Get(ctx, productKey(id), &product)
		if err == nil {
			return &product, nil
		}
		if !cache.IsMiss(err) {
			log.Printf("catalog: cache read for product %d failed: %v", id, err)
		}
	}

	product, err := GetProduct(ctx, c.db, id)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, productKey(id), product); err != nil {
			log.Printf("catalog: cache write for product %d failed: %v", id, err)
		}
	}

	return product, nil
}

func (c *Catalog) ListProducts(ctx context.Context, page, pageSize int) (*OffsetPage, error) {
	return ListProducts(ctx, c.db, page, pageSize)
}

func (c *Catalog) CreateProduct(ctx context.Context, sku, name, description string, price decimal.Decimal, stockQuantity int) (*models.Product, error) {
	return CreateProduct(ctx, c.db, sku, name, description, price, stockQuantity)
}

// InvalidateProducts drops cached entries whose stock just changed. Failures
// only mean a stale read until the TTL expires.
func (c *Catalog) InvalidateProducts(ctx context.Context, ids ...int64) {
	if c.cache == nil || len(ids) == 0 {
		return
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, productKey(id))
	}
	if err := c.cache.Delete(ctx, keys...); err != nil {
		log.Printf("catalog: cache invalidation failed: %v", err)
	}
}
