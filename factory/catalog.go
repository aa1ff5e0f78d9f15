/*
catalog.go - Cached product catalog

PURPOSE:
  Implements deposit.ProductCatalog over one or more JSON sources (a
  products file, the products table, the built-in presets). The first
  source that knows a product wins. Parsed JSON is kept in a cache.Cache so
  a fleet sharing Redis reads each definition from the database once per TTL.

CACHE FAILURES:
  A broken cache degrades to a source read and a warning; it never fails an
  operation.

SEE ALSO:
  - cache/cache.go: Memory and Redis caches
  - store/sqlstore: ProductJSON source backed by the products table
*/
package factory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/deposit-engine/cache"
	"github.com/warp/deposit-engine/deposit"
	"github.com/warp/deposit-engine/generic"
)

// Source returns the raw JSON definition of a product, or a NotFound error.
type Source interface {
	ProductJSON(ctx context.Context, id string) ([]byte, error)
}

// Catalog resolves products through a cache in front of its sources.
type Catalog struct {
	factory *ProductFactory
	cache   cache.Cache
	ttl     time.Duration
	sources []Source
	log     logrus.FieldLogger
}

// NewCatalog builds a catalog. Sources are consulted in order.
func NewCatalog(c cache.Cache, ttl time.Duration, log logrus.FieldLogger, sources ...Source) *Catalog {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Catalog{factory: NewProductFactory(), cache: c, ttl: ttl, sources: sources, log: log}
}

func cacheKey(id deposit.ProductID) string { return "product:" + string(id) }

// Product implements deposit.ProductCatalog.
func (c *Catalog) Product(ctx context.Context, id deposit.ProductID) (*deposit.Product, error) {
	raw, ok, err := c.cache.Get(ctx, cacheKey(id))
	if err != nil {
		c.log.WithError(err).WithField("product_id", id).Warn("product cache read failed")
	}
	if ok {
		if p, err := c.factory.ParseProduct(raw); err == nil {
			return p, nil
		}
		// stale or corrupt entry; fall through to the sources
		_ = c.cache.Delete(ctx, cacheKey(id))
	}

	for _, src := range c.sources {
		b, err := src.ProductJSON(ctx, string(id))
		if generic.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load product %s: %w", id, err)
		}
		p, err := c.factory.ParseProduct(string(b))
		if err != nil {
			return nil, fmt.Errorf("product %s: %w", id, err)
		}
		if err := c.cache.Set(ctx, cacheKey(id), string(b), c.ttl); err != nil {
			c.log.WithError(err).WithField("product_id", id).Warn("product cache write failed")
		}
		return p, nil
	}
	return nil, generic.NotFound("product", id)
}

// Invalidate drops a cached product so the next read goes to the sources.
func (c *Catalog) Invalidate(ctx context.Context, id deposit.ProductID) error {
	return c.cache.Delete(ctx, cacheKey(id))
}

// LoadFile reads a JSON array of product definitions. Every entry must parse.
func LoadFile(path string) (MapSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read products file: %w", err)
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse products file %s: %w", path, err)
	}

	f := NewProductFactory()
	out := make(MapSource, len(entries))
	for i, raw := range entries {
		p, err := f.ParseProduct(string(raw))
		if err != nil {
			return nil, fmt.Errorf("products file entry %d: %w", i, err)
		}
		out[string(p.ID)] = raw
	}
	return out, nil
}

var _ deposit.ProductCatalog = (*Catalog)(nil)
