// Package catalog provides the Neo4j-backed product catalog the retrieval
// engine reads from. Products and categories are nodes; membership is an
// IN_CATEGORY relationship.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/retailkiosk/retail-kiosk/engine/domain"
)

// result is the minimal interface needed from a neo4j result.
type result interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
}

// runner is the minimal interface needed from a neo4j session.
type runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (result, error)
	Close(ctx context.Context) error
}

// Store is the sole owner of catalog reads and writes.
type Store struct {
	driver     neo4j.DriverWithContext
	newSession func(ctx context.Context) runner // for testing
}

// NewStore creates a Store on top of an open Neo4j driver.
func NewStore(driver neo4j.DriverWithContext) *Store {
	return &Store{driver: driver}
}

type sessionAdapter struct {
	sess neo4j.SessionWithContext
}

func (a *sessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (result, error) {
	return a.sess.Run(ctx, cypher, params)
}

func (a *sessionAdapter) Close(ctx context.Context) error { return a.sess.Close(ctx) }

func (s *Store) session(ctx context.Context) runner {
	if s.newSession != nil {
		return s.newSession(ctx)
	}
	return &sessionAdapter{sess: s.driver.NewSession(ctx, neo4j.SessionConfig{})}
}

func storeErr(op string, err error) error {
	return fmt.Errorf("catalog: %s: %w", op, errors.Join(domain.ErrCatalogUnavailable, err))
}

const productReturn = `RETURN p, [(p)-[:IN_CATEGORY]->(c:Category) | c.id] AS category_ids`

// GetBySku returns the product for a sku. The second return value is false
// when no such product exists.
func (s *Store) GetBySku(ctx context.Context, sku string) (Product, bool, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	res, err := sess.Run(ctx,
		`MATCH (p:Product {sku: $sku}) `+productReturn,
		map[string]any{"sku": sku})
	if err != nil {
		return Product{}, false, storeErr("get by sku", err)
	}
	if !res.Next(ctx) {
		return Product{}, false, nil
	}
	p, err := productFromRecord(res.Record())
	if err != nil {
		return Product{}, false, storeErr("get by sku", err)
	}
	return p, true, nil
}

// ActiveBySKUs resolves skus to active products. Unknown or inactive skus
// are simply absent from the result.
func (s *Store) ActiveBySKUs(ctx context.Context, skus []string) ([]Product, error) {
	if len(skus) == 0 {
		return nil, nil
	}
	sess := s.session(ctx)
	defer sess.Close(ctx)

	res, err := sess.Run(ctx,
		`MATCH (p:Product) WHERE p.sku IN $skus AND p.active `+productReturn,
		map[string]any{"skus": skus})
	if err != nil {
		return nil, storeErr("resolve skus", err)
	}
	return collectProducts(ctx, res)
}

// ListActive returns active products matching the filters, ordered by name,
// with storage-level pagination. The second return value is the total count
// before pagination.
func (s *Store) ListActive(ctx context.Context, f Filters, skip, limit int) ([]Product, int, error) {
	where, params := productFilter(f, "")
	return s.pagedProducts(ctx, "list active", where, params, skip, limit)
}

// KeywordQuery is the storage half of the keyword fallback: active products
// whose name, description, short description, or sku contains the query
// case-insensitively, narrowed by the filters, ordered by name. The count is
// the storage layer's own total for the filtered match set.
func (s *Store) KeywordQuery(ctx context.Context, query string, f Filters, skip, limit int) ([]Product, int, error) {
	where, params := productFilter(f, query)
	return s.pagedProducts(ctx, "keyword query", where, params, skip, limit)
}

func (s *Store) pagedProducts(ctx context.Context, op, where string, params map[string]any, skip, limit int) ([]Product, int, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	countRes, err := sess.Run(ctx,
		`MATCH (p:Product) WHERE `+where+` RETURN count(p) AS total`, params)
	if err != nil {
		return nil, 0, storeErr(op, err)
	}
	total := 0
	if countRes.Next(ctx) {
		total = int(int64Value(countRes.Record(), "total"))
	}

	params["skip"] = skip
	params["limit"] = limit
	res, err := sess.Run(ctx,
		`MATCH (p:Product) WHERE `+where+` WITH p ORDER BY p.name ASC SKIP $skip LIMIT $limit `+productReturn,
		params)
	if err != nil {
		return nil, 0, storeErr(op, err)
	}
	items, err := collectProducts(ctx, res)
	if err != nil {
		return nil, 0, storeErr(op, err)
	}
	return items, total, nil
}

// ListAllSKUs enumerates every product sku, active or not. The reconciler
// treats this as the source-of-truth id set.
func (s *Store) ListAllSKUs(ctx context.Context) (map[string]struct{}, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	res, err := sess.Run(ctx, `MATCH (p:Product) RETURN p.sku AS sku`, nil)
	if err != nil {
		return nil, storeErr("list skus", err)
	}
	skus := make(map[string]struct{})
	for res.Next(ctx) {
		if sku := strValue(res.Record(), "sku"); sku != "" {
			skus[sku] = struct{}{}
		}
	}
	return skus, nil
}

// ProductNames returns up to limit active product names with the given
// case-insensitive prefix, for autocomplete.
func (s *Store) ProductNames(ctx context.Context, prefix string, limit int) ([]string, error) {
	return s.names(ctx, "Product", prefix, limit)
}

// CategoryNames returns up to limit active category names with the given
// case-insensitive prefix.
func (s *Store) CategoryNames(ctx context.Context, prefix string, limit int) ([]string, error) {
	return s.names(ctx, "Category", prefix, limit)
}

func (s *Store) names(ctx context.Context, label, prefix string, limit int) ([]string, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf(
		`MATCH (n:%s) WHERE n.active AND toLower(n.name) STARTS WITH $prefix
		 RETURN n.name AS name ORDER BY n.name ASC LIMIT $limit`,
		label)
	res, err := sess.Run(ctx, cypher, map[string]any{
		"prefix": strings.ToLower(prefix),
		"limit":  limit,
	})
	if err != nil {
		return nil, storeErr("names", err)
	}
	var names []string
	for res.Next(ctx) {
		names = append(names, strValue(res.Record(), "name"))
	}
	return names, nil
}

// CategoryNamesByIDs returns the names for the given category ids, in id
// order. Used when building indexable product text.
func (s *Store) CategoryNamesByIDs(ctx context.Context, ids []int64) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	sess := s.session(ctx)
	defer sess.Close(ctx)

	res, err := sess.Run(ctx,
		`MATCH (c:Category) WHERE c.id IN $ids RETURN c.name AS name ORDER BY c.id ASC`,
		map[string]any{"ids": ids})
	if err != nil {
		return nil, storeErr("category names", err)
	}
	var names []string
	for res.Next(ctx) {
		names = append(names, strValue(res.Record(), "name"))
	}
	return names, nil
}

// ActiveCategories returns all active categories ordered by display order
// then name.
func (s *Store) ActiveCategories(ctx context.Context) ([]Category, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	res, err := sess.Run(ctx,
		`MATCH (c:Category) WHERE c.active
		 RETURN c ORDER BY c.display_order ASC, c.name ASC`, nil)
	if err != nil {
		return nil, storeErr("active categories", err)
	}
	return collectCategories(ctx, res)
}

// Siblings returns the active categories sharing the given category's
// parent, itself included. A root category (no parent) yields all active
// categories, matching the facet behavior for top-level browsing.
func (s *Store) Siblings(ctx context.Context, categoryID int64) ([]Category, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	res, err := sess.Run(ctx,
		`MATCH (me:Category {id: $id})
		 MATCH (c:Category) WHERE c.active AND (me.parent_id = 0 OR c.parent_id = me.parent_id)
		 RETURN c ORDER BY c.display_order ASC, c.name ASC`,
		map[string]any{"id": categoryID})
	if err != nil {
		return nil, storeErr("siblings", err)
	}
	return collectCategories(ctx, res)
}

// PriceRange returns the min and max price over active products, optionally
// restricted to one category. An empty match yields (0, 0).
func (s *Store) PriceRange(ctx context.Context, categoryID *int64) (float64, float64, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	f := Filters{CategoryID: categoryID}
	where, params := productFilter(f, "")
	res, err := sess.Run(ctx,
		`MATCH (p:Product) WHERE `+where+` RETURN min(p.price) AS lo, max(p.price) AS hi`,
		params)
	if err != nil {
		return 0, 0, storeErr("price range", err)
	}
	if !res.Next(ctx) {
		return 0, 0, nil
	}
	rec := res.Record()
	return floatValue(rec, "lo"), floatValue(rec, "hi"), nil
}

// UpsertProduct creates or replaces a product node and its category
// relationships. The indexer's seed path and tests use this; steady-state
// catalog writes belong to the catalog service.
func (s *Store) UpsertProduct(ctx context.Context, p Product) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	_, err := sess.Run(ctx,
		`MERGE (p:Product {sku: $sku}) SET p += $props
		 WITH p
		 OPTIONAL MATCH (p)-[r:IN_CATEGORY]->(:Category) DELETE r
		 WITH DISTINCT p
		 UNWIND CASE WHEN size($categories) = 0 THEN [null] ELSE $categories END AS cid
		 OPTIONAL MATCH (c:Category {id: cid})
		 FOREACH (_ IN CASE WHEN c IS NULL THEN [] ELSE [1] END | MERGE (p)-[:IN_CATEGORY]->(c))`,
		map[string]any{
			"sku":        p.SKU,
			"props":      productToMap(p),
			"categories": p.CategoryIDs,
		})
	if err != nil {
		return storeErr("upsert product", err)
	}
	return nil
}

// UpsertCategory creates or replaces a category node.
func (s *Store) UpsertCategory(ctx context.Context, c Category) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	_, err := sess.Run(ctx,
		`MERGE (c:Category {id: $id}) SET c += $props`,
		map[string]any{"id": c.ID, "props": categoryToMap(c)})
	if err != nil {
		return storeErr("upsert category", err)
	}
	return nil
}

// DeactivateProduct soft-deletes a product. Its vector is removed by the
// change event or, eventually, by reconciliation.
func (s *Store) DeactivateProduct(ctx context.Context, sku string) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	_, err := sess.Run(ctx,
		`MATCH (p:Product {sku: $sku}) SET p.active = false`,
		map[string]any{"sku": sku})
	if err != nil {
		return storeErr("deactivate product", err)
	}
	return nil
}
