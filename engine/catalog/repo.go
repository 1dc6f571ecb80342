package catalog

import (
	"context"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// productFilter builds the WHERE clause for product queries. A non-empty
// query adds the case-insensitive substring conditions of the keyword
// fallback. Returned params are safe to extend with pagination keys.
func productFilter(f Filters, query string) (string, map[string]any) {
	where := "p.active"
	params := map[string]any{}

	if query != "" {
		where += ` AND (toLower(p.name) CONTAINS $q
			OR toLower(coalesce(p.description, '')) CONTAINS $q
			OR toLower(coalesce(p.short_description, '')) CONTAINS $q
			OR toLower(p.sku) CONTAINS $q)`
		params["q"] = strings.ToLower(query)
	}
	if f.CategoryID != nil {
		where += ` AND EXISTS { MATCH (p)-[:IN_CATEGORY]->(:Category {id: $category_id}) }`
		params["category_id"] = *f.CategoryID
	}
	if f.MinPrice != nil {
		where += ` AND p.price >= $min_price`
		params["min_price"] = *f.MinPrice
	}
	if f.MaxPrice != nil {
		where += ` AND p.price <= $max_price`
		params["max_price"] = *f.MaxPrice
	}
	return where, params
}

func productToMap(p Product) map[string]any {
	return map[string]any{
		"sku":               p.SKU,
		"name":              p.Name,
		"description":       p.Description,
		"short_description": p.ShortDescription,
		"price":             p.Price,
		"image_url":         p.ImageURL,
		"active":            p.Active,
	}
}

func categoryToMap(c Category) map[string]any {
	return map[string]any{
		"id":            c.ID,
		"name":          c.Name,
		"slug":          c.Slug,
		"parent_id":     c.ParentID,
		"display_order": int64(c.DisplayOrder),
		"active":        c.Active,
	}
}

func productFromRecord(rec *neo4j.Record) (Product, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "p")
	if err != nil {
		return Product{}, err
	}
	p := productFromProps(node.Props)
	if raw, ok := rec.Get("category_ids"); ok {
		if list, ok := raw.([]any); ok {
			for _, v := range list {
				if id, ok := v.(int64); ok {
					p.CategoryIDs = append(p.CategoryIDs, id)
				}
			}
		}
	}
	return p, nil
}

func productFromProps(props map[string]any) Product {
	return Product{
		SKU:              strProp(props, "sku"),
		Name:             strProp(props, "name"),
		Description:      strProp(props, "description"),
		ShortDescription: strProp(props, "short_description"),
		Price:            floatProp(props, "price"),
		ImageURL:         strProp(props, "image_url"),
		Active:           boolProp(props, "active"),
	}
}

func categoryFromRecord(rec *neo4j.Record) (Category, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "c")
	if err != nil {
		return Category{}, err
	}
	props := node.Props
	return Category{
		ID:           intProp(props, "id"),
		Name:         strProp(props, "name"),
		Slug:         strProp(props, "slug"),
		ParentID:     intProp(props, "parent_id"),
		DisplayOrder: int(intProp(props, "display_order")),
		Active:       boolProp(props, "active"),
	}, nil
}

func collectProducts(ctx context.Context, res result) ([]Product, error) {
	var items []Product
	for res.Next(ctx) {
		p, err := productFromRecord(res.Record())
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, nil
}

func collectCategories(ctx context.Context, res result) ([]Category, error) {
	var items []Category
	for res.Next(ctx) {
		c, err := categoryFromRecord(res.Record())
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, nil
}

// --- record/prop accessors ---

func strValue(rec *neo4j.Record, key string) string {
	if v, ok := rec.Get(key); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func int64Value(rec *neo4j.Record, key string) int64 {
	if v, ok := rec.Get(key); ok {
		if n, ok := v.(int64); ok {
			return n
		}
	}
	return 0
}

func floatValue(rec *neo4j.Record, key string) float64 {
	if v, ok := rec.Get(key); ok {
		switch n := v.(type) {
		case float64:
			return n
		case int64:
			return float64(n)
		}
	}
	return 0
}

func strProp(props map[string]any, key string) string {
	if s, ok := props[key].(string); ok {
		return s
	}
	return ""
}

func floatProp(props map[string]any, key string) float64 {
	switch n := props[key].(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	}
	return 0
}

func boolProp(props map[string]any, key string) bool {
	b, _ := props[key].(bool)
	return b
}

func intProp(props map[string]any, key string) int64 {
	n, _ := props[key].(int64)
	return n
}
