package catalog

// Product is a read snapshot of a sellable catalog item. The catalog store
// owns its lifecycle; the retrieval engine only reads it.
type Product struct {
	SKU              string  `json:"sku"`
	Name             string  `json:"name"`
	Description      string  `json:"description,omitempty"`
	ShortDescription string  `json:"short_description,omitempty"`
	Price            float64 `json:"price"`
	ImageURL         string  `json:"image_url,omitempty"`
	Active           bool    `json:"is_active"`
	CategoryIDs      []int64 `json:"category_ids,omitempty"`
}

// Category organizes products. Categories form a hierarchy via ParentID
// (zero means root).
type Category struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Slug         string `json:"slug"`
	ParentID     int64  `json:"parent_id,omitempty"`
	DisplayOrder int    `json:"display_order"`
	Active       bool   `json:"is_active"`
}

// Filters narrows product queries. Nil pointer fields mean "no constraint";
// price bounds are inclusive.
type Filters struct {
	CategoryID *int64
	MinPrice   *float64
	MaxPrice   *float64
}
