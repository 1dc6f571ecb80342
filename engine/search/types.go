package search

import "github.com/retailkiosk/retail-kiosk/engine/catalog"

// ScoredResult pairs a catalog item with its relevance score in [0, 1].
type ScoredResult struct {
	Item  catalog.Product `json:"product"`
	Score float64         `json:"score"`
}

// SearchOutcome is one ranked, paginated result set. Results are sorted by
// score descending with name-ascending tiebreak. Total counts resolved
// matches before pagination (semantic path) or the storage layer's filtered
// count (keyword path). BestMatch is the head of the first page and is
// omitted for later pages and empty outcomes.
type SearchOutcome struct {
	Results         []ScoredResult `json:"results"`
	Total           int            `json:"total"`
	BestMatch       *ScoredResult  `json:"best_match,omitempty"`
	BestMatchReason string         `json:"best_match_reason,omitempty"`
}

// Suggestion is one autocomplete entry, tagged with its source.
type Suggestion struct {
	Text string `json:"text"`
	Type string `json:"type"` // "product" or "category"
}

// PriceRange is the min/max price facet over the matching items.
type PriceRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Facets aggregates the filter values available to a search UI.
type Facets struct {
	PriceRange PriceRange         `json:"price_range"`
	Categories []catalog.Category `json:"categories"`
}
