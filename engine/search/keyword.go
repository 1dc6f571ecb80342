package search

import (
	"sort"
	"strings"

	"github.com/retailkiosk/retail-kiosk/engine/catalog"
	"github.com/retailkiosk/retail-kiosk/pkg/fn"
)

const (
	baseScore     = 0.5
	nameBonus     = 0.3
	exactSkuScore = 1.0
	matchScoreCap = 1.0
)

// Match scores candidates against the query and drops non-matches.
// Candidates are expected to be pre-filtered by the storage layer (active,
// category, price window); Match only does text relevance. The returned
// slice is sorted by score descending; ties keep the candidates' supplied
// order.
func Match(query string, candidates []catalog.Product) []ScoredResult {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	out := fn.FilterMap(candidates, func(p catalog.Product) (ScoredResult, bool) {
		score, ok := keywordScore(q, p)
		return ScoredResult{Item: p, Score: score}, ok
	})
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

// keywordScore gates on a substring hit in any searchable field, then
// scores: 0.5 base, +0.3 when the name matches, and a flat 1.0 for a
// case-insensitive exact SKU match.
func keywordScore(q string, p catalog.Product) (float64, bool) {
	name := strings.Contains(strings.ToLower(p.Name), q)
	hit := name ||
		strings.Contains(strings.ToLower(p.Description), q) ||
		strings.Contains(strings.ToLower(p.ShortDescription), q) ||
		strings.Contains(strings.ToLower(p.SKU), q)
	if !hit {
		return 0, false
	}
	if strings.EqualFold(p.SKU, q) {
		return exactSkuScore, true
	}
	score := baseScore
	if name {
		score += nameBonus
	}
	if score > matchScoreCap {
		score = matchScoreCap
	}
	return score, true
}
