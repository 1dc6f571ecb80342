// Package search orchestrates product retrieval: semantic-first through the
// vector index with a keyword fallback when the index or the embedding model
// is unreachable. It also serves autocomplete suggestions and filter facets.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/retailkiosk/retail-kiosk/engine/catalog"
	"github.com/retailkiosk/retail-kiosk/engine/domain"
	"github.com/retailkiosk/retail-kiosk/engine/semantic"
	"github.com/retailkiosk/retail-kiosk/pkg/fn"
	"github.com/retailkiosk/retail-kiosk/pkg/metrics"
	"github.com/retailkiosk/retail-kiosk/pkg/resilience"
)

const (
	// DefaultLimit is the page size used when the caller passes none.
	DefaultLimit = 20
	// DefaultSuggestLimit caps autocomplete responses.
	DefaultSuggestLimit = 5

	strongMatchThreshold = 0.8
	weakMatchThreshold   = 0.5
)

// Embedder turns query text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorSearcher is the slice of the vector index the orchestrator needs.
type VectorSearcher interface {
	Search(ctx context.Context, vector []float32, limit int, f semantic.Filters) ([]semantic.Hit, error)
}

// Catalog is the slice of the catalog store the orchestrator needs.
type Catalog interface {
	ActiveBySKUs(ctx context.Context, skus []string) ([]catalog.Product, error)
	KeywordQuery(ctx context.Context, query string, f catalog.Filters, skip, limit int) ([]catalog.Product, int, error)
	ProductNames(ctx context.Context, prefix string, limit int) ([]string, error)
	CategoryNames(ctx context.Context, prefix string, limit int) ([]string, error)
	ActiveCategories(ctx context.Context) ([]catalog.Category, error)
	Siblings(ctx context.Context, categoryID int64) ([]catalog.Category, error)
	PriceRange(ctx context.Context, categoryID *int64) (float64, float64, error)
}

// Options tunes per-phase deadlines for a search call.
type Options struct {
	EmbedTimeout  time.Duration
	SearchTimeout time.Duration
}

// DefaultOptions returns the deadlines used when the caller passes zeros.
func DefaultOptions() Options {
	return Options{
		EmbedTimeout:  5 * time.Second,
		SearchTimeout: 5 * time.Second,
	}
}

// Service is the retrieval orchestrator.
type Service struct {
	embedder Embedder
	index    VectorSearcher
	catalog  Catalog
	breaker  *resilience.Breaker
	opts     Options
	logger   *slog.Logger

	semanticSearches *metrics.Counter
	keywordFallbacks *metrics.Counter
	emptySemantic    *metrics.Counter
	searchDuration   *metrics.Histogram
}

// New builds a Service. A nil registry records into a throwaway registry;
// a nil logger falls back to slog.Default().
func New(e Embedder, idx VectorSearcher, cat Catalog, opts Options, reg *metrics.Registry, logger *slog.Logger) *Service {
	if opts.EmbedTimeout <= 0 {
		opts.EmbedTimeout = DefaultOptions().EmbedTimeout
	}
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = DefaultOptions().SearchTimeout
	}
	if reg == nil {
		reg = metrics.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		embedder: e,
		index:    idx,
		catalog:  cat,
		breaker:  resilience.NewBreaker(resilience.DefaultBreakerOpts),
		opts:     opts,
		logger:   logger,

		semanticSearches: reg.Counter("search_semantic_total", "Semantic searches served from the vector index"),
		keywordFallbacks: reg.Counter("search_keyword_fallback_total", "Searches served by the keyword fallback"),
		emptySemantic:    reg.Counter("search_semantic_empty_total", "Semantic searches that returned no hits"),
		searchDuration:   reg.Histogram("search_duration_seconds", "End-to-end search latency", nil),
	}
}

var tracer = otel.Tracer("engine/search")

// SearchProducts runs one retrieval request. The semantic path is
// authoritative when the index answers, including an empty answer; the
// keyword fallback engages only when the model or index is unreachable or
// the breaker is open. Catalog failures always propagate.
func (s *Service) SearchProducts(ctx context.Context, query string, f catalog.Filters, skip, limit int) (SearchOutcome, error) {
	if err := domain.ValidateQuery(query); err != nil {
		return SearchOutcome{}, err
	}
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	ctx, span := tracer.Start(ctx, "search.products")
	span.SetAttributes(attribute.Int("search.skip", skip), attribute.Int("search.limit", limit))
	defer span.End()
	start := time.Now()
	defer s.searchDuration.Since(start)

	// Overfetch so pagination still has a full page after inactive or
	// deleted products are dropped during resolution.
	hits, err := s.semanticHits(ctx, query, f, skip+limit)
	switch {
	case err == nil:
		s.semanticSearches.Inc()
		if len(hits) == 0 {
			// The index answered: nothing matches. No fallback.
			s.emptySemantic.Inc()
			return SearchOutcome{Results: []ScoredResult{}}, nil
		}
		return s.resolveAndRank(ctx, hits, skip, limit)
	case fallbackable(err):
		s.keywordFallbacks.Inc()
		s.logger.WarnContext(ctx, "semantic search unavailable, using keyword fallback", "error", err)
		return s.keywordSearch(ctx, query, f, skip, limit)
	default:
		return SearchOutcome{}, err
	}
}

// semanticHits embeds the query and searches the index, both behind the
// circuit breaker so repeated backend failures fail fast.
func (s *Service) semanticHits(ctx context.Context, query string, f catalog.Filters, fetch int) ([]semantic.Hit, error) {
	return resilience.CallResult(s.breaker, ctx, func(ctx context.Context) fn.Result[[]semantic.Hit] {
		embedCtx, cancel := context.WithTimeout(ctx, s.opts.EmbedTimeout)
		vec, err := s.embedder.Embed(embedCtx, query)
		cancel()
		if err != nil {
			return fn.Err[[]semantic.Hit](fmt.Errorf("embed query: %w", err))
		}

		searchCtx, cancel := context.WithTimeout(ctx, s.opts.SearchTimeout)
		defer cancel()
		hits, err := s.index.Search(searchCtx, vec, fetch, indexFilters(f))
		if err != nil {
			return fn.Err[[]semantic.Hit](fmt.Errorf("vector search: %w", err))
		}
		return fn.Ok(hits)
	}).Unwrap()
}

// fallbackable reports whether the semantic path failed in a way the
// keyword path can cover. Validation and catalog errors are not covered.
func fallbackable(err error) bool {
	return errors.Is(err, domain.ErrIndexUnavailable) ||
		errors.Is(err, domain.ErrModelUnavailable) ||
		errors.Is(err, resilience.ErrCircuitOpen)
}

// resolveAndRank turns index hits into catalog items, silently dropping
// SKUs the catalog no longer knows or lists as inactive, then sorts and
// paginates. Total counts resolved items before pagination.
func (s *Service) resolveAndRank(ctx context.Context, hits []semantic.Hit, skip, limit int) (SearchOutcome, error) {
	skus := fn.Unique(fn.Map(hits, func(h semantic.Hit) string { return h.SKU }))
	scores := make(map[string]float64, len(hits))
	for _, h := range hits {
		if _, dup := scores[h.SKU]; !dup {
			scores[h.SKU] = float64(h.Score)
		}
	}

	items, err := s.catalog.ActiveBySKUs(ctx, skus)
	if err != nil {
		return SearchOutcome{}, err
	}

	results := make([]ScoredResult, 0, len(items))
	for _, item := range items {
		results = append(results, ScoredResult{Item: item, Score: scores[item.SKU]})
	}
	sortResults(results)
	total := len(results)
	return s.outcome(paginate(results, skip, limit), total, skip), nil
}

// keywordSearch serves one request entirely from the catalog store.
func (s *Service) keywordSearch(ctx context.Context, query string, f catalog.Filters, skip, limit int) (SearchOutcome, error) {
	items, total, err := s.catalog.KeywordQuery(ctx, query, f, skip, limit)
	if err != nil {
		return SearchOutcome{}, err
	}
	return s.outcome(Match(query, items), total, skip), nil
}

// outcome assembles the response envelope. The best match is only surfaced
// on the first page, where the top-ranked item actually leads the list; the
// reason phrase is score-gated and may be absent.
func (s *Service) outcome(results []ScoredResult, total, skip int) SearchOutcome {
	out := SearchOutcome{Results: results, Total: total}
	if skip == 0 && len(results) > 0 {
		top := results[0]
		out.BestMatch = &top
		out.BestMatchReason = matchReason(top.Item.Name, top.Score)
	}
	return out
}

func matchReason(name string, score float64) string {
	switch {
	case score > strongMatchThreshold:
		return fmt.Sprintf("'%s' is a strong match for your search.", name)
	case score > weakMatchThreshold:
		return fmt.Sprintf("'%s' may be what you're looking for.", name)
	default:
		return ""
	}
}

// Suggest returns up to limit autocomplete entries, product names first,
// then category names, both matched by case-insensitive prefix.
func (s *Service) Suggest(ctx context.Context, partial string, limit int) ([]Suggestion, error) {
	if err := domain.ValidateQuery(partial); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultSuggestLimit
	}

	lists, err := fn.FanOutResult(
		func() fn.Result[[]string] {
			return fn.FromPair(s.catalog.ProductNames(ctx, partial, limit))
		},
		func() fn.Result[[]string] {
			return fn.FromPair(s.catalog.CategoryNames(ctx, partial, limit))
		},
	).Unwrap()
	if err != nil {
		return nil, err
	}

	out := make([]Suggestion, 0, limit)
	for _, name := range lists[0] {
		out = append(out, Suggestion{Text: name, Type: "product"})
	}
	for _, name := range lists[1] {
		out = append(out, Suggestion{Text: name, Type: "category"})
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Facets returns the filter values for a search UI: the price window over
// the matching products and the categories to offer. With a category
// selected the offered categories are its siblings, otherwise all active
// ones.
func (s *Service) Facets(ctx context.Context, categoryID *int64) (Facets, error) {
	lo, hi, err := s.catalog.PriceRange(ctx, categoryID)
	if err != nil {
		return Facets{}, err
	}

	var cats []catalog.Category
	if categoryID != nil {
		cats, err = s.catalog.Siblings(ctx, *categoryID)
	} else {
		cats, err = s.catalog.ActiveCategories(ctx)
	}
	if err != nil {
		return Facets{}, err
	}

	return Facets{
		PriceRange: PriceRange{Min: lo, Max: hi},
		Categories: cats,
	}, nil
}

func indexFilters(f catalog.Filters) semantic.Filters {
	out := semantic.Filters{MinPrice: f.MinPrice, MaxPrice: f.MaxPrice}
	if f.CategoryID != nil {
		out.CategoryIDs = []int64{*f.CategoryID}
	}
	return out
}

func sortResults(results []ScoredResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Item.Name < results[j].Item.Name
	})
}

func paginate(results []ScoredResult, skip, limit int) []ScoredResult {
	if skip >= len(results) {
		return []ScoredResult{}
	}
	end := skip + limit
	if end > len(results) {
		end = len(results)
	}
	return results[skip:end]
}
