package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/retailkiosk/retail-kiosk/engine/catalog"
	"github.com/retailkiosk/retail-kiosk/engine/search"
	"github.com/retailkiosk/retail-kiosk/engine/semantic"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, 384), nil
}

type stubIndex struct {
	hits  []semantic.Hit
	limit int
}

func (s *stubIndex) Search(ctx context.Context, vector []float32, limit int, f semantic.Filters) ([]semantic.Hit, error) {
	s.limit = limit
	return s.hits, nil
}

type stubCatalog struct {
	bySKUs []catalog.Product
}

func (s *stubCatalog) ActiveBySKUs(ctx context.Context, skus []string) ([]catalog.Product, error) {
	return s.bySKUs, nil
}

func (s *stubCatalog) KeywordQuery(ctx context.Context, query string, f catalog.Filters, skip, limit int) ([]catalog.Product, int, error) {
	return nil, 0, nil
}

func (s *stubCatalog) ProductNames(ctx context.Context, prefix string, limit int) ([]string, error) {
	return []string{"Drill Press"}, nil
}

func (s *stubCatalog) CategoryNames(ctx context.Context, prefix string, limit int) ([]string, error) {
	return []string{"Drills"}, nil
}

func (s *stubCatalog) ActiveCategories(ctx context.Context) ([]catalog.Category, error) {
	return []catalog.Category{{ID: 1, Name: "Tools"}}, nil
}

func (s *stubCatalog) Siblings(ctx context.Context, categoryID int64) ([]catalog.Category, error) {
	return nil, nil
}

func (s *stubCatalog) PriceRange(ctx context.Context, categoryID *int64) (float64, float64, error) {
	return 1, 100, nil
}

func testService(idx *stubIndex, cat *stubCatalog) *search.Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return search.New(stubEmbedder{}, idx, cat, search.Options{}, nil, logger)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHandleHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	handleHealth(rec, httptest.NewRequest("GET", "/api/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHandleSearchPagination(t *testing.T) {
	idx := &stubIndex{hits: []semantic.Hit{{SKU: "A", Score: 0.9}}}
	cat := &stubCatalog{bySKUs: []catalog.Product{{SKU: "A", Name: "Anchor", Price: 3.5, Active: true}}}
	h := handleSearch(testService(idx, cat), quietLogger())

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("GET", "/api/search?q=anchor&page=2&page_size=30", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp searchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Page != 2 || resp.PageSize != 30 {
		t.Fatalf("page/size = %d/%d", resp.Page, resp.PageSize)
	}
	// page 2 of size 30 needs 60 candidates from the index
	if idx.limit != 60 {
		t.Fatalf("index limit = %d, want 60", idx.limit)
	}
	if resp.Total != 1 || len(resp.Results) != 0 {
		t.Fatalf("total=%d results=%d, want 1 total and empty page", resp.Total, len(resp.Results))
	}
}

func TestHandleSearchCapsPageSize(t *testing.T) {
	idx := &stubIndex{}
	h := handleSearch(testService(idx, &stubCatalog{}), quietLogger())

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("GET", "/api/search?q=saw&page_size=5000", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if idx.limit != maxPageSize {
		t.Fatalf("index limit = %d, want %d", idx.limit, maxPageSize)
	}
}

func TestHandleSearchRejectsBlankQuery(t *testing.T) {
	h := handleSearch(testService(&stubIndex{}, &stubCatalog{}), quietLogger())

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("GET", "/api/search?q=%20", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleSearchRejectsBadFilter(t *testing.T) {
	h := handleSearch(testService(&stubIndex{}, &stubCatalog{}), quietLogger())

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("GET", "/api/search?q=saw&category_id=tools", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleSuggestions(t *testing.T) {
	h := handleSuggestions(testService(&stubIndex{}, &stubCatalog{}), quietLogger())

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("GET", "/api/search/suggestions?q=dr", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		Suggestions []search.Suggestion `json:"suggestions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Suggestions) != 2 || resp.Suggestions[0].Type != "product" {
		t.Fatalf("suggestions = %+v", resp.Suggestions)
	}
}

func TestHandleFacetsBadCategory(t *testing.T) {
	h := handleFacets(testService(&stubIndex{}, &stubCatalog{}), quietLogger())

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("GET", "/api/search/facets?category_id=xyz", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestParseFilters(t *testing.T) {
	f, err := parseFilters("7", "1.5", "99")
	if err != nil {
		t.Fatal(err)
	}
	if f.CategoryID == nil || *f.CategoryID != 7 {
		t.Fatalf("category = %v", f.CategoryID)
	}
	if f.MinPrice == nil || *f.MinPrice != 1.5 || f.MaxPrice == nil || *f.MaxPrice != 99 {
		t.Fatalf("prices = %v/%v", f.MinPrice, f.MaxPrice)
	}

	if _, err := parseFilters("", "cheap", ""); err == nil {
		t.Fatal("want error for non-numeric min_price")
	}
}

func TestIntParam(t *testing.T) {
	if got := intParam("", 9); got != 9 {
		t.Fatalf("got %d", got)
	}
	if got := intParam("junk", 9); got != 9 {
		t.Fatalf("got %d", got)
	}
	if got := intParam("3", 9); got != 3 {
		t.Fatalf("got %d", got)
	}
}
