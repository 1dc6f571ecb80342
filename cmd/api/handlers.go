package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/nats-io/nats.go"

	"github.com/retailkiosk/retail-kiosk/engine/catalog"
	"github.com/retailkiosk/retail-kiosk/engine/domain"
	"github.com/retailkiosk/retail-kiosk/engine/indexer"
	"github.com/retailkiosk/retail-kiosk/engine/reconcile"
	"github.com/retailkiosk/retail-kiosk/engine/search"
	"github.com/retailkiosk/retail-kiosk/pkg/fn"
	"github.com/retailkiosk/retail-kiosk/pkg/natsutil"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	defaultSuggests = 5
	maxSuggests     = 20
)

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// productResult is the wire shape of one search hit.
type productResult struct {
	SKU         string  `json:"sku"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Price       float64 `json:"price"`
	ImageURL    string  `json:"image_url,omitempty"`
	CategoryIDs []int64 `json:"category_ids"`
	Score       float64 `json:"score"`
}

type searchResponse struct {
	Results         []productResult `json:"results"`
	Total           int             `json:"total"`
	Page            int             `json:"page"`
	PageSize        int             `json:"page_size"`
	BestMatch       *productResult  `json:"best_match,omitempty"`
	BestMatchReason string          `json:"best_match_reason,omitempty"`
}

func toProductResult(r search.ScoredResult) productResult {
	return productResult{
		SKU:         r.Item.SKU,
		Name:        r.Item.Name,
		Description: r.Item.ShortDescription,
		Price:       r.Item.Price,
		ImageURL:    r.Item.ImageURL,
		CategoryIDs: r.Item.CategoryIDs,
		Score:       r.Score,
	}
}

func handleSearch(svc *search.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		page := intParam(q.Get("page"), 1)
		if page < 1 {
			page = 1
		}
		size := intParam(q.Get("page_size"), defaultPageSize)
		if size < 1 {
			size = defaultPageSize
		}
		if size > maxPageSize {
			size = maxPageSize
		}

		filters, err := parseFilters(q.Get("category_id"), q.Get("min_price"), q.Get("max_price"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		out, err := svc.SearchProducts(r.Context(), q.Get("q"), filters, (page-1)*size, size)
		if err != nil {
			respondErr(w, logger, "search failed", err)
			return
		}

		resp := searchResponse{
			Results:         fn.Map(out.Results, toProductResult),
			Total:           out.Total,
			Page:            page,
			PageSize:        size,
			BestMatchReason: out.BestMatchReason,
		}
		if out.BestMatch != nil {
			best := toProductResult(*out.BestMatch)
			resp.BestMatch = &best
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleSuggestions(svc *search.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := intParam(r.URL.Query().Get("limit"), defaultSuggests)
		if limit < 1 {
			limit = defaultSuggests
		}
		if limit > maxSuggests {
			limit = maxSuggests
		}

		got, err := svc.Suggest(r.Context(), r.URL.Query().Get("q"), limit)
		if err != nil {
			respondErr(w, logger, "suggest failed", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"suggestions": got})
	}
}

func handleFacets(svc *search.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var categoryID *int64
		if v := r.URL.Query().Get("category_id"); v != "" {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, "category_id must be an integer")
				return
			}
			categoryID = &id
		}

		got, err := svc.Facets(r.Context(), categoryID)
		if err != nil {
			respondErr(w, logger, "facets failed", err)
			return
		}
		writeJSON(w, http.StatusOK, got)
	}
}

func handleUpsertProduct(store *catalog.Store, nc *nats.Conn, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p catalog.Product
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if p.SKU == "" || p.Name == "" {
			writeError(w, http.StatusBadRequest, "sku and name are required")
			return
		}

		if err := store.UpsertProduct(r.Context(), p); err != nil {
			respondErr(w, logger, "product upsert failed", err)
			return
		}
		publishChange(r.Context(), nc, indexer.UpdatedSubject, p.SKU, logger)
		writeJSON(w, http.StatusOK, map[string]string{"sku": p.SKU})
	}
}

func handleDeactivateProduct(store *catalog.Store, nc *nats.Conn, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sku := r.PathValue("sku")
		if sku == "" {
			writeError(w, http.StatusBadRequest, "sku is required")
			return
		}

		if err := store.DeactivateProduct(r.Context(), sku); err != nil {
			respondErr(w, logger, "product deactivate failed", err)
			return
		}
		// The indexer evicts inactive products on the update subject.
		publishChange(r.Context(), nc, indexer.UpdatedSubject, sku, logger)
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleUpsertCategory(store *catalog.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var c catalog.Category
		if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if c.ID == 0 || c.Name == "" {
			writeError(w, http.StatusBadRequest, "id and name are required")
			return
		}

		if err := store.UpsertCategory(r.Context(), c); err != nil {
			respondErr(w, logger, "category upsert failed", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"id": c.ID})
	}
}

func handleReconcile(nc *nats.Conn, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := natsutil.Request[struct{}, reconcile.Report](r.Context(), nc, reconcile.TriggerSubject, struct{}{})
		if err != nil {
			logger.Error("reconcile trigger failed", "err", err)
			writeError(w, http.StatusServiceUnavailable, "reconciler unavailable")
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func publishChange(ctx context.Context, nc *nats.Conn, subject, sku string, logger *slog.Logger) {
	if err := natsutil.Publish(ctx, nc, subject, indexer.ProductEvent{SKU: sku}); err != nil {
		logger.Error("change event publish failed", "subject", subject, "sku", sku, "err", err)
	}
}

func parseFilters(categoryID, minPrice, maxPrice string) (catalog.Filters, error) {
	var f catalog.Filters
	if categoryID != "" {
		id, err := strconv.ParseInt(categoryID, 10, 64)
		if err != nil {
			return f, errors.New("category_id must be an integer")
		}
		f.CategoryID = &id
	}
	if minPrice != "" {
		v, err := strconv.ParseFloat(minPrice, 64)
		if err != nil {
			return f, errors.New("min_price must be a number")
		}
		f.MinPrice = &v
	}
	if maxPrice != "" {
		v, err := strconv.ParseFloat(maxPrice, 64)
		if err != nil {
			return f, errors.New("max_price must be a number")
		}
		f.MaxPrice = &v
	}
	return f, nil
}

func intParam(v string, fallback int) int {
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// respondErr maps engine errors onto HTTP statuses: invalid input is the
// caller's fault, unreachable backends are 503, anything else is a 500.
func respondErr(w http.ResponseWriter, logger *slog.Logger, msg string, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrCatalogUnavailable),
		errors.Is(err, domain.ErrIndexUnavailable),
		errors.Is(err, domain.ErrModelUnavailable):
		logger.Error(msg, "err", err)
		writeError(w, http.StatusServiceUnavailable, "backend unavailable")
	default:
		logger.Error(msg, "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
