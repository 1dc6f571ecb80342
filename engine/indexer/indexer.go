// Package indexer keeps the vector index in step with the catalog. It turns
// a product record into embedding text, embeds it, and writes the vector
// with its filter payload; deactivated or deleted products are evicted.
package indexer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/retailkiosk/retail-kiosk/engine/catalog"
	"github.com/retailkiosk/retail-kiosk/engine/embed"
	"github.com/retailkiosk/retail-kiosk/engine/semantic"
	"github.com/retailkiosk/retail-kiosk/pkg/fn"
)

const (
	reindexPageSize = 100
	reindexWorkers  = 4
)

// Catalog is the slice of the catalog store the indexer needs.
type Catalog interface {
	GetBySku(ctx context.Context, sku string) (catalog.Product, bool, error)
	CategoryNamesByIDs(ctx context.Context, ids []int64) ([]string, error)
	ListActive(ctx context.Context, f catalog.Filters, skip, limit int) ([]catalog.Product, int, error)
}

// VectorIndex is the slice of the vector store the indexer needs.
type VectorIndex interface {
	Upsert(ctx context.Context, sku string, vector []float32, payload semantic.Payload) error
	Delete(ctx context.Context, sku string) error
}

// ProductDoc is a product joined with its resolved category names, the
// input to the indexing pipeline.
type ProductDoc struct {
	Product       catalog.Product
	CategoryNames []string
}

// TextDoc carries the rendered embedding prompt.
type TextDoc struct {
	ProductDoc
	Text string
}

// EmbeddedDoc carries the product vector ready for upsert.
type EmbeddedDoc struct {
	TextDoc
	Vector []float32
}

// BuildText renders the embedding prompt for a product.
var BuildText = fn.MapStage(func(d ProductDoc) TextDoc {
	text := embed.ProductText(d.Product.Name, d.Product.Description, d.Product.ShortDescription, d.CategoryNames)
	return TextDoc{ProductDoc: d, Text: text}
})

// NewEmbed creates the stage that turns prompt text into a vector.
func NewEmbed(e embed.Embedder) fn.Stage[TextDoc, EmbeddedDoc] {
	return func(ctx context.Context, d TextDoc) fn.Result[EmbeddedDoc] {
		vec, err := e.Embed(ctx, d.Text)
		if err != nil {
			return fn.Err[EmbeddedDoc](fmt.Errorf("embed product %s: %w", d.Product.SKU, err))
		}
		return fn.Ok(EmbeddedDoc{TextDoc: d, Vector: vec})
	}
}

// NewUpsert creates the stage that writes the vector and filter payload.
func NewUpsert(idx VectorIndex) fn.Stage[EmbeddedDoc, string] {
	return func(ctx context.Context, d EmbeddedDoc) fn.Result[string] {
		payload := semantic.Payload{
			Name:        d.Product.Name,
			Price:       d.Product.Price,
			CategoryIDs: d.Product.CategoryIDs,
		}
		if err := idx.Upsert(ctx, d.Product.SKU, d.Vector, payload); err != nil {
			return fn.Err[string](fmt.Errorf("upsert product %s: %w", d.Product.SKU, err))
		}
		return fn.Ok(d.Product.SKU)
	}
}

// Indexer runs the indexing pipeline for single products and full rebuilds.
type Indexer struct {
	catalog  Catalog
	index    VectorIndex
	logger   *slog.Logger
	pipeline fn.Stage[ProductDoc, string]
}

// New wires the pipeline. A nil logger falls back to slog.Default().
func New(cat Catalog, idx VectorIndex, e embed.Embedder, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		catalog:  cat,
		index:    idx,
		logger:   logger,
		pipeline: fn.TracedStage("indexer.pipeline", fn.Then(BuildText, fn.Then(NewEmbed(e), NewUpsert(idx)))),
	}
}

// IndexProduct brings the index entry for one sku up to date. A sku the
// catalog no longer knows, or knows as inactive, is evicted instead.
func (ix *Indexer) IndexProduct(ctx context.Context, sku string) error {
	p, found, err := ix.catalog.GetBySku(ctx, sku)
	if err != nil {
		return err
	}
	if !found || !p.Active {
		ix.logger.InfoContext(ctx, "evicting unsellable product", "sku", sku, "found", found)
		return ix.RemoveProduct(ctx, sku)
	}

	names, err := ix.catalog.CategoryNamesByIDs(ctx, p.CategoryIDs)
	if err != nil {
		return err
	}
	_, err = ix.pipeline(ctx, ProductDoc{Product: p, CategoryNames: names}).Unwrap()
	return err
}

// RemoveProduct evicts one sku from the index. Absent skus are a no-op.
func (ix *Indexer) RemoveProduct(ctx context.Context, sku string) error {
	return ix.index.Delete(ctx, sku)
}

// ReindexAll pages through every active product and rebuilds its vector,
// fanning pages out over a bounded worker pool. It returns the number of
// products indexed, stopping at the first failed page.
func (ix *Indexer) ReindexAll(ctx context.Context) (int, error) {
	stage := fn.BatchStage(reindexWorkers, fn.Stage[catalog.Product, string](func(ctx context.Context, p catalog.Product) fn.Result[string] {
		names, err := ix.catalog.CategoryNamesByIDs(ctx, p.CategoryIDs)
		if err != nil {
			return fn.Err[string](err)
		}
		return ix.pipeline(ctx, ProductDoc{Product: p, CategoryNames: names})
	}))

	total := 0
	for skip := 0; ; skip += reindexPageSize {
		page, _, err := ix.catalog.ListActive(ctx, catalog.Filters{}, skip, reindexPageSize)
		if err != nil {
			return total, fmt.Errorf("list products at offset %d: %w", skip, err)
		}
		if len(page) == 0 {
			return total, nil
		}
		if _, err := stage(ctx, page).Unwrap(); err != nil {
			return total, err
		}
		total += len(page)
		ix.logger.InfoContext(ctx, "reindex progress", "indexed", total)
	}
}
