// Package reconcile keeps the vector index consistent with the catalog by
// removing index entries whose products no longer exist.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

const (
	// TriggerSubject requests an on-demand cleanup pass; the report is sent
	// back on the reply subject.
	TriggerSubject = "catalog.reconcile.run"
	// ReportSubject receives the report of every completed pass.
	ReportSubject = "catalog.reconcile.report"
)

// VectorIndex is the slice of the vector store the job needs.
type VectorIndex interface {
	AllSKUs(ctx context.Context) (map[string]struct{}, error)
	DeleteMany(ctx context.Context, skus []string) error
}

// Catalog is the slice of the catalog store the job needs.
type Catalog interface {
	ListAllSKUs(ctx context.Context) (map[string]struct{}, error)
}

// Report summarizes one cleanup pass. DeletedSKUs is sorted.
type Report struct {
	Deleted     int      `json:"deleted"`
	DeletedSKUs []string `json:"deleted_skus"`
}

// Job runs reconciliation passes. Runs are serialized: a second caller
// blocks until the in-flight pass finishes.
type Job struct {
	mu      sync.Mutex
	index   VectorIndex
	catalog Catalog
	logger  *slog.Logger
}

// NewJob builds a reconciliation job. A nil logger falls back to
// slog.Default().
func NewJob(index VectorIndex, cat Catalog, logger *slog.Logger) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{index: index, catalog: cat, logger: logger}
}

// CleanupStaleVectors deletes every index entry whose sku is absent from the
// catalog. The catalog listing includes inactive products, so deactivation
// alone does not evict a vector; only true deletion does. The pass is
// idempotent: a clean index yields an empty report.
func (j *Job) CleanupStaleVectors(ctx context.Context) (Report, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	indexed, err := j.index.AllSKUs(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list indexed skus: %w", err)
	}
	known, err := j.catalog.ListAllSKUs(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list catalog skus: %w", err)
	}

	stale := make([]string, 0)
	for sku := range indexed {
		if _, ok := known[sku]; !ok {
			stale = append(stale, sku)
		}
	}
	sort.Strings(stale)

	if len(stale) == 0 {
		j.logger.InfoContext(ctx, "reconcile pass clean", "indexed", len(indexed), "catalog", len(known))
		return Report{DeletedSKUs: []string{}}, nil
	}

	if err := j.index.DeleteMany(ctx, stale); err != nil {
		return Report{}, fmt.Errorf("delete stale vectors: %w", err)
	}
	j.logger.InfoContext(ctx, "reconcile pass removed stale vectors",
		"deleted", len(stale), "indexed", len(indexed), "catalog", len(known))
	return Report{Deleted: len(stale), DeletedSKUs: stale}, nil
}
