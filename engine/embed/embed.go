// Package embed turns catalog text into fixed-length dense vectors.
package embed

import "context"

// Dimensions is the embedding width every vector in the product collection
// must have.
const Dimensions = 384

// Embedder produces deterministic embedding vectors for text. Identical
// input yields identical output, which re-upsert idempotence relies on.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
