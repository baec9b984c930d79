// Package embedding produces vector embeddings for text and images,
// with an LRU model pool bounded by a memory budget.
package embedding

import "context"

// Embedder produces normalized vector embeddings.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedImage embeds raw image bytes. Text-only models return an
	// UnsupportedFormat error.
	EmbedImage(ctx context.Context, data []byte) ([]float32, error)
	Dimensions() int
	Close() error
}
