// Package embed generates vector embeddings for chunk text.
//
// Two providers exist: a deterministic hash-based embedder that needs
// no external services, and an Ollama-backed embedder for semantic
// quality. Both return unit-length vectors so the vector index can use
// cosine distance directly.
package embed

import (
	"context"
	"math"
)

const (
	// DefaultBatchSize is how many texts go into one provider call.
	DefaultBatchSize = 32

	// StaticDimensions is the vector width of the hash embedder.
	StaticDimensions = 256

	// DefaultOllamaHost is the local Ollama API endpoint.
	DefaultOllamaHost = "http://localhost:11434"
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding width.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available reports whether the provider is ready to serve.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// normalize scales v to unit length. Zero vectors pass through.
func normalize(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	for i, val := range v {
		v[i] = float32(float64(val) / magnitude)
	}
	return v
}
