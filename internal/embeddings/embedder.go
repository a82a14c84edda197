package embeddings

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrInvalidConfig indicates the embedder could not be constructed:
	// bad settings, unresolvable credentials, or a model that failed to load.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates a per-call failure: transport, service,
	// transform, or model error, or a malformed response.
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrInvalidChunkSize indicates a chunk size below 1.
	ErrInvalidChunkSize = errors.New("chunk size must be positive")

	// ErrBackendUnavailable indicates the backend was compiled out of this binary.
	ErrBackendUnavailable = errors.New("embedding backend not available in this build")
)

// Embedder generates vector embeddings from text.
//
// Implementations return one vector per input text, in input order, and
// replace newlines with spaces before encoding.
type Embedder interface {
	// EmbedDocuments generates embeddings for multiple texts.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single text.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Provider is an Embedder with a known dimension and releasable resources.
type Provider interface {
	Embedder
	// Dimension returns the embedding dimension, or 0 when the backend
	// does not advertise one before the first call.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// normalizeText replaces newlines, which degrade embedding quality, with spaces.
func normalizeText(text string) string {
	return strings.ReplaceAll(text, "\n", " ")
}

// normalizeTexts returns a normalized copy; the caller's slice is not modified.
func normalizeTexts(texts []string) []string {
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = normalizeText(t)
	}
	return out
}
