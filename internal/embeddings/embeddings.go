package embeddings

import (
	"context"
	"errors"
	"unicode/utf8"
)

var (
	// ErrEmptyInput indicates empty or blank input text.
	ErrEmptyInput = errors.New("empty input text")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Embedding is one vector plus a record of how much of the input it covers.
type Embedding struct {
	Vector        []float32
	Truncated     bool
	OriginalChars int
	UsedChars     int
}

// Embedder embeds queries and documents.
type Embedder interface {
	// Embed embeds a search query.
	Embed(ctx context.Context, text string) (Embedding, error)
	// EmbedBatch embeds documents, preserving order.
	EmbedBatch(ctx context.Context, texts []string) ([]Embedding, error)
	Dimension() int
	Model() string
}

// truncate cuts text to at most max runes. A non-positive max disables it.
func truncate(text string, max int) (string, int, int) {
	n := utf8.RuneCountInString(text)
	if max <= 0 || n <= max {
		return text, n, n
	}
	i := 0
	for pos := range text {
		if i == max {
			return text[:pos], n, max
		}
		i++
	}
	return text, n, n
}
