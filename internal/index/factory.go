package index

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/uniguide/internal/config"
	"github.com/fyrsmithlabs/uniguide/internal/embeddings"
)

// Backend names.
const (
	BackendChromem = "chromem"
	BackendQdrant  = "qdrant"
)

// NewBackend creates the configured backend.
func NewBackend(ctx context.Context, cfg config.IndexConfig) (Backend, error) {
	switch cfg.Backend {
	case BackendChromem, "":
		b, err := NewChromemBackend(ChromemConfig{Path: cfg.Path, Compress: cfg.Compress})
		if err != nil {
			return nil, err
		}
		return b, nil
	case BackendQdrant:
		b, err := NewQdrantBackend(ctx, QdrantConfig{
			Host:   cfg.QdrantHost,
			Port:   cfg.QdrantPort,
			UseTLS: cfg.QdrantTLS,
			APIKey: cfg.QdrantKey.Value(),
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, cfg.Backend)
	}
}

// Open creates the configured backend and an index named cfg.Collection.
func Open(ctx context.Context, cfg config.IndexConfig, embedder embeddings.Embedder, opts ...Option) (*Index, error) {
	backend, err := NewBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	idx, err := New(cfg.Collection, backend, embedder, opts...)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return idx, nil
}
