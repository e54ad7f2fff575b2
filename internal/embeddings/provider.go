package embeddings

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/uniguide/internal/config"
)

// Provider names.
const (
	ProviderFastEmbed = "fastembed"
	ProviderTEI       = "tei"
	ProviderGemini    = "gemini"
)

// Provider produces raw vectors.
type Provider interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// Dimension returns the vector size, or 0 when unknown until first use.
	Dimension() int
	Close() error
}

// ProviderConfig holds configuration for creating an embedding provider.
type ProviderConfig struct {
	Provider  string
	Model     string
	BaseURL   string // TEI server, or Gemini endpoint override
	CacheDir  string // FastEmbed model cache
	Dimension int
	APIKey    string // Gemini only
}

// ProviderConfigFrom maps application config onto ProviderConfig. The
// Gemini key is shared with the reasoning backend.
func ProviderConfigFrom(cfg config.EmbeddingsConfig, geminiKey config.Secret) ProviderConfig {
	pc := ProviderConfig{
		Provider:  cfg.Provider,
		Model:     cfg.Model,
		CacheDir:  cfg.CacheDir,
		Dimension: cfg.Dimension,
		APIKey:    geminiKey.Value(),
	}
	if cfg.Provider != ProviderFastEmbed {
		pc.BaseURL = cfg.BaseURL
	}
	return pc
}

// knownDimensions lists vector sizes for models we ship defaults for.
var knownDimensions = map[string]int{
	"BAAI/bge-small-en-v1.5":                 384,
	"BAAI/bge-small-en":                      384,
	"BAAI/bge-base-en-v1.5":                  768,
	"BAAI/bge-base-en":                       768,
	"BAAI/bge-small-zh-v1.5":                 512,
	"sentence-transformers/all-MiniLM-L6-v2": 384,
	"fast-bge-small-en-v1.5":                 384,
	"fast-bge-small-en":                      384,
	"fast-bge-base-en-v1.5":                  768,
	"fast-bge-base-en":                       768,
	"fast-bge-small-zh-v1.5":                 512,
	"fast-all-MiniLM-L6-v2":                  384,
	"text-embedding-004":                     768,
	"gemini-embedding-001":                   3072,
}

// detectDimension returns the vector size for a model name, guessing from
// common naming patterns when the model is not listed.
func detectDimension(model string) int {
	if dim, ok := knownDimensions[model]; ok {
		return dim
	}
	switch {
	case strings.Contains(model, "large"):
		return 1024
	case strings.Contains(model, "base"):
		return 768
	default:
		return 384
	}
}

// NewProvider creates an embedding provider based on the configuration.
func NewProvider(ctx context.Context, cfg ProviderConfig) (Provider, error) {
	switch cfg.Provider {
	case ProviderFastEmbed, "":
		p, err := NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	case ProviderTEI:
		dim := cfg.Dimension
		if dim == 0 {
			dim = detectDimension(cfg.Model)
		}
		p, err := NewTEIProvider(TEIConfig{BaseURL: cfg.BaseURL, Model: cfg.Model, Dimension: dim})
		if err != nil {
			return nil, err
		}
		return p, nil
	case ProviderGemini:
		dim := cfg.Dimension
		if dim == 0 {
			dim = detectDimension(cfg.Model)
		}
		p, err := NewGeminiProvider(ctx, GeminiConfig{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BaseURL:   cfg.BaseURL,
			Dimension: dim,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
