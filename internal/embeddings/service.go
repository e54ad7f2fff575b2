package embeddings

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fyrsmithlabs/uniguide/internal/config"
	"github.com/fyrsmithlabs/uniguide/internal/logging"
	"github.com/fyrsmithlabs/uniguide/internal/telemetry"
	"go.uber.org/zap"
)

// Service adapts a Provider to the Embedder contract: it rejects blank
// input, truncates long input at a rune boundary and checks that every
// vector has the expected dimension.
type Service struct {
	provider Provider
	model    string
	maxChars int
	dim      atomic.Int64
	logger   *logging.Logger
	tel      *telemetry.Telemetry
	metrics  *Metrics
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithMaxInputChars sets the truncation limit. Zero disables truncation.
func WithMaxInputChars(n int) ServiceOption {
	return func(s *Service) { s.maxChars = n }
}

// WithLogger sets the logger used for truncation warnings.
func WithLogger(l *logging.Logger) ServiceOption {
	return func(s *Service) { s.logger = l.Named("embeddings") }
}

// WithTelemetry records metrics on tel's meter provider.
func WithTelemetry(tel *telemetry.Telemetry) ServiceOption {
	return func(s *Service) { s.tel = tel }
}

var _ Embedder = (*Service)(nil)

// NewService wraps provider. model is the name reported by Model.
func NewService(provider Provider, model string, opts ...ServiceOption) (*Service, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: provider required", ErrInvalidConfig)
	}
	s := &Service{
		provider: provider,
		model:    model,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.dim.Store(int64(provider.Dimension()))
	s.metrics = NewMetrics(s.tel.Meter(instrumentationName), s.logger)
	return s, nil
}

// Embed embeds a search query.
func (s *Service) Embed(ctx context.Context, text string) (Embedding, error) {
	start := time.Now()
	var genErr error
	defer func() {
		s.metrics.RecordGeneration(ctx, s.model, "embed", time.Since(start), 1, genErr)
	}()

	if strings.TrimSpace(text) == "" {
		genErr = ErrEmptyInput
		return Embedding{}, genErr
	}
	used, orig, n := s.prepare(ctx, text)

	vector, err := s.provider.EmbedQuery(ctx, used)
	if err != nil {
		genErr = err
		return Embedding{}, err
	}
	if err := s.checkDimension(vector); err != nil {
		genErr = err
		return Embedding{}, err
	}
	return Embedding{Vector: vector, Truncated: n < orig, OriginalChars: orig, UsedChars: n}, nil
}

// EmbedBatch embeds documents in order. Any blank entry fails the whole
// batch with ErrEmptyInput naming its index.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([]Embedding, error) {
	start := time.Now()
	var genErr error
	defer func() {
		s.metrics.RecordGeneration(ctx, s.model, "embed_batch", time.Since(start), len(texts), genErr)
	}()

	if len(texts) == 0 {
		genErr = ErrEmptyInput
		return nil, genErr
	}

	inputs := make([]string, len(texts))
	out := make([]Embedding, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			genErr = fmt.Errorf("%w: text %d", ErrEmptyInput, i)
			return nil, genErr
		}
		used, orig, n := s.prepare(ctx, t)
		inputs[i] = used
		out[i] = Embedding{Truncated: n < orig, OriginalChars: orig, UsedChars: n}
	}

	vectors, err := s.provider.EmbedDocuments(ctx, inputs)
	if err != nil {
		genErr = err
		return nil, err
	}
	if len(vectors) != len(texts) {
		genErr = fmt.Errorf("%w: got %d vectors for %d inputs", ErrEmbeddingFailed, len(vectors), len(texts))
		return nil, genErr
	}
	for i, v := range vectors {
		if err := s.checkDimension(v); err != nil {
			genErr = err
			return nil, err
		}
		out[i].Vector = v
	}
	return out, nil
}

// Dimension returns the vector size, learned from the first vector when
// the provider does not report one.
func (s *Service) Dimension() int { return int(s.dim.Load()) }

func (s *Service) Model() string { return s.model }

// Close releases the provider.
func (s *Service) Close() error { return s.provider.Close() }

func (s *Service) prepare(ctx context.Context, text string) (string, int, int) {
	used, orig, n := truncate(text, s.maxChars)
	if n < orig {
		s.logger.Warn(ctx, "embedding input truncated",
			zap.String("model", s.model),
			zap.Int("original_chars", orig),
			zap.Int("used_chars", n))
		s.metrics.RecordTruncation(ctx, s.model, 1)
	}
	return used, orig, n
}

func (s *Service) checkDimension(v []float32) error {
	if len(v) == 0 {
		return fmt.Errorf("%w: empty vector", ErrEmbeddingFailed)
	}
	want := s.dim.Load()
	if want == 0 && s.dim.CompareAndSwap(0, int64(len(v))) {
		return nil
	}
	if want = s.dim.Load(); int64(len(v)) != want {
		return fmt.Errorf("%w: vector has dimension %d, want %d", ErrEmbeddingFailed, len(v), want)
	}
	return nil
}

// New builds the configured provider and wraps it in a Service.
func New(ctx context.Context, cfg config.EmbeddingsConfig, geminiKey config.Secret, opts ...ServiceOption) (*Service, error) {
	provider, err := NewProvider(ctx, ProviderConfigFrom(cfg, geminiKey))
	if err != nil {
		return nil, err
	}
	opts = append([]ServiceOption{WithMaxInputChars(cfg.MaxInputChars)}, opts...)
	return NewService(provider, cfg.Model, opts...)
}
