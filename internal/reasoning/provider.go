package reasoning

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/uniguide/internal/config"
	"github.com/fyrsmithlabs/uniguide/internal/logging"
	"go.uber.org/zap"
)

// Provider names.
const (
	ProviderGemini = "gemini"
	ProviderGroq   = "groq"
	ProviderStub   = "stub"
)

// New builds the Capability selected by cfg.Provider.
func New(ctx context.Context, cfg config.ReasoningConfig, logger *logging.Logger) (Capability, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger.Info(ctx, "reasoning backend selected",
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model))

	switch cfg.Provider {
	case ProviderGemini:
		g, err := NewGemini(ctx, GeminiConfig{
			APIKey:       cfg.GeminiAPIKey.Value(),
			Model:        cfg.Model,
			Temperature:  float32(cfg.Temperature),
			MaxToolTurns: cfg.MaxToolTurns,
			RateLimit:    cfg.RateLimit,
			MaxRetries:   cfg.MaxRetries,
			Timeout:      cfg.Timeout.Duration(),
		}, logger)
		if err != nil {
			return nil, err
		}
		return g, nil
	case ProviderGroq:
		o, err := NewOpenAICompatible(OpenAIConfig{
			APIKey:       cfg.GroqAPIKey.Value(),
			Model:        cfg.Model,
			BaseURL:      cfg.BaseURL,
			Temperature:  cfg.Temperature,
			MaxToolTurns: cfg.MaxToolTurns,
			RateLimit:    cfg.RateLimit,
			MaxRetries:   cfg.MaxRetries,
			Timeout:      cfg.Timeout.Duration(),
		}, logger)
		if err != nil {
			return nil, err
		}
		return o, nil
	case ProviderStub:
		return NewScripted(nil), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
