package reasoning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/uniguide/internal/logging"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

// GeminiConfig configures the Gemini backend.
type GeminiConfig struct {
	APIKey       string
	Model        string
	BaseURL      string // overrides the API endpoint, used by tests
	Temperature  float32
	MaxToolTurns int
	RateLimit    float64
	MaxRetries   int
	Timeout      time.Duration
}

// Gemini reasons through the Gemini API, running a tool loop when the
// request carries tools.
type Gemini struct {
	client   *genai.Client
	cfg      GeminiConfig
	throttle *throttle
	logger   *logging.Logger
}

// NewGemini creates a Gemini backend.
func NewGemini(ctx context.Context, cfg GeminiConfig, logger *logging.Logger) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key required", ErrInvalidConfig)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: gemini model required", ErrInvalidConfig)
	}
	if cfg.MaxToolTurns <= 0 {
		cfg.MaxToolTurns = 1
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{
		client:   client,
		cfg:      cfg,
		throttle: newThrottle(cfg.RateLimit, cfg.MaxRetries),
		logger:   logger.Named("gemini"),
	}, nil
}

// Reason implements Capability.
func (g *Gemini) Reason(ctx context.Context, req Request) (string, error) {
	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(SystemPrompt(req), genai.RoleUser),
		Temperature:       genai.Ptr(g.cfg.Temperature),
	}
	if len(req.Tools) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: geminiDeclarations(req.Tools)}}
	}

	contents := []*genai.Content{genai.NewContentFromText(UserPrompt(req), genai.RoleUser)}

	for turn := 0; turn <= g.cfg.MaxToolTurns; turn++ {
		var resp *genai.GenerateContentResponse
		err := g.throttle.do(ctx, func(ctx context.Context) error {
			var err error
			resp, err = g.client.Models.GenerateContent(ctx, g.cfg.Model, contents, config)
			return err
		})
		if err != nil {
			return "", fmt.Errorf("gemini generate: %w", err)
		}

		calls := resp.FunctionCalls()
		if len(calls) == 0 {
			text := strings.TrimSpace(resp.Text())
			if text == "" {
				return "", ErrEmptyResponse
			}
			return text, nil
		}

		contents = append(contents, resp.Candidates[0].Content)
		parts := make([]*genai.Part, 0, len(calls))
		for _, call := range calls {
			g.logger.Debug(ctx, "tool call",
				zap.String("worker", req.Worker),
				zap.String("tool", call.Name))
			out := invokeTool(ctx, req.Tools, call.Name, call.Args)
			part := genai.NewPartFromFunctionResponse(call.Name, map[string]any{"output": out})
			part.FunctionResponse.ID = call.ID
			parts = append(parts, part)
		}
		contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))
	}

	return "", fmt.Errorf("%w after %d turns", ErrToolLoop, g.cfg.MaxToolTurns)
}

func geminiDeclarations(tools []Tool) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		schema := &genai.Schema{
			Type:       genai.TypeObject,
			Properties: make(map[string]*genai.Schema),
		}
		for _, p := range t.Parameters() {
			schema.Properties[p.Name] = &genai.Schema{
				Type:        geminiType(p.Type),
				Description: p.Description,
			}
			if p.Required {
				schema.Required = append(schema.Required, p.Name)
			}
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  schema,
		})
	}
	return decls
}

func geminiType(t string) genai.Type {
	switch t {
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	default:
		return genai.TypeString
	}
}
