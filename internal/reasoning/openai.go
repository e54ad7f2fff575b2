package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/uniguide/internal/logging"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
)

// OpenAIConfig configures an OpenAI-compatible backend such as Groq.
type OpenAIConfig struct {
	APIKey       string
	Model        string
	BaseURL      string
	Temperature  float64
	MaxToolTurns int
	RateLimit    float64
	MaxRetries   int
	Timeout      time.Duration
}

// OpenAICompatible reasons through any chat completions endpoint that speaks
// the OpenAI protocol.
type OpenAICompatible struct {
	llm      llms.Model
	cfg      OpenAIConfig
	throttle *throttle
	logger   *logging.Logger
}

// NewOpenAICompatible creates the backend.
func NewOpenAICompatible(cfg OpenAIConfig, logger *logging.Logger) (*OpenAICompatible, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: API key required", ErrInvalidConfig)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	if cfg.MaxToolTurns <= 0 {
		cfg.MaxToolTurns = 1
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}

	return &OpenAICompatible{
		llm:      llm,
		cfg:      cfg,
		throttle: newThrottle(cfg.RateLimit, cfg.MaxRetries),
		logger:   logger.Named("openai"),
	}, nil
}

// Reason implements Capability.
func (o *OpenAICompatible) Reason(ctx context.Context, req Request) (string, error) {
	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, SystemPrompt(req)),
		llms.TextParts(llms.ChatMessageTypeHuman, UserPrompt(req)),
	}
	callOpts := []llms.CallOption{llms.WithTemperature(o.cfg.Temperature)}
	if len(req.Tools) > 0 {
		callOpts = append(callOpts, llms.WithTools(openAITools(req.Tools)))
	}

	for turn := 0; turn <= o.cfg.MaxToolTurns; turn++ {
		var resp *llms.ContentResponse
		err := o.throttle.do(ctx, func(ctx context.Context) error {
			var err error
			resp, err = o.llm.GenerateContent(ctx, messages, callOpts...)
			return err
		})
		if err != nil {
			return "", fmt.Errorf("chat completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", ErrEmptyResponse
		}

		choice := resp.Choices[0]
		if len(choice.ToolCalls) == 0 {
			text := strings.TrimSpace(choice.Content)
			if text == "" {
				return "", ErrEmptyResponse
			}
			return text, nil
		}

		assistant := llms.MessageContent{Role: llms.ChatMessageTypeAI}
		for _, call := range choice.ToolCalls {
			assistant.Parts = append(assistant.Parts, call)
		}
		messages = append(messages, assistant)

		for _, call := range choice.ToolCalls {
			if call.FunctionCall == nil {
				continue
			}
			name := call.FunctionCall.Name
			o.logger.Debug(ctx, "tool call",
				zap.String("worker", req.Worker),
				zap.String("tool", name))

			var out string
			args := make(map[string]any)
			if raw := strings.TrimSpace(call.FunctionCall.Arguments); raw != "" {
				if err := json.Unmarshal([]byte(raw), &args); err != nil {
					out = "error: arguments are not a JSON object: " + err.Error()
				}
			}
			if out == "" {
				out = invokeTool(ctx, req.Tools, name, args)
			}
			messages = append(messages, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: call.ID,
					Name:       name,
					Content:    out,
				}},
			})
		}
	}

	return "", fmt.Errorf("%w after %d turns", ErrToolLoop, o.cfg.MaxToolTurns)
}

func openAITools(tools []Tool) []llms.Tool {
	out := make([]llms.Tool, 0, len(tools))
	for _, t := range tools {
		props := make(map[string]any)
		required := []string{}
		for _, p := range t.Parameters() {
			props[p.Name] = map[string]any{
				"type":        p.Type,
				"description": p.Description,
			}
			if p.Required {
				required = append(required, p.Name)
			}
		}
		out = append(out, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters: map[string]any{
					"type":       "object",
					"properties": props,
					"required":   required,
				},
			},
		})
	}
	return out
}
