// Package reasoning defines the opaque capability a pipeline stage calls to
// turn a rendered instruction into text, along with its backends.
//
// A Capability receives the worker persona, the rendered instruction, the
// expected output description and the stage's tools. Backends that support
// function calling run a bounded tool loop; everything else about how the
// text is produced is the backend's business.
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyResponse is returned when a backend produces no text.
	ErrEmptyResponse = errors.New("empty response from reasoning backend")

	// ErrToolLoop is returned when the backend keeps calling tools past the turn limit.
	ErrToolLoop = errors.New("tool call limit exceeded")

	// ErrInvalidConfig is returned for unusable provider settings.
	ErrInvalidConfig = errors.New("invalid reasoning configuration")
)

// Request is one reasoning call.
type Request struct {
	Worker         string
	Role           string
	Goal           string
	Backstory      string
	Instruction    string
	ExpectedOutput string
	Tools          []Tool
}

// Capability produces text for a request.
type Capability interface {
	Reason(ctx context.Context, req Request) (string, error)
}

// CapabilityFunc adapts a function to Capability.
type CapabilityFunc func(ctx context.Context, req Request) (string, error)

func (f CapabilityFunc) Reason(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Parameter describes one named tool argument.
type Parameter struct {
	Name        string
	Type        string // "string", "integer", "number" or "boolean"
	Description string
	Required    bool
}

// Tool is a function the backend may call while reasoning.
type Tool interface {
	Name() string
	Description() string
	Parameters() []Parameter
	Call(ctx context.Context, args map[string]any) (string, error)
}

// ToolNames lists tool names in order.
func ToolNames(tools []Tool) []string {
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name()
	}
	return names
}

// findTool returns the tool named name.
func findTool(tools []Tool, name string) (Tool, bool) {
	for _, t := range tools {
		if t.Name() == name {
			return t, true
		}
	}
	return nil, false
}

// invokeTool runs a tool call and converts failures into text the model
// can read, so one bad call does not end the conversation.
func invokeTool(ctx context.Context, tools []Tool, name string, args map[string]any) string {
	tool, ok := findTool(tools, name)
	if !ok {
		return fmt.Sprintf("error: unknown tool %q", name)
	}
	out, err := tool.Call(ctx, args)
	if err != nil {
		return "error: " + err.Error()
	}
	return out
}

// SystemPrompt renders the worker persona.
func SystemPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s.\n", req.Role)
	if req.Goal != "" {
		fmt.Fprintf(&b, "Your goal: %s\n", req.Goal)
	}
	if req.Backstory != "" {
		fmt.Fprintf(&b, "Background: %s\n", req.Backstory)
	}
	if len(req.Tools) > 0 {
		fmt.Fprintf(&b, "You may call these tools: %s.\n", strings.Join(ToolNames(req.Tools), ", "))
	}
	b.WriteString("Answer from the information you have; say plainly when something is unavailable.")
	return b.String()
}

// UserPrompt renders the task and the expected output.
func UserPrompt(req Request) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(req.Instruction))
	if exp := strings.TrimSpace(req.ExpectedOutput); exp != "" {
		b.WriteString("\n\nExpected output:\n")
		b.WriteString(exp)
	}
	return b.String()
}
