// Package tools implements the functions reasoning workers may call while
// working on a stage: web search, file and directory reads, catalog
// similarity search and page fetching.
package tools

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrMissingArgument is returned when a required argument is absent.
var ErrMissingArgument = errors.New("missing argument")

func stringArg(args map[string]any, name string) (string, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return "", fmt.Errorf("%w: %s", ErrMissingArgument, name)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %s must be a string, got %T", name, v)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingArgument, name)
	}
	return s, nil
}

// intArg reads an optional integer. JSON numbers arrive as float64.
func intArg(args map[string]any, name string, def int) (int, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("argument %s must be an integer, got %v", name, n)
		}
		return int(n), nil
	case float32:
		return intArg(map[string]any{name: float64(n)}, name, def)
	default:
		return 0, fmt.Errorf("argument %s must be an integer, got %T", name, v)
	}
}

func boolArg(args map[string]any, name string) bool {
	b, _ := args[name].(bool)
	return b
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
