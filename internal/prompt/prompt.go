// Package prompt renders stage instructions from the student profile and
// earlier stage outputs.
//
// Templates use {name} placeholders. A name resolves, in order, to an
// earlier stage output ({rank_result}), a reserved value such as
// {unavailable_stages}, a profile value, or "N/A" for a known profile field
// that has not been filled in. Anything else is a RenderError.
package prompt

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/uniguide/internal/profile"
	"github.com/valyala/fasttemplate"
)

const (
	startTag = "{"
	endTag   = "}"

	// Missing is rendered for a known profile field with no value.
	Missing = "N/A"

	resultSuffix = "_result"
)

// Reserved placeholders filled by the pipeline rather than the profile.
const (
	KeyUnavailableStages = "unavailable_stages"
	KeyRunDate           = "run_date"
)

var (
	// ErrRender matches every RenderError.
	ErrRender = errors.New("render failed")

	ErrMalformedTemplate     = errors.New("malformed template")
	ErrUnresolvedPlaceholder = errors.New("unresolved placeholder")
	ErrForwardReference      = errors.New("reference to a stage that has not run before this one")
)

var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// RenderError reports a template that cannot be fully expanded.
type RenderError struct {
	Template    string
	Placeholder string
	Err         error
}

func (e *RenderError) Error() string {
	if e.Placeholder == "" {
		return fmt.Sprintf("template %s: %v", e.Template, e.Err)
	}
	return fmt.Sprintf("template %s: {%s}: %v", e.Template, e.Placeholder, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

func (e *RenderError) Is(target error) bool { return target == ErrRender }

// ResultKey returns the placeholder name for a stage's output.
func ResultKey(stage string) string {
	return stage + resultSuffix
}

// StageOf returns the stage named by a result placeholder.
func StageOf(placeholder string) (string, bool) {
	if !strings.HasSuffix(placeholder, resultSuffix) || placeholder == resultSuffix {
		return "", false
	}
	return strings.TrimSuffix(placeholder, resultSuffix), true
}

// IsReserved reports whether name is filled by the pipeline.
func IsReserved(name string) bool {
	return name == KeyUnavailableStages || name == KeyRunDate
}

// Context supplies values for rendering.
type Context struct {
	Profile  profile.Profile
	Results  map[string]string // stage name to output or error marker
	Reserved map[string]string
}

// Template is a parsed template.
type Template struct {
	name         string
	tpl          *fasttemplate.Template
	placeholders []string
}

// Parse parses text and checks every placeholder is a well-formed name.
func Parse(name, text string) (*Template, error) {
	tpl, err := fasttemplate.NewTemplate(text, startTag, endTag)
	if err != nil {
		return nil, &RenderError{Template: name, Err: fmt.Errorf("%w: %v", ErrMalformedTemplate, err)}
	}

	var (
		names []string
		seen  = make(map[string]bool)
		bad   string
	)
	tpl.ExecuteFuncString(func(w io.Writer, tag string) (int, error) {
		if !namePattern.MatchString(tag) {
			if bad == "" {
				bad = tag
			}
			return 0, nil
		}
		if !seen[tag] {
			seen[tag] = true
			names = append(names, tag)
		}
		return 0, nil
	})
	if bad != "" {
		return nil, &RenderError{Template: name, Placeholder: bad, Err: ErrMalformedTemplate}
	}

	return &Template{name: name, tpl: tpl, placeholders: names}, nil
}

// Name returns the template name.
func (t *Template) Name() string { return t.name }

// Placeholders returns the distinct placeholder names in first-use order.
func (t *Template) Placeholders() []string {
	out := make([]string, len(t.placeholders))
	copy(out, t.placeholders)
	return out
}

// Render expands every placeholder. It is deterministic for a given Context.
func (t *Template) Render(c Context) (string, error) {
	return t.tpl.ExecuteFuncStringWithErr(func(w io.Writer, tag string) (int, error) {
		v, err := resolve(tag, c)
		if err != nil {
			return 0, &RenderError{Template: t.name, Placeholder: tag, Err: err}
		}
		return io.WriteString(w, v)
	})
}

// Render parses and renders text in one step.
func Render(name, text string, c Context) (string, error) {
	t, err := Parse(name, text)
	if err != nil {
		return "", err
	}
	return t.Render(c)
}

func resolve(name string, c Context) (string, error) {
	if stage, ok := StageOf(name); ok {
		if v, ok := c.Results[stage]; ok {
			return v, nil
		}
		if _, known := profile.Lookup(name); !known {
			return "", ErrForwardReference
		}
	}
	if v, ok := c.Reserved[name]; ok {
		return v, nil
	}
	if IsReserved(name) {
		return Missing, nil
	}
	if v, ok := c.Profile[name]; ok {
		return FormatValue(v), nil
	}
	if _, ok := profile.Lookup(name); ok {
		return Missing, nil
	}
	return "", ErrUnresolvedPlaceholder
}

// FormatValue renders a profile value as prompt text.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return Missing
	case string:
		if strings.TrimSpace(x) == "" {
			return Missing
		}
		return x
	case float64:
		return profile.FormatNumber(x)
	case []string:
		if len(x) == 0 {
			return Missing
		}
		return strings.Join(x, ", ")
	case bool:
		if x {
			return "yes"
		}
		return "no"
	default:
		return fmt.Sprint(x)
	}
}
