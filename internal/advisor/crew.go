package advisor

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fyrsmithlabs/uniguide/internal/pipeline"
	"github.com/fyrsmithlabs/uniguide/internal/reasoning"
	"gopkg.in/yaml.v3"
)

//go:embed crew.yaml
var defaultCrew []byte

// Tool names a crew may reference.
const (
	ToolWebSearch     = "web_search"
	ToolReadFile      = "read_file"
	ToolReadDirectory = "read_directory"
	ToolCatalogSearch = "catalog_search"
	ToolFetchPage     = "fetch_page"
)

var knownTools = map[string]bool{
	ToolWebSearch:     true,
	ToolReadFile:      true,
	ToolReadDirectory: true,
	ToolCatalogSearch: true,
	ToolFetchPage:     true,
}

// ErrInvalidCrew is returned for a crew definition that cannot be used.
var ErrInvalidCrew = errors.New("invalid crew definition")

// Crew is the worker and stage configuration of a pipeline.
type Crew struct {
	Workers []WorkerDef `yaml:"workers"`
	Stages  []StageDef  `yaml:"stages"`
}

// WorkerDef declares a worker persona.
type WorkerDef struct {
	Name            string `yaml:"name"`
	Role            string `yaml:"role"`
	Goal            string `yaml:"goal"`
	Backstory       string `yaml:"backstory"`
	AllowDelegation bool   `yaml:"allow_delegation"`
}

// StageDef declares a stage.
type StageDef struct {
	Name           string   `yaml:"name"`
	Worker         string   `yaml:"worker"`
	Description    string   `yaml:"description"`
	ExpectedOutput string   `yaml:"expected_output"`
	Tools          []string `yaml:"tools"`
	ProfileKey     string   `yaml:"profile_key"`
	Timeout        string   `yaml:"timeout"`
}

// DefaultCrew returns the built-in crew.
func DefaultCrew() (*Crew, error) {
	return ParseCrew(defaultCrew)
}

// LoadCrew reads a crew file, or the built-in crew when path is empty.
func LoadCrew(path string) (*Crew, error) {
	if path == "" {
		return DefaultCrew()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading crew file: %w", err)
	}
	c, err := ParseCrew(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// ParseCrew decodes a crew definition. Unknown fields and unknown tool
// names are rejected; template checks happen when the pipeline is built.
func ParseCrew(data []byte) (*Crew, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var c Crew
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCrew, err)
	}
	var errs []error
	for _, s := range c.Stages {
		for _, t := range s.Tools {
			if !knownTools[t] {
				errs = append(errs, fmt.Errorf("%w: stage %s: unknown tool %q", ErrInvalidCrew, s.Name, t))
			}
		}
		if s.Timeout != "" {
			if d, err := time.ParseDuration(s.Timeout); err != nil || d <= 0 {
				errs = append(errs, fmt.Errorf("%w: stage %s: bad timeout %q", ErrInvalidCrew, s.Name, s.Timeout))
			}
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return &c, nil
}

// StageNames lists the stages in order.
func (c *Crew) StageNames() []string {
	names := make([]string, len(c.Stages))
	for i, s := range c.Stages {
		names[i] = s.Name
	}
	return names
}

// Build turns the crew into a pipeline. Every worker reasons with capability.
// Stage tools missing from tools are left out, so a crew still runs when
// an optional tool such as web search is disabled.
func (c *Crew) Build(capability reasoning.Capability, tools map[string]reasoning.Tool, opts ...pipeline.Option) (*pipeline.Pipeline, error) {
	workers := make([]pipeline.Worker, len(c.Workers))
	for i, w := range c.Workers {
		workers[i] = pipeline.Worker{
			Name:            w.Name,
			Role:            w.Role,
			Goal:            w.Goal,
			Backstory:       w.Backstory,
			AllowDelegation: w.AllowDelegation,
			Capability:      capability,
		}
	}

	specs := make([]pipeline.StageSpec, len(c.Stages))
	for i, s := range c.Stages {
		spec := pipeline.StageSpec{
			Name:           s.Name,
			Worker:         s.Worker,
			Description:    s.Description,
			ExpectedOutput: s.ExpectedOutput,
			ProfileKey:     s.ProfileKey,
		}
		if s.Timeout != "" {
			d, err := time.ParseDuration(s.Timeout)
			if err != nil {
				return nil, fmt.Errorf("%w: stage %s: %v", ErrInvalidCrew, s.Name, err)
			}
			spec.Timeout = d
		}
		for _, name := range s.Tools {
			if t, ok := tools[name]; ok && t != nil {
				spec.Tools = append(spec.Tools, t)
			}
		}
		specs[i] = spec
	}
	return pipeline.Build(workers, specs, opts...)
}
