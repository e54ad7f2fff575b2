// Package pipeline runs an ordered list of reasoning stages over a student
// profile.
//
// Each stage renders its instruction from the profile and the results of
// earlier stages, then hands it to its worker's capability. A failing stage
// records an error marker as its result and the run carries on, so a final
// stage can still report on whatever succeeded. References to results of
// stages that have not run yet are rejected when the pipeline is built.
package pipeline

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"time"

	"github.com/dominikbraun/graph"
	"github.com/dominikbraun/graph/draw"
	"github.com/fyrsmithlabs/uniguide/internal/logging"
	"github.com/fyrsmithlabs/uniguide/internal/profile"
	"github.com/fyrsmithlabs/uniguide/internal/prompt"
	"github.com/fyrsmithlabs/uniguide/internal/reasoning"
	"github.com/fyrsmithlabs/uniguide/internal/telemetry"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/fyrsmithlabs/uniguide/internal/pipeline"

var stageNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Pipeline is a validated, immutable stage list. It is safe to Run
// concurrently.
type Pipeline struct {
	stages      []*stage
	workers     map[string]*Worker
	dag         graph.Graph[string, string]
	waves       [][]int
	extraKeys   map[string]bool
	parallelism int
	timeout     time.Duration
	progress    ProgressCallback
	now         func() time.Time
	logger      *logging.Logger
	tracer      trace.Tracer
	metrics     *metrics
}

type stage struct {
	spec        StageSpec
	worker      *Worker
	description *prompt.Template
	expected    *prompt.Template
	tools       []reasoning.Tool
	reads       map[string]bool
}

// Option configures Build.
type Option func(*Pipeline)

// WithParallelism lets up to n independent stages run at once. Values
// below two keep execution strictly sequential.
func WithParallelism(n int) Option {
	return func(p *Pipeline) {
		if n < 1 {
			n = 1
		}
		p.parallelism = n
	}
}

// WithStageTimeout bounds each capability call unless the stage sets its own.
func WithStageTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.timeout = d }
}

// WithProfileKeys allows placeholders for profile keys outside the schema.
func WithProfileKeys(keys ...string) Option {
	return func(p *Pipeline) {
		for _, k := range keys {
			p.extraKeys[k] = true
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithTelemetry sets the tracer and meter source.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(p *Pipeline) {
		p.tracer = t.Tracer(instrumentationName)
		p.metrics = newMetrics(t.Meter(instrumentationName), p.logger)
	}
}

// WithClock overrides time.Now, used for {run_date} and timings.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// Build validates workers and stages and returns a pipeline. Every
// problem found is reported, joined into one error.
func Build(workers []Worker, specs []StageSpec, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		workers:     make(map[string]*Worker, len(workers)),
		extraKeys:   make(map[string]bool),
		parallelism: 1,
		now:         time.Now,
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.tracer == nil {
		WithTelemetry(nil)(p)
	}

	var errs []error
	if len(specs) == 0 {
		errs = append(errs, invalid("no stages"))
	}

	for i := range workers {
		w := workers[i]
		switch {
		case w.Name == "":
			errs = append(errs, invalid("worker %d has no name", i))
			continue
		case w.Capability == nil:
			errs = append(errs, invalid("worker %s has no capability", w.Name))
		}
		if _, dup := p.workers[w.Name]; dup {
			errs = append(errs, invalid("duplicate worker %s", w.Name))
			continue
		}
		p.workers[w.Name] = &w
	}

	seen := make(map[string]int)
	for i, spec := range specs {
		st, stageErrs := p.compileStage(i, spec, specs, seen)
		errs = append(errs, stageErrs...)
		if st != nil {
			seen[spec.Name] = i
			p.stages = append(p.stages, st)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if err := p.buildGraph(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pipeline) compileStage(i int, spec StageSpec, specs []StageSpec, seen map[string]int) (*stage, []error) {
	var errs []error
	if !stageNamePattern.MatchString(spec.Name) {
		return nil, []error{invalid("stage %d: name %q must match %s", i, spec.Name, stageNamePattern)}
	}
	if _, dup := seen[spec.Name]; dup {
		return nil, []error{invalid("duplicate stage %s", spec.Name)}
	}
	if spec.Timeout < 0 {
		errs = append(errs, invalid("stage %s: negative timeout", spec.Name))
	}

	worker, ok := p.workers[spec.Worker]
	if !ok {
		errs = append(errs, invalid("stage %s: unknown worker %q", spec.Name, spec.Worker))
	}

	desc, err := prompt.Parse(spec.Name+".description", spec.Description)
	if err != nil {
		errs = append(errs, err)
	}
	expected, err := prompt.Parse(spec.Name+".expected_output", spec.ExpectedOutput)
	if err != nil {
		errs = append(errs, err)
	}
	if desc == nil || expected == nil || worker == nil {
		return nil, errs
	}

	st := &stage{
		spec:        spec,
		worker:      worker,
		description: desc,
		expected:    expected,
		reads:       make(map[string]bool),
	}
	for _, tpl := range []*prompt.Template{desc, expected} {
		for _, name := range tpl.Placeholders() {
			st.reads[name] = true
			if err := p.checkPlaceholder(tpl.Name(), name, i, specs, seen); err != nil {
				errs = append(errs, err)
			}
		}
	}

	st.tools = append(st.tools, spec.Tools...)
	if worker.AllowDelegation {
		st.tools = append(st.tools, newDelegateTool(worker, p.workers))
	}
	return st, errs
}

// checkPlaceholder accepts a result key of an earlier stage, a reserved
// name, a schema key, a key written by an earlier stage or an allowed
// extra key.
func (p *Pipeline) checkPlaceholder(template, name string, index int, specs []StageSpec, seen map[string]int) error {
	if target, ok := prompt.StageOf(name); ok {
		if _, earlier := seen[target]; earlier {
			return nil
		}
		for j := index; j < len(specs); j++ {
			if specs[j].Name == target {
				return &prompt.RenderError{Template: template, Placeholder: name, Err: prompt.ErrForwardReference}
			}
		}
		return &prompt.RenderError{
			Template:    template,
			Placeholder: name,
			Err:         fmt.Errorf("%w: no stage named %s", prompt.ErrUnresolvedPlaceholder, target),
		}
	}
	if prompt.IsReserved(name) || p.extraKeys[name] {
		return nil
	}
	if _, ok := profile.Lookup(name); ok {
		return nil
	}
	for j := 0; j < index; j++ {
		if specs[j].ProfileKey == name {
			return nil
		}
	}
	return &prompt.RenderError{Template: template, Placeholder: name, Err: prompt.ErrUnresolvedPlaceholder}
}

// buildGraph records stage dependencies and groups stages into waves.
// Stage j precedes stage i when i reads j's result, when their profile
// reads and writes overlap, or when i lists unavailable stages.
func (p *Pipeline) buildGraph() error {
	g := graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles())
	for _, st := range p.stages {
		if err := g.AddVertex(st.spec.Name); err != nil {
			return fmt.Errorf("adding stage %s: %w", st.spec.Name, err)
		}
	}

	for i, st := range p.stages {
		for j := 0; j < i; j++ {
			if dependsOn(st, p.stages[j]) {
				if err := g.AddEdge(p.stages[j].spec.Name, st.spec.Name); err != nil && !errors.Is(err, graph.ErrEdgeAlreadyExists) {
					return fmt.Errorf("linking %s to %s: %w", p.stages[j].spec.Name, st.spec.Name, err)
				}
			}
		}
	}
	p.dag = g

	preds, err := g.PredecessorMap()
	if err != nil {
		return fmt.Errorf("reading stage dependencies: %w", err)
	}

	index := make(map[string]int, len(p.stages))
	for i, st := range p.stages {
		index[st.spec.Name] = i
	}
	depth := make([]int, len(p.stages))
	maxDepth := 0
	for i, st := range p.stages {
		for pred := range preds[st.spec.Name] {
			if d := depth[index[pred]] + 1; d > depth[i] {
				depth[i] = d
			}
		}
		if depth[i] > maxDepth {
			maxDepth = depth[i]
		}
	}

	if p.parallelism <= 1 {
		p.waves = make([][]int, len(p.stages))
		for i := range p.stages {
			p.waves[i] = []int{i}
		}
		return nil
	}
	p.waves = make([][]int, maxDepth+1)
	for i := range p.stages {
		p.waves[depth[i]] = append(p.waves[depth[i]], i)
	}
	return nil
}

func dependsOn(later, earlier *stage) bool {
	if later.reads[prompt.ResultKey(earlier.spec.Name)] || later.reads[prompt.KeyUnavailableStages] {
		return true
	}
	if k := earlier.spec.ProfileKey; k != "" && (later.reads[k] || later.spec.ProfileKey == k) {
		return true
	}
	if k := later.spec.ProfileKey; k != "" && earlier.reads[k] {
		return true
	}
	return false
}

// Stages returns the stage specs in execution order.
func (p *Pipeline) Stages() []StageSpec {
	out := make([]StageSpec, len(p.stages))
	for i, st := range p.stages {
		out[i] = st.spec
	}
	return out
}

// Worker returns the named worker.
func (p *Pipeline) Worker(name string) (*Worker, bool) {
	w, ok := p.workers[name]
	return w, ok
}

// Dependencies returns, for each stage, the earlier stages it depends on.
func (p *Pipeline) Dependencies() (map[string][]string, error) {
	preds, err := p.dag.PredecessorMap()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(preds))
	for name, in := range preds {
		deps := make([]string, 0, len(in))
		for src := range in {
			deps = append(deps, src)
		}
		sort.Strings(deps)
		out[name] = deps
	}
	return out, nil
}

// Waves returns the groups of stages that run together, in order.
func (p *Pipeline) Waves() [][]string {
	out := make([][]string, len(p.waves))
	for i, wave := range p.waves {
		for _, idx := range wave {
			out[i] = append(out[i], p.stages[idx].spec.Name)
		}
	}
	return out
}

// WriteDOT writes the dependency graph in Graphviz DOT format.
func (p *Pipeline) WriteDOT(w io.Writer) error {
	return draw.DOT(p.dag, w, draw.GraphAttribute("rankdir", "LR"))
}

// OnProgress sets a callback invoked on every stage transition of every run.
func (p *Pipeline) OnProgress(cb ProgressCallback) {
	p.progress = cb
}
