package pipeline

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/uniguide/internal/reasoning"
)

// StageStatus is the state of one stage within a run.
type StageStatus string

const (
	StagePending   StageStatus = "PENDING"
	StageRendering StageStatus = "RENDERING"
	StageRunning   StageStatus = "RUNNING"
	StageSucceeded StageStatus = "SUCCEEDED"
	StageFailed    StageStatus = "FAILED"
	StageSkipped   StageStatus = "SKIPPED"
)

// Terminal reports whether no further transition can happen.
func (s StageStatus) Terminal() bool {
	return s == StageSucceeded || s == StageFailed || s == StageSkipped
}

// RunStatus is the overall state of a run.
type RunStatus string

const (
	RunRunning             RunStatus = "RUNNING"
	RunCompleted           RunStatus = "COMPLETED"
	RunCompletedWithErrors RunStatus = "COMPLETED_WITH_ERRORS"
)

// StageSpec declares one unit of pipeline work.
type StageSpec struct {
	Name           string
	Worker         string
	Description    string // instruction template
	ExpectedOutput string // expected-output template
	Tools          []reasoning.Tool

	// ProfileKey, when set, receives the stage output on success.
	ProfileKey string

	// Timeout overrides the pipeline's stage timeout.
	Timeout time.Duration
}

// Worker is a named reasoning identity bound to a capability.
type Worker struct {
	Name            string
	Role            string
	Goal            string
	Backstory       string
	AllowDelegation bool
	Capability      reasoning.Capability
}

// StageOutcome records what happened to one stage in a run.
type StageOutcome struct {
	Name   string      `json:"name"`
	Worker string      `json:"worker"`
	Status StageStatus `json:"status"`

	// Instruction and ExpectedOutput are fixed once rendering succeeds.
	Instruction    string `json:"instruction,omitempty"`
	ExpectedOutput string `json:"expected_output,omitempty"`

	// Output is the trimmed capability output or the error marker.
	Output string `json:"output,omitempty"`
	Err    error  `json:"-"`

	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Duration returns how long the stage took.
func (o *StageOutcome) Duration() time.Duration {
	if o.StartedAt.IsZero() || o.FinishedAt.IsZero() {
		return 0
	}
	return o.FinishedAt.Sub(o.StartedAt)
}

// Run is one execution of a pipeline.
type Run struct {
	ID         string          `json:"id"`
	Status     RunStatus       `json:"status"`
	Stages     []*StageOutcome `json:"stages"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at,omitempty"`

	mu      sync.Mutex
	results map[string]string
}

func newRun(id string, stages []*stage, now time.Time) *Run {
	r := &Run{
		ID:        id,
		Status:    RunRunning,
		Stages:    make([]*StageOutcome, len(stages)),
		StartedAt: now,
		results:   make(map[string]string, len(stages)),
	}
	for i, st := range stages {
		r.Stages[i] = &StageOutcome{
			Name:   st.spec.Name,
			Worker: st.spec.Worker,
			Status: StagePending,
		}
	}
	return r
}

// Results returns a copy of the result map, stage name to output or error marker.
func (r *Run) Results() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.results))
	for k, v := range r.results {
		out[k] = v
	}
	return out
}

// Result returns the output recorded for stage.
func (r *Run) Result(stage string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.results[stage]
	return v, ok
}

// ResultKeys returns the stage names that have a result, sorted.
func (r *Run) ResultKeys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.results))
	for k := range r.results {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Stage returns the outcome for a stage name, or nil.
func (r *Run) Stage(name string) *StageOutcome {
	for _, o := range r.Stages {
		if o.Name == name {
			return o
		}
	}
	return nil
}

// Unavailable lists failed and skipped stages in pipeline order.
func (r *Run) Unavailable() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unavailableLocked()
}

func (r *Run) unavailableLocked() []string {
	var names []string
	for _, o := range r.Stages {
		if o.Status == StageFailed || o.Status == StageSkipped {
			names = append(names, o.Name)
		}
	}
	return names
}

// setResult appends a stage result. Keys are written at most once.
func (r *Run) setResult(stage, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.results[stage]; exists {
		return
	}
	r.results[stage] = value
}

// finish computes the final status.
func (r *Run) finish(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FinishedAt = now
	r.Status = RunCompleted
	for _, o := range r.Stages {
		if o.Status != StageSucceeded {
			r.Status = RunCompletedWithErrors
			return
		}
	}
}

// unavailableText renders the reserved {unavailable_stages} value.
func (r *Run) unavailableText() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := r.unavailableLocked()
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}

// Progress reports a stage transition.
type Progress struct {
	RunID      string      `json:"run_id"`
	Stage      string      `json:"stage"`
	Index      int         `json:"index"`
	Total      int         `json:"total"`
	Status     StageStatus `json:"status"`
	Percentage int         `json:"percentage"`
	Message    string      `json:"message"`
}

// ProgressCallback receives stage transitions. It may be called from
// several goroutines when parallelism is above one.
type ProgressCallback func(Progress)
