package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/uniguide/internal/logging"
	"github.com/fyrsmithlabs/uniguide/internal/profile"
	"github.com/fyrsmithlabs/uniguide/internal/prompt"
	"github.com/fyrsmithlabs/uniguide/internal/reasoning"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ProfileStore is the profile access a run needs.
type ProfileStore interface {
	Snapshot() profile.Profile
	Set(ctx context.Context, key string, value any) error
}

// RunOption configures a single run.
type RunOption func(*runOptions)

type runOptions struct {
	id       string
	progress ProgressCallback
}

// WithRunID sets the run ID instead of a generated one.
func WithRunID(id string) RunOption {
	return func(o *runOptions) { o.id = id }
}

// WithProgress adds a callback for this run only.
func WithProgress(cb ProgressCallback) RunOption {
	return func(o *runOptions) { o.progress = cb }
}

// Run executes every stage against the profile in store.
//
// Stage failures never abort the run; the returned Run reports them. When
// ctx is cancelled the stage in flight finishes, the remaining stages are
// marked SKIPPED and Run returns the run together with ctx.Err().
func (p *Pipeline) Run(ctx context.Context, store ProfileStore, opts ...RunOption) (*Run, error) {
	ro := runOptions{id: uuid.NewString()}
	for _, opt := range opts {
		opt(&ro)
	}

	run := newRun(ro.id, p.stages, p.now())
	ctx = logging.WithRunID(ctx, run.ID)
	ctx, span := p.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run.id", run.ID),
		attribute.Int("pipeline.stages", len(p.stages)),
		attribute.Int("pipeline.parallelism", p.parallelism),
	))
	defer span.End()

	p.logger.Info(ctx, "pipeline run started",
		zap.Int("stages", len(p.stages)),
		zap.Int("waves", len(p.waves)))

	var runErr error
	for wi, wave := range p.waves {
		if err := ctx.Err(); err != nil {
			runErr = err
			p.skipFrom(ctx, run, ro, wi)
			break
		}
		p.runWave(ctx, store, run, ro, wave)
	}

	run.finish(p.now())
	p.metrics.recordRun(ctx, run.Status)
	span.SetAttributes(attribute.String("run.status", string(run.Status)))
	if runErr != nil {
		span.SetStatus(codes.Error, runErr.Error())
	}

	p.logger.Info(ctx, "pipeline run finished",
		zap.String("status", string(run.Status)),
		zap.Strings("unavailable", run.Unavailable()),
		zap.Duration("duration", run.FinishedAt.Sub(run.StartedAt)))
	return run, runErr
}

// runWave renders and runs the stages of one wave against the same view of
// the profile and results, then applies profile writes in stage order.
func (p *Pipeline) runWave(ctx context.Context, store ProfileStore, run *Run, ro runOptions, wave []int) {
	rc := prompt.Context{
		Profile: p.renderProfile(store.Snapshot()),
		Results: run.Results(),
		Reserved: map[string]string{
			prompt.KeyUnavailableStages: run.unavailableText(),
			prompt.KeyRunDate:           run.StartedAt.Format("2006-01-02"),
		},
	}

	if len(wave) == 1 {
		p.runStage(ctx, run, ro, wave[0], rc)
	} else {
		var g errgroup.Group
		g.SetLimit(p.parallelism)
		for _, idx := range wave {
			g.Go(func() error {
				p.runStage(ctx, run, ro, idx, rc)
				return nil
			})
		}
		_ = g.Wait()
	}

	for _, idx := range wave {
		st, o := p.stages[idx], run.Stages[idx]
		if o.Status != StageSucceeded || st.spec.ProfileKey == "" {
			continue
		}
		if err := store.Set(ctx, st.spec.ProfileKey, o.Output); err != nil {
			p.logger.Warn(ctx, "stage output not written to profile",
				zap.String("stage", st.spec.Name),
				zap.String("key", st.spec.ProfileKey),
				zap.Error(err))
		}
	}
}

// renderProfile fills keys that stages may write but that are still unset,
// so templates reading them see the missing-value text.
func (p *Pipeline) renderProfile(snap profile.Profile) profile.Profile {
	fill := func(key string) {
		if _, ok := snap[key]; !ok {
			snap[key] = prompt.Missing
		}
	}
	for _, st := range p.stages {
		if st.spec.ProfileKey != "" {
			fill(st.spec.ProfileKey)
		}
	}
	for key := range p.extraKeys {
		fill(key)
	}
	return snap
}

func (p *Pipeline) runStage(ctx context.Context, run *Run, ro runOptions, idx int, rc prompt.Context) {
	st, o := p.stages[idx], run.Stages[idx]
	name := st.spec.Name

	ctx = logging.WithStage(ctx, name)
	ctx, span := p.tracer.Start(ctx, "pipeline.stage", trace.WithAttributes(
		attribute.String("stage.name", name),
		attribute.String("stage.worker", st.spec.Worker),
	))
	defer span.End()

	p.transition(ctx, run, ro, idx, StageRendering, "rendering instruction")

	instruction, err := st.description.Render(rc)
	var expected string
	if err == nil {
		expected, err = st.expected.Render(rc)
	}
	if err != nil {
		p.fail(ctx, run, ro, idx, err, "render")
		span.SetStatus(codes.Error, err.Error())
		return
	}

	run.mu.Lock()
	o.Instruction = instruction
	o.ExpectedOutput = expected
	run.mu.Unlock()
	p.logger.Trace(ctx, "stage instruction rendered", zap.String("instruction", instruction))

	p.transition(ctx, run, ro, idx, StageRunning, "calling worker "+st.spec.Worker)

	timeout := st.spec.Timeout
	if timeout == 0 {
		timeout = p.timeout
	}
	out, err := p.call(ctx, st, reasoning.Request{
		Worker:         st.worker.Name,
		Role:           st.worker.Role,
		Goal:           st.worker.Goal,
		Backstory:      st.worker.Backstory,
		Instruction:    instruction,
		ExpectedOutput: expected,
		Tools:          st.tools,
	}, timeout)
	if err != nil {
		reason := "capability"
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			reason = "timeout"
		case errors.Is(err, ErrEmptyOutput):
			reason = "empty"
		}
		p.fail(ctx, run, ro, idx, &CapabilityError{Stage: name, Worker: st.spec.Worker, Err: err}, reason)
		span.SetStatus(codes.Error, err.Error())
		return
	}

	run.setResult(name, out)
	run.mu.Lock()
	o.Output = out
	run.mu.Unlock()
	p.transition(ctx, run, ro, idx, StageSucceeded, "stage succeeded")
}

// call invokes the capability with a timeout. The call is detached from
// run cancellation so a stage in flight always reaches a terminal state,
// and it returns at the deadline even if the capability ignores ctx.
func (p *Pipeline) call(ctx context.Context, st *stage, req reasoning.Request, timeout time.Duration) (string, error) {
	callCtx := context.WithoutCancel(ctx)
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, timeout)
		defer cancel()
	}

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := st.worker.Capability.Reason(callCtx, req)
		done <- result{out, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-callCtx.Done():
		res.err = callCtx.Err()
	}

	if res.err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("timed out after %s: %w", timeout, context.DeadlineExceeded)
		}
		return "", res.err
	}
	out := strings.TrimSpace(res.out)
	if out == "" {
		return "", ErrEmptyOutput
	}
	return out, nil
}

func (p *Pipeline) fail(ctx context.Context, run *Run, ro runOptions, idx int, err error, reason string) {
	name := p.stages[idx].spec.Name
	cause := err
	var ce *CapabilityError
	if errors.As(err, &ce) {
		cause = ce.Err
	}
	marker := ErrorMarker(name, cause)

	run.setResult(name, marker)
	run.mu.Lock()
	o := run.Stages[idx]
	o.Output = marker
	o.Err = err
	run.mu.Unlock()

	p.metrics.recordFailure(ctx, name, reason)
	p.logger.Warn(ctx, "stage failed",
		zap.String("reason", reason),
		zap.Error(err))
	p.transition(ctx, run, ro, idx, StageFailed, marker)
}

func (p *Pipeline) skipFrom(ctx context.Context, run *Run, ro runOptions, wave int) {
	for _, w := range p.waves[wave:] {
		for _, idx := range w {
			p.transition(ctx, run, ro, idx, StageSkipped, "run cancelled")
		}
	}
}

// transition moves a stage to status and reports progress.
func (p *Pipeline) transition(ctx context.Context, run *Run, ro runOptions, idx int, status StageStatus, msg string) {
	run.mu.Lock()
	o := run.Stages[idx]
	o.Status = status
	if status == StageRendering {
		o.StartedAt = p.now()
	}
	if status.Terminal() {
		o.FinishedAt = p.now()
	}
	done := 0
	for _, s := range run.Stages {
		if s.Status.Terminal() {
			done++
		}
	}
	duration := o.Duration()
	run.mu.Unlock()

	if status == StageSucceeded || status == StageFailed {
		p.metrics.recordStage(ctx, o.Name, status, duration)
	}
	p.logger.Debug(ctx, "stage transition",
		zap.String("stage", o.Name),
		zap.String("status", string(status)))

	pr := Progress{
		RunID:      run.ID,
		Stage:      o.Name,
		Index:      idx,
		Total:      len(run.Stages),
		Status:     status,
		Percentage: done * 100 / len(run.Stages),
		Message:    msg,
	}
	if p.progress != nil {
		p.progress(pr)
	}
	if ro.progress != nil {
		ro.progress(pr)
	}
}
