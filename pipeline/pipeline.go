package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/dcshock/reqpipe/pipeline"

// ErrCycle is wrapped by build errors for nested stages that would make a
// pipeline (transitively) contain itself.
var ErrCycle = errors.New("pipeline nests itself")

// Pipeline runs an ordered list of stages against one adapter. Each stage's
// output is the previous output seen by the next stage. Build it with Begin or
// New and the chaining methods, then call Execute or ExecuteAll.
//
// Stages are validated as they are appended; the first invalid stage is kept as
// the build error (see Err) and makes every execution fail before any stage runs.
// Run state lives in the execution, not in the stages, so a built pipeline may be
// executed again. The builder methods are not safe for concurrent use.
type Pipeline struct {
	name     string
	adapter  Adapter
	stages   []Stage
	err      error
	logger   *slog.Logger
	observer Observer

	onError  func(ctx context.Context, err error)
	onResult func(ctx context.Context, result interface{})
	onFinish func(ctx context.Context)
}

// New returns an empty pipeline bound to adapter. adapter may be nil for a
// pipeline made only of nested stages.
func New(adapter Adapter) *Pipeline {
	return &Pipeline{adapter: adapter}
}

// Begin returns a new pipeline bound to adapter with initial as its first stage.
func Begin(initial Stage, adapter Adapter) *Pipeline {
	return New(adapter).Next(initial)
}

// Next appends stage and returns p for chaining.
func (p *Pipeline) Next(stage Stage) *Pipeline {
	p.append(stage)
	return p
}

// AddAll appends stages in order and returns p.
func (p *Pipeline) AddAll(stages ...Stage) *Pipeline {
	for _, s := range stages {
		p.append(s)
	}
	return p
}

func (p *Pipeline) append(s Stage) {
	index := len(p.stages)
	kind, err := Classify(s)
	if err == nil && kind == KindNested && s.Request.contains(p) {
		// Never stored, so the stage tree stays acyclic.
		if p.err == nil {
			p.err = stageErr(index, s, PhaseClassify, ErrCycle)
		}
		return
	}
	p.stages = append(p.stages, s)
	if p.err != nil {
		return
	}
	switch {
	case err != nil:
		p.err = stageErr(index, s, PhaseClassify, err)
	case kind == KindLeaf && p.adapter == nil:
		p.err = stageErr(index, s, PhaseClassify, ErrNoAdapter)
	case kind == KindNested && s.Request.Err() != nil:
		p.err = stageErr(index, s, PhaseClassify, fmt.Errorf("nested pipeline %q: %w", s.Request.Name(), s.Request.Err()))
	}
}

// contains reports whether target is p or is nested anywhere below p.
func (p *Pipeline) contains(target *Pipeline) bool {
	return p.reaches(target, make(map[*Pipeline]bool))
}

func (p *Pipeline) reaches(target *Pipeline, seen map[*Pipeline]bool) bool {
	if p == target {
		return true
	}
	if seen[p] {
		return false
	}
	seen[p] = true
	for _, s := range p.stages {
		if s.Request != nil && s.Request.reaches(target, seen) {
			return true
		}
	}
	return false
}

// WithName names the pipeline for logs, traces and observers.
func (p *Pipeline) WithName(name string) *Pipeline {
	p.name = name
	return p
}

// WithLogger sets the logger. Without one, slog.Default() is used.
func (p *Pipeline) WithLogger(logger *slog.Logger) *Pipeline {
	p.logger = logger
	return p
}

// WithObserver attaches stage hooks. Use MultiObserver to attach several.
func (p *Pipeline) WithObserver(obs Observer) *Pipeline {
	p.observer = obs
	return p
}

// WithErrorHandler registers fn to observe a failed run. It is called once with the
// error before Execute/ExecuteAll return it; it cannot recover the run. A later
// registration replaces an earlier one.
func (p *Pipeline) WithErrorHandler(fn func(ctx context.Context, err error)) *Pipeline {
	p.onError = fn
	return p
}

// WithResultHandler registers fn to receive the value Execute (last output) or
// ExecuteAll (all outputs as []interface{}) is about to return on success.
func (p *Pipeline) WithResultHandler(fn func(ctx context.Context, result interface{})) *Pipeline {
	p.onResult = fn
	return p
}

// WithFinishHandler registers fn to run exactly once at the end of every
// Execute/ExecuteAll call, whatever the outcome.
func (p *Pipeline) WithFinishHandler(fn func(ctx context.Context)) *Pipeline {
	p.onFinish = fn
	return p
}

// Name returns the pipeline name.
func (p *Pipeline) Name() string { return p.name }

// Len returns the number of stages.
func (p *Pipeline) Len() int { return len(p.stages) }

// Stages returns a copy of the stage list.
func (p *Pipeline) Stages() []Stage {
	out := make([]Stage, len(p.stages))
	copy(out, p.stages)
	return out
}

// Err returns the build error recorded for the first invalid stage, if any.
func (p *Pipeline) Err() error { return p.err }

// Execute runs every stage in order and returns the last stage's output (nil for
// an empty pipeline). The first failure aborts the run and is returned.
func (p *Pipeline) Execute(ctx context.Context) (interface{}, error) {
	defer p.finish(ctx)
	results, err := p.run(ctx)
	if err != nil {
		p.fail(ctx, err)
		return nil, err
	}
	out := last(results)
	if p.onResult != nil {
		p.onResult(ctx, out)
	}
	return out, nil
}

// ExecuteAll runs every stage in order and returns all outputs, one per stage.
// Failures are handled exactly as in Execute.
func (p *Pipeline) ExecuteAll(ctx context.Context) ([]interface{}, error) {
	defer p.finish(ctx)
	results, err := p.run(ctx)
	if err != nil {
		p.fail(ctx, err)
		return nil, err
	}
	if p.onResult != nil {
		p.onResult(ctx, results)
	}
	return results, nil
}

// ExecuteAs runs p and asserts the final output to T. A nil output yields T's
// zero value.
func ExecuteAs[T any](ctx context.Context, p *Pipeline) (T, error) {
	var zero T
	out, err := p.Execute(ctx)
	if err != nil {
		return zero, err
	}
	if out == nil {
		return zero, nil
	}
	v, ok := out.(T)
	if !ok {
		return zero, fmt.Errorf("execute: expected %T, got %T", zero, out)
	}
	return v, nil
}

func (p *Pipeline) fail(ctx context.Context, err error) {
	if p.onError != nil {
		p.onError(ctx, err)
	}
}

func (p *Pipeline) finish(ctx context.Context) {
	if p.onFinish != nil {
		p.onFinish(ctx)
	}
}

func (p *Pipeline) log() *slog.Logger {
	if p.logger != nil {
		return p.logger
	}
	return slog.Default()
}

// run executes the stages with a fresh run id, wrapping them in the pipeline
// span and observer hooks.
func (p *Pipeline) run(ctx context.Context) (results []interface{}, err error) {
	runID := uuid.New().String()
	ctx = context.WithValue(ctx, runIDKey{}, runID)
	ctx, span := otel.Tracer(tracerName).Start(ctx, "pipeline.execute", trace.WithAttributes(
		attribute.String("pipeline.name", p.name),
		attribute.String("pipeline.run_id", runID),
		attribute.Int("pipeline.stages", len(p.stages)),
	))
	log := p.log().With(slog.String("pipeline", p.name), slog.String("run_id", runID))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.Error("pipeline failed", slog.String("error", err.Error()))
		} else {
			log.Debug("pipeline finished", slog.Int("stages", len(results)))
		}
		span.End()
	}()

	if p.err != nil {
		return nil, p.err
	}
	if p.observer != nil {
		if err := p.observer.BeforePipeline(ctx, runID, p.name); err != nil {
			return nil, fmt.Errorf("before pipeline: %w", err)
		}
	}
	results, err = p.runStages(ctx, runID, log)
	if p.observer != nil {
		if postErr := p.observer.AfterPipeline(ctx, runID, last(results), err); postErr != nil && err == nil {
			err = fmt.Errorf("after pipeline: %w", postErr)
		}
	}
	return results, err
}

// runStages folds the stage list: each stage receives the previous stage's
// output and its own output is appended to the results.
func (p *Pipeline) runStages(ctx context.Context, runID string, log *slog.Logger) ([]interface{}, error) {
	results := make([]interface{}, 0, len(p.stages))
	var previous interface{}
	for i, s := range p.stages {
		out, err := p.runStage(ctx, runID, i, s, previous, log)
		if err != nil {
			return results, err
		}
		results = append(results, out)
		previous = out
	}
	return results, nil
}

func (p *Pipeline) runStage(ctx context.Context, runID string, i int, s Stage, previous interface{}, log *slog.Logger) (out interface{}, err error) {
	kind, err := Classify(s)
	if err != nil {
		return nil, stageErr(i, s, PhaseClassify, err)
	}
	info := StageInfo{Index: i, Name: s.Name, Kind: kind}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "pipeline.stage", trace.WithAttributes(
		attribute.Int("stage.index", i),
		attribute.String("stage.name", s.Name),
		attribute.String("stage.kind", kind.String()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if p.observer != nil {
		if err := p.observer.BeforeStage(ctx, runID, info, previous); err != nil {
			return nil, stageErr(i, s, PhaseObserver, fmt.Errorf("before stage: %w", err))
		}
	}
	start := time.Now()
	out, info, err = p.invoke(ctx, i, s, info, previous)
	duration := time.Since(start)
	if p.observer != nil {
		if postErr := p.observer.AfterStage(ctx, runID, info, out, err, duration); postErr != nil && err == nil {
			err = stageErr(i, s, PhaseObserver, fmt.Errorf("after stage: %w", postErr))
		}
	}
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Bool("stage.skipped", info.Skipped))
	log.Debug("stage finished",
		slog.Int("stage", i),
		slog.String("name", s.label(i)),
		slog.String("kind", kind.String()),
		slog.Bool("skipped", info.Skipped),
		slog.Duration("duration", duration),
	)
	return out, nil
}

// invoke performs one stage: precondition, operation, result view, mapper.
func (p *Pipeline) invoke(ctx context.Context, i int, s Stage, info StageInfo, previous interface{}) (interface{}, StageInfo, error) {
	if s.Precondition != nil {
		ok, err := s.Precondition(ctx, previous)
		if err != nil {
			return nil, info, stageErr(i, s, PhasePrecondition, err)
		}
		if !ok {
			info.Skipped = true
			return previous, info, nil
		}
	}

	var raw interface{}
	switch info.Kind {
	case KindLeaf:
		if p.adapter == nil {
			return nil, info, stageErr(i, s, PhaseClassify, ErrNoAdapter)
		}
		config, err := s.resolveConfig(ctx, previous)
		if err != nil {
			return nil, info, stageErr(i, s, PhaseConfig, err)
		}
		info.Config = config
		raw, err = p.adapter.CreateRequest(ctx, config)
		if err != nil {
			return nil, info, stageErr(i, s, PhaseRequest, err)
		}
	case KindNested:
		var err error
		raw, err = s.Request.Execute(ctx)
		if err != nil {
			return nil, info, stageErr(i, s, PhaseNested, err)
		}
	}

	view := raw
	if p.adapter != nil {
		var err error
		view, err = getResult(ctx, p.adapter, raw)
		if err != nil {
			return nil, info, stageErr(i, s, PhaseResult, err)
		}
	}
	if s.Mapper != nil {
		mapped, err := s.Mapper(ctx, view)
		if err != nil {
			return nil, info, stageErr(i, s, PhaseMapper, err)
		}
		view = mapped
	}
	return view, info, nil
}

func last(results []interface{}) interface{} {
	if len(results) == 0 {
		return nil
	}
	return results[len(results)-1]
}
