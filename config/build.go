package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dcshock/reqpipe/httpadapter"
	"github.com/dcshock/reqpipe/pipeline"
)

var (
	// ErrUnknownPipeline is returned when a name does not match a pipeline in the file.
	ErrUnknownPipeline = errors.New("unknown pipeline")
	// ErrUnknownName is returned when a mapper or when name is not registered.
	ErrUnknownName = errors.New("not in registry")
)

// AdapterFactory returns the adapter a pipeline runs against.
type AdapterFactory func(cfg PipelineConfig) (pipeline.Adapter, error)

// HTTPAdapter returns a factory building an httpadapter.Adapter per pipeline from
// its base_url, header and timeout, after opts.
func HTTPAdapter(opts ...httpadapter.Option) AdapterFactory {
	return func(cfg PipelineConfig) (pipeline.Adapter, error) {
		o := append([]httpadapter.Option{}, opts...)
		if cfg.BaseURL != "" {
			o = append(o, httpadapter.WithBaseURL(cfg.BaseURL))
		}
		for k, v := range cfg.Header {
			o = append(o, httpadapter.WithHeader(k, v))
		}
		if cfg.Timeout > 0 {
			o = append(o, httpadapter.WithTimeout(cfg.Timeout.Duration()))
		}
		a, err := httpadapter.New(o...)
		if err != nil {
			return nil, err
		}
		return a, nil
	}
}

// BuildOptions configures how pipelines are built from a File.
type BuildOptions struct {
	// Registry resolves mapper and when names. Defaults to NewRegistry().
	Registry *Registry

	// Adapter builds each pipeline's adapter. Defaults to HTTPAdapter().
	Adapter AdapterFactory

	Logger   *slog.Logger
	Observer pipeline.Observer
}

// BuildPipeline builds the pipeline called name, and every pipeline it nests.
func BuildPipeline(f *File, name string, opts *BuildOptions) (*pipeline.Pipeline, error) {
	if f == nil {
		return nil, fmt.Errorf("file is nil")
	}
	return newBuilder(f, opts).build(name)
}

// BuildAll builds every pipeline in f, keyed by name. A pipeline nested by
// several others is built once and shared.
func BuildAll(f *File, opts *BuildOptions) (map[string]*pipeline.Pipeline, error) {
	if f == nil {
		return nil, fmt.Errorf("file is nil")
	}
	b := newBuilder(f, opts)
	for _, name := range f.Names() {
		if _, err := b.build(name); err != nil {
			return nil, err
		}
	}
	return b.built, nil
}

type builder struct {
	file     *File
	opts     BuildOptions
	built    map[string]*pipeline.Pipeline
	visiting map[string]bool
}

func newBuilder(f *File, opts *BuildOptions) *builder {
	b := &builder{
		file:     f,
		built:    make(map[string]*pipeline.Pipeline),
		visiting: make(map[string]bool),
	}
	if opts != nil {
		b.opts = *opts
	}
	if b.opts.Registry == nil {
		b.opts.Registry = NewRegistry()
	}
	if b.opts.Adapter == nil {
		b.opts.Adapter = HTTPAdapter()
	}
	return b
}

func (b *builder) build(name string) (*pipeline.Pipeline, error) {
	if p, ok := b.built[name]; ok {
		return p, nil
	}
	if b.visiting[name] {
		return nil, fmt.Errorf("pipeline %q: %w", name, pipeline.ErrCycle)
	}
	cfg, ok := b.file.Pipelines[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPipeline, name)
	}
	b.visiting[name] = true
	defer delete(b.visiting, name)

	adapter, err := b.opts.Adapter(cfg)
	if err != nil {
		return nil, fmt.Errorf("pipeline %q: adapter: %w", name, err)
	}
	p := pipeline.New(adapter).WithName(cfg.Name)
	if b.opts.Logger != nil {
		p.WithLogger(b.opts.Logger)
	}
	if b.opts.Observer != nil {
		p.WithObserver(b.opts.Observer)
	}
	for i, sc := range cfg.Stages {
		stage, err := b.stage(sc)
		if err != nil {
			return nil, fmt.Errorf("pipeline %q stage %d: %w", name, i, err)
		}
		p.Next(stage)
	}
	if err := p.Err(); err != nil {
		return nil, fmt.Errorf("pipeline %q: %w", name, err)
	}
	b.built[name] = p
	return p, nil
}

func (b *builder) stage(sc StageConfig) (pipeline.Stage, error) {
	hasConfig, hasRequest := sc.Config != nil, sc.Request != ""
	if hasConfig == hasRequest {
		return pipeline.Stage{}, fmt.Errorf("stage %q: set exactly one of config and request: %w", sc.Name, pipeline.ErrUnknownStageType)
	}
	name := sc.Name
	if name == "" {
		name = sc.Request
	}
	opts := []pipeline.StageOption{pipeline.Named(name)}

	mapper, err := b.mapper(sc)
	if err != nil {
		return pipeline.Stage{}, err
	}
	if mapper != nil {
		opts = append(opts, pipeline.WithMapper(mapper))
	}
	when, err := b.precondition(sc)
	if err != nil {
		return pipeline.Stage{}, err
	}
	if when != nil {
		opts = append(opts, pipeline.When(when))
	}

	if hasRequest {
		sub, err := b.build(sc.Request)
		if err != nil {
			return pipeline.Stage{}, err
		}
		return pipeline.Nested(sub, opts...), nil
	}

	render, templated, err := compileValue(name, sc.Config)
	if err != nil {
		return pipeline.Stage{}, err
	}
	if !templated {
		return pipeline.Leaf(sc.Config, opts...), nil
	}
	return pipeline.LeafFunc(func(ctx context.Context, previous interface{}) (interface{}, error) {
		return render(previous)
	}, opts...), nil
}

func (b *builder) mapper(sc StageConfig) (pipeline.Mapper, error) {
	var chain []pipeline.Mapper
	if sc.Pick != "" {
		chain = append(chain, pipeline.Pick(sc.Pick))
	}
	if sc.Mapper != "" {
		m, ok := b.opts.Registry.Mapper(sc.Mapper)
		if !ok {
			return nil, fmt.Errorf("mapper %q: %w", sc.Mapper, ErrUnknownName)
		}
		chain = append(chain, m)
	}
	switch len(chain) {
	case 0:
		return nil, nil
	case 1:
		return chain[0], nil
	default:
		return pipeline.Chain(chain...), nil
	}
}

func (b *builder) precondition(sc StageConfig) (pipeline.Precondition, error) {
	if sc.When == "" {
		return nil, nil
	}
	if !isTemplate(sc.When) {
		p, ok := b.opts.Registry.Precondition(sc.When)
		if !ok {
			return nil, fmt.Errorf("when %q: %w", sc.When, ErrUnknownName)
		}
		return p, nil
	}
	tmpl, err := parseTemplate(sc.Name+".when", sc.When)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, previous interface{}) (bool, error) {
		out, err := execute(tmpl, previous)
		if err != nil {
			return false, err
		}
		return parseBool(out)
	}, nil
}
