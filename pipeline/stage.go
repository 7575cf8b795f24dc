package pipeline

import (
	"context"
	"fmt"
)

// Kind identifies which of the two stage shapes a Stage is.
type Kind int

const (
	// KindUnknown is returned by Classify for a malformed stage.
	KindUnknown Kind = iota
	// KindLeaf stages resolve a config and hand it to the pipeline's adapter.
	KindLeaf
	// KindNested stages run a complete sub-pipeline.
	KindNested
)

func (k Kind) String() string {
	switch k {
	case KindLeaf:
		return "leaf"
	case KindNested:
		return "nested"
	default:
		return "unknown"
	}
}

// ConfigFactory computes a leaf stage's config from the previous stage's output
// (nil for the first stage).
type ConfigFactory func(ctx context.Context, previous interface{}) (interface{}, error)

// Mapper transforms the adapter-produced result into the stage's output.
type Mapper func(ctx context.Context, result interface{}) (interface{}, error)

// Precondition decides whether a stage runs. A stage whose precondition reports
// false is skipped and passes the previous output through as its own.
type Precondition func(ctx context.Context, previous interface{}) (bool, error)

// Stage is one step of a pipeline. Exactly one of Config or Request must be set:
// Config makes it a leaf stage, Request a nested stage. Config may be a literal
// value handed to the adapter as-is, or a ConfigFactory.
//
// Prefer the Leaf, LeafFunc and Nested constructors; a Stage literal with both or
// neither field set is rejected when it is appended to a pipeline.
type Stage struct {
	Name         string
	Config       interface{}
	Request      *Pipeline
	Mapper       Mapper
	Precondition Precondition
}

// StageOption sets an optional Stage field in the constructors.
type StageOption func(*Stage)

// Named sets the stage name used in errors, logs, traces and observer events.
func Named(name string) StageOption {
	return func(s *Stage) { s.Name = name }
}

// WithMapper sets the stage mapper.
func WithMapper(m Mapper) StageOption {
	return func(s *Stage) { s.Mapper = m }
}

// When sets the stage precondition.
func When(p Precondition) StageOption {
	return func(s *Stage) { s.Precondition = p }
}

// Leaf returns a leaf stage with a literal config.
func Leaf(config interface{}, opts ...StageOption) Stage {
	return build(Stage{Config: config}, opts)
}

// LeafFunc returns a leaf stage whose config is computed from the previous output.
func LeafFunc(factory ConfigFactory, opts ...StageOption) Stage {
	s := Stage{}
	if factory != nil {
		s.Config = factory
	}
	return build(s, opts)
}

// Nested returns a stage that runs sub as a single step.
func Nested(sub *Pipeline, opts ...StageOption) Stage {
	return build(Stage{Request: sub}, opts)
}

func build(s Stage, opts []StageOption) Stage {
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Classify reports whether s is a leaf or nested stage. It fails with an error
// wrapping ErrUnknownStageType when neither or both of Config and Request are set.
func Classify(s Stage) (Kind, error) {
	hasConfig := s.Config != nil
	hasRequest := s.Request != nil
	switch {
	case hasConfig && !hasRequest:
		return KindLeaf, nil
	case hasRequest && !hasConfig:
		return KindNested, nil
	case hasConfig && hasRequest:
		return KindUnknown, fmt.Errorf("%w: both config and request set", ErrUnknownStageType)
	default:
		return KindUnknown, fmt.Errorf("%w: neither config nor request set", ErrUnknownStageType)
	}
}

// resolveConfig returns the concrete config for a leaf stage.
func (s Stage) resolveConfig(ctx context.Context, previous interface{}) (interface{}, error) {
	switch f := s.Config.(type) {
	case ConfigFactory:
		return f(ctx, previous)
	case func(context.Context, interface{}) (interface{}, error):
		return f(ctx, previous)
	default:
		return s.Config, nil
	}
}

// label is the stage name, or its index when unnamed.
func (s Stage) label(index int) string {
	if s.Name != "" {
		return s.Name
	}
	return fmt.Sprintf("#%d", index)
}
