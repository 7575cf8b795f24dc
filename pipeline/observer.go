package pipeline

import (
	"context"
	"errors"
	"time"
)

// StageInfo describes the stage an Observer hook is called for. Config is the
// resolved leaf config and is only set in AfterStage.
type StageInfo struct {
	Index   int
	Name    string
	Kind    Kind
	Config  interface{}
	Skipped bool
}

// Observer provides pre/post hooks for pipeline and stage execution so a run can
// be logged or persisted. BeforePipeline is called before any stage runs and
// AfterPipeline once the run finished (success or error). BeforeStage/AfterStage
// wrap each stage. An error from a Before hook aborts the run; an error from an
// After hook is reported only if the run itself succeeded.
type Observer interface {
	BeforePipeline(ctx context.Context, runID, name string) error
	AfterPipeline(ctx context.Context, runID string, result interface{}, err error) error
	BeforeStage(ctx context.Context, runID string, stage StageInfo, previous interface{}) error
	AfterStage(ctx context.Context, runID string, stage StageInfo, output interface{}, stageErr error, duration time.Duration) error
}

// MultiObserver returns an Observer that calls each observer in order. Nil
// entries are dropped. Every observer is called even if an earlier one fails;
// the errors are joined.
func MultiObserver(observers ...Observer) Observer {
	list := make(multiObserver, 0, len(observers))
	for _, o := range observers {
		if o != nil {
			list = append(list, o)
		}
	}
	return list
}

type multiObserver []Observer

func (m multiObserver) BeforePipeline(ctx context.Context, runID, name string) error {
	var errs []error
	for _, o := range m {
		errs = append(errs, o.BeforePipeline(ctx, runID, name))
	}
	return errors.Join(errs...)
}

func (m multiObserver) AfterPipeline(ctx context.Context, runID string, result interface{}, err error) error {
	var errs []error
	for _, o := range m {
		errs = append(errs, o.AfterPipeline(ctx, runID, result, err))
	}
	return errors.Join(errs...)
}

func (m multiObserver) BeforeStage(ctx context.Context, runID string, stage StageInfo, previous interface{}) error {
	var errs []error
	for _, o := range m {
		errs = append(errs, o.BeforeStage(ctx, runID, stage, previous))
	}
	return errors.Join(errs...)
}

func (m multiObserver) AfterStage(ctx context.Context, runID string, stage StageInfo, output interface{}, stageErr error, d time.Duration) error {
	var errs []error
	for _, o := range m {
		errs = append(errs, o.AfterStage(ctx, runID, stage, output, stageErr, d))
	}
	return errors.Join(errs...)
}

type runIDKey struct{}

// RunIDFromContext returns the id of the run executing the current stage. It is
// set for adapters, config factories, mappers and preconditions.
func RunIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(runIDKey{}).(string)
	return id, ok
}
