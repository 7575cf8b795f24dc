package observer

import (
	"context"
	"log/slog"
	"time"

	"github.com/dcshock/reqpipe/pipeline"
)

// LogObserver logs pipeline and stage execution. Stage starts are logged at
// debug level, completions at info and failures at error.
type LogObserver struct {
	logger *slog.Logger
}

var _ pipeline.Observer = (*LogObserver)(nil)

// NewLogObserver returns a LogObserver writing to logger, or slog.Default() if nil.
func NewLogObserver(logger *slog.Logger) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObserver{logger: logger}
}

func (o *LogObserver) BeforePipeline(ctx context.Context, runID, name string) error {
	o.logger.InfoContext(ctx, "pipeline started", slog.String("run_id", runID), slog.String("pipeline", name))
	return nil
}

func (o *LogObserver) AfterPipeline(ctx context.Context, runID string, result interface{}, err error) error {
	if err != nil {
		o.logger.ErrorContext(ctx, "pipeline failed", slog.String("run_id", runID), slog.String("error", err.Error()))
		return nil
	}
	o.logger.InfoContext(ctx, "pipeline succeeded", slog.String("run_id", runID))
	return nil
}

func (o *LogObserver) BeforeStage(ctx context.Context, runID string, stage pipeline.StageInfo, previous interface{}) error {
	o.logger.DebugContext(ctx, "stage started", stageAttrs(runID, stage)...)
	return nil
}

func (o *LogObserver) AfterStage(ctx context.Context, runID string, stage pipeline.StageInfo, output interface{}, stageErr error, duration time.Duration) error {
	attrs := append(stageAttrs(runID, stage),
		slog.Bool("skipped", stage.Skipped),
		slog.Duration("duration", duration),
	)
	if stageErr != nil {
		attrs = append(attrs, slog.String("error", stageErr.Error()))
		o.logger.ErrorContext(ctx, "stage failed", attrs...)
		return nil
	}
	o.logger.InfoContext(ctx, "stage finished", attrs...)
	return nil
}

func stageAttrs(runID string, stage pipeline.StageInfo) []any {
	return []any{
		slog.String("run_id", runID),
		slog.Int("stage", stage.Index),
		slog.String("name", stage.Name),
		slog.String("kind", stage.Kind.String()),
	}
}
