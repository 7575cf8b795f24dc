// Package pipeline sequences operations into an ordered pipeline where each
// stage's input may depend on the previous stage's output. What executes a single
// operation (an Adapter, e.g. one HTTP call) is kept apart from how the sequence is
// ordered, transformed and observed (the Pipeline).
//
// A stage is either a leaf or nested. A leaf stage carries a config, literal or a
// ConfigFactory computed from the previous output, which is resolved and handed to
// the pipeline's adapter. A nested stage carries a complete sub-pipeline with its
// own adapter and handlers; its result is passed through the parent adapter's
// GetResult. Either kind may carry a Mapper (applied to the result) and a
// Precondition (skip the stage, passing the previous output through).
//
//	p := pipeline.Begin(pipeline.Leaf(httpadapter.Request{Method: "GET", URL: "/u/1"}), adapter).
//	    Next(pipeline.LeafFunc(pipeline.ConfigFrom(func(ctx context.Context, user map[string]interface{}) (interface{}, error) {
//	        return httpadapter.Request{Method: "GET", URL: fmt.Sprintf("/u/%v/posts", user["id"])}, nil
//	    }))).
//	    WithFinishHandler(func(ctx context.Context) { log.Println("done") })
//	posts, err := p.Execute(ctx)
//
// Execute returns the last stage's output, ExecuteAll every stage's output in
// order. The first failure aborts the run: the error handler observes it, the error
// is returned as a *StageError, and no later stage runs. The finish handler runs
// exactly once per call on every outcome.
//
// # Building
//
// Stages are classified when appended. A Stage with both or neither of Config and
// Request, a leaf stage on a pipeline without an adapter, or a nested stage that
// would make a pipeline contain itself is recorded as the build error (Err); every
// execution then fails with it before any stage runs.
//
// # Observing
//
// WithObserver attaches pre/post hooks (BeforePipeline, BeforeStage, AfterStage,
// AfterPipeline) that receive a per-run id, suitable for logging or persisting run
// history (see package observer). Each run and stage is also traced with the global
// OpenTelemetry tracer provider, and logged at debug level via slog.
package pipeline
