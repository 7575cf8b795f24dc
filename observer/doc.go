// Package observer provides pipeline.Observer implementations.
//
//   - LogObserver: logs each pipeline run and its stages with slog.
//   - Store: persists each run and its stages to SQLite (pipeline_run,
//     pipeline_run_stage) so past runs can be listed and inspected.
//
// Combine them with pipeline.MultiObserver:
//
//	store, err := observer.Open("reqpipe.db")
//	p.WithObserver(pipeline.MultiObserver(observer.NewLogObserver(logger), store))
package observer
