package pipeline

import "context"

// Adapter performs exactly one unit of work (e.g. one HTTP call) for a fully
// resolved config and returns the raw result. It sees nothing of the pipeline.
//
// Stateless adapters may be shared by any number of pipelines. Adapters that keep
// state (queued replies, call logs) serve one execution at a time.
type Adapter interface {
	CreateRequest(ctx context.Context, config interface{}) (interface{}, error)
}

// ResultGetter is implemented by adapters that post-process a raw result before
// any stage mapper sees it. Adapters without it pass raw results through unchanged.
type ResultGetter interface {
	GetResult(ctx context.Context, raw interface{}) (interface{}, error)
}

// AdapterFunc lets an ordinary function serve as an Adapter.
type AdapterFunc func(ctx context.Context, config interface{}) (interface{}, error)

// CreateRequest calls f(ctx, config).
func (f AdapterFunc) CreateRequest(ctx context.Context, config interface{}) (interface{}, error) {
	return f(ctx, config)
}

// getResult applies a's GetResult, or the identity when a has none.
func getResult(ctx context.Context, a Adapter, raw interface{}) (interface{}, error) {
	if rg, ok := a.(ResultGetter); ok {
		return rg.GetResult(ctx, raw)
	}
	return raw, nil
}
