package pipeline

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"
)

// queueAdapter returns queued replies in order and records every config it sees.
type queueAdapter struct {
	replies []interface{}
	errs    map[int]error
	configs []interface{}
}

func (a *queueAdapter) CreateRequest(ctx context.Context, config interface{}) (interface{}, error) {
	call := len(a.configs)
	a.configs = append(a.configs, config)
	if err, ok := a.errs[call]; ok {
		return nil, err
	}
	if call >= len(a.replies) {
		return nil, fmt.Errorf("no reply queued for call %d", call)
	}
	return a.replies[call], nil
}

// viewAdapter wraps every raw result so tests can tell raw from post-processed.
type viewAdapter struct {
	queueAdapter
}

func (a *viewAdapter) GetResult(ctx context.Context, raw interface{}) (interface{}, error) {
	return map[string]interface{}{"view": raw}, nil
}

type counters struct {
	errs     []error
	results  []interface{}
	finishes int
}

func (c *counters) attach(p *Pipeline) *Pipeline {
	return p.
		WithErrorHandler(func(ctx context.Context, err error) { c.errs = append(c.errs, err) }).
		WithResultHandler(func(ctx context.Context, r interface{}) { c.results = append(c.results, r) }).
		WithFinishHandler(func(ctx context.Context) { c.finishes++ })
}

func get(url string) map[string]interface{} {
	return map[string]interface{}{"url": url, "method": "GET"}
}

// --- Execute / ExecuteAll ---

func TestExecute_ReturnsLastOutput(t *testing.T) {
	ctx := context.Background()
	a := &queueAdapter{replies: []interface{}{
		map[string]interface{}{"id": 1},
		map[string]interface{}{"id": 2},
	}}
	p := Begin(Leaf(get("/u/1")), a).Next(Leaf(get("/u/2")))
	out, err := p.Execute(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(out, map[string]interface{}{"id": 2}) {
		t.Errorf("got %v, want {id:2}", out)
	}
}

func TestExecuteAll_ReturnsEveryOutput(t *testing.T) {
	ctx := context.Background()
	a := &queueAdapter{replies: []interface{}{
		map[string]interface{}{"id": 1},
		map[string]interface{}{"id": 2},
	}}
	p := Begin(Leaf(get("/u/1")), a).Next(Leaf(get("/u/2")))
	all, err := p.ExecuteAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []interface{}{map[string]interface{}{"id": 1}, map[string]interface{}{"id": 2}}
	if !reflect.DeepEqual(all, want) {
		t.Errorf("got %v, want %v", all, want)
	}
	if !reflect.DeepEqual(a.configs, []interface{}{get("/u/1"), get("/u/2")}) {
		t.Errorf("configs: got %v", a.configs)
	}
}

func TestExecuteAll_LengthMatchesStages(t *testing.T) {
	ctx := context.Background()
	for n := 1; n <= 5; n++ {
		a := &queueAdapter{}
		p := New(a)
		for i := 0; i < n; i++ {
			a.replies = append(a.replies, i)
			p.Next(Leaf(i))
		}
		all, err := p.ExecuteAll(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(all) != n {
			t.Fatalf("n=%d: got %d results", n, len(all))
		}
		a.configs = nil
		out, err := p.Execute(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if out != all[n-1] {
			t.Errorf("n=%d: Execute got %v, want last of ExecuteAll %v", n, out, all[n-1])
		}
	}
}

func TestExecute_EmptyPipeline(t *testing.T) {
	ctx := context.Background()
	p := New(&queueAdapter{})
	out, err := p.Execute(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if out != nil {
		t.Errorf("expected nil, got %v", out)
	}
	all, err := p.ExecuteAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Errorf("expected no results, got %v", all)
	}
}

// --- Result threading ---

func TestConfigFactory_SeesMappedPreviousOutput(t *testing.T) {
	ctx := context.Background()
	a := &queueAdapter{replies: []interface{}{
		map[string]interface{}{"id": 1, "name": "ann"},
		[]interface{}{"post"},
	}}
	var seen []interface{}
	p := Begin(Leaf(get("/u/1"), WithMapper(func(ctx context.Context, r interface{}) (interface{}, error) {
		m := r.(map[string]interface{})
		return map[string]interface{}{"id": m["id"], "mapped": true}, nil
	})), a).
		Next(LeafFunc(func(ctx context.Context, prev interface{}) (interface{}, error) {
			seen = append(seen, prev)
			id := prev.(map[string]interface{})["id"]
			return get(fmt.Sprintf("/u/%v/posts", id)), nil
		}))
	if _, err := p.Execute(ctx); err != nil {
		t.Fatal(err)
	}
	want := map[string]interface{}{"id": 1, "mapped": true}
	if len(seen) != 1 || !reflect.DeepEqual(seen[0], want) {
		t.Errorf("factory saw %v, want %v", seen, want)
	}
	url := a.configs[1].(map[string]interface{})["url"].(string)
	if !strings.Contains(url, "/u/1/posts") {
		t.Errorf("stage 2 config url: got %q", url)
	}
}

func TestConfigFactory_SeesOnlyImmediatePredecessor(t *testing.T) {
	ctx := context.Background()
	a := &queueAdapter{replies: []interface{}{"a", "b", "c"}}
	var seen []interface{}
	factory := func(ctx context.Context, prev interface{}) (interface{}, error) {
		seen = append(seen, prev)
		return "cfg", nil
	}
	p := Begin(LeafFunc(factory), a).Next(LeafFunc(factory)).Next(LeafFunc(factory))
	if _, err := p.Execute(ctx); err != nil {
		t.Fatal(err)
	}
	want := []interface{}{nil, "a", "b"}
	if !reflect.DeepEqual(seen, want) {
		t.Errorf("got %v, want %v", seen, want)
	}
}

func TestMapperOutput_IsThreadedAndReturned(t *testing.T) {
	ctx := context.Background()
	a := &viewAdapter{queueAdapter{replies: []interface{}{"raw1", "raw2"}}}
	var seen interface{}
	p := Begin(Leaf("c1", WithMapper(func(ctx context.Context, r interface{}) (interface{}, error) {
		return "mapped1", nil
	})), a).
		Next(LeafFunc(func(ctx context.Context, prev interface{}) (interface{}, error) {
			seen = prev
			return "c2", nil
		}, WithMapper(func(ctx context.Context, r interface{}) (interface{}, error) {
			return fmt.Sprintf("mapped(%v)", r), nil
		})))
	out, err := p.Execute(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if seen != "mapped1" {
		t.Errorf("factory saw %v, want mapped1", seen)
	}
	if out != "mapped(map[view:raw2])" {
		t.Errorf("output: got %v", out)
	}
}

func TestGetResult_RunsBeforeMapper(t *testing.T) {
	ctx := context.Background()
	a := &viewAdapter{queueAdapter{replies: []interface{}{"raw"}}}
	var mapperSaw interface{}
	p := Begin(Leaf("c", WithMapper(func(ctx context.Context, r interface{}) (interface{}, error) {
		mapperSaw = r
		return r, nil
	})), a)
	if _, err := p.Execute(ctx); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(mapperSaw, map[string]interface{}{"view": "raw"}) {
		t.Errorf("mapper saw %v", mapperSaw)
	}
}

// --- Nested ---

func TestNested_SubResultThroughParentGetResultThenMapper(t *testing.T) {
	ctx := context.Background()
	sub := Begin(Leaf("s1"), &queueAdapter{replies: []interface{}{"inner"}})
	parent := &viewAdapter{queueAdapter{replies: []interface{}{"outer"}}}
	var mapperSaw interface{}
	p := Begin(Nested(sub, WithMapper(func(ctx context.Context, r interface{}) (interface{}, error) {
		mapperSaw = r
		return "nested-out", nil
	})), parent).Next(LeafFunc(func(ctx context.Context, prev interface{}) (interface{}, error) {
		return prev, nil
	}))
	all, err := p.ExecuteAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(mapperSaw, map[string]interface{}{"view": "inner"}) {
		t.Errorf("mapper saw %v, want parent view of sub result", mapperSaw)
	}
	if all[0] != "nested-out" {
		t.Errorf("nested output: got %v", all[0])
	}
	if len(parent.configs) != 1 || parent.configs[0] != "nested-out" {
		t.Errorf("parent adapter configs: got %v", parent.configs)
	}
}

func TestNested_SubHandlersRunIndependently(t *testing.T) {
	ctx := context.Background()
	var subC, parentC counters
	sub := subC.attach(Begin(Leaf("s"), &queueAdapter{replies: []interface{}{"x"}}))
	p := parentC.attach(Begin(Nested(sub), nil))
	out, err := p.Execute(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if out != "x" {
		t.Errorf("got %v", out)
	}
	if subC.finishes != 1 || parentC.finishes != 1 {
		t.Errorf("finishes: sub=%d parent=%d", subC.finishes, parentC.finishes)
	}
	if len(subC.results) != 1 || len(parentC.results) != 1 {
		t.Errorf("results: sub=%v parent=%v", subC.results, parentC.results)
	}
}

func TestNested_FailureAbortsParent(t *testing.T) {
	ctx := context.Background()
	errInner := errors.New("inner failed")
	sub := Begin(Leaf("s"), &queueAdapter{errs: map[int]error{0: errInner}})
	parent := &queueAdapter{replies: []interface{}{"never"}}
	p := Begin(Nested(sub, Named("child")), parent).Next(Leaf("after"))
	_, err := p.Execute(ctx)
	if !errors.Is(err, errInner) {
		t.Fatalf("expected inner error, got %v", err)
	}
	var se *StageError
	if !errors.As(err, &se) || se.Phase != PhaseNested || se.Index != 0 || se.Name != "child" {
		t.Errorf("stage error: %+v", se)
	}
	if len(parent.configs) != 0 {
		t.Errorf("parent adapter should not be called, got %v", parent.configs)
	}
}

// --- Failures ---

func TestAdapterFailure_AbortsAndNotifies(t *testing.T) {
	ctx := context.Background()
	errBoom := errors.New("transport down")
	a := &queueAdapter{replies: []interface{}{1, 2, 3}, errs: map[int]error{1: errBoom}}
	var c counters
	p := c.attach(Begin(Leaf("a"), a).Next(Leaf("b")).Next(Leaf("c")))

	_, err := p.Execute(ctx)
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected %v, got %v", errBoom, err)
	}
	if len(a.configs) != 2 {
		t.Errorf("adapter calls: got %d, want 2", len(a.configs))
	}
	if len(c.errs) != 1 || !errors.Is(c.errs[0], errBoom) {
		t.Errorf("error handler: got %v", c.errs)
	}
	if c.finishes != 1 {
		t.Errorf("finish handler: got %d, want 1", c.finishes)
	}
	if len(c.results) != 0 {
		t.Errorf("result handler should not run, got %v", c.results)
	}
	var se *StageError
	if !errors.As(err, &se) || se.Index != 1 || se.Phase != PhaseRequest || !se.IsOperationFailure() {
		t.Errorf("stage error: %+v", se)
	}
}

func TestExecuteAll_FailureReturnsError(t *testing.T) {
	ctx := context.Background()
	errBoom := errors.New("boom")
	a := &queueAdapter{replies: []interface{}{1}, errs: map[int]error{1: errBoom}}
	var c counters
	p := c.attach(Begin(Leaf("a"), a).Next(Leaf("b")).Next(Leaf("c")))
	all, err := p.ExecuteAll(ctx)
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected %v, got %v", errBoom, err)
	}
	if all != nil {
		t.Errorf("expected no results, got %v", all)
	}
	if len(c.errs) != 1 || c.finishes != 1 {
		t.Errorf("handlers: errs=%d finishes=%d", len(c.errs), c.finishes)
	}
}

func TestMapperFailure_TreatedLikeAdapterFailure(t *testing.T) {
	ctx := context.Background()
	errMap := errors.New("bad shape")
	a := &queueAdapter{replies: []interface{}{1, 2, 3}}
	var c counters
	p := c.attach(Begin(Leaf("a"), a).
		Next(Leaf("b", WithMapper(func(ctx context.Context, r interface{}) (interface{}, error) {
			return nil, errMap
		}))).
		Next(Leaf("c")))
	_, err := p.Execute(ctx)
	if !errors.Is(err, errMap) {
		t.Fatalf("expected %v, got %v", errMap, err)
	}
	if len(a.configs) != 2 {
		t.Errorf("adapter calls: got %d, want 2", len(a.configs))
	}
	if len(c.errs) != 1 || c.finishes != 1 {
		t.Errorf("handlers: errs=%d finishes=%d", len(c.errs), c.finishes)
	}
	var se *StageError
	if !errors.As(err, &se) || se.Phase != PhaseMapper || !se.IsTransformationFailure() {
		t.Errorf("stage error: %+v", se)
	}
}

func TestConfigFactoryFailure(t *testing.T) {
	ctx := context.Background()
	errCfg := errors.New("cannot build config")
	a := &queueAdapter{replies: []interface{}{1}}
	p := Begin(Leaf("a"), a).Next(LeafFunc(func(ctx context.Context, prev interface{}) (interface{}, error) {
		return nil, errCfg
	}))
	_, err := p.Execute(ctx)
	var se *StageError
	if !errors.As(err, &se) || se.Phase != PhaseConfig || !errors.Is(err, errCfg) {
		t.Fatalf("got %v", err)
	}
	if len(a.configs) != 1 {
		t.Errorf("adapter calls: got %d, want 1", len(a.configs))
	}
}

// --- Classification ---

func TestClassify(t *testing.T) {
	sub := New(nil)
	if k, err := Classify(Leaf("c")); err != nil || k != KindLeaf {
		t.Errorf("leaf: got %v, %v", k, err)
	}
	if k, err := Classify(Nested(sub)); err != nil || k != KindNested {
		t.Errorf("nested: got %v, %v", k, err)
	}
	if _, err := Classify(Stage{}); !IsUnknownStage(err) {
		t.Errorf("neither: got %v", err)
	}
	if _, err := Classify(Stage{Config: "c", Request: sub}); !IsUnknownStage(err) {
		t.Errorf("both: got %v", err)
	}
	if _, err := Classify(LeafFunc(nil)); !IsUnknownStage(err) {
		t.Errorf("nil factory: got %v", err)
	}
}

func TestMalformedStage_NoStageRuns(t *testing.T) {
	ctx := context.Background()
	a := &queueAdapter{replies: []interface{}{1, 2, 3}}
	var c counters
	p := c.attach(Begin(Leaf("a"), a).
		Next(Stage{Name: "broken"}).
		Next(Leaf("c")))
	if !IsUnknownStage(p.Err()) {
		t.Fatalf("build error: got %v", p.Err())
	}
	_, err := p.Execute(ctx)
	if !IsUnknownStage(err) {
		t.Fatalf("expected unknown stage type, got %v", err)
	}
	var se *StageError
	if !errors.As(err, &se) || se.Index != 1 || se.Phase != PhaseClassify {
		t.Errorf("stage error: %+v", se)
	}
	if len(a.configs) != 0 {
		t.Errorf("no adapter call expected, got %v", a.configs)
	}
	if len(c.errs) != 1 || c.finishes != 1 {
		t.Errorf("handlers: errs=%d finishes=%d", len(c.errs), c.finishes)
	}
}

func TestBothShapes_Rejected(t *testing.T) {
	ctx := context.Background()
	p := Begin(Stage{Config: "c", Request: New(nil)}, &queueAdapter{})
	_, err := p.ExecuteAll(ctx)
	if !IsUnknownStage(err) {
		t.Fatalf("expected unknown stage type, got %v", err)
	}
}

func TestLeafWithoutAdapter(t *testing.T) {
	p := Begin(Leaf("c"), nil)
	if !errors.Is(p.Err(), ErrNoAdapter) {
		t.Fatalf("got %v", p.Err())
	}
}

func TestNestedCycle(t *testing.T) {
	a := &queueAdapter{}
	outer := New(a)
	inner := Begin(Nested(outer), a)
	outer.Next(Nested(inner))
	if !errors.Is(outer.Err(), ErrCycle) {
		t.Fatalf("got %v", outer.Err())
	}
	self := New(a)
	self.Next(Nested(self))
	if !errors.Is(self.Err(), ErrCycle) {
		t.Fatalf("self: got %v", self.Err())
	}
}

func TestNestedCycle_AfterBuildError(t *testing.T) {
	a := &queueAdapter{}
	p := New(a).Next(Stage{Name: "broken"})
	p.Next(Nested(p))
	if p.Len() != 1 {
		t.Fatalf("cycling stage should not be stored, got %d stages", p.Len())
	}
	if !IsUnknownStage(p.Err()) {
		t.Errorf("first build error should be kept, got %v", p.Err())
	}
	outer := New(a).Next(Nested(p))
	if !IsUnknownStage(outer.Err()) {
		t.Errorf("outer: got %v", outer.Err())
	}
}

func TestNestedBuildError_NoStageRuns(t *testing.T) {
	ctx := context.Background()
	a := &queueAdapter{replies: []interface{}{1, 2}}
	sub := New(a).Next(Stage{Name: "broken"}).WithName("sub")
	var c counters
	p := c.attach(Begin(Leaf("a"), a).Next(Nested(sub)))
	if !IsUnknownStage(p.Err()) {
		t.Fatalf("build error: got %v", p.Err())
	}
	_, err := p.Execute(ctx)
	var se *StageError
	if !errors.As(err, &se) || se.Index != 1 || se.Phase != PhaseClassify {
		t.Fatalf("stage error: got %v", err)
	}
	if len(a.configs) != 0 {
		t.Errorf("no adapter call expected, got %v", a.configs)
	}
	if len(c.errs) != 1 || c.finishes != 1 {
		t.Errorf("handlers: errs=%d finishes=%d", len(c.errs), c.finishes)
	}
}

// --- Preconditions ---

func TestPrecondition_SkipsAndPassesPreviousThrough(t *testing.T) {
	ctx := context.Background()
	a := &queueAdapter{replies: []interface{}{"first", "third"}}
	skip := When(func(ctx context.Context, prev interface{}) (bool, error) { return false, nil })
	p := Begin(Leaf("a"), a).Next(Leaf("b", skip)).Next(Leaf("c"))
	all, err := p.ExecuteAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []interface{}{"first", "first", "third"}
	if !reflect.DeepEqual(all, want) {
		t.Errorf("got %v, want %v", all, want)
	}
	if !reflect.DeepEqual(a.configs, []interface{}{"a", "c"}) {
		t.Errorf("configs: got %v", a.configs)
	}
}

func TestPrecondition_Error(t *testing.T) {
	ctx := context.Background()
	errPre := errors.New("cannot decide")
	p := Begin(Leaf("a", When(func(ctx context.Context, prev interface{}) (bool, error) {
		return false, errPre
	})), &queueAdapter{})
	_, err := p.Execute(ctx)
	var se *StageError
	if !errors.As(err, &se) || se.Phase != PhasePrecondition || !errors.Is(err, errPre) {
		t.Fatalf("got %v", err)
	}
}

// --- Handlers ---

func TestHandlers_LastRegistrationWins(t *testing.T) {
	ctx := context.Background()
	var first, second int
	p := Begin(Leaf("a"), &queueAdapter{replies: []interface{}{1}}).
		WithFinishHandler(func(ctx context.Context) { first++ }).
		WithFinishHandler(func(ctx context.Context) { second++ })
	if _, err := p.Execute(ctx); err != nil {
		t.Fatal(err)
	}
	if first != 0 || second != 1 {
		t.Errorf("first=%d second=%d", first, second)
	}
}

func TestResultHandler_ReceivesReturnedValue(t *testing.T) {
	ctx := context.Background()
	var c counters
	a := &queueAdapter{replies: []interface{}{1, 2, 1, 2}}
	p := c.attach(Begin(Leaf("a"), a).Next(Leaf("b")))
	if _, err := p.Execute(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := p.ExecuteAll(ctx); err != nil {
		t.Fatal(err)
	}
	if len(c.results) != 2 || c.results[0] != 2 || !reflect.DeepEqual(c.results[1], []interface{}{1, 2}) {
		t.Errorf("results: got %v", c.results)
	}
	if c.finishes != 2 {
		t.Errorf("finishes: got %d, want 2", c.finishes)
	}
	if len(c.errs) != 0 {
		t.Errorf("errors: got %v", c.errs)
	}
}

func TestExecuteAs(t *testing.T) {
	ctx := context.Background()
	p := Begin(Leaf("a"), &queueAdapter{replies: []interface{}{42, "x"}})
	n, err := ExecuteAs[int](ctx, p)
	if err != nil || n != 42 {
		t.Fatalf("got %v, %v", n, err)
	}
	if _, err := ExecuteAs[int](ctx, p); err == nil {
		t.Fatal("expected type error")
	}
}

func TestAdapterFunc(t *testing.T) {
	ctx := context.Background()
	double := AdapterFunc(func(ctx context.Context, config interface{}) (interface{}, error) {
		return config.(int) * 2, nil
	})
	p := Begin(Leaf(2), double).Next(LeafFunc(func(ctx context.Context, prev interface{}) (interface{}, error) {
		return prev.(int) + 1, nil
	}))
	out, err := p.Execute(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if out != 10 {
		t.Errorf("expected 10, got %v", out)
	}
}

func TestRunID_InContext(t *testing.T) {
	ctx := context.Background()
	var ids []string
	a := AdapterFunc(func(ctx context.Context, config interface{}) (interface{}, error) {
		id, ok := RunIDFromContext(ctx)
		if !ok {
			return nil, errors.New("no run id")
		}
		ids = append(ids, id)
		return nil, nil
	})
	p := Begin(Leaf("a"), a).Next(Leaf("b"))
	if _, err := p.Execute(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Execute(ctx); err != nil {
		t.Fatal(err)
	}
	if len(ids) != 4 || ids[0] != ids[1] || ids[1] == ids[2] {
		t.Errorf("run ids: %v", ids)
	}
}

// --- Observer ---

func TestObserver_HookOrder(t *testing.T) {
	ctx := context.Background()
	var runIDSeen string
	var order []string
	obs := &hookObserver{
		beforePipeline: func(ctx context.Context, runID, name string) error {
			runIDSeen = runID
			order = append(order, "BeforePipeline:"+name)
			return nil
		},
		afterPipeline: func(ctx context.Context, runID string, result interface{}, err error) error {
			order = append(order, fmt.Sprintf("AfterPipeline:%v", result))
			return nil
		},
		beforeStage: func(ctx context.Context, runID string, s StageInfo, previous interface{}) error {
			order = append(order, fmt.Sprintf("BeforeStage:%d", s.Index))
			return nil
		},
		afterStage: func(ctx context.Context, runID string, s StageInfo, output interface{}, stageErr error, d time.Duration) error {
			order = append(order, fmt.Sprintf("AfterStage:%d:%v:%v", s.Index, s.Config, output))
			return nil
		},
	}
	p := Begin(Leaf("c0"), &queueAdapter{replies: []interface{}{"r0", "r1"}}).
		Next(Leaf("c1")).
		WithName("observed").
		WithObserver(obs)
	if _, err := p.Execute(ctx); err != nil {
		t.Fatal(err)
	}
	if runIDSeen == "" {
		t.Error("expected runID to be generated")
	}
	want := []string{
		"BeforePipeline:observed",
		"BeforeStage:0", "AfterStage:0:c0:r0",
		"BeforeStage:1", "AfterStage:1:c1:r1",
		"AfterPipeline:r1",
	}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("order: got %v, want %v", order, want)
	}
}

func TestObserver_BeforeStageErrorAborts(t *testing.T) {
	ctx := context.Background()
	errObs := errors.New("observer down")
	a := &queueAdapter{replies: []interface{}{1}}
	obs := &hookObserver{
		beforeStage: func(ctx context.Context, runID string, s StageInfo, previous interface{}) error {
			return errObs
		},
	}
	_, err := Begin(Leaf("a"), a).WithObserver(obs).Execute(ctx)
	if !errors.Is(err, errObs) {
		t.Fatalf("got %v", err)
	}
	if len(a.configs) != 0 {
		t.Errorf("adapter should not run")
	}
}

func TestObserver_AfterPipelineErrorDoesNotMaskStageError(t *testing.T) {
	ctx := context.Background()
	errStage := errors.New("stage failed")
	obs := &hookObserver{
		afterPipeline: func(ctx context.Context, runID string, result interface{}, err error) error {
			return errors.New("after failed")
		},
	}
	_, err := Begin(Leaf("a"), &queueAdapter{errs: map[int]error{0: errStage}}).WithObserver(obs).Execute(ctx)
	if !errors.Is(err, errStage) {
		t.Fatalf("got %v", err)
	}
}

func TestMultiObserver(t *testing.T) {
	ctx := context.Background()
	var calls []string
	mk := func(tag string) *hookObserver {
		return &hookObserver{beforePipeline: func(ctx context.Context, runID, name string) error {
			calls = append(calls, tag)
			return nil
		}}
	}
	obs := MultiObserver(mk("a"), nil, mk("b"))
	if _, err := Begin(Leaf("x"), &queueAdapter{replies: []interface{}{1}}).WithObserver(obs).Execute(ctx); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(calls, []string{"a", "b"}) {
		t.Errorf("calls: %v", calls)
	}
}

// --- Observer helpers ---

type hookObserver struct {
	beforePipeline func(context.Context, string, string) error
	afterPipeline  func(context.Context, string, interface{}, error) error
	beforeStage    func(context.Context, string, StageInfo, interface{}) error
	afterStage     func(context.Context, string, StageInfo, interface{}, error, time.Duration) error
}

func (h *hookObserver) BeforePipeline(ctx context.Context, runID, name string) error {
	if h.beforePipeline != nil {
		return h.beforePipeline(ctx, runID, name)
	}
	return nil
}

func (h *hookObserver) AfterPipeline(ctx context.Context, runID string, result interface{}, err error) error {
	if h.afterPipeline != nil {
		return h.afterPipeline(ctx, runID, result, err)
	}
	return nil
}

func (h *hookObserver) BeforeStage(ctx context.Context, runID string, s StageInfo, previous interface{}) error {
	if h.beforeStage != nil {
		return h.beforeStage(ctx, runID, s, previous)
	}
	return nil
}

func (h *hookObserver) AfterStage(ctx context.Context, runID string, s StageInfo, output interface{}, stageErr error, d time.Duration) error {
	if h.afterStage != nil {
		return h.afterStage(ctx, runID, s, output, stageErr, d)
	}
	return nil
}
