package observer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/dcshock/reqpipe/mockadapter"
	"github.com/dcshock/reqpipe/pipeline"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_RecordsSuccessfulRun(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	a := mockadapter.Results(map[string]interface{}{"id": 1}, []interface{}{"post"})
	p := pipeline.Begin(pipeline.Leaf("/u/1", pipeline.Named("user")), a).
		Next(pipeline.LeafFunc(func(ctx context.Context, prev interface{}) (interface{}, error) {
			return fmt.Sprintf("/u/%v/posts", prev.(map[string]interface{})["id"]), nil
		}, pipeline.Named("posts"))).
		Next(pipeline.Leaf("/never", pipeline.When(func(context.Context, interface{}) (bool, error) { return false, nil }))).
		WithName("user-posts").
		WithObserver(store)

	if _, err := p.Execute(ctx); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	runs, err := store.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("runs = %d, want 1", len(runs))
	}
	run := runs[0]
	if run.Name != "user-posts" || run.Status != StatusSuccess || run.Error != "" {
		t.Errorf("run = %+v", run)
	}
	if run.Result != `["post"]` {
		t.Errorf("Result = %q", run.Result)
	}
	if run.FinishedAt.Before(run.StartedAt) {
		t.Errorf("FinishedAt %v before StartedAt %v", run.FinishedAt, run.StartedAt)
	}

	stages, err := store.ListStages(ctx, run.ID)
	if err != nil {
		t.Fatalf("ListStages() error = %v", err)
	}
	if len(stages) != 3 {
		t.Fatalf("stages = %d, want 3", len(stages))
	}
	if stages[0].Name != "user" || stages[0].Kind != "leaf" || stages[0].Config != `"/u/1"` || stages[0].Input != "" {
		t.Errorf("stage 0 = %+v", stages[0])
	}
	if stages[1].Config != `"/u/1/posts"` || stages[1].Input != `{"id":1}` || stages[1].Output != `["post"]` {
		t.Errorf("stage 1 = %+v", stages[1])
	}
	if stages[2].Status != StatusSkipped || stages[2].Output != `["post"]` {
		t.Errorf("stage 2 = %+v", stages[2])
	}
}

func TestStore_RecordsFailedRun(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	a := mockadapter.Results("ok").PushError(errors.New("connection refused"))
	p := pipeline.Begin(pipeline.Leaf("/a"), a).
		Next(pipeline.Leaf("/b")).
		Next(pipeline.Leaf("/c")).
		WithName("flaky").
		WithObserver(store)

	if _, err := p.Execute(ctx); err == nil {
		t.Fatal("Execute() should fail")
	}

	runs, err := store.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 1 || runs[0].Status != StatusFailed || !strings.Contains(runs[0].Error, "connection refused") {
		t.Fatalf("runs = %+v", runs)
	}

	stages, err := store.ListStages(ctx, runs[0].ID)
	if err != nil {
		t.Fatalf("ListStages() error = %v", err)
	}
	if len(stages) != 2 {
		t.Fatalf("stages = %d, want 2 (third never started)", len(stages))
	}
	if stages[0].Status != StatusSuccess || stages[1].Status != StatusFailed {
		t.Errorf("statuses = %s, %s", stages[0].Status, stages[1].Status)
	}
}

func TestStore_NestedRunsRecordedSeparately(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	sub := pipeline.Begin(pipeline.Leaf("/inner"), mockadapter.Results("inner")).
		WithName("inner").
		WithObserver(store)
	p := pipeline.Begin(pipeline.Nested(sub), mockadapter.Results()).
		WithName("outer").
		WithObserver(store)

	if _, err := p.Execute(ctx); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	runs, err := store.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %d, want 2", len(runs))
	}
	names := map[string]bool{}
	for _, r := range runs {
		names[r.Name] = true
		if r.Status != StatusSuccess {
			t.Errorf("run %s status = %s", r.Name, r.Status)
		}
	}
	if !names["inner"] || !names["outer"] {
		t.Errorf("names = %v", names)
	}
}

func TestStore_ListRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	for _, name := range []string{"first", "second", "third"} {
		if err := store.BeforePipeline(ctx, name+"-id", name); err != nil {
			t.Fatal(err)
		}
	}
	runs, err := store.ListRuns(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].Name != "third" || runs[1].Name != "second" {
		t.Errorf("runs = %+v", runs)
	}
	if runs[0].Status != StatusRunning {
		t.Errorf("status = %s, want running", runs[0].Status)
	}
}

func TestStore_GetRun(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	if err := store.BeforePipeline(ctx, "r1", "p"); err != nil {
		t.Fatal(err)
	}
	if err := store.AfterPipeline(ctx, "r1", map[string]interface{}{"ok": true}, nil); err != nil {
		t.Fatal(err)
	}
	run, err := store.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.Result != `{"ok":true}` || run.Status != StatusSuccess {
		t.Errorf("run = %+v", run)
	}
	if _, err := store.GetRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun(missing) error = %v, want ErrNotFound", err)
	}
}

func TestEncode_Unmarshalable(t *testing.T) {
	got := encode(func() {})
	if !got.Valid || !strings.HasPrefix(got.String, `"0x`) {
		t.Errorf("encode(func) = %+v", got)
	}
	if encode(nil).Valid {
		t.Error("encode(nil) should be NULL")
	}
}
