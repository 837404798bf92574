package tasks

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/taskgraph/internal/asyncreq"
	"github.com/joeycumines/taskgraph/internal/blackboard"
	"github.com/joeycumines/taskgraph/internal/task"
)

// fakeRequester runs jobs only when the test says so, and records cancels.
type fakeRequester struct {
	next    asyncreq.ID
	jobs    map[asyncreq.ID]asyncreq.Job
	results map[asyncreq.ID]asyncreq.Result
	cancels []asyncreq.ID
}

func newFakeRequester() *fakeRequester {
	return &fakeRequester{
		jobs:    make(map[asyncreq.ID]asyncreq.Job),
		results: make(map[asyncreq.ID]asyncreq.Result),
	}
}

func (f *fakeRequester) Request(job asyncreq.Job, _ time.Duration) asyncreq.ID {
	f.next++
	f.jobs[f.next] = job
	return f.next
}

func (f *fakeRequester) IsComplete(id asyncreq.ID) bool {
	_, ok := f.results[id]
	return ok
}

func (f *fakeRequester) GetResult(id asyncreq.ID) (asyncreq.Result, bool) {
	r, ok := f.results[id]
	return r, ok
}

func (f *fakeRequester) Cancel(id asyncreq.ID) {
	f.cancels = append(f.cancels, id)
	delete(f.jobs, id)
	delete(f.results, id)
}

// complete runs the pending job synchronously and publishes its result.
func (f *fakeRequester) complete(t *testing.T, id asyncreq.ID) {
	t.Helper()
	job, ok := f.jobs[id]
	require.True(t, ok, "no pending job %d", id)
	v, err := job(context.Background())
	f.results[id] = asyncreq.Result{Value: v, Err: err}
}

func newBlackboard(t *testing.T, defs ...blackboard.VarDef) *blackboard.Blackboard {
	t.Helper()
	schema, err := blackboard.NewSchema(defs...)
	require.NoError(t, err)
	return blackboard.New(schema, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
}

func newContext(bb *blackboard.Blackboard, dt float64) *task.Context {
	return &task.Context{
		Entity:     7,
		Blackboard: bb,
		DeltaTime:  dt,
		Logger:     slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
	}
}
