package queue

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"livemod/internal/ctxkeys"
	"livemod/internal/poll"
	"livemod/internal/ui"
	"livemod/pkg/domain"
)

// gatedRunner 每次执行都阻塞到测试放行，同时记录并发度
type gatedRunner struct {
	mu       sync.Mutex
	started  []domain.Handle
	inFlight int
	maxIn    int
	traceIDs []string
	gate     chan struct{}
	startCh  chan domain.Handle
	errs     map[domain.Handle]error
	panics   map[domain.Handle]bool
}

func newGatedRunner() *gatedRunner {
	return &gatedRunner{
		gate:    make(chan struct{}),
		startCh: make(chan domain.Handle, 16),
		errs:    map[domain.Handle]error{},
		panics:  map[domain.Handle]bool{},
	}
}

func (r *gatedRunner) Execute(ctx context.Context, h domain.Handle, _ domain.Action) error {
	r.mu.Lock()
	r.started = append(r.started, h)
	r.traceIDs = append(r.traceIDs, ctxkeys.TraceID(ctx))
	r.inFlight++
	if r.inFlight > r.maxIn {
		r.maxIn = r.inFlight
	}
	err := r.errs[h]
	boom := r.panics[h]
	r.mu.Unlock()

	r.startCh <- h
	select {
	case <-r.gate:
	case <-ctx.Done():
	}

	r.mu.Lock()
	r.inFlight--
	r.mu.Unlock()
	if boom {
		panic("menu exploded")
	}
	return err
}

func (r *gatedRunner) release() { r.gate <- struct{}{} }

func (r *gatedRunner) snapshot() ([]domain.Handle, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Handle(nil), r.started...), r.maxIn
}

type liveSet struct {
	mu       sync.Mutex
	detached map[domain.Handle]bool
}

func (l *liveSet) Attached(_ context.Context, h domain.Handle) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.detached[h], nil
}

type results struct {
	mu  sync.Mutex
	all []Result
	ch  chan Result
}

func newResults() *results { return &results{ch: make(chan Result, 16)} }

func (r *results) add(res Result) {
	r.mu.Lock()
	r.all = append(r.all, res)
	r.mu.Unlock()
	r.ch <- res
}

func (r *results) wait(t *testing.T) Result {
	t.Helper()
	select {
	case res := <-r.ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a queue result")
		return Result{}
	}
}

func msg(id string) domain.Message {
	return domain.Message{ID: domain.MessageID(id), Text: id, Handle: domain.Handle("h-" + id)}
}

func expectStart(t *testing.T, r *gatedRunner, want domain.Handle) {
	t.Helper()
	select {
	case got := <-r.startCh:
		if got != want {
			t.Fatalf("started %s, want %s", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s to start", want)
	}
}

func expectNoStart(t *testing.T, r *gatedRunner) {
	t.Helper()
	select {
	case got := <-r.startCh:
		t.Fatalf("%s started while another action was in flight", got)
	case <-time.After(20 * time.Millisecond):
	}
}

func newTestQueue(r Runner, live Liveness, res *results) *Queue {
	return New(NewSeenSet(), r, live, Options{Settle: time.Millisecond, OnResult: res.add}, nil)
}

func TestQueueSerializesInArrivalOrder(t *testing.T) {
	runner := newGatedRunner()
	res := newResults()
	q := newTestQueue(runner, &liveSet{}, res)
	q.Start(context.Background())
	defer q.Stop()

	for _, id := range []string{"A", "B", "C"} {
		if !q.Enqueue(msg(id), domain.ActionDelete) {
			t.Fatalf("Enqueue(%s) rejected", id)
		}
	}

	for _, id := range []string{"A", "B", "C"} {
		expectStart(t, runner, msg(id).Handle)
		expectNoStart(t, runner)
		runner.release()
		if got := res.wait(t); got.Message.ID != domain.MessageID(id) || got.Outcome != domain.OutcomeExecuted {
			t.Fatalf("result = %+v, want executed %s", got, id)
		}
	}

	started, maxIn := runner.snapshot()
	if want := []domain.Handle{"h-A", "h-B", "h-C"}; !reflect.DeepEqual(started, want) {
		t.Errorf("started = %v, want %v", started, want)
	}
	if maxIn != 1 {
		t.Errorf("max concurrent executions = %d, want 1", maxIn)
	}
}

func TestQueueDedupByMessageID(t *testing.T) {
	runner := newGatedRunner()
	res := newResults()
	q := newTestQueue(runner, &liveSet{}, res)
	q.Start(context.Background())
	defer q.Stop()

	if !q.Enqueue(msg("A"), domain.ActionBan) {
		t.Fatal("first enqueue rejected")
	}
	if q.Enqueue(msg("A"), domain.ActionDelete) {
		t.Error("second enqueue of the same id accepted")
	}
	if q.Enqueue(msg("Z"), domain.ActionNone) {
		t.Error("enqueue without an action accepted")
	}
	expectStart(t, runner, "h-A")
	runner.release()
	res.wait(t)
	expectNoStart(t, runner)
	if !q.Seen().Has("A") || q.Seen().Has("Z") {
		t.Error("seen set should hold exactly the enqueued id")
	}
}

func TestQueueSkipsDetachedMessages(t *testing.T) {
	runner := newGatedRunner()
	res := newResults()
	live := &liveSet{detached: map[domain.Handle]bool{"h-B": true}}
	q := newTestQueue(runner, live, res)

	q.Enqueue(msg("A"), domain.ActionDelete)
	q.Enqueue(msg("B"), domain.ActionDelete)
	q.Enqueue(msg("C"), domain.ActionDelete)
	if q.Len() != 3 {
		t.Fatalf("items before Start = %d, want 3", q.Len())
	}
	q.Start(context.Background())
	defer q.Stop()

	expectStart(t, runner, "h-A")
	runner.release()
	res.wait(t)

	skipped := res.wait(t)
	if skipped.Message.ID != "B" || skipped.Outcome != domain.OutcomeSkipped || !errors.Is(skipped.Err, ui.ErrStale) {
		t.Fatalf("expected B skipped as stale, got %+v", skipped)
	}

	expectStart(t, runner, "h-C")
	runner.release()
	res.wait(t)
}

func TestQueueMessageGoneBeforeInteractionIsSkipped(t *testing.T) {
	runner := newGatedRunner()
	runner.errs["h-A"] = fmt.Errorf("delete: OpenMenu: %w", ui.ErrDetached)
	res := newResults()
	q := newTestQueue(runner, &liveSet{}, res)
	q.Start(context.Background())
	defer q.Stop()

	q.Enqueue(msg("A"), domain.ActionDelete)
	q.Enqueue(msg("B"), domain.ActionDelete)

	expectStart(t, runner, "h-A")
	runner.release()
	if got := res.wait(t); got.Outcome != domain.OutcomeSkipped || !errors.Is(got.Err, ui.ErrStale) {
		t.Fatalf("A result = %+v, want skipped", got)
	}
	expectStart(t, runner, "h-B")
	runner.release()
	if got := res.wait(t); got.Outcome != domain.OutcomeExecuted {
		t.Fatalf("B result = %+v", got)
	}
}

func TestQueueFailureDoesNotHaltLoop(t *testing.T) {
	runner := newGatedRunner()
	timeout := &poll.TimeoutError{Query: `[role="menuitem"]`, Timeout: 4 * time.Second}
	runner.errs["h-A"] = timeout
	runner.panics["h-B"] = true
	res := newResults()
	q := newTestQueue(runner, &liveSet{}, res)
	q.Start(context.Background())
	defer q.Stop()

	for _, id := range []string{"A", "B", "C"} {
		q.Enqueue(msg(id), domain.ActionBan)
	}

	expectStart(t, runner, "h-A")
	runner.release()
	if got := res.wait(t); got.Outcome != domain.OutcomeFailed || !errors.Is(got.Err, poll.ErrTimeout) {
		t.Fatalf("A result = %+v", got)
	}

	expectStart(t, runner, "h-B")
	runner.release()
	if got := res.wait(t); got.Outcome != domain.OutcomeFailed || got.Err == nil {
		t.Fatalf("B result = %+v", got)
	}

	expectStart(t, runner, "h-C")
	runner.release()
	if got := res.wait(t); got.Outcome != domain.OutcomeExecuted {
		t.Fatalf("C result = %+v", got)
	}
}

func TestQueueEnqueueWhileBusy(t *testing.T) {
	runner := newGatedRunner()
	res := newResults()
	q := newTestQueue(runner, &liveSet{}, res)
	q.Start(context.Background())
	defer q.Stop()

	q.Enqueue(msg("A"), domain.ActionDelete)
	expectStart(t, runner, "h-A")

	q.Enqueue(msg("B"), domain.ActionDelete)
	expectNoStart(t, runner)
	runner.release()
	res.wait(t)

	expectStart(t, runner, "h-B")
	runner.release()
	res.wait(t)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.traceIDs) != 2 || runner.traceIDs[0] == "" || runner.traceIDs[0] == runner.traceIDs[1] {
		t.Errorf("each item should carry its own trace id, got %v", runner.traceIDs)
	}
}

func TestQueueStopCancelsInFlight(t *testing.T) {
	runner := newGatedRunner()
	res := newResults()
	q := newTestQueue(runner, &liveSet{}, res)
	q.Start(context.Background())

	q.Enqueue(msg("A"), domain.ActionDelete)
	q.Enqueue(msg("B"), domain.ActionDelete)
	expectStart(t, runner, "h-A")

	done := make(chan struct{})
	go func() {
		q.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	expectNoStart(t, runner)
	if n := q.Len(); n != 0 {
		t.Errorf("pending after Stop = %d, want 0", n)
	}
	if q.Enqueue(msg("C"), domain.ActionDelete) != true {
		t.Error("enqueue after stop should still record the item")
	}
	expectNoStart(t, runner)
	if n := q.Len(); n != 1 {
		t.Errorf("pending after a late enqueue = %d, want 1", n)
	}
}
