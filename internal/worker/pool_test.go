package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/internal/pipeline"
	"github.com/sells-group/enrich-cli/internal/resilience"
)

// scriptStage is a single-stage pipeline for pool tests.
type scriptStage struct {
	name string
	run  func(st *pipeline.State) (pipeline.Outcome, error)
}

func (s *scriptStage) Name() string { return s.name }
func (s *scriptStage) Run(_ context.Context, st *pipeline.State) (pipeline.Outcome, error) {
	return s.run(st)
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func makeStates(n, maxAttempts int) []*pipeline.State {
	states := make([]*pipeline.State, n)
	for i := range states {
		states[i] = pipeline.NewState("exec-1", model.TargetEntity{
			Kind:        model.KindCompany,
			OwnerKey:    "ws-1",
			Identifiers: model.Identifiers{Domain: fmt.Sprintf("company-%d.com", i)},
		}, model.ExecutionOptions{Concurrency: 3, MaxAttempts: maxAttempts})
	}
	return states
}

// resultSink collects reports thread-safely.
type resultSink struct {
	mu      sync.Mutex
	results map[string]pipeline.EntityResult
}

func newSink() *resultSink {
	return &resultSink{results: make(map[string]pipeline.EntityResult)}
}

func (s *resultSink) report(st *pipeline.State, res pipeline.EntityResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[st.Entity.Ref()] = res
}

func (s *resultSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

func TestPool_ConcurrencyBound(t *testing.T) {
	var active, watermark atomic.Int32
	release := make(chan struct{})

	stage := &scriptStage{name: "block", run: func(*pipeline.State) (pipeline.Outcome, error) {
		n := active.Add(1)
		for {
			cur := watermark.Load()
			if n <= cur || watermark.CompareAndSwap(cur, n) {
				break
			}
		}
		<-release
		active.Add(-1)
		return pipeline.Advance, nil
	}}

	pool := New(pipeline.NewWithStages([]pipeline.Stage{stage}, nil), fastRetry())
	states := makeStates(10, 3)
	sink := newSink()

	go func() {
		// Let workers pile up against the gate before opening it.
		time.Sleep(50 * time.Millisecond)
		close(release)
	}()
	pool.Run(context.Background(), states, 3, sink.report)

	assert.Equal(t, 10, sink.len())
	assert.LessOrEqual(t, watermark.Load(), int32(3))
	assert.Equal(t, int32(3), watermark.Load(), "pool should actually use its full budget")
}

func TestPool_EveryEntityClaimedExactlyOnce(t *testing.T) {
	var mu sync.Mutex
	claims := make(map[string]int)

	stage := &scriptStage{name: "count", run: func(st *pipeline.State) (pipeline.Outcome, error) {
		mu.Lock()
		claims[st.Entity.Ref()]++
		mu.Unlock()
		return pipeline.Advance, nil
	}}

	pool := New(pipeline.NewWithStages([]pipeline.Stage{stage}, nil), fastRetry())
	states := makeStates(25, 3)
	sink := newSink()

	pool.Run(context.Background(), states, 4, sink.report)

	require.Equal(t, 25, sink.len())
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, claims, 25)
	for ref, n := range claims {
		assert.Equal(t, 1, n, "entity %s claimed %d times", ref, n)
	}
}

func TestPool_RetryExhaustionDemotesToPermanent(t *testing.T) {
	var attempts atomic.Int32
	stage := &scriptStage{name: "flaky", run: func(*pipeline.State) (pipeline.Outcome, error) {
		attempts.Add(1)
		return pipeline.RetryLater, resilience.NewTransientError(eris.New("still overloaded"), 503)
	}}

	pool := New(pipeline.NewWithStages([]pipeline.Stage{stage}, nil), fastRetry())
	states := makeStates(1, 3)
	sink := newSink()

	pool.Run(context.Background(), states, 1, sink.report)

	require.Equal(t, 1, sink.len())
	res := sink.results[states[0].Entity.Ref()]
	assert.Equal(t, pipeline.StatusAborted, res.Status)
	require.NotNil(t, res.Err)
	assert.Equal(t, model.ErrorPermanent, res.Err.Classification, "transient demotes to permanent after the cap")
	assert.Equal(t, int32(3), attempts.Load())
}

func TestPool_RetrySucceedsOnSecondPass(t *testing.T) {
	var attempts atomic.Int32
	stage := &scriptStage{name: "flaky-once", run: func(*pipeline.State) (pipeline.Outcome, error) {
		if attempts.Add(1) == 1 {
			return pipeline.RetryLater, resilience.NewTransientError(eris.New("blip"), 503)
		}
		return pipeline.Advance, nil
	}}

	pool := New(pipeline.NewWithStages([]pipeline.Stage{stage}, nil), fastRetry())
	states := makeStates(1, 3)
	sink := newSink()

	pool.Run(context.Background(), states, 1, sink.report)

	res := sink.results[states[0].Entity.Ref()]
	assert.Equal(t, pipeline.StatusCompleted, res.Status)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestPool_CancelReportsEverything(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	stage := &scriptStage{name: "slow", run: func(*pipeline.State) (pipeline.Outcome, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return pipeline.Advance, nil
	}}

	pool := New(pipeline.NewWithStages([]pipeline.Stage{stage}, nil), fastRetry())
	states := makeStates(8, 3)
	sink := newSink()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
		close(release)
	}()
	pool.Run(ctx, states, 2, sink.report)

	// Every entity gets exactly one terminal report even after cancel.
	require.Equal(t, 8, sink.len())
	cancelled := 0
	for _, res := range sink.results {
		if res.Status == pipeline.StatusCancelled {
			cancelled++
		}
	}
	assert.NotZero(t, cancelled)
}
