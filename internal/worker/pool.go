// Package worker drives pipeline states through a bounded pool. Each
// entity is claimed exactly once per pass; retry-later outcomes are
// requeued with backoff until the attempt cap is reached.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/internal/pipeline"
	"github.com/sells-group/enrich-cli/internal/resilience"
)

// Report receives each entity's terminal result. Called once per entity,
// from worker goroutines; implementations must be safe for concurrent
// use.
type Report func(st *pipeline.State, res pipeline.EntityResult)

// Pool runs entities through the pipeline with bounded concurrency.
type Pool struct {
	pipeline *pipeline.Pipeline
	retry    resilience.RetryConfig
}

// New creates a worker pool. The retry config supplies the backoff
// schedule for retry-later requeues (not the in-stage provider retry,
// which the waterfall owns).
func New(p *pipeline.Pipeline, retry resilience.RetryConfig) *Pool {
	return &Pool{pipeline: p, retry: retry}
}

// Run processes every state to a terminal per-entity outcome and blocks
// until done or ctx is cancelled. Entities still queued at cancellation
// are reported as cancelled.
//
// Claim semantics: a state lives either in the queue or in exactly one
// worker; no entity is ever processed by two workers at once.
func (p *Pool) Run(ctx context.Context, states []*pipeline.State, concurrency int, report Report) {
	if len(states) == 0 {
		return
	}
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > len(states) {
		concurrency = len(states)
	}

	// Buffer holds every entity: each is either queued or in-flight,
	// never both, so sends from requeue timers cannot block forever.
	queue := make(chan *pipeline.State, len(states))
	for _, st := range states {
		queue <- st
	}

	var pending atomic.Int64
	pending.Store(int64(len(states)))
	done := make(chan struct{})
	finish := func() {
		if pending.Add(-1) == 0 {
			close(done)
		}
	}

	var timers sync.WaitGroup
	requeue := func(st *pipeline.State) {
		delay := resilience.Backoff(st.Attempts-1, p.retry)
		zap.L().Debug("worker: requeueing entity",
			zap.String("entity", st.Entity.Ref()),
			zap.Int("attempt", st.Attempts),
			zap.Duration("delay", delay),
		)
		timers.Add(1)
		time.AfterFunc(delay, func() {
			defer timers.Done()
			select {
			case queue <- st:
			case <-ctx.Done():
				report(st, pipeline.EntityResult{Status: pipeline.StatusCancelled})
				finish()
			}
		})
	}

	g := new(errgroup.Group)
	for i := 0; i < concurrency; i++ {
		g.Go(func() error {
			for {
				select {
				case <-done:
					return nil
				case <-ctx.Done():
					p.drainCancelled(queue, report, finish)
					return nil
				case st := <-queue:
					p.runOne(ctx, st, report, finish, requeue)
				}
			}
		})
	}
	g.Wait() //nolint:errcheck
	timers.Wait()

	// A requeue timer may have fired after the workers exited; report
	// anything it put back so the accounting still reconciles.
	if ctx.Err() != nil {
		p.drainCancelled(queue, report, finish)
	}
}

func (p *Pool) runOne(ctx context.Context, st *pipeline.State, report Report, finish func(), requeue func(*pipeline.State)) {
	res := p.pipeline.Process(ctx, st)

	if res.Status == pipeline.StatusRetry {
		st.Attempts++
		if st.Attempts < st.Options.MaxAttempts {
			requeue(st)
			return
		}
		// Retry budget exhausted: the transient failure is demoted to a
		// permanent abort.
		if res.Err != nil {
			res.Err.Classification = model.ErrorPermanent
		}
		res.Status = pipeline.StatusAborted
		zap.L().Warn("worker: retry budget exhausted",
			zap.String("entity", st.Entity.Ref()),
			zap.Int("attempts", st.Attempts),
		)
	}

	report(st, res)
	finish()
}

// drainCancelled reports every still-queued entity as cancelled so the
// execution's accounting reconciles after a cancel.
func (p *Pool) drainCancelled(queue chan *pipeline.State, report Report, finish func()) {
	for {
		select {
		case st := <-queue:
			report(st, pipeline.EntityResult{Status: pipeline.StatusCancelled})
			finish()
		default:
			return
		}
	}
}
