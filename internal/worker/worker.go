// Package worker serializes orchestration per session: all jobs for one
// session run in submission order, sessions are scheduled fairly, and
// the backing worker pool grows and shrinks with load.
package worker

import (
	"context"

	"chainflow/internal/chain"
)

// Runner executes one query end to end. The chain orchestrator is the
// production implementation.
type Runner interface {
	OrchestrateQuery(ctx context.Context, sessionID, query string, hint chain.Complexity) (string, error)
}

type jobKind int

const (
	runJob jobKind = iota
	stopJob
)

// Job is one queued query for a session.
type Job struct {
	kind      jobKind
	ctx       context.Context
	done      func()
	SessionID string
	Query     string
	Hint      chain.Complexity
	Reply     chan Result
}

// Result is delivered on the job's reply channel exactly once.
type Result struct {
	Response string
	Err      error
}

type worker struct {
	pool   *workerPool
	runner Runner
	jobs   chan Job
	quit   chan struct{}
}

func newWorker(pool *workerPool, runner Runner) *worker {
	return &worker{
		pool:   pool,
		runner: runner,
		jobs:   make(chan Job),
		quit:   make(chan struct{}),
	}
}

func (w *worker) start() {
	go func() {
		for {
			select {
			case job := <-w.jobs:
				if job.kind == stopJob {
					w.pool.retire(w.jobs)
					return
				}
				w.handle(job)
				w.pool.release(w.jobs)
			case <-w.quit:
				w.pool.retire(w.jobs)
				return
			}
		}
	}()
}

func (w *worker) handle(job Job) {
	ctx := job.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	resp, err := w.runner.OrchestrateQuery(ctx, job.SessionID, job.Query, job.Hint)
	if job.Reply != nil {
		job.Reply <- Result{Response: resp, Err: err}
	}
	if job.done != nil {
		job.done()
	}
}

func (w *worker) stop() {
	close(w.quit)
}
