package worker

import (
	"container/list"
	"context"
	"sync"
	"time"

	"chainflow/internal/chain"
)

type sessionQueue struct {
	jobs     []Job
	enqueued bool // session is in the ready list
	running  bool // a job for this session is on a worker
}

// Dispatcher routes jobs to the pool one session at a time: a session's
// jobs run strictly in order with at most one in flight, and ready
// sessions take turns round-robin so a chatty session cannot starve the
// rest.
type Dispatcher struct {
	pool    *workerPool
	JobPipe chan Job

	wake chan struct{}

	mu        sync.Mutex
	queues    map[string]*sessionQueue
	ready     *list.List // round-robin queue of session ids
	positions map[string]*list.Element
}

func NewDispatcher(runner Runner, minWorkers, maxWorkers, queueSize int, idleTimeout time.Duration) *Dispatcher {
	pool := newWorkerPool(minWorkers, maxWorkers, idleTimeout, runner)

	d := &Dispatcher{
		pool:      pool,
		JobPipe:   make(chan Job, queueSize),
		wake:      make(chan struct{}, 1),
		queues:    make(map[string]*sessionQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
	}

	for i := 0; i < minWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

func (d *Dispatcher) run() {
	for {
		if !d.dispatchOne() {
			// Nothing ready: block for new work or a finished session
			// with queued jobs.
			select {
			case job := <-d.JobPipe:
				d.enqueueJob(job)
			case <-d.wake:
			}
			continue
		}
		select {
		case job := <-d.JobPipe:
			d.enqueueJob(job)
		default:
		}
	}
}

// Query submits one job and waits for its result or context cancellation.
func (d *Dispatcher) Query(ctx context.Context, sessionID, query string, hint chain.Complexity) (string, error) {
	reply := make(chan Result, 1)
	job := Job{
		kind:      runJob,
		ctx:       ctx,
		SessionID: sessionID,
		Query:     query,
		Hint:      hint,
		Reply:     reply,
	}
	select {
	case d.JobPipe <- job:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case res := <-reply:
		return res.Response, res.Err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// CancelSession drops every queued job for the session. The in-flight
// job, if any, finishes normally.
func (d *Dispatcher) CancelSession(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if elem, ok := d.positions[sessionID]; ok {
		d.ready.Remove(elem)
		delete(d.positions, sessionID)
	}
	if q, ok := d.queues[sessionID]; ok {
		q.jobs = nil
		q.enqueued = false
		if !q.running {
			delete(d.queues, sessionID)
		}
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.SessionID]
	if q == nil {
		q = &sessionQueue{}
		d.queues[job.SessionID] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued || q.running {
		return
	}
	q.enqueued = true
	elem := d.ready.PushBack(job.SessionID)
	d.positions[job.SessionID] = elem
}

// dispatchOne hands the front session's next job to a worker. The
// session leaves the ready list until the job completes, so one session
// never occupies two workers.
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	sessionID := elem.Value.(string)
	q := d.queues[sessionID]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	q.enqueued = false
	q.running = true
	d.ready.Remove(elem)
	delete(d.positions, sessionID)
	d.mu.Unlock()

	job.done = func() { d.jobDone(sessionID) }

	ch := d.pool.acquire()
	debugLog("[dispatcher] session %s job to worker", sessionID)
	ch <- job
	return true
}

// jobDone re-enqueues the session when more of its jobs are waiting.
func (d *Dispatcher) jobDone(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[sessionID]
	if q == nil {
		return
	}
	q.running = false
	if len(q.jobs) == 0 {
		delete(d.queues, sessionID)
		return
	}
	q.enqueued = true
	elem := d.ready.PushBack(sessionID)
	d.positions[sessionID] = elem
	select {
	case d.wake <- struct{}{}:
	default:
	}
}
