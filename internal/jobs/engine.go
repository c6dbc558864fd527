package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/otcheredev/dicom-store/pkg/dicomerr"
)

// Observer is notified of job lifecycle events. Notifications for one job
// arrive in order: JobSubmitted, then JobSuccess or JobFailure. Observers
// run under the engine lock and must not call back into the engine.
type Observer interface {
	JobSubmitted(id string)
	JobSuccess(id string)
	JobFailure(id string)
}

// handler tracks one job across its lifecycle. All fields are guarded by
// the engine mutex.
type handler struct {
	id       string
	job      Job
	priority int
	seq      uint64

	state           JobState
	createdAt       time.Time
	lastStateChange time.Time
	runtime         time.Duration
	errCode         dicomerr.Code
	errMessage      string

	pauseRequested  bool
	cancelRequested bool
	retryDeadline   time.Time
	queueIndex      int
}

// Engine runs jobs drawn from a priority queue on a bounded worker pool
type Engine struct {
	mu                  sync.Mutex
	pendingJobAvailable *sync.Cond
	someJobComplete     *sync.Cond

	jobs         map[string]*handler
	pending      pendingQueue
	retries      map[string]*handler
	completed    []*handler
	maxCompleted int

	seq       uint64
	stopping  bool
	started   bool
	observers []Observer

	workers int
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

// NewEngine creates a stopped engine. maxCompleted bounds the ring of
// completed jobs kept for observability; 0 keeps none.
func NewEngine(workers, maxCompleted int) *Engine {
	if workers < 1 {
		workers = 1
	}
	e := &Engine{
		jobs:         make(map[string]*handler),
		retries:      make(map[string]*handler),
		maxCompleted: maxCompleted,
		workers:      workers,
	}
	e.pendingJobAvailable = sync.NewCond(&e.mu)
	e.someJobComplete = sync.NewCond(&e.mu)
	return e
}

// AddObserver registers an observer. Only valid before Start.
func (e *Engine) AddObserver(observer Observer) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return dicomerr.Wrap(dicomerr.ErrBadSequenceOfCalls, "engine already started")
	}
	e.observers = append(e.observers, observer)
	return nil
}

// Start launches the worker pool and the retry scheduler
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return dicomerr.Wrap(dicomerr.ErrBadSequenceOfCalls, "engine already started")
	}
	e.started = true

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go e.worker(ctx)
	}
	e.wg.Add(1)
	go e.retryScheduler(ctx)

	log.Info().
		Str("component", "jobs").
		Int("workers", e.workers).
		Msg("Job engine started")
	return nil
}

// Stop drains the workers. Running jobs finish their current step.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started || e.stopping {
		e.mu.Unlock()
		return
	}
	e.stopping = true
	e.cancel()
	e.pendingJobAvailable.Broadcast()
	e.someJobComplete.Broadcast()
	e.mu.Unlock()

	e.wg.Wait()
	log.Info().Str("component", "jobs").Msg("Job engine stopped")
}

// Submit queues a job and returns its identifier
func (e *Engine) Submit(job Job, priority int) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.submit(job, priority)
}

func (e *Engine) submit(job Job, priority int) string {
	id := uuid.NewString()
	now := time.Now()
	h := &handler{
		id:              id,
		job:             job,
		priority:        priority,
		seq:             e.seq,
		state:           StatePending,
		createdAt:       now,
		lastStateChange: now,
		queueIndex:      -1,
	}
	e.seq++
	e.jobs[id] = h
	e.pending.push(h)
	e.pendingJobAvailable.Signal()

	log.Info().
		Str("component", "jobs").
		Str("job", id).
		Str("type", job.Type()).
		Int("priority", priority).
		Msg("Job submitted")

	for _, observer := range e.observers {
		observer.JobSubmitted(id)
	}
	return id
}

func (e *Engine) worker(ctx context.Context) {
	defer e.wg.Done()
	for {
		e.mu.Lock()
		for e.pending.Len() == 0 && !e.stopping {
			e.pendingJobAvailable.Wait()
		}
		if e.stopping {
			e.mu.Unlock()
			return
		}
		h := e.pending.pop()
		e.setState(h, StateRunning)
		e.mu.Unlock()

		e.runJob(ctx, h)
	}
}

// runJob steps a job until it completes, pauses, retries or the engine
// stops.
func (e *Engine) runJob(ctx context.Context, h *handler) {
	for {
		start := time.Now()
		result := h.job.Step(ctx)

		e.mu.Lock()
		h.runtime += time.Since(start)

		if h.cancelRequested {
			h.cancelRequested = false
			h.job.Stop(StopCanceled)
			e.complete(h, StateFailure, dicomerr.CodeCanceled, "job canceled")
			e.mu.Unlock()
			return
		}

		switch result.Kind {
		case StepSuccess:
			h.job.Stop(StopSuccess)
			e.complete(h, StateSuccess, dicomerr.CodeSuccess, "")
			e.mu.Unlock()
			return

		case StepFailure:
			h.job.Stop(StopFailure)
			message := ""
			if result.Err != nil {
				message = result.Err.Error()
			}
			e.complete(h, StateFailure, dicomerr.CodeOf(result.Err), message)
			e.mu.Unlock()
			return

		case StepRetry:
			h.retryDeadline = time.Now().Add(result.RetryAfter)
			e.setState(h, StateRetry)
			e.retries[h.id] = h
			e.mu.Unlock()
			return

		default: // StepContinue
			if h.pauseRequested {
				h.pauseRequested = false
				h.job.Stop(StopPaused)
				e.setState(h, StatePaused)
				e.mu.Unlock()
				return
			}
			if e.stopping {
				// Park the job so a restart can resume it.
				h.job.Stop(StopPaused)
				e.setState(h, StatePending)
				e.pending.push(h)
				e.mu.Unlock()
				return
			}
			e.mu.Unlock()
		}
	}
}

// complete moves a handler to the ring of finished jobs. Caller holds the
// engine mutex.
func (e *Engine) complete(h *handler, state JobState, code dicomerr.Code, message string) {
	e.setState(h, state)
	h.errCode = code
	h.errMessage = message

	e.completed = append(e.completed, h)
	for e.maxCompleted >= 0 && len(e.completed) > e.maxCompleted {
		oldest := e.completed[0]
		e.completed = e.completed[1:]
		delete(e.jobs, oldest.id)
	}

	event := log.Info()
	if state == StateFailure {
		event = log.Warn()
	}
	event.
		Str("component", "jobs").
		Str("job", h.id).
		Str("type", h.job.Type()).
		Str("state", string(state)).
		Str("error_code", string(code)).
		Msg("Job completed")

	for _, observer := range e.observers {
		if state == StateSuccess {
			observer.JobSuccess(h.id)
		} else {
			observer.JobFailure(h.id)
		}
	}
	e.someJobComplete.Broadcast()
}

func (e *Engine) setState(h *handler, state JobState) {
	h.state = state
	h.lastStateChange = time.Now()
}

func (e *Engine) retryScheduler(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.ScheduleRetries()
		}
	}
}

// ScheduleRetries moves due retry jobs back to the pending queue,
// priority preserved.
func (e *Engine) ScheduleRetries() {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	for id, h := range e.retries {
		if !h.retryDeadline.After(now) {
			delete(e.retries, id)
			e.setState(h, StatePending)
			e.pending.push(h)
			e.pendingJobAvailable.Signal()
		}
	}
}

func (e *Engine) lookup(id string) (*handler, error) {
	h, ok := e.jobs[id]
	if !ok {
		return nil, dicomerr.Wrap(dicomerr.ErrUnknownResource, "unknown job %q", id)
	}
	return h, nil
}

// Pause takes a job out of scheduling. A running job pauses at its next
// step boundary.
func (e *Engine) Pause(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	h, err := e.lookup(id)
	if err != nil {
		return err
	}
	switch h.state {
	case StatePending:
		e.pending.remove(h)
		h.job.Stop(StopPaused)
		e.setState(h, StatePaused)
	case StateRunning:
		h.pauseRequested = true
	case StateRetry:
		delete(e.retries, id)
		h.job.Stop(StopPaused)
		e.setState(h, StatePaused)
	default:
		return dicomerr.Wrap(dicomerr.ErrBadSequenceOfCalls, "job %q is %s", id, h.state)
	}
	return nil
}

// Resume requeues a paused job with its original priority
func (e *Engine) Resume(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	h, err := e.lookup(id)
	if err != nil {
		return err
	}
	if h.state != StatePaused {
		return dicomerr.Wrap(dicomerr.ErrBadSequenceOfCalls, "job %q is %s, not paused", id, h.state)
	}
	e.setState(h, StatePending)
	e.pending.push(h)
	e.pendingJobAvailable.Signal()
	return nil
}

// Cancel fails a job with the Canceled error code. A running job learns
// at its next step boundary.
func (e *Engine) Cancel(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	h, err := e.lookup(id)
	if err != nil {
		return err
	}
	switch h.state {
	case StatePending:
		e.pending.remove(h)
		h.job.Stop(StopCanceled)
		e.complete(h, StateFailure, dicomerr.CodeCanceled, "job canceled")
	case StateRunning:
		h.cancelRequested = true
	case StateRetry:
		delete(e.retries, id)
		h.job.Stop(StopCanceled)
		e.complete(h, StateFailure, dicomerr.CodeCanceled, "job canceled")
	case StatePaused:
		h.job.Stop(StopCanceled)
		e.complete(h, StateFailure, dicomerr.CodeCanceled, "job canceled")
	}
	return nil
}

// Resubmit reruns a failed job from scratch
func (e *Engine) Resubmit(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	h, err := e.lookup(id)
	if err != nil {
		return err
	}
	if h.state != StateFailure {
		return dicomerr.Wrap(dicomerr.ErrBadSequenceOfCalls, "job %q is %s, not failed", id, h.state)
	}

	for i, candidate := range e.completed {
		if candidate == h {
			e.completed = append(e.completed[:i], e.completed[i+1:]...)
			break
		}
	}
	h.job.Reset()
	h.errCode = ""
	h.errMessage = ""
	h.seq = e.seq
	e.seq++
	e.setState(h, StatePending)
	e.pending.push(h)
	e.pendingJobAvailable.Signal()
	return nil
}

// SetPriority changes a job's priority; a pending job is repositioned in
// the queue.
func (e *Engine) SetPriority(id string, priority int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	h, err := e.lookup(id)
	if err != nil {
		return err
	}
	h.priority = priority
	if h.state == StatePending && h.queueIndex >= 0 {
		e.pending.remove(h)
		e.pending.push(h)
	}
	return nil
}

// ListJobs returns the ids of every known job
func (e *Engine) ListJobs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]string, 0, len(e.jobs))
	for id := range e.jobs {
		out = append(out, id)
	}
	return out
}

// SubmitAndWait blocks until the job completes. Cancellation surfaces as
// a Canceled error, distinct from ordinary failure.
func (e *Engine) SubmitAndWait(job Job, priority int) (map[string]interface{}, error) {
	e.mu.Lock()
	id := e.submit(job, priority)
	h := e.jobs[id]

	for h.state != StateSuccess && h.state != StateFailure {
		if e.stopping {
			e.mu.Unlock()
			return nil, dicomerr.Wrap(dicomerr.ErrBadSequenceOfCalls, "engine is stopping")
		}
		e.someJobComplete.Wait()
	}
	state := h.state
	code := h.errCode
	message := h.errMessage
	e.mu.Unlock()

	if state == StateSuccess {
		return job.PublicContent(), nil
	}
	if code == dicomerr.CodeCanceled {
		return nil, dicomerr.Wrap(dicomerr.ErrCanceled, "job %q", id)
	}
	return nil, dicomerr.Wrap(dicomerr.ErrInternal, "job %q failed (%s): %s", id, code, message)
}
