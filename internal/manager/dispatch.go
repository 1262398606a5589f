package manager

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Defaults applied when corresponding DispatcherConfig fields are zero.
const (
	defaultWorkers          = 1
	defaultDeadline         = 30 * time.Second
	defaultMaxJobsPerWorker = 100
	defaultRefreshJitter    = 20
)

// JobStatus is the caller-visible result of a submission.
type JobStatus string

const (
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobTimedOut  JobStatus = "timed_out"
)

type jobState int

const (
	jobQueued jobState = iota
	jobRunning
	jobDone
	jobCanceled  // expired before a worker picked it up
	jobAbandoned // expired while running; the late result is dropped
)

// Job is one submission. Fields below the line are guarded by Dispatcher.mu.
type Job struct {
	ID        string
	Submitted time.Time
	Deadline  time.Time

	fn     Handler
	ctx    context.Context
	result chan Result // buffered(1); the worker never blocks on it

	state    jobState
	replaced bool // a replacement worker was spawned for this abandoned job
}

// Result is what Submit returns.
type Result struct {
	JobID    string
	Status   JobStatus
	Value    any
	Err      error
	Duration time.Duration
}

// DispatcherConfig tunes the worker pool. Zero values use the defaults;
// negative MaxJobsPerWorker or RefreshJitter disable the corresponding
// behavior.
type DispatcherConfig struct {
	Workers   int
	QueueSize int
	// Deadline applies to submissions that don't pass their own.
	Deadline time.Duration
	// MaxJobsPerWorker retires a worker after this many jobs (plus jitter).
	MaxJobsPerWorker int
	RefreshJitter    int
	// MaxAbandoned caps how many timed-out-but-running jobs may have a
	// replacement worker at the same time. Zero keeps execution strictly
	// bounded by Workers: an overrunning job holds its worker until it returns.
	MaxAbandoned int
	// OnRefresh runs after a worker is retired for quota.
	OnRefresh func(workerID int)
	Logger    zerolog.Logger
	Publisher EventPublisher
}

// DispatcherStats is a point-in-time view of the pool.
type DispatcherStats struct {
	Workers   int
	Busy      int
	Abandoned int
	Completed uint64
	Failed    uint64
	TimedOut  uint64
	Refreshes uint64
}

// Dispatcher runs handlers on a small fixed pool of worker goroutines and
// bounds every caller's wait by a deadline. Workers are never killed: a
// job that overruns is abandoned and its eventual result discarded.
type Dispatcher struct {
	cfg  DispatcherConfig
	jobs chan *Job
	quit chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup

	mu        sync.Mutex
	nextID    int
	abandoned int
	rng       *rand.Rand

	workers   atomic.Int64
	busy      atomic.Int64
	completed atomic.Uint64
	failed    atomic.Uint64
	timedOut  atomic.Uint64
	refreshes atomic.Uint64
}

// NewDispatcher constructs a stopped dispatcher; call Start before Submit.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = defaultDeadline
	}
	switch {
	case cfg.MaxJobsPerWorker == 0:
		cfg.MaxJobsPerWorker = defaultMaxJobsPerWorker
	case cfg.MaxJobsPerWorker < 0:
		cfg.MaxJobsPerWorker = 0
	}
	switch {
	case cfg.RefreshJitter == 0:
		cfg.RefreshJitter = defaultRefreshJitter
	case cfg.RefreshJitter < 0:
		cfg.RefreshJitter = 0
	}
	if cfg.MaxAbandoned < 0 {
		cfg.MaxAbandoned = 0
	}
	if cfg.Publisher == nil {
		cfg.Publisher = noopPublisher{}
	}
	return &Dispatcher{
		cfg:  cfg,
		jobs: make(chan *Job, cfg.QueueSize),
		quit: make(chan struct{}),
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Start launches the workers. Subsequent calls are no-ops.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		d.mu.Lock()
		for i := 0; i < d.cfg.Workers; i++ {
			d.spawnLocked()
		}
		d.mu.Unlock()
	})
}

// Stop signals workers to exit and waits for them or ctx. Workers stuck in
// an abandoned job only exit once that job returns.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.stopOnce.Do(func() { close(d.quit) })
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) stopping() bool {
	select {
	case <-d.quit:
		return true
	default:
		return false
	}
}

// Submit runs fn on a worker and waits at most deadline (measured from now,
// queueing included). A non-positive deadline uses the configured default.
func (d *Dispatcher) Submit(ctx context.Context, deadline time.Duration, fn Handler) Result {
	if deadline <= 0 {
		deadline = d.cfg.Deadline
	}
	now := time.Now()
	jctx, cancel := context.WithDeadline(ctx, now.Add(deadline))
	defer cancel()
	job := &Job{
		ID:        uuid.NewString(),
		Submitted: now,
		Deadline:  now.Add(deadline),
		fn:        fn,
		ctx:       jctx,
		result:    make(chan Result, 1),
	}

	select {
	case d.jobs <- job:
	case <-jctx.Done():
		return d.expire(job, jctx.Err(), deadline)
	case <-d.quit:
		return Result{JobID: job.ID, Status: JobFailed, Err: ErrDispatcherStopped}
	}

	select {
	case res := <-job.result:
		return res
	case <-jctx.Done():
		return d.expire(job, jctx.Err(), deadline)
	}
}

// expire resolves a submission whose wait ended before a result arrived.
func (d *Dispatcher) expire(job *Job, cause error, deadline time.Duration) Result {
	d.mu.Lock()
	if len(job.result) > 0 {
		// the worker finished in the same instant; prefer its result
		d.mu.Unlock()
		return <-job.result
	}
	replaced := false
	running := job.state == jobRunning
	switch job.state {
	case jobQueued:
		job.state = jobCanceled
	case jobRunning:
		job.state = jobAbandoned
		if d.abandoned < d.cfg.MaxAbandoned && !d.stopping() {
			d.abandoned++
			job.replaced = true
			replaced = true
			d.spawnLocked()
		}
	}
	d.mu.Unlock()

	res := Result{JobID: job.ID, Duration: time.Since(job.Submitted)}
	if errors.Is(cause, context.DeadlineExceeded) {
		res.Status = JobTimedOut
		res.Err = timeoutError{deadline: deadline}
		d.timedOut.Add(1)
		dispatchJobs.WithLabelValues(string(JobTimedOut)).Inc()
	} else {
		res.Status = JobFailed
		res.Err = cause
		dispatchJobs.WithLabelValues("canceled").Inc()
	}
	d.cfg.Logger.Warn().
		Str("job_id", job.ID).
		Str("status", string(res.Status)).
		Bool("running", running).
		Bool("replacement_spawned", replaced).
		Dur("waited", res.Duration).
		Msg("dispatch_timeout")
	d.cfg.Publisher.Publish(Event{Name: "dispatch_timeout", Op: "dispatch", Fields: map[string]any{"job_id": job.ID, "running": running, "replaced": replaced}})
	return res
}

// spawnLocked starts one worker. d.mu must be held.
func (d *Dispatcher) spawnLocked() {
	id := d.nextID
	d.nextID++
	quota := 0
	if d.cfg.MaxJobsPerWorker > 0 {
		quota = d.cfg.MaxJobsPerWorker
		if d.cfg.RefreshJitter > 0 {
			quota += d.rng.Intn(d.cfg.RefreshJitter + 1)
		}
	}
	d.workers.Add(1)
	d.wg.Add(1)
	go d.work(id, quota)
}

func (d *Dispatcher) work(id, quota int) {
	defer d.wg.Done()
	defer d.workers.Add(-1)
	served := 0
	for {
		select {
		case <-d.quit:
			return
		case job := <-d.jobs:
			ran, retire := d.execute(id, job)
			if retire {
				return
			}
			if ran {
				served++
			}
			if quota > 0 && served >= quota {
				d.refresh(id, served)
				return
			}
		}
	}
}

// execute runs one job. retire is true when the job had been abandoned and
// a replacement worker already took this worker's place.
func (d *Dispatcher) execute(workerID int, job *Job) (ran, retire bool) {
	d.mu.Lock()
	if job.state != jobQueued {
		d.mu.Unlock()
		return false, false
	}
	job.state = jobRunning
	d.mu.Unlock()

	d.busy.Add(1)
	dispatchBusy.Inc()
	start := time.Now()
	val, err := d.run(workerID, job)
	dur := time.Since(start)
	d.busy.Add(-1)
	dispatchBusy.Dec()
	dispatchDuration.Observe(dur.Seconds())

	res := Result{JobID: job.ID, Status: JobCompleted, Value: val, Err: err, Duration: dur}
	if err != nil {
		res.Status = JobFailed
	}
	job.result <- res

	d.mu.Lock()
	abandoned := job.state == jobAbandoned
	if abandoned {
		if job.replaced {
			d.abandoned--
			retire = true
		}
	} else {
		job.state = jobDone
	}
	d.mu.Unlock()

	switch {
	case abandoned:
		d.cfg.Logger.Info().Str("job_id", job.ID).Int("worker", workerID).Dur("dur", dur).Bool("retire", retire).Msg("abandoned job finished")
	case err != nil:
		d.failed.Add(1)
		dispatchJobs.WithLabelValues(string(JobFailed)).Inc()
	default:
		d.completed.Add(1)
		dispatchJobs.WithLabelValues(string(JobCompleted)).Inc()
	}
	return true, retire
}

// run calls the handler, converting a panic into an error so the worker
// survives for the next job.
func (d *Dispatcher) run(workerID int, job *Job) (val any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.ID, r)
			d.cfg.Logger.Error().Str("job_id", job.ID).Int("worker", workerID).Interface("panic", r).Bytes("stack", debug.Stack()).Msg("worker_panic")
			d.cfg.Publisher.Publish(Event{Name: "worker_panic", Op: "dispatch", Fields: map[string]any{"job_id": job.ID}})
		}
	}()
	return job.fn(job.ctx)
}

func (d *Dispatcher) refresh(workerID, served int) {
	if d.stopping() {
		return
	}
	d.refreshes.Add(1)
	workerRefreshes.Inc()
	d.cfg.Logger.Info().Int("worker", workerID).Int("served", served).Msg("worker_refresh")
	d.cfg.Publisher.Publish(Event{Name: "worker_refresh", Op: "dispatch", Fields: map[string]any{"worker": workerID, "served": served}})
	d.mu.Lock()
	d.spawnLocked()
	d.mu.Unlock()
	if d.cfg.OnRefresh != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.cfg.Logger.Error().Interface("panic", r).Msg("refresh hook panicked")
				}
			}()
			d.cfg.OnRefresh(workerID)
		}()
	}
}

// Stats returns a snapshot of pool counters.
func (d *Dispatcher) Stats() DispatcherStats {
	d.mu.Lock()
	abandoned := d.abandoned
	d.mu.Unlock()
	return DispatcherStats{
		Workers:   int(d.workers.Load()),
		Busy:      int(d.busy.Load()),
		Abandoned: abandoned,
		Completed: d.completed.Load(),
		Failed:    d.failed.Load(),
		TimedOut:  d.timedOut.Load(),
		Refreshes: d.refreshes.Load(),
	}
}

// Deadline is the default per-submission deadline.
func (d *Dispatcher) Deadline() time.Duration { return d.cfg.Deadline }
