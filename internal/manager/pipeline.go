package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// PipelineOptions wires the admission components together.
type PipelineOptions struct {
	Gate       *Gate
	Warmup     *Warmup
	Dispatcher *Dispatcher
	Resources  *ResourceMonitor
	// GateWait overrides the gate's default acquire wait.
	GateWait time.Duration
	// WarmupWait bounds how long a request waits on an in-flight warm-up.
	// Zero waits as long as the request context allows.
	WarmupWait time.Duration
	// Deadline overrides the dispatcher's default job deadline.
	Deadline  time.Duration
	Recorder  OutcomeRecorder
	Logger    zerolog.Logger
	Publisher EventPublisher
}

// Pipeline is the per-request state machine:
// gate wait, warm-up, dispatch, then slot release and reclamation.
type Pipeline struct {
	gate       *Gate
	warmup     *Warmup
	dispatcher *Dispatcher
	res        *ResourceMonitor
	gateWait   time.Duration
	warmupWait time.Duration
	deadline   time.Duration
	recorder   OutcomeRecorder
	log        zerolog.Logger
	pub        EventPublisher

	mu     sync.Mutex
	counts map[string]int64 // "<op>:<kind>"
}

// NewPipeline builds a Pipeline. Missing components get defaults; the
// dispatcher is started if the caller has not done so.
func NewPipeline(opts PipelineOptions) *Pipeline {
	if opts.Publisher == nil {
		opts.Publisher = noopPublisher{}
	}
	if opts.Gate == nil {
		opts.Gate = NewGate(0, 0)
	}
	if opts.Resources == nil {
		opts.Resources = NewResourceMonitor(ResourceOptions{Logger: opts.Logger, Publisher: opts.Publisher})
	}
	if opts.Dispatcher == nil {
		opts.Dispatcher = NewDispatcher(DispatcherConfig{
			Logger:    opts.Logger,
			Publisher: opts.Publisher,
			OnRefresh: opts.Resources.OnWorkerRefresh,
		})
	}
	opts.Dispatcher.Start()
	if opts.Warmup == nil {
		opts.Warmup = NewWarmup(func(context.Context) error { return nil }, WarmupOptions{Logger: opts.Logger, Publisher: opts.Publisher})
	}
	return &Pipeline{
		gate:       opts.Gate,
		warmup:     opts.Warmup,
		dispatcher: opts.Dispatcher,
		res:        opts.Resources,
		gateWait:   opts.GateWait,
		warmupWait: opts.WarmupWait,
		deadline:   opts.Deadline,
		recorder:   opts.Recorder,
		log:        opts.Logger,
		pub:        opts.Publisher,
		counts:     make(map[string]int64),
	}
}

// Guard wraps h so it only runs while holding a gate slot, after warm-up,
// on a dispatcher worker and within the job deadline. The slot is released
// on every path.
func (p *Pipeline) Guard(h Handler) Handler {
	return func(ctx context.Context) (any, error) {
		slot, err := p.gate.Acquire(ctx, p.gateWait)
		if err != nil {
			return nil, err
		}
		defer func() {
			held := slot.Held()
			slot.Release()
			gateHoldSeconds.Observe(held.Seconds())
			p.log.Debug().Dur("held", held).Msg("gate slot released")
		}()

		if err := p.ensureWarm(ctx); err != nil {
			return nil, err
		}

		res := p.dispatcher.Submit(ctx, p.deadline, h)
		switch res.Status {
		case JobCompleted:
			return res.Value, nil
		default:
			return nil, res.Err
		}
	}
}

func (p *Pipeline) ensureWarm(ctx context.Context) error {
	if p.warmupWait <= 0 {
		return p.warmup.EnsureReady(ctx)
	}
	wctx, cancel := context.WithTimeout(ctx, p.warmupWait)
	defer cancel()
	return p.warmup.EnsureReady(wctx)
}

// Infer is the InferFunc handed to request bodies.
func (p *Pipeline) Infer(ctx context.Context, h Handler) (any, error) {
	return p.Guard(h)(ctx)
}

// Run executes one request. Resource checks bracket the body and the exit
// check runs however the body ends, panics included.
func (p *Pipeline) Run(ctx context.Context, op string, body Body) (out Outcome) {
	start := time.Now()
	p.res.SampleAndReclaimIfNeeded(PhaseEntry)
	defer func() {
		p.res.SampleAndReclaimIfNeeded(PhaseExit)
		out.Duration = time.Since(start)
		p.record(ctx, op, out)
	}()

	val, err := p.call(ctx, op, body)
	out = Classify(err)
	if out.OK() {
		out.Payload = val
	}
	return out
}

func (p *Pipeline) call(ctx context.Context, op string, body Body) (val any, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Str("op", op).Interface("panic", r).Msg("request body panicked")
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if body == nil {
		return nil, errors.New("nil request body")
	}
	return body(ctx, p.Infer)
}

// Classify maps an error from a request body onto an Outcome.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return Outcome{Kind: OutcomeSuccess}
	case IsTooBusy(err):
		return Outcome{Kind: OutcomeBusy, Reason: "busy", Message: err.Error()}
	case IsTimeout(err):
		return Outcome{Kind: OutcomeTimeout, Reason: "timeout", Message: err.Error()}
	case IsDependencyUnavailable(err):
		return Outcome{Kind: OutcomeUnavailable, Reason: reasonOf(err, "unavailable"), Message: err.Error()}
	case IsClientError(err):
		return Outcome{Kind: OutcomeClientError, Reason: reasonOf(err, "bad_request"), Message: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return Outcome{Kind: OutcomeTimeout, Reason: "timeout", Message: err.Error()}
	case errors.Is(err, context.Canceled):
		return Outcome{Kind: OutcomeServerError, Reason: "canceled", Message: "request canceled"}
	default:
		return Outcome{Kind: OutcomeServerError, Reason: reasonOf(err, "internal"), Message: err.Error()}
	}
}

func (p *Pipeline) record(ctx context.Context, op string, out Outcome) {
	p.mu.Lock()
	p.counts[op+":"+string(out.Kind)]++
	p.mu.Unlock()
	outcomesTotal.WithLabelValues(op, string(out.Kind)).Inc()

	ev := p.log.Info()
	if out.Kind == OutcomeServerError {
		ev = p.log.Error()
	} else if !out.OK() {
		ev = p.log.Warn()
	}
	ev.Str("op", op).Str("outcome", string(out.Kind)).Str("reason", out.Reason).Dur("dur", out.Duration).Msg("request done")
	p.pub.Publish(Event{Name: "request_done", Op: op, Fields: map[string]any{"kind": string(out.Kind), "reason": out.Reason}})

	if p.recorder != nil {
		if err := p.recorder.Record(context.WithoutCancel(ctx), op, string(out.Kind), time.Now()); err != nil {
			p.log.Warn().Err(err).Str("op", op).Msg("outcome record failed")
		}
	}
}

// Outcomes returns counts keyed by "<op>:<kind>" since start.
func (p *Pipeline) Outcomes() map[string]int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]int64, len(p.counts))
	for k, v := range p.counts {
		out[k] = v
	}
	return out
}

func (p *Pipeline) Gate() *Gate { return p.gate }
func (p *Pipeline) Warmup() *Warmup { return p.warmup }
func (p *Pipeline) Dispatcher() *Dispatcher { return p.dispatcher }
func (p *Pipeline) Resources() *ResourceMonitor { return p.res }
