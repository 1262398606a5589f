package manager

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type countingRecorder struct {
	mu   sync.Mutex
	seen []string
}

func (r *countingRecorder) Record(_ context.Context, op, kind string, _ time.Time) error {
	r.mu.Lock()
	r.seen = append(r.seen, op+":"+kind)
	r.mu.Unlock()
	return nil
}

type pipelineOpts struct {
	capacity int
	wait     time.Duration
	deadline time.Duration
	init     InitFunc
	recorder OutcomeRecorder
	logger   zerolog.Logger
}

func newTestPipeline(t *testing.T, o pipelineOpts) *Pipeline {
	t.Helper()
	if o.init == nil {
		o.init = func(context.Context) error { return nil }
	}
	res := NewResourceMonitor(ResourceOptions{Sampler: fixedSampler(1)})
	d := NewDispatcher(DispatcherConfig{Deadline: o.deadline, OnRefresh: res.OnWorkerRefresh})
	p := NewPipeline(PipelineOptions{
		Gate:       NewGate(o.capacity, o.wait),
		Warmup:     NewWarmup(o.init, WarmupOptions{RetryAfter: time.Hour}),
		Dispatcher: d,
		Resources:  res,
		Recorder:   o.recorder,
		Logger:     o.logger,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = d.Stop(ctx)
	})
	return p
}

func sleepBody(d time.Duration) Body {
	return func(ctx context.Context, infer InferFunc) (any, error) {
		return infer(ctx, func(context.Context) (any, error) {
			time.Sleep(d)
			return "done", nil
		})
	}
}

func TestPipeline_SecondRequestWaitsForSlot(t *testing.T) {
	p := newTestPipeline(t, pipelineOpts{capacity: 1, wait: 2 * time.Second, deadline: 2 * time.Second})

	start := time.Now()
	outs := make([]Outcome, 2)
	var wg sync.WaitGroup
	for i := range outs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outs[i] = p.Run(context.Background(), "verify", sleepBody(200*time.Millisecond))
		}(i)
	}
	wg.Wait()
	el := time.Since(start)
	for i, o := range outs {
		if o.Kind != OutcomeSuccess || o.Payload != "done" {
			t.Fatalf("request %d: %+v", i, o)
		}
	}
	// serialized: roughly two job durations, never overlapping
	if el < 400*time.Millisecond || el > 1500*time.Millisecond {
		t.Fatalf("wall time %v, want ~400ms", el)
	}
}

func TestPipeline_SlotHoldTimeLoggedAtRelease(t *testing.T) {
	var buf bytes.Buffer
	p := newTestPipeline(t, pipelineOpts{capacity: 1, deadline: 2 * time.Second, logger: zerolog.New(&buf).Level(zerolog.DebugLevel)})

	out := p.Run(context.Background(), "register", sleepBody(120*time.Millisecond))
	if !out.OK() || out.Payload != "done" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if p.Gate().InUse() != 0 {
		t.Fatalf("slot not released")
	}
	var held float64
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var rec map[string]any
		if err := json.Unmarshal(line, &rec); err != nil {
			t.Fatalf("log line %q: %v", line, err)
		}
		if rec["message"] == "gate slot released" {
			held, _ = rec["held"].(float64)
		}
	}
	// zerolog renders durations in milliseconds
	if held < 120 {
		t.Fatalf("held = %vms, want >= 120ms; log=%s", held, buf.String())
	}
}

func TestPipeline_BusyWhenWaitShorterThanJob(t *testing.T) {
	p := newTestPipeline(t, pipelineOpts{capacity: 1, wait: 100 * time.Millisecond, deadline: 2 * time.Second})

	first := make(chan Outcome, 1)
	go func() { first <- p.Run(context.Background(), "verify", sleepBody(500*time.Millisecond)) }()
	for p.Gate().InUse() == 0 {
		time.Sleep(time.Millisecond)
	}

	start := time.Now()
	out := p.Run(context.Background(), "verify", sleepBody(500*time.Millisecond))
	el := time.Since(start)
	if out.Kind != OutcomeBusy || out.Reason != "busy" || out.OK() || out.Payload != nil {
		t.Fatalf("expected busy, got %+v", out)
	}
	if el > 400*time.Millisecond {
		t.Fatalf("busy after %v, want ~100ms", el)
	}
	if o := <-first; o.Kind != OutcomeSuccess {
		t.Fatalf("first request: %+v", o)
	}
}

func TestPipeline_TimeoutAtDeadlineNotJobDuration(t *testing.T) {
	p := newTestPipeline(t, pipelineOpts{capacity: 1, wait: time.Second, deadline: 100 * time.Millisecond})

	start := time.Now()
	out := p.Run(context.Background(), "verify", sleepBody(time.Second))
	el := time.Since(start)
	if out.Kind != OutcomeTimeout {
		t.Fatalf("expected timeout, got %+v", out)
	}
	if el < 90*time.Millisecond || el > 600*time.Millisecond {
		t.Fatalf("timeout after %v, want ~100ms", el)
	}
	// the slot is free again even though the job is still running
	if p.Gate().InUse() != 0 {
		t.Fatalf("slot leaked after timeout")
	}
}

func TestPipeline_TimedOutJobStillHoldsConcurrency(t *testing.T) {
	p := newTestPipeline(t, pipelineOpts{capacity: 1, deadline: 400 * time.Millisecond})

	var running, peak atomic.Int64
	track := func(d time.Duration) Body {
		return func(ctx context.Context, infer InferFunc) (any, error) {
			return infer(ctx, func(context.Context) (any, error) {
				n := running.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(d) // ignores ctx like a hung comparator call
				running.Add(-1)
				return "done", nil
			})
		}
	}

	first := p.Run(context.Background(), "verify", track(550*time.Millisecond))
	if first.Kind != OutcomeTimeout {
		t.Fatalf("first: expected timeout, got %+v", first)
	}
	second := p.Run(context.Background(), "verify", track(10*time.Millisecond))
	if second.Kind != OutcomeSuccess {
		t.Fatalf("second: expected success once the overrunning job ends, got %+v", second)
	}
	if got := peak.Load(); got != 1 {
		t.Fatalf("peak concurrent jobs = %d, want 1", got)
	}
}

func TestPipeline_WarmupFailureIsUnavailable(t *testing.T) {
	var ran bool
	p := newTestPipeline(t, pipelineOpts{init: func(context.Context) error { return errors.New("weights missing") }})
	out := p.Run(context.Background(), "verify", func(ctx context.Context, infer InferFunc) (any, error) {
		return infer(ctx, func(context.Context) (any, error) {
			ran = true
			return nil, nil
		})
	})
	if out.Kind != OutcomeUnavailable || out.Reason != "warmup_failed" {
		t.Fatalf("expected unavailable, got %+v", out)
	}
	if ran {
		t.Fatalf("handler ran without a warm comparator")
	}
	if p.Gate().InUse() != 0 {
		t.Fatalf("slot leaked after warm-up failure")
	}
}

func TestPipeline_ExitReclamationRunsForEveryOutcome(t *testing.T) {
	rec := &countingRecorder{}
	p := newTestPipeline(t, pipelineOpts{capacity: 1, wait: 50 * time.Millisecond, deadline: 50 * time.Millisecond, recorder: rec})

	bodies := map[OutcomeKind]Body{
		OutcomeSuccess: sleepBody(0),
		OutcomeClientError: func(ctx context.Context, infer InferFunc) (any, error) {
			return nil, ErrClient("invalid_image", "bad image")
		},
		OutcomeServerError: func(ctx context.Context, infer InferFunc) (any, error) {
			return infer(ctx, func(context.Context) (any, error) { return nil, errors.New("comparator crashed") })
		},
		OutcomeTimeout: sleepBody(300 * time.Millisecond),
	}
	order := []OutcomeKind{OutcomeSuccess, OutcomeClientError, OutcomeServerError, OutcomeTimeout}
	for i, kind := range order {
		before := p.Resources().ExitChecks()
		out := p.Run(context.Background(), "verify", bodies[kind])
		if out.Kind != kind {
			t.Fatalf("case %d: expected %s, got %+v", i, kind, out)
		}
		if got := p.Resources().ExitChecks() - before; got != 1 {
			t.Fatalf("%s: exit reclamation ran %d times", kind, got)
		}
	}

	before := p.Resources().ExitChecks()
	out := p.Run(context.Background(), "verify", func(ctx context.Context, infer InferFunc) (any, error) {
		panic("handler bug")
	})
	if out.Kind != OutcomeServerError || p.Resources().ExitChecks()-before != 1 {
		t.Fatalf("panic: %+v exits=%d", out, p.Resources().ExitChecks()-before)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.seen) != 5 || rec.seen[0] != "verify:success" || rec.seen[3] != "verify:timeout" {
		t.Fatalf("recorded: %v", rec.seen)
	}
	if p.Outcomes()["verify:client_error"] != 1 {
		t.Fatalf("outcomes: %v", p.Outcomes())
	}
}

func TestPipeline_BusyStillReclaims(t *testing.T) {
	p := newTestPipeline(t, pipelineOpts{capacity: 1, wait: 20 * time.Millisecond, deadline: time.Second})
	slot, err := p.Gate().Acquire(context.Background(), 0)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer slot.Release()

	before := p.Resources().ExitChecks()
	if out := p.Run(context.Background(), "verify", sleepBody(0)); out.Kind != OutcomeBusy {
		t.Fatalf("expected busy, got %+v", out)
	}
	if p.Resources().ExitChecks()-before != 1 {
		t.Fatalf("exit check skipped on busy")
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		kind   OutcomeKind
		reason string
	}{
		{nil, OutcomeSuccess, ""},
		{tooBusyError{wait: time.Second}, OutcomeBusy, "busy"},
		{fmt.Errorf("wrapped: %w", timeoutError{deadline: time.Second}), OutcomeTimeout, "timeout"},
		{warmupFailed(errors.New("x")), OutcomeUnavailable, "warmup_failed"},
		{ErrDependencyUnavailable("down"), OutcomeUnavailable, "unavailable"},
		{fmt.Errorf("image: %w", ErrClient("invalid_image", "bad")), OutcomeClientError, "invalid_image"},
		{ErrServer("evidence_upload_failed", errors.New("503")), OutcomeServerError, "evidence_upload_failed"},
		{context.Canceled, OutcomeServerError, "canceled"},
		{context.DeadlineExceeded, OutcomeTimeout, "timeout"},
		{errors.New("boom"), OutcomeServerError, "internal"},
	}
	for _, tc := range cases {
		got := Classify(tc.err)
		if got.Kind != tc.kind || got.Reason != tc.reason {
			t.Fatalf("Classify(%v) = %s/%s, want %s/%s", tc.err, got.Kind, got.Reason, tc.kind, tc.reason)
		}
	}
}
