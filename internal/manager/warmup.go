package manager

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultWarmupTimeout    = 120 * time.Second
	defaultWarmupRetryAfter = 15 * time.Second
)

// InitFunc performs the one-time comparator initialization.
type InitFunc func(ctx context.Context) error

// WarmupOptions tunes Warmup. Zero values use package defaults.
type WarmupOptions struct {
	// Timeout bounds a single initialization attempt.
	Timeout time.Duration
	// RetryAfter is how long a failure is reported before the next
	// request may start a new attempt.
	RetryAfter time.Duration
	Logger     zerolog.Logger
	Publisher  EventPublisher
}

// Warmup runs InitFunc at most once at a time and caches success for the
// life of the process. Concurrent callers share the in-flight attempt.
type Warmup struct {
	init InitFunc
	opts WarmupOptions
	now  func() time.Time

	state    atomic.Int32 // WarmupState; written under mu
	attempts atomic.Int64

	mu       sync.Mutex
	done     chan struct{} // closed when the current attempt finishes
	lastErr  error
	failedAt time.Time
	readyAt  time.Time
}

// NewWarmup constructs a Warmup in the NotStarted state.
func NewWarmup(init InitFunc, opts WarmupOptions) *Warmup {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultWarmupTimeout
	}
	if opts.RetryAfter <= 0 {
		opts.RetryAfter = defaultWarmupRetryAfter
	}
	if opts.Publisher == nil {
		opts.Publisher = noopPublisher{}
	}
	return &Warmup{init: init, opts: opts, now: time.Now}
}

// EnsureReady returns nil once the comparator is warm. The first caller
// starts initialization; others wait for that attempt or for ctx.
func (w *Warmup) EnsureReady(ctx context.Context) error {
	if WarmupState(w.state.Load()) == WarmupReady {
		return nil
	}

	w.mu.Lock()
	switch WarmupState(w.state.Load()) {
	case WarmupReady:
		w.mu.Unlock()
		return nil
	case WarmupInProgress:
		done := w.done
		w.mu.Unlock()
		return w.wait(ctx, done)
	case WarmupFailed:
		if w.now().Sub(w.failedAt) < w.opts.RetryAfter {
			err := w.lastErr
			w.mu.Unlock()
			return warmupFailed(err)
		}
	}
	done := make(chan struct{})
	w.done = done
	w.state.Store(int32(WarmupInProgress))
	w.mu.Unlock()

	// The attempt is detached from ctx so a departing caller cannot abort
	// initialization for everyone else.
	go w.run(done)
	return w.wait(ctx, done)
}

func (w *Warmup) wait(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
	case <-ctx.Done():
		return dependencyUnavailableError{reason: "warming_up", msg: "comparator warm-up in progress", cause: ctx.Err()}
	}
	w.mu.Lock()
	st, err := WarmupState(w.state.Load()), w.lastErr
	w.mu.Unlock()
	if st == WarmupReady {
		return nil
	}
	return warmupFailed(err)
}

func (w *Warmup) run(done chan struct{}) {
	n := w.attempts.Add(1)
	start := time.Now()
	w.opts.Logger.Info().Int64("attempt", n).Msg("warmup_start")
	w.opts.Publisher.Publish(Event{Name: "warmup_start", Op: "warmup", Fields: map[string]any{"attempt": n}})

	ctx, cancel := context.WithTimeout(context.Background(), w.opts.Timeout)
	err := callInit(ctx, w.init)
	cancel()

	w.mu.Lock()
	if err != nil {
		w.lastErr = err
		w.failedAt = w.now()
		w.state.Store(int32(WarmupFailed))
	} else {
		w.lastErr = nil
		w.readyAt = w.now()
		w.state.Store(int32(WarmupReady))
	}
	w.mu.Unlock()
	defer close(done)

	dur := time.Since(start)
	if err != nil {
		warmupAttempts.WithLabelValues("failed").Inc()
		w.opts.Logger.Error().Err(err).Int64("attempt", n).Dur("dur", dur).Msg("warmup_failed")
		w.opts.Publisher.Publish(Event{Name: "warmup_failed", Op: "warmup", Fields: map[string]any{"error": err.Error()}})
		return
	}
	warmupAttempts.WithLabelValues("ready").Inc()
	w.opts.Logger.Info().Int64("attempt", n).Dur("dur", dur).Msg("warmup_ready")
	w.opts.Publisher.Publish(Event{Name: "warmup_ready", Op: "warmup", Fields: map[string]any{"dur_ms": dur.Milliseconds()}})
}

// callInit converts an initialization panic into an error.
func callInit(ctx context.Context, fn InitFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("warmup panic: %v", r)
		}
	}()
	if fn == nil {
		return ErrDependencyUnavailable("no comparator configured")
	}
	return fn(ctx)
}

func warmupFailed(cause error) error {
	return dependencyUnavailableError{reason: "warmup_failed", msg: "comparator unavailable", cause: cause}
}

// Reset re-arms a failed warm-up so the next request retries immediately.
// It reports whether the state changed.
func (w *Warmup) Reset() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if WarmupState(w.state.Load()) != WarmupFailed {
		return false
	}
	w.lastErr = nil
	w.failedAt = time.Time{}
	w.state.Store(int32(WarmupNotStarted))
	return true
}

func (w *Warmup) State() WarmupState { return WarmupState(w.state.Load()) }

// Attempts is the number of initialization attempts started so far.
func (w *Warmup) Attempts() int64 { return w.attempts.Load() }

// LastError returns the error of the most recent failed attempt.
func (w *Warmup) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// ReadyAt is the time the warm-up succeeded, or zero.
func (w *Warmup) ReadyAt() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.readyAt
}
