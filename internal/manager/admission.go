package manager

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

const (
	defaultGateCapacity = 1
	defaultGateWait     = 30 * time.Second
)

// Gate bounds the number of requests allowed into inference at once.
// Waiters are served in FIFO order by the underlying weighted semaphore.
type Gate struct {
	sem      *semaphore.Weighted
	capacity int
	wait     time.Duration
	inUse    atomic.Int64
	waiting  atomic.Int64
}

// Slot is a held gate permit. Release is safe to call more than once.
type Slot struct {
	gate       *Gate
	once       sync.Once
	acquiredAt time.Time
}

// NewGate creates a gate with the given capacity and default acquire wait.
// Non-positive values fall back to 1 slot and 30s.
func NewGate(capacity int, wait time.Duration) *Gate {
	if capacity <= 0 {
		capacity = defaultGateCapacity
	}
	if wait <= 0 {
		wait = defaultGateWait
	}
	return &Gate{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: capacity,
		wait:     wait,
	}
}

// Acquire blocks until a slot is free, wait elapses (tooBusyError) or ctx
// is done (ctx.Err()). A non-positive wait uses the gate default.
func (g *Gate) Acquire(ctx context.Context, wait time.Duration) (*Slot, error) {
	if wait <= 0 {
		wait = g.wait
	}
	// Fast path: respect an already-canceled context
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	g.waiting.Add(1)
	gateWaiting.Inc()
	start := time.Now()
	err := g.sem.Acquire(waitCtx, 1)
	g.waiting.Add(-1)
	gateWaiting.Dec()
	gateWaitSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		gateRejections.Inc()
		return nil, tooBusyError{wait: wait}
	}
	g.inUse.Add(1)
	gateInUse.Inc()
	return &Slot{gate: g, acquiredAt: time.Now()}, nil
}

// Release returns the permit. Only the first call has an effect.
func (s *Slot) Release() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.gate.inUse.Add(-1)
		gateInUse.Dec()
		s.gate.sem.Release(1)
	})
}

// Held reports how long the slot has been held.
func (s *Slot) Held() time.Duration { return time.Since(s.acquiredAt) }

func (g *Gate) Capacity() int { return g.capacity }
func (g *Gate) InUse() int { return int(g.inUse.Load()) }
func (g *Gate) Waiting() int { return int(g.waiting.Load()) }
func (g *Gate) DefaultWait() time.Duration { return g.wait }
