package manager

import (
	"context"
	"time"
)

// WarmupState is the lifecycle of the comparator warm-up.
type WarmupState int32

const (
	WarmupNotStarted WarmupState = iota
	WarmupInProgress
	WarmupReady
	WarmupFailed
)

func (s WarmupState) String() string {
	switch s {
	case WarmupNotStarted:
		return "not_started"
	case WarmupInProgress:
		return "in_progress"
	case WarmupReady:
		return "ready"
	case WarmupFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// OutcomeKind tags the terminal result of one request.
type OutcomeKind string

const (
	OutcomeSuccess     OutcomeKind = "success"
	OutcomeClientError OutcomeKind = "client_error"
	OutcomeServerError OutcomeKind = "server_error"
	OutcomeUnavailable OutcomeKind = "unavailable"
	OutcomeBusy        OutcomeKind = "busy"
	OutcomeTimeout     OutcomeKind = "timeout"
)

// Outcome is handed to the HTTP layer; one per request.
type Outcome struct {
	Kind OutcomeKind
	// Reason is a machine-readable code, e.g. "busy" or "invalid_image".
	Reason  string
	Message string
	// Payload is set for OutcomeSuccess.
	Payload  any
	Duration time.Duration
}

// OK reports whether the outcome carries a payload.
func (o Outcome) OK() bool { return o.Kind == OutcomeSuccess }

// MemorySample is a point-in-time process memory reading.
type MemorySample struct {
	RSSBytes  uint64
	HeapBytes uint64
	At        time.Time
}

// Handler is an inference-bearing unit of work run on a dispatcher worker.
type Handler func(ctx context.Context) (any, error)

// InferFunc runs h behind the gate, warm-up and dispatcher.
type InferFunc func(ctx context.Context, h Handler) (any, error)

// Body is the request-scoped part of an operation. Validation and
// downstream calls run directly; comparator work goes through infer.
type Body func(ctx context.Context, infer InferFunc) (any, error)

// OutcomeRecorder receives every terminal outcome. Implementations must be
// safe for concurrent use.
type OutcomeRecorder interface {
	Record(ctx context.Context, op, kind string, at time.Time) error
}
