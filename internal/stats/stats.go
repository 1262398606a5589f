// Package stats records terminal request outcomes per operation so they
// survive in /status (memory) or across restarts and replicas (redis).
package stats

import (
	"context"
	"time"
)

// Store receives one call per finished request.
type Store interface {
	Record(ctx context.Context, op, kind string, at time.Time) error
	// Snapshot returns cumulative counts keyed by "<op>:<kind>".
	Snapshot(ctx context.Context) (map[string]int64, error)
}

func field(op, kind string) string { return op + ":" + kind }
