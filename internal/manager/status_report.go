package manager

import (
	"context"
	"time"

	"facegate/pkg/types"
)

// Version is reported by the health route.
const Version = "1.0.0"

// outcomeSnapshotter is implemented by recorders that can report totals.
type outcomeSnapshotter interface {
	Snapshot(ctx context.Context) (map[string]int64, error)
}

// Status builds a detailed status response for /status.
func (m *Manager) Status(ctx context.Context) types.StatusResponse {
	g := m.pipe.Gate()
	ds := m.pipe.Dispatcher().Stats()
	res := m.pipe.Resources()
	last := res.Last()

	resp := types.StatusResponse{
		Gate: types.GateStatus{
			Capacity:    g.Capacity(),
			InUse:       g.InUse(),
			Waiting:     g.Waiting(),
			WaitSeconds: g.DefaultWait().Seconds(),
		},
		Dispatcher: types.DispatcherStatus{
			Workers:         ds.Workers,
			Busy:            ds.Busy,
			Abandoned:       ds.Abandoned,
			Completed:       ds.Completed,
			Failed:          ds.Failed,
			TimedOut:        ds.TimedOut,
			Refreshes:       ds.Refreshes,
			DeadlineSeconds: m.pipe.Dispatcher().Deadline().Seconds(),
		},
		Warmup: types.WarmupStatus{
			State:    m.warmup.State().String(),
			Attempts: m.warmup.Attempts(),
		},
		Memory: types.MemoryStatus{
			RSSBytes:       last.RSSBytes,
			HeapBytes:      last.HeapBytes,
			ThresholdBytes: res.Threshold(),
			Checks:         uint64(res.Checks()),
			Reclaims:       uint64(res.Reclaims()),
		},
		Outcomes:       m.pipe.Outcomes(),
		UptimeSeconds:  int64(time.Since(m.startTime).Seconds()),
		ServerTimeUnix: time.Now().Unix(),
	}
	if err := m.warmup.LastError(); err != nil {
		resp.Warmup.LastError = err.Error()
	}
	if t := m.warmup.ReadyAt(); !t.IsZero() {
		resp.Warmup.ReadyUnix = t.Unix()
	}
	// Prefer the recorder's totals; they may span restarts.
	if s, ok := m.cfg.Recorder.(outcomeSnapshotter); ok {
		if snap, err := s.Snapshot(ctx); err == nil {
			resp.Outcomes = snap
		} else {
			m.log.Warn().Err(err).Msg("outcome snapshot failed")
		}
	}
	return resp
}
