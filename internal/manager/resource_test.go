package manager

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakeDropper struct {
	purged atomic.Int64
	panics bool
}

func (d *fakeDropper) Name() string { return "fake" }

func (d *fakeDropper) Purge() int64 {
	d.purged.Add(1)
	if d.panics {
		panic("purge exploded")
	}
	return 128
}

func fixedSampler(rss uint64) Sampler {
	return SamplerFunc(func() (MemorySample, error) {
		return MemorySample{RSSBytes: rss, At: time.Now()}, nil
	})
}

func TestResourceMonitor_BelowThresholdNoReclaim(t *testing.T) {
	d := &fakeDropper{}
	m := NewResourceMonitor(ResourceOptions{ThresholdBytes: 100, Sampler: fixedSampler(50), Droppers: []Dropper{d}})
	if m.SampleAndReclaimIfNeeded(PhaseEntry) {
		t.Fatalf("reclaimed below threshold")
	}
	if m.Checks() != 1 || m.Reclaims() != 0 || d.purged.Load() != 0 {
		t.Fatalf("checks=%d reclaims=%d purged=%d", m.Checks(), m.Reclaims(), d.purged.Load())
	}
	if m.Last().RSSBytes != 50 {
		t.Fatalf("last sample not kept: %+v", m.Last())
	}
}

func TestResourceMonitor_OverThresholdReclaims(t *testing.T) {
	d := &fakeDropper{}
	m := NewResourceMonitor(ResourceOptions{ThresholdBytes: 100, Sampler: fixedSampler(500)})
	m.AddDropper(d)
	if !m.SampleAndReclaimIfNeeded(PhaseExit) {
		t.Fatalf("expected reclamation")
	}
	if m.Reclaims() != 1 || d.purged.Load() != 1 || m.ExitChecks() != 1 {
		t.Fatalf("reclaims=%d purged=%d exits=%d", m.Reclaims(), d.purged.Load(), m.ExitChecks())
	}
}

func TestResourceMonitor_NeverPanics(t *testing.T) {
	d := &fakeDropper{panics: true}
	panicky := SamplerFunc(func() (MemorySample, error) { panic("sampler exploded") })
	m := NewResourceMonitor(ResourceOptions{ThresholdBytes: 1, Sampler: panicky, Droppers: []Dropper{d}})

	m.SampleAndReclaimIfNeeded(PhaseEntry)
	m.ForceReclaim("test")
	if d.purged.Load() != 1 || m.Reclaims() != 1 {
		t.Fatalf("purged=%d reclaims=%d", d.purged.Load(), m.Reclaims())
	}

	failing := SamplerFunc(func() (MemorySample, error) { return MemorySample{}, errors.New("no proc") })
	m2 := NewResourceMonitor(ResourceOptions{ThresholdBytes: 1, Sampler: failing})
	if m2.SampleAndReclaimIfNeeded(PhaseEntry) {
		t.Fatalf("failed sample must not trigger reclamation")
	}
}

func TestProcSampler_ReportsMemory(t *testing.T) {
	s, err := NewProcSampler().Sample()
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if s.RSSBytes == 0 || s.HeapBytes == 0 {
		t.Fatalf("empty sample: %+v", s)
	}
}

func TestResourceMonitor_DefaultThreshold(t *testing.T) {
	m := NewResourceMonitor(ResourceOptions{})
	if m.Threshold() != 200<<20 {
		t.Fatalf("threshold = %d", m.Threshold())
	}
	m.OnWorkerRefresh(0)
	if m.Reclaims() != 1 {
		t.Fatalf("refresh hook did not reclaim")
	}
}
