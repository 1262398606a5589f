package manager

import (
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/procfs"
	"github.com/rs/zerolog"
)

const defaultMemoryThreshold uint64 = 200 << 20

// Request phases passed to SampleAndReclaimIfNeeded.
const (
	PhaseEntry = "entry"
	PhaseExit  = "exit"
)

// Sampler reads the current process memory footprint.
type Sampler interface {
	Sample() (MemorySample, error)
}

// SamplerFunc adapts a function to Sampler.
type SamplerFunc func() (MemorySample, error)

func (f SamplerFunc) Sample() (MemorySample, error) { return f() }

// procSampler reads RSS from /proc/self/stat and falls back to the Go
// runtime's view of obtained memory where procfs is unavailable.
type procSampler struct {
	once sync.Once
	fs   procfs.FS
	err  error
}

// NewProcSampler returns the default Sampler.
func NewProcSampler() Sampler { return &procSampler{} }

func (s *procSampler) Sample() (MemorySample, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	out := MemorySample{HeapBytes: ms.HeapAlloc, At: time.Now()}

	s.once.Do(func() { s.fs, s.err = procfs.NewDefaultFS() })
	if s.err == nil {
		if p, err := s.fs.Self(); err == nil {
			if st, err := p.Stat(); err == nil {
				out.RSSBytes = uint64(st.ResidentMemory())
				return out, nil
			}
		}
	}
	out.RSSBytes = ms.Sys
	return out, nil
}

// Dropper is a cache that can give memory back on demand.
type Dropper interface {
	Name() string
	// Purge empties the cache and reports the bytes released.
	Purge() int64
}

// ResourceOptions tunes ResourceMonitor.
type ResourceOptions struct {
	// ThresholdBytes triggers reclamation when RSS is at or above it.
	ThresholdBytes uint64
	Sampler        Sampler
	Droppers       []Dropper
	Logger         zerolog.Logger
	Publisher      EventPublisher
}

// ResourceMonitor samples memory around every request and reclaims when the
// footprint crosses the threshold. It never fails a request.
type ResourceMonitor struct {
	threshold uint64
	sampler   Sampler
	log       zerolog.Logger
	pub       EventPublisher

	reclaimMu sync.Mutex

	mu       sync.Mutex // guards droppers and last
	droppers []Dropper
	last     MemorySample

	checks   atomic.Int64
	exits    atomic.Int64
	reclaims atomic.Int64
}

func NewResourceMonitor(opts ResourceOptions) *ResourceMonitor {
	if opts.ThresholdBytes == 0 {
		opts.ThresholdBytes = defaultMemoryThreshold
	}
	if opts.Sampler == nil {
		opts.Sampler = NewProcSampler()
	}
	if opts.Publisher == nil {
		opts.Publisher = noopPublisher{}
	}
	return &ResourceMonitor{
		threshold: opts.ThresholdBytes,
		sampler:   opts.Sampler,
		log:       opts.Logger,
		pub:       opts.Publisher,
		droppers:  append([]Dropper(nil), opts.Droppers...),
	}
}

// AddDropper registers a cache to purge on reclamation.
func (m *ResourceMonitor) AddDropper(d Dropper) {
	if d == nil {
		return
	}
	m.mu.Lock()
	m.droppers = append(m.droppers, d)
	m.mu.Unlock()
}

// SampleAndReclaimIfNeeded is called at request entry and exit. It reports
// whether a reclamation ran.
func (m *ResourceMonitor) SampleAndReclaimIfNeeded(phase string) bool {
	m.checks.Add(1)
	if phase == PhaseExit {
		m.exits.Add(1)
	}
	resourceChecks.WithLabelValues(phase).Inc()
	s, ok := m.sample()
	if !ok {
		return false
	}
	if s.RSSBytes < m.threshold {
		return false
	}
	m.log.Warn().Str("phase", phase).Uint64("rss", s.RSSBytes).Uint64("threshold", m.threshold).Msg("memory over threshold")
	m.reclaim("threshold_" + phase)
	return true
}

// ForceReclaim runs reclamation regardless of the current footprint.
func (m *ResourceMonitor) ForceReclaim(reason string) {
	m.checks.Add(1)
	resourceChecks.WithLabelValues(reason).Inc()
	m.reclaim(reason)
}

// OnWorkerRefresh is a DispatcherConfig.OnRefresh hook.
func (m *ResourceMonitor) OnWorkerRefresh(workerID int) {
	m.ForceReclaim("worker_refresh")
}

func (m *ResourceMonitor) sample() (s MemorySample, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Interface("panic", r).Msg("memory sampler panicked")
			ok = false
		}
	}()
	s, err := m.sampler.Sample()
	if err != nil {
		m.log.Debug().Err(err).Msg("memory sample failed")
		return s, false
	}
	resourceRSS.Set(float64(s.RSSBytes))
	m.mu.Lock()
	m.last = s
	m.mu.Unlock()
	return s, true
}

func (m *ResourceMonitor) reclaim(reason string) {
	m.reclaimMu.Lock()
	defer m.reclaimMu.Unlock()

	m.mu.Lock()
	droppers := append([]Dropper(nil), m.droppers...)
	before := m.last
	m.mu.Unlock()

	start := time.Now()
	var freed int64
	for _, d := range droppers {
		freed += m.purge(d)
	}
	runtime.GC()
	debug.FreeOSMemory()

	m.reclaims.Add(1)
	resourceReclaims.WithLabelValues(reason).Inc()
	after, _ := m.sample()
	m.log.Info().
		Str("reason", reason).
		Uint64("rss_before", before.RSSBytes).
		Uint64("rss_after", after.RSSBytes).
		Int64("cache_freed", freed).
		Dur("dur", time.Since(start)).
		Msg("memory_reclaim")
	m.pub.Publish(Event{Name: "memory_reclaim", Op: "resource", Fields: map[string]any{"reason": reason, "rss_after": after.RSSBytes}})
}

func (m *ResourceMonitor) purge(d Dropper) (n int64) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Str("cache", d.Name()).Interface("panic", r).Msg("cache purge panicked")
			n = 0
		}
	}()
	return d.Purge()
}

// Checks counts every sample taken via SampleAndReclaimIfNeeded or ForceReclaim.
func (m *ResourceMonitor) Checks() int64 { return m.checks.Load() }

// ExitChecks counts request-exit checks; one per completed request.
func (m *ResourceMonitor) ExitChecks() int64 { return m.exits.Load() }

// Reclaims counts reclamations performed.
func (m *ResourceMonitor) Reclaims() int64 { return m.reclaims.Load() }

func (m *ResourceMonitor) Threshold() uint64 { return m.threshold }

// Last returns the most recent successful sample.
func (m *ResourceMonitor) Last() MemorySample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}
