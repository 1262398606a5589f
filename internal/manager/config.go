package manager

import (
	"time"

	"github.com/rs/zerolog"

	"facegate/internal/comparator"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultMatchThreshold = 0.75
	defaultHealthWait     = 5 * time.Second
)

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	Comparator comparator.Comparator
	// Models run by /verify; /register and /verify-voting use the first.
	Models         []string
	MatchThreshold float64
	QualityCheck   bool

	GateCapacity int
	GateWait     time.Duration

	Workers          int
	QueueSize        int
	Deadline         time.Duration
	MaxJobsPerWorker int
	RefreshJitter    int
	MaxAbandoned     int

	WarmupTimeout    time.Duration
	WarmupRetryAfter time.Duration
	// WarmupWait bounds how long a request waits on an in-flight warm-up.
	WarmupWait time.Duration
	// HealthWait bounds the warm-up check done by Health.
	HealthWait time.Duration

	MemoryThresholdBytes uint64
	Sampler              Sampler

	Directory  VoterDirectory
	ImageHost  EvidenceHost
	References ReferenceSource

	Recorder  OutcomeRecorder
	Logger    zerolog.Logger
	Publisher EventPublisher
}

// NewWithConfig constructs a Manager from ManagerConfig and starts its
// dispatcher. Warm-up is lazy; call Warmup to run it eagerly.
func NewWithConfig(cfg ManagerConfig) *Manager {
	if cfg.MatchThreshold <= 0 || cfg.MatchThreshold >= 1 {
		cfg.MatchThreshold = defaultMatchThreshold
	}
	if cfg.HealthWait <= 0 {
		cfg.HealthWait = defaultHealthWait
	}
	if cfg.Publisher == nil {
		cfg.Publisher = noopPublisher{}
	}
	m := &Manager{
		cfg:       cfg,
		cmp:       cfg.Comparator,
		ensemble:  comparator.NewEnsemble(cfg.Comparator, cfg.Models, comparator.DefaultOptions("")),
		log:       cfg.Logger,
		startTime: time.Now(),
	}

	res := NewResourceMonitor(ResourceOptions{
		ThresholdBytes: cfg.MemoryThresholdBytes,
		Sampler:        cfg.Sampler,
		Logger:         cfg.Logger,
		Publisher:      cfg.Publisher,
	})
	if d, ok := cfg.References.(Dropper); ok {
		res.AddDropper(d)
	}
	disp := NewDispatcher(DispatcherConfig{
		Workers:          cfg.Workers,
		QueueSize:        cfg.QueueSize,
		Deadline:         cfg.Deadline,
		MaxJobsPerWorker: cfg.MaxJobsPerWorker,
		RefreshJitter:    cfg.RefreshJitter,
		MaxAbandoned:     cfg.MaxAbandoned,
		OnRefresh:        res.OnWorkerRefresh,
		Logger:           cfg.Logger,
		Publisher:        cfg.Publisher,
	})
	m.warmup = NewWarmup(m.initComparator, WarmupOptions{
		Timeout:    cfg.WarmupTimeout,
		RetryAfter: cfg.WarmupRetryAfter,
		Logger:     cfg.Logger,
		Publisher:  cfg.Publisher,
	})
	m.pipe = NewPipeline(PipelineOptions{
		Gate:       NewGate(cfg.GateCapacity, cfg.GateWait),
		Warmup:     m.warmup,
		Dispatcher: disp,
		Resources:  res,
		WarmupWait: cfg.WarmupWait,
		Recorder:   cfg.Recorder,
		Logger:     cfg.Logger,
		Publisher:  cfg.Publisher,
	})
	return m
}
