package manager

import "github.com/prometheus/client_golang/prometheus"

var (
	gateInUse = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "facegate",
		Subsystem: "gate",
		Name:      "slots_in_use",
		Help:      "Gate slots currently held",
	})

	gateWaiting = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "facegate",
		Subsystem: "gate",
		Name:      "waiting_requests",
		Help:      "Requests blocked waiting for a gate slot",
	})

	gateWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "facegate",
		Subsystem: "gate",
		Name:      "wait_seconds",
		Help:      "Time spent waiting for a gate slot",
		Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
	})

	gateHoldSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "facegate",
		Subsystem: "gate",
		Name:      "hold_seconds",
		Help:      "Time a request held its gate slot",
		Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	gateRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "facegate",
		Subsystem: "gate",
		Name:      "busy_total",
		Help:      "Requests rejected because no slot freed up in time",
	})

	warmupAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facegate",
		Subsystem: "warmup",
		Name:      "attempts_total",
		Help:      "Comparator warm-up attempts by result",
	}, []string{"result"})

	dispatchJobs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facegate",
		Subsystem: "dispatch",
		Name:      "jobs_total",
		Help:      "Dispatched jobs by final status",
	}, []string{"status"})

	dispatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "facegate",
		Subsystem: "dispatch",
		Name:      "job_duration_seconds",
		Help:      "Worker execution time of dispatched jobs",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	})

	dispatchBusy = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "facegate",
		Subsystem: "dispatch",
		Name:      "busy_workers",
		Help:      "Workers currently executing a job",
	})

	workerRefreshes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "facegate",
		Subsystem: "dispatch",
		Name:      "worker_refreshes_total",
		Help:      "Workers retired after serving their job quota",
	})

	resourceChecks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facegate",
		Subsystem: "memory",
		Name:      "checks_total",
		Help:      "Resource checks by request phase",
	}, []string{"phase"})

	resourceReclaims = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facegate",
		Subsystem: "memory",
		Name:      "reclaims_total",
		Help:      "Forced memory reclamations by reason",
	}, []string{"reason"})

	resourceRSS = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "facegate",
		Subsystem: "memory",
		Name:      "rss_bytes",
		Help:      "Last sampled resident set size",
	})

	outcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facegate",
		Subsystem: "pipeline",
		Name:      "outcomes_total",
		Help:      "Terminal request outcomes by operation and kind",
	}, []string{"op", "kind"})
)

func init() {
	prometheus.MustRegister(
		gateInUse, gateWaiting, gateWaitSeconds, gateHoldSeconds, gateRejections,
		warmupAttempts,
		dispatchJobs, dispatchDuration, dispatchBusy, workerRefreshes,
		resourceChecks, resourceReclaims, resourceRSS,
		outcomesTotal,
	)
}
