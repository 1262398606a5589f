package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"facegate/internal/common/netutil"
	"facegate/internal/comparator"
	"facegate/internal/config"
	"facegate/internal/directory"
	"facegate/internal/httpapi"
	"facegate/internal/imagehost"
	"facegate/internal/manager"
	"facegate/internal/refcache"
	"facegate/internal/stats"
)

type serveFlags struct {
	addr          string
	comparatorURL string
	models        string
	gateCapacity  int
	gateWait      time.Duration
	deadline      time.Duration
	workers       int
	noWarmup      bool
	qualityCheck  bool
	redisAddr     string
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	f := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long:  "Start the face verification HTTP API. Comparator warm-up runs before the listener opens unless disabled.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := loadConfig(opts, os.LookupEnv)
			if err != nil {
				return err
			}
			f.apply(cmd, &cfg)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration:\n%w", err)
			}
			return runServe(cmd.Context(), cfg, path)
		},
	}
	bindServeFlags(cmd, f)
	return cmd
}

func bindServeFlags(cmd *cobra.Command, f *serveFlags) {
	fl := cmd.Flags()
	fl.StringVar(&f.addr, "addr", "", "HTTP listen address, e.g. :5000")
	fl.StringVar(&f.comparatorURL, "comparator-url", "", "Base URL of the face comparison sidecar")
	fl.StringVar(&f.models, "models", "", "Comma-separated comparator models for /verify")
	fl.IntVar(&f.gateCapacity, "gate-capacity", 0, "Concurrent comparator calls admitted")
	fl.DurationVar(&f.gateWait, "gate-wait", 0, "How long a request waits for a gate slot")
	fl.DurationVar(&f.deadline, "deadline", 0, "Per-comparison deadline")
	fl.IntVar(&f.workers, "workers", 0, "Dispatcher workers")
	fl.BoolVar(&f.noWarmup, "no-warmup", false, "Skip comparator warm-up at startup (first request warms up)")
	fl.BoolVar(&f.qualityCheck, "quality-check", false, "Reject captures failing brightness/contrast/sharpness checks")
	fl.StringVar(&f.redisAddr, "redis-addr", "", "Redis address for outcome stats (memory when empty)")
}

// apply overlays explicitly set flags onto cfg.
func (f *serveFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	fl := cmd.Flags()
	if fl.Changed("addr") {
		cfg.Addr = f.addr
	}
	if fl.Changed("comparator-url") {
		cfg.Comparator.URL = f.comparatorURL
	}
	if fl.Changed("models") {
		cfg.Comparator.Models = splitCSV(f.models)
	}
	if fl.Changed("gate-capacity") {
		cfg.Gate.Capacity = f.gateCapacity
	}
	if fl.Changed("gate-wait") {
		cfg.Gate.Wait = config.Duration(f.gateWait)
	}
	if fl.Changed("deadline") {
		cfg.Dispatch.Deadline = config.Duration(f.deadline)
	}
	if fl.Changed("workers") {
		cfg.Dispatch.Workers = f.workers
	}
	if fl.Changed("no-warmup") {
		cfg.Warmup.OnStart = !f.noWarmup
	}
	if fl.Changed("quality-check") {
		cfg.Quality.Enabled = f.qualityCheck
	}
	if fl.Changed("redis-addr") {
		cfg.Stats.RedisAddr = f.redisAddr
	}
}

func runServe(parent context.Context, cfg config.Config, path string) error {
	if parent == nil {
		parent = context.Background()
	}
	log := newLogger(cfg.Log, os.Stderr)
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpapi.SetLogger(log)
	httpapi.SetBaseContext(ctx)
	httpapi.SetMaxBodyBytes(int64(cfg.HTTP.MaxBodyMB) << 20)
	httpapi.SetRetryAfter(cfg.HTTP.RetryAfter.D())
	httpapi.SetCORSOptions(cfg.HTTP.CORSEnabled, cfg.HTTP.CORSOrigins, nil, nil)
	httpapi.SetRateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	httpapi.SetRequestLogLevel(cfg.Log.Requests)

	recorder, events, closeStats := newRecorder(ctx, cfg.Stats, log)
	defer closeStats()

	mgr := newManager(cfg, recorder, events, log)
	if path != "" {
		log.Info().Str("config", path).Msg("configuration loaded")
	}

	if cfg.Warmup.OnStart {
		log.Info().Strs("models", cfg.Comparator.Models).Str("comparator", cfg.Comparator.URL).Msg("warming up comparator")
		if err := mgr.Warmup(ctx); err != nil {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mgr.Close(closeCtx)
			return fmt.Errorf("startup warm-up: %w", err)
		}
	}

	ln, err := netutil.ListenWithFallback(cfg.Addr, cfg.PortSearch)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           httpapi.NewMux(mgr),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Int("gate_capacity", cfg.Gate.Capacity).
			Dur("deadline", cfg.Dispatch.Deadline.D()).Msg("facegate listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout.D())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown error")
	}
	if err := mgr.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("dispatcher did not drain")
	}
	return nil
}

func newManager(cfg config.Config, recorder manager.OutcomeRecorder, events manager.EventPublisher, log zerolog.Logger) *manager.Manager {
	cmp := comparator.NewHTTP(comparator.HTTPConfig{
		BaseURL:        cfg.Comparator.URL,
		APIKey:         cfg.Comparator.APIKey,
		Timeout:        cfg.Comparator.Timeout.D(),
		ConnectTimeout: cfg.Comparator.ConnectTimeout.D(),
	})
	refs := refcache.New(refcache.Options{
		MaxBytes:     int64(cfg.RefCache.MaxMB) << 20,
		MaxItemBytes: int64(cfg.RefCache.ItemMaxMB) << 20,
		Timeout:      cfg.RefCache.Timeout.D(),
	})
	dir := directory.New(directory.Config{
		BaseURL: cfg.Backend.URL,
		APIKey:  cfg.Backend.APIKey,
		Timeout: cfg.Backend.Timeout.D(),
	})
	var host manager.EvidenceHost
	if h := imagehost.New(imagehost.Config{
		BaseURL:   cfg.ImageHost.URL,
		CloudName: cfg.ImageHost.CloudName,
		APIKey:    cfg.ImageHost.APIKey,
		APISecret: cfg.ImageHost.APISecret,
		Folder:    cfg.ImageHost.Folder,
		Timeout:   cfg.ImageHost.Timeout.D(),
	}); h.Configured() {
		host = h
	} else {
		log.Warn().Msg("image host not configured; /verify-voting matches will fail at upload")
	}

	return manager.NewWithConfig(manager.ManagerConfig{
		Comparator:           cmp,
		Models:               cfg.Comparator.Models,
		MatchThreshold:       cfg.Verify.MatchThreshold,
		QualityCheck:         cfg.Quality.Enabled,
		GateCapacity:         cfg.Gate.Capacity,
		GateWait:             cfg.Gate.Wait.D(),
		Workers:              cfg.Dispatch.Workers,
		QueueSize:            cfg.Dispatch.QueueSize,
		Deadline:             cfg.Dispatch.Deadline.D(),
		MaxJobsPerWorker:     cfg.Dispatch.MaxJobsPerWorker,
		RefreshJitter:        cfg.Dispatch.RefreshJitter,
		MaxAbandoned:         cfg.Dispatch.MaxAbandoned,
		WarmupTimeout:        cfg.Warmup.Timeout.D(),
		WarmupRetryAfter:     cfg.Warmup.RetryAfter.D(),
		WarmupWait:           cfg.Warmup.RequestWait.D(),
		MemoryThresholdBytes: uint64(cfg.Memory.ThresholdMB) << 20,
		Directory:            dir,
		ImageHost:            host,
		References:           refs,
		Recorder:             recorder,
		Publisher:            events,
		Logger:               log,
	})
}

// newRecorder returns a redis-backed outcome store when configured and
// reachable, otherwise an in-memory one. With redis it also streams
// pipeline events to the configured channel.
func newRecorder(ctx context.Context, c config.StatsConfig, log zerolog.Logger) (manager.OutcomeRecorder, manager.EventPublisher, func()) {
	if c.RedisAddr == "" {
		return stats.NewMemoryStore(), nil, func() {}
	}
	rdb := redis.NewClient(&redis.Options{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB})
	store := stats.NewRedisStore(rdb, stats.WithPrefix(c.Prefix), stats.WithTTL(c.TTL.D()))
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := store.Ping(pctx); err != nil {
		log.Warn().Err(err).Str("addr", c.RedisAddr).Msg("redis unreachable; keeping outcome stats in memory")
		_ = rdb.Close()
		return stats.NewMemoryStore(), nil, func() {}
	}
	log.Info().Str("addr", c.RedisAddr).Msg("outcome stats in redis")
	if c.EventsChannel == "" {
		return store, nil, func() { _ = rdb.Close() }
	}
	stream := stats.NewEventStream(rdb, c.EventsChannel, 0)
	closeFn := func() {
		fctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := stream.Close(fctx); err != nil {
			log.Warn().Err(err).Msg("event stream did not flush")
		}
		if n := stream.Dropped(); n > 0 {
			log.Warn().Int64("dropped", n).Msg("pipeline events dropped")
		}
		_ = rdb.Close()
	}
	return store, eventPublisher{stream}, closeFn
}

// eventPublisher forwards manager events to a redis stream.
type eventPublisher struct{ s *stats.EventStream }

func (p eventPublisher) Publish(e manager.Event) { p.s.Send(e.Name, e.Op, e.Fields) }
