package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Duration is a time.Duration that reads "30s"-style strings from config
// files. A bare number is taken as seconds.
type Duration time.Duration

func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) { return []byte(time.Duration(d).String()), nil }

func (d *Duration) UnmarshalText(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" {
		*d = 0
		return nil
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		*d = Duration(n * float64(time.Second))
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q", s)
	}
	*d = Duration(v)
	return nil
}

// Config holds runtime parameters for the service. Load and Default return
// fully populated values; files only need to name what they change.
type Config struct {
	Addr string `json:"addr" yaml:"addr" toml:"addr"`
	// PortSearch is how many following ports to try when Addr is busy.
	PortSearch int `json:"port_search" yaml:"port_search" toml:"port_search"`

	Gate       GateConfig       `json:"gate" yaml:"gate" toml:"gate"`
	Dispatch   DispatchConfig   `json:"dispatch" yaml:"dispatch" toml:"dispatch"`
	Warmup     WarmupConfig     `json:"warmup" yaml:"warmup" toml:"warmup"`
	Memory     MemoryConfig     `json:"memory" yaml:"memory" toml:"memory"`
	Comparator ComparatorConfig `json:"comparator" yaml:"comparator" toml:"comparator"`
	Verify     VerifyConfig     `json:"verify" yaml:"verify" toml:"verify"`
	Quality    QualityConfig    `json:"quality" yaml:"quality" toml:"quality"`
	Backend    BackendConfig    `json:"backend" yaml:"backend" toml:"backend"`
	ImageHost  ImageHostConfig  `json:"imagehost" yaml:"imagehost" toml:"imagehost"`
	RefCache   RefCacheConfig   `json:"refcache" yaml:"refcache" toml:"refcache"`
	HTTP       HTTPConfig       `json:"http" yaml:"http" toml:"http"`
	RateLimit  RateLimitConfig  `json:"ratelimit" yaml:"ratelimit" toml:"ratelimit"`
	Stats      StatsConfig      `json:"stats" yaml:"stats" toml:"stats"`
	Log        LogConfig        `json:"log" yaml:"log" toml:"log"`
}

type GateConfig struct {
	Capacity int      `json:"capacity" yaml:"capacity" toml:"capacity"`
	Wait     Duration `json:"wait" yaml:"wait" toml:"wait"`
}

type DispatchConfig struct {
	Workers          int      `json:"workers" yaml:"workers" toml:"workers"`
	QueueSize        int      `json:"queue_size" yaml:"queue_size" toml:"queue_size"`
	Deadline         Duration `json:"deadline" yaml:"deadline" toml:"deadline"`
	MaxJobsPerWorker int      `json:"max_jobs_per_worker" yaml:"max_jobs_per_worker" toml:"max_jobs_per_worker"`
	RefreshJitter    int      `json:"refresh_jitter" yaml:"refresh_jitter" toml:"refresh_jitter"`
	// MaxAbandoned caps replacement workers for timed-out jobs. 0 keeps
	// comparator calls strictly serialized behind the gate.
	MaxAbandoned int `json:"max_abandoned" yaml:"max_abandoned" toml:"max_abandoned"`
}

type WarmupConfig struct {
	OnStart    bool     `json:"on_start" yaml:"on_start" toml:"on_start"`
	Timeout    Duration `json:"timeout" yaml:"timeout" toml:"timeout"`
	RetryAfter Duration `json:"retry_after" yaml:"retry_after" toml:"retry_after"`
	// RequestWait bounds how long a request waits on an in-flight warm-up;
	// zero waits for the request's own deadline.
	RequestWait Duration `json:"request_wait" yaml:"request_wait" toml:"request_wait"`
}

type MemoryConfig struct {
	ThresholdMB int `json:"threshold_mb" yaml:"threshold_mb" toml:"threshold_mb"`
}

type ComparatorConfig struct {
	URL            string   `json:"url" yaml:"url" toml:"url"`
	APIKey         string   `json:"api_key" yaml:"api_key" toml:"api_key"`
	Models         []string `json:"models" yaml:"models" toml:"models"`
	Timeout        Duration `json:"timeout" yaml:"timeout" toml:"timeout"`
	ConnectTimeout Duration `json:"connect_timeout" yaml:"connect_timeout" toml:"connect_timeout"`
}

type VerifyConfig struct {
	MatchThreshold float64 `json:"match_threshold" yaml:"match_threshold" toml:"match_threshold"`
}

type QualityConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled" toml:"enabled"`
}

type BackendConfig struct {
	URL     string   `json:"url" yaml:"url" toml:"url"`
	APIKey  string   `json:"api_key" yaml:"api_key" toml:"api_key"`
	Timeout Duration `json:"timeout" yaml:"timeout" toml:"timeout"`
}

type ImageHostConfig struct {
	URL       string   `json:"url" yaml:"url" toml:"url"`
	CloudName string   `json:"cloud_name" yaml:"cloud_name" toml:"cloud_name"`
	APIKey    string   `json:"api_key" yaml:"api_key" toml:"api_key"`
	APISecret string   `json:"api_secret" yaml:"api_secret" toml:"api_secret"`
	Folder    string   `json:"folder" yaml:"folder" toml:"folder"`
	Timeout   Duration `json:"timeout" yaml:"timeout" toml:"timeout"`
}

type RefCacheConfig struct {
	MaxMB     int      `json:"max_mb" yaml:"max_mb" toml:"max_mb"`
	ItemMaxMB int      `json:"item_max_mb" yaml:"item_max_mb" toml:"item_max_mb"`
	Timeout   Duration `json:"timeout" yaml:"timeout" toml:"timeout"`
}

type HTTPConfig struct {
	MaxBodyMB   int      `json:"max_body_mb" yaml:"max_body_mb" toml:"max_body_mb"`
	CORSEnabled bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	RetryAfter  Duration `json:"retry_after" yaml:"retry_after" toml:"retry_after"`
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

type RateLimitConfig struct {
	RPS   float64 `json:"rps" yaml:"rps" toml:"rps"`
	Burst int     `json:"burst" yaml:"burst" toml:"burst"`
}

type StatsConfig struct {
	RedisAddr     string   `json:"redis_addr" yaml:"redis_addr" toml:"redis_addr"`
	RedisPassword string   `json:"redis_password" yaml:"redis_password" toml:"redis_password"`
	RedisDB       int      `json:"redis_db" yaml:"redis_db" toml:"redis_db"`
	Prefix        string   `json:"prefix" yaml:"prefix" toml:"prefix"`
	TTL           Duration `json:"ttl" yaml:"ttl" toml:"ttl"`
	// EventsChannel receives pipeline events via PUBLISH; empty disables.
	EventsChannel string `json:"events_channel" yaml:"events_channel" toml:"events_channel"`
}

type LogConfig struct {
	Level string `json:"level" yaml:"level" toml:"level"`
	// Format is auto, json or console. Auto picks console on a terminal.
	Format string `json:"format" yaml:"format" toml:"format"`
	// Requests is the per-request log level: off, error, info or debug.
	Requests string `json:"requests" yaml:"requests" toml:"requests"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr:       ":5000",
		PortSearch: 10,
		Gate:       GateConfig{Capacity: 1, Wait: Duration(30 * time.Second)},
		Dispatch: DispatchConfig{
			Workers:          1,
			Deadline:         Duration(30 * time.Second),
			MaxJobsPerWorker: 100,
			RefreshJitter:    20,
			MaxAbandoned:     0,
		},
		Warmup: WarmupConfig{
			OnStart:    true,
			Timeout:    Duration(120 * time.Second),
			RetryAfter: Duration(15 * time.Second),
		},
		Memory: MemoryConfig{ThresholdMB: 200},
		Comparator: ComparatorConfig{
			URL:            "http://127.0.0.1:5001",
			Models:         []string{"VGG-Face", "Facenet", "OpenFace"},
			Timeout:        Duration(60 * time.Second),
			ConnectTimeout: Duration(5 * time.Second),
		},
		Verify:  VerifyConfig{MatchThreshold: 0.75},
		Backend: BackendConfig{URL: "http://localhost:3000", Timeout: Duration(10 * time.Second)},
		ImageHost: ImageHostConfig{
			URL:     "https://api.cloudinary.com/v1_1",
			Folder:  "face-verification",
			Timeout: Duration(30 * time.Second),
		},
		RefCache: RefCacheConfig{MaxMB: 32, ItemMaxMB: 10, Timeout: Duration(15 * time.Second)},
		HTTP: HTTPConfig{
			MaxBodyMB:       10,
			CORSEnabled:     true,
			CORSOrigins:     []string{"*"},
			RetryAfter:      Duration(time.Second),
			ShutdownTimeout: Duration(10 * time.Second),
		},
		RateLimit: RateLimitConfig{Burst: 5},
		Stats:     StatsConfig{Prefix: "facegate:stats", TTL: Duration(24 * time.Hour), EventsChannel: "facegate:events"},
		Log:       LogConfig{Level: "info", Format: "auto", Requests: "info"},
	}
}

// ApplyEnv overlays environment variables. lookup is normally os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(key); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	dur := func(key string, dst *Duration) {
		if v, ok := lookup(key); ok && v != "" {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
			}
		}
	}

	if v, ok := lookup("PORT"); ok && v != "" {
		c.Addr = ":" + v
	}
	str("FACEGATE_ADDR", &c.Addr)
	num("FACEGATE_PORT_SEARCH", &c.PortSearch)
	num("FACEGATE_GATE_CAPACITY", &c.Gate.Capacity)
	dur("FACEGATE_GATE_WAIT", &c.Gate.Wait)
	num("FACEGATE_WORKERS", &c.Dispatch.Workers)
	dur("FACEGATE_DEADLINE", &c.Dispatch.Deadline)
	num("FACEGATE_MAX_JOBS_PER_WORKER", &c.Dispatch.MaxJobsPerWorker)
	num("FACEGATE_MAX_ABANDONED", &c.Dispatch.MaxAbandoned)
	flag("FACEGATE_WARMUP_ON_START", &c.Warmup.OnStart)
	dur("FACEGATE_WARMUP_TIMEOUT", &c.Warmup.Timeout)
	num("FACEGATE_MEMORY_THRESHOLD_MB", &c.Memory.ThresholdMB)
	str("FACEGATE_COMPARATOR_URL", &c.Comparator.URL)
	str("FACEGATE_COMPARATOR_API_KEY", &c.Comparator.APIKey)
	if v, ok := lookup("FACEGATE_MODELS"); ok && v != "" {
		c.Comparator.Models = splitCSV(v)
	}
	float("FACEGATE_MATCH_THRESHOLD", &c.Verify.MatchThreshold)
	flag("FACEGATE_QUALITY_CHECK", &c.Quality.Enabled)
	str("BACKEND_URL", &c.Backend.URL)
	str("BACKEND_API_KEY", &c.Backend.APIKey)
	str("CLOUDINARY_CLOUD_NAME", &c.ImageHost.CloudName)
	str("CLOUDINARY_API_KEY", &c.ImageHost.APIKey)
	str("CLOUDINARY_API_SECRET", &c.ImageHost.APISecret)
	float("FACEGATE_RATE_RPS", &c.RateLimit.RPS)
	num("FACEGATE_RATE_BURST", &c.RateLimit.Burst)
	str("FACEGATE_REDIS_ADDR", &c.Stats.RedisAddr)
	str("FACEGATE_REDIS_PASSWORD", &c.Stats.RedisPassword)
	str("FACEGATE_LOG_LEVEL", &c.Log.Level)
	str("FACEGATE_LOG_FORMAT", &c.Log.Format)
	return errors.Join(errs...)
}

// Validate rejects values the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if strings.TrimSpace(c.Addr) == "" {
		bad("addr is required")
	}
	if c.PortSearch < 0 {
		bad("port_search must be >= 0")
	}
	if c.Gate.Capacity < 1 {
		bad("gate.capacity must be >= 1, got %d", c.Gate.Capacity)
	}
	if c.Gate.Wait < 0 {
		bad("gate.wait must be >= 0")
	}
	if c.Dispatch.Workers < 1 {
		bad("dispatch.workers must be >= 1, got %d", c.Dispatch.Workers)
	}
	if c.Dispatch.Deadline <= 0 {
		bad("dispatch.deadline must be > 0")
	}
	if c.Dispatch.MaxAbandoned < 0 {
		bad("dispatch.max_abandoned must be >= 0")
	}
	if c.Memory.ThresholdMB <= 0 {
		bad("memory.threshold_mb must be > 0")
	}
	if u, err := url.Parse(c.Comparator.URL); err != nil || u.Scheme == "" || u.Host == "" {
		bad("comparator.url %q is not an absolute URL", c.Comparator.URL)
	}
	if len(c.Comparator.Models) == 0 {
		bad("comparator.models must name at least one model")
	}
	if t := c.Verify.MatchThreshold; t <= 0 || t >= 1 {
		bad("verify.match_threshold must be in (0,1), got %v", t)
	}
	if c.HTTP.MaxBodyMB <= 0 {
		bad("http.max_body_mb must be > 0")
	}
	if c.RateLimit.RPS < 0 {
		bad("ratelimit.rps must be >= 0")
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		bad("log.level: %v", err)
	}
	switch c.Log.Format {
	case "auto", "json", "console":
	default:
		bad("log.format must be auto, json or console, got %q", c.Log.Format)
	}
	return errors.Join(errs...)
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
