package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"facegate/internal/config"
	"facegate/internal/manager"
	"facegate/internal/stats"
)

func TestSplitCSV(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"a,b,c", []string{"a", "b", "c"}},
		{" a , b , c ", []string{"a", "b", "c"}},
		{"a,,c", []string{"a", "c"}},
		{"", nil},
	}
	for _, c := range cases {
		got := splitCSV(c.in)
		if len(got) != len(c.want) {
			t.Fatalf("%q -> %v, want %v", c.in, got, c.want)
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Fatalf("%q -> %v, want %v", c.in, got, c.want)
			}
		}
	}
}

func noEnv(string) (string, bool) { return "", false }

func TestLoadConfig_FileThenEnvThenFlag(t *testing.T) {
	d := t.TempDir()
	p := filepath.Join(d, "facegate.yaml")
	if err := os.WriteFile(p, []byte("addr: \":7001\"\ngate:\n  capacity: 3\nlog:\n  level: warn\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	env := func(k string) (string, bool) {
		if k == "FACEGATE_GATE_CAPACITY" {
			return "4", true
		}
		return "", false
	}
	cfg, path, err := loadConfig(&rootOptions{configPath: p, logLevel: "debug"}, env)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if path != p || cfg.Addr != ":7001" || cfg.Gate.Capacity != 4 || cfg.Log.Level != "debug" {
		t.Fatalf("unexpected: path=%s cfg=%+v", path, cfg)
	}
}

func TestLoadConfig_DefaultsWithoutFile(t *testing.T) {
	wd, _ := os.Getwd()
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	defer func() { _ = os.Chdir(wd) }()
	t.Setenv("HOME", t.TempDir())

	cfg, path, err := loadConfig(&rootOptions{}, noEnv)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if path != "" || cfg.Addr != config.Default().Addr {
		t.Fatalf("expected defaults, got path=%q addr=%q", path, cfg.Addr)
	}
}

func TestServeFlagsOverrideConfig(t *testing.T) {
	f := &serveFlags{}
	cmd := &cobra.Command{Use: "serve"}
	bindServeFlags(cmd, f)
	if err := cmd.ParseFlags([]string{"--addr", ":9100", "--gate-wait", "2s", "--models", "Facenet,ArcFace", "--no-warmup"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg := config.Default()
	f.apply(cmd, &cfg)
	if cfg.Addr != ":9100" || cfg.Gate.Wait.D() != 2*time.Second || cfg.Warmup.OnStart {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if len(cfg.Comparator.Models) != 2 || cfg.Gate.Capacity != 1 {
		t.Fatalf("unset flags must keep config values: %+v", cfg)
	}
}

func TestConfigPrintRedactsSecrets(t *testing.T) {
	d := t.TempDir()
	p := filepath.Join(d, "cfg.json")
	if err := os.WriteFile(p, []byte(`{"backend":{"api_key":"s3cret"}}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"config", "print", "--config", p, "--format", "json"})
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if strings.Contains(out.String(), "s3cret") || !strings.Contains(out.String(), `"api_key": "***"`) {
		t.Fatalf("secret not redacted: %s", out.String())
	}
}

func TestConfigValidate(t *testing.T) {
	d := t.TempDir()
	bad := filepath.Join(d, "bad.yaml")
	if err := os.WriteFile(bad, []byte("gate:\n  capacity: 0\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"config", "validate", "--config", bad})
	if err := root.Execute(); err == nil || !strings.Contains(err.Error(), "gate.capacity") {
		t.Fatalf("expected capacity error, got %v", err)
	}
}

func TestNewLogger(t *testing.T) {
	l := newLogger(config.LogConfig{Level: "warn", Format: "json"}, os.Stderr)
	if l.GetLevel() != zerolog.WarnLevel {
		t.Fatalf("level=%v", l.GetLevel())
	}
	l = newLogger(config.LogConfig{Level: "nonsense", Format: "json"}, os.Stderr)
	if l.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("bad level should fall back to info, got %v", l.GetLevel())
	}
	if !useConsole("console", nil) || useConsole("json", os.Stderr) || useConsole("auto", nil) {
		t.Fatalf("unexpected console selection")
	}
}

func TestNewRecorder(t *testing.T) {
	ctx := context.Background()
	log := zerolog.Nop()

	rec, pub, closeFn := newRecorder(ctx, config.StatsConfig{}, log)
	closeFn()
	if _, ok := rec.(*stats.MemoryStore); !ok || pub != nil {
		t.Fatalf("no redis: got %T, %v", rec, pub)
	}

	mr := miniredis.RunT(t)
	c := config.Default().Stats
	c.RedisAddr = mr.Addr()
	rec, pub, closeFn = newRecorder(ctx, c, log)
	if _, ok := rec.(*stats.RedisStore); !ok || pub == nil {
		t.Fatalf("redis: got %T, %v", rec, pub)
	}
	pub.Publish(manager.Event{Name: "warmup_ready", Op: "warmup"})
	if err := rec.Record(ctx, "verify", "success", time.Now()); err != nil {
		t.Fatalf("record: %v", err)
	}
	closeFn()
	if !mr.Exists("facegate:stats:total") {
		t.Fatal("expected totals hash in redis")
	}

	// unreachable redis falls back to memory
	c.RedisAddr = "127.0.0.1:1"
	rec, pub, closeFn = newRecorder(ctx, c, log)
	defer closeFn()
	if _, ok := rec.(*stats.MemoryStore); !ok || pub != nil {
		t.Fatalf("fallback: got %T, %v", rec, pub)
	}
}
