package config

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_MissingFileIsNotExist(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "facegate.yaml"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("want fs.ErrNotExist, got %v", err)
	}
}

func TestLoad_ParseErrorsNameTheFile(t *testing.T) {
	cases := []struct {
		name, body string
	}{
		{"gate.yaml", "gate:\n  capacity: many\n"},
		{"dispatch.yml", "dispatch: [workers]\n"},
		{"verify.json", `{"verify":{"match_threshold":"high"}}`},
		{"comparator.json", `{"comparator":{"models":"Facenet512"`},
		{"memory.toml", "[memory]\nthreshold_mb = \"lots\"\n"},
		{"warmup.toml", "[warmup\non_start = true\n"},
	}
	d := t.TempDir()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := writeTempFile(t, d, tc.name, tc.body)
			_, err := Load(p)
			if err == nil {
				t.Fatalf("expected parse error")
			}
			if !strings.Contains(err.Error(), p) {
				t.Fatalf("error should name %s: %v", p, err)
			}
		})
	}
}

func TestLoad_DurationsAcrossFormats(t *testing.T) {
	d := t.TempDir()
	files := map[string]string{
		"d.yaml": "dispatch:\n  deadline: 1.5\nwarmup:\n  retry_after: 2m\n",
		"d.json": `{"dispatch":{"deadline":"1.5"},"warmup":{"retry_after":"2m"}}`,
		"d.toml": "[dispatch]\ndeadline = \"1.5\"\n[warmup]\nretry_after = \"2m\"\n",
	}
	for name, body := range files {
		cfg, err := Load(writeTempFile(t, d, name, body))
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if cfg.Dispatch.Deadline.D() != 1500*time.Millisecond {
			t.Fatalf("%s: deadline = %v", name, cfg.Dispatch.Deadline.D())
		}
		if cfg.Warmup.RetryAfter.D() != 2*time.Minute {
			t.Fatalf("%s: retry_after = %v", name, cfg.Warmup.RetryAfter.D())
		}
		if cfg.Gate.Wait != Default().Gate.Wait {
			t.Fatalf("%s: gate.wait lost its default", name)
		}
	}
}

func TestLoad_StrictDispatchSurvivesOverlay(t *testing.T) {
	d := t.TempDir()
	cfg, err := Load(writeTempFile(t, d, "w.yaml", "dispatch:\n  workers: 2\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Dispatch.Workers != 2 || cfg.Dispatch.MaxAbandoned != 0 {
		t.Fatalf("unexpected dispatch: %+v", cfg.Dispatch)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}
