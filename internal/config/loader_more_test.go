package config

import (
	"strings"
	"testing"
)

func TestLoad_NonexistentFile(t *testing.T) {
	if _, err := Load("/definitely/not/a/real/file-12345.yaml"); err == nil {
		t.Fatalf("expected error for nonexistent file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "bad.yaml", "addr: :8080\n: broken\n")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected YAML unmarshal error")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "bad.json", `{ "addr": ":8080", "models": }`)
	if _, err := Load(p); err == nil {
		t.Fatalf("expected JSON unmarshal error")
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "bad.toml", "addr=:8080\nmodels\n")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected TOML unmarshal error")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{Models: []ModelConfig{{Name: "whisper", Type: "speech-to-text", Path: "/w.bin"}, {Name: "mdm", Type: "motion-diffusion", Path: "/mdm"}}}
	cfg.ApplyDefaults()
	if cfg.Addr != ":8080" || cfg.Cache.Backend != "memory" || cfg.Metrics.Backend != "prometheus" {
		t.Fatalf("top-level defaults: %+v", cfg)
	}
	r := cfg.Remote
	if r.MaxConcurrency != 8 || r.FailMax != 5 || r.ResetTimeoutSeconds != 30 || r.CacheTTLSeconds != 1800 {
		t.Fatalf("remote defaults: %+v", r)
	}
	m := cfg.Models[0]
	if m.Device != "auto" || m.MaxMemoryMB != 2048 || m.TimeoutSeconds != 60 || m.CacheTTLSeconds != 300 {
		t.Fatalf("model defaults: %+v", m)
	}
	if m.Enabled == nil || !*m.Enabled || m.CachePredictions == nil || !*m.CachePredictions {
		t.Fatalf("model flag defaults: %+v", m)
	}
	if m.Runtime != "native" || cfg.Models[1].Runtime != "worker" {
		t.Fatalf("runtime defaults: %q %q", m.Runtime, cfg.Models[1].Runtime)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("MLSERVE_ADDR", ":9191")
	t.Setenv("MLSERVE_REDIS_URL", "redis://cache:6379/1")
	t.Setenv("MLSERVE_REMOTE_MAX_CONCURRENCY", "2")
	cfg := Config{}
	cfg.ApplyDefaults()
	cfg.ApplyEnv()
	if cfg.Addr != ":9191" {
		t.Fatalf("addr override: %q", cfg.Addr)
	}
	if cfg.Cache.Backend != "redis" || cfg.Cache.RedisURL != "redis://cache:6379/1" {
		t.Fatalf("redis override: %+v", cfg.Cache)
	}
	if cfg.Remote.MaxConcurrency != 2 {
		t.Fatalf("concurrency override: %d", cfg.Remote.MaxConcurrency)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Config{
		Cache: CacheConfig{Backend: "redis"},
		Models: []ModelConfig{
			{Name: "a", Type: "speech-to-text", Path: "/a"},
			{Name: "a", Type: "speech-to-text", Path: "/a"},
			{Name: "b", Type: "face-recognition", Path: "/b"},
			{Name: "c", Type: "motion-vae", Runtime: "remote"},
			{Name: "d", Type: "motion-diffusion", Path: "/d", Runtime: "worker"},
			{Type: "motion-vae"},
		},
	}
	cfg.ApplyDefaults()
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{
		"redis_url",
		`duplicate name "a"`,
		`unknown type "face-recognition"`,
		"requires remote.url",
		"requires worker.bin",
		"name is required",
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("validation error missing %q:\n%s", want, msg)
		}
	}
}

func TestLoadFileDefaultsOnly(t *testing.T) {
	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Addr != ":8080" || len(cfg.Models) != 0 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}
