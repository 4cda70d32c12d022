package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

const yamlConfig = `addr: :9999
log_level: debug
max_gpu_memory_mb: 8192
cache:
  backend: redis
  redis_url: redis://localhost:6379/0
remote:
  url: http://triton:8000
  max_concurrency: 4
models:
  - name: whisper
    type: speech-to-text
    path: /models/ggml-base.en.bin
    preload: true
  - name: motion_vae
    type: motion-vae
    path: /models/vae
    runtime: remote
    enabled: false
    max_memory_mb: 1024
`

func TestLoadYAML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", yamlConfig)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9999" || cfg.LogLevel != "debug" || cfg.MaxGPUMemoryMB != 8192 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.Cache.Backend != "redis" || cfg.Remote.MaxConcurrency != 4 {
		t.Fatalf("unexpected nested cfg: %+v %+v", cfg.Cache, cfg.Remote)
	}
	if len(cfg.Models) != 2 {
		t.Fatalf("expected 2 models, got %d", len(cfg.Models))
	}
	if !cfg.Models[0].Preload || cfg.Models[0].Enabled != nil {
		t.Fatalf("model 0 flags: %+v", cfg.Models[0])
	}
	if cfg.Models[1].Enabled == nil || *cfg.Models[1].Enabled {
		t.Fatalf("model 1 should be explicitly disabled: %+v", cfg.Models[1])
	}
}

func TestLoadJSON(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.json", `{"addr":":7070","models":[{"name":"m","type":"motion-diffusion","path":"/m","timeout_seconds":120}]}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":7070" || len(cfg.Models) != 1 || cfg.Models[0].TimeoutSeconds != 120 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadTOML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.toml", "addr=\":8081\"\n[remote]\nfail_max=3\n[[models]]\nname=\"t\"\ntype=\"text-generation\"\npath=\"/x.gguf\"\ncache_predictions=false\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8081" || cfg.Remote.FailMax != 3 || len(cfg.Models) != 1 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.Models[0].CachePredictions == nil || *cfg.Models[0].CachePredictions {
		t.Fatalf("cache_predictions should be explicitly false")
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error on empty path")
	}
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.txt", "not supported")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected unsupported extension error")
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	d := t.TempDir()
	for name, body := range map[string]string{
		"u.yaml": "addr: :1\nvram_budget_mb: 5\n",
		"u.json": `{"addr":":1","vram_budget_mb":5}`,
		"u.toml": "addr=\":1\"\nvram_budget_mb=5\n",
	} {
		p := writeTempFile(t, d, name, body)
		if _, err := Load(p); err == nil {
			t.Fatalf("%s: expected unknown key error", name)
		}
	}
}

func TestLoadEmptyFile(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "empty.yaml", "")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("empty yaml should load: %v", err)
	}
	if cfg.Addr != "" {
		t.Fatalf("expected zero config, got %+v", cfg)
	}
}
