package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"mlserve/internal/config"
	"mlserve/pkg/types"
)

func boolp(b bool) *bool { return &b }

func TestBuildConvertsUnits(t *testing.T) {
	models := []config.ModelConfig{{
		Name:             "whisper",
		Type:             "speech-to-text",
		Path:             "/models/whisper.bin",
		MaxMemoryMB:      2048,
		TimeoutSeconds:   60,
		CacheTTLSeconds:  300,
		CachePredictions: boolp(false),
	}}
	r, err := Build(models)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	d, ok := r.Get("whisper")
	if !ok {
		t.Fatalf("whisper missing")
	}
	if d.MemoryBudget != 2048<<20 {
		t.Fatalf("memory budget: %d", d.MemoryBudget)
	}
	if d.LoadTimeout != time.Minute || d.CacheTTL != 5*time.Minute {
		t.Fatalf("durations: %v %v", d.LoadTimeout, d.CacheTTL)
	}
	if !d.Enabled || d.CacheResults {
		t.Fatalf("flags: enabled=%v cache=%v", d.Enabled, d.CacheResults)
	}
	if d.Runtime != types.RuntimeNative || d.Device != "auto" {
		t.Fatalf("defaults: runtime=%q device=%q", d.Runtime, d.Device)
	}
}

func TestBuildExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	r, err := Build([]config.ModelConfig{{Name: "vae", Type: "motion-vae", Path: "~/vae"}})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	d, _ := r.Get("vae")
	want := filepath.Join(home, "vae")
	if os.PathSeparator == '/' && d.Path != want {
		t.Fatalf("expected %q, got %q", want, d.Path)
	}
}

func TestNewRejectsBadDescriptors(t *testing.T) {
	cases := map[string][]types.ModelDescriptor{
		"empty name": {{Type: types.ModelTypeMotionVAE}},
		"duplicate":  {{Name: "a", Type: types.ModelTypeMotionVAE}, {Name: "a", Type: types.ModelTypeMotionVAE}},
		"bad type":   {{Name: "a", Type: "gesture-classifier"}},
	}
	for name, descs := range cases {
		if _, err := New(descs); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestNamesSortedAndCopied(t *testing.T) {
	r, err := New([]types.ModelDescriptor{
		{Name: "motion_vae", Type: types.ModelTypeMotionVAE},
		{Name: "motion_diffusion", Type: types.ModelTypeMotionDiffusion},
		{Name: "whisper", Type: types.ModelTypeSpeechToText},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	names := r.Names()
	if names[0] != "motion_diffusion" || names[2] != "whisper" || r.Len() != 3 {
		t.Fatalf("unexpected order: %v", names)
	}
	names[0] = "mutated"
	if r.Names()[0] != "motion_diffusion" {
		t.Fatalf("Names must return a copy")
	}
	if all := r.All(); all[1].Runtime != types.RuntimeWorker {
		t.Fatalf("motion_vae should default to worker runtime, got %q", all[1].Runtime)
	}
}
