package manager

import (
	"errors"
	"testing"
	"time"

	"mlserve/pkg/types"
)

func TestAdmissionRejectsOversizedModel(t *testing.T) {
	d := desc("big")
	d.MemoryBudget = 2 * mb
	l := &fakeLoader{}
	rec := newCountingRecorder()
	m := newTestManager(t, []types.ModelDescriptor{d}, l, func(c *ManagerConfig) {
		c.Prober = cpuOnlyProber(mb)
		c.Metrics = rec
	})

	_, err := m.LoadModel(testCtx(t), "big")
	var ime *InsufficientMemoryError
	if !errors.As(err, &ime) {
		t.Fatalf("expected InsufficientMemoryError, got %v", err)
	}
	if ime.Required != 2*mb || ime.Available != mb || ime.Device != "cpu" {
		t.Fatalf("unexpected error fields: %+v", ime)
	}
	if KindOf(err) != KindInsufficientMemory {
		t.Fatalf("kind: %q", KindOf(err))
	}
	if l.calls.Load() != 0 {
		t.Fatalf("loader must not be invoked when admission fails")
	}
	mustStatus(t, m, "big", types.StatusError)
	if rec.loads["insufficient_memory"] != 1 {
		t.Fatalf("load outcome: %+v", rec.loads)
	}
}

func TestAdmissionEstimatesFromWeights(t *testing.T) {
	dir := t.TempDir()
	d := desc("est")
	d.MemoryBudget = 0
	d.Path = createModelFile(t, dir, "weights.bin", 2)
	m := newTestManager(t, []types.ModelDescriptor{d}, &fakeLoader{}, func(c *ManagerConfig) {
		c.Prober = cpuOnlyProber(mb)
	})
	_, err := m.LoadModel(testCtx(t), "est")
	var ime *InsufficientMemoryError
	if !errors.As(err, &ime) || ime.Required != 2*mb {
		t.Fatalf("expected required estimated from weights, got %v", err)
	}
}

func TestAdmissionMissingWeightsIsLoadError(t *testing.T) {
	d := desc("gone")
	d.MemoryBudget = 0
	d.Path = t.TempDir() + "/missing.bin"
	l := &fakeLoader{}
	m := newTestManager(t, []types.ModelDescriptor{d}, l)
	if _, err := m.LoadModel(testCtx(t), "gone"); !IsModelLoad(err) {
		t.Fatalf("expected ModelLoadError, got %v", err)
	}
	if l.calls.Load() != 0 {
		t.Fatalf("loader must not run")
	}
}

func TestAdmissionProbeFailureIsAdvisory(t *testing.T) {
	p := cpuOnlyProber(0)
	p.availErr = errors.New("probe unavailable")
	m := newTestManager(t, []types.ModelDescriptor{desc("m")}, &fakeLoader{}, func(c *ManagerConfig) { c.Prober = p })
	if _, err := m.LoadModel(testCtx(t), "m"); err != nil {
		t.Fatalf("a failed probe must not block the load: %v", err)
	}
}

func TestProcessCapCountsReservations(t *testing.T) {
	a, b := desc("a"), desc("b")
	a.MemoryBudget, b.MemoryBudget = 2*mb, 2*mb
	m := newTestManager(t, []types.ModelDescriptor{a, b}, &fakeLoader{}, func(c *ManagerConfig) {
		c.MaxCPUMemory = 3 * mb
	})
	if _, err := m.LoadModel(testCtx(t), "a"); err != nil {
		t.Fatalf("load a: %v", err)
	}
	_, err := m.LoadModel(testCtx(t), "b")
	var ime *InsufficientMemoryError
	if !errors.As(err, &ime) || ime.Available != mb {
		t.Fatalf("expected 1MiB headroom under the cap, got %v", err)
	}
	if st := m.Status(); st.ReservedBytes != 2*mb {
		t.Fatalf("reserved: %d", st.ReservedBytes)
	}

	// Unloading releases the reservation.
	if err := m.UnloadModel(testCtx(t), "a"); err != nil {
		t.Fatalf("unload a: %v", err)
	}
	if _, err := m.LoadModel(testCtx(t), "b"); err != nil {
		t.Fatalf("load b after unload: %v", err)
	}
}

func TestEvictIdleMakesRoom(t *testing.T) {
	a, b := desc("a"), desc("b")
	a.MemoryBudget, b.MemoryBudget = 2*mb, 2*mb
	l := &fakeLoader{}
	pub := NewMemoryPublisher()
	m := newTestManager(t, []types.ModelDescriptor{a, b}, l, func(c *ManagerConfig) {
		c.MaxCPUMemory = 3 * mb
		c.EvictIdle = true
		c.Publisher = pub
	})
	if _, err := m.LoadModel(testCtx(t), "a"); err != nil {
		t.Fatalf("load a: %v", err)
	}
	if _, err := m.LoadModel(testCtx(t), "b"); err != nil {
		t.Fatalf("load b with eviction: %v", err)
	}
	mustStatus(t, m, "a", types.StatusNotLoaded)
	mustStatus(t, m, "b", types.StatusReady)
	if c := l.handle(0).cleanups.Load(); c != 1 {
		t.Fatalf("evicted handle cleanups: %d", c)
	}
	if st := m.Status(); st.EvictionsTotal != 1 {
		t.Fatalf("evictions: %d", st.EvictionsTotal)
	}
	names := pub.Names("a")
	if len(names) == 0 || names[len(names)-3] != EventEvict {
		t.Fatalf("expected evict before unload events, got %v", names)
	}
}

func TestEvictPrefersLeastRecentlyUsed(t *testing.T) {
	a, b, c := desc("a"), desc("b"), desc("c")
	m := newTestManager(t, []types.ModelDescriptor{a, b, c}, &fakeLoader{}, func(cfg *ManagerConfig) {
		cfg.MaxCPUMemory = 2 * mb
		cfg.EvictIdle = true
	})
	ctx := testCtx(t)
	for _, n := range []string{"a", "b"} {
		if _, err := m.LoadModel(ctx, n); err != nil {
			t.Fatalf("load %s: %v", n, err)
		}
		time.Sleep(2 * time.Millisecond)
	}
	// Touch a so b becomes the LRU.
	if _, err := m.GetModel(ctx, "a"); err != nil {
		t.Fatalf("touch a: %v", err)
	}
	if _, err := m.LoadModel(ctx, "c"); err != nil {
		t.Fatalf("load c: %v", err)
	}
	mustStatus(t, m, "a", types.StatusReady)
	mustStatus(t, m, "b", types.StatusNotLoaded)
}

func TestEvictSkipsBusyModels(t *testing.T) {
	a, b := desc("a"), desc("b")
	a.MemoryBudget, b.MemoryBudget = 2*mb, 2*mb
	a.CacheResults = false
	block := make(chan struct{})
	l := &fakeLoader{block: block}
	m := newTestManager(t, []types.ModelDescriptor{a, b}, l, func(c *ManagerConfig) {
		c.MaxCPUMemory = 3 * mb
		c.EvictIdle = true
	})
	ctx := testCtx(t)
	if _, err := m.LoadModel(ctx, "a"); err != nil {
		t.Fatalf("load a: %v", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = m.Predict(ctx, "a", []byte("x"), nil)
	}()
	eventually(t, func() bool { return l.handle(0).predicts.Load() == 1 }, "prediction in flight")

	if _, err := m.LoadModel(ctx, "b"); !IsInsufficientMemory(err) {
		t.Fatalf("busy model must not be evicted: %v", err)
	}
	mustStatus(t, m, "a", types.StatusReady)
	close(block)
	<-done
}

func TestRemoteRuntimeSkipsAdmission(t *testing.T) {
	d := desc("remote-whisper")
	d.Runtime = types.RuntimeRemote
	d.MemoryBudget = 8 << 30
	m := newTestManager(t, []types.ModelDescriptor{d}, &fakeLoader{}, func(c *ManagerConfig) {
		c.Prober = cpuOnlyProber(0)
		c.MaxCPUMemory = mb
	})
	h, err := m.LoadModel(testCtx(t), "remote-whisper")
	if err != nil {
		t.Fatalf("remote models hold no local memory: %v", err)
	}
	if got := h.(*fakeHandle).device.String(); got != "remote" {
		t.Fatalf("device: %s", got)
	}
}
