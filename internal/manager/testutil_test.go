package manager

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mlserve/internal/cache"
	"mlserve/internal/hardware"
	"mlserve/internal/registry"
	"mlserve/pkg/types"
)

const mb = 1 << 20

// createModelFile creates a file of approximately sizeMB megabytes and returns its path.
func createModelFile(t *testing.T, dir, name string, sizeMB int) string {
	t.Helper()
	if sizeMB <= 0 {
		sizeMB = 1
	}
	p := filepath.Join(dir, name)
	f, err := os.Create(p)
	if err != nil {
		t.Fatalf("create file: %v", err)
	}
	defer f.Close()
	// write sizeMB megabytes (use 1MiB blocks)
	block := make([]byte, mb)
	for i := 0; i < sizeMB; i++ {
		if _, err := f.Write(block); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	return p
}

// fakeLoader is a lightweight in-memory loader used for tests.
type fakeLoader struct {
	calls atomic.Int32

	mu         sync.Mutex
	delay      time.Duration
	ignoreCtx  bool
	gate       chan struct{}
	err        error
	mem        uint64
	predictErr error
	cleanupErr error
	block      chan struct{}
	handles    []*fakeHandle
}

func (f *fakeLoader) Load(ctx context.Context, req LoadRequest) (Handle, error) {
	f.calls.Add(1)
	f.mu.Lock()
	delay, ignoreCtx, gate, err := f.delay, f.ignoreCtx, f.gate, f.err
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if delay > 0 {
		if ignoreCtx {
			time.Sleep(delay)
		} else {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	h := &fakeHandle{model: req.Descriptor.Name, device: req.Device, mem: f.mem, predictErr: f.predictErr, cleanupErr: f.cleanupErr, block: f.block}
	f.handles = append(f.handles, h)
	return h, nil
}

func (f *fakeLoader) set(fn func(f *fakeLoader)) {
	f.mu.Lock()
	fn(f)
	f.mu.Unlock()
}

func (f *fakeLoader) handle(i int) *fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.handles) {
		return nil
	}
	return f.handles[i]
}

type fakeHandle struct {
	model      string
	device     hardware.Device
	mem        uint64
	predictErr error
	cleanupErr error
	// block, when set, holds Predict until closed.
	block chan struct{}

	predicts atomic.Int32
	cleanups atomic.Int32
}

func (h *fakeHandle) Predict(ctx context.Context, input []byte, params types.Params) (types.Result, error) {
	h.predicts.Add(1)
	if h.block != nil {
		select {
		case <-h.block:
		case <-ctx.Done():
			return types.Result{}, ctx.Err()
		}
	}
	if h.predictErr != nil {
		return types.Result{}, h.predictErr
	}
	return types.Result{
		Text:       h.model + ":" + string(input),
		Confidence: 0.75,
		Meta:       map[string]any{"device": h.device.String(), "params": len(params)},
	}, nil
}

func (h *fakeHandle) MemoryUsage() uint64 { return h.mem }

func (h *fakeHandle) Cleanup() error {
	h.cleanups.Add(1)
	return h.cleanupErr
}

// fakeProber reports fixed hardware.
type fakeProber struct {
	mu       sync.Mutex
	info     hardware.Info
	avail    map[hardware.DeviceKind]uint64
	availErr error
}

func cpuOnlyProber(avail uint64) *fakeProber {
	return &fakeProber{
		info:  hardware.Info{LogicalCPUs: 8, PhysicalCPUs: 4, TotalMemory: 64 << 30, AvailableMemory: avail},
		avail: map[hardware.DeviceKind]uint64{hardware.KindCPU: avail},
	}
}

func (p *fakeProber) Probe(context.Context) (hardware.Info, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.info, nil
}

func (p *fakeProber) AvailableMemory(_ context.Context, dev hardware.Device) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.availErr != nil {
		return 0, p.availErr
	}
	return p.avail[dev.Kind], nil
}

// desc returns an enabled, cacheable speech-to-text descriptor on cpu.
func desc(name string) types.ModelDescriptor {
	return types.ModelDescriptor{
		Name:         name,
		Type:         types.ModelTypeSpeechToText,
		Path:         "/models/" + name + ".bin",
		Device:       "cpu",
		Runtime:      types.RuntimeNative,
		Enabled:      true,
		MemoryBudget: mb,
		CacheResults: true,
		CacheTTL:     time.Minute,
		LoadTimeout:  2 * time.Second,
	}
}

func allLoaders(l Loader) Loaders {
	native := map[types.ModelType]Loader{}
	for _, t := range types.KnownModelTypes {
		native[t] = l
	}
	return Loaders{Native: native, Worker: l, Remote: l}
}

// newTestManager builds a Manager over descs with l serving every runtime,
// an in-memory cache and a cpu-only prober with 16GiB free.
func newTestManager(t *testing.T, descs []types.ModelDescriptor, l Loader, opts ...func(*ManagerConfig)) *Manager {
	t.Helper()
	reg, err := registry.New(descs)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	cfg := ManagerConfig{
		Registry:     reg,
		Loaders:      allLoaders(l),
		Prober:       cpuOnlyProber(16 << 30),
		Cache:        cache.New(cache.NewMemoryBackend(0), cache.Options{}),
		DrainTimeout: time.Second,
	}
	for _, o := range opts {
		o(&cfg)
	}
	m := New(cfg)
	t.Cleanup(func() { _ = m.Cleanup(context.Background()) })
	return m
}

func mustStatus(t *testing.T, m *Manager, name string, want types.Status) {
	t.Helper()
	got, err := m.ModelStatus(name)
	if err != nil {
		t.Fatalf("status %s: %v", name, err)
	}
	if got != want {
		t.Fatalf("status %s: want %s, got %s", name, want, got)
	}
}

// eventually polls cond until it holds or a second elapses.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}

// countingRecorder counts metric calls by outcome.
type countingRecorder struct {
	mu         sync.Mutex
	loads      map[string]int
	unloads    map[string]int
	inferences map[string]int
	hits       int
	misses     int
	memory     map[string]uint64
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{loads: map[string]int{}, unloads: map[string]int{}, inferences: map[string]int{}, memory: map[string]uint64{}}
}

func (r *countingRecorder) RecordModelLoad(_ string, outcome string, _ time.Duration) {
	r.mu.Lock()
	r.loads[outcome]++
	r.mu.Unlock()
}

func (r *countingRecorder) RecordModelUnload(_ string, outcome string) {
	r.mu.Lock()
	r.unloads[outcome]++
	r.mu.Unlock()
}

func (r *countingRecorder) RecordInference(_ string, outcome string, _ time.Duration) {
	r.mu.Lock()
	r.inferences[outcome]++
	r.mu.Unlock()
}

func (r *countingRecorder) RecordCacheHit(string) {
	r.mu.Lock()
	r.hits++
	r.mu.Unlock()
}

func (r *countingRecorder) RecordCacheMiss(string) {
	r.mu.Lock()
	r.misses++
	r.mu.Unlock()
}

func (r *countingRecorder) SetModelMemory(model string, bytes uint64) {
	r.mu.Lock()
	r.memory[model] = bytes
	r.mu.Unlock()
}

// panicRecorder panics on every call.
type panicRecorder struct{}

func (panicRecorder) RecordModelLoad(string, string, time.Duration) { panic("metrics down") }
func (panicRecorder) RecordModelUnload(string, string)              { panic("metrics down") }
func (panicRecorder) RecordInference(string, string, time.Duration) { panic("metrics down") }
func (panicRecorder) RecordCacheHit(string)                         { panic("metrics down") }
func (panicRecorder) RecordCacheMiss(string)                        { panic("metrics down") }
func (panicRecorder) SetModelMemory(string, uint64)                 { panic("metrics down") }

var errSynthetic = errors.New("synthetic failure")

// testCtx returns a context with a short timeout, canceled on test cleanup.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return c
}
