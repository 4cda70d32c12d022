package manager

import (
	"context"
	"fmt"

	"mlserve/internal/hardware"
	"mlserve/pkg/types"
)

// LoadRequest carries everything a Loader needs to materialize a model.
type LoadRequest struct {
	Descriptor types.ModelDescriptor
	Device     hardware.Device
}

// Loader turns a descriptor into a ready Handle. Loaders are pure
// factories: they never touch manager state and must honor ctx.
type Loader interface {
	Load(ctx context.Context, req LoadRequest) (Handle, error)
}

// Handle is a loaded model.
type Handle interface {
	// Predict runs one inference. It must be safe for concurrent use.
	Predict(ctx context.Context, input []byte, params types.Params) (types.Result, error)
	// MemoryUsage reports bytes held on the model's device.
	MemoryUsage() uint64
	// Cleanup releases device memory, processes and other resources.
	Cleanup() error
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, req LoadRequest) (Handle, error)

func (f LoaderFunc) Load(ctx context.Context, req LoadRequest) (Handle, error) { return f(ctx, req) }

// Loaders selects a Loader by descriptor runtime. Native loaders are keyed
// by model type; worker and remote loaders serve every type.
type Loaders struct {
	Native map[types.ModelType]Loader
	Worker Loader
	Remote Loader
}

// For returns the loader for d.
func (l Loaders) For(d types.ModelDescriptor) (Loader, error) {
	var ld Loader
	switch d.Runtime {
	case types.RuntimeNative:
		ld = l.Native[d.Type]
	case types.RuntimeWorker:
		ld = l.Worker
	case types.RuntimeRemote:
		ld = l.Remote
	default:
		return nil, fmt.Errorf("unknown runtime %q", d.Runtime)
	}
	if ld == nil {
		return nil, fmt.Errorf("no %s loader for model type %s", d.Runtime, d.Type)
	}
	return ld, nil
}

// HardwareProber is the subset of *hardware.Prober the manager uses.
type HardwareProber interface {
	Probe(ctx context.Context) (hardware.Info, error)
	AvailableMemory(ctx context.Context, dev hardware.Device) (uint64, error)
}

// NativeRuntimes reports which in-process runtimes were compiled into this
// binary, by model type.
func NativeRuntimes() map[types.ModelType]bool {
	return map[types.ModelType]bool{
		types.ModelTypeSpeechToText:   whisperBuilt,
		types.ModelTypeTextGeneration: llamaBuilt,
	}
}

// NativeLoaders returns the in-process loaders keyed by model type.
func NativeLoaders(whisperLanguage string, llamaCtx, llamaThreads int) map[types.ModelType]Loader {
	return map[types.ModelType]Loader{
		types.ModelTypeSpeechToText:   NewWhisperLoader(whisperLanguage),
		types.ModelTypeTextGeneration: NewLlamaLoader(llamaCtx, llamaThreads),
	}
}
