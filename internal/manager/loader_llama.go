//go:build llama

package manager

import (
	"context"
	"errors"
	"strings"
	"sync"

	llama "github.com/go-skynet/go-llama.cpp"

	"mlserve/internal/common/fsutil"
	"mlserve/pkg/types"
)

// llamaBuilt indicates this binary was compiled with real llama support.
var llamaBuilt = true

// LlamaLoader holds global config used to initialize a text-generation model.
type LlamaLoader struct {
	ctxSize int
	threads int
}

func NewLlamaLoader(ctxSize, threads int) Loader {
	return &LlamaLoader{ctxSize: ctxSize, threads: threads}
}

func (l *LlamaLoader) Load(ctx context.Context, req LoadRequest) (Handle, error) {
	path := strings.TrimSpace(req.Descriptor.Path)
	if path == "" {
		return nil, errors.New("model path is empty")
	}
	size, err := fsutil.PathSize(path)
	if err != nil {
		return nil, err
	}
	mo := []llama.ModelOption{llama.SetContext(l.ctxSize)}
	if req.Device.IsGPU() {
		// Offload every layer; llama.cpp clamps to the model's layer count.
		mo = append(mo, llama.SetGPULayers(999))
	}
	m, err := llama.New(path, mo...)
	if err != nil {
		return nil, err
	}
	return &llamaHandle{model: m, threads: l.threads, memBytes: size}, nil
}

// llamaHandle owns the loaded model. go-llama.cpp models are not safe for
// concurrent prediction, so mu serializes Predict and Cleanup.
type llamaHandle struct {
	mu       sync.Mutex
	model    *llama.LLama
	threads  int
	memBytes uint64
}

// Predict completes the UTF-8 prompt in input.
func (h *llamaHandle) Predict(ctx context.Context, input []byte, params types.Params) (types.Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.model == nil {
		return types.Result{}, errors.New("llama model not initialized")
	}
	// Stop generation when ctx is canceled.
	h.model.SetTokenCallback(func(string) bool {
		return ctx.Err() == nil
	})
	text, err := h.model.Predict(string(input), predictOptions(params, h.threads)...)
	if err != nil {
		if ctx.Err() != nil {
			return types.Result{}, ctx.Err()
		}
		return types.Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return types.Result{}, err
	}
	return types.Result{Text: text, Meta: map[string]any{"finish_reason": "stop"}}, nil
}

func (h *llamaHandle) MemoryUsage() uint64 { return h.memBytes }

func (h *llamaHandle) Cleanup() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.model != nil {
		h.model.Free()
		h.model = nil
	}
	return nil
}

// predictOptions converts request params into go-llama.cpp options.
func predictOptions(params types.Params, threads int) []llama.PredictOption {
	po := []llama.PredictOption{
		llama.SetThreads(max(1, threads)),
		llama.SetTopK(llama.DefaultOptions.TopK),
		llama.SetPenalty(llama.DefaultOptions.Penalty),
	}
	if n, ok := params.Int("max_tokens"); ok && n > 0 {
		po = append(po, llama.SetTokens(n))
	}
	if v, ok := params.Float("temperature"); ok && v > 0 {
		po = append(po, llama.SetTemperature(float32(v)))
	} else {
		po = append(po, llama.SetTemperature(llama.DefaultOptions.Temperature))
	}
	if v, ok := params.Float("top_p"); ok && v > 0 {
		po = append(po, llama.SetTopP(float32(v)))
	} else {
		po = append(po, llama.SetTopP(llama.DefaultOptions.TopP))
	}
	if seed, ok := params.Int("seed"); ok && seed != 0 {
		po = append(po, llama.SetSeed(seed))
	}
	return po
}
