//go:build !llama

package manager

// This file provides a no-CGO stub for the llama loader. It is compiled when
// the 'llama' build tag is NOT set, keeping default builds and CI CGO-free.
// The real loader lives in loader_llama.go (tagged 'llama').

import "context"

var llamaBuilt = false

type LlamaLoader struct {
	ctxSize int
	threads int
}

func NewLlamaLoader(ctxSize, threads int) Loader {
	return &LlamaLoader{ctxSize: ctxSize, threads: threads}
}

// Load fails fast: llama runtime not available in this build.
func (l *LlamaLoader) Load(ctx context.Context, req LoadRequest) (Handle, error) {
	return nil, ErrDependencyUnavailable("llama support not built (missing 'llama' build tag)")
}
