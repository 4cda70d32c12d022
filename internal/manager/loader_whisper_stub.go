//go:build !whisper

package manager

// This file provides a no-CGO stub for the whisper loader. It is compiled
// when the 'whisper' build tag is NOT set, keeping default builds and CI
// CGO-free. The real loader lives in loader_whisper.go.

import "context"

var whisperBuilt = false

type WhisperLoader struct {
	language string
}

func NewWhisperLoader(language string) Loader {
	return &WhisperLoader{language: language}
}

// Load fails fast: whisper runtime not available in this build.
func (l *WhisperLoader) Load(ctx context.Context, req LoadRequest) (Handle, error) {
	return nil, ErrDependencyUnavailable("whisper support not built (missing 'whisper' build tag)")
}
