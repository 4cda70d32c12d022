//go:build whisper

package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"mlserve/internal/common/fsutil"
	"mlserve/pkg/types"
)

// whisperBuilt indicates this binary was compiled with real whisper.cpp support.
var whisperBuilt = true

// WhisperLoader loads speech-to-text models in-process.
type WhisperLoader struct {
	language string
}

func NewWhisperLoader(language string) Loader {
	return &WhisperLoader{language: language}
}

func (l *WhisperLoader) Load(ctx context.Context, req LoadRequest) (Handle, error) {
	path := strings.TrimSpace(req.Descriptor.Path)
	if path == "" {
		return nil, errors.New("model path is empty")
	}
	size, err := fsutil.PathSize(path)
	if err != nil {
		return nil, err
	}
	// whisper.cpp loading is not interruptible; the manager discards a
	// handle that arrives after the timeout.
	model, err := whisperlib.New(path)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", path, err)
	}
	return &whisperHandle{model: model, language: l.language, memBytes: size}, nil
}

type whisperHandle struct {
	// mu serializes Predict against Cleanup; each Predict builds its own
	// context so predictions may overlap.
	mu       sync.RWMutex
	model    whisperlib.Model
	language string
	memBytes uint64
}

// Predict transcribes 16-bit little-endian mono PCM at 16 kHz. The
// "language" param overrides the loader default.
func (h *whisperHandle) Predict(ctx context.Context, input []byte, params types.Params) (types.Result, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.model == nil {
		return types.Result{}, errors.New("whisper model not initialized")
	}
	if err := ctx.Err(); err != nil {
		return types.Result{}, err
	}
	wctx, err := h.model.NewContext()
	if err != nil {
		return types.Result{}, fmt.Errorf("whisper: create context: %w", err)
	}
	lang := h.language
	if v, ok := params.String("language"); ok && v != "" {
		lang = v
	}
	if lang != "" {
		if err := wctx.SetLanguage(lang); err != nil {
			return types.Result{}, fmt.Errorf("whisper: language %q: %w", lang, err)
		}
	}
	if err := wctx.Process(pcm16ToFloat32(input), nil, nil, nil); err != nil {
		return types.Result{}, fmt.Errorf("whisper: process audio: %w", err)
	}
	var parts []string
	var segments []map[string]any
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return types.Result{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		parts = append(parts, text)
		segments = append(segments, map[string]any{
			"start_ms": seg.Start.Milliseconds(),
			"end_ms":   seg.End.Milliseconds(),
			"text":     text,
		})
	}
	return types.Result{
		Text: strings.Join(parts, " "),
		Meta: map[string]any{"language": lang, "segments": segments},
	}, nil
}

func (h *whisperHandle) MemoryUsage() uint64 { return h.memBytes }

func (h *whisperHandle) Cleanup() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.model == nil {
		return nil
	}
	err := h.model.Close()
	h.model = nil
	return err
}
