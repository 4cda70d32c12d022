package manager

import (
	"context"
	"errors"
	"testing"

	"mlserve/pkg/types"
)

func TestLoadersFor(t *testing.T) {
	native := &fakeLoader{}
	worker := &fakeLoader{}
	l := Loaders{Native: map[types.ModelType]Loader{types.ModelTypeSpeechToText: native}, Worker: worker}

	got, err := l.For(types.ModelDescriptor{Type: types.ModelTypeSpeechToText, Runtime: types.RuntimeNative})
	if err != nil || got != native {
		t.Fatalf("native stt: %v %v", got, err)
	}
	got, err = l.For(types.ModelDescriptor{Type: types.ModelTypeMotionVAE, Runtime: types.RuntimeWorker})
	if err != nil || got != worker {
		t.Fatalf("worker vae: %v %v", got, err)
	}
	if _, err := l.For(types.ModelDescriptor{Type: types.ModelTypeMotionDiffusion, Runtime: types.RuntimeNative}); err == nil {
		t.Fatalf("expected no native loader for motion-diffusion")
	}
	if _, err := l.For(types.ModelDescriptor{Type: types.ModelTypeSpeechToText, Runtime: types.RuntimeRemote}); err == nil {
		t.Fatalf("expected missing remote loader error")
	}
}

type fakeRemote struct {
	readyErr error
	model    string
	version  string
}

func (f *fakeRemote) InferVersion(_ context.Context, model, version string, input []byte, _ types.Params) (types.Result, error) {
	f.model, f.version = model, version
	return types.Result{Text: string(input)}, nil
}

func (f *fakeRemote) Ready(context.Context, string) error { return f.readyErr }

func TestRemoteLoader(t *testing.T) {
	d := types.ModelDescriptor{Name: "stt", RemoteModel: "whisper_large", Version: "2", Type: types.ModelTypeSpeechToText, Runtime: types.RuntimeRemote}
	fr := &fakeRemote{}
	h, err := NewRemoteLoader(fr).Load(context.Background(), LoadRequest{Descriptor: d})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	res, err := h.Predict(context.Background(), []byte("hi"), nil)
	if err != nil || res.Text != "hi" {
		t.Fatalf("Predict: %+v %v", res, err)
	}
	if fr.model != "whisper_large" || fr.version != "2" {
		t.Fatalf("remote call used %s/%s", fr.model, fr.version)
	}
	if h.MemoryUsage() != 0 || h.Cleanup() != nil {
		t.Fatalf("remote handles hold nothing locally")
	}

	fr.readyErr = errors.New("model not ready")
	if _, err := NewRemoteLoader(fr).Load(context.Background(), LoadRequest{Descriptor: d}); err == nil {
		t.Fatalf("expected readiness failure")
	}
	if _, err := NewRemoteLoader(nil).Load(context.Background(), LoadRequest{Descriptor: d}); err == nil {
		t.Fatalf("expected error without a client")
	}
}

func TestPCM16ToFloat32(t *testing.T) {
	got := pcm16ToFloat32([]byte{0x00, 0x00, 0xff, 0x7f, 0x01, 0x80, 0x05})
	if len(got) != 3 {
		t.Fatalf("len: %d", len(got))
	}
	if got[0] != 0 || got[1] != 1 || got[2] != -1 {
		t.Fatalf("samples: %v", got)
	}
}

func TestNativeRuntimesReportsBuild(t *testing.T) {
	rt := NativeRuntimes()
	if _, ok := rt[types.ModelTypeSpeechToText]; !ok {
		t.Fatalf("missing speech-to-text entry")
	}
	if rt[types.ModelTypeTextGeneration] != llamaBuilt {
		t.Fatalf("text-generation entry does not match build")
	}
}
