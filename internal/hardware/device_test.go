package hardware

import "testing"

func TestParseDevice(t *testing.T) {
	cases := map[string]Device{
		"":       Auto,
		"AUTO":   Auto,
		"cpu":    CPU,
		"cuda":   CUDA(0),
		"gpu":    CUDA(0),
		"cuda:1": CUDA(1),
		"gpu:2":  CUDA(2),
		"remote": Remote,
	}
	for in, want := range cases {
		got, err := ParseDevice(in)
		if err != nil || got != want {
			t.Fatalf("ParseDevice(%q)=%v,%v want %v", in, got, err, want)
		}
	}
	for _, bad := range []string{"tpu", "cuda:x", "cuda:-1", "mps:0"} {
		if _, err := ParseDevice(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestSelect(t *testing.T) {
	noGPU := Info{}
	twoGPU := Info{GPUs: []GPU{{Index: 0}, {Index: 1}}}

	if d, _ := Select(Auto, noGPU); d != CPU {
		t.Fatalf("auto without gpu: %v", d)
	}
	if d, _ := Select(Auto, twoGPU); d != CUDA(0) {
		t.Fatalf("auto with gpu: %v", d)
	}
	if d, err := Select(CUDA(1), noGPU); err != nil || d != CPU {
		t.Fatalf("cuda fallback: %v %v", d, err)
	}
	if d, err := Select(CUDA(1), twoGPU); err != nil || d != CUDA(1) {
		t.Fatalf("cuda:1: %v %v", d, err)
	}
	if _, err := Select(CUDA(3), twoGPU); err == nil {
		t.Fatalf("expected unsupported device error")
	}
	if d, _ := Select(CPU, twoGPU); d != CPU {
		t.Fatalf("explicit cpu: %v", d)
	}
	if CUDA(2).String() != "cuda:2" || CPU.String() != "cpu" || !CUDA(0).IsGPU() {
		t.Fatalf("String/IsGPU mismatch")
	}
}
