package hardware

import (
	"fmt"
	"strconv"
	"strings"
)

// DeviceKind is the class of execution device.
type DeviceKind string

const (
	KindAuto   DeviceKind = "auto"
	KindCPU    DeviceKind = "cpu"
	KindCUDA   DeviceKind = "cuda"
	KindRemote DeviceKind = "remote"
)

// Device is a resolved or preferred execution device.
type Device struct {
	Kind  DeviceKind
	Index int
}

var (
	CPU    = Device{Kind: KindCPU}
	Auto   = Device{Kind: KindAuto}
	Remote = Device{Kind: KindRemote}
)

// CUDA returns the accelerator with the given index.
func CUDA(i int) Device { return Device{Kind: KindCUDA, Index: i} }

func (d Device) String() string {
	if d.Kind == KindCUDA {
		return fmt.Sprintf("cuda:%d", d.Index)
	}
	return string(d.Kind)
}

// IsGPU reports whether d is an accelerator.
func (d Device) IsGPU() bool { return d.Kind == KindCUDA }

// ParseDevice normalizes a device preference. Accepted forms are auto, cpu,
// cuda, gpu, cuda:N and gpu:N. An empty string means auto.
func ParseDevice(s string) (Device, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "auto":
		return Auto, nil
	case "cpu":
		return CPU, nil
	case "cuda", "gpu":
		return CUDA(0), nil
	case "remote":
		return Remote, nil
	}
	kind, idx, ok := strings.Cut(s, ":")
	if !ok || (kind != "cuda" && kind != "gpu") {
		return Device{}, fmt.Errorf("unsupported device %q", s)
	}
	n, err := strconv.Atoi(idx)
	if err != nil || n < 0 {
		return Device{}, fmt.Errorf("unsupported device %q", s)
	}
	return CUDA(n), nil
}

// Select resolves a preference against the probed hardware. auto picks the
// first GPU when present. A GPU preference falls back to CPU when the host
// has no accelerator, and fails when the index is out of range.
func Select(pref Device, info Info) (Device, error) {
	switch pref.Kind {
	case KindAuto:
		if len(info.GPUs) > 0 {
			return CUDA(info.GPUs[0].Index), nil
		}
		return CPU, nil
	case KindCUDA:
		if len(info.GPUs) == 0 {
			return CPU, nil
		}
		for _, g := range info.GPUs {
			if g.Index == pref.Index {
				return pref, nil
			}
		}
		return Device{}, fmt.Errorf("unsupported device %s: %d GPU(s) present", pref, len(info.GPUs))
	default:
		return pref, nil
	}
}
