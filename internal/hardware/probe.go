// Package hardware probes CPU, host memory and NVIDIA GPUs.
package hardware

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

const mib = 1 << 20

// GPU describes one accelerator as reported by nvidia-smi.
type GPU struct {
	Index       int
	Name        string
	TotalMemory uint64
	FreeMemory  uint64
}

// Info is a point-in-time hardware snapshot.
type Info struct {
	LogicalCPUs     int
	PhysicalCPUs    int
	TotalMemory     uint64
	AvailableMemory uint64
	GPUs            []GPU
}

// Prober is the hardware probe. Memory and GPU queries are replaceable so
// tests do not depend on the host.
type Prober struct {
	queryGPUs func(ctx context.Context) ([]GPU, error)
	queryMem  func(ctx context.Context) (total, available uint64, err error)
}

// NewProber returns a prober backed by gopsutil and nvidia-smi.
func NewProber() *Prober {
	return &Prober{queryGPUs: nvidiaSMI, queryMem: virtualMemory}
}

// Probe collects a full snapshot. A missing nvidia-smi means no GPUs and is
// not an error. Each query runs even when another fails, so a broken host
// memory read does not hide the GPUs; the failures are joined.
func (p *Prober) Probe(ctx context.Context) (Info, error) {
	var info Info
	var errs []error
	n, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		errs = append(errs, fmt.Errorf("cpu counts: %w", err))
	}
	info.LogicalCPUs = n
	// Physical core counts are unavailable on some virtualized hosts.
	info.PhysicalCPUs, _ = cpu.CountsWithContext(ctx, false)
	if info.TotalMemory, info.AvailableMemory, err = p.queryMem(ctx); err != nil {
		errs = append(errs, err)
	}
	if info.GPUs, err = p.queryGPUs(ctx); err != nil {
		errs = append(errs, err)
	}
	return info, errors.Join(errs...)
}

// AvailableMemory returns free bytes on dev: host memory for cpu, device
// memory for cuda:N.
func (p *Prober) AvailableMemory(ctx context.Context, dev Device) (uint64, error) {
	switch dev.Kind {
	case KindCPU:
		_, avail, err := p.queryMem(ctx)
		return avail, err
	case KindCUDA:
		gpus, err := p.queryGPUs(ctx)
		if err != nil {
			return 0, err
		}
		for _, g := range gpus {
			if g.Index == dev.Index {
				return g.FreeMemory, nil
			}
		}
		return 0, fmt.Errorf("gpu %d not found", dev.Index)
	default:
		return 0, fmt.Errorf("no memory probe for device %s", dev)
	}
}

func virtualMemory(ctx context.Context) (uint64, uint64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("virtual memory: %w", err)
	}
	return vm.Total, vm.Available, nil
}

func nvidiaSMI(ctx context.Context) ([]GPU, error) {
	cmd := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=index,name,memory.total,memory.free",
		"--format=csv,noheader,nounits")
	out, err := cmd.Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, nil
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// Driver present but no usable device.
			return nil, nil
		}
		return nil, fmt.Errorf("nvidia-smi: %w", err)
	}
	return parseNvidiaSMI(string(out))
}

// parseNvidiaSMI parses lines like "0, NVIDIA GeForce RTX 3070, 8192, 7012".
// Memory values are MiB.
func parseNvidiaSMI(out string) ([]GPU, error) {
	var gpus []GPU
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) < 4 {
			return nil, fmt.Errorf("nvidia-smi: unexpected line %q", line)
		}
		idx, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, fmt.Errorf("nvidia-smi: index: %w", err)
		}
		// GPU names may contain commas; memory columns are the last two.
		n := len(parts)
		total, err := strconv.ParseUint(strings.TrimSpace(parts[n-2]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("nvidia-smi: memory.total: %w", err)
		}
		free, err := strconv.ParseUint(strings.TrimSpace(parts[n-1]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("nvidia-smi: memory.free: %w", err)
		}
		gpus = append(gpus, GPU{
			Index:       idx,
			Name:        strings.TrimSpace(strings.Join(parts[1:n-2], ",")),
			TotalMemory: total * mib,
			FreeMemory:  free * mib,
		})
	}
	return gpus, nil
}
