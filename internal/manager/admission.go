package manager

import (
	"context"

	"mlserve/internal/hardware"
)

// admit reserves required bytes on dev for st, evicting idle models when
// allowed. Admission is advisory: a failed memory probe skips the device
// check, while the process caps still apply.
func (m *Manager) admit(ctx context.Context, st *modelState, dev hardware.Device, required uint64) error {
	name := st.desc.Name
	for {
		probed, probeErr := m.prober.AvailableMemory(ctx, dev)
		if err := ctx.Err(); err != nil {
			return err
		}
		if probeErr != nil {
			m.log.Warn().Err(probeErr).Str("model", name).Str("device", dev.String()).Msg("memory probe failed; skipping device memory check")
		}

		m.mu.Lock()
		limit, bounded := m.availableLocked(dev, probed, probeErr == nil)
		if !bounded || required <= limit {
			st.device = dev
			st.reserved = required
			m.mu.Unlock()
			return nil
		}
		var victim *modelState
		var vh Handle
		if m.evictIdle {
			if victim = m.lruIdleLocked(dev, st); victim != nil {
				vh = m.beginUnloadLocked(victim)
			}
		}
		m.mu.Unlock()

		if victim == nil {
			return &InsufficientMemoryError{Name: name, Device: dev.String(), Required: required, Available: limit}
		}
		m.evict(ctx, victim, vh, name)
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// availableLocked returns the bytes a new load on dev may use: the probed
// free memory, further limited by the process cap minus what is already
// reserved on the same device class. bounded is false when neither limit
// is known.
func (m *Manager) availableLocked(dev hardware.Device, probed uint64, probeOK bool) (limit uint64, bounded bool) {
	if probeOK {
		limit, bounded = probed, true
	}
	capBytes := m.maxCPUMemory
	if dev.IsGPU() {
		capBytes = m.maxGPUMemory
	}
	if capBytes > 0 {
		var headroom uint64
		if used := m.reservedLocked(dev.IsGPU()); used < capBytes {
			headroom = capBytes - used
		}
		if !bounded || headroom < limit {
			limit = headroom
		}
		bounded = true
	}
	return limit, bounded
}

// reservedLocked sums reservations on GPUs (gpu=true) or host memory.
func (m *Manager) reservedLocked(gpu bool) uint64 {
	var total uint64
	for _, st := range m.models {
		if st.holdsMemory() && st.device.IsGPU() == gpu {
			total += st.reserved
		}
	}
	return total
}
