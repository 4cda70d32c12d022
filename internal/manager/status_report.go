package manager

import (
	"time"

	"mlserve/pkg/types"
)

// Status builds a best-effort snapshot for /status.
func (m *Manager) Status() types.StatusResponse {
	m.mu.RLock()
	defer m.mu.RUnlock()
	resp := types.StatusResponse{
		Models:         make([]types.ModelStatus, 0, len(m.names)),
		Hardware:       hardwareStatus(m),
		UptimeSeconds:  int64(time.Since(m.startTime).Seconds()),
		ServerTimeUnix: time.Now().Unix(),
		LoadsTotal:     m.loads,
		UnloadsTotal:   m.unloads,
		EvictionsTotal: m.evictions,
		State:          m.stateLocked(),
	}
	for _, name := range m.names {
		st := m.models[name]
		ms := types.ModelStatus{
			Name:        name,
			Type:        st.desc.Type,
			Status:      st.status,
			MemoryBytes: st.memUsage,
			LoadMillis:  st.loadDur.Milliseconds(),
			Inflight:    st.inflight,
		}
		if st.status == types.StatusReady || st.status == types.StatusUnloading {
			ms.Device = st.device.String()
		}
		if !st.lastUsed.IsZero() {
			ms.LastUsed = st.lastUsed.Unix()
		}
		if st.lastErr != nil {
			ms.LastError = st.lastErr.Error()
		}
		if st.holdsMemory() {
			resp.ReservedBytes += st.reserved
		}
		resp.Models = append(resp.Models, ms)
	}
	return resp
}

func (m *Manager) stateLocked() string {
	switch {
	case m.closed:
		return "closed"
	case m.initialized:
		return "ready"
	default:
		return "initializing"
	}
}

func hardwareStatus(m *Manager) types.HardwareStatus {
	hs := types.HardwareStatus{
		LogicalCPUs:     m.hw.LogicalCPUs,
		PhysicalCPUs:    m.hw.PhysicalCPUs,
		TotalMemory:     m.hw.TotalMemory,
		AvailableMemory: m.hw.AvailableMemory,
	}
	for _, g := range m.hw.GPUs {
		hs.GPUs = append(hs.GPUs, types.GPUStatus{Index: g.Index, Name: g.Name, TotalMemory: g.TotalMemory, FreeMemory: g.FreeMemory})
	}
	return hs
}

// ListModels returns every configured model with its current status.
func (m *Manager) ListModels() []types.ModelInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.ModelInfo, 0, len(m.names))
	for _, name := range m.names {
		st := m.models[name]
		out = append(out, types.ModelInfo{
			Name:    name,
			Type:    st.desc.Type,
			Version: st.desc.Version,
			Runtime: st.desc.Runtime,
			Device:  st.desc.Device,
			Enabled: st.desc.Enabled,
			Preload: st.desc.Preload,
			Status:  st.status,
		})
	}
	return out
}
