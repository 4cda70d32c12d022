package manager

import (
	"context"

	"mlserve/internal/hardware"
	"mlserve/pkg/types"
)

// lruIdleLocked picks the least recently used READY model with no in-flight
// predictions on the same device class as dev, excluding self.
func (m *Manager) lruIdleLocked(dev hardware.Device, self *modelState) *modelState {
	var lru *modelState
	for _, st := range m.models {
		if st == self || st.status != types.StatusReady || st.inflight > 0 {
			continue
		}
		if st.device.IsGPU() != dev.IsGPU() || st.reserved == 0 {
			continue
		}
		if lru == nil || st.lastUsed.Before(lru.lastUsed) {
			lru = st
		}
	}
	return lru
}

// evict finishes unloading victim to make room for model forModel. ctx
// bounds the drain of the victim's in-flight predictions.
func (m *Manager) evict(ctx context.Context, victim *modelState, h Handle, forModel string) {
	name := victim.desc.Name
	m.publisher.Publish(Event{Name: EventEvict, Model: name, Fields: map[string]any{"for": forModel}})
	m.log.Info().Str("event", EventEvict).Str("model", name).Str("for", forModel).Msg("evicting idle model")
	m.mu.Lock()
	m.evictions++
	m.mu.Unlock()
	_ = m.finishUnload(ctx, victim, h)
}
