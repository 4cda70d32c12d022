// Package registry holds the immutable set of model descriptors known to the
// process. It is built once from configuration and never mutated.
package registry

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"mlserve/internal/common/fsutil"
	"mlserve/internal/config"
	"mlserve/pkg/types"
)

const mb = 1 << 20

// Registry is a read-only, name-indexed set of descriptors.
type Registry struct {
	byName map[string]types.ModelDescriptor
	names  []string
}

// New builds a registry from descriptors, rejecting empty or duplicate names
// and unknown types.
func New(descs []types.ModelDescriptor) (*Registry, error) {
	r := &Registry{byName: make(map[string]types.ModelDescriptor, len(descs))}
	for _, d := range descs {
		if strings.TrimSpace(d.Name) == "" {
			return nil, fmt.Errorf("descriptor with empty name")
		}
		if _, dup := r.byName[d.Name]; dup {
			return nil, fmt.Errorf("duplicate model name %q", d.Name)
		}
		if !d.Type.Valid() {
			return nil, fmt.Errorf("model %q: unknown type %q", d.Name, d.Type)
		}
		if d.Runtime == "" {
			d.Runtime = types.DefaultRuntime(d.Type)
		}
		r.byName[d.Name] = d
		r.names = append(r.names, d.Name)
	}
	sort.Strings(r.names)
	return r, nil
}

// Build converts validated config entries into a registry. Paths have a
// leading '~' expanded and are made absolute.
func Build(models []config.ModelConfig) (*Registry, error) {
	descs := make([]types.ModelDescriptor, 0, len(models))
	for _, m := range models {
		d, err := descriptorFromConfig(m)
		if err != nil {
			return nil, err
		}
		descs = append(descs, d)
	}
	return New(descs)
}

func descriptorFromConfig(m config.ModelConfig) (types.ModelDescriptor, error) {
	path := m.Path
	if path != "" {
		p, err := fsutil.ExpandHome(path)
		if err != nil {
			return types.ModelDescriptor{}, fmt.Errorf("model %q: %w", m.Name, err)
		}
		if path, err = filepath.Abs(p); err != nil {
			return types.ModelDescriptor{}, fmt.Errorf("model %q: abs path: %w", m.Name, err)
		}
	}
	d := types.ModelDescriptor{
		Name:         m.Name,
		Type:         types.ModelType(m.Type),
		Version:      m.Version,
		Path:         path,
		Device:       m.Device,
		Runtime:      types.Runtime(m.Runtime),
		RemoteModel:  m.RemoteModel,
		Enabled:      m.Enabled == nil || *m.Enabled,
		Preload:      m.Preload,
		MemoryBudget: uint64(m.MaxMemoryMB) * mb,
		CacheResults: m.CachePredictions == nil || *m.CachePredictions,
		CacheTTL:     time.Duration(m.CacheTTLSeconds) * time.Second,
		LoadTimeout:  time.Duration(m.TimeoutSeconds) * time.Second,
	}
	if d.Device == "" {
		d.Device = "auto"
	}
	return d, nil
}

// Get returns the descriptor for name.
func (r *Registry) Get(name string) (types.ModelDescriptor, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// Names returns all model names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// All returns every descriptor sorted by name.
func (r *Registry) All() []types.ModelDescriptor {
	out := make([]types.ModelDescriptor, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, r.byName[n])
	}
	return out
}

// Len returns the number of descriptors.
func (r *Registry) Len() int { return len(r.names) }
