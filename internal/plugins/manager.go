package plugins

import (
	"fmt"
	"sort"
	"sync"

	"github.com/CodeMonkeyCybersecurity/satori/internal/core"
	"github.com/CodeMonkeyCybersecurity/satori/internal/credentials"
	"github.com/CodeMonkeyCybersecurity/satori/pkg/types"
)

// Registry holds the discovery plugins available to the aggregator.
// It is safe for concurrent use; runs take a Snapshot so that plugins
// registered or removed mid-run do not affect dispatch.
type Registry struct {
	plugins map[string]core.Plugin
	mu      sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		plugins: make(map[string]core.Plugin),
	}
}

func (r *Registry) Register(plugin core.Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := plugin.Name()
	if name == "" {
		return fmt.Errorf("plugin has no name")
	}
	if _, exists := r.plugins[name]; exists {
		return fmt.Errorf("plugin %s already registered", name)
	}

	r.plugins[name] = plugin
	return nil
}

func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[name]; !exists {
		return fmt.Errorf("plugin %s not found", name)
	}
	delete(r.plugins, name)
	return nil
}

func (r *Registry) Get(name string) (core.Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	plugin, exists := r.plugins[name]
	if !exists {
		return nil, fmt.Errorf("plugin %s not found", name)
	}

	return plugin, nil
}

// List returns registered plugin names in lexical order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Snapshot returns the plugins for phase in dispatch order: highest
// priority first, ties broken by name.
func (r *Registry) Snapshot(phase types.Phase) []core.Plugin {
	r.mu.RLock()
	out := make([]core.Plugin, 0, len(r.plugins))
	for _, p := range r.plugins {
		if p.Phase() == phase {
			out = append(out, p)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority() != out[j].Priority() {
			return out[i].Priority() > out[j].Priority()
		}
		return out[i].Name() < out[j].Name()
	})
	return out
}

// Info summarizes a registered plugin for listings.
type Info struct {
	Name          string      `json:"name" yaml:"name"`
	Phase         types.Phase `json:"phase" yaml:"phase"`
	Priority      int         `json:"priority" yaml:"priority"`
	ResourceTypes []string    `json:"resource_types,omitempty" yaml:"resource_types,omitempty"`
	// Ready reports whether the plugin would accept a request carrying
	// the given credentials. Data-plane plugins are asked as though a
	// host had already been matched.
	Ready bool `json:"ready" yaml:"ready"`
}

// Describe lists every plugin in dispatch order, control plane first.
func (r *Registry) Describe(creds credentials.Bundle) []Info {
	var out []Info
	for _, phase := range []types.Phase{types.PhaseControlPlane, types.PhaseDataPlane} {
		for _, p := range r.Snapshot(phase) {
			req := &core.Request{Credentials: creds}
			if phase == types.PhaseDataPlane {
				req.Host = &types.Resource{}
			}
			out = append(out, Info{
				Name:          p.Name(),
				Phase:         p.Phase(),
				Priority:      p.Priority(),
				ResourceTypes: p.ResourceTypes(),
				Ready:         p.CanHandle(req),
			})
		}
	}
	return out
}
