package device

import (
	"path/filepath"
	"sort"
	"sync"
)

// Registry owns every Handle in the fleet (spec §4.5). It is the single
// place device records and their runtime handles are looked up from, by
// the RPC surface, the HTTP debug endpoint, and the Transaction Engine.
type Registry struct {
	deps HandleDeps

	mu      sync.Mutex
	handles map[string]*Handle
}

// NewRegistry returns an empty Registry whose handles share deps.
func NewRegistry(deps HandleDeps) *Registry {
	return &Registry{
		deps:    deps,
		handles: make(map[string]*Handle),
	}
}

// Put registers dev, replacing any existing handle under the same name.
// A pre-existing handle is administratively closed first so its
// connection doesn't leak.
func (r *Registry) Put(dev *Device) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.handles[dev.Name]; ok {
		existing.CloseAdministrative()
	}
	var h = NewHandle(dev, r.deps)
	r.handles[dev.Name] = h
	return h
}

// Remove administratively closes and forgets the named device.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.handles[name]; ok {
		h.CloseAdministrative()
		delete(r.handles, name)
	}
}

// Lookup returns the handle for name, if registered.
func (r *Registry) Lookup(name string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[name]
	return h, ok
}

// All returns every registered handle, sorted by device name for
// deterministic iteration (RPC listing, HTTP debug dump).
func (r *Registry) All() []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out = make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Resolve expands a device-name glob pattern (as filepath.Match
// interprets it) into the matching, enabled handles, sorted by name.
// A transaction's device-name-pattern field (spec §4.4) resolves through
// this method; devices with Enable=false are never dispatched to, per
// the supplemented enable-flag semantics in spec §9.
func (r *Registry) Resolve(pattern string) ([]*Handle, error) {
	var all = r.All()
	var out []*Handle
	for _, h := range all {
		if !h.Device().Enable {
			continue
		}
		var matched, err = filepath.Match(pattern, h.Name())
		if err != nil {
			return nil, err
		}
		if matched {
			out = append(out, h)
		}
	}
	return out, nil
}

// ConnectAll calls Connect on every registered, enabled, currently
// CLOSED handle -- the controller's startup and reload entry point.
func (r *Registry) ConnectAll() {
	for _, h := range r.All() {
		if h.Device().Enable && h.State() == StateClosed {
			h.Connect()
		}
	}
}
