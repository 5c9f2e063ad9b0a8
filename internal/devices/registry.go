package devices

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/davecgh/go-spew/spew"
	"github.com/relacs/relacsd/internal/ids"
)

// Factory constructs a new, unopened Device instance of a named plugin
// class. Plugins are registered at process start via Go function
// literals that directly construct each device rather than loading it
// dynamically; there is no plugin-discovery mechanism.
type Factory func() Device

// entry is one opened device inside a capability group's catalogue.
type entry struct {
	id     ids.DeviceID
	ident  string
	plugin string
	device Device
}

// Registry catalogues plugin classes by capability group,
// opens/configures/owns hardware handles, and exposes a
// lookup-by-ident-or-index contract.
//
// Registry should be mutated only when no RePro is running and no
// session is active; callers are responsible for that invariant.
// Registry itself guards its catalogue with a read/write mutex:
// Open/Close/CloseAll take the write lock, Lookup/ByID/ResetAll the
// read lock.
type Registry struct {
	mu        sync.RWMutex
	nextID    ids.DeviceID
	factories map[ids.CapabilityGroup]map[string]Factory
	opened    map[ids.CapabilityGroup][]*entry
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[ids.CapabilityGroup]map[string]Factory),
		opened:    make(map[ids.CapabilityGroup][]*entry),
	}
}

// RegisterPlugin makes a named plugin class available for Open in the
// given capability group. Call this once at startup for every plugin
// the process supports (cmd/relacsd registers the simulated ones).
func (r *Registry) RegisterPlugin(group ids.CapabilityGroup, name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.factories[group] == nil {
		r.factories[group] = make(map[string]Factory)
	}
	r.factories[group][name] = f
}

// Open instantiates plugin `name` in `group`, opens it against `path`
// with `options`, and files it under `ident`. Reopening an
// already-opened ident in the same group is a no-op that returns the
// existing id.
func (r *Registry) Open(group ids.CapabilityGroup, plugin, ident, path string, options map[string]any) (ids.DeviceID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.opened[group] {
		if e.ident == ident {
			return e.id, nil
		}
	}

	factories := r.factories[group]
	f, ok := factories[plugin]
	if !ok {
		return 0, fmt.Errorf("devices: no plugin %q registered for group %s", plugin, group)
	}
	dev := f()
	dev.SetIdent(ident)
	if err := dev.Open(path, options); err != nil {
		return 0, fmt.Errorf("devices: open %s/%s: %w", group, plugin, err)
	}

	r.nextID++
	id := r.nextID
	r.opened[group] = append(r.opened[group], &entry{id: id, ident: ident, plugin: plugin, device: dev})
	return id, nil
}

// Lookup returns the first device in group whose ident matches, else
// (if ident parses as an integer) the device at that zero-based
// position — a numeric fallback for devices never given an explicit
// name.
func (r *Registry) Lookup(group ids.CapabilityGroup, ident string) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.opened[group]
	for _, e := range entries {
		if e.ident == ident {
			return e.device, true
		}
	}
	if n, err := strconv.Atoi(ident); err == nil && n >= 0 && n < len(entries) {
		return entries[n].device, true
	}
	return nil, false
}

// ByID returns the device opened under id, if any.
func (r *Registry) ByID(group ids.CapabilityGroup, id ids.DeviceID) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.opened[group] {
		if e.id == id {
			return e.device, true
		}
	}
	return nil, false
}

// Close closes the device with the given id in group. Closing is
// best-effort: the error is returned but the entry is always removed
// from the catalogue.
func (r *Registry) Close(group ids.CapabilityGroup, id ids.DeviceID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.opened[group]
	for i, e := range entries {
		if e.id == id {
			err := e.device.Close()
			r.opened[group] = append(entries[:i], entries[i+1:]...)
			return err
		}
	}
	return fmt.Errorf("devices: no device %d in group %s", id, group)
}

// CloseAll closes every opened device across every group. Errors are
// collected but never abort the sweep; shutdown should close as many
// devices as possible even if some fail.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var all []error
	for group, entries := range r.opened {
		for _, e := range entries {
			if err := e.device.Close(); err != nil {
				all = append(all, fmt.Errorf("devices: close %s/%s: %w", group, e.ident, err))
			}
		}
		r.opened[group] = nil
	}
	return errors.Join(all...)
}

// ResetAll calls Reset on every opened device, collecting errors the
// same way as CloseAll. Reset is idempotent per device.
func (r *Registry) ResetAll() error {
	r.mu.RLock()
	snapshot := make([]*entry, 0)
	for _, entries := range r.opened {
		snapshot = append(snapshot, entries...)
	}
	r.mu.RUnlock()

	var all []error
	for _, e := range snapshot {
		if err := e.device.Reset(); err != nil {
			all = append(all, fmt.Errorf("devices: reset %s: %w", e.ident, err))
		}
	}
	if len(all) > 0 {
		spew.Fdump(devicesDiagSink, all)
	}
	return errors.Join(all...)
}

// devicesDiagSink receives the verbose spew dumps of aggregate reset
// failures. It discards everything written to it.
var devicesDiagSink = diagDiscard{}

type diagDiscard struct{}

func (diagDiscard) Write(p []byte) (int, error) { return len(p), nil }
