package engine

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// DelegatedHandle is a proxy connection handed off to a remote peer
// before it claims a device via CONNECT (spec.md §4.2 "CONNECT", §4.6
// "Registry": "secondary list of delegated proxy handles").
type DelegatedHandle struct {
	ID      uuid.UUID
	DevID   int
	Claimed bool
}

// Registry is the process-wide device table (spec.md §4.6). A single
// lock guards both the device map and the delegated-handle list; the
// per-device request queue and read cache have their own locks and are
// never held while the registry lock is held.
type Registry struct {
	mu      sync.RWMutex
	devices map[int]*Device

	delegated map[uuid.UUID]*DelegatedHandle

	refresh chan struct{} // closed and replaced on every insert/remove
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		devices:   make(map[int]*Device),
		delegated: make(map[uuid.UUID]*DelegatedHandle),
		refresh:   make(chan struct{}),
	}
}

// Refresh returns a channel that closes the next time a device is
// inserted or removed, letting callers (e.g. the status viewer) wait for
// a change instead of polling (spec.md §4.6 "refresh-event pulsing").
func (r *Registry) Refresh() <-chan struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.refresh
}

func (r *Registry) pulse() {
	close(r.refresh)
	r.refresh = make(chan struct{})
}

// Insert assigns dev the lowest currently unused device ID and adds it
// to the registry (spec.md §4.6 "lowest-free-id allocation").
func (r *Registry) Insert(dev *Device) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := 0
	for {
		if _, taken := r.devices[id]; !taken {
			break
		}
		id++
	}
	dev.ID = id
	r.devices[id] = dev
	r.pulse()
	return id
}

// Remove deletes the device with the given ID, if present.
func (r *Registry) Remove(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devices[id]; !ok {
		return
	}
	delete(r.devices, id)
	r.pulse()
}

// Get returns the device with the given ID, or nil if not registered.
func (r *Registry) Get(id int) *Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.devices[id]
}

// List returns a snapshot of every registered device, ordered by ID.
func (r *Registry) List() []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int, 0, len(r.devices))
	for id := range r.devices {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]*Device, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.devices[id])
	}
	return out
}

// Count returns the number of registered devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Delegate registers a not-yet-claimed proxy handle for devID, returning
// its handle ID (spec.md §4.2 "CONNECT").
func (r *Registry) Delegate(devID int) uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.New()
	r.delegated[id] = &DelegatedHandle{ID: id, DevID: devID}
	return id
}

// Claim marks a delegated handle as claimed by an incoming CONNECT,
// returning the device ID it resolves to and whether it was found
// unclaimed.
func (r *Registry) Claim(id uuid.UUID) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.delegated[id]
	if !ok || h.Claimed {
		return 0, false
	}
	h.Claimed = true
	return h.DevID, true
}
