// SPDX-FileCopyrightText: 2025 The fleetresv Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Registry is the set of fleet devices. All operations serialize on a
// single lock (§4.3: "All operations serialize on the registry lock").
type Registry struct {
	mu      sync.Mutex
	devices map[string]*Device
	order   []string // insertion order, for stable List output
	collate *collate.Collator
}

// NewRegistry creates an empty device registry.
func NewRegistry() *Registry {
	return &Registry{
		devices: make(map[string]*Device),
		collate: collate.New(language.English),
	}
}

// Add registers a new device. Returns an error if the id is already
// present.
func (r *Registry) Add(id, name, typ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devices[id]; ok {
		return fmt.Errorf("device %q already exists", id)
	}
	r.devices[id] = &Device{ID: id, Name: name, Type: typ, Status: Available}
	r.order = append(r.order, id)
	return nil
}

// Remove deletes a device. Forbidden while it is Reserved (§4.3).
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return fmt.Errorf("device %q not found", id)
	}
	if d.Status == Reserved {
		return fmt.Errorf("device %q is reserved", id)
	}
	delete(r.devices, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// UpdateStatus transitions a device's status and active-reservation
// back-pointer. Setting Available always zeroes activeResID regardless
// of the value passed, per §4.3. Setting Reserved requires a non-zero
// activeResID.
func (r *Registry) UpdateStatus(id string, status Status, activeResID uint32, endTime time.Time, reservedBy string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return fmt.Errorf("device %q not found", id)
	}
	switch status {
	case Available:
		d.Status = Available
		d.ActiveReservationID = 0
		d.CachedEndTime = time.Time{}
		d.CachedReservedBy = ""
	case Reserved:
		if activeResID == 0 {
			return fmt.Errorf("device %q: reserved status requires a non-zero reservation id", id)
		}
		d.Status = Reserved
		d.ActiveReservationID = activeResID
		d.CachedEndTime = endTime
		d.CachedReservedBy = reservedBy
	case Maintenance:
		d.Status = Maintenance
		d.ActiveReservationID = 0
		d.CachedEndTime = time.Time{}
		d.CachedReservedBy = ""
	default:
		return fmt.Errorf("device %q: unknown status %v", id, status)
	}
	return nil
}

// IsAvailable reports whether id exists and is currently Available.
func (r *Registry) IsAvailable(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	return ok && d.Status == Available
}

// Get returns a point-in-time snapshot of one device.
func (r *Registry) Get(id string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return Snapshot{}, false
	}
	return d.snapshot(), true
}

// List returns up to max device snapshots (0 means unbounded), ordered
// by locale-aware name collation so STATUS_RESPONSE/dashboard listings
// are stable and human-sorted rather than map-order.
func (r *Registry) List(max int) []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, len(r.order))
	copy(ids, r.order)
	sort.Slice(ids, func(i, j int) bool {
		return r.collate.CompareString(r.devices[ids[i]].Name, r.devices[ids[j]].Name) < 0
	})

	if max > 0 && max < len(ids) {
		ids = ids[:max]
	}
	out := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.devices[id].snapshot())
	}
	return out
}

// Count returns the number of registered devices.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}
