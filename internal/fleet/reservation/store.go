// SPDX-FileCopyrightText: 2025 The fleetresv Authors
// SPDX-License-Identifier: Apache-2.0

package reservation

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jtkristinsson/fleetresv/internal/fleet/device"
)

// MaxReservations bounds the number of live (non-purged) reservations a
// Store will hold at once (§4.4).
const MaxReservations = 10000

// Wheel is the subset of the time-wheel scheduler the store needs: it
// schedules a reservation's expiry and reports whether the insertion
// succeeded (it fails only if end is already in the past, which Create
// has already rejected by construction).
type Wheel interface {
	Insert(id uint32, end time.Time) bool
}

// ErrConflict, ErrInvalidTime, ErrCapacity, ErrNotFound, and
// ErrPermission are returned by Create/Cancel; the connection handler
// maps each to the wire ErrorCode catalog in §7.
var (
	ErrConflict     = fmt.Errorf("reservation: conflicts with an existing approved reservation")
	ErrInvalidTime  = fmt.Errorf("reservation: invalid start/end time")
	ErrCapacity     = fmt.Errorf("reservation: store at capacity")
	ErrNotFound     = fmt.Errorf("reservation: not found")
	ErrPermission   = fmt.Errorf("reservation: permission denied")
	ErrNotApproved  = fmt.Errorf("reservation: not in approved state")
	ErrDeviceNotRes = fmt.Errorf("reservation: device is not reservable")
)

// ConflictError reports the reservation that blocked a Create call, so
// callers can surface the competing user's name (§7 S2: "ERROR message
// containing u1's name").
type ConflictError struct {
	With Snapshot
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("reservation: device %s is held by %s until %s", e.With.DeviceID, e.With.Username, e.With.EndTime)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// Store is the reservation store (component D): the set of reservations
// keyed by id, with linear-scan conflict detection and soft-delete
// cancellation. All operations serialize on a single lock; Create holds
// it for the full check-and-insert, eliminating the TOCTOU window §4.4
// calls out.
type Store struct {
	mu      sync.Mutex
	byID    map[uint32]*Reservation
	nextID  uint32
	devices *device.Registry
	wheel   Wheel
	now     func() time.Time
}

// NewStore creates a reservation store bound to the given device
// registry and time-wheel scheduler. now defaults to time.Now and is
// overridable for deterministic tests.
func NewStore(devices *device.Registry, wheel Wheel) *Store {
	return &Store{
		byID:    make(map[uint32]*Reservation),
		devices: devices,
		wheel:   wheel,
		now:     time.Now,
	}
}

// SetClock overrides the store's notion of "now", for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Create validates and inserts a new reservation, per §4.4. On success
// it transitions the device to Reserved and schedules expiry.
func (s *Store) Create(deviceID, username, reason string, start, end time.Time) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if !start.Before(end) {
		return Snapshot{}, ErrInvalidTime
	}
	if start.Before(now) {
		return Snapshot{}, ErrInvalidTime
	}
	if len(s.byID) >= MaxReservations {
		return Snapshot{}, ErrCapacity
	}
	if !s.devices.IsAvailable(deviceID) {
		if snap, ok := s.devices.Get(deviceID); ok && snap.Status == device.Maintenance {
			return Snapshot{}, ErrDeviceNotRes
		}
	}

	for _, r := range s.byID {
		if r.DeviceID != deviceID || r.Status != Approved {
			continue
		}
		if r.overlaps(start, end) {
			return Snapshot{}, &ConflictError{With: r.snapshot()}
		}
	}

	s.nextID++
	id := s.nextID
	r := &Reservation{
		ID:            id,
		DeviceID:      deviceID,
		Username:      username,
		StartTime:     start,
		EndTime:       end,
		Reason:        reason,
		Status:        Approved,
		CreatedAt:     now,
		CorrelationID: uuid.New(),
	}
	s.byID[id] = r

	if !s.wheel.Insert(id, end) {
		delete(s.byID, id)
		return Snapshot{}, ErrInvalidTime
	}
	r.handle = WheelHandle{Valid: true}

	if err := s.devices.UpdateStatus(deviceID, device.Reserved, id, end, username); err != nil {
		delete(s.byID, id)
		return Snapshot{}, err
	}

	return r.snapshot(), nil
}

// Cancel soft-deletes reservation id on behalf of username, per §4.5.
// The device is released immediately; physical removal from the store
// happens later, on the scheduler's next tick.
func (s *Store) Cancel(id uint32, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	if r.Username != username {
		return ErrPermission
	}
	if r.Status != Approved {
		return ErrNotApproved
	}

	r.Status = Cancelled
	return s.devices.UpdateStatus(r.DeviceID, device.Available, 0, time.Time{}, "")
}

// CancelActiveForDevice cancels the reservation currently holding
// deviceID on behalf of username — the form the connection handler uses
// to serve CANCEL_REQUEST, which names a device rather than a
// reservation id (§4.8).
func (s *Store) CancelActiveForDevice(deviceID, username string) error {
	s.mu.Lock()
	var target *Reservation
	for _, r := range s.byID {
		if r.DeviceID == deviceID && r.Status == Approved {
			target = r
			break
		}
	}
	s.mu.Unlock()

	if target == nil {
		return ErrNotFound
	}
	return s.Cancel(target.ID, username)
}

// Get returns a snapshot of reservation id.
func (s *Store) Get(id uint32) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	if !ok {
		return Snapshot{}, false
	}
	return r.snapshot(), true
}

// Len returns the number of reservations currently tracked, including
// soft-deleted ones awaiting physical removal.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// Peek implements scheduler.Store: it reports the status and end time of
// reservation id without mutating anything.
func (s *Store) Peek(id uint32) (Status, time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	if !ok {
		return 0, time.Time{}, false
	}
	return r.Status, r.EndTime, true
}

// Retire implements scheduler.Store: it is called by the wheel's tick
// when a reservation's wheel entry has fully expired or was found
// Cancelled. It releases the device (if the reservation is still the
// one holding it) and physically removes the reservation record. It
// reports whether anything changed, i.e. whether a broadcast is due.
func (s *Store) Retire(id uint32) bool {
	s.mu.Lock()
	r, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	wasApproved := r.Status == Approved
	if wasApproved {
		r.Status = Completed
	}
	deviceID := r.DeviceID
	delete(s.byID, id)
	s.mu.Unlock()

	if wasApproved {
		// Only release the device if it is still pointed at this
		// reservation — a later reservation may already have claimed
		// it (cannot happen under the current conflict rule, since a
		// device is only Reserved for the interval of one APPROVED
		// reservation at a time, but this keeps the invariant honest
		// under future relaxation of that rule).
		if snap, ok := s.devices.Get(deviceID); ok && snap.ActiveReservation == id {
			_ = s.devices.UpdateStatus(deviceID, device.Available, 0, time.Time{}, "")
		}
	}
	return true
}
