// SPDX-FileCopyrightText: 2025 The fleetresv Authors
// SPDX-License-Identifier: Apache-2.0

// Package device implements the device registry (component C): the set
// of fleet devices, their status, and the back-pointer to the
// reservation currently holding each one.
package device

import "time"

// Status is a device's current reservation state.
type Status int

const (
	Available Status = iota
	Reserved
	Maintenance
)

func (s Status) String() string {
	switch s {
	case Available:
		return "available"
	case Reserved:
		return "reserved"
	case Maintenance:
		return "maintenance"
	default:
		return "unknown"
	}
}

// Device is a physical fleet resource. ID, Name, and Type are immutable
// identity set at creation; the remaining fields are mutable and
// protected by the owning Registry's lock.
type Device struct {
	ID   string
	Name string
	Type string

	Status              Status
	ActiveReservationID uint32

	// CachedEndTime and CachedReservedBy are denormalized projections
	// of the reservation store, kept only so Registry.List and
	// Registry.Get can produce a STATUS_RESPONSE/STATUS_UPDATE tuple without taking the
	// reservation store's lock (§3: "kept for cheap snapshotting").
	CachedEndTime    time.Time
	CachedReservedBy string
}

// Snapshot is the immutable, race-free view of a Device returned by
// Registry.List and Registry.Get — a copy, never a pointer into the
// registry's internal state.
type Snapshot struct {
	ID                string
	Name              string
	Type              string
	Status            Status
	ActiveReservation uint32
	EndTime           time.Time
	ReservedBy        string
}

func (d *Device) snapshot() Snapshot {
	return Snapshot{
		ID:                d.ID,
		Name:              d.Name,
		Type:              d.Type,
		Status:            d.Status,
		ActiveReservation: d.ActiveReservationID,
		EndTime:           d.CachedEndTime,
		ReservedBy:        d.CachedReservedBy,
	}
}
