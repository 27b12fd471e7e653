// SPDX-FileCopyrightText: 2025 The fleetresv Authors
// SPDX-License-Identifier: Apache-2.0

// Package reservation implements the reservation store (component D):
// creation with conflict detection and soft-delete cancellation, per
// §4.4–§4.5 of the design.
package reservation

import (
	"time"

	"github.com/google/uuid"
)

// Status is a reservation's lifecycle state.
type Status int

const (
	Approved Status = iota
	Cancelled
	Completed
)

func (s Status) String() string {
	switch s {
	case Approved:
		return "approved"
	case Cancelled:
		return "cancelled"
	case Completed:
		return "completed"
	default:
		return "unknown"
	}
}

// WheelHandle records that a reservation was inserted into the time
// wheel. Store.Create sets Valid; Bucket is not filled in. The wheel
// itself does not read the handle: its entries carry the reservation
// id, and on each visit it re-checks the reservation's status through
// Store.Peek, so cancellation only needs to change that status.
type WheelHandle struct {
	Bucket int
	Valid  bool
}

// Reservation is one approved (or formerly approved) claim on a device.
// Fields are as specified in §3; CorrelationID is an internal addition
// (§3 of SPEC_FULL.md) assigned at creation. It is not copied into
// Snapshot, not logged, and carries no wire or equality semantics.
type Reservation struct {
	ID            uint32
	DeviceID      string
	Username      string
	StartTime     time.Time
	EndTime       time.Time
	Reason        string
	Status        Status
	CreatedAt     time.Time
	CorrelationID uuid.UUID

	handle WheelHandle
}

// Snapshot is a race-free copy of a Reservation's fields.
type Snapshot struct {
	ID        uint32
	DeviceID  string
	Username  string
	StartTime time.Time
	EndTime   time.Time
	Reason    string
	Status    Status
	CreatedAt time.Time
}

func (r *Reservation) snapshot() Snapshot {
	return Snapshot{
		ID:        r.ID,
		DeviceID:  r.DeviceID,
		Username:  r.Username,
		StartTime: r.StartTime,
		EndTime:   r.EndTime,
		Reason:    r.Reason,
		Status:    r.Status,
		CreatedAt: r.CreatedAt,
	}
}

// overlaps reports whether [start, end) intersects [r.StartTime, r.EndTime).
func (r *Reservation) overlaps(start, end time.Time) bool {
	return !(end.Compare(r.StartTime) <= 0 || start.Compare(r.EndTime) >= 0)
}
