// SPDX-FileCopyrightText: 2025 The fleetresv Authors
// SPDX-License-Identifier: Apache-2.0

// Package fleeterr is the structured internal error representation
// components return among themselves, grounded on the teacher's
// SlurmError pattern. The connection handler is the single place that
// collapses a *FleetError down to the one numeric wire.ErrorCode the
// protocol in §7 actually carries.
package fleeterr

import (
	"errors"
	"fmt"
	"time"
)

// Code classifies an error the way §7's catalog does, independent of
// its eventual numeric wire encoding.
type Code string

const (
	CodeInvalidParameter    Code = "INVALID_PARAMETER"
	CodeNetworkIO           Code = "NETWORK_IO"
	CodeNetworkTLS          Code = "NETWORK_TLS"
	CodeMessageFraming      Code = "MESSAGE_FRAMING"
	CodeMessageTooLarge     Code = "MESSAGE_TOO_LARGE"
	CodeAuthFailed          Code = "SESSION_AUTHENTICATION_FAILED"
	CodeSessionExists       Code = "SESSION_ALREADY_EXISTS"
	CodeResourceInUse       Code = "RESOURCE_IN_USE"
	CodeResourceMaintenance Code = "RESOURCE_MAINTENANCE_MODE"
	CodeReservationTime     Code = "RESERVATION_INVALID_TIME"
	CodeReservationConflict Code = "RESERVATION_CONFLICT"
	CodeReservationMaxLimit Code = "RESERVATION_MAX_LIMIT_REACHED"
	CodeReservationNotFound Code = "RESERVATION_NOT_FOUND"
	CodeReservationDenied   Code = "RESERVATION_PERMISSION_DENIED"
	CodePermissionDenied    Code = "PERMISSION_DENIED"
	CodeUnknown             Code = "UNKNOWN"
)

// FleetError is a structured error carrying the §7 classification plus
// a human-readable message, so component code can return rich,
// errors.Is/As-compatible errors instead of bare numeric codes.
type FleetError struct {
	Code      Code
	Message   string
	Timestamp time.Time
	Cause     error
}

func New(code Code, message string) *FleetError {
	return &FleetError{Code: code, Message: message, Timestamp: time.Now()}
}

func Wrap(code Code, message string, cause error) *FleetError {
	return &FleetError{Code: code, Message: message, Timestamp: time.Now(), Cause: cause}
}

func (e *FleetError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *FleetError) Unwrap() error { return e.Cause }

func (e *FleetError) Is(target error) bool {
	var other *FleetError
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// ClassOf extracts the Code carried by err, defaulting to CodeUnknown
// for any error that isn't a *FleetError. This is how a caller that
// only has a plain error (e.g. from the reservation store's sentinel
// errors) still participates in the same taxonomy.
func ClassOf(err error) Code {
	var fe *FleetError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return CodeUnknown
}
