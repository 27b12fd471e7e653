// SPDX-FileCopyrightText: 2025 The fleetresv Authors
// SPDX-License-Identifier: Apache-2.0

package conn

import (
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// reserveRequest is the validated shape of a RESERVE_REQUEST's two
// arguments (§4.8: "LOGGED_IN, 2 args"): a device id and a requested
// duration in seconds, starting now.
type reserveRequest struct {
	DeviceID   string `validate:"required"`
	DurationS  int64  `validate:"required"`
	durationOK bool
}

// cancelRequest is the validated shape of a CANCEL_REQUEST's one
// argument: the device whose active reservation should be cancelled.
type cancelRequest struct {
	DeviceID string `validate:"required"`
}

// parseReserveRequest validates a RESERVE_REQUEST's args, failing fast
// with INVALID_PARAMETER before any component lock is taken (SPEC_FULL
// §9 "Request validation").
func parseReserveRequest(args [][]byte) (reserveRequest, bool) {
	if len(args) != 2 {
		return reserveRequest{}, false
	}
	deviceID := string(args[0])
	seconds, ok := parseInt(string(args[1]))
	if !ok || seconds <= 0 {
		return reserveRequest{}, false
	}
	req := reserveRequest{DeviceID: deviceID, DurationS: seconds}
	if err := validate.Struct(req); err != nil {
		return reserveRequest{}, false
	}
	return req, true
}

func parseCancelRequest(args [][]byte) (cancelRequest, bool) {
	if len(args) != 1 {
		return cancelRequest{}, false
	}
	req := cancelRequest{DeviceID: string(args[0])}
	if err := validate.Struct(req); err != nil {
		return cancelRequest{}, false
	}
	return req, true
}

func parseInt(s string) (int64, bool) {
	var n int64
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int64(r-'0')
	}
	return n, true
}
