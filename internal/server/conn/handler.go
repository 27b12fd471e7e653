// SPDX-FileCopyrightText: 2025 The fleetresv Authors
// SPDX-License-Identifier: Apache-2.0

// Package conn implements the connection handler (component G): one
// handler per accepted TLS connection, running the receive loop from
// §4.8 and dispatching framed requests against the shared session,
// device, and reservation stores.
package conn

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/jtkristinsson/fleetresv/internal/fleet/device"
	"github.com/jtkristinsson/fleetresv/internal/fleet/reservation"
	"github.com/jtkristinsson/fleetresv/internal/fleet/session"
	"github.com/jtkristinsson/fleetresv/internal/fleeterr"
	"github.com/jtkristinsson/fleetresv/internal/obslog"
	"github.com/jtkristinsson/fleetresv/internal/perfstats"
	"github.com/jtkristinsson/fleetresv/internal/server/connset"
	"github.com/jtkristinsson/fleetresv/internal/wire"
)

// ioRetryBudget bounds the number of consecutive non-fatal write
// failures a handler tolerates before giving up on the connection
// (§5: "TLS read/write operations retry up to 3 times").
const ioRetryBudget = 3

// coalesceWait is how long drainBuffered waits for a fast-following
// pipelined request to land before giving up on finding one. Without
// this, a client that writes several requests back-to-back would
// still get them dispatched strictly in arrival order: the receive
// loop would decode, enqueue, and drain exactly one message per
// iteration before its next read, so the priority queue would never
// hold more than one message at a time. This gives §4.8's "two
// messages arrive in the same tick" a real chance to happen.
const coalesceWait = 2 * time.Millisecond

// Credentials is the subset of component J a handler needs.
type Credentials interface {
	Verify(username, password string) bool
}

// Deps bundles every collaborator a connection handler dispatches
// into. One Deps is shared by every handler spawned by the acceptor.
type Deps struct {
	Sessions     *session.Registry
	Devices      *device.Registry
	Reservations *reservation.Store
	Credentials  Credentials
	Stats        *perfstats.Collector
	Log          obslog.Logger
	Conns        *connset.Registry
}

// Handler owns one accepted connection's lifecycle: the receive loop,
// its local priority queue, and the LOGGED_IN/pre-login state machine.
type Handler struct {
	netConn    net.Conn
	reader     *bufio.Reader
	deps       Deps
	queue      *priorityQueue
	connID     string
	clientIP   string
	clientPort int

	stateMu   sync.RWMutex
	loggedIn  bool
	username  string

	writeMu sync.Mutex
}

// New wraps an accepted, already TLS-handshaken connection.
func New(netConn net.Conn, deps Deps) *Handler {
	h := &Handler{
		netConn: netConn,
		reader:  bufio.NewReader(netConn),
		deps:    deps,
		queue:   newPriorityQueue(),
	}
	if tcpAddr, ok := netConn.RemoteAddr().(*net.TCPAddr); ok {
		h.clientIP = tcpAddr.IP.String()
		h.clientPort = tcpAddr.Port
	}
	h.connID = deps.Conns.Register(h)
	return h
}

// IsLoggedIn implements connset.Handler.
func (h *Handler) IsLoggedIn() bool {
	h.stateMu.RLock()
	defer h.stateMu.RUnlock()
	return h.loggedIn
}

// Username implements connset.Handler.
func (h *Handler) Username() string {
	h.stateMu.RLock()
	defer h.stateMu.RUnlock()
	return h.username
}

func (h *Handler) setSession(username string) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	h.loggedIn = true
	h.username = username
}

func (h *Handler) clearSession() {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	h.loggedIn = false
	h.username = ""
}

// Run executes the receive loop of §4.8 until the connection closes.
// It always unregisters the handler and, if still logged in, closes
// its session before returning — the §5 guarantee that "a disconnected
// client's handler simply exits its loop" still leaves the session
// registry consistent.
func (h *Handler) Run() {
	defer h.cleanup()

	for {
		msg, err := wire.Decode(h.reader)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				h.deps.Log.Warn(obslog.CategoryConnection, "frame decode failed", "conn", h.connID, "err", err.Error())
			}
			return
		}
		h.queue.enqueue(msg)
		h.drainBuffered()
		for {
			next, ok := h.queue.dequeueHighest()
			if !ok {
				break
			}
			h.dispatch(next)
		}
	}
}

// drainBuffered opportunistically decodes any further frames that are
// already available before this connection's queue gets drained, so a
// client that pipelines several requests without waiting for replies
// gets them dispatched in priority order against each other rather
// than strictly in arrival order (§4.8, testable property 8). If
// nothing has arrived yet, it primes the buffered reader with one
// short, bounded blocking read (via Peek) to give a fast-following
// pipelined request up to coalesceWait to show up before giving up.
func (h *Handler) drainBuffered() {
	if h.reader.Buffered() == 0 {
		_ = h.netConn.SetReadDeadline(time.Now().Add(coalesceWait))
		_, _ = h.reader.Peek(1)
		_ = h.netConn.SetReadDeadline(time.Time{})
	}
	for h.reader.Buffered() > 0 {
		next, err := wire.Decode(h.reader)
		if err != nil {
			return
		}
		h.queue.enqueue(next)
	}
}

func (h *Handler) cleanup() {
	h.deps.Conns.Unregister(h.connID)
	if h.IsLoggedIn() {
		h.deps.Sessions.Close(h.Username())
	}
	_ = h.netConn.Close()
}

func (h *Handler) dispatch(msg *wire.Message) {
	start := time.Now()
	if h.IsLoggedIn() {
		h.deps.Sessions.Touch(h.Username())
	}
	var ok bool
	switch msg.Type {
	case wire.TypeLogin:
		ok = h.handleLogin(msg)
	case wire.TypeLogout:
		ok = h.handleLogout(msg)
	case wire.TypeStatusRequest:
		ok = h.handleStatusRequest(msg)
	case wire.TypeReserveRequest:
		ok = h.handleReserveRequest(msg)
	case wire.TypeCancelRequest:
		ok = h.handleCancelRequest(msg)
	case wire.TypeTimeSyncRequest:
		ok = h.handleTimeSync(msg)
	case wire.TypePing:
		ok = h.handlePing(msg)
	default:
		h.sendError(wire.ErrPermissionDenied, "")
		ok = false
	}
	h.deps.Stats.Record(msg.Type, time.Since(start), ok)
}

// requireLoggedIn sends PERMISSION_DENIED and reports false if this
// connection has not completed LOGIN, per §4.8's dispatch table
// ("anything else when not LOGGED_IN -> ERROR(PERMISSION_DENIED)").
func (h *Handler) requireLoggedIn() bool {
	if h.IsLoggedIn() {
		return true
	}
	h.sendError(wire.ErrPermissionDenied, "")
	return false
}

func (h *Handler) handleLogin(msg *wire.Message) bool {
	if h.IsLoggedIn() {
		h.sendError(wire.ErrSessionAlreadyExists, "")
		return false
	}
	username, password := msg.Arg(0), msg.Arg(1)
	if username == "" {
		h.sendError(wire.ErrInvalidParameter, "")
		return false
	}
	if !h.deps.Credentials.Verify(username, password) {
		h.sendError(wire.ErrSessionAuthenticationFailed, "")
		return false
	}
	if _, ok := h.deps.Sessions.Open(username, h.clientIP, h.clientPort); !ok {
		h.sendError(wire.ErrSessionAlreadyExists, "")
		return false
	}
	h.setSession(username)
	h.send(wire.NewMessage(wire.TypeLogin, "success", username))
	h.deps.Log.Info(obslog.CategorySession, "login", "user", username, "conn", h.connID)
	return true
}

func (h *Handler) handleLogout(msg *wire.Message) bool {
	if !h.requireLoggedIn() {
		return false
	}
	username := h.Username()
	h.deps.Sessions.Close(username)
	h.clearSession()
	h.send(wire.NewMessage(wire.TypeLogout, "success"))
	h.deps.Log.Info(obslog.CategorySession, "logout", "user", username, "conn", h.connID)
	return true
}

func (h *Handler) handleStatusRequest(msg *wire.Message) bool {
	if !h.requireLoggedIn() {
		return false
	}
	h.send(buildStatusMessage(wire.TypeStatusResponse, h.deps.Devices.List(0)))
	return true
}

func (h *Handler) handleReserveRequest(msg *wire.Message) bool {
	if !h.requireLoggedIn() {
		return false
	}
	req, ok := parseReserveRequest(msg.Args)
	if !ok {
		h.sendError(wire.ErrInvalidParameter, "")
		return false
	}

	now := time.Now()
	snap, err := h.deps.Reservations.Create(req.DeviceID, h.Username(), "", now, now.Add(time.Duration(req.DurationS)*time.Second))
	if err != nil {
		fe := classifyReservationError(err)
		h.deps.Log.Warn(obslog.CategoryReservation, "reserve rejected", "user", h.Username(), "device", req.DeviceID, "class", string(fe.Code))
		h.sendError(wireCodeFor(fe.Code), fe.Message)
		return false
	}

	h.send(wire.NewMessage(wire.TypeReserveResponse, "success", fmt.Sprint(snap.ID)))
	h.deps.Conns.Broadcast(h.deps.Devices.List(0))
	return true
}

func (h *Handler) handleCancelRequest(msg *wire.Message) bool {
	if !h.requireLoggedIn() {
		return false
	}
	req, ok := parseCancelRequest(msg.Args)
	if !ok {
		h.sendError(wire.ErrInvalidParameter, "")
		return false
	}

	if err := h.deps.Reservations.CancelActiveForDevice(req.DeviceID, h.Username()); err != nil {
		fe := classifyReservationError(err)
		h.deps.Log.Warn(obslog.CategoryReservation, "cancel rejected", "user", h.Username(), "device", req.DeviceID, "class", string(fe.Code))
		h.sendError(wireCodeFor(fe.Code), fe.Message)
		return false
	}

	h.send(wire.NewMessage(wire.TypeCancelResponse, "success"))
	h.deps.Conns.Broadcast(h.deps.Devices.List(0))
	return true
}

func (h *Handler) handleTimeSync(msg *wire.Message) bool {
	if !h.requireLoggedIn() {
		return false
	}
	t1 := msg.Arg(0)
	t3 := wire.FormatTime(time.Now())
	h.send(wire.NewMessage(wire.TypeTimeSyncResponse, t1, t3))
	return true
}

func (h *Handler) handlePing(msg *wire.Message) bool {
	if !h.requireLoggedIn() {
		return false
	}
	h.send(wire.NewMessage(wire.TypePingResponse))
	return true
}

// SendStatusUpdate implements connset.Handler: pushes an unsolicited
// STATUS_UPDATE to this connection (§4.9).
func (h *Handler) SendStatusUpdate(devices []device.Snapshot) error {
	return h.send(buildStatusMessage(wire.TypeStatusUpdate, devices))
}

// Disconnect implements connset.Handler: force-closes the underlying
// connection, unblocking Run's pending read so it exits its loop and
// cleans up exactly as it would on any other connection loss (§5). It
// is how a session idle timeout actually severs a forgotten connection
// rather than just marking its session record stale.
func (h *Handler) Disconnect() {
	_ = h.netConn.Close()
}

func (h *Handler) send(m *wire.Message) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	var err error
	for attempt := 0; attempt <= ioRetryBudget; attempt++ {
		if err = wire.Encode(h.netConn, m); err == nil {
			return nil
		}
	}
	h.deps.Log.Warn(obslog.CategoryConnection, "write failed after retries", "conn", h.connID, "err", err.Error())
	return err
}

func (h *Handler) sendError(code wire.ErrorCode, detail string) {
	_ = h.send(wire.NewErrorMessage(code, detail))
}

// buildStatusMessage encodes one 6-tuple per device, per §4.8's
// STATUS_RESPONSE/STATUS_UPDATE shape: id, name, type, status,
// end_time, reserved_by.
func buildStatusMessage(t wire.Type, devices []device.Snapshot) *wire.Message {
	m := &wire.Message{Type: t}
	for _, d := range devices {
		endTime := ""
		if !d.EndTime.IsZero() {
			endTime = wire.FormatTime(d.EndTime)
		}
		args := []string{d.ID, d.Name, d.Type, d.Status.String(), endTime, d.ReservedBy}
		for _, a := range args {
			m.Args = append(m.Args, []byte(a))
		}
	}
	return m
}

// classifyReservationError lifts a reservation.Store sentinel error
// into the shared fleeterr taxonomy (SPEC_FULL §7: "the same taxonomy
// is also represented as the teacher's *FleetError structured error
// type"), carrying the ConflictError's detail message (S2: "message
// containing u1's name") for the handler to log and relay.
func classifyReservationError(err error) *fleeterr.FleetError {
	var conflict *reservation.ConflictError
	if errors.As(err, &conflict) {
		return fleeterr.Wrap(fleeterr.CodeResourceInUse, conflict.With.Username, err)
	}
	switch {
	case errors.Is(err, reservation.ErrInvalidTime):
		return fleeterr.Wrap(fleeterr.CodeReservationTime, "", err)
	case errors.Is(err, reservation.ErrCapacity):
		return fleeterr.Wrap(fleeterr.CodeReservationMaxLimit, "", err)
	case errors.Is(err, reservation.ErrDeviceNotRes):
		return fleeterr.Wrap(fleeterr.CodeResourceMaintenance, "", err)
	case errors.Is(err, reservation.ErrNotFound):
		return fleeterr.Wrap(fleeterr.CodeReservationNotFound, "", err)
	case errors.Is(err, reservation.ErrPermission):
		return fleeterr.Wrap(fleeterr.CodeReservationDenied, "", err)
	case errors.Is(err, reservation.ErrNotApproved):
		return fleeterr.Wrap(fleeterr.CodeReservationNotFound, "", err)
	default:
		return fleeterr.Wrap(fleeterr.CodeUnknown, "", err)
	}
}

// wireCodeFor maps a fleeterr.Code to its numeric wire.ErrorCode, the
// single point where the internal taxonomy collapses onto §7's wire
// catalog.
func wireCodeFor(code fleeterr.Code) wire.ErrorCode {
	switch code {
	case fleeterr.CodeInvalidParameter:
		return wire.ErrInvalidParameter
	case fleeterr.CodeNetworkIO:
		return wire.ErrNetworkIO
	case fleeterr.CodeNetworkTLS:
		return wire.ErrNetworkTLS
	case fleeterr.CodeMessageFraming:
		return wire.ErrMessageFraming
	case fleeterr.CodeMessageTooLarge:
		return wire.ErrMessageTooLarge
	case fleeterr.CodeAuthFailed:
		return wire.ErrSessionAuthenticationFailed
	case fleeterr.CodeSessionExists:
		return wire.ErrSessionAlreadyExists
	case fleeterr.CodeResourceInUse:
		return wire.ErrResourceInUse
	case fleeterr.CodeResourceMaintenance:
		return wire.ErrResourceMaintenanceMode
	case fleeterr.CodeReservationTime:
		return wire.ErrReservationInvalidTime
	case fleeterr.CodeReservationConflict:
		return wire.ErrReservationConflict
	case fleeterr.CodeReservationMaxLimit:
		return wire.ErrReservationMaxLimitReached
	case fleeterr.CodeReservationNotFound:
		return wire.ErrReservationNotFound
	case fleeterr.CodeReservationDenied:
		return wire.ErrReservationPermissionDenied
	case fleeterr.CodePermissionDenied:
		return wire.ErrPermissionDenied
	default:
		return wire.ErrUnknown
	}
}
