// SPDX-FileCopyrightText: 2025 The fleetresv Authors
// SPDX-License-Identifier: Apache-2.0

package conn

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtkristinsson/fleetresv/internal/fleet/device"
	"github.com/jtkristinsson/fleetresv/internal/fleet/reservation"
	"github.com/jtkristinsson/fleetresv/internal/fleet/session"
	"github.com/jtkristinsson/fleetresv/internal/obslog"
	"github.com/jtkristinsson/fleetresv/internal/perfstats"
	"github.com/jtkristinsson/fleetresv/internal/server/connset"
	"github.com/jtkristinsson/fleetresv/internal/wire"

	"github.com/prometheus/client_golang/prometheus"
)

type fakeCreds map[string]string

func (f fakeCreds) Verify(username, password string) bool {
	want, ok := f[username]
	return ok && want == password
}

type acceptingWheel struct{}

func (acceptingWheel) Insert(uint32, time.Time) bool { return true }

func newTestDeps(t *testing.T) Deps {
	t.Helper()
	devices := device.NewRegistry()
	require.NoError(t, devices.Add("DEV001", "Printer", "printer"))

	return Deps{
		Sessions:     session.NewRegistry([]byte("test-key")),
		Devices:      devices,
		Reservations: reservation.NewStore(devices, acceptingWheel{}),
		Credentials:  fakeCreds{"alice": "pw", "bob": "pw"},
		Stats:        perfstats.NewCollector(prometheus.NewRegistry()),
		Log:          obslog.NoOp{},
		Conns:        connset.NewRegistry(),
	}
}

func spawnHandler(t *testing.T, deps Deps) (*Handler, net.Conn) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	h := New(serverConn, deps)
	go h.Run()
	t.Cleanup(func() { clientConn.Close() })
	return h, clientConn
}

func newTestHandler(t *testing.T) (*Handler, net.Conn) {
	t.Helper()
	return spawnHandler(t, newTestDeps(t))
}

func sendAndRecv(t *testing.T, conn net.Conn, m *wire.Message) *wire.Message {
	t.Helper()
	require.NoError(t, wire.Encode(conn, m))
	resp, err := wire.Decode(conn)
	require.NoError(t, err)
	return resp
}

func TestLoginHappyPath(t *testing.T) {
	_, conn := newTestHandler(t)
	resp := sendAndRecv(t, conn, wire.NewMessage(wire.TypeLogin, "alice", "pw"))
	assert.Equal(t, wire.TypeLogin, resp.Type)
	assert.Equal(t, "success", resp.Arg(0))
}

func TestRequestBeforeLoginIsPermissionDenied(t *testing.T) {
	_, conn := newTestHandler(t)
	resp := sendAndRecv(t, conn, wire.NewMessage(wire.TypeStatusRequest))
	assert.Equal(t, wire.TypeError, resp.Type)
	assert.Equal(t, wire.ErrPermissionDenied, resp.ErrorCode)
}

func TestReserveThenStatusShowsReservationHolder(t *testing.T) {
	_, conn := newTestHandler(t)
	sendAndRecv(t, conn, wire.NewMessage(wire.TypeLogin, "alice", "pw"))

	resp := sendAndRecv(t, conn, wire.NewMessage(wire.TypeReserveRequest, "DEV001", "100"))
	assert.Equal(t, wire.TypeReserveResponse, resp.Type)
	assert.Equal(t, "success", resp.Arg(0))

	// The reserving connection is logged in, so it also receives the
	// broadcast STATUS_UPDATE.
	update, err := wire.Decode(conn)
	require.NoError(t, err)
	assert.Equal(t, wire.TypeStatusUpdate, update.Type)

	status := sendAndRecv(t, conn, wire.NewMessage(wire.TypeStatusRequest))
	assert.Equal(t, wire.TypeStatusResponse, status.Type)
	require.Len(t, status.Args, 6)
	assert.Equal(t, "reserved", string(status.Args[3]))
	assert.Equal(t, "alice", string(status.Args[5]))
}

func TestReserveConflictSurfacesHolderUsername(t *testing.T) {
	deps := newTestDeps(t)
	_, connA := spawnHandler(t, deps)
	_, connB := spawnHandler(t, deps)

	sendAndRecv(t, connA, wire.NewMessage(wire.TypeLogin, "alice", "pw"))
	sendAndRecv(t, connA, wire.NewMessage(wire.TypeReserveRequest, "DEV001", "100"))

	sendAndRecv(t, connB, wire.NewMessage(wire.TypeLogin, "bob", "pw"))
	resp := sendAndRecv(t, connB, wire.NewMessage(wire.TypeReserveRequest, "DEV001", "10"))

	assert.Equal(t, wire.TypeError, resp.Type)
	assert.Equal(t, wire.ErrResourceInUse, resp.ErrorCode)
	assert.Equal(t, "alice", resp.Arg(0))
}

func TestForeignCancelDeniedOwnerCancelSucceeds(t *testing.T) {
	deps := newTestDeps(t)
	_, connA := spawnHandler(t, deps)
	_, connB := spawnHandler(t, deps)

	sendAndRecv(t, connA, wire.NewMessage(wire.TypeLogin, "alice", "pw"))
	sendAndRecv(t, connA, wire.NewMessage(wire.TypeReserveRequest, "DEV001", "100"))
	update, err := wire.Decode(connA)
	require.NoError(t, err)
	assert.Equal(t, wire.TypeStatusUpdate, update.Type)

	sendAndRecv(t, connB, wire.NewMessage(wire.TypeLogin, "bob", "pw"))
	resp := sendAndRecv(t, connB, wire.NewMessage(wire.TypeCancelRequest, "DEV001"))
	assert.Equal(t, wire.TypeError, resp.Type)
	assert.Equal(t, wire.ErrReservationPermissionDenied, resp.ErrorCode)

	resp = sendAndRecv(t, connA, wire.NewMessage(wire.TypeCancelRequest, "DEV001"))
	assert.Equal(t, wire.TypeCancelResponse, resp.Type)
	assert.Equal(t, "success", resp.Arg(0))
}

func TestInvalidReserveArgsRejected(t *testing.T) {
	_, conn := newTestHandler(t)
	sendAndRecv(t, conn, wire.NewMessage(wire.TypeLogin, "alice", "pw"))

	resp := sendAndRecv(t, conn, wire.NewMessage(wire.TypeReserveRequest, "DEV001", "not-a-number"))
	assert.Equal(t, wire.TypeError, resp.Type)
	assert.Equal(t, wire.ErrInvalidParameter, resp.ErrorCode)
}

func TestDuplicateLoginRejected(t *testing.T) {
	_, conn := newTestHandler(t)
	sendAndRecv(t, conn, wire.NewMessage(wire.TypeLogin, "alice", "pw"))
	resp := sendAndRecv(t, conn, wire.NewMessage(wire.TypeLogin, "alice", "pw"))
	assert.Equal(t, wire.TypeError, resp.Type)
	assert.Equal(t, wire.ErrSessionAlreadyExists, resp.ErrorCode)
}

func TestPriorityOrdersPipelinedRequests(t *testing.T) {
	_, conn := newTestHandler(t)
	sendAndRecv(t, conn, wire.NewMessage(wire.TypeLogin, "alice", "pw"))

	low := wire.NewMessage(wire.TypePing)
	low.Priority = 0
	high := wire.NewMessage(wire.TypeTimeSyncRequest, wire.FormatTime(time.Now()))
	high.Priority = wire.MaxPriority

	require.NoError(t, wire.Encode(conn, low))
	require.NoError(t, wire.Encode(conn, high))

	first, err := wire.Decode(conn)
	require.NoError(t, err)
	second, err := wire.Decode(conn)
	require.NoError(t, err)

	assert.Equal(t, wire.TypeTimeSyncResponse, first.Type)
	assert.Equal(t, wire.TypePingResponse, second.Type)
}

func TestActivityTouchesSessionLastActivity(t *testing.T) {
	deps := newTestDeps(t)
	_, conn := spawnHandler(t, deps)
	sendAndRecv(t, conn, wire.NewMessage(wire.TypeLogin, "alice", "pw"))

	loginActivity, ok := deps.Sessions.LastActivity("alice")
	require.True(t, ok)

	time.Sleep(time.Millisecond)
	sendAndRecv(t, conn, wire.NewMessage(wire.TypeStatusRequest))

	afterRequest, ok := deps.Sessions.LastActivity("alice")
	require.True(t, ok)
	assert.True(t, afterRequest.After(loginActivity), "a dispatched request should advance last-activity")
}

func TestDisconnectClosesConnection(t *testing.T) {
	h, conn := newTestHandler(t)
	sendAndRecv(t, conn, wire.NewMessage(wire.TypeLogin, "alice", "pw"))

	h.Disconnect()

	_, err := wire.Decode(conn)
	assert.Error(t, err)
}

func TestBadCredentialsRejected(t *testing.T) {
	_, conn := newTestHandler(t)
	resp := sendAndRecv(t, conn, wire.NewMessage(wire.TypeLogin, "alice", "wrong"))
	assert.Equal(t, wire.TypeError, resp.Type)
	assert.Equal(t, wire.ErrSessionAuthenticationFailed, resp.ErrorCode)
}
