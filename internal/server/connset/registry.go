// SPDX-FileCopyrightText: 2025 The fleetresv Authors
// SPDX-License-Identifier: Apache-2.0

// Package connset is the connection_list named at the top of the lock
// hierarchy in §5: the set of live connection handlers, indexed by a
// server-assigned connection id so the broadcaster (H) can walk every
// LOGGED_IN handler without reaching into the acceptor or the
// handlers' own goroutines. It is built on the generic indexed map
// (component A).
package connset

import (
	"fmt"
	"sync/atomic"

	"github.com/jtkristinsson/fleetresv/internal/fleet/device"
	"github.com/jtkristinsson/fleetresv/internal/store/indexedmap"
)

// Handler is the subset of a connection handler's behavior the
// connection list and broadcaster need: enough to target a
// STATUS_UPDATE at it and to know whether it is logged in. conn.Handler
// satisfies this structurally, so connset never imports conn (and conn
// imports connset to register itself), avoiding a import cycle.
type Handler interface {
	IsLoggedIn() bool
	Username() string
	SendStatusUpdate(devices []device.Snapshot) error
	Disconnect()
}

// Registry is the process-wide connection_list.
type Registry struct {
	handlers *indexedmap.Map[Handler]
	nextID   uint64
}

// NewRegistry creates an empty connection list.
func NewRegistry() *Registry {
	return &Registry{
		handlers: indexedmap.New[Handler](nil),
	}
}

// Register adds h to the list and returns the connection id assigned
// to it, for later Unregister.
func (r *Registry) Register(h Handler) string {
	id := fmt.Sprintf("c%d", atomic.AddUint64(&r.nextID, 1))
	r.handlers.Put(id, h)
	return id
}

// Unregister removes a handler when its connection closes.
func (r *Registry) Unregister(id string) {
	r.handlers.Delete(id)
}

// Count returns the number of live connections (logged in or not).
func (r *Registry) Count() int {
	return r.handlers.Len()
}

// Broadcast sends snapshot to every registered handler that is
// currently LOGGED_IN, per §4.9. A failed send does not abort the
// walk; that handler's own receive loop will notice the I/O failure
// and retire itself independently.
func (r *Registry) Broadcast(snapshot []device.Snapshot) {
	r.handlers.Each(func(_ string, h Handler) {
		if !h.IsLoggedIn() {
			return
		}
		_ = h.SendStatusUpdate(snapshot)
	})
}

// DisconnectUser force-closes the connection currently logged in as
// username, if any, returning whether one was found. This is how a
// session idle timeout (§5, component F) actually severs a forgotten
// connection rather than merely marking its session record stale.
func (r *Registry) DisconnectUser(username string) bool {
	found := false
	r.handlers.Each(func(_ string, h Handler) {
		if found || !h.IsLoggedIn() || h.Username() != username {
			return
		}
		found = true
		h.Disconnect()
	})
	return found
}
