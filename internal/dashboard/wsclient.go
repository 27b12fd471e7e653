// SPDX-FileCopyrightText: 2025 The fleetresv Authors
// SPDX-License-Identifier: Apache-2.0

package dashboard

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jtkristinsson/fleetresv/internal/fleet/device"
)

// wsClient adapts a *websocket.Conn to connset.Handler so the
// broadcaster (H) can target a browser dashboard the same way it
// targets a TLS connection handler. It is always "logged in" from the
// broadcaster's point of view: a dashboard viewer carries no
// credentials and no username, only a read-only subscription.
type wsClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{conn: conn}
}

func (c *wsClient) IsLoggedIn() bool { return true }

func (c *wsClient) Username() string { return "dashboard" }

// Disconnect implements connset.Handler. A dashboard viewer has no
// session to expire, but the method still needs to exist to satisfy
// the interface; closing the socket unblocks readPump exactly as a
// client-initiated close would.
func (c *wsClient) Disconnect() {
	_ = c.conn.Close()
}

type wsStatusUpdate struct {
	Type    string       `json:"type"`
	Devices []deviceJSON `json:"devices"`
}

// SendStatusUpdate implements connset.Handler, mirroring H's
// STATUS_UPDATE as a JSON text frame instead of a framed wire message.
func (c *wsClient) SendStatusUpdate(devices []device.Snapshot) error {
	return c.sendSnapshot(devices)
}

func (c *wsClient) sendSnapshot(devices []device.Snapshot) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(wsStatusUpdate{Type: "status_update", Devices: toDeviceJSON(devices)})
}

// readPump discards anything the browser sends (the dashboard has no
// write path) and blocks until the connection closes, keeping the
// handler goroutine alive for as long as the WebSocket is open.
func (c *wsClient) readPump() {
	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("dashboard: websocket read: %v", err)
			}
			_ = c.conn.Close()
			return
		}
	}
}
