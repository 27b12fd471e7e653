// SPDX-FileCopyrightText: 2025 The fleetresv Authors
// SPDX-License-Identifier: Apache-2.0

// Package dashboard implements the read-only HTTP/WebSocket half of the
// observability surface (component K, SPEC_FULL.md §4.11): a
// gorilla/mux router serving JSON snapshots of the fleet plus a
// gorilla/websocket endpoint that mirrors the same STATUS_UPDATE
// broadcasts the TLS wire protocol sends to logged-in clients. It has
// no write path — reservations and cancellations only ever happen over
// the framed TLS protocol (component G).
package dashboard

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jtkristinsson/fleetresv/internal/fleet/device"
	"github.com/jtkristinsson/fleetresv/internal/fleet/session"
	"github.com/jtkristinsson/fleetresv/internal/perfstats"
	"github.com/jtkristinsson/fleetresv/internal/server/connset"
)

// Deps is the read-only state the dashboard consumes. It never touches
// reservation.Store or a credentials verifier because it never accepts
// a write. Gatherer should be the same registry perfstats.NewCollector
// was given, or /metrics will serve an empty scrape.
type Deps struct {
	Devices  *device.Registry
	Sessions *session.Registry
	Stats    *perfstats.Collector
	Conns    *connset.Registry
	Gatherer prometheus.Gatherer
}

// Server is the dashboard's HTTP surface.
type Server struct {
	deps     Deps
	router   *mux.Router
	upgrader websocket.Upgrader
}

// New builds a Server with its routes registered.
func New(deps Deps) *Server {
	s := &Server{
		deps: deps,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.router = mux.NewRouter()
	s.router.HandleFunc("/api/devices", s.handleDevices).Methods(http.MethodGet)
	s.router.HandleFunc("/api/sessions", s.handleSessions).Methods(http.MethodGet)
	s.router.HandleFunc("/api/stats", s.handleStats).Methods(http.MethodGet)
	s.router.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return s
}

// Handler returns the server's http.Handler, for use with http.Server
// or httptest.
func (s *Server) Handler() http.Handler { return s.router }

type devicesResponse struct {
	Devices []deviceJSON `json:"devices"`
	Count   int          `json:"count"`
}

type deviceJSON struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	Status     string `json:"status"`
	EndTime    string `json:"end_time,omitempty"`
	ReservedBy string `json:"reserved_by,omitempty"`
}

func toDeviceJSON(snaps []device.Snapshot) []deviceJSON {
	out := make([]deviceJSON, 0, len(snaps))
	for _, d := range snaps {
		dj := deviceJSON{ID: d.ID, Name: d.Name, Type: d.Type, Status: d.Status.String()}
		if !d.EndTime.IsZero() {
			dj.EndTime = d.EndTime.UTC().Format(time.RFC3339)
			dj.ReservedBy = d.ReservedBy
		}
		out = append(out, dj)
	}
	return out
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	snaps := s.deps.Devices.List(0)
	writeJSON(w, devicesResponse{Devices: toDeviceJSON(snaps), Count: len(snaps)})
}

type sessionsResponse struct {
	Count int `json:"count"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, sessionsResponse{Count: s.deps.Sessions.Count()})
}

type statsResponse struct {
	Requests []perfstats.Snapshot `json:"requests"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, statsResponse{Requests: s.deps.Stats.Snapshot()})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("dashboard: encode response: %v", err)
	}
}

// handleWebSocket upgrades the request and registers a wsClient in the
// same connection list (H's Broadcaster) that TLS clients use, so a
// browser dashboard receives the identical STATUS_UPDATE snapshots
// without a second notification path.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("dashboard: websocket upgrade: %v", err)
		return
	}
	client := newWSClient(conn)
	id := s.deps.Conns.Register(client)

	_ = client.sendSnapshot(s.deps.Devices.List(0))

	client.readPump()
	s.deps.Conns.Unregister(id)
}
