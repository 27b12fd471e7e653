// SPDX-FileCopyrightText: 2025 The fleetresv Authors
// SPDX-License-Identifier: Apache-2.0

// Package session implements the session registry (component F): at
// most one active session per username, and the JWT-encoded session
// token described in SPEC_FULL.md §9.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// State is a session's lifecycle state.
type State int

const (
	Active State = iota
	Expired
	Ended
)

// Session is a logged-in user's server-side session record, per §3.
type Session struct {
	Username     string
	ClientIP     string
	ClientPort   int
	Token        string
	State        State
	CreatedAt    time.Time
	LastActivity time.Time
}

// Registry enforces at most one Active session per username (§4.7).
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	signKey  []byte
}

// NewRegistry creates an empty session registry. signKey is the
// server-local HMAC key used to sign session tokens; it should be
// generated once at startup and never persisted (SPEC_FULL.md §9).
func NewRegistry(signKey []byte) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		signKey:  signKey,
	}
}

type claims struct {
	jwt.RegisteredClaims
}

func (r *Registry) issueToken(username string, createdAt time.Time) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(createdAt),
			ExpiresAt: jwt.NewNumericDate(createdAt.Add(24 * time.Hour)),
		},
	})
	return tok.SignedString(r.signKey)
}

// VerifyToken checks a bearer token's signature and returns the
// username it was issued for.
func (r *Registry) VerifyToken(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return r.signKey, nil
	})
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("session: invalid token: %w", err)
	}
	c := parsed.Claims.(*claims)
	return c.Subject, nil
}

// Open creates a new Active session for username, failing if one is
// already active (§4.7). Returns the session, including its signed
// token.
func (r *Registry) Open(username, ip string, port int) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[username]; ok && existing.State == Active {
		return nil, false
	}

	now := time.Now()
	token, err := r.issueToken(username, now)
	if err != nil {
		token = ""
	}
	s := &Session{
		Username:     username,
		ClientIP:     ip,
		ClientPort:   port,
		Token:        token,
		State:        Active,
		CreatedAt:    now,
		LastActivity: now,
	}
	r.sessions[username] = s
	return s, true
}

// Close ends username's session, if any. Returns whether a session was
// found and closed.
func (r *Registry) Close(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[username]
	if !ok || s.State != Active {
		return false
	}
	s.State = Ended
	delete(r.sessions, username)
	return true
}

// Touch records activity on username's session, for idle-timeout
// tracking.
func (r *Registry) Touch(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[username]; ok {
		s.LastActivity = time.Now()
	}
}

// ExpireIdle closes every Active session whose LastActivity is older
// than maxIdle, returning the usernames evicted. This is the process
// that enforces SESSION_TIMEOUT (§5).
func (r *Registry) ExpireIdle(maxIdle time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-maxIdle)
	var evicted []string
	for username, s := range r.sessions {
		if s.State == Active && s.LastActivity.Before(cutoff) {
			s.State = Expired
			delete(r.sessions, username)
			evicted = append(evicted, username)
		}
	}
	return evicted
}

// ReaperSweepInterval is how often a Reaper checks for idle sessions,
// mirroring the scheduler wheel's own 1-second tick (§4.6).
const ReaperSweepInterval = time.Second

// Reaper is the dedicated tick thread that enforces SESSION_TIMEOUT
// (§5): "session idle timeout is SESSION_TIMEOUT seconds". It is the
// session registry's own analog of the scheduler wheel's tick
// goroutine, built the same way — a ticker plus stop/done channels.
type Reaper struct {
	registry *Registry
	maxIdle  time.Duration
	onEvict  func(username string)
	stop     chan struct{}
	done     chan struct{}
}

// NewReaper builds a Reaper that evicts sessions idle for longer than
// maxIdle, calling onEvict once per evicted username. onEvict may be
// nil.
func NewReaper(registry *Registry, maxIdle time.Duration, onEvict func(username string)) *Reaper {
	return &Reaper{
		registry: registry,
		maxIdle:  maxIdle,
		onEvict:  onEvict,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run sweeps for idle sessions once per ReaperSweepInterval until Stop
// is called. It is meant to run in its own goroutine.
func (rp *Reaper) Run() {
	defer close(rp.done)
	ticker := time.NewTicker(ReaperSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for _, username := range rp.registry.ExpireIdle(rp.maxIdle) {
				if rp.onEvict != nil {
					rp.onEvict(username)
				}
			}
		case <-rp.stop:
			return
		}
	}
}

// Stop halts the sweep goroutine started by Run and waits for it to
// exit.
func (rp *Reaper) Stop() {
	close(rp.stop)
	<-rp.done
}

// LastActivity returns username's recorded last-activity time and
// whether it currently has an Active session.
func (r *Registry) LastActivity(username string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[username]
	if !ok || s.State != Active {
		return time.Time{}, false
	}
	return s.LastActivity, true
}

// IsActive reports whether username currently has an Active session.
func (r *Registry) IsActive(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[username]
	return ok && s.State == Active
}

// Count returns the number of Active sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sessions {
		if s.State == Active {
			n++
		}
	}
	return n
}
