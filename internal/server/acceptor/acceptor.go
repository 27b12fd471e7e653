// SPDX-FileCopyrightText: 2025 The fleetresv Authors
// SPDX-License-Identifier: Apache-2.0

// Package acceptor implements the acceptor (component I): bind,
// listen, and spawn one handler goroutine per accepted TLS connection,
// per §4.10. The spec's poll(server_fd, shutdown_pipe_read_fd) self-pipe
// is expressed idiomatically in Go as a context.Context cancelled by
// signal.Notify — both turn an async OS signal into something a
// blocking call (Accept, in our case) can be unblocked from, per
// SPEC_FULL.md §5.
package acceptor

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"time"

	"github.com/jtkristinsson/fleetresv/internal/obslog"
)

// HandlerFactory builds and runs a connection handler for one accepted
// connection. Acceptor does not know about conn.Deps directly, so
// tests can substitute a fake without constructing the full server.
type HandlerFactory func(netConn net.Conn)

// Acceptor binds one TLS listener and spawns a handler goroutine per
// accepted connection until its context is cancelled.
type Acceptor struct {
	listener net.Listener
	newConn  HandlerFactory
	log      obslog.Logger
}

// New creates an Acceptor listening on addr with the given TLS
// config. Peer verification is intentionally left to tlsConfig's
// caller — §6: "peer verification disabled".
func New(addr string, tlsConfig *tls.Config, newConn HandlerFactory, log obslog.Logger) (*Acceptor, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	tlsLn := tls.NewListener(ln, tlsConfig)
	return &Acceptor{listener: tlsLn, newConn: newConn, log: log}, nil
}

// Run accepts connections until ctx is cancelled, at which point it
// closes the listener (unblocking any in-flight Accept) and returns.
// This is the acceptor thread from §5; shutdown "finishes the current
// accept, then winds down" because closing the listener only
// interrupts a blocked Accept, never a handshake or handler already in
// progress.
func (a *Acceptor) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		_ = a.listener.Close()
	}()

	for {
		netConn, err := a.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			a.log.Warn(obslog.CategoryAcceptor, "accept failed", "err", err.Error())
			continue
		}
		configureSocket(netConn)
		go a.newConn(netConn)
	}
}

// Addr returns the acceptor's bound address, for tests and for logging
// the configured port at startup.
func (a *Acceptor) Addr() net.Addr { return a.listener.Addr() }

// Close closes the underlying listener immediately.
func (a *Acceptor) Close() error { return a.listener.Close() }

// configureSocket turns on TCP keepalive (30 s period) and TCP_NODELAY
// on the newly accepted connection's underlying TCP socket. It sets no
// send or receive timeout. tls.Conn wraps the raw connection, so we
// unwrap it to reach the *net.TCPConn.
func configureSocket(netConn net.Conn) {
	tlsConn, ok := netConn.(*tls.Conn)
	if !ok {
		return
	}
	tcpConn, ok := tlsConn.NetConn().(*net.TCPConn)
	if !ok {
		return
	}
	_ = tcpConn.SetKeepAlive(true)
	_ = tcpConn.SetKeepAlivePeriod(30 * time.Second)
	_ = tcpConn.SetNoDelay(true)
}
