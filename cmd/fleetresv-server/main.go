// SPDX-FileCopyrightText: 2025 The fleetresv Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jtkristinsson/fleetresv/internal/auth"
	"github.com/jtkristinsson/fleetresv/internal/dashboard"
	"github.com/jtkristinsson/fleetresv/internal/fleet/device"
	"github.com/jtkristinsson/fleetresv/internal/fleet/reservation"
	"github.com/jtkristinsson/fleetresv/internal/fleet/scheduler"
	"github.com/jtkristinsson/fleetresv/internal/fleet/session"
	"github.com/jtkristinsson/fleetresv/internal/obslog"
	"github.com/jtkristinsson/fleetresv/internal/perfstats"
	"github.com/jtkristinsson/fleetresv/internal/server/acceptor"
	"github.com/jtkristinsson/fleetresv/internal/server/conn"
	"github.com/jtkristinsson/fleetresv/internal/server/connset"
	"github.com/jtkristinsson/fleetresv/internal/serverconfig"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	Version = "dev"

	flagConfigFile  string
	flagTLSCert     string
	flagTLSKey      string
	flagCredentials string
	flagWheelSize   int
	flagDashboard   string
	flagLogPath     string

	rootCmd = &cobra.Command{
		Use:     "fleetresv-server [port]",
		Short:   "Multi-user device reservation server",
		Version: Version,
		Args:    cobra.MaximumNArgs(1),
		RunE:    runServer,
	}
)

func init() {
	rootCmd.Flags().StringVar(&flagConfigFile, "config", "", "path to a YAML config file")
	rootCmd.Flags().StringVar(&flagTLSCert, "tls_cert", "", "path to the server's TLS certificate (PEM)")
	rootCmd.Flags().StringVar(&flagTLSKey, "tls_key", "", "path to the server's TLS private key (PEM)")
	rootCmd.Flags().StringVar(&flagCredentials, "credentials", "", "path to the username:password credentials file")
	rootCmd.Flags().IntVar(&flagWheelSize, "wheel_size", 0, "time-wheel bucket count; validated but not applied, the wheel always has scheduler.Size buckets")
	rootCmd.Flags().StringVar(&flagDashboard, "dashboard_addr", "", "address the read-only HTTP/WS dashboard listens on")
	rootCmd.Flags().StringVar(&flagLogPath, "log_path", "", "path to the log file (empty logs to stderr)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := serverconfig.Load(cmd, args, flagConfigFile)
	if err != nil {
		return err
	}

	var logWriter *os.File = os.Stderr
	if cfg.LogPath != "" {
		f, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		defer f.Close()
		logWriter = f
	}
	logger := obslog.NewAsyncLogger(logWriter, 1024)
	defer logger.Close()

	cert, err := tls.LoadX509KeyPair(cfg.TLSCertPath, cfg.TLSKeyPath)
	if err != nil {
		return fmt.Errorf("loading tls key pair: %w", err)
	}
	tlsConfig := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}

	creds, err := auth.LoadFile(cfg.CredentialsPath)
	if err != nil {
		return fmt.Errorf("loading credentials file: %w", err)
	}

	devices := device.NewRegistry()
	sessions := session.NewRegistry([]byte(fmt.Sprintf("fleetresv-%d", os.Getpid())))
	conns := connset.NewRegistry()

	reg := prometheus.NewRegistry()
	stats := perfstats.NewCollector(reg)

	wheelHolder := new(wheelAdapter)
	store := reservation.NewStore(devices, wheelHolder)
	wheel := scheduler.New(store, broadcastAdapter{conns: conns, devices: devices})
	wheelHolder.wheel = wheel

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info(obslog.CategoryAcceptor, "shutdown signal received")
		cancel()
	}()

	go wheel.Run()
	defer wheel.Stop()

	reaper := session.NewReaper(sessions, cfg.SessionTimeout, func(username string) {
		logger.Info(obslog.CategorySession, "session idle timeout", "user", username)
		conns.DisconnectUser(username)
	})
	go reaper.Run()
	defer reaper.Stop()

	deps := conn.Deps{
		Sessions:     sessions,
		Devices:      devices,
		Reservations: store,
		Credentials:  creds,
		Stats:        stats,
		Log:          logger,
		Conns:        conns,
	}

	newHandler := func(netConn net.Conn) {
		conn.New(netConn, deps).Run()
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	a, err := acceptor.New(addr, tlsConfig, newHandler, logger)
	if err != nil {
		return fmt.Errorf("binding listener on %s: %w", addr, err)
	}

	dash := dashboard.New(dashboard.Deps{Devices: devices, Sessions: sessions, Stats: stats, Conns: conns, Gatherer: reg})
	dashSrv := &http.Server{Addr: cfg.DashboardAddr, Handler: dash.Handler()}
	go func() {
		if err := dashSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(obslog.CategoryDashboard, "dashboard server stopped", "err", err.Error())
		}
	}()

	logger.Info(obslog.CategoryAcceptor, "server started", "port", cfg.Port, "dashboard", cfg.DashboardAddr)
	a.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), dashboardShutdownTimeout)
	defer shutdownCancel()
	_ = dashSrv.Shutdown(shutdownCtx)

	logger.Info(obslog.CategoryAcceptor, "server stopped")
	return nil
}

// wheelAdapter breaks the construction cycle between the reservation
// store and the scheduler wheel: the wheel's own constructor takes the
// store as a dependency, so the store must be given something
// satisfying reservation.Wheel before the real *scheduler.Wheel exists.
// wheelHolder is built empty and patched with the real wheel once it is
// constructed, one line later.
type wheelAdapter struct {
	wheel *scheduler.Wheel
}

func (a *wheelAdapter) Insert(id uint32, end time.Time) bool {
	return a.wheel.Insert(id, end)
}

// broadcastAdapter implements scheduler.Broadcaster: the wheel only
// knows it needs to notify "something" once per tick that retired an
// entry, per §4.6 step 3. Fanning that out to every logged-in
// connection plus every dashboard WebSocket viewer is the connection
// list's job.
type broadcastAdapter struct {
	conns   *connset.Registry
	devices *device.Registry
}

func (b broadcastAdapter) Broadcast() {
	b.conns.Broadcast(b.devices.List(0))
}

const dashboardShutdownTimeout = 5 * time.Second
