// Copyright 2026 The Netcfgd Authors
// SPDX-License-Identifier: Apache-2.0

// Command netcfgd is the privileged network configuration service.
//
// It starts as root, retains CAP_NET_ADMIN, drops to an unprivileged
// account, and then serves session-scoped network mutation requests
// from VPN client processes over the D-Bus system bus. Every applied
// change is recorded and reversed when its session ends, so a finished
// or crashed client leaves no residue in the host network state.
package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/vpncfg/netcfgd/bus"
	"github.com/vpncfg/netcfgd/lib/clock"
	"github.com/vpncfg/netcfgd/lib/config"
	"github.com/vpncfg/netcfgd/lib/privilege"
	"github.com/vpncfg/netcfgd/lib/version"
	"github.com/vpncfg/netcfgd/netcfg"
)

// Exit codes. Callers (init systems, wrapper scripts) distinguish bad
// invocations from runtime failures.
const (
	exitOK    = 0
	exitUsage = 2
	exitFatal = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	flags := pflag.NewFlagSet("netcfgd", pflag.ContinueOnError)
	configPath := flags.String("config", "", "path to the YAML configuration file")
	userName := flags.String("user", "", "unprivileged account to drop to")
	groupName := flags.String("group", "", "unprivileged group to drop to")
	idleExit := flags.Duration("idle-exit", 0, "shut down after this long with no open sessions (0 disables)")
	logFile := flags.String("log-file", "", "log destination (empty: stderr, \"stdout:\": standard output)")
	logLevel := flags.String("log-level", "", "log level: debug, info, warn, error")
	colour := flags.Bool("colour", false, "coloured log output when the destination is a terminal")
	signalBroadcast := flags.Bool("signal-broadcast", false, "broadcast status signals instead of sending them to the log collector")
	resolvConf := flags.String("resolv-conf", "", "resolver file rewritten for DNS changes")
	stateDir := flags.String("state-dir", "", "directory holding the change journal")
	showVersion := flags.Bool("version", false, "print version and exit")

	if err := flags.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}
	if *showVersion {
		fmt.Println(version.Full())
		return exitOK
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitUsage
		}
		cfg = loaded
	}

	// Flags override file values, but only when actually given.
	if flags.Changed("user") {
		cfg.User = *userName
	}
	if flags.Changed("group") {
		cfg.Group = *groupName
	}
	if flags.Changed("idle-exit") {
		cfg.IdleExit = config.Duration(*idleExit)
	}
	if flags.Changed("log-file") {
		cfg.LogFile = *logFile
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = *logLevel
	}
	if flags.Changed("colour") {
		cfg.Colour = *colour
	}
	if flags.Changed("signal-broadcast") {
		cfg.SignalBroadcast = *signalBroadcast
	}
	if flags.Changed("resolv-conf") {
		cfg.ResolvConf = *resolvConf
	}
	if flags.Changed("state-dir") {
		cfg.StateDir = *stateDir
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}

	logger, closeLog, err := openLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}
	defer closeLog()

	if err := serve(cfg, logger); err != nil {
		logger.Error("fatal error", "error", err)
		return exitFatal
	}
	return exitOK
}

// serve runs the service to completion: privilege drop, bus
// registration, the session-serving main loop, and the final teardown
// of every remaining session.
func serve(cfg config.Config, logger *slog.Logger) error {
	logger.Info("starting", "version", version.Info())

	// Resolving the drop target must succeed before anything touches
	// the bus or the kernel; a typo in the account name is fatal.
	identity, err := privilege.LookupIdentity(cfg.User, cfg.Group)
	if err != nil {
		return err
	}

	// The state directory is created while still root, then handed to
	// the unprivileged account so the journal stays writable.
	if err := os.MkdirAll(cfg.StateDir, 0700); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	if err := os.Chown(cfg.StateDir, identity.UID, identity.GID); err != nil {
		return fmt.Errorf("handing state directory to %s: %w", identity.User, err)
	}

	if err := privilege.Drop(identity, privilege.NetAdmin); err != nil {
		return err
	}
	logger.Info("privileges dropped",
		"user", identity.User, "uid", identity.UID,
		"group", identity.Group, "gid", identity.GID)

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return fmt.Errorf("connecting to system bus: %w", err)
	}
	defer conn.Close()

	var relay *bus.Relay
	if cfg.SignalBroadcast {
		relay = bus.NewBroadcastRelay(conn, logger)
	} else {
		relay = bus.NewUnicastRelay(conn.Object(bus.LogBusName, bus.LogObjectPath), logger)
	}
	relay.Attach()
	defer relay.Detach()

	systemClock := clock.Real()
	registry := netcfg.NewRegistry(systemClock)
	resolver := netcfg.NewResolver(cfg.ResolvConf)
	applier := netcfg.NewNetlinkApplier(systemClock, resolver, logger)
	journal := netcfg.NewJournal(cfg.StateDir)

	var monitor *netcfg.IdleMonitor
	controller := netcfg.NewController(netcfg.ControllerConfig{
		Registry: registry,
		Applier:  applier,
		Journal:  journal,
		Events:   relay,
		Logger:   logger,
		OnActivity: func() {
			if monitor != nil {
				monitor.Touch()
			}
		},
	})
	if err := controller.MarkPrivilegeDropped(); err != nil {
		return err
	}

	// Leftover changes from a crashed previous instance are reversed
	// before any new session can conflict with them.
	if err := controller.RecoverJournal(); err != nil {
		return err
	}

	service := bus.NewService(conn, controller, relay, logger)
	if err := service.Export(); err != nil {
		return err
	}
	if err := controller.MarkRegistered(); err != nil {
		return err
	}
	logger.Info("registered on system bus", "name", bus.BusName)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := service.WatchDisconnects(ctx); err != nil {
		return err
	}

	// The idle monitor must exist before Start: the moment the service
	// is running, bus handlers invoke the activity callback that reads
	// it.
	monitor = netcfg.NewIdleMonitor(systemClock, registry,
		time.Duration(cfg.IdleExit), time.Duration(cfg.PollInterval),
		logger, func() { controller.RequestShutdown("idle timeout") })
	go monitor.Run(ctx)

	if err := controller.Start(); err != nil {
		return err
	}

	logger.Info("serving", "idle_exit", time.Duration(cfg.IdleExit).String())

	select {
	case <-ctx.Done():
		controller.RequestShutdown("signal")
	case <-controller.ShutdownRequested():
	}

	controller.Shutdown()
	logger.Info("shut down cleanly")
	return nil
}

// openLogger builds the process logger per configuration. JSON to
// files, human-readable text on terminals, optionally coloured.
func openLogger(cfg config.Config) (*slog.Logger, func(), error) {
	var destination io.Writer
	closeLog := func() {}

	switch cfg.LogFile {
	case "":
		destination = os.Stderr
	case "stdout:":
		destination = os.Stdout
	default:
		file, err := os.OpenFile(cfg.LogFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0640)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		destination = file
		closeLog = func() { file.Close() }
	}

	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	options := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if file, ok := destination.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
		// Terminals get the text handler; colour only when asked for.
		if cfg.Colour {
			handler = slog.NewTextHandler(colourWriter{destination}, options)
		} else {
			handler = slog.NewTextHandler(destination, options)
		}
	} else {
		handler = slog.NewJSONHandler(destination, options)
	}
	return slog.New(handler), closeLog, nil
}

// colourWriter tints whole log lines by a crude level sniff. Good
// enough for interactive debugging, never used for files.
type colourWriter struct {
	w io.Writer
}

func (c colourWriter) Write(p []byte) (int, error) {
	var colour string
	switch {
	case bytes.Contains(p, []byte("level=ERROR")):
		colour = "\x1b[31m"
	case bytes.Contains(p, []byte("level=WARN")):
		colour = "\x1b[33m"
	case bytes.Contains(p, []byte("level=DEBUG")):
		colour = "\x1b[2m"
	default:
		if _, err := c.w.Write(p); err != nil {
			return 0, err
		}
		return len(p), nil
	}
	if _, err := c.w.Write([]byte(colour)); err != nil {
		return 0, err
	}
	if _, err := c.w.Write(p); err != nil {
		return 0, err
	}
	if _, err := c.w.Write([]byte("\x1b[0m")); err != nil {
		return 0, err
	}
	return len(p), nil
}
