// Copyright 2026 The Netcfgd Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"log/slog"

	"github.com/godbus/dbus/v5"
)

// Log levels carried on the bus, matching syslog severities for the
// subset the service emits.
const (
	LevelError uint32 = 3
	LevelWarn  uint32 = 4
	LevelInfo  uint32 = 6
	LevelDebug uint32 = 7
)

// signalEmitter sends undirected signals. Satisfied by *dbus.Conn.
type signalEmitter interface {
	Emit(path dbus.ObjectPath, name string, values ...interface{}) error
}

// collectorObject invokes methods on the remote log collector.
// Satisfied by dbus.BusObject.
type collectorObject interface {
	Call(method string, flags dbus.Flags, args ...interface{}) *dbus.Call
}

// Relay delivers session lifecycle events and log records to bus
// subscribers. In broadcast mode every event is an undirected signal on
// the service interface, visible to any match rule. In unicast mode
// events are delivered only to the attached log collector, as no-reply
// method calls, so they never fan out to unrelated listeners.
//
// Delivery is best effort. A failed or missing collector drops the
// event and leaves a local log line; it never fails the operation that
// produced the event.
type Relay struct {
	emitter   signalEmitter
	collector collectorObject
	logger    *slog.Logger
}

// NewBroadcastRelay returns a relay emitting undirected signals on
// conn.
func NewBroadcastRelay(conn signalEmitter, logger *slog.Logger) *Relay {
	return &Relay{emitter: conn, logger: logger}
}

// NewUnicastRelay returns a relay delivering events to the given log
// collector object. Call Attach before use and Detach at shutdown.
func NewUnicastRelay(collector collectorObject, logger *slog.Logger) *Relay {
	return &Relay{collector: collector, logger: logger}
}

// Attach registers this service with the log collector. Unicast mode
// only; a broadcast relay has nobody to attach to.
func (r *Relay) Attach() {
	if r.collector == nil {
		return
	}
	call := r.collector.Call(LogInterface+".Attach", 0, BusName)
	if call.Err != nil {
		r.logger.Warn("log collector attach failed, events will be dropped",
			"collector", LogBusName, "error", call.Err)
	}
}

// Detach deregisters from the log collector.
func (r *Relay) Detach() {
	if r.collector == nil {
		return
	}
	call := r.collector.Call(LogInterface+".Detach", 0, BusName)
	if call.Err != nil {
		r.logger.Debug("log collector detach failed",
			"collector", LogBusName, "error", call.Err)
	}
}

// SessionOpened implements netcfg.EventSink.
func (r *Relay) SessionOpened(token string) {
	r.event("SessionOpened", "session-opened", token)
}

// SessionClosed implements netcfg.EventSink.
func (r *Relay) SessionClosed(token string) {
	r.event("SessionClosed", "session-closed", token)
}

// ShutdownPending implements netcfg.EventSink.
func (r *Relay) ShutdownPending() {
	r.event("ShutdownPending", "shutdown-pending", "")
}

// Log forwards one log record onto the bus.
func (r *Relay) Log(level uint32, tag, message string) {
	if r.emitter != nil {
		if err := r.emitter.Emit(ObjectPath, Interface+".Log", level, tag, message); err != nil {
			r.logger.Debug("dropping log signal", "error", err)
		}
		return
	}
	call := r.collector.Call(LogInterface+".Log", dbus.FlagNoReplyExpected, level, tag, message)
	if call.Err != nil {
		r.logger.Debug("dropping log event", "collector", LogBusName, "error", call.Err)
	}
}

// event delivers one lifecycle event: as the named signal in broadcast
// mode, or as an Event call to the collector in unicast mode.
func (r *Relay) event(signalName, eventKind, detail string) {
	if r.emitter != nil {
		var err error
		if detail == "" {
			err = r.emitter.Emit(ObjectPath, Interface+"."+signalName)
		} else {
			err = r.emitter.Emit(ObjectPath, Interface+"."+signalName, detail)
		}
		if err != nil {
			r.logger.Debug("dropping event signal", "event", eventKind, "error", err)
		}
		return
	}
	call := r.collector.Call(LogInterface+".Event", dbus.FlagNoReplyExpected, eventKind, detail)
	if call.Err != nil {
		r.logger.Debug("dropping event", "event", eventKind,
			"collector", LogBusName, "error", call.Err)
	}
}
