// Copyright 2026 The Netcfgd Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import "github.com/godbus/dbus/v5"

// Well-known names of the service on the system bus.
const (
	// BusName is the well-known bus name the service claims at startup.
	BusName = "net.vpncfg.netcfg1"

	// ObjectPath is the single exported object.
	ObjectPath dbus.ObjectPath = "/net/vpncfg/netcfg1"

	// Interface is the service interface on ObjectPath.
	Interface = "net.vpncfg.netcfg1"
)

// Names of the external log collector service used in unicast mode.
const (
	// LogBusName is the well-known name of the log collector.
	LogBusName = "net.vpncfg.log1"

	// LogObjectPath is the collector's receiving object.
	LogObjectPath dbus.ObjectPath = "/net/vpncfg/log1"

	// LogInterface is the collector interface.
	LogInterface = "net.vpncfg.log1"
)

// Named bus errors returned by the exported methods.
const (
	errSessionRejected  = Interface + ".Error.SessionRejected"
	errDuplicateSession = Interface + ".Error.DuplicateSession"
	errUnknownSession   = Interface + ".Error.UnknownSession"
	errApplyFailed      = Interface + ".Error.ApplyFailed"
	errInvalidRequest   = Interface + ".Error.InvalidRequest"
)
