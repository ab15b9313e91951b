// Copyright 2026 The Netcfgd Authors
// SPDX-License-Identifier: Apache-2.0

// Package bus exposes the network configuration service on the D-Bus
// system bus. It owns the bus name, exports the session object, maps
// domain errors onto named bus errors, watches client disconnects, and
// relays lifecycle events to subscribers either as broadcast signals or
// as unicast deliveries to an attached log collector.
package bus
