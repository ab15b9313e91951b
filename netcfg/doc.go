// Copyright 2026 The Netcfgd Authors
// SPDX-License-Identifier: Apache-2.0

// Package netcfg implements the core of the network configuration
// service: per-session ownership tracking of applied network changes,
// the applier that mutates and reverses kernel and resolver state, the
// change journal that survives restarts, the idle monitor, and the
// controller that ties them together behind the bus surface.
//
// The controller is the only entry point the bus layer calls. All
// session and change state lives in the Registry and is serialized
// behind its mutex; the idle monitor only ever reads emptiness and the
// last-activity timestamp.
package netcfg
