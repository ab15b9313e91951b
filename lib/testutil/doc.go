// Copyright 2026 The Netcfgd Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers: channel receive and
// close assertions with timeout safety valves so individual tests never
// hang indefinitely on a channel operation.
package testutil
