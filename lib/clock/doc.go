// Copyright 2026 The Netcfgd Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for testability.
//
// Production code accepts a Clock parameter instead of calling time.Now,
// time.After, or time.NewTicker directly. Real() provides the standard
// library behavior; Fake() provides a deterministic clock that advances
// only when Advance is called, so timer-driven behavior (the idle
// monitor's poll loop) can be tested without sleeping.
//
// Tests coordinate with goroutines through WaitForTimers:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	monitor := netcfg.NewIdleMonitor(c, ...)
//	go monitor.Run(ctx)
//	c.WaitForTimers(1)          // poll ticker registered
//	c.Advance(30 * time.Second) // fire one poll deterministically
package clock
