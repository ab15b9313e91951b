// Copyright 2026 The Netcfgd Authors
// SPDX-License-Identifier: Apache-2.0

package netcfg

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vpncfg/netcfgd/lib/clock"
)

// IdleMonitor shuts the service down after a configured period with no
// session activity and no open sessions.
//
// It polls on a fixed interval instead of arming a single deadline
// timer: activity arriving after a deadline was computed but before it
// fires must reset the clock, and with a pure poll-time check the idle
// condition is always a function of current state, never a latch. A
// threshold of zero disables the monitor entirely.
type IdleMonitor struct {
	clock     clock.Clock
	registry  *Registry
	threshold time.Duration
	poll      time.Duration
	logger    *slog.Logger

	// requestShutdown is invoked exactly once, the first time a poll
	// finds the service idle past the threshold.
	requestShutdown func()

	mu           sync.Mutex
	lastActivity time.Time
	triggered    bool
}

// NewIdleMonitor returns a monitor polling every poll interval against
// the given threshold. requestShutdown is called at most once, from
// the monitor's Run goroutine.
func NewIdleMonitor(clk clock.Clock, registry *Registry, threshold, poll time.Duration, logger *slog.Logger, requestShutdown func()) *IdleMonitor {
	return &IdleMonitor{
		clock:           clk,
		registry:        registry,
		threshold:       threshold,
		poll:            poll,
		logger:          logger,
		requestShutdown: requestShutdown,
		lastActivity:    clk.Now(),
	}
}

// Touch records session activity: a session created, a change applied,
// or a session closed. Touching after a near-trigger condition moves
// the monitor back to armed without any explicit transition.
func (m *IdleMonitor) Touch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastActivity = m.clock.Now()
}

// Triggered reports whether the monitor has requested shutdown.
func (m *IdleMonitor) Triggered() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.triggered
}

// Enabled reports whether idle shutdown is configured at all.
func (m *IdleMonitor) Enabled() bool { return m.threshold > 0 }

// Run polls until ctx is cancelled. With a zero threshold it returns
// immediately: the monitor is disabled for the process lifetime.
func (m *IdleMonitor) Run(ctx context.Context) {
	if !m.Enabled() {
		m.logger.Info("idle shutdown disabled")
		return
	}

	m.logger.Info("idle monitor armed",
		"threshold", m.threshold.String(),
		"poll_interval", m.poll.String())

	ticker := m.clock.NewTicker(m.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pollOnce()
		}
	}
}

// pollOnce evaluates the idle condition at this instant. Both parts
// are checked at poll time: the registry must be empty AND the elapsed
// time since the last activity must have reached the threshold.
// Shutdown is requested exactly once; later polls are no-ops.
func (m *IdleMonitor) pollOnce() {
	m.mu.Lock()
	if m.triggered {
		m.mu.Unlock()
		return
	}
	idleFor := m.clock.Now().Sub(m.lastActivity)
	if idleFor < m.threshold || !m.registry.IsEmpty() {
		m.mu.Unlock()
		return
	}
	m.triggered = true
	m.mu.Unlock()

	m.logger.Info("idle threshold exceeded with no open sessions, requesting shutdown",
		"idle_for", idleFor.String())
	m.requestShutdown()
}
