// Copyright 2026 The Netcfgd Authors
// SPDX-License-Identifier: Apache-2.0

package netcfg

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// LifecycleState is the process-wide service state. Transitions are
// strictly monotonic; there is no way back.
type LifecycleState int

const (
	// StateInitializing is the state between process start and the
	// privilege drop.
	StateInitializing LifecycleState = iota + 1

	// StatePrivilegeDropped means root identity is gone and only
	// CAP_NET_ADMIN remains.
	StatePrivilegeDropped

	// StateRegistered means the service owns its bus name.
	StateRegistered

	// StateRunning means the service accepts session requests.
	StateRunning

	// StateShuttingDown means remaining sessions are being drained.
	StateShuttingDown

	// StateTerminated is the final state before process exit.
	StateTerminated
)

// String returns the state name for logs.
func (s LifecycleState) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StatePrivilegeDropped:
		return "privilege-dropped"
	case StateRegistered:
		return "registered"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting-down"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("unknown-lifecycle-%d", int(s))
	}
}

// EventSink receives service status events. The bus relay implements
// this; tests substitute a recorder.
type EventSink interface {
	// SessionOpened reports a newly opened session.
	SessionOpened(token string)

	// SessionClosed reports a fully torn-down session.
	SessionClosed(token string)

	// ShutdownPending reports that idle shutdown has been requested.
	ShutdownPending()
}

// nopSink discards all events.
type nopSink struct{}

func (nopSink) SessionOpened(string) {}
func (nopSink) SessionClosed(string) {}
func (nopSink) ShutdownPending()     {}

// ControllerConfig wires a Controller's collaborators.
type ControllerConfig struct {
	// Registry tracks sessions and their owned changes. Required.
	Registry *Registry

	// Applier mutates and reverses network state. Required.
	Applier Applier

	// Journal persists live change records across restarts. Optional.
	Journal *Journal

	// Events receives status events. Optional; defaults to a no-op
	// sink.
	Events EventSink

	// Logger receives structured diagnostics. Required.
	Logger *slog.Logger

	// OnActivity is invoked whenever a session is created, a change is
	// applied, or a session closes. Wired to the idle monitor's Touch.
	// Optional.
	OnActivity func()

	// Now supplies timestamps for journal snapshots. Optional;
	// defaults to time.Now.
	Now func() time.Time
}

// Controller is the request dispatcher and lifecycle state machine. It
// is the only component the bus layer talks to.
type Controller struct {
	registry   *Registry
	applier    Applier
	journal    *Journal
	events     EventSink
	logger     *slog.Logger
	onActivity func()
	now        func() time.Time

	mu    sync.Mutex
	state LifecycleState

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// NewController returns a controller in StateInitializing.
func NewController(cfg ControllerConfig) *Controller {
	events := cfg.Events
	if events == nil {
		events = nopSink{}
	}
	onActivity := cfg.OnActivity
	if onActivity == nil {
		onActivity = func() {}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Controller{
		registry:   cfg.Registry,
		applier:    cfg.Applier,
		journal:    cfg.Journal,
		events:     events,
		logger:     cfg.Logger,
		onActivity: onActivity,
		now:        now,
		state:      StateInitializing,
		shutdownCh: make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() LifecycleState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// transition advances the lifecycle by exactly one step. Any other
// move is a programming error surfaced as an error so startup aborts
// instead of running half-initialized.
func (c *Controller) transition(from, to LifecycleState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != from {
		return fmt.Errorf("lifecycle transition %s -> %s rejected: current state is %s", from, to, c.state)
	}
	c.state = to
	c.logger.Info("lifecycle transition", "from", from.String(), "to", to.String())
	return nil
}

// MarkPrivilegeDropped records that the capability guard completed.
func (c *Controller) MarkPrivilegeDropped() error {
	return c.transition(StateInitializing, StatePrivilegeDropped)
}

// MarkRegistered records that the service owns its bus name.
func (c *Controller) MarkRegistered() error {
	return c.transition(StatePrivilegeDropped, StateRegistered)
}

// Start moves the service to StateRunning; from here on sessions are
// accepted.
func (c *Controller) Start() error {
	return c.transition(StateRegistered, StateRunning)
}

// RequestShutdown asks the service to begin shutting down. Safe to
// call from any goroutine and any number of times; only the first call
// has effect. The main loop observes ShutdownRequested.
func (c *Controller) RequestShutdown(reason string) {
	c.shutdownOnce.Do(func() {
		c.logger.Info("shutdown requested", "reason", reason)
		c.events.ShutdownPending()
		close(c.shutdownCh)
	})
}

// ShutdownRequested is closed once shutdown has been requested.
func (c *Controller) ShutdownRequested() <-chan struct{} {
	return c.shutdownCh
}

// OpenSession opens a session for the calling bus identity. Fails with
// ErrSessionRejected unless the service is running, and with
// ErrDuplicateSession if the identity already owns a session.
func (c *Controller) OpenSession(caller string) (string, error) {
	if c.State() != StateRunning {
		return "", ErrSessionRejected
	}

	token, err := c.registry.CreateSession(caller)
	if err != nil {
		return "", err
	}

	c.onActivity()
	c.syncJournal()
	c.logger.Info("session opened", "session", token, "owner", caller)
	c.events.SessionOpened(token)
	return token, nil
}

// RequestChange validates, applies, and records one network change for
// the caller's session. The token must belong to the calling identity;
// a foreign or unknown token fails with ErrUnknownSession and has no
// side effect. On applier failure nothing is recorded and the error is
// returned to the caller untouched. Earlier changes in the session
// stay applied until the session closes.
func (c *Controller) RequestChange(caller, token string, change Change) (Record, error) {
	if c.State() != StateRunning {
		return Record{}, ErrSessionRejected
	}
	owner, exists := c.registry.OwnerOf(token)
	if !exists || owner != caller {
		return Record{}, ErrUnknownSession
	}

	record, err := c.applier.Apply(change)
	if err != nil {
		c.logger.Warn("change failed to apply",
			"session", token,
			"kind", change.Kind.String(),
			"target", change.Target(),
			"error", err)
		return Record{}, err
	}

	if err := c.registry.RecordChange(token, record); err != nil {
		// The session vanished between the ownership check and the
		// record append (a concurrent close). The mutation succeeded,
		// so reverse it rather than leak an unowned change.
		if reverseErr := c.applier.Reverse(record); reverseErr != nil {
			c.logger.Error("failed to reverse orphaned change",
				"kind", record.Kind.InverseName(),
				"target", record.Target(),
				"error", reverseErr)
		}
		return Record{}, err
	}
	c.registry.Activate(token)

	c.onActivity()
	c.syncJournal()
	return record, nil
}

// CloseSession tears down the caller's session: every recorded change
// is reversed in strict reverse order of application, best-effort, and
// the registry entry is removed. It never reports an error to the
// caller: the client is disconnecting regardless, and reversal
// failures are logged diagnostics, not request failures. Closing an
// unknown, foreign, or already-closed session is a no-op.
func (c *Controller) CloseSession(caller, token string) {
	owner, exists := c.registry.OwnerOf(token)
	if exists && owner != caller {
		c.logger.Warn("ignoring close of foreign session", "session", token, "caller", caller)
		return
	}
	c.teardown(token)
}

// HandleDisconnect tears down the session owned by a bus identity that
// vanished without closing, so a crashed client cannot leave orphaned
// routes or resolver entries.
func (c *Controller) HandleDisconnect(owner string) {
	token, exists := c.registry.TokenOf(owner)
	if !exists {
		return
	}
	c.logger.Info("client disconnected with open session", "owner", owner, "session", token)
	c.teardown(token)
}

// teardown reverses and removes one session. Reversal failures are
// logged and skipped: a stuck route must never block session closure
// or process shutdown. The registry entry is always removed once
// teardown begins.
func (c *Controller) teardown(token string) {
	records, err := c.registry.BeginTeardown(token)
	if err != nil {
		c.logger.Debug("teardown of unknown session ignored", "session", token)
		return
	}
	if records == nil {
		// Already closed, or teardown already in progress elsewhere;
		// the owning teardown will complete it.
		return
	}

	failures := 0
	for _, record := range records {
		if err := c.applier.Reverse(record); err != nil {
			failures++
			c.logger.Error("failed to reverse change during teardown",
				"session", token,
				"kind", record.Kind.InverseName(),
				"target", record.Target(),
				"error", err)
		}
	}

	c.registry.CompleteTeardown(token)
	c.onActivity()
	c.syncJournal()
	c.logger.Info("session closed",
		"session", token,
		"changes_reversed", len(records)-failures,
		"reverse_failures", failures)
	c.events.SessionClosed(token)
}

// Shutdown drains every still-open session (one teardown attempt
// each), then moves to StateTerminated. Called by the main loop after
// ShutdownRequested fires; also usable before Start for a failed
// startup, in which case there is nothing to drain.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	if c.state >= StateShuttingDown {
		c.mu.Unlock()
		return
	}
	previous := c.state
	c.state = StateShuttingDown
	c.mu.Unlock()
	c.logger.Info("lifecycle transition", "from", previous.String(), "to", StateShuttingDown.String())

	for _, token := range c.registry.Tokens() {
		c.teardown(token)
	}
	if c.journal != nil {
		if err := c.journal.Clear(); err != nil {
			c.logger.Error("failed to clear change journal", "error", err)
		}
	}

	c.mu.Lock()
	c.state = StateTerminated
	c.mu.Unlock()
	c.logger.Info("lifecycle transition", "from", StateShuttingDown.String(), "to", StateTerminated.String())
}

// RecoverJournal reverses changes left behind by a previous instance
// that died with sessions open. Best-effort, reverse order within each
// session; idempotent reversal absorbs anything the kernel already
// dropped (tunnel interfaces of dead processes, for example). Must run
// before the service accepts requests.
func (c *Controller) RecoverJournal() error {
	if c.journal == nil {
		return nil
	}
	state, found, err := c.journal.Load()
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	c.logger.Warn("recovering change journal from previous instance",
		"saved_at", state.SavedAt,
		"sessions", len(state.Sessions))
	for _, snapshot := range state.Sessions {
		for i := len(snapshot.Records) - 1; i >= 0; i-- {
			record := snapshot.Records[i]
			if err := c.applier.Reverse(record); err != nil {
				c.logger.Error("failed to reverse journaled change",
					"session", snapshot.Token,
					"kind", record.Kind.InverseName(),
					"target", record.Target(),
					"error", err)
			}
		}
	}
	return c.journal.Clear()
}

// syncJournal snapshots the registry to the journal. Failures are
// logged, not propagated: journaling is a restart-recovery aid and
// must not fail live requests.
func (c *Controller) syncJournal() {
	if c.journal == nil {
		return
	}
	if err := c.journal.Save(c.now(), c.registry.Snapshot()); err != nil {
		c.logger.Error("failed to write change journal", "error", err)
	}
}
