// Copyright 2026 The Netcfgd Authors
// SPDX-License-Identifier: Apache-2.0

package netcfg

import (
	"sync"

	"github.com/google/uuid"

	"github.com/vpncfg/netcfgd/lib/clock"
)

// Registry is the single source of truth for session and change state.
// One entry per open session, keyed by token; every mutation happens
// behind the mutex so a RequestChange and a CloseSession for the same
// session can never interleave inconsistently.
//
// Policy: one open session per client identity. A second CreateSession
// from the same identity fails with ErrDuplicateSession until the first
// session is fully torn down.
type Registry struct {
	mu    sync.Mutex
	clock clock.Clock

	// sessions maps token to the open session entry.
	sessions map[string]*session

	// owners maps client identity to its open session token.
	owners map[string]string

	// closed remembers tokens of sessions that completed teardown, so
	// closing an already-closed session is a documented no-op instead
	// of ErrUnknownSession. Bounded to closedTombstones entries;
	// closedOrder tracks insertion order for eviction.
	closed      map[string]struct{}
	closedOrder []string
}

// closedTombstones caps how many closed-session tokens the registry
// remembers. Beyond the cap the oldest tombstone is forgotten and a
// stale close of that session reports ErrUnknownSession instead of the
// no-op; the controller treats both as "nothing to do", so the cap
// only bounds memory on a long-lived process.
const closedTombstones = 1024

// NewRegistry returns an empty registry using the given clock for
// record timestamps.
func NewRegistry(clk clock.Clock) *Registry {
	return &Registry{
		clock:    clk,
		sessions: make(map[string]*session),
		owners:   make(map[string]string),
		closed:   make(map[string]struct{}),
	}
}

// CreateSession opens a session for the given client identity and
// returns its token. Fails with ErrDuplicateSession if the identity
// already owns an open session.
func (r *Registry) CreateSession(owner string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.owners[owner]; exists {
		return "", ErrDuplicateSession
	}

	token := uuid.NewString()
	r.sessions[token] = &session{
		token:     token,
		owner:     owner,
		state:     SessionCreated,
		createdAt: r.clock.Now(),
	}
	r.owners[owner] = token
	return token, nil
}

// OwnerOf returns the identity owning the session token, or false if
// the token does not resolve to an open session.
func (r *Registry) OwnerOf(token string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.sessions[token]
	if !exists {
		return "", false
	}
	return entry.owner, true
}

// TokenOf returns the open session token for a client identity, or
// false if the identity owns no open session.
func (r *Registry) TokenOf(owner string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, exists := r.owners[owner]
	return token, exists
}

// RecordChange appends an applied change to the session's owned
// sequence. Fails with ErrUnknownSession unless the token resolves to
// a session in a state that accepts changes. A record is only ever
// appended after its mutation succeeded, so rollback never attempts to
// undo something that never took effect.
func (r *Registry) RecordChange(token string, record Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.sessions[token]
	if !exists || !entry.openForChanges() {
		return ErrUnknownSession
	}

	entry.records = append(entry.records, record)
	if entry.state == SessionCreated {
		entry.state = SessionConfiguring
	}
	return nil
}

// Activate marks a configuring session as active, meaning its latest
// change request completed. No-op for sessions in other states.
func (r *Registry) Activate(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, exists := r.sessions[token]; exists && entry.state == SessionConfiguring {
		entry.state = SessionActive
	}
}

// BeginTeardown transitions the session to tearing-down and returns
// its records in reverse application order, which is the order the
// caller must reverse them in. Returns ErrUnknownSession for tokens that were
// never open, and an empty list for sessions already closed or already
// tearing down.
func (r *Registry) BeginTeardown(token string) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.sessions[token]
	if !exists {
		if _, wasClosed := r.closed[token]; wasClosed {
			return nil, nil
		}
		return nil, ErrUnknownSession
	}
	if entry.state == SessionTearingDown {
		return nil, nil
	}
	entry.state = SessionTearingDown

	reversed := make([]Record, len(entry.records))
	for i, record := range entry.records {
		reversed[len(entry.records)-1-i] = record
	}
	return reversed, nil
}

// CompleteTeardown closes the session and removes its entry. Must be
// called once teardown finishes, even if some reversals failed; the
// registry never re-attempts rollback. No-op for unknown tokens so a
// second CompleteTeardown is harmless.
func (r *Registry) CompleteTeardown(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.sessions[token]
	if !exists {
		return
	}
	entry.state = SessionClosed
	delete(r.sessions, token)
	delete(r.owners, entry.owner)

	if len(r.closedOrder) >= closedTombstones {
		oldest := r.closedOrder[0]
		r.closedOrder = r.closedOrder[1:]
		delete(r.closed, oldest)
	}
	r.closed[token] = struct{}{}
	r.closedOrder = append(r.closedOrder, token)
}

// IsEmpty reports whether no session is open. Read by the idle monitor
// on every poll.
func (r *Registry) IsEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions) == 0
}

// Tokens returns the tokens of all open sessions. Used by shutdown to
// drain remaining sessions.
func (r *Registry) Tokens() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	tokens := make([]string, 0, len(r.sessions))
	for token := range r.sessions {
		tokens = append(tokens, token)
	}
	return tokens
}

// Snapshot copies every open session's ownership data, for the change
// journal.
func (r *Registry) Snapshot() []SessionSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshots := make([]SessionSnapshot, 0, len(r.sessions))
	for _, entry := range r.sessions {
		records := make([]Record, len(entry.records))
		copy(records, entry.records)
		snapshots = append(snapshots, SessionSnapshot{
			Token:   entry.token,
			Owner:   entry.owner,
			Records: records,
		})
	}
	return snapshots
}

// StateOf returns the session state for diagnostics, or false if the
// token is not open.
func (r *Registry) StateOf(token string) (SessionState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.sessions[token]
	if !exists {
		return 0, false
	}
	return entry.state, true
}
