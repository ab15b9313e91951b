// Copyright 2026 The Netcfgd Authors
// SPDX-License-Identifier: Apache-2.0

package netcfg

import (
	"fmt"
	"time"
)

// SessionState is the lifecycle state of one client session.
type SessionState int

const (
	// SessionCreated is a freshly opened session with no changes yet.
	SessionCreated SessionState = iota + 1

	// SessionConfiguring is a session with a change request in flight.
	SessionConfiguring

	// SessionActive is a session holding at least one applied change.
	SessionActive

	// SessionTearingDown is a session whose recorded changes are being
	// reversed. Once entered, teardown runs to completion; the entry
	// never returns to an earlier state.
	SessionTearingDown

	// SessionClosed is a torn-down session. Closed sessions are
	// removed from the registry; the state exists only transiently.
	SessionClosed
)

// String returns the state name for logs and diagnostics.
func (s SessionState) String() string {
	switch s {
	case SessionCreated:
		return "created"
	case SessionConfiguring:
		return "configuring"
	case SessionActive:
		return "active"
	case SessionTearingDown:
		return "tearing-down"
	case SessionClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown-state-%d", int(s))
	}
}

// session is one client's network-configuration lease. All access is
// serialized by the registry's mutex.
type session struct {
	// token is the opaque session identifier handed to the client.
	token string

	// owner is the bus identity that opened the session. Requests
	// carrying this session's token from any other identity are
	// rejected.
	owner string

	// state is the current lifecycle state.
	state SessionState

	// createdAt is when the session was opened.
	createdAt time.Time

	// records are the applied changes in application order. Rollback
	// processes them in reverse.
	records []Record
}

// openForChanges reports whether the session accepts new change
// records.
func (s *session) openForChanges() bool {
	switch s.state {
	case SessionCreated, SessionConfiguring, SessionActive:
		return true
	default:
		return false
	}
}

// SessionSnapshot is an externally visible copy of a session's
// ownership data, used for journaling and diagnostics.
type SessionSnapshot struct {
	// Token is the session token.
	Token string `cbor:"token"`

	// Owner is the bus identity owning the session.
	Owner string `cbor:"owner"`

	// Records are the applied changes in application order.
	Records []Record `cbor:"records"`
}
