// Copyright 2026 The Netcfgd Authors
// SPDX-License-Identifier: Apache-2.0

package netcfg

import (
	"errors"
	"fmt"
)

// Sentinel errors returned across the service boundary. The bus layer
// maps these onto D-Bus error names.
var (
	// ErrDuplicateSession is returned by CreateSession when the client
	// identity already owns an open session. The registry enforces one
	// session per identity.
	ErrDuplicateSession = errors.New("client identity already owns an open session")

	// ErrUnknownSession is returned when a session token does not
	// resolve to an open session owned by the caller. Foreign tokens
	// get the same error as nonexistent ones so callers cannot probe
	// for other clients' sessions.
	ErrUnknownSession = errors.New("unknown session")

	// ErrSessionRejected is returned when the service lifecycle state
	// does not accept new sessions or changes.
	ErrSessionRejected = errors.New("service is not accepting sessions")
)

// ApplyError reports a failed network mutation. It wraps the underlying
// OS error and is returned to the requesting client verbatim; prior
// changes in the same session are never rolled back implicitly.
type ApplyError struct {
	// Kind is the change variant that failed.
	Kind ChangeKind

	// Target describes what the change was applied to.
	Target string

	// Err is the underlying failure.
	Err error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("applying %s to %s: %v", e.Kind, e.Target, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }
