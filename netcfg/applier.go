// Copyright 2026 The Netcfgd Authors
// SPDX-License-Identifier: Apache-2.0

package netcfg

// Applier executes concrete network-state mutations and reverses them.
// Implementations hold no per-session state: every Record carries all
// the data its reversal needs.
type Applier interface {
	// Apply performs the mutation described by change. On success it
	// returns a self-describing Record; on failure it returns an
	// *ApplyError and guarantees no partial effect worth reversing.
	Apply(change Change) (Record, error)

	// Reverse undoes a previously applied record. It is idempotent
	// with respect to already-undone conditions: reversing a route or
	// address that is already absent succeeds, because external
	// interference or a prior partial failure may have left OS state
	// ahead of the record.
	Reverse(record Record) error
}
