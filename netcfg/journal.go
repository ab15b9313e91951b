// Copyright 2026 The Netcfgd Authors
// SPDX-License-Identifier: Apache-2.0

package netcfg

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// journalFileName is the change journal inside the state directory.
const journalFileName = "changes.journal"

// JournalState is the on-disk snapshot of every open session's applied
// changes. Because each Record is self-describing, a later process can
// reverse leftover changes without any other context.
type JournalState struct {
	// SavedAt is when the snapshot was written.
	SavedAt time.Time `cbor:"saved_at"`

	// Sessions are the open sessions at snapshot time.
	Sessions []SessionSnapshot `cbor:"sessions"`
}

// Journal persists the registry's live change records across process
// restarts. Every mutation rewrites the whole file atomically; a crash
// between mutations therefore leaves the previous consistent snapshot,
// never a partial one. An empty snapshot removes the file.
type Journal struct {
	mu   sync.Mutex
	path string
}

// NewJournal returns a journal stored in the given state directory.
// The directory must exist and be writable by the unprivileged service
// account.
func NewJournal(stateDir string) *Journal {
	return &Journal{path: filepath.Join(stateDir, journalFileName)}
}

// Save writes the snapshot. A snapshot with no sessions clears the
// journal instead, so an idle service leaves nothing behind.
func (j *Journal) Save(savedAt time.Time, sessions []SessionSnapshot) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if len(sessions) == 0 {
		return j.clearLocked()
	}

	data, err := cbor.Marshal(JournalState{SavedAt: savedAt, Sessions: sessions})
	if err != nil {
		return fmt.Errorf("encoding change journal: %w", err)
	}
	if err := writeFileAtomic(j.path, data, 0600); err != nil {
		return fmt.Errorf("writing change journal: %w", err)
	}
	return nil
}

// Load reads the journal. Returns ok=false when no journal exists,
// which is the normal case after a clean shutdown.
func (j *Journal) Load() (JournalState, bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := os.ReadFile(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return JournalState{}, false, nil
		}
		return JournalState{}, false, fmt.Errorf("reading change journal: %w", err)
	}

	var state JournalState
	if err := cbor.Unmarshal(data, &state); err != nil {
		return JournalState{}, false, fmt.Errorf("decoding change journal %s: %w", j.path, err)
	}
	return state, true, nil
}

// Clear removes the journal. Idempotent.
func (j *Journal) Clear() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.clearLocked()
}

func (j *Journal) clearLocked() error {
	if err := os.Remove(j.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing change journal: %w", err)
	}
	return nil
}
