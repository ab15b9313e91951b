// Copyright 2026 The Netcfgd Authors
// SPDX-License-Identifier: Apache-2.0

package netcfg

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// fakeApplier records applies and reversals without touching the OS.
type fakeApplier struct {
	mu sync.Mutex

	// applied holds every successful Apply in call order.
	applied []Record

	// reversed holds every Reverse in call order.
	reversed []Record

	// failApply, when non-nil, makes the next Apply fail once.
	failApply error

	// failReverseTargets makes Reverse fail for records whose Target
	// matches.
	failReverseTargets map[string]bool
}

func newFakeApplier() *fakeApplier {
	return &fakeApplier{failReverseTargets: make(map[string]bool)}
}

func (f *fakeApplier) Apply(change Change) (Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := change.Validate(); err != nil {
		return Record{}, &ApplyError{Kind: change.Kind, Target: change.Target(), Err: err}
	}
	if f.failApply != nil {
		err := f.failApply
		f.failApply = nil
		return Record{}, &ApplyError{Kind: change.Kind, Target: change.Target(), Err: err}
	}

	record := recordFromChange(change, OutcomeApplied, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	f.applied = append(f.applied, record)
	return record, nil
}

func (f *fakeApplier) Reverse(record Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.reversed = append(f.reversed, record)
	if f.failReverseTargets[record.Target()] {
		return fmt.Errorf("%s of %s: %w", record.Kind.InverseName(), record.Target(), errors.New("injected failure"))
	}
	return nil
}

func (f *fakeApplier) reversedTargets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	targets := make([]string, len(f.reversed))
	for i, record := range f.reversed {
		targets[i] = record.Target()
	}
	return targets
}

// sinkRecorder records controller events for assertions.
type sinkRecorder struct {
	mu              sync.Mutex
	opened          []string
	closed          []string
	shutdownPending int
}

func (s *sinkRecorder) SessionOpened(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = append(s.opened, token)
}

func (s *sinkRecorder) SessionClosed(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = append(s.closed, token)
}

func (s *sinkRecorder) ShutdownPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdownPending++
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
