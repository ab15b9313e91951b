// Copyright 2026 The Netcfgd Authors
// SPDX-License-Identifier: Apache-2.0

package netcfg

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/vpncfg/netcfgd/lib/clock"
)

func TestApplyRejectsInvalidChange(t *testing.T) {
	fakeClock := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	applier := NewNetlinkApplier(fakeClock, NewResolver("/dev/null"), discardLogger())

	_, err := applier.Apply(Change{Kind: RouteAdd, Destination: "garbage"})
	var applyErr *ApplyError
	if !errors.As(err, &applyErr) {
		t.Fatalf("Apply error = %v, want *ApplyError", err)
	}
	if applyErr.Kind != RouteAdd {
		t.Errorf("ApplyError.Kind = %v, want RouteAdd", applyErr.Kind)
	}
}

func TestReverseSkipsAlreadyPresent(t *testing.T) {
	fakeClock := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	applier := NewNetlinkApplier(fakeClock, NewResolver("/dev/null"), discardLogger())

	// An interface that was already up when recorded is never brought
	// down; no netlink call happens at all.
	record := Record{
		Kind:      InterfaceUp,
		Interface: "definitely-no-such-interface",
		Outcome:   OutcomeAlreadyPresent,
	}
	if err := applier.Reverse(record); err != nil {
		t.Fatalf("Reverse of already-present record: %v", err)
	}
}

func TestIsAbsent(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{unix.ESRCH, true},
		{unix.ENOENT, true},
		{unix.ENODEV, true},
		{unix.EADDRNOTAVAIL, true},
		{fmt.Errorf("deleting route: %w", unix.ESRCH), true},
		{netlink.LinkNotFoundError{}, true},
		{unix.EPERM, false},
		{errors.New("some other failure"), false},
	}

	for _, test := range tests {
		if got := isAbsent(test.err); got != test.want {
			t.Errorf("isAbsent(%v) = %v, want %v", test.err, got, test.want)
		}
	}
}

func TestBuildRouteWithoutInterface(t *testing.T) {
	route, err := buildRoute("", "10.0.0.0/24", "10.8.0.1", 50)
	if err != nil {
		t.Fatalf("buildRoute: %v", err)
	}
	if route.Dst.String() != "10.0.0.0/24" {
		t.Errorf("Dst = %v, want 10.0.0.0/24", route.Dst)
	}
	if route.Gw.String() != "10.8.0.1" {
		t.Errorf("Gw = %v, want 10.8.0.1", route.Gw)
	}
	if route.Priority != 50 {
		t.Errorf("Priority = %d, want 50", route.Priority)
	}
	if route.LinkIndex != 0 {
		t.Errorf("LinkIndex = %d, want 0", route.LinkIndex)
	}
}
