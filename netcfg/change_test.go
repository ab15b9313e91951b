// Copyright 2026 The Netcfgd Authors
// SPDX-License-Identifier: Apache-2.0

package netcfg

import "testing"

func TestChangeValidate(t *testing.T) {
	tests := []struct {
		name    string
		change  Change
		wantErr bool
	}{
		{
			name:   "interface up",
			change: Change{Kind: InterfaceUp, Interface: "tun0"},
		},
		{
			name:    "interface up without name",
			change:  Change{Kind: InterfaceUp},
			wantErr: true,
		},
		{
			name:   "address add",
			change: Change{Kind: AddressAdd, Interface: "tun0", Address: "10.8.0.2/24"},
		},
		{
			name:    "address add without prefix",
			change:  Change{Kind: AddressAdd, Interface: "tun0", Address: "10.8.0.2"},
			wantErr: true,
		},
		{
			name:    "address add without interface",
			change:  Change{Kind: AddressAdd, Address: "10.8.0.2/24"},
			wantErr: true,
		},
		{
			name:   "route via gateway",
			change: Change{Kind: RouteAdd, Destination: "10.0.0.0/24", Gateway: "10.8.0.1"},
		},
		{
			name:   "route via device",
			change: Change{Kind: RouteAdd, Destination: "10.0.0.0/24", Interface: "tun0"},
		},
		{
			name:   "route with metric",
			change: Change{Kind: RouteAdd, Destination: "10.0.0.0/24", Gateway: "10.8.0.1", Metric: 50},
		},
		{
			name:    "route with no next hop",
			change:  Change{Kind: RouteAdd, Destination: "10.0.0.0/24"},
			wantErr: true,
		},
		{
			name:    "route with bad destination",
			change:  Change{Kind: RouteAdd, Destination: "not-a-cidr", Gateway: "10.8.0.1"},
			wantErr: true,
		},
		{
			name:    "route with bad gateway",
			change:  Change{Kind: RouteAdd, Destination: "10.0.0.0/24", Gateway: "nope"},
			wantErr: true,
		},
		{
			name:    "route with negative metric",
			change:  Change{Kind: RouteAdd, Destination: "10.0.0.0/24", Gateway: "10.8.0.1", Metric: -1},
			wantErr: true,
		},
		{
			name:   "resolver server only",
			change: Change{Kind: ResolverAdd, Server: "10.8.0.1"},
		},
		{
			name:   "resolver domain only",
			change: Change{Kind: ResolverAdd, Domain: "example.com"},
		},
		{
			name:    "resolver with nothing",
			change:  Change{Kind: ResolverAdd},
			wantErr: true,
		},
		{
			name:    "resolver with bad server",
			change:  Change{Kind: ResolverAdd, Server: "example.com"},
			wantErr: true,
		},
		{
			name:    "zero kind",
			change:  Change{},
			wantErr: true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := test.change.Validate()
			if (err != nil) != test.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, test.wantErr)
			}
		})
	}
}

func TestChangeKindNames(t *testing.T) {
	kinds := []struct {
		kind    ChangeKind
		name    string
		inverse string
	}{
		{InterfaceUp, "interface-up", "interface-down"},
		{AddressAdd, "address-add", "address-remove"},
		{RouteAdd, "route-add", "route-remove"},
		{ResolverAdd, "resolver-add", "resolver-remove"},
	}

	for _, entry := range kinds {
		if got := entry.kind.String(); got != entry.name {
			t.Errorf("%d.String() = %q, want %q", entry.kind, got, entry.name)
		}
		if got := entry.kind.InverseName(); got != entry.inverse {
			t.Errorf("%s.InverseName() = %q, want %q", entry.name, got, entry.inverse)
		}

		parsed, err := ParseChangeKind(entry.name)
		if err != nil {
			t.Errorf("ParseChangeKind(%q): %v", entry.name, err)
		}
		if parsed != entry.kind {
			t.Errorf("ParseChangeKind(%q) = %v, want %v", entry.name, parsed, entry.kind)
		}
	}

	if _, err := ParseChangeKind("interface-down"); err == nil {
		t.Error("ParseChangeKind accepted an inverse name")
	}
	if _, err := ParseChangeKind(""); err == nil {
		t.Error("ParseChangeKind accepted an empty name")
	}
}

func TestChangeTarget(t *testing.T) {
	tests := []struct {
		change Change
		want   string
	}{
		{Change{Kind: InterfaceUp, Interface: "tun0"}, "tun0"},
		{Change{Kind: AddressAdd, Interface: "tun0", Address: "10.8.0.2/24"}, "10.8.0.2/24 on tun0"},
		{Change{Kind: RouteAdd, Destination: "10.0.0.0/24", Gateway: "10.8.0.1"}, "10.0.0.0/24 via 10.8.0.1"},
		{Change{Kind: RouteAdd, Destination: "10.0.0.0/24", Interface: "tun0"}, "10.0.0.0/24 dev tun0"},
		{Change{Kind: ResolverAdd, Domain: "example.com", Server: "10.8.0.1"}, `domain "example.com" server 10.8.0.1`},
	}

	for _, test := range tests {
		if got := test.change.Target(); got != test.want {
			t.Errorf("Target() = %q, want %q", got, test.want)
		}
	}

	// A record reproduces its change's target description.
	record := recordFromChange(tests[2].change, OutcomeApplied, testRegistry().clock.Now())
	if got := record.Target(); got != tests[2].want {
		t.Errorf("Record.Target() = %q, want %q", got, tests[2].want)
	}
}
