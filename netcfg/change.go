// Copyright 2026 The Netcfgd Authors
// SPDX-License-Identifier: Apache-2.0

package netcfg

import (
	"fmt"
	"net"
	"time"
)

// ChangeKind identifies a network mutation variant. Every kind has a
// structural inverse the applier executes during rollback.
type ChangeKind int

const (
	// InterfaceUp brings a tunnel interface up. Inverse: interface down.
	InterfaceUp ChangeKind = iota + 1

	// AddressAdd assigns an address/prefix to an interface. Inverse:
	// address remove.
	AddressAdd

	// RouteAdd installs a route. Inverse: route remove.
	RouteAdd

	// ResolverAdd adds a DNS resolver entry (search domain + server).
	// Inverse: resolver remove.
	ResolverAdd
)

// String returns the wire name of the kind, as used in bus requests
// and journal records.
func (k ChangeKind) String() string {
	switch k {
	case InterfaceUp:
		return "interface-up"
	case AddressAdd:
		return "address-add"
	case RouteAdd:
		return "route-add"
	case ResolverAdd:
		return "resolver-add"
	default:
		return fmt.Sprintf("unknown-kind-%d", int(k))
	}
}

// InverseName returns the name of the reversal operation, for logs and
// diagnostics.
func (k ChangeKind) InverseName() string {
	switch k {
	case InterfaceUp:
		return "interface-down"
	case AddressAdd:
		return "address-remove"
	case RouteAdd:
		return "route-remove"
	case ResolverAdd:
		return "resolver-remove"
	default:
		return fmt.Sprintf("unknown-inverse-%d", int(k))
	}
}

// ParseChangeKind parses a wire name into a ChangeKind.
func ParseChangeKind(name string) (ChangeKind, error) {
	switch name {
	case "interface-up":
		return InterfaceUp, nil
	case "address-add":
		return AddressAdd, nil
	case "route-add":
		return RouteAdd, nil
	case "resolver-add":
		return ResolverAdd, nil
	default:
		return 0, fmt.Errorf("unknown change kind %q", name)
	}
}

// Change is a requested network mutation. Only the fields relevant to
// the Kind are consulted; Validate enforces presence and syntax.
type Change struct {
	// Kind selects the mutation variant.
	Kind ChangeKind

	// Interface is the interface name for InterfaceUp and AddressAdd,
	// and optionally scopes a RouteAdd to a device.
	Interface string

	// Address is the address with prefix (CIDR) for AddressAdd.
	Address string

	// Destination is the route destination (CIDR) for RouteAdd.
	Destination string

	// Gateway is the route gateway address for RouteAdd.
	Gateway string

	// Metric is the route priority for RouteAdd. Zero means the
	// kernel default.
	Metric int

	// Domain is the DNS search domain for ResolverAdd.
	Domain string

	// Server is the DNS server address for ResolverAdd.
	Server string
}

// Validate checks that the fields required by the Kind are present and
// syntactically valid. Validation failures are per-request errors; they
// never touch OS state.
func (c Change) Validate() error {
	switch c.Kind {
	case InterfaceUp:
		if c.Interface == "" {
			return fmt.Errorf("interface-up requires an interface name")
		}
	case AddressAdd:
		if c.Interface == "" {
			return fmt.Errorf("address-add requires an interface name")
		}
		if _, _, err := net.ParseCIDR(c.Address); err != nil {
			return fmt.Errorf("address-add requires a valid CIDR address: %w", err)
		}
	case RouteAdd:
		if _, _, err := net.ParseCIDR(c.Destination); err != nil {
			return fmt.Errorf("route-add requires a valid CIDR destination: %w", err)
		}
		if c.Gateway != "" && net.ParseIP(c.Gateway) == nil {
			return fmt.Errorf("route-add gateway %q is not a valid IP address", c.Gateway)
		}
		if c.Gateway == "" && c.Interface == "" {
			return fmt.Errorf("route-add requires a gateway or an interface")
		}
		if c.Metric < 0 {
			return fmt.Errorf("route-add metric must not be negative")
		}
	case ResolverAdd:
		if c.Server == "" && c.Domain == "" {
			return fmt.Errorf("resolver-add requires a server or a domain")
		}
		if c.Server != "" && net.ParseIP(c.Server) == nil {
			return fmt.Errorf("resolver-add server %q is not a valid IP address", c.Server)
		}
	default:
		return fmt.Errorf("unknown change kind %d", int(c.Kind))
	}
	return nil
}

// Target returns a short human-readable description of what the change
// touches, for logs and error messages.
func (c Change) Target() string {
	switch c.Kind {
	case InterfaceUp:
		return c.Interface
	case AddressAdd:
		return fmt.Sprintf("%s on %s", c.Address, c.Interface)
	case RouteAdd:
		if c.Gateway != "" {
			return fmt.Sprintf("%s via %s", c.Destination, c.Gateway)
		}
		return fmt.Sprintf("%s dev %s", c.Destination, c.Interface)
	case ResolverAdd:
		return fmt.Sprintf("domain %q server %s", c.Domain, c.Server)
	default:
		return "unknown"
	}
}

// Outcome records how an Apply concluded.
type Outcome string

const (
	// OutcomeApplied means the mutation took effect.
	OutcomeApplied Outcome = "applied"

	// OutcomeAlreadyPresent means the target was already in the
	// requested state, so the apply changed nothing. Reversal of such
	// a record is a no-op: the service must not undo state it did not
	// create.
	OutcomeAlreadyPresent Outcome = "already-present"
)

// Record is one successfully applied change. It carries everything
// needed to reverse the mutation, independent of any in-memory applier
// state, so rollback works even after a process restart. Records are
// journaled in CBOR and reported to clients as JSON receipts.
type Record struct {
	// Kind is the applied change variant.
	Kind ChangeKind `cbor:"kind" json:"kind"`

	// Interface, Address, Destination, Gateway, Metric, Domain, and
	// Server mirror the Change fields relevant to Kind.
	Interface   string `cbor:"interface,omitempty" json:"interface,omitempty"`
	Address     string `cbor:"address,omitempty" json:"address,omitempty"`
	Destination string `cbor:"destination,omitempty" json:"destination,omitempty"`
	Gateway     string `cbor:"gateway,omitempty" json:"gateway,omitempty"`
	Metric      int    `cbor:"metric,omitempty" json:"metric,omitempty"`
	Domain      string `cbor:"domain,omitempty" json:"domain,omitempty"`
	Server      string `cbor:"server,omitempty" json:"server,omitempty"`

	// Outcome is the apply result. Failed applies never produce a
	// Record.
	Outcome Outcome `cbor:"outcome" json:"outcome"`

	// AppliedAt is when the mutation took effect.
	AppliedAt time.Time `cbor:"applied_at" json:"applied_at"`
}

// Target returns a short description of what the record touched.
func (r Record) Target() string {
	return Change{
		Kind:        r.Kind,
		Interface:   r.Interface,
		Address:     r.Address,
		Destination: r.Destination,
		Gateway:     r.Gateway,
		Metric:      r.Metric,
		Domain:      r.Domain,
		Server:      r.Server,
	}.Target()
}

// recordFromChange builds the reversible record for a change applied
// with the given outcome.
func recordFromChange(c Change, outcome Outcome, appliedAt time.Time) Record {
	return Record{
		Kind:        c.Kind,
		Interface:   c.Interface,
		Address:     c.Address,
		Destination: c.Destination,
		Gateway:     c.Gateway,
		Metric:      c.Metric,
		Domain:      c.Domain,
		Server:      c.Server,
		Outcome:     outcome,
		AppliedAt:   appliedAt,
	}
}
