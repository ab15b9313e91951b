// Copyright 2026 The Netcfgd Authors
// SPDX-License-Identifier: Apache-2.0

package netcfg

import (
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/vpncfg/netcfgd/lib/clock"
)

// NetlinkApplier mutates kernel network state through rtnetlink and
// delegates resolver entries to a Resolver backend. It requires
// CAP_NET_ADMIN, which is the single capability the process retains
// after the privilege drop.
type NetlinkApplier struct {
	clock    clock.Clock
	resolver *Resolver
	logger   *slog.Logger
}

// NewNetlinkApplier returns an applier writing through rtnetlink and
// the given resolver backend.
func NewNetlinkApplier(clk clock.Clock, resolver *Resolver, logger *slog.Logger) *NetlinkApplier {
	return &NetlinkApplier{clock: clk, resolver: resolver, logger: logger}
}

// Apply implements Applier.
func (a *NetlinkApplier) Apply(change Change) (Record, error) {
	if err := change.Validate(); err != nil {
		return Record{}, &ApplyError{Kind: change.Kind, Target: change.Target(), Err: err}
	}

	outcome := OutcomeApplied
	var err error
	switch change.Kind {
	case InterfaceUp:
		outcome, err = a.interfaceUp(change)
	case AddressAdd:
		err = a.addressAdd(change)
	case RouteAdd:
		err = a.routeAdd(change)
	case ResolverAdd:
		err = a.resolver.Add(change.Domain, change.Server)
	}
	if err != nil {
		return Record{}, &ApplyError{Kind: change.Kind, Target: change.Target(), Err: err}
	}

	a.logger.Info("applied network change",
		"kind", change.Kind.String(),
		"target", change.Target(),
		"outcome", string(outcome))
	return recordFromChange(change, outcome, a.clock.Now()), nil
}

// Reverse implements Applier. Already-absent targets are success, not
// errors: a prior partial failure or another process may have removed
// the state first, and that is indistinguishable from a completed
// reversal.
func (a *NetlinkApplier) Reverse(record Record) error {
	// An apply that found the target already in the requested state
	// created nothing, so there is nothing to undo. Interfaces this
	// service did not bring up must not be brought down.
	if record.Outcome == OutcomeAlreadyPresent {
		return nil
	}

	var err error
	switch record.Kind {
	case InterfaceUp:
		err = a.interfaceDown(record)
	case AddressAdd:
		err = a.addressRemove(record)
	case RouteAdd:
		err = a.routeRemove(record)
	case ResolverAdd:
		err = a.resolver.Remove(record.Domain, record.Server)
	default:
		err = fmt.Errorf("unknown record kind %d", int(record.Kind))
	}
	if err != nil {
		if isAbsent(err) {
			a.logger.Debug("reversal target already absent",
				"kind", record.Kind.InverseName(),
				"target", record.Target())
			return nil
		}
		return fmt.Errorf("%s of %s: %w", record.Kind.InverseName(), record.Target(), err)
	}

	a.logger.Info("reversed network change",
		"kind", record.Kind.InverseName(),
		"target", record.Target())
	return nil
}

func (a *NetlinkApplier) interfaceUp(change Change) (Outcome, error) {
	link, err := netlink.LinkByName(change.Interface)
	if err != nil {
		return "", fmt.Errorf("looking up interface %s: %w", change.Interface, err)
	}
	if link.Attrs().Flags&net.FlagUp != 0 {
		return OutcomeAlreadyPresent, nil
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return "", fmt.Errorf("bringing up %s: %w", change.Interface, err)
	}
	return OutcomeApplied, nil
}

func (a *NetlinkApplier) interfaceDown(record Record) error {
	link, err := netlink.LinkByName(record.Interface)
	if err != nil {
		return err
	}
	return netlink.LinkSetDown(link)
}

func (a *NetlinkApplier) addressAdd(change Change) error {
	link, err := netlink.LinkByName(change.Interface)
	if err != nil {
		return fmt.Errorf("looking up interface %s: %w", change.Interface, err)
	}
	address, err := netlink.ParseAddr(change.Address)
	if err != nil {
		return fmt.Errorf("parsing address %s: %w", change.Address, err)
	}
	return netlink.AddrAdd(link, address)
}

func (a *NetlinkApplier) addressRemove(record Record) error {
	link, err := netlink.LinkByName(record.Interface)
	if err != nil {
		return err
	}
	address, err := netlink.ParseAddr(record.Address)
	if err != nil {
		return fmt.Errorf("parsing recorded address %s: %w", record.Address, err)
	}
	return netlink.AddrDel(link, address)
}

// buildRoute translates recorded route fields into a netlink route.
// Shared by add and remove so the reversal deletes exactly what the
// apply created.
func buildRoute(iface, destination, gateway string, metric int) (*netlink.Route, error) {
	_, dst, err := net.ParseCIDR(destination)
	if err != nil {
		return nil, fmt.Errorf("parsing destination %s: %w", destination, err)
	}
	route := &netlink.Route{Dst: dst, Priority: metric}
	if gateway != "" {
		route.Gw = net.ParseIP(gateway)
	}
	if iface != "" {
		link, err := netlink.LinkByName(iface)
		if err != nil {
			return nil, fmt.Errorf("looking up interface %s: %w", iface, err)
		}
		route.LinkIndex = link.Attrs().Index
	}
	return route, nil
}

func (a *NetlinkApplier) routeAdd(change Change) error {
	route, err := buildRoute(change.Interface, change.Destination, change.Gateway, change.Metric)
	if err != nil {
		return err
	}
	return netlink.RouteAdd(route)
}

func (a *NetlinkApplier) routeRemove(record Record) error {
	route, err := buildRoute(record.Interface, record.Destination, record.Gateway, record.Metric)
	if err != nil {
		return err
	}
	return netlink.RouteDel(route)
}

// isAbsent reports whether err means the reversal target no longer
// exists. ESRCH is the kernel's "no such route"; ENOENT, ENODEV, and
// EADDRNOTAVAIL cover missing links and addresses; a vanished link
// surfaces as netlink.LinkNotFoundError.
func isAbsent(err error) bool {
	var linkNotFound netlink.LinkNotFoundError
	if errors.As(err, &linkNotFound) {
		return true
	}
	return errors.Is(err, unix.ESRCH) ||
		errors.Is(err, unix.ENOENT) ||
		errors.Is(err, unix.ENODEV) ||
		errors.Is(err, unix.EADDRNOTAVAIL)
}
