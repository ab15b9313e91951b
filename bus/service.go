// Copyright 2026 The Netcfgd Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/godbus/dbus/v5"

	"github.com/vpncfg/netcfgd/netcfg"
)

// Service is the exported bus object. Every method takes the caller's
// unique bus name via dbus.Sender; the bus guarantees that value, so it
// is the one identity the service trusts.
type Service struct {
	conn       *dbus.Conn
	controller *netcfg.Controller
	relay      *Relay
	logger     *slog.Logger
}

// NewService wires the controller to a bus connection.
func NewService(conn *dbus.Conn, controller *netcfg.Controller, relay *Relay, logger *slog.Logger) *Service {
	return &Service{conn: conn, controller: controller, relay: relay, logger: logger}
}

// Export publishes the service object and claims the well-known bus
// name. Claiming fails when another instance already owns it.
func (s *Service) Export() error {
	if err := s.conn.Export(s, ObjectPath, Interface); err != nil {
		return fmt.Errorf("exporting %s: %w", ObjectPath, err)
	}

	reply, err := s.conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("requesting bus name %s: %w", BusName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("bus name %s is already owned by another process", BusName)
	}
	return nil
}

// WatchDisconnects tears down sessions whose owner drops off the bus.
// Runs until ctx is cancelled.
func (s *Service) WatchDisconnects(ctx context.Context) error {
	err := s.conn.AddMatchSignal(
		dbus.WithMatchSender("org.freedesktop.DBus"),
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
	)
	if err != nil {
		return fmt.Errorf("subscribing to NameOwnerChanged: %w", err)
	}

	signals := make(chan *dbus.Signal, 16)
	s.conn.Signal(signals)

	go func() {
		defer s.conn.RemoveSignal(signals)
		for {
			select {
			case <-ctx.Done():
				return
			case signal, ok := <-signals:
				if !ok {
					return
				}
				s.handleNameOwnerChanged(signal)
			}
		}
	}()
	return nil
}

// handleNameOwnerChanged reacts to a bus identity vanishing. The signal
// body is (name, oldOwner, newOwner); an empty newOwner means the name
// left the bus.
func (s *Service) handleNameOwnerChanged(signal *dbus.Signal) {
	if signal.Name != "org.freedesktop.DBus.NameOwnerChanged" || len(signal.Body) != 3 {
		return
	}
	name, okName := signal.Body[0].(string)
	newOwner, okNew := signal.Body[2].(string)
	if !okName || !okNew || newOwner != "" {
		return
	}
	s.controller.HandleDisconnect(name)
}

// OpenSession opens a configuration session for the caller and returns
// its token.
func (s *Service) OpenSession(sender dbus.Sender) (string, *dbus.Error) {
	token, err := s.controller.OpenSession(string(sender))
	if err != nil {
		s.logger.Warn("session open refused", "caller", string(sender), "error", err)
		return "", mapError(err)
	}
	s.relay.Log(LevelInfo, "session", "opened for "+string(sender))
	return token, nil
}

// RequestChange applies one network mutation inside the caller's
// session and returns the applied record as a JSON receipt.
func (s *Service) RequestChange(sender dbus.Sender, token, kind string, params map[string]string) (string, *dbus.Error) {
	change, err := parseChange(kind, params)
	if err != nil {
		return "", dbus.NewError(errInvalidRequest, []interface{}{err.Error()})
	}

	record, err := s.controller.RequestChange(string(sender), token, change)
	if err != nil {
		s.logger.Warn("change refused",
			"caller", string(sender), "kind", kind, "error", err)
		return "", mapError(err)
	}

	receipt, err := json.Marshal(record)
	if err != nil {
		return "", dbus.NewError(errApplyFailed, []interface{}{err.Error()})
	}
	s.relay.Log(LevelInfo, "change", change.Kind.String()+" "+change.Target())
	return string(receipt), nil
}

// CloseSession tears down the caller's session, reversing its applied
// changes in reverse order. Closing an unknown or already-closed
// session is success.
func (s *Service) CloseSession(sender dbus.Sender, token string) *dbus.Error {
	s.controller.CloseSession(string(sender), token)
	return nil
}

// parseChange translates the wire form (kind name plus a string map)
// into a typed change. Unknown parameter keys are rejected so a client
// typo cannot silently become a no-op.
func parseChange(kind string, params map[string]string) (netcfg.Change, error) {
	parsedKind, err := netcfg.ParseChangeKind(kind)
	if err != nil {
		return netcfg.Change{}, err
	}

	change := netcfg.Change{Kind: parsedKind}
	for key, value := range params {
		switch key {
		case "interface":
			change.Interface = value
		case "address":
			change.Address = value
		case "destination":
			change.Destination = value
		case "gateway":
			change.Gateway = value
		case "metric":
			metric, err := strconv.Atoi(value)
			if err != nil {
				return netcfg.Change{}, fmt.Errorf("invalid metric %q: %w", value, err)
			}
			change.Metric = metric
		case "domain":
			change.Domain = value
		case "server":
			change.Server = value
		default:
			return netcfg.Change{}, fmt.Errorf("unknown parameter %q", key)
		}
	}

	if err := change.Validate(); err != nil {
		return netcfg.Change{}, err
	}
	return change, nil
}

// mapError turns a domain error into the corresponding named bus error.
func mapError(err error) *dbus.Error {
	body := []interface{}{err.Error()}
	switch {
	case errors.Is(err, netcfg.ErrSessionRejected):
		return dbus.NewError(errSessionRejected, body)
	case errors.Is(err, netcfg.ErrDuplicateSession):
		return dbus.NewError(errDuplicateSession, body)
	case errors.Is(err, netcfg.ErrUnknownSession):
		return dbus.NewError(errUnknownSession, body)
	default:
		return dbus.NewError(errApplyFailed, body)
	}
}
