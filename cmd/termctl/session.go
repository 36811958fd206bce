// go-termlink
// Copyright (c) 2025 The Termlink Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-termlink.
//
// go-termlink is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-termlink is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-termlink; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package main

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	termlink "github.com/TermlinkProject/go-termlink"
	"github.com/TermlinkProject/go-termlink/bus"
	"github.com/TermlinkProject/go-termlink/persist"
	"github.com/TermlinkProject/go-termlink/reconnect"
)

// session wires one kernel instance to the reconnection coordinator, the
// state store and the event bus for the lifetime of a command.
type session struct {
	link   *termlink.Link
	coord  *reconnect.Coordinator
	store  *persist.Store // nil when the state database is unavailable
	hub    *bus.PubSubBus
	remove []func()
}

func newSession(ctx context.Context) (*session, error) {
	s := &session{}

	store, err := persist.Open(ctx, statePath())
	if err != nil {
		logger.Warn("state store unavailable",
			zap.String("path", statePath()),
			zap.Error(err))
	} else {
		s.store = store
	}

	s.hub = bus.New(logger)

	link, err := termlink.New(termlink.WithLogger(logger))
	if err != nil {
		s.close()
		return nil, err
	}
	s.link = link

	opts := []reconnect.Option{
		reconnect.WithLogger(logger),
		reconnect.WithPolicy(reconnectPolicy()),
	}
	if s.store != nil {
		opts = append(opts, reconnect.WithStore(s.store))
	}
	s.coord = reconnect.New(link, opts...)
	s.coord.OnAttempt = func(attempt, maxAttempts int) {
		s.hub.Publish(bus.TopicReconnectAttempt, bus.ReconnectAttempt{
			Attempt:     attempt,
			MaxAttempts: maxAttempts,
			Descriptor:  s.descriptorURI(),
		})
	}

	removeState := link.OnStateChange(func(ch termlink.StateChange) {
		s.hub.Publish(bus.TopicConnStatus, bus.ConnStatus{
			State:   ch.To,
			Code:    ch.Code,
			Message: ch.Message,
			Extra:   ch.Extra,
		})
		switch {
		case ch.To == termlink.StateConnected:
			s.coord.OnConnected(context.Background(), link.Descriptor(), ch.Extra["identity"])
		case lostChange(ch):
			s.coord.OnDisconnected(lossCause(ch))
		}
	})
	s.remove = append(s.remove, removeState)

	return s, nil
}

// lostChange reports whether ch is an established channel dropping out from
// under the link. Explicit disconnects carry no code and failed connect
// attempts never leave StateConnected, so neither matches.
func lostChange(ch termlink.StateChange) bool {
	if ch.From != termlink.StateConnected {
		return false
	}
	return ch.To == termlink.StateError ||
		(ch.To == termlink.StateDisconnected && ch.Code != "")
}

func lossCause(ch termlink.StateChange) error {
	if ch.Message != "" {
		return errors.New(ch.Message)
	}
	return errors.New(ch.Code)
}

// establish resolves the configured descriptor and connects the link. A
// listener joining while a reconnection for the same target is pending rides
// that attempt instead of superseding it.
func (s *session) establish(ctx context.Context) error {
	desc, err := s.resolveDescriptor(ctx)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	cb := func(err error) { done <- err }
	if !s.coord.Coalesce(desc, cb) {
		s.coord.PrepareConnect(desc)
		if err := s.link.Connect(ctx, desc, cb); err != nil {
			return err
		}
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *session) resolveDescriptor(ctx context.Context) (*termlink.Descriptor, error) {
	desc, err := cfg.Connection.Resolve()
	if err != nil {
		return nil, err
	}
	if desc.Kind != termlink.TransportAuto {
		return desc, nil
	}
	return s.resolveAuto(ctx)
}

// resolveAuto picks a concrete target for auto://: the last persisted link
// first, then the most recently seen discovered terminal.
func (s *session) resolveAuto(ctx context.Context) (*termlink.Descriptor, error) {
	if s.store == nil {
		return nil, errors.New("auto transport needs the state store; pass --uri or configure a connection")
	}

	if st, ok, err := s.store.LinkState(ctx); err == nil && ok && st.AutoConnect {
		desc, perr := termlink.ParseDescriptor(st.DescriptorURI)
		if perr == nil {
			logger.Info("auto transport resuming last link",
				zap.String("descriptor", desc.URI()))
			desc.Reconnect = reconnectPolicy()
			return desc, nil
		}
		logger.Warn("saved link state unusable", zap.Error(perr))
	}

	addrs, err := s.store.ListDeviceAddresses(ctx)
	if err == nil && len(addrs) > 0 {
		a := addrs[0]
		desc, perr := termlink.ParseDescriptor("ws://" + net.JoinHostPort(a.Host, strconv.Itoa(a.Port)))
		if perr == nil {
			logger.Info("auto transport using discovered terminal",
				zap.String("identity", a.Identity),
				zap.String("descriptor", desc.URI()))
			desc.Reconnect = reconnectPolicy()
			return desc, nil
		}
	}

	return nil, errors.New(`no known terminal for auto://; run "termctl discover" or pass --uri`)
}

// shutdown releases the channel. When forget is set the saved link state is
// cleared and automatic reconnection stops following this target.
func (s *session) shutdown(ctx context.Context, forget bool) error {
	var ferr error
	if forget {
		ferr = s.coord.Disconnect(ctx)
	}
	if err := s.link.Disconnect(); err != nil {
		return err
	}
	return ferr
}

func (s *session) descriptorURI() string {
	if d := s.link.Descriptor(); d != nil {
		return d.URI()
	}
	return ""
}

func (s *session) close() {
	for _, rm := range s.remove {
		rm()
	}
	if s.hub != nil {
		s.hub.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			logger.Warn("close state store", zap.Error(err))
		}
	}
}

func reconnectPolicy() termlink.ReconnectPolicy {
	rc := cfg.Connection.Reconnect
	return termlink.ReconnectPolicy{
		Enabled:     rc.Enabled,
		Backoff:     rc.Backoff,
		MaxAttempts: rc.MaxAttempts,
		Delay:       time.Duration(rc.Delay),
	}
}
