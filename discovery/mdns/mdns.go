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

// Package mdns backs the discovery engine with multicast DNS. Terminals
// announce themselves as DNS-SD instances; this backend browses for their
// advertisements and resolves instances to host, port and TXT attributes.
package mdns

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/libp2p/zeroconf/v2"
	"go.uber.org/zap"

	"github.com/TermlinkProject/go-termlink/discovery"
)

// DefaultDomain is the mDNS domain browsed when none is configured.
const DefaultDomain = "local."

// Backend implements discovery.Browser and discovery.Resolver over mDNS.
type Backend struct {
	log    *zap.Logger
	domain string
}

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(b *Backend) {
		if log != nil {
			b.log = log
		}
	}
}

// WithDomain overrides the browsed mDNS domain.
func WithDomain(domain string) Option {
	return func(b *Backend) {
		if domain != "" {
			b.domain = domain
		}
	}
}

// New returns an mDNS backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		log:    zap.NewNop(),
		domain: DefaultDomain,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Browse watches for service announcements until ctx is cancelled. A goodbye
// packet (zero TTL) reports the instance as lost, everything else as found.
func (b *Backend) Browse(ctx context.Context, serviceType string, found, lost func(discovery.Advertisement)) error {
	entries := make(chan *zeroconf.ServiceEntry, 16)
	done := make(chan error, 1)
	go func() {
		done <- zeroconf.Browse(ctx, serviceType, b.domain, entries)
	}()

	for entry := range entries {
		if entry == nil {
			continue
		}
		adv := discovery.Advertisement{Identity: entry.Instance, Type: entry.Service}
		if !entry.Expiry.After(time.Now()) {
			b.log.Debug("mdns goodbye", zap.String("instance", entry.Instance))
			lost(adv)
			continue
		}
		found(adv)
	}
	return <-done
}

// Resolve looks one advertised instance up and returns its address record.
func (b *Backend) Resolve(ctx context.Context, adv discovery.Advertisement) (discovery.Service, error) {
	entries := make(chan *zeroconf.ServiceEntry, 4)
	done := make(chan error, 1)
	go func() {
		done <- zeroconf.Lookup(ctx, adv.Identity, adv.Type, b.domain, entries)
	}()

	for entry := range entries {
		if entry == nil || !entry.Expiry.After(time.Now()) {
			continue
		}
		svc := serviceFromEntry(entry)
		if svc.Host == "" {
			continue
		}
		return svc, nil
	}
	if err := <-done; err != nil {
		return discovery.Service{}, fmt.Errorf("lookup %q: %w", adv.Identity, err)
	}
	if err := ctx.Err(); err != nil {
		return discovery.Service{}, fmt.Errorf("lookup %q: %w", adv.Identity, err)
	}
	return discovery.Service{}, fmt.Errorf("lookup %q: no answer", adv.Identity)
}

// serviceFromEntry maps a DNS-SD answer to the engine's service record. IPv4
// is preferred, then IPv6, then the bare host name.
func serviceFromEntry(entry *zeroconf.ServiceEntry) discovery.Service {
	var host string
	switch {
	case len(entry.AddrIPv4) > 0:
		host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		host = entry.AddrIPv6[0].String()
	default:
		host = strings.TrimSuffix(entry.HostName, ".")
	}
	return discovery.Service{
		Identity: entry.Instance,
		Host:     host,
		Port:     entry.Port,
		Attrs:    parseAttrs(entry.Text),
	}
}

// parseAttrs decodes DNS-SD TXT key=value pairs. Later duplicates win.
func parseAttrs(txt []string) map[string]string {
	if len(txt) == 0 {
		return nil
	}
	attrs := make(map[string]string, len(txt))
	for _, kv := range txt {
		key, value, _ := strings.Cut(kv, "=")
		if key == "" {
			continue
		}
		attrs[key] = value
	}
	if len(attrs) == 0 {
		return nil
	}
	return attrs
}
