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

package mdns

import (
	"net"
	"testing"

	"github.com/libp2p/zeroconf/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(instance string) *zeroconf.ServiceEntry {
	return &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{
			Instance: instance,
			Service:  "_termlink._tcp",
			Domain:   "local.",
		},
		HostName: "till-1.local.",
		Port:     9100,
	}
}

func TestServiceFromEntry_PrefersIPv4(t *testing.T) {
	t.Parallel()

	e := entry("till-1")
	e.AddrIPv4 = []net.IP{net.IPv4(192, 168, 1, 50)}
	e.AddrIPv6 = []net.IP{net.ParseIP("fe80::1")}

	svc := serviceFromEntry(e)
	assert.Equal(t, "till-1", svc.Identity)
	assert.Equal(t, "192.168.1.50", svc.Host)
	assert.Equal(t, 9100, svc.Port)
}

func TestServiceFromEntry_FallsBackToIPv6(t *testing.T) {
	t.Parallel()

	e := entry("till-2")
	e.AddrIPv6 = []net.IP{net.ParseIP("fe80::1")}

	svc := serviceFromEntry(e)
	assert.Equal(t, "fe80::1", svc.Host)
}

func TestServiceFromEntry_FallsBackToHostName(t *testing.T) {
	t.Parallel()

	svc := serviceFromEntry(entry("till-3"))
	assert.Equal(t, "till-1.local", svc.Host, "trailing dot should be trimmed")
}

func TestServiceFromEntry_CarriesAttrs(t *testing.T) {
	t.Parallel()

	e := entry("till-4")
	e.Text = []string{"fw=2.4.1", "lane=7"}

	svc := serviceFromEntry(e)
	require.NotNil(t, svc.Attrs)
	assert.Equal(t, "2.4.1", svc.Attrs["fw"])
	assert.Equal(t, "7", svc.Attrs["lane"])
}

func TestParseAttrs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		txt  []string
		want map[string]string
	}{
		{name: "empty", txt: nil, want: nil},
		{name: "blank entries only", txt: []string{"", ""}, want: nil},
		{name: "pairs", txt: []string{"fw=2.4.1", "lane=7"}, want: map[string]string{"fw": "2.4.1", "lane": "7"}},
		{name: "flag without value", txt: []string{"secure"}, want: map[string]string{"secure": ""}},
		{name: "value with equals", txt: []string{"note=a=b"}, want: map[string]string{"note": "a=b"}},
		{name: "duplicate keeps last", txt: []string{"lane=1", "lane=2"}, want: map[string]string{"lane": "2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, parseAttrs(tt.txt))
		})
	}
}
