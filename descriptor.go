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

package termlink

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// TransportKind identifies one of the mutually exclusive channel kinds.
type TransportKind string

const (
	// TransportIPC is the same-device inter-process binding.
	TransportIPC TransportKind = "ipc"
	// TransportCable is a USB or serial cable.
	TransportCable TransportKind = "cable"
	// TransportNetwork is a local-network socket.
	TransportNetwork TransportKind = "network"
	// TransportAuto defers transport selection to caller-side detection;
	// it is never connected directly.
	TransportAuto TransportKind = "auto"
	// TransportMock is a mock transport for testing
	TransportMock TransportKind = "mock"
)

// CableMode selects the cable sub-protocol.
type CableMode string

const (
	// CableUSBHost talks to the terminal as a USB host.
	CableUSBHost CableMode = "usb-host"
	// CableUSBAccessory talks to the terminal in USB accessory mode.
	CableUSBAccessory CableMode = "usb-accessory"
	// CableVirtualSerial talks over a virtual serial port.
	CableVirtualSerial CableMode = "vsp"
	// CableRS232 talks over a hex-framed RS232 line.
	CableRS232 CableMode = "rs232"
)

// SerialParams are the line parameters of a serial cable descriptor.
type SerialParams struct {
	// Parity is one of "none", "odd" or "even"
	Parity string
	// BaudRate in bits per second
	BaudRate int
	// DataBits per character, 5 to 8
	DataBits int
	// StopBits, 1 or 2
	StopBits int
}

// ReconnectPolicy configures automatic reconnection after channel loss.
type ReconnectPolicy struct {
	// Enabled turns automatic reconnection on
	Enabled bool
	// Backoff grows the delay exponentially between attempts
	Backoff bool
	// MaxAttempts bounds retries per disconnection episode
	MaxAttempts int
	// Delay is the base delay before a retry
	Delay time.Duration
}

// Descriptor is the canonical, immutable description of one connection
// target. It is produced by ParseDescriptor or configuration resolution,
// owned for the lifetime of one connect call and reused across the retries
// of that call.
type Descriptor struct {
	Serial    *SerialParams
	Kind      TransportKind
	Scheme    string
	Target    string
	SubTarget string
	Host      string
	Device    string
	CableMode CableMode
	Reconnect ReconnectPolicy
	Port      int
	Secure    bool
}

// ParseDescriptor parses a descriptor URI:
//
//	local://<identifier>[/<sub-identifier>]
//	ws://<host>:<port> | wss://<host>:<port>
//	usb://host/<device> | usb://accessory
//	vsp://<baud>/<dataBits>/<parity>/<stopBits>
//	rs232://<baud>/<dataBits>/<parity>/<stopBits>
//	auto://
func ParseDescriptor(uri string) (*Descriptor, error) {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return nil, fmt.Errorf("%w: missing scheme in %q", ErrDescriptorInvalid, uri)
	}
	scheme = strings.ToLower(scheme)

	switch scheme {
	case "local":
		return parseLocal(rest)
	case "ws", "wss":
		return parseNetwork(scheme, rest)
	case "usb":
		return parseUSB(rest)
	case "vsp", "rs232":
		return parseSerial(scheme, rest)
	case "auto":
		if rest != "" {
			return nil, fmt.Errorf("%w: auto:// takes no content, got %q", ErrDescriptorInvalid, rest)
		}
		return &Descriptor{Kind: TransportAuto, Scheme: "auto"}, nil
	default:
		return nil, fmt.Errorf("%w: scheme %q", ErrDescriptorUnsupported, scheme)
	}
}

func parseLocal(rest string) (*Descriptor, error) {
	target, sub, _ := strings.Cut(rest, "/")
	if target == "" {
		return nil, fmt.Errorf("%w: local:// requires an identifier", ErrDescriptorInvalid)
	}
	return &Descriptor{
		Kind:      TransportIPC,
		Scheme:    "local",
		Target:    target,
		SubTarget: sub,
	}, nil
}

func parseNetwork(scheme, rest string) (*Descriptor, error) {
	host, portStr, err := net.SplitHostPort(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: %s:// requires host:port, got %q", ErrDescriptorInvalid, scheme, rest)
	}
	if host == "" {
		return nil, fmt.Errorf("%w: empty host in %q", ErrDescriptorInvalid, rest)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return nil, fmt.Errorf("%w: port %q out of range", ErrDescriptorInvalid, portStr)
	}
	return &Descriptor{
		Kind:   TransportNetwork,
		Scheme: scheme,
		Host:   host,
		Port:   port,
		Secure: scheme == "wss",
	}, nil
}

func parseUSB(rest string) (*Descriptor, error) {
	if rest == "accessory" {
		return &Descriptor{
			Kind:      TransportCable,
			Scheme:    "usb",
			CableMode: CableUSBAccessory,
		}, nil
	}
	mode, device, ok := strings.Cut(rest, "/")
	if !ok || mode != "host" || device == "" {
		return nil, fmt.Errorf("%w: usb:// requires host/<device> or accessory, got %q", ErrDescriptorInvalid, rest)
	}
	return &Descriptor{
		Kind:      TransportCable,
		Scheme:    "usb",
		CableMode: CableUSBHost,
		Device:    device,
	}, nil
}

func parseSerial(scheme, rest string) (*Descriptor, error) {
	parts := strings.Split(rest, "/")
	if len(parts) != 4 {
		return nil, fmt.Errorf("%w: %s:// requires baud/dataBits/parity/stopBits, got %q",
			ErrDescriptorInvalid, scheme, rest)
	}

	baud, err := strconv.Atoi(parts[0])
	if err != nil || baud <= 0 {
		return nil, fmt.Errorf("%w: baud rate %q", ErrDescriptorInvalid, parts[0])
	}
	dataBits, err := strconv.Atoi(parts[1])
	if err != nil || dataBits < 5 || dataBits > 8 {
		return nil, fmt.Errorf("%w: data bits %q", ErrDescriptorInvalid, parts[1])
	}
	parity, err := parseParity(parts[2])
	if err != nil {
		return nil, err
	}
	stopBits, err := strconv.Atoi(parts[3])
	if err != nil || (stopBits != 1 && stopBits != 2) {
		return nil, fmt.Errorf("%w: stop bits %q", ErrDescriptorInvalid, parts[3])
	}

	mode := CableVirtualSerial
	if scheme == "rs232" {
		mode = CableRS232
	}
	return &Descriptor{
		Kind:      TransportCable,
		Scheme:    scheme,
		CableMode: mode,
		Serial: &SerialParams{
			BaudRate: baud,
			DataBits: dataBits,
			Parity:   parity,
			StopBits: stopBits,
		},
	}, nil
}

func parseParity(s string) (string, error) {
	switch strings.ToLower(s) {
	case "n", "none":
		return "none", nil
	case "o", "odd":
		return "odd", nil
	case "e", "even":
		return "even", nil
	default:
		return "", fmt.Errorf("%w: parity %q", ErrDescriptorInvalid, s)
	}
}

// URI returns the canonical descriptor URI.
func (d *Descriptor) URI() string {
	switch d.Kind {
	case TransportIPC:
		if d.SubTarget != "" {
			return fmt.Sprintf("local://%s/%s", d.Target, d.SubTarget)
		}
		return "local://" + d.Target
	case TransportNetwork:
		return d.Scheme + "://" + net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
	case TransportCable:
		switch d.CableMode {
		case CableUSBAccessory:
			return "usb://accessory"
		case CableUSBHost:
			return "usb://host/" + d.Device
		case CableVirtualSerial, CableRS232:
			if d.Serial == nil {
				return d.Scheme + "://"
			}
			return fmt.Sprintf("%s://%d/%d/%s/%d",
				d.Scheme, d.Serial.BaudRate, d.Serial.DataBits, d.Serial.Parity, d.Serial.StopBits)
		default:
			return d.Scheme + "://"
		}
	case TransportAuto:
		return "auto://"
	default:
		return string(d.Kind) + "://"
	}
}

// String returns the canonical descriptor URI.
func (d *Descriptor) String() string {
	return d.URI()
}

// Equal reports whether two descriptors address the same target. The
// reconnect policy is not part of a descriptor's identity.
func (d *Descriptor) Equal(other *Descriptor) bool {
	if d == nil || other == nil {
		return d == other
	}
	if d.Kind != other.Kind || d.Scheme != other.Scheme {
		return false
	}
	if d.Target != other.Target || d.SubTarget != other.SubTarget {
		return false
	}
	if d.Host != other.Host || d.Port != other.Port || d.Secure != other.Secure {
		return false
	}
	if d.CableMode != other.CableMode || d.Device != other.Device {
		return false
	}
	if (d.Serial == nil) != (other.Serial == nil) {
		return false
	}
	if d.Serial != nil && *d.Serial != *other.Serial {
		return false
	}
	return true
}
