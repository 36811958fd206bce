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

// Package config loads and saves TOML configuration for applications
// embedding the link. A connection can be given as a full descriptor URI or
// as structured per-transport fields; Resolve turns either form into the
// canonical *termlink.Descriptor.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap/zapcore"

	termlink "github.com/TermlinkProject/go-termlink"
	"github.com/TermlinkProject/go-termlink/heartbeat"
	"github.com/TermlinkProject/go-termlink/reconnect"
)

// DefaultSerialBaud applies when a serial connection omits the baud rate.
const DefaultSerialBaud = 115200

// Duration is a time.Duration that TOML carries as a string like "15s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// ConnectionConfig describes how to reach the terminal. URI wins when set;
// otherwise Transport selects which structured fields apply.
type ConnectionConfig struct {
	// URI is a full descriptor URI such as "ws://terminal.local:9100".
	URI string `toml:"uri"`
	// Transport is the scheme used when URI is empty: local, ws, wss, usb,
	// vsp, rs232 or auto.
	Transport string `toml:"transport"`

	// local://
	Identifier    string `toml:"identifier"`
	SubIdentifier string `toml:"sub_identifier"`

	// ws:// and wss://
	Host string `toml:"host"`
	Port int    `toml:"port"`

	// usb://
	Mode   string `toml:"mode"`
	Device string `toml:"device"`

	// vsp:// and rs232:// line parameters
	Baud     int    `toml:"baud"`
	DataBits int    `toml:"data_bits"`
	Parity   string `toml:"parity"`
	StopBits int    `toml:"stop_bits"`

	Reconnect ReconnectConfig `toml:"reconnect"`
}

// ReconnectConfig maps onto termlink.ReconnectPolicy.
type ReconnectConfig struct {
	Enabled     bool     `toml:"enabled"`
	MaxAttempts int      `toml:"max_attempts"`
	Delay       Duration `toml:"delay"`
	Backoff     bool     `toml:"backoff"`
}

// HeartbeatConfig maps onto heartbeat.Config.
type HeartbeatConfig struct {
	Enabled         bool     `toml:"enabled"`
	Interval        Duration `toml:"interval"`
	ResponseTimeout Duration `toml:"response_timeout"`
	MaxMisses       int      `toml:"max_misses"`
}

// LoggingConfig defines runtime logging behavior.
type LoggingConfig struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

// Config is the root persisted configuration.
type Config struct {
	Connection ConnectionConfig `toml:"connection"`
	Heartbeat  HeartbeatConfig  `toml:"heartbeat"`
	Logging    LoggingConfig    `toml:"logging"`
}

// Default returns the configuration used when no file exists: automatic
// transport selection, reconnection on with library defaults, heartbeat on.
func Default() Config {
	return Config{
		Connection: ConnectionConfig{
			Transport: "auto",
			Baud:      DefaultSerialBaud,
			DataBits:  8,
			Parity:    "none",
			StopBits:  1,
			Reconnect: ReconnectConfig{
				Enabled:     true,
				MaxAttempts: reconnect.DefaultMaxAttempts,
				Delay:       Duration(reconnect.DefaultDelay),
				Backoff:     true,
			},
		},
		Heartbeat: HeartbeatConfig{
			Enabled:         true,
			Interval:        Duration(heartbeat.DefaultInterval),
			ResponseTimeout: Duration(heartbeat.DefaultResponseTimeout),
			MaxMisses:       heartbeat.DefaultMaxMisses,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the TOML file at path. A missing file yields Default. Fields
// the file omits keep their defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config toml: %w", err)
	}
	cfg.fillMissingDefaults()
	return cfg, nil
}

func (c *Config) fillMissingDefaults() {
	if c.Connection.Transport == "" && c.Connection.URI == "" {
		c.Connection.Transport = "auto"
	}
	if c.Connection.Baud <= 0 {
		c.Connection.Baud = DefaultSerialBaud
	}
	if c.Connection.DataBits == 0 {
		c.Connection.DataBits = 8
	}
	if c.Connection.Parity == "" {
		c.Connection.Parity = "none"
	}
	if c.Connection.StopBits == 0 {
		c.Connection.StopBits = 1
	}
	if c.Heartbeat.Interval <= 0 {
		c.Heartbeat.Interval = Duration(heartbeat.DefaultInterval)
	}
	if c.Heartbeat.ResponseTimeout <= 0 {
		c.Heartbeat.ResponseTimeout = Duration(heartbeat.DefaultResponseTimeout)
	}
	if c.Heartbeat.MaxMisses <= 0 {
		c.Heartbeat.MaxMisses = heartbeat.DefaultMaxMisses
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks that the connection resolves and the log level parses.
func (c Config) Validate() error {
	if _, err := c.Connection.Resolve(); err != nil {
		return err
	}
	if _, err := c.Logging.ZapLevel(); err != nil {
		return fmt.Errorf("logging level %q: %w", c.Logging.Level, err)
	}
	return nil
}

// Save writes cfg to path atomically: validate, write a temp file beside the
// target, rename over it.
func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var buf strings.Builder
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(buf.String()), 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}
	return nil
}

// Resolve produces the canonical descriptor for the connection. The URI form
// wins when set; otherwise the structured fields are assembled into a URI and
// parsed through the same grammar, so both forms share one validation path.
// The reconnect section is attached to the returned descriptor.
func (c ConnectionConfig) Resolve() (*termlink.Descriptor, error) {
	uri := strings.TrimSpace(c.URI)
	if uri == "" {
		built, err := c.buildURI()
		if err != nil {
			return nil, err
		}
		uri = built
	}

	desc, err := termlink.ParseDescriptor(uri)
	if err != nil {
		return nil, err
	}
	desc.Reconnect = termlink.ReconnectPolicy{
		Enabled:     c.Reconnect.Enabled,
		Backoff:     c.Reconnect.Backoff,
		MaxAttempts: c.Reconnect.MaxAttempts,
		Delay:       time.Duration(c.Reconnect.Delay),
	}
	return desc, nil
}

func (c ConnectionConfig) buildURI() (string, error) {
	transport := strings.ToLower(strings.TrimSpace(c.Transport))
	switch transport {
	case "", "auto":
		return "auto://", nil
	case "local":
		if strings.TrimSpace(c.Identifier) == "" {
			return "", errors.New("local transport requires identifier")
		}
		if c.SubIdentifier != "" {
			return "local://" + c.Identifier + "/" + c.SubIdentifier, nil
		}
		return "local://" + c.Identifier, nil
	case "ws", "wss":
		if strings.TrimSpace(c.Host) == "" {
			return "", fmt.Errorf("%s transport requires host", transport)
		}
		if c.Port == 0 {
			return "", fmt.Errorf("%s transport requires port", transport)
		}
		return transport + "://" + net.JoinHostPort(c.Host, strconv.Itoa(c.Port)), nil
	case "usb":
		switch strings.ToLower(strings.TrimSpace(c.Mode)) {
		case "accessory":
			return "usb://accessory", nil
		case "host":
			if strings.TrimSpace(c.Device) == "" {
				return "", errors.New("usb host mode requires device")
			}
			return "usb://host/" + c.Device, nil
		default:
			return "", fmt.Errorf("usb transport requires mode host or accessory, got %q", c.Mode)
		}
	case "vsp", "rs232":
		baud := c.Baud
		if baud <= 0 {
			baud = DefaultSerialBaud
		}
		dataBits := c.DataBits
		if dataBits == 0 {
			dataBits = 8
		}
		parity := c.Parity
		if parity == "" {
			parity = "none"
		}
		stopBits := c.StopBits
		if stopBits == 0 {
			stopBits = 1
		}
		return fmt.Sprintf("%s://%d/%d/%s/%d", transport, baud, dataBits, parity, stopBits), nil
	default:
		return "", fmt.Errorf("unknown transport %q", c.Transport)
	}
}

// MonitorConfig maps the heartbeat section onto the monitor's own config.
func (h HeartbeatConfig) MonitorConfig() heartbeat.Config {
	return heartbeat.Config{
		Interval:        time.Duration(h.Interval),
		ResponseTimeout: time.Duration(h.ResponseTimeout),
		MaxMisses:       h.MaxMisses,
	}
}

// ZapLevel parses the configured log level.
func (l LoggingConfig) ZapLevel() (zapcore.Level, error) {
	return zapcore.ParseLevel(l.Level)
}
