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

package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// DeviceAddress is one cached network location for a device identity.
// Discovery writes these; auto-resolution reads them before browsing.
type DeviceAddress struct {
	Identity  string
	Host      string
	Port      int
	UpdatedAt time.Time
}

// SaveDeviceAddress upserts the cached address for addr.Identity.
func (s *Store) SaveDeviceAddress(ctx context.Context, addr DeviceAddress) error {
	when := addr.UpdatedAt
	if when.IsZero() {
		when = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_addresses(identity, host, port, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			host = excluded.host,
			port = excluded.port,
			updated_at = excluded.updated_at
	`, addr.Identity, addr.Host, addr.Port, toUnixMillis(when))
	if err != nil {
		return fmt.Errorf("save device address: %w", err)
	}
	return nil
}

// DeviceAddress loads the cached address for identity. ok is false when no
// address is cached.
func (s *Store) DeviceAddress(ctx context.Context, identity string) (addr DeviceAddress, ok bool, err error) {
	var updatedMs int64
	err = s.db.QueryRowContext(ctx, `
		SELECT identity, host, port, updated_at
		FROM device_addresses WHERE identity = ?
	`, identity).Scan(&addr.Identity, &addr.Host, &addr.Port, &updatedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return DeviceAddress{}, false, nil
	}
	if err != nil {
		return DeviceAddress{}, false, fmt.Errorf("load device address: %w", err)
	}
	addr.UpdatedAt = fromUnixMillis(updatedMs)
	return addr, true, nil
}

// ListDeviceAddresses returns all cached addresses, most recently updated
// first.
func (s *Store) ListDeviceAddresses(ctx context.Context) ([]DeviceAddress, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT identity, host, port, updated_at
		FROM device_addresses
		ORDER BY updated_at DESC, identity ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list device addresses: %w", err)
	}
	defer rows.Close()

	var out []DeviceAddress
	for rows.Next() {
		var (
			addr      DeviceAddress
			updatedMs int64
		)
		if err := rows.Scan(&addr.Identity, &addr.Host, &addr.Port, &updatedMs); err != nil {
			return nil, fmt.Errorf("scan device address: %w", err)
		}
		addr.UpdatedAt = fromUnixMillis(updatedMs)
		out = append(out, addr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate device addresses: %w", err)
	}
	return out, nil
}

// DeleteDeviceAddress removes the cached address for identity. Deleting an
// unknown identity is a no-op.
func (s *Store) DeleteDeviceAddress(ctx context.Context, identity string) error {
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM device_addresses WHERE identity = ?
	`, identity); err != nil {
		return fmt.Errorf("delete device address: %w", err)
	}
	return nil
}
