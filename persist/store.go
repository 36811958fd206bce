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

// Package persist stores connection memory in a local sqlite database: the
// last connected descriptor with its device identity and cable sub-protocol,
// and cached network addresses per device identity. Reconnection and
// auto-resolution read this memory to skip detection on the next run.
package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // register sqlite driver
)

const schemaVersion = 1

// LinkState is the single persisted connection record.
type LinkState struct {
	// DescriptorURI is the canonical descriptor of the last connection.
	DescriptorURI string
	// Identity is the device identity, empty when the peer never
	// announced one.
	Identity string
	// CableMode is the last detected cable sub-protocol, empty for
	// non-cable connections.
	CableMode string
	// AutoConnect marks whether the link should be re-established
	// automatically on the next run.
	AutoConnect bool
	// UpdatedAt is when the record was last written.
	UpdatedAt time.Time
}

// Store persists link state and device addresses.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the database at path and migrates its
// schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode = WAL;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite db: %w", err)
	}
	return nil
}

// SaveLinkState replaces the persisted connection record.
func (s *Store) SaveLinkState(ctx context.Context, st LinkState) error {
	when := st.UpdatedAt
	if when.IsZero() {
		when = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO link_state(id, descriptor_uri, identity, cable_mode, auto_connect, updated_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			descriptor_uri = excluded.descriptor_uri,
			identity = excluded.identity,
			cable_mode = excluded.cable_mode,
			auto_connect = excluded.auto_connect,
			updated_at = excluded.updated_at
	`, st.DescriptorURI, st.Identity, st.CableMode, boolToInt(st.AutoConnect), toUnixMillis(when))
	if err != nil {
		return fmt.Errorf("save link state: %w", err)
	}
	return nil
}

// SaveCableMode records the last detected cable sub-protocol without
// touching the rest of the record.
func (s *Store) SaveCableMode(ctx context.Context, mode string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO link_state(id, cable_mode, updated_at)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			cable_mode = excluded.cable_mode,
			updated_at = excluded.updated_at
	`, mode, toUnixMillis(time.Now()))
	if err != nil {
		return fmt.Errorf("save cable mode: %w", err)
	}
	return nil
}

// LinkState loads the persisted connection record. ok is false when
// nothing was ever saved.
func (s *Store) LinkState(ctx context.Context) (st LinkState, ok bool, err error) {
	var (
		auto      int64
		updatedMs int64
	)
	err = s.db.QueryRowContext(ctx, `
		SELECT descriptor_uri, identity, cable_mode, auto_connect, updated_at
		FROM link_state WHERE id = 1
	`).Scan(&st.DescriptorURI, &st.Identity, &st.CableMode, &auto, &updatedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return LinkState{}, false, nil
	}
	if err != nil {
		return LinkState{}, false, fmt.Errorf("load link state: %w", err)
	}
	st.AutoConnect = auto != 0
	st.UpdatedAt = fromUnixMillis(updatedMs)
	return st, true, nil
}

// ClearLinkState removes the persisted connection record. An explicit
// disconnect calls this so the next run starts without reconnection memory.
func (s *Store) ClearLinkState(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM link_state WHERE id = 1`); err != nil {
		return fmt.Errorf("clear link state: %w", err)
	}
	return nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version >= schemaVersion {
		return nil
	}

	if version < 1 {
		stmts := []string{
			`CREATE TABLE IF NOT EXISTS link_state (
				id INTEGER PRIMARY KEY CHECK (id = 1),
				descriptor_uri TEXT NOT NULL DEFAULT '',
				identity TEXT NOT NULL DEFAULT '',
				cable_mode TEXT NOT NULL DEFAULT '',
				auto_connect INTEGER NOT NULL DEFAULT 0,
				updated_at INTEGER NOT NULL
			);`,
			`CREATE TABLE IF NOT EXISTS device_addresses (
				identity TEXT PRIMARY KEY,
				host TEXT NOT NULL,
				port INTEGER NOT NULL,
				updated_at INTEGER NOT NULL
			);`,
			`CREATE INDEX IF NOT EXISTS device_addresses_updated_at_idx
				ON device_addresses(updated_at DESC);`,
		}
		for _, stmt := range stmts {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("apply schema: %w", err)
			}
		}
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d;`, schemaVersion)); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func toUnixMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMillis(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(v)
}
