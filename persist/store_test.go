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
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "termlink.db")
	store, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, path
}

func TestOpen_CreatesSchema(t *testing.T) {
	store, _ := openTestStore(t)

	var version int
	err := store.db.QueryRowContext(context.Background(), `PRAGMA user_version;`).Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, schemaVersion, version)
}

func TestLinkState_EmptyBeforeFirstSave(t *testing.T) {
	store, _ := openTestStore(t)

	_, ok, err := store.LinkState(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLinkState_RoundTrip(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveLinkState(ctx, LinkState{
		DescriptorURI: "wss://pay.example.com:8443",
		Identity:      "till-1",
		AutoConnect:   true,
	}))

	st, ok, err := store.LinkState(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "wss://pay.example.com:8443", st.DescriptorURI)
	assert.Equal(t, "till-1", st.Identity)
	assert.Empty(t, st.CableMode)
	assert.True(t, st.AutoConnect)
	assert.WithinDuration(t, time.Now(), st.UpdatedAt, time.Minute)
}

func TestLinkState_SecondSaveReplacesFirst(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveLinkState(ctx, LinkState{
		DescriptorURI: "usb://accessory",
		AutoConnect:   true,
	}))
	require.NoError(t, store.SaveLinkState(ctx, LinkState{
		DescriptorURI: "local://pinpad",
	}))

	st, ok, err := store.LinkState(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "local://pinpad", st.DescriptorURI)
	assert.False(t, st.AutoConnect)
}

func TestSaveCableMode_PreservesRestOfRecord(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveLinkState(ctx, LinkState{
		DescriptorURI: "usb://accessory",
		Identity:      "till-1",
		AutoConnect:   true,
	}))
	require.NoError(t, store.SaveCableMode(ctx, "usb-accessory"))

	st, ok, err := store.LinkState(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "usb://accessory", st.DescriptorURI)
	assert.Equal(t, "till-1", st.Identity)
	assert.Equal(t, "usb-accessory", st.CableMode)
	assert.True(t, st.AutoConnect)
}

func TestSaveCableMode_WithoutPriorRecord(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveCableMode(ctx, "rs232"))

	st, ok, err := store.LinkState(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "rs232", st.CableMode)
	assert.Empty(t, st.DescriptorURI)
}

func TestClearLinkState(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.ClearLinkState(ctx))

	require.NoError(t, store.SaveLinkState(ctx, LinkState{DescriptorURI: "local://pinpad"}))
	require.NoError(t, store.ClearLinkState(ctx))

	_, ok, err := store.LinkState(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReopen_KeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "termlink.db")

	store, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, store.SaveLinkState(ctx, LinkState{DescriptorURI: "ws://10.0.0.5:9100"}))
	require.NoError(t, store.Close())

	reopened, err := Open(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	st, ok, err := reopened.LinkState(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ws://10.0.0.5:9100", st.DescriptorURI)
}

func TestDeviceAddress_RoundTrip(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	_, ok, err := store.DeviceAddress(ctx, "till-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SaveDeviceAddress(ctx, DeviceAddress{
		Identity: "till-1",
		Host:     "10.0.0.5",
		Port:     9100,
	}))

	addr, ok, err := store.DeviceAddress(ctx, "till-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.5", addr.Host)
	assert.Equal(t, 9100, addr.Port)
	assert.WithinDuration(t, time.Now(), addr.UpdatedAt, time.Minute)
}

func TestDeviceAddress_UpsertReplaces(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveDeviceAddress(ctx, DeviceAddress{
		Identity: "till-1", Host: "10.0.0.5", Port: 9100,
	}))
	require.NoError(t, store.SaveDeviceAddress(ctx, DeviceAddress{
		Identity: "till-1", Host: "10.0.0.7", Port: 9101,
	}))

	addr, ok, err := store.DeviceAddress(ctx, "till-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.7", addr.Host)
	assert.Equal(t, 9101, addr.Port)

	all, err := store.ListDeviceAddresses(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestListDeviceAddresses_MostRecentFirst(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.SaveDeviceAddress(ctx, DeviceAddress{
		Identity: "till-1", Host: "10.0.0.5", Port: 9100,
		UpdatedAt: now.Add(-time.Minute),
	}))
	require.NoError(t, store.SaveDeviceAddress(ctx, DeviceAddress{
		Identity: "till-2", Host: "10.0.0.6", Port: 9100,
		UpdatedAt: now,
	}))

	all, err := store.ListDeviceAddresses(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "till-2", all[0].Identity)
	assert.Equal(t, "till-1", all[1].Identity)
}

func TestDeleteDeviceAddress(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.DeleteDeviceAddress(ctx, "till-9"))

	require.NoError(t, store.SaveDeviceAddress(ctx, DeviceAddress{
		Identity: "till-1", Host: "10.0.0.5", Port: 9100,
	}))
	require.NoError(t, store.DeleteDeviceAddress(ctx, "till-1"))

	_, ok, err := store.DeviceAddress(ctx, "till-1")
	require.NoError(t, err)
	assert.False(t, ok)
}
