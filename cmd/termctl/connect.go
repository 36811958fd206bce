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
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Establish a link to the configured terminal and verify it",
	Long: `Connect resolves the configured descriptor (or --uri), establishes the
channel, reports the negotiated link and releases it again. A successful
connect is remembered, so later runs with transport "auto" resume the same
terminal.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		s, err := newSession(ctx)
		if err != nil {
			return err
		}
		defer s.close()

		if err := s.establish(ctx); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Connected to %s\n", s.descriptorURI())
		if s.store != nil && cfg.Connection.Reconnect.Enabled {
			fmt.Fprintln(cmd.OutOrStdout(), "Link saved; transport \"auto\" now resumes this terminal.")
		}
		return s.shutdown(ctx, false)
	},
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "Forget the saved link and stop automatic resumption",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		s, err := newSession(ctx)
		if err != nil {
			return err
		}
		defer s.close()

		if s.store == nil {
			return errors.New("state store unavailable; nothing to clear")
		}
		if err := s.shutdown(ctx, true); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Saved link state cleared.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(disconnectCmd)
}
