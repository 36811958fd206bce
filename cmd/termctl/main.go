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

// termctl drives the termlink kernel from the command line: it connects to
// payment terminals, exchanges raw payloads, watches link health and
// discovers terminals on the local network.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	// Import transport packages to register descriptor schemes
	_ "github.com/TermlinkProject/go-termlink/transport/ipc"
	_ "github.com/TermlinkProject/go-termlink/transport/serial"
	_ "github.com/TermlinkProject/go-termlink/transport/usb"
	_ "github.com/TermlinkProject/go-termlink/transport/ws"
)

func main() {
	if run() != 0 {
		os.Exit(1)
	}
}

func run() int {
	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}
