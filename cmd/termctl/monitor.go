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
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	termlink "github.com/TermlinkProject/go-termlink"
	"github.com/TermlinkProject/go-termlink/bus"
	"github.com/TermlinkProject/go-termlink/heartbeat"
)

// probePrefix marks termctl's own liveness probes on the wire. The terminal
// is expected to echo probe payloads unchanged.
const probePrefix = "probe:"

func probePayload(token string) []byte {
	return []byte(probePrefix + token)
}

func probeResponse(p []byte) (string, bool) {
	s := string(p)
	if !strings.HasPrefix(s, probePrefix) {
		return "", false
	}
	return strings.TrimPrefix(s, probePrefix), true
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Hold the link open and stream its events",
	Long: `Monitor connects and stays attached: state changes, reconnection
attempts, exchange results and inbound payloads are printed as they happen.
When heartbeat is enabled the link is probed continuously and a channel that
stops answering is reported degraded, handing it to the reconnection
coordinator. Interrupt to stop.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		s, err := newSession(ctx)
		if err != nil {
			return err
		}
		defer s.close()

		out := cmd.OutOrStdout()

		// Subscribe before connecting so the connect transitions show up too.
		status := s.hub.Subscribe(bus.TopicConnStatus)
		attempts := s.hub.Subscribe(bus.TopicReconnectAttempt)
		exchanges := s.hub.Subscribe(bus.TopicExchangeResult)

		var mon *heartbeat.Monitor
		if cfg.Heartbeat.Enabled {
			mcfg := cfg.Heartbeat.MonitorConfig()
			reapAfter := 2 * mcfg.ResponseTimeout
			if reapAfter <= 0 {
				reapAfter = 2 * heartbeat.DefaultResponseTimeout
			}
			mon = heartbeat.New(func(ctx context.Context, token string) error {
				if err := s.link.Send(ctx, token, probePayload(token), nil); err != nil {
					return err
				}
				// Reap the exchange if no response ever arrives.
				time.AfterFunc(reapAfter, func() {
					s.link.FailExchange(token, context.DeadlineExceeded)
				})
				return nil
			}, mcfg, heartbeat.WithLogger(logger))
			mon.OnTimeout = func(consecutive int) {
				fmt.Fprintf(out, "[heartbeat] probe unanswered (%d consecutive)\n", consecutive)
			}
			mon.OnFailed = func(consecutive int) {
				fmt.Fprintf(out, "[heartbeat] channel degraded after %d misses\n", consecutive)
				s.link.Lost(fmt.Errorf("heartbeat: %d consecutive misses: %w",
					consecutive, termlink.ErrChannelDegraded))
			}
		}

		rm := s.link.RegisterReceiver(func(p []byte) {
			if token, ok := probeResponse(p); ok {
				s.link.CompleteExchange(token, p)
				if mon != nil {
					mon.ObserveResponse(token)
				}
				return
			}
			fmt.Fprintf(out, "[recv] %d bytes: %x %q\n", len(p), p, p)
		})
		defer rm()

		if err := s.establish(ctx); err != nil {
			return err
		}
		fmt.Fprintf(out, "Monitoring %s (interrupt to stop)\n", s.descriptorURI())

		if mon != nil {
			if err := mon.Start(ctx); err != nil {
				return err
			}
			defer func() {
				mon.Stop()
				st := mon.Snapshot()
				fmt.Fprintf(out, "Heartbeat: %d sent, %d received, avg rtt %s\n",
					st.Sent, st.Received, st.AvgRTT)
			}()
		}

		for {
			select {
			case <-ctx.Done():
				return s.shutdown(context.Background(), false)
			case msg := <-status:
				st, ok := msg.(bus.ConnStatus)
				if !ok {
					continue
				}
				line := fmt.Sprintf("[state] %s", st.State)
				if st.Code != "" {
					line += " code=" + st.Code
				}
				if st.Message != "" {
					line += " (" + st.Message + ")"
				}
				fmt.Fprintln(out, line)
			case msg := <-attempts:
				at, ok := msg.(bus.ReconnectAttempt)
				if !ok {
					continue
				}
				if at.MaxAttempts > 0 {
					fmt.Fprintf(out, "[reconnect] attempt %d/%d to %s\n",
						at.Attempt, at.MaxAttempts, at.Descriptor)
				} else {
					fmt.Fprintf(out, "[reconnect] attempt %d to %s\n", at.Attempt, at.Descriptor)
				}
			case msg := <-exchanges:
				ex, ok := msg.(bus.ExchangeResult)
				if !ok {
					continue
				}
				if ex.Err != "" {
					fmt.Fprintf(out, "[exchange] %s failed: %s\n", ex.TraceID, ex.Err)
				} else {
					fmt.Fprintf(out, "[exchange] %s completed (%d bytes)\n",
						ex.TraceID, len(ex.Response))
				}
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}
