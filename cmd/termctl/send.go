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
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	termlink "github.com/TermlinkProject/go-termlink"
	"github.com/TermlinkProject/go-termlink/bus"
)

var (
	sendTrace   string
	sendHex     bool
	sendWait    bool
	sendTimeout time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send <payload>",
	Short: "Transmit one payload over the link",
	Long: `Send connects, transmits one opaque payload and reports the exchange
stages. With --wait the next inbound payload is treated as the correlated
response and printed. The kernel never interprets payload bytes; what a
response looks like is between you and the terminal.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload := []byte(args[0])
		if sendHex {
			decoded, err := hex.DecodeString(args[0])
			if err != nil {
				return fmt.Errorf("decode --hex payload: %w", err)
			}
			payload = decoded
		}
		trace := sendTrace
		if trace == "" {
			trace = uuid.NewString()
		}

		ctx := cmd.Context()
		s, err := newSession(ctx)
		if err != nil {
			return err
		}
		defer s.close()

		if err := s.establish(ctx); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		transmitted := make(chan struct{}, 1)
		response := make(chan []byte, 1)
		failure := make(chan error, 1)
		cb := &termlink.ExchangeCallback{
			OnProgress: func(stage termlink.ExchangeStage) {
				logger.Debug("exchange stage",
					zap.String("trace_id", trace),
					zap.String("stage", string(stage)))
				if stage == termlink.StageTransmitted {
					select {
					case transmitted <- struct{}{}:
					default:
					}
				}
			},
			OnSuccess: func(resp []byte) {
				s.hub.Publish(bus.TopicExchangeResult, bus.ExchangeResult{
					TraceID:  trace,
					Response: resp,
				})
				response <- resp
			},
			OnFailure: func(err error) {
				s.hub.Publish(bus.TopicExchangeResult, bus.ExchangeResult{
					TraceID: trace,
					Err:     err.Error(),
				})
				failure <- err
			},
		}

		if sendWait {
			// For a one-shot exchange, arrival order is the correlation:
			// the next inbound payload resolves the pending trace.
			rm := s.link.RegisterReceiver(func(p []byte) {
				s.link.CompleteExchange(trace, p)
			})
			defer rm()
		}

		sctx, cancel := context.WithTimeout(ctx, sendTimeout)
		defer cancel()

		if err := s.link.Send(sctx, trace, payload, cb); err != nil {
			return err
		}

		select {
		case <-transmitted:
			fmt.Fprintf(out, "Transmitted %d bytes, trace %s\n", len(payload), trace)
		case err := <-failure:
			return err
		case <-sctx.Done():
			s.link.FailExchange(trace, sctx.Err())
			return sctx.Err()
		}

		if sendWait {
			select {
			case resp := <-response:
				fmt.Fprintf(out, "Response (%d bytes)\n  hex:  %x\n  text: %q\n", len(resp), resp, resp)
			case err := <-failure:
				return err
			case <-sctx.Done():
				s.link.FailExchange(trace, sctx.Err())
				return sctx.Err()
			}
		}

		return s.shutdown(ctx, false)
	},
}

func init() {
	sendCmd.Flags().StringVar(&sendTrace, "trace", "", "trace identifier (default is a random UUID)")
	sendCmd.Flags().BoolVar(&sendHex, "hex", false, "interpret the payload argument as hex")
	sendCmd.Flags().BoolVar(&sendWait, "wait", false, "wait for the next inbound payload as the response")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 10*time.Second, "overall exchange timeout")
	rootCmd.AddCommand(sendCmd)
}
