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
	"net"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TermlinkProject/go-termlink/bus"
	"github.com/TermlinkProject/go-termlink/discovery"
	"github.com/TermlinkProject/go-termlink/discovery/mdns"
	"github.com/TermlinkProject/go-termlink/persist"
)

var (
	discoverTimeout time.Duration
	discoverType    string
	discoverCached  bool
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find terminals announcing themselves on the local network",
	Long: `Discover browses mDNS for terminal announcements, prints arrivals,
address changes and withdrawals as they happen, and finishes with a summary
of everything seen. Found addresses are cached so transport "auto" can use
them. With --cached the cache is listed without browsing.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if discoverCached {
			return listCachedTerminals(cmd)
		}
		out := cmd.OutOrStdout()

		store, err := persist.Open(cmd.Context(), statePath())
		if err != nil {
			logger.Warn("state store unavailable", zap.Error(err))
			store = nil
		}
		if store != nil {
			defer store.Close()
		}
		saveCtx := cmd.Context()

		hub := bus.New(logger)
		defer hub.Close()
		events := hub.Subscribe(bus.TopicDiscoveryService)

		backend := mdns.New(mdns.WithLogger(logger))
		engine := discovery.New(backend, backend, discovery.WithLogger(logger))
		engine.OnFound = func(svc discovery.Service) {
			saveAddress(saveCtx, store, svc)
			hub.Publish(bus.TopicDiscoveryService, bus.ServiceEvent{
				Kind:    bus.ServiceFound,
				Service: svc,
			})
		}
		engine.OnUpdated = func(svc discovery.Service, addressChanged bool) {
			saveAddress(saveCtx, store, svc)
			hub.Publish(bus.TopicDiscoveryService, bus.ServiceEvent{
				Kind:           bus.ServiceUpdated,
				Service:        svc,
				AddressChanged: addressChanged,
			})
		}
		engine.OnRemoved = func(identity string) {
			hub.Publish(bus.TopicDiscoveryService, bus.ServiceEvent{
				Kind:    bus.ServiceRemoved,
				Service: discovery.Service{Identity: identity},
			})
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), discoverTimeout)
		defer cancel()

		if err := engine.Start(ctx, discoverType); err != nil {
			return err
		}
		fmt.Fprintf(out, "Browsing %s for %s...\n", discoverType, discoverTimeout)

	stream:
		for {
			select {
			case <-ctx.Done():
				break stream
			case msg := <-events:
				ev, ok := msg.(bus.ServiceEvent)
				if !ok {
					continue
				}
				switch ev.Kind {
				case bus.ServiceFound:
					fmt.Fprintf(out, "+ %s at %s\n", ev.Service.Identity, hostPort(ev.Service))
				case bus.ServiceUpdated:
					if ev.AddressChanged {
						fmt.Fprintf(out, "~ %s moved to %s\n", ev.Service.Identity, hostPort(ev.Service))
					} else {
						fmt.Fprintf(out, "~ %s updated\n", ev.Service.Identity)
					}
				case bus.ServiceRemoved:
					fmt.Fprintf(out, "- %s withdrawn\n", ev.Service.Identity)
				}
			}
		}
		engine.Stop()

		services := engine.Snapshot()
		sort.Slice(services, func(i, j int) bool {
			return services[i].Identity < services[j].Identity
		})
		if len(services) == 0 {
			fmt.Fprintln(out, "No terminals found.")
			return nil
		}
		fmt.Fprintln(out)
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "IDENTITY\tADDRESS\tATTRS")
		for _, svc := range services {
			fmt.Fprintf(w, "%s\t%s\t%s\n", svc.Identity, hostPort(svc), formatAttrs(svc.Attrs))
		}
		return w.Flush()
	},
}

func hostPort(svc discovery.Service) string {
	return net.JoinHostPort(svc.Host, strconv.Itoa(svc.Port))
}

func formatAttrs(attrs map[string]string) string {
	if len(attrs) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+attrs[k])
	}
	return strings.Join(parts, " ")
}

// saveAddress caches a resolved terminal for later auto:// resolution.
func saveAddress(ctx context.Context, store *persist.Store, svc discovery.Service) {
	if store == nil || svc.Host == "" || svc.Port == 0 {
		return
	}
	err := store.SaveDeviceAddress(ctx, persist.DeviceAddress{
		Identity: svc.Identity,
		Host:     svc.Host,
		Port:     svc.Port,
	})
	if err != nil {
		logger.Warn("cache terminal address",
			zap.String("identity", svc.Identity),
			zap.Error(err))
	}
}

func listCachedTerminals(cmd *cobra.Command) error {
	ctx := cmd.Context()
	store, err := persist.Open(ctx, statePath())
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer store.Close()

	addrs, err := store.ListDeviceAddresses(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(addrs) == 0 {
		fmt.Fprintln(out, "No cached terminals.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "IDENTITY\tADDRESS\tLAST SEEN")
	for _, a := range addrs {
		fmt.Fprintf(w, "%s\t%s\t%s\n",
			a.Identity,
			net.JoinHostPort(a.Host, strconv.Itoa(a.Port)),
			a.UpdatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func init() {
	discoverCmd.Flags().DurationVar(&discoverTimeout, "timeout", 5*time.Second, "how long to browse")
	discoverCmd.Flags().StringVar(&discoverType, "type", discovery.DefaultServiceType, "DNS-SD service type to browse")
	discoverCmd.Flags().BoolVar(&discoverCached, "cached", false, "list cached terminals without browsing")
	rootCmd.AddCommand(discoverCmd)
}
