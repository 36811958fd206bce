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
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/TermlinkProject/go-termlink/config"
)

var (
	// Global flags
	cfgFile string
	uriFlag string
	verbose bool

	// Shared state set during PersistentPreRun
	cfg    config.Config
	logger *zap.Logger
)

// rootCmd is the base command for termctl.
var rootCmd = &cobra.Command{
	Use:   "termctl",
	Short: "Control links to payment terminals",
	Long: `termctl drives the termlink kernel from the command line. It connects
to payment terminals over IPC, serial, USB and WebSocket channels, exchanges
raw payloads, watches link health and discovers terminals announcing
themselves on the local network.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		path := cfgFile
		if path == "" {
			path = defaultConfigPath()
		}
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		// Override config with flags
		if uriFlag != "" {
			cfg.Connection.URI = uriFlag
		}

		logger, err = buildLogger(cfg.Logging, verbose)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// defaultConfigPath is the config file consulted when --config is not given.
func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "termlink.toml"
	}
	return filepath.Join(dir, "termlink", "termlink.toml")
}

// statePath is where the link-state database lives.
func statePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "termlink-state.db"
	}
	return filepath.Join(dir, "termlink", "state.db")
}

func buildLogger(lc config.LoggingConfig, verbose bool) (*zap.Logger, error) {
	level, err := lc.ZapLevel()
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	if verbose {
		level = zapcore.DebugLevel
	}

	zc := zap.NewProductionConfig()
	if lc.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is <user config dir>/termlink/termlink.toml)")
	rootCmd.PersistentFlags().StringVar(&uriFlag, "uri", "",
		"descriptor URI overriding the configured connection")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"enable debug logging")
}
