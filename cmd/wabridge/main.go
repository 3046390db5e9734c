// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command wabridge links a WhatsApp account and sends messages through it,
// either from an interactive console or over an HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/marketcalls/wabridge/pkg/connector"
	"github.com/marketcalls/wabridge/pkg/connector/credstore"
	"github.com/marketcalls/wabridge/pkg/connector/waengine"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const Version = "0.1.0"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "wabridge",
	Short: "WhatsApp messaging bridge",
	Long: "wabridge links a WhatsApp account as a companion device and sends messages\n" +
		"through it. Without a subcommand it runs the interactive setup console.",
	SilenceUsage: true,
	RunE:         runSetup,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "wabridge %s (tag %s, commit %s, built %s)\n", Version, Tag, Commit, BuildTime)
	},
}

func init() {
	rootCmd.Version = Version
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", connector.DefaultConfigPath(), "path to the config file")
	rootCmd.AddCommand(setupCmd, startCmd, versionCmd)
}

// app is the wired core shared by both presentation surfaces.
type app struct {
	cfg      *connector.Config
	log      *zerolog.Logger
	bridge   *connector.Bridge
	dispatch *connector.Dispatcher
}

func newApp() (*app, error) {
	cfg, err := connector.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	log, err := cfg.NewLogger()
	if err != nil {
		return nil, err
	}
	engine := waengine.New(*log, waengine.Options{
		DeviceName:      cfg.DeviceName,
		FetchTimeout:    cfg.Media.FetchTimeout,
		MaxMediaSize:    cfg.Media.MaxSize,
		AllowLocalFiles: cfg.Media.AllowLocalFiles,
	})
	bridge := connector.NewBridge(engine, credstore.New(cfg.AuthDir(), *log), *log)
	bridge.RetryDelay = cfg.Reconnect.RetryDelay
	return &app{
		cfg:      cfg,
		log:      log,
		bridge:   bridge,
		dispatch: connector.NewDispatcher(bridge, *log),
	}, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
