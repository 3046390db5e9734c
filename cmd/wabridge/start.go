// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marketcalls/wabridge/pkg/api"
	"github.com/marketcalls/wabridge/pkg/connector"
)

var startCmd = &cobra.Command{
	Use:   "start [port]",
	Short: "Run the HTTP API",
	Long: "Run the HTTP API. The port defaults to the config file's api.listen_addr\n" +
		"and can be overridden with the PORT environment variable or the argument.",
	Args: cobra.MaximumNArgs(1),
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	if port := os.Getenv("PORT"); port != "" {
		a.cfg.SetPort(port)
	}
	if len(args) > 0 {
		a.cfg.SetPort(args[0])
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer a.bridge.Stop()

	server := api.NewServer(a.bridge, a.dispatch, *a.log)
	server.OnUnlink = cancel

	sub := a.bridge.Subscribe()
	defer sub.Close()
	go printNotices(sub)

	startErr := make(chan error, 1)
	go func() { startErr <- a.bridge.Start(ctx) }()

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.ListenAndServe(ctx, a.cfg.API) }()
	fmt.Println(api.Banner(a.cfg.API.ListenAddr))

	select {
	case err = <-serveErr:
		return err
	case err = <-startErr:
		// Start also returns when an unlink stops the bridge.
		if err != nil && ctx.Err() == nil && !errors.Is(err, connector.ErrStopped) {
			cancel()
			<-serveErr
			return fmt.Errorf("bridge stopped: %w", err)
		}
	}
	if err = <-serveErr; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func printNotices(sub *connector.Subscription) {
	var pairingShown bool
	for evt := range sub.C {
		switch evt.Type {
		case connector.EventPairingChallenge:
			if pairingShown {
				continue
			}
			pairingShown = true
			fmt.Println("Not linked. Fetch the QR code from /pair or run 'wabridge setup'.")
		case connector.EventOpened:
			pairingShown = false
			fmt.Println("WhatsApp connected.")
		case connector.EventClosed:
			if evt.Reason.Revoked() {
				fmt.Println("Logged out. Re-linking...")
			} else {
				fmt.Println("Disconnected. Reconnecting...")
			}
		}
	}
}
