// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marketcalls/wabridge/pkg/console"
)

var usePairingCode bool

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Link WhatsApp interactively and open the command prompt",
	RunE:  runSetup,
}

func init() {
	for _, cmd := range []*cobra.Command{rootCmd, setupCmd} {
		cmd.Flags().BoolVar(&usePairingCode, "code", false, "link with a numeric pairing code instead of a QR code")
	}
}

func runSetup(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer a.bridge.Stop()

	c := console.New(a.bridge, a.dispatch, os.Stdin, os.Stdout, *a.log, console.Options{
		UsePairingCode: usePairingCode,
		AuthDir:        a.cfg.AuthDir(),
	})
	err = c.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
