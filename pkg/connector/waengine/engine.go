// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package waengine implements connector.Engine with whatsmeow.
package waengine

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/marketcalls/wabridge/pkg/connector"
	"github.com/marketcalls/wabridge/pkg/connector/credstore"
)

// Options configures an Engine.
type Options struct {
	// DeviceName is shown in the phone's list of linked devices.
	DeviceName string
	// FetchTimeout bounds downloads of media sources.
	FetchTimeout time.Duration
	// MaxMediaSize is the largest media source accepted, in bytes.
	MaxMediaSize int64
	// AllowLocalFiles lets media sources name files readable by this process.
	AllowLocalFiles bool
}

// Engine opens whatsmeow sessions on credstore records.
type Engine struct {
	log        zerolog.Logger
	deviceName string
	httpClient *http.Client
	media      *fetcher
}

var _ connector.Engine = (*Engine)(nil)

// New creates an engine.
func New(log zerolog.Logger, opts Options) *Engine {
	if opts.DeviceName == "" {
		opts.DeviceName = "WABridge"
	}
	mediaClient := &http.Client{Timeout: opts.FetchTimeout}
	return &Engine{
		log:        log.With().Str("component", "waengine").Logger(),
		deviceName: opts.DeviceName,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		media:      &fetcher{client: mediaClient, maxSize: opts.MaxMediaSize, allowLocal: opts.AllowLocalFiles},
	}
}

// FetchVersion asks WhatsApp for the current web client version. If that
// fails, the version bundled with whatsmeow is used instead.
func (e *Engine) FetchVersion(ctx context.Context) (string, error) {
	ver, err := whatsmeow.GetLatestVersion(ctx, e.httpClient)
	if err != nil {
		fallback := store.GetWAVersion()
		e.log.Warn().Err(err).Stringer("fallback", fallback).Msg("Failed to fetch latest version")
		return fallback.String(), nil
	}
	return ver.String(), nil
}

// Open creates a client for the record's device and connects it. Without a
// paired device the session starts in the pairing phase and emits QR
// challenges.
func (e *Engine) Open(ctx context.Context, version string, creds connector.CredentialRecord) (connector.Session, error) {
	rec, ok := creds.(*credstore.Record)
	if !ok {
		return nil, fmt.Errorf("unsupported credential record %T", creds)
	}
	if ver, err := parseVersion(version); err != nil {
		e.log.Warn().Err(err).Str("version", version).Msg("Ignoring unparseable version")
	} else {
		store.SetWAVersion(ver)
	}
	store.SetOSInfo(e.deviceName, [3]uint32{1, 0, 0})

	client := whatsmeow.NewClient(rec.Device, waLog.Zerolog(e.log.With().Str("component", "whatsmeow").Logger()))
	// Reconnection is owned by the bridge's control loop.
	client.EnableAutoReconnect = false

	sess := newSession(client, e)
	if client.Store.ID == nil {
		qrChan, err := client.GetQRChannel(sess.ctx)
		if err != nil {
			sess.Close()
			return nil, fmt.Errorf("failed to get QR channel: %w", err)
		}
		go sess.forwardQR(qrChan)
	}
	if err := client.Connect(); err != nil {
		sess.Close()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return sess, nil
}

// parseVersion parses a dotted "major.minor.patch" version.
func parseVersion(version string) (store.WAVersionContainer, error) {
	var ver store.WAVersionContainer
	parts := strings.Split(version, ".")
	if len(parts) != len(ver) {
		return ver, fmt.Errorf("expected %d components, got %d", len(ver), len(parts))
	}
	for i, part := range parts {
		n, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return ver, fmt.Errorf("invalid component %q: %w", part, err)
		}
		ver[i] = uint32(n)
	}
	return ver, nil
}
