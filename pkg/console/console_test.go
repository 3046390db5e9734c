// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package console

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketcalls/wabridge/pkg/connector"
	"github.com/marketcalls/wabridge/pkg/connector/connectortest"
)

// syncBuffer is a bytes.Buffer safe for one writer and concurrent readers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fakeRenderer struct{}

func (fakeRenderer) Render(w io.Writer, challenge string) error {
	_, err := fmt.Fprintf(w, "[QR %s]\n", challenge)
	return err
}

type harness struct {
	t      *testing.T
	bridge *connector.Bridge
	engine *connectortest.Engine
	store  *connectortest.Store
	input  *io.PipeWriter
	out    *syncBuffer
	result chan error
}

func start(t *testing.T, opts Options) *harness {
	t.Helper()
	engine := connectortest.NewEngine()
	store := &connectortest.Store{}
	bridge := connector.NewBridge(engine, store, zerolog.Nop())
	t.Cleanup(bridge.Stop)

	pr, pw := io.Pipe()
	t.Cleanup(func() { _ = pw.Close() })
	opts.Renderer = fakeRenderer{}
	out := &syncBuffer{}
	c := New(bridge, connector.NewDispatcher(bridge, zerolog.Nop()), pr, out, zerolog.Nop(), opts)

	h := &harness{t: t, bridge: bridge, engine: engine, store: store, input: pw, out: out, result: make(chan error, 1)}
	go func() { h.result <- c.Run(context.Background()) }()
	return h
}

func (h *harness) send(lines ...string) {
	h.t.Helper()
	_, err := io.WriteString(h.input, strings.Join(lines, "\n")+"\n")
	require.NoError(h.t, err)
}

func (h *harness) waitOutput(want string) {
	h.t.Helper()
	h.waitCount(want, 1)
}

// waitCount waits until want occurs at least n times in the output.
func (h *harness) waitCount(want string, n int) {
	h.t.Helper()
	deadline := time.Now().Add(connectortest.Timeout)
	for strings.Count(h.out.String(), want) < n {
		if time.Now().After(deadline) {
			h.t.Fatalf("timed out waiting for %d x %q in output:\n%s", n, want, h.out.String())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (h *harness) wait() error {
	h.t.Helper()
	select {
	case err := <-h.result:
		return err
	case <-time.After(connectortest.Timeout):
		h.t.Fatal("console did not exit")
		return nil
	}
}

// link runs the QR flow up to the prompt.
func (h *harness) link(own string) *connectortest.Session {
	h.t.Helper()
	sess := h.engine.NextSession(h.t)
	sess.Emit(connector.Event{Type: connector.EventPairingChallenge, QR: "2@qr"})
	h.waitOutput("[QR 2@qr]")
	sess.SetOwnAddress(own)
	sess.Emit(connector.Event{Type: connector.EventOpened})
	h.waitOutput("Commands: /send, /self, /status, /disconnect, /quit")
	return sess
}

func TestConsoleQRFlowAndCommands(t *testing.T) {
	h := start(t, Options{AuthDir: "/data/auth_store"})
	h.waitOutput("WABridge - Setup")
	h.waitOutput("/data/auth_store")
	sess := h.link("919876543210:3@s.whatsapp.net")
	assert.Contains(t, h.out.String(), "Scan this QR code with WhatsApp:")
	assert.Contains(t, h.out.String(), "WhatsApp linked successfully!")

	h.send("/status")
	h.waitOutput("Status: open")
	h.waitOutput("JID: 919876543210@s.whatsapp.net")

	h.send("/send", "14155550123", "hello")
	h.waitOutput("Sent to +14155550123!")

	h.send("/self", "note")
	h.waitOutput("Sent to yourself!")

	h.send("/bogus")
	h.waitOutput("Unknown. Commands: /send, /self, /status, /disconnect, /quit")

	h.send("/quit")
	h.waitOutput("Bye!")
	require.NoError(t, h.wait())

	sent := sess.SentMessages()
	require.Len(t, sent, 2)
	assert.Equal(t, "14155550123@s.whatsapp.net", sent[0].To)
	assert.Equal(t, "hello", sent[0].Payload.Text)
	assert.Equal(t, "919876543210@s.whatsapp.net", sent[1].To)
}

func TestConsoleSendFailures(t *testing.T) {
	h := start(t, Options{})
	sess := h.link("919876543210@s.whatsapp.net")

	h.send("/send", "+91")
	h.waitOutput("Invalid phone number.")

	h.send("/send", "14155550123", "")
	h.waitOutput("Cancelled.")

	sess.SetSendError(errors.New("server returned error 479"))
	h.send("/self", "x")
	h.waitOutput("Failed: server returned error 479")

	h.send("/quit")
	require.NoError(t, h.wait())
	assert.Len(t, sess.SentMessages(), 1)
}

func TestConsolePairingCode(t *testing.T) {
	h := start(t, Options{UsePairingCode: true})
	sess := h.engine.NextSession(t)
	sess.Emit(connector.Event{Type: connector.EventPairingChallenge, QR: "2@a"})
	h.waitOutput("Enter your phone number")
	h.send("919876543210")
	h.waitOutput("Your pairing code: ABCD-1234")
	h.waitOutput("Link with phone number")

	// Rotated challenges do not ask again.
	sess.Emit(connector.Event{Type: connector.EventPairingChallenge, QR: "2@b"})
	sess.SetOwnAddress("919876543210@s.whatsapp.net")
	sess.Emit(connector.Event{Type: connector.EventOpened})
	h.waitOutput("WhatsApp linked successfully!")

	assert.Equal(t, 1, strings.Count(h.out.String(), "Enter your phone number"))
	assert.Equal(t, []string{"919876543210"}, sess.PairingPhones())
	assert.NotContains(t, h.out.String(), "[QR")

	h.send("/quit")
	require.NoError(t, h.wait())
}

func TestConsolePairingCodeInvalidPhone(t *testing.T) {
	h := start(t, Options{UsePairingCode: true})
	sess := h.engine.NextSession(t)
	sess.Emit(connector.Event{Type: connector.EventPairingChallenge, QR: "2@a"})
	h.waitOutput("Enter your phone number")
	h.send("12345")

	err := h.wait()
	assert.ErrorIs(t, err, connector.ErrInvalidPhone)
	assert.Contains(t, h.out.String(), "Invalid phone number. Restart and try again.")
	assert.Empty(t, sess.PairingPhones())
}

func TestConsoleInputClosedWhilePairing(t *testing.T) {
	h := start(t, Options{UsePairingCode: true})
	sess := h.engine.NextSession(t)
	sess.Emit(connector.Event{Type: connector.EventPairingChallenge, QR: "2@a"})
	h.waitOutput("Enter your phone number")
	require.NoError(t, h.input.Close())
	assert.ErrorIs(t, h.wait(), ErrInputClosed)
}

func TestConsoleDisconnect(t *testing.T) {
	h := start(t, Options{})
	sess := h.link("919876543210@s.whatsapp.net")

	h.send("/disconnect", "n")
	h.waitOutput("Cancelled.")
	assert.Zero(t, h.store.Erased())

	h.send("/disconnect", "Y")
	h.waitOutput("WhatsApp unlinked. Run 'wabridge' again to re-link.")
	require.NoError(t, h.wait())
	assert.Equal(t, 1, h.store.Erased())
	assert.Equal(t, 1, sess.Logouts())
	assert.Equal(t, connector.StatusDisconnected, h.bridge.State().Status)
}

func TestConsoleDisconnectLogoutFailure(t *testing.T) {
	h := start(t, Options{})
	sess := h.link("919876543210@s.whatsapp.net")
	sess.SetLogoutError(errors.New("network unreachable"))

	h.send("/disconnect", "y")
	h.waitOutput("Failed: network unreachable")
	h.waitOutput("Bridge stopped. Run 'wabridge' again to re-link.")
	require.NoError(t, h.wait())
	assert.Equal(t, 1, h.store.Erased())
	assert.Equal(t, connector.StatusDisconnected, h.bridge.State().Status)
}

func TestConsoleRelinksAfterLogout(t *testing.T) {
	h := start(t, Options{})
	first := h.link("919876543210@s.whatsapp.net")

	first.Emit(connector.Event{Type: connector.EventClosed, Reason: connector.CloseReason{Code: connector.CodeLoggedOut}})
	h.waitOutput("Logged out. Re-linking...")
	second := h.engine.NextSession(t)
	second.Emit(connector.Event{Type: connector.EventPairingChallenge, QR: "2@relink"})
	h.waitOutput("[QR 2@relink]")
	assert.Equal(t, 1, h.store.Erased())

	second.SetOwnAddress("14155550123@s.whatsapp.net")
	second.Emit(connector.Event{Type: connector.EventOpened})
	h.waitCount("WhatsApp linked successfully!", 2)
	assert.NotContains(t, h.out.String(), "WhatsApp reconnected.")

	h.send("/status")
	h.waitOutput("JID: 14155550123@s.whatsapp.net")
	h.send("/quit")
	require.NoError(t, h.wait())
}

func TestConsoleRelinkAsksPhoneAgain(t *testing.T) {
	h := start(t, Options{UsePairingCode: true})
	first := h.engine.NextSession(t)
	first.Emit(connector.Event{Type: connector.EventPairingChallenge, QR: "2@a"})
	h.waitOutput("Enter your phone number")
	h.send("919876543210")
	h.waitOutput("Your pairing code: ABCD-1234")
	first.SetOwnAddress("919876543210@s.whatsapp.net")
	first.Emit(connector.Event{Type: connector.EventOpened})
	h.waitOutput("WhatsApp linked successfully!")

	first.Emit(connector.Event{Type: connector.EventClosed, Reason: connector.CloseReason{Code: connector.CodeMainDeviceGone}})
	h.waitOutput("Logged out. Re-linking...")
	second := h.engine.NextSession(t)
	second.Emit(connector.Event{Type: connector.EventPairingChallenge, QR: "2@b"})
	h.waitCount("Enter your phone number", 2)
	h.send("14155550123")
	h.waitCount("Your pairing code: ABCD-1234", 2)
	assert.Equal(t, []string{"14155550123"}, second.PairingPhones())

	h.send("/quit")
	require.NoError(t, h.wait())
}

func TestConsoleReconnectNotice(t *testing.T) {
	h := start(t, Options{})
	first := h.link("919876543210@s.whatsapp.net")

	first.Emit(connector.Event{Type: connector.EventClosed, Reason: connector.CloseReason{Code: connector.CodeConnectionLost}})
	h.waitOutput("Disconnected. Reconnecting...")
	second := h.engine.NextSession(t)
	second.SetOwnAddress("919876543210@s.whatsapp.net")
	second.Emit(connector.Event{Type: connector.EventOpened})
	h.waitOutput("WhatsApp reconnected.")

	h.send("/status")
	h.waitOutput("Status: open")
	require.NoError(t, h.input.Close())
	require.NoError(t, h.wait())
}
