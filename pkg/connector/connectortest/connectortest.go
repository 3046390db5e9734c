// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package connectortest provides an in-memory engine and credential store
// for driving a real connector.Bridge in tests of the layers above it.
package connectortest

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marketcalls/wabridge/pkg/connector"
)

// Timeout bounds every wait in this package.
const Timeout = 2 * time.Second

// Sent is a message recorded by Session.Send.
type Sent struct {
	To      string
	Payload *connector.Payload
}

// Session is a scriptable connector.Session.
type Session struct {
	events chan connector.Event

	mu        sync.Mutex
	sent      []Sent
	sendErr   error
	logoutErr error
	logouts   int
	groups    []connector.Group
	own       string
	pairCode  string
	phones    []string
	closed    bool
}

var _ connector.Session = (*Session)(nil)

// NewSession returns a session that answers pairing code requests with
// "ABCD-1234".
func NewSession() *Session {
	return &Session{events: make(chan connector.Event, 16), pairCode: "ABCD-1234"}
}

// Emit pushes a lifecycle event to the bridge.
func (s *Session) Emit(evt connector.Event) { s.events <- evt }

func (s *Session) Events() <-chan connector.Event { return s.events }

func (s *Session) Send(_ context.Context, to string, payload *connector.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, Sent{To: to, Payload: payload})
	return s.sendErr
}

func (s *Session) Logout(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logouts++
	return s.logoutErr
}

func (s *Session) ListGroups(context.Context) ([]connector.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.groups), nil
}

func (s *Session) RequestPairingCode(_ context.Context, phone string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phones = append(s.phones, phone)
	return s.pairCode, nil
}

func (s *Session) OwnAddress() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.own
}

func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// SentMessages returns a copy of everything sent so far.
func (s *Session) SentMessages() []Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.sent)
}

// PairingPhones returns the phone numbers pairing codes were requested for.
func (s *Session) PairingPhones() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.phones)
}

// Logouts returns how often Logout was called.
func (s *Session) Logouts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logouts
}

// Closed reports whether the bridge closed the session.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) SetOwnAddress(addr string) {
	s.mu.Lock()
	s.own = addr
	s.mu.Unlock()
}

func (s *Session) SetSendError(err error) {
	s.mu.Lock()
	s.sendErr = err
	s.mu.Unlock()
}

func (s *Session) SetLogoutError(err error) {
	s.mu.Lock()
	s.logoutErr = err
	s.mu.Unlock()
}

func (s *Session) SetGroups(groups []connector.Group) {
	s.mu.Lock()
	s.groups = groups
	s.mu.Unlock()
}

type record struct{}

func (record) Save(context.Context) error { return nil }
func (record) Close() error               { return nil }

// Store is an in-memory connector.CredentialStore that counts erasures.
type Store struct {
	erased atomic.Int32
}

var _ connector.CredentialStore = (*Store)(nil)

func (s *Store) Load(context.Context) (connector.CredentialRecord, error) {
	return record{}, nil
}

func (s *Store) Erase(context.Context) error {
	s.erased.Add(1)
	return nil
}

// Erased returns how often the store was erased.
func (s *Store) Erased() int {
	return int(s.erased.Load())
}

// Engine hands out a fresh Session per Open.
type Engine struct {
	opened chan *Session
}

var _ connector.Engine = (*Engine)(nil)

func NewEngine() *Engine {
	return &Engine{opened: make(chan *Session, 8)}
}

func (e *Engine) FetchVersion(context.Context) (string, error) {
	return "2.3000.1", nil
}

func (e *Engine) Open(context.Context, string, connector.CredentialRecord) (connector.Session, error) {
	sess := NewSession()
	e.opened <- sess
	return sess, nil
}

// NextSession waits for the bridge to open a session.
func (e *Engine) NextSession(t testing.TB) *Session {
	t.Helper()
	select {
	case sess := <-e.opened:
		return sess
	case <-time.After(Timeout):
		t.Fatal("timed out waiting for a session to be opened")
		return nil
	}
}

// Open starts b and opens its first session as own.
func Open(t testing.TB, b *connector.Bridge, e *Engine, own string) *Session {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- b.Start(context.Background()) }()
	sess := e.NextSession(t)
	sess.SetOwnAddress(own)
	sess.Emit(connector.Event{Type: connector.EventOpened})
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
	case <-time.After(Timeout):
		t.Fatal("Start did not return after the session opened")
	}
	return sess
}

// Pairing starts b and issues the pairing challenge qr.
func Pairing(t testing.TB, b *connector.Bridge, e *Engine, qr string) *Session {
	t.Helper()
	sub := b.Subscribe()
	defer sub.Close()
	go func() { _ = b.Start(context.Background()) }()
	sess := e.NextSession(t)
	sess.Emit(connector.Event{Type: connector.EventPairingChallenge, QR: qr})
	select {
	case <-sub.C:
	case <-time.After(Timeout):
		t.Fatal("timed out waiting for the pairing challenge")
	}
	return sess
}
