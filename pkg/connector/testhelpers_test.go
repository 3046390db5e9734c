// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const testTimeout = 2 * time.Second

// sentMessage records a single Send call on a fakeSession.
type sentMessage struct {
	To      string
	Payload *Payload
}

// fakeSession is a scriptable Session. Tests push lifecycle events with
// emit and inspect sends afterwards.
type fakeSession struct {
	events  chan Event
	endOnce sync.Once

	mu         sync.Mutex
	sent       []sentMessage
	closed     bool
	own        string
	sendErr    error
	logoutErr  error
	logouts    int
	groups     []Group
	pairCode   string
	pairPhones []string
}

func newFakeSession() *fakeSession {
	return &fakeSession{events: make(chan Event, 16)}
}

func (s *fakeSession) emit(evt Event) { s.events <- evt }

// end closes the event stream without a close event.
func (s *fakeSession) end() { s.endOnce.Do(func() { close(s.events) }) }

func (s *fakeSession) Events() <-chan Event { return s.events }

func (s *fakeSession) Send(_ context.Context, to string, payload *Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMessage{To: to, Payload: payload})
	return s.sendErr
}

func (s *fakeSession) Logout(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logouts++
	return s.logoutErr
}

func (s *fakeSession) ListGroups(context.Context) ([]Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groups, nil
}

func (s *fakeSession) RequestPairingCode(_ context.Context, phone string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairPhones = append(s.pairPhones, phone)
	return s.pairCode, nil
}

func (s *fakeSession) OwnAddress() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.own
}

func (s *fakeSession) setOwn(addr string) {
	s.mu.Lock()
	s.own = addr
	s.mu.Unlock()
}

func (s *fakeSession) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSession) Sent() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.sent)
}

// opLog records store and record operations in the order they happen.
type opLog struct {
	mu  sync.Mutex
	ops []string
}

func (l *opLog) add(op string) {
	l.mu.Lock()
	l.ops = append(l.ops, op)
	l.mu.Unlock()
}

func (l *opLog) Ops() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.ops)
}

func (l *opLog) count(op string) int {
	n := 0
	for _, o := range l.Ops() {
		if o == op {
			n++
		}
	}
	return n
}

type fakeRecord struct {
	log     *opLog
	saveErr error
}

func (r *fakeRecord) Save(context.Context) error {
	r.log.add("save")
	return r.saveErr
}

func (r *fakeRecord) Close() error {
	r.log.add("close")
	return nil
}

// fakeStore is an in-memory CredentialStore.
type fakeStore struct {
	log      *opLog
	loadErr  error
	eraseErr error
	saveErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{log: &opLog{}}
}

func (s *fakeStore) Load(context.Context) (CredentialRecord, error) {
	s.log.add("load")
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return &fakeRecord{log: s.log, saveErr: s.saveErr}, nil
}

func (s *fakeStore) Erase(context.Context) error {
	s.log.add("erase")
	return s.eraseErr
}

// fakeEngine hands out a fresh fakeSession per Open and publishes it on
// opened so tests can drive it.
type fakeEngine struct {
	opened chan *fakeSession

	mu          sync.Mutex
	versionErrs []error
	versions    int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{opened: make(chan *fakeSession, 8)}
}

func (e *fakeEngine) FetchVersion(context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.versions++
	if len(e.versionErrs) > 0 {
		err := e.versionErrs[0]
		e.versionErrs = e.versionErrs[1:]
		return "", err
	}
	return "2.3000.1", nil
}

func (e *fakeEngine) Open(_ context.Context, _ string, creds CredentialRecord) (Session, error) {
	if creds == nil {
		return nil, errors.New("no credentials")
	}
	sess := newFakeSession()
	e.opened <- sess
	return sess, nil
}

func (e *fakeEngine) nextSession(t *testing.T) *fakeSession {
	t.Helper()
	select {
	case sess := <-e.opened:
		return sess
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for a session to be opened")
		return nil
	}
}

func newTestBridge(t *testing.T) (*Bridge, *fakeEngine, *fakeStore) {
	t.Helper()
	eng := newFakeEngine()
	store := newFakeStore()
	b := NewBridge(eng, store, zerolog.Nop())
	b.RetryDelay = 10 * time.Millisecond
	t.Cleanup(b.Stop)
	return b, eng, store
}

// startOpen starts b and opens its first session as ownAddr.
func startOpen(t *testing.T, b *Bridge, eng *fakeEngine, ownAddr string) *fakeSession {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- b.Start(context.Background()) }()
	sess := eng.nextSession(t)
	sess.setOwn(ownAddr)
	sess.emit(Event{Type: EventOpened})
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
	case <-time.After(testTimeout):
		t.Fatal("Start did not return after the session opened")
	}
	return sess
}

func nextEvent(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case evt, ok := <-sub.C:
		if !ok {
			t.Fatal("subscription closed")
		}
		return evt
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for a lifecycle event")
		return Event{}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
