// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Status is the connection status of the bridge.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusOpen
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusOpen:
		return "open"
	default:
		return "disconnected"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrStopped is returned by Start when the control loop is stopped before
// the first session opened.
var ErrStopped = errors.New("bridge stopped")

// DefaultRetryDelay is the pause after a failed session setup. Closed
// sessions are always reopened immediately.
const DefaultRetryDelay = 2 * time.Second

// State is a point-in-time snapshot of the bridge.
type State struct {
	Status Status `json:"status"`
	// Identity is the account-level own address, empty while unknown.
	Identity string `json:"identity,omitempty"`
	// Device is the device-specific own address as reported by the session.
	Device string `json:"device,omitempty"`
}

// Bridge owns the single live or recovering session to the remote network.
// Construct exactly one per process and share it by reference.
type Bridge struct {
	engine Engine
	store  CredentialStore
	log    zerolog.Logger

	// RetryDelay is waited after a session could not be set up at all.
	RetryDelay time.Duration

	mu      sync.RWMutex
	status  Status
	session Session
	qr      string
	cancel  context.CancelFunc
	opened  chan struct{}
	done    chan struct{}

	subMu sync.Mutex
	subs  map[*Subscription]struct{}
}

// NewBridge creates a disconnected bridge. Nothing happens until Start.
func NewBridge(engine Engine, store CredentialStore, log zerolog.Logger) *Bridge {
	return &Bridge{
		engine:     engine,
		store:      store,
		log:        log.With().Str("component", "bridge").Logger(),
		RetryDelay: DefaultRetryDelay,
		subs:       make(map[*Subscription]struct{}),
	}
}

// Start launches the control loop unless it is already running and blocks
// until the first session of the loop opens. It only signals the first
// successful connect: the loop keeps reconnecting on its own afterwards.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.done == nil {
		loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		b.cancel = cancel
		b.opened = make(chan struct{})
		b.done = make(chan struct{})
		go b.run(loopCtx, b.opened, b.done)
	}
	opened, done := b.opened, b.done
	b.mu.Unlock()

	select {
	case <-opened:
		return nil
	case <-done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop ends the control loop and waits for the current session to close.
// Credentials are left untouched.
func (b *Bridge) Stop() {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.cancel, b.done, b.opened = nil, nil, nil
	b.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// Disconnect unlinks the account: it asks the remote network to log out if a
// session exists, stops the control loop and erases the credential record.
// The local erase happens even when the remote logout fails; the logout error
// is still returned.
func (b *Bridge) Disconnect(ctx context.Context) error {
	b.mu.RLock()
	sess := b.session
	b.mu.RUnlock()

	var logoutErr error
	if sess != nil {
		logoutErr = sess.Logout(ctx)
		if logoutErr != nil {
			b.log.Warn().Err(logoutErr).Msg("Remote logout failed, erasing local credentials anyway")
		}
	}
	b.Stop()
	if err := b.store.Erase(ctx); err != nil {
		return fmt.Errorf("failed to erase credentials: %w", err)
	}
	b.setStatus(StatusDisconnected)
	b.log.Info().Msg("Unlinked, credentials erased")
	return logoutErr
}

// State returns a snapshot of the status and own identity. It never blocks
// on the network.
func (b *Bridge) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st := State{Status: b.status}
	if b.session != nil {
		st.Device = b.session.OwnAddress()
		if st.Device != "" {
			st.Identity = StripDevice(st.Device)
		}
	}
	return st
}

// Identity returns the account-level own address without any device
// component, or an empty string when no session knows it.
func (b *Bridge) Identity() string {
	return b.State().Identity
}

// OpenSession returns the current session if and only if the bridge is open.
func (b *Bridge) OpenSession() (Session, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.status != StatusOpen || b.session == nil {
		return nil, ErrNotConnected
	}
	return b.session, nil
}

// PairingChallenge returns the latest scannable challenge while pairing.
func (b *Bridge) PairingChallenge() (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.qr, b.qr != ""
}

// RequestPairingCode requests a numeric pairing code for phone. It is only
// possible after the current session issued a pairing challenge.
func (b *Bridge) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	if !IsPhoneNumber(phone) {
		return "", fmt.Errorf("%w: use digits with country code (e.g. 919876543210)", ErrInvalidPhone)
	}
	b.mu.RLock()
	sess, pairing := b.session, b.qr != ""
	b.mu.RUnlock()
	if sess == nil || !pairing {
		return "", ErrNotPairing
	}
	return sess.RequestPairingCode(ctx, phone)
}

func (b *Bridge) setStatus(status Status) {
	b.mu.Lock()
	b.status = status
	b.mu.Unlock()
}

func (b *Bridge) run(ctx context.Context, opened, done chan struct{}) {
	defer close(done)
	var openOnce sync.Once
	markOpened := func() {
		openOnce.Do(func() { close(opened) })
	}

	for ctx.Err() == nil {
		reason, err := b.runSession(ctx, markOpened)
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			b.log.Err(err).Dur("retry_in", b.RetryDelay).Msg("Session failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(b.RetryDelay):
			}
		case reason.Revoked():
			if err := b.store.Erase(ctx); err != nil {
				b.log.Err(err).Msg("Failed to erase revoked credentials")
			}
			b.log.Warn().Stringer("reason", reason).Msg("Logged out, credentials erased. Re-linking")
		default:
			b.log.Info().Stringer("reason", reason).Msg("Disconnected, reconnecting")
		}
	}
}

// runSession drives one session from credential load until it closes. The
// event stream is handled strictly in order; credential mutations are saved
// before the next event is read.
func (b *Bridge) runSession(ctx context.Context, markOpened func()) (CloseReason, error) {
	b.setStatus(StatusConnecting)

	rec, err := b.store.Load(ctx)
	if err != nil {
		return b.setupFailed(fmt.Errorf("failed to load credentials: %w", err))
	}
	defer func() {
		if err := rec.Close(); err != nil {
			b.log.Warn().Err(err).Msg("Failed to close credential record")
		}
	}()

	version, err := b.engine.FetchVersion(ctx)
	if err != nil {
		return b.setupFailed(fmt.Errorf("failed to fetch version: %w", err))
	}
	b.log.Info().Str("version", version).Msg("Connecting to WhatsApp")

	sess, err := b.engine.Open(ctx, version, rec)
	if err != nil {
		return b.setupFailed(fmt.Errorf("failed to open session: %w", err))
	}
	b.mu.Lock()
	b.session = sess
	b.mu.Unlock()

	events := sess.Events()
	for {
		select {
		case <-ctx.Done():
			b.detach(sess)
			return CloseReason{}, ctx.Err()
		case evt, ok := <-events:
			if !ok {
				evt = Event{Type: EventClosed, Reason: CloseReason{Code: CodeConnectionClosed, Message: "event stream ended"}}
			}
			switch evt.Type {
			case EventPairingChallenge:
				b.mu.Lock()
				b.qr = evt.QR
				b.mu.Unlock()
				b.publish(evt)
			case EventCredentialsChanged:
				if err := rec.Save(ctx); err != nil {
					b.detach(sess)
					b.publish(Event{Type: EventClosed, Reason: CloseReason{Message: err.Error()}})
					return CloseReason{}, fmt.Errorf("failed to persist credentials: %w", err)
				}
				b.publish(evt)
			case EventOpened:
				b.mu.Lock()
				b.status = StatusOpen
				b.qr = ""
				b.mu.Unlock()
				b.log.Info().Str("jid", sess.OwnAddress()).Msg("WhatsApp connected")
				b.publish(evt)
				markOpened()
			case EventClosed:
				b.detach(sess)
				b.publish(evt)
				return evt.Reason, nil
			}
		}
	}
}

// setupFailed reports a session that could not be set up as a close
// without a code, so subscribers learn the bridge is retrying.
func (b *Bridge) setupFailed(err error) (CloseReason, error) {
	b.setStatus(StatusDisconnected)
	// A cancelled setup is a stop, not a retry.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CloseReason{}, err
	}
	b.publish(Event{Type: EventClosed, Reason: CloseReason{Message: err.Error()}})
	return CloseReason{}, err
}

// detach closes sess and clears it from the bridge.
func (b *Bridge) detach(sess Session) {
	sess.Close()
	b.mu.Lock()
	if b.session == sess {
		b.session = nil
	}
	b.qr = ""
	b.status = StatusDisconnected
	b.mu.Unlock()
}

// Subscription receives lifecycle events published by the bridge.
type Subscription struct {
	C <-chan Event

	ch     chan Event
	bridge *Bridge
	once   sync.Once
}

// Subscribe registers a new lifecycle event subscriber. Events are dropped
// for subscribers whose buffer is full.
func (b *Bridge) Subscribe() *Subscription {
	ch := make(chan Event, 32)
	sub := &Subscription{C: ch, ch: ch, bridge: b}
	b.subMu.Lock()
	b.subs[sub] = struct{}{}
	b.subMu.Unlock()
	return sub
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bridge.subMu.Lock()
		delete(s.bridge.subs, s)
		close(s.ch)
		s.bridge.subMu.Unlock()
	})
}

func (b *Bridge) publish(evt Event) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	for sub := range b.subs {
		select {
		case sub.ch <- evt:
		default:
			b.log.Warn().Stringer("event", evt.Type).Msg("Subscriber buffer full, dropping event")
		}
	}
}
