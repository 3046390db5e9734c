// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"fmt"
)

// Engine is the protocol engine that owns the wire protocol, handshake and
// multi-device mechanics. The bridge only opens sessions on it and consumes
// their event streams.
type Engine interface {
	// FetchVersion returns the engine's current client version descriptor.
	FetchVersion(ctx context.Context) (string, error)
	// Open creates a new session for the given credentials and starts
	// connecting. Events for the session are delivered on Session.Events.
	Open(ctx context.Context, version string, creds CredentialRecord) (Session, error)
}

// Session is one handshaking or handshake-complete connection.
type Session interface {
	// Events returns the ordered event stream of this session. The channel
	// is closed once the session is closed.
	Events() <-chan Event
	// Send delivers a normalized payload to a canonical address.
	Send(ctx context.Context, to string, payload *Payload) error
	// Logout asks the remote network to unlink this device.
	Logout(ctx context.Context) error
	// ListGroups returns the groups the account participates in.
	ListGroups(ctx context.Context) ([]Group, error)
	// RequestPairingCode requests a numeric code for linking by phone number.
	RequestPairingCode(ctx context.Context, phone string) (string, error)
	// OwnAddress returns the session's own (device-specific) address, or an
	// empty string before the account is known.
	OwnAddress() string
	// Close tears down the connection. It is safe to call more than once.
	Close()
}

// CredentialRecord is the durable key and session material of the linked
// account. Its contents are opaque to the bridge.
type CredentialRecord interface {
	// Save flushes pending credential mutations to durable storage.
	Save(ctx context.Context) error
	// Close releases the handle without erasing anything.
	Close() error
}

// CredentialStore is the directory-backed persistence provider.
type CredentialStore interface {
	// Load opens the record, creating an empty one if none exists.
	Load(ctx context.Context) (CredentialRecord, error)
	// Erase deletes the whole record.
	Erase(ctx context.Context) error
}

// Group is a joined group as listed by ListGroups.
type Group struct {
	ID          string  `json:"id"`
	Subject     string  `json:"subject"`
	Size        int     `json:"size"`
	Description *string `json:"desc"`
}

// EventType identifies a lifecycle event.
type EventType int

const (
	EventPairingChallenge EventType = iota
	EventOpened
	EventClosed
	EventCredentialsChanged
)

func (t EventType) String() string {
	switch t {
	case EventPairingChallenge:
		return "pairing_challenge"
	case EventOpened:
		return "opened"
	case EventClosed:
		return "closed"
	case EventCredentialsChanged:
		return "credentials_changed"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Event is a tagged lifecycle event emitted by a session.
type Event struct {
	Type EventType
	// QR is the scannable challenge payload for EventPairingChallenge.
	QR string
	// Reason is set for EventClosed.
	Reason CloseReason
}

// Close codes carried by EventClosed.
const (
	CodeLoggedOut          = 401
	CodeMainDeviceGone     = 403
	CodeUnknownLogout      = 406
	CodeConnectionLost     = 408
	CodeConnectionClosed   = 428
	CodeConnectionReplaced = 440
	CodeRestartRequired    = 515
)

// CloseReason describes why a session closed. A zero Code means the engine
// did not report one.
type CloseReason struct {
	Code    int
	Message string
}

// Revoked reports whether the remote network invalidated the credentials.
// Every other close is treated as transient.
func (r CloseReason) Revoked() bool {
	switch r.Code {
	case CodeLoggedOut, CodeMainDeviceGone, CodeUnknownLogout:
		return true
	default:
		return false
	}
}

func (r CloseReason) String() string {
	if r.Message == "" {
		return fmt.Sprintf("code %d", r.Code)
	}
	return fmt.Sprintf("code %d: %s", r.Code, r.Message)
}
