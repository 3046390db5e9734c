// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// sessionSource is the part of the Bridge the dispatcher depends on. Tests
// substitute a stub.
type sessionSource interface {
	OpenSession() (Session, error)
	Identity() string
}

var _ sessionSource = (*Bridge)(nil)

// Dispatcher is the only path by which outbound sends reach the bridge.
// Sends are not serialized against each other.
type Dispatcher struct {
	bridge sessionSource
	log    zerolog.Logger
}

// NewDispatcher creates a dispatcher on top of bridge.
func NewDispatcher(bridge *Bridge, log zerolog.Logger) *Dispatcher {
	return newDispatcher(bridge, log)
}

func newDispatcher(src sessionSource, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		bridge: src,
		log:    log.With().Str("component", "dispatch").Logger(),
	}
}

// SendTo sends content to any recipient the resolver accepts and returns the
// canonical address that was used. Errors from the session are returned
// unmodified and never retried.
func (d *Dispatcher) SendTo(ctx context.Context, to string, content Content) (string, error) {
	sess, err := d.bridge.OpenSession()
	if err != nil {
		return "", err
	}
	addr, err := ResolveRecipient(to)
	if err != nil {
		return "", err
	}
	return d.deliver(ctx, sess, addr, content)
}

// SendToSelf sends content to the account's own address.
func (d *Dispatcher) SendToSelf(ctx context.Context, content Content) (string, error) {
	sess, err := d.bridge.OpenSession()
	if err != nil {
		return "", err
	}
	self := d.bridge.Identity()
	if self == "" {
		return "", ErrIdentityUnknown
	}
	return d.deliver(ctx, sess, self, content)
}

// SendToPhone sends content to a direct contact given as a bare phone number.
func (d *Dispatcher) SendToPhone(ctx context.Context, phone string, content Content) (string, error) {
	if !IsPhoneNumber(phone) {
		return "", fmt.Errorf("%w: use digits with country code (e.g. 919876543210)", ErrInvalidPhone)
	}
	return d.SendTo(ctx, phone, content)
}

// SendToGroup sends content to a group address ending in GroupSuffix.
func (d *Dispatcher) SendToGroup(ctx context.Context, groupID string, content Content) (string, error) {
	if !IsGroupAddress(groupID) {
		return "", fmt.Errorf("%w: groupId must end with %s", ErrInvalidRecipient, GroupSuffix)
	}
	return d.SendTo(ctx, groupID, content)
}

// SendToChannel sends content to a channel address ending in ChannelSuffix.
func (d *Dispatcher) SendToChannel(ctx context.Context, channelID string, content Content) (string, error) {
	if !IsChannelAddress(channelID) {
		return "", fmt.Errorf("%w: channelId must end with %s", ErrInvalidRecipient, ChannelSuffix)
	}
	return d.SendTo(ctx, channelID, content)
}

// ListGroups lists the groups the linked account has joined.
func (d *Dispatcher) ListGroups(ctx context.Context) ([]Group, error) {
	sess, err := d.bridge.OpenSession()
	if err != nil {
		return nil, err
	}
	return sess.ListGroups(ctx)
}

func (d *Dispatcher) deliver(ctx context.Context, sess Session, addr string, content Content) (string, error) {
	payload, err := NormalizeContent(content)
	if err != nil {
		return "", err
	}
	if err := sess.Send(ctx, addr, payload); err != nil {
		d.log.Warn().Err(err).Str("to", addr).Str("kind", string(payload.Kind)).Msg("Send failed")
		return "", err
	}
	d.log.Debug().Str("to", addr).Str("kind", string(payload.Kind)).Msg("Sent message")
	return addr, nil
}
