// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package waengine

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types"

	"github.com/marketcalls/wabridge/pkg/connector"
)

// pairingDisplayName must have the "Browser (OS)" form.
const pairingDisplayName = "Chrome (Linux)"

type session struct {
	client *whatsmeow.Client
	engine *Engine
	log    zerolog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	handlerID uint32

	mu        sync.Mutex
	closed    bool
	events    chan connector.Event
	closeOnce sync.Once
}

var _ connector.Session = (*session)(nil)

func newSession(client *whatsmeow.Client, engine *Engine) *session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		client: client,
		engine: engine,
		log:    engine.log,
		ctx:    ctx,
		cancel: cancel,
		events: make(chan connector.Event, 16),
	}
	s.handlerID = client.AddEventHandler(s.handleEvent)
	return s
}

func (s *session) Events() <-chan connector.Event {
	return s.events
}

// emit delivers evt in order, giving up once the session is closed.
func (s *session) emit(evt connector.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- evt:
	case <-s.ctx.Done():
	}
}

func (s *session) handleEvent(rawEvt any) {
	evt, ok := translateEvent(rawEvt)
	if !ok {
		return
	}
	s.log.Debug().Stringer("event", evt.Type).Type("raw_type", rawEvt).Msg("Session event")
	s.emit(evt)
}

func (s *session) forwardQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		evt, ok := translateQRItem(item)
		if ok {
			s.emit(evt)
		}
	}
}

func (s *session) Send(ctx context.Context, to string, payload *connector.Payload) error {
	jid, err := types.ParseJID(to)
	if err != nil {
		return fmt.Errorf("%w: %v", connector.ErrInvalidRecipient, err)
	}
	msg, extra, err := s.buildMessage(ctx, jid, payload)
	if err != nil {
		return err
	}
	resp, err := s.client.SendMessage(ctx, jid, msg, extra...)
	if err != nil {
		return err
	}
	s.log.Debug().Str("to", jid.String()).Str("message_id", resp.ID).Msg("Message sent")
	return nil
}

func (s *session) Logout(ctx context.Context) error {
	return s.client.Logout(ctx)
}

func (s *session) ListGroups(ctx context.Context) ([]connector.Group, error) {
	groups, err := s.client.GetJoinedGroups(ctx)
	if err != nil {
		return nil, err
	}
	return convertGroups(groups), nil
}

func (s *session) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	return s.client.PairPhone(ctx, phone, true, whatsmeow.PairClientChrome, pairingDisplayName)
}

func (s *session) OwnAddress() string {
	id := s.client.Store.ID
	if id == nil {
		return ""
	}
	return id.String()
}

func (s *session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.client.RemoveEventHandler(s.handlerID)
		s.client.Disconnect()
		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()
	})
}

func convertGroups(groups []*types.GroupInfo) []connector.Group {
	out := make([]connector.Group, 0, len(groups))
	for _, g := range groups {
		group := connector.Group{
			ID:      g.JID.String(),
			Subject: g.Name,
			Size:    len(g.Participants),
		}
		if g.Topic != "" {
			topic := g.Topic
			group.Description = &topic
		}
		out = append(out, group)
	}
	return out
}
