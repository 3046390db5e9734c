// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/hlog"

	"github.com/marketcalls/wabridge/pkg/connector"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// eventMessage is the JSON shape of a lifecycle event on /events.
type eventMessage struct {
	Type     string `json:"type"`
	Status   string `json:"status,omitempty"`
	Identity string `json:"identity,omitempty"`
	QR       string `json:"qr,omitempty"`
	Code     int    `json:"code,omitempty"`
	Message  string `json:"message,omitempty"`
	Revoked  bool   `json:"revoked,omitempty"`
}

func statusMessage(st connector.State) eventMessage {
	return eventMessage{Type: "status", Status: st.Status.String(), Identity: st.Identity}
}

func lifecycleMessage(evt connector.Event) eventMessage {
	msg := eventMessage{Type: evt.Type.String()}
	switch evt.Type {
	case connector.EventPairingChallenge:
		msg.QR = evt.QR
	case connector.EventClosed:
		msg.Code = evt.Reason.Code
		msg.Message = evt.Reason.Message
		msg.Revoked = evt.Reason.Revoked()
	}
	return msg
}

// handleEvents streams lifecycle events over a websocket, starting with a
// snapshot of the current state.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := s.bridge.Subscribe()
	defer sub.Close()

	// Reads only serve to notice the peer going away and to handle pongs.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debug().Err(err).Msg("Websocket read error")
				}
				return
			}
		}
	}()

	write := func(msg eventMessage) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(msg); err != nil {
			log.Debug().Err(err).Msg("Websocket write failed")
			return false
		}
		return true
	}
	if !write(statusMessage(s.bridge.State())) {
		return
	}

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case evt, ok := <-sub.C:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(wsWriteWait))
				return
			}
			if !write(lifecycleMessage(evt)) {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
