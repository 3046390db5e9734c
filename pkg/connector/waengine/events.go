// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package waengine

import (
	"fmt"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/marketcalls/wabridge/pkg/connector"
)

func closed(code int, msg string) connector.Event {
	return connector.Event{
		Type:   connector.EventClosed,
		Reason: connector.CloseReason{Code: code, Message: msg},
	}
}

// translateEvent maps whatsmeow events onto lifecycle events. Events that
// do not affect the connection lifecycle are dropped.
func translateEvent(evt any) (connector.Event, bool) {
	switch e := evt.(type) {
	case *events.Connected:
		return connector.Event{Type: connector.EventOpened}, true
	case *events.PairSuccess:
		return connector.Event{Type: connector.EventCredentialsChanged}, true
	case *events.LoggedOut:
		code := int(e.Reason)
		if !e.Reason.IsLoggedOut() {
			code = connector.CodeLoggedOut
		}
		return closed(code, fmt.Sprintf("logged out (reason %d)", int(e.Reason))), true
	case *events.ConnectFailure:
		return closed(int(e.Reason), e.Message), true
	case *events.TemporaryBan:
		return closed(int(events.ConnectFailureTempBanned), fmt.Sprintf("temporary ban: %v", e)), true
	case *events.ClientOutdated:
		return closed(int(events.ConnectFailureClientOutdated), "client outdated"), true
	case *events.StreamReplaced:
		return closed(connector.CodeConnectionReplaced, "connection replaced"), true
	case *events.StreamError:
		return closed(connector.CodeConnectionClosed, "stream error: "+e.Code), true
	case *events.Disconnected:
		return closed(connector.CodeConnectionLost, "connection lost"), true
	default:
		return connector.Event{}, false
	}
}

// translateQRItem maps items of the QR channel. A timed out or failed
// pairing attempt closes the session so the bridge starts a fresh one.
func translateQRItem(item whatsmeow.QRChannelItem) (connector.Event, bool) {
	switch item.Event {
	case whatsmeow.QRChannelEventCode:
		return connector.Event{Type: connector.EventPairingChallenge, QR: item.Code}, true
	case whatsmeow.QRChannelSuccess.Event:
		return connector.Event{}, false
	case whatsmeow.QRChannelTimeout.Event:
		return closed(connector.CodeConnectionLost, "pairing timed out"), true
	case whatsmeow.QRChannelEventError:
		msg := "pairing failed"
		if item.Error != nil {
			msg += ": " + item.Error.Error()
		}
		return closed(connector.CodeConnectionClosed, msg), true
	default:
		return closed(connector.CodeConnectionClosed, "pairing failed: "+item.Event), true
	}
}
