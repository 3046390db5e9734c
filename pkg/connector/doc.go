// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package connector implements the connection bridge between this process
// and the WhatsApp network.
//
// The wire protocol, handshake and device pairing are delegated to an
// [Engine]. The package owns everything around it: keeping exactly one
// session alive, reconnecting, and erasing credentials when the remote side
// revokes them.
//
// # Core Types
//
// [Bridge] owns the single session and drives its lifecycle as an explicit
// control loop: load credentials, fetch the engine version, open a session,
// consume its events in order until it closes, then start over. A close
// carrying a revocation code erases the [CredentialStore] first, so the next
// round pairs from scratch. Lifecycle events are republished to subscribers
// (see [Bridge.Subscribe]).
//
// [Dispatcher] is the only path by which outbound messages reach the bridge.
// It checks the bridge is open, resolves the recipient with
// [ResolveRecipient] and normalizes the content with [NormalizeContent]
// before handing the pair to the session.
//
// # Sub-packages
//
//   - waengine implements [Engine] on top of whatsmeow.
//   - credstore implements [CredentialStore] as a directory holding the
//     engine's sqlite store.
package connector
