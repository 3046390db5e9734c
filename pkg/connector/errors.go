// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when an operation needs an open session.
	ErrNotConnected = errors.New("WhatsApp not connected")
	// ErrInvalidRecipient is returned for recipient strings that are neither
	// a canonical address nor a 10-15 digit phone number.
	ErrInvalidRecipient = errors.New("invalid recipient")
	// ErrInvalidContent is returned when a content kind misses a required field.
	ErrInvalidContent = errors.New("invalid content")
	// ErrContentRequired is returned for unrecognized or empty content.
	ErrContentRequired = errors.New("message content is required")
	// ErrInvalidPhone is returned when a phone number is not 10-15 digits.
	ErrInvalidPhone = errors.New("invalid phone number")
	// ErrIdentityUnknown is returned by self-sends before the own address is
	// known. It matches ErrNotConnected as well.
	ErrIdentityUnknown = fmt.Errorf("%w: own address unknown", ErrNotConnected)
	// ErrNotPairing is returned when a pairing code is requested outside of
	// the pairing phase.
	ErrNotPairing = errors.New("not waiting for pairing")
)

// IsValidationError reports whether err was caused by bad caller input and
// was detected before any network interaction.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRecipient) ||
		errors.Is(err, ErrInvalidContent) ||
		errors.Is(err, ErrContentRequired) ||
		errors.Is(err, ErrInvalidPhone)
}
