// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package qrrender renders pairing challenges as scannable QR codes, either
// as block characters on a terminal or as PNG images for the HTTP API.
package qrrender

import (
	"errors"
	"fmt"
	"io"

	"github.com/mdp/qrterminal/v3"
	"github.com/skip2/go-qrcode"
)

// DefaultPNGSize is the edge length of rendered PNG images, in pixels.
const DefaultPNGSize = 256

// ErrEmptyChallenge is returned when there is nothing to render.
var ErrEmptyChallenge = errors.New("empty pairing challenge")

// Renderer writes a pairing challenge to w in some scannable form.
type Renderer interface {
	Render(w io.Writer, challenge string) error
}

// Terminal renders half-block QR codes for terminals.
type Terminal struct{}

var _ Renderer = Terminal{}

func (Terminal) Render(w io.Writer, challenge string) error {
	if challenge == "" {
		return ErrEmptyChallenge
	}
	qrterminal.GenerateHalfBlock(challenge, qrterminal.L, w)
	return nil
}

// PNG renders QR codes as PNG images.
type PNG struct {
	// Size is the edge length in pixels. Zero means DefaultPNGSize.
	Size int
}

var _ Renderer = PNG{}

func (p PNG) Render(w io.Writer, challenge string) error {
	data, err := p.Encode(challenge)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Encode returns the PNG image for challenge.
func (p PNG) Encode(challenge string) ([]byte, error) {
	if challenge == "" {
		return nil, ErrEmptyChallenge
	}
	size := p.Size
	if size <= 0 {
		size = DefaultPNGSize
	}
	data, err := qrcode.Encode(challenge, qrcode.Low, size)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}
	return data, nil
}
