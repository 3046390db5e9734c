// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"
	"go.mau.fi/util/ptr"

	"github.com/marketcalls/wabridge/pkg/connector"
)

// maxBodySize is the maximum allowed request body (1 MB). Media is passed
// by reference, so bodies stay small.
const maxBodySize = 1 << 20

var (
	errInvalidBody     = errors.New("request body must be a JSON object")
	errBodyTooLarge    = errors.New("request body too large")
	errMissingContent  = fmt.Errorf("%w (message, image, video, audio, or document)", connector.ErrContentRequired)
	errInvalidPhoneMsg = fmt.Errorf("%w. Use digits with country code (e.g. 919876543210)", connector.ErrInvalidPhone)
)

// readBody reads and validates a JSON object body.
func readBody(w http.ResponseWriter, r *http.Request) (gjson.Result, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return gjson.Result{}, errBodyTooLarge
		}
		return gjson.Result{}, fmt.Errorf("failed to read body: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, errInvalidBody
	}
	res := gjson.ParseBytes(body)
	if !res.IsObject() {
		return gjson.Result{}, errInvalidBody
	}
	return res, nil
}

// present reports whether a field carries a usable value. Missing fields,
// nulls, false and empty strings do not count.
func present(v gjson.Result) bool {
	switch v.Type {
	case gjson.String:
		return v.Str != ""
	case gjson.Number, gjson.True, gjson.JSON:
		return true
	default:
		return false
	}
}

func optionalString(v gjson.Result) *string {
	if !v.Exists() || v.Type == gjson.Null {
		return nil
	}
	return ptr.Ptr(v.String())
}

// parseContent picks the message content out of a send body. Media fields
// win over text, in the order image, video, audio, document. A document
// without a mimetype is not usable content.
func parseContent(body gjson.Result) (connector.Content, bool) {
	caption := optionalString(body.Get("caption"))
	if v := body.Get("image"); present(v) {
		return connector.Content{Kind: connector.KindImage, URL: v.String(), Caption: caption}, true
	}
	if v := body.Get("video"); present(v) {
		return connector.Content{Kind: connector.KindVideo, URL: v.String(), Caption: caption}, true
	}
	if v := body.Get("audio"); present(v) {
		content := connector.Content{Kind: connector.KindAudio, URL: v.String()}
		if ptt := body.Get("ptt"); ptt.Exists() && ptt.Type != gjson.Null {
			content.VoiceNote = ptr.Ptr(ptt.Bool())
		}
		return content, true
	}
	if v := body.Get("document"); present(v) {
		mimeType := body.Get("mimetype")
		if !present(mimeType) {
			return connector.Content{}, false
		}
		return connector.Content{
			Kind:     connector.KindDocument,
			URL:      v.String(),
			MimeType: mimeType.String(),
			FileName: optionalString(body.Get("fileName")),
			Caption:  caption,
		}, true
	}
	if v := body.Get("message"); present(v) {
		return connector.TextContent(v.String()), true
	}
	return connector.Content{}, false
}
