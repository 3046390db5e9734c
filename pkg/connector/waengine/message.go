// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package waengine

import (
	"context"
	"fmt"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"

	"github.com/marketcalls/wabridge/pkg/connector"
)

const voiceNoteMimeType = "audio/ogg; codecs=opus"

func mediaTypeFor(kind connector.ContentKind) (whatsmeow.MediaType, error) {
	switch kind {
	case connector.KindImage:
		return whatsmeow.MediaImage, nil
	case connector.KindVideo:
		return whatsmeow.MediaVideo, nil
	case connector.KindAudio:
		return whatsmeow.MediaAudio, nil
	case connector.KindDocument:
		return whatsmeow.MediaDocument, nil
	default:
		return "", fmt.Errorf("%w: unsupported kind %q", connector.ErrInvalidContent, kind)
	}
}

// buildMessage turns a normalized payload into a wire message, uploading
// the media source first when there is one. Channels take unencrypted
// uploads referenced by handle.
func (s *session) buildMessage(ctx context.Context, jid types.JID, p *connector.Payload) (*waE2E.Message, []whatsmeow.SendRequestExtra, error) {
	if p.Kind == connector.KindText {
		return &waE2E.Message{Conversation: proto.String(p.Text)}, nil, nil
	}
	mediaType, err := mediaTypeFor(p.Kind)
	if err != nil {
		return nil, nil, err
	}
	data, detected, err := s.engine.media.fetch(ctx, p.Source)
	if err != nil {
		return nil, nil, err
	}
	var resp whatsmeow.UploadResponse
	var extra []whatsmeow.SendRequestExtra
	if jid.Server == types.NewsletterServer {
		resp, err = s.client.UploadNewsletter(ctx, data, mediaType)
		if err == nil {
			extra = append(extra, whatsmeow.SendRequestExtra{MediaHandle: resp.Handle})
		}
	} else {
		resp, err = s.client.Upload(ctx, data, mediaType)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to upload media: %w", err)
	}
	s.log.Debug().
		Str("kind", string(p.Kind)).
		Uint64("size", resp.FileLength).
		Str("mime_type", detected).
		Msg("Uploaded media")
	return mediaMessage(p, detected, resp), extra, nil
}

// mediaMessage builds the media message for an uploaded payload. The
// payload's own MIME type wins over the detected one.
func mediaMessage(p *connector.Payload, detected string, resp whatsmeow.UploadResponse) *waE2E.Message {
	mimeType := detected
	if p.MimeType != "" {
		mimeType = p.MimeType
	}
	switch p.Kind {
	case connector.KindImage:
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			URL:           proto.String(resp.URL),
			DirectPath:    proto.String(resp.DirectPath),
			Mimetype:      proto.String(mimeType),
			Caption:       p.Caption,
			MediaKey:      resp.MediaKey,
			FileSHA256:    resp.FileSHA256,
			FileEncSHA256: resp.FileEncSHA256,
			FileLength:    proto.Uint64(resp.FileLength),
		}}
	case connector.KindVideo:
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			URL:           proto.String(resp.URL),
			DirectPath:    proto.String(resp.DirectPath),
			Mimetype:      proto.String(mimeType),
			Caption:       p.Caption,
			MediaKey:      resp.MediaKey,
			FileSHA256:    resp.FileSHA256,
			FileEncSHA256: resp.FileEncSHA256,
			FileLength:    proto.Uint64(resp.FileLength),
		}}
	case connector.KindAudio:
		if p.VoiceNote {
			mimeType = voiceNoteMimeType
		}
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			URL:           proto.String(resp.URL),
			DirectPath:    proto.String(resp.DirectPath),
			Mimetype:      proto.String(mimeType),
			PTT:           proto.Bool(p.VoiceNote),
			MediaKey:      resp.MediaKey,
			FileSHA256:    resp.FileSHA256,
			FileEncSHA256: resp.FileEncSHA256,
			FileLength:    proto.Uint64(resp.FileLength),
		}}
	case connector.KindDocument:
		doc := &waE2E.DocumentMessage{
			URL:           proto.String(resp.URL),
			DirectPath:    proto.String(resp.DirectPath),
			Mimetype:      proto.String(mimeType),
			Caption:       p.Caption,
			MediaKey:      resp.MediaKey,
			FileSHA256:    resp.FileSHA256,
			FileEncSHA256: resp.FileEncSHA256,
			FileLength:    proto.Uint64(resp.FileLength),
		}
		if p.FileName != nil {
			doc.FileName = p.FileName
			doc.Title = p.FileName
		}
		return &waE2E.Message{DocumentMessage: doc}
	default:
		return nil
	}
}
