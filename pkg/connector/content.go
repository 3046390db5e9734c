// Copyright 2024-2026 Aiku AI

package connector

import "fmt"

// ContentKind is the tag of a Content value.
type ContentKind string

const (
	KindText     ContentKind = "text"
	KindImage    ContentKind = "image"
	KindVideo    ContentKind = "video"
	KindAudio    ContentKind = "audio"
	KindDocument ContentKind = "document"
)

// Content is the caller-supplied description of an outbound message.
// Which fields apply depends on Kind.
type Content struct {
	Kind ContentKind

	// Text is the body of a text message.
	Text string
	// URL locates the media of image, video, audio and document messages.
	URL string

	Caption   *string
	VoiceNote *bool
	MimeType  string
	FileName  *string
}

// TextContent is a shorthand for a text message.
func TextContent(body string) Content {
	return Content{Kind: KindText, Text: body}
}

// Payload is the canonical wire shape handed to the protocol engine.
type Payload struct {
	Kind ContentKind

	Text      string
	Source    string
	Caption   *string
	VoiceNote bool
	MimeType  string
	FileName  *string
}

// NormalizeContent validates content and converts it to its wire shape.
// Audio defaults to a voice note when the caller does not say otherwise.
func NormalizeContent(c Content) (*Payload, error) {
	switch c.Kind {
	case KindText:
		if c.Text == "" {
			return nil, ErrContentRequired
		}
		return &Payload{Kind: KindText, Text: c.Text}, nil
	case KindImage, KindVideo:
		if c.URL == "" {
			return nil, fmt.Errorf("%w: %s requires a source url", ErrInvalidContent, c.Kind)
		}
		return &Payload{Kind: c.Kind, Source: c.URL, Caption: c.Caption}, nil
	case KindAudio:
		if c.URL == "" {
			return nil, fmt.Errorf("%w: audio requires a source url", ErrInvalidContent)
		}
		voiceNote := true
		if c.VoiceNote != nil {
			voiceNote = *c.VoiceNote
		}
		return &Payload{Kind: KindAudio, Source: c.URL, VoiceNote: voiceNote}, nil
	case KindDocument:
		if c.URL == "" {
			return nil, fmt.Errorf("%w: document requires a source url", ErrInvalidContent)
		}
		if c.MimeType == "" {
			return nil, fmt.Errorf("%w: document requires a mimetype", ErrInvalidContent)
		}
		return &Payload{
			Kind:     KindDocument,
			Source:   c.URL,
			MimeType: c.MimeType,
			FileName: c.FileName,
			Caption:  c.Caption,
		}, nil
	default:
		return nil, ErrContentRequired
	}
}
