// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package waengine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/marketcalls/wabridge/pkg/connector"
)

// ErrMediaTooLarge is returned when a media source exceeds the size limit.
var ErrMediaTooLarge = errors.New("media exceeds size limit")

// ErrLocalFilesDisabled is returned for file sources unless local files
// were allowed. It is a validation error.
var ErrLocalFilesDisabled = fmt.Errorf("%w: local file sources are disabled, use an http(s) URL", connector.ErrInvalidContent)

// fetcher reads media sources. A source is an http(s) URL, or a file:// URL
// or local path when allowLocal is set.
type fetcher struct {
	client     *http.Client
	maxSize    int64
	allowLocal bool
}

func (f *fetcher) fetch(ctx context.Context, source string) ([]byte, string, error) {
	u, err := url.Parse(source)
	if err == nil {
		switch strings.ToLower(u.Scheme) {
		case "http", "https":
			return f.fetchHTTP(ctx, source)
		case "file":
			return f.readLocal(u.Path)
		}
	}
	return f.readLocal(source)
}

func (f *fetcher) readLocal(path string) ([]byte, string, error) {
	if !f.allowLocal {
		return nil, "", ErrLocalFilesDisabled
	}
	return f.readFile(path)
}

func (f *fetcher) fetchHTTP(ctx context.Context, source string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to prepare media request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("failed to fetch media: unexpected status %s", resp.Status)
	}
	if f.maxSize > 0 && resp.ContentLength > f.maxSize {
		return nil, "", ErrMediaTooLarge
	}
	body := io.Reader(resp.Body)
	if f.maxSize > 0 {
		body = io.LimitReader(resp.Body, f.maxSize+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read media: %w", err)
	}
	if f.maxSize > 0 && int64(len(data)) > f.maxSize {
		return nil, "", ErrMediaTooLarge
	}
	return data, detectMimeType(resp.Header.Get("Content-Type"), source, data), nil
}

func (f *fetcher) readFile(path string) ([]byte, string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read media: %w", err)
	} else if info.IsDir() {
		return nil, "", fmt.Errorf("failed to read media: %s is a directory", path)
	} else if f.maxSize > 0 && info.Size() > f.maxSize {
		return nil, "", ErrMediaTooLarge
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read media: %w", err)
	}
	return data, detectMimeType("", path, data), nil
}

// detectMimeType prefers the declared type, then the file extension, then
// content sniffing.
func detectMimeType(declared, name string, data []byte) string {
	if declared != "" {
		if mediaType, params, err := mime.ParseMediaType(declared); err == nil && mediaType != "application/octet-stream" {
			return mime.FormatMediaType(mediaType, params)
		}
	}
	if u, err := url.Parse(name); err == nil && u.Path != "" {
		name = u.Path
	}
	if byExt := mime.TypeByExtension(filepath.Ext(name)); byExt != "" {
		return byExt
	}
	return http.DetectContentType(data)
}
