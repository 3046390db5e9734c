// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package api

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/marketcalls/wabridge/pkg/connector"
	"github.com/marketcalls/wabridge/pkg/connector/connectortest"
)

// harness runs the API against a real bridge driven by a fake engine.
type harness struct {
	t      *testing.T
	bridge *connector.Bridge
	engine *connectortest.Engine
	store  *connectortest.Store
	server *Server
	http   *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		engine: connectortest.NewEngine(),
		store:  &connectortest.Store{},
	}
	h.bridge = connector.NewBridge(h.engine, h.store, zerolog.Nop())
	h.server = NewServer(h.bridge, connector.NewDispatcher(h.bridge, zerolog.Nop()), zerolog.Nop())
	h.http = httptest.NewServer(h.server.Handler())
	t.Cleanup(h.http.Close)
	t.Cleanup(h.bridge.Stop)
	return h
}

func (h *harness) open(own string) *connectortest.Session {
	h.t.Helper()
	return connectortest.Open(h.t, h.bridge, h.engine, own)
}

func (h *harness) pairing(qr string) *connectortest.Session {
	h.t.Helper()
	return connectortest.Pairing(h.t, h.bridge, h.engine, qr)
}

func (h *harness) do(method, path, body string) (*http.Response, gjson.Result) {
	h.t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, h.http.URL+path, reader)
	require.NoError(h.t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := h.http.Client().Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(h.t, err)
	return resp, gjson.ParseBytes(data)
}
