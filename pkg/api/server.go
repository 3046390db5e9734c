// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package api exposes the bridge over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"go.mau.fi/util/exhttp"

	"github.com/marketcalls/wabridge/pkg/connector"
	"github.com/marketcalls/wabridge/pkg/qrrender"
)

// Bridge is the part of connector.Bridge the API depends on.
type Bridge interface {
	State() connector.State
	PairingChallenge() (string, bool)
	RequestPairingCode(ctx context.Context, phone string) (string, error)
	Disconnect(ctx context.Context) error
	Subscribe() *connector.Subscription
}

// Dispatcher is the part of connector.Dispatcher the API depends on.
type Dispatcher interface {
	SendToSelf(ctx context.Context, content connector.Content) (string, error)
	SendToPhone(ctx context.Context, phone string, content connector.Content) (string, error)
	SendToGroup(ctx context.Context, groupID string, content connector.Content) (string, error)
	SendToChannel(ctx context.Context, channelID string, content connector.Content) (string, error)
	ListGroups(ctx context.Context) ([]connector.Group, error)
}

var (
	_ Bridge     = (*connector.Bridge)(nil)
	_ Dispatcher = (*connector.Dispatcher)(nil)
)

// route is one entry of the route table. Routes without a description are
// left out of the startup banner.
type route struct {
	Method      string
	Path        string
	Description string
	handler     func(s *Server, w http.ResponseWriter, r *http.Request)
}

var routes = []route{
	{http.MethodGet, "/status", "Connection status", (*Server).handleStatus},
	{http.MethodGet, "/groups", "List groups", (*Server).handleGroups},
	{http.MethodPost, "/send", "Send to phone number", (*Server).handleSend},
	{http.MethodPost, "/send/self", "Send to yourself", (*Server).handleSendSelf},
	{http.MethodPost, "/send/group", "Send to group", (*Server).handleSendGroup},
	{http.MethodPost, "/send/channel", "Send to channel", (*Server).handleSendChannel},
	{http.MethodGet, "/pair", "Pending pairing challenge", (*Server).handlePair},
	{http.MethodGet, "/pair/qr.png", "Pairing QR code", (*Server).handlePairQR},
	{http.MethodPost, "/pair/code", "Request pairing code", (*Server).handlePairCode},
	{http.MethodPost, "/unlink", "Unlink and erase auth", (*Server).handleUnlink},
	{http.MethodGet, "/events", "Lifecycle events (websocket)", (*Server).handleEvents},
}

// Server serves the HTTP API.
type Server struct {
	bridge   Bridge
	dispatch Dispatcher
	log      zerolog.Logger
	router   *mux.Router
	qr       qrrender.PNG
	upgrader websocket.Upgrader

	// OnUnlink is called after a successful unlink.
	OnUnlink func()
}

// NewServer creates a server and registers all routes.
func NewServer(bridge Bridge, dispatch Dispatcher, log zerolog.Logger) *Server {
	s := &Server{
		bridge:   bridge,
		dispatch: dispatch,
		log:      log.With().Str("component", "api").Logger(),
		router:   mux.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	for _, rt := range routes {
		handler := rt.handler
		s.router.HandleFunc(rt.Path, func(w http.ResponseWriter, r *http.Request) {
			handler(s, w, r)
		}).Methods(rt.Method)
	}
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeErrorMessage(w, http.StatusNotFound, "not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return s
}

// Handler returns the router wrapped in request logging.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.router
	h = hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Request handled")
	})(h)
	h = hlog.RemoteAddrHandler("remote_addr")(h)
	h = hlog.RequestIDHandler("req_id", "X-Request-Id")(h)
	return hlog.NewHandler(s.log)(h)
}

// ListenAndServe serves the API until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, cfg connector.APIConfig) error {
	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.log.Warn().Err(err).Msg("HTTP API shutdown error")
		}
	}()
	s.log.Info().Str("addr", cfg.ListenAddr).Msg("Starting HTTP API")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
}

type sendResponse struct {
	Success bool   `json:"success"`
	To      string `json:"to"`
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	exhttp.WriteJSONResponse(w, status, errorResponse{Error: msg})
}

// errorStatus maps an error to its HTTP status: bad input is 400, a missing
// connection is 503 and anything the session rejected is 500.
func errorStatus(err error) int {
	switch {
	case connector.IsValidationError(err), errors.Is(err, errInvalidBody):
		return http.StatusBadRequest
	case errors.Is(err, errBodyTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, connector.ErrNotConnected):
		return http.StatusServiceUnavailable
	case errors.Is(err, connector.ErrNotPairing):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		hlog.FromRequest(r).Err(err).Str("path", r.URL.Path).Msg("Request failed")
	}
	writeErrorMessage(w, status, err.Error())
}
