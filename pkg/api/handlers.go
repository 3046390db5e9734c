// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package api

import (
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
	"go.mau.fi/util/exhttp"

	"github.com/marketcalls/wabridge/pkg/connector"
)

type statusResponse struct {
	Status   connector.Status `json:"status"`
	User     *string          `json:"user"`
	Identity string           `json:"identity,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.bridge.State()
	resp := statusResponse{Status: st.Status, Identity: st.Identity}
	if st.Device != "" {
		resp.User = &st.Device
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, resp)
}

type groupsResponse struct {
	Groups []connector.Group `json:"groups"`
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.dispatch.ListGroups(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if groups == nil {
		groups = []connector.Group{}
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, groupsResponse{Groups: groups})
}

// readSend reads a send body and its content. It writes the error response
// itself and returns false when the request cannot proceed.
func (s *Server) readSend(w http.ResponseWriter, r *http.Request, recipientField string, check func(string) error) (gjson.Result, connector.Content, bool) {
	body, err := readBody(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return body, connector.Content{}, false
	}
	if recipientField != "" {
		recipient := body.Get(recipientField).String()
		if recipient == "" {
			writeErrorMessage(w, http.StatusBadRequest, recipientField+" is required")
			return body, connector.Content{}, false
		}
		if err = check(recipient); err != nil {
			s.writeError(w, r, err)
			return body, connector.Content{}, false
		}
	}
	content, ok := parseContent(body)
	if !ok {
		s.writeError(w, r, errMissingContent)
		return body, connector.Content{}, false
	}
	return body, content, true
}

func checkPhone(phone string) error {
	if !connector.IsPhoneNumber(phone) {
		return errInvalidPhoneMsg
	}
	return nil
}

func checkSuffix(field, suffix string, match func(string) bool) func(string) error {
	return func(addr string) error {
		if !match(addr) {
			return fmt.Errorf("%w: %s must end with %s", connector.ErrInvalidRecipient, field, suffix)
		}
		return nil
	}
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	body, content, ok := s.readSend(w, r, "phone", checkPhone)
	if !ok {
		return
	}
	phone := body.Get("phone").String()
	if _, err := s.dispatch.SendToPhone(r.Context(), phone, content); err != nil {
		s.writeError(w, r, err)
		return
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, sendResponse{Success: true, To: phone})
}

func (s *Server) handleSendSelf(w http.ResponseWriter, r *http.Request) {
	_, content, ok := s.readSend(w, r, "", nil)
	if !ok {
		return
	}
	if _, err := s.dispatch.SendToSelf(r.Context(), content); err != nil {
		s.writeError(w, r, err)
		return
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, sendResponse{Success: true, To: "self"})
}

func (s *Server) handleSendGroup(w http.ResponseWriter, r *http.Request) {
	body, content, ok := s.readSend(w, r, "groupId", checkSuffix("groupId", connector.GroupSuffix, connector.IsGroupAddress))
	if !ok {
		return
	}
	to, err := s.dispatch.SendToGroup(r.Context(), body.Get("groupId").String(), content)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, sendResponse{Success: true, To: to})
}

func (s *Server) handleSendChannel(w http.ResponseWriter, r *http.Request) {
	body, content, ok := s.readSend(w, r, "channelId", checkSuffix("channelId", connector.ChannelSuffix, connector.IsChannelAddress))
	if !ok {
		return
	}
	to, err := s.dispatch.SendToChannel(r.Context(), body.Get("channelId").String(), content)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, sendResponse{Success: true, To: to})
}

type pairResponse struct {
	QR string `json:"qr"`
}

func (s *Server) handlePair(w http.ResponseWriter, r *http.Request) {
	qr, ok := s.bridge.PairingChallenge()
	if !ok {
		s.writeError(w, r, connector.ErrNotPairing)
		return
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, pairResponse{QR: qr})
}

func (s *Server) handlePairQR(w http.ResponseWriter, r *http.Request) {
	qr, ok := s.bridge.PairingChallenge()
	if !ok {
		s.writeError(w, r, connector.ErrNotPairing)
		return
	}
	data, err := s.qr.Encode(qr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type pairCodeResponse struct {
	Code string `json:"code"`
}

func (s *Server) handlePairCode(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	phone := body.Get("phone").String()
	if phone == "" {
		writeErrorMessage(w, http.StatusBadRequest, "phone is required")
		return
	}
	code, err := s.bridge.RequestPairingCode(r.Context(), phone)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, pairCodeResponse{Code: code})
}

type unlinkResponse struct {
	Success bool `json:"success"`
}

func (s *Server) handleUnlink(w http.ResponseWriter, r *http.Request) {
	// The control loop is stopped even when the remote logout failed.
	if err := s.bridge.Disconnect(r.Context()); err != nil {
		s.writeError(w, r, err)
	} else {
		exhttp.WriteJSONResponse(w, http.StatusOK, unlinkResponse{Success: true})
	}
	if s.OnUnlink != nil {
		s.OnUnlink()
	}
}
