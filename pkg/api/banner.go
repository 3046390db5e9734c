// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package api

import (
	"fmt"
	"net"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	bannerBox = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color("35")).
			Padding(0, 1)
	bannerTitle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("35"))
	bannerMethod = lipgloss.NewStyle().Width(5).Bold(true)
	bannerPath   = lipgloss.NewStyle().Width(14)
	bannerFaint  = lipgloss.NewStyle().Faint(true)
)

// BaseURL turns a listen address into a URL a local client can use.
func BaseURL(listenAddr string) string {
	host, port, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return "http://" + listenAddr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// Banner renders the startup box listing the API routes.
func Banner(listenAddr string) string {
	lines := []string{bannerTitle.Render("WABridge API - Running"), ""}
	for _, rt := range routes {
		if rt.Description == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s %s %s",
			bannerMethod.Render(rt.Method),
			bannerPath.Render(rt.Path),
			bannerFaint.Render("- "+rt.Description)))
	}
	lines = append(lines, "", BaseURL(listenAddr))
	return bannerBox.Render(strings.Join(lines, "\n"))
}
