// Copyright 2024-2026 Aiku AI

package connector

import (
	"fmt"
	"strings"
)

// Address domains of the four recipient classes.
const (
	DirectSuffix  = "@s.whatsapp.net"
	GroupSuffix   = "@g.us"
	ChannelSuffix = "@newsletter"
)

// IsPhoneNumber reports whether s is a bare 10-15 digit string. Leading
// plus signs, spaces and separators are not accepted.
func IsPhoneNumber(s string) bool {
	if len(s) < 10 || len(s) > 15 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// ResolveRecipient maps a caller-supplied recipient to a canonical address.
// Anything already containing a domain separator is passed through as-is.
func ResolveRecipient(to string) (string, error) {
	if strings.Contains(to, "@") {
		return to, nil
	}
	if IsPhoneNumber(to) {
		return MakeDirectAddress(to), nil
	}
	return "", fmt.Errorf("%w: use phone number, groupId%s, or channelId%s", ErrInvalidRecipient, GroupSuffix, ChannelSuffix)
}

// MakeDirectAddress appends the direct-contact domain to a phone number.
func MakeDirectAddress(phone string) string {
	return phone + DirectSuffix
}

// IsGroupAddress reports whether addr is in canonical group form.
func IsGroupAddress(addr string) bool {
	return strings.HasSuffix(addr, GroupSuffix)
}

// IsChannelAddress reports whether addr is in canonical channel form.
func IsChannelAddress(addr string) bool {
	return strings.HasSuffix(addr, ChannelSuffix)
}

// StripDevice removes the device component from an address so that
// "1111:5@s.whatsapp.net" and "1111@s.whatsapp.net:5" both become
// "1111@s.whatsapp.net".
func StripDevice(addr string) string {
	user, server, ok := strings.Cut(addr, "@")
	if !ok {
		return trimDeviceSuffix(addr)
	}
	return trimDeviceSuffix(user) + "@" + trimDeviceSuffix(server)
}

// trimDeviceSuffix drops a trailing ":<digits>" component.
func trimDeviceSuffix(s string) string {
	idx := strings.LastIndexByte(s, ':')
	if idx < 0 || idx == len(s)-1 {
		return s
	}
	for i := idx + 1; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return s
		}
	}
	return s[:idx]
}
