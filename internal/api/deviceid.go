// OpenPanel - Web Analytics Event Ingestion Pipeline
// Copyright 2026 OpenPanel Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jojovvz/openpanel

package api

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// DeviceIdentity holds the device hashes for the current and previous salt
// windows. Carrying both lets the session store keep a session alive across
// a salt rotation boundary.
type DeviceIdentity struct {
	Current  string
	Previous string
}

// DeriveDeviceIdentity fingerprints a visitor without storing anything about
// them: sha256 over (window salt, client IP, user agent, project). The salt
// rotates every rotation interval, so the hash space resets and the raw
// fingerprint inputs are never persisted.
func DeriveDeviceIdentity(salt string, rotation time.Duration, now time.Time, clientIP, userAgent, projectID string) DeviceIdentity {
	if rotation <= 0 {
		rotation = 24 * time.Hour
	}
	window := now.UTC().Truncate(rotation)

	return DeviceIdentity{
		Current:  deviceHash(windowSalt(salt, window), clientIP, userAgent, projectID),
		Previous: deviceHash(windowSalt(salt, window.Add(-rotation)), clientIP, userAgent, projectID),
	}
}

func windowSalt(salt string, window time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", salt, window.Unix())))
	return hex.EncodeToString(sum[:])
}

func deviceHash(salt, clientIP, userAgent, projectID string) string {
	sum := sha256.Sum256([]byte(salt + clientIP + userAgent + projectID))
	return hex.EncodeToString(sum[:])
}

// clientIP extracts the originating client address. X-Forwarded-For wins
// (leftmost hop) so the fingerprint is stable behind a reverse proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	if rip := r.Header.Get("X-Real-IP"); rip != "" {
		return strings.TrimSpace(rip)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
