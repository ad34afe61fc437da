// OpenPanel - Web Analytics Event Ingestion Pipeline
// Copyright 2026 OpenPanel Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jojovvz/openpanel

// Package useragent classifies user-agent strings into device fields and
// flags server-side traffic. Native SDKs that have no browser user agent
// describe the device through reserved properties instead, which take
// precedence over anything parsed from the UA string.
package useragent

import (
	"strings"

	ua "github.com/mileusna/useragent"
)

// Info is the result of user-agent classification.
type Info struct {
	OS             string
	OSVersion      string
	Browser        string
	BrowserVersion string
	Device         string
	Brand          string
	Model          string

	// IsServer marks traffic that must not create or extend a live
	// session: SDK server libraries and requests with no user agent.
	IsServer bool

	// IsBot marks known crawlers. Bot events are recorded separately and
	// never enter the session pipeline.
	IsBot bool
}

// Device categories.
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceServer  = "server"
)

// serverAgents are substrings identifying server-side HTTP clients.
var serverAgents = []string{
	"curl/",
	"wget/",
	"python-requests",
	"python-urllib",
	"go-http-client",
	"node-fetch",
	"axios/",
	"okhttp",
	"java/",
	"libwww-perl",
	"php/",
	"guzzlehttp",
	"ruby",
	"openpanel-sdk-server",
}

// Parse classifies a user-agent string. Reserved properties (__os,
// __osVersion, __device, __brand, __model) override parsed values so native
// SDKs can self-describe.
func Parse(rawUA string, properties map[string]any) Info {
	info := parseUA(rawUA)

	// Property overrides from native SDKs
	if v := stringProp(properties, "__os"); v != "" {
		info.OS = v
		info.IsServer = false
	}
	if v := stringProp(properties, "__osVersion"); v != "" {
		info.OSVersion = v
	}
	if v := stringProp(properties, "__device"); v != "" {
		info.Device = v
		info.IsServer = false
	}
	if v := stringProp(properties, "__brand"); v != "" {
		info.Brand = v
	}
	if v := stringProp(properties, "__model"); v != "" {
		info.Model = v
	}

	return info
}

func parseUA(rawUA string) Info {
	if rawUA == "" {
		return Info{Device: DeviceServer, IsServer: true}
	}

	lower := strings.ToLower(rawUA)
	for _, marker := range serverAgents {
		if strings.Contains(lower, marker) {
			return Info{Device: DeviceServer, IsServer: true}
		}
	}

	parsed := ua.Parse(rawUA)

	info := Info{
		OS:             parsed.OS,
		OSVersion:      parsed.OSVersion,
		Browser:        parsed.Name,
		BrowserVersion: parsed.Version,
		Model:          parsed.Device,
	}

	switch {
	case parsed.Bot:
		info.IsBot = true
		info.Device = DeviceServer
	case parsed.Tablet:
		info.Device = DeviceTablet
	case parsed.Mobile:
		info.Device = DeviceMobile
	default:
		info.Device = DeviceDesktop
	}

	// The parser reports Apple hardware in the Device field; use the OS to
	// infer the brand when none is reported.
	switch parsed.OS {
	case ua.IOS, ua.MacOS:
		info.Brand = "Apple"
	}

	return info
}

func stringProp(properties map[string]any, key string) string {
	if properties == nil {
		return ""
	}
	if v, ok := properties[key].(string); ok {
		return v
	}
	return ""
}
