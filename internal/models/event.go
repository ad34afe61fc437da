// OpenPanel - Web Analytics Event Ingestion Pipeline
// Copyright 2026 OpenPanel Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jojovvz/openpanel

// Package models defines the canonical data shapes shared across the ingest
// service: the raw track payload arriving from SDKs, the queued job envelope,
// and the fully enriched event record that is persisted.
package models

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Event names with special meaning to the pipeline.
const (
	// EventScreenView is the page/view impression event. Screen views anchor
	// path/origin backfill for subsequent events in the same session.
	EventScreenView = "screen_view"

	// EventSessionEnd is the terminal marker persisted once per session
	// transition.
	EventSessionEnd = "session_end"
)

// Event is the fully enriched, storable event record. A base event carries
// everything except session identity; the pipeline attaches deviceId and
// sessionId (or backfills from the screen-view buffer) before persistence.
//
// Latitude and longitude are pointers so that absent coordinates are omitted
// from the wire form rather than serialized as 0,0 (a real coordinate).
type Event struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	DeviceID  string `json:"deviceId,omitempty"`
	ProfileID string `json:"profileId,omitempty"`
	ProjectID string `json:"projectId"`
	SessionID string `json:"sessionId,omitempty"`

	Properties map[string]any `json:"properties,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	Duration  int64     `json:"duration"`

	SdkName    string `json:"sdkName,omitempty"`
	SdkVersion string `json:"sdkVersion,omitempty"`

	// Geo (resolved upstream, carried through verbatim)
	Country   string   `json:"country,omitempty"`
	City      string   `json:"city,omitempty"`
	Region    string   `json:"region,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`

	// URL breakdown
	Path   string `json:"path,omitempty"`
	Origin string `json:"origin,omitempty"`

	// Referrer resolution (UTM wins over document.referrer, field by field)
	Referrer     string `json:"referrer,omitempty"`
	ReferrerName string `json:"referrerName,omitempty"`
	ReferrerType string `json:"referrerType,omitempty"`

	// User-agent classification
	OS             string `json:"os,omitempty"`
	OSVersion      string `json:"osVersion,omitempty"`
	Browser        string `json:"browser,omitempty"`
	BrowserVersion string `json:"browserVersion,omitempty"`
	Device         string `json:"device,omitempty"`
	Brand          string `json:"brand,omitempty"`
	Model          string `json:"model,omitempty"`
}

// NewEventID returns a fresh event identifier.
func NewEventID() string {
	return uuid.New().String()
}

// IsScreenView reports whether this event is a page/view impression.
func (e *Event) IsScreenView() bool {
	return e.Name == EventScreenView
}

// AsMap converts the event to its generic map form via its JSON encoding.
// The map form is what the pipeline's merge primitive operates on, so the
// merge semantics are defined by the JSON field set (empty strings present,
// nil pointers absent, numbers always present).
func (e *Event) AsMap() (map[string]any, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// EventFromMap converts the generic map form back into an Event.
func EventFromMap(m map[string]any) (*Event, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
