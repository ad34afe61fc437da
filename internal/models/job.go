// OpenPanel - Web Analytics Event Ingestion Pipeline
// Copyright 2026 OpenPanel Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jojovvz/openpanel

package models

import "time"

// Well-known request header keys carried on the job envelope.
const (
	HeaderRequestID  = "request-id"
	HeaderUserAgent  = "user-agent"
	HeaderSdkName    = "openpanel-sdk-name"
	HeaderSdkVersion = "openpanel-sdk-version"
)

// GeoLocation is the structured result of the upstream geo-IP lookup.
// Fields may be empty when the lookup had no answer.
type GeoLocation struct {
	City      string   `json:"city"`
	Country   string   `json:"country"`
	Region    string   `json:"region"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// TrackedEvent is the raw event description inside an incoming job.
type TrackedEvent struct {
	Name      string `json:"name" validate:"required,max=128"`
	ProfileID string `json:"profileId,omitempty"`

	// Timestamp is the client-claimed event time. The enriched event's
	// createdAt is taken from here, never from the processing wall clock.
	Timestamp time.Time `json:"timestamp" validate:"required"`

	// IsTimestampFromThePast marks backfilled/out-of-order events that must
	// not create or extend a live session.
	IsTimestampFromThePast bool `json:"isTimestampFromThePast"`

	Properties map[string]any `json:"properties,omitempty"`
}

// IncomingEventJob is the envelope published to the events.incoming subject.
// It is immutable for the duration of a job execution.
type IncomingEventJob struct {
	Geo     GeoLocation       `json:"geo"`
	Event   TrackedEvent      `json:"event" validate:"required"`
	Headers map[string]string `json:"headers"`

	ProjectID string `json:"projectId" validate:"required"`

	// Device identity hints for session continuity. CurrentDeviceID is
	// derived from the current salt window, PreviousDeviceID from the one
	// before, so continuity survives salt rotation.
	CurrentDeviceID  string `json:"currentDeviceId"`
	PreviousDeviceID string `json:"previousDeviceId"`

	// Priority breaks ties when concurrent jobs race to claim or create a
	// session for the same continuity keys. Higher wins.
	Priority int `json:"priority"`
}

// Header returns a header value from the job envelope, or empty string.
func (j *IncomingEventJob) Header(key string) string {
	if j.Headers == nil {
		return ""
	}
	return j.Headers[key]
}

// RequestID returns the request ID the ingress attached, or "unknown".
func (j *IncomingEventJob) RequestID() string {
	if id := j.Header(HeaderRequestID); id != "" {
		return id
	}
	return "unknown"
}

// TrackPayload is the body of POST /track as sent by SDKs. The ingress
// validates it, derives device IDs and geo, and wraps it in an
// IncomingEventJob.
type TrackPayload struct {
	Type    string       `json:"type" validate:"required,oneof=track screen_view"`
	Payload TrackedEvent `json:"payload" validate:"required"`
}
