// OpenPanel - Web Analytics Event Ingestion Pipeline
// Copyright 2026 OpenPanel Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jojovvz/openpanel

package pipeline

import (
	"testing"
	"time"

	"github.com/jojovvz/openpanel/internal/models"
	"github.com/jojovvz/openpanel/internal/referrer"
)

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func testJob(props map[string]any) *models.IncomingEventJob {
	return &models.IncomingEventJob{
		ProjectID: "proj-1",
		Event: models.TrackedEvent{
			Name:       "screen_view",
			Timestamp:  time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
			Properties: props,
		},
		Headers: map[string]string{
			models.HeaderUserAgent:  chromeUA,
			models.HeaderRequestID:  "req-42",
			models.HeaderSdkName:    "web",
			models.HeaderSdkVersion: "1.2.3",
		},
	}
}

func TestBuildBaseEventURLBreakdown(t *testing.T) {
	t.Parallel()

	job := testJob(map[string]any{
		"__path": "https://shop.example/products?utm_source=newsletter&id=9#reviews",
	})

	event, info := BuildBaseEvent(job)

	if info.IsServer {
		t.Fatal("browser user agent classified as server")
	}
	if event.Path != "/products" {
		t.Errorf("Path = %q, want %q", event.Path, "/products")
	}
	if event.Origin != "https://shop.example" {
		t.Errorf("Origin = %q, want %q", event.Origin, "https://shop.example")
	}
	if event.ProjectID != "proj-1" {
		t.Errorf("ProjectID = %q", event.ProjectID)
	}
	if event.SdkName != "web" || event.SdkVersion != "1.2.3" {
		t.Errorf("SDK = %q/%q", event.SdkName, event.SdkVersion)
	}
	if !event.CreatedAt.Equal(job.Event.Timestamp) {
		t.Errorf("CreatedAt = %v, want payload timestamp", event.CreatedAt)
	}
	if event.Duration != 0 {
		t.Errorf("Duration = %d, want 0", event.Duration)
	}
}

func TestBuildBaseEventStoredProperties(t *testing.T) {
	t.Parallel()

	job := testJob(map[string]any{
		"__path":     "https://shop.example/products?utm_source=newsletter#reviews",
		"__referrer": "https://google.com/search",
		"plan":       "pro",
	})

	event, _ := BuildBaseEvent(job)

	for _, reserved := range []string{"__path", "__referrer"} {
		if _, ok := event.Properties[reserved]; ok {
			t.Errorf("reserved key %q leaked into stored properties", reserved)
		}
	}
	if event.Properties["plan"] != "pro" {
		t.Errorf("custom property dropped: %#v", event.Properties)
	}
	if event.Properties["__user_agent"] != chromeUA {
		t.Errorf("__user_agent = %#v", event.Properties["__user_agent"])
	}
	if event.Properties["__hash"] != "#reviews" {
		t.Errorf("__hash = %#v", event.Properties["__hash"])
	}
	if event.Properties["__reqId"] != "req-42" {
		t.Errorf("__reqId = %#v", event.Properties["__reqId"])
	}
	query, ok := event.Properties["__query"].(map[string]string)
	if !ok || query["utm_source"] != "newsletter" {
		t.Errorf("__query = %#v", event.Properties["__query"])
	}

	// The job's own properties map must stay untouched.
	if _, ok := job.Event.Properties["__user_agent"]; ok {
		t.Error("input properties map was mutated")
	}
}

func TestBuildBaseEventSameDomainReferrerSuppressed(t *testing.T) {
	t.Parallel()

	job := testJob(map[string]any{
		"__path":     "https://shop.example/checkout",
		"__referrer": "https://www.shop.example/cart",
	})

	event, _ := BuildBaseEvent(job)

	if event.Referrer != "" || event.ReferrerName != "" || event.ReferrerType != "" {
		t.Errorf("same-domain referrer not suppressed: %q/%q/%q",
			event.Referrer, event.ReferrerName, event.ReferrerType)
	}
}

func TestBuildBaseEventReferrerPrecedence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		path     string
		referrer string
		wantURL  string
		wantName string
		wantType string
	}{
		{
			name:     "document referrer only",
			path:     "https://shop.example/",
			referrer: "https://www.google.com/search?q=shoes",
			wantURL:  "https://www.google.com/search?q=shoes",
			wantName: "Google",
			wantType: referrer.TypeSearch,
		},
		{
			name:     "utm source wins over document referrer",
			path:     "https://shop.example/?utm_source=facebook",
			referrer: "https://www.google.com/",
			wantURL:  "https://facebook.com",
			wantName: "Facebook",
			wantType: referrer.TypeSocial,
		},
		{
			name:     "utm without url falls back field by field",
			path:     "https://shop.example/?utm_source=newsletter",
			referrer: "https://www.google.com/",
			// The newsletter source carries no URL, so that field falls
			// back to the parsed referrer while name and type come from
			// the UTM source.
			wantURL:  "https://www.google.com/",
			wantName: "Newsletter",
			wantType: referrer.TypeEmail,
		},
		{
			name:     "unknown utm source keeps raw name",
			path:     "https://shop.example/?utm_source=partner-blog",
			referrer: "",
			wantURL:  "",
			wantName: "partner-blog",
			wantType: referrer.TypeUnknown,
		},
		{
			name:     "no referrer at all",
			path:     "https://shop.example/",
			referrer: "",
			wantURL:  "",
			wantName: "",
			wantType: "",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			props := map[string]any{"__path": tc.path}
			if tc.referrer != "" {
				props["__referrer"] = tc.referrer
			}
			event, _ := BuildBaseEvent(testJob(props))

			if event.Referrer != tc.wantURL {
				t.Errorf("Referrer = %q, want %q", event.Referrer, tc.wantURL)
			}
			if event.ReferrerName != tc.wantName {
				t.Errorf("ReferrerName = %q, want %q", event.ReferrerName, tc.wantName)
			}
			if event.ReferrerType != tc.wantType {
				t.Errorf("ReferrerType = %q, want %q", event.ReferrerType, tc.wantType)
			}
		})
	}
}

func TestGetProperty(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		props map[string]any
		key   string
		want  string
	}{
		{
			name:  "exact key",
			props: map[string]any{"__path": "https://a.example/x"},
			key:   "__path",
			want:  "https://a.example/x",
		},
		{
			name:  "legacy unprefixed fallback",
			props: map[string]any{"path": "https://a.example/legacy"},
			key:   "__path",
			want:  "https://a.example/legacy",
		},
		{
			name: "exact key wins over legacy",
			props: map[string]any{
				"__path": "https://a.example/new",
				"path":   "https://a.example/old",
			},
			key:  "__path",
			want: "https://a.example/new",
		},
		{
			name:  "non-string value is stringified",
			props: map[string]any{"__path": 42},
			key:   "__path",
			want:  "42",
		},
		{
			name:  "nil map",
			props: nil,
			key:   "__path",
			want:  "",
		},
		{
			name:  "missing key",
			props: map[string]any{"other": "x"},
			key:   "__referrer",
			want:  "",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := getProperty(tc.props, tc.key); got != tc.want {
				t.Errorf("getProperty(%q) = %q, want %q", tc.key, got, tc.want)
			}
		})
	}
}

func TestBuildBaseEventGeoPassthrough(t *testing.T) {
	t.Parallel()

	lat, lon := 59.91, 10.75
	job := testJob(map[string]any{"__path": "https://shop.example/"})
	job.Geo = models.GeoLocation{
		City:      "Oslo",
		Country:   "NO",
		Region:    "Oslo",
		Latitude:  &lat,
		Longitude: &lon,
	}

	event, _ := BuildBaseEvent(job)

	if event.City != "Oslo" || event.Country != "NO" || event.Region != "Oslo" {
		t.Errorf("geo = %q/%q/%q", event.City, event.Country, event.Region)
	}
	if event.Latitude == nil || *event.Latitude != lat {
		t.Errorf("Latitude = %v", event.Latitude)
	}
	if event.Longitude == nil || *event.Longitude != lon {
		t.Errorf("Longitude = %v", event.Longitude)
	}
}

func TestBuildBaseEventServerAgent(t *testing.T) {
	t.Parallel()

	job := testJob(nil)
	job.Headers[models.HeaderUserAgent] = "curl/8.5.0"

	event, info := BuildBaseEvent(job)

	if !info.IsServer {
		t.Fatal("curl not classified as server")
	}
	if event.Device != "server" {
		t.Errorf("Device = %q, want server", event.Device)
	}
}
