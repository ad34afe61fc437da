// OpenPanel - Web Analytics Event Ingestion Pipeline
// Copyright 2026 OpenPanel Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jojovvz/openpanel

package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestRouter(pub *fakePublisher) http.Handler {
	h := NewHandler(testIngestConfig(), pub, nil)
	return NewRouter(h, NewMiddleware(nil)).Setup()
}

func TestRouterHealthz(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(newTestRouter(&fakePublisher{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestRouterMetricsExposed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(newTestRouter(&fakePublisher{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestRouterTrackEndToEnd(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	srv := httptest.NewServer(newTestRouter(pub))
	defer srv.Close()

	body := `{"type":"track","payload":{"name":"sign_up","timestamp":"2026-08-30T12:00:00Z"}}`
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/track", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("openpanel-client-id", "proj-1")
	req.Header.Set("User-Agent", browserUA)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /track: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusAccepted)
	}
	if len(pub.jobs) != 1 {
		t.Fatalf("published %d jobs, want 1", len(pub.jobs))
	}
	if pub.jobs[0].Headers["request-id"] == "" {
		t.Error("request id not propagated into the job envelope")
	}
}

func TestRouterTrackRejectsGet(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(newTestRouter(&fakePublisher{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/track")
	if err != nil {
		t.Fatalf("GET /track: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusMethodNotAllowed)
	}
}

func TestRouterCORSPreflight(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(newTestRouter(&fakePublisher{}))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/track", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Origin", "https://shop.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "content-type, openpanel-client-id")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS /track: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}
