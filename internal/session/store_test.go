// OpenPanel - Web Analytics Event Ingestion Pipeline
// Copyright 2026 OpenPanel Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jojovvz/openpanel

package session

import (
	"context"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/jojovvz/openpanel/internal/pipeline"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewStore(db, Config{IdleTimeout: 30 * time.Minute})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func TestResolveCreatesThenReuses(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	req := pipeline.ResolveRequest{
		ProjectID:       "proj-1",
		CurrentDeviceID: "dev-a",
	}

	first, err := store.Resolve(ctx, req)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !first.NotFound {
		t.Error("first resolve should create a session")
	}
	if first.SessionID == "" {
		t.Error("empty session id")
	}
	if first.DeviceID != "dev-a" {
		t.Errorf("DeviceID = %q", first.DeviceID)
	}

	second, err := store.Resolve(ctx, req)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if second.NotFound {
		t.Error("second resolve should reuse the session")
	}
	if second.SessionID != first.SessionID {
		t.Errorf("session changed: %q -> %q", first.SessionID, second.SessionID)
	}
}

func TestResolvePreviousDeviceIDContinuity(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.Resolve(ctx, pipeline.ResolveRequest{
		ProjectID:       "proj-1",
		CurrentDeviceID: "dev-old",
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	// Salt rotation: yesterday's device ID arrives as PreviousDeviceID.
	rotated, err := store.Resolve(ctx, pipeline.ResolveRequest{
		ProjectID:        "proj-1",
		CurrentDeviceID:  "dev-new",
		PreviousDeviceID: "dev-old",
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if rotated.NotFound {
		t.Error("rotation must not create a new session")
	}
	if rotated.SessionID != first.SessionID {
		t.Errorf("session changed across rotation: %q -> %q", first.SessionID, rotated.SessionID)
	}
	if rotated.DeviceID != "dev-new" {
		t.Errorf("DeviceID = %q, want re-indexed dev-new", rotated.DeviceID)
	}

	// The session is now reachable under the new device ID alone.
	again, err := store.Resolve(ctx, pipeline.ResolveRequest{
		ProjectID:       "proj-1",
		CurrentDeviceID: "dev-new",
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if again.NotFound || again.SessionID != first.SessionID {
		t.Errorf("re-indexed lookup failed: notFound=%v session=%q", again.NotFound, again.SessionID)
	}
}

func TestResolveProfileFallback(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.Resolve(ctx, pipeline.ResolveRequest{
		ProjectID:       "proj-1",
		CurrentDeviceID: "dev-phone",
		ProfileID:       "user-7",
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	// Unknown device, known profile: same visitor continues the session.
	byProfile, err := store.Resolve(ctx, pipeline.ResolveRequest{
		ProjectID:       "proj-1",
		CurrentDeviceID: "dev-unseen",
		ProfileID:       "user-7",
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if byProfile.NotFound || byProfile.SessionID != first.SessionID {
		t.Errorf("profile fallback failed: notFound=%v session=%q want %q",
			byProfile.NotFound, byProfile.SessionID, first.SessionID)
	}
}

func TestResolveIdleTimeoutStartsNewSession(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	req := pipeline.ResolveRequest{ProjectID: "proj-1", CurrentDeviceID: "dev-a"}

	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }

	first, err := store.Resolve(ctx, req)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if first.EndedSessionID != "" {
		t.Errorf("EndedSessionID = %q on a brand-new device", first.EndedSessionID)
	}

	// Just inside the window: still the same session.
	store.now = func() time.Time { return base.Add(29 * time.Minute) }
	inside, err := store.Resolve(ctx, req)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if inside.NotFound || inside.SessionID != first.SessionID {
		t.Fatalf("session expired too early")
	}

	// Past the idle window measured from the last refresh.
	store.now = func() time.Time { return base.Add(29*time.Minute + 31*time.Minute) }
	expired, err := store.Resolve(ctx, req)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !expired.NotFound {
		t.Error("idle session reused")
	}
	if expired.SessionID == first.SessionID {
		t.Error("idle session id reused")
	}
	// The descriptor names the session it superseded, so its remaining
	// index entries can be ended explicitly.
	if expired.EndedSessionID != first.SessionID {
		t.Errorf("EndedSessionID = %q, want %q", expired.EndedSessionID, first.SessionID)
	}
}

func TestResolveCapturesAndInheritsReferrer(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.Resolve(ctx, pipeline.ResolveRequest{
		ProjectID:       "proj-1",
		CurrentDeviceID: "dev-a",
		Referrer:        "https://google.com/search",
		ReferrerName:    "Google",
		ReferrerType:    "search",
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if first.Referrer != "https://google.com/search" {
		t.Errorf("Referrer = %q", first.Referrer)
	}

	// A later event in the session carries no referrer of its own; the
	// session's landing referrer sticks.
	later, err := store.Resolve(ctx, pipeline.ResolveRequest{
		ProjectID:       "proj-1",
		CurrentDeviceID: "dev-a",
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if later.Referrer != "https://google.com/search" || later.ReferrerName != "Google" || later.ReferrerType != "search" {
		t.Errorf("session referrer lost: %q/%q/%q", later.Referrer, later.ReferrerName, later.ReferrerType)
	}
}

func TestResolveProjectsAreIsolated(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	a, err := store.Resolve(ctx, pipeline.ResolveRequest{ProjectID: "proj-a", CurrentDeviceID: "dev-1"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	b, err := store.Resolve(ctx, pipeline.ResolveRequest{ProjectID: "proj-b", CurrentDeviceID: "dev-1"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !b.NotFound {
		t.Error("session leaked across projects")
	}
	if a.SessionID == b.SessionID {
		t.Error("shared session id across projects")
	}
}

func TestResolveValidation(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Resolve(ctx, pipeline.ResolveRequest{CurrentDeviceID: "dev-1"}); err == nil {
		t.Error("missing project id accepted")
	}
	if _, err := store.Resolve(ctx, pipeline.ResolveRequest{ProjectID: "proj-1"}); err == nil {
		t.Error("missing device and profile accepted")
	}
}

func TestCount(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	for _, dev := range []string{"dev-1", "dev-2", "dev-3"} {
		if _, err := store.Resolve(ctx, pipeline.ResolveRequest{ProjectID: "proj-1", CurrentDeviceID: dev}); err != nil {
			t.Fatalf("Resolve: %v", err)
		}
	}

	n, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}
}

func TestEndSession(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.Resolve(ctx, pipeline.ResolveRequest{
		ProjectID:       "proj-1",
		CurrentDeviceID: "dev-a",
		ProfileID:       "user-1",
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if err := store.EndSession(ctx, "proj-1", first.SessionID); err != nil {
		t.Fatalf("EndSession: %v", err)
	}

	// Both the device and the profile index must be gone.
	second, err := store.Resolve(ctx, pipeline.ResolveRequest{
		ProjectID: "proj-1",
		ProfileID: "user-1",
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !second.NotFound {
		t.Error("resolve after EndSession should create a new session")
	}
	if second.SessionID == first.SessionID {
		t.Error("ended session was reused")
	}
}

func TestEndSessionLeavesOtherSessionsAlone(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	a, err := store.Resolve(ctx, pipeline.ResolveRequest{ProjectID: "proj-1", CurrentDeviceID: "dev-a"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	b, err := store.Resolve(ctx, pipeline.ResolveRequest{ProjectID: "proj-1", CurrentDeviceID: "dev-b"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if err := store.EndSession(ctx, "proj-1", a.SessionID); err != nil {
		t.Fatalf("EndSession: %v", err)
	}

	again, err := store.Resolve(ctx, pipeline.ResolveRequest{ProjectID: "proj-1", CurrentDeviceID: "dev-b"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if again.NotFound || again.SessionID != b.SessionID {
		t.Error("unrelated session was disturbed")
	}
}

func TestEndSessionValidation(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	if err := store.EndSession(context.Background(), "", "sess-1"); err == nil {
		t.Error("missing project id accepted")
	}
	if err := store.EndSession(context.Background(), "proj-1", ""); err == nil {
		t.Error("missing session id accepted")
	}
}
