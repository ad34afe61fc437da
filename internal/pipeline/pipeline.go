// OpenPanel - Web Analytics Event Ingestion Pipeline
// Copyright 2026 OpenPanel Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jojovvz/openpanel

// Package pipeline implements event enrichment and session stitching: it
// turns a raw incoming job into a fully resolved event record and decides how
// that event relates to the visitor's current browsing session.
//
// Each job is classified exactly once into one of two branches:
//
//   - BranchServerOrPast: server-side or backfilled events. They never touch
//     the session store; missing fields are backfilled from the profile's
//     last buffered screen view, with the base event winning every conflict.
//
//   - BranchLiveSession: normal browser events. The session store resolves
//     (or creates) the session, whose non-empty fields win over the base
//     event. When the store signals that this call just created a new
//     session, a session-end record for the transition is written exactly
//     once, before the event itself is persisted.
//
// Note the precedence asymmetry: the server/past branch merges base-wins,
// the live branch merges override-wins. Both use the same strip-then-merge
// primitive (Merge) in opposite directions.
//
// The notification check is fire-and-forget; only persistence failures fail
// the job. The pipeline holds no state of its own — all cross-job continuity
// lives in the stores, so any number of workers can run it concurrently.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/jojovvz/openpanel/internal/logging"
	"github.com/jojovvz/openpanel/internal/metrics"
	"github.com/jojovvz/openpanel/internal/models"
)

// Branch is the one-shot session classification of an incoming event.
type Branch int

const (
	// BranchServerOrPast handles events that must not create or extend a
	// live session: server-side traffic and backfilled timestamps.
	BranchServerOrPast Branch = iota

	// BranchLiveSession handles normal browser events that participate in
	// session continuity.
	BranchLiveSession
)

// String returns the branch name for logging.
func (b Branch) String() string {
	if b == BranchLiveSession {
		return "live_session"
	}
	return "server_or_past"
}

// Classify decides the session branch for an event. The decision is made
// once per job; isTimestampFromThePast exists precisely so that out-of-order
// delivery cannot corrupt live-session state.
func Classify(isServer, isTimestampFromThePast bool) Branch {
	if isServer || isTimestampFromThePast {
		return BranchServerOrPast
	}
	return BranchLiveSession
}

// ResolveRequest carries the continuity keys for session resolution, plus
// the resolving event's referrer so a freshly created session can capture
// it. Later events in the session inherit the stored referrer.
type ResolveRequest struct {
	Priority         int
	ProjectID        string
	CurrentDeviceID  string
	PreviousDeviceID string
	ProfileID        string

	Referrer     string
	ReferrerName string
	ReferrerType string
}

// SessionDescriptor identifies the active session for a device/profile.
// NotFound reports that the resolve call just created this session instead
// of reusing one — the signal that the previous session has concluded.
type SessionDescriptor struct {
	DeviceID     string
	SessionID    string
	Referrer     string
	ReferrerName string
	ReferrerType string
	NotFound     bool

	// EndedSessionID identifies the idle session this resolve call
	// superseded, when one was found under the continuity keys. Empty for
	// devices seen for the first time.
	EndedSessionID string
}

// SessionResolver resolves or creates the active session for the given
// continuity keys. Implementations must be safe for concurrent calls sharing
// keys and must not create duplicate sessions for events of one visit.
type SessionResolver interface {
	Resolve(ctx context.Context, req ResolveRequest) (*SessionDescriptor, error)

	// EndSession drops every continuity entry still pointing at the given
	// session, so stale keys cannot resurrect it.
	EndSession(ctx context.Context, projectID, sessionID string) error
}

// ScreenViewBuffer is the short-lived cache of the most recent screen view
// per profile and per session. Lookups return (nil, nil) when nothing is
// buffered.
type ScreenViewBuffer interface {
	LastScreenViewByProfile(ctx context.Context, projectID, profileID string) (*models.Event, error)
	LastScreenViewBySession(ctx context.Context, projectID, sessionID string) (*models.Event, error)
	SetLastScreenView(ctx context.Context, event *models.Event) error
}

// RuleChecker evaluates an enriched event against notification rules.
// Its errors are logged and swallowed; it can never fail a job.
type RuleChecker interface {
	CheckEvent(ctx context.Context, event *models.Event) error
}

// EventWriter persists enriched events and session-end records.
type EventWriter interface {
	// CreateEvent persists the event and returns the stored record. Its
	// result is the job's completion value.
	CreateEvent(ctx context.Context, event *models.Event) (*models.Event, error)

	// CreateSessionEnd persists the session-closing record derived from the
	// event that started the successor session.
	CreateSessionEnd(ctx context.Context, event *models.Event) error
}

// Pipeline orchestrates enrichment, session stitching, notification and
// persistence for incoming event jobs.
type Pipeline struct {
	sessions SessionResolver
	buffer   ScreenViewBuffer
	rules    RuleChecker
	store    EventWriter
}

// New creates a pipeline over the given collaborators. All four are
// required.
func New(sessions SessionResolver, buffer ScreenViewBuffer, rules RuleChecker, store EventWriter) (*Pipeline, error) {
	if sessions == nil {
		return nil, fmt.Errorf("session resolver required")
	}
	if buffer == nil {
		return nil, fmt.Errorf("screen view buffer required")
	}
	if rules == nil {
		return nil, fmt.Errorf("rule checker required")
	}
	if store == nil {
		return nil, fmt.Errorf("event writer required")
	}
	return &Pipeline{sessions: sessions, buffer: buffer, rules: rules, store: store}, nil
}

// Process runs one job through the pipeline and returns the persisted
// event. Session resolution, buffer lookups and persistence failures fail
// the job (the surrounding queue retries); notification failures do not.
func (p *Pipeline) Process(ctx context.Context, job *models.IncomingEventJob) (*models.Event, error) {
	ctx = logging.ContextWithRequestID(ctx, job.RequestID())
	start := time.Now()

	base, uaInfo := BuildBaseEvent(job)
	branch := Classify(uaInfo.IsServer, job.Event.IsTimestampFromThePast)

	logging.Ctx(ctx).Debug().
		Str("project_id", job.ProjectID).
		Str("event", job.Event.Name).
		Str("branch", branch.String()).
		Msg("Processing incoming event")

	var event *models.Event
	var err error
	switch branch {
	case BranchLiveSession:
		event, err = p.processLiveSession(ctx, job, base)
	default:
		event, err = p.processServerOrPast(ctx, job, base)
	}
	metrics.RecordJob(branch.String(), err, time.Since(start))
	return event, err
}

// processServerOrPast enriches without touching session state. Missing
// fields are backfilled from the profile's last screen view; the base
// event's own fields always win.
func (p *Pipeline) processServerOrPast(ctx context.Context, job *models.IncomingEventJob, base *models.Event) (*models.Event, error) {
	var lastView *models.Event
	if base.ProfileID != "" {
		var err error
		lastView, err = p.buffer.LastScreenViewByProfile(ctx, job.ProjectID, base.ProfileID)
		if err != nil {
			return nil, fmt.Errorf("last screen view by profile: %w", err)
		}
	}

	final := base
	if lastView != nil {
		viewMap, err := lastView.AsMap()
		if err != nil {
			return nil, fmt.Errorf("screen view as map: %w", err)
		}
		// The buffered view's properties and persisted ID belong to that
		// view, not this event. Inheriting the ID would make the insert a
		// dedup no-op and the event would silently never be stored.
		delete(viewMap, "properties")
		delete(viewMap, "id")

		baseMap, err := base.AsMap()
		if err != nil {
			return nil, fmt.Errorf("base event as map: %w", err)
		}

		final, err = models.EventFromMap(Merge(viewMap, baseMap))
		if err != nil {
			return nil, fmt.Errorf("merge backfilled event: %w", err)
		}
	}

	return p.dispatch(ctx, final)
}

// processLiveSession resolves session continuity, backfills path/origin from
// the session's last screen view, and closes the previous session exactly
// once when this event started a new one.
func (p *Pipeline) processLiveSession(ctx context.Context, job *models.IncomingEventJob, base *models.Event) (*models.Event, error) {
	descriptor, err := p.sessions.Resolve(ctx, ResolveRequest{
		Priority:         job.Priority,
		ProjectID:        job.ProjectID,
		CurrentDeviceID:  job.CurrentDeviceID,
		PreviousDeviceID: job.PreviousDeviceID,
		ProfileID:        base.ProfileID,
		Referrer:         base.Referrer,
		ReferrerName:     base.ReferrerName,
		ReferrerType:     base.ReferrerType,
	})
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}

	lastView, err := p.buffer.LastScreenViewBySession(ctx, job.ProjectID, descriptor.SessionID)
	if err != nil {
		return nil, fmt.Errorf("last screen view by session: %w", err)
	}

	baseMap, err := base.AsMap()
	if err != nil {
		return nil, fmt.Errorf("base event as map: %w", err)
	}

	// Session fields win over the base event; empty descriptor fields are
	// stripped by Merge and cannot erase base values. Path and origin fall
	// back to the session's last screen view when the event carries none.
	override := map[string]any{
		"deviceId":     descriptor.DeviceID,
		"sessionId":    descriptor.SessionID,
		"referrer":     descriptor.Referrer,
		"referrerName": descriptor.ReferrerName,
		"referrerType": descriptor.ReferrerType,
		"path":         firstNonEmpty(base.Path, viewPath(lastView)),
		"origin":       firstNonEmpty(base.Origin, viewOrigin(lastView)),
	}

	final, err := models.EventFromMap(Merge(baseMap, override))
	if err != nil {
		return nil, fmt.Errorf("merge session fields: %w", err)
	}

	// The resolve call just created a new session, which means the previous
	// one has concluded: write its closing record exactly once, before the
	// event itself is persisted.
	if descriptor.NotFound {
		metrics.SessionsCreated.Inc()
		if err := p.store.CreateSessionEnd(ctx, final); err != nil {
			return nil, fmt.Errorf("create session end: %w", err)
		}
		metrics.SessionEndsWritten.Inc()

		// Clear leftover continuity entries for the superseded session.
		// Best effort: they expire on their own, this only shortens the
		// window in which a stale profile key could match it.
		if descriptor.EndedSessionID != "" {
			if err := p.sessions.EndSession(ctx, job.ProjectID, descriptor.EndedSessionID); err != nil {
				logging.Ctx(ctx).Warn().Err(err).
					Str("session_id", descriptor.EndedSessionID).
					Msg("Failed to clear superseded session")
			}
		}
	}

	return p.dispatch(ctx, final)
}

// dispatch runs the notification check (best effort), persists the event
// (mandatory, the job's completion value), and records screen views back
// into the buffer for later backfill.
func (p *Pipeline) dispatch(ctx context.Context, event *models.Event) (*models.Event, error) {
	if err := p.rules.CheckEvent(ctx, event); err != nil {
		metrics.NotificationFailures.Inc()
		logging.Ctx(ctx).Error().Err(err).
			Str("project_id", event.ProjectID).
			Str("event", event.Name).
			Msg("Notification rule check failed")
	}

	created, err := p.store.CreateEvent(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}

	if created.IsScreenView() {
		if err := p.buffer.SetLastScreenView(ctx, created); err != nil {
			logging.Ctx(ctx).Warn().Err(err).
				Str("project_id", created.ProjectID).
				Msg("Failed to buffer screen view")
		}
	}

	return created, nil
}

func viewPath(view *models.Event) string {
	if view == nil {
		return ""
	}
	return view.Path
}

func viewOrigin(view *models.Event) string {
	if view == nil {
		return ""
	}
	return view.Origin
}
