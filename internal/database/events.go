// OpenPanel - Web Analytics Event Ingestion Pipeline
// Copyright 2026 OpenPanel Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jojovvz/openpanel

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/jojovvz/openpanel/internal/models"
)

const eventColumns = `id, name, device_id, profile_id, project_id, session_id,
	properties, created_at, duration, sdk_name, sdk_version,
	country, city, region, longitude, latitude,
	path, origin, referrer, referrer_name, referrer_type,
	os, os_version, browser, browser_version, device, brand, model`

// CreateEvent persists an enriched event and returns the stored record.
// Events without an ID are assigned one. Replayed deliveries of the same
// event ID are ignored, which makes queue redelivery idempotent.
func (db *DB) CreateEvent(ctx context.Context, event *models.Event) (*models.Event, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	stored := *event
	if stored.ID == "" {
		stored.ID = models.NewEventID()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	properties, err := marshalProperties(stored.Properties)
	if err != nil {
		return nil, fmt.Errorf("marshal properties: %w", err)
	}

	_, err = db.conn.ExecContext(ctx, insertEventQuery, eventInsertArgs(&stored, properties)...)
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}
	return &stored, nil
}

const insertEventQuery = `INSERT INTO events (` + eventColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`

func eventInsertArgs(stored *models.Event, properties any) []any {
	return []any{
		stored.ID, stored.Name, nullable(stored.DeviceID), nullable(stored.ProfileID),
		stored.ProjectID, nullable(stored.SessionID),
		properties, stored.CreatedAt, stored.Duration,
		nullable(stored.SdkName), nullable(stored.SdkVersion),
		nullable(stored.Country), nullable(stored.City), nullable(stored.Region),
		stored.Longitude, stored.Latitude,
		nullable(stored.Path), nullable(stored.Origin),
		nullable(stored.Referrer), nullable(stored.ReferrerName), nullable(stored.ReferrerType),
		nullable(stored.OS), nullable(stored.OSVersion),
		nullable(stored.Browser), nullable(stored.BrowserVersion),
		nullable(stored.Device), nullable(stored.Brand), nullable(stored.Model),
	}
}

// CreateSessionEnd derives the closing marker for the session that preceded
// the given event and persists it as a session_end event. The marker
// inherits the event's session context so the ended session stays
// attributable.
func (db *DB) CreateSessionEnd(ctx context.Context, event *models.Event) error {
	marker := *event
	marker.ID = models.NewEventID()
	marker.Name = models.EventSessionEnd
	marker.Properties = nil
	marker.Duration = 0
	if marker.CreatedAt.IsZero() {
		marker.CreatedAt = time.Now().UTC()
	}

	if _, err := db.CreateEvent(ctx, &marker); err != nil {
		return fmt.Errorf("insert session end: %w", err)
	}
	return nil
}

// InsertBotEvent records bot traffic. Bots never enter the session pipeline;
// this table exists so their volume stays visible.
func (db *DB) InsertBotEvent(ctx context.Context, projectID, name, path, userAgent string, createdAt time.Time) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `INSERT INTO events_bots (id, project_id, name, path, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	_, err := db.conn.ExecContext(ctx, query,
		models.NewEventID(), projectID, name, nullable(path), nullable(userAgent), createdAt)
	if err != nil {
		return fmt.Errorf("insert bot event: %w", err)
	}
	return nil
}

func marshalProperties(properties map[string]any) (any, error) {
	if len(properties) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(properties)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// nullable maps empty strings to NULL so optional columns stay NULL rather
// than holding empty text.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
