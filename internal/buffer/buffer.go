// OpenPanel - Web Analytics Event Ingestion Pipeline
// Copyright 2026 OpenPanel Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jojovvz/openpanel

// Package buffer caches the most recent screen view per session and per
// profile in BadgerDB. The cache backfills page location onto events that
// carry none of their own: custom events inherit from their session's last
// view, server-side events from their profile's.
package buffer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/jojovvz/openpanel/internal/models"
)

// Key prefixes for BadgerDB storage
const (
	sessionViewKeyPrefix = "view_session:"
	profileViewKeyPrefix = "view_profile:"
)

// DefaultTTL is how long a buffered screen view stays usable for backfill.
const DefaultTTL = 48 * time.Hour

// Config holds screen-view buffer settings.
type Config struct {
	// TTL bounds how long a buffered view backfills later events.
	// Zero means DefaultTTL.
	TTL time.Duration
}

// ScreenViewBuffer stores last-seen screen views in BadgerDB.
type ScreenViewBuffer struct {
	db  *badger.DB
	ttl time.Duration
}

// New creates a screen-view buffer over an open BadgerDB handle.
func New(db *badger.DB, cfg Config) (*ScreenViewBuffer, error) {
	if db == nil {
		return nil, fmt.Errorf("badger db required")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ScreenViewBuffer{db: db, ttl: ttl}, nil
}

// SetLastScreenView records the event as the latest screen view for its
// session and, when a profile is attached, for that profile.
func (b *ScreenViewBuffer) SetLastScreenView(_ context.Context, event *models.Event) error {
	if event == nil || !event.IsScreenView() {
		return fmt.Errorf("not a screen view")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal screen view: %w", err)
	}

	return b.db.Update(func(txn *badger.Txn) error {
		if event.SessionID != "" {
			key := []byte(sessionViewKey(event.ProjectID, event.SessionID))
			if err := txn.SetEntry(badger.NewEntry(key, data).WithTTL(b.ttl)); err != nil {
				return fmt.Errorf("set session view: %w", err)
			}
		}
		if event.ProfileID != "" {
			key := []byte(profileViewKey(event.ProjectID, event.ProfileID))
			if err := txn.SetEntry(badger.NewEntry(key, data).WithTTL(b.ttl)); err != nil {
				return fmt.Errorf("set profile view: %w", err)
			}
		}
		return nil
	})
}

// LastScreenViewBySession returns the session's latest screen view, or nil
// when nothing is buffered.
func (b *ScreenViewBuffer) LastScreenViewBySession(_ context.Context, projectID, sessionID string) (*models.Event, error) {
	if sessionID == "" {
		return nil, nil
	}
	return b.get(sessionViewKey(projectID, sessionID))
}

// LastScreenViewByProfile returns the profile's latest screen view, or nil
// when nothing is buffered.
func (b *ScreenViewBuffer) LastScreenViewByProfile(_ context.Context, projectID, profileID string) (*models.Event, error) {
	if profileID == "" {
		return nil, nil
	}
	return b.get(profileViewKey(projectID, profileID))
}

func (b *ScreenViewBuffer) get(key string) (*models.Event, error) {
	var event models.Event
	found := false

	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get screen view: %w", err)
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &event)
		})
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &event, nil
}

func sessionViewKey(projectID, sessionID string) string {
	return sessionViewKeyPrefix + projectID + ":" + sessionID
}

func profileViewKey(projectID, profileID string) string {
	return profileViewKeyPrefix + projectID + ":" + profileID
}
