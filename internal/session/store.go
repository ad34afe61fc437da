// OpenPanel - Web Analytics Event Ingestion Pipeline
// Copyright 2026 OpenPanel Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jojovvz/openpanel

// Package session tracks visitor sessions in BadgerDB. A session is keyed by
// device ID (and, when known, by profile ID) within a project, and expires
// after a period of inactivity. Resolution either reuses the active session
// or creates a new one, reporting which of the two happened so the caller
// can close out the predecessor.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/jojovvz/openpanel/internal/pipeline"
)

// Key prefixes for BadgerDB storage
const (
	deviceKeyPrefix  = "sess_device:"
	profileKeyPrefix = "sess_profile:"
)

// DefaultIdleTimeout is the inactivity window after which a session is
// considered over.
const DefaultIdleTimeout = 30 * time.Minute

// maxTxnRetries bounds the optimistic-concurrency retry loop when
// concurrent events race to claim a session for the same device.
const maxTxnRetries = 5

// Config holds session store settings.
type Config struct {
	// IdleTimeout is the inactivity window that ends a session.
	// Zero means DefaultIdleTimeout.
	IdleTimeout time.Duration
}

// record is the stored form of an active session.
type record struct {
	SessionID    string    `json:"sessionId"`
	DeviceID     string    `json:"deviceId"`
	ProfileID    string    `json:"profileId,omitempty"`
	Referrer     string    `json:"referrer,omitempty"`
	ReferrerName string    `json:"referrerName,omitempty"`
	ReferrerType string    `json:"referrerType,omitempty"`
	LastSeenAt   time.Time `json:"lastSeenAt"`
	Priority     int       `json:"priority"`
}

// Store resolves visitor sessions against BadgerDB.
type Store struct {
	db          *badger.DB
	idleTimeout time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// NewStore creates a session store over an open BadgerDB handle.
func NewStore(db *badger.DB, cfg Config) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("badger db required")
	}
	idle := cfg.IdleTimeout
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	return &Store{db: db, idleTimeout: idle, now: time.Now}, nil
}

// Resolve finds the active session for the request's continuity keys,
// checking the current device ID, then the previous one (device IDs rotate
// with the salt window), then the profile. A hit refreshes the session's
// activity clock and re-indexes it under the current device ID. A miss, or
// a session past its idle timeout, creates a fresh session; the returned
// descriptor reports NotFound so the caller can close the predecessor.
//
// Concurrent events for the same visitor serialize through Badger's
// conflict detection: the loser of a racing claim retries and observes the
// winner's session, so one visit never yields two sessions.
func (s *Store) Resolve(ctx context.Context, req pipeline.ResolveRequest) (*pipeline.SessionDescriptor, error) {
	if req.ProjectID == "" {
		return nil, fmt.Errorf("project id required")
	}
	if req.CurrentDeviceID == "" && req.ProfileID == "" {
		return nil, fmt.Errorf("device or profile id required")
	}

	var descriptor *pipeline.SessionDescriptor
	var err error
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		descriptor, err = s.resolveOnce(req)
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}
	return descriptor, nil
}

func (s *Store) resolveOnce(req pipeline.ResolveRequest) (*pipeline.SessionDescriptor, error) {
	now := s.now()
	var descriptor *pipeline.SessionDescriptor

	err := s.db.Update(func(txn *badger.Txn) error {
		rec, supersededID := s.lookup(txn, req, now)

		if rec == nil {
			rec = &record{
				SessionID:    uuid.New().String(),
				DeviceID:     req.CurrentDeviceID,
				ProfileID:    req.ProfileID,
				Referrer:     req.Referrer,
				ReferrerName: req.ReferrerName,
				ReferrerType: req.ReferrerType,
				Priority:     req.Priority,
			}
			descriptor = s.descriptorFor(rec, true)
			descriptor.EndedSessionID = supersededID
		} else {
			// Re-index under the current device ID so continuity survives
			// salt rotation, and remember the profile once it is known.
			if req.CurrentDeviceID != "" {
				rec.DeviceID = req.CurrentDeviceID
			}
			if req.ProfileID != "" {
				rec.ProfileID = req.ProfileID
			}
			if req.Priority > rec.Priority {
				rec.Priority = req.Priority
			}
			descriptor = s.descriptorFor(rec, false)
		}

		rec.LastSeenAt = now
		return s.write(txn, req.ProjectID, rec)
	})
	if err != nil {
		return nil, err
	}
	return descriptor, nil
}

// lookup tries the continuity keys in precedence order and returns the
// active session, or nil when none is live. The second return carries the
// session ID of the first idle entry passed over, the session a subsequent
// create supersedes.
func (s *Store) lookup(txn *badger.Txn, req pipeline.ResolveRequest, now time.Time) (*record, string) {
	keys := make([]string, 0, 3)
	if req.CurrentDeviceID != "" {
		keys = append(keys, deviceKey(req.ProjectID, req.CurrentDeviceID))
	}
	if req.PreviousDeviceID != "" {
		keys = append(keys, deviceKey(req.ProjectID, req.PreviousDeviceID))
	}
	if req.ProfileID != "" {
		keys = append(keys, profileKey(req.ProjectID, req.ProfileID))
	}

	var superseded string
	for _, key := range keys {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			continue
		}

		var rec record
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			continue
		}

		if now.Sub(rec.LastSeenAt) > s.idleTimeout {
			// A fresh write under the same key supersedes the idle entry;
			// remember it so the caller can end it explicitly.
			if superseded == "" {
				superseded = rec.SessionID
			}
			continue
		}
		return &rec, ""
	}
	return nil, superseded
}

// write persists the record under its device key and, when the profile is
// known, the profile key. Entries carry a TTL so abandoned sessions vanish
// without a sweeper.
func (s *Store) write(txn *badger.Txn, projectID string, rec *record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	// Entries outlive the idle timeout slightly so the expiry decision
	// stays with lookup, not the storage engine.
	ttl := s.idleTimeout * 2

	if rec.DeviceID != "" {
		entry := badger.NewEntry([]byte(deviceKey(projectID, rec.DeviceID)), data).WithTTL(ttl)
		if err := txn.SetEntry(entry); err != nil {
			return fmt.Errorf("set device session: %w", err)
		}
	}
	if rec.ProfileID != "" {
		entry := badger.NewEntry([]byte(profileKey(projectID, rec.ProfileID)), data).WithTTL(ttl)
		if err := txn.SetEntry(entry); err != nil {
			return fmt.Errorf("set profile session: %w", err)
		}
	}
	return nil
}

func (s *Store) descriptorFor(rec *record, created bool) *pipeline.SessionDescriptor {
	return &pipeline.SessionDescriptor{
		DeviceID:     rec.DeviceID,
		SessionID:    rec.SessionID,
		Referrer:     rec.Referrer,
		ReferrerName: rec.ReferrerName,
		ReferrerType: rec.ReferrerType,
		NotFound:     created,
	}
}

// EndSession drops every continuity index entry pointing at the given
// session, so the visitor's next event starts a fresh one. Resolve only
// overwrites the key it matched when a successor session begins; the
// pipeline calls this to clear the entries under the remaining keys, such
// as a profile key the successor does not carry.
func (s *Store) EndSession(ctx context.Context, projectID, sessionID string) error {
	if projectID == "" || sessionID == "" {
		return fmt.Errorf("project and session id required")
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	return s.db.Update(func(txn *badger.Txn) error {
		for _, prefix := range []string{deviceKeyPrefix + projectID + ":", profileKeyPrefix + projectID + ":"} {
			opts := badger.DefaultIteratorOptions
			it := txn.NewIterator(opts)

			var stale [][]byte
			for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
				item := it.Item()
				var rec record
				if err := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &rec)
				}); err != nil {
					continue
				}
				if rec.SessionID == sessionID {
					stale = append(stale, item.KeyCopy(nil))
				}
			}
			it.Close()

			for _, key := range stale {
				if err := txn.Delete(key); err != nil {
					return fmt.Errorf("delete session key: %w", err)
				}
			}
		}
		return nil
	})
}

// Count returns the number of live device-keyed sessions, for diagnostics.
func (s *Store) Count(ctx context.Context) (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(deviceKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

func deviceKey(projectID, deviceID string) string {
	return deviceKeyPrefix + projectID + ":" + deviceID
}

func profileKey(projectID, profileID string) string {
	return profileKeyPrefix + projectID + ":" + profileID
}
