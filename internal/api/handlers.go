// OpenPanel - Web Analytics Event Ingestion Pipeline
// Copyright 2026 OpenPanel Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jojovvz/openpanel

package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/jojovvz/openpanel/internal/config"
	"github.com/jojovvz/openpanel/internal/logging"
	"github.com/jojovvz/openpanel/internal/metrics"
	"github.com/jojovvz/openpanel/internal/models"
	"github.com/jojovvz/openpanel/internal/useragent"
	"github.com/jojovvz/openpanel/internal/validation"
)

// maxTrackBodyBytes caps the /track request body. SDK payloads are small;
// anything larger is abuse or a broken client.
const maxTrackBodyBytes = 1 << 20

// Request headers consumed by the ingress.
const (
	headerClientID = "openpanel-client-id"

	// Geo headers are attached by the upstream edge (CDN or LB). Geo
	// resolution itself does not happen in this service.
	headerGeoCountry   = "x-geo-country"
	headerGeoCity      = "x-geo-city"
	headerGeoRegion    = "x-geo-region"
	headerGeoLatitude  = "x-geo-latitude"
	headerGeoLongitude = "x-geo-longitude"
)

// JobPublisher enqueues enrichment jobs for the event processor.
type JobPublisher interface {
	PublishJob(ctx context.Context, jobID string, job *models.IncomingEventJob) error
}

// BotRecorder persists crawler traffic outside the event pipeline.
type BotRecorder interface {
	InsertBotEvent(ctx context.Context, projectID, name, path, userAgent string, createdAt time.Time) error
}

// Handler implements the ingress endpoints.
type Handler struct {
	ingest    config.IngestConfig
	publisher JobPublisher
	bots      BotRecorder
	now       func() time.Time
}

// NewHandler creates the ingress handler. bots may be nil when bot
// accounting is disabled.
func NewHandler(ingest config.IngestConfig, publisher JobPublisher, bots BotRecorder) *Handler {
	return &Handler{
		ingest:    ingest,
		publisher: publisher,
		bots:      bots,
		now:       time.Now,
	}
}

// Track handles POST /track: validate the SDK payload, fingerprint the
// device, attach upstream geo, and enqueue the job. Enrichment itself is
// asynchronous; a 202 means the event is durably queued, not yet stored.
func (h *Handler) Track(w http.ResponseWriter, r *http.Request) {
	projectID := r.Header.Get(headerClientID)
	if projectID == "" {
		respondError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "Missing openpanel-client-id header", nil)
		return
	}

	var payload models.TrackPayload
	body := http.MaxBytesReader(w, r.Body, maxTrackBodyBytes)
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON body", err.Error())
		return
	}

	if payload.Type == models.EventScreenView && payload.Payload.Name == "" {
		payload.Payload.Name = models.EventScreenView
	}
	if err := validation.ValidateStruct(&payload); err != nil {
		apiErr := err.ToAPIError()
		respondError(w, r, http.StatusBadRequest, apiErr.Code, apiErr.Message, apiErr.Details)
		return
	}

	rawUA := r.Header.Get(models.HeaderUserAgent)
	uaInfo := useragent.Parse(rawUA, payload.Payload.Properties)
	if uaInfo.IsBot {
		h.recordBot(r.Context(), projectID, &payload, rawUA)
		respondJSON(w, http.StatusOK, &APIResponse{
			Success: true,
			Data:    map[string]any{"bot": true},
		})
		return
	}

	identity := DeriveDeviceIdentity(
		h.ingest.DeviceIDSalt,
		h.ingest.SaltRotation,
		h.now(),
		clientIP(r),
		rawUA,
		projectID,
	)

	job := &models.IncomingEventJob{
		Geo:              geoFromHeaders(r),
		Event:            payload.Payload,
		ProjectID:        projectID,
		CurrentDeviceID:  identity.Current,
		PreviousDeviceID: identity.Previous,
		Priority:         jobPriority(&payload),
		Headers: map[string]string{
			models.HeaderRequestID:  logging.RequestIDFromContext(r.Context()),
			models.HeaderUserAgent:  rawUA,
			models.HeaderSdkName:    r.Header.Get(models.HeaderSdkName),
			models.HeaderSdkVersion: r.Header.Get(models.HeaderSdkVersion),
		},
	}

	jobID := uuid.New().String()
	if err := h.publisher.PublishJob(r.Context(), jobID, job); err != nil {
		logging.Ctx(r.Context()).Error().Err(err).
			Str("project_id", projectID).
			Str("event_name", payload.Payload.Name).
			Msg("Failed to enqueue event")
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeUnavailable, "Event queue unavailable", nil)
		return
	}

	respondJSON(w, http.StatusAccepted, &APIResponse{
		Success: true,
		Data:    map[string]any{"jobId": jobID},
	})
}

// recordBot writes crawler traffic to the bot table. Failures are logged,
// never surfaced: bot accounting must not affect the response.
func (h *Handler) recordBot(ctx context.Context, projectID string, payload *models.TrackPayload, rawUA string) {
	metrics.BotEventsTotal.Inc()
	if h.bots == nil {
		return
	}

	path, _ := payload.Payload.Properties["__path"].(string)
	if err := h.bots.InsertBotEvent(ctx, projectID, payload.Payload.Name, path, rawUA, payload.Payload.Timestamp); err != nil {
		logging.Ctx(ctx).Error().Err(err).
			Str("project_id", projectID).
			Msg("Failed to record bot event")
	}
}

// jobPriority ranks jobs racing to create a session for the same device.
// Screen views carry the navigation fields a fresh session should capture,
// so they outrank custom events in the session store's tie-break.
func jobPriority(payload *models.TrackPayload) int {
	if payload.Type == models.EventScreenView {
		return 1
	}
	return 0
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, &APIResponse{
		Success: true,
		Data:    map[string]any{"status": "ok"},
	})
}

func geoFromHeaders(r *http.Request) models.GeoLocation {
	geo := models.GeoLocation{
		Country: r.Header.Get(headerGeoCountry),
		City:    r.Header.Get(headerGeoCity),
		Region:  r.Header.Get(headerGeoRegion),
	}
	if lat, err := strconv.ParseFloat(r.Header.Get(headerGeoLatitude), 64); err == nil {
		geo.Latitude = &lat
	}
	if long, err := strconv.ParseFloat(r.Header.Get(headerGeoLongitude), 64); err == nil {
		geo.Longitude = &long
	}
	return geo
}
