// OpenPanel - Web Analytics Event Ingestion Pipeline
// Copyright 2026 OpenPanel Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jojovvz/openpanel

// Package notify evaluates enriched events against notification rules and
// forwards matches to webhooks. Delivery is best effort: the pipeline
// swallows notification errors, so nothing here may block event ingestion
// beyond its own timeout.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/jojovvz/openpanel/internal/models"
)

// WebhookPayload is the JSON body delivered to webhook endpoints.
type WebhookPayload struct {
	Event     *models.Event `json:"event"`
	EventType string        `json:"event_type"` // event_notification
	Timestamp time.Time     `json:"timestamp"`
	Source    string        `json:"source"` // openpanel
}

// WebhookSender delivers payloads over HTTP with a circuit breaker and an
// outbound rate cap. A flapping or dead endpoint trips the breaker so event
// processing stops paying the timeout for every match.
type WebhookSender struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
	limiter *rate.Limiter
}

// NewWebhookSender creates a sender. requestsPerSecond <= 0 disables the
// rate cap.
func NewWebhookSender(timeout time.Duration, requestsPerSecond float64) *WebhookSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	settings := gobreaker.Settings{
		Name:    "webhook-notifier",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if requestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), int(requestsPerSecond)+1)
	}

	return &WebhookSender{
		client:  &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker[*http.Response](settings),
		limiter: limiter,
	}
}

// Send delivers the event to the webhook URL.
func (s *WebhookSender) Send(ctx context.Context, webhookURL string, event *models.Event) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	payload := WebhookPayload{
		Event:     event,
		EventType: "event_notification",
		Timestamp: time.Now().UTC(),
		Source:    "openpanel",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	resp, err := s.breaker.Execute(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("create webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("send webhook: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("webhook returned status %d", resp.StatusCode)
		}
		return resp, nil
	})
	_ = resp
	return err
}
