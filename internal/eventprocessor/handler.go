// OpenPanel - Web Analytics Event Ingestion Pipeline
// Copyright 2026 OpenPanel Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jojovvz/openpanel

package eventprocessor

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/jojovvz/openpanel/internal/logging"
	"github.com/jojovvz/openpanel/internal/models"
)

// Processor runs one incoming event job through the enrichment pipeline.
type Processor interface {
	Process(ctx context.Context, job *models.IncomingEventJob) (*models.Event, error)
}

// IncomingEventHandler consumes jobs from the queue and drives them through
// the pipeline. Returned errors nack the message: the router retries and
// eventually routes the job to the poison queue.
type IncomingEventHandler struct {
	processor Processor
}

// NewIncomingEventHandler creates the queue-facing pipeline handler.
func NewIncomingEventHandler(processor Processor) *IncomingEventHandler {
	return &IncomingEventHandler{processor: processor}
}

// Handle processes one queue message.
//
// A payload that cannot be deserialized is acked and logged rather than
// returned as an error: no number of retries fixes malformed bytes, and
// nacking would only move them through the retry chain to the poison queue
// with the parse failure hidden.
func (h *IncomingEventHandler) Handle(msg *message.Message) error {
	ctx := msg.Context()

	job, err := DeserializeJob(msg.Payload)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).
			Str("message_uuid", msg.UUID).
			Msg("Dropping malformed event job")
		return nil
	}

	ctx = logging.ContextWithRequestID(ctx, job.RequestID())

	if _, err := h.processor.Process(ctx, job); err != nil {
		logging.Ctx(ctx).Error().Err(err).
			Str("message_uuid", msg.UUID).
			Str("project_id", job.ProjectID).
			Str("event", job.Event.Name).
			Msg("Event job failed")
		return err
	}
	return nil
}

// Register attaches the handler to the router on the incoming events topic.
func (h *IncomingEventHandler) Register(router *Router, subscriber *Subscriber) {
	router.AddConsumerHandler(
		HandlerIncomingEvents,
		TopicIncomingEvents,
		subscriber.Messages(),
		h.Handle,
	)
}
