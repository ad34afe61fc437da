// OpenPanel - Web Analytics Event Ingestion Pipeline
// Copyright 2026 OpenPanel Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jojovvz/openpanel

package eventprocessor

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/jojovvz/openpanel/internal/models"
)

// SerializeJob encodes a job for the wire.
func SerializeJob(job *models.IncomingEventJob) ([]byte, error) {
	if job == nil {
		return nil, fmt.Errorf("nil job")
	}
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	return data, nil
}

// DeserializeJob decodes a job from the wire.
func DeserializeJob(data []byte) (*models.IncomingEventJob, error) {
	var job models.IncomingEventJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	if job.ProjectID == "" {
		return nil, fmt.Errorf("job missing project id")
	}
	if job.Event.Name == "" {
		return nil, fmt.Errorf("job missing event name")
	}
	return &job, nil
}
