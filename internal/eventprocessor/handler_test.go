// OpenPanel - Web Analytics Event Ingestion Pipeline
// Copyright 2026 OpenPanel Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jojovvz/openpanel

package eventprocessor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/jojovvz/openpanel/internal/models"
)

type fakeProcessor struct {
	err  error
	jobs []*models.IncomingEventJob
}

func (f *fakeProcessor) Process(_ context.Context, job *models.IncomingEventJob) (*models.Event, error) {
	f.jobs = append(f.jobs, job)
	if f.err != nil {
		return nil, f.err
	}
	return &models.Event{ID: "evt-1", Name: job.Event.Name, ProjectID: job.ProjectID}, nil
}

func sampleJob() *models.IncomingEventJob {
	return &models.IncomingEventJob{
		ProjectID: "proj-1",
		Event: models.TrackedEvent{
			Name:      "screen_view",
			Timestamp: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
			Properties: map[string]any{
				"__path": "https://shop.example/",
			},
		},
		Headers: map[string]string{
			models.HeaderRequestID: "req-42",
		},
		CurrentDeviceID: "dev-1",
	}
}

func TestSerializeRoundtrip(t *testing.T) {
	t.Parallel()

	job := sampleJob()
	data, err := SerializeJob(job)
	if err != nil {
		t.Fatalf("SerializeJob: %v", err)
	}

	got, err := DeserializeJob(data)
	if err != nil {
		t.Fatalf("DeserializeJob: %v", err)
	}
	if got.ProjectID != "proj-1" || got.Event.Name != "screen_view" {
		t.Errorf("roundtrip = %q/%q", got.ProjectID, got.Event.Name)
	}
	if got.Header(models.HeaderRequestID) != "req-42" {
		t.Errorf("headers lost: %#v", got.Headers)
	}
	if !got.Event.Timestamp.Equal(job.Event.Timestamp) {
		t.Errorf("Timestamp = %v", got.Event.Timestamp)
	}
}

func TestDeserializeRejectsIncompleteJobs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload string
	}{
		{"not json", "{nope"},
		{"missing project", `{"event":{"name":"x","timestamp":"2026-03-14T09:00:00Z"}}`},
		{"missing event name", `{"projectId":"proj-1","event":{"timestamp":"2026-03-14T09:00:00Z"}}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := DeserializeJob([]byte(tc.payload)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestHandleProcessesJob(t *testing.T) {
	t.Parallel()

	processor := &fakeProcessor{}
	handler := NewIncomingEventHandler(processor)

	data, err := SerializeJob(sampleJob())
	if err != nil {
		t.Fatalf("SerializeJob: %v", err)
	}
	msg := message.NewMessage("job-1", data)

	if err := handler.Handle(msg); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(processor.jobs) != 1 {
		t.Fatalf("processed = %d jobs", len(processor.jobs))
	}
	if processor.jobs[0].CurrentDeviceID != "dev-1" {
		t.Errorf("job fields lost: %+v", processor.jobs[0])
	}
}

func TestHandleAcksMalformedPayload(t *testing.T) {
	t.Parallel()

	processor := &fakeProcessor{}
	handler := NewIncomingEventHandler(processor)

	msg := message.NewMessage("job-1", []byte("{nope"))

	// Malformed bytes never reach the pipeline and never nack.
	if err := handler.Handle(msg); err != nil {
		t.Fatalf("Handle returned %v, want nil", err)
	}
	if len(processor.jobs) != 0 {
		t.Errorf("malformed payload reached pipeline")
	}
}

func TestHandleNacksPipelineFailure(t *testing.T) {
	t.Parallel()

	processor := &fakeProcessor{err: errors.New("store down")}
	handler := NewIncomingEventHandler(processor)

	data, err := SerializeJob(sampleJob())
	if err != nil {
		t.Fatalf("SerializeJob: %v", err)
	}

	if err := handler.Handle(message.NewMessage("job-1", data)); err == nil {
		t.Fatal("expected error for pipeline failure")
	}
}
