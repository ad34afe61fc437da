// OpenPanel - Web Analytics Event Ingestion Pipeline
// Copyright 2026 OpenPanel Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jojovvz/openpanel

// Package eventprocessor runs the durable event queue: an embedded NATS
// JetStream broker, the publisher feeding it from the HTTP edge, and the
// subscriber/router pair that drives incoming jobs through the enrichment
// pipeline with retries and a poison queue.
package eventprocessor

import (
	"time"

	"github.com/jojovvz/openpanel/internal/config"
)

// Queue topology.
const (
	// StreamName is the JetStream stream holding incoming event jobs.
	StreamName = "EVENTS"

	// TopicIncomingEvents carries raw incoming event jobs from the HTTP
	// edge to the pipeline workers.
	TopicIncomingEvents = "events.incoming"

	// HandlerIncomingEvents names the pipeline consumer handler.
	HandlerIncomingEvents = "incoming-events"
)

// ServerConfig configures the embedded NATS server.
type ServerConfig struct {
	Host              string
	Port              int
	StoreDir          string
	JetStreamMaxMem   int64
	JetStreamMaxStore int64
}

// DefaultServerConfig returns production defaults for the embedded server.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:              "127.0.0.1",
		Port:              4222,
		StoreDir:          "/data/nats/jetstream",
		JetStreamMaxMem:   1 << 30,  // 1GB
		JetStreamMaxStore: 10 << 30, // 10GB
	}
}

// PublisherConfig configures the queue publisher.
type PublisherConfig struct {
	URL              string
	MaxReconnects    int
	ReconnectWait    time.Duration
	ReconnectBuffer  int
	EnableTrackMsgID bool
}

// DefaultPublisherConfig returns production defaults for the publisher.
func DefaultPublisherConfig(url string) PublisherConfig {
	return PublisherConfig{
		URL:              url,
		MaxReconnects:    -1, // Unlimited
		ReconnectWait:    2 * time.Second,
		ReconnectBuffer:  8 * 1024 * 1024, // 8MB
		EnableTrackMsgID: true,
	}
}

// SubscriberConfig configures the durable queue subscriber.
type SubscriberConfig struct {
	URL              string
	DurableName      string
	QueueGroup       string
	SubscribersCount int
	AckWaitTimeout   time.Duration
	MaxDeliver       int
	MaxAckPending    int
	CloseTimeout     time.Duration
	MaxReconnects    int
	ReconnectWait    time.Duration

	// StreamName binds the subscriber to a pre-created stream instead of
	// auto-provisioning one per topic.
	StreamName string
}

// DefaultSubscriberConfig returns production defaults for the subscriber.
func DefaultSubscriberConfig(url string) SubscriberConfig {
	return SubscriberConfig{
		URL:              url,
		DurableName:      "event-processor",
		QueueGroup:       "processors",
		SubscribersCount: 4,
		AckWaitTimeout:   30 * time.Second,
		MaxDeliver:       5,
		MaxAckPending:    1000,
		CloseTimeout:     30 * time.Second,
		MaxReconnects:    -1,
		ReconnectWait:    2 * time.Second,
		StreamName:       StreamName,
	}
}

// StreamConfig configures the JetStream stream.
type StreamConfig struct {
	Name            string
	Subjects        []string
	MaxAge          time.Duration
	MaxBytes        int64
	MaxMsgs         int64
	DuplicateWindow time.Duration
	Replicas        int
}

// DefaultStreamConfig returns the production stream configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Name:            StreamName,
		Subjects:        []string{TopicIncomingEvents, "dlq.>"},
		MaxAge:          7 * 24 * time.Hour,
		MaxBytes:        10 << 30, // 10GB
		MaxMsgs:         -1,
		DuplicateWindow: 2 * time.Minute,
		Replicas:        1,
	}
}

// RouterConfig configures the Watermill router middleware chain.
type RouterConfig struct {
	CloseTimeout time.Duration

	RetryMaxRetries      int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	RetryMultiplier      float64

	PoisonQueueTopic string
}

// DefaultRouterConfig returns production defaults for the router.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		CloseTimeout:         30 * time.Second,
		RetryMaxRetries:      3,
		RetryInitialInterval: 100 * time.Millisecond,
		RetryMaxInterval:     time.Minute,
		RetryMultiplier:      2.0,
		PoisonQueueTopic:     "dlq.events",
	}
}

// FromConfig derives the queue component configs from service config.
func FromConfig(cfg *config.NATSConfig) (ServerConfig, PublisherConfig, SubscriberConfig, StreamConfig, RouterConfig) {
	serverCfg := DefaultServerConfig()
	serverCfg.StoreDir = cfg.StoreDir
	serverCfg.JetStreamMaxMem = cfg.MaxMemory
	serverCfg.JetStreamMaxStore = cfg.MaxStore

	pubCfg := DefaultPublisherConfig(cfg.URL)

	subCfg := DefaultSubscriberConfig(cfg.URL)
	if cfg.DurableName != "" {
		subCfg.DurableName = cfg.DurableName
	}
	if cfg.QueueGroup != "" {
		subCfg.QueueGroup = cfg.QueueGroup
	}
	if cfg.SubscribersCount > 0 {
		subCfg.SubscribersCount = cfg.SubscribersCount
	}

	streamCfg := DefaultStreamConfig()
	if cfg.StreamRetentionDays > 0 {
		streamCfg.MaxAge = time.Duration(cfg.StreamRetentionDays) * 24 * time.Hour
	}

	routerCfg := DefaultRouterConfig()
	if cfg.RouterRetryCount > 0 {
		routerCfg.RetryMaxRetries = cfg.RouterRetryCount
	}
	if cfg.RouterRetryInitialInterval > 0 {
		routerCfg.RetryInitialInterval = cfg.RouterRetryInitialInterval
	}
	if cfg.RouterCloseTimeout > 0 {
		routerCfg.CloseTimeout = cfg.RouterCloseTimeout
	}
	if !cfg.RouterPoisonQueueEnabled {
		routerCfg.PoisonQueueTopic = ""
	} else if cfg.RouterPoisonQueueTopic != "" {
		routerCfg.PoisonQueueTopic = cfg.RouterPoisonQueueTopic
	}

	return serverCfg, pubCfg, subCfg, streamCfg, routerCfg
}
