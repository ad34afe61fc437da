// OpenPanel - Web Analytics Event Ingestion Pipeline
// Copyright 2026 OpenPanel Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jojovvz/openpanel

package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/jojovvz/openpanel/internal/config"
	"github.com/jojovvz/openpanel/internal/logging"
	"github.com/jojovvz/openpanel/internal/models"
)

// Sender delivers one event to one webhook endpoint.
type Sender interface {
	Send(ctx context.Context, webhookURL string, event *models.Event) error
}

// RuleChecker matches events against notification rules and delivers the
// matches. Rules are indexed at construction; checking an event is a map
// lookup, not a scan.
type RuleChecker struct {
	sender Sender

	// byProject indexes rules by project ID, then event name. The ""
	// event name bucket matches every event of the project.
	byProject map[string]map[string][]config.NotificationRule
}

// NewRuleChecker builds a checker over the configured rules.
func NewRuleChecker(rules []config.NotificationRule, sender Sender) (*RuleChecker, error) {
	if sender == nil {
		return nil, fmt.Errorf("sender required")
	}

	byProject := make(map[string]map[string][]config.NotificationRule)
	for _, rule := range rules {
		byName := byProject[rule.ProjectID]
		if byName == nil {
			byName = make(map[string][]config.NotificationRule)
			byProject[rule.ProjectID] = byName
		}
		byName[rule.EventName] = append(byName[rule.EventName], rule)
	}
	return &RuleChecker{sender: sender, byProject: byProject}, nil
}

// CheckEvent delivers the event to every matching rule's webhook. Failed
// deliveries are aggregated into one error; the caller logs and moves on.
func (c *RuleChecker) CheckEvent(ctx context.Context, event *models.Event) error {
	byName, ok := c.byProject[event.ProjectID]
	if !ok {
		return nil
	}

	matches := make([]config.NotificationRule, 0, 2)
	matches = append(matches, byName[event.Name]...)
	if event.Name != "" {
		matches = append(matches, byName[""]...)
	}

	var errs []error
	for _, rule := range matches {
		if err := c.sender.Send(ctx, rule.WebhookURL, event); err != nil {
			logging.Ctx(ctx).Warn().Err(err).
				Str("project_id", event.ProjectID).
				Str("event", event.Name).
				Str("webhook_url", rule.WebhookURL).
				Msg("Webhook delivery failed")
			errs = append(errs, fmt.Errorf("deliver to %s: %w", rule.WebhookURL, err))
		}
	}
	return errors.Join(errs...)
}

// RuleCount returns the number of configured rules, for startup logging.
func (c *RuleChecker) RuleCount() int {
	n := 0
	for _, byName := range c.byProject {
		for _, rules := range byName {
			n += len(rules)
		}
	}
	return n
}
