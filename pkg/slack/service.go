package slack

import (
	"context"
	"log/slog"
	"time"

	"github.com/forge-health/compliance-diagnostics/pkg/breach"
)

// ServiceConfig holds the parameters needed to construct a Service.
type ServiceConfig struct {
	Token        string
	Channel      string
	DashboardURL string
}

// Service delivers breach-notification deadline alerts to a Slack
// channel, implementing breach.Notifier. Nil-safe: every method is a
// no-op when the service itself is nil, matching the workflow's
// "notifier is optional" contract.
type Service struct {
	client       *Client
	dashboardURL string
	logger       *slog.Logger
}

// NewService creates a new Slack notification service. Returns nil if
// Token or Channel is empty, so callers can wire it unconditionally.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return &Service{
		client:       NewClient(cfg.Token, cfg.Channel),
		dashboardURL: cfg.DashboardURL,
		logger:       slog.Default().With("component", "slack-service"),
	}
}

// NewServiceWithClient creates a Service backed by a pre-built Client.
// Useful for testing against a mock API server.
func NewServiceWithClient(client *Client, dashboardURL string) *Service {
	return &Service{
		client:       client,
		dashboardURL: dashboardURL,
		logger:       slog.Default().With("component", "slack-service"),
	}
}

// Notify implements breach.Notifier. It threads every alert for the same
// incident under the first message it finds bearing the incident's id,
// so a chain of tiered alerts reads as one growing thread rather than N
// unrelated messages. Fail-open: Slack errors are logged, never
// propagated, since a missed Slack post must never block the workflow
// from recording that the alert tier fired.
func (s *Service) Notify(ctx context.Context, inc *breach.Incident, level breach.AlertLevel, _ string) error {
	if s == nil {
		return nil
	}

	threadTS, err := s.client.FindMessageByFingerprint(ctx, inc.ID)
	if err != nil {
		s.logger.Warn("failed to find slack thread for incident",
			"incident_id", inc.ID, "error", err)
	}

	blocks := BuildDeadlineAlertMessage(inc, level, s.dashboardURL)
	if err := s.client.PostMessage(ctx, blocks, threadTS, 10*time.Second); err != nil {
		s.logger.Error("failed to send breach deadline alert",
			"incident_id", inc.ID, "level", level, "error", err)
	}
	return nil
}
