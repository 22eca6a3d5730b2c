// Package slack delivers SLA breach alerts to a Slack incoming webhook.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goslack "github.com/slack-go/slack"
)

const (
	postTimeout  = 10 * time.Second
	maxAttempts  = 3
	retryBackoff = 2 * time.Second
)

// BreachInput contains data for one SLA breach alert.
type BreachInput struct {
	TicketID       string
	ClinicKey      string
	ElapsedMinutes int
	LastCustomer   string // most recent customer text, may be empty
}

// Service posts alerts to the configured webhook.
// Nil-safe: all methods are no-ops when the service is nil.
type Service struct {
	webhookURL string
	logger     *slog.Logger

	// postWebhook is swapped in tests to point at a local server.
	postWebhook func(ctx context.Context, url string, msg *goslack.WebhookMessage) error
}

// NewService creates a new Slack notification service.
// Returns nil when no webhook is configured.
func NewService(webhookURL string) *Service {
	if webhookURL == "" {
		return nil
	}
	return &Service{
		webhookURL:  webhookURL,
		logger:      slog.Default().With("component", "slack-service"),
		postWebhook: goslack.PostWebhookContext,
	}
}

// NotifyBreach posts one breach alert with bounded retries.
// Fail-open: the error is returned for the caller to record, never to roll
// back the breach itself.
func (s *Service) NotifyBreach(ctx context.Context, input BreachInput) error {
	if s == nil {
		return nil
	}

	text := fmt.Sprintf(
		":rotating_light: *SLA breach* — %s\nTicket `%s` has waited %d minutes for a first response.",
		input.ClinicKey, input.TicketID, input.ElapsedMinutes)
	if input.LastCustomer != "" {
		text += fmt.Sprintf("\n>%s", truncate(input.LastCustomer, 500))
	}

	return s.post(ctx, &goslack.WebhookMessage{Text: text})
}

// post sends one webhook message, retrying any failed attempt up to
// maxAttempts times in all.
func (s *Service) post(ctx context.Context, msg *goslack.WebhookMessage) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		postCtx, cancel := context.WithTimeout(ctx, postTimeout)
		err := s.postWebhook(postCtx, s.webhookURL, msg)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		s.logger.Warn("Slack webhook post failed",
			"attempt", attempt, "error", err)
		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBackoff * time.Duration(attempt)):
			}
		}
	}
	return fmt.Errorf("posting to Slack webhook after %d attempts: %w", maxAttempts, lastErr)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
