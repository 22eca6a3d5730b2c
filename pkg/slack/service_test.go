package slack

import (
	"context"
	"errors"
	"strings"
	"testing"

	goslack "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewService_DisabledWithoutWebhook(t *testing.T) {
	assert.Nil(t, NewService(""))

	// Nil service swallows calls instead of panicking.
	var s *Service
	assert.NoError(t, s.NotifyBreach(context.Background(), BreachInput{TicketID: "t1"}))
}

func TestNotifyBreach_MessageShape(t *testing.T) {
	var posted *goslack.WebhookMessage
	s := NewService("https://hooks.example.com/services/T000/B000/x")
	s.postWebhook = func(_ context.Context, _ string, msg *goslack.WebhookMessage) error {
		posted = msg
		return nil
	}

	err := s.NotifyBreach(context.Background(), BreachInput{
		TicketID:       "a4c2",
		ClinicKey:      "강남A내과 단톡",
		ElapsedMinutes: 21,
		LastCustomer:   "문자 안 나갔어요",
	})
	require.NoError(t, err)
	require.NotNil(t, posted)
	assert.Contains(t, posted.Text, "강남A내과 단톡")
	assert.Contains(t, posted.Text, "a4c2")
	assert.Contains(t, posted.Text, "21 minutes")
	assert.Contains(t, posted.Text, "문자 안 나갔어요")
}

func TestNotifyBreach_RetriesThenFails(t *testing.T) {
	attempts := 0
	s := NewService("https://hooks.example.com/services/T000/B000/x")
	s.postWebhook = func(_ context.Context, _ string, _ *goslack.WebhookMessage) error {
		attempts++
		return errors.New("502 bad gateway")
	}

	err := s.NotifyBreach(context.Background(), BreachInput{TicketID: "t1", ClinicKey: "room"})
	require.Error(t, err)
	assert.Equal(t, maxAttempts, attempts)
}

func TestNotifyBreach_RecoversOnRetry(t *testing.T) {
	attempts := 0
	s := NewService("https://hooks.example.com/services/T000/B000/x")
	s.postWebhook = func(_ context.Context, _ string, _ *goslack.WebhookMessage) error {
		attempts++
		if attempts == 1 {
			return errors.New("timeout")
		}
		return nil
	}

	err := s.NotifyBreach(context.Background(), BreachInput{TicketID: "t1", ClinicKey: "room"})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("가", 600)
	out := truncate(long, 500)
	assert.Equal(t, 501, len([]rune(out)))
	assert.True(t, strings.HasSuffix(out, "…"))

	assert.Equal(t, "short", truncate("short", 500))
}
