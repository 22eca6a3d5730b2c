// Package sla watches open tickets for first-response deadline breaches and
// alerts exactly once per ticket.
package sla

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/motionlabs/cswatch/ent"
	"github.com/motionlabs/cswatch/ent/messageevent"
	"github.com/motionlabs/cswatch/ent/notification"
	"github.com/motionlabs/cswatch/ent/ticket"
	"github.com/motionlabs/cswatch/pkg/services"
	"github.com/motionlabs/cswatch/pkg/slack"
)

// Monitor is the SLA breach scanner. Ticks are serialized: a slow pass delays
// but never overlaps the next one.
type Monitor struct {
	client        *ent.Client
	threshold     time.Duration
	tick          time.Duration
	slack         *slack.Service // nil = Slack disabled
	notifications *services.NotificationService
	logger        *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMonitor creates an SLA monitor.
func NewMonitor(
	client *ent.Client,
	threshold, tick time.Duration,
	slackService *slack.Service,
	notifications *services.NotificationService,
) *Monitor {
	return &Monitor{
		client:        client,
		threshold:     threshold,
		tick:          tick,
		slack:         slackService,
		notifications: notifications,
		logger:        slog.Default().With("component", "sla-monitor"),
		stopCh:        make(chan struct{}),
	}
}

// Start begins the tick loop in a goroutine.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.run(ctx)
}

// Stop signals the monitor to stop and waits for the in-flight tick.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()
	m.logger.Info("SLA monitor started",
		"threshold", m.threshold, "tick", m.tick)

	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			m.logger.Info("SLA monitor shutting down")
			return
		case <-ctx.Done():
			m.logger.Info("Context cancelled, SLA monitor shutting down")
			return
		case <-ticker.C:
			if err := m.Tick(ctx); err != nil {
				m.logger.Error("SLA tick failed", "error", err)
			}
		}
	}
}

// Tick runs one scan pass. Exported so tests can drive the monitor without
// the timer.
func (m *Monitor) Tick(ctx context.Context) error {
	now := time.Now().UTC()
	cutoff := now.Add(-m.threshold)

	candidates, err := m.client.Ticket.Query().
		Where(
			ticket.SlaBreachedEQ(false),
			ticket.FirstInboundAtNotNil(),
			ticket.FirstInboundAtLTE(cutoff),
			ticket.StatusIn(ticket.StatusNew, ticket.StatusInProgress),
		).
		Order(ent.Asc(ticket.FieldFirstInboundAt)).
		All(ctx)
	if err != nil {
		return fmt.Errorf("scanning candidates: %w", err)
	}

	for _, cand := range candidates {
		select {
		case <-m.stopCh:
			return nil
		case <-ctx.Done():
			return nil
		default:
		}
		if err := m.breach(ctx, cand.ID, now); err != nil {
			m.logger.Error("Failed to record breach", "ticket_id", cand.ID, "error", err)
		}
	}
	return nil
}

// breach re-checks the predicate under the row lock, flips the flag, writes
// the notification, commits, and only then attempts Slack delivery.
func (m *Monitor) breach(ctx context.Context, ticketID string, now time.Time) error {
	tx, err := m.client.Tx(ctx)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	locked, err := tx.Ticket.Query().
		Where(ticket.IDEQ(ticketID)).
		ForUpdate().
		Only(ctx)
	if err != nil {
		return fmt.Errorf("locking ticket: %w", err)
	}
	if !breachEligible(locked, now, m.threshold) {
		// A staff reply or an earlier pass won the race.
		return nil
	}

	elapsed := int(now.Sub(*locked.FirstInboundAt) / time.Minute)

	if err := tx.Ticket.UpdateOneID(locked.ID).
		SetSlaBreached(true).
		Exec(ctx); err != nil {
		return fmt.Errorf("setting breach flag: %w", err)
	}

	if _, err := tx.Notification.Create().
		SetID(uuid.New().String()).
		SetType(notification.TypeSlaBreach).
		SetTitle("SLA breach: "+locked.ClinicKey).
		SetMessage(fmt.Sprintf("%s has waited %d minutes for a first response.", locked.ClinicKey, elapsed)).
		SetLink("/tickets/"+locked.ID).
		SetTicketID(locked.ID).
		Save(ctx); err != nil {
		if ent.IsConstraintError(err) {
			// Unique breach-per-ticket index: someone already alerted.
			return nil
		}
		return fmt.Errorf("inserting breach notification: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing breach: %w", err)
	}

	m.logger.Warn("SLA breached",
		"ticket_id", locked.ID, "clinic_key", locked.ClinicKey, "elapsed_min", elapsed)

	m.deliverSlack(ctx, locked, elapsed)
	return nil
}

// breachEligible is the breach predicate evaluated under the row lock.
func breachEligible(t *ent.Ticket, now time.Time, threshold time.Duration) bool {
	if t.SlaBreached || t.FirstInboundAt == nil {
		return false
	}
	if now.Sub(*t.FirstInboundAt) < threshold {
		return false
	}
	switch t.Status {
	case ticket.StatusNew:
		return true
	case ticket.StatusInProgress:
		// Operator-forced in_progress without an actual staff reply still
		// counts as waiting for the first response.
		return t.LastOutboundAt == nil || t.LastOutboundAt.Before(*t.FirstInboundAt)
	default:
		return false
	}
}

// deliverSlack posts the alert after commit; failures become a system
// notification, never a rollback.
func (m *Monitor) deliverSlack(ctx context.Context, t *ent.Ticket, elapsed int) {
	if m.slack == nil {
		return
	}

	lastCustomer := ""
	last, err := m.client.MessageEvent.Query().
		Where(
			messageevent.TicketIDEQ(t.ID),
			messageevent.SenderTypeEQ(messageevent.SenderTypeCustomer),
		).
		Order(ent.Desc(messageevent.FieldReceivedAt)).
		First(ctx)
	if err == nil {
		lastCustomer = last.TextRaw
	} else if !ent.IsNotFound(err) {
		m.logger.Warn("Failed to load latest customer text", "ticket_id", t.ID, "error", err)
	}

	if err := m.slack.NotifyBreach(ctx, slack.BreachInput{
		TicketID:       t.ID,
		ClinicKey:      t.ClinicKey,
		ElapsedMinutes: elapsed,
		LastCustomer:   lastCustomer,
	}); err != nil {
		m.logger.Error("Slack delivery failed", "ticket_id", t.ID, "error", err)
		if nerr := m.notifications.CreateSystem(ctx,
			"Slack delivery degraded",
			fmt.Sprintf("Breach alert for ticket %s could not be delivered: %v", t.ID, err),
		); nerr != nil {
			m.logger.Error("Failed to record system notification", "error", nerr)
		}
	}
}
