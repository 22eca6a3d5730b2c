package services

import (
	"context"
	"fmt"
	"time"

	"github.com/motionlabs/cswatch/ent"
	"github.com/motionlabs/cswatch/ent/messageevent"
	"github.com/motionlabs/cswatch/ent/ticket"
	"github.com/motionlabs/cswatch/pkg/models"
)

// MetricsService computes the dashboard overview aggregates.
type MetricsService struct {
	client   *ent.Client
	location *time.Location
}

// NewMetricsService creates a new MetricsService. The location defines the
// "today" window (KST in production).
func NewMetricsService(client *ent.Client, location *time.Location) *MetricsService {
	if client == nil {
		panic("NewMetricsService: client must not be nil")
	}
	if location == nil {
		location = time.UTC
	}
	return &MetricsService{client: client, location: location}
}

// Overview returns the headline metrics block.
func (s *MetricsService) Overview(ctx context.Context) (models.OverviewMetrics, error) {
	now := time.Now().In(s.location)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.location)

	var out models.OverviewMetrics

	todayInbound, err := s.client.MessageEvent.Query().
		Where(
			messageevent.SenderTypeEQ(messageevent.SenderTypeCustomer),
			messageevent.ReceivedAtGTE(dayStart.UTC()),
		).
		Count(ctx)
	if err != nil {
		return out, fmt.Errorf("counting today's inbound: %w", err)
	}

	openTickets, err := s.client.Ticket.Query().
		Where(ticket.StatusNEQ(ticket.StatusDone)).
		Count(ctx)
	if err != nil {
		return out, fmt.Errorf("counting open tickets: %w", err)
	}

	breached, err := s.client.Ticket.Query().
		Where(
			ticket.StatusNEQ(ticket.StatusDone),
			ticket.SlaBreachedEQ(true),
		).
		Count(ctx)
	if err != nil {
		return out, fmt.Errorf("counting breached tickets: %w", err)
	}

	urgent, err := s.client.Ticket.Query().
		Where(
			ticket.StatusNEQ(ticket.StatusDone),
			ticket.PriorityEQ(ticket.PriorityUrgent),
		).
		Count(ctx)
	if err != nil {
		return out, fmt.Errorf("counting urgent tickets: %w", err)
	}

	responded, err := s.client.Ticket.Query().
		Where(
			ticket.CreatedAtGTE(dayStart.UTC()),
			ticket.FirstResponseSecNotNil(),
		).
		All(ctx)
	if err != nil {
		return out, fmt.Errorf("loading responded tickets: %w", err)
	}
	var avg float64
	if len(responded) > 0 {
		var sum int
		for _, t := range responded {
			sum += *t.FirstResponseSec
		}
		avg = float64(sum) / float64(len(responded))
	}

	out = models.OverviewMetrics{
		TodayInbound:     todayInbound,
		SLABreachedCount: breached,
		UrgentCount:      urgent,
		OpenTickets:      openTickets,
		AvgResponseSec:   avg,
	}
	return out, nil
}
