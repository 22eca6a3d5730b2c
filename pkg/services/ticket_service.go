package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/motionlabs/cswatch/ent"
	"github.com/motionlabs/cswatch/ent/messageevent"
	"github.com/motionlabs/cswatch/ent/notification"
	"github.com/motionlabs/cswatch/ent/ticket"
	"github.com/motionlabs/cswatch/pkg/models"
)

// TicketService owns the per-room conversation state machine and all ticket
// reads for the dashboard.
type TicketService struct {
	client       *ent.Client
	slaThreshold time.Duration
}

// NewTicketService creates a new TicketService.
func NewTicketService(client *ent.Client, slaThreshold time.Duration) *TicketService {
	if client == nil {
		panic("NewTicketService: client must not be nil")
	}
	return &TicketService{client: client, slaThreshold: slaThreshold}
}

// EventFacts is the slice of an ingested event the state machine needs.
type EventFacts struct {
	ClinicKey  string
	Staff      bool
	ReceivedAt time.Time
}

// ApplyEvent finds or creates the room's open ticket and applies the state
// transition for one event. It must run inside the ingest transaction, after
// the per-clinic advisory lock is held; the open-ticket read takes the row
// lock so concurrent writers on an existing ticket serialize either way.
func (s *TicketService) ApplyEvent(ctx context.Context, tx *ent.Tx, f EventFacts) (*ent.Ticket, error) {
	t := f.ReceivedAt.UTC()

	open, err := tx.Ticket.Query().
		Where(
			ticket.ClinicKeyEQ(f.ClinicKey),
			ticket.StatusNEQ(ticket.StatusDone),
		).
		ForUpdate().
		Only(ctx)
	switch {
	case err == nil:
		return s.transition(ctx, open, f.Staff, t)
	case ent.IsNotFound(err):
		return s.createTicket(ctx, tx, f.ClinicKey, f.Staff, t)
	case ent.IsNotSingular(err):
		// Schema-layer invariant broken; refuse to guess which ticket wins.
		slog.Error("Invariant violation: multiple open tickets for clinic",
			"clinic_key", f.ClinicKey, "error", err)
		// Written outside the ingest transaction so it survives the rollback.
		if _, nerr := s.client.Notification.Create().
			SetID(uuid.New().String()).
			SetType(notification.TypeSystem).
			SetTitle("Invariant violation: multiple open tickets").
			SetMessage(fmt.Sprintf("Clinic %q has more than one open ticket; ingest refused.", f.ClinicKey)).
			Save(ctx); nerr != nil {
			slog.Error("Failed to record invariant notification", "error", nerr)
		}
		return nil, fmt.Errorf("multiple open tickets for clinic %q: %w", f.ClinicKey, err)
	default:
		return nil, fmt.Errorf("querying open ticket: %w", err)
	}
}

// createTicket opens a brand-new ticket for the room.
func (s *TicketService) createTicket(ctx context.Context, tx *ent.Tx, clinicKey string, staff bool, t time.Time) (*ent.Ticket, error) {
	builder := tx.Ticket.Create().
		SetID(uuid.New().String()).
		SetClinicKey(clinicKey)

	if staff {
		builder.
			SetStatus(ticket.StatusInProgress).
			SetLastOutboundAt(t)
	} else {
		builder.
			SetStatus(ticket.StatusNew).
			SetFirstInboundAt(t).
			SetLastInboundAt(t)
	}

	created, err := builder.Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating ticket: %w", err)
	}
	return created, nil
}

// transition applies one event to an open ticket.
func (s *TicketService) transition(ctx context.Context, open *ent.Ticket, staff bool, t time.Time) (*ent.Ticket, error) {
	update := open.Update()

	if staff {
		update.SetLastOutboundAt(t)
		if open.Status == ticket.StatusNew {
			update.SetStatus(ticket.StatusInProgress)
		}
		// First staff reply after the inquiry opened; set exactly once.
		if open.FirstResponseSec == nil && open.FirstInboundAt != nil && !t.Before(*open.FirstInboundAt) {
			update.SetFirstResponseSec(int(t.Sub(*open.FirstInboundAt) / time.Second))
		}
	} else {
		update.SetLastInboundAt(t)
		if open.Status == ticket.StatusWaiting {
			// Re-inquiry: re-arm the SLA clock.
			update.
				SetStatus(ticket.StatusNew).
				SetFirstInboundAt(t).
				SetSlaBreached(false)
		} else if open.FirstInboundAt == nil {
			// Staff-opened ticket receiving its first customer message.
			update.SetFirstInboundAt(t)
		}
	}

	updated, err := update.Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("applying ticket transition: %w", err)
	}
	return updated, nil
}

// UpdateTicket applies operator edits under the row lock. Operator writes may
// raise or lower priority freely.
func (s *TicketService) UpdateTicket(ctx context.Context, ticketID string, patch models.TicketPatch) (*ent.Ticket, error) {
	if patch.Status != nil {
		if err := ticket.StatusValidator(ticket.Status(*patch.Status)); err != nil {
			return nil, NewValidationError("status", "must be one of new, in_progress, waiting, done")
		}
	}
	if patch.Priority != nil {
		if err := ticket.PriorityValidator(ticket.Priority(*patch.Priority)); err != nil {
			return nil, NewValidationError("priority", "must be one of low, normal, high, urgent")
		}
	}

	tx, err := s.client.Tx(ctx)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := tx.Ticket.Query().
		Where(ticket.IDEQ(ticketID)).
		ForUpdate().
		Only(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading ticket: %w", err)
	}

	update := current.Update()
	if patch.Status != nil {
		update.SetStatus(ticket.Status(*patch.Status))
	}
	if patch.Priority != nil {
		update.SetPriority(ticket.Priority(*patch.Priority))
	}
	if patch.NextAction != nil {
		update.SetNextAction(*patch.NextAction)
	}
	if patch.NeedsReply != nil {
		update.SetNeedsReply(*patch.NeedsReply)
	}

	updated, err := update.Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("updating ticket: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing ticket update: %w", err)
	}
	return updated, nil
}

// AnnotationFacts is the slice of a classification result the ticket absorbs.
type AnnotationFacts struct {
	Topic      string
	Summary    string
	NextAction string
	Urgency    string
}

// ApplyClassification enriches the ticket from an annotation inside the
// caller's transaction, under the row lock. Inferred priority never lowers
// the current one.
func (s *TicketService) ApplyClassification(ctx context.Context, tx *ent.Tx, ticketID string, facts AnnotationFacts) error {
	current, err := tx.Ticket.Query().
		Where(ticket.IDEQ(ticketID)).
		ForUpdate().
		Only(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("loading ticket: %w", err)
	}

	update := current.Update()
	if facts.Topic != "" {
		update.SetTopicPrimary(facts.Topic)
	}
	if facts.Summary != "" {
		update.SetSummaryLatest(facts.Summary)
	}
	if facts.NextAction != "" {
		update.SetNextAction(facts.NextAction)
	}
	if inferred, ok := models.PriorityForUrgency(facts.Urgency); ok {
		if models.PriorityRank(inferred) > models.PriorityRank(string(current.Priority)) {
			update.SetPriority(ticket.Priority(inferred))
		}
	}

	if err := update.Exec(ctx); err != nil {
		return fmt.Errorf("enriching ticket: %w", err)
	}
	return nil
}

// GetTicket loads a ticket by id.
func (s *TicketService) GetTicket(ctx context.Context, ticketID string) (*ent.Ticket, error) {
	t, err := s.client.Ticket.Get(ctx, ticketID)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading ticket: %w", err)
	}
	return t, nil
}

// ListTickets returns one dashboard page and the total match count.
func (s *TicketService) ListTickets(ctx context.Context, params models.TicketListParams) ([]*ent.Ticket, int, error) {
	query := s.client.Ticket.Query()

	if params.Status != "" {
		var statuses []ticket.Status
		for _, st := range strings.Split(params.Status, ",") {
			st = strings.TrimSpace(st)
			if err := ticket.StatusValidator(ticket.Status(st)); err != nil {
				return nil, 0, NewValidationError("status", "invalid status: "+st)
			}
			statuses = append(statuses, ticket.Status(st))
		}
		query = query.Where(ticket.StatusIn(statuses...))
	}
	if params.Priority != "" {
		if err := ticket.PriorityValidator(ticket.Priority(params.Priority)); err != nil {
			return nil, 0, NewValidationError("priority", "invalid priority: "+params.Priority)
		}
		query = query.Where(ticket.PriorityEQ(ticket.Priority(params.Priority)))
	}
	if params.ClinicKey != "" {
		query = query.Where(ticket.ClinicKeyEQ(params.ClinicKey))
	}
	if params.SLABreached != nil {
		query = query.Where(ticket.SlaBreachedEQ(*params.SLABreached))
	}

	total, err := query.Clone().Count(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("counting tickets: %w", err)
	}

	page := params.Page
	if page < 1 {
		page = 1
	}
	limit := params.Limit
	if limit < 1 {
		limit = 25
	}

	items, err := query.
		Order(ent.Desc(ticket.FieldUpdatedAt)).
		Offset((page - 1) * limit).
		Limit(limit).
		All(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("listing tickets: %w", err)
	}
	return items, total, nil
}

// ListTicketEvents returns a ticket's events oldest-first, annotations included.
func (s *TicketService) ListTicketEvents(ctx context.Context, ticketID string) ([]*ent.MessageEvent, error) {
	exists, err := s.client.Ticket.Query().Where(ticket.IDEQ(ticketID)).Exist(ctx)
	if err != nil {
		return nil, fmt.Errorf("checking ticket: %w", err)
	}
	if !exists {
		return nil, ErrNotFound
	}

	events, err := s.client.MessageEvent.Query().
		Where(messageevent.TicketIDEQ(ticketID)).
		WithAnnotation().
		Order(ent.Asc(messageevent.FieldReceivedAt), ent.Asc(messageevent.FieldServerReceivedAt)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing ticket events: %w", err)
	}
	return events, nil
}

// SLARemaining computes the remaining first-response budget in seconds.
// Negative when overdue; nil when no inquiry clock is running.
func (s *TicketService) SLARemaining(t *ent.Ticket, now time.Time) *int {
	if t.FirstInboundAt == nil {
		return nil
	}
	remaining := int((s.slaThreshold - now.Sub(*t.FirstInboundAt)) / time.Second)
	return &remaining
}
