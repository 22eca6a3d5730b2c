package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/motionlabs/cswatch/ent"
	"github.com/motionlabs/cswatch/ent/messageevent"
	"github.com/motionlabs/cswatch/pkg/models"
)

// Ingest payload bounds.
const (
	maxTextRawBytes  = 8192
	maxChatRoomBytes = 512
)

// EventService is the single write path for raw message events. Each submit
// runs one transaction: dedup insert plus the ticket transition, serialized
// per clinic by an advisory lock. No external I/O happens here.
type EventService struct {
	client      *ent.Client
	tickets     *TicketService
	dedupWindow time.Duration
}

// NewEventService creates a new EventService.
func NewEventService(client *ent.Client, tickets *TicketService, dedupWindow time.Duration) *EventService {
	if client == nil {
		panic("NewEventService: client must not be nil")
	}
	if tickets == nil {
		panic("NewEventService: tickets must not be nil")
	}
	return &EventService{
		client:      client,
		tickets:     tickets,
		dedupWindow: dedupWindow,
	}
}

// Submit validates, dedups, persists one event, and applies the ticket
// transition. Replays of the same delivery return the original event id with
// Deduped set.
func (s *EventService) Submit(ctx context.Context, input models.SubmitEventInput) (models.SubmitEventResult, error) {
	if err := validateSubmit(input); err != nil {
		return models.SubmitEventResult{}, err
	}

	sender := ClassifySender(input.SenderName)
	textHash := EventTextHash(input.ChatRoom, input.SenderName, input.TextRaw)
	bucketTS := BucketTimestamp(input.ReceivedAt, s.dedupWindow)

	tx, err := s.client.Tx(ctx)
	if err != nil {
		return models.SubmitEventResult{}, fmt.Errorf("starting transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Serialize all writers for this room, including ticket creation where
	// no row exists to lock yet.
	if _, err := tx.ExecContext(ctx,
		"SELECT pg_advisory_xact_lock(hashtext($1))", input.ChatRoom); err != nil {
		return models.SubmitEventResult{}, fmt.Errorf("acquiring clinic lock: %w", err)
	}

	existing, err := tx.MessageEvent.Query().
		Where(
			messageevent.TextHashEQ(textHash),
			messageevent.BucketTsEQ(bucketTS),
		).
		Only(ctx)
	if err == nil {
		// Duplicate delivery: no new row, no ticket transition.
		if cerr := tx.Commit(); cerr != nil {
			return models.SubmitEventResult{}, fmt.Errorf("committing dedup read: %w", cerr)
		}
		return models.SubmitEventResult{EventID: existing.ID, Deduped: true}, nil
	}
	if !ent.IsNotFound(err) {
		return models.SubmitEventResult{}, fmt.Errorf("checking dedup identity: %w", err)
	}

	tkt, err := s.tickets.ApplyEvent(ctx, tx, EventFacts{
		ClinicKey:  input.ChatRoom,
		Staff:      sender.Staff,
		ReceivedAt: input.ReceivedAt,
	})
	if err != nil {
		return models.SubmitEventResult{}, err
	}

	builder := tx.MessageEvent.Create().
		SetID(uuid.New().String()).
		SetDeviceID(input.DeviceID).
		SetChatRoom(input.ChatRoom).
		SetSenderName(input.SenderName).
		SetTextRaw(input.TextRaw).
		SetReceivedAt(input.ReceivedAt.UTC()).
		SetTextHash(textHash).
		SetBucketTs(bucketTS).
		SetTicketID(tkt.ID)

	if sender.Staff {
		builder.
			SetSenderType(messageevent.SenderTypeStaff).
			SetStaffMember(sender.StaffMember)
	} else {
		builder.SetSenderType(messageevent.SenderTypeCustomer)
	}
	if input.NotificationID != "" {
		builder.SetNotificationID(input.NotificationID)
	}

	created, err := builder.Save(ctx)
	if err != nil {
		// Unique-index conflict means another writer persisted the same
		// delivery after our read; treat it as the dedup case.
		if ent.IsConstraintError(err) {
			_ = tx.Rollback()
			winner, qerr := s.client.MessageEvent.Query().
				Where(
					messageevent.TextHashEQ(textHash),
					messageevent.BucketTsEQ(bucketTS),
				).
				Only(ctx)
			if qerr != nil {
				return models.SubmitEventResult{}, fmt.Errorf("resolving dedup conflict: %w", qerr)
			}
			return models.SubmitEventResult{EventID: winner.ID, Deduped: true}, nil
		}
		return models.SubmitEventResult{}, fmt.Errorf("inserting event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return models.SubmitEventResult{}, fmt.Errorf("committing ingest: %w", err)
	}
	return models.SubmitEventResult{EventID: created.ID, Deduped: false}, nil
}

func validateSubmit(input models.SubmitEventInput) error {
	if input.DeviceID == "" {
		return NewValidationError("device_id", "required")
	}
	if input.ChatRoom == "" {
		return NewValidationError("chat_room", "required")
	}
	if len(input.ChatRoom) > maxChatRoomBytes {
		return NewValidationError("chat_room", fmt.Sprintf("must be at most %d bytes", maxChatRoomBytes))
	}
	if input.SenderName == "" {
		return NewValidationError("sender_name", "required")
	}
	if input.TextRaw == "" {
		return NewValidationError("text", "required")
	}
	if len(input.TextRaw) > maxTextRawBytes {
		return NewValidationError("text", fmt.Sprintf("must be at most %d bytes", maxTextRawBytes))
	}
	if input.ReceivedAt.IsZero() {
		return NewValidationError("received_at", "required")
	}
	return nil
}
