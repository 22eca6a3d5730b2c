package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/motionlabs/cswatch/ent"
	"github.com/motionlabs/cswatch/ent/notification"
)

// NotificationService manages the operator notification feed.
type NotificationService struct {
	client *ent.Client
}

// NewNotificationService creates a new NotificationService.
func NewNotificationService(client *ent.Client) *NotificationService {
	if client == nil {
		panic("NewNotificationService: client must not be nil")
	}
	return &NotificationService{client: client}
}

// CreateSystem records an operator-visible system notice (degraded LLM,
// failing Slack delivery, and similar).
func (s *NotificationService) CreateSystem(ctx context.Context, title, message string) error {
	_, err := s.client.Notification.Create().
		SetID(uuid.New().String()).
		SetType(notification.TypeSystem).
		SetTitle(title).
		SetMessage(message).
		Save(ctx)
	if err != nil {
		return fmt.Errorf("creating system notification: %w", err)
	}
	return nil
}

// List returns the newest notifications first.
func (s *NotificationService) List(ctx context.Context, unreadOnly bool, limit int) ([]*ent.Notification, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	query := s.client.Notification.Query()
	if unreadOnly {
		query = query.Where(notification.IsReadEQ(false))
	}
	items, err := query.
		Order(ent.Desc(notification.FieldCreatedAt)).
		Limit(limit).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	return items, nil
}

// MarkRead marks a single notification as read.
func (s *NotificationService) MarkRead(ctx context.Context, id string) error {
	err := s.client.Notification.UpdateOneID(id).
		SetIsRead(true).
		Exec(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("marking notification read: %w", err)
	}
	return nil
}

// MarkAllRead marks every unread notification as read and returns the count.
func (s *NotificationService) MarkAllRead(ctx context.Context) (int, error) {
	n, err := s.client.Notification.Update().
		Where(notification.IsReadEQ(false)).
		SetIsRead(true).
		Save(ctx)
	if err != nil {
		return 0, fmt.Errorf("marking notifications read: %w", err)
	}
	return n, nil
}
