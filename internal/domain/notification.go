package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NotificationType is the closed set of notification categories.
type NotificationType string

const (
	TypeSignal       NotificationType = "signal"
	TypeEvent        NotificationType = "event"
	TypeAnnouncement NotificationType = "announcement"
	TypeSystem       NotificationType = "system"
)

// NotificationTypes lists every valid type in display order.
var NotificationTypes = []NotificationType{TypeSignal, TypeEvent, TypeAnnouncement, TypeSystem}

func (t NotificationType) Valid() bool {
	switch t {
	case TypeSignal, TypeEvent, TypeAnnouncement, TypeSystem:
		return true
	}
	return false
}

// ParseNotificationType validates s against the closed set.
func ParseNotificationType(s string) (NotificationType, error) {
	t := NotificationType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown notification type %q: %w", s, ErrBadRequest)
	}
	return t, nil
}

// Map alias for JSONB data
type Map map[string]interface{}

type Notification struct {
	ID        uuid.UUID        `json:"id"`
	UserID    uuid.UUID        `json:"user_id"`
	Type      NotificationType `json:"notification_type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	ActionURL *string          `json:"action_url,omitempty"`
	Metadata  Map              `json:"metadata,omitempty"`
	Read      bool             `json:"read"`
	Deleted   bool             `json:"deleted"`
	CreatedAt time.Time        `json:"created_at"`
	ReadAt    *time.Time       `json:"read_at,omitempty"`
	DeletedAt *time.Time       `json:"deleted_at,omitempty"`
}

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// ListParams selects a page of a user's notifications.
type ListParams struct {
	Limit      int               `json:"limit" validate:"gte=0,lte=100"`
	Offset     int               `json:"offset" validate:"gte=0"`
	Type       *NotificationType `json:"type,omitempty" validate:"omitempty,oneof=signal event announcement system"`
	UnreadOnly bool              `json:"unread_only"`
}

// Normalized fills in the default page size.
func (p ListParams) Normalized() ListParams {
	if p.Limit <= 0 {
		p.Limit = DefaultListLimit
	}
	if p.Limit > MaxListLimit {
		p.Limit = MaxListLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// NewNotification is what an originator (signal/event creation, admin, system) inserts.
type NewNotification struct {
	UserID    uuid.UUID        `json:"user_id" validate:"required"`
	Type      NotificationType `json:"notification_type" validate:"required,oneof=signal event announcement system"`
	Title     string           `json:"title" validate:"required,max=200"`
	Message   string           `json:"message" validate:"required,max=2000"`
	ActionURL *string          `json:"action_url,omitempty" validate:"omitempty,max=2048"`
	Metadata  Map              `json:"metadata,omitempty"`
}

// ChangeOp is the row-level operation carried by a change event.
type ChangeOp string

const (
	OpInsert ChangeOp = "INSERT"
	OpUpdate ChangeOp = "UPDATE"
	OpDelete ChangeOp = "DELETE"
)

// ChangeEvent says that something changed for a user's notifications. Consumers refetch;
// the event is not a replacement for the row.
type ChangeEvent struct {
	Op             ChangeOp  `json:"op"`
	NotificationID uuid.UUID `json:"id"`
	UserID         uuid.UUID `json:"user_id"`
}

type NotificationRepository interface {
	GetNotification(ctx context.Context, id uuid.UUID) (*Notification, error)
	ListNotifications(ctx context.Context, userID uuid.UUID, params ListParams) ([]*Notification, error)
	CountUnreadNotifications(ctx context.Context, userID uuid.UUID) (int, error)
	// MarkNotificationRead reports false when no visible row owned by userID matched.
	MarkNotificationRead(ctx context.Context, userID, notificationID uuid.UUID) (bool, error)
	MarkAllNotificationsRead(ctx context.Context, userID uuid.UUID) (int64, error)
	SoftDeleteNotification(ctx context.Context, userID, notificationID uuid.UUID) (bool, error)
	CreateNotification(ctx context.Context, n NewNotification) (*Notification, error)
}
