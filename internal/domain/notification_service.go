package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

type NotificationService struct {
	repo NotificationRepository
}

func NewNotificationService(repo NotificationRepository) *NotificationService {
	return &NotificationService{
		repo: repo,
	}
}

// List returns a page of the user's visible notifications, newest first.
func (s *NotificationService) List(ctx context.Context, userID uuid.UUID, params ListParams) ([]*Notification, error) {
	if params.Type != nil && !params.Type.Valid() {
		return nil, fmt.Errorf("unknown notification type %q: %w", *params.Type, ErrBadRequest)
	}
	return s.repo.ListNotifications(ctx, userID, params.Normalized())
}

func (s *NotificationService) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.repo.CountUnreadNotifications(ctx, userID)
}

// MarkRead flips one notification to read. Rows owned by someone else, already deleted or
// missing are all reported as ErrNotFound.
func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error {
	ok, err := s.repo.MarkNotificationRead(ctx, userID, notificationID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if !ok {
		return fmt.Errorf("notification %s: %w", notificationID, ErrNotFound)
	}
	return nil
}

// MarkAllRead returns how many notifications changed; a repeated call returns 0.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	n, err := s.repo.MarkAllNotificationsRead(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return n, nil
}

func (s *NotificationService) SoftDelete(ctx context.Context, userID, notificationID uuid.UUID) error {
	ok, err := s.repo.SoftDeleteNotification(ctx, userID, notificationID)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	if !ok {
		return fmt.Errorf("notification %s: %w", notificationID, ErrNotFound)
	}
	return nil
}

// Create inserts a notification on behalf of an originator.
func (s *NotificationService) Create(ctx context.Context, n NewNotification) (*Notification, error) {
	if n.UserID == uuid.Nil {
		return nil, fmt.Errorf("user_id required: %w", ErrBadRequest)
	}
	if !n.Type.Valid() {
		return nil, fmt.Errorf("unknown notification type %q: %w", n.Type, ErrBadRequest)
	}
	return s.repo.CreateNotification(ctx, n)
}

// PreferenceService reads and writes the per-user push preferences.
type PreferenceService struct {
	repo PreferenceRepository
}

func NewPreferenceService(repo PreferenceRepository) *PreferenceService {
	return &PreferenceService{repo: repo}
}

// Get returns the stored record, or an all-absent record when the user has none.
func (s *PreferenceService) Get(ctx context.Context, userID uuid.UUID) (*PushPreferences, error) {
	prefs, err := s.repo.GetPushPreferences(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return &PushPreferences{UserID: userID}, nil
		}
		return nil, err
	}
	return prefs, nil
}

func (s *PreferenceService) Update(ctx context.Context, userID uuid.UUID, prefs PushPreferences) (*PushPreferences, error) {
	prefs.UserID = userID
	return s.repo.UpsertPushPreferences(ctx, &prefs)
}

// TokenService manages the device token registry.
type TokenService struct {
	repo PushTokenRepository
}

func NewTokenService(repo PushTokenRepository) *TokenService {
	return &TokenService{repo: repo}
}

func (s *TokenService) Register(ctx context.Context, userID uuid.UUID, req RegisterTokenRequest) (*PushToken, error) {
	if req.Token == "" {
		return nil, fmt.Errorf("token required: %w", ErrBadRequest)
	}
	return s.repo.UpsertPushToken(ctx, userID, req.Token, req.Platform)
}

func (s *TokenService) Unregister(ctx context.Context, userID uuid.UUID, token string) error {
	if token == "" {
		return fmt.Errorf("token required: %w", ErrBadRequest)
	}
	return s.repo.DeletePushToken(ctx, userID, token)
}
