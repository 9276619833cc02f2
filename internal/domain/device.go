package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PushToken is one registered delivery endpoint (e.g. an Expo push token) of a user.
type PushToken struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Token     string    `json:"token"`
	Platform  string    `json:"platform,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type RegisterTokenRequest struct {
	Token    string `json:"token" validate:"required,max=512"`
	Platform string `json:"platform" validate:"omitempty,oneof=ios android web"`
}

type PushTokenRepository interface {
	ListPushTokens(ctx context.Context, userID uuid.UUID) ([]string, error)
	UpsertPushToken(ctx context.Context, userID uuid.UUID, token, platform string) (*PushToken, error)
	DeletePushToken(ctx context.Context, userID uuid.UUID, token string) error
	DeleteStalePushTokens(ctx context.Context, olderThan time.Time) (int64, error)
}
