package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipsignal/backend/internal/auth"
	"github.com/pipsignal/backend/internal/domain"
)

func TestPrintList(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	notifs := []*domain.Notification{
		{
			Type:      domain.TypeSignal,
			Title:     "Long entry",
			Metadata:  domain.Map{"pair": "EURUSD"},
			CreatedAt: now.Add(-5 * time.Minute),
		},
		{
			Type:      domain.TypeAnnouncement,
			Title:     "Weekly outlook",
			Read:      true,
			CreatedAt: now.Add(-3 * time.Hour),
		},
	}

	var buf bytes.Buffer
	printList(&buf, now, notifs)
	out := buf.String()

	assert.Contains(t, out, "Trading signal")
	assert.Contains(t, out, "EURUSD  Long entry")
	assert.Contains(t, out, "5m ago")
	assert.Contains(t, out, "Announcement")
	assert.Contains(t, out, "3h ago")

	buf.Reset()
	printList(&buf, now, nil)
	assert.Equal(t, "No notifications\n", buf.String())
}

func TestUserFromToken(t *testing.T) {
	uid := uuid.New()
	token, err := auth.NewJWTManager("secret", time.Hour).GenerateAccessToken(uid, "")
	require.NoError(t, err)

	got, err := userFromToken(token)
	require.NoError(t, err)
	assert.Equal(t, uid, got)

	_, err = userFromToken("garbage")
	assert.Error(t, err)
}
