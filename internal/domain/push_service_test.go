package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockNotificationReader struct{ mock.Mock }

func (m *mockNotificationReader) GetNotification(ctx context.Context, id uuid.UUID) (*Notification, error) {
	args := m.Called(ctx, id)
	if n, _ := args.Get(0).(*Notification); n != nil {
		return n, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockPreferenceRepo struct{ mock.Mock }

func (m *mockPreferenceRepo) GetPushPreferences(ctx context.Context, userID uuid.UUID) (*PushPreferences, error) {
	args := m.Called(ctx, userID)
	if p, _ := args.Get(0).(*PushPreferences); p != nil {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockPreferenceRepo) UpsertPushPreferences(ctx context.Context, prefs *PushPreferences) (*PushPreferences, error) {
	args := m.Called(ctx, prefs)
	if p, _ := args.Get(0).(*PushPreferences); p != nil {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockTokenRepo struct{ mock.Mock }

func (m *mockTokenRepo) ListPushTokens(ctx context.Context, userID uuid.UUID) ([]string, error) {
	args := m.Called(ctx, userID)
	tokens, _ := args.Get(0).([]string)
	return tokens, args.Error(1)
}

func (m *mockTokenRepo) UpsertPushToken(ctx context.Context, userID uuid.UUID, token, platform string) (*PushToken, error) {
	args := m.Called(ctx, userID, token, platform)
	if t, _ := args.Get(0).(*PushToken); t != nil {
		return t, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTokenRepo) DeletePushToken(ctx context.Context, userID uuid.UUID, token string) error {
	return m.Called(ctx, userID, token).Error(0)
}

func (m *mockTokenRepo) DeleteStalePushTokens(ctx context.Context, olderThan time.Time) (int64, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

// recordingGateway accepts every message unless failOn matches the batch number (1-based).
type recordingGateway struct {
	batches [][]PushMessage
	failOn  int
}

func (g *recordingGateway) SendBatch(_ context.Context, messages []PushMessage) (int, error) {
	g.batches = append(g.batches, messages)
	if g.failOn == len(g.batches) {
		return 0, &GatewayError{StatusCode: 500, Body: `{"errors":[{"code":"INTERNAL"}]}`}
	}
	return len(messages), nil
}

// --- helpers ---

func boolPtr(b bool) *bool { return &b }

func tokens(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("ExponentPushToken[%d]", i)
	}
	return out
}

type pushFixture struct {
	notifications *mockNotificationReader
	prefs         *mockPreferenceRepo
	tokens        *mockTokenRepo
	gateway       *recordingGateway
	svc           *PushService
	n             *Notification
}

func newPushFixture(t *testing.T, typ NotificationType) *pushFixture {
	t.Helper()
	url := "/signals/42"
	f := &pushFixture{
		notifications: &mockNotificationReader{},
		prefs:         &mockPreferenceRepo{},
		tokens:        &mockTokenRepo{},
		gateway:       &recordingGateway{},
		n: &Notification{
			ID:        uuid.New(),
			UserID:    uuid.New(),
			Type:      typ,
			Title:     "EUR/USD buy",
			Message:   "Entry 1.0850, SL 1.0820",
			ActionURL: &url,
			Metadata:  Map{"pair": "EUR/USD"},
			CreatedAt: time.Now(),
		},
	}
	f.svc = NewPushService(f.notifications, f.prefs, f.tokens, f.gateway, nil)
	f.notifications.On("GetNotification", mock.Anything, f.n.ID).Return(f.n, nil)
	return f
}

// --- Send tests ---

func TestSend_MissingID(t *testing.T) {
	f := newPushFixture(t, TypeSignal)
	_, err := f.svc.Send(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrBadRequest)
	f.notifications.AssertNotCalled(t, "GetNotification", mock.Anything, mock.Anything)
}

func TestSend_UnknownNotification(t *testing.T) {
	f := newPushFixture(t, TypeSignal)
	missing := uuid.New()
	f.notifications.On("GetNotification", mock.Anything, missing).Return(nil, ErrNotFound)

	_, err := f.svc.Send(context.Background(), missing.String())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, f.gateway.batches)
}

func TestSend_LookupErrorIsNotFound(t *testing.T) {
	f := newPushFixture(t, TypeSignal)
	id := uuid.New()
	f.notifications.On("GetNotification", mock.Anything, id).Return(nil, errors.New("connection reset"))

	_, err := f.svc.Send(context.Background(), id.String())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSend_MalformedIDIsNotFound(t *testing.T) {
	f := newPushFixture(t, TypeSignal)
	_, err := f.svc.Send(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSend_PreferenceDisabled_Skips(t *testing.T) {
	f := newPushFixture(t, TypeSignal)
	f.prefs.On("GetPushPreferences", mock.Anything, f.n.UserID).
		Return(&PushPreferences{PushSignals: boolPtr(false)}, nil)

	res, err := f.svc.Send(context.Background(), f.n.ID.String())
	require.NoError(t, err)
	assert.Equal(t, PushSkipped, res.Outcome)
	assert.NotEmpty(t, res.Reason)
	assert.Empty(t, f.gateway.batches)
	f.tokens.AssertNotCalled(t, "ListPushTokens", mock.Anything, mock.Anything)
}

func TestSend_OtherFlagDisabled_StillSends(t *testing.T) {
	f := newPushFixture(t, TypeSignal)
	f.prefs.On("GetPushPreferences", mock.Anything, f.n.UserID).
		Return(&PushPreferences{PushEvents: boolPtr(false)}, nil)
	f.tokens.On("ListPushTokens", mock.Anything, f.n.UserID).Return(tokens(1), nil)

	res, err := f.svc.Send(context.Background(), f.n.ID.String())
	require.NoError(t, err)
	assert.Equal(t, PushSent, res.Outcome)
	assert.Equal(t, 1, res.Sent)
}

func TestSend_NoPreferenceRecord_FailsOpen(t *testing.T) {
	f := newPushFixture(t, TypeAnnouncement)
	f.prefs.On("GetPushPreferences", mock.Anything, f.n.UserID).Return(nil, ErrNotFound)
	f.tokens.On("ListPushTokens", mock.Anything, f.n.UserID).Return(tokens(2), nil)

	res, err := f.svc.Send(context.Background(), f.n.ID.String())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, 2, res.Tokens)
}

func TestSend_PreferenceLookupError_FailsOpen(t *testing.T) {
	f := newPushFixture(t, TypeEvent)
	f.prefs.On("GetPushPreferences", mock.Anything, f.n.UserID).Return(nil, errors.New("timeout"))
	f.tokens.On("ListPushTokens", mock.Anything, f.n.UserID).Return(tokens(1), nil)

	res, err := f.svc.Send(context.Background(), f.n.ID.String())
	require.NoError(t, err)
	assert.Equal(t, PushSent, res.Outcome)
}

func TestSend_NoTokens(t *testing.T) {
	f := newPushFixture(t, TypeSystem)
	f.prefs.On("GetPushPreferences", mock.Anything, f.n.UserID).
		Return(&PushPreferences{PushCourses: boolPtr(true)}, nil)
	f.tokens.On("ListPushTokens", mock.Anything, f.n.UserID).Return([]string{}, nil)

	res, err := f.svc.Send(context.Background(), f.n.ID.String())
	require.NoError(t, err)
	assert.Equal(t, PushNoTokens, res.Outcome)
	assert.Equal(t, "No push tokens for user", res.Reason)
	assert.Equal(t, 0, res.Sent)
	assert.Empty(t, f.gateway.batches)
}

func TestSend_TokenLookupError(t *testing.T) {
	f := newPushFixture(t, TypeSignal)
	f.prefs.On("GetPushPreferences", mock.Anything, f.n.UserID).Return(nil, ErrNotFound)
	f.tokens.On("ListPushTokens", mock.Anything, f.n.UserID).Return(nil, errors.New("db down"))

	_, err := f.svc.Send(context.Background(), f.n.ID.String())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Empty(t, f.gateway.batches)
}

func TestSend_150Tokens_TwoBatches(t *testing.T) {
	f := newPushFixture(t, TypeSignal)
	f.prefs.On("GetPushPreferences", mock.Anything, f.n.UserID).Return(nil, ErrNotFound)
	f.tokens.On("ListPushTokens", mock.Anything, f.n.UserID).Return(tokens(150), nil)

	res, err := f.svc.Send(context.Background(), f.n.ID.String())
	require.NoError(t, err)
	require.Len(t, f.gateway.batches, 2)
	assert.Len(t, f.gateway.batches[0], 100)
	assert.Len(t, f.gateway.batches[1], 50)
	assert.Equal(t, 150, res.Sent)
	assert.Equal(t, 150, res.Tokens)
	assert.Equal(t, 2, res.Batches)
}

func TestSend_FirstBatchFails_StopsBeforeSecond(t *testing.T) {
	f := newPushFixture(t, TypeSignal)
	f.gateway.failOn = 1
	f.prefs.On("GetPushPreferences", mock.Anything, f.n.UserID).Return(nil, ErrNotFound)
	f.tokens.On("ListPushTokens", mock.Anything, f.n.UserID).Return(tokens(150), nil)

	_, err := f.svc.Send(context.Background(), f.n.ID.String())
	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Contains(t, gwErr.Details(), "INTERNAL")
	assert.Len(t, f.gateway.batches, 1)
}

func TestSend_MessageShape(t *testing.T) {
	f := newPushFixture(t, TypeSignal)
	f.prefs.On("GetPushPreferences", mock.Anything, f.n.UserID).Return(nil, ErrNotFound)
	f.tokens.On("ListPushTokens", mock.Anything, f.n.UserID).Return([]string{"tok-a", "tok-b"}, nil)

	_, err := f.svc.Send(context.Background(), f.n.ID.String())
	require.NoError(t, err)

	msgs := f.gateway.batches[0]
	require.Len(t, msgs, 2)
	assert.Equal(t, "tok-a", msgs[0].To)
	assert.Equal(t, "tok-b", msgs[1].To)
	for _, m := range msgs {
		assert.Equal(t, f.n.Title, m.Title)
		assert.Equal(t, f.n.Message, m.Body)
		assert.Equal(t, "default", m.Sound)
		assert.Equal(t, "default", m.ChannelID)
		assert.Equal(t, f.n.ID.String(), m.Data.NotificationID)
		assert.Equal(t, TypeSignal, m.Data.NotificationType)
		assert.Equal(t, "/signals/42", *m.Data.ActionURL)
		assert.Equal(t, "EUR/USD", m.Data.Metadata["pair"])
	}
}

func TestBatch(t *testing.T) {
	msgs := make([]PushMessage, 201)
	batches := Batch(msgs, 100)
	require.Len(t, batches, 3)
	assert.Len(t, batches[2], 1)
	assert.Empty(t, Batch(nil, 100))
}

func TestPreferenceFlagFor_OneToOne(t *testing.T) {
	seen := map[PreferenceFlag]bool{}
	for _, typ := range NotificationTypes {
		flag, ok := PreferenceFlagFor(typ)
		require.True(t, ok, typ)
		assert.False(t, seen[flag], "flag %s mapped twice", flag)
		seen[flag] = true
	}
	_, ok := PreferenceFlagFor("chat")
	assert.False(t, ok)
}

func TestPushPreferences_Flag(t *testing.T) {
	var nilPrefs *PushPreferences
	assert.Equal(t, FlagAbsent, nilPrefs.Flag(FlagPushSignals))

	p := &PushPreferences{PushSignals: boolPtr(true), PushEvents: boolPtr(false)}
	assert.Equal(t, FlagEnabled, p.Flag(FlagPushSignals))
	assert.Equal(t, FlagDisabled, p.Flag(FlagPushEvents))
	assert.Equal(t, FlagAbsent, p.Flag(FlagPushAnalyses))

	assert.True(t, FlagAbsent.AllowsPush())
	assert.True(t, FlagEnabled.AllowsPush())
	assert.False(t, FlagDisabled.AllowsPush())
}
