package notifyclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pipsignal/backend/internal/api"
	"github.com/pipsignal/backend/internal/auth"
	"github.com/pipsignal/backend/internal/domain"
	"github.com/pipsignal/backend/internal/realtime"
	"github.com/pipsignal/backend/internal/repository"
)

type nopGateway struct{}

func (nopGateway) SendBatch(_ context.Context, messages []domain.PushMessage) (int, error) {
	return len(messages), nil
}

type apiServer struct {
	url  string
	repo *repository.MemoryRepository
	hub  *realtime.Hub
	jwt  *auth.JWTManager
}

func newAPIServer(t *testing.T) *apiServer {
	t.Helper()
	logger := zap.NewNop()
	repo := repository.NewMemoryRepository()
	jwtManager := auth.NewJWTManager("secret", time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	hub := realtime.NewHub(logger)
	go hub.Run(ctx)
	unsubscribe := repo.Subscribe(hub.HandleChange)

	handlers := api.Handlers{
		Notifications: api.NewNotificationHandler(domain.NewNotificationService(repo), logger),
		Push:          api.NewPushHandler(domain.NewPushService(repo, repo, repo, nopGateway{}, logger), "", logger),
		Preferences:   api.NewPreferenceHandler(domain.NewPreferenceService(repo), logger),
		Tokens:        api.NewTokenHandler(domain.NewTokenService(repo), logger),
		Realtime:      api.NewRealtimeHandler(hub, logger),
		Health:        api.NewHealthHandler(repo, "test", logger),
	}
	srv := httptest.NewServer(api.NewRouter(handlers, jwtManager, nil, "svc", nil, logger).Setup())
	t.Cleanup(func() {
		unsubscribe()
		cancel()
		srv.Close()
	})
	return &apiServer{url: srv.URL, repo: repo, hub: hub, jwt: jwtManager}
}

func (s *apiServer) backendFor(t *testing.T, userID uuid.UUID) *HTTPBackend {
	t.Helper()
	tok, err := s.jwt.GenerateAccessToken(userID, "")
	require.NoError(t, err)
	return NewHTTPBackend(s.url, func() string { return tok }, 5*time.Second, nil)
}

func TestHTTPBackend_RoundTrip(t *testing.T) {
	srv := newAPIServer(t)
	user := uuid.New()
	b := srv.backendFor(t, user)
	ctx := context.Background()

	first := create(t, srv.repo, user)
	create(t, srv.repo, user)

	list, err := b.List(ctx, user, domain.ListParams{Limit: 10})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "EURUSD long", list[0].Title)

	n, err := b.UnreadCount(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, b.MarkRead(ctx, user, first.ID))
	n, err = b.UnreadCount(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	updated, err := b.MarkAllRead(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated)

	require.NoError(t, b.SoftDelete(ctx, user, first.ID))
	list, err = b.List(ctx, user, domain.ListParams{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestHTTPBackend_ErrorsMapToDomain(t *testing.T) {
	srv := newAPIServer(t)
	user := uuid.New()
	b := srv.backendFor(t, user)

	err := b.MarkRead(context.Background(), user, uuid.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)

	anon := NewHTTPBackend(srv.url, func() string { return "" }, time.Second, nil)
	_, err = anon.UnreadCount(context.Background(), user)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestHTTPBackend_SubscribeDeliversOwnChanges(t *testing.T) {
	srv := newAPIServer(t)
	user := uuid.New()
	b := srv.backendFor(t, user)

	var mu sync.Mutex
	var events []domain.ChangeEvent
	sub, err := b.Subscribe(context.Background(), user, func(ev domain.ChangeEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return srv.hub.ConnectedUsers() == 1 }, time.Second, 10*time.Millisecond)

	create(t, srv.repo, uuid.New())
	n := create(t, srv.repo, user)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, domain.OpInsert, events[0].Op)
	assert.Equal(t, n.ID, events[0].NotificationID)
	mu.Unlock()

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
}

func TestHTTPBackend_WatcherOverWebsocket(t *testing.T) {
	srv := newAPIServer(t)
	user := uuid.New()
	b := srv.backendFor(t, user)

	session := &Session{}
	session.SignIn(user)
	client := NewClient(b, NewQueryCache(time.Minute), session, LogNotifier{Logger: zap.NewNop()})

	w := NewUnreadWatcher(client, nil, nil)
	require.NoError(t, w.Bind(context.Background(), user))
	defer w.Close()
	require.Eventually(t, func() bool { return srv.hub.ConnectedUsers() == 1 }, time.Second, 10*time.Millisecond)

	create(t, srv.repo, user)
	create(t, srv.repo, user)
	require.Eventually(t, func() bool { return w.Count() == 2 }, 2*time.Second, 10*time.Millisecond)
}
