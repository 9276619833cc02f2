package notifyclient

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/pipsignal/backend/internal/domain"
)

// Backend is the store surface the client layer consumes.
type Backend interface {
	List(ctx context.Context, userID uuid.UUID, params domain.ListParams) ([]*domain.Notification, error)
	UnreadCount(ctx context.Context, userID uuid.UUID) (int, error)
	MarkRead(ctx context.Context, userID, id uuid.UUID) error
	MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error)
	SoftDelete(ctx context.Context, userID, id uuid.UUID) error
	// Subscribe delivers change events of userID's notifications until the subscription is closed.
	Subscribe(ctx context.Context, userID uuid.UUID, handle func(domain.ChangeEvent)) (Subscription, error)
}

// Subscription is an open change feed.
type Subscription interface {
	Close() error
}

// ChangeFeed publishes every change event in-process.
type ChangeFeed interface {
	Subscribe(handle func(domain.ChangeEvent)) (cancel func())
}

// DirectBackend serves the client layer in-process from the domain services.
type DirectBackend struct {
	service *domain.NotificationService
	feed    ChangeFeed
}

func NewDirectBackend(service *domain.NotificationService, feed ChangeFeed) *DirectBackend {
	return &DirectBackend{service: service, feed: feed}
}

func (b *DirectBackend) List(ctx context.Context, userID uuid.UUID, params domain.ListParams) ([]*domain.Notification, error) {
	return b.service.List(ctx, userID, params)
}

func (b *DirectBackend) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	return b.service.CountUnread(ctx, userID)
}

func (b *DirectBackend) MarkRead(ctx context.Context, userID, id uuid.UUID) error {
	return b.service.MarkRead(ctx, userID, id)
}

func (b *DirectBackend) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	return b.service.MarkAllRead(ctx, userID)
}

func (b *DirectBackend) SoftDelete(ctx context.Context, userID, id uuid.UUID) error {
	return b.service.SoftDelete(ctx, userID, id)
}

func (b *DirectBackend) Subscribe(_ context.Context, userID uuid.UUID, handle func(domain.ChangeEvent)) (Subscription, error) {
	cancel := b.feed.Subscribe(func(ev domain.ChangeEvent) {
		if ev.UserID == userID {
			handle(ev)
		}
	})
	return &funcSubscription{cancel: cancel}, nil
}

type funcSubscription struct {
	once   sync.Once
	cancel func()
}

func (s *funcSubscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}
