package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pipsignal/backend/internal/domain"
)

// MemoryRepository is an in-process store with the same semantics as PostgresRepository.
// It publishes change events to Listen subscribers the way the database trigger does.
type MemoryRepository struct {
	mu            sync.RWMutex
	notifications map[uuid.UUID]*domain.Notification
	prefs         map[uuid.UUID]*domain.PushPreferences
	tokens        map[uuid.UUID][]*domain.PushToken

	subMu  sync.Mutex
	subs   map[int]func(domain.ChangeEvent)
	nextID int

	now func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		notifications: make(map[uuid.UUID]*domain.Notification),
		prefs:         make(map[uuid.UUID]*domain.PushPreferences),
		tokens:        make(map[uuid.UUID][]*domain.PushToken),
		subs:          make(map[int]func(domain.ChangeEvent)),
		now:           time.Now,
	}
}

// SetClock replaces the time source.
func (r *MemoryRepository) SetClock(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

func (r *MemoryRepository) GetNotification(_ context.Context, id uuid.UUID) (*domain.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.notifications[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneNotification(n), nil
}

func (r *MemoryRepository) ListNotifications(_ context.Context, userID uuid.UUID, params domain.ListParams) ([]*domain.Notification, error) {
	params = params.Normalized()

	r.mu.RLock()
	var matched []*domain.Notification
	for _, n := range r.notifications {
		if n.UserID != userID || n.Deleted {
			continue
		}
		if params.Type != nil && n.Type != *params.Type {
			continue
		}
		if params.UnreadOnly && n.Read {
			continue
		}
		matched = append(matched, cloneNotification(n))
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID.String() > b.ID.String()
	})

	if params.Offset >= len(matched) {
		return nil, nil
	}
	end := params.Offset + params.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[params.Offset:end], nil
}

func (r *MemoryRepository) CountUnreadNotifications(_ context.Context, userID uuid.UUID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, n := range r.notifications {
		if n.UserID == userID && !n.Read && !n.Deleted {
			count++
		}
	}
	return count, nil
}

func (r *MemoryRepository) MarkNotificationRead(_ context.Context, userID, notificationID uuid.UUID) (bool, error) {
	r.mu.Lock()
	n, ok := r.notifications[notificationID]
	if !ok || n.UserID != userID || n.Deleted {
		r.mu.Unlock()
		return false, nil
	}
	n.Read = true
	if n.ReadAt == nil {
		t := r.now()
		n.ReadAt = &t
	}
	r.mu.Unlock()

	r.publish(domain.ChangeEvent{Op: domain.OpUpdate, NotificationID: notificationID, UserID: userID})
	return true, nil
}

func (r *MemoryRepository) MarkAllNotificationsRead(_ context.Context, userID uuid.UUID) (int64, error) {
	r.mu.Lock()
	now := r.now()
	var changed []domain.ChangeEvent
	for _, n := range r.notifications {
		if n.UserID != userID || n.Read || n.Deleted {
			continue
		}
		n.Read = true
		t := now
		n.ReadAt = &t
		changed = append(changed, domain.ChangeEvent{Op: domain.OpUpdate, NotificationID: n.ID, UserID: userID})
	}
	r.mu.Unlock()

	for _, ev := range changed {
		r.publish(ev)
	}
	return int64(len(changed)), nil
}

func (r *MemoryRepository) SoftDeleteNotification(_ context.Context, userID, notificationID uuid.UUID) (bool, error) {
	r.mu.Lock()
	n, ok := r.notifications[notificationID]
	if !ok || n.UserID != userID || n.Deleted {
		r.mu.Unlock()
		return false, nil
	}
	n.Deleted = true
	t := r.now()
	n.DeletedAt = &t
	r.mu.Unlock()

	r.publish(domain.ChangeEvent{Op: domain.OpUpdate, NotificationID: notificationID, UserID: userID})
	return true, nil
}

func (r *MemoryRepository) CreateNotification(_ context.Context, nn domain.NewNotification) (*domain.Notification, error) {
	r.mu.Lock()
	n := &domain.Notification{
		ID:        uuid.New(),
		UserID:    nn.UserID,
		Type:      nn.Type,
		Title:     nn.Title,
		Message:   nn.Message,
		ActionURL: nn.ActionURL,
		Metadata:  nn.Metadata,
		CreatedAt: r.now(),
	}
	r.notifications[n.ID] = n
	out := cloneNotification(n)
	r.mu.Unlock()

	r.publish(domain.ChangeEvent{Op: domain.OpInsert, NotificationID: n.ID, UserID: n.UserID})
	return out, nil
}

func (r *MemoryRepository) GetPushPreferences(_ context.Context, userID uuid.UUID) (*domain.PushPreferences, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.prefs[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *MemoryRepository) UpsertPushPreferences(_ context.Context, prefs *domain.PushPreferences) (*domain.PushPreferences, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *prefs
	cp.UpdatedAt = r.now()
	r.prefs[prefs.UserID] = &cp
	out := cp
	return &out, nil
}

func (r *MemoryRepository) ListPushTokens(_ context.Context, userID uuid.UUID) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tokens := make([]string, 0, len(r.tokens[userID]))
	for _, t := range r.tokens[userID] {
		tokens = append(tokens, t.Token)
	}
	return tokens, nil
}

func (r *MemoryRepository) UpsertPushToken(_ context.Context, userID uuid.UUID, token, platform string) (*domain.PushToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for _, t := range r.tokens[userID] {
		if t.Token == token {
			if platform != "" {
				t.Platform = platform
			}
			t.UpdatedAt = now
			cp := *t
			return &cp, nil
		}
	}
	t := &domain.PushToken{
		ID:        uuid.New(),
		UserID:    userID,
		Token:     token,
		Platform:  platform,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.tokens[userID] = append(r.tokens[userID], t)
	cp := *t
	return &cp, nil
}

func (r *MemoryRepository) DeletePushToken(_ context.Context, userID uuid.UUID, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.tokens[userID][:0]
	for _, t := range r.tokens[userID] {
		if t.Token != token {
			kept = append(kept, t)
		}
	}
	r.tokens[userID] = kept
	return nil
}

func (r *MemoryRepository) DeleteStalePushTokens(_ context.Context, olderThan time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed int64
	for userID, tokens := range r.tokens {
		kept := tokens[:0]
		for _, t := range tokens {
			if t.UpdatedAt.Before(olderThan) {
				removed++
				continue
			}
			kept = append(kept, t)
		}
		r.tokens[userID] = kept
	}
	return removed, nil
}

func (r *MemoryRepository) Ping(context.Context) error { return nil }

// Listen delivers change events to handle until ctx is done.
func (r *MemoryRepository) Listen(ctx context.Context, handle func(domain.ChangeEvent)) {
	cancel := r.Subscribe(handle)
	defer cancel()
	<-ctx.Done()
}

// Subscribe registers handle for change events. Handlers run on the mutating goroutine after
// the store lock is released.
func (r *MemoryRepository) Subscribe(handle func(domain.ChangeEvent)) (cancel func()) {
	r.subMu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = handle
	r.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.subMu.Lock()
			delete(r.subs, id)
			r.subMu.Unlock()
		})
	}
}

func (r *MemoryRepository) publish(ev domain.ChangeEvent) {
	r.subMu.Lock()
	handlers := make([]func(domain.ChangeEvent), 0, len(r.subs))
	for _, h := range r.subs {
		handlers = append(handlers, h)
	}
	r.subMu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

func cloneNotification(n *domain.Notification) *domain.Notification {
	cp := *n
	if n.Metadata != nil {
		cp.Metadata = make(domain.Map, len(n.Metadata))
		for k, v := range n.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
