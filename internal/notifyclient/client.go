// Package notifyclient is the consumer side of notifications: cached list and unread-count
// queries, mutations that invalidate them, and a live unread-count watcher.
package notifyclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pipsignal/backend/internal/domain"
)

// Cache operation names. Every mutation invalidates both.
const (
	OpNotifications = "notifications"
	OpUnreadCount   = "unread-count"
)

// Result carries query data. Enabled is false when there is no session and the query did not run.
type Result[T any] struct {
	Data    T
	Enabled bool
}

// Notifier shows user-visible notices.
type Notifier interface {
	Error(title, message string)
	Success(title, message string)
}

// LogNotifier writes notices to a logger.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) Error(title, message string) {
	n.Logger.Warn(message, zap.String("notice", title))
}

func (n LogNotifier) Success(title, message string) {
	n.Logger.Info(message, zap.String("notice", title))
}

// Session holds the signed-in user, if any.
type Session struct {
	mu     sync.RWMutex
	userID uuid.UUID
	ok     bool
}

func (s *Session) SignIn(userID uuid.UUID) {
	s.mu.Lock()
	s.userID, s.ok = userID, true
	s.mu.Unlock()
}

func (s *Session) SignOut() {
	s.mu.Lock()
	s.userID, s.ok = uuid.Nil, false
	s.mu.Unlock()
}

func (s *Session) UserID() (uuid.UUID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID, s.ok
}

// Client exposes the notification operations of the signed-in user.
type Client struct {
	backend  Backend
	cache    *QueryCache
	session  *Session
	notifier Notifier
}

func NewClient(backend Backend, cache *QueryCache, session *Session, notifier Notifier) *Client {
	return &Client{
		backend:  backend,
		cache:    cache,
		session:  session,
		notifier: notifier,
	}
}

type listKey struct {
	UserID uuid.UUID         `json:"user_id"`
	Params domain.ListParams `json:"params"`
}

// List returns a page of the user's notifications, newest first.
func (c *Client) List(ctx context.Context, params domain.ListParams) (Result[[]*domain.Notification], error) {
	userID, ok := c.session.UserID()
	if !ok {
		return Result[[]*domain.Notification]{}, nil
	}
	params = params.Normalized()

	key := Key(OpNotifications, listKey{UserID: userID, Params: params})
	notifs, err := Fetch(ctx, c.cache, key, func(ctx context.Context) ([]*domain.Notification, error) {
		return c.backend.List(ctx, userID, params)
	})
	if err != nil {
		return Result[[]*domain.Notification]{}, err
	}
	return Result[[]*domain.Notification]{Data: notifs, Enabled: true}, nil
}

// UnreadCount returns the number of unread, non-deleted notifications.
func (c *Client) UnreadCount(ctx context.Context) (Result[int], error) {
	userID, ok := c.session.UserID()
	if !ok {
		return Result[int]{}, nil
	}
	n, err := c.countFor(ctx, userID)
	if err != nil {
		return Result[int]{}, err
	}
	return Result[int]{Data: n, Enabled: true}, nil
}

func (c *Client) countFor(ctx context.Context, userID uuid.UUID) (int, error) {
	key := Key(OpUnreadCount, map[string]string{"user_id": userID.String()})
	return Fetch(ctx, c.cache, key, func(ctx context.Context) (int, error) {
		return c.backend.UnreadCount(ctx, userID)
	})
}

// MarkRead marks one notification as read.
func (c *Client) MarkRead(ctx context.Context, id uuid.UUID) error {
	userID, err := c.requireSession("Failed to mark notification as read")
	if err != nil {
		return err
	}
	if err := c.backend.MarkRead(ctx, userID, id); err != nil {
		c.notifier.Error("Error", "Failed to mark notification as read")
		return fmt.Errorf("mark read: %w", err)
	}
	c.invalidate()
	return nil
}

// MarkAllRead marks every unread notification as read and reports how many changed.
func (c *Client) MarkAllRead(ctx context.Context) (int64, error) {
	userID, err := c.requireSession("Failed to mark notifications as read")
	if err != nil {
		return 0, err
	}
	n, err := c.backend.MarkAllRead(ctx, userID)
	if err != nil {
		c.notifier.Error("Error", "Failed to mark notifications as read")
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	c.invalidate()
	c.notifier.Success("Success", "All notifications marked as read")
	return n, nil
}

// SoftDelete hides one notification.
func (c *Client) SoftDelete(ctx context.Context, id uuid.UUID) error {
	userID, err := c.requireSession("Failed to delete notification")
	if err != nil {
		return err
	}
	if err := c.backend.SoftDelete(ctx, userID, id); err != nil {
		c.notifier.Error("Error", "Failed to delete notification")
		return fmt.Errorf("delete: %w", err)
	}
	c.invalidate()
	return nil
}

func (c *Client) requireSession(failure string) (uuid.UUID, error) {
	userID, ok := c.session.UserID()
	if !ok {
		c.notifier.Error("Error", failure)
		return uuid.Nil, domain.ErrUnauthorized
	}
	return userID, nil
}

func (c *Client) invalidate() {
	c.cache.Invalidate(OpNotifications, OpUnreadCount)
}
