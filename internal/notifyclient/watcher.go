package notifyclient

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pipsignal/backend/internal/domain"
)

// UnreadWatcher keeps the unread count of one user live. Each change event invalidates the
// cache and recounts from the store; events are never applied incrementally.
type UnreadWatcher struct {
	client  *Client
	backend Backend
	onCount func(int)
	logger  *zap.Logger
	timeout time.Duration

	mu     sync.Mutex
	userID uuid.UUID
	sub    Subscription
	count  int
	bound  bool
}

func NewUnreadWatcher(client *Client, onCount func(int), logger *zap.Logger) *UnreadWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if onCount == nil {
		onCount = func(int) {}
	}
	return &UnreadWatcher{
		client:  client,
		backend: client.backend,
		onCount: onCount,
		logger:  logger,
		timeout: 10 * time.Second,
	}
}

// Bind closes any previous subscription and opens one for userID, then publishes an initial count.
func (w *UnreadWatcher) Bind(ctx context.Context, userID uuid.UUID) error {
	if err := w.Close(); err != nil {
		w.logger.Debug("closing previous subscription", zap.Error(err))
	}

	sub, err := w.backend.Subscribe(ctx, userID, func(ev domain.ChangeEvent) {
		w.handle(userID, ev)
	})
	if err != nil {
		return err
	}

	w.mu.Lock()
	prev := w.sub
	w.userID, w.sub, w.bound = userID, sub, true
	w.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}

	n, err := w.client.countFor(ctx, userID)
	if err != nil {
		w.logger.Warn("initial unread count failed", zap.Error(err))
		return nil
	}
	w.publish(userID, n)
	return nil
}

func (w *UnreadWatcher) handle(userID uuid.UUID, ev domain.ChangeEvent) {
	w.client.invalidate()

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	n, err := w.client.countFor(ctx, userID)
	if err != nil {
		w.logger.Warn("unread recount failed", zap.String("op", string(ev.Op)), zap.Error(err))
		return
	}

	w.publish(userID, n)
}

func (w *UnreadWatcher) publish(userID uuid.UUID, n int) {
	w.mu.Lock()
	current := w.bound && w.userID == userID
	if current {
		w.count = n
	}
	w.mu.Unlock()
	if current {
		w.onCount(n)
	}
}

// Count returns the last computed count.
func (w *UnreadWatcher) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Close releases the subscription. It is safe to call more than once.
func (w *UnreadWatcher) Close() error {
	w.mu.Lock()
	sub := w.sub
	w.sub, w.bound, w.count = nil, false, 0
	w.mu.Unlock()

	if sub == nil {
		return nil
	}
	return sub.Close()
}
