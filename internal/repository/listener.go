package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/pipsignal/backend/internal/domain"
)

const (
	listenMinBackoff = 500 * time.Millisecond
	listenMaxBackoff = 30 * time.Second
)

// ChangeListener turns NOTIFY payloads of the notifications trigger into change events.
type ChangeListener struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewChangeListener(db *pgxpool.Pool, logger *zap.Logger) *ChangeListener {
	return &ChangeListener{db: db, logger: logger}
}

// Listen blocks until ctx is done, reconnecting with backoff whenever the connection drops.
// Events published while disconnected are lost; subscribers recount on the next event.
func (l *ChangeListener) Listen(ctx context.Context, handle func(domain.ChangeEvent)) {
	backoff := listenMinBackoff
	for {
		started := time.Now()
		err := l.listenOnce(ctx, handle)
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) > listenMaxBackoff {
			backoff = listenMinBackoff
		}
		l.logger.Warn("change listener disconnected",
			zap.Error(err),
			zap.Duration("retry_in", backoff),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > listenMaxBackoff {
			backoff = listenMaxBackoff
		}
	}
}

func (l *ChangeListener) listenOnce(ctx context.Context, handle func(domain.ChangeEvent)) error {
	pooled, err := l.db.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	// A LISTENing session must not go back to the pool.
	conn := pooled.Hijack()
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ChangeChannel}.Sanitize()); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	l.logger.Info("listening for notification changes", zap.String("channel", ChangeChannel))

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		ev, err := parseChangePayload(n.Payload)
		if err != nil {
			l.logger.Warn("dropping malformed change payload", zap.String("payload", n.Payload), zap.Error(err))
			continue
		}
		handle(ev)
	}
}

func parseChangePayload(payload string) (domain.ChangeEvent, error) {
	var ev domain.ChangeEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return ev, err
	}
	if ev.UserID == uuid.Nil || ev.NotificationID == uuid.Nil {
		return ev, errors.New("payload missing id or user_id")
	}
	return ev, nil
}
