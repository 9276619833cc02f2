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

	"github.com/pipsignal/backend/internal/domain"
)

// PostgresRepository implements the notification, preference and push token stores on PostgreSQL
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const notificationColumns = `id, user_id, notification_type, title, message, action_url, metadata,
	read, deleted, created_at, read_at, deleted_at`

// GetNotification retrieves a notification by ID, deleted or not
func (r *PostgresRepository) GetNotification(ctx context.Context, id uuid.UUID) (*domain.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`
	row := r.db.QueryRow(ctx, query, id)
	return scanNotification(row)
}

// ListNotifications returns a page of visible notifications, newest first
func (r *PostgresRepository) ListNotifications(ctx context.Context, userID uuid.UUID, params domain.ListParams) ([]*domain.Notification, error) {
	query, args := buildListQuery(userID, params)
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifs []*domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifs = append(notifs, n)
	}
	return notifs, rows.Err()
}

// CountUnreadNotifications counts unread, non-deleted notifications
func (r *PostgresRepository) CountUnreadNotifications(ctx context.Context, userID uuid.UUID) (int, error) {
	query := `SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read = FALSE AND deleted = FALSE`
	var count int
	err := r.db.QueryRow(ctx, query, userID).Scan(&count)
	return count, err
}

// MarkNotificationRead marks one visible notification owned by userID as read
func (r *PostgresRepository) MarkNotificationRead(ctx context.Context, userID, notificationID uuid.UUID) (bool, error) {
	query := `
		UPDATE notifications SET read = TRUE, read_at = COALESCE(read_at, NOW())
		WHERE id = $1 AND user_id = $2 AND deleted = FALSE
	`
	tag, err := r.db.Exec(ctx, query, notificationID, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkAllNotificationsRead marks every unread visible notification of a user as read
func (r *PostgresRepository) MarkAllNotificationsRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	query := `
		UPDATE notifications SET read = TRUE, read_at = NOW()
		WHERE user_id = $1 AND read = FALSE AND deleted = FALSE
	`
	tag, err := r.db.Exec(ctx, query, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// SoftDeleteNotification hides a notification without removing the row
func (r *PostgresRepository) SoftDeleteNotification(ctx context.Context, userID, notificationID uuid.UUID) (bool, error) {
	query := `
		UPDATE notifications SET deleted = TRUE, deleted_at = NOW()
		WHERE id = $1 AND user_id = $2 AND deleted = FALSE
	`
	tag, err := r.db.Exec(ctx, query, notificationID, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// CreateNotification inserts a new notification
func (r *PostgresRepository) CreateNotification(ctx context.Context, n domain.NewNotification) (*domain.Notification, error) {
	metadata, err := marshalMetadata(n.Metadata)
	if err != nil {
		return nil, err
	}
	query := `
		INSERT INTO notifications (user_id, notification_type, title, message, action_url, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + notificationColumns
	row := r.db.QueryRow(ctx, query,
		n.UserID,
		string(n.Type),
		n.Title,
		n.Message,
		n.ActionURL,
		metadata,
	)
	return scanNotification(row)
}

// GetPushPreferences retrieves a user's preference record
func (r *PostgresRepository) GetPushPreferences(ctx context.Context, userID uuid.UUID) (*domain.PushPreferences, error) {
	query := `
		SELECT user_id, push_signals, push_events, push_analyses, push_courses, updated_at
		FROM notification_preferences WHERE user_id = $1
	`
	return scanPreferences(r.db.QueryRow(ctx, query, userID))
}

// UpsertPushPreferences creates or replaces a user's preference record
func (r *PostgresRepository) UpsertPushPreferences(ctx context.Context, prefs *domain.PushPreferences) (*domain.PushPreferences, error) {
	query := `
		INSERT INTO notification_preferences (user_id, push_signals, push_events, push_analyses, push_courses)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			push_signals = EXCLUDED.push_signals,
			push_events = EXCLUDED.push_events,
			push_analyses = EXCLUDED.push_analyses,
			push_courses = EXCLUDED.push_courses,
			updated_at = NOW()
		RETURNING user_id, push_signals, push_events, push_analyses, push_courses, updated_at
	`
	row := r.db.QueryRow(ctx, query,
		prefs.UserID,
		prefs.PushSignals,
		prefs.PushEvents,
		prefs.PushAnalyses,
		prefs.PushCourses,
	)
	return scanPreferences(row)
}

// ListPushTokens returns every registered token of a user
func (r *PostgresRepository) ListPushTokens(ctx context.Context, userID uuid.UUID) ([]string, error) {
	query := `SELECT token FROM push_tokens WHERE user_id = $1 ORDER BY created_at`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// UpsertPushToken registers a token, refreshing updated_at when it already exists
func (r *PostgresRepository) UpsertPushToken(ctx context.Context, userID uuid.UUID, token, platform string) (*domain.PushToken, error) {
	query := `
		INSERT INTO push_tokens (user_id, token, platform)
		VALUES ($1, $2, NULLIF($3, ''))
		ON CONFLICT (user_id, token) DO UPDATE SET
			platform = COALESCE(EXCLUDED.platform, push_tokens.platform),
			updated_at = NOW()
		RETURNING id, user_id, token, COALESCE(platform, ''), created_at, updated_at
	`
	var t domain.PushToken
	err := r.db.QueryRow(ctx, query, userID, token, platform).Scan(
		&t.ID,
		&t.UserID,
		&t.Token,
		&t.Platform,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// DeletePushToken unregisters a token
func (r *PostgresRepository) DeletePushToken(ctx context.Context, userID uuid.UUID, token string) error {
	query := `DELETE FROM push_tokens WHERE user_id = $1 AND token = $2`
	_, err := r.db.Exec(ctx, query, userID, token)
	return err
}

// DeleteStalePushTokens removes tokens not refreshed since olderThan
func (r *PostgresRepository) DeleteStalePushTokens(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `DELETE FROM push_tokens WHERE updated_at < $1`
	tag, err := r.db.Exec(ctx, query, olderThan)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Ping checks the connection pool
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// Helper functions for scanning rows

func scanNotification(row pgx.Row) (*domain.Notification, error) {
	var (
		n        domain.Notification
		typ      string
		metadata []byte
	)
	err := row.Scan(
		&n.ID,
		&n.UserID,
		&typ,
		&n.Title,
		&n.Message,
		&n.ActionURL,
		&metadata,
		&n.Read,
		&n.Deleted,
		&n.CreatedAt,
		&n.ReadAt,
		&n.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	n.Type = domain.NotificationType(typ)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &n.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", n.ID, err)
		}
	}
	return &n, nil
}

func scanPreferences(row pgx.Row) (*domain.PushPreferences, error) {
	var p domain.PushPreferences
	err := row.Scan(
		&p.UserID,
		&p.PushSignals,
		&p.PushEvents,
		&p.PushAnalyses,
		&p.PushCourses,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func marshalMetadata(m domain.Map) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return b, nil
}
