package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/tutorhive/tutorhive-api/internal/models"
)

const notificationColumns = `id, user_id, type, title, message, data, dedup_key, read_at, created_at`

// NotificationRepository provides persistence for user notifications.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository creates a new notification repository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create stores a notification. When a DedupKey is set and a row with the
// same key already exists the insert is silently dropped and false is
// returned, so idempotent passes never double-notify.
func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) (bool, error) {
	return r.create(ctx, r.db, n)
}

// CreateWithTx is Create inside an existing transaction.
func (r *NotificationRepository) CreateWithTx(ctx context.Context, tx *sqlx.Tx, n *models.Notification) (bool, error) {
	return r.create(ctx, tx, n)
}

func (r *NotificationRepository) create(ctx context.Context, ext sqlx.ExtContext, n *models.Notification) (bool, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if len(n.Data) == 0 {
		n.Data = []byte("{}")
	}

	const query = `INSERT INTO notifications (id, user_id, type, title, message, data, dedup_key, read_at, created_at)
		VALUES (:id, :user_id, :type, :title, :message, :data, :dedup_key, :read_at, :created_at)
		ON CONFLICT (dedup_key) DO NOTHING`
	res, err := sqlx.NamedExecContext(ctx, ext, query, n)
	if err != nil {
		return false, fmt.Errorf("create notification: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create notification affected rows: %w", err)
	}
	return affected == 1, nil
}

// ListByUser returns a user's notifications, newest first.
func (r *NotificationRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM notifications WHERE user_id = $1 ORDER BY created_at DESC LIMIT %d`, notificationColumns, limit)
	var notifications []models.Notification
	if err := r.db.SelectContext(ctx, &notifications, query, userID); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return notifications, nil
}

// MarkRead stamps a notification as read.
func (r *NotificationRepository) MarkRead(ctx context.Context, id, userID string) error {
	const query = `UPDATE notifications SET read_at = $3 WHERE id = $1 AND user_id = $2 AND read_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, id, userID, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	return nil
}
