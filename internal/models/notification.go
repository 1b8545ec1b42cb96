package models

import (
	"encoding/json"
	"time"
)

// Notification types emitted by the scheduling core.
const (
	NotificationTypeClassScheduled  = "class_scheduled"
	NotificationTypeClassCancelled  = "class_cancelled"
	NotificationTypeClassReminder   = "class_reminder"
	NotificationTypeRoutineConflict = "routine_conflict"
	NotificationTypeRoutinePartial  = "routine_partial"
	NotificationTypeRoutineInvite   = "routine_invite"
	NotificationTypeRoutineChanged  = "routine_changed"
	NotificationTypeRoutineSplit    = "routine_split"
	NotificationTypeChangeProposed  = "change_proposed"
	NotificationTypeChangeRejected  = "change_rejected"
	NotificationTypeChangeAccepted  = "change_accepted"
)

// Notification is a persisted message for a user. DedupKey carries a stable
// idempotency key for notifications that must not double-fire on retry
// (reminders); inserts with an existing key are silently dropped.
type Notification struct {
	ID        string          `db:"id" json:"id"`
	UserID    string          `db:"user_id" json:"user_id"`
	Type      string          `db:"type" json:"type"`
	Title     string          `db:"title" json:"title"`
	Message   string          `db:"message" json:"message"`
	Data      json.RawMessage `db:"data" json:"data,omitempty"`
	DedupKey  *string         `db:"dedup_key" json:"-"`
	ReadAt    *time.Time      `db:"read_at" json:"read_at,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}
